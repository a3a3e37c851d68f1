// Package protocol defines the chat WebSocket payloads.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientQuery   MessageType = "query"
	TypeClientControl MessageType = "client_control"
	TypeConnected     MessageType = "connected"
	TypeRAGResponse   MessageType = "ragResponse"
)

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"

	ActionMemoryOff = "memory_off"
)

var (
	ErrUnsupportedType = errors.New("unsupported message type")
	ErrEmptyMessage    = errors.New("empty message")
)

type Envelope struct {
	Type MessageType `json:"type"`
}

// ClientQuery is a question. A plain text frame is read as a query too.
type ClientQuery struct {
	Type  MessageType `json:"type"`
	Query string      `json:"query"`
}

type ClientControl struct {
	Type   MessageType `json:"type"`
	Action string      `json:"action"`
}

// Connected is sent once when the socket opens.
type Connected struct {
	Type       MessageType `json:"type"`
	Msg        string      `json:"msg"`
	RAGOnline  bool        `json:"ragOnline"`
	SessionKey string      `json:"session_key,omitempty"`
}

// RAGResponse answers one client frame.
type RAGResponse struct {
	Type   MessageType `json:"type"`
	Data   string      `json:"data,omitempty"`
	Status string      `json:"status"`
	Error  string      `json:"error,omitempty"`
}

func NewConnected(sessionKey string, ragOnline bool) Connected {
	msg := "WS connection established"
	if !ragOnline {
		msg = "ws connection established but couldn't connect to rag service"
	}
	return Connected{Type: TypeConnected, Msg: msg, RAGOnline: ragOnline, SessionKey: sessionKey}
}

func Success(data string) RAGResponse {
	return RAGResponse{Type: TypeRAGResponse, Data: data, Status: StatusSuccess}
}

func Failed(errMsg string) RAGResponse {
	return RAGResponse{Type: TypeRAGResponse, Status: StatusFailed, Error: errMsg}
}

func ParseClientMessage(raw []byte) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, ErrEmptyMessage
	}
	if trimmed[0] != '{' {
		return ClientQuery{Type: TypeClientQuery, Query: string(trimmed)}, nil
	}

	var env Envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientQuery, "":
		var msg ClientQuery
		if err := json.Unmarshal(trimmed, &msg); err != nil {
			return nil, err
		}
		msg.Type = TypeClientQuery
		if strings.TrimSpace(msg.Query) == "" {
			return nil, errors.New("invalid query: query is required")
		}
		return msg, nil
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(trimmed, &msg); err != nil {
			return nil, err
		}
		if msg.Action != ActionMemoryOff {
			return nil, fmt.Errorf("invalid client_control: unknown action %q", msg.Action)
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}

// Package llm wraps the chat-completion providers the assistant can talk to.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
)

// Role of a provider message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of the ordered prompt sent to a provider.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Request is a fully rendered prompt. The individual slots are kept next to
// the message list so providers and tests can inspect them.
type Request struct {
	SystemInstructions string
	History            string
	Context            string
	Query              string
	Messages           []Message
	// ResponseSchema, when set, asks the provider for a JSON reply matching
	// this JSON Schema document.
	ResponseSchema json.RawMessage
}

// Output is the raw text a provider produced.
type Output struct {
	Text     string
	Provider string
}

// Provider produces a completion for a rendered prompt.
type Provider interface {
	Name() string
	Invoke(ctx context.Context, req Request) (Output, error)
}

// StatusError is returned when a provider answers with a non-2xx status.
type StatusError struct {
	Provider string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s api status %d", e.Provider, e.Code)
	}
	return fmt.Sprintf("%s api status %d: %s", e.Provider, e.Code, e.Body)
}

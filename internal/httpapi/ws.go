package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/gbu-assistant/internal/conversation"
	"github.com/ent0n29/gbu-assistant/internal/observability"
	"github.com/ent0n29/gbu-assistant/internal/protocol"
)

const (
	wsReadTimeout  = 120 * time.Second
	wsWriteTimeout = 10 * time.Second
	wsClearTimeout = 5 * time.Second
)

// handleChatWS relays chat frames to the conversation controller. Each
// client frame gets exactly one ragResponse, in order. Closing the socket
// clears the session memory.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	logger := observability.LoggerFromContext(r.Context())
	if s.metrics != nil {
		s.metrics.WSConnections.Inc()
		defer s.metrics.WSConnections.Dec()
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan any, 64)
	outbound := make(chan any, 64)

	outbound <- protocol.NewConnected(s.conv.SessionKey(), len(s.readyFailures(ctx)) == 0)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-outbound:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteJSON(msg); err != nil {
					logger.Warn("ws write failed", "error", err)
					cancel()
					return
				}
				s.countWS("outbound", msg)
			}
		}
	}()

	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		defer close(outbound)
		for msg := range inbound {
			reply := s.answerFrame(ctx, msg)
			select {
			case <-ctx.Done():
				return
			case outbound <- reply:
			}
		}
	}()

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))

		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			// Routed through the worker so replies keep frame order.
			parsed = err
		}
		s.countWS("inbound", parsed)
		select {
		case <-ctx.Done():
			break readLoop
		case inbound <- parsed:
		}
	}

	close(inbound)
	<-workerDone
	cancel()
	<-writerDone

	clearCtx, clearCancel := context.WithTimeout(context.WithoutCancel(r.Context()), wsClearTimeout)
	defer clearCancel()
	if res := s.conv.Ask(clearCtx, conversation.ModeOff, ""); res.Failed() {
		logger.Warn("clear session on disconnect failed", "error", res.Err)
	}
}

func (s *Server) answerFrame(ctx context.Context, msg any) protocol.RAGResponse {
	var res conversation.Result
	switch m := msg.(type) {
	case error:
		return protocol.Failed(m.Error())
	case protocol.ClientQuery:
		res = s.conv.Ask(ctx, conversation.ModeOn, m.Query)
	case protocol.ClientControl:
		res = s.conv.Ask(ctx, conversation.ModeOff, "")
	default:
		return protocol.Failed(protocol.ErrUnsupportedType.Error())
	}
	if res.Failed() {
		return protocol.Failed(res.ErrorMessage())
	}
	return protocol.Success(res.Text)
}

func (s *Server) countWS(direction string, msg any) {
	if s.metrics == nil {
		return
	}
	s.metrics.WSMessages.WithLabelValues(direction, messageTypeOf(msg)).Inc()
}

func messageTypeOf(msg any) string {
	switch m := msg.(type) {
	case protocol.ClientQuery:
		return string(m.Type)
	case protocol.ClientControl:
		return string(m.Type)
	case protocol.Connected:
		return string(m.Type)
	case protocol.RAGResponse:
		return string(m.Type)
	case error:
		return "invalid"
	default:
		return "unknown"
	}
}

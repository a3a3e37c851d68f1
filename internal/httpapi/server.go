package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/gbu-assistant/internal/audit"
	"github.com/ent0n29/gbu-assistant/internal/config"
	"github.com/ent0n29/gbu-assistant/internal/conversation"
	"github.com/ent0n29/gbu-assistant/internal/knowledge"
	"github.com/ent0n29/gbu-assistant/internal/observability"
	"github.com/ent0n29/gbu-assistant/internal/session"
)

// Conversation is the controller surface the HTTP layer drives.
type Conversation interface {
	Ask(ctx context.Context, mode conversation.Mode, query string) conversation.Result
	History() []session.Turn
	SessionKey() string
}

// Knowledge embeds and stores facts.
type Knowledge interface {
	Embed(ctx context.Context, facts []string) ([][]float32, error)
	Upsert(ctx context.Context, facts []string) (knowledge.UpsertResult, error)
}

// AuditLog lists recent exchanges.
type AuditLog interface {
	Recent(ctx context.Context, limit int) ([]audit.Record, error)
}

// ReadyCheck reports whether a dependency can serve traffic.
type ReadyCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type Server struct {
	cfg      config.Config
	conv     Conversation
	kb       Knowledge
	audit    AuditLog
	metrics  *observability.Metrics
	checks   []ReadyCheck
	upgrader websocket.Upgrader
}

func New(cfg config.Config, conv Conversation, kb Knowledge, auditLog AuditLog, metrics *observability.Metrics, checks ...ReadyCheck) *Server {
	return &Server{
		cfg:     cfg,
		conv:    conv,
		kb:      kb,
		audit:   auditLog,
		metrics: metrics,
		checks:  checks,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Mobile and CLI clients omit Origin.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	if s.cfg.AllowAnyOrigin {
		r.Use(allowAnyOrigin)
	}

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		if s.metrics == nil {
			http.NotFound(w, r)
			return
		}
		s.metrics.Handler().ServeHTTP(w, r)
	})

	r.Post("/callLLM", s.handleCallLLM)
	r.Post("/getEmbeddings", s.handleGetEmbeddings)
	r.Post("/getEmbeddings/", s.handleGetEmbeddings)
	r.Post("/upsertFacts", s.handleUpsertFacts)

	r.Get("/v1/session", s.handleSession)
	r.Get("/v1/audit", s.handleAudit)
	r.Get("/v1/perf/latency", s.handlePerfLatency)
	r.Get("/v1/chat/ws", s.handleChatWS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"session_key": s.conv.SessionKey(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	failed := s.readyFailures(r.Context())
	if len(failed) > 0 {
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"failed": failed,
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (s *Server) readyFailures(ctx context.Context) map[string]string {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	failed := map[string]string{}
	for _, c := range s.checks {
		if c.Check == nil {
			continue
		}
		if err := c.Check(ctx); err != nil {
			failed[c.Name] = err.Error()
		}
	}
	return failed
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(w http.ResponseWriter, r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

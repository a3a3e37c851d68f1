package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/ent0n29/gbu-assistant/internal/conversation"
	"github.com/ent0n29/gbu-assistant/internal/failure"
	"github.com/ent0n29/gbu-assistant/internal/knowledge"
	"github.com/ent0n29/gbu-assistant/internal/observability"
	"github.com/ent0n29/gbu-assistant/internal/session"
)

type queryRequest struct {
	Query string `json:"query"`
}

type factsRequest struct {
	Facts []string `json:"facts"`
}

type callLLMResponse struct {
	Response string `json:"response"`
}

type embeddingsResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

type upsertResponse struct {
	Message  string                 `json:"message"`
	Response knowledge.UpsertResult `json:"response"`
}

type sessionResponse struct {
	SessionKey string         `json:"session_key"`
	Active     bool           `json:"active"`
	TurnCount  int            `json:"turn_count"`
	Turns      []session.Turn `json:"turns"`
}

func (s *Server) handleCallLLM(w http.ResponseWriter, r *http.Request) {
	mode, err := conversation.ParseMode(r.URL.Query().Get("status"))
	if err != nil {
		respondError(w, http.StatusBadRequest, string(failure.KindInvalidRequest), failure.Message(err))
		return
	}
	var req queryRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, string(failure.KindInvalidRequest), err.Error())
		return
	}

	res := s.conv.Ask(r.Context(), mode, req.Query)
	if res.Failed() {
		respondError(w, statusForKind(res.Kind), string(res.Kind), res.ErrorMessage())
		return
	}
	respondJSON(w, http.StatusOK, callLLMResponse{Response: res.Text})
}

func (s *Server) handleGetEmbeddings(w http.ResponseWriter, r *http.Request) {
	var req factsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, string(failure.KindInvalidRequest), err.Error())
		return
	}
	vecs, err := s.kb.Embed(r.Context(), req.Facts)
	if err != nil {
		if errors.Is(err, knowledge.ErrNoFacts) {
			respondError(w, http.StatusBadRequest, string(failure.KindInvalidRequest), err.Error())
			return
		}
		observability.LoggerFromContext(r.Context()).Error("embed facts failed", "error", err)
		respondError(w, http.StatusBadGateway, "embedding_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, embeddingsResponse{Embeddings: vecs})
}

func (s *Server) handleUpsertFacts(w http.ResponseWriter, r *http.Request) {
	var req factsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, string(failure.KindInvalidRequest), err.Error())
		return
	}
	res, err := s.kb.Upsert(r.Context(), req.Facts)
	if err != nil {
		observability.LoggerFromContext(r.Context()).Error("upsert facts failed", "error", err)
		respondError(w, http.StatusBadRequest, "upsert_failed", err.Error())
		return
	}
	if s.metrics != nil {
		s.metrics.FactsUpserted.Add(float64(res.Upserted))
	}
	respondJSON(w, http.StatusOK, upsertResponse{
		Message:  "Data upserted successfully!",
		Response: res,
	})
}

func (s *Server) handleSession(w http.ResponseWriter, _ *http.Request) {
	turns := s.conv.History()
	if turns == nil {
		turns = []session.Turn{}
	}
	respondJSON(w, http.StatusOK, sessionResponse{
		SessionKey: s.conv.SessionKey(),
		Active:     len(turns) > 0,
		TurnCount:  len(turns),
		Turns:      turns,
	})
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		respondError(w, http.StatusNotFound, "audit_disabled", "audit log is disabled")
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			respondError(w, http.StatusBadRequest, string(failure.KindInvalidRequest), "limit must be within [1, 500]")
			return
		}
		limit = n
	}
	records, err := s.audit.Recent(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "audit_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"records": records})
}

func (s *Server) handlePerfLatency(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.metrics.SnapshotStages())
}

func statusForKind(kind failure.Kind) int {
	switch kind {
	case failure.KindInvalidRequest:
		return http.StatusBadRequest
	case failure.KindProvider, failure.KindMalformed:
		return http.StatusBadGateway
	case failure.KindRetrieval:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Package audit keeps a record of every memory-on exchange, including the
// model's raw answer, which never enters session history.
package audit

import (
	"context"
	"time"
)

// Record is one audited exchange. Query is stored after PII redaction.
type Record struct {
	ID          string    `json:"id"`
	RequestID   string    `json:"request_id,omitempty"`
	SessionKey  string    `json:"session_key"`
	Query       string    `json:"query"`
	PIIRedacted bool      `json:"pii_redacted"`
	Provider    string    `json:"provider,omitempty"`
	RawAnswer   string    `json:"raw_answer,omitempty"`
	KnowsAnswer bool      `json:"knows_answer"`
	Visible     string    `json:"visible,omitempty"`
	Outcome     string    `json:"outcome"`
	LatencyMS   int64     `json:"latency_ms"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store persists and retrieves audit records.
type Store interface {
	Save(ctx context.Context, record Record) error
	// Recent returns up to limit records in chronological order.
	Recent(ctx context.Context, limit int) ([]Record, error)
	Close() error
}

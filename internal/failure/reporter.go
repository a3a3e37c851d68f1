package failure

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ent0n29/gbu-assistant/internal/observability"
)

// Reporter logs failures with their kind and concrete type. Report never
// panics, even if a metrics hook does.
type Reporter struct {
	metrics *observability.Metrics
	now     func() time.Time
}

func NewReporter(metrics *observability.Metrics) *Reporter {
	return &Reporter{
		metrics: metrics,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Report records err and returns its kind.
func (r *Reporter) Report(ctx context.Context, err error) (kind Kind) {
	if err == nil {
		return ""
	}
	kind = KindOf(err)
	defer func() {
		if rec := recover(); rec != nil {
			slog.Default().Error("failure reporter panicked", "panic", fmt.Sprint(rec))
		}
	}()

	if ctx == nil {
		ctx = context.Background()
	}
	now := time.Now().UTC()
	if r != nil && r.now != nil {
		now = r.now()
	}
	observability.LoggerFromContext(ctx).ErrorContext(ctx, "conversation failure",
		"kind", string(kind),
		"error", err.Error(),
		"type", rootType(err),
		"timestamp", now.Format(time.RFC3339Nano),
	)
	if r != nil {
		r.metrics.ObserveFailure(string(kind))
	}
	return kind
}

// rootType names the concrete type of the innermost error, which is what
// operators grep for.
func rootType(err error) string {
	for {
		next := unwrapOne(err)
		if next == nil {
			return fmt.Sprintf("%T", err)
		}
		err = next
	}
}

func unwrapOne(err error) error {
	switch e := err.(type) {
	case interface{ Unwrap() error }:
		return e.Unwrap()
	default:
		return nil
	}
}

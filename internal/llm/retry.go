package llm

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/ent0n29/gbu-assistant/internal/reliability"
)

// RetryProvider re-invokes the wrapped provider on transient failures.
// The conversation core never retries on its own.
type RetryProvider struct {
	inner    Provider
	attempts int
	base     time.Duration
	cap      time.Duration
	logger   *slog.Logger
}

func NewRetryProvider(inner Provider, attempts int, logger *slog.Logger) *RetryProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &RetryProvider{
		inner:    inner,
		attempts: attempts,
		base:     500 * time.Millisecond,
		cap:      4 * time.Second,
		logger:   logger,
	}
}

func (p *RetryProvider) Name() string { return p.inner.Name() }

func (p *RetryProvider) Invoke(ctx context.Context, req Request) (Output, error) {
	var out Output
	err := reliability.Do(ctx, reliability.Policy{
		MaxAttempts: p.attempts,
		BaseDelay:   p.base,
		MaxDelay:    p.cap,
		Retryable:   IsTransient,
		OnRetry: func(next int, err error) {
			p.logger.WarnContext(ctx, "transient provider failure, retrying",
				"provider", p.inner.Name(),
				"attempt", next,
				"error", err,
			)
		},
	}, func(ctx context.Context) error {
		var err error
		out, err = p.inner.Invoke(ctx, req)
		return err
	})
	if err != nil {
		return Output{}, err
	}
	return out, nil
}

// IsTransient reports whether a provider error is worth retrying: retryable
// HTTP statuses and network timeouts.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return reliability.IsRetryableHTTPStatus(statusErr.Code)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

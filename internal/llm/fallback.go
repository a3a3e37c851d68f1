package llm

import (
	"context"
	"errors"
	"fmt"
)

// FallbackProvider attempts a primary provider first and falls back on error.
type FallbackProvider struct {
	primary  Provider
	fallback Provider
}

func NewFallbackProvider(primary, fallback Provider) *FallbackProvider {
	return &FallbackProvider{primary: primary, fallback: fallback}
}

func (p *FallbackProvider) Name() string {
	if p == nil || p.primary == nil {
		return "fallback"
	}
	if p.fallback == nil {
		return p.primary.Name()
	}
	return p.primary.Name() + "+" + p.fallback.Name()
}

func (p *FallbackProvider) Invoke(ctx context.Context, req Request) (Output, error) {
	if p == nil || p.primary == nil {
		if p != nil && p.fallback != nil {
			return p.fallback.Invoke(ctx, req)
		}
		return Output{}, fmt.Errorf("fallback provider misconfigured")
	}
	out, err := p.primary.Invoke(ctx, req)
	if err == nil {
		return out, nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Output{}, err
	}
	if p.fallback == nil {
		return Output{}, err
	}
	fallbackOut, fallbackErr := p.fallback.Invoke(ctx, req)
	if fallbackErr != nil {
		return Output{}, fmt.Errorf("primary provider error: %w; fallback provider error: %v", err, fallbackErr)
	}
	return fallbackOut, nil
}

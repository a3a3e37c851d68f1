package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// MockProvider provides deterministic local replies when no provider key is
// configured. It answers from the first line of context and otherwise admits
// it does not know.
type MockProvider struct{}

func NewMockProvider() *MockProvider { return &MockProvider{} }

func (p *MockProvider) Name() string { return "mock" }

func (p *MockProvider) Invoke(ctx context.Context, req Request) (Output, error) {
	select {
	case <-ctx.Done():
		return Output{}, ctx.Err()
	default:
	}

	answer, knows := buildMockReply(req)
	if len(req.ResponseSchema) == 0 {
		return Output{Text: answer, Provider: p.Name()}, nil
	}
	raw, err := json.Marshal(map[string]any{"answer": answer, "knowsAnswer": knows})
	if err != nil {
		return Output{}, fmt.Errorf("marshal mock reply: %w", err)
	}
	return Output{Text: string(raw), Provider: p.Name()}, nil
}

func buildMockReply(req Request) (string, bool) {
	for _, line := range strings.Split(req.Context, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line, true
		}
	}
	return fmt.Sprintf("I could not find anything about: %s", strings.TrimSpace(req.Query)), false
}

package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Config selects and parameterizes a provider.
type Config struct {
	Provider     string
	Model        string
	APIKey       string
	GoogleAPIKey string
	GroqAPIKey   string
	Temperature  float64
	MaxAttempts  int
	// Fallback names a second provider used when the primary fails.
	Fallback string
}

// NewProvider builds the configured provider, wrapped in the retry and
// fallback decorators when requested.
func NewProvider(ctx context.Context, cfg Config, logger *slog.Logger) (Provider, error) {
	primary, err := newSingle(ctx, cfg, cfg.Provider)
	if err != nil {
		return nil, err
	}
	if cfg.MaxAttempts > 1 {
		primary = NewRetryProvider(primary, cfg.MaxAttempts, logger)
	}

	name := strings.ToLower(strings.TrimSpace(cfg.Fallback))
	if name == "" || name == strings.ToLower(primary.Name()) {
		return primary, nil
	}
	fbCfg := cfg
	fbCfg.Model = ""
	secondary, err := newSingle(ctx, fbCfg, name)
	if err != nil {
		return nil, fmt.Errorf("fallback provider: %w", err)
	}
	return NewFallbackProvider(primary, secondary), nil
}

func newSingle(ctx context.Context, cfg Config, name string) (Provider, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = "auto"
	}

	switch name {
	case "auto":
		return newAutoProvider(ctx, cfg)
	case "gemini":
		return NewGeminiProvider(ctx, cfg.key(name), cfg.Model, cfg.Temperature)
	case "groq":
		return NewGroqProvider(cfg.key(name), cfg.Model, cfg.Temperature)
	case "openai":
		return NewOpenAIProvider(cfg.key(name), cfg.Model, cfg.Temperature)
	case "openrouter":
		return NewOpenRouterProvider(cfg.key(name), cfg.Model, cfg.Temperature)
	case "mock":
		return NewMockProvider(), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", name)
	}
}

func newAutoProvider(ctx context.Context, cfg Config) (Provider, error) {
	if cfg.key("gemini") != "" {
		return NewGeminiProvider(ctx, cfg.key("gemini"), cfg.Model, cfg.Temperature)
	}
	if cfg.key("groq") != "" {
		return NewGroqProvider(cfg.key("groq"), cfg.Model, cfg.Temperature)
	}
	return NewMockProvider(), nil
}

func (c Config) key(provider string) string {
	switch provider {
	case "gemini":
		if k := strings.TrimSpace(c.GoogleAPIKey); k != "" {
			return k
		}
	case "groq":
		if k := strings.TrimSpace(c.GroqAPIKey); k != "" {
			return k
		}
	}
	if strings.EqualFold(strings.TrimSpace(c.Provider), provider) {
		return strings.TrimSpace(c.APIKey)
	}
	return ""
}

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config contains all runtime settings for the assistant service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	LogLevel         string
	MetricsNamespace string
	AllowAnyOrigin   bool
	TracePrompts     bool

	SessionKey string
	PromptFile string

	LLMProvider         string
	LLMModel            string
	LLMAPIKey           string
	GoogleAPIKey        string
	GroqAPIKey          string
	LLMTemperature      float64
	LLMTimeout          time.Duration
	LLMMaxAttempts      int
	LLMFallbackProvider string
	LLMAcceptPlainText  bool

	EmbeddingProvider string
	EmbeddingModel    string
	EmbeddingDim      int
	RetrievalTopK     int

	DatabaseURL  string
	AuditEnabled bool
}

// LoadEnvFile loads KEY=VALUE pairs from a dotenv file without overriding
// variables already set in the environment. An empty path tries ./.env and
// tolerates its absence.
func LoadEnvFile(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load .env: %w", err)
		}
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:            envOrDefault("APP_BIND_ADDR", ":8000"),
		LogLevel:            strings.ToLower(envOrDefault("APP_LOG_LEVEL", "info")),
		MetricsNamespace:    envOrDefault("APP_METRICS_NAMESPACE", "gbu_assistant"),
		SessionKey:          envOrDefault("SESSION_KEY", "abc"),
		PromptFile:          stringsTrimSpace("PROMPT_FILE"),
		LLMProvider:         strings.ToLower(envOrDefault("LLM_PROVIDER", "auto")),
		LLMModel:            stringsTrimSpace("LLM_MODEL"),
		LLMAPIKey:           stringsTrimSpace("LLM_API_KEY"),
		GoogleAPIKey:        stringsTrimSpace("GOOGLE_API_KEY"),
		GroqAPIKey:          stringsTrimSpace("GROQ_API_KEY"),
		LLMFallbackProvider: strings.ToLower(stringsTrimSpace("LLM_FALLBACK_PROVIDER")),
		EmbeddingProvider:   strings.ToLower(envOrDefault("EMBEDDING_PROVIDER", "auto")),
		EmbeddingModel:      stringsTrimSpace("EMBEDDING_MODEL"),
		DatabaseURL:         stringsTrimSpace("DATABASE_URL"),
		ShutdownTimeout:     15 * time.Second,
		LLMTemperature:      0.9,
		LLMTimeout:          60 * time.Second,
		LLMMaxAttempts:      1,
		EmbeddingDim:        384,
		RetrievalTopK:       4,
		AuditEnabled:        true,
	}

	var err error
	if cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout); err != nil {
		return Config{}, err
	}
	if cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin); err != nil {
		return Config{}, err
	}
	if cfg.TracePrompts, err = boolFromEnv("APP_TRACE_PROMPTS", cfg.TracePrompts); err != nil {
		return Config{}, err
	}
	if cfg.LLMTemperature, err = floatFromEnv("LLM_TEMPERATURE", cfg.LLMTemperature); err != nil {
		return Config{}, err
	}
	if cfg.LLMTimeout, err = durationFromEnv("LLM_TIMEOUT", cfg.LLMTimeout); err != nil {
		return Config{}, err
	}
	if cfg.LLMMaxAttempts, err = intFromEnv("LLM_MAX_ATTEMPTS", cfg.LLMMaxAttempts); err != nil {
		return Config{}, err
	}
	if cfg.LLMAcceptPlainText, err = boolFromEnv("LLM_ACCEPT_PLAIN_TEXT", cfg.LLMAcceptPlainText); err != nil {
		return Config{}, err
	}
	if cfg.EmbeddingDim, err = intFromEnv("EMBEDDING_DIM", cfg.EmbeddingDim); err != nil {
		return Config{}, err
	}
	if cfg.RetrievalTopK, err = intFromEnv("RETRIEVAL_TOP_K", cfg.RetrievalTopK); err != nil {
		return Config{}, err
	}
	if cfg.AuditEnabled, err = boolFromEnv("AUDIT_ENABLED", cfg.AuditEnabled); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("APP_LOG_LEVEL must be one of debug|info|warn|error")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("APP_SHUTDOWN_TIMEOUT must be positive")
	}
	if strings.TrimSpace(c.SessionKey) == "" {
		return fmt.Errorf("SESSION_KEY must not be blank")
	}
	switch c.LLMProvider {
	case "auto", "gemini", "groq", "openai", "openrouter", "mock":
	default:
		return fmt.Errorf("LLM_PROVIDER %q is not supported", c.LLMProvider)
	}
	switch c.LLMFallbackProvider {
	case "", "gemini", "groq", "openai", "openrouter", "mock":
	default:
		return fmt.Errorf("LLM_FALLBACK_PROVIDER %q is not supported", c.LLMFallbackProvider)
	}
	if c.LLMTemperature < 0 || c.LLMTemperature > 2 {
		return fmt.Errorf("LLM_TEMPERATURE must be within [0, 2]")
	}
	if c.LLMTimeout < time.Second {
		return fmt.Errorf("LLM_TIMEOUT must be at least 1s")
	}
	if c.LLMMaxAttempts < 1 || c.LLMMaxAttempts > 5 {
		return fmt.Errorf("LLM_MAX_ATTEMPTS must be within [1, 5]")
	}
	switch c.EmbeddingProvider {
	case "auto", "gemini", "hash":
	default:
		return fmt.Errorf("EMBEDDING_PROVIDER %q is not supported", c.EmbeddingProvider)
	}
	if c.EmbeddingDim <= 0 {
		return fmt.Errorf("EMBEDDING_DIM must be positive")
	}
	if c.RetrievalTopK <= 0 {
		return fmt.Errorf("RETRIEVAL_TOP_K must be positive")
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}

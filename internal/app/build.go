package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/ent0n29/gbu-assistant/internal/answer"
	"github.com/ent0n29/gbu-assistant/internal/audit"
	"github.com/ent0n29/gbu-assistant/internal/config"
	"github.com/ent0n29/gbu-assistant/internal/conversation"
	"github.com/ent0n29/gbu-assistant/internal/httpapi"
	"github.com/ent0n29/gbu-assistant/internal/knowledge"
	"github.com/ent0n29/gbu-assistant/internal/llm"
	"github.com/ent0n29/gbu-assistant/internal/observability"
	"github.com/ent0n29/gbu-assistant/internal/prompt"
	"github.com/ent0n29/gbu-assistant/internal/session"
)

type BuildResult struct {
	Config     config.Config
	API        *httpapi.Server
	Controller *conversation.Controller
	Knowledge  *knowledge.Service
	Metrics    *observability.Metrics
	Logger     *slog.Logger
	Provider   string
	Embedder   string

	// Cleanup should be called on shutdown to release external resources.
	Cleanup func() error
}

// Options override process-level sinks; zero values use stdout.
type Options struct {
	LogWriter   io.Writer
	TraceWriter io.Writer
}

func Build(ctx context.Context, cfg config.Config, opts Options) (*BuildResult, error) {
	logWriter := opts.LogWriter
	if logWriter == nil {
		logWriter = os.Stdout
	}
	logger := observability.Setup(cfg.LogLevel, logWriter)
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	tmpl, err := prompt.LoadTemplate(cfg.PromptFile)
	if err != nil {
		return nil, fmt.Errorf("prompt template: %w", err)
	}
	coercer, err := answer.NewCoercer(tmpl.Fallback, answer.WithPlainText(cfg.LLMAcceptPlainText))
	if err != nil {
		return nil, fmt.Errorf("answer coercer: %w", err)
	}

	provider, err := llm.NewProvider(ctx, llm.Config{
		Provider:     cfg.LLMProvider,
		Model:        cfg.LLMModel,
		APIKey:       cfg.LLMAPIKey,
		GoogleAPIKey: cfg.GoogleAPIKey,
		GroqAPIKey:   cfg.GroqAPIKey,
		Temperature:  cfg.LLMTemperature,
		MaxAttempts:  cfg.LLMMaxAttempts,
		Fallback:     cfg.LLMFallbackProvider,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("llm provider init failed: %w", err)
	}

	embedder, err := knowledge.NewEmbedder(ctx, cfg.EmbeddingProvider, cfg.GoogleAPIKey, cfg.EmbeddingModel, cfg.EmbeddingDim)
	if err != nil {
		return nil, fmt.Errorf("embedder init failed: %w", err)
	}
	vectors, err := knowledge.NewStore(ctx, cfg.DatabaseURL, embedder.Dim())
	if err != nil {
		return nil, fmt.Errorf("knowledge store init failed: %w", err)
	}
	kb := knowledge.NewService(embedder, vectors, cfg.RetrievalTopK)

	var auditStore audit.Store
	if cfg.AuditEnabled {
		auditStore, err = audit.NewStore(ctx, cfg.DatabaseURL)
		if err != nil {
			_ = kb.Close()
			return nil, fmt.Errorf("audit store init failed: %w", err)
		}
	}

	var tracer *observability.PromptTracer
	if cfg.TracePrompts {
		w := opts.TraceWriter
		if w == nil {
			w = os.Stdout
		}
		tracer = observability.NewPromptTracer(w)
	}

	ctrl, err := conversation.NewController(conversation.Deps{
		Store:      session.NewStore(),
		Formatter:  prompt.NewFormatter(tmpl),
		Provider:   provider,
		Coercer:    coercer,
		Retriever:  kb,
		Audit:      auditStore,
		Tracer:     tracer,
		Metrics:    metrics,
		SessionKey: cfg.SessionKey,
		Timeout:    cfg.LLMTimeout,
	})
	if err != nil {
		closeAll(kb, auditStore)
		return nil, err
	}

	var checks []httpapi.ReadyCheck
	if pinger, ok := vectors.(interface{ Ping(context.Context) error }); ok {
		checks = append(checks, httpapi.ReadyCheck{Name: "vector_store", Check: pinger.Ping})
	}

	api := httpapi.New(cfg, ctrl, kb, auditStore, metrics, checks...)

	logger.Info("assistant built",
		"llm_provider", provider.Name(),
		"embedder", embedder.Name(),
		"embedding_dim", embedder.Dim(),
		"postgres", cfg.DatabaseURL != "",
		"audit", cfg.AuditEnabled,
		"session_key", ctrl.SessionKey(),
	)

	return &BuildResult{
		Config:     cfg,
		API:        api,
		Controller: ctrl,
		Knowledge:  kb,
		Metrics:    metrics,
		Logger:     logger,
		Provider:   provider.Name(),
		Embedder:   embedder.Name(),
		Cleanup:    func() error { return closeAll(kb, auditStore) },
	}, nil
}

func closeAll(kb *knowledge.Service, auditStore audit.Store) error {
	var errs []error
	if kb != nil {
		if err := kb.Close(); err != nil {
			errs = append(errs, fmt.Errorf("knowledge store: %w", err))
		}
	}
	if auditStore != nil {
		if err := auditStore.Close(); err != nil {
			errs = append(errs, fmt.Errorf("audit store: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Package conversation runs one question/answer exchange: history lookup,
// prompt rendering, the provider call, answer coercion and history update.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ent0n29/gbu-assistant/internal/answer"
	"github.com/ent0n29/gbu-assistant/internal/audit"
	"github.com/ent0n29/gbu-assistant/internal/failure"
	"github.com/ent0n29/gbu-assistant/internal/llm"
	"github.com/ent0n29/gbu-assistant/internal/observability"
	"github.com/ent0n29/gbu-assistant/internal/policy"
	"github.com/ent0n29/gbu-assistant/internal/prompt"
	"github.com/ent0n29/gbu-assistant/internal/session"
)

const DefaultSessionKey = "abc"

// Retriever supplies background context for a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string) (string, error)
}

// Deps are the collaborators of a Controller. Store, Formatter, Provider and
// Coercer are required.
type Deps struct {
	Store     *session.Store
	Formatter *prompt.Formatter
	Provider  llm.Provider
	Coercer   *answer.Coercer
	Reporter  *failure.Reporter
	Retriever Retriever
	Audit     audit.Store
	Tracer    *observability.PromptTracer
	Metrics   *observability.Metrics

	// SessionKey is the single conversation every caller shares.
	SessionKey string
	// Timeout bounds each provider call; zero means only the caller's
	// context applies.
	Timeout time.Duration
}

type Controller struct {
	store     *session.Store
	formatter *prompt.Formatter
	provider  llm.Provider
	coercer   *answer.Coercer
	reporter  *failure.Reporter
	retriever Retriever
	audit     audit.Store
	tracer    *observability.PromptTracer
	metrics   *observability.Metrics
	key       string
	timeout   time.Duration
}

func NewController(d Deps) (*Controller, error) {
	switch {
	case d.Store == nil:
		return nil, errors.New("conversation: session store is required")
	case d.Formatter == nil:
		return nil, errors.New("conversation: prompt formatter is required")
	case d.Provider == nil:
		return nil, errors.New("conversation: llm provider is required")
	case d.Coercer == nil:
		return nil, errors.New("conversation: answer coercer is required")
	}
	key := strings.TrimSpace(d.SessionKey)
	if key == "" {
		key = DefaultSessionKey
	}
	reporter := d.Reporter
	if reporter == nil {
		reporter = failure.NewReporter(d.Metrics)
	}
	return &Controller{
		store:     d.Store,
		formatter: d.Formatter,
		provider:  d.Provider,
		coercer:   d.Coercer,
		reporter:  reporter,
		retriever: d.Retriever,
		audit:     d.Audit,
		tracer:    d.Tracer,
		metrics:   d.Metrics,
		key:       key,
		timeout:   d.Timeout,
	}, nil
}

func (c *Controller) SessionKey() string { return c.key }

// History returns a copy of the current session turns, or nil when memory
// is off.
func (c *Controller) History() []session.Turn {
	sess, err := c.store.Get(c.key)
	if err != nil {
		return nil
	}
	return sess.Turns
}

// Ask retrieves context for the query (memory on only) and converses.
func (c *Controller) Ask(ctx context.Context, mode Mode, query string) Result {
	if mode != ModeOn {
		return c.Converse(ctx, mode, query, "")
	}
	if strings.TrimSpace(query) == "" {
		return c.fail(ctx, mode, failure.Invalid("ask", "query is required"))
	}

	var contextText string
	if c.retriever != nil {
		start := time.Now()
		text, err := c.retriever.Retrieve(ctx, query)
		c.metrics.ObserveStage(observability.StageRetrieve, time.Since(start))
		if err != nil {
			return c.fail(ctx, mode, failure.Wrap(failure.KindRetrieval, "retrieve context", err))
		}
		contextText = text
	}
	return c.Converse(ctx, mode, query, contextText)
}

// Converse runs one exchange with caller-supplied context.
func (c *Controller) Converse(ctx context.Context, mode Mode, query, contextText string) Result {
	start := time.Now()
	defer func() { c.metrics.ObserveStage(observability.StageTotal, time.Since(start)) }()

	switch mode {
	case ModeOff:
		return c.clear(ctx)
	case ModeOn:
		return c.converseOn(ctx, query, contextText, start)
	default:
		return c.fail(ctx, mode, failure.Invalid("converse", fmt.Sprintf("unknown memory mode %q", mode)))
	}
}

// clear waits for any in-flight exchange on the key before dropping it.
func (c *Controller) clear(ctx context.Context) Result {
	unlock := c.store.Lock(c.key)
	existed := c.store.Clear(c.key)
	unlock()
	c.syncSessionGauge()
	c.metrics.ObserveConversation(string(ModeOff), string(OutcomeCleared))
	observability.LoggerFromContext(ctx).Info("memory cleared", "session_key", c.key, "existed", existed)
	return Result{Text: MemoryCleared, Outcome: OutcomeCleared}
}

func (c *Controller) converseOn(ctx context.Context, query, contextText string, start time.Time) Result {
	query = strings.TrimSpace(query)
	if query == "" {
		return c.fail(ctx, ModeOn, failure.Invalid("converse", "query is required"))
	}

	unlock := c.store.Lock(c.key)
	defer unlock()

	sess, err := c.store.GetOrCreate(c.key)
	if err != nil {
		return c.fail(ctx, ModeOn, failure.Wrap(failure.KindSessionState, "load session", err))
	}
	c.syncSessionGauge()

	p := c.formatter.Render(sess.Turns, contextText, query)
	c.tracer.Trace(contextText, p.History)

	req := p.Request()
	req.ResponseSchema = c.coercer.Schema()

	out, err := c.invoke(ctx, req)
	if err != nil {
		err = failure.Wrap(failure.KindProvider, "invoke "+c.provider.Name(), err)
		c.record(ctx, query, llm.Output{}, answer.StructuredAnswer{}, "", err, start)
		return c.fail(ctx, ModeOn, err)
	}

	structured, err := c.coercer.Coerce(out.Text)
	if err != nil {
		err = failure.Wrap(failure.KindMalformed, "coerce answer", err)
		c.record(ctx, query, out, answer.StructuredAnswer{}, "", err, start)
		return c.fail(ctx, ModeOn, err)
	}
	visible := c.coercer.Visible(structured)

	if err := c.store.Append(c.key, session.UserTurn(query), session.AssistantTurn(visible)); err != nil {
		err = failure.Wrap(failure.KindSessionState, "append turns", err)
		c.record(ctx, query, out, structured, visible, err, start)
		return c.fail(ctx, ModeOn, err)
	}

	outcome, quality := OutcomeAnswered, observability.AnswerKnown
	if !structured.KnowsAnswer {
		outcome, quality = OutcomeFallback, observability.AnswerFallback
	}
	c.metrics.ObserveAnswer(quality)
	c.record(ctx, query, out, structured, visible, nil, start)
	c.metrics.ObserveConversation(string(ModeOn), string(outcome))
	observability.LoggerFromContext(ctx).Info("conversation answered",
		"session_key", c.key,
		"provider", out.Provider,
		"knows_answer", structured.KnowsAnswer,
		"turns", c.store.Len(c.key),
		"query", policy.LogSafe(query, 120),
		"latency_ms", time.Since(start).Milliseconds(),
	)
	return Result{Text: visible, KnowsAnswer: structured.KnowsAnswer, Outcome: outcome}
}

func (c *Controller) invoke(ctx context.Context, req llm.Request) (llm.Output, error) {
	callCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	start := time.Now()
	out, err := c.provider.Invoke(callCtx, req)
	elapsed := time.Since(start)
	c.metrics.ObserveProvider(c.provider.Name(), err, elapsed)
	c.metrics.ObserveStage(observability.StageProvider, elapsed)
	if err == nil && callCtx.Err() != nil {
		// a provider that ignores cancellation still failed the deadline
		err = callCtx.Err()
	}
	if out.Provider == "" {
		out.Provider = c.provider.Name()
	}
	return out, err
}

func (c *Controller) fail(ctx context.Context, mode Mode, err error) Result {
	kind := c.reporter.Report(ctx, err)
	if mode == ModeOn {
		c.metrics.ObserveAnswer(observability.AnswerFailed)
	}
	c.metrics.ObserveConversation(string(mode), string(OutcomeFailed))
	return Result{Outcome: OutcomeFailed, Kind: kind, Err: err}
}

// record writes the exchange to the audit log. Audit failures are logged and
// never fail the exchange.
func (c *Controller) record(ctx context.Context, query string, out llm.Output, a answer.StructuredAnswer, visible string, err error, start time.Time) {
	if c.audit == nil {
		return
	}
	redacted, changed := policy.RedactPII(query)
	outcome := string(OutcomeAnswered)
	switch {
	case err != nil:
		outcome = string(failure.KindOf(err))
	case !a.KnowsAnswer:
		outcome = string(OutcomeFallback)
	}
	rec := audit.Record{
		RequestID:   observability.RequestIDFromContext(ctx),
		SessionKey:  c.key,
		Query:       redacted,
		PIIRedacted: changed,
		Provider:    out.Provider,
		RawAnswer:   a.Answer,
		KnowsAnswer: a.KnowsAnswer,
		Visible:     visible,
		Outcome:     outcome,
		LatencyMS:   time.Since(start).Milliseconds(),
	}
	if rec.RawAnswer == "" && err != nil {
		rec.RawAnswer = out.Text
	}
	if saveErr := c.audit.Save(context.WithoutCancel(ctx), rec); saveErr != nil {
		observability.LoggerFromContext(ctx).Warn("audit save failed", "error", saveErr)
	}
}

func (c *Controller) syncSessionGauge() {
	if c.metrics == nil {
		return
	}
	c.metrics.ActiveSessions.Set(float64(c.store.ActiveCount()))
}

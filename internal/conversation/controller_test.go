package conversation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ent0n29/gbu-assistant/internal/answer"
	"github.com/ent0n29/gbu-assistant/internal/audit"
	"github.com/ent0n29/gbu-assistant/internal/failure"
	"github.com/ent0n29/gbu-assistant/internal/llm"
	"github.com/ent0n29/gbu-assistant/internal/observability"
	"github.com/ent0n29/gbu-assistant/internal/prompt"
	"github.com/ent0n29/gbu-assistant/internal/session"
)

func init() {
	observability.Setup("error", io.Discard)
}

type harness struct {
	ctrl     *Controller
	store    *session.Store
	provider *scriptedProvider
	audit    *audit.InMemoryStore
}

func newHarness(t *testing.T, provider *scriptedProvider, opts ...func(*Deps)) harness {
	t.Helper()
	coercer, err := answer.NewCoercer(prompt.DefaultFallback)
	if err != nil {
		t.Fatalf("NewCoercer() error = %v", err)
	}
	store := session.NewStore()
	auditStore := audit.NewInMemoryStore(0)
	deps := Deps{
		Store:     store,
		Formatter: prompt.NewFormatter(prompt.DefaultTemplate()),
		Provider:  provider,
		Coercer:   coercer,
		Audit:     auditStore,
		Metrics:   observability.NewMetrics("conversation_test"),
	}
	for _, opt := range opts {
		opt(&deps)
	}
	ctrl, err := NewController(deps)
	if err != nil {
		t.Fatalf("NewController() error = %v", err)
	}
	return harness{ctrl: ctrl, store: store, provider: provider, audit: auditStore}
}

func (h harness) turns() []session.Turn {
	return h.ctrl.History()
}

func TestScenarioFoundedYear(t *testing.T) {
	p := &scriptedProvider{replies: []string{`{"answer":"1983","knowsAnswer":true}`}}
	h := newHarness(t, p)

	res := h.ctrl.Converse(context.Background(), ModeOn, "When was GBU founded?", "GBU was founded in 1983.")
	if res.Failed() {
		t.Fatalf("Converse() error = %v", res.Err)
	}
	if res.Text != "1983" || res.Outcome != OutcomeAnswered {
		t.Fatalf("Converse() = %+v, want 1983 answered", res)
	}

	turns := h.turns()
	if len(turns) != 2 {
		t.Fatalf("len(history) = %d, want 2", len(turns))
	}
	if turns[0].Role != session.RoleUser || turns[0].Text != "When was GBU founded?" {
		t.Fatalf("turn[0] = %+v", turns[0])
	}
	if turns[1].Role != session.RoleAssistant || turns[1].Text != "1983" {
		t.Fatalf("turn[1] = %+v", turns[1])
	}

	req := p.requests[0]
	if req.History != "[empty]" || req.Context != "GBU was founded in 1983." || req.Query != "When was GBU founded?" {
		t.Fatalf("provider request slots = %+v", req)
	}
	if len(req.ResponseSchema) == 0 {
		t.Fatalf("provider request has no response schema")
	}
}

func TestUnsureAnswerReturnsFallback(t *testing.T) {
	p := &scriptedProvider{replies: []string{`{"answer":"I think maybe...","knowsAnswer":false}`}}
	h := newHarness(t, p)

	res := h.ctrl.Converse(context.Background(), ModeOn, "Who is the dean?", "")
	if res.Failed() {
		t.Fatalf("Converse() error = %v", res.Err)
	}
	if res.Text != prompt.DefaultFallback || res.Outcome != OutcomeFallback {
		t.Fatalf("Converse() = %+v, want fallback", res)
	}
	turns := h.turns()
	if len(turns) != 2 || turns[1].Text != prompt.DefaultFallback {
		t.Fatalf("history = %+v, want fallback assistant turn", turns)
	}

	recs, _ := h.audit.Recent(context.Background(), 0)
	if len(recs) != 1 || recs[0].RawAnswer != "I think maybe..." || recs[0].Outcome != "fallback" {
		t.Fatalf("audit = %+v, want raw answer retained", recs)
	}
	if q := h.ctrl.metrics.SnapshotStages().Answers; q.Fallback != 1 || q.FallbackRate != 1 {
		t.Fatalf("answer quality = %+v, want one fallback", q)
	}
}

func TestSuccessfulCallsAlternateTurns(t *testing.T) {
	const n = 5
	p := &scriptedProvider{}
	for i := 0; i < n; i++ {
		p.replies = append(p.replies, fmt.Sprintf(`{"answer":"a%d","knowsAnswer":true}`, i))
	}
	h := newHarness(t, p)

	for i := 0; i < n; i++ {
		res := h.ctrl.Converse(context.Background(), ModeOn, fmt.Sprintf("q%d", i), "")
		if res.Failed() {
			t.Fatalf("Converse(%d) error = %v", i, res.Err)
		}
	}
	turns := h.turns()
	if len(turns) != 2*n {
		t.Fatalf("len(history) = %d, want %d", len(turns), 2*n)
	}
	for i := 0; i < n; i++ {
		if turns[2*i].Role != session.RoleUser || turns[2*i].Text != fmt.Sprintf("q%d", i) {
			t.Fatalf("turn[%d] = %+v", 2*i, turns[2*i])
		}
		if turns[2*i+1].Role != session.RoleAssistant || turns[2*i+1].Text != fmt.Sprintf("a%d", i) {
			t.Fatalf("turn[%d] = %+v", 2*i+1, turns[2*i+1])
		}
	}
	if !strings.Contains(p.requests[n-1].History, "User: q0\nAI: a0") {
		t.Fatalf("last prompt history = %q, want earlier turns", p.requests[n-1].History)
	}
}

func TestOffClearsAndIsIdempotent(t *testing.T) {
	p := &scriptedProvider{replies: []string{`{"answer":"x","knowsAnswer":true}`}}
	h := newHarness(t, p)

	for i := 0; i < 2; i++ {
		res := h.ctrl.Converse(context.Background(), ModeOff, "", "")
		if res.Failed() || res.Text != MemoryCleared {
			t.Fatalf("Converse(off) = %+v, want %q", res, MemoryCleared)
		}
	}

	_ = h.ctrl.Converse(context.Background(), ModeOn, "q", "")
	res := h.ctrl.Converse(context.Background(), ModeOff, "ignored", "ignored")
	if res.Text != MemoryCleared {
		t.Fatalf("Converse(off) = %+v", res)
	}
	if _, err := h.store.Get(h.ctrl.SessionKey()); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("session still present after off: %v", err)
	}
	if len(p.requests) != 1 {
		t.Fatalf("provider calls = %d, want 1 (off never calls provider)", len(p.requests))
	}
}

func TestFailedInvocationLeavesHistoryUnchanged(t *testing.T) {
	p := &scriptedProvider{
		replies: []string{`{"answer":"first","knowsAnswer":true}`, "", "not json at all"},
		errs:    []error{nil, &llm.StatusError{Provider: "fake", Code: 503}, nil},
	}
	h := newHarness(t, p)

	if res := h.ctrl.Converse(context.Background(), ModeOn, "q1", ""); res.Failed() {
		t.Fatalf("Converse(q1) error = %v", res.Err)
	}

	res := h.ctrl.Converse(context.Background(), ModeOn, "q2", "")
	if !res.Failed() || res.Kind != failure.KindProvider || res.Text != "" {
		t.Fatalf("Converse(q2) = %+v, want provider failure without text", res)
	}
	if got := len(h.turns()); got != 2 {
		t.Fatalf("len(history) after provider error = %d, want 2", got)
	}

	res = h.ctrl.Converse(context.Background(), ModeOn, "q3", "")
	if !res.Failed() || res.Kind != failure.KindMalformed {
		t.Fatalf("Converse(q3) = %+v, want malformed failure", res)
	}
	if !errors.Is(res.Err, answer.ErrMalformed) {
		t.Fatalf("Converse(q3) error = %v, want wrapped ErrMalformed", res.Err)
	}
	if got := len(h.turns()); got != 2 {
		t.Fatalf("len(history) after malformed reply = %d, want 2", got)
	}
	if res.ErrorMessage() == "" || strings.Contains(res.ErrorMessage(), "not json") {
		t.Fatalf("ErrorMessage() = %q", res.ErrorMessage())
	}
	q := h.ctrl.metrics.SnapshotStages().Answers
	if q.Total != 3 || q.Answered != 1 || q.Failed != 2 {
		t.Fatalf("answer quality = %+v, want 1 answered and 2 failed", q)
	}
}

func TestProviderTimeoutIsProviderFailure(t *testing.T) {
	p := &scriptedProvider{block: true}
	h := newHarness(t, p, func(d *Deps) { d.Timeout = 20 * time.Millisecond })

	res := h.ctrl.Converse(context.Background(), ModeOn, "slow?", "")
	if !res.Failed() || res.Kind != failure.KindProvider {
		t.Fatalf("Converse() = %+v, want provider failure", res)
	}
	if !errors.Is(res.Err, context.DeadlineExceeded) {
		t.Fatalf("Converse() error = %v, want deadline exceeded", res.Err)
	}
	if got := len(h.turns()); got != 0 {
		t.Fatalf("len(history) = %d, want 0", got)
	}
}

func TestEmptyQueryIsInvalidRequest(t *testing.T) {
	p := &scriptedProvider{}
	h := newHarness(t, p)
	res := h.ctrl.Ask(context.Background(), ModeOn, "   ")
	if !res.Failed() || res.Kind != failure.KindInvalidRequest {
		t.Fatalf("Ask(blank) = %+v, want invalid request", res)
	}
	if len(p.requests) != 0 {
		t.Fatalf("provider called for blank query")
	}
}

func TestAskRetrievesContextInMemoryOnMode(t *testing.T) {
	p := &scriptedProvider{replies: []string{`{"answer":"2002","knowsAnswer":true}`}}
	r := &fakeRetriever{text: "GBU was founded in 2002."}
	h := newHarness(t, p, func(d *Deps) { d.Retriever = r })

	res := h.ctrl.Ask(context.Background(), ModeOn, "When was GBU founded?")
	if res.Failed() || res.Text != "2002" {
		t.Fatalf("Ask() = %+v", res)
	}
	if r.calls != 1 || p.requests[0].Context != "GBU was founded in 2002." {
		t.Fatalf("retriever calls = %d, context = %q", r.calls, p.requests[0].Context)
	}

	if res := h.ctrl.Ask(context.Background(), ModeOff, "x"); res.Text != MemoryCleared {
		t.Fatalf("Ask(off) = %+v", res)
	}
	if r.calls != 1 {
		t.Fatalf("retriever called in off mode")
	}
}

func TestAskRetrievalFailure(t *testing.T) {
	p := &scriptedProvider{}
	r := &fakeRetriever{err: errors.New("vector store down")}
	h := newHarness(t, p, func(d *Deps) { d.Retriever = r })

	res := h.ctrl.Ask(context.Background(), ModeOn, "q")
	if !res.Failed() || res.Kind != failure.KindRetrieval {
		t.Fatalf("Ask() = %+v, want retrieval failure", res)
	}
	if len(p.requests) != 0 {
		t.Fatalf("provider called after retrieval failure")
	}
}

func TestUnknownModeIsInvalid(t *testing.T) {
	h := newHarness(t, &scriptedProvider{})
	res := h.ctrl.Converse(context.Background(), Mode("maybe"), "q", "")
	if res.Kind != failure.KindInvalidRequest {
		t.Fatalf("Converse(maybe) = %+v", res)
	}
}

func TestAuditRedactsQuery(t *testing.T) {
	p := &scriptedProvider{replies: []string{`{"answer":"ok","knowsAnswer":true}`}}
	h := newHarness(t, p)
	_ = h.ctrl.Converse(context.Background(), ModeOn, "mail me at sam@example.com", "")

	recs, _ := h.audit.Recent(context.Background(), 0)
	if len(recs) != 1 {
		t.Fatalf("len(audit) = %d, want 1", len(recs))
	}
	if strings.Contains(recs[0].Query, "sam@example.com") || !recs[0].PIIRedacted {
		t.Fatalf("audit query not redacted: %+v", recs[0])
	}
	// history keeps what the user actually asked
	if h.turns()[0].Text != "mail me at sam@example.com" {
		t.Fatalf("history turn = %q", h.turns()[0].Text)
	}
}

func TestConcurrentCallsKeepPairsTogether(t *testing.T) {
	const n = 8
	p := &echoProvider{}
	h := newHarness(t, nil, func(d *Deps) { d.Provider = p })

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res := h.ctrl.Converse(context.Background(), ModeOn, fmt.Sprintf("q%d", i), "")
			if res.Failed() {
				t.Errorf("Converse(q%d) error = %v", i, res.Err)
			}
		}(i)
	}
	wg.Wait()

	turns := h.turns()
	if len(turns) != 2*n {
		t.Fatalf("len(history) = %d, want %d", len(turns), 2*n)
	}
	for i := 0; i < len(turns); i += 2 {
		if turns[i+1].Text != "echo "+turns[i].Text {
			t.Fatalf("pair %d = %q / %q, want matching echo", i/2, turns[i].Text, turns[i+1].Text)
		}
	}
}

func TestOffWaitsForInFlightExchange(t *testing.T) {
	p := &gatedProvider{entered: make(chan struct{}), release: make(chan struct{})}
	h := newHarness(t, nil, func(d *Deps) { d.Provider = p })

	onDone := make(chan Result, 1)
	go func() {
		onDone <- h.ctrl.Converse(context.Background(), ModeOn, "When was GBU founded?", "")
	}()
	<-p.entered

	offDone := make(chan Result, 1)
	go func() {
		offDone <- h.ctrl.Converse(context.Background(), ModeOff, "", "")
	}()
	select {
	case res := <-offDone:
		t.Fatalf("memory off returned %+v while an exchange was in flight", res)
	case <-time.After(50 * time.Millisecond):
	}

	close(p.release)
	on := <-onDone
	if on.Failed() || on.Text != "1983" {
		t.Fatalf("in-flight Converse(on) = %+v, err = %v", on, on.Err)
	}
	off := <-offDone
	if off.Failed() || off.Text != MemoryCleared {
		t.Fatalf("Converse(off) = %+v", off)
	}
	if h.ctrl.History() != nil {
		t.Fatalf("session should be absent after memory off, got %d turns", len(h.ctrl.History()))
	}
}

func TestNewControllerValidatesDeps(t *testing.T) {
	if _, err := NewController(Deps{}); err == nil {
		t.Fatalf("NewController(empty) error = nil, want error")
	}
	h := newHarness(t, &scriptedProvider{})
	if h.ctrl.SessionKey() != DefaultSessionKey {
		t.Fatalf("SessionKey() = %q, want %q", h.ctrl.SessionKey(), DefaultSessionKey)
	}
}

func TestParseMode(t *testing.T) {
	cases := map[string]Mode{"on": ModeOn, " ON ": ModeOn, "off": ModeOff}
	for in, want := range cases {
		got, err := ParseMode(in)
		if err != nil || got != want {
			t.Fatalf("ParseMode(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseMode("maybe"); failure.KindOf(err) != failure.KindInvalidRequest {
		t.Fatalf("ParseMode(maybe) error = %v, want invalid request", err)
	}
}

type scriptedProvider struct {
	mu       sync.Mutex
	replies  []string
	errs     []error
	block    bool
	requests []llm.Request
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Invoke(ctx context.Context, req llm.Request) (llm.Output, error) {
	p.mu.Lock()
	idx := len(p.requests)
	p.requests = append(p.requests, req)
	p.mu.Unlock()

	if p.block {
		<-ctx.Done()
		return llm.Output{}, ctx.Err()
	}
	if idx < len(p.errs) && p.errs[idx] != nil {
		return llm.Output{}, p.errs[idx]
	}
	if idx >= len(p.replies) {
		return llm.Output{}, errors.New("no scripted reply")
	}
	return llm.Output{Text: p.replies[idx], Provider: p.Name()}, nil
}

type echoProvider struct{}

func (echoProvider) Name() string { return "echo" }

func (echoProvider) Invoke(_ context.Context, req llm.Request) (llm.Output, error) {
	return llm.Output{Text: fmt.Sprintf(`{"answer":"echo %s","knowsAnswer":true}`, req.Query)}, nil
}

// gatedProvider signals entered once Invoke starts and answers after release
// is closed.
type gatedProvider struct {
	entered chan struct{}
	release chan struct{}
}

func (p *gatedProvider) Name() string { return "gated" }

func (p *gatedProvider) Invoke(ctx context.Context, _ llm.Request) (llm.Output, error) {
	close(p.entered)
	select {
	case <-p.release:
		return llm.Output{Text: `{"answer":"1983","knowsAnswer":true}`}, nil
	case <-ctx.Done():
		return llm.Output{}, ctx.Err()
	}
}

type fakeRetriever struct {
	text  string
	err   error
	calls int
}

func (r *fakeRetriever) Retrieve(context.Context, string) (string, error) {
	r.calls++
	return r.text, r.err
}

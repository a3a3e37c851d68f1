package observability

import (
	"math"
	"slices"
	"sync"
	"time"
)

// Stage names recorded by the conversation pipeline.
const (
	StageRetrieve = "retrieve_context"
	StageProvider = "provider_call"
	StageTotal    = "request_total"
)

// Answer outcomes tracked by the quality window.
const (
	AnswerKnown    = "answered"
	AnswerFallback = "fallback"
	AnswerFailed   = "failed"
)

type StageStats struct {
	Stage       string  `json:"stage"`
	Samples     int     `json:"samples"`
	LastMS      float64 `json:"last_ms"`
	AvgMS       float64 `json:"avg_ms"`
	P50MS       float64 `json:"p50_ms"`
	P95MS       float64 `json:"p95_ms"`
	P99MS       float64 `json:"p99_ms"`
	TargetP95MS float64 `json:"target_p95_ms,omitempty"`
	OverTarget  bool    `json:"over_target,omitempty"`
}

// AnswerQuality summarizes how the last exchanges ended. Rates are fractions
// of Total.
type AnswerQuality struct {
	Total        int     `json:"total"`
	Answered     int     `json:"answered"`
	Fallback     int     `json:"fallback"`
	Failed       int     `json:"failed"`
	FallbackRate float64 `json:"fallback_rate"`
	FailureRate  float64 `json:"failure_rate"`
}

type StageSnapshot struct {
	GeneratedAt time.Time     `json:"generated_at"`
	WindowSize  int           `json:"window_size"`
	Stages      []StageStats  `json:"stages"`
	Answers     AnswerQuality `json:"answers"`
}

// stageWindow keeps the most recent samples per stage and the most recent
// answer outcomes, both capped at size.
type stageWindow struct {
	mu       sync.Mutex
	size     int
	samples  map[string][]float64
	outcomes []string
}

func newStageWindow(size int) *stageWindow {
	if size <= 0 {
		size = 256
	}
	return &stageWindow{size: size, samples: make(map[string][]float64)}
}

func (w *stageWindow) Observe(stage string, ms float64) {
	if stage == "" || ms < 0 {
		return
	}
	w.mu.Lock()
	w.samples[stage] = pushCapped(w.samples[stage], ms, w.size)
	w.mu.Unlock()
}

func (w *stageWindow) ObserveAnswer(outcome string) {
	switch outcome {
	case AnswerKnown, AnswerFallback, AnswerFailed:
	default:
		return
	}
	w.mu.Lock()
	w.outcomes = pushCapped(w.outcomes, outcome, w.size)
	w.mu.Unlock()
}

func pushCapped[T any](buf []T, v T, size int) []T {
	if len(buf) == size {
		copy(buf, buf[1:])
		buf[len(buf)-1] = v
		return buf
	}
	return append(buf, v)
}

func (w *stageWindow) Snapshot() StageSnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	names := make([]string, 0, len(w.samples))
	for stage := range w.samples {
		names = append(names, stage)
	}
	slices.Sort(names)

	stages := make([]StageStats, 0, len(names))
	for _, stage := range names {
		if st, ok := summarize(stage, w.samples[stage]); ok {
			stages = append(stages, st)
		}
	}

	return StageSnapshot{
		GeneratedAt: time.Now().UTC(),
		WindowSize:  w.size,
		Stages:      stages,
		Answers:     tally(w.outcomes),
	}
}

func summarize(stage string, window []float64) (StageStats, bool) {
	if len(window) == 0 {
		return StageStats{}, false
	}
	sorted := slices.Clone(window)
	slices.Sort(sorted)
	sum := 0.0
	for _, v := range sorted {
		sum += v
	}
	st := StageStats{
		Stage:       stage,
		Samples:     len(sorted),
		LastMS:      round2(window[len(window)-1]),
		AvgMS:       round2(sum / float64(len(sorted))),
		P50MS:       round2(quantile(sorted, 0.50)),
		P95MS:       round2(quantile(sorted, 0.95)),
		P99MS:       round2(quantile(sorted, 0.99)),
		TargetP95MS: stageTargetP95MS(stage),
	}
	st.OverTarget = st.TargetP95MS > 0 && st.P95MS > st.TargetP95MS
	return st, true
}

func tally(outcomes []string) AnswerQuality {
	q := AnswerQuality{Total: len(outcomes)}
	for _, o := range outcomes {
		switch o {
		case AnswerKnown:
			q.Answered++
		case AnswerFallback:
			q.Fallback++
		case AnswerFailed:
			q.Failed++
		}
	}
	if q.Total > 0 {
		q.FallbackRate = round2(float64(q.Fallback) / float64(q.Total))
		q.FailureRate = round2(float64(q.Failed) / float64(q.Total))
	}
	return q
}

// quantile interpolates linearly between the closest ranks of sorted.
func quantile(sorted []float64, q float64) float64 {
	switch {
	case len(sorted) == 0:
		return 0
	case q <= 0:
		return sorted[0]
	case q >= 1:
		return sorted[len(sorted)-1]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	return sorted[lo] + (sorted[hi]-sorted[lo])*(pos-float64(lo))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func stageTargetP95MS(stage string) float64 {
	switch stage {
	case StageRetrieve:
		return 300
	case StageProvider:
		return 8000
	case StageTotal:
		return 9000
	default:
		return 0
	}
}

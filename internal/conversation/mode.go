package conversation

import (
	"strings"

	"github.com/ent0n29/gbu-assistant/internal/failure"
)

// Mode says whether session memory is consulted and updated for a call.
type Mode string

const (
	ModeOn  Mode = "on"
	ModeOff Mode = "off"
)

func ParseMode(raw string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case ModeOn:
		return ModeOn, nil
	case ModeOff:
		return ModeOff, nil
	default:
		return "", failure.Invalid("parse mode", `status must be "on" or "off"`)
	}
}

// Outcome labels how a call ended.
type Outcome string

const (
	OutcomeAnswered Outcome = "answered"
	OutcomeFallback Outcome = "fallback"
	OutcomeCleared  Outcome = "cleared"
	OutcomeFailed   Outcome = "failed"
)

// MemoryCleared is the reply to every memory-off call.
const MemoryCleared = "Memory cleared"

// Result is what every controller entry point returns. Exactly one of Text
// or Err is meaningful: failed results never carry answer text.
type Result struct {
	Text        string
	KnowsAnswer bool
	Outcome     Outcome
	Kind        failure.Kind
	Err         error
}

func (r Result) Failed() bool { return r.Err != nil }

// ErrorMessage is the caller-facing error text, empty on success.
func (r Result) ErrorMessage() string {
	return failure.Message(r.Err)
}

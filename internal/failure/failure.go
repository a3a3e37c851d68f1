// Package failure classifies conversation errors and reports them.
package failure

import (
	"context"
	"errors"
	"fmt"
)

type Kind string

const (
	KindProvider       Kind = "provider_error"
	KindMalformed      Kind = "malformed_response"
	KindSessionState   Kind = "session_state_error"
	KindRetrieval      Kind = "retrieval_error"
	KindInvalidRequest Kind = "invalid_request"
	KindInternal       Kind = "internal_error"
)

// Error tags an underlying error with its kind and the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Invalid builds an InvalidRequest error from a caller-facing message.
func Invalid(op, msg string) error {
	return &Error{Kind: KindInvalidRequest, Op: op, Err: errors.New(msg)}
}

// KindOf returns the kind of the outermost failure.Error in err's chain.
// Bare context errors count as provider failures.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindProvider
	}
	return KindInternal
}

// Message is the caller-facing text for err. Internals are not exposed,
// except for invalid requests where the message is about the caller's input.
func Message(err error) string {
	switch KindOf(err) {
	case "":
		return ""
	case KindInvalidRequest:
		var fe *Error
		if errors.As(err, &fe) && fe.Err != nil {
			return fe.Err.Error()
		}
		return "invalid request"
	case KindProvider:
		if errors.Is(err, context.DeadlineExceeded) {
			return "the language model did not answer in time, please try again"
		}
		return "the language model service is unavailable, please try again later"
	case KindMalformed:
		return "the language model returned an unreadable answer, please try again"
	case KindSessionState:
		return "conversation state error, please turn memory off and retry"
	case KindRetrieval:
		return "could not retrieve context for the query"
	default:
		return "internal error"
	}
}

package enginerr

import (
	"errors"
	"fmt"
)

// Kind classifies engine errors. The kind decides propagation: the evaluator
// and notifier swallow-and-count transient kinds, the executor stops the bot
// run on invariant violations, and only BadCondition and
// InvalidStateTransition reach API callers.
type Kind string

const (
	// KindBadCondition rejects a condition during canonicalization or
	// validation. Returned to the bot-creation caller; no state mutation.
	KindBadCondition Kind = "BAD_CONDITION"

	// KindIndicatorFallback marks an unsupported MA family that fell back to
	// EMA. Warning only; processing continues.
	KindIndicatorFallback Kind = "INDICATOR_FALLBACK"

	// KindTransientStore is a datastore failure retried by the next cycle or
	// tick, never inside the same cycle.
	KindTransientStore Kind = "TRANSIENT_STORE"

	// KindTransientNetwork is a market-data or network failure retried by the
	// next cycle or tick.
	KindTransientNetwork Kind = "TRANSIENT_NETWORK"

	// KindExchangeRejection is an order rejected by the exchange (insufficient
	// balance, invalid filter, throttle). Recorded on the order row; the
	// executor keeps its current state.
	KindExchangeRejection Kind = "EXCHANGE_REJECTION"

	// KindInvariantViolation is fatal for the bot run (e.g. balance
	// conservation breach). Other bots are unaffected.
	KindInvariantViolation Kind = "INVARIANT_VIOLATION"

	// KindInvalidStateTransition rejects a lifecycle action from the wrong
	// status, e.g. pausing an inactive bot. State unchanged.
	KindInvalidStateTransition Kind = "INVALID_STATE_TRANSITION"
)

// EngineError is a categorized error with the component and operation that
// produced it.
type EngineError struct {
	Kind       Kind
	Component  string
	Operation  string
	Message    string
	Underlying error
}

func (e *EngineError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("[%s:%s] %s: %s: %v", e.Kind, e.Component, e.Operation, e.Message, e.Underlying)
	}
	return fmt.Sprintf("[%s:%s] %s: %s", e.Kind, e.Component, e.Operation, e.Message)
}

func (e *EngineError) Unwrap() error { return e.Underlying }

// Is matches two engine errors by kind so callers can use errors.Is with a
// bare-kind sentinel.
func (e *EngineError) Is(target error) bool {
	var t *EngineError
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

// Retryable reports whether the error should be re-attempted on the next
// cycle or tick.
func (e *EngineError) Retryable() bool {
	switch e.Kind {
	case KindTransientStore, KindTransientNetwork:
		return true
	default:
		return false
	}
}

// Fatal reports whether the error terminates the bot run.
func (e *EngineError) Fatal() bool {
	return e.Kind == KindInvariantViolation
}

// UserVisible reports whether the error is surfaced to the API layer. All
// other kinds are observable through metrics and logs only.
func (e *EngineError) UserVisible() bool {
	return e.Kind == KindBadCondition || e.Kind == KindInvalidStateTransition
}

// New creates a categorized engine error.
func New(kind Kind, component, operation, format string, args ...interface{}) *EngineError {
	return &EngineError{
		Kind:      kind,
		Component: component,
		Operation: operation,
		Message:   fmt.Sprintf(format, args...),
	}
}

// Wrap attaches kind and context to an existing error. Returns nil for a nil
// cause so call sites can wrap unconditionally.
func Wrap(err error, kind Kind, component, operation string) *EngineError {
	if err == nil {
		return nil
	}
	return &EngineError{
		Kind:       kind,
		Component:  component,
		Operation:  operation,
		Message:    "operation failed",
		Underlying: err,
	}
}

// Sentinels for errors.Is matching by kind.
var (
	ErrBadCondition           = &EngineError{Kind: KindBadCondition}
	ErrTransientStore         = &EngineError{Kind: KindTransientStore}
	ErrTransientNetwork       = &EngineError{Kind: KindTransientNetwork}
	ErrExchangeRejection      = &EngineError{Kind: KindExchangeRejection}
	ErrInvariantViolation     = &EngineError{Kind: KindInvariantViolation}
	ErrInvalidStateTransition = &EngineError{Kind: KindInvalidStateTransition}
)

// KindOf extracts the kind of an error, or "" when it is not an EngineError.
func KindOf(err error) Kind {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

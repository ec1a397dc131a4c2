package audit

import (
	"errors"
	"fmt"
)

var (
	// ErrChainConflict means the head moved between read and advance.
	// The Recorder retries it internally; callers see it only once retries are exhausted.
	ErrChainConflict = errors.New("audit: chain conflict")

	// ErrChainCorruption means the head advanced but the entry never reached the store.
	// Tamper evidence for the affected chain can no longer be trusted.
	ErrChainCorruption = errors.New("audit: chain corruption")

	// ErrRecordDelivery covers timeouts, unreachable coordination stores and
	// sink failures.
	ErrRecordDelivery = errors.New("audit: record delivery failure")

	ErrInvalidEvent = errors.New("audit: invalid event")
	ErrDisabled     = errors.New("audit: subsystem disabled")
)

// RecordError carries the failure class together with the chain it hit.
// errors.Is matches both the class and the underlying cause.
type RecordError struct {
	Kind     error
	ChainID  string
	Attempts int
	Err      error
}

func (e *RecordError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%v (chain=%s attempts=%d)", e.Kind, e.ChainID, e.Attempts)
	}
	return fmt.Sprintf("%v (chain=%s attempts=%d): %v", e.Kind, e.ChainID, e.Attempts, e.Err)
}

func (e *RecordError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// reason is the metric label for a failure class.
func reason(kind error) string {
	switch {
	case errors.Is(kind, ErrChainConflict):
		return "conflict_exhausted"
	case errors.Is(kind, ErrChainCorruption):
		return "corruption"
	case errors.Is(kind, ErrInvalidEvent):
		return "invalid"
	case errors.Is(kind, ErrDisabled):
		return "disabled"
	default:
		return "delivery"
	}
}

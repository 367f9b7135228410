package appointment

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("appointment not found")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrStaleState        = errors.New("stale state")
	ErrMissingReason     = errors.New("reason is required")
	ErrNotEligible       = errors.New("not eligible")
	ErrNotPermitted      = errors.New("not permitted")
	ErrInvalidInput      = errors.New("invalid input")
	ErrStoreUnavailable  = errors.New("appointment store unavailable")
)

// StaleStateError reports the status found when the expected one was not.
// It matches ErrStaleState under errors.Is.
type StaleStateError struct {
	Expected Status
	Current  Status
}

func (e *StaleStateError) Error() string {
	if e.Expected == "" {
		return fmt.Sprintf("stale state: appointment is already %s", e.Current)
	}
	return fmt.Sprintf("stale state: expected %s, appointment is now %s", e.Expected, e.Current)
}

func (e *StaleStateError) Is(target error) bool {
	return target == ErrStaleState
}

// TransitionError reports a refused edge. It matches ErrInvalidTransition.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition from %s to %s", e.From, e.To)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrStoreUnavailable, err)
}

// resultLabel names an outcome for metrics.
func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrStaleState):
		return "stale_state"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrMissingReason):
		return "missing_reason"
	case errors.Is(err, ErrNotEligible):
		return "not_eligible"
	case errors.Is(err, ErrNotPermitted):
		return "not_permitted"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrStoreUnavailable):
		return "store_unavailable"
	default:
		return "error"
	}
}

func errorsIsAny(err error, targets ...error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}

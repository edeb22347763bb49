package capability

import "fmt"

// UnknownCapabilityError is returned when a plan references a (skill, action)
// pair with no registered handler. It is fatal at validation time.
type UnknownCapabilityError struct {
	Skill  string
	Action string
}

func (e *UnknownCapabilityError) Error() string {
	return fmt.Sprintf("unknown capability: %s/%s", e.Skill, e.Action)
}

// Error is the failure a handler reports for a single step. Reason is
// machine readable; Retryable marks the failure as eligible for one bounded
// automatic retry before surfacing to the engine's failure policy.
type Error struct {
	Reason    string
	Retryable bool
	Cause     error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("capability error (%s): %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("capability error (%s)", e.Reason)
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *Error) Unwrap() error { return e.Cause }

// Errorf builds a non-retryable *Error with a formatted reason.
func Errorf(reason string, args ...any) *Error {
	return &Error{Reason: fmt.Sprintf(reason, args...)}
}

// Retryablef builds a retryable *Error with a formatted reason.
func Retryablef(reason string, args ...any) *Error {
	return &Error{Reason: fmt.Sprintf(reason, args...), Retryable: true}
}

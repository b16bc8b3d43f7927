// Package relayerr classifies relay-fabric errors per the taxonomy in
// spec.md §7, so callers can branch with errors.Is instead of string
// matching.
package relayerr

import "errors"

// Kind is a coarse error classification.
type Kind int

const (
	KindUnknown Kind = iota
	// KindPolicyViolation closes the offending stream.
	KindPolicyViolation
	// KindBusTimeout is reported back to the bus requester.
	KindBusTimeout
	// KindNotFound means the target client is not attached anywhere reachable.
	KindNotFound
	// KindTransient is retried by the caller (bus publish, registry write, dial).
	KindTransient
)

// Error wraps an underlying error with a Kind and a human-readable reason.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Reason + ": " + e.Err.Error()
	}
	return e.Reason
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a classified error.
func New(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

// Wrap classifies an existing error.
func Wrap(kind Kind, reason string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}

// PolicyViolation builds a stream-closing error with the given reason.
func PolicyViolation(reason string) *Error {
	return New(KindPolicyViolation, reason)
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind == kind
	}
	return false
}

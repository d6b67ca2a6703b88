// Package fault carries the error taxonomy shared by the impulse and
// request services. Every failure returned to a caller is a *Error with a
// Kind the transport layer can map to a status, and an operation.reason
// code for logs.
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for callers that need to branch on it.
type Kind int

const (
	// KindUnknown is the zero value; used for wrapped errors that carry no kind.
	KindUnknown Kind = iota
	// KindValidation marks malformed input (message or coordinate out of bounds).
	KindValidation
	// KindNotFound marks a referenced impulse, venue, or request that is absent.
	KindNotFound
	// KindPermission marks an actor lacking rights for a mutation.
	KindPermission
	// KindSelfJoin marks an owner trying to join their own impulse.
	KindSelfJoin
	// KindInvalidState marks an attempt to resolve an already-resolved request.
	KindInvalidState
	// KindTimeout marks a downstream dependency exceeding its deadline.
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindPermission:
		return "permission"
	case KindSelfJoin:
		return "self_join"
	case KindInvalidState:
		return "invalid_state"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Error is a classified service failure with a stable code.
type Error struct {
	kind Kind
	code string
	err  error
}

// New builds an Error whose code is "<operation>.<reason>".
func New(kind Kind, operation, reason string, cause error) *Error {
	return &Error{
		kind: kind,
		code: fmt.Sprintf("%s.%s", operation, reason),
		err:  cause,
	}
}

func (e *Error) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *Error) Unwrap() error {
	return e.err
}

// Kind returns the classification of the failure.
func (e *Error) Kind() Kind {
	return e.kind
}

// Code returns the stable operation.reason code.
func (e *Error) Code() string {
	return e.code
}

// KindOf extracts the Kind from err, or KindUnknown when err carries none.
func KindOf(err error) Kind {
	var fault *Error
	if errors.As(err, &fault) {
		return fault.kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given Kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

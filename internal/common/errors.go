package common

import (
	"errors"
	"sync"
)

// Kind classifies an error by how callers are expected to react to it
type Kind int

const (
	KindInternal   Kind = iota // Unexpected failure
	KindValidation             // Bad caller input, never retried automatically
	KindConflict               // Expected protocol race (duplicate, already resolved)
	KindTransport              // Connectivity failure, recovered by reconnecting
)

// String returns the wire name of the kind
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindTransport:
		return "transport"
	default:
		return "internal"
	}
}

// ParseKind is the inverse of Kind.String. Unknown names map to KindInternal.
func ParseKind(s string) Kind {
	for _, k := range []Kind{KindValidation, KindConflict, KindTransport} {
		if k.String() == s {
			return k
		}
	}
	return KindInternal
}

// Error is a coded error. Two errors are equal under errors.Is when their codes match.
type Error struct {
	Kind Kind
	Code string
	Msg  string
}

// NewError creates a coded error without registering it
func NewError(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Msg: msg}
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Code
	}
	return e.Code + ": " + e.Msg
}

// Is reports whether target carries the same code
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// causeError tags a cause with a coded error. Both stay visible to errors.Is and errors.As.
type causeError struct {
	code  *Error
	cause error
}

// WithCause returns an error matching code under errors.Is while keeping cause in the chain
func WithCause(code *Error, cause error) error {
	if cause == nil {
		return code
	}
	return &causeError{code: code, cause: cause}
}

func (e *causeError) Error() string {
	return e.code.Error() + ": " + e.cause.Error()
}

func (e *causeError) Unwrap() []error {
	return []error{e.code, e.cause}
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]*Error)
)

// Register creates a coded error and records it so it can be rebuilt from its code
func Register(kind Kind, code, msg string) *Error {
	e := NewError(kind, code, msg)

	registryMu.Lock()
	defer registryMu.Unlock()
	registry[code] = e

	return e
}

// Lookup returns the registered error for code
func Lookup(code string) (*Error, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	e, ok := registry[code]
	return e, ok
}

// KindOf returns the kind of the first coded error in err's chain
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindInternal
}

// CodeOf returns the code of the first coded error in err's chain, or "internal_error"
func CodeOf(err error) string {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ErrInternalCode
}

// IsConflict reports whether err is an expected protocol conflict
func IsConflict(err error) bool {
	return err != nil && KindOf(err) == KindConflict
}

const ErrInternalCode = "internal_error"

var (
	// ErrTransport marks subscription and HTTP failures
	ErrTransport = Register(KindTransport, "transport_failure", "transport failure")

	// ErrInvalidAmount is returned for negative, zero or malformed amounts
	ErrInvalidAmount = Register(KindValidation, "invalid_amount", "amount must be positive")

	// ErrUnauthorized is returned when the caller may not perform the operation
	ErrUnauthorized = Register(KindValidation, "unauthorized", "caller is not allowed to perform this operation")
)

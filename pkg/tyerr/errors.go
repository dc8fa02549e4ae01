// Package tyerr defines the error-kind taxonomy shared by every TyTools
// subsystem, so callers can classify a failure (missing capability, board
// gone, bad firmware, ...) without depending on a particular package's
// concrete error types.
package tyerr

import "fmt"

// Kind classifies the nature of a failure, independent of which package
// raised it.
type Kind int

const (
	KindOther Kind = iota
	KindMemory
	KindParam
	KindRange
	KindMode
	KindNotFound
	KindIO
	KindAccess
	KindBusy
	KindFirmware
)

func (k Kind) String() string {
	switch k {
	case KindMemory:
		return "memory"
	case KindParam:
		return "param"
	case KindRange:
		return "range"
	case KindMode:
		return "mode"
	case KindNotFound:
		return "not_found"
	case KindIO:
		return "io"
	case KindAccess:
		return "access"
	case KindBusy:
		return "busy"
	case KindFirmware:
		return "firmware"
	default:
		return "other"
	}
}

// Error pairs a Kind with a message and an optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New builds an *Error with no wrapped cause.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error that carries cause as its Unwrap target.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Is reports whether err (or anything it wraps) is a *Error of the given
// Kind.
func Is(err error, kind Kind) bool {
	for err != nil {
		if te, ok := err.(*Error); ok {
			if te.Kind == kind {
				return true
			}
			err = te.Cause
			continue
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// KindOf returns the Kind of err if it (or something it wraps) is a
// *Error, and KindOther otherwise.
func KindOf(err error) Kind {
	for err != nil {
		if te, ok := err.(*Error); ok {
			return te.Kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return KindOther
		}
		err = u.Unwrap()
	}
	return KindOther
}

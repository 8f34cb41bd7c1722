package remote

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a failed remote call.
type Kind uint8

const (
	KindOK Kind = iota
	// KindForbidden means the caller is no longer allowed to see the
	// requested team or channel, typically because membership was revoked.
	KindForbidden
	KindUnauthorized
	KindNotFound
	KindTransient
	KindUnknown
)

func (k Kind) String() string {
	switch k {
	case KindOK:
		return "ok"
	case KindForbidden:
		return "forbidden"
	case KindUnauthorized:
		return "unauthorized"
	case KindNotFound:
		return "not_found"
	case KindTransient:
		return "transient"
	default:
		return "unknown"
	}
}

// Error is a classified remote failure.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err with a kind and the name of the failing operation.
func NewError(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf classifies err. Unclassified errors are KindUnknown, except context
// deadline and cancellation which count as transient.
func KindOf(err error) Kind {
	if err == nil {
		return KindOK
	}
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTransient
	}
	return KindUnknown
}

// IsForbidden reports whether err means access to the resource was revoked.
func IsForbidden(err error) bool { return KindOf(err) == KindForbidden }

// IsUnauthorized reports whether err means the session is no longer valid.
func IsUnauthorized(err error) bool { return KindOf(err) == KindUnauthorized }

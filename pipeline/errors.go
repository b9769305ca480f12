package pipeline

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindConfiguration Kind = iota + 1
	KindDevice
	KindService
	KindDelivery
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindDevice:
		return "device"
	case KindService:
		return "service"
	case KindDelivery:
		return "delivery"
	case KindTimeout:
		return "timeout"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is a failure surfaced to the user. It wraps the underlying cause.
type Error struct {
	Kind      Kind
	SessionID uint64
	Err       error
}

func (e *Error) Error() string {
	if e.SessionID == 0 {
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s error (session %d): %v", e.Kind, e.SessionID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err with kind unless err already carries a kind.
func NewError(kind Kind, id uint64, err error) *Error {
	var pe *Error
	if errors.As(err, &pe) {
		out := *pe
		if out.SessionID == 0 {
			out.SessionID = id
		}
		return &out
	}
	return &Error{Kind: kind, SessionID: id, Err: err}
}

// Reporter receives every pipeline failure.
type Reporter interface {
	Report(*Error)
}

type ReporterFunc func(*Error)

func (f ReporterFunc) Report(e *Error) { f(e) }

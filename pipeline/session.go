package pipeline

import (
	"errors"
	"time"
)

type Status int

const (
	StatusActive Status = iota
	StatusCompleted
	StatusAborted
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusCompleted:
		return "completed"
	case StatusAborted:
		return "aborted"
	case StatusFailed:
		return "failed"
	}
	return "unknown"
}

// Session is one press-to-release recording.
type Session struct {
	ID        uint64
	Tag       string // uuid sent to the vendor for correlation
	Path      string
	StartedAt time.Time
	EndedAt   time.Time
	Status    Status
}

// Duration is zero until the session is stopped.
func (s Session) Duration() time.Duration {
	if s.EndedAt.IsZero() {
		return 0
	}
	return s.EndedAt.Sub(s.StartedAt)
}

// Result is the outcome of transcribing one session. A nil Err means Text
// is the transcript, even when empty.
type Result struct {
	SessionID uint64
	Text      string
	Err       error
}

var errNoCause = errors.New("transcription failed")

func TextResult(id uint64, text string) Result {
	return Result{SessionID: id, Text: text}
}

func ErrorResult(id uint64, err error) Result {
	if err == nil {
		err = errNoCause
	}
	return Result{SessionID: id, Err: err}
}

func (r Result) OK() bool { return r.Err == nil }

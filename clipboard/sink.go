package clipboard

import (
	"context"
	"fmt"
	"time"

	cb "github.com/atotto/clipboard"
)

// Read returns the clipboard text.
func Read() (string, error) { return cb.ReadAll() }

// Copy replaces the clipboard text.
func Copy(text string) error { return cb.WriteAll(text) }

const DefaultRestoreDelay = 300 * time.Millisecond

// Sink places a transcript on the clipboard and optionally pastes it.
type Sink struct {
	AutoPaste bool
	// Restore puts the previous clipboard text back after pasting.
	Restore      bool
	RestoreDelay time.Duration

	copy  func(string) error
	read  func() (string, error)
	paste func() error
}

func NewSink(autoPaste, restore bool) *Sink {
	return &Sink{
		AutoPaste:    autoPaste,
		Restore:      restore,
		RestoreDelay: DefaultRestoreDelay,
		copy:         Copy,
		read:         Read,
		paste:        Paste,
	}
}

func (s *Sink) Deliver(ctx context.Context, text string) error {
	var prev string
	restore := s.Restore && s.AutoPaste
	if restore {
		var err error
		if prev, err = s.read(); err != nil {
			restore = false
		}
	}

	if err := s.copy(text); err != nil {
		return fmt.Errorf("clipboard copy: %w", err)
	}
	if !s.AutoPaste {
		return nil
	}
	if err := s.paste(); err != nil {
		return fmt.Errorf("paste keystroke: %w", err)
	}
	if !restore {
		return nil
	}

	// The target app reads the clipboard some time after the keystroke.
	select {
	case <-time.After(s.RestoreDelay):
	case <-ctx.Done():
	}
	if err := s.copy(prev); err != nil {
		return fmt.Errorf("clipboard restore: %w", err)
	}
	return nil
}

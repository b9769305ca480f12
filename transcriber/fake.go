package transcriber

import (
	"context"
	"sync"
	"time"
)

// FakeTranscriber returns a canned reply after an optional delay.
type FakeTranscriber struct {
	Text  string
	Err   error
	Delay time.Duration

	mu       sync.Mutex
	requests []Request
}

func NewFake(text string, err error) *FakeTranscriber {
	return &FakeTranscriber{Text: text, Err: err}
}

func (f *FakeTranscriber) Name() string { return "fake" }

func (f *FakeTranscriber) Transcribe(ctx context.Context, r Request) (*Result, error) {
	f.mu.Lock()
	f.requests = append(f.requests, r)
	f.mu.Unlock()

	if f.Delay > 0 {
		select {
		case <-time.After(f.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.Err != nil {
		return nil, f.Err
	}
	return &Result{
		Text:     f.Text,
		Metrics:  &NetworkMetrics{Total: f.Delay},
		Duration: 1.0,
	}, nil
}

// Requests returns a copy of every request seen so far.
func (f *FakeTranscriber) Requests() []Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Request(nil), f.requests...)
}

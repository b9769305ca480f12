package job

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"wavetalk/encoder"
	"wavetalk/log"
	"wavetalk/pipeline"
	"wavetalk/transcriber"
)

type Options struct {
	Language    string
	Model       string
	SmartFormat bool
	// ContentType labels the upload. Empty falls back to a guess from the
	// capture file's extension.
	ContentType string
	Timeout     time.Duration
	// Retries is the number of extra attempts after a network error or a
	// 5xx/429 reply.
	Retries int
	Backoff time.Duration
}

// InProcess transcribes on a worker goroutine.
type InProcess struct {
	t    transcriber.Transcriber
	opts Options
}

func NewInProcess(t transcriber.Transcriber, opts Options) *InProcess {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Backoff <= 0 {
		opts.Backoff = DefaultBackoff
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	return &InProcess{t: t, opts: opts}
}

func (r *InProcess) Submit(ctx context.Context, s pipeline.Session) <-chan pipeline.Result {
	out := make(chan pipeline.Result, 1)
	go func() { deliver(out, r.run(ctx, s)) }()
	return out
}

func (r *InProcess) run(parent context.Context, s pipeline.Session) pipeline.Result {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return pipeline.ErrorResult(s.ID, pipeline.NewError(pipeline.KindDevice, s.ID, fmt.Errorf("read capture: %w", err)))
	}

	ctx, cancel := context.WithTimeout(parent, r.opts.Timeout)
	defer cancel()

	req := transcriber.Request{
		Audio:       data,
		ContentType: r.contentType(s.Path),
		Language:    r.opts.Language,
		Model:       r.opts.Model,
		SmartFormat: r.opts.SmartFormat,
		Tag:         s.Tag,
	}

	var res *transcriber.Result
	attempts := 0
	for {
		attempts++
		res, err = r.t.Transcribe(ctx, req)
		if err == nil || attempts > r.opts.Retries || !retryable(err) {
			break
		}
		wait := r.opts.Backoff << (attempts - 1)
		log.Warnf("session %d: attempt %d failed, retrying in %v: %v", s.ID, attempts, wait, err)
		if serr := sleepCtx(ctx, wait); serr != nil {
			err = errors.Join(err, serr)
			break
		}
	}
	if err != nil {
		timedOut := errors.Is(ctx.Err(), context.DeadlineExceeded) && parent.Err() == nil
		return pipeline.ErrorResult(s.ID, classify(s.ID, err, timedOut))
	}

	logMetrics(s, r.t.Name(), req, res, attempts)
	return pipeline.TextResult(s.ID, res.Text)
}

func (r *InProcess) contentType(path string) string {
	if r.opts.ContentType != "" {
		return r.opts.ContentType
	}
	return encoder.ContentTypeForPath(path)
}

func logMetrics(s pipeline.Session, provider string, req transcriber.Request, res *transcriber.Result, attempts int) {
	m := log.Metrics{
		SessionID: s.ID,
		Attempts:  attempts,
		AudioS:    res.Duration,
		UploadKB:  float64(len(req.Audio)) / 1024,
	}
	var reused bool
	var proto string
	if nm := res.Metrics; nm != nil {
		m.DNSTimeMs = float64(nm.DNS) / float64(time.Millisecond)
		m.TLSTimeMs = float64(nm.TLS) / float64(time.Millisecond)
		m.TTFBMs = float64(nm.TTFB) / float64(time.Millisecond)
		m.TotalTimeMs = float64(nm.Total) / float64(time.Millisecond)
		reused = nm.ConnReused
		proto = nm.TLSProtocol
	}
	log.TranscriptionMetrics(m, provider, req.ContentType, reused, proto)
	log.Confidence(res.Confidence)
}

// Package job runs the encode-and-transcribe step for a stopped session,
// either in this process or in a child process.
package job

import (
	"context"
	"errors"
	"net"
	"time"

	"wavetalk/pipeline"
	"wavetalk/transcriber"
)

const (
	DefaultTimeout = 30 * time.Second
	DefaultBackoff = 500 * time.Millisecond
)

// classify maps a transcription failure onto a pipeline error kind.
// timedOut reports whether the job's own deadline fired.
func classify(id uint64, err error, timedOut bool) *pipeline.Error {
	switch {
	case errors.Is(err, transcriber.ErrMissingCredential):
		return pipeline.NewError(pipeline.KindConfiguration, id, err)
	case timedOut:
		return pipeline.NewError(pipeline.KindTimeout, id, err)
	}
	return pipeline.NewError(pipeline.KindService, id, err)
}

// retryable reports whether a fresh attempt could succeed.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *transcriber.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func deliver(out chan<- pipeline.Result, r pipeline.Result) {
	out <- r
	close(out)
}

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"wavetalk/config"
	"wavetalk/job"
	"wavetalk/log"
	"wavetalk/pipeline"
	"wavetalk/transcriber"
)

// runTranscribe implements "wavetalk transcribe <file>": the transcript goes
// to stdout, any failure to stderr with exit status 1.
func runTranscribe(ctx context.Context, cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	if len(args) != 1 {
		fmt.Fprintln(stderr, "Usage: wavetalk transcribe <audio-file>")
		return 1
	}
	if err := transcriber.CheckCredential(cfg.Provider, cfg.APIKey()); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	t, err := transcriber.New(cfg.Provider, cfg.APIKey())
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	if err := log.Init(); err == nil {
		defer log.Close()
	}

	tag := os.Getenv(job.EnvTag)
	s := pipeline.Session{ID: 1, Tag: tag, Path: args[0], StartedAt: time.Now(), Status: pipeline.StatusActive}
	r := <-job.NewInProcess(t, jobOptions(cfg)).Submit(ctx, s)
	if r.Err != nil {
		fmt.Fprintln(stderr, r.Err)
		return 1
	}
	fmt.Fprintln(stdout, r.Text)
	return 0
}

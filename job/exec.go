package job

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"wavetalk/pipeline"
	"wavetalk/transcriber"
)

// EnvTag carries the session tag to the transcribe subcommand.
const EnvTag = "WAVETALK_TAG"

// Exec runs "<Path> [Args...] transcribe <file>" per session. The child
// prints the transcript on stdout and exits 1 on failure.
type Exec struct {
	Path    string
	Args    []string
	Env     []string
	Timeout time.Duration
}

// NewExec re-executes the running binary.
func NewExec(args []string, timeout time.Duration) (*Exec, error) {
	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locate executable: %w", err)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Exec{Path: self, Args: args, Timeout: timeout}, nil
}

func (e *Exec) Submit(ctx context.Context, s pipeline.Session) <-chan pipeline.Result {
	out := make(chan pipeline.Result, 1)
	go func() { deliver(out, e.run(ctx, s)) }()
	return out
}

func (e *Exec) run(parent context.Context, s pipeline.Session) pipeline.Result {
	timeout := e.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	args := append(append([]string(nil), e.Args...), "transcribe", s.Path)
	cmd := exec.CommandContext(ctx, e.Path, args...)
	cmd.Env = append(append(os.Environ(), e.Env...), EnvTag+"="+s.Tag)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		timedOut := errors.Is(ctx.Err(), context.DeadlineExceeded) && parent.Err() == nil
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		cause := fmt.Errorf("transcribe subprocess: %s", msg)
		if strings.Contains(msg, transcriber.ErrMissingCredential.Error()) {
			cause = fmt.Errorf("transcribe subprocess: %w", transcriber.ErrMissingCredential)
		}
		if timedOut {
			cause = fmt.Errorf("transcribe subprocess: %w", context.DeadlineExceeded)
		}
		return pipeline.ErrorResult(s.ID, classify(s.ID, cause, timedOut))
	}
	return pipeline.TextResult(s.ID, strings.TrimRight(stdout.String(), "\r\n"))
}

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"wavetalk/audio"
	"wavetalk/clipboard"
	"wavetalk/config"
	"wavetalk/encoder"
	"wavetalk/hotkey"
	"wavetalk/pipeline"
)

const waitTimeout = 60 * time.Second

// syncWriter serializes writes from the harness, the sink and the reporter.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(b []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(b)
}

// echoSink prints each transcript before handing it to the clipboard.
type echoSink struct {
	out  io.Writer
	next pipeline.Sink
}

func (s *echoSink) Deliver(ctx context.Context, text string) error {
	fmt.Fprintf(s.out, "transcript: %q\n", text)
	if s.next == nil {
		return nil
	}
	return s.next.Deliver(ctx, text)
}

// runTestMode replays wavPath as the microphone and reads hotkey commands
// from in, one per line: KEYDOWN, KEYUP, WAIT, WAIT_AUDIO_DONE, SLEEP <ms>,
// STATE and QUIT.
func runTestMode(ctx context.Context, cfg *config.Config, wavPath string, in io.Reader, w io.Writer) int {
	out := &syncWriter{w: w}
	fakeCtx, err := audio.NewFakeContext(wavPath, true)
	if err != nil {
		fmt.Fprintf(out, "Error loading WAV: %v\n", err)
		return 1
	}
	capture, err := fakeCtx.NewCapture(nil, audio.CaptureConfig{
		SampleRate: encoder.SampleRate,
		Channels:   encoder.Channels,
	})
	if err != nil {
		fmt.Fprintf(out, "Error creating capture: %v\n", err)
		return 1
	}
	defer capture.Close()
	fake := capture.(*audio.FakeCapture)

	service, t, err := buildService(cfg)
	if err != nil {
		reportStartup(out, err)
		return 1
	}
	if t != nil {
		warm(t)
	}

	var next pipeline.Sink
	if cfg.AutoPaste || cfg.RestoreClipboard {
		next = clipboard.NewSink(cfg.AutoPaste, cfg.RestoreClipboard)
	}
	sink := &echoSink{out: out, next: next}

	rec := audio.NewRecorder(capture, cfg.Format)
	p := pipeline.New(pipelineOptions(cfg, rec.DeviceName()), rec, service, sink, newReporter(out))

	hk := hotkey.NewFake()
	l := hotkey.NewListener(hk)
	events, err := l.Subscribe()
	if err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return 1
	}
	defer l.Close()
	go drive(events, p)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	runDone := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(runDone)
	}()

	code := runCommands(in, out, p, hk, fake)
	cancel()
	<-runDone
	return code
}

func runCommands(in io.Reader, out io.Writer, p *pipeline.Pipeline, hk *hotkey.FakeHotkey, fake *audio.FakeCapture) int {
	var seen uint64
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		cmd := strings.TrimSpace(scanner.Text())
		switch {
		case cmd == "":
		case cmd == "KEYDOWN":
			hk.SimKeydown()
		case cmd == "KEYUP":
			hk.SimKeyup()
		case cmd == "WAIT":
			var ok bool
			if seen, ok = waitSession(p, seen, waitTimeout); !ok {
				fmt.Fprintln(out, "Error: timed out waiting for session")
				return 1
			}
		case cmd == "WAIT_AUDIO_DONE":
			select {
			case <-fake.AudioDone():
			case <-time.After(waitTimeout):
				fmt.Fprintln(out, "Error: timed out waiting for audio")
				return 1
			}
		case cmd == "STATE":
			snap := p.Snapshot()
			fmt.Fprintf(out, "state: %s session=%d last=%d/%s\n", snap.State, snap.SessionID, snap.Last.ID, snap.Last.Status)
		case cmd == "QUIT":
			return 0
		case strings.HasPrefix(cmd, "SLEEP "):
			if ms, err := strconv.Atoi(strings.TrimSpace(cmd[6:])); err == nil {
				time.Sleep(time.Duration(ms) * time.Millisecond)
			}
		default:
			fmt.Fprintf(out, "unknown command %q\n", cmd)
		}
	}
	return 0
}

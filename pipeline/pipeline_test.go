package pipeline

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"wavetalk/audio"
	"wavetalk/log"
)

func TestPushToTalkDeliversTranscript(t *testing.T) {
	h := newHarness(t)
	h.run(t)

	h.p.Start()
	waitFor(t, "recording", func() bool { return h.p.Snapshot().State == Recording })
	time.Sleep(20 * time.Millisecond)
	h.p.Stop()
	waitFor(t, "idle", h.settled)

	if got := h.sink.delivered(); len(got) != 1 || got[0] != "hello" {
		t.Fatalf("delivered = %q, want [hello]", got)
	}
	if errs := h.reporter.reported(); len(errs) != 0 {
		t.Errorf("unexpected errors: %v", errs)
	}
	last := h.p.Snapshot().Last
	if last.Status != StatusCompleted || last.ID != 1 || last.Tag == "" {
		t.Errorf("last session = %+v", last)
	}
	if last.Duration() < 20*time.Millisecond {
		t.Errorf("duration = %v", last.Duration())
	}
}

func TestEmptyTranscriptIsDelivered(t *testing.T) {
	h := newHarness(t)
	h.service.reply = func(s Session) Result { return TextResult(s.ID, "") }
	h.run(t)

	h.p.Start()
	h.p.Stop()
	waitFor(t, "idle", h.settled)

	if got := h.sink.delivered(); len(got) != 1 || got[0] != "" {
		t.Fatalf("delivered = %q, want one empty string", got)
	}
	if errs := h.reporter.reported(); len(errs) != 0 {
		t.Errorf("unexpected errors: %v", errs)
	}
}

func TestServiceFailureSkipsDelivery(t *testing.T) {
	netErr := errors.New("dial tcp: i/o timeout")
	h := newHarness(t)
	h.service.reply = func(s Session) Result { return ErrorResult(s.ID, netErr) }
	h.run(t)

	h.p.Start()
	h.p.Stop()
	waitFor(t, "idle", h.settled)

	if got := h.sink.delivered(); len(got) != 0 {
		t.Errorf("sink called with %q", got)
	}
	errs := h.reporter.reported()
	if len(errs) != 1 {
		t.Fatalf("got %d errors, want 1", len(errs))
	}
	if errs[0].Kind != KindService || errs[0].SessionID != 1 || !errors.Is(errs[0], netErr) {
		t.Errorf("error = %v", errs[0])
	}
	if st := h.p.Snapshot().Last.Status; st != StatusFailed {
		t.Errorf("status = %v, want failed", st)
	}
}

func TestSecondStartWhileRecordingIsNoop(t *testing.T) {
	h := newHarness(t)
	h.run(t)

	h.p.Start()
	h.p.Start()
	h.p.Stop()
	waitFor(t, "idle", h.settled)

	if starts, _, overlaps := h.capture.counts(); starts != 1 || overlaps != 0 {
		t.Errorf("starts = %d overlaps = %d, want 1 and 0", starts, overlaps)
	}
	if n := len(h.service.submitted()); n != 1 {
		t.Errorf("submitted %d sessions, want 1", n)
	}
}

func TestConfigurationErrorKeepsKind(t *testing.T) {
	cause := errors.New("missing API key")
	h := newHarness(t)
	h.service.reply = func(s Session) Result {
		return ErrorResult(s.ID, &Error{Kind: KindConfiguration, Err: cause})
	}
	h.run(t)

	h.p.Start()
	h.p.Stop()
	waitFor(t, "idle", h.settled)

	errs := h.reporter.reported()
	if len(errs) != 1 || errs[0].Kind != KindConfiguration || errs[0].SessionID != 1 {
		t.Fatalf("errors = %v", errs)
	}
	if !errors.Is(errs[0], cause) {
		t.Errorf("cause not wrapped: %v", errs[0])
	}
}

func TestTimeoutErrorKind(t *testing.T) {
	h := newHarness(t)
	h.service.reply = func(s Session) Result {
		return ErrorResult(s.ID, NewError(KindTimeout, s.ID, context.DeadlineExceeded))
	}
	h.run(t)

	h.p.Start()
	h.p.Stop()
	waitFor(t, "idle", h.settled)

	errs := h.reporter.reported()
	if len(errs) != 1 || errs[0].Kind != KindTimeout || !errors.Is(errs[0], context.DeadlineExceeded) {
		t.Fatalf("errors = %v", errs)
	}
}

func TestStopWhileIdleIsNoop(t *testing.T) {
	h := newHarness(t)
	h.run(t)

	h.p.Stop()
	h.p.Stop()
	waitFor(t, "queue drained", h.settled)

	if starts, stops, _ := h.capture.counts(); starts != 0 || stops != 0 {
		t.Errorf("capture touched: starts=%d stops=%d", starts, stops)
	}
	if n := len(h.service.submitted()); n != 0 {
		t.Errorf("submitted %d sessions", n)
	}
}

func TestCaptureStartFailure(t *testing.T) {
	h := newHarness(t)
	h.capture.startErr = audio.ErrPermissionDenied
	h.run(t)

	h.p.Start()
	h.p.Stop()
	waitFor(t, "queue drained", h.settled)

	errs := h.reporter.reported()
	if len(errs) != 1 || errs[0].Kind != KindDevice || !errors.Is(errs[0], audio.ErrPermissionDenied) {
		t.Fatalf("errors = %v", errs)
	}
	if h.p.IsRecording() {
		t.Error("still recording")
	}
	if n := len(h.service.submitted()); n != 0 {
		t.Errorf("submitted %d sessions", n)
	}
}

func TestCaptureStopFailure(t *testing.T) {
	h := newHarness(t)
	h.capture.stopErr = errors.New("device unplugged")
	h.run(t)

	h.p.Start()
	h.p.Stop()
	waitFor(t, "idle", h.settled)

	errs := h.reporter.reported()
	if len(errs) != 1 || errs[0].Kind != KindDevice {
		t.Fatalf("errors = %v", errs)
	}
	if n := len(h.service.submitted()); n != 0 {
		t.Errorf("submitted %d sessions", n)
	}
}

func TestDeliveryFailureCompletesSession(t *testing.T) {
	h := newHarness(t)
	h.sink.err = errors.New("no display")
	h.run(t)

	h.p.Start()
	h.p.Stop()
	waitFor(t, "idle", h.settled)

	errs := h.reporter.reported()
	if len(errs) != 1 || errs[0].Kind != KindDelivery {
		t.Fatalf("errors = %v", errs)
	}
	if st := h.p.Snapshot().Last.Status; st != StatusCompleted {
		t.Errorf("status = %v, want completed", st)
	}
}

func TestServiceWithoutResult(t *testing.T) {
	h := newHarness(t)
	h.service.closeRaw = true
	h.run(t)

	h.p.Start()
	h.p.Stop()
	waitFor(t, "idle", h.settled)

	errs := h.reporter.reported()
	if len(errs) != 1 || errs[0].Kind != KindService {
		t.Fatalf("errors = %v", errs)
	}
}

func TestStartWhileProcessingIsIgnored(t *testing.T) {
	h := newHarness(t)
	h.service.gate = make(chan struct{})
	h.run(t)

	h.p.Start()
	h.p.Stop()
	waitFor(t, "processing", func() bool { return h.p.Snapshot().State == Processing })

	h.p.Start()
	h.p.Stop()
	time.Sleep(10 * time.Millisecond)
	if snap := h.p.Snapshot(); snap.State != Processing || snap.SessionID != 1 {
		t.Fatalf("snapshot = %+v, want processing session 1", snap)
	}
	if starts, _, _ := h.capture.counts(); starts != 1 {
		t.Errorf("starts = %d, want 1", starts)
	}

	h.service.gate <- struct{}{}
	waitFor(t, "idle", h.settled)

	// A fresh press after returning to idle records again.
	h.p.Start()
	h.p.Stop()
	h.service.gate <- struct{}{}
	waitFor(t, "idle", h.settled)
	if got := h.sink.delivered(); len(got) != 2 {
		t.Errorf("delivered %d transcripts, want 2", len(got))
	}
}

func TestStaleResultIgnored(t *testing.T) {
	h := newHarness(t)
	h.service.reply = func(s Session) Result { return TextResult(s.ID+41, "ghost") }
	h.run(t)

	h.p.Start()
	h.p.Stop()
	waitFor(t, "processing", func() bool { return h.p.Snapshot().State == Processing })
	time.Sleep(20 * time.Millisecond)

	if st := h.p.Snapshot().State; st != Processing {
		t.Fatalf("state = %v, want processing", st)
	}
	if got := h.sink.delivered(); len(got) != 0 {
		t.Errorf("stale result delivered: %q", got)
	}

	h.shutdown()
	if st := h.p.Snapshot().Last.Status; st != StatusAborted {
		t.Errorf("status = %v, want aborted", st)
	}
}

func TestShutdownWhileRecordingStopsCapture(t *testing.T) {
	h := newHarness(t)
	h.run(t)

	h.p.Start()
	waitFor(t, "recording", h.p.IsRecording)
	h.shutdown()

	if _, stops, _ := h.capture.counts(); stops != 1 {
		t.Errorf("stops = %d, want 1", stops)
	}
	if h.p.IsRecording() {
		t.Error("still recording after shutdown")
	}
	if st := h.p.Snapshot().Last.Status; st != StatusAborted {
		t.Errorf("status = %v, want aborted", st)
	}
}

func TestShutdownLogsCaptureStopFailure(t *testing.T) {
	dir := t.TempDir()
	log.SetDir(dir)
	if err := log.Init(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(log.Close)

	h := newHarness(t)
	h.capture.stopErr = errors.New("device vanished")
	h.run(t)

	h.p.Start()
	waitFor(t, "recording", h.p.IsRecording)
	h.shutdown()

	data, err := os.ReadFile(filepath.Join(dir, "diagnostics_log.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "stopping capture on shutdown: device vanished") {
		t.Errorf("diagnostics missing stop failure:\n%s", data)
	}
	if st := h.p.Snapshot().Last.Status; st != StatusAborted {
		t.Errorf("status = %v, want aborted", st)
	}
}

func TestSmoothedLevelLagsStep(t *testing.T) {
	h := newHarness(t)
	h.p = New(Options{
		CapturePath:   "/tmp/wavetalk_test.flac",
		LevelInterval: 5 * time.Millisecond,
		Smoothing:     0.3,
	}, h.capture, h.service, h.sink, h.reporter)
	obs := &recordingObserver{}
	h.p.AddObserver(obs)
	h.run(t)

	h.p.Start()
	// The first sample is published as is.
	waitFor(t, "initial level", func() bool { return math.Abs(h.p.AudioLevel()-0.5) < 1e-9 })

	h.capture.mu.Lock()
	h.capture.power = -10 // normalizes to 1
	h.capture.mu.Unlock()
	waitFor(t, "converged level", func() bool { return h.p.AudioLevel() > 0.99 })
	h.p.Stop()
	waitFor(t, "idle", h.settled)

	obs.mu.Lock()
	defer obs.mu.Unlock()
	var first float64
	for _, v := range obs.levels {
		if v > 0.5+1e-9 {
			first = v
			break
		}
	}
	if want := 0.5 + 0.3*0.5; math.Abs(first-want) > 1e-9 {
		t.Errorf("first level after step = %v, want %v", first, want)
	}
}

func TestLevelAndObserver(t *testing.T) {
	h := newHarness(t)
	obs := &recordingObserver{}
	h.p.AddObserver(obs)
	h.run(t)

	h.p.Start()
	waitFor(t, "level", func() bool { return math.Abs(h.p.AudioLevel()-0.5) < 1e-9 })
	h.p.Stop()
	waitFor(t, "idle", h.settled)

	if h.p.AudioLevel() != 0 {
		t.Errorf("level after stop = %v, want 0", h.p.AudioLevel())
	}

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if len(obs.recording) != 2 || !obs.recording[0] || obs.recording[1] {
		t.Errorf("recording changes = %v, want [true false]", obs.recording)
	}
	for _, v := range obs.levels {
		if v < 0 || v > 1 {
			t.Errorf("level %v out of range", v)
		}
	}
	if n := len(obs.levels); n < 2 || obs.levels[n-1] != 0 {
		t.Errorf("levels = %v, want a trailing 0", obs.levels)
	}
}

func TestIdleChannel(t *testing.T) {
	h := newHarness(t)
	h.service.gate = make(chan struct{})
	h.run(t)

	select {
	case <-h.p.Idle():
	default:
		t.Fatal("new pipeline is not idle")
	}

	h.p.Start()
	waitFor(t, "recording", h.p.IsRecording)
	idle := h.p.Idle()
	select {
	case <-idle:
		t.Fatal("idle channel closed while recording")
	default:
	}
	h.p.Stop()
	h.service.gate <- struct{}{}

	select {
	case <-idle:
	case <-time.After(3 * time.Second):
		t.Fatal("idle channel never closed")
	}
}

func TestRunTwice(t *testing.T) {
	h := newHarness(t)
	h.run(t)
	waitFor(t, "running", h.p.running.Load)
	if err := h.p.Run(context.Background()); !errors.Is(err, ErrRunning) {
		t.Errorf("got %v, want ErrRunning", err)
	}
}

func TestResultConstructors(t *testing.T) {
	r := TextResult(3, "")
	if !r.OK() || r.Text != "" || r.SessionID != 3 {
		t.Errorf("TextResult = %+v", r)
	}
	r = ErrorResult(4, nil)
	if r.OK() || r.Err == nil {
		t.Errorf("ErrorResult with nil cause must still fail: %+v", r)
	}
}

func TestNewErrorPreservesKind(t *testing.T) {
	inner := &Error{Kind: KindTimeout, Err: context.DeadlineExceeded}
	e := NewError(KindService, 9, inner)
	if e.Kind != KindTimeout || e.SessionID != 9 {
		t.Errorf("got %+v", e)
	}
	if inner.SessionID != 0 {
		t.Error("inner error mutated")
	}
	var pe *Error
	if !errors.As(error(e), &pe) || !errors.Is(e, context.DeadlineExceeded) {
		t.Error("errors.As/Is do not see through Error")
	}
}

// Random interleavings of presses, releases, slow services and failures
// must never overlap sessions.
func TestRandomInterleavings(t *testing.T) {
	for seed := int64(1); seed <= 20; seed++ {
		rng := rand.New(rand.NewSource(seed))
		b := &busy{}
		h := newHarness(t)
		h.capture.busy = b
		h.service.busy = b
		h.sink.busy = b

		failEvery := rng.Intn(4) + 2
		var delays []time.Duration
		for i := 0; i < 64; i++ {
			delays = append(delays, time.Duration(rng.Intn(3))*time.Millisecond)
		}
		var calls int
		h.service.delay = func() time.Duration {
			h.service.mu.Lock()
			defer h.service.mu.Unlock()
			calls++
			return delays[calls%len(delays)]
		}
		h.service.reply = func(s Session) Result {
			if int(s.ID)%failEvery == 0 {
				return ErrorResult(s.ID, errors.New("flaky"))
			}
			return TextResult(s.ID, "ok")
		}
		h.run(t)

		for step := 0; step < 150; step++ {
			switch rng.Intn(3) {
			case 0:
				h.p.Start()
			case 1:
				h.p.Stop()
			default:
				time.Sleep(time.Duration(rng.Intn(500)) * time.Microsecond)
			}
		}
		h.p.Stop()
		waitFor(t, "settled", func() bool { return h.settled() && b.n.Load() == 0 })

		starts, stops, overlaps := h.capture.counts()
		if overlaps != 0 {
			t.Fatalf("seed %d: %d overlapping sessions", seed, overlaps)
		}
		if starts != stops {
			t.Fatalf("seed %d: %d starts but %d stops", seed, starts, stops)
		}
		sessions := h.service.submitted()
		for i := 1; i < len(sessions); i++ {
			if sessions[i].ID <= sessions[i-1].ID {
				t.Fatalf("seed %d: session ids not increasing: %d then %d", seed, sessions[i-1].ID, sessions[i].ID)
			}
		}
		delivered := len(h.sink.delivered())
		failed := len(h.reporter.reported())
		if delivered+failed != len(sessions) {
			t.Fatalf("seed %d: %d submitted, %d delivered, %d failed", seed, len(sessions), delivered, failed)
		}
		h.shutdown()
	}
}

package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"wavetalk/audio"
	"wavetalk/level"
)

// busy counts service and sink calls in flight across all fakes of a test.
type busy struct{ n atomic.Int32 }

type fakeCapture struct {
	mu       sync.Mutex
	busy     *busy
	active   *audio.Handle
	starts   int
	stops    int
	nextID   uint64
	startErr error
	stopErr  error
	power    float64
	overlaps int
}

func (c *fakeCapture) Start(path string) (*audio.Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != nil || (c.busy != nil && c.busy.n.Load() > 0) {
		c.overlaps++
	}
	if c.startErr != nil {
		return nil, c.startErr
	}
	c.starts++
	c.nextID++
	c.active = &audio.Handle{ID: c.nextID, Path: path, StartedAt: time.Now()}
	return c.active, nil
}

func (c *fakeCapture) Stop(h *audio.Handle) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h == nil || h != c.active {
		return "", audio.ErrNotActive
	}
	c.active = nil
	c.stops++
	if c.stopErr != nil {
		return "", c.stopErr
	}
	return h.Path, nil
}

func (c *fakeCapture) SampleLevel(h *audio.Handle) level.Sample {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h == nil || h != c.active {
		return level.Sample{Power: level.Silence, At: time.Now()}
	}
	return level.Sample{Power: c.power, At: time.Now()}
}

func (c *fakeCapture) counts() (starts, stops, overlaps int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.starts, c.stops, c.overlaps
}

type fakeService struct {
	mu       sync.Mutex
	busy     *busy
	reply    func(s Session) Result
	delay    func() time.Duration
	gate     chan struct{} // when set, each call waits for a receive
	sessions []Session
	closeRaw bool
}

func (f *fakeService) Submit(ctx context.Context, s Session) <-chan Result {
	f.mu.Lock()
	f.sessions = append(f.sessions, s)
	f.mu.Unlock()

	out := make(chan Result, 1)
	if f.busy != nil {
		f.busy.n.Add(1)
	}
	go func() {
		if f.gate != nil {
			<-f.gate
		}
		if f.delay != nil {
			time.Sleep(f.delay())
		}
		if f.busy != nil {
			f.busy.n.Add(-1)
		}
		if f.closeRaw {
			close(out)
			return
		}
		r := TextResult(s.ID, "hello")
		if f.reply != nil {
			r = f.reply(s)
		}
		out <- r
	}()
	return out
}

func (f *fakeService) submitted() []Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Session(nil), f.sessions...)
}

type fakeSink struct {
	mu    sync.Mutex
	busy  *busy
	err   error
	texts []string
}

func (f *fakeSink) Deliver(_ context.Context, text string) error {
	if f.busy != nil {
		f.busy.n.Add(1)
		defer f.busy.n.Add(-1)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return f.err
}

func (f *fakeSink) delivered() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

type collectReporter struct {
	mu   sync.Mutex
	errs []*Error
}

func (r *collectReporter) Report(e *Error) {
	r.mu.Lock()
	r.errs = append(r.errs, e)
	r.mu.Unlock()
}

func (r *collectReporter) reported() []*Error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Error(nil), r.errs...)
}

type recordingObserver struct {
	mu        sync.Mutex
	recording []bool
	levels    []float64
}

func (o *recordingObserver) RecordingChanged(r bool) {
	o.mu.Lock()
	o.recording = append(o.recording, r)
	o.mu.Unlock()
}

func (o *recordingObserver) LevelChanged(v float64) {
	o.mu.Lock()
	o.levels = append(o.levels, v)
	o.mu.Unlock()
}

type harness struct {
	p        *Pipeline
	capture  *fakeCapture
	service  *fakeService
	sink     *fakeSink
	reporter *collectReporter
	cancel   context.CancelFunc
	exited   chan struct{}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		capture:  &fakeCapture{power: -27.5},
		service:  &fakeService{},
		sink:     &fakeSink{},
		reporter: &collectReporter{},
	}
	h.p = New(Options{
		CapturePath:   "/tmp/wavetalk_test.flac",
		LevelInterval: 5 * time.Millisecond,
	}, h.capture, h.service, h.sink, h.reporter)
	return h
}

func (h *harness) run(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.exited = make(chan struct{})
	go func() {
		defer close(h.exited)
		h.p.Run(ctx)
	}()
	t.Cleanup(h.shutdown)
}

func (h *harness) shutdown() {
	h.cancel()
	<-h.exited
}

// settled reports whether the queue is drained and the machine is idle.
func (h *harness) settled() bool {
	return len(h.p.events) == 0 && h.p.Snapshot().State == Idle
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}


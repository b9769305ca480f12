package pipeline

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"wavetalk/audio"
	"wavetalk/level"
	"wavetalk/log"
)

type State int

const (
	Idle State = iota
	Recording
	Processing
	Delivering
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	case Processing:
		return "processing"
	case Delivering:
		return "delivering"
	}
	return "unknown"
}

// Capture records one session at a time. audio.Recorder implements it.
type Capture interface {
	Start(path string) (*audio.Handle, error)
	Stop(h *audio.Handle) (string, error)
	SampleLevel(h *audio.Handle) level.Sample
}

// Service turns a stopped session into exactly one Result on the returned
// channel.
type Service interface {
	Submit(ctx context.Context, s Session) <-chan Result
}

type Sink interface {
	Deliver(ctx context.Context, text string) error
}

// Observer is notified of presentation changes. RecordingChanged is called
// from the coordination goroutine, LevelChanged from the level poller.
type Observer interface {
	RecordingChanged(recording bool)
	LevelChanged(level float64)
}

type Options struct {
	CapturePath   string
	Device        string
	Format        string
	Meter         level.Meter
	LevelInterval time.Duration
	// Smoothing is the exponential smoothing factor for published levels.
	// Zero publishes raw normalized values.
	Smoothing float64
}

// Snapshot is a consistent view of the machine.
type Snapshot struct {
	State     State
	SessionID uint64
	Recording bool
	Level     float64
	Last      Session // most recently finished session
}

var (
	ErrRunning       = errors.New("pipeline already running")
	errServiceClosed = errors.New("transcription service closed without a result")
)

type eventKind int

const (
	evStart eventKind = iota
	evStop
	evResult
	evDelivered
)

type event struct {
	kind   eventKind
	result Result
	id     uint64
	err    error
}

type Pipeline struct {
	opts     Options
	capture  Capture
	service  Service
	sink     Sink
	reporter Reporter

	events  chan event
	done    chan struct{}
	running atomic.Bool

	// owned by the coordination goroutine
	nextID   uint64
	session  *Session
	handle   *audio.Handle
	stopPoll func()
	smoother level.Smoother

	mu        sync.Mutex
	state     State
	current   uint64
	last      Session
	idle      chan struct{}
	observers []Observer

	recording atomic.Bool
	levelBits atomic.Uint64
	sessions  atomic.Uint64
}

func New(opts Options, capture Capture, service Service, sink Sink, reporter Reporter) *Pipeline {
	if opts.Meter.Range <= 0 {
		opts.Meter = level.NewMeter()
	}
	if opts.LevelInterval <= 0 {
		opts.LevelInterval = level.DefaultInterval
	}
	idle := make(chan struct{})
	close(idle)
	return &Pipeline{
		opts:     opts,
		capture:  capture,
		service:  service,
		sink:     sink,
		reporter: reporter,
		events:   make(chan event, 64),
		done:     make(chan struct{}),
		smoother: level.Smoother{Alpha: opts.Smoothing},
		idle:     idle,
	}
}

func (p *Pipeline) AddObserver(o Observer) {
	p.mu.Lock()
	p.observers = append(p.observers, o)
	p.mu.Unlock()
}

func (p *Pipeline) observersCopy() []Observer {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Observer(nil), p.observers...)
}

// Start requests a new recording. Safe from any goroutine.
func (p *Pipeline) Start() { p.post(event{kind: evStart}) }

// Stop ends the current recording. Safe from any goroutine.
func (p *Pipeline) Stop() { p.post(event{kind: evStop}) }

func (p *Pipeline) post(ev event) {
	select {
	case p.events <- ev:
	case <-p.done:
	}
}

func (p *Pipeline) IsRecording() bool { return p.recording.Load() }

// AudioLevel is the last published level in [0,1].
func (p *Pipeline) AudioLevel() float64 {
	return math.Float64frombits(p.levelBits.Load())
}

func (p *Pipeline) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Snapshot{
		State:     p.state,
		SessionID: p.current,
		Recording: p.recording.Load(),
		Level:     p.AudioLevel(),
		Last:      p.last,
	}
}

// Sessions is the number of sessions started so far, failed ones included.
func (p *Pipeline) Sessions() uint64 { return p.sessions.Load() }

// Idle returns a channel that is closed once the machine is idle.
func (p *Pipeline) Idle() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.idle
}

// Run processes events until ctx is cancelled. A session still in flight
// at that point is aborted.
func (p *Pipeline) Run(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer close(p.done)
	for {
		select {
		case <-ctx.Done():
			p.abort()
			return ctx.Err()
		case ev := <-p.events:
			switch ev.kind {
			case evStart:
				p.handleStart()
			case evStop:
				p.handleStop(ctx)
			case evResult:
				p.handleResult(ctx, ev.result)
			case evDelivered:
				p.handleDelivered(ev.id, ev.err)
			}
		}
	}
}

func (p *Pipeline) currentState() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Pipeline) setState(to State) {
	var id uint64
	if p.session != nil {
		id = p.session.ID
	}

	p.mu.Lock()
	from := p.state
	p.state = to
	p.current = id
	if to == Idle {
		p.current = 0
	}
	switch {
	case from == Idle && to != Idle:
		p.idle = make(chan struct{})
	case from != Idle && to == Idle:
		close(p.idle)
	}
	p.mu.Unlock()

	log.StateChange(id, from.String(), to.String())
}

func (p *Pipeline) report(e *Error) {
	log.PipelineError(e.SessionID, e.Kind.String(), e.Err)
	if p.reporter != nil {
		p.reporter.Report(e)
	}
}

func (p *Pipeline) handleStart() {
	switch st := p.currentState(); st {
	case Recording:
		return
	case Processing, Delivering:
		log.StartIgnored(st.String())
		return
	}

	p.nextID++
	p.sessions.Store(p.nextID)
	s := &Session{
		ID:        p.nextID,
		Tag:       uuid.NewString(),
		Path:      p.opts.CapturePath,
		StartedAt: time.Now(),
		Status:    StatusActive,
	}
	h, err := p.capture.Start(s.Path)
	if err != nil {
		s.EndedAt = time.Now()
		s.Status = StatusFailed
		p.report(NewError(KindDevice, s.ID, err))
		p.retire(s)
		return
	}

	p.session = s
	p.handle = h
	p.setState(Recording)
	log.SessionStart(s.ID, s.Tag, p.opts.Device, p.opts.Format)

	p.recording.Store(true)
	for _, o := range p.observersCopy() {
		o.RecordingChanged(true)
	}
	p.smoother.Reset()
	p.stopPoll = level.Poll(p.opts.LevelInterval, func(time.Time) { p.sampleLevel(h) })
}

func (p *Pipeline) sampleLevel(h *audio.Handle) {
	s := p.opts.Meter.Fill(p.capture.SampleLevel(h))
	v := p.smoother.Next(s.Value)
	p.levelBits.Store(math.Float64bits(v))
	for _, o := range p.observersCopy() {
		o.LevelChanged(v)
	}
}

// endRecording stops level polling and publishes the idle presentation.
func (p *Pipeline) endRecording() {
	if p.stopPoll != nil {
		p.stopPoll()
		p.stopPoll = nil
	}
	p.recording.Store(false)
	p.levelBits.Store(0)
	for _, o := range p.observersCopy() {
		o.RecordingChanged(false)
		o.LevelChanged(0)
	}
}

func (p *Pipeline) handleStop(ctx context.Context) {
	if p.currentState() != Recording {
		return
	}
	p.endRecording()

	s := p.session
	path, err := p.capture.Stop(p.handle)
	p.handle = nil
	s.EndedAt = time.Now()
	if err != nil {
		s.Status = StatusFailed
		p.report(NewError(KindDevice, s.ID, err))
		p.finish()
		return
	}
	if path != "" {
		s.Path = path
	}
	p.setState(Processing)

	snap := *s
	results := p.service.Submit(ctx, snap)
	go func() {
		r, ok := <-results
		if !ok {
			r = ErrorResult(snap.ID, errServiceClosed)
		}
		p.post(event{kind: evResult, result: r})
	}()
}

func (p *Pipeline) handleResult(ctx context.Context, r Result) {
	if p.currentState() != Processing || p.session == nil || r.SessionID != p.session.ID {
		log.Warnf("ignoring result for stale session %d", r.SessionID)
		return
	}
	s := p.session
	if r.Err != nil {
		s.Status = StatusFailed
		p.report(NewError(KindService, s.ID, r.Err))
		p.finish()
		return
	}

	log.TranscriptionText(r.Text)
	p.setState(Delivering)
	id, text := s.ID, r.Text
	go func() {
		err := p.sink.Deliver(ctx, text)
		p.post(event{kind: evDelivered, id: id, err: err})
	}()
}

func (p *Pipeline) handleDelivered(id uint64, err error) {
	if p.currentState() != Delivering || p.session == nil || id != p.session.ID {
		return
	}
	if err != nil {
		p.report(NewError(KindDelivery, id, err))
	}
	p.session.Status = StatusCompleted
	p.finish()
}

// finish discards the current session and returns to Idle.
func (p *Pipeline) finish() {
	s := p.session
	p.retire(s)
	p.setState(Idle)
	p.session = nil
}

func (p *Pipeline) retire(s *Session) {
	log.SessionEnd(s.ID, s.Status.String(), s.Duration())
	p.mu.Lock()
	p.last = *s
	p.mu.Unlock()
}

func (p *Pipeline) abort() {
	if p.session == nil {
		return
	}
	if p.currentState() == Recording {
		p.endRecording()
		if _, err := p.capture.Stop(p.handle); err != nil {
			log.Warnf("session %d: stopping capture on shutdown: %v", p.session.ID, err)
		}
		p.handle = nil
		p.session.EndedAt = time.Now()
	}
	p.session.Status = StatusAborted
	p.finish()
}

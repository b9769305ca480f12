package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"wavetalk/encoder"
	"wavetalk/level"
)

// Handle identifies one open capture returned by Recorder.Start.
type Handle struct {
	ID        uint64
	Path      string
	StartedAt time.Time

	file       *os.File
	enc        encoder.Encoder
	blocks     chan []int16
	encodeDone chan struct{}
	encodeErr  error

	bufMu     sync.Mutex
	sampleBuf []int16
	frames    uint64
	stopped   bool
}

// Frames returns the number of samples captured so far.
func (h *Handle) Frames() uint64 {
	h.bufMu.Lock()
	defer h.bufMu.Unlock()
	return h.frames
}

// Duration returns the captured audio length.
func (h *Handle) Duration() time.Duration {
	return time.Duration(float64(h.Frames()) / float64(encoder.SampleRate) * float64(time.Second))
}

// Recorder writes one capture at a time to a file. A new capture overwrites
// whatever the previous one left at the same path.
type Recorder struct {
	capture CaptureDevice
	format  string

	mu     sync.Mutex
	nextID uint64
	active atomic.Pointer[Handle]
	power  atomic.Uint64 // math.Float64bits of the last dBFS reading
}

func NewRecorder(capture CaptureDevice, format string) *Recorder {
	r := &Recorder{capture: capture, format: format}
	r.power.Store(math.Float64bits(level.Silence))
	return r
}

func (r *Recorder) DeviceName() string { return r.capture.DeviceName() }

func (r *Recorder) ContentType() string { return encoder.ContentType(r.format) }

// Start begins capturing into path.
func (r *Recorder) Start(path string) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active.Load() != nil {
		return nil, ErrAlreadyActive
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("capture dir: %w", err)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("removing previous capture: %w", err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return nil, fmt.Errorf("creating capture file: %w", err)
	}
	enc, err := encoder.New(r.format, f)
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}

	r.nextID++
	h := &Handle{
		ID:         r.nextID,
		Path:       path,
		StartedAt:  time.Now(),
		file:       f,
		enc:        enc,
		blocks:     make(chan []int16, 64),
		encodeDone: make(chan struct{}),
	}

	go func() {
		defer close(h.encodeDone)
		for block := range h.blocks {
			if h.encodeErr != nil {
				continue
			}
			start := time.Now()
			h.encodeErr = h.enc.EncodeBlock(block)
			h.enc.AddEncodeTime(time.Since(start))
		}
	}()

	r.power.Store(math.Float64bits(level.Silence))
	r.capture.SetCallback(func(data []byte, _ uint32) {
		r.feed(h, data)
	})

	if err := r.capture.Start(); err != nil {
		r.capture.ClearCallback()
		h.bufMu.Lock()
		h.stopped = true
		close(h.blocks)
		h.bufMu.Unlock()
		<-h.encodeDone
		f.Close()
		os.Remove(path)
		return nil, classify(err)
	}

	r.active.Store(h)
	return h, nil
}

// feed runs on the audio thread.
func (r *Recorder) feed(h *Handle, data []byte) {
	if len(data) < 2 {
		return
	}
	h.bufMu.Lock()
	defer h.bufMu.Unlock()
	if h.stopped {
		return
	}
	r.power.Store(math.Float64bits(level.PowerPCM16(data)))
	for i := 0; i+1 < len(data); i += 2 {
		h.sampleBuf = append(h.sampleBuf, int16(binary.LittleEndian.Uint16(data[i:])))
	}
	h.frames += uint64(len(data) / 2)
	for len(h.sampleBuf) >= encoder.BlockSize {
		block := make([]int16, encoder.BlockSize)
		copy(block, h.sampleBuf[:encoder.BlockSize])
		h.sampleBuf = h.sampleBuf[encoder.BlockSize:]
		h.blocks <- block
	}
}

// Stop flushes and closes the capture behind h and returns the written path.
func (r *Recorder) Stop(h *Handle) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h == nil || r.active.Load() != h {
		return "", ErrNotActive
	}

	r.capture.Stop()
	r.capture.ClearCallback()

	h.bufMu.Lock()
	h.stopped = true
	if len(h.sampleBuf) > 0 {
		partial := make([]int16, len(h.sampleBuf))
		copy(partial, h.sampleBuf)
		h.sampleBuf = nil
		h.blocks <- partial
	}
	close(h.blocks)
	h.bufMu.Unlock()

	<-h.encodeDone
	r.active.Store(nil)
	r.power.Store(math.Float64bits(level.Silence))

	closeErr := h.enc.Close()
	fileErr := h.file.Close()
	switch {
	case h.encodeErr != nil:
		return h.Path, fmt.Errorf("encoding capture: %w", h.encodeErr)
	case closeErr != nil:
		return h.Path, fmt.Errorf("finalizing capture: %w", closeErr)
	case fileErr != nil && !errors.Is(fileErr, os.ErrClosed):
		return h.Path, fmt.Errorf("closing capture file: %w", fileErr)
	}
	return h.Path, nil
}

// SampleLevel returns the most recent power reading for h. It never blocks;
// a stale or nil handle yields the silence floor.
func (r *Recorder) SampleLevel(h *Handle) level.Sample {
	now := time.Now()
	if h == nil || r.active.Load() != h {
		return level.Sample{Power: level.Silence, At: now}
	}
	return level.Sample{Power: math.Float64frombits(r.power.Load()), At: now}
}

// Active reports whether a capture is open.
func (r *Recorder) Active() bool {
	return r.active.Load() != nil
}

package encoder

import (
	"fmt"
	"io"
	"sync"
	"time"
)

const (
	SampleRate    = 16000
	Channels      = 1
	BitsPerSample = 16
	BlockSize     = 4096
)

const (
	FormatFLAC = "flac"
	FormatWAV  = "wav"
)

// Encoder writes 16 kHz mono PCM16 blocks into a container on an
// io.WriteSeeker. Close finalizes the container headers but leaves the
// underlying file open for the caller to close.
type Encoder interface {
	EncodeBlock(block []int16) error
	Close() error
	TotalFrames() uint64
	AddEncodeTime(d time.Duration)
	EncodeTime() time.Duration
	ContentType() string
}

// New returns an encoder for format writing to w.
func New(format string, w io.WriteSeeker) (Encoder, error) {
	switch format {
	case FormatFLAC:
		return NewFlac(w)
	case FormatWAV:
		return NewWav(w), nil
	default:
		return nil, fmt.Errorf("unknown format %q (use flac or wav)", format)
	}
}

// Extension returns the file extension for format, including the dot.
func Extension(format string) string {
	switch format {
	case FormatWAV:
		return ".wav"
	default:
		return ".flac"
	}
}

// ContentType returns the MIME type a transcription API expects for format.
func ContentType(format string) string {
	switch format {
	case FormatWAV:
		return "audio/wav"
	default:
		return "audio/flac"
	}
}

// ContentTypeForPath guesses the MIME type from a file extension.
func ContentTypeForPath(path string) string {
	n := len(path)
	switch {
	case n >= 4 && path[n-4:] == ".wav":
		return "audio/wav"
	case n >= 4 && path[n-4:] == ".mp3":
		return "audio/mpeg"
	case n >= 4 && path[n-4:] == ".m4a":
		return "audio/m4a"
	default:
		return "audio/flac"
	}
}

// counters tracks frames written and time spent encoding. Both encoders
// embed it.
type counters struct {
	cmu    sync.Mutex
	frames uint64
	spent  time.Duration
}

func (c *counters) addFrames(n int) {
	c.cmu.Lock()
	c.frames += uint64(n)
	c.cmu.Unlock()
}

func (c *counters) TotalFrames() uint64 {
	c.cmu.Lock()
	defer c.cmu.Unlock()
	return c.frames
}

func (c *counters) AddEncodeTime(d time.Duration) {
	c.cmu.Lock()
	c.spent += d
	c.cmu.Unlock()
}

func (c *counters) EncodeTime() time.Duration {
	c.cmu.Lock()
	defer c.cmu.Unlock()
	return c.spent
}

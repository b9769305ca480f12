package encoder

import (
	"fmt"
	"io"
	"sync"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

type WavEncoder struct {
	counters

	mu     sync.Mutex
	enc    *wav.Encoder
	format *audio.Format
}

func NewWav(w io.WriteSeeker) *WavEncoder {
	return &WavEncoder{
		enc:    wav.NewEncoder(w, SampleRate, BitsPerSample, Channels, 1),
		format: &audio.Format{NumChannels: Channels, SampleRate: SampleRate},
	}
}

func (e *WavEncoder) EncodeBlock(block []int16) error {
	if len(block) == 0 {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	data := make([]int, len(block))
	for i, s := range block {
		data[i] = int(s)
	}
	buf := &audio.IntBuffer{Format: e.format, Data: data, SourceBitDepth: BitsPerSample}
	if err := e.enc.Write(buf); err != nil {
		return fmt.Errorf("writing wav samples: %w", err)
	}
	e.addFrames(len(block))
	return nil
}

func (e *WavEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.TotalFrames() == 0 {
		// header and data chunk are only emitted on the first write
		if err := e.enc.Write(&audio.IntBuffer{Format: e.format, SourceBitDepth: BitsPerSample}); err != nil {
			return fmt.Errorf("writing wav header: %w", err)
		}
	}
	return e.enc.Close()
}

func (e *WavEncoder) ContentType() string { return ContentType(FormatWAV) }

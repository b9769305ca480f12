// Package beep plays short audible cues for recording start, stop and
// failure.
package beep

import (
	"math"
	"sync"
	"sync/atomic"
)

var disabled atomic.Bool

func Disable() { disabled.Store(true) }

const sampleRate = 44100

type Cue int

const (
	Start Cue = iota
	End
	Error
)

type tone struct {
	freq   float64
	dur    float64 // seconds per beep
	gap    float64 // seconds of silence between repeats
	repeat int
	volume float64
	decay  float64
}

var tones = map[Cue]tone{
	Start: {freq: 1200, dur: 0.06, repeat: 1, volume: 0.5, decay: 60},
	End:   {freq: 900, dur: 0.08, repeat: 1, volume: 0.5, decay: 40},
	Error: {freq: 350, dur: 0.08, gap: 0.05, repeat: 2, volume: 0.6, decay: 30},
}

// synth renders t as mono PCM16.
func synth(t tone) []int16 {
	n := int(float64(sampleRate) * t.dur)
	gap := int(float64(sampleRate) * t.gap)
	out := make([]int16, 0, t.repeat*n+(t.repeat-1)*gap)
	for r := 0; r < t.repeat; r++ {
		if r > 0 {
			out = append(out, make([]int16, gap)...)
		}
		for i := 0; i < n; i++ {
			sec := float64(i) / sampleRate
			env := math.Exp(-sec * t.decay)
			out = append(out, int16(math.Sin(2*math.Pi*t.freq*sec)*32767*t.volume*env))
		}
	}
	return out
}

var (
	rendered   map[Cue][]int16
	renderOnce sync.Once
)

func samples(c Cue) []int16 {
	renderOnce.Do(func() {
		rendered = make(map[Cue][]int16, len(tones))
		for cue, t := range tones {
			rendered[cue] = synth(t)
		}
	})
	return rendered[c]
}

// Init renders the cues and opens the output device ahead of first use.
func Init() {
	samples(Start)
	initOutput()
}

func Play(c Cue) {
	if disabled.Load() {
		return
	}
	play(samples(c))
}

func PlayStart() { Play(Start) }
func PlayEnd()   { Play(End) }
func PlayError() { Play(Error) }

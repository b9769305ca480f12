// Package level turns raw capture power into the normalized loudness value
// that presentation layers read while a recording is active.
package level

import (
	"encoding/binary"
	"math"
	"time"
)

const (
	// Silence is the power reported when there is no signal or no active capture.
	Silence = -160.0

	DefaultOffset   = 45.0
	DefaultRange    = 35.0
	DefaultInterval = 40 * time.Millisecond
)

// Sample is one instantaneous loudness reading.
type Sample struct {
	Power float64 // dBFS, Silence..0
	Value float64 // normalized, 0..1
	At    time.Time
}

// Meter maps dBFS power onto [0,1] with a clamped linear rescale.
type Meter struct {
	Offset float64
	Range  float64
}

func NewMeter() Meter {
	return Meter{Offset: DefaultOffset, Range: DefaultRange}
}

// Normalize returns clamp((raw+Offset)/Range, 0, 1). A non-positive Range
// falls back to DefaultRange so the result stays monotonic.
func (m Meter) Normalize(raw float64) float64 {
	if math.IsNaN(raw) {
		return 0
	}
	r := m.Range
	if r <= 0 {
		r = DefaultRange
	}
	v := (raw + m.Offset) / r
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Fill sets s.Value from s.Power.
func (m Meter) Fill(s Sample) Sample {
	s.Value = m.Normalize(s.Power)
	return s
}

// PowerPCM16 returns the RMS power of little-endian 16-bit samples in dBFS.
func PowerPCM16(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return Silence
	}
	var sumSquares float64
	for i := 0; i+1 < len(pcm); i += 2 {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[i:]))) / 32768.0
		sumSquares += s * s
	}
	rms := math.Sqrt(sumSquares / float64(n))
	if rms == 0 {
		return Silence
	}
	db := 20 * math.Log10(rms)
	if db < Silence {
		return Silence
	}
	if db > 0 {
		return 0
	}
	return db
}

// Smoother applies exponential smoothing to successive values. Alpha of 1
// passes values through unchanged.
type Smoother struct {
	Alpha float64
	value float64
	set   bool
}

func (s *Smoother) Next(v float64) float64 {
	if !s.set || s.Alpha <= 0 || s.Alpha >= 1 {
		s.value = v
		s.set = true
		return v
	}
	s.value += s.Alpha * (v - s.value)
	return s.value
}

func (s *Smoother) Reset() {
	s.value = 0
	s.set = false
}

package beep

import "testing"

func TestSynthLength(t *testing.T) {
	for cue, tn := range tones {
		got := len(samples(cue))
		n := int(float64(sampleRate) * tn.dur)
		gap := int(float64(sampleRate) * tn.gap)
		want := tn.repeat*n + (tn.repeat-1)*gap
		if got != want {
			t.Errorf("cue %d: %d samples, want %d", cue, got, want)
		}
	}
}

func TestSynthDecays(t *testing.T) {
	s := synth(tone{freq: 1000, dur: 0.1, repeat: 1, volume: 0.5, decay: 60})
	peak := func(from, to int) int16 {
		var p int16
		for _, v := range s[from:to] {
			if v < 0 {
				v = -v
			}
			if v > p {
				p = v
			}
		}
		return p
	}
	head, tail := peak(0, len(s)/10), peak(len(s)*9/10, len(s))
	if head <= tail {
		t.Errorf("head peak %d not above tail peak %d", head, tail)
	}
	if head > 32767/2+1 {
		t.Errorf("head peak %d exceeds volume", head)
	}
}

func TestErrorCueHasSilentGap(t *testing.T) {
	tn := tones[Error]
	s := samples(Error)
	n := int(float64(sampleRate) * tn.dur)
	gap := int(float64(sampleRate) * tn.gap)
	for i := n; i < n+gap; i++ {
		if s[i] != 0 {
			t.Fatalf("sample %d in gap is %d", i, s[i])
		}
	}
}

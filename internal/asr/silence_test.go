package asr

import (
	"math"
	"testing"

	"subforge/internal/audio"
)

type span struct {
	sec  float64
	loud bool
}

func part(sec float64, loud bool) span { return span{sec, loud} }

// clipOf builds a 16 kHz clip of 440 Hz tone and silence.
func clipOf(parts ...span) audio.Clip {
	var samples []float32
	for _, p := range parts {
		n := int(p.sec * audio.SampleRate)
		for i := range n {
			var v float32
			if p.loud {
				v = float32(0.3 * math.Sin(2*math.Pi*440*float64(i)/audio.SampleRate))
			}
			samples = append(samples, v)
		}
	}
	return audio.Clip{Samples: samples, SampleRate: audio.SampleRate}
}

func near(a, b float64) bool { return math.Abs(a-b) < 0.05 }

func TestDetectSpeech(t *testing.T) {
	cfg := DefaultSilenceConfig()

	clip := clipOf(part(1, true), part(1, false), part(1, true))
	blocks := DetectSpeech(clip.Samples, clip.SampleRate, cfg)
	if len(blocks) != 2 {
		t.Fatalf("blocks = %+v, want 2", blocks)
	}
	if !near(blocks[0].Start, 0) || !near(blocks[0].End, 1) || !near(blocks[1].Start, 2) || !near(blocks[1].End, 3) {
		t.Errorf("blocks = %+v", blocks)
	}

	if got := DetectSpeech(clipOf(part(2, false)).Samples, audio.SampleRate, cfg); len(got) != 0 {
		t.Errorf("silence produced blocks: %+v", got)
	}

	// a single 30ms frame is shorter than MinSpeech
	blip := clipOf(part(1, false), part(0.03, true), part(1, false))
	if got := DetectSpeech(blip.Samples, audio.SampleRate, cfg); len(got) != 0 {
		t.Errorf("blip produced blocks: %+v", got)
	}

	if got := DetectSpeech(nil, audio.SampleRate, cfg); got != nil {
		t.Errorf("empty input = %+v", got)
	}
}

func TestSpeechWindows(t *testing.T) {
	cfg := DefaultSilenceConfig()

	t.Run("long pause splits", func(t *testing.T) {
		w := SpeechWindows(clipOf(part(1, true), part(1, false), part(1, true)), cfg)
		if len(w) != 2 {
			t.Fatalf("windows = %+v", w)
		}
		if w[0].Start != 0 || !near(w[0].End, 1+cfg.Padding) || !near(w[1].Start, 2-cfg.Padding) || !near(w[1].End, 3) {
			t.Errorf("windows = %+v", w)
		}
		if w[0].End > w[1].Start {
			t.Errorf("padded windows overlap: %+v", w)
		}
	})

	t.Run("short pause merges", func(t *testing.T) {
		w := SpeechWindows(clipOf(part(1, true), part(0.5, false), part(1, true)), cfg)
		if len(w) != 1 || !near(w[0].End, 2.5) {
			t.Errorf("windows = %+v", w)
		}
	})

	t.Run("long speech is capped", func(t *testing.T) {
		w := SpeechWindows(clipOf(part(65, true)), cfg)
		if len(w) != 3 {
			t.Fatalf("windows = %+v", w)
		}
		for i, b := range w {
			if b.End-b.Start > cfg.MaxWindow+1e-9 {
				t.Errorf("window %d too long: %+v", i, b)
			}
			if i > 0 && b.Start != w[i-1].End {
				t.Errorf("window %d not contiguous: %+v", i, w)
			}
		}
		if w[0].Start != 0 || !near(w[2].End, 65) {
			t.Errorf("windows do not cover the clip: %+v", w)
		}
	})

	t.Run("silence", func(t *testing.T) {
		if w := SpeechWindows(clipOf(part(3, false)), cfg); len(w) != 0 {
			t.Errorf("windows = %+v", w)
		}
	})
}

func TestSplitLongBlocks(t *testing.T) {
	tests := []struct {
		name   string
		blocks []SpeechBlock
		max    float64
		want   int
	}{
		{"short block kept", []SpeechBlock{{0, 10}}, 30, 1},
		{"long block split evenly", []SpeechBlock{{0, 70}}, 30, 3},
		{"exact fit", []SpeechBlock{{5, 35}}, 30, 1},
		{"no limit", []SpeechBlock{{0, 100}}, 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := splitLongBlocks(tt.blocks, tt.max)
			if len(got) != tt.want {
				t.Fatalf("splitLongBlocks() = %+v, want %d blocks", got, tt.want)
			}
			if got[0].Start != tt.blocks[0].Start || got[len(got)-1].End != tt.blocks[0].End {
				t.Errorf("split changed the span: %+v", got)
			}
		})
	}
}

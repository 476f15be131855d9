package asr

import (
	"math"

	"subforge/internal/audio"
)

// SilenceConfig tunes the energy based split of a clip into decode windows.
type SilenceConfig struct {
	// Threshold is the RMS level (0.0-1.0) below which a frame is silent.
	Threshold float64
	// MinSilence is the pause in seconds that ends a speech block.
	MinSilence float64
	// MinSpeech drops blocks shorter than this many seconds.
	MinSpeech float64
	// MergeGap joins neighbouring blocks separated by less than this.
	MergeGap float64
	// MaxWindow caps a window; Whisper decodes at most 30 seconds.
	MaxWindow float64
	// Padding widens windows so word onsets are not clipped.
	Padding float64
	// FrameSize is the number of samples per RMS frame.
	FrameSize int
}

// DefaultSilenceConfig returns settings for 16 kHz speech.
func DefaultSilenceConfig() SilenceConfig {
	return SilenceConfig{
		Threshold:  0.005,
		MinSilence: 0.3,
		MinSpeech:  0.1,
		MergeGap:   0.8,
		MaxWindow:  chunkSeconds,
		Padding:    0.2,
		FrameSize:  480, // 30ms
	}
}

// SpeechBlock is a span of a clip in seconds.
type SpeechBlock struct {
	Start float64
	End   float64
}

// SpeechWindows returns the windows of clip worth decoding, in time order.
// A silent clip yields none.
func SpeechWindows(clip audio.Clip, cfg SilenceConfig) []SpeechBlock {
	blocks := DetectSpeech(clip.Samples, clip.SampleRate, cfg)
	blocks = mergeBlocks(blocks, cfg.MergeGap, cfg.MaxWindow)
	blocks = splitLongBlocks(blocks, cfg.MaxWindow)
	return padBlocks(blocks, cfg.Padding, clip.Duration().Seconds())
}

// DetectSpeech finds spans whose frame energy stays above the threshold,
// closing a span after MinSilence of quiet frames.
func DetectSpeech(samples []float32, sampleRate int, cfg SilenceConfig) []SpeechBlock {
	if len(samples) == 0 || sampleRate <= 0 {
		return nil
	}
	frameSize := cfg.FrameSize
	if frameSize <= 0 {
		frameSize = sampleRate * 30 / 1000
	}
	frameDur := float64(frameSize) / float64(sampleRate)
	minSilenceFrames := max(1, int(cfg.MinSilence/frameDur))
	minSpeechFrames := int(cfg.MinSpeech / frameDur)
	frames := (len(samples) + frameSize - 1) / frameSize
	total := float64(len(samples)) / float64(sampleRate)

	var blocks []SpeechBlock
	emit := func(from, to int) {
		if to-from < minSpeechFrames || to <= from {
			return
		}
		blocks = append(blocks, SpeechBlock{
			Start: float64(from) * frameDur,
			End:   math.Min(float64(to)*frameDur, total),
		})
	}

	inSpeech := false
	start, silent := 0, 0
	for i := range frames {
		lo := i * frameSize
		hi := min(lo+frameSize, len(samples))
		quiet := rms(samples[lo:hi]) < cfg.Threshold

		switch {
		case !inSpeech && !quiet:
			inSpeech, start, silent = true, i, 0
		case inSpeech && quiet:
			silent++
			if silent >= minSilenceFrames {
				emit(start, i-silent+1)
				inSpeech, silent = false, 0
			}
		case inSpeech:
			silent = 0
		}
	}
	if inSpeech {
		emit(start, frames-silent)
	}
	return blocks
}

func rms(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// mergeBlocks joins blocks closer than gap as long as the result fits in
// maxWindow.
func mergeBlocks(blocks []SpeechBlock, gap, maxWindow float64) []SpeechBlock {
	var out []SpeechBlock
	for _, b := range blocks {
		if n := len(out); n > 0 {
			last := &out[n-1]
			if b.Start-last.End < gap && (maxWindow <= 0 || b.End-last.Start <= maxWindow) {
				last.End = b.End
				continue
			}
		}
		out = append(out, b)
	}
	return out
}

// splitLongBlocks cuts blocks longer than maxDuration into equal slices of
// at most maxDuration.
func splitLongBlocks(blocks []SpeechBlock, maxDuration float64) []SpeechBlock {
	if maxDuration <= 0 {
		return blocks
	}
	var out []SpeechBlock
	for _, b := range blocks {
		d := b.End - b.Start
		if d <= maxDuration {
			out = append(out, b)
			continue
		}
		n := int(math.Ceil(d / maxDuration))
		step := d / float64(n)
		for i := range n {
			end := b.Start + float64(i+1)*step
			if i == n-1 {
				end = b.End
			}
			out = append(out, SpeechBlock{Start: b.Start + float64(i)*step, End: end})
		}
	}
	return out
}

// padBlocks widens each block by pad, sharing any gap with a neighbour
// equally and staying inside the clip.
func padBlocks(blocks []SpeechBlock, pad, total float64) []SpeechBlock {
	if pad <= 0 {
		return blocks
	}
	out := make([]SpeechBlock, len(blocks))
	for i, b := range blocks {
		lo, hi := 0.0, total
		if i > 0 {
			lo = (blocks[i-1].End + b.Start) / 2
		}
		if i+1 < len(blocks) {
			hi = (b.End + blocks[i+1].Start) / 2
		}
		out[i] = SpeechBlock{Start: math.Max(lo, b.Start-pad), End: math.Min(hi, b.End+pad)}
	}
	return out
}

// Package audio decodes media into the mono float32 samples the speech
// backends consume and encodes captured PCM as WAV.
package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

var (
	// ErrDecode marks input that could not be decoded as audio.
	ErrDecode = errors.New("audio decode failed")
	// ErrScratch marks failures to prepare the conversion scratch space.
	ErrScratch = errors.New("audio scratch space unavailable")
)

// Clip is decoded mono audio.
type Clip struct {
	Samples    []float32
	SampleRate int
}

// Duration returns the clip length.
func (c Clip) Duration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(c.Samples)) * time.Second / time.Duration(c.SampleRate)
}

type wavInfo struct {
	SampleRate int
	Channels   int
	BitDepth   int
}

func probeWav(r io.ReadSeeker) (wavInfo, error) {
	d := wav.NewDecoder(r)
	if !d.IsValidFile() {
		return wavInfo{}, fmt.Errorf("%w: not a valid WAV file", ErrDecode)
	}
	return wavInfo{SampleRate: int(d.SampleRate), Channels: int(d.NumChans), BitDepth: int(d.BitDepth)}, nil
}

// Load decodes path into a 16 kHz mono clip, converting through ffmpeg into
// scratchDir when the input is not already in that shape.
func Load(ctx context.Context, path, scratchDir string) (Clip, error) {
	src := path
	if NeedsConversion(path) {
		if scratchDir == "" {
			scratchDir = os.TempDir()
		}
		if err := os.MkdirAll(scratchDir, 0755); err != nil {
			return Clip{}, fmt.Errorf("%w: %w", ErrScratch, err)
		}
		tmp, err := os.CreateTemp(scratchDir, "decode-*.wav")
		if err != nil {
			return Clip{}, fmt.Errorf("%w: failed to create scratch file: %w", ErrScratch, err)
		}
		tmp.Close()
		defer os.Remove(tmp.Name())

		if err := ConvertToWav(ctx, path, tmp.Name()); err != nil {
			return Clip{}, fmt.Errorf("%w: %w", ErrDecode, err)
		}
		src = tmp.Name()
	}

	f, err := os.Open(src)
	if err != nil {
		return Clip{}, fmt.Errorf("failed to open audio: %w", err)
	}
	defer f.Close()

	return ReadWav(f)
}

// ReadWav decodes a PCM WAV stream, mixing down to mono.
func ReadWav(r io.ReadSeeker) (Clip, error) {
	d := wav.NewDecoder(r)
	if !d.IsValidFile() {
		return Clip{}, fmt.Errorf("%w: not a valid WAV file", ErrDecode)
	}

	buf, err := d.FullPCMBuffer()
	if err != nil {
		return Clip{}, fmt.Errorf("%w: %w", ErrDecode, err)
	}

	channels := buf.Format.NumChannels
	if channels <= 0 {
		channels = 1
	}
	scale := float32(int64(1) << (uint(d.BitDepth) - 1))
	if d.BitDepth == 8 {
		// 8-bit WAV is unsigned
		for i := range buf.Data {
			buf.Data[i] -= 128
		}
	}

	frames := len(buf.Data) / channels
	samples := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for ch := 0; ch < channels; ch++ {
			sum += float32(buf.Data[i*channels+ch]) / scale
		}
		samples[i] = sum / float32(channels)
	}

	return Clip{Samples: samples, SampleRate: buf.Format.SampleRate}, nil
}

// WriteWav writes clip as 16-bit mono PCM WAV.
func WriteWav(path string, clip Clip) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create wav file: %w", err)
	}
	defer f.Close()

	data := make([]int, len(clip.Samples))
	for i, s := range clip.Samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		data[i] = int(s * 32767)
	}

	enc := wav.NewEncoder(f, clip.SampleRate, 16, 1, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: clip.SampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("failed to encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to finalize wav: %w", err)
	}
	return nil
}

// FromPCM16 decodes interleaved little-endian 16-bit PCM into a mono clip.
func FromPCM16(pcm []byte, sampleRate, channels int) (Clip, error) {
	if sampleRate <= 0 {
		return Clip{}, fmt.Errorf("%w: invalid sample rate %d", ErrDecode, sampleRate)
	}
	if channels <= 0 {
		channels = 1
	}
	frameBytes := 2 * channels
	if len(pcm)%frameBytes != 0 {
		return Clip{}, fmt.Errorf("%w: pcm length %d is not a multiple of %d", ErrDecode, len(pcm), frameBytes)
	}

	frames := len(pcm) / frameBytes
	samples := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for ch := 0; ch < channels; ch++ {
			off := i*frameBytes + ch*2
			sum += float32(int16(binary.LittleEndian.Uint16(pcm[off:]))) / 32768
		}
		samples[i] = sum / float32(channels)
	}
	return Clip{Samples: samples, SampleRate: sampleRate}, nil
}

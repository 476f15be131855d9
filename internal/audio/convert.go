package audio

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// SampleRate is the rate every speech backend expects.
const SampleRate = 16000

// SupportedFormats lists audio and video containers ffmpeg is asked to decode.
var SupportedFormats = []string{
	".mp3", ".m4a", ".aac", ".ogg", ".flac", ".wav", ".webm", ".opus",
	".mp4", ".mkv", ".mov", ".avi", ".wma",
}

// IsSupportedFormat checks the file extension against SupportedFormats.
func IsSupportedFormat(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, format := range SupportedFormats {
		if ext == format {
			return true
		}
	}
	return false
}

// ConvertToWav converts any ffmpeg-readable input to 16 kHz mono WAV.
func ConvertToWav(ctx context.Context, inputPath, outputPath string) error {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return fmt.Errorf("ffmpeg not found: please install ffmpeg to convert audio files")
	}

	if _, err := os.Stat(inputPath); os.IsNotExist(err) {
		return fmt.Errorf("input file not found: %s", inputPath)
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	// -vn drops any video stream so containers like mp4 decode quickly
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-i", inputPath,
		"-vn",
		"-ar", fmt.Sprint(SampleRate),
		"-ac", "1",
		"-f", "wav",
		"-y",
		outputPath,
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg conversion failed: %w\nOutput: %s", err, string(output))
	}

	return nil
}

// NeedsConversion reports whether path must go through ffmpeg before it can
// be decoded directly. Only 16 kHz mono WAV is read as-is.
func NeedsConversion(path string) bool {
	if strings.ToLower(filepath.Ext(path)) != ".wav" {
		return true
	}

	f, err := os.Open(path)
	if err != nil {
		return true
	}
	defer f.Close()

	info, err := probeWav(f)
	if err != nil {
		return true
	}
	return info.SampleRate != SampleRate || info.Channels != 1
}

// Duration returns the media duration reported by ffprobe.
func Duration(ctx context.Context, inputPath string) (float64, error) {
	if _, err := exec.LookPath("ffprobe"); err != nil {
		return 0, fmt.Errorf("ffprobe not found: please install ffmpeg")
	}

	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "csv=p=0",
		inputPath,
	)

	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("failed to get audio duration: %w", err)
	}

	var duration float64
	if _, err := fmt.Sscanf(strings.TrimSpace(string(output)), "%f", &duration); err != nil {
		return 0, fmt.Errorf("failed to parse duration: %w", err)
	}

	return duration, nil
}

// Package asr turns decoded audio into timestamped subtitle segments using a
// pluggable Whisper backend.
package asr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"subforge/internal/audio"
	"subforge/internal/progress"
	"subforge/internal/subtitle"
)

// ErrModelLoad marks failures to load a model into the cache.
var ErrModelLoad = errors.New("model load failed")

// Task selects between same-language transcription and translation into
// English.
type Task string

const (
	TaskTranscribe Task = "transcribe"
	TaskTranslate  Task = "translate"
)

// DecodeOptions are handed to the model unchanged. An empty Language asks the
// model to detect it.
type DecodeOptions struct {
	Language          string
	Task              Task
	BeamSize          int
	LogProbThreshold  float64
	NoSpeechThreshold float64
	Precision         string
}

// Model is a loaded speech model.
type Model interface {
	Transcribe(ctx context.Context, clip audio.Clip, opts DecodeOptions, sink progress.Sink) ([]subtitle.Segment, error)
	Close() error
}

// MemoryReleaser is implemented by models that hold per-inference scratch
// buffers that can be dropped between jobs without unloading the weights.
type MemoryReleaser interface {
	ReleaseMemory()
}

// Backend loads models of one inference engine.
type Backend interface {
	Name() string
	Models() []string
	Precisions() []string
	DefaultPrecision() string
	Load(ctx context.Context, id, precision string) (Model, error)
}

// logIgnoredThresholds records decode thresholds the engine has no setting
// for. Neither the sherpa-onnx nor the whisper.cpp Go API exposes the
// log-probability or no-speech thresholds.
func logIgnoredThresholds(logger *slog.Logger, engine string, opts DecodeOptions) {
	logger.Debug("decode thresholds not supported, ignoring",
		"engine", engine,
		"log_prob_threshold", opts.LogProbThreshold,
		"no_speech_threshold", opts.NoSpeechThreshold)
}

// NewBackend selects an inference engine by name.
func NewBackend(name, modelDir string, threads int) (Backend, error) {
	switch name {
	case "", "sherpa", "sherpa-onnx":
		return NewSherpaBackend(modelDir, threads), nil
	case "whispercpp", "whisper.cpp":
		return NewWhisperCppBackend(modelDir, threads), nil
	}
	return nil, fmt.Errorf("unknown asr backend: %q", name)
}

package asr

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	sherpa "github.com/k2-fsa/sherpa-onnx-go/sherpa_onnx"

	"subforge/internal/audio"
	"subforge/internal/progress"
	"subforge/internal/subtitle"
)

// chunkSeconds is the longest window Whisper decodes natively.
const chunkSeconds = 30

// SherpaBackend runs Whisper ONNX exports through sherpa-onnx. Models live in
// <ModelDir>/sherpa-onnx-whisper-<id>/ as published by the sherpa-onnx
// releases.
type SherpaBackend struct {
	ModelDir   string
	NumThreads int
	Provider   string
	Logger     *slog.Logger
	// Silence controls how clips are cut into decode windows.
	Silence SilenceConfig
}

// NewSherpaBackend creates a CPU backend reading models from modelDir.
func NewSherpaBackend(modelDir string, threads int) *SherpaBackend {
	if threads <= 0 {
		threads = 4
	}
	return &SherpaBackend{
		ModelDir:   modelDir,
		NumThreads: threads,
		Provider:   "cpu",
		Silence:    DefaultSilenceConfig(),
	}
}

func (b *SherpaBackend) Name() string { return "sherpa-onnx" }

func (b *SherpaBackend) Models() []string {
	return []string{
		"tiny", "tiny.en", "base", "base.en", "small", "small.en",
		"medium", "medium.en", "large-v1", "large-v2", "large-v3", "turbo",
		"distil-small.en", "distil-medium.en", "distil-large-v2",
	}
}

func (b *SherpaBackend) Precisions() []string { return []string{"int8", "float32"} }

func (b *SherpaBackend) DefaultPrecision() string { return "int8" }

func (b *SherpaBackend) logger() *slog.Logger {
	if b.Logger != nil {
		return b.Logger
	}
	return slog.Default()
}

// Load checks the model files and builds a recognizer for language detection
// so broken exports fail here rather than mid-job.
func (b *SherpaBackend) Load(ctx context.Context, id, precision string) (Model, error) {
	dir := filepath.Join(b.ModelDir, "sherpa-onnx-whisper-"+id)
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("model directory not found: %s", dir)
	}

	m := &sherpaModel{backend: b, id: id, dir: dir}
	if err := m.prepare(recognizerKey{task: TaskTranscribe, precision: precision}); err != nil {
		return nil, err
	}
	return m, nil
}

type whisperFiles struct {
	encoder string
	decoder string
	tokens  string
}

// resolveWhisperFiles prefers the files matching precision and falls back to
// the other variant when only one was downloaded.
func resolveWhisperFiles(dir, id, precision string) (whisperFiles, error) {
	int8First := precision != "float32"
	candidates := func(part string) []string {
		quant := []string{id + "-" + part + ".int8.onnx", part + ".int8.onnx"}
		full := []string{id + "-" + part + ".onnx", part + ".onnx"}
		if int8First {
			return append(quant, full...)
		}
		return append(full, quant...)
	}

	files := whisperFiles{
		encoder: findModelFile(dir, candidates("encoder")),
		decoder: findModelFile(dir, candidates("decoder")),
		tokens:  findModelFile(dir, []string{id + "-tokens.txt", "tokens.txt"}),
	}
	if files.encoder == "" {
		return files, fmt.Errorf("encoder model not found in %s", dir)
	}
	if files.decoder == "" {
		return files, fmt.Errorf("decoder model not found in %s", dir)
	}
	if files.tokens == "" {
		return files, fmt.Errorf("tokens file not found in %s", dir)
	}
	return files, nil
}

// findModelFile returns the first candidate present in dir.
func findModelFile(dir string, candidates []string) string {
	for _, candidate := range candidates {
		path := filepath.Join(dir, candidate)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sherpa-onnx fixes language and task when the recognizer is created, so the
// model keeps one recognizer and rebuilds it when they change.
type recognizerKey struct {
	language  string
	task      Task
	precision string
}

type sherpaModel struct {
	mu         sync.Mutex
	backend    *SherpaBackend
	id         string
	dir        string
	key        recognizerKey
	recognizer *sherpa.OfflineRecognizer
}

func (m *sherpaModel) prepare(key recognizerKey) error {
	if m.recognizer != nil && m.key == key {
		return nil
	}

	files, err := resolveWhisperFiles(m.dir, m.id, key.precision)
	if err != nil {
		return err
	}

	config := sherpa.OfflineRecognizerConfig{
		FeatConfig: sherpa.FeatureConfig{
			SampleRate: audio.SampleRate,
			FeatureDim: 80,
		},
		ModelConfig: sherpa.OfflineModelConfig{
			Whisper: sherpa.OfflineWhisperModelConfig{
				Encoder:  files.encoder,
				Decoder:  files.decoder,
				Language: key.language,
				Task:     string(key.task),
			},
			Tokens:     files.tokens,
			NumThreads: m.backend.NumThreads,
			Provider:   m.backend.Provider,
			Debug:      0,
		},
		// the Whisper decoder in sherpa-onnx is greedy only
		DecodingMethod: "greedy_search",
	}

	recognizer := sherpa.NewOfflineRecognizer(&config)
	if recognizer == nil {
		return fmt.Errorf("failed to create Whisper recognizer for %s", m.id)
	}
	if m.recognizer != nil {
		sherpa.DeleteOfflineRecognizer(m.recognizer)
	}
	m.recognizer = recognizer
	m.key = key
	return nil
}

// Transcribe decodes the speech windows of the clip, each at most 30
// seconds and cut at pauses. Whisper exports in sherpa-onnx return no token
// timestamps, so each window becomes one segment.
func (m *sherpaModel) Transcribe(ctx context.Context, clip audio.Clip, opts DecodeOptions, sink progress.Sink) ([]subtitle.Segment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if clip.SampleRate != audio.SampleRate {
		return nil, fmt.Errorf("expected %d Hz audio, got %d Hz", audio.SampleRate, clip.SampleRate)
	}

	key := recognizerKey{language: opts.Language, task: opts.Task, precision: opts.Precision}
	if err := m.prepare(key); err != nil {
		return nil, err
	}
	if opts.BeamSize > 1 {
		m.backend.logger().Debug("beam search not available for sherpa-onnx Whisper, using greedy", "beam_size", opts.BeamSize)
	}
	logIgnoredThresholds(m.backend.logger(), m.backend.Name(), opts)

	sink = progress.OrDiscard(sink)
	windows := SpeechWindows(clip, m.backend.Silence)
	m.backend.logger().Debug("speech windows", "model", m.id, "count", len(windows), "duration", clip.Duration())

	var segments []subtitle.Segment
	for i, w := range windows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		from := int(w.Start * float64(clip.SampleRate))
		to := min(int(w.End*float64(clip.SampleRate)), len(clip.Samples))
		if from >= to {
			continue
		}
		if text := m.decode(clip.Samples[from:to], clip.SampleRate); text != "" {
			segments = append(segments, subtitle.Segment{
				Start: subtitle.Seconds(w.Start),
				End:   subtitle.Seconds(w.End),
				Text:  text,
			})
		}
		sink.Report(float64(i+1)/float64(len(windows)), fmt.Sprintf("window %d/%d", i+1, len(windows)))
	}
	sink.Report(1, "decoded")
	return segments, nil
}

func (m *sherpaModel) decode(samples []float32, sampleRate int) string {
	stream := sherpa.NewOfflineStream(m.recognizer)
	defer sherpa.DeleteOfflineStream(stream)

	stream.AcceptWaveform(sampleRate, samples)
	m.recognizer.Decode(stream)

	result := stream.GetResult()
	if result == nil {
		return ""
	}
	return strings.TrimSpace(result.Text)
}

// Close releases the recognizer.
func (m *sherpaModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recognizer != nil {
		sherpa.DeleteOfflineRecognizer(m.recognizer)
		m.recognizer = nil
	}
	return nil
}

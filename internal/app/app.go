// Package app assembles the transcription and translation pipeline from
// configuration. The server and the command line tool share it.
package app

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"subforge/internal/asr"
	"subforge/internal/config"
	"subforge/internal/pipeline"
	"subforge/internal/telemetry"
	"subforge/internal/translate"
	"subforge/internal/youtube"
)

// Pipeline bundles the pipeline with the parts that own resources.
type Pipeline struct {
	*pipeline.Pipeline
	Backend     asr.Backend
	Transcriber *asr.Transcriber
	Translator  *translate.Dispatcher
	Videos      *youtube.Client
}

// NewPipeline builds the ASR backend, the translation dispatcher and the
// YouTube client. metrics may be nil.
func NewPipeline(cfg config.Config, metrics *telemetry.Metrics, logger *slog.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = slog.Default()
	}
	scratch := filepath.Join(cfg.Paths.Data, "scratch")
	for _, dir := range []string{cfg.Paths.Outputs, cfg.TranslationsDir(), cfg.Paths.Data, scratch} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	backend, err := asr.NewBackend(cfg.ASR.Backend, cfg.Paths.Models, cfg.ASR.Threads)
	if err != nil {
		return nil, err
	}
	transcriber := asr.NewTranscriber(backend, asr.TranscriberConfig{
		ScratchDir: scratch,
		Logger:     logger.With("component", "asr"),
		OnLoad:     metrics.LoadObserver("asr"),
	})

	var local *translate.OllamaBackend
	if cfg.Translation.Local.Enabled {
		local = translate.NewOllamaBackend(cfg.Translation.Local.Endpoint, nil)
	}
	deepl := cfg.Translation.DeepL
	translator := translate.NewDispatcher(translate.DispatcherConfig{
		OutputDir: cfg.TranslationsDir(),
		Local:     local,
		DeepLOptions: []translate.Option{
			translate.WithHTTPClient(&http.Client{Timeout: time.Duration(deepl.TimeoutSec) * time.Second}),
			translate.WithRetry(deepl.MaxRetries, time.Duration(deepl.RetryDelayMS)*time.Millisecond),
		},
		Logger: logger.With("component", "translate"),
		OnLoad: metrics.LoadObserver("translation"),
	})

	videos := youtube.NewClient(nil)
	p := pipeline.New(pipeline.Config{
		OutputDir:   cfg.Paths.Outputs,
		Transcriber: transcriber,
		Translator:  translator,
		Videos:      videos,
		Logger:      logger.With("component", "pipeline"),
	})
	return &Pipeline{
		Pipeline:    p,
		Backend:     backend,
		Transcriber: transcriber,
		Translator:  translator,
		Videos:      videos,
	}, nil
}

// Close unloads every resident model.
func (p *Pipeline) Close() {
	p.Transcriber.Close()
	p.Translator.Close()
}

// JobDefaults turns the asr section into the defaults for new requests.
func JobDefaults(cfg config.Config) asr.JobConfig {
	return asr.JobConfig{
		ModelID:           cfg.ASR.Model,
		Language:          cfg.ASR.Language,
		BeamSize:          cfg.ASR.BeamSize,
		LogProbThreshold:  cfg.ASR.LogProbThreshold,
		NoSpeechThreshold: cfg.ASR.NoSpeechThreshold,
		Precision:         cfg.ASR.Precision,
	}
}

// LocalModel returns the configured local translation model, or "" when
// local translation is off.
func LocalModel(cfg config.Config) string {
	if !cfg.Translation.Local.Enabled {
		return ""
	}
	return cfg.Translation.Local.Model
}

// Package jobs turns user requests into queued jobs, runs them through the
// pipeline on the background worker and records their artifacts.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"subforge/internal/audio"
	"subforge/internal/events"
	"subforge/internal/models"
	"subforge/internal/pipeline"
	"subforge/internal/progress"
	"subforge/internal/publish"
	"subforge/internal/storage"
	"subforge/internal/subtitle"
	"subforge/internal/telemetry"
	"subforge/internal/translate"
	"subforge/internal/worker"
)

var (
	// ErrNotFound is returned for unknown job or artifact ids.
	ErrNotFound = errors.New("not found")
	// ErrInvalid marks requests rejected before a job is queued.
	ErrInvalid = errors.New("invalid request")
)

// Upload is one file received from a client.
type Upload struct {
	Name   string
	Reader io.Reader
}

// Config wires a Service.
type Config struct {
	Jobs      *storage.JobRepository
	Artifacts *storage.ArtifactRepository
	Worker    *worker.Worker
	Pipeline  *pipeline.Pipeline
	Hub       *progress.Hub
	// Events and Mirror are optional.
	Events  *events.Publisher
	Mirror  publish.Publisher
	Metrics *telemetry.Metrics
	Tracer  trace.Tracer
	// InputsDir holds per-job upload directories.
	InputsDir string
	Logger    *slog.Logger
}

// Service is the job front end shared by the HTTP handlers.
type Service struct {
	repo      *storage.JobRepository
	artifacts *storage.ArtifactRepository
	worker    *worker.Worker
	pipeline  *pipeline.Pipeline
	hub       *progress.Hub
	events    *events.Publisher
	mirror    publish.Publisher
	metrics   *telemetry.Metrics
	tracer    trace.Tracer
	inputsDir string
	logger    *slog.Logger

	mu      sync.Mutex
	secrets map[string]string
}

// NewService creates the service and registers its handlers on the worker.
func NewService(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("subforge")
	}
	hub := cfg.Hub
	if hub == nil {
		hub = progress.NewHub()
	}
	s := &Service{
		repo:      cfg.Jobs,
		artifacts: cfg.Artifacts,
		worker:    cfg.Worker,
		pipeline:  cfg.Pipeline,
		hub:       hub,
		events:    cfg.Events,
		mirror:    cfg.Mirror,
		metrics:   cfg.Metrics,
		tracer:    tracer,
		inputsDir: cfg.InputsDir,
		logger:    logger,
		secrets:   make(map[string]string),
	}

	s.worker.RegisterHandler(models.JobKindTranscribeFile, s.traced(s.runTranscribeFiles))
	s.worker.RegisterHandler(models.JobKindTranscribeYouTube, s.traced(s.runTranscribeYouTube))
	s.worker.RegisterHandler(models.JobKindTranscribeMic, s.traced(s.runTranscribeMic))
	s.worker.RegisterHandler(models.JobKindTranslate, s.traced(s.runTranslate))
	s.worker.SetClassifier(func(err error) string { return string(pipeline.KindOf(err)) })
	s.worker.OnFinish(s.onFinish)
	return s
}

// Hub returns the live progress hub.
func (s *Service) Hub() *progress.Hub { return s.hub }

// SubmitTranscribeFiles stores the uploads and queues a transcription.
func (s *Service) SubmitTranscribeFiles(ctx context.Context, uploads []Upload, req pipeline.TranscribeRequest) (*models.Job, error) {
	if len(uploads) == 0 {
		return nil, fmt.Errorf("%w: at least one file is required", ErrInvalid)
	}
	if err := validateTranscribe(&req); err != nil {
		return nil, err
	}
	job := s.newJob(models.JobKindTranscribeFile)
	paths, err := s.saveUploads(job.WorkDir, uploads)
	if err != nil {
		return nil, err
	}
	return s.submit(ctx, job, FileParams{TranscribeRequest: req, Files: paths})
}

// SubmitTranscribeYouTube queues a download and transcription of url.
func (s *Service) SubmitTranscribeYouTube(ctx context.Context, url string, req pipeline.TranscribeRequest) (*models.Job, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, fmt.Errorf("%w: youtube url is required", ErrInvalid)
	}
	if err := validateTranscribe(&req); err != nil {
		return nil, err
	}
	job := s.newJob(models.JobKindTranscribeYouTube)
	return s.submit(ctx, job, YouTubeParams{TranscribeRequest: req, URL: url})
}

// SubmitTranscribeMic stores a recording and queues its transcription.
func (s *Service) SubmitTranscribeMic(ctx context.Context, rec Upload, req pipeline.TranscribeRequest) (*models.Job, error) {
	if rec.Reader == nil {
		return nil, fmt.Errorf("%w: recording is required", ErrInvalid)
	}
	if err := validateTranscribe(&req); err != nil {
		return nil, err
	}
	if rec.Name == "" {
		rec.Name = "recording.wav"
	}
	job := s.newJob(models.JobKindTranscribeMic)
	paths, err := s.saveUploads(job.WorkDir, []Upload{rec})
	if err != nil {
		return nil, err
	}
	return s.submit(ctx, job, MicParams{TranscribeRequest: req, File: paths[0]})
}

// SubmitTranscribePCM stores raw 16-bit little-endian PCM as a WAV file and
// queues its transcription.
func (s *Service) SubmitTranscribePCM(ctx context.Context, pcm []byte, sampleRate, channels int, req pipeline.TranscribeRequest) (*models.Job, error) {
	if len(pcm) == 0 {
		return nil, fmt.Errorf("%w: recording is empty", ErrInvalid)
	}
	clip, err := audio.FromPCM16(pcm, sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := validateTranscribe(&req); err != nil {
		return nil, err
	}
	job := s.newJob(models.JobKindTranscribeMic)
	if err := os.MkdirAll(job.WorkDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create input directory: %w", err)
	}
	path := filepath.Join(job.WorkDir, "recording.wav")
	if err := audio.WriteWav(path, clip); err != nil {
		s.removeInputs(job.WorkDir)
		return nil, err
	}
	return s.submit(ctx, job, MicParams{TranscribeRequest: req, File: path})
}

// SubmitTranslate stores subtitle uploads and queues their translation.
func (s *Service) SubmitTranslate(ctx context.Context, uploads []Upload, req translate.Request) (*models.Job, error) {
	if len(uploads) == 0 {
		return nil, fmt.Errorf("%w: at least one subtitle file is required", ErrInvalid)
	}
	provider, err := translate.ParseProvider(string(req.Provider))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	req.Provider = provider
	if provider == translate.ProviderDeepL && strings.TrimSpace(req.APIKey) == "" {
		return nil, fmt.Errorf("%w: a DeepL API key is required", ErrInvalid)
	}
	if strings.TrimSpace(req.Target) == "" {
		return nil, fmt.Errorf("%w: target language is required", ErrInvalid)
	}
	for _, u := range uploads {
		if !isSubtitleName(u.Name) {
			return nil, fmt.Errorf("%w: %s is not an .srt or .vtt file", ErrInvalid, u.Name)
		}
	}

	job := s.newJob(models.JobKindTranslate)
	paths, err := s.saveUploads(job.WorkDir, uploads)
	if err != nil {
		return nil, err
	}
	if req.APIKey != "" {
		s.mu.Lock()
		s.secrets[job.ID] = req.APIKey
		s.mu.Unlock()
	}
	queued, err := s.submit(ctx, job, TranslateParams{Request: req, Files: paths})
	if err != nil {
		s.takeSecret(job.ID)
	}
	return queued, err
}

// Get returns a job with its artifacts.
func (s *Service) Get(ctx context.Context, id string) (*models.Job, error) {
	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrNotFound
	}
	arts, err := s.artifacts.ListByJob(ctx, id)
	if err != nil {
		return nil, err
	}
	job.Artifacts = arts
	return job, nil
}

// List returns recent jobs, optionally filtered by status.
func (s *Service) List(ctx context.Context, status string, limit int) ([]models.Job, error) {
	if status != "" {
		return s.repo.ListByStatus(ctx, status, limit)
	}
	return s.repo.ListRecent(ctx, limit)
}

// Stats counts jobs per status.
func (s *Service) Stats(ctx context.Context) (map[string]int64, error) {
	return s.repo.CountByStatus(ctx)
}

// Artifact returns one artifact.
func (s *Service) Artifact(ctx context.Context, id string) (*models.Artifact, error) {
	a, err := s.artifacts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, ErrNotFound
	}
	return a, nil
}

// Cancel stops a running job or fails a queued one. Finished jobs are
// removed together with their uploads; written subtitles stay on disk.
func (s *Service) Cancel(ctx context.Context, id string) error {
	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if job == nil {
		return ErrNotFound
	}

	switch job.Status {
	case models.JobStatusRunning:
		// false means it finished between the read and the cancel
		s.worker.Cancel(id)
		return nil
	case models.JobStatusQueued:
		ok, err := s.repo.CancelQueued(ctx, id, "canceled by user")
		if err != nil {
			return err
		}
		if !ok {
			s.worker.Cancel(id)
			return nil
		}
		s.takeSecret(id)
		s.removeInputs(job.WorkDir)
		s.publish(progress.Update{JobID: id, Status: models.JobStatusFailed, Message: "canceled by user"})
		return nil
	}

	s.removeInputs(job.WorkDir)
	return s.repo.Delete(ctx, id)
}

// RunRetention deletes finished jobs older than maxAge every interval until
// ctx is done.
func (s *Service) RunRetention(ctx context.Context, interval, maxAge time.Duration) {
	if interval <= 0 || maxAge <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.repo.CleanupCompleted(ctx, maxAge)
			if err != nil {
				s.logger.Warn("job retention failed", "error", err)
				continue
			}
			if n > 0 {
				s.logger.Info("removed old jobs", "count", n)
			}
		}
	}
}

func (s *Service) newJob(kind string) *models.Job {
	id := uuid.New().String()
	return &models.Job{ID: id, Kind: kind, WorkDir: filepath.Join(s.inputsDir, id)}
}

func (s *Service) submit(ctx context.Context, job *models.Job, params any) (*models.Job, error) {
	data, err := json.Marshal(params)
	if err != nil {
		s.removeInputs(job.WorkDir)
		return nil, err
	}
	job.Params = data
	if err := s.worker.SubmitJob(ctx, job); err != nil {
		s.removeInputs(job.WorkDir)
		return nil, err
	}
	s.publish(progress.Update{JobID: job.ID, Status: models.JobStatusQueued, Label: "queued"})
	return job, nil
}

func (s *Service) saveUploads(dir string, uploads []Upload) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create input directory: %w", err)
	}
	paths := make([]string, 0, len(uploads))
	seen := make(map[string]int)
	for _, u := range uploads {
		name := uploadName(u.Name)
		if n := seen[name]; n > 0 {
			ext := filepath.Ext(name)
			name = fmt.Sprintf("%s_%d%s", strings.TrimSuffix(name, ext), n, ext)
		}
		seen[uploadName(u.Name)]++

		path := filepath.Join(dir, name)
		if err := writeFile(path, u.Reader); err != nil {
			s.removeInputs(dir)
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func writeFile(path string, r io.Reader) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to save upload: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return fmt.Errorf("failed to save upload: %w", err)
	}
	return f.Close()
}

// uploadName keeps the client's base name, made safe for the filesystem.
func uploadName(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "." || base == "/" {
		base = ""
	}
	ext := filepath.Ext(base)
	return subtitle.SafeFilename(strings.TrimSuffix(base, ext)) + strings.ToLower(ext)
}

func isSubtitleName(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".srt", ".vtt":
		return true
	}
	return false
}

func validateTranscribe(req *pipeline.TranscribeRequest) error {
	f, err := subtitle.ParseFormat(string(req.Format))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	req.Format = f
	if req.ModelID == "" {
		req.ModelID = "large-v3"
	}
	if req.BeamSize < 1 {
		req.BeamSize = 1
	}
	return nil
}

func (s *Service) removeInputs(dir string) {
	if dir == "" {
		return
	}
	if err := os.RemoveAll(dir); err != nil {
		s.logger.Warn("failed to remove job inputs", "dir", dir, "error", err)
	}
}

func (s *Service) takeSecret(jobID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := s.secrets[jobID]
	delete(s.secrets, jobID)
	return key
}

func (s *Service) publish(u progress.Update) {
	s.hub.Publish(u)
	s.events.Publish(u)
}

func (s *Service) traced(run worker.JobHandler) worker.JobHandler {
	return func(ctx context.Context, job *models.Job) (string, error) {
		ctx, span := s.tracer.Start(ctx, job.Kind, trace.WithAttributes(
			attribute.String("job.id", job.ID),
			attribute.String("job.kind", job.Kind),
		))
		defer span.End()

		summary, err := run(ctx, job)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, string(pipeline.KindOf(err)))
		}
		return summary, err
	}
}

func (s *Service) runTranscribeFiles(ctx context.Context, job *models.Job) (string, error) {
	var p FileParams
	if err := job.DecodeParams(&p); err != nil {
		return "", &pipeline.Error{Kind: pipeline.KindInput, Op: "decode params", Err: err}
	}
	res, err := s.pipeline.TranscribeFiles(ctx, pipeline.Input{Paths: p.Files, WorkDir: job.WorkDir}, p.TranscribeRequest, s.sinkFor(job.ID))
	if err != nil {
		return "", err
	}
	return s.record(ctx, job, res)
}

func (s *Service) runTranscribeYouTube(ctx context.Context, job *models.Job) (string, error) {
	var p YouTubeParams
	if err := job.DecodeParams(&p); err != nil {
		return "", &pipeline.Error{Kind: pipeline.KindInput, Op: "decode params", Err: err}
	}
	res, err := s.pipeline.TranscribeYouTube(ctx, p.URL, job.WorkDir, p.TranscribeRequest, s.sinkFor(job.ID))
	if err != nil {
		return "", err
	}
	return s.record(ctx, job, res)
}

func (s *Service) runTranscribeMic(ctx context.Context, job *models.Job) (string, error) {
	var p MicParams
	if err := job.DecodeParams(&p); err != nil {
		return "", &pipeline.Error{Kind: pipeline.KindInput, Op: "decode params", Err: err}
	}
	res, err := s.pipeline.TranscribeMic(ctx, pipeline.MicInput{Path: p.File, WorkDir: job.WorkDir}, p.TranscribeRequest, s.sinkFor(job.ID))
	if err != nil {
		return "", err
	}
	return s.record(ctx, job, res)
}

func (s *Service) runTranslate(ctx context.Context, job *models.Job) (string, error) {
	var p TranslateParams
	if err := job.DecodeParams(&p); err != nil {
		return "", &pipeline.Error{Kind: pipeline.KindInput, Op: "decode params", Err: err}
	}
	p.APIKey = s.takeSecret(job.ID)
	if p.Provider == translate.ProviderDeepL && p.APIKey == "" {
		// the key lived in memory and did not survive a restart
		s.removeInputs(job.WorkDir)
		return "", &pipeline.Error{Kind: pipeline.KindInput, Op: "translate files", Err: errors.New("DeepL API key is no longer available, submit the job again")}
	}
	res, err := s.pipeline.TranslateFiles(ctx, pipeline.Input{Paths: p.Files, WorkDir: job.WorkDir}, p.Request, s.sinkFor(job.ID))
	if err != nil {
		return "", err
	}
	return s.record(ctx, job, res)
}

// record stores the artifacts of a finished job and mirrors them when a
// mirror is configured. Mirror failures are logged, not returned.
func (s *Service) record(ctx context.Context, job *models.Job, res *pipeline.Result) (string, error) {
	for _, a := range res.Artifacts {
		art := &models.Artifact{
			JobID:   job.ID,
			Name:    a.Name,
			Path:    a.Path,
			Format:  string(a.Format),
			Elapsed: a.Elapsed,
		}
		if err := s.artifacts.Create(context.WithoutCancel(ctx), art); err != nil {
			return "", &pipeline.Error{Kind: pipeline.KindIO, Op: "record artifact", Err: err}
		}
		s.metrics.ArtifactWritten(ctx, art.Format)

		if s.mirror == nil {
			continue
		}
		url, err := s.mirror.Publish(ctx, job.ID, a.Path)
		if err != nil {
			s.logger.Warn("failed to mirror subtitle", "job", job.ID, "path", a.Path, "error", err)
			continue
		}
		if err := s.artifacts.SetRemoteURL(context.WithoutCancel(ctx), art.ID, url); err != nil {
			s.logger.Warn("failed to record mirror url", "job", job.ID, "error", err)
		}
	}

	summary := res.Summary
	if res.Downgraded {
		summary = "Only large models can translate to English; the audio was transcribed instead.\n\n" + summary
	}
	return summary, nil
}

func (s *Service) onFinish(job *models.Job, status string, err error, took time.Duration) {
	s.takeSecret(job.ID)

	u := progress.Update{JobID: job.ID, Status: status}
	errorKind := ""
	if err != nil {
		errorKind = string(pipeline.KindOf(err))
		u.Message = err.Error()
		// the pipeline removes inputs itself; a job that failed before
		// reaching it still owns them
		s.removeInputs(job.WorkDir)
	} else {
		u.Fraction = 1
		u.Label = "done"
		if stored, gerr := s.repo.GetByID(context.Background(), job.ID); gerr == nil && stored != nil {
			u.Message = stored.Summary
		}
	}
	s.metrics.JobFinished(context.Background(), job.Kind, status, errorKind, took)
	s.publish(u)
}

package jobs

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"subforge/internal/asr"
	"subforge/internal/audio"
	"subforge/internal/models"
	"subforge/internal/pipeline"
	"subforge/internal/progress"
	"subforge/internal/storage"
	"subforge/internal/subtitle"
	"subforge/internal/translate"
	"subforge/internal/worker"
)

type stubModel struct{}

func (stubModel) Transcribe(_ context.Context, _ audio.Clip, _ asr.DecodeOptions, sink progress.Sink) ([]subtitle.Segment, error) {
	sink.Report(0.5, "decoding")
	return []subtitle.Segment{{Start: 0, End: subtitle.Seconds(2), Text: "hello there"}}, nil
}

func (stubModel) Close() error { return nil }

type stubBackend struct{}

func (stubBackend) Name() string             { return "stub" }
func (stubBackend) Models() []string         { return []string{"tiny", "large-v3"} }
func (stubBackend) Precisions() []string     { return []string{"float32"} }
func (stubBackend) DefaultPrecision() string { return "float32" }
func (stubBackend) Load(context.Context, string, string) (asr.Model, error) {
	return stubModel{}, nil
}

type keyTranslator struct {
	mu   sync.Mutex
	keys []string
}

func (k *keyTranslator) factory(apiKey string, _ bool) translate.Translator {
	k.mu.Lock()
	k.keys = append(k.keys, apiKey)
	k.mu.Unlock()
	return upper{}
}

type upper struct{}

func (upper) Translate(_ context.Context, texts []string, _, _ string, _ progress.Sink) ([]string, error) {
	out := make([]string, len(texts))
	for i, s := range texts {
		out[i] = strings.ToUpper(s)
	}
	return out, nil
}

type fakeMirror struct {
	mu    sync.Mutex
	paths []string
}

func (f *fakeMirror) Publish(_ context.Context, jobID, path string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths = append(f.paths, path)
	return "http://mirror.local/subs/" + jobID + "/" + filepath.Base(path), nil
}

type harness struct {
	db     *storage.DB
	svc    *Service
	worker *worker.Worker
	outDir string
	inputs string
	deepl  *keyTranslator
	mirror *fakeMirror
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	root := t.TempDir()
	db, err := storage.Open(filepath.Join(root, "data", "jobs.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	repo := storage.NewJobRepository(db)
	w := worker.NewWorker(repo, nil)
	w.SetInterval(10 * time.Millisecond)

	h := &harness{
		db:     db,
		worker: w,
		outDir: filepath.Join(root, "outputs"),
		inputs: filepath.Join(root, "data", "inputs"),
		deepl:  &keyTranslator{},
		mirror: &fakeMirror{},
	}
	p := pipeline.New(pipeline.Config{
		OutputDir:   h.outDir,
		Transcriber: asr.NewTranscriber(stubBackend{}, asr.TranscriberConfig{ScratchDir: t.TempDir()}),
		Translator: translate.NewDispatcher(translate.DispatcherConfig{
			OutputDir: filepath.Join(h.outDir, "translations"),
			NewDeepL:  h.deepl.factory,
		}),
	})
	h.svc = NewService(Config{
		Jobs:      repo,
		Artifacts: storage.NewArtifactRepository(db),
		Worker:    w,
		Pipeline:  p,
		Mirror:    h.mirror,
		InputsDir: h.inputs,
	})
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	h.worker.Start(context.Background())
	t.Cleanup(h.worker.Stop)
}

func (h *harness) wait(t *testing.T, id string) *models.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := h.svc.Get(context.Background(), id)
		if err != nil {
			t.Fatal(err)
		}
		if job.Finished() {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s did not finish", id)
	return nil
}

func wavBytes(t *testing.T) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.wav")
	clip := audio.Clip{Samples: make([]float32, audio.SampleRate/2), SampleRate: audio.SampleRate}
	if err := audio.WriteWav(path, clip); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestTranscribeFilesJob(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	data := wavBytes(t)
	req := pipeline.TranscribeRequest{JobConfig: asr.DefaultJobConfig(), Format: subtitle.FormatSRT}
	job, err := h.svc.SubmitTranscribeFiles(ctx, []Upload{
		{Name: "talk.wav", Reader: bytes.NewReader(data)},
		{Name: "talk.wav", Reader: bytes.NewReader(data)},
	}, req)
	if err != nil {
		t.Fatalf("SubmitTranscribeFiles() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(h.inputs, job.ID, "talk_1.wav")); err != nil {
		t.Fatalf("duplicate upload name not disambiguated: %v", err)
	}

	updates, unsubscribe := h.svc.Hub().Subscribe(job.ID)
	defer unsubscribe()
	h.start(t)

	got := h.wait(t, job.ID)
	if got.Status != models.JobStatusCompleted {
		t.Fatalf("job = %+v", got)
	}
	if !strings.HasPrefix(got.Summary, "Done in ") || !strings.Contains(got.Summary, "hello there") {
		t.Errorf("summary = %q", got.Summary)
	}
	if len(got.Artifacts) != 2 {
		t.Fatalf("artifacts = %+v", got.Artifacts)
	}
	for _, a := range got.Artifacts {
		if a.Format != string(subtitle.FormatSRT) || !strings.HasPrefix(a.RemoteURL, "http://mirror.local/subs/"+job.ID) {
			t.Errorf("artifact = %+v", a)
		}
		if _, err := os.Stat(a.Path); err != nil {
			t.Errorf("artifact file missing: %v", err)
		}
	}
	if _, err := os.Stat(filepath.Join(h.inputs, job.ID)); !os.IsNotExist(err) {
		t.Error("uploads should be removed after the job")
	}

	timeout := time.After(5 * time.Second)
	for {
		select {
		case u := <-updates:
			if !u.Final() {
				continue
			}
			if u.Status != models.JobStatusCompleted || u.Fraction != 1 || u.Message != got.Summary {
				t.Errorf("final update = %+v", u)
			}
			return
		case <-timeout:
			t.Fatal("no final update")
		}
	}
}

func TestTranslateKeyStaysInMemory(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	srt := "1\n00:00:00,000 --> 00:00:01,000\nhello\n\n"
	job, err := h.svc.SubmitTranslate(ctx, []Upload{{Name: "talk.srt", Reader: strings.NewReader(srt)}},
		translate.Request{Provider: "deepl", APIKey: "secret-key", Target: "German"})
	if err != nil {
		t.Fatalf("SubmitTranslate() error = %v", err)
	}
	stored, err := h.svc.Get(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(stored.Params), "secret-key") {
		t.Fatalf("api key persisted: %s", stored.Params)
	}

	h.start(t)
	got := h.wait(t, job.ID)
	if got.Status != models.JobStatusCompleted {
		t.Fatalf("job = %+v", got)
	}
	if len(h.deepl.keys) != 1 || h.deepl.keys[0] != "secret-key" {
		t.Errorf("translator keys = %v", h.deepl.keys)
	}
	if len(got.Artifacts) != 1 || got.Artifacts[0].Path != filepath.Join(h.outDir, "translations", "talk.srt") {
		t.Errorf("artifacts = %+v", got.Artifacts)
	}
	if len(h.svc.secrets) != 0 {
		t.Error("secret not dropped after the job")
	}
}

func TestTranslateWithoutKeyAfterRestart(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	job, err := h.svc.SubmitTranslate(ctx, []Upload{{Name: "a.vtt", Reader: strings.NewReader("WEBVTT\n\n")}},
		translate.Request{Provider: "deepl", APIKey: "k", Target: "German"})
	if err != nil {
		t.Fatal(err)
	}
	h.svc.takeSecret(job.ID)

	h.start(t)
	got := h.wait(t, job.ID)
	if got.Status != models.JobStatusFailed || got.ErrorKind != string(pipeline.KindInput) {
		t.Errorf("job = %+v", got)
	}
}

func TestUnreadableParamsRemoveInputs(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	job, err := h.svc.SubmitTranscribeFiles(ctx, []Upload{{Name: "talk.wav", Reader: bytes.NewReader(wavBytes(t))}},
		pipeline.TranscribeRequest{JobConfig: asr.DefaultJobConfig()})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(job.WorkDir); err != nil {
		t.Fatalf("inputs not saved: %v", err)
	}
	if _, err := h.db.ExecContext(ctx, `UPDATE jobs SET params = '{' WHERE id = ?`, job.ID); err != nil {
		t.Fatal(err)
	}

	h.start(t)
	got := h.wait(t, job.ID)
	if got.Status != models.JobStatusFailed || got.ErrorKind != string(pipeline.KindInput) {
		t.Errorf("job = %+v", got)
	}
	// onFinish runs after the failure is persisted
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := os.Stat(job.WorkDir); os.IsNotExist(err) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("inputs left behind in %s", job.WorkDir)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSubmitValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req := pipeline.TranscribeRequest{JobConfig: asr.DefaultJobConfig()}

	tests := []struct {
		name   string
		submit func() error
	}{
		{"no files", func() error {
			_, err := h.svc.SubmitTranscribeFiles(ctx, nil, req)
			return err
		}},
		{"bad format", func() error {
			bad := req
			bad.Format = "docx"
			_, err := h.svc.SubmitTranscribeFiles(ctx, []Upload{{Name: "a.wav", Reader: strings.NewReader("x")}}, bad)
			return err
		}},
		{"no url", func() error {
			_, err := h.svc.SubmitTranscribeYouTube(ctx, "  ", req)
			return err
		}},
		{"no recording", func() error {
			_, err := h.svc.SubmitTranscribeMic(ctx, Upload{}, req)
			return err
		}},
		{"deepl without key", func() error {
			_, err := h.svc.SubmitTranslate(ctx, []Upload{{Name: "a.srt", Reader: strings.NewReader("")}},
				translate.Request{Provider: "deepl", Target: "German"})
			return err
		}},
		{"plain text subtitle", func() error {
			_, err := h.svc.SubmitTranslate(ctx, []Upload{{Name: "a.txt", Reader: strings.NewReader("")}},
				translate.Request{Provider: "deepl", APIKey: "k", Target: "German"})
			return err
		}},
		{"unknown provider", func() error {
			_, err := h.svc.SubmitTranslate(ctx, []Upload{{Name: "a.srt", Reader: strings.NewReader("")}},
				translate.Request{Provider: "babelfish", Target: "German"})
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.submit(); !errors.Is(err, ErrInvalid) {
				t.Errorf("err = %v, want ErrInvalid", err)
			}
		})
	}

	jobs, err := h.svc.List(ctx, "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 0 {
		t.Errorf("rejected requests created %d jobs", len(jobs))
	}
}

func TestCancelQueuedThenDelete(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	job, err := h.svc.SubmitTranscribeYouTube(ctx, "https://www.youtube.com/watch?v=abc", pipeline.TranscribeRequest{JobConfig: asr.DefaultJobConfig()})
	if err != nil {
		t.Fatal(err)
	}
	if err := h.svc.Cancel(ctx, job.ID); err != nil {
		t.Fatal(err)
	}
	got, err := h.svc.Get(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.JobStatusFailed || got.ErrorKind != string(pipeline.KindCanceled) {
		t.Errorf("canceled job = %+v", got)
	}

	stats, err := h.svc.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats[models.JobStatusFailed] != 1 {
		t.Errorf("stats = %v", stats)
	}

	if err := h.svc.Cancel(ctx, job.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := h.svc.Get(ctx, job.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after delete err = %v", err)
	}
	if err := h.svc.Cancel(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Cancel(missing) err = %v", err)
	}
}

func TestUploadName(t *testing.T) {
	tests := map[string]string{
		"talk.WAV":             "talk.wav",
		"../../etc/passwd":     "passwd",
		`C:\Users\me\clip.mp3`: "clip.mp3",
		"what?.srt":            "what_.srt",
		"":                     "untitled",
	}
	for in, want := range tests {
		if got := uploadName(in); got != want {
			t.Errorf("uploadName(%q) = %q, want %q", in, got, want)
		}
	}
}

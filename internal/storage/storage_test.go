package storage

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"subforge/internal/models"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "data", "test.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestJobLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRepository(openTestDB(t))

	job := &models.Job{
		Kind:    models.JobKindTranscribeFile,
		Params:  json.RawMessage(`{"model":"tiny"}`),
		WorkDir: "/tmp/job",
	}
	if err := repo.Create(ctx, job); err != nil {
		t.Fatal(err)
	}
	if job.ID == "" || job.Status != models.JobStatusQueued {
		t.Fatalf("created job = %+v", job)
	}

	next, err := repo.GetNextQueued(ctx)
	if err != nil || next == nil || next.ID != job.ID {
		t.Fatalf("GetNextQueued() = %+v, %v", next, err)
	}
	if next.WorkDir != "/tmp/job" || string(next.Params) != `{"model":"tiny"}` {
		t.Errorf("round trip = %+v", next)
	}

	if ok, err := repo.Start(ctx, job.ID); err != nil || !ok {
		t.Fatalf("Start() = %v, %v", ok, err)
	}
	if ok, _ := repo.Start(ctx, job.ID); ok {
		t.Error("started a running job twice")
	}
	if next, _ := repo.GetNextQueued(ctx); next != nil {
		t.Error("running job should not be queued")
	}
	if err := repo.UpdateProgress(ctx, job.ID, 0.5, "decoding"); err != nil {
		t.Fatal(err)
	}
	got, _ := repo.GetByID(ctx, job.ID)
	if got.Status != models.JobStatusRunning || got.Progress != 0.5 || got.Step != "decoding" || got.StartedAt == nil {
		t.Errorf("running job = %+v", got)
	}

	if err := repo.Complete(ctx, job.ID, "Done in 1 seconds!"); err != nil {
		t.Fatal(err)
	}
	got, _ = repo.GetByID(ctx, job.ID)
	if !got.Finished() || got.Progress != 1 || got.Summary != "Done in 1 seconds!" || got.CompletedAt == nil {
		t.Errorf("completed job = %+v", got)
	}
}

func TestJobFailAndStats(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRepository(openTestDB(t))

	a := &models.Job{Kind: models.JobKindTranslate}
	b := &models.Job{Kind: models.JobKindTranscribeMic}
	c := &models.Job{Kind: models.JobKindTranscribeYouTube}
	for _, j := range []*models.Job{a, b, c} {
		if err := repo.Create(ctx, j); err != nil {
			t.Fatal(err)
		}
	}

	if err := repo.Fail(ctx, a.ID, "deepl returned status 503", "network"); err != nil {
		t.Fatal(err)
	}
	got, _ := repo.GetByID(ctx, a.ID)
	if got.Status != models.JobStatusFailed || got.ErrorKind != "network" {
		t.Errorf("failed job = %+v", got)
	}

	repo.Start(ctx, b.ID)
	n, err := repo.FailInterrupted(ctx)
	if err != nil || n != 1 {
		t.Fatalf("FailInterrupted() = %d, %v", n, err)
	}

	counts, err := repo.CountByStatus(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if counts[models.JobStatusFailed] != 2 || counts[models.JobStatusQueued] != 1 {
		t.Errorf("counts = %v", counts)
	}

	failed, _ := repo.ListByStatus(ctx, models.JobStatusFailed, 0)
	if len(failed) != 2 {
		t.Errorf("ListByStatus() returned %d", len(failed))
	}
	recent, _ := repo.ListRecent(ctx, 2)
	if len(recent) != 2 || recent[0].ID != c.ID {
		t.Errorf("ListRecent() = %v", recent)
	}

	removed, err := repo.CleanupCompleted(ctx, -time.Minute)
	if err != nil || removed != 2 {
		t.Errorf("CleanupCompleted() = %d, %v", removed, err)
	}
}

func TestGetMissingJob(t *testing.T) {
	repo := NewJobRepository(openTestDB(t))
	job, err := repo.GetByID(context.Background(), "nope")
	if job != nil || err != nil {
		t.Errorf("GetByID() = %v, %v", job, err)
	}
}

func TestArtifactsCascade(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	jobs := NewJobRepository(db)
	artifacts := NewArtifactRepository(db)

	job := &models.Job{Kind: models.JobKindTranscribeFile}
	if err := jobs.Create(ctx, job); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"first", "second"} {
		a := &models.Artifact{JobID: job.ID, Name: name, Path: "outputs/" + name + ".srt", Format: "SRT", Elapsed: 1500 * time.Millisecond}
		if err := artifacts.Create(ctx, a); err != nil {
			t.Fatal(err)
		}
	}

	list, err := artifacts.ListByJob(ctx, job.ID)
	if err != nil || len(list) != 2 {
		t.Fatalf("ListByJob() = %v, %v", list, err)
	}
	if list[0].Name != "first" || list[0].Elapsed != 1500*time.Millisecond {
		t.Errorf("artifact = %+v", list[0])
	}

	if err := artifacts.SetRemoteURL(ctx, list[1].ID, "s3://subs/second.srt"); err != nil {
		t.Fatal(err)
	}
	got, _ := artifacts.GetByID(ctx, list[1].ID)
	if got.RemoteURL != "s3://subs/second.srt" {
		t.Errorf("remote url = %q", got.RemoteURL)
	}

	if err := jobs.Delete(ctx, job.ID); err != nil {
		t.Fatal(err)
	}
	if list, _ := artifacts.ListByJob(ctx, job.ID); len(list) != 0 {
		t.Errorf("artifacts survived job deletion: %v", list)
	}
}

func TestArtifactRequiresJob(t *testing.T) {
	repo := NewArtifactRepository(openTestDB(t))
	err := repo.Create(context.Background(), &models.Artifact{JobID: "missing", Name: "x", Path: "x", Format: "SRT"})
	if err == nil {
		t.Error("expected foreign key violation")
	}
}

func TestLockDir(t *testing.T) {
	dir := t.TempDir()
	first, err := LockDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := LockDir(dir); !errors.Is(err, ErrLocked) {
		t.Fatalf("second lock err = %v, want ErrLocked", err)
	}
	if err := first.Unlock(); err != nil {
		t.Fatal(err)
	}
	again, err := LockDir(dir)
	if err != nil {
		t.Fatalf("relock: %v", err)
	}
	again.Unlock()
}

func TestCancelQueued(t *testing.T) {
	db := openTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	queued := &models.Job{Kind: models.JobKindTranscribeYouTube}
	running := &models.Job{Kind: models.JobKindTranscribeYouTube}
	for _, j := range []*models.Job{queued, running} {
		if err := repo.Create(ctx, j); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := repo.Start(ctx, running.ID); err != nil {
		t.Fatal(err)
	}

	if ok, err := repo.CancelQueued(ctx, queued.ID, "canceled by user"); err != nil || !ok {
		t.Fatalf("CancelQueued(queued) = %v, %v", ok, err)
	}
	if ok, err := repo.CancelQueued(ctx, running.ID, "canceled by user"); err != nil || ok {
		t.Fatalf("CancelQueued(running) = %v, %v", ok, err)
	}
	got, _ := repo.GetByID(ctx, queued.ID)
	if got.Status != models.JobStatusFailed || got.ErrorKind != "canceled" || got.Error != "canceled by user" {
		t.Errorf("job = %+v", got)
	}

	// a cancelled job can no longer be claimed
	if ok, err := repo.Start(ctx, queued.ID); err != nil || ok {
		t.Fatalf("Start(canceled) = %v, %v", ok, err)
	}
	got, _ = repo.GetByID(ctx, queued.ID)
	if got.Status != models.JobStatusFailed || got.StartedAt != nil {
		t.Errorf("canceled job was started: %+v", got)
	}
}

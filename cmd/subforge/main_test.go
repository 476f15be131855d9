package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"subforge/internal/models"
	"subforge/internal/progress"
)

func TestRenderJobs(t *testing.T) {
	started := time.Now().Add(-90 * time.Second)
	done := started.Add(75 * time.Second)
	out := renderJobs([]models.Job{
		{ID: "0123456789abcdef", Kind: models.JobKindTranscribeFile, Status: models.JobStatusCompleted, Progress: 1, CreatedAt: started, StartedAt: &started, CompletedAt: &done},
		{ID: "fedcba", Kind: models.JobKindTranslate, Status: models.JobStatusFailed, ErrorKind: "network", CreatedAt: started},
	})
	for _, want := range []string{"01234567", "file", "completed", "100%", "1m15s", "translate", "failed (network)"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "0123456789") {
		t.Error("job id not shortened")
	}
}

func TestRenderModels(t *testing.T) {
	out := renderModels([]string{"tiny", "large-v3"}, "large-v3")
	lines := strings.Split(out, "\n")
	var tiny, large string
	for _, l := range lines {
		switch {
		case strings.Contains(l, "tiny"):
			tiny = l
		case strings.Contains(l, "large-v3"):
			large = l
		}
	}
	if !strings.Contains(tiny, "no") || strings.Contains(tiny, "*") {
		t.Errorf("tiny row = %q", tiny)
	}
	if !strings.Contains(large, "yes") || !strings.Contains(large, "*") {
		t.Errorf("large-v3 row = %q", large)
	}
}

func TestFormatUpdate(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.Local)
	tests := []struct {
		u    progress.Update
		want string
	}{
		{progress.Update{JobID: "abcdefghij", Fraction: 0.5, Label: "transcribing", Time: at}, "03:04:05  abcdefgh   50%  transcribing"},
		{progress.Update{JobID: "a", Status: "queued", Time: at}, "03:04:05  a    0%  queued"},
		{progress.Update{JobID: "a", Fraction: 1, Label: "done", Status: "completed", Time: at}, "03:04:05  a  100%  completed"},
		{progress.Update{JobID: "a", Status: "failed", Message: "boom", Time: at}, "03:04:05  a    0%  failed: boom"},
	}
	for _, tt := range tests {
		if got := formatUpdate(tt.u); got != tt.want {
			t.Errorf("formatUpdate(%+v) = %q, want %q", tt.u, got, tt.want)
		}
	}
}

func TestProgressSinkWithoutTerminal(t *testing.T) {
	var buf bytes.Buffer
	sink, done := newProgressSink(&buf)
	sink.Report(0.5, "decoding")
	done()
	if buf.Len() != 0 {
		t.Errorf("progress written to a non-terminal: %q", buf.String())
	}
}

func TestJobsCommandEmptyDatabase(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "subforge.yaml")
	cfgYAML := "paths:\n  data: " + dir + "\n  database: " + filepath.Join(dir, "jobs.db") + "\n  outputs: " + filepath.Join(dir, "out") + "\n"
	if err := os.WriteFile(cfgPath, []byte(cfgYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--config", cfgPath, "jobs"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("jobs: %v", err)
	}
	if strings.TrimSpace(out.String()) != "No jobs" {
		t.Errorf("output = %q", out.String())
	}
}

func TestWatchRequiresEvents(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetArgs([]string{"watch"})
	cmd.SetOut(&bytes.Buffer{})
	if err := cmd.Execute(); err == nil || !strings.Contains(err.Error(), "events are disabled") {
		t.Errorf("err = %v", err)
	}
}

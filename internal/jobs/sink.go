package jobs

import (
	"context"
	"math"
	"sync"

	"subforge/internal/progress"
)

// minStoredStep is the smallest progress change written to the database.
// Subscribers still see every update.
const minStoredStep = 0.01

// jobSink forwards progress to live listeners and, throttled, to the jobs
// table so pollers see it too.
type jobSink struct {
	svc   *Service
	jobID string

	mu        sync.Mutex
	lastFrac  float64
	lastLabel string
}

func (s *Service) sinkFor(jobID string) progress.Sink {
	return progress.Monotonic(&jobSink{svc: s, jobID: jobID, lastFrac: -1})
}

func (j *jobSink) Report(fraction float64, label string) {
	j.svc.publish(progress.Update{JobID: j.jobID, Fraction: fraction, Label: label, Status: "running"})

	j.mu.Lock()
	store := label != j.lastLabel || math.Abs(fraction-j.lastFrac) >= minStoredStep || fraction >= 1
	if store {
		j.lastFrac, j.lastLabel = fraction, label
	}
	j.mu.Unlock()
	if !store {
		return
	}
	if err := j.svc.repo.UpdateProgress(context.Background(), j.jobID, fraction, label); err != nil {
		j.svc.logger.Warn("failed to store job progress", "job", j.jobID, "error", err)
	}
}

package progress

import (
	"sync"
	"time"
)

// Update is one message on a job's progress stream.
type Update struct {
	JobID    string    `json:"job_id"`
	Fraction float64   `json:"fraction"`
	Label    string    `json:"label"`
	Status   string    `json:"status,omitempty"`
	Message  string    `json:"message,omitempty"`
	Time     time.Time `json:"time"`
}

// Final reports whether the update ends the stream.
func (u Update) Final() bool {
	return u.Status == "completed" || u.Status == "failed"
}

// Hub fans job updates out to subscribers. Slow subscribers lose
// intermediate updates rather than blocking the publisher.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[chan Update]struct{}
	now  func() time.Time
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		subs: make(map[string]map[chan Update]struct{}),
		now:  time.Now,
	}
}

// Subscribe registers interest in jobID. Call the returned function to
// unsubscribe; it closes the channel.
func (h *Hub) Subscribe(jobID string) (<-chan Update, func()) {
	ch := make(chan Update, 16)

	h.mu.Lock()
	if h.subs[jobID] == nil {
		h.subs[jobID] = make(map[chan Update]struct{})
	}
	h.subs[jobID][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[jobID], ch)
			if len(h.subs[jobID]) == 0 {
				delete(h.subs, jobID)
			}
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Publish delivers u to the job's current subscribers.
func (h *Hub) Publish(u Update) {
	if u.Time.IsZero() {
		u.Time = h.now()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[u.JobID] {
		select {
		case ch <- u:
		default:
			if u.Final() {
				// make room so the terminal update is never lost
				select {
				case <-ch:
				default:
				}
				select {
				case ch <- u:
				default:
				}
			}
		}
	}
}

// Sink returns a Sink that publishes running updates for jobID.
func (h *Hub) Sink(jobID string) Sink {
	return Func(func(fraction float64, label string) {
		h.Publish(Update{JobID: jobID, Fraction: fraction, Label: label, Status: "running"})
	})
}

// Subscribers returns the number of listeners for jobID.
func (h *Hub) Subscribers(jobID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[jobID])
}

// Package events mirrors job progress onto NATS so other processes can
// follow jobs without polling the HTTP API.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"subforge/internal/progress"
)

// Options configures the NATS connection.
type Options struct {
	URL     string
	Subject string
	Timeout time.Duration
}

// Publisher sends progress updates to "<subject>.jobs.<job id>". A nil
// *Publisher drops everything.
type Publisher struct {
	conn    *nats.Conn
	subject string
	log     *slog.Logger
}

// Connect dials the NATS server.
func Connect(ctx context.Context, opts Options, log *slog.Logger) (*Publisher, error) {
	if log == nil {
		log = slog.Default()
	}
	if strings.TrimSpace(opts.URL) == "" {
		return nil, errors.New("no NATS url configured")
	}
	subject := strings.Trim(opts.Subject, ".")
	if subject == "" {
		return nil, errors.New("no events subject configured")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d < timeout {
			timeout = d
		}
	}

	conn, err := nats.Connect(opts.URL,
		nats.Name("subforge"),
		nats.Timeout(timeout),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	log.Info("connected to NATS", slog.String("url", opts.URL), slog.String("subject", subject))
	return &Publisher{conn: conn, subject: subject, log: log}, nil
}

// Subject returns the subject updates for jobID are published on.
func (p *Publisher) Subject(jobID string) string {
	return JobSubject(p.subject, jobID)
}

// JobSubject builds the per-job subject under prefix. An empty jobID yields
// a wildcard matching every job.
func JobSubject(prefix, jobID string) string {
	if jobID == "" {
		jobID = "*"
	}
	return prefix + ".jobs." + jobID
}

// Publish sends u. Failures are logged and otherwise ignored.
func (p *Publisher) Publish(u progress.Update) {
	if p == nil {
		return
	}
	if u.Time.IsZero() {
		u.Time = time.Now()
	}
	data, err := json.Marshal(u)
	if err != nil {
		p.log.Warn("failed to encode job event", "job", u.JobID, "error", err)
		return
	}
	if err := p.conn.Publish(p.Subject(u.JobID), data); err != nil {
		p.log.Warn("failed to publish job event", "job", u.JobID, "error", err)
	}
}

// Healthy reports whether the connection is up.
func (p *Publisher) Healthy() bool {
	return p != nil && p.conn != nil && p.conn.Status() == nats.CONNECTED
}

// Close flushes pending messages and closes the connection.
func (p *Publisher) Close() {
	if p == nil {
		return
	}
	p.log.Info("closing NATS connection")
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
	}
}

// Watch subscribes to updates for jobID (every job when empty) and calls fn
// for each one until ctx is done.
func Watch(ctx context.Context, url, prefix, jobID string, fn func(progress.Update)) error {
	conn, err := nats.Connect(url, nats.Name("subforge-watch"))
	if err != nil {
		return fmt.Errorf("connect to nats: %w", err)
	}
	defer conn.Close()

	ch := make(chan *nats.Msg, 64)
	sub, err := conn.ChanSubscribe(JobSubject(strings.Trim(prefix, "."), jobID), ch)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-ch:
			var u progress.Update
			if err := json.Unmarshal(msg.Data, &u); err != nil {
				continue
			}
			fn(u)
		}
	}
}

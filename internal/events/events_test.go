package events

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"

	"subforge/internal/progress"
)

func startServer(t *testing.T) string {
	t.Helper()
	ns, err := server.NewServer(&server.Options{Host: "127.0.0.1", Port: -1})
	if err != nil {
		t.Fatal(err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		t.Fatal("nats server not ready")
	}
	t.Cleanup(func() {
		ns.Shutdown()
		ns.WaitForShutdown()
	})
	return ns.ClientURL()
}

func TestPublishAndWatch(t *testing.T) {
	url := startServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got := make(chan progress.Update, 4)
	watchErr := make(chan error, 1)
	go func() {
		watchErr <- Watch(ctx, url, "subforge", "job-1", func(u progress.Update) { got <- u })
	}()

	pub, err := Connect(ctx, Options{URL: url, Subject: "subforge."}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer pub.Close()
	if !pub.Healthy() {
		t.Fatal("publisher not connected")
	}
	if s := pub.Subject("job-1"); s != "subforge.jobs.job-1" {
		t.Fatalf("Subject = %q", s)
	}

	// the subscription is set up asynchronously; publish until it lands
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	for {
		pub.Publish(progress.Update{JobID: "job-2", Fraction: 0.9, Label: "other"})
		pub.Publish(progress.Update{JobID: "job-1", Fraction: 0.5, Label: "Transcribing"})
		select {
		case u := <-got:
			if u.JobID != "job-1" || u.Fraction != 0.5 || u.Label != "Transcribing" {
				t.Fatalf("update = %+v", u)
			}
			if u.Time.IsZero() {
				t.Error("update time not set")
			}
			cancel()
			if err := <-watchErr; err != nil {
				t.Fatal(err)
			}
			return
		case <-tick.C:
		case <-ctx.Done():
			t.Fatal("no update received")
		}
	}
}

func TestNilPublisher(t *testing.T) {
	var p *Publisher
	p.Publish(progress.Update{JobID: "x"})
	p.Close()
	if p.Healthy() {
		t.Error("nil publisher reported healthy")
	}
}

func TestConnectValidation(t *testing.T) {
	if _, err := Connect(context.Background(), Options{Subject: "s"}, nil); err == nil {
		t.Error("expected error without url")
	}
	if _, err := Connect(context.Background(), Options{URL: "nats://127.0.0.1:1"}, nil); err == nil {
		t.Error("expected error without subject")
	}
}

func TestJobSubjectWildcard(t *testing.T) {
	if got := JobSubject("subforge", ""); got != "subforge.jobs.*" {
		t.Errorf("JobSubject = %q", got)
	}
}

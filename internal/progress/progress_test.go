package progress

import (
	"math"
	"testing"
)

type capture struct {
	fractions []float64
	labels    []string
}

func (c *capture) Report(f float64, l string) {
	c.fractions = append(c.fractions, f)
	c.labels = append(c.labels, l)
}

func TestMultiSkipsNil(t *testing.T) {
	a, b := &capture{}, &capture{}
	Multi(a, nil, b).Report(0.5, "half")
	if len(a.fractions) != 1 || len(b.fractions) != 1 {
		t.Errorf("a=%v b=%v", a.fractions, b.fractions)
	}
}

func TestScale(t *testing.T) {
	c := &capture{}
	s := Scale(c, 0.2, 0.6)
	s.Report(0, "start")
	s.Report(0.5, "mid")
	s.Report(2, "over")

	want := []float64{0.2, 0.4, 0.6}
	for i, w := range want {
		if math.Abs(c.fractions[i]-w) > 1e-9 {
			t.Errorf("report %d = %v, want %v", i, c.fractions[i], w)
		}
	}
}

func TestMonotonic(t *testing.T) {
	c := &capture{}
	s := Monotonic(c)
	for _, f := range []float64{0.1, 0.5, 0.3, 0.9} {
		s.Report(f, "")
	}
	want := []float64{0.1, 0.5, 0.5, 0.9}
	for i, w := range want {
		if c.fractions[i] != w {
			t.Errorf("report %d = %v, want %v", i, c.fractions[i], w)
		}
	}
}

func TestOrDiscard(t *testing.T) {
	OrDiscard(nil).Report(1, "no panic")
}

func TestHubDelivers(t *testing.T) {
	h := NewHub()
	ch, cancel := h.Subscribe("job-1")
	defer cancel()

	h.Sink("job-1").Report(0.25, "transcribing")
	h.Publish(Update{JobID: "job-2", Fraction: 1})

	u := <-ch
	if u.JobID != "job-1" || u.Fraction != 0.25 || u.Label != "transcribing" || u.Status != "running" {
		t.Errorf("unexpected update: %+v", u)
	}
	if u.Time.IsZero() {
		t.Error("update time not set")
	}
	select {
	case extra := <-ch:
		t.Errorf("received update for another job: %+v", extra)
	default:
	}
}

func TestHubKeepsFinalUpdate(t *testing.T) {
	h := NewHub()
	ch, cancel := h.Subscribe("job")
	defer cancel()

	for i := 0; i < 100; i++ {
		h.Sink("job").Report(float64(i)/100, "")
	}
	h.Publish(Update{JobID: "job", Fraction: 1, Status: "completed"})

	var last Update
	for len(ch) > 0 {
		last = <-ch
	}
	if !last.Final() {
		t.Errorf("last update = %+v, want completed", last)
	}
}

func TestHubUnsubscribe(t *testing.T) {
	h := NewHub()
	_, cancel := h.Subscribe("job")
	if h.Subscribers("job") != 1 {
		t.Fatal("expected one subscriber")
	}
	cancel()
	cancel()
	if h.Subscribers("job") != 0 {
		t.Error("subscriber not removed")
	}
	h.Publish(Update{JobID: "job"})
}

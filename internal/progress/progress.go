// Package progress carries fractional completion reports from long-running
// calls to whoever is watching a job.
package progress

import "sync"

// Sink receives progress synchronously from inside a long-running call.
// Fraction is in [0, 1].
type Sink interface {
	Report(fraction float64, label string)
}

// Func adapts a function to Sink.
type Func func(fraction float64, label string)

// Report implements Sink.
func (f Func) Report(fraction float64, label string) { f(fraction, label) }

// Discard drops every report.
var Discard Sink = Func(func(float64, string) {})

// OrDiscard returns s, or Discard when s is nil.
func OrDiscard(s Sink) Sink {
	if s == nil {
		return Discard
	}
	return s
}

type multi []Sink

func (m multi) Report(fraction float64, label string) {
	for _, s := range m {
		s.Report(fraction, label)
	}
}

// Multi fans a report out to every non-nil sink.
func Multi(sinks ...Sink) Sink {
	var out multi
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

// Scale maps [0, 1] of a sub-step onto [from, to] of the parent sink.
func Scale(s Sink, from, to float64) Sink {
	s = OrDiscard(s)
	return Func(func(fraction float64, label string) {
		s.Report(from+(to-from)*clamp(fraction), label)
	})
}

// Monotonic suppresses reports that would move the fraction backwards.
func Monotonic(s Sink) Sink {
	s = OrDiscard(s)
	var mu sync.Mutex
	last := 0.0
	return Func(func(fraction float64, label string) {
		fraction = clamp(fraction)
		mu.Lock()
		if fraction < last {
			fraction = last
		}
		last = fraction
		mu.Unlock()
		s.Report(fraction, label)
	})
}

func clamp(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}

// Package profiler - Stage timing for decode pipelines.
package profiler

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"time"
)

// DefaultMaxSamples bounds the samples kept per stage.
const DefaultMaxSamples = 600

// Stat summarizes the retained durations of one stage. Every field covers
// the sliding window only.
type Stat struct {
	Name  string
	Count int64
	Total time.Duration
	Min   time.Duration
	Max   time.Duration
	Last  time.Duration
}

// Avg returns the mean over the retained samples.
func (s Stat) Avg() time.Duration {
	if s.Count == 0 {
		return 0
	}
	return s.Total / time.Duration(s.Count)
}

// TimeTracker tracks timing statistics of one stage over a sliding window.
type TimeTracker struct {
	name      string
	durations []time.Duration
	totalTime time.Duration
}

func (t *TimeTracker) record(d time.Duration, maxSamples int) {
	t.durations = append(t.durations, d)
	t.totalTime += d
	if len(t.durations) > maxSamples {
		t.totalTime -= t.durations[0]
		t.durations = t.durations[1:]
	}
}

func (t *TimeTracker) stat() Stat {
	s := Stat{
		Name:  t.name,
		Count: int64(len(t.durations)),
		Total: t.totalTime,
	}
	for i, d := range t.durations {
		if i == 0 || d < s.Min {
			s.Min = d
		}
		if d > s.Max {
			s.Max = d
		}
	}
	if n := len(t.durations); n > 0 {
		s.Last = t.durations[n-1]
	}
	return s
}

// Timings records named stage durations. It is safe for concurrent use.
type Timings struct {
	mu         sync.RWMutex
	maxSamples int
	stages     map[string]*TimeTracker
}

// NewTimings creates an empty recorder.
//
// Arguments:
//   - maxSamples: Samples kept per stage. 0 picks DefaultMaxSamples.
//
// Returns:
//   - *Timings: The recorder.
func NewTimings(maxSamples int) *Timings {
	if maxSamples <= 0 {
		maxSamples = DefaultMaxSamples
	}
	return &Timings{maxSamples: maxSamples, stages: make(map[string]*TimeTracker)}
}

// Start begins timing a stage and returns the function that stops it.
//
// @example
// done := timings.Start("seeds")
// defer done()
func (t *Timings) Start(name string) func() {
	start := time.Now()
	return func() {
		t.Record(name, time.Since(start))
	}
}

// Record adds one duration to a stage.
func (t *Timings) Record(name string, d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tracker, ok := t.stages[name]
	if !ok {
		tracker = &TimeTracker{name: name}
		t.stages[name] = tracker
	}
	tracker.record(d, t.maxSamples)
}

// Stats returns the summary of a stage.
func (t *Timings) Stats(name string) (Stat, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	tracker, ok := t.stages[name]
	if !ok {
		return Stat{Name: name}, false
	}
	return tracker.stat(), true
}

// Names returns the recorded stage names in lexical order.
func (t *Timings) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	names := make([]string, 0, len(t.stages))
	for name := range t.stages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Report writes one line per stage.
func (t *Timings) Report(w io.Writer) error {
	for _, name := range t.Names() {
		s, _ := t.Stats(name)
		if _, err := fmt.Fprintf(w, "  %s: avg=%v, min=%v, max=%v, count=%d\n",
			name, s.Avg().Truncate(time.Microsecond),
			s.Min.Truncate(time.Microsecond),
			s.Max.Truncate(time.Microsecond),
			s.Count); err != nil {
			return err
		}
	}
	return nil
}

package utils

import (
	"sort"
	"sync"
	"time"
)

const defaultLatencyWindow = 512

// LatencyTracker keeps the most recent samples in a fixed ring and computes percentiles over them.
type LatencyTracker struct {
	mu      sync.RWMutex
	samples []time.Duration
	next    int
	full    bool
}

// NewLatencyTracker creates a tracker holding up to window samples.
func NewLatencyTracker(window int) *LatencyTracker {
	if window <= 0 {
		window = defaultLatencyWindow
	}
	return &LatencyTracker{samples: make([]time.Duration, window)}
}

// Observe records d, overwriting the oldest sample once the window is full.
func (l *LatencyTracker) Observe(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.samples[l.next] = d
	l.next++
	if l.next == len(l.samples) {
		l.next = 0
		l.full = true
	}
}

// Percentile returns the p-th percentile (0-100) of the window, or zero without samples.
func (l *LatencyTracker) Percentile(p float64) time.Duration {
	l.mu.RLock()
	window := append([]time.Duration(nil), l.samples[:l.count()]...)
	l.mu.RUnlock()

	if len(window) == 0 {
		return 0
	}
	sort.Slice(window, func(i, j int) bool { return window[i] < window[j] })
	switch {
	case p <= 0:
		return window[0]
	case p >= 100:
		return window[len(window)-1]
	}
	return window[int(p/100*float64(len(window)-1))]
}

// Count returns the number of samples in the window.
func (l *LatencyTracker) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.count()
}

func (l *LatencyTracker) count() int {
	if l.full {
		return len(l.samples)
	}
	return l.next
}

// InsightLatencies tracks analysis latency per insight and across all of them.
type InsightLatencies struct {
	mu       sync.Mutex
	window   int
	all      *LatencyTracker
	insights map[string]*LatencyTracker
	observed map[string]int
}

// NewInsightLatencies creates per-insight trackers of the given window lazily.
func NewInsightLatencies(window int) *InsightLatencies {
	return &InsightLatencies{
		window:   window,
		all:      NewLatencyTracker(window),
		insights: make(map[string]*LatencyTracker),
		observed: make(map[string]int),
	}
}

// Observe records d for insight and returns how many samples that insight has seen in total.
func (s *InsightLatencies) Observe(insight string, d time.Duration) int {
	s.mu.Lock()
	tracker, ok := s.insights[insight]
	if !ok {
		tracker = NewLatencyTracker(s.window)
		s.insights[insight] = tracker
	}
	s.observed[insight]++
	total := s.observed[insight]
	s.mu.Unlock()

	tracker.Observe(d)
	s.all.Observe(d)
	return total
}

// P95 returns the p95 latency of insight, or across all insights when insight is empty.
func (s *InsightLatencies) P95(insight string) time.Duration {
	if insight == "" {
		return s.all.Percentile(95)
	}
	s.mu.Lock()
	tracker, ok := s.insights[insight]
	s.mu.Unlock()
	if !ok {
		return 0
	}
	return tracker.Percentile(95)
}

// Snapshot returns the p95 latency of every insight observed so far.
func (s *InsightLatencies) Snapshot() map[string]time.Duration {
	s.mu.Lock()
	trackers := make(map[string]*LatencyTracker, len(s.insights))
	for name, tracker := range s.insights {
		trackers[name] = tracker
	}
	s.mu.Unlock()

	out := make(map[string]time.Duration, len(trackers))
	for name, tracker := range trackers {
		out[name] = tracker.Percentile(95)
	}
	return out
}

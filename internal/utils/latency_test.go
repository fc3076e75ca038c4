package utils

import (
	"testing"
	"time"
)

func TestLatencyTrackerPercentile(t *testing.T) {
	tracker := NewLatencyTracker(10)
	if tracker.Percentile(95) != 0 {
		t.Fatalf("expected zero percentile without samples")
	}
	for _, ms := range []int{50, 10, 40, 20, 30} {
		tracker.Observe(time.Duration(ms) * time.Millisecond)
	}

	if tracker.Count() != 5 {
		t.Fatalf("expected count 5, got %d", tracker.Count())
	}
	if got := tracker.Percentile(0); got != 10*time.Millisecond {
		t.Fatalf("expected min 10ms, got %v", got)
	}
	if got := tracker.Percentile(100); got != 50*time.Millisecond {
		t.Fatalf("expected max 50ms, got %v", got)
	}
	if got := tracker.Percentile(95); got != 40*time.Millisecond {
		t.Fatalf("expected p95 40ms, got %v", got)
	}
}

func TestLatencyTrackerWindowDropsOldest(t *testing.T) {
	tracker := NewLatencyTracker(3)
	for i := 1; i <= 10; i++ {
		tracker.Observe(time.Duration(i) * time.Millisecond)
	}
	if tracker.Count() != 3 {
		t.Fatalf("expected window of 3, got %d", tracker.Count())
	}
	if got := tracker.Percentile(0); got != 8*time.Millisecond {
		t.Fatalf("expected oldest kept sample 8ms, got %v", got)
	}
}

func TestInsightLatenciesSeparatesInsights(t *testing.T) {
	latencies := NewInsightLatencies(16)
	for i := 0; i < 4; i++ {
		latencies.Observe("sleep", 10*time.Millisecond)
	}
	if total := latencies.Observe("prediction", 200*time.Millisecond); total != 1 {
		t.Fatalf("expected first prediction sample, got %d", total)
	}

	if got := latencies.P95("sleep"); got != 10*time.Millisecond {
		t.Fatalf("expected sleep p95 10ms, got %v", got)
	}
	if got := latencies.P95("prediction"); got != 200*time.Millisecond {
		t.Fatalf("expected prediction p95 200ms, got %v", got)
	}
	if got := latencies.P95("routine"); got != 0 {
		t.Fatalf("expected no routine samples, got %v", got)
	}
	if got := latencies.P95(""); got != 10*time.Millisecond {
		t.Fatalf("expected overall p95 10ms, got %v", got)
	}

	snapshot := latencies.Snapshot()
	if len(snapshot) != 2 || snapshot["prediction"] != 200*time.Millisecond {
		t.Fatalf("unexpected snapshot: %v", snapshot)
	}
}

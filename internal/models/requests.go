package models

import (
	"fmt"
	"time"
)

// DateRange is a closed interval [Start, End].
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the closed range.
func (r DateRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && !t.After(r.End)
}

// Validate ensures the range is well formed.
func (r DateRange) Validate() error {
	if r.Start.IsZero() || r.End.IsZero() {
		return fmt.Errorf("date range start and end are required")
	}
	if r.End.Before(r.Start) {
		return fmt.Errorf("date range end precedes start")
	}
	return nil
}

// LastDays returns the range covering the n days up to now.
func LastDays(now time.Time, n int) DateRange {
	return DateRange{Start: now.AddDate(0, 0, -n), End: now}
}

// AnalysisSettings carries the per-call cloud preferences.
type AnalysisSettings struct {
	CloudEnabled  bool
	WiFiOnly      bool
	AnonymizeData bool
}

// AnalysisRequest is the input to every orchestrator entry point.
type AnalysisRequest struct {
	BabyID    string
	Range     DateRange
	Settings  AnalysisSettings
	BirthDate *time.Time
}

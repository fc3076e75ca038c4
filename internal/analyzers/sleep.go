package analyzers

import (
	"fmt"
	"time"

	"github.com/miradorstack/nestling/internal/models"
)

const (
	shortNightHours        = 8.0
	longNightHours         = 12.0
	frequentInterruptions  = 3.0
	regularSleepVariance   = 2.0
	irregularSleepVariance = 4.0
)

// SleepAnalyzer derives sleep-pattern diagnostics from sleep records.
type SleepAnalyzer struct {
	table *RecommendationTable
	now   func() time.Time
}

// NewSleepAnalyzer constructs a SleepAnalyzer; nil arguments fall back to defaults.
func NewSleepAnalyzer(table *RecommendationTable, now func() time.Time) *SleepAnalyzer {
	if table == nil {
		table = DefaultRecommendationTable()
	}
	if now == nil {
		now = systemClock
	}
	return &SleepAnalyzer{table: table, now: now}
}

// Analyze scores the sleep records starting inside dateRange.
func (a *SleepAnalyzer) Analyze(records []models.ActivityRecord, dateRange models.DateRange) (models.SleepAnalysis, error) {
	records = inRange(records, dateRange)
	if len(records) == 0 {
		return models.SleepAnalysis{}, models.ErrInsufficientData
	}

	patterns := make([]models.Pattern, 0, 4)

	night := make([]models.ActivityRecord, 0, len(records))
	for _, r := range records {
		if r.IsNightSleep() {
			night = append(night, r)
		}
	}
	if len(night) > 0 {
		hours := meanDurationSeconds(night) / 3600
		switch {
		case hours < shortNightHours:
			patterns = append(patterns, newPattern(models.PatternShortNightSleep,
				fmt.Sprintf("Night sleep averages %.1f hours, below the %.0f hour guideline", hours, shortNightHours)))
		case hours > longNightHours:
			patterns = append(patterns, newPattern(models.PatternLongNightSleep,
				fmt.Sprintf("Night sleep averages %.1f hours, above %.0f hours", hours, longNightHours)))
		default:
			patterns = append(patterns, newPattern(models.PatternNormalNightSleep,
				fmt.Sprintf("Night sleep averages %.1f hours", hours)))
		}
	}

	interruptions := 0
	for _, r := range records {
		interruptions += r.InterruptionCount()
	}
	if mean := float64(interruptions) / float64(len(records)); mean > frequentInterruptions {
		patterns = append(patterns, newPattern(models.PatternFrequentInterruptions,
			fmt.Sprintf("Sleep is interrupted %.1f times per session on average", mean)))
	}

	if variance, ok := hourVariance(records); ok {
		switch {
		case variance < regularSleepVariance:
			patterns = append(patterns, newPattern(models.PatternRegularSleepSchedule,
				"Sleep starts at a consistent time of day"))
		case variance > irregularSleepVariance:
			patterns = append(patterns, newPattern(models.PatternIrregularSleepSchedule,
				fmt.Sprintf("Sleep start times vary widely (variance %.1f)", variance)))
		}
	}

	return models.SleepAnalysis{
		ID:                     newID(),
		AnalysisTime:           a.now(),
		Patterns:               patterns,
		Recommendations:        a.table.Recommend(patterns),
		QualityScore:           score(patterns),
		AverageDurationSeconds: meanDurationSeconds(records),
		Source:                 models.SourceLocal,
	}, nil
}

package analyzers

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/nestling/internal/models"
)

const (
	baselineScore = 70

	// minScheduleSamples is the smallest sample for which start-hour variance is meaningful.
	minScheduleSamples = 2
)

// patternRule carries the fixed confidence and score delta of a pattern type.
type patternRule struct {
	confidence float64
	delta      int
}

var patternRules = map[models.PatternType]patternRule{
	models.PatternShortNightSleep:        {confidence: 0.8, delta: -10},
	models.PatternLongNightSleep:         {confidence: 0.7, delta: -10},
	models.PatternNormalNightSleep:       {confidence: 0.9, delta: 10},
	models.PatternFrequentInterruptions:  {confidence: 0.8, delta: -15},
	models.PatternRegularSleepSchedule:   {confidence: 0.85, delta: 10},
	models.PatternIrregularSleepSchedule: {confidence: 0.75, delta: -10},
	models.PatternRegularFeeding:         {confidence: 0.8, delta: 10},
	models.PatternIrregularFeeding:       {confidence: 0.7, delta: -10},
	models.PatternDominantFeedingType:    {confidence: 0.7, delta: 0},
	models.PatternDiverseActivities:      {confidence: 0.7, delta: 10},
	models.PatternInsufficient:           {confidence: 0.5, delta: 0},
}

func newPattern(t models.PatternType, description string) models.Pattern {
	return models.Pattern{
		Type:        t,
		Confidence:  patternRules[t].confidence,
		Description: description,
	}
}

// score applies the table-driven deltas to the baseline and clamps to [0,100].
func score(patterns []models.Pattern) int {
	total := baselineScore
	for _, p := range patterns {
		total += patternRules[p.Type].delta
	}
	return int(clamp(float64(total), 0, 100))
}

// hourVariance is the plain variance of the integer start hour (0-23).
func hourVariance(records []models.ActivityRecord) (float64, bool) {
	if len(records) < minScheduleSamples {
		return 0, false
	}
	mean := 0.0
	for _, r := range records {
		mean += float64(r.StartTime.Hour())
	}
	mean /= float64(len(records))

	variance := 0.0
	for _, r := range records {
		variance += math.Pow(float64(r.StartTime.Hour())-mean, 2)
	}
	return variance / float64(len(records)), true
}

// meanStartHour averages the fractional start hour of the records.
func meanStartHour(records []models.ActivityRecord) float64 {
	if len(records) == 0 {
		return 0
	}
	total := 0.0
	for _, r := range records {
		total += float64(r.StartTime.Hour()) + float64(r.StartTime.Minute())/60
	}
	return total / float64(len(records))
}

// meanDurationSeconds treats a missing duration as zero.
func meanDurationSeconds(records []models.ActivityRecord) float64 {
	if len(records) == 0 {
		return 0
	}
	total := 0.0
	for _, r := range records {
		d, _ := r.DurationSeconds()
		total += d
	}
	return total / float64(len(records))
}

// inRange keeps the records starting inside dateRange; an unset range keeps everything.
func inRange(records []models.ActivityRecord, dateRange models.DateRange) []models.ActivityRecord {
	if dateRange.Validate() != nil {
		return records
	}
	out := make([]models.ActivityRecord, 0, len(records))
	for _, r := range records {
		if dateRange.Contains(r.StartTime) {
			out = append(out, r)
		}
	}
	return out
}

func clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

func newID() string {
	return uuid.NewString()
}

func systemClock() time.Time {
	return time.Now()
}

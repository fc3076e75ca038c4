package analyzers

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/miradorstack/nestling/internal/models"
)

const (
	regularFeedingVariance   = 1.5
	irregularFeedingVariance = 3.0
	dominantFeedingShare     = 0.7
	diverseActivityKinds     = 3
)

// RoutineAnalyzer measures how regular the daily routine is across sleep, feeding and activities.
type RoutineAnalyzer struct {
	table *RecommendationTable
	now   func() time.Time
}

// NewRoutineAnalyzer constructs a RoutineAnalyzer; nil arguments fall back to defaults.
func NewRoutineAnalyzer(table *RecommendationTable, now func() time.Time) *RoutineAnalyzer {
	if table == nil {
		table = DefaultRecommendationTable()
	}
	if now == nil {
		now = systemClock
	}
	return &RoutineAnalyzer{table: table, now: now}
}

// Analyze fails with ErrInsufficientData only when every source is empty.
func (a *RoutineAnalyzer) Analyze(sleep, feeding, activity []models.ActivityRecord, dateRange models.DateRange) (models.RoutineAnalysis, error) {
	sleep = inRange(sleep, dateRange)
	feeding = inRange(feeding, dateRange)
	activity = inRange(activity, dateRange)
	if len(sleep) == 0 && len(feeding) == 0 && len(activity) == 0 {
		return models.RoutineAnalysis{}, models.ErrInsufficientData
	}

	patterns := make([]models.Pattern, 0, 4)

	if variance, ok := hourVariance(sleep); ok {
		switch {
		case variance < regularSleepVariance:
			patterns = append(patterns, newPattern(models.PatternRegularSleepSchedule,
				"Sleep starts at a consistent time of day"))
		case variance > irregularSleepVariance:
			patterns = append(patterns, newPattern(models.PatternIrregularSleepSchedule,
				fmt.Sprintf("Sleep start times vary widely (variance %.1f)", variance)))
		}
	}

	if variance, ok := hourVariance(feeding); ok {
		switch {
		case variance < regularFeedingVariance:
			patterns = append(patterns, newPattern(models.PatternRegularFeeding,
				"Feedings happen at predictable times"))
		case variance > irregularFeedingVariance:
			patterns = append(patterns, newPattern(models.PatternIrregularFeeding,
				fmt.Sprintf("Feeding times vary widely (variance %.1f)", variance)))
		}
	}

	if p, ok := dominantFeeding(feeding); ok {
		patterns = append(patterns, p)
	}

	if kinds := distinctActivityTypes(activity); len(kinds) >= diverseActivityKinds {
		p := newPattern(models.PatternDiverseActivities,
			fmt.Sprintf("%d different kinds of activities were logged", len(kinds)))
		p.Attributes = map[string]string{"kinds": strconv.Itoa(len(kinds))}
		patterns = append(patterns, p)
	}

	if len(patterns) == 0 {
		patterns = append(patterns, newPattern(models.PatternInsufficient,
			"Not enough consistent data yet to identify a routine"))
	}

	return models.RoutineAnalysis{
		ID:              newID(),
		AnalysisTime:    a.now(),
		Patterns:        patterns,
		Recommendations: a.table.Recommend(patterns),
		RegularityScore: score(patterns),
		Source:          models.SourceLocal,
	}, nil
}

func dominantFeeding(feeding []models.ActivityRecord) (models.Pattern, bool) {
	if len(feeding) == 0 {
		return models.Pattern{}, false
	}
	counts := make(map[models.FeedingType]int)
	for _, r := range feeding {
		counts[r.FeedingKindOf()]++
	}
	types := make([]models.FeedingType, 0, len(counts))
	for t := range counts {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool {
		if counts[types[i]] == counts[types[j]] {
			return types[i] < types[j]
		}
		return counts[types[i]] > counts[types[j]]
	})

	top := types[0]
	share := float64(counts[top]) / float64(len(feeding))
	if share <= dominantFeedingShare {
		return models.Pattern{}, false
	}
	percentage := int(share*100 + 0.5)
	return models.Pattern{
		Type:        models.PatternDominantFeedingType,
		Confidence:  clamp(share, 0, 1),
		Description: fmt.Sprintf("%s feeding accounts for %d%% of feedings", top, percentage),
		Attributes: map[string]string{
			"feeding_type": string(top),
			"percentage":   strconv.Itoa(percentage),
		},
	}, true
}

func distinctActivityTypes(activity []models.ActivityRecord) map[string]struct{} {
	kinds := make(map[string]struct{})
	for _, r := range activity {
		if r.Kind.ActivityType != "" {
			kinds[r.Kind.ActivityType] = struct{}{}
		}
	}
	return kinds
}

package models

// PatternType tags a detected pattern.
type PatternType string

const (
	PatternShortNightSleep        PatternType = "short_night_sleep"
	PatternLongNightSleep         PatternType = "long_night_sleep"
	PatternNormalNightSleep       PatternType = "normal_night_sleep"
	PatternFrequentInterruptions  PatternType = "frequent_interruptions"
	PatternRegularSleepSchedule   PatternType = "regular_sleep_schedule"
	PatternIrregularSleepSchedule PatternType = "irregular_sleep_schedule"
	PatternRegularFeeding         PatternType = "regular_feeding_schedule"
	PatternIrregularFeeding       PatternType = "irregular_feeding_schedule"
	PatternDominantFeedingType    PatternType = "dominant_feeding_type"
	PatternDiverseActivities      PatternType = "diverse_activities"
	PatternInsufficient           PatternType = "insufficient_pattern"
)

// Pattern is a single finding with a confidence in [0,1].
type Pattern struct {
	Type        PatternType       `json:"type"`
	Confidence  float64           `json:"confidence"`
	Description string            `json:"description"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

// Recommendation is advice attached to an analysis; lower Priority is more urgent.
type Recommendation struct {
	Category   string `json:"category"`
	Suggestion string `json:"suggestion"`
	Priority   int    `json:"priority"`
}

package models

import "time"

// Source records which path produced a result.
type Source string

const (
	SourceLocal Source = "local"
	SourceCloud Source = "cloud"
)

// SleepAnalysis is the sleep-pattern result.
type SleepAnalysis struct {
	ID                     string           `json:"id"`
	AnalysisTime           time.Time        `json:"analysis_time"`
	Patterns               []Pattern        `json:"patterns"`
	Recommendations        []Recommendation `json:"recommendations"`
	QualityScore           int              `json:"quality_score"`
	AverageDurationSeconds float64          `json:"average_duration_seconds"`
	Source                 Source           `json:"source"`
}

// RoutineAnalysis is the routine/regularity result.
type RoutineAnalysis struct {
	ID              string           `json:"id"`
	AnalysisTime    time.Time        `json:"analysis_time"`
	Patterns        []Pattern        `json:"patterns"`
	Recommendations []Recommendation `json:"recommendations"`
	RegularityScore int              `json:"regularity_score"`
	Source          Source           `json:"source"`
}

// SleepPrediction forecasts the next sleep in a cohort.
type SleepPrediction struct {
	PredictedStartTime time.Time     `json:"predicted_start_time"`
	PredictedDuration  time.Duration `json:"predicted_duration"`
	Confidence         float64       `json:"confidence"`
	IsNightSleep       bool          `json:"is_night_sleep"`
}

// FeedingPrediction forecasts the next feeding of a given type.
type FeedingPrediction struct {
	PredictedTime time.Time   `json:"predicted_time"`
	PredictedType FeedingType `json:"predicted_type"`
	Confidence    float64     `json:"confidence"`
}

// PredictionResult bundles the short-horizon forecasts.
type PredictionResult struct {
	ID                 string              `json:"id"`
	PredictionTime     time.Time           `json:"prediction_time"`
	SleepPredictions   []SleepPrediction   `json:"sleep_predictions"`
	FeedingPredictions []FeedingPrediction `json:"feeding_predictions"`
	ConfidenceScore    float64             `json:"confidence_score"`
	Source             Source              `json:"source"`
}

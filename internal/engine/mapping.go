package engine

import (
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/nestling/internal/models"
	"github.com/miradorstack/nestling/internal/repo"
)

// Cloud responses are normalised so that results satisfy the same bounds as local ones.

func sleepFromCloud(resp repo.SleepResponse, now time.Time) models.SleepAnalysis {
	return models.SleepAnalysis{
		ID:                     firstNonEmpty(resp.AnalysisID, uuid.NewString()),
		AnalysisTime:           timeOr(resp.AnalysisTime, now),
		Patterns:               patternsFromCloud(resp.Patterns),
		Recommendations:        recommendationsFromCloud(resp.Recommendations),
		QualityScore:           clampScore(resp.QualityScore),
		AverageDurationSeconds: math.Max(resp.AverageDurationSeconds, 0),
		Source:                 models.SourceCloud,
	}
}

func routineFromCloud(resp repo.RoutineResponse, now time.Time) models.RoutineAnalysis {
	return models.RoutineAnalysis{
		ID:              firstNonEmpty(resp.AnalysisID, uuid.NewString()),
		AnalysisTime:    timeOr(resp.AnalysisTime, now),
		Patterns:        patternsFromCloud(resp.Patterns),
		Recommendations: recommendationsFromCloud(resp.Recommendations),
		RegularityScore: clampScore(resp.RegularityScore),
		Source:          models.SourceCloud,
	}
}

func predictionFromCloud(resp repo.PredictionResponse, now time.Time) models.PredictionResult {
	result := models.PredictionResult{
		ID:                 firstNonEmpty(resp.PredictionID, uuid.NewString()),
		PredictionTime:     timeOr(resp.PredictionTime, now),
		SleepPredictions:   make([]models.SleepPrediction, 0, len(resp.SleepPredictions)),
		FeedingPredictions: make([]models.FeedingPrediction, 0, len(resp.FeedingPredictions)),
		ConfidenceScore:    clamp(resp.ConfidenceScore, 0, 100),
		Source:             models.SourceCloud,
	}
	for _, p := range resp.SleepPredictions {
		result.SleepPredictions = append(result.SleepPredictions, models.SleepPrediction{
			PredictedStartTime: p.PredictedStartTime,
			PredictedDuration:  time.Duration(math.Max(p.PredictedDurationSeconds, 0) * float64(time.Second)),
			Confidence:         clamp(p.Confidence, 0, 1),
			IsNightSleep:       p.IsNightSleep,
		})
	}
	for _, p := range resp.FeedingPredictions {
		result.FeedingPredictions = append(result.FeedingPredictions, models.FeedingPrediction{
			PredictedTime: p.PredictedTime,
			PredictedType: feedingType(p.PredictedType),
			Confidence:    clamp(p.Confidence, 0, 1),
		})
	}
	return result
}

func patternsFromCloud(in []repo.PatternDTO) []models.Pattern {
	out := make([]models.Pattern, 0, len(in))
	for _, p := range in {
		if strings.TrimSpace(p.Type) == "" {
			continue
		}
		out = append(out, models.Pattern{
			Type:        models.PatternType(p.Type),
			Confidence:  clamp(p.Confidence, 0, 1),
			Description: p.Description,
			Attributes:  p.Attributes,
		})
	}
	return out
}

func recommendationsFromCloud(in []repo.RecommendationDTO) []models.Recommendation {
	out := make([]models.Recommendation, 0, len(in))
	for _, r := range in {
		out = append(out, models.Recommendation{
			Category:   r.Category,
			Suggestion: r.Suggestion,
			Priority:   r.Priority,
		})
	}
	return out
}

func feedingType(value string) models.FeedingType {
	switch t := models.FeedingType(strings.ToLower(strings.TrimSpace(value))); t {
	case models.FeedingBreast, models.FeedingBottle, models.FeedingFormula, models.FeedingSolid:
		return t
	default:
		return models.FeedingOther
	}
}

func clampScore(score int) int {
	return int(clamp(float64(score), 0, 100))
}

func clamp(value, min, max float64) float64 {
	if math.IsNaN(value) || value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

func timeOr(t, fallback time.Time) time.Time {
	if t.IsZero() {
		return fallback
	}
	return t
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

package analyzers

import (
	"sort"
	"time"

	"github.com/miradorstack/nestling/internal/models"
)

const (
	nightConfidence     = 0.8
	dayConfidence       = 0.6
	feedingConfidence   = 0.7
	minFeedingsPerType  = 3
	baselineConfidence  = 50.0
	moderateVolume      = 5
	highVolume          = 10
	regularSleepBonus   = 15.0
	irregularSleepMalus = 10.0
	moderateVolumeBonus = 5.0
	highVolumeBonus     = 10.0
)

// PredictionEngine forecasts the next sleep and feeding events.
type PredictionEngine struct {
	now func() time.Time
}

// NewPredictionEngine constructs a PredictionEngine with the given clock.
func NewPredictionEngine(now func() time.Time) *PredictionEngine {
	if now == nil {
		now = systemClock
	}
	return &PredictionEngine{now: now}
}

// Predict fails with ErrInsufficientData when sleep, feeding and activity are all empty.
func (e *PredictionEngine) Predict(sleep, feeding, activity []models.ActivityRecord, dateRange models.DateRange) (models.PredictionResult, error) {
	sleep = inRange(sleep, dateRange)
	feeding = inRange(feeding, dateRange)
	activity = inRange(activity, dateRange)
	if len(sleep) == 0 && len(feeding) == 0 && len(activity) == 0 {
		return models.PredictionResult{}, models.ErrInsufficientData
	}

	now := e.now()
	result := models.PredictionResult{
		ID:                 newID(),
		PredictionTime:     now,
		SleepPredictions:   e.predictSleep(now, sleep),
		FeedingPredictions: e.predictFeeding(now, feeding),
		Source:             models.SourceLocal,
	}
	result.ConfidenceScore = confidenceScore(sleep, feeding, activity)
	return result, nil
}

func (e *PredictionEngine) predictSleep(now time.Time, sleep []models.ActivityRecord) []models.SleepPrediction {
	var night, day []models.ActivityRecord
	for _, r := range sleep {
		if r.IsNightSleep() {
			night = append(night, r)
		} else {
			day = append(day, r)
		}
	}

	predictions := make([]models.SleepPrediction, 0, 2)
	if len(night) > 0 {
		predictions = append(predictions, models.SleepPrediction{
			PredictedStartTime: nextAtHour(now.In(latestLocation(night)), meanStartHour(night)),
			PredictedDuration:  time.Duration(meanDurationSeconds(night) * float64(time.Second)),
			Confidence:         nightConfidence,
			IsNightSleep:       true,
		})
	}
	if len(day) > 0 {
		predictions = append(predictions, models.SleepPrediction{
			PredictedStartTime: nextAtHour(now.In(latestLocation(day)), meanStartHour(day)),
			PredictedDuration:  time.Duration(meanDurationSeconds(day) * float64(time.Second)),
			Confidence:         dayConfidence,
		})
	}
	return predictions
}

func (e *PredictionEngine) predictFeeding(now time.Time, feeding []models.ActivityRecord) []models.FeedingPrediction {
	byType := make(map[models.FeedingType][]models.ActivityRecord)
	for _, r := range feeding {
		t := r.FeedingKindOf()
		byType[t] = append(byType[t], r)
	}

	predictions := make([]models.FeedingPrediction, 0, len(byType))
	for feedingType, records := range byType {
		if len(records) < minFeedingsPerType {
			continue
		}
		sort.Slice(records, func(i, j int) bool {
			return records[i].StartTime.Before(records[j].StartTime)
		})
		interval := meanInterval(records)
		if interval <= 0 {
			continue
		}
		next := records[len(records)-1].StartTime.Add(interval)
		if next.Before(now) {
			next = now.Add(interval)
		}
		predictions = append(predictions, models.FeedingPrediction{
			PredictedTime: next,
			PredictedType: feedingType,
			Confidence:    feedingConfidence,
		})
	}
	sort.Slice(predictions, func(i, j int) bool {
		return predictions[i].PredictedTime.Before(predictions[j].PredictedTime)
	})
	return predictions
}

func confidenceScore(sleep, feeding, activity []models.ActivityRecord) float64 {
	confidence := baselineConfidence
	for _, n := range []int{len(sleep), len(feeding), len(activity)} {
		switch {
		case n > highVolume:
			confidence += highVolumeBonus
		case n > moderateVolume:
			confidence += moderateVolumeBonus
		}
	}
	if variance, ok := hourVariance(sleep); ok {
		switch {
		case variance < regularSleepVariance:
			confidence += regularSleepBonus
		case variance > irregularSleepVariance:
			confidence -= irregularSleepMalus
		}
	}
	return clamp(confidence, 0, 100)
}

// meanInterval expects records sorted by start time.
func meanInterval(records []models.ActivityRecord) time.Duration {
	if len(records) < 2 {
		return 0
	}
	total := records[len(records)-1].StartTime.Sub(records[0].StartTime)
	return total / time.Duration(len(records)-1)
}

// latestLocation is the zone of the most recent record; start hours are wall-clock in that zone.
func latestLocation(records []models.ActivityRecord) *time.Location {
	latest := records[0]
	for _, r := range records[1:] {
		if r.StartTime.After(latest.StartTime) {
			latest = r
		}
	}
	return latest.StartTime.Location()
}

// nextAtHour returns today at the fractional hour, or tomorrow if that moment has passed.
func nextAtHour(now time.Time, hour float64) time.Time {
	minutes := int(hour*60 + 0.5)
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	candidate := midnight.Add(time.Duration(minutes) * time.Minute)
	if candidate.Before(now) {
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate
}

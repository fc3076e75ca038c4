package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// KindType enumerates the record families the engine understands.
type KindType string

const (
	KindSleep    KindType = "sleep"
	KindFeeding  KindType = "feeding"
	KindActivity KindType = "activity"
)

// RecordKind tags a record as Sleep, Feeding or Generic(ActivityType).
type RecordKind struct {
	Type         KindType `json:"type"`
	ActivityType string   `json:"activity_type,omitempty"`
}

// SleepKind returns the sleep record kind.
func SleepKind() RecordKind { return RecordKind{Type: KindSleep} }

// FeedingKind returns the feeding record kind.
func FeedingKind() RecordKind { return RecordKind{Type: KindFeeding} }

// GenericKind returns a generic activity kind carrying its activity type.
func GenericKind(activityType string) RecordKind {
	return RecordKind{Type: KindActivity, ActivityType: activityType}
}

// FeedingType captures how a feeding was given.
type FeedingType string

const (
	FeedingBreast  FeedingType = "breast"
	FeedingBottle  FeedingType = "bottle"
	FeedingFormula FeedingType = "formula"
	FeedingSolid   FeedingType = "solid"
	FeedingOther   FeedingType = "other"
)

// Interruption is a single wake-up during a sleep session.
type Interruption struct {
	Time            time.Time `json:"time"`
	Reason          string    `json:"reason,omitempty"`
	DurationSeconds float64   `json:"duration_seconds,omitempty"`
}

// Environment describes the sleep setting as recorded by the caregiver.
type Environment struct {
	TemperatureC *float64 `json:"temperature_c,omitempty"`
	HumidityPct  *float64 `json:"humidity_pct,omitempty"`
	NoiseLevel   string   `json:"noise_level,omitempty"`
	LightLevel   string   `json:"light_level,omitempty"`
}

// SleepMetadata holds sleep-only fields.
type SleepMetadata struct {
	QualityScore  *int           `json:"quality_score,omitempty" validate:"omitempty,gte=1,lte=10"`
	IsNightSleep  bool           `json:"is_night_sleep"`
	Environment   *Environment   `json:"environment,omitempty"`
	Interruptions []Interruption `json:"interruptions,omitempty"`
}

// FeedingMetadata holds feeding-only fields.
type FeedingMetadata struct {
	Type     FeedingType `json:"type"`
	AmountML *float64    `json:"amount_ml,omitempty" validate:"omitempty,gte=0"`
}

// Metadata groups the optional structured fields of a record.
type Metadata struct {
	Sleep   *SleepMetadata   `json:"sleep,omitempty"`
	Feeding *FeedingMetadata `json:"feeding,omitempty"`
	Notes   string           `json:"notes,omitempty"`
}

// ActivityRecord is the normalized representation of a sleep, feeding or generic event.
type ActivityRecord struct {
	ID        string     `json:"id" validate:"required"`
	BabyID    string     `json:"baby_id" validate:"required"`
	Kind      RecordKind `json:"kind"`
	StartTime time.Time  `json:"start_time" validate:"required"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	Metadata  *Metadata  `json:"metadata,omitempty"`
}

// ErrInvalidRecord reports a record that violates the record invariants.
var ErrInvalidRecord = errors.New("invalid activity record")

// NewActivityRecord builds a record and enforces that EndTime, when set, is after StartTime.
func NewActivityRecord(id, babyID string, kind RecordKind, start time.Time, end *time.Time, meta *Metadata) (ActivityRecord, error) {
	rec := ActivityRecord{
		ID:        id,
		BabyID:    babyID,
		Kind:      kind,
		StartTime: start,
		EndTime:   end,
		Metadata:  meta,
	}
	if err := rec.Validate(); err != nil {
		return ActivityRecord{}, err
	}
	return rec, nil
}

// Validate checks the structural invariants of the record.
func (r ActivityRecord) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	switch r.Kind.Type {
	case KindSleep, KindFeeding:
	case KindActivity:
		if r.Kind.ActivityType == "" {
			return fmt.Errorf("%w: generic activity requires an activity type", ErrInvalidRecord)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidRecord, r.Kind.Type)
	}
	if r.EndTime != nil && !r.EndTime.After(r.StartTime) {
		return fmt.Errorf("%w: end time must be after start time", ErrInvalidRecord)
	}
	return nil
}

// DurationSeconds returns EndTime-StartTime when the record has ended.
func (r ActivityRecord) DurationSeconds() (float64, bool) {
	if r.EndTime == nil {
		return 0, false
	}
	d := r.EndTime.Sub(r.StartTime).Seconds()
	if d < 0 {
		return 0, false
	}
	return d, true
}

// Sleep returns the sleep metadata or nil.
func (r ActivityRecord) Sleep() *SleepMetadata {
	if r.Metadata == nil {
		return nil
	}
	return r.Metadata.Sleep
}

// Feeding returns the feeding metadata or nil.
func (r ActivityRecord) Feeding() *FeedingMetadata {
	if r.Metadata == nil {
		return nil
	}
	return r.Metadata.Feeding
}

// Notes returns the free-text notes, if any.
func (r ActivityRecord) Notes() string {
	if r.Metadata == nil {
		return ""
	}
	return r.Metadata.Notes
}

// IsNightSleep reports whether the record is flagged as night sleep.
func (r ActivityRecord) IsNightSleep() bool {
	if s := r.Sleep(); s != nil {
		return s.IsNightSleep
	}
	return false
}

// InterruptionCount returns the number of recorded interruptions.
func (r ActivityRecord) InterruptionCount() int {
	if s := r.Sleep(); s != nil {
		return len(s.Interruptions)
	}
	return 0
}

// FeedingKindOf returns the feeding type, defaulting to FeedingOther.
func (r ActivityRecord) FeedingKindOf() FeedingType {
	if f := r.Feeding(); f != nil && f.Type != "" {
		return f.Type
	}
	return FeedingOther
}

// Package privacy turns activity records into payloads that are safe to send off the device.
package privacy

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/nestling/internal/models"
)

// PayloadKind names the insight a payload is built for.
type PayloadKind string

const (
	PayloadSleep   PayloadKind = "sleep"
	PayloadRoutine PayloadKind = "routine"
)

// Payload is the wire-safe form of a record batch.
type Payload struct {
	DeviceID      string      `json:"deviceId"`
	SessionID     string      `json:"sessionId"`
	Kind          PayloadKind `json:"kind"`
	RecordCount   int         `json:"recordCount"`
	TimeSpanDays  int         `json:"timeSpanDays"`
	BabyAgeMonths *int        `json:"babyAgeMonths,omitempty"`
	Records       []Record    `json:"records"`
}

// Record is a single anonymized entry; all times are offsets in seconds from the batch origin.
type Record struct {
	RecordID        string         `json:"recordId"`
	Kind            string         `json:"kind"`
	ActivityType    string         `json:"activityType,omitempty"`
	StartOffset     int64          `json:"startOffset"`
	EndOffset       *int64         `json:"endOffset,omitempty"`
	DurationSeconds *float64       `json:"durationSeconds,omitempty"`
	Sleep           *SleepDetail   `json:"sleep,omitempty"`
	Feeding         *FeedingDetail `json:"feeding,omitempty"`
	Notes           *string        `json:"notes,omitempty"`
}

// SleepDetail carries the sleep metadata that survives anonymization.
type SleepDetail struct {
	QualityScore  *int           `json:"qualityScore,omitempty"`
	IsNightSleep  bool           `json:"isNightSleep"`
	TemperatureC  *float64       `json:"temperatureC,omitempty"`
	HumidityPct   *float64       `json:"humidityPct,omitempty"`
	NoiseLevel    string         `json:"noiseLevel,omitempty"`
	LightLevel    string         `json:"lightLevel,omitempty"`
	Interruptions []Interruption `json:"interruptions,omitempty"`
}

// Interruption keeps only a vocabulary reason and relative timing.
type Interruption struct {
	Offset          int64   `json:"offset"`
	Reason          string  `json:"reason"`
	DurationSeconds float64 `json:"durationSeconds,omitempty"`
}

// FeedingDetail carries the feeding metadata that survives anonymization.
type FeedingDetail struct {
	Type     string   `json:"type"`
	AmountML *float64 `json:"amountMl,omitempty"`
}

// Batch is the input of AnonymizeBatch. BirthDate is only turned into babyAgeMonths.
type Batch struct {
	Kind      PayloadKind
	Records   []models.ActivityRecord
	BirthDate *time.Time
}

// Anonymizer is deterministic for a fixed device identity apart from the session id.
type Anonymizer struct {
	deviceHash string
	salt       string
	now        func() time.Time
	newSession func() string
}

// Option customizes an Anonymizer.
type Option func(*Anonymizer)

// WithClock sets the clock used for babyAgeMonths.
func WithClock(now func() time.Time) Option {
	return func(a *Anonymizer) {
		if now != nil {
			a.now = now
		}
	}
}

// WithSessionIDs replaces the session id generator.
func WithSessionIDs(gen func() string) Option {
	return func(a *Anonymizer) {
		if gen != nil {
			a.newSession = gen
		}
	}
}

// New builds an Anonymizer for the given raw device identifier.
func New(deviceID string, opts ...Option) *Anonymizer {
	a := &Anonymizer{
		deviceHash: digest("nestling-device", deviceID),
		salt:       deviceID,
		now:        time.Now,
		newSession: uuid.NewString,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// DeviceID returns the hashed device identifier placed in every payload.
func (a *Anonymizer) DeviceID() string { return a.deviceHash }

// Anonymize converts records without age information.
func (a *Anonymizer) Anonymize(records []models.ActivityRecord, kind PayloadKind) Payload {
	return a.AnonymizeBatch(Batch{Kind: kind, Records: records})
}

// AnonymizeBatch converts a batch into a Payload.
func (a *Anonymizer) AnonymizeBatch(batch Batch) Payload {
	records := make([]models.ActivityRecord, len(batch.Records))
	copy(records, batch.Records)
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].StartTime.Before(records[j].StartTime)
	})

	payload := Payload{
		DeviceID:    a.deviceHash,
		SessionID:   a.newSession(),
		Kind:        batch.Kind,
		RecordCount: len(records),
		Records:     make([]Record, 0, len(records)),
	}
	if batch.BirthDate != nil {
		months := completedMonths(*batch.BirthDate, a.now())
		payload.BabyAgeMonths = &months
	}
	if len(records) == 0 {
		return payload
	}

	origin, latest := bounds(records)
	payload.TimeSpanDays = int(latest.Sub(origin) / (24 * time.Hour))
	for _, r := range records {
		payload.Records = append(payload.Records, a.record(r, origin))
	}
	return payload
}

func (a *Anonymizer) record(r models.ActivityRecord, origin time.Time) Record {
	out := Record{
		RecordID:    digest(a.salt, r.ID)[:32],
		Kind:        string(r.Kind.Type),
		StartOffset: offset(origin, r.StartTime),
		Notes:       redactNotes(r.Notes()),
	}
	if r.Kind.Type == models.KindActivity {
		out.ActivityType = closedToken(r.Kind.ActivityType, activityTypes)
	}
	if r.EndTime != nil {
		end := offset(origin, *r.EndTime)
		out.EndOffset = &end
	}
	if d, ok := r.DurationSeconds(); ok {
		out.DurationSeconds = &d
	}
	if s := r.Sleep(); s != nil {
		detail := &SleepDetail{QualityScore: s.QualityScore, IsNightSleep: s.IsNightSleep}
		if env := s.Environment; env != nil {
			detail.TemperatureC = env.TemperatureC
			detail.HumidityPct = env.HumidityPct
			detail.NoiseLevel = optionalToken(env.NoiseLevel, levels)
			detail.LightLevel = optionalToken(env.LightLevel, levels)
		}
		for _, in := range s.Interruptions {
			detail.Interruptions = append(detail.Interruptions, Interruption{
				Offset:          offset(origin, in.Time),
				Reason:          closedToken(in.Reason, interruptionReasons),
				DurationSeconds: in.DurationSeconds,
			})
		}
		out.Sleep = detail
	}
	if f := r.Feeding(); f != nil {
		out.Feeding = &FeedingDetail{Type: string(r.FeedingKindOf()), AmountML: f.AmountML}
	}
	return out
}

// bounds returns the earliest start and the latest start or end across records.
func bounds(records []models.ActivityRecord) (time.Time, time.Time) {
	origin := records[0].StartTime
	latest := origin
	for _, r := range records {
		if r.StartTime.Before(origin) {
			origin = r.StartTime
		}
		if r.StartTime.After(latest) {
			latest = r.StartTime
		}
		if r.EndTime != nil && r.EndTime.After(latest) {
			latest = *r.EndTime
		}
	}
	return origin, latest
}

func offset(origin, t time.Time) int64 {
	return int64(t.Sub(origin) / time.Second)
}

func completedMonths(birth, now time.Time) int {
	if now.Before(birth) {
		return 0
	}
	months := (now.Year()-birth.Year())*12 + int(now.Month()) - int(birth.Month())
	if now.Day() < birth.Day() {
		months--
	}
	if months < 0 {
		return 0
	}
	return months
}

func digest(salt, value string) string {
	sum := sha256.Sum256([]byte(salt + "\x00" + value))
	return hex.EncodeToString(sum[:])
}

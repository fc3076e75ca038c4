package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/nestling/internal/models"
	"github.com/miradorstack/nestling/internal/utils"
)

// DefaultRangeDays is the analysis window used when a request names neither start nor end.
const DefaultRangeDays = 7

// ErrInvalidRequest marks a malformed or incomplete request message.
var ErrInvalidRequest = errors.New("invalid request")

var validate = validator.New()

// AnalysisRequest is the wire shape of AnalyzeSleep, AnalyzeRoutine and GeneratePrediction requests.
type AnalysisRequest struct {
	BabyID        string `json:"baby_id" validate:"required"`
	Start         string `json:"start,omitempty" validate:"required_with=End"`
	End           string `json:"end,omitempty" validate:"required_with=Start"`
	Days          int    `json:"days,omitempty" validate:"gte=0,lte=366"`
	BirthDate     string `json:"birth_date,omitempty"`
	CloudEnabled  *bool  `json:"cloud_enabled,omitempty"`
	WiFiOnly      *bool  `json:"wifi_only,omitempty"`
	AnonymizeData *bool  `json:"anonymize_data,omitempty"`
}

// RecordRequest is the wire shape of a RecordActivity request.
type RecordRequest struct {
	ID           string           `json:"id,omitempty"`
	BabyID       string           `json:"baby_id" validate:"required"`
	Kind         string           `json:"kind" validate:"required,oneof=sleep feeding activity"`
	ActivityType string           `json:"activity_type,omitempty" validate:"required_if=Kind activity"`
	Start        string           `json:"start" validate:"required"`
	End          string           `json:"end,omitempty"`
	Metadata     *models.Metadata `json:"metadata,omitempty"`
}

// RecordResponse acknowledges a stored record.
type RecordResponse struct {
	ID     string `json:"id"`
	Stored bool   `json:"stored"`
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}

func decodeStruct(in *structpb.Struct, out any) error {
	if in == nil {
		return invalid("request is nil")
	}
	data, err := protojson.Marshal(in)
	if err != nil {
		return invalid("encode request: %v", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return invalid("decode request: %v", err)
	}
	if err := validate.Struct(out); err != nil {
		return invalid("%v", err)
	}
	return nil
}

// ToStruct renders v through its JSON form into a protobuf Struct.
func ToStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	return out, nil
}

// FromStruct decodes a protobuf Struct into v via JSON.
func FromStruct(in *structpb.Struct, v any) error {
	if in == nil {
		return errors.New("response is nil")
	}
	data, err := protojson.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// FromAnalysisStruct maps the gRPC message into a domain AnalysisRequest.
// Unset settings take the values in defaults.
func FromAnalysisStruct(in *structpb.Struct, defaults models.AnalysisSettings, now time.Time) (models.AnalysisRequest, error) {
	var req AnalysisRequest
	if err := decodeStruct(in, &req); err != nil {
		return models.AnalysisRequest{}, err
	}

	out := models.AnalysisRequest{BabyID: strings.TrimSpace(req.BabyID), Settings: defaults}
	if out.BabyID == "" {
		return models.AnalysisRequest{}, invalid("baby_id is required")
	}

	if req.Start == "" {
		days := req.Days
		if days == 0 {
			days = DefaultRangeDays
		}
		out.Range = models.LastDays(now, days)
	} else {
		start, err := utils.ParseRFC3339(req.Start)
		if err != nil {
			return models.AnalysisRequest{}, invalid("start: %v", err)
		}
		end, err := utils.ParseRFC3339(req.End)
		if err != nil {
			return models.AnalysisRequest{}, invalid("end: %v", err)
		}
		if !end.After(start) {
			return models.AnalysisRequest{}, invalid("end must be after start")
		}
		out.Range = models.DateRange{Start: start, End: end}
	}

	if req.BirthDate != "" {
		birth, err := utils.ParseRFC3339(req.BirthDate)
		if err != nil {
			return models.AnalysisRequest{}, invalid("birth_date: %v", err)
		}
		out.BirthDate = &birth
	}
	if req.CloudEnabled != nil {
		out.Settings.CloudEnabled = *req.CloudEnabled
	}
	if req.WiFiOnly != nil {
		out.Settings.WiFiOnly = *req.WiFiOnly
	}
	if req.AnonymizeData != nil {
		out.Settings.AnonymizeData = *req.AnonymizeData
	}
	return out, nil
}

// ToAnalysisStruct builds the request message sent by clients.
func ToAnalysisStruct(req AnalysisRequest) (*structpb.Struct, error) {
	return ToStruct(req)
}

// FromRecordStruct maps a RecordActivity message into a validated ActivityRecord.
// A missing id is generated.
func FromRecordStruct(in *structpb.Struct) (models.ActivityRecord, error) {
	var req RecordRequest
	if err := decodeStruct(in, &req); err != nil {
		return models.ActivityRecord{}, err
	}

	var kind models.RecordKind
	switch models.KindType(req.Kind) {
	case models.KindSleep:
		kind = models.SleepKind()
	case models.KindFeeding:
		kind = models.FeedingKind()
	default:
		kind = models.GenericKind(req.ActivityType)
	}

	start, err := utils.ParseRFC3339(req.Start)
	if err != nil {
		return models.ActivityRecord{}, invalid("start: %v", err)
	}
	var end *time.Time
	if req.End != "" {
		t, err := utils.ParseRFC3339(req.End)
		if err != nil {
			return models.ActivityRecord{}, invalid("end: %v", err)
		}
		end = &t
	}

	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	record, err := models.NewActivityRecord(id, req.BabyID, kind, start, end, req.Metadata)
	if err != nil {
		return models.ActivityRecord{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return record, nil
}

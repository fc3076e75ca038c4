package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/nestling/internal/models"
)

type analyzerStub struct {
	err     error
	lastReq models.AnalysisRequest
}

func (a *analyzerStub) AnalyzeSleepPattern(_ context.Context, req models.AnalysisRequest) (models.SleepAnalysis, error) {
	a.lastReq = req
	if a.err != nil {
		return models.SleepAnalysis{}, a.err
	}
	return models.SleepAnalysis{ID: "s-1", QualityScore: 70, Source: models.SourceLocal}, nil
}

func (a *analyzerStub) AnalyzeRoutine(_ context.Context, req models.AnalysisRequest) (models.RoutineAnalysis, error) {
	a.lastReq = req
	if a.err != nil {
		return models.RoutineAnalysis{}, a.err
	}
	return models.RoutineAnalysis{ID: "r-1", RegularityScore: 80, Source: models.SourceCloud}, nil
}

func (a *analyzerStub) GeneratePrediction(_ context.Context, req models.AnalysisRequest) (models.PredictionResult, error) {
	a.lastReq = req
	if a.err != nil {
		return models.PredictionResult{}, a.err
	}
	return models.PredictionResult{ID: "p-1", ConfidenceScore: 60, Source: models.SourceLocal}, nil
}

type recordStoreStub struct {
	saved []models.ActivityRecord
	err   error
}

func (r *recordStoreStub) Save(_ context.Context, record models.ActivityRecord) error {
	if r.err != nil {
		return r.err
	}
	r.saved = append(r.saved, record)
	return nil
}

func newService(analyzer Analyzer, records RecordWriter) *InsightService {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewInsightService(logger, analyzer, records, models.AnalysisSettings{CloudEnabled: true, AnonymizeData: true})
}

func analysisRequest(t *testing.T) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(map[string]any{"baby_id": "baby-1", "wifi_only": true})
	if err != nil {
		t.Fatalf("struct: %v", err)
	}
	return s
}

func TestAnalyzeSleepReturnsResult(t *testing.T) {
	stub := &analyzerStub{}
	service := newService(stub, nil)

	out, err := service.AnalyzeSleep(context.Background(), analysisRequest(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.GetFields()["quality_score"].GetNumberValue() != 70 || out.GetFields()["source"].GetStringValue() != "local" {
		t.Fatalf("unexpected response: %v", out)
	}
	if !stub.lastReq.Settings.CloudEnabled || !stub.lastReq.Settings.WiFiOnly || !stub.lastReq.Settings.AnonymizeData {
		t.Fatalf("settings not merged: %+v", stub.lastReq.Settings)
	}
}

func TestAnalyzeRoutineAndPrediction(t *testing.T) {
	service := newService(&analyzerStub{}, nil)

	routine, err := service.AnalyzeRoutine(context.Background(), analysisRequest(t))
	if err != nil {
		t.Fatalf("routine: %v", err)
	}
	if routine.GetFields()["source"].GetStringValue() != "cloud" {
		t.Fatalf("unexpected routine: %v", routine)
	}
	prediction, err := service.GeneratePrediction(context.Background(), analysisRequest(t))
	if err != nil {
		t.Fatalf("prediction: %v", err)
	}
	if prediction.GetFields()["confidence_score"].GetNumberValue() != 60 {
		t.Fatalf("unexpected prediction: %v", prediction)
	}
}

func TestLatencyTrackedPerInsight(t *testing.T) {
	stub := &analyzerStub{}
	service := newService(stub, nil)

	if _, err := service.AnalyzeRoutine(context.Background(), analysisRequest(t)); err != nil {
		t.Fatalf("routine: %v", err)
	}
	if _, err := service.GeneratePrediction(context.Background(), analysisRequest(t)); err != nil {
		t.Fatalf("prediction: %v", err)
	}
	stub.err = models.ErrInsufficientData
	if _, err := service.AnalyzeSleep(context.Background(), analysisRequest(t)); err == nil {
		t.Fatalf("expected sleep analysis to fail")
	}

	byInsight := service.LatencyByInsight()
	if len(byInsight) != 2 {
		t.Fatalf("expected routine and prediction only, got %v", byInsight)
	}
	for _, insight := range []string{"routine", "prediction"} {
		if _, ok := byInsight[insight]; !ok {
			t.Fatalf("missing %s latency in %v", insight, byInsight)
		}
	}
	if service.LatencyP95() < 0 {
		t.Fatalf("negative overall latency")
	}
}

func TestAnalysisErrorCodes(t *testing.T) {
	cases := []struct {
		err  error
		code codes.Code
	}{
		{models.ErrInsufficientData, codes.FailedPrecondition},
		{fmt.Errorf("%w: %w", models.ErrProcessing, errors.New("disk")), codes.Internal},
		{context.Canceled, codes.Canceled},
		{context.DeadlineExceeded, codes.DeadlineExceeded},
	}
	for _, tc := range cases {
		service := newService(&analyzerStub{err: tc.err}, nil)
		_, err := service.AnalyzeSleep(context.Background(), analysisRequest(t))
		if status.Code(err) != tc.code {
			t.Fatalf("%v: expected %s, got %v", tc.err, tc.code, err)
		}
	}
}

func TestAnalyzeRejectsInvalidRequest(t *testing.T) {
	service := newService(&analyzerStub{}, nil)
	_, err := service.AnalyzeSleep(context.Background(), &structpb.Struct{})
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	_, err = service.AnalyzeSleep(context.Background(), nil)
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected invalid argument for nil, got %v", err)
	}
}

func TestAnalyzeWithoutAnalyzer(t *testing.T) {
	service := newService(nil, nil)
	_, err := service.AnalyzeRoutine(context.Background(), analysisRequest(t))
	if status.Code(err) != codes.FailedPrecondition {
		t.Fatalf("expected failed precondition, got %v", err)
	}
}

func TestRecordActivity(t *testing.T) {
	store := &recordStoreStub{}
	service := newService(nil, store)

	req, err := structpb.NewStruct(map[string]any{
		"baby_id":  "baby-1",
		"kind":     "feeding",
		"start":    time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC).Format(time.RFC3339),
		"metadata": map[string]any{"feeding": map[string]any{"type": "breast"}},
	})
	if err != nil {
		t.Fatalf("struct: %v", err)
	}
	out, err := service.RecordActivity(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.saved) != 1 || store.saved[0].FeedingKindOf() != models.FeedingBreast {
		t.Fatalf("record not stored: %+v", store.saved)
	}
	if out.GetFields()["id"].GetStringValue() != store.saved[0].ID || !out.GetFields()["stored"].GetBoolValue() {
		t.Fatalf("unexpected ack: %v", out)
	}

	store.err = errors.New("disk full")
	if _, err := service.RecordActivity(context.Background(), req); status.Code(err) != codes.Internal {
		t.Fatalf("expected internal error, got %v", err)
	}
}

func TestRecordActivityMissingFields(t *testing.T) {
	service := newService(nil, &recordStoreStub{})
	req, _ := structpb.NewStruct(map[string]any{"kind": "sleep"})
	if _, err := service.RecordActivity(context.Background(), req); status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	if _, err := newService(nil, nil).RecordActivity(context.Background(), req); status.Code(err) != codes.FailedPrecondition {
		t.Fatalf("expected failed precondition without a store, got %v", err)
	}
}

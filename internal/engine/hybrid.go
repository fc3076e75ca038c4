package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/miradorstack/nestling/internal/analyzers"
	"github.com/miradorstack/nestling/internal/metrics"
	"github.com/miradorstack/nestling/internal/models"
	"github.com/miradorstack/nestling/internal/privacy"
	"github.com/miradorstack/nestling/internal/repo"
	"github.com/miradorstack/nestling/internal/utils"
)

// Insight names used in logs and metrics.
const (
	InsightSleep      = "sleep"
	InsightRoutine    = "routine"
	InsightPrediction = "prediction"
)

// RecordSource fetches the records of one kind for a baby within a closed range.
type RecordSource interface {
	Fetch(ctx context.Context, babyID string, dateRange models.DateRange) ([]models.ActivityRecord, error)
}

// Sources groups the record sources read by the engine.
type Sources struct {
	Sleep    RecordSource
	Feeding  RecordSource
	Activity RecordSource
}

// CloudAnalyzer describes the remote insight API used when the policy allows it.
type CloudAnalyzer interface {
	AnalyzeSleep(ctx context.Context, payload privacy.Payload) (repo.SleepResponse, error)
	AnalyzeRoutine(ctx context.Context, payload privacy.Payload) (repo.RoutineResponse, error)
	GeneratePrediction(ctx context.Context, sleep, routine privacy.Payload) (repo.PredictionResponse, error)
}

// HybridEngine runs each analysis in the cloud when permitted and falls back to the local analyzers.
type HybridEngine struct {
	logger     *slog.Logger
	sources    Sources
	cloud      CloudAnalyzer
	anonymizer *privacy.Anonymizer
	policy     Policy
	sleep      *analyzers.SleepAnalyzer
	routine    *analyzers.RoutineAnalyzer
	prediction *analyzers.PredictionEngine
	now        func() time.Time
}

// NewHybridEngine constructs the orchestrator. A nil cloud analyzer or anonymizer disables the cloud path.
func NewHybridEngine(
	logger *slog.Logger,
	sources Sources,
	cloud CloudAnalyzer,
	anonymizer *privacy.Anonymizer,
	policy Policy,
	sleep *analyzers.SleepAnalyzer,
	routine *analyzers.RoutineAnalyzer,
	prediction *analyzers.PredictionEngine,
) *HybridEngine {
	if logger == nil {
		logger = slog.Default()
	}
	if sleep == nil {
		sleep = analyzers.NewSleepAnalyzer(nil, nil)
	}
	if routine == nil {
		routine = analyzers.NewRoutineAnalyzer(nil, nil)
	}
	if prediction == nil {
		prediction = analyzers.NewPredictionEngine(nil)
	}
	return &HybridEngine{
		logger:     logger,
		sources:    sources,
		cloud:      cloud,
		anonymizer: anonymizer,
		policy:     policy,
		sleep:      sleep,
		routine:    routine,
		prediction: prediction,
		now:        time.Now,
	}
}

type recordSet struct {
	sleep    []models.ActivityRecord
	feeding  []models.ActivityRecord
	activity []models.ActivityRecord
}

func (r recordSet) empty() bool {
	return len(r.sleep) == 0 && len(r.feeding) == 0 && len(r.activity) == 0
}

func (r recordSet) all() []models.ActivityRecord {
	out := make([]models.ActivityRecord, 0, len(r.sleep)+len(r.feeding)+len(r.activity))
	out = append(out, r.sleep...)
	out = append(out, r.feeding...)
	return append(out, r.activity...)
}

// AnalyzeSleepPattern analyzes the sleep records of req.BabyID.
func (e *HybridEngine) AnalyzeSleepPattern(ctx context.Context, req models.AnalysisRequest) (models.SleepAnalysis, error) {
	records, err := e.fetch(ctx, req, false)
	if err != nil {
		return models.SleepAnalysis{}, err
	}
	if len(records.sleep) == 0 {
		return models.SleepAnalysis{}, models.ErrInsufficientData
	}

	if err := e.cloudGate(req.Settings); err == nil {
		payload := e.anonymize(privacy.PayloadSleep, records.sleep, req)
		resp, err := e.cloud.AnalyzeSleep(ctx, payload)
		if err == nil {
			return sleepFromCloud(resp, e.now()), nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return models.SleepAnalysis{}, ctxErr
		}
		e.fallback(InsightSleep, err)
	}

	result, err := e.sleep.Analyze(records.sleep, req.Range)
	return result, e.localError("analyze sleep", err)
}

// AnalyzeRoutine analyzes sleep, feeding and activity records jointly.
func (e *HybridEngine) AnalyzeRoutine(ctx context.Context, req models.AnalysisRequest) (models.RoutineAnalysis, error) {
	records, err := e.fetch(ctx, req, true)
	if err != nil {
		return models.RoutineAnalysis{}, err
	}
	if records.empty() {
		return models.RoutineAnalysis{}, models.ErrInsufficientData
	}

	if err := e.cloudGate(req.Settings); err == nil {
		payload := e.anonymize(privacy.PayloadRoutine, records.all(), req)
		resp, err := e.cloud.AnalyzeRoutine(ctx, payload)
		if err == nil {
			return routineFromCloud(resp, e.now()), nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return models.RoutineAnalysis{}, ctxErr
		}
		e.fallback(InsightRoutine, err)
	}

	result, err := e.routine.Analyze(records.sleep, records.feeding, records.activity, req.Range)
	return result, e.localError("analyze routine", err)
}

// GeneratePrediction forecasts the next sleep and feeding events.
func (e *HybridEngine) GeneratePrediction(ctx context.Context, req models.AnalysisRequest) (models.PredictionResult, error) {
	records, err := e.fetch(ctx, req, true)
	if err != nil {
		return models.PredictionResult{}, err
	}
	if records.empty() {
		return models.PredictionResult{}, models.ErrInsufficientData
	}

	if err := e.cloudGate(req.Settings); err == nil {
		sleepPayload := e.anonymize(privacy.PayloadSleep, records.sleep, req)
		routinePayload := e.anonymize(privacy.PayloadRoutine, records.all(), req)
		resp, err := e.cloud.GeneratePrediction(ctx, sleepPayload, routinePayload)
		if err == nil {
			return predictionFromCloud(resp, e.now()), nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return models.PredictionResult{}, ctxErr
		}
		e.fallback(InsightPrediction, err)
	}

	result, err := e.prediction.Predict(records.sleep, records.feeding, records.activity, req.Range)
	return result, e.localError("generate prediction", err)
}

// fetch reads the needed sources concurrently; the first failure cancels the others.
func (e *HybridEngine) fetch(ctx context.Context, req models.AnalysisRequest, all bool) (recordSet, error) {
	var set recordSet
	if e.sources.Sleep == nil || (all && (e.sources.Feeding == nil || e.sources.Activity == nil)) {
		return set, utils.NewAppError("fetch", "record source not configured", models.ErrProcessing)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		records, err := e.fetchKind(gctx, e.sources.Sleep, "sleep", req)
		set.sleep = records
		return err
	})
	if all {
		g.Go(func() error {
			records, err := e.fetchKind(gctx, e.sources.Feeding, "feeding", req)
			set.feeding = records
			return err
		})
		g.Go(func() error {
			records, err := e.fetchKind(gctx, e.sources.Activity, "activity", req)
			set.activity = records
			return err
		})
	}
	if err := g.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return recordSet{}, ctxErr
		}
		return recordSet{}, err
	}
	return set, nil
}

func (e *HybridEngine) fetchKind(ctx context.Context, source RecordSource, kind string, req models.AnalysisRequest) ([]models.ActivityRecord, error) {
	records, err := source.Fetch(ctx, req.BabyID, req.Range)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, utils.NewAppError("fetch "+kind, "record fetch failed", fmt.Errorf("%w: %w", models.ErrProcessing, err))
	}
	for _, r := range records {
		if r.BabyID != req.BabyID || r.StartTime.IsZero() {
			return nil, utils.NewAppError("fetch "+kind, "record store returned an unusable record", models.ErrProcessing)
		}
	}
	return records, nil
}

// cloudGate returns ErrCloudAnalysisDisabled when no cloud attempt should be made.
func (e *HybridEngine) cloudGate(settings models.AnalysisSettings) error {
	if e.cloud == nil || e.anonymizer == nil || !e.policy.Permitted(settings) {
		return models.ErrCloudAnalysisDisabled
	}
	return nil
}

func (e *HybridEngine) anonymize(kind privacy.PayloadKind, records []models.ActivityRecord, req models.AnalysisRequest) privacy.Payload {
	batch := privacy.Batch{Kind: kind, Records: records}
	if !req.Settings.AnonymizeData {
		batch.BirthDate = req.BirthDate
	}
	return e.anonymizer.AnonymizeBatch(batch)
}

func (e *HybridEngine) fallback(insight string, err error) {
	reason := "unknown"
	attrs := []any{slog.String("insight", insight)}
	var apiErr *repo.APIError
	if errors.As(err, &apiErr) {
		reason = string(apiErr.Kind)
		if apiErr.Status != 0 {
			attrs = append(attrs, slog.Int("status", apiErr.Status))
		}
	}
	attrs = append(attrs, slog.String("reason", reason))
	e.logger.Warn("cloud analysis failed, using local analysis", attrs...)
	metrics.ObserveCloudFallback(insight, reason)
}

func (e *HybridEngine) localError(op string, err error) error {
	if err == nil || errors.Is(err, models.ErrInsufficientData) {
		return err
	}
	return utils.NewAppError(op, "local analysis failed", fmt.Errorf("%w: %w", models.ErrProcessing, err))
}

package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/nestling/internal/api"
	"github.com/miradorstack/nestling/internal/engine"
	"github.com/miradorstack/nestling/internal/metrics"
	"github.com/miradorstack/nestling/internal/models"
	"github.com/miradorstack/nestling/internal/utils"
)

// Analyzer is the orchestrator surface used by the service.
type Analyzer interface {
	AnalyzeSleepPattern(ctx context.Context, req models.AnalysisRequest) (models.SleepAnalysis, error)
	AnalyzeRoutine(ctx context.Context, req models.AnalysisRequest) (models.RoutineAnalysis, error)
	GeneratePrediction(ctx context.Context, req models.AnalysisRequest) (models.PredictionResult, error)
}

// RecordWriter persists activity records.
type RecordWriter interface {
	Save(ctx context.Context, record models.ActivityRecord) error
}

// InsightService implements the gRPC InsightEngine service.
type InsightService struct {
	logger    *slog.Logger
	analyzer  Analyzer
	records   RecordWriter
	defaults  models.AnalysisSettings
	latencies *utils.InsightLatencies
	now       func() time.Time
}

var _ api.InsightEngineServer = (*InsightService)(nil)

// NewInsightService constructs the service facade. defaults fill request settings the caller leaves unset.
func NewInsightService(logger *slog.Logger, analyzer Analyzer, records RecordWriter, defaults models.AnalysisSettings) *InsightService {
	if logger == nil {
		logger = slog.Default()
	}
	return &InsightService{
		logger:    logger,
		analyzer:  analyzer,
		records:   records,
		defaults:  defaults,
		latencies: utils.NewInsightLatencies(1024),
		now:       time.Now,
	}
}

// AnalyzeSleep runs the sleep-pattern analysis.
func (s *InsightService) AnalyzeSleep(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.analyzer == nil {
		return nil, status.Error(codes.FailedPrecondition, "analyzer not configured")
	}
	return analyze(ctx, s, engine.InsightSleep, req, s.analyzer.AnalyzeSleepPattern,
		func(r models.SleepAnalysis) models.Source { return r.Source })
}

// AnalyzeRoutine runs the routine analysis.
func (s *InsightService) AnalyzeRoutine(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.analyzer == nil {
		return nil, status.Error(codes.FailedPrecondition, "analyzer not configured")
	}
	return analyze(ctx, s, engine.InsightRoutine, req, s.analyzer.AnalyzeRoutine,
		func(r models.RoutineAnalysis) models.Source { return r.Source })
}

// GeneratePrediction forecasts the next sleep and feeding events.
func (s *InsightService) GeneratePrediction(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.analyzer == nil {
		return nil, status.Error(codes.FailedPrecondition, "analyzer not configured")
	}
	return analyze(ctx, s, engine.InsightPrediction, req, s.analyzer.GeneratePrediction,
		func(r models.PredictionResult) models.Source { return r.Source })
}

// RecordActivity validates and stores a single activity record.
func (s *InsightService) RecordActivity(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.records == nil {
		return nil, status.Error(codes.FailedPrecondition, "record store not configured")
	}
	record, err := api.FromRecordStruct(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if err := s.records.Save(ctx, record); err != nil {
		return nil, s.statusFromError("record activity", err)
	}
	s.logger.Debug("activity recorded", slog.String("kind", string(record.Kind.Type)))
	return api.ToStruct(api.RecordResponse{ID: record.ID, Stored: true})
}

// LatencyP95 returns the current p95 analysis latency across all insights.
func (s *InsightService) LatencyP95() time.Duration {
	if s.latencies == nil {
		return 0
	}
	return s.latencies.P95("")
}

// LatencyByInsight returns the current p95 latency of each analysed insight.
func (s *InsightService) LatencyByInsight() map[string]time.Duration {
	if s.latencies == nil {
		return nil
	}
	return s.latencies.Snapshot()
}

func analyze[T any](
	ctx context.Context,
	s *InsightService,
	insight string,
	req *structpb.Struct,
	call func(context.Context, models.AnalysisRequest) (T, error),
	source func(T) models.Source,
) (*structpb.Struct, error) {
	domainReq, err := api.FromAnalysisStruct(req, s.defaults, s.now())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	start := time.Now()
	result, err := call(ctx, domainReq)
	duration := time.Since(start)
	if err != nil {
		outcome := metrics.OutcomeError
		if errors.Is(err, models.ErrInsufficientData) {
			outcome = metrics.OutcomeInsufficient
		}
		metrics.ObserveAnalysis(insight, metrics.SourceNone, outcome, duration)
		return nil, s.statusFromError(insight, err)
	}

	metrics.ObserveAnalysis(insight, string(source(result)), metrics.OutcomeSuccess, duration)
	if count := s.latencies.Observe(insight, duration); count%20 == 0 {
		s.logger.Info("analysis latency",
			slog.String("insight", insight),
			slog.Duration("p95", s.latencies.P95(insight)),
			slog.Int("samples", count))
	}

	out, err := api.ToStruct(result)
	if err != nil {
		s.logger.Error("encode analysis result failed", slog.String("insight", insight), slog.Any("error", err))
		return nil, status.Error(codes.Internal, "failed to encode result")
	}
	return out, nil
}

// statusFromError maps domain errors onto gRPC status codes.
func (s *InsightService) statusFromError(op string, err error) error {
	switch {
	case errors.Is(err, models.ErrInsufficientData):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, api.ErrInvalidRequest), errors.Is(err, models.ErrInvalidRecord):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		s.logger.Error("request failed", slog.String("op", op), slog.String("stage", utils.Stage(err)), slog.Any("error", err))
		return status.Error(codes.Internal, op+" failed")
	}
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/miradorstack/nestling/internal/analyzers"
	"github.com/miradorstack/nestling/internal/models"
	"github.com/miradorstack/nestling/internal/privacy"
	"github.com/miradorstack/nestling/internal/repo"
	"github.com/miradorstack/nestling/internal/secrets"
)

var testNow = time.Date(2024, 5, 20, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return testNow }

type fakeSource struct {
	records []models.ActivityRecord
	err     error
	block   bool
	calls   atomic.Int32
	aborted atomic.Bool
}

func (f *fakeSource) Fetch(ctx context.Context, babyID string, _ models.DateRange) ([]models.ActivityRecord, error) {
	f.calls.Add(1)
	if f.block {
		<-ctx.Done()
		f.aborted.Store(true)
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.records, nil
}

type fakeCloud struct {
	mu          sync.Mutex
	err         error
	sleep       repo.SleepResponse
	routine     repo.RoutineResponse
	prediction  repo.PredictionResponse
	calls       int
	lastPayload privacy.Payload
}

func (f *fakeCloud) AnalyzeSleep(_ context.Context, p privacy.Payload) (repo.SleepResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastPayload = p
	return f.sleep, f.err
}

func (f *fakeCloud) AnalyzeRoutine(_ context.Context, p privacy.Payload) (repo.RoutineResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastPayload = p
	return f.routine, f.err
}

func (f *fakeCloud) GeneratePrediction(_ context.Context, sleep, _ privacy.Payload) (repo.PredictionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastPayload = sleep
	return f.prediction, f.err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func nightSleep(t *testing.T, day int) models.ActivityRecord {
	t.Helper()
	start := time.Date(2024, 5, day, 20, 0, 0, 0, time.UTC)
	end := start.Add(7*time.Hour + 30*time.Minute)
	rec, err := models.NewActivityRecord(fmt.Sprintf("s-%d", day), "baby-1", models.SleepKind(), start, &end,
		&models.Metadata{Sleep: &models.SleepMetadata{IsNightSleep: true}, Notes: "slept at grandma's"})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	return rec
}

func sleepRecords(t *testing.T, n int) []models.ActivityRecord {
	out := make([]models.ActivityRecord, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, nightSleep(t, i))
	}
	return out
}

func newEngine(sources Sources, cloud CloudAnalyzer, connected bool) *HybridEngine {
	e := NewHybridEngine(
		quietLogger(),
		sources,
		cloud,
		privacy.New("device-1", privacy.WithClock(clock)),
		Policy{Network: StaticNetwork{Connected: connected, WiFi: true}},
		analyzers.NewSleepAnalyzer(nil, clock),
		analyzers.NewRoutineAnalyzer(nil, clock),
		analyzers.NewPredictionEngine(clock),
	)
	e.now = clock
	return e
}

func request(cloudEnabled bool) models.AnalysisRequest {
	return models.AnalysisRequest{
		BabyID:   "baby-1",
		Range:    models.DateRange{Start: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), End: testNow},
		Settings: models.AnalysisSettings{CloudEnabled: cloudEnabled, AnonymizeData: true},
	}
}

func emptySources() Sources {
	return Sources{Sleep: &fakeSource{}, Feeding: &fakeSource{}, Activity: &fakeSource{}}
}

func TestPolicyPermitted(t *testing.T) {
	cases := []struct {
		state    NetworkState
		settings models.AnalysisSettings
		want     bool
	}{
		{NetworkState{Connected: true, WiFi: true}, models.AnalysisSettings{CloudEnabled: true}, true},
		{NetworkState{Connected: true}, models.AnalysisSettings{CloudEnabled: true}, true},
		{NetworkState{Connected: true}, models.AnalysisSettings{CloudEnabled: true, WiFiOnly: true}, false},
		{NetworkState{Connected: true, WiFi: true}, models.AnalysisSettings{CloudEnabled: true, WiFiOnly: true}, true},
		{NetworkState{Connected: false, WiFi: true}, models.AnalysisSettings{CloudEnabled: true}, false},
		{NetworkState{Connected: true, WiFi: true}, models.AnalysisSettings{CloudEnabled: false}, false},
	}
	for i, tc := range cases {
		if got := (Policy{Network: StaticNetwork(tc.state)}).Permitted(tc.settings); got != tc.want {
			t.Fatalf("case %d: expected %v, got %v", i, tc.want, got)
		}
	}
	if (Policy{}).Permitted(models.AnalysisSettings{CloudEnabled: true}) {
		t.Fatalf("policy without a network monitor must deny")
	}

	network := NewSwitchableNetwork(NetworkState{})
	policy := Policy{Network: network}
	network.Set(NetworkState{Connected: true})
	if !policy.Permitted(models.AnalysisSettings{CloudEnabled: true}) {
		t.Fatalf("switchable network change not observed")
	}
}

func TestAnalyzeSleepLocalWhenPolicyDenies(t *testing.T) {
	cloud := &fakeCloud{}
	sources := emptySources()
	sources.Sleep = &fakeSource{records: sleepRecords(t, 10)}
	engine := newEngine(sources, cloud, true)

	result, err := engine.AnalyzeSleepPattern(context.Background(), request(false))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cloud.calls != 0 {
		t.Fatalf("cloud called although the user opted out")
	}
	if result.Source != models.SourceLocal || result.QualityScore != 70 {
		t.Fatalf("unexpected local result: %+v", result)
	}
}

func TestAnalyzeSleepUsesCloudResult(t *testing.T) {
	cloud := &fakeCloud{sleep: repo.SleepResponse{
		AnalysisID:   "cloud-1",
		QualityScore: 140,
		Patterns:     []repo.PatternDTO{{Type: "short_night_sleep", Confidence: 1.7}, {Type: ""}},
	}}
	sources := emptySources()
	sources.Sleep = &fakeSource{records: sleepRecords(t, 3)}
	engine := newEngine(sources, cloud, true)

	result, err := engine.AnalyzeSleepPattern(context.Background(), request(true))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Source != models.SourceCloud || result.ID != "cloud-1" {
		t.Fatalf("expected cloud result, got %+v", result)
	}
	if result.QualityScore != 100 || len(result.Patterns) != 1 || result.Patterns[0].Confidence != 1 {
		t.Fatalf("cloud result not normalised: %+v", result)
	}
	if !result.AnalysisTime.Equal(testNow) {
		t.Fatalf("missing analysis time not defaulted: %v", result.AnalysisTime)
	}
	if cloud.lastPayload.RecordCount != 3 || cloud.lastPayload.BabyAgeMonths != nil {
		t.Fatalf("unexpected payload: %+v", cloud.lastPayload)
	}
}

func TestCloudFailuresFallBackToLocal(t *testing.T) {
	kinds := []repo.ErrorKind{
		repo.KindInvalidAPIKey, repo.KindNetwork, repo.KindServer,
		repo.KindRateLimited, repo.KindTimeout, repo.KindDecoding,
	}
	feeding := make([]models.ActivityRecord, 0, 10)
	for i := 0; i < 10; i++ {
		rec, err := models.NewActivityRecord(fmt.Sprintf("f-%d", i), "baby-1", models.FeedingKind(),
			time.Date(2024, 5, i+1, 8, 0, 0, 0, time.UTC), nil,
			&models.Metadata{Feeding: &models.FeedingMetadata{Type: models.FeedingFormula}})
		if err != nil {
			t.Fatalf("record: %v", err)
		}
		feeding = append(feeding, rec)
	}

	for _, kind := range kinds {
		t.Run(string(kind), func(t *testing.T) {
			cloud := &fakeCloud{err: &repo.APIError{Kind: kind, Status: 500}}
			sources := Sources{
				Sleep:    &fakeSource{records: sleepRecords(t, 4)},
				Feeding:  &fakeSource{records: feeding},
				Activity: &fakeSource{},
			}
			engine := newEngine(sources, cloud, true)
			ctx := context.Background()

			sleep, err := engine.AnalyzeSleepPattern(ctx, request(true))
			if err != nil || sleep.Source != models.SourceLocal {
				t.Fatalf("sleep did not fall back: %v %+v", err, sleep)
			}
			routine, err := engine.AnalyzeRoutine(ctx, request(true))
			if err != nil || routine.Source != models.SourceLocal {
				t.Fatalf("routine did not fall back: %v %+v", err, routine)
			}
			prediction, err := engine.GeneratePrediction(ctx, request(true))
			if err != nil || prediction.Source != models.SourceLocal {
				t.Fatalf("prediction did not fall back: %v %+v", err, prediction)
			}
			if cloud.calls != 3 {
				t.Fatalf("expected three cloud attempts, got %d", cloud.calls)
			}
		})
	}
}

func TestUnauthorizedCloudReturnsLocalResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := repo.NewCloudClient(repo.CloudConfig{BaseURL: srv.URL}, credentialFunc(func() *secrets.Credential {
		return secrets.NewCredential("stale-token")
	}), nil, quietLogger())
	records := sleepRecords(t, 10)
	sources := emptySources()
	sources.Sleep = &fakeSource{records: records}
	engine := newEngine(sources, client, true)

	got, err := engine.AnalyzeSleepPattern(context.Background(), request(true))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want, err := analyzers.NewSleepAnalyzer(nil, clock).Analyze(records, request(true).Range)
	if err != nil {
		t.Fatalf("local analyze: %v", err)
	}
	if got.Source != models.SourceLocal || got.QualityScore != want.QualityScore ||
		!reflect.DeepEqual(got.Patterns, want.Patterns) || !reflect.DeepEqual(got.Recommendations, want.Recommendations) {
		t.Fatalf("expected local result %+v, got %+v", want, got)
	}
}

type credentialFunc func() *secrets.Credential

func (f credentialFunc) Credential() *secrets.Credential { return f() }

func TestInsufficientDataSkipsBothPaths(t *testing.T) {
	cloud := &fakeCloud{}
	engine := newEngine(emptySources(), cloud, true)
	ctx := context.Background()

	if _, err := engine.AnalyzeSleepPattern(ctx, request(true)); !errors.Is(err, models.ErrInsufficientData) {
		t.Fatalf("expected insufficient data, got %v", err)
	}
	if _, err := engine.AnalyzeRoutine(ctx, request(true)); !errors.Is(err, models.ErrInsufficientData) {
		t.Fatalf("expected insufficient data, got %v", err)
	}
	if _, err := engine.GeneratePrediction(ctx, request(true)); !errors.Is(err, models.ErrInsufficientData) {
		t.Fatalf("expected insufficient data, got %v", err)
	}
	if cloud.calls != 0 {
		t.Fatalf("cloud attempted without data")
	}
}

func TestFetchFailsFast(t *testing.T) {
	activity := &fakeSource{block: true}
	sources := Sources{
		Sleep:    &fakeSource{records: sleepRecords(t, 2)},
		Feeding:  &fakeSource{err: errors.New("disk unreadable")},
		Activity: activity,
	}
	engine := newEngine(sources, &fakeCloud{}, true)

	done := make(chan error, 1)
	go func() {
		_, err := engine.AnalyzeRoutine(context.Background(), request(true))
		done <- err
	}()

	select {
	case err := <-done:
		if !errors.Is(err, models.ErrProcessing) {
			t.Fatalf("expected processing error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("fetch did not fail fast")
	}
	if !activity.aborted.Load() {
		t.Fatalf("sibling fetch was not cancelled")
	}
}

func TestCallerCancellationPropagates(t *testing.T) {
	sleep := &fakeSource{block: true}
	sources := emptySources()
	sources.Sleep = sleep
	engine := newEngine(sources, &fakeCloud{}, true)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := engine.AnalyzeSleepPattern(ctx, request(true))
		done <- err
	}()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected cancellation, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("cancellation did not stop the fetch")
	}
}

func TestForeignRecordsAreAProcessingError(t *testing.T) {
	rec := nightSleep(t, 1)
	rec.BabyID = "someone-else"
	sources := emptySources()
	sources.Sleep = &fakeSource{records: []models.ActivityRecord{rec}}

	_, err := newEngine(sources, nil, false).AnalyzeSleepPattern(context.Background(), request(false))
	if !errors.Is(err, models.ErrProcessing) {
		t.Fatalf("expected processing error, got %v", err)
	}

	_, err = newEngine(Sources{}, nil, false).AnalyzeSleepPattern(context.Background(), request(false))
	if !errors.Is(err, models.ErrProcessing) {
		t.Fatalf("expected processing error for missing source, got %v", err)
	}
}

func TestAgeIsSentOnlyWhenAnonymizationIsRelaxed(t *testing.T) {
	cloud := &fakeCloud{routine: repo.RoutineResponse{RegularityScore: 75}}
	sources := emptySources()
	sources.Sleep = &fakeSource{records: sleepRecords(t, 2)}
	engine := newEngine(sources, cloud, true)

	birth := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	req := request(true)
	req.BirthDate = &birth

	if _, err := engine.AnalyzeRoutine(context.Background(), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cloud.lastPayload.BabyAgeMonths != nil {
		t.Fatalf("age leaked while anonymization is on")
	}

	req.Settings.AnonymizeData = false
	result, err := engine.AnalyzeRoutine(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cloud.lastPayload.BabyAgeMonths == nil || *cloud.lastPayload.BabyAgeMonths != 4 {
		t.Fatalf("expected age in months, got %v", cloud.lastPayload.BabyAgeMonths)
	}
	if result.Source != models.SourceCloud || result.RegularityScore != 75 {
		t.Fatalf("unexpected cloud routine: %+v", result)
	}
}

func TestPredictionFromCloudNormalisesTypes(t *testing.T) {
	cloud := &fakeCloud{prediction: repo.PredictionResponse{
		ConfidenceScore:    -5,
		SleepPredictions:   []repo.SleepPredictionDTO{{PredictedDurationSeconds: 3600, Confidence: 0.8, IsNightSleep: true}},
		FeedingPredictions: []repo.FeedingPredictionDTO{{PredictedType: "Formula", Confidence: 2}, {PredictedType: "juice"}},
	}}
	sources := emptySources()
	sources.Sleep = &fakeSource{records: sleepRecords(t, 1)}

	result, err := newEngine(sources, cloud, true).GeneratePrediction(context.Background(), request(true))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ConfidenceScore != 0 || result.SleepPredictions[0].PredictedDuration != time.Hour {
		t.Fatalf("unexpected prediction: %+v", result)
	}
	if result.FeedingPredictions[0].PredictedType != models.FeedingFormula || result.FeedingPredictions[0].Confidence != 1 {
		t.Fatalf("feeding prediction not normalised: %+v", result.FeedingPredictions[0])
	}
	if result.FeedingPredictions[1].PredictedType != models.FeedingOther {
		t.Fatalf("unknown feeding type not collapsed: %+v", result.FeedingPredictions[1])
	}
}

package repo

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/miradorstack/nestling/internal/cache"
	"github.com/miradorstack/nestling/internal/privacy"
	"github.com/miradorstack/nestling/internal/secrets"
)

const (
	DefaultSleepPath      = "/v1/baby/sleep/analyze"
	DefaultRoutinePath    = "/v1/baby/routine/analyze"
	DefaultPredictionPath = "/v1/baby/prediction/generate"
	DefaultTimeout        = 30 * time.Second

	maxErrorBody = 4 << 10
)

var errLocalBudget = errors.New("local request budget exhausted")

// CredentialProvider yields the credential for a single call; the caller destroys it.
type CredentialProvider interface {
	Credential() *secrets.Credential
}

// CloudConfig configures CloudClient. Zero values take the defaults.
type CloudConfig struct {
	BaseURL           string
	SleepPath         string
	RoutinePath       string
	PredictionPath    string
	Timeout           time.Duration
	CacheTTL          time.Duration
	RequestsPerMinute float64
	Burst             int
}

// PatternDTO is a pattern as returned by the cloud API.
type PatternDTO struct {
	Type        string            `json:"type"`
	Confidence  float64           `json:"confidence"`
	Description string            `json:"description"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

// RecommendationDTO is a recommendation as returned by the cloud API.
type RecommendationDTO struct {
	Category   string `json:"category"`
	Suggestion string `json:"suggestion"`
	Priority   int    `json:"priority"`
}

// SleepResponse is the body of a successful sleep analysis.
type SleepResponse struct {
	AnalysisID             string              `json:"analysisId"`
	AnalysisTime           time.Time           `json:"analysisTime"`
	Patterns               []PatternDTO        `json:"patterns"`
	Recommendations        []RecommendationDTO `json:"recommendations"`
	QualityScore           int                 `json:"qualityScore"`
	AverageDurationSeconds float64             `json:"averageDurationSeconds,omitempty"`
}

// RoutineResponse is the body of a successful routine analysis.
type RoutineResponse struct {
	AnalysisID      string              `json:"analysisId"`
	AnalysisTime    time.Time           `json:"analysisTime"`
	Patterns        []PatternDTO        `json:"patterns"`
	Recommendations []RecommendationDTO `json:"recommendations"`
	RegularityScore int                 `json:"regularityScore"`
}

// SleepPredictionDTO is one predicted sleep.
type SleepPredictionDTO struct {
	PredictedStartTime       time.Time `json:"predictedStartTime"`
	PredictedDurationSeconds float64   `json:"predictedDurationSeconds"`
	Confidence               float64   `json:"confidence"`
	IsNightSleep             bool      `json:"isNightSleep"`
}

// FeedingPredictionDTO is one predicted feeding.
type FeedingPredictionDTO struct {
	PredictedTime time.Time `json:"predictedTime"`
	PredictedType string    `json:"predictedType"`
	Confidence    float64   `json:"confidence"`
}

// PredictionResponse is the body of a successful prediction.
type PredictionResponse struct {
	PredictionID       string                 `json:"predictionId"`
	PredictionTime     time.Time              `json:"predictionTime"`
	SleepPredictions   []SleepPredictionDTO   `json:"sleepPredictions"`
	FeedingPredictions []FeedingPredictionDTO `json:"feedingPredictions"`
	ConfidenceScore    float64                `json:"confidenceScore"`
}

// PredictionRequest is the body of the prediction endpoint.
type PredictionRequest struct {
	SleepData   privacy.Payload `json:"sleepData"`
	RoutineData privacy.Payload `json:"routineData"`
}

// CloudClient calls the remote insight API. It never retries.
type CloudClient struct {
	baseURL        string
	sleepPath      string
	routinePath    string
	predictionPath string
	httpClient     *http.Client
	credentials    CredentialProvider
	cache          cache.Provider
	cacheTTL       time.Duration
	limiter        *rate.Limiter
	logger         *slog.Logger
}

// NewCloudClient constructs a client. cacheProvider may be nil.
func NewCloudClient(cfg CloudConfig, credentials CredentialProvider, cacheProvider cache.Provider, logger *slog.Logger) *CloudClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cacheProvider == nil {
		cacheProvider = cache.NoopProvider{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &CloudClient{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		sleepPath:      firstNonEmpty(cfg.SleepPath, DefaultSleepPath),
		routinePath:    firstNonEmpty(cfg.RoutinePath, DefaultRoutinePath),
		predictionPath: firstNonEmpty(cfg.PredictionPath, DefaultPredictionPath),
		httpClient:     &http.Client{Timeout: cfg.Timeout},
		credentials:    credentials,
		cache:          cacheProvider,
		cacheTTL:       cfg.CacheTTL,
		logger:         logger,
	}
	if cfg.RequestsPerMinute > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerMinute/60), burst)
	}
	return c
}

// AnalyzeSleep posts an anonymized sleep payload.
func (c *CloudClient) AnalyzeSleep(ctx context.Context, payload privacy.Payload) (SleepResponse, error) {
	var out SleepResponse
	err := c.cachedPost(ctx, "sleep", c.resolvePath(c.sleepPath), payload, &out)
	return out, err
}

// AnalyzeRoutine posts an anonymized routine payload.
func (c *CloudClient) AnalyzeRoutine(ctx context.Context, payload privacy.Payload) (RoutineResponse, error) {
	var out RoutineResponse
	err := c.cachedPost(ctx, "routine", c.resolvePath(c.routinePath), payload, &out)
	return out, err
}

// GeneratePrediction posts both payloads; predictions are never cached.
func (c *CloudClient) GeneratePrediction(ctx context.Context, sleep, routine privacy.Payload) (PredictionResponse, error) {
	var out PredictionResponse
	body := PredictionRequest{SleepData: sleep, RoutineData: routine}
	err := c.post(ctx, c.resolvePath(c.predictionPath), body, &out)
	return out, err
}

func (c *CloudClient) cachedPost(ctx context.Context, insight, endpoint string, payload privacy.Payload, out any) error {
	if c.cacheTTL <= 0 {
		return c.post(ctx, endpoint, payload, out)
	}

	key, err := cacheKey(insight, payload)
	if err != nil {
		return c.post(ctx, endpoint, payload, out)
	}
	if data, err := c.cache.Get(ctx, key); err == nil {
		if jsonErr := json.Unmarshal(data, out); jsonErr == nil {
			return nil
		}
		_ = c.cache.Del(ctx, key)
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		c.logger.Debug("cloud cache read failed", slog.String("insight", insight), slog.Any("error", err))
	}

	if err := c.post(ctx, endpoint, payload, out); err != nil {
		return err
	}
	if data, err := json.Marshal(out); err == nil {
		if err := c.cache.Set(ctx, key, data, c.cacheTTL); err != nil {
			c.logger.Debug("cloud cache write failed", slog.String("insight", insight), slog.Any("error", err))
		}
	}
	return nil
}

// cacheKey digests the payload without its session id, which changes on every call.
func cacheKey(insight string, payload privacy.Payload) (string, error) {
	payload.SessionID = ""
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return "cloud:" + insight + ":" + hex.EncodeToString(sum[:]), nil
}

func (c *CloudClient) resolvePath(p string) string {
	if c.baseURL == "" {
		return ""
	}
	cleaned := "/" + strings.TrimLeft(p, "/")
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return c.baseURL + cleaned
	}
	u.Path = path.Join(u.Path, cleaned)
	return u.String()
}

func (c *CloudClient) post(ctx context.Context, endpoint string, payload any, out any) error {
	if c == nil || c.credentials == nil {
		return &APIError{Kind: KindInvalidAPIKey, Err: errors.New("no credential provider")}
	}
	cred := c.credentials.Credential()
	defer cred.Destroy()
	if cred.Empty() {
		return &APIError{Kind: KindInvalidAPIKey, Err: errors.New("empty credential")}
	}
	if endpoint == "" {
		return &APIError{Kind: KindNetwork, Err: errors.New("cloud base URL not configured")}
	}
	if err := ctx.Err(); err != nil {
		return &APIError{Kind: KindNetwork, Err: err}
	}
	if c.limiter != nil && !c.limiter.Allow() {
		return &APIError{Kind: KindRateLimited, Err: errLocalBudget}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return &APIError{Kind: KindNetwork, Err: fmt.Errorf("marshal payload: %w", err)}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return &APIError{Kind: KindNetwork, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	cred.Authorize(req.Header)
	resp, err := c.httpClient.Do(req)
	req.Header.Del("Authorization")
	if err != nil {
		return classifyTransport(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &APIError{Kind: KindDecoding, Status: resp.StatusCode, Err: err}
		}
		return nil
	case resp.StatusCode == http.StatusUnauthorized:
		return &APIError{Kind: KindInvalidAPIKey, Status: resp.StatusCode}
	case resp.StatusCode == http.StatusTooManyRequests:
		return &APIError{Kind: KindRateLimited, Status: resp.StatusCode}
	default:
		text, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{Kind: KindServer, Status: resp.StatusCode, Body: string(text)}
	}
}

func classifyTransport(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &APIError{Kind: KindTimeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &APIError{Kind: KindTimeout, Err: err}
	}
	return &APIError{Kind: KindNetwork, Err: err}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

package main

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/miradorstack/nestling/internal/privacy"
	"github.com/miradorstack/nestling/internal/repo"
	"github.com/miradorstack/nestling/internal/utils"
)

func main() {
	var addr string
	flag.StringVar(&addr, "addr", ":8080", "Listen address")
	flag.Parse()

	logger := utils.NewLogger("debug", false).With(slog.String("component", "cloud-mock"))
	srv := &http.Server{
		Addr:              addr,
		Handler:           newRouter(logger, os.Getenv("MOCK_CLOUD_TOKEN"), time.Now),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("listening", slog.String("address", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", slog.Any("error", err))
		os.Exit(1)
	}
}

// newRouter serves canned insight responses. An empty token accepts any bearer credential.
func newRouter(logger *slog.Logger, token string, now func() time.Time) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer, logRequests(logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Group(func(r chi.Router) {
		r.Use(requireBearer(token))

		r.Post(repo.DefaultSleepPath, func(w http.ResponseWriter, r *http.Request) {
			var payload privacy.Payload
			if !decode(w, r, &payload) {
				return
			}
			writeJSON(w, repo.SleepResponse{
				AnalysisID:   uuid.NewString(),
				AnalysisTime: now().UTC(),
				Patterns: []repo.PatternDTO{{
					Type: "normal_night_sleep", Confidence: 0.85, Description: "Night sleep within the expected range",
				}},
				Recommendations: []repo.RecommendationDTO{{
					Category: "sleep", Suggestion: "Keep the current bedtime routine", Priority: 3,
				}},
				QualityScore: 60 + min(payload.RecordCount, 30),
			})
		})

		r.Post(repo.DefaultRoutinePath, func(w http.ResponseWriter, r *http.Request) {
			var payload privacy.Payload
			if !decode(w, r, &payload) {
				return
			}
			writeJSON(w, repo.RoutineResponse{
				AnalysisID:      uuid.NewString(),
				AnalysisTime:    now().UTC(),
				Patterns:        []repo.PatternDTO{{Type: "diverse_activities", Confidence: 0.7}},
				Recommendations: []repo.RecommendationDTO{},
				RegularityScore: 75,
			})
		})

		r.Post(repo.DefaultPredictionPath, func(w http.ResponseWriter, r *http.Request) {
			var req repo.PredictionRequest
			if !decode(w, r, &req) {
				return
			}
			base := now().UTC()
			writeJSON(w, repo.PredictionResponse{
				PredictionID:   uuid.NewString(),
				PredictionTime: base,
				SleepPredictions: []repo.SleepPredictionDTO{{
					PredictedStartTime: base.Add(2 * time.Hour), PredictedDurationSeconds: 5400, Confidence: 0.6,
				}},
				FeedingPredictions: []repo.FeedingPredictionDTO{{
					PredictedTime: base.Add(90 * time.Minute), PredictedType: "breast", Confidence: 0.5,
				}},
				ConfidenceScore: 65,
			})
		})
	})
	return r
}

func requireBearer(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || got == "" || (token != "" && subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1) {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func decode(w http.ResponseWriter, r *http.Request, out any) bool {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func logRequests(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info("request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Duration("elapsed", time.Since(start)))
		})
	}
}

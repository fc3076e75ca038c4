package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// LatencyReporter exposes the current p95 analysis latency overall and per insight.
type LatencyReporter interface {
	LatencyP95() time.Duration
	LatencyByInsight() map[string]time.Duration
}

// NewAdminRouter serves /metrics from gatherer, /healthz and /debug/latency.
func NewAdminRouter(gatherer prometheus.Gatherer, latency LatencyReporter) http.Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/debug/latency", func(w http.ResponseWriter, _ *http.Request) {
		var p95 time.Duration
		insights := map[string]int64{}
		if latency != nil {
			p95 = latency.LatencyP95()
			for name, d := range latency.LatencyByInsight() {
				insights[name] = d.Milliseconds()
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"p95_ms": p95.Milliseconds(), "insights": insights})
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// Package ops serves the health, readiness, metrics and stats endpoints of
// the background services.
package ops

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/drfirst/go-rxcharge/internal/api/middleware"
	"github.com/drfirst/go-rxcharge/internal/observability/metrics"
)

// Check probes one dependency.
type Check func(ctx context.Context) error

// StatsFunc returns a JSON-encodable view of service state.
type StatsFunc func(ctx context.Context) (any, error)

// Options configure the router.
type Options struct {
	Service  string
	Version  string
	Gatherer prometheus.Gatherer
	// Checks are run by /ready, keyed by dependency name.
	Checks map[string]Check
	// Stats are served under /stats, keyed by section name.
	Stats        map[string]StatsFunc
	CheckTimeout time.Duration
}

// NewRouter builds the ops router.
func NewRouter(opts Options, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.CheckTimeout <= 0 {
		opts.CheckTimeout = 2 * time.Second
	}

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logger(logger, "/metrics", "/health"))
	r.Use(middleware.Tracing(opts.Service))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "healthy",
			"service": opts.Service,
			"version": opts.Version,
		})
	})
	r.Get("/ready", readyHandler(opts, logger))
	r.Method(http.MethodGet, "/metrics", metrics.Handler(opts.Gatherer))
	r.Get("/stats", statsHandler(opts))

	return r
}

func readyHandler(opts Options, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), opts.CheckTimeout)
		defer cancel()

		results := make(map[string]string, len(opts.Checks))
		ready := true
		for _, name := range sortedKeys(opts.Checks) {
			if err := opts.Checks[name](ctx); err != nil {
				ready = false
				results[name] = err.Error()
				logger.Warn("readiness check failed", zap.String("check", name), zap.Error(err))
				continue
			}
			results[name] = "ok"
		}

		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]any{"ready": ready, "checks": results})
	}
}

func statsHandler(opts Options) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out := make(map[string]any, len(opts.Stats))
		for _, name := range sortedKeys(opts.Stats) {
			v, err := opts.Stats[name](r.Context())
			if err != nil {
				out[name] = map[string]string{"error": err.Error()}
				continue
			}
			out[name] = v
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

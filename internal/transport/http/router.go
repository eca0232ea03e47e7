package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/samber/lo"

	"vcr/pkg/platform/httputil"
)

// Registrar mounts one module's routes.
type Registrar interface {
	Register(r chi.Router)
}

// HealthCheck reports whether one dependency is usable.
type HealthCheck func(ctx context.Context) error

type Router struct {
	logger  *slog.Logger
	checks  map[string]HealthCheck
	metrics http.Handler
	timeout time.Duration
}

type Option func(*Router)

// WithHealthCheck adds a named readiness check to /readyz.
func WithHealthCheck(name string, check HealthCheck) Option {
	return func(r *Router) {
		if check != nil {
			r.checks[name] = check
		}
	}
}

// WithMetricsHandler serves h on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(r *Router) {
		r.metrics = h
	}
}

// NewRouter wires every module's routes plus the operational endpoints.
// Module handlers bring their own middleware stacks.
func NewRouter(logger *slog.Logger, registrars []Registrar, opts ...Option) chi.Router {
	rt := &Router{
		logger:  logger,
		checks:  make(map[string]HealthCheck),
		timeout: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(rt)
	}

	r := chi.NewRouter()
	r.Get("/healthz", rt.handleLiveness)
	r.Get("/readyz", rt.handleReadiness)
	if rt.metrics != nil {
		r.Handle("/metrics", rt.metrics)
	}
	for _, reg := range registrars {
		reg.Register(r)
	}
	return r
}

func (rt *Router) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type readiness struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (rt *Router) handleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), rt.timeout)
	defer cancel()

	names := lo.Keys(rt.checks)
	slices.Sort(names)

	resp := readiness{Status: "ok", Checks: make(map[string]string, len(names))}
	status := http.StatusOK
	for _, name := range names {
		if err := rt.checks[name](ctx); err != nil {
			rt.logger.WarnContext(ctx, "readiness check failed", "check", name, "error", err)
			resp.Checks[name] = "unavailable"
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	httputil.WriteJSON(w, status, resp)
}

// Package handler serves hook user registration, subscription management and
// delivery stats under /hooks.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"vcr/internal/hooks/models"
	"vcr/internal/platform/metrics"
	"vcr/internal/platform/middleware"
	dErrors "vcr/pkg/domain-errors"
	"vcr/pkg/platform/httputil"
	"vcr/pkg/requestcontext"
)

// Service is the hooks surface used by the handler.
type Service interface {
	RegisterUser(ctx context.Context, req *models.RegisterUserRequest) (*models.HookUser, error)
	Authenticate(ctx context.Context, username, password string) (*models.HookUser, error)
	CreateSubscription(ctx context.Context, username string, req *models.CreateSubscriptionRequest) (*models.SubscriptionCreated, error)
	ListSubscriptions(ctx context.Context, username string) ([]*models.Subscription, error)
	GetSubscription(ctx context.Context, username string, id uuid.UUID) (*models.Subscription, error)
	DeleteSubscription(ctx context.Context, username string, id uuid.UUID) error
	Stats(ctx context.Context) ([]*models.CredentialHookStats, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
	metrics *metrics.Metrics
	apiKey  string
	timeout time.Duration
}

type Option func(*Handler)

// WithStatsAPIKey requires X-API-Key on the stats route.
func WithStatsAPIKey(key string) Option {
	return func(h *Handler) {
		h.apiKey = key
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

func WithTimeout(d time.Duration) Option {
	return func(h *Handler) {
		h.timeout = d
	}
}

func New(service Service, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		service: service,
		logger:  logger,
		timeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts the hook routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(api chi.Router) {
		api.Use(middleware.Common(h.logger, h.metrics, h.timeout)...)
		api.Post("/hooks/register", h.handleRegister)

		api.Group(func(admin chi.Router) {
			admin.Use(middleware.RequireAPIKey(h.apiKey, h.logger))
			admin.Get("/hooks/stats", h.handleStats)
		})

		api.Route("/hooks/{username}/subscriptions", func(sub chi.Router) {
			sub.Use(h.requireOwner)
			sub.Get("/", h.handleListSubscriptions)
			sub.Post("/", h.handleCreateSubscription)
			sub.Get("/{id}", h.handleGetSubscription)
			sub.Delete("/{id}", h.handleDeleteSubscription)
		})
	})
}

// requireOwner authenticates HTTP Basic credentials and only lets users
// manage their own subscriptions.
func (h *Handler) requireOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		username, password, ok := r.BasicAuth()
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="hooks"`)
			httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "basic credentials required"))
			return
		}
		user, err := h.service.Authenticate(ctx, username, password)
		if err != nil {
			h.logger.WarnContext(ctx, "hook user authentication failed",
				"request_id", requestcontext.RequestID(ctx),
				"username", username,
			)
			w.Header().Set("WWW-Authenticate", `Basic realm="hooks"`)
			httputil.WriteError(w, err)
			return
		}
		if user.Username != chi.URLParam(r, "username") {
			httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "subscriptions belong to another user"))
			return
		}
		next.ServeHTTP(w, r.WithContext(requestcontext.WithHookUser(ctx, user.Username)))
	})
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := httputil.DecodeJSON[models.RegisterUserRequest](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	user, err := h.service.RegisterUser(ctx, req)
	if err != nil {
		h.fail(ctx, w, "failed to register hook user", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, user)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	all, err := h.service.Stats(ctx)
	if err != nil {
		h.fail(ctx, w, "failed to read hook stats", err)
		return
	}
	if all == nil {
		all = []*models.CredentialHookStats{}
	}
	httputil.WriteJSON(w, http.StatusOK, all)
}

func (h *Handler) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	subs, err := h.service.ListSubscriptions(ctx, requestcontext.HookUser(ctx))
	if err != nil {
		h.fail(ctx, w, "failed to list subscriptions", err)
		return
	}
	if subs == nil {
		subs = []*models.Subscription{}
	}
	httputil.WriteJSON(w, http.StatusOK, subs)
}

func (h *Handler) handleCreateSubscription(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := httputil.DecodeJSON[models.CreateSubscriptionRequest](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	created, err := h.service.CreateSubscription(ctx, requestcontext.HookUser(ctx), req)
	if err != nil {
		h.fail(ctx, w, "failed to create subscription", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, created)
}

func (h *Handler) handleGetSubscription(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := subscriptionID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	sub, err := h.service.GetSubscription(ctx, requestcontext.HookUser(ctx), id)
	if err != nil {
		h.fail(ctx, w, "failed to load subscription", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sub)
}

func (h *Handler) handleDeleteSubscription(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := subscriptionID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.service.DeleteSubscription(ctx, requestcontext.HookUser(ctx), id); err != nil {
		h.fail(ctx, w, "failed to delete subscription", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	switch dErrors.CodeOf(err) {
	case dErrors.CodeInternal:
		h.logger.ErrorContext(ctx, msg,
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
	case dErrors.CodeNotFound:
	default:
		h.logger.WarnContext(ctx, msg,
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
	}
	httputil.WriteError(w, err)
}

func subscriptionID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeBadRequest, "subscription id must be a UUID")
	}
	return id, nil
}

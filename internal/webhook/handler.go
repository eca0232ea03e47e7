// Package webhook receives agent callbacks on /agentcb/topic/{topic} and
// dispatches each topic to the matching registry manager.
package webhook

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"vcr/internal/platform/metrics"
	"vcr/internal/platform/middleware"
	"vcr/internal/registry/models"
	"vcr/internal/registry/validation"
	dErrors "vcr/pkg/domain-errors"
	"vcr/pkg/platform/httputil"
	"vcr/pkg/requestcontext"
)

// Topic names one kind of agent callback.
type Topic string

const (
	TopicIssuerRegistration Topic = "issuer_registration"
	TopicIssuer             Topic = "issuer"
	TopicCredentialType     Topic = "credential_type"
	TopicCredential         Topic = "credential"
)

// ParseTopic accepts only the known callback topics.
func ParseTopic(s string) (Topic, bool) {
	switch t := Topic(s); t {
	case TopicIssuerRegistration, TopicIssuer, TopicCredentialType, TopicCredential:
		return t, true
	}
	return "", false
}

// Service is the registry surface the webhook drives.
type Service interface {
	RegisterIssuer(ctx context.Context, def *validation.IssuerRegistrationDef, issuerOnly bool) (*models.RegistrationResult, error)
	UpdateCredential(ctx context.Context, def *validation.CredentialDef) (*models.Credential, error)
}

type topicHandler func(ctx context.Context, body any) (any, error)

// Handler serves the agent callback routes.
type Handler struct {
	service  Service
	logger   *slog.Logger
	metrics  *metrics.Metrics
	apiKey   string
	timeout  time.Duration
	dispatch map[Topic]topicHandler
}

type Option func(*Handler)

// WithAPIKey requires X-API-Key on every callback.
func WithAPIKey(key string) Option {
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
	h.dispatch = map[Topic]topicHandler{
		TopicIssuerRegistration: h.handleIssuerRegistration,
		TopicIssuer:             h.handleIssuer,
		TopicCredentialType:     h.handleCredentialType,
		TopicCredential:         h.handleCredential,
	}
	return h
}

// Register mounts the callback routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(cb chi.Router) {
		cb.Use(middleware.Common(h.logger, h.metrics, h.timeout)...)
		cb.Use(middleware.RequireAPIKey(h.apiKey, h.logger))
		cb.Post("/agentcb/topic/{topic}", h.handleTopic)
	})
}

func (h *Handler) handleTopic(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	raw := chi.URLParam(r, "topic")

	topic, ok := ParseTopic(raw)
	if !ok {
		h.logger.WarnContext(ctx, "unknown webhook topic",
			"request_id", requestID,
			"topic", raw,
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "unknown topic: "+raw))
		return
	}

	body, err := httputil.DecodeJSON[any](r)
	if err != nil {
		h.logger.WarnContext(ctx, "invalid webhook body",
			"request_id", requestID,
			"topic", string(topic),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	result, err := h.dispatch[topic](ctx, *body)
	if err != nil {
		h.writeFailure(ctx, w, topic, formatOf(*body), err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

// writeFailure logs enough to diagnose the failure. The payload itself is
// never logged.
func (h *Handler) writeFailure(ctx context.Context, w http.ResponseWriter, topic Topic, format string, err error) {
	attrs := []any{
		"request_id", requestcontext.RequestID(ctx),
		"topic", string(topic),
		"format", format,
		"error", err,
	}
	switch dErrors.CodeOf(err) {
	case dErrors.CodeInternal, dErrors.CodeConflict, dErrors.CodeTimeout:
		h.logger.ErrorContext(ctx, "webhook processing failed", attrs...)
	default:
		if fields := dErrors.FieldNames(err); len(fields) > 0 {
			attrs = append(attrs, "fields", fields)
		}
		h.logger.WarnContext(ctx, "webhook rejected", attrs...)
	}
	httputil.WriteError(w, err)
}

func (h *Handler) handleIssuerRegistration(ctx context.Context, body any) (any, error) {
	m, err := asObject(body)
	if err != nil {
		return nil, err
	}
	def, err := validation.DecodeIssuerRegistration(m)
	if err != nil {
		return nil, err
	}
	return h.service.RegisterIssuer(ctx, def, false)
}

func (h *Handler) handleIssuer(ctx context.Context, body any) (any, error) {
	m, err := asObject(body)
	if err != nil {
		return nil, err
	}
	def, err := validation.DecodeIssuer(m)
	if err != nil {
		return nil, err
	}
	return h.service.RegisterIssuer(ctx, def, true)
}

func (h *Handler) handleCredentialType(ctx context.Context, body any) (any, error) {
	m, err := asObject(body)
	if err != nil {
		return nil, err
	}
	def, err := validation.DecodeCredentialTypeRegistration(m)
	if err != nil {
		return nil, err
	}
	return h.service.RegisterIssuer(ctx, def, false)
}

// handleCredential accepts one credential object or a list of them. A list
// is processed item by item and always answers 200 with per-item results.
func (h *Handler) handleCredential(ctx context.Context, body any) (any, error) {
	switch v := body.(type) {
	case map[string]any:
		return h.processCredential(ctx, v)
	case []any:
		results := make([]ItemResult, 0, len(v))
		for _, item := range v {
			results = append(results, h.processBatchItem(ctx, item))
		}
		return results, nil
	default:
		return nil, dErrors.New(dErrors.CodeBadRequest, "body must be an object or a list of objects")
	}
}

func (h *Handler) processCredential(ctx context.Context, m map[string]any) (*models.Credential, error) {
	def, err := validation.DecodeCredential(m)
	if err != nil {
		return nil, err
	}
	if def.Format != validation.DefaultCredentialFormat {
		return nil, dErrors.WithFields(dErrors.CodeValidation, "invalid credential", []dErrors.FieldError{
			{Field: "format", Message: "unsupported format: " + def.Format},
		})
	}
	return h.service.UpdateCredential(ctx, def)
}

// ItemResult reports the outcome of one credential in a batch.
type ItemResult struct {
	CredentialID string               `json:"credential_id,omitempty"`
	Success      bool                 `json:"success"`
	Credential   *models.Credential   `json:"result,omitempty"`
	Error        string               `json:"error,omitempty"`
	Fields       []dErrors.FieldError `json:"fields,omitempty"`
}

func (h *Handler) processBatchItem(ctx context.Context, item any) ItemResult {
	m, ok := item.(map[string]any)
	if !ok {
		return ItemResult{Error: string(dErrors.CodeBadRequest)}
	}
	res := ItemResult{}
	if id, ok := m["credential_id"].(string); ok {
		res.CredentialID = id
	}
	cred, err := h.processCredential(ctx, m)
	if err != nil {
		code := dErrors.CodeOf(err)
		h.logger.WarnContext(ctx, "batch credential failed",
			"request_id", requestcontext.RequestID(ctx),
			"topic", string(TopicCredential),
			"format", formatOf(m),
			"credential_id", res.CredentialID,
			"error", err,
		)
		res.Error = string(code)
		if code != dErrors.CodeInternal {
			res.Fields = dErrors.FieldsOf(err)
		}
		return res
	}
	res.Success = true
	res.Credential = cred
	return res
}

func asObject(body any) (map[string]any, error) {
	m, ok := body.(map[string]any)
	if !ok {
		return nil, dErrors.New(dErrors.CodeBadRequest, "body must be a JSON object")
	}
	return m, nil
}

func formatOf(body any) string {
	if m, ok := body.(map[string]any); ok {
		if f, ok := m["format"].(string); ok && f != "" {
			return f
		}
	}
	return validation.DefaultCredentialFormat
}

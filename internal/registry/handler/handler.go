// Package handler serves the read-only registry API under /v2.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"vcr/internal/platform/metrics"
	"vcr/internal/platform/middleware"
	"vcr/internal/registry/models"
	"vcr/internal/registry/service"
	"vcr/internal/registry/store"
	dErrors "vcr/pkg/domain-errors"
	"vcr/pkg/platform/httputil"
	"vcr/pkg/requestcontext"
)

// Service is the query surface of the registry.
type Service interface {
	GetCredential(ctx context.Context, credentialID string) (*service.CredentialDetail, error)
	ListIssuers(ctx context.Context) ([]*models.Issuer, error)
	GetIssuer(ctx context.Context, id uuid.UUID) (*models.Issuer, error)
	ListIssuerCredentialTypes(ctx context.Context, issuerID uuid.UUID) ([]*models.CredentialType, error)
	ListSchemas(ctx context.Context, f store.SchemaFilter) ([]*models.Schema, error)
	GetCredentialType(ctx context.Context, id uuid.UUID) (*service.CredentialTypeDetail, error)
	FindTopic(ctx context.Context, topicType, sourceID string) (*models.Topic, error)
	ListTopicCredentials(ctx context.Context, topicID uuid.UUID, f store.CredentialFilter) ([]*models.Credential, error)
}

// Handler serves registry reads.
type Handler struct {
	service Service
	logger  *slog.Logger
	metrics *metrics.Metrics
	timeout time.Duration
}

func New(svc Service, logger *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{
		service: svc,
		logger:  logger,
		metrics: m,
		timeout: 30 * time.Second,
	}
}

// Register registers the /v2 routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(api chi.Router) {
		api.Use(middleware.Common(h.logger, h.metrics, h.timeout)...)
		api.Get("/v2/credential/{credentialID}", h.handleGetCredential)
		api.Get("/v2/issuer", h.handleListIssuers)
		api.Get("/v2/issuer/{id}", h.handleGetIssuer)
		api.Get("/v2/issuer/{id}/credentialtype", h.handleListIssuerCredentialTypes)
		api.Get("/v2/schema", h.handleListSchemas)
		api.Get("/v2/credentialtype/{id}", h.handleGetCredentialType)
		api.Get("/v2/topic/ident/{type}/{sourceID}", h.handleFindTopic)
		api.Get("/v2/topic/{topic}/credential", h.handleListTopicCredentials)
	})
}

func (h *Handler) handleGetCredential(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	credentialID := chi.URLParam(r, "credentialID")

	rawData, err := boolParam(r, "raw_data")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	detail, err := h.service.GetCredential(ctx, credentialID)
	if err != nil {
		h.fail(ctx, w, "failed to load credential", err)
		return
	}
	if rawData != nil && *rawData {
		httputil.WriteJSON(w, http.StatusOK, rawCredentialResponse{
			ID:           detail.Credential.ID,
			CredentialID: detail.Credential.CredentialID,
			RawData:      detail.Credential.RawData,
		})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toCredentialResponse(detail))
}

func (h *Handler) handleListIssuers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	issuers, err := h.service.ListIssuers(ctx)
	if err != nil {
		h.fail(ctx, w, "failed to list issuers", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, nonNil(issuers))
}

func (h *Handler) handleGetIssuer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := uuidParam(r, "id")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	issuer, err := h.service.GetIssuer(ctx, id)
	if err != nil {
		h.fail(ctx, w, "failed to load issuer", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, issuer)
}

func (h *Handler) handleListIssuerCredentialTypes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := uuidParam(r, "id")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	cts, err := h.service.ListIssuerCredentialTypes(ctx, id)
	if err != nil {
		h.fail(ctx, w, "failed to list credential types", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, nonNil(cts))
}

func (h *Handler) handleListSchemas(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	schemas, err := h.service.ListSchemas(ctx, store.SchemaFilter{
		Name:      q.Get("name"),
		Version:   q.Get("version"),
		OriginDID: q.Get("origin_did"),
	})
	if err != nil {
		h.fail(ctx, w, "failed to list schemas", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, nonNil(schemas))
}

func (h *Handler) handleGetCredentialType(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := uuidParam(r, "id")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	detail, err := h.service.GetCredentialType(ctx, id)
	if err != nil {
		h.fail(ctx, w, "failed to load credential type", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toCredentialTypeResponse(detail))
}

func (h *Handler) handleFindTopic(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	topic, err := h.service.FindTopic(ctx, chi.URLParam(r, "type"), chi.URLParam(r, "sourceID"))
	if err != nil {
		h.fail(ctx, w, "failed to load topic", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, topic)
}

// handleListTopicCredentials lists a topic's credentials by topic id.
func (h *Handler) handleListTopicCredentials(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := uuidParam(r, "topic")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var f store.CredentialFilter
	if f.Latest, err = boolParam(r, "latest"); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if f.Revoked, err = boolParam(r, "revoked"); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if raw := r.URL.Query().Get("credential_type_id"); raw != "" {
		ctID, err := uuid.Parse(raw)
		if err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "credential_type_id must be a UUID"))
			return
		}
		f.CredentialTypeID = &ctID
	}
	creds, err := h.service.ListTopicCredentials(ctx, id, f)
	if err != nil {
		h.fail(ctx, w, "failed to list topic credentials", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toTopicCredentials(creds))
}

// fail logs unexpected errors; lookup misses are answered without noise.
func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	if dErrors.CodeOf(err) != dErrors.CodeNotFound {
		h.logger.ErrorContext(ctx, msg,
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
	}
	httputil.WriteError(w, err)
}

func uuidParam(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeBadRequest, name+" must be a UUID")
	}
	return id, nil
}

// boolParam returns nil when the query parameter is absent.
func boolParam(r *http.Request, name string) (*bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeBadRequest, name+" must be true or false")
	}
	return &v, nil
}

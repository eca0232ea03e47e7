// Package service holds the registry managers: issuer registration, schema
// and credential type upserts, and credential processing.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"vcr/internal/platform/outbox"
	"vcr/internal/registry/metrics"
	"vcr/internal/registry/models"
	"vcr/internal/registry/store"
	dErrors "vcr/pkg/domain-errors"
	"vcr/pkg/platform/tx"
)

// Store is the persistence the managers need.
type Store interface {
	UpsertIssuer(ctx context.Context, issuer *models.Issuer) (*models.Issuer, error)
	GetIssuer(ctx context.Context, id uuid.UUID) (*models.Issuer, error)
	ListIssuers(ctx context.Context) ([]*models.Issuer, error)

	GetOrCreateSchema(ctx context.Context, schema *models.Schema) (*models.Schema, error)
	GetSchema(ctx context.Context, id uuid.UUID) (*models.Schema, error)
	FindSchema(ctx context.Context, key models.SchemaKey) (*models.Schema, error)
	ListSchemas(ctx context.Context, f store.SchemaFilter) ([]*models.Schema, error)

	UpsertCredentialType(ctx context.Context, ct *models.CredentialType) (*models.CredentialType, error)
	GetCredentialType(ctx context.Context, id uuid.UUID) (*models.CredentialType, error)
	FindCredentialTypeBySchema(ctx context.Context, key models.SchemaKey) (*models.CredentialType, error)
	ListCredentialTypesByIssuer(ctx context.Context, issuerID uuid.UUID) ([]*models.CredentialType, error)

	GetOrCreateTopic(ctx context.Context, topic *models.Topic) (*models.Topic, bool, error)
	GetTopic(ctx context.Context, id uuid.UUID) (*models.Topic, error)
	FindTopic(ctx context.Context, topicType, sourceID string) (*models.Topic, error)

	UpsertCredential(ctx context.Context, cred *models.Credential) (*models.Credential, bool, error)
	GetCredential(ctx context.Context, credentialID string) (*models.Credential, error)
	FindNewestCredential(ctx context.Context, key store.LatestKey, excludeCredentialID string) (*models.Credential, error)
	ClearLatest(ctx context.Context, key store.LatestKey, excludeCredentialID string) error
	SetLatest(ctx context.Context, id uuid.UUID, latest bool) error
	ListTopicCredentials(ctx context.Context, topicID uuid.UUID, f store.CredentialFilter) ([]*models.Credential, error)
}

// EventWriter appends registry events to the outbox inside the caller's transaction.
type EventWriter interface {
	Append(ctx context.Context, event outbox.Event) error
}

// Service implements the registry managers. Each top-level call runs in one
// transaction: a failure anywhere rolls back every nested upsert.
type Service struct {
	store   Store
	tx      tx.Runner
	events  EventWriter
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithEventWriter enables outbox events for hook delivery.
func WithEventWriter(w EventWriter) Option {
	return func(s *Service) {
		s.events = w
	}
}

func New(st Store, runner tx.Runner, opts ...Option) *Service {
	s := &Service{
		store:  st,
		tx:     runner,
		logger: slog.Default(),
		tracer: otel.Tracer("vcr/registry"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (s *Service) appendEvent(ctx context.Context, aggregateType, aggregateID, eventType string, payload any) error {
	if s.events == nil {
		return nil
	}
	event, err := outbox.NewEvent(aggregateType, aggregateID, eventType, payload, nowUTC(ctx))
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode registry event")
	}
	if err := s.events.Append(ctx, event); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record registry event")
	}
	return nil
}

// storeError converts an infrastructure error into a coded domain error.
func storeError(err error, action string) error {
	var de *dErrors.Error
	switch {
	case errors.As(err, &de):
		return err
	case errors.Is(err, store.ErrNotFound):
		return dErrors.Wrap(err, dErrors.CodeNotFound, action+": not found")
	case errors.Is(err, store.ErrConflict):
		return dErrors.Wrap(err, dErrors.CodeConflict, action+": concurrent update, retry the request")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, fmt.Sprintf("failed to %s", action))
	}
}

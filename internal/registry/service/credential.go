package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"vcr/internal/registry/mapping"
	"vcr/internal/registry/models"
	"vcr/internal/registry/store"
	"vcr/internal/registry/validation"
	dErrors "vcr/pkg/domain-errors"
	"vcr/pkg/requestcontext"
)

// Credential outcomes for metrics.
const (
	outcomeCreated  = "created"
	outcomeUpdated  = "updated"
	outcomeRejected = "rejected"
)

// UpdateCredential applies the owning credential type's mapping to def,
// attaches the result to its topic, and upserts the credential by
// credential_id. Topic and credential are written in one transaction.
func (s *Service) UpdateCredential(ctx context.Context, def *validation.CredentialDef) (cred *models.Credential, err error) {
	start := time.Now()
	ctx, span := s.startSpan(ctx, "registry.UpdateCredential",
		attribute.String("credential.schema", def.Schema),
		attribute.String("credential.version", def.Version),
		attribute.String("credential.format", def.Format),
	)
	defer func() {
		endSpan(span, err)
		s.metrics.ObserveUpdateCredential(start)
		if err != nil {
			s.metrics.IncCredential(outcomeRejected)
		}
	}()

	if err := def.Validate(); err != nil {
		return nil, err
	}

	var created, topicCreated bool
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		now := nowUTC(ctx)
		key := models.SchemaKey{Name: def.Schema, Version: def.Version, OriginDID: def.OriginDID}
		ct, err := s.store.FindCredentialTypeBySchema(ctx, key)
		if errors.Is(err, store.ErrNotFound) {
			return dErrors.Wrap(err, dErrors.CodeNotFound,
				fmt.Sprintf("no credential type registered for schema %s version %s from %s", key.Name, key.Version, key.OriginDID))
		}
		if err != nil {
			return storeError(err, "load credential type")
		}

		derived, err := mapping.Apply(ct.ProcessorConfig, def.RawData, now)
		if err != nil {
			return err
		}

		topic, isNew, err := s.store.GetOrCreateTopic(ctx, &models.Topic{
			ID:        uuid.New(),
			SourceID:  derived.TopicSourceID,
			Type:      derived.TopicType,
			CreatedAt: now,
			UpdatedAt: now,
		})
		if err != nil {
			return storeError(err, "save topic")
		}
		topicCreated = isNew

		next := &models.Credential{
			ID:               uuid.New(),
			CredentialID:     def.CredentialID,
			CredentialTypeID: ct.ID,
			TopicID:          topic.ID,
			Format:           def.Format,
			RawData:          def.RawData,
			EffectiveDate:    derived.EffectiveDate,
			RevokedDate:      derived.RevokedDate,
			Revoked:          derived.Revoked,
			Inactive:         derived.Inactive,
			CardinalityHash:  derived.CardinalityHash,
			Attributes:       derived.Attributes,
			Names:            derived.Names,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		cred, created, err = s.saveCredential(ctx, next)
		if err != nil {
			return err
		}

		schema, err := s.store.GetSchema(ctx, ct.SchemaID)
		if err != nil {
			return storeError(err, "load schema")
		}
		eventType := models.EventCredentialUpdated
		if created {
			eventType = models.EventCredentialCreated
		}
		return s.appendEvent(ctx, models.AggregateCredential, cred.CredentialID, eventType, models.CredentialEvent{
			ID:               cred.ID,
			CredentialID:     cred.CredentialID,
			CredentialTypeID: ct.ID,
			Schema:           schema.Name,
			SchemaVersion:    schema.Version,
			OriginDID:        schema.OriginDID,
			TopicID:          topic.ID,
			TopicSourceID:    topic.SourceID,
			TopicType:        topic.Type,
			TopicCreated:     topicCreated,
			EffectiveDate:    cred.EffectiveDate,
			Revoked:          cred.Revoked,
			Inactive:         cred.Inactive,
			Latest:           cred.Latest,
			Attributes:       cred.Attributes,
			Names:            cred.Names,
		})
	})
	if err != nil {
		return nil, err
	}

	if topicCreated {
		s.metrics.IncTopicCreated()
	}
	outcome := outcomeUpdated
	if created {
		outcome = outcomeCreated
	}
	s.metrics.IncCredential(outcome)
	s.logger.InfoContext(ctx, "credential processed",
		"credential_id", cred.CredentialID,
		"credential_type_id", cred.CredentialTypeID,
		"topic_id", cred.TopicID,
		"outcome", outcome,
		"latest", cred.Latest,
		"request_id", requestcontext.RequestID(ctx),
	)
	return cred, nil
}

func latestKey(c *models.Credential) store.LatestKey {
	return store.LatestKey{
		CredentialTypeID: c.CredentialTypeID,
		TopicID:          c.TopicID,
		CardinalityHash:  c.CardinalityHash,
	}
}

// saveCredential upserts next and keeps exactly one latest credential per
// credential type, topic and cardinality: the one with the greatest effective
// date, the incoming credential winning ties. A credential without an
// effective date never beats a dated one. If next moved out of a group where
// it was latest, the newest remaining credential there takes the flag.
func (s *Service) saveCredential(ctx context.Context, next *models.Credential) (*models.Credential, bool, error) {
	prev, err := s.store.GetCredential(ctx, next.CredentialID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, false, storeError(err, "load credential")
	}

	key := latestKey(next)
	rival, err := s.store.FindNewestCredential(ctx, key, next.CredentialID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, false, storeError(err, "load newest credential")
	}

	next.Latest = rival == nil || !effective(next).Before(effective(rival))
	if next.Latest {
		if err := s.store.ClearLatest(ctx, key, next.CredentialID); err != nil {
			return nil, false, storeError(err, "supersede credential")
		}
	}

	cred, created, err := s.store.UpsertCredential(ctx, next)
	if err != nil {
		return nil, false, storeError(err, "save credential")
	}

	if !next.Latest && !rival.Latest {
		if err := s.store.SetLatest(ctx, rival.ID, true); err != nil {
			return nil, false, storeError(err, "promote credential")
		}
	}

	if prev != nil && prev.Latest && latestKey(prev) != key {
		left, err := s.store.FindNewestCredential(ctx, latestKey(prev), next.CredentialID)
		switch {
		case errors.Is(err, store.ErrNotFound):
		case err != nil:
			return nil, false, storeError(err, "load newest credential")
		default:
			if err := s.store.SetLatest(ctx, left.ID, true); err != nil {
				return nil, false, storeError(err, "promote credential")
			}
		}
	}
	return cred, created, nil
}

func effective(c *models.Credential) time.Time {
	if c.EffectiveDate == nil {
		return time.Time{}
	}
	return *c.EffectiveDate
}

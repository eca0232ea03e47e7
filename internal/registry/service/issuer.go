package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"vcr/internal/registry/models"
	"vcr/internal/registry/store"
	"vcr/internal/registry/validation"
	dErrors "vcr/pkg/domain-errors"
	"vcr/pkg/requestcontext"
)

func nowUTC(ctx context.Context) time.Time {
	return requestcontext.Now(ctx).UTC()
}

// RegisterIssuer upserts the issuer by DID and, unless issuerOnly, its
// schemas and credential types. Re-registering identical content changes
// nothing but timestamps.
func (s *Service) RegisterIssuer(ctx context.Context, def *validation.IssuerRegistrationDef, issuerOnly bool) (result *models.RegistrationResult, err error) {
	ctx, span := s.startSpan(ctx, "registry.RegisterIssuer",
		attribute.String("issuer.did", def.Issuer.DID),
		attribute.Int("credential_types", len(def.CredentialTypes)),
		attribute.Bool("issuer_only", issuerOnly),
	)
	defer func() { endSpan(span, err) }()

	if err := def.Validate(); err != nil {
		return nil, err
	}

	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		now := nowUTC(ctx)
		issuer, err := s.store.UpsertIssuer(ctx, &models.Issuer{
			ID:           uuid.New(),
			DID:          def.Issuer.DID,
			Name:         def.Issuer.Name,
			Abbreviation: def.Issuer.Abbreviation,
			Email:        def.Issuer.Email,
			URL:          def.Issuer.URL,
			Endpoint:     def.Issuer.Endpoint,
			LogoB64:      def.Issuer.LogoB64,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
		if err != nil {
			return storeError(err, "save issuer")
		}
		result = &models.RegistrationResult{
			Issuer:          issuer,
			Schemas:         []*models.Schema{},
			CredentialTypes: []*models.CredentialType{},
		}
		if !issuerOnly && len(def.CredentialTypes) > 0 {
			if result.Schemas, err = s.UpdateSchemas(ctx, issuer, def.CredentialTypes); err != nil {
				return err
			}
			if result.CredentialTypes, err = s.UpdateCredentialTypes(ctx, issuer, result.Schemas, def.CredentialTypes); err != nil {
				return err
			}
		}

		ids := make([]uuid.UUID, len(result.CredentialTypes))
		for i, ct := range result.CredentialTypes {
			ids[i] = ct.ID
		}
		return s.appendEvent(ctx, models.AggregateIssuer, issuer.ID.String(), models.EventIssuerRegistered,
			models.IssuerRegisteredEvent{IssuerID: issuer.ID, DID: issuer.DID, CredentialTypes: ids})
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncIssuerRegistration()
	s.logger.InfoContext(ctx, "issuer registered",
		"issuer_id", result.Issuer.ID,
		"did", result.Issuer.DID,
		"schemas", len(result.Schemas),
		"credential_types", len(result.CredentialTypes),
		"request_id", requestcontext.RequestID(ctx),
	)
	return result, nil
}

// UpdateSchemas returns one schema per definition, in input order.
// Definitions that share a (name, version) resolve to the same row.
func (s *Service) UpdateSchemas(ctx context.Context, issuer *models.Issuer, defs []validation.CredentialTypeDef) ([]*models.Schema, error) {
	out := make([]*models.Schema, 0, len(defs))
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		now := nowUTC(ctx)
		for i, def := range defs {
			key := def.SchemaKey(issuer.DID)
			schema, err := s.store.GetOrCreateSchema(ctx, &models.Schema{
				ID:          uuid.New(),
				Name:        key.Name,
				Version:     key.Version,
				OriginDID:   key.OriginDID,
				PublisherID: issuer.ID,
				CreatedAt:   now,
				UpdatedAt:   now,
			})
			if err != nil {
				return storeError(err, fmt.Sprintf("save schema for credential_types.%d", i))
			}
			out = append(out, schema)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateCredentialTypes upserts one credential type per definition keyed by
// (issuer, schema) and stores its processor config.
func (s *Service) UpdateCredentialTypes(ctx context.Context, issuer *models.Issuer, schemas []*models.Schema, defs []validation.CredentialTypeDef) ([]*models.CredentialType, error) {
	byKey := make(map[models.SchemaKey]*models.Schema, len(schemas))
	for _, sc := range schemas {
		byKey[sc.Key()] = sc
	}

	out := make([]*models.CredentialType, 0, len(defs))
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		now := nowUTC(ctx)
		for i, def := range defs {
			key := def.SchemaKey(issuer.DID)
			schema, ok := byKey[key]
			if !ok {
				found, err := s.store.FindSchema(ctx, key)
				if errors.Is(err, store.ErrNotFound) {
					return dErrors.Wrap(err, dErrors.CodeNotFound,
						fmt.Sprintf("credential_types.%d: schema %s version %s is not registered for %s", i, key.Name, key.Version, key.OriginDID))
				}
				if err != nil {
					return storeError(err, "load schema")
				}
				schema = found
			}
			ct, err := s.store.UpsertCredentialType(ctx, &models.CredentialType{
				ID:              uuid.New(),
				IssuerID:        issuer.ID,
				SchemaID:        schema.ID,
				Description:     def.DisplayDescription(),
				ProcessorConfig: def.ProcessorConfig(),
				VisibleFields:   def.VisibleFields,
				LogoB64:         def.LogoB64,
				URL:             def.Endpoint,
				CreatedAt:       now,
				UpdatedAt:       now,
			})
			if err != nil {
				return storeError(err, fmt.Sprintf("save credential_types.%d", i))
			}
			out = append(out, ct)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

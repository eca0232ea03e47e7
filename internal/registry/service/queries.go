package service

import (
	"context"

	"github.com/google/uuid"

	"vcr/internal/registry/models"
	"vcr/internal/registry/store"
)

// CredentialDetail is a credential with the records it references.
type CredentialDetail struct {
	Credential     *models.Credential
	CredentialType *models.CredentialType
	Schema         *models.Schema
	Topic          *models.Topic
}

func (s *Service) GetCredential(ctx context.Context, credentialID string) (*CredentialDetail, error) {
	cred, err := s.store.GetCredential(ctx, credentialID)
	if err != nil {
		return nil, storeError(err, "load credential")
	}
	ct, err := s.store.GetCredentialType(ctx, cred.CredentialTypeID)
	if err != nil {
		return nil, storeError(err, "load credential type")
	}
	schema, err := s.store.GetSchema(ctx, ct.SchemaID)
	if err != nil {
		return nil, storeError(err, "load schema")
	}
	topic, err := s.store.GetTopic(ctx, cred.TopicID)
	if err != nil {
		return nil, storeError(err, "load topic")
	}
	return &CredentialDetail{Credential: cred, CredentialType: ct, Schema: schema, Topic: topic}, nil
}

func (s *Service) ListIssuers(ctx context.Context) ([]*models.Issuer, error) {
	issuers, err := s.store.ListIssuers(ctx)
	if err != nil {
		return nil, storeError(err, "list issuers")
	}
	return issuers, nil
}

func (s *Service) GetIssuer(ctx context.Context, id uuid.UUID) (*models.Issuer, error) {
	issuer, err := s.store.GetIssuer(ctx, id)
	if err != nil {
		return nil, storeError(err, "load issuer")
	}
	return issuer, nil
}

func (s *Service) ListIssuerCredentialTypes(ctx context.Context, issuerID uuid.UUID) ([]*models.CredentialType, error) {
	if _, err := s.GetIssuer(ctx, issuerID); err != nil {
		return nil, err
	}
	cts, err := s.store.ListCredentialTypesByIssuer(ctx, issuerID)
	if err != nil {
		return nil, storeError(err, "list credential types")
	}
	return cts, nil
}

func (s *Service) ListSchemas(ctx context.Context, f store.SchemaFilter) ([]*models.Schema, error) {
	schemas, err := s.store.ListSchemas(ctx, f)
	if err != nil {
		return nil, storeError(err, "list schemas")
	}
	return schemas, nil
}

// CredentialTypeDetail is a credential type with its schema and issuer.
type CredentialTypeDetail struct {
	CredentialType *models.CredentialType
	Schema         *models.Schema
	Issuer         *models.Issuer
}

func (s *Service) GetCredentialType(ctx context.Context, id uuid.UUID) (*CredentialTypeDetail, error) {
	ct, err := s.store.GetCredentialType(ctx, id)
	if err != nil {
		return nil, storeError(err, "load credential type")
	}
	schema, err := s.store.GetSchema(ctx, ct.SchemaID)
	if err != nil {
		return nil, storeError(err, "load schema")
	}
	issuer, err := s.store.GetIssuer(ctx, ct.IssuerID)
	if err != nil {
		return nil, storeError(err, "load issuer")
	}
	return &CredentialTypeDetail{CredentialType: ct, Schema: schema, Issuer: issuer}, nil
}

func (s *Service) FindTopic(ctx context.Context, topicType, sourceID string) (*models.Topic, error) {
	topic, err := s.store.FindTopic(ctx, topicType, sourceID)
	if err != nil {
		return nil, storeError(err, "load topic")
	}
	return topic, nil
}

func (s *Service) ListTopicCredentials(ctx context.Context, topicID uuid.UUID, f store.CredentialFilter) ([]*models.Credential, error) {
	if _, err := s.store.GetTopic(ctx, topicID); err != nil {
		return nil, storeError(err, "load topic")
	}
	creds, err := s.store.ListTopicCredentials(ctx, topicID, f)
	if err != nil {
		return nil, storeError(err, "list credentials")
	}
	return creds, nil
}

package handler

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"vcr/internal/registry/models"
	"vcr/internal/registry/service"
)

type schemaSummary struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Version   string    `json:"version"`
	OriginDID string    `json:"origin_did"`
}

type credentialTypeSummary struct {
	ID          uuid.UUID     `json:"id"`
	Description string        `json:"description"`
	Schema      schemaSummary `json:"schema"`
}

type credentialResponse struct {
	ID             uuid.UUID             `json:"id"`
	CredentialID   string                `json:"credential_id"`
	Format         string                `json:"format"`
	EffectiveDate  *time.Time            `json:"effective_date"`
	RevokedDate    *time.Time            `json:"revoked_date"`
	Revoked        bool                  `json:"revoked"`
	Inactive       bool                  `json:"inactive"`
	Latest         bool                  `json:"latest"`
	CredentialType credentialTypeSummary `json:"credential_type"`
	Topic          *models.Topic         `json:"topic"`
	Attributes     []models.Attribute    `json:"attributes"`
	Names          []models.Name         `json:"names"`
}

type rawCredentialResponse struct {
	ID           uuid.UUID       `json:"id"`
	CredentialID string          `json:"credential_id"`
	RawData      json.RawMessage `json:"raw_data"`
}

func summarizeSchema(s *models.Schema) schemaSummary {
	return schemaSummary{ID: s.ID, Name: s.Name, Version: s.Version, OriginDID: s.OriginDID}
}

func toCredentialResponse(d *service.CredentialDetail) credentialResponse {
	c := d.Credential
	return credentialResponse{
		ID:            c.ID,
		CredentialID:  c.CredentialID,
		Format:        c.Format,
		EffectiveDate: c.EffectiveDate,
		RevokedDate:   c.RevokedDate,
		Revoked:       c.Revoked,
		Inactive:      c.Inactive,
		Latest:        c.Latest,
		CredentialType: credentialTypeSummary{
			ID:          d.CredentialType.ID,
			Description: d.CredentialType.Description,
			Schema:      summarizeSchema(d.Schema),
		},
		Topic:      d.Topic,
		Attributes: nonNil(c.Attributes),
		Names:      nonNil(c.Names),
	}
}

type credentialTypeResponse struct {
	*models.CredentialType
	Schema           schemaSummary  `json:"schema"`
	Issuer           *models.Issuer `json:"issuer"`
	TaggedAttributes []string       `json:"tagged_attributes"`
}

func toCredentialTypeResponse(d *service.CredentialTypeDetail) credentialTypeResponse {
	return credentialTypeResponse{
		CredentialType:   d.CredentialType,
		Schema:           summarizeSchema(d.Schema),
		Issuer:           d.Issuer,
		TaggedAttributes: nonNil(d.CredentialType.TaggedAttributes()),
	}
}

// topicCredential is a credential listed under its topic; raw data is omitted.
type topicCredential struct {
	ID               uuid.UUID          `json:"id"`
	CredentialID     string             `json:"credential_id"`
	CredentialTypeID uuid.UUID          `json:"credential_type_id"`
	EffectiveDate    *time.Time         `json:"effective_date"`
	Revoked          bool               `json:"revoked"`
	Inactive         bool               `json:"inactive"`
	Latest           bool               `json:"latest"`
	Attributes       []models.Attribute `json:"attributes"`
	Names            []models.Name      `json:"names"`
}

func toTopicCredentials(creds []*models.Credential) []topicCredential {
	out := make([]topicCredential, 0, len(creds))
	for _, c := range creds {
		out = append(out, topicCredential{
			ID:               c.ID,
			CredentialID:     c.CredentialID,
			CredentialTypeID: c.CredentialTypeID,
			EffectiveDate:    c.EffectiveDate,
			Revoked:          c.Revoked,
			Inactive:         c.Inactive,
			Latest:           c.Latest,
			Attributes:       nonNil(c.Attributes),
			Names:            nonNil(c.Names),
		})
	}
	return out
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

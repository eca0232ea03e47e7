package models

import (
	"time"

	"github.com/google/uuid"
)

// Outbox aggregate and event types.
const (
	AggregateIssuer     = "issuer"
	AggregateCredential = "credential"

	EventIssuerRegistered  = "issuer.registered"
	EventCredentialCreated = "credential.created"
	EventCredentialUpdated = "credential.updated"
)

// IssuerRegisteredEvent is the payload of EventIssuerRegistered.
type IssuerRegisteredEvent struct {
	IssuerID        uuid.UUID   `json:"issuer_id"`
	DID             string      `json:"did"`
	CredentialTypes []uuid.UUID `json:"credential_types"`
}

// CredentialEvent is the payload of credential events delivered to hooks.
type CredentialEvent struct {
	ID               uuid.UUID   `json:"id"`
	CredentialID     string      `json:"credential_id"`
	CredentialTypeID uuid.UUID   `json:"credential_type_id"`
	Schema           string      `json:"schema"`
	SchemaVersion    string      `json:"schema_version"`
	OriginDID        string      `json:"origin_did"`
	TopicID          uuid.UUID   `json:"topic_id"`
	TopicSourceID    string      `json:"topic_source_id"`
	TopicType        string      `json:"topic_type"`
	TopicCreated     bool        `json:"topic_created"`
	EffectiveDate    *time.Time  `json:"effective_date,omitempty"`
	Revoked          bool        `json:"revoked"`
	Inactive         bool        `json:"inactive"`
	Latest           bool        `json:"latest"`
	Attributes       []Attribute `json:"attributes"`
	Names            []Name      `json:"names"`
}

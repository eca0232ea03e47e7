// Package models holds the registry records: issuers, schemas, credential
// types, topics and credentials.
package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Issuer is a credential issuer identified by its DID.
type Issuer struct {
	ID           uuid.UUID `json:"id"`
	DID          string    `json:"did"`
	Name         string    `json:"name"`
	Abbreviation string    `json:"abbreviation"`
	Email        string    `json:"email"`
	URL          string    `json:"url"`
	Endpoint     string    `json:"endpoint,omitempty"`
	LogoB64      string    `json:"logo_b64,omitempty"`
	CreatedAt    time.Time `json:"create_timestamp"`
	UpdatedAt    time.Time `json:"update_timestamp"`
}

// Schema is unique by (Name, Version, OriginDID).
type Schema struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Version     string    `json:"version"`
	OriginDID   string    `json:"origin_did"`
	PublisherID uuid.UUID `json:"publisher_id"`
	CreatedAt   time.Time `json:"create_timestamp"`
	UpdatedAt   time.Time `json:"update_timestamp"`
}

// SchemaKey is the natural key of a Schema.
type SchemaKey struct {
	Name      string
	Version   string
	OriginDID string
}

func (s *Schema) Key() SchemaKey {
	return SchemaKey{Name: s.Name, Version: s.Version, OriginDID: s.OriginDID}
}

// CredentialType binds an issuer and schema to a processor configuration.
// Unique by (IssuerID, SchemaID).
type CredentialType struct {
	ID              uuid.UUID       `json:"id"`
	IssuerID        uuid.UUID       `json:"issuer_id"`
	SchemaID        uuid.UUID       `json:"schema_id"`
	Description     string          `json:"description"`
	ProcessorConfig ProcessorConfig `json:"processor_config"`
	VisibleFields   []string        `json:"visible_fields"`
	LogoB64         string          `json:"logo_b64,omitempty"`
	URL             string          `json:"url,omitempty"`
	CreatedAt       time.Time       `json:"create_timestamp"`
	UpdatedAt       time.Time       `json:"update_timestamp"`
}

// TaggedAttributes lists every mapping name referenced by the processor
// config: cardinality fields, then the topic source name, then credential
// mapping names. Duplicates are kept.
func (ct *CredentialType) TaggedAttributes() []string {
	return ct.ProcessorConfig.TaggedAttributes()
}

// Topic is the subject credentials describe. Unique by (SourceID, Type).
type Topic struct {
	ID        uuid.UUID `json:"id"`
	SourceID  string    `json:"source_id"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"create_timestamp"`
	UpdatedAt time.Time `json:"update_timestamp"`
}

// Attribute formats.
const (
	FormatText     = "text"
	FormatDatetime = "datetime"
)

// Attribute is a claim value extracted by a mapping rule.
type Attribute struct {
	Type   string `json:"type"`
	Format string `json:"format"`
	Value  string `json:"value"`
}

// NameTypeEntity is the Name type produced by a rule named "name".
const NameTypeEntity = "entity_name"

// Name is a display name extracted from a credential.
type Name struct {
	Text string `json:"text"`
	Type string `json:"type"`
}

// Credential is unique by CredentialID.
type Credential struct {
	ID               uuid.UUID       `json:"id"`
	CredentialID     string          `json:"credential_id"`
	CredentialTypeID uuid.UUID       `json:"credential_type_id"`
	TopicID          uuid.UUID       `json:"topic_id"`
	Format           string          `json:"format"`
	RawData          json.RawMessage `json:"raw_data"`
	EffectiveDate    *time.Time      `json:"effective_date"`
	RevokedDate      *time.Time      `json:"revoked_date"`
	Revoked          bool            `json:"revoked"`
	Inactive         bool            `json:"inactive"`
	Latest           bool            `json:"latest"`
	CardinalityHash  string          `json:"-"`
	Attributes       []Attribute     `json:"attributes"`
	Names            []Name          `json:"names"`
	CreatedAt        time.Time       `json:"create_timestamp"`
	UpdatedAt        time.Time       `json:"update_timestamp"`
}

// RegistrationResult is returned by issuer registration. Schemas and
// CredentialTypes follow the order of the submitted credential type entries.
type RegistrationResult struct {
	Issuer          *Issuer           `json:"issuer"`
	Schemas         []*Schema         `json:"schemas"`
	CredentialTypes []*CredentialType `json:"credential_types"`
}

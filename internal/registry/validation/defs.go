// Package validation decodes and validates inbound registry payloads into
// typed definitions. Every offending field is reported, keyed by its dotted
// path (for example credential_types.0.topic.type).
package validation

import (
	"encoding/json"
	"net/mail"
	"net/url"
	"strconv"

	"vcr/internal/registry/mapping"
	"vcr/internal/registry/models"
	platformstrings "vcr/pkg/platform/strings"
)

// IssuerDef describes an issuer.
type IssuerDef struct {
	DID          string
	Name         string
	Abbreviation string
	Email        string
	URL          string
	Endpoint     string
	LogoB64      string
}

// MappingRuleDef is a named path rule.
type MappingRuleDef struct {
	Name   string
	Path   string
	Format string
}

// TopicDef derives a topic from credential data: a literal type and a
// source id path.
type TopicDef struct {
	Type     string
	SourceID MappingRuleDef
}

// CredentialTypeDef describes one credential type of an issuer.
type CredentialTypeDef struct {
	Schema            string
	Version           string
	OriginDID         string
	Name              string
	Description       string
	Topic             TopicDef
	Credential        map[string]MappingRuleDef
	Mappings          []MappingRuleDef
	CardinalityFields []string
	Endpoint          string
	LogoB64           string
	VisibleFields     []string
}

// IssuerRegistrationDef is an issuer with the credential types it publishes.
type IssuerRegistrationDef struct {
	Issuer          IssuerDef
	CredentialTypes []CredentialTypeDef
}

// CredentialDef is one inbound credential.
type CredentialDef struct {
	Format       string
	Schema       string
	Version      string
	OriginDID    string
	CredentialID string
	RawData      json.RawMessage
}

func (d IssuerDef) Validate() error {
	c := newCollector()
	d.validate(c, "")
	return c.err("invalid issuer")
}

func (d IssuerDef) validate(c *collector, prefix string) {
	c.required(join(prefix, "did"), d.DID)
	c.required(join(prefix, "name"), d.Name)
	if d.Email != "" {
		if _, err := mail.ParseAddress(d.Email); err != nil {
			c.fail(join(prefix, "email"), "must be an email address")
		}
	}
	checkURL(c, join(prefix, "url"), d.URL)
	checkURL(c, join(prefix, "endpoint"), d.Endpoint)
}

func checkURL(c *collector, field, value string) {
	if value == "" {
		return
	}
	u, err := url.ParseRequestURI(value)
	if err != nil || u.Scheme == "" || u.Host == "" {
		c.fail(field, "must be an absolute URL")
	}
}

func (d MappingRuleDef) validate(c *collector, prefix string, nameRequired bool) {
	if nameRequired {
		c.required(join(prefix, "name"), d.Name)
	}
	field := join(prefix, "path")
	if d.Path == "" {
		c.fail(field, "is required")
	} else if err := mapping.ValidPath(d.Path); err != nil {
		c.fail(field, "invalid path: "+err.Error())
	}
	switch d.Format {
	case "", models.FormatText, models.FormatDatetime:
	default:
		c.fail(join(prefix, "format"), "must be one of text, datetime")
	}
}

func (d TopicDef) validate(c *collector, prefix string) {
	if d == (TopicDef{}) {
		c.fail(prefix, "is required")
		return
	}
	c.required(join(prefix, "type"), d.Type)
	d.SourceID.validate(c, join(prefix, "source_id"), false)
}

func (d CredentialTypeDef) Validate() error {
	c := newCollector()
	d.validate(c, "")
	return c.err("invalid credential type")
}

func (d CredentialTypeDef) validate(c *collector, prefix string) {
	c.required(join(prefix, "schema"), d.Schema)
	c.required(join(prefix, "version"), d.Version)
	d.Topic.validate(c, join(prefix, "topic"))
	for key, rule := range d.Credential {
		field := join(join(prefix, "credential"), key)
		if key == "" {
			c.fail(field, "mapping type is required")
			continue
		}
		rule.validate(c, field, true)
	}
	for i, rule := range d.Mappings {
		rule.validate(c, join(join(prefix, "mappings"), strconv.Itoa(i)), true)
	}
	for i, f := range d.CardinalityFields {
		c.required(join(join(prefix, "cardinality_fields"), strconv.Itoa(i)), f)
	}
	checkURL(c, join(prefix, "endpoint"), d.Endpoint)
}

// ProcessorConfig projects the mapping parts of the definition into the
// stored processor config.
func (d CredentialTypeDef) ProcessorConfig() models.ProcessorConfig {
	pc := models.ProcessorConfig{
		Topic: models.TopicMapping{
			Type:     d.Topic.Type,
			SourceID: d.Topic.SourceID.model(),
		},
	}
	if len(d.CardinalityFields) > 0 {
		pc.CardinalityFields = append([]string(nil), d.CardinalityFields...)
	}
	if len(d.Credential) > 0 {
		pc.Credential = make(map[string]models.MappingRule, len(d.Credential))
		for k, r := range d.Credential {
			pc.Credential[k] = r.model()
		}
	}
	for _, r := range d.Mappings {
		pc.Mappings = append(pc.Mappings, r.model())
	}
	return pc
}

func (d MappingRuleDef) model() models.MappingRule {
	return models.MappingRule{Name: d.Name, Path: d.Path, Format: d.Format}
}

// SchemaKey is the natural key of the schema this definition publishes.
// Schemas are always owned by the registering issuer.
func (d CredentialTypeDef) SchemaKey(issuerDID string) models.SchemaKey {
	return models.SchemaKey{Name: d.Schema, Version: d.Version, OriginDID: issuerDID}
}

// DisplayDescription falls back to the name when no description is given.
func (d CredentialTypeDef) DisplayDescription() string {
	if d.Description != "" {
		return d.Description
	}
	return d.Name
}

func (d IssuerRegistrationDef) Validate() error {
	c := newCollector()
	d.validate(c)
	return c.err("invalid issuer registration")
}

func (d IssuerRegistrationDef) validate(c *collector) {
	if d.Issuer == (IssuerDef{}) {
		c.fail("issuer", "is required")
	} else {
		d.Issuer.validate(c, "issuer")
	}
	for i, ct := range d.CredentialTypes {
		prefix := join("credential_types", strconv.Itoa(i))
		ct.validate(c, prefix)
		if ct.OriginDID != "" && d.Issuer.DID != "" && ct.OriginDID != d.Issuer.DID {
			c.fail(join(prefix, "origin_did"), "must match issuer.did")
		}
	}
}

func (d CredentialDef) Validate() error {
	c := newCollector()
	d.validate(c, "")
	return c.err("invalid credential")
}

func (d CredentialDef) validate(c *collector, prefix string) {
	c.required(join(prefix, "schema"), d.Schema)
	c.required(join(prefix, "version"), d.Version)
	c.required(join(prefix, "origin_did"), d.OriginDID)
	c.required(join(prefix, "credential_id"), d.CredentialID)
	if len(d.RawData) == 0 {
		c.fail(join(prefix, "raw_data"), "is required")
	}
}

// normalizeVisibleFields accepts a list or a comma separated string.
func normalizeVisibleFields(c *collector, m map[string]any, prefix string) []string {
	if s, ok := m["visible_fields"].(string); ok {
		return platformstrings.SplitList(s)
	}
	return platformstrings.DedupeAndTrim(c.strList(m, "visible_fields", prefix))
}

package validation

import (
	"encoding/json"
	"strconv"
)

// DefaultCredentialFormat is assumed when a credential omits its format.
const DefaultCredentialFormat = "vc_di"

// DecodeIssuerRegistration reads {issuer, credential_types: [...]}.
func DecodeIssuerRegistration(raw map[string]any) (*IssuerRegistrationDef, error) {
	c := newCollector()
	def := &IssuerRegistrationDef{}
	if m, ok := c.object(raw["issuer"], "issuer"); ok {
		def.Issuer = decodeIssuer(c, m, "issuer")
	}
	for i, item := range c.list(raw, "credential_types", "") {
		prefix := join("credential_types", strconv.Itoa(i))
		m, ok := c.object(item, prefix)
		if !ok {
			if item == nil {
				c.fail(prefix, "must be an object")
			}
			def.CredentialTypes = append(def.CredentialTypes, CredentialTypeDef{})
			continue
		}
		def.CredentialTypes = append(def.CredentialTypes, decodeCredentialType(c, m, prefix))
	}
	def.validate(c)
	if err := c.err("invalid issuer registration"); err != nil {
		return nil, err
	}
	return def, nil
}

// DecodeIssuer reads {issuer} for issuer-only registration.
func DecodeIssuer(raw map[string]any) (*IssuerRegistrationDef, error) {
	c := newCollector()
	def := &IssuerRegistrationDef{}
	if m, ok := c.object(raw["issuer"], "issuer"); ok {
		def.Issuer = decodeIssuer(c, m, "issuer")
	}
	def.validate(c)
	if err := c.err("invalid issuer"); err != nil {
		return nil, err
	}
	return def, nil
}

// DecodeCredentialTypeRegistration reads {issuer, credential_type} and
// returns it as a registration with one credential type.
func DecodeCredentialTypeRegistration(raw map[string]any) (*IssuerRegistrationDef, error) {
	c := newCollector()
	def := &IssuerRegistrationDef{}
	if m, ok := c.object(raw["issuer"], "issuer"); ok {
		def.Issuer = decodeIssuer(c, m, "issuer")
	}
	if def.Issuer == (IssuerDef{}) {
		c.fail("issuer", "is required")
	} else {
		def.Issuer.validate(c, "issuer")
	}
	if m, ok := c.object(raw["credential_type"], "credential_type"); ok {
		ct := decodeCredentialType(c, m, "credential_type")
		ct.validate(c, "credential_type")
		if ct.OriginDID != "" && def.Issuer.DID != "" && ct.OriginDID != def.Issuer.DID {
			c.fail("credential_type.origin_did", "must match issuer.did")
		}
		def.CredentialTypes = []CredentialTypeDef{ct}
	} else {
		c.fail("credential_type", "is required")
	}
	if err := c.err("invalid credential type registration"); err != nil {
		return nil, err
	}
	return def, nil
}

// DecodeCredential reads one credential object.
func DecodeCredential(raw map[string]any) (*CredentialDef, error) {
	c := newCollector()
	def := decodeCredential(c, raw, "")
	def.validate(c, "")
	if err := c.err("invalid credential"); err != nil {
		return nil, err
	}
	return &def, nil
}

func decodeIssuer(c *collector, m map[string]any, prefix string) IssuerDef {
	return IssuerDef{
		DID:          c.str(m, "did", prefix),
		Name:         c.str(m, "name", prefix),
		Abbreviation: c.str(m, "abbreviation", prefix),
		Email:        c.str(m, "email", prefix),
		URL:          c.str(m, "url", prefix),
		Endpoint:     c.str(m, "endpoint", prefix),
		LogoB64:      c.str(m, "logo_b64", prefix),
	}
}

func decodeRule(c *collector, m map[string]any, prefix string) MappingRuleDef {
	return MappingRuleDef{
		Name:   c.str(m, "name", prefix),
		Path:   c.str(m, "path", prefix),
		Format: c.str(m, "format", prefix),
	}
}

func decodeTopic(c *collector, m map[string]any, prefix string) TopicDef {
	def := TopicDef{Type: c.str(m, "type", prefix)}
	field := join(prefix, "source_id")
	if sm, ok := c.object(m["source_id"], field); ok {
		def.SourceID = decodeRule(c, sm, field)
	}
	return def
}

func decodeCredentialType(c *collector, m map[string]any, prefix string) CredentialTypeDef {
	def := CredentialTypeDef{
		Schema:            c.str(m, "schema", prefix),
		Version:           c.str(m, "version", prefix),
		OriginDID:         c.str(m, "origin_did", prefix),
		Name:              c.str(m, "name", prefix),
		Description:       c.str(m, "description", prefix),
		CardinalityFields: c.strList(m, "cardinality_fields", prefix),
		Endpoint:          c.str(m, "endpoint", prefix),
		LogoB64:           c.str(m, "logo_b64", prefix),
		VisibleFields:     normalizeVisibleFields(c, m, prefix),
	}
	if tm, ok := c.object(m["topic"], join(prefix, "topic")); ok {
		def.Topic = decodeTopic(c, tm, join(prefix, "topic"))
	}
	credField := join(prefix, "credential")
	if cm, ok := c.object(m["credential"], credField); ok {
		def.Credential = make(map[string]MappingRuleDef, len(cm))
		for key, v := range cm {
			field := join(credField, key)
			if rm, ok := c.object(v, field); ok {
				def.Credential[key] = decodeRule(c, rm, field)
			} else if v == nil {
				c.fail(field, "must be an object")
			}
		}
	}
	for i, item := range c.list(m, "mappings", prefix) {
		field := join(join(prefix, "mappings"), strconv.Itoa(i))
		rm, ok := c.object(item, field)
		if !ok {
			if item == nil {
				c.fail(field, "must be an object")
			}
			def.Mappings = append(def.Mappings, MappingRuleDef{})
			continue
		}
		def.Mappings = append(def.Mappings, decodeRule(c, rm, field))
	}
	return def
}

func decodeCredential(c *collector, m map[string]any, prefix string) CredentialDef {
	def := CredentialDef{
		Format:       c.str(m, "format", prefix),
		Schema:       c.str(m, "schema", prefix),
		Version:      c.str(m, "version", prefix),
		OriginDID:    c.str(m, "origin_did", prefix),
		CredentialID: c.str(m, "credential_id", prefix),
	}
	if def.Format == "" {
		def.Format = DefaultCredentialFormat
	}
	field := join(prefix, "raw_data")
	if rd, ok := c.object(m["raw_data"], field); ok {
		raw, err := json.Marshal(rd)
		if err != nil {
			c.fail(field, "must be JSON encodable")
		} else {
			def.RawData = raw
		}
	}
	return def
}

package models

import "sort"

// Credential mapping keys with fixed meaning.
const (
	MappingEffectiveDate = "effective_date"
	MappingRevokedDate   = "revoked_date"
	MappingInactive      = "inactive"
)

// MappingRule extracts one value from raw credential data.
type MappingRule struct {
	Name   string `json:"name,omitempty"`
	Path   string `json:"path"`
	Format string `json:"format,omitempty"`
}

// TopicMapping derives a Topic identity. Type is a literal; SourceID is
// evaluated against the credential data.
type TopicMapping struct {
	Type     string      `json:"type"`
	SourceID MappingRule `json:"source_id"`
}

// ProcessorConfig is stored as JSON on the credential type.
type ProcessorConfig struct {
	CardinalityFields []string               `json:"cardinality_fields,omitempty"`
	Credential        map[string]MappingRule `json:"credential,omitempty"`
	Mappings          []MappingRule          `json:"mappings,omitempty"`
	Topic             TopicMapping           `json:"topic"`
}

// CredentialKeys returns the credential mapping keys in sorted order. Stored
// processor configs are JSONB, which does not keep object key order, so
// sorting is the only order every store can reproduce.
func (pc ProcessorConfig) CredentialKeys() []string {
	keys := make([]string, 0, len(pc.Credential))
	for k := range pc.Credential {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (pc ProcessorConfig) TaggedAttributes() []string {
	out := make([]string, 0, len(pc.CardinalityFields)+1+len(pc.Credential)+len(pc.Mappings))
	out = append(out, pc.CardinalityFields...)
	if pc.Topic.SourceID.Name != "" {
		out = append(out, pc.Topic.SourceID.Name)
	}
	for _, k := range pc.CredentialKeys() {
		if name := pc.Credential[k].Name; name != "" {
			out = append(out, name)
		}
	}
	for _, m := range pc.Mappings {
		if m.Name != "" {
			out = append(out, m.Name)
		}
	}
	return out
}

package mapping

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"vcr/internal/registry/models"
	dErrors "vcr/pkg/domain-errors"
)

// Result is everything derived from one credential payload.
type Result struct {
	TopicSourceID   string
	TopicType       string
	EffectiveDate   *time.Time
	RevokedDate     *time.Time
	Revoked         bool
	Inactive        bool
	Attributes      []models.Attribute
	Names           []models.Name
	CardinalityHash string
}

// nameRule marks a mapping that produces a display name instead of an attribute.
const nameRule = "name"

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Apply evaluates cfg against raw. The topic source and every cardinality
// field must resolve; other rules that do not resolve are skipped. Failures
// are reported as one unprocessable error listing each offending rule.
func Apply(cfg models.ProcessorConfig, raw []byte, now time.Time) (*Result, error) {
	var (
		res    = &Result{TopicType: cfg.Topic.Type}
		fields []dErrors.FieldError
		values = map[string]string{}
	)
	fail := func(field, format string, args ...any) {
		fields = append(fields, dErrors.FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	sourceID, ok, err := Lookup(raw, cfg.Topic.SourceID.Path)
	switch {
	case err != nil:
		fail("topic.source_id", "invalid path %q: %v", cfg.Topic.SourceID.Path, err)
	case !ok || strings.TrimSpace(Text(sourceID)) == "":
		fail("topic.source_id", "path %q did not resolve", cfg.Topic.SourceID.Path)
	default:
		res.TopicSourceID = Text(sourceID)
		if name := cfg.Topic.SourceID.Name; name != "" {
			values[name] = res.TopicSourceID
		}
	}

	for _, key := range cfg.CredentialKeys() {
		rule := cfg.Credential[key]
		v, ok, err := Lookup(raw, rule.Path)
		if err != nil {
			fail("credential."+key, "invalid path %q: %v", rule.Path, err)
			continue
		}
		if !ok {
			continue
		}
		attrType := rule.Name
		if attrType == "" {
			attrType = key
		}
		switch key {
		case models.MappingEffectiveDate, models.MappingRevokedDate:
			t, err := parseDate(v)
			if err != nil {
				fail("credential."+key, "value at %q is not a date", rule.Path)
				continue
			}
			if key == models.MappingEffectiveDate {
				res.EffectiveDate = &t
			} else {
				res.RevokedDate = &t
				res.Revoked = !t.After(now)
			}
			value := t.UTC().Format(time.RFC3339)
			values[attrType] = value
			res.Attributes = append(res.Attributes, models.Attribute{Type: attrType, Format: models.FormatDatetime, Value: value})
		case models.MappingInactive:
			res.Inactive = v.Bool()
			values[attrType] = strconv.FormatBool(res.Inactive)
		default:
			res.addRule(attrType, rule.Format, v, values)
		}
	}

	for i, rule := range cfg.Mappings {
		v, ok, err := Lookup(raw, rule.Path)
		if err != nil {
			fail(fmt.Sprintf("mappings.%d", i), "invalid path %q: %v", rule.Path, err)
			continue
		}
		if !ok {
			continue
		}
		res.addRule(rule.Name, rule.Format, v, values)
	}

	pairs := make([]string, 0, len(cfg.CardinalityFields))
	for _, field := range cfg.CardinalityFields {
		value, ok := values[field]
		if !ok {
			v, found, err := Lookup(raw, field)
			if err == nil && found {
				value, ok = Text(v), true
			}
		}
		if !ok {
			fail("cardinality_fields."+field, "cardinality field did not resolve")
			continue
		}
		pairs = append(pairs, field+"="+value)
	}

	if len(fields) > 0 {
		return nil, dErrors.WithFields(dErrors.CodeUnprocessable, "credential data does not match the credential type mapping", fields)
	}
	res.CardinalityHash = cardinalityHash(pairs)
	return res, nil
}

func (r *Result) addRule(name, format string, v gjson.Result, values map[string]string) {
	value := Text(v)
	if name == nameRule {
		r.Names = append(r.Names, models.Name{Text: value, Type: models.NameTypeEntity})
		values[name] = value
		return
	}
	if format == "" {
		format = models.FormatText
	}
	if format == models.FormatDatetime {
		if t, err := parseDate(v); err == nil {
			value = t.UTC().Format(time.RFC3339)
		}
	}
	values[name] = value
	r.Attributes = append(r.Attributes, models.Attribute{Type: name, Format: format, Value: value})
}

func parseDate(v gjson.Result) (time.Time, error) {
	if v.Type == gjson.Number {
		return time.Unix(v.Int(), 0).UTC(), nil
	}
	s := strings.TrimSpace(v.String())
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}

// cardinalityHash is stable under reordering of the cardinality fields.
func cardinalityHash(pairs []string) string {
	if len(pairs) == 0 {
		return ""
	}
	sorted := append([]string(nil), pairs...)
	sort.Strings(sorted)
	sum := sha256.Sum256([]byte(strings.Join(sorted, "\n")))
	return hex.EncodeToString(sum[:])
}

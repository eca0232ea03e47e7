package validation

import (
	"strconv"

	dErrors "vcr/pkg/domain-errors"
)

// collector accumulates field errors so a payload reports every problem at
// once. The first error recorded for a field wins.
type collector struct {
	fields []dErrors.FieldError
	seen   map[string]struct{}
}

func newCollector() *collector {
	return &collector{seen: map[string]struct{}{}}
}

func (c *collector) fail(field, msg string) {
	if _, ok := c.seen[field]; ok {
		return
	}
	c.seen[field] = struct{}{}
	c.fields = append(c.fields, dErrors.FieldError{Field: field, Message: msg})
}

func (c *collector) required(field, value string) {
	if value == "" {
		c.fail(field, "is required")
	}
}

func (c *collector) err(msg string) error {
	if len(c.fields) == 0 {
		return nil
	}
	return dErrors.WithFields(dErrors.CodeValidation, msg, c.fields)
}

// object returns v as a JSON object. A nil v is absent, not an error.
func (c *collector) object(v any, field string) (map[string]any, bool) {
	if v == nil {
		return nil, false
	}
	m, ok := v.(map[string]any)
	if !ok {
		c.fail(field, "must be an object")
		return nil, false
	}
	return m, true
}

func (c *collector) list(m map[string]any, key, prefix string) []any {
	v, ok := m[key]
	if !ok || v == nil {
		return nil
	}
	items, ok := v.([]any)
	if !ok {
		c.fail(join(prefix, key), "must be a list")
		return nil
	}
	return items
}

func (c *collector) str(m map[string]any, key, prefix string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		c.fail(join(prefix, key), "must be a string")
		return ""
	}
	return s
}

func (c *collector) strList(m map[string]any, key, prefix string) []string {
	items := c.list(m, key, prefix)
	if items == nil {
		return nil
	}
	out := make([]string, 0, len(items))
	for i, item := range items {
		s, ok := item.(string)
		if !ok {
			c.fail(join(join(prefix, key), strconv.Itoa(i)), "must be a string")
			continue
		}
		out = append(out, s)
	}
	return out
}

func join(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

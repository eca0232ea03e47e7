// Package mapping evaluates a credential type's processor config against raw
// credential data.
package mapping

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

var (
	errEmptyPath    = errors.New("path is empty")
	errEmptySegment = errors.New("path has an empty segment")
)

// CompilePath converts a JSON-path-like expression into a gjson path.
// Accepted forms: `a.b`, `$.a.b`, `$.a[0].b`, `$['a.b'].c`.
func CompilePath(path string) (string, error) {
	p := strings.TrimSpace(path)
	if strings.HasPrefix(p, "$") {
		p = strings.TrimPrefix(p[1:], ".")
	}
	if p == "" {
		return "", errEmptyPath
	}

	var (
		segments     []string
		cur          strings.Builder
		afterBracket bool
	)
	for i := 0; i < len(p); {
		switch c := p[i]; c {
		case '.':
			if cur.Len() > 0 {
				segments = append(segments, cur.String())
				cur.Reset()
			} else if !afterBracket {
				return "", errEmptySegment
			}
			afterBracket = false
			i++
			if i == len(p) {
				return "", errEmptySegment
			}
		case '[':
			if cur.Len() > 0 {
				segments = append(segments, cur.String())
				cur.Reset()
			}
			end := strings.IndexByte(p[i:], ']')
			if end < 0 {
				return "", fmt.Errorf("unclosed bracket at offset %d", i)
			}
			key, err := bracketKey(p[i+1 : i+end])
			if err != nil {
				return "", err
			}
			segments = append(segments, key)
			i += end + 1
			afterBracket = true
			if i < len(p) && p[i] != '.' && p[i] != '[' {
				return "", fmt.Errorf("unexpected %q after bracket", p[i])
			}
		default:
			cur.WriteByte(c)
			i++
		}
	}
	if cur.Len() > 0 {
		segments = append(segments, cur.String())
	}

	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = escapeSegment(s)
	}
	return strings.Join(escaped, "."), nil
}

func bracketKey(inner string) (string, error) {
	if n := len(inner); n >= 2 && (inner[0] == '\'' || inner[0] == '"') && inner[n-1] == inner[0] {
		if n == 2 {
			return "", errEmptySegment
		}
		return inner[1 : n-1], nil
	}
	if inner == "" {
		return "", errEmptySegment
	}
	for _, r := range inner {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("bracket index %q is not a number or quoted key", inner)
		}
	}
	return inner, nil
}

func escapeSegment(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '\\', '.', '*', '?', '|', '#', '@':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ValidPath reports whether path compiles.
func ValidPath(path string) error {
	_, err := CompilePath(path)
	return err
}

// Lookup evaluates path against raw. Missing and null values report false.
func Lookup(raw []byte, path string) (gjson.Result, bool, error) {
	gpath, err := CompilePath(path)
	if err != nil {
		return gjson.Result{}, false, err
	}
	res := gjson.GetBytes(raw, gpath)
	if !res.Exists() || res.Type == gjson.Null {
		return res, false, nil
	}
	return res, true, nil
}

// Text renders a result as an attribute value. Objects and arrays keep their raw JSON.
func Text(res gjson.Result) string {
	if res.IsObject() || res.IsArray() {
		return res.Raw
	}
	return res.String()
}

package mapping

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompilePath(t *testing.T) {
	tests := []struct {
		name string
		path string
		want string
	}{
		{name: "bare dotted", path: "a.b", want: "a.b"},
		{name: "root prefix", path: "$.a.b", want: "a.b"},
		{name: "array index", path: "$.a[0].b", want: "a.0.b"},
		{name: "quoted key with dot", path: "$['a.b'].c", want: `a\.b.c`},
		{name: "double quoted key", path: `$["x"]`, want: "x"},
		{name: "consecutive brackets", path: "$.a[1][2]", want: "a.1.2"},
		{name: "wildcard is literal", path: "a*", want: `a\*`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CompilePath(tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCompilePathRejectsMalformed(t *testing.T) {
	for _, path := range []string{"", "$", "$.", "a..b", "a.", "a[0", "a[x]", "a['']", "a[0]b"} {
		t.Run(path, func(t *testing.T) {
			_, err := CompilePath(path)
			assert.Error(t, err)
		})
	}
}

func TestLookup(t *testing.T) {
	raw := []byte(`{"corp_num":"BC0001","dates":{"start":"2020-01-01"},"list":[{"v":1}],"gone":null,"a.b":"dotted"}`)

	t.Run("resolves nested value", func(t *testing.T) {
		v, ok, err := Lookup(raw, "$.dates.start")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "2020-01-01", Text(v))
	})

	t.Run("resolves array element", func(t *testing.T) {
		v, ok, err := Lookup(raw, "$.list[0].v")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "1", Text(v))
	})

	t.Run("resolves key containing a dot", func(t *testing.T) {
		v, ok, err := Lookup(raw, "$['a.b']")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "dotted", Text(v))
	})

	t.Run("null and missing do not resolve", func(t *testing.T) {
		_, ok, err := Lookup(raw, "gone")
		require.NoError(t, err)
		assert.False(t, ok)
		_, ok, err = Lookup(raw, "missing.deep")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("objects keep raw json", func(t *testing.T) {
		v, ok, err := Lookup(raw, "dates")
		require.NoError(t, err)
		require.True(t, ok)
		assert.JSONEq(t, `{"start":"2020-01-01"}`, Text(v))
	})
}

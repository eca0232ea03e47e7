package mapping

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vcr/internal/registry/models"
	dErrors "vcr/pkg/domain-errors"
)

var now = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

func fixtureConfig() models.ProcessorConfig {
	return models.ProcessorConfig{
		Topic: models.TopicMapping{
			Type:     "registration.registries.ca",
			SourceID: models.MappingRule{Name: "registration_id", Path: "$.registration_id"},
		},
		Credential: map[string]models.MappingRule{
			models.MappingEffectiveDate: {Name: "effective_date", Path: "$.test_effective_date"},
			models.MappingRevokedDate:   {Name: "revoked_date", Path: "$.test_expiry_date"},
		},
		Mappings: []models.MappingRule{
			{Name: "name", Path: "$.entity_name"},
			{Name: "entity_type", Path: "$.entity_type"},
		},
	}
}

func TestApply(t *testing.T) {
	t.Run("derives topic, dates, attributes and names", func(t *testing.T) {
		raw := []byte(`{
			"registration_id": "BC0001",
			"test_effective_date": "2020-01-02T03:04:05Z",
			"test_expiry_date": "2030-01-01",
			"entity_name": "Acme Drilling",
			"entity_type": "BC"
		}`)

		res, err := Apply(fixtureConfig(), raw, now)
		require.NoError(t, err)

		assert.Equal(t, "BC0001", res.TopicSourceID)
		assert.Equal(t, "registration.registries.ca", res.TopicType)
		require.NotNil(t, res.EffectiveDate)
		assert.Equal(t, time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC), *res.EffectiveDate)
		require.NotNil(t, res.RevokedDate)
		assert.False(t, res.Revoked, "revocation date in the future")
		assert.Equal(t, []models.Name{{Text: "Acme Drilling", Type: models.NameTypeEntity}}, res.Names)
		assert.Equal(t, []models.Attribute{
			{Type: "effective_date", Format: models.FormatDatetime, Value: "2020-01-02T03:04:05Z"},
			{Type: "revoked_date", Format: models.FormatDatetime, Value: "2030-01-01T00:00:00Z"},
			{Type: "entity_type", Format: models.FormatText, Value: "BC"},
		}, res.Attributes)
		assert.Empty(t, res.CardinalityHash)
	})

	t.Run("past revocation date marks revoked", func(t *testing.T) {
		raw := []byte(`{"registration_id":"BC0001","test_expiry_date":1577836800}`)
		res, err := Apply(fixtureConfig(), raw, now)
		require.NoError(t, err)
		assert.True(t, res.Revoked)
		assert.Nil(t, res.EffectiveDate)
	})

	t.Run("optional rules that do not resolve are skipped", func(t *testing.T) {
		res, err := Apply(fixtureConfig(), []byte(`{"registration_id":"BC0001"}`), now)
		require.NoError(t, err)
		assert.Empty(t, res.Attributes)
		assert.Empty(t, res.Names)
	})

	t.Run("unresolved topic source is unprocessable", func(t *testing.T) {
		_, err := Apply(fixtureConfig(), []byte(`{"entity_name":"x"}`), now)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnprocessable))
		assert.Equal(t, []string{"topic.source_id"}, dErrors.FieldNames(err))
	})

	t.Run("malformed date is reported with the topic failure", func(t *testing.T) {
		_, err := Apply(fixtureConfig(), []byte(`{"test_effective_date":"soon"}`), now)
		require.Error(t, err)
		assert.Equal(t, []string{"credential.effective_date", "topic.source_id"}, dErrors.FieldNames(err))
	})

	t.Run("inactive flag", func(t *testing.T) {
		cfg := fixtureConfig()
		cfg.Credential[models.MappingInactive] = models.MappingRule{Name: "inactive", Path: "$.closed"}
		res, err := Apply(cfg, []byte(`{"registration_id":"BC0001","closed":true}`), now)
		require.NoError(t, err)
		assert.True(t, res.Inactive)
	})
}

func TestCardinalityHash(t *testing.T) {
	cfg := fixtureConfig()
	cfg.CardinalityFields = []string{"entity_type", "registration_id"}

	hashOf := func(raw string) string {
		t.Helper()
		res, err := Apply(cfg, []byte(raw), now)
		require.NoError(t, err)
		return res.CardinalityHash
	}

	a := hashOf(`{"registration_id":"BC0001","entity_type":"BC"}`)
	b := hashOf(`{"entity_type":"BC","registration_id":"BC0001","entity_name":"renamed"}`)
	c := hashOf(`{"registration_id":"BC0001","entity_type":"ULC"}`)

	assert.NotEmpty(t, a)
	assert.Equal(t, a, b, "non-cardinality fields do not affect the hash")
	assert.NotEqual(t, a, c)

	t.Run("field order does not matter", func(t *testing.T) {
		reordered := cfg
		reordered.CardinalityFields = []string{"registration_id", "entity_type"}
		res, err := Apply(reordered, []byte(`{"registration_id":"BC0001","entity_type":"BC"}`), now)
		require.NoError(t, err)
		assert.Equal(t, a, res.CardinalityHash)
	})

	t.Run("missing cardinality field is unprocessable", func(t *testing.T) {
		_, err := Apply(cfg, []byte(`{"registration_id":"BC0001"}`), now)
		require.Error(t, err)
		assert.Equal(t, []string{"cardinality_fields.entity_type"}, dErrors.FieldNames(err))
	})
}

package store

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"vcr/internal/registry/models"
)

// registryStore is the surface both implementations share.
type registryStore interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
	UpsertIssuer(ctx context.Context, issuer *models.Issuer) (*models.Issuer, error)
	GetIssuer(ctx context.Context, id uuid.UUID) (*models.Issuer, error)
	ListIssuers(ctx context.Context) ([]*models.Issuer, error)
	GetOrCreateSchema(ctx context.Context, schema *models.Schema) (*models.Schema, error)
	FindSchema(ctx context.Context, key models.SchemaKey) (*models.Schema, error)
	ListSchemas(ctx context.Context, f SchemaFilter) ([]*models.Schema, error)
	UpsertCredentialType(ctx context.Context, ct *models.CredentialType) (*models.CredentialType, error)
	FindCredentialTypeBySchema(ctx context.Context, key models.SchemaKey) (*models.CredentialType, error)
	GetOrCreateTopic(ctx context.Context, topic *models.Topic) (*models.Topic, bool, error)
	UpsertCredential(ctx context.Context, cred *models.Credential) (*models.Credential, bool, error)
	GetCredential(ctx context.Context, credentialID string) (*models.Credential, error)
	FindNewestCredential(ctx context.Context, key LatestKey, excludeCredentialID string) (*models.Credential, error)
	ClearLatest(ctx context.Context, key LatestKey, excludeCredentialID string) error
	SetLatest(ctx context.Context, id uuid.UUID, latest bool) error
	ListTopicCredentials(ctx context.Context, topicID uuid.UUID, f CredentialFilter) ([]*models.Credential, error)
}

// ContractSuite runs the same behaviour checks against every store.
type ContractSuite struct {
	suite.Suite
	store registryStore
	reset func()
	ctx   context.Context
	now   time.Time
}

func (s *ContractSuite) SetupTest() {
	s.ctx = context.Background()
	s.now = time.Now().UTC().Truncate(time.Microsecond)
	s.reset()
}

func (s *ContractSuite) issuer(did string) *models.Issuer {
	out, err := s.store.UpsertIssuer(s.ctx, &models.Issuer{
		ID: uuid.New(), DID: did, Name: "Issuer " + did, CreatedAt: s.now, UpdatedAt: s.now,
	})
	s.Require().NoError(err)
	return out
}

func (s *ContractSuite) schema(issuer *models.Issuer, name string) *models.Schema {
	out, err := s.store.GetOrCreateSchema(s.ctx, &models.Schema{
		ID: uuid.New(), Name: name, Version: "1.0", OriginDID: issuer.DID, PublisherID: issuer.ID,
		CreatedAt: s.now, UpdatedAt: s.now,
	})
	s.Require().NoError(err)
	return out
}

func (s *ContractSuite) credentialType(issuer *models.Issuer, schema *models.Schema) *models.CredentialType {
	out, err := s.store.UpsertCredentialType(s.ctx, &models.CredentialType{
		ID: uuid.New(), IssuerID: issuer.ID, SchemaID: schema.ID, Description: "d",
		ProcessorConfig: models.ProcessorConfig{Topic: models.TopicMapping{
			Type: "registration", SourceID: models.MappingRule{Path: "$.id"},
		}},
		VisibleFields: []string{"id"},
		CreatedAt:     s.now, UpdatedAt: s.now,
	})
	s.Require().NoError(err)
	return out
}

func (s *ContractSuite) topic(sourceID string) *models.Topic {
	out, _, err := s.store.GetOrCreateTopic(s.ctx, &models.Topic{
		ID: uuid.New(), SourceID: sourceID, Type: "registration", CreatedAt: s.now, UpdatedAt: s.now,
	})
	s.Require().NoError(err)
	return out
}

func (s *ContractSuite) credential(ct *models.CredentialType, topic *models.Topic, credentialID string, latest bool) *models.Credential {
	out, _, err := s.store.UpsertCredential(s.ctx, &models.Credential{
		ID: uuid.New(), CredentialID: credentialID, CredentialTypeID: ct.ID, TopicID: topic.ID,
		Format: "vc_di", RawData: json.RawMessage(`{"id":"1"}`), Latest: latest,
		Attributes: []models.Attribute{{Type: "id", Format: models.FormatText, Value: "1"}},
		CreatedAt:  s.now, UpdatedAt: s.now,
	})
	s.Require().NoError(err)
	return out
}

func (s *ContractSuite) datedCredential(ct *models.CredentialType, topic *models.Topic, credentialID string, effective time.Time) *models.Credential {
	out, _, err := s.store.UpsertCredential(s.ctx, &models.Credential{
		ID: uuid.New(), CredentialID: credentialID, CredentialTypeID: ct.ID, TopicID: topic.ID,
		Format: "vc_di", RawData: json.RawMessage(`{"id":"1"}`), EffectiveDate: &effective,
		CreatedAt: s.now, UpdatedAt: s.now,
	})
	s.Require().NoError(err)
	return out
}

func (s *ContractSuite) TestIssuerUpsertKeepsIdentity() {
	first := s.issuer("did:a")
	second, err := s.store.UpsertIssuer(s.ctx, &models.Issuer{
		ID: uuid.New(), DID: "did:a", Name: "Renamed", CreatedAt: s.now, UpdatedAt: s.now.Add(time.Second),
	})
	s.Require().NoError(err)
	s.Equal(first.ID, second.ID)
	s.Equal("Renamed", second.Name)

	all, err := s.store.ListIssuers(s.ctx)
	s.Require().NoError(err)
	s.Len(all, 1)

	_, err = s.store.GetIssuer(s.ctx, uuid.New())
	s.ErrorIs(err, ErrNotFound)
}

func (s *ContractSuite) TestSchemaGetOrCreate() {
	a := s.issuer("did:a")
	b := s.issuer("did:b")

	first := s.schema(a, "title")
	again := s.schema(a, "title")
	s.Equal(first.ID, again.ID)

	s.Run("same triple under another DID is a distinct schema", func() {
		other := s.schema(b, "title")
		s.NotEqual(first.ID, other.ID)
	})

	s.Run("filters by key fields", func() {
		list, err := s.store.ListSchemas(s.ctx, SchemaFilter{Name: "title", OriginDID: "did:b"})
		s.Require().NoError(err)
		s.Require().Len(list, 1)
		s.Equal("did:b", list[0].OriginDID)

		all, err := s.store.ListSchemas(s.ctx, SchemaFilter{})
		s.Require().NoError(err)
		s.Len(all, 2)
	})

	s.Run("concurrent first inserts resolve to one row", func() {
		var (
			wg  sync.WaitGroup
			ids = make([]uuid.UUID, 8)
		)
		for i := range ids {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				out, err := s.store.GetOrCreateSchema(s.ctx, &models.Schema{
					ID: uuid.New(), Name: "race", Version: "1.0", OriginDID: a.DID, PublisherID: a.ID,
					CreatedAt: s.now, UpdatedAt: s.now,
				})
				if err == nil {
					ids[i] = out.ID
				}
			}(i)
		}
		wg.Wait()
		for _, id := range ids {
			s.Equal(ids[0], id)
		}
	})
}

func (s *ContractSuite) TestCredentialTypeUpsert() {
	issuer := s.issuer("did:a")
	schema := s.schema(issuer, "title")
	first := s.credentialType(issuer, schema)

	updated, err := s.store.UpsertCredentialType(s.ctx, &models.CredentialType{
		ID: uuid.New(), IssuerID: issuer.ID, SchemaID: schema.ID, Description: "new",
		ProcessorConfig: models.ProcessorConfig{CardinalityFields: []string{"id"}},
		CreatedAt:       s.now, UpdatedAt: s.now,
	})
	s.Require().NoError(err)
	s.Equal(first.ID, updated.ID)
	s.Equal("new", updated.Description)
	s.Equal([]string{"id"}, updated.ProcessorConfig.CardinalityFields)

	found, err := s.store.FindCredentialTypeBySchema(s.ctx, schema.Key())
	s.Require().NoError(err)
	s.Equal(first.ID, found.ID)

	_, err = s.store.FindCredentialTypeBySchema(s.ctx, models.SchemaKey{Name: "title", Version: "1.0", OriginDID: "did:other"})
	s.ErrorIs(err, ErrNotFound)
}

func (s *ContractSuite) TestTopicAndCredential() {
	issuer := s.issuer("did:a")
	ct := s.credentialType(issuer, s.schema(issuer, "title"))

	t1, created, err := s.store.GetOrCreateTopic(s.ctx, &models.Topic{
		ID: uuid.New(), SourceID: "BC1", Type: "registration", CreatedAt: s.now, UpdatedAt: s.now,
	})
	s.Require().NoError(err)
	s.True(created)
	t2, created, err := s.store.GetOrCreateTopic(s.ctx, &models.Topic{
		ID: uuid.New(), SourceID: "BC1", Type: "registration", CreatedAt: s.now, UpdatedAt: s.now,
	})
	s.Require().NoError(err)
	s.False(created)
	s.Equal(t1.ID, t2.ID)

	c1 := s.credential(ct, t1, "cred-1", true)
	again, created, err := s.store.UpsertCredential(s.ctx, &models.Credential{
		ID: uuid.New(), CredentialID: "cred-1", CredentialTypeID: ct.ID, TopicID: t1.ID,
		RawData: json.RawMessage(`{"id":"2"}`), Latest: true, Revoked: true, CreatedAt: s.now, UpdatedAt: s.now,
	})
	s.Require().NoError(err)
	s.False(created)
	s.Equal(c1.ID, again.ID)
	s.True(again.Revoked)

	got, err := s.store.GetCredential(s.ctx, "cred-1")
	s.Require().NoError(err)
	s.JSONEq(`{"id":"2"}`, string(got.RawData))

	s.Run("newest credential ignores the flag and the excluded id", func() {
		key := LatestKey{CredentialTypeID: ct.ID, TopicID: t1.ID}
		s.datedCredential(ct, t1, "cred-2", s.now.AddDate(-2, 0, 0))
		recent := s.datedCredential(ct, t1, "cred-3", s.now.AddDate(-1, 0, 0))

		newest, err := s.store.FindNewestCredential(s.ctx, key, "")
		s.Require().NoError(err)
		s.Equal("cred-3", newest.CredentialID)

		newest, err = s.store.FindNewestCredential(s.ctx, key, "cred-3")
		s.Require().NoError(err)
		s.Equal("cred-2", newest.CredentialID, "undated credentials sort last")

		_, err = s.store.FindNewestCredential(s.ctx, LatestKey{CredentialTypeID: ct.ID, TopicID: t1.ID, CardinalityHash: "other"}, "")
		s.ErrorIs(err, ErrNotFound)

		s.Run("one latest credential per group", func() {
			s.ErrorIs(s.store.SetLatest(s.ctx, recent.ID, true), ErrConflict)

			s.Require().NoError(s.store.ClearLatest(s.ctx, key, "cred-3"))
			s.Require().NoError(s.store.SetLatest(s.ctx, recent.ID, true))

			_, _, err := s.store.UpsertCredential(s.ctx, &models.Credential{
				ID: uuid.New(), CredentialID: "cred-4", CredentialTypeID: ct.ID, TopicID: t1.ID,
				RawData: json.RawMessage(`{}`), Latest: true, CreatedAt: s.now, UpdatedAt: s.now,
			})
			s.ErrorIs(err, ErrConflict)

			yes, no := true, false
			list, err := s.store.ListTopicCredentials(s.ctx, t1.ID, CredentialFilter{Latest: &yes})
			s.Require().NoError(err)
			s.Require().Len(list, 1)
			s.Equal("cred-3", list[0].CredentialID)

			list, err = s.store.ListTopicCredentials(s.ctx, t1.ID, CredentialFilter{Revoked: &no})
			s.Require().NoError(err)
			s.Len(list, 2)
		})
	})
}

func (s *ContractSuite) TestRunInTxRollsBack() {
	boom := errors.New("boom")
	err := s.store.RunInTx(s.ctx, func(ctx context.Context) error {
		if _, err := s.store.UpsertIssuer(ctx, &models.Issuer{
			ID: uuid.New(), DID: "did:rollback", Name: "x", CreatedAt: s.now, UpdatedAt: s.now,
		}); err != nil {
			return err
		}
		return boom
	})
	s.ErrorIs(err, boom)

	all, err := s.store.ListIssuers(s.ctx)
	s.Require().NoError(err)
	s.Empty(all)
}

package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sort"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"vcr/internal/platform/outbox"
	"vcr/internal/registry/metrics"
	"vcr/internal/registry/models"
	"vcr/internal/registry/store"
	"vcr/internal/registry/validation"
	dErrors "vcr/pkg/domain-errors"
	"vcr/pkg/requestcontext"
)

const fixtureDID = "did:key:for:issuer"

func fixtureCredentialType() validation.CredentialTypeDef {
	return validation.CredentialTypeDef{
		Schema:      "BCPetroleum&NaturalGasTitle",
		Version:     "1.0",
		Description: "Petroleum and natural gas title",
		Topic: validation.TopicDef{
			Type:     "registration.registries.ca",
			SourceID: validation.MappingRuleDef{Name: "title_number", Path: "$.title_number"},
		},
		Credential: map[string]validation.MappingRuleDef{
			models.MappingEffectiveDate: {Name: "effective_date", Path: "$.test_effective_date"},
			models.MappingRevokedDate:   {Name: "revoked_date", Path: "$.test_expiry_date"},
		},
		Mappings: []validation.MappingRuleDef{
			{Name: "name", Path: "$.holder"},
			{Name: "title_type", Path: "$.title_type"},
		},
	}
}

func fixtureRegistration(did string) *validation.IssuerRegistrationDef {
	return &validation.IssuerRegistrationDef{
		Issuer: validation.IssuerDef{
			DID:          did,
			Name:         "BC Oil and Gas Commission",
			Abbreviation: "OGC",
			Email:        "ogc@example.com",
			URL:          "https://ogc.example.com",
		},
		CredentialTypes: []validation.CredentialTypeDef{fixtureCredentialType()},
	}
}

// failingStore makes credential type upserts fail after the issuer and
// schemas have been written.
type failingStore struct {
	*store.InMemory
}

func (failingStore) UpsertCredentialType(context.Context, *models.CredentialType) (*models.CredentialType, error) {
	return nil, errors.New("disk full")
}

// failingCredentialStore makes the credential upsert fail after the topic has
// been created and the previous latest credential superseded.
type failingCredentialStore struct {
	*store.InMemory
}

func (failingCredentialStore) UpsertCredential(context.Context, *models.Credential) (*models.Credential, bool, error) {
	return nil, false, errors.New("disk full")
}

type ServiceSuite struct {
	suite.Suite
	store  *store.InMemory
	events *outbox.InMemory
	svc    *Service
	ctx    context.Context
	now    time.Time
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.store = store.NewInMemory()
	s.events = outbox.NewInMemory()
	s.svc = New(s.store, s.store,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithEventWriter(s.events),
	)
	s.now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
}

func (s *ServiceSuite) register(did string) *models.RegistrationResult {
	res, err := s.svc.RegisterIssuer(s.ctx, fixtureRegistration(did), false)
	s.Require().NoError(err)
	return res
}

func (s *ServiceSuite) credential(id, effective string) *validation.CredentialDef {
	raw := map[string]any{"title_number": "T-100", "holder": "Acme Drilling", "title_type": "lease"}
	if effective != "" {
		raw["test_effective_date"] = effective
	}
	body, err := json.Marshal(raw)
	s.Require().NoError(err)
	return &validation.CredentialDef{
		Format:       validation.DefaultCredentialFormat,
		Schema:       "BCPetroleum&NaturalGasTitle",
		Version:      "1.0",
		OriginDID:    fixtureDID,
		CredentialID: id,
		RawData:      body,
	}
}

func (s *ServiceSuite) eventTypes() []string {
	var out []string
	for _, e := range s.events.All() {
		out = append(out, e.EventType)
	}
	return out
}

func (s *ServiceSuite) TestRegisterIssuerFixture() {
	res := s.register(fixtureDID)

	issuers, schemas, cts, _, _ := s.store.Counts()
	s.Equal(1, issuers)
	s.Equal(1, schemas)
	s.Equal(1, cts)

	s.Require().Len(res.Schemas, 1)
	sc := res.Schemas[0]
	s.Equal(models.SchemaKey{Name: "BCPetroleum&NaturalGasTitle", Version: "1.0", OriginDID: fixtureDID}, sc.Key())
	s.Equal(res.Issuer.ID, sc.PublisherID)

	s.Require().Len(res.CredentialTypes, 1)
	ct := res.CredentialTypes[0]
	s.Equal(sc.ID, ct.SchemaID)
	got, err := json.Marshal(ct.ProcessorConfig)
	s.Require().NoError(err)
	s.JSONEq(`{
		"credential": {
			"effective_date": {"name": "effective_date", "path": "$.test_effective_date"},
			"revoked_date": {"name": "revoked_date", "path": "$.test_expiry_date"}
		},
		"mappings": [
			{"name": "name", "path": "$.holder"},
			{"name": "title_type", "path": "$.title_type"}
		],
		"topic": {
			"type": "registration.registries.ca",
			"source_id": {"name": "title_number", "path": "$.title_number"}
		}
	}`, string(got))

	s.Equal([]string{models.EventIssuerRegistered}, s.eventTypes())
}

func (s *ServiceSuite) TestRegisterIssuerIsIdempotent() {
	first := s.register(fixtureDID)
	second := s.register(fixtureDID)

	issuers, schemas, cts, _, _ := s.store.Counts()
	s.Equal(1, issuers)
	s.Equal(1, schemas)
	s.Equal(1, cts)
	s.Equal(first.Issuer.ID, second.Issuer.ID)
	s.Equal(first.Schemas[0].ID, second.Schemas[0].ID)
	s.Equal(first.CredentialTypes[0].ID, second.CredentialTypes[0].ID)
}

func (s *ServiceSuite) TestSchemaIdentityIncludesOriginDID() {
	a := s.register(fixtureDID)
	b := s.register("did:key:other")

	_, schemas, cts, _, _ := s.store.Counts()
	s.Equal(2, schemas)
	s.Equal(2, cts)
	s.NotEqual(a.Schemas[0].ID, b.Schemas[0].ID)
	s.Equal(a.Schemas[0].Name, b.Schemas[0].Name)
	s.Equal(a.Schemas[0].Version, b.Schemas[0].Version)
}

func (s *ServiceSuite) TestDuplicateDefinitionsCollapse() {
	def := fixtureRegistration(fixtureDID)
	def.CredentialTypes = append(def.CredentialTypes, fixtureCredentialType())

	res, err := s.svc.RegisterIssuer(s.ctx, def, false)
	s.Require().NoError(err)

	s.Require().Len(res.Schemas, 2)
	s.Equal(res.Schemas[0].ID, res.Schemas[1].ID)
	_, schemas, cts, _, _ := s.store.Counts()
	s.Equal(1, schemas)
	s.Equal(1, cts)
}

func (s *ServiceSuite) TestIssuerOnlySkipsCredentialTypes() {
	res, err := s.svc.RegisterIssuer(s.ctx, fixtureRegistration(fixtureDID), true)
	s.Require().NoError(err)
	s.Empty(res.Schemas)
	s.Empty(res.CredentialTypes)

	_, schemas, cts, _, _ := s.store.Counts()
	s.Zero(schemas)
	s.Zero(cts)
}

func (s *ServiceSuite) TestRegistrationIsAtomic() {
	failing := failingStore{InMemory: s.store}
	svc := New(failing, s.store, WithEventWriter(s.events))

	_, err := svc.RegisterIssuer(s.ctx, fixtureRegistration(fixtureDID), false)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))

	issuers, schemas, cts, _, _ := s.store.Counts()
	s.Zero(issuers, "issuer upsert rolled back")
	s.Zero(schemas, "schema upsert rolled back")
	s.Zero(cts)
	s.Empty(s.events.All())
}

func (s *ServiceSuite) TestRegisterRejectsInvalidDefinition() {
	def := fixtureRegistration("")
	def.CredentialTypes[0].Topic.Type = ""

	_, err := s.svc.RegisterIssuer(s.ctx, def, false)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	s.Equal([]string{"credential_types.0.topic.type", "issuer.did"}, dErrors.FieldNames(err))
}

func (s *ServiceSuite) TestTaggedAttributes() {
	def := fixtureCredentialType()
	def.CardinalityFields = []string{"title_type", "title_number"}
	reg := fixtureRegistration(fixtureDID)
	reg.CredentialTypes = []validation.CredentialTypeDef{def}

	res, err := s.svc.RegisterIssuer(s.ctx, reg, false)
	s.Require().NoError(err)

	tagged := res.CredentialTypes[0].TaggedAttributes()
	s.Equal([]string{"title_type", "title_number"}, tagged[:2], "cardinality fields come first")
	for _, want := range []string{"title_number", "effective_date", "revoked_date", "title_type"} {
		s.Contains(tagged, want)
	}
	s.Equal(2, countOf(tagged, "title_number"), "duplicates are kept")

	sorted := append([]string(nil), tagged...)
	sort.Strings(sorted)
	s.Equal([]string{"effective_date", "name", "revoked_date", "title_number", "title_number", "title_type", "title_type"}, sorted)
}

func countOf(values []string, v string) int {
	n := 0
	for _, x := range values {
		if x == v {
			n++
		}
	}
	return n
}

func (s *ServiceSuite) TestUpdateCredential() {
	reg := s.register(fixtureDID)

	cred, err := s.svc.UpdateCredential(s.ctx, s.credential("cred-1", "2020-01-01"))
	s.Require().NoError(err)
	s.Equal("cred-1", cred.CredentialID)
	s.Equal(reg.CredentialTypes[0].ID, cred.CredentialTypeID)
	s.True(cred.Latest)
	s.Equal([]models.Name{{Text: "Acme Drilling", Type: models.NameTypeEntity}}, cred.Names)
	s.Contains(cred.Attributes, models.Attribute{Type: "title_type", Format: models.FormatText, Value: "lease"})

	topic, err := s.svc.FindTopic(s.ctx, "registration.registries.ca", "T-100")
	s.Require().NoError(err)
	s.Equal(topic.ID, cred.TopicID)

	s.Run("same credential id updates in place", func() {
		again, err := s.svc.UpdateCredential(s.ctx, s.credential("cred-1", "2021-01-01"))
		s.Require().NoError(err)
		s.Equal(cred.ID, again.ID)
		s.Equal(time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC), *again.EffectiveDate)

		_, _, _, topics, creds := s.store.Counts()
		s.Equal(1, topics)
		s.Equal(1, creds)
	})

	s.Equal([]string{
		models.EventIssuerRegistered,
		models.EventCredentialCreated,
		models.EventCredentialUpdated,
	}, s.eventTypes())

	s.Run("detail lookup returns references", func() {
		detail, err := s.svc.GetCredential(s.ctx, "cred-1")
		s.Require().NoError(err)
		s.Equal(reg.CredentialTypes[0].ID, detail.CredentialType.ID)
		s.Equal("BCPetroleum&NaturalGasTitle", detail.Schema.Name)
		s.Equal("T-100", detail.Topic.SourceID)
	})
}

func (s *ServiceSuite) TestUpdateCredentialEventPayload() {
	s.register(fixtureDID)
	_, err := s.svc.UpdateCredential(s.ctx, s.credential("cred-1", ""))
	s.Require().NoError(err)

	events := s.events.All()
	s.Require().Len(events, 2)
	var payload models.CredentialEvent
	s.Require().NoError(json.Unmarshal(events[1].Payload, &payload))
	s.Equal("cred-1", payload.CredentialID)
	s.Equal("BCPetroleum&NaturalGasTitle", payload.Schema)
	s.Equal("T-100", payload.TopicSourceID)
	s.True(payload.TopicCreated)
	s.Equal("cred-1", events[1].AggregateID)
}

func (s *ServiceSuite) TestUpdateCredentialErrors() {
	s.register(fixtureDID)

	s.Run("unknown credential type", func() {
		def := s.credential("cred-x", "")
		def.Schema = "Unknown"
		_, err := s.svc.UpdateCredential(s.ctx, def)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("topic path does not resolve", func() {
		def := s.credential("cred-y", "")
		def.RawData = json.RawMessage(`{"holder":"x"}`)
		_, err := s.svc.UpdateCredential(s.ctx, def)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeUnprocessable))
		s.Equal([]string{"topic.source_id"}, dErrors.FieldNames(err))
	})

	s.Run("invalid definition", func() {
		_, err := s.svc.UpdateCredential(s.ctx, &validation.CredentialDef{Schema: "s"})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	_, _, _, topics, creds := s.store.Counts()
	s.Zero(topics)
	s.Zero(creds)
}

func (s *ServiceSuite) TestLatestCredential() {
	s.register(fixtureDID)

	older, err := s.svc.UpdateCredential(s.ctx, s.credential("cred-old", "2020-01-01"))
	s.Require().NoError(err)
	s.True(older.Latest)

	newer, err := s.svc.UpdateCredential(s.ctx, s.credential("cred-new", "2022-01-01"))
	s.Require().NoError(err)
	s.True(newer.Latest)

	reloaded, err := s.svc.GetCredential(s.ctx, "cred-old")
	s.Require().NoError(err)
	s.False(reloaded.Credential.Latest, "superseded by a newer effective date")

	backdated, err := s.svc.UpdateCredential(s.ctx, s.credential("cred-backdated", "2019-01-01"))
	s.Require().NoError(err)
	s.False(backdated.Latest)

	yes := true
	latest, err := s.svc.ListTopicCredentials(s.ctx, newer.TopicID, store.CredentialFilter{Latest: &yes})
	s.Require().NoError(err)
	s.Require().Len(latest, 1)
	s.Equal("cred-new", latest[0].CredentialID)
}

func (s *ServiceSuite) TestReissuedLatestWithEarlierDateHandsFlagBack() {
	s.register(fixtureDID)

	_, err := s.svc.UpdateCredential(s.ctx, s.credential("cred-a", "2020-01-01"))
	s.Require().NoError(err)
	b, err := s.svc.UpdateCredential(s.ctx, s.credential("cred-b", "2022-01-01"))
	s.Require().NoError(err)
	s.True(b.Latest)

	reissued, err := s.svc.UpdateCredential(s.ctx, s.credential("cred-b", "2018-01-01"))
	s.Require().NoError(err)
	s.False(reissued.Latest)

	yes := true
	latest, err := s.svc.ListTopicCredentials(s.ctx, b.TopicID, store.CredentialFilter{Latest: &yes})
	s.Require().NoError(err)
	s.Require().Len(latest, 1)
	s.Equal("cred-a", latest[0].CredentialID)

	s.Run("reissuing with a later date takes the flag again", func() {
		again, err := s.svc.UpdateCredential(s.ctx, s.credential("cred-b", "2023-01-01"))
		s.Require().NoError(err)
		s.True(again.Latest)

		a, err := s.svc.GetCredential(s.ctx, "cred-a")
		s.Require().NoError(err)
		s.False(a.Credential.Latest)
	})
}

func (s *ServiceSuite) TestCredentialMovingTopicsLeavesALatestBehind() {
	s.register(fixtureDID)

	_, err := s.svc.UpdateCredential(s.ctx, s.credential("cred-a", "2020-01-01"))
	s.Require().NoError(err)
	b, err := s.svc.UpdateCredential(s.ctx, s.credential("cred-b", "2022-01-01"))
	s.Require().NoError(err)

	moved := s.credential("cred-b", "2022-01-01")
	moved.RawData = json.RawMessage(`{"title_number":"T-200","holder":"Acme Drilling","title_type":"lease","test_effective_date":"2022-01-01"}`)
	out, err := s.svc.UpdateCredential(s.ctx, moved)
	s.Require().NoError(err)
	s.True(out.Latest)
	s.NotEqual(b.TopicID, out.TopicID)

	a, err := s.svc.GetCredential(s.ctx, "cred-a")
	s.Require().NoError(err)
	s.True(a.Credential.Latest)
}

func (s *ServiceSuite) TestCredentialWriteIsAtomic() {
	s.register(fixtureDID)
	old, err := s.svc.UpdateCredential(s.ctx, s.credential("cred-old", "2020-01-01"))
	s.Require().NoError(err)
	eventsBefore := len(s.events.All())

	m := metrics.New(prometheus.NewRegistry())
	failing := New(failingCredentialStore{s.store}, s.store,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithEventWriter(s.events),
		WithMetrics(m),
	)

	s.Run("a new topic is rolled back", func() {
		def := s.credential("cred-elsewhere", "2022-01-01")
		def.RawData = json.RawMessage(`{"title_number":"T-999","holder":"Acme Drilling","title_type":"lease"}`)
		_, err := failing.UpdateCredential(s.ctx, def)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInternal))

		_, err = s.svc.FindTopic(s.ctx, "registration.registries.ca", "T-999")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("the previous latest credential keeps its flag", func() {
		_, err := failing.UpdateCredential(s.ctx, s.credential("cred-new", "2022-01-01"))
		s.Require().Error(err)

		reloaded, err := s.svc.GetCredential(s.ctx, "cred-old")
		s.Require().NoError(err)
		s.True(reloaded.Credential.Latest)
	})

	_, _, _, topics, creds := s.store.Counts()
	s.Equal(1, topics)
	s.Equal(1, creds)
	s.Len(s.events.All(), eventsBefore)
	s.Zero(promtest.ToFloat64(m.TopicsCreated), "rolled back topics are not counted")
	s.Equal(2.0, promtest.ToFloat64(m.CredentialsProcessed.WithLabelValues(outcomeRejected)))

	topic, err := s.svc.FindTopic(s.ctx, "registration.registries.ca", "T-100")
	s.Require().NoError(err)
	s.Equal(old.TopicID, topic.ID)
}

func (s *ServiceSuite) TestTopicMetricCountsCommittedTopics() {
	m := metrics.New(prometheus.NewRegistry())
	svc := New(s.store, s.store,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithMetrics(m),
	)
	_, err := svc.RegisterIssuer(s.ctx, fixtureRegistration(fixtureDID), false)
	s.Require().NoError(err)

	_, err = svc.UpdateCredential(s.ctx, s.credential("cred-1", "2020-01-01"))
	s.Require().NoError(err)
	_, err = svc.UpdateCredential(s.ctx, s.credential("cred-2", "2021-01-01"))
	s.Require().NoError(err)

	s.Equal(1.0, promtest.ToFloat64(m.TopicsCreated))
	s.Equal(2.0, promtest.ToFloat64(m.CredentialsProcessed.WithLabelValues(outcomeCreated)))
}

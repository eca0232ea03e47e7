package delivery

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"vcr/internal/hooks/models"
	"vcr/internal/hooks/stats"
	"vcr/internal/hooks/token"
	"vcr/internal/platform/kafka/consumer"
	"vcr/internal/platform/outbox"
	regmodels "vcr/internal/registry/models"
	"vcr/pkg/platform/circuit"
)

const workerID = "worker-test"

type staticSubscriptions []*models.Subscription

func (s staticSubscriptions) ActiveSubscriptions(context.Context) ([]*models.Subscription, error) {
	return s, nil
}

// target is a hook endpoint answering with a scripted sequence of statuses.
type target struct {
	mu       sync.Mutex
	statuses []int
	hits     atomic.Int32
	auth     []string
	bodies   [][]byte
}

func (t *target) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	n := int(t.hits.Add(1))
	body, _ := io.ReadAll(r.Body)

	t.mu.Lock()
	t.auth = append(t.auth, r.Header.Get("Authorization"))
	t.bodies = append(t.bodies, body)
	status := http.StatusOK
	if len(t.statuses) > 0 {
		status = t.statuses[min(n, len(t.statuses))-1]
	}
	t.mu.Unlock()

	w.WriteHeader(status)
}

type DeliverySuite struct {
	suite.Suite
	ctx    context.Context
	stats  *stats.InMemory
	target *target
	server *httptest.Server
	logger *slog.Logger
}

func TestDeliverySuite(t *testing.T) {
	suite.Run(t, new(DeliverySuite))
}

func (s *DeliverySuite) SetupTest() {
	s.ctx = context.Background()
	s.stats = stats.NewInMemory()
	s.target = &target{}
	s.server = httptest.NewServer(s.target)
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (s *DeliverySuite) TearDownTest() {
	s.server.Close()
}

func (s *DeliverySuite) subscription(typ models.SubscriptionType, sourceID string) *models.Subscription {
	return &models.Subscription{
		ID:            uuid.New(),
		OwnerID:       uuid.New(),
		Type:          typ,
		TopicSourceID: sourceID,
		TargetURL:     s.server.URL + "/hook",
		HookToken:     "hook-secret",
		Active:        true,
	}
}

func (s *DeliverySuite) worker(subs []*models.Subscription, maxAttempts int, opts ...Option) *Worker {
	opts = append([]Option{
		WithLogger(s.logger),
		WithRetry(maxAttempts, time.Millisecond, time.Millisecond),
	}, opts...)
	return New(staticSubscriptions(subs), s.stats, workerID, opts...)
}

func (s *DeliverySuite) message(eventType string, ev *regmodels.CredentialEvent) *consumer.Message {
	aggregate := regmodels.AggregateCredential
	if eventType == regmodels.EventIssuerRegistered {
		aggregate = regmodels.AggregateIssuer
	}
	event, err := outbox.NewEvent(aggregate, ev.CredentialID, eventType, ev, time.Now().UTC())
	s.Require().NoError(err)
	value, err := json.Marshal(event.Envelope())
	s.Require().NoError(err)
	return &consumer.Message{Topic: "vcr.registry.events", Key: []byte(ev.CredentialID), Value: value}
}

func credentialEvent() *regmodels.CredentialEvent {
	return &regmodels.CredentialEvent{
		ID:            uuid.New(),
		CredentialID:  "cred-1",
		Schema:        "registration.registries.ca",
		SchemaVersion: "1.0",
		TopicSourceID: "BC0001",
		TopicType:     "registration.registries.ca",
		TopicCreated:  true,
		Latest:        true,
	}
}

func (s *DeliverySuite) counters() *models.CredentialHookStats {
	st, err := s.stats.Get(s.ctx, workerID)
	s.Require().NoError(err)
	return st
}

func (s *DeliverySuite) TestDeliversSignedPayload() {
	sub := s.subscription(models.SubscriptionTopic, "BC0001")
	w := s.worker([]*models.Subscription{sub}, 3)

	s.Require().NoError(w.Handle(s.ctx, s.message(regmodels.EventCredentialCreated, credentialEvent())))

	s.Require().EqualValues(1, s.target.hits.Load())
	s.Require().True(strings.HasPrefix(s.target.auth[0], "Bearer "))
	claims, err := token.Verify("hook-secret", strings.TrimPrefix(s.target.auth[0], "Bearer "))
	s.Require().NoError(err)
	s.Equal(sub.ID.String(), claims.SubscriptionID)

	var body map[string]any
	s.Require().NoError(json.Unmarshal(s.target.bodies[0], &body))
	s.Equal(regmodels.EventCredentialCreated, body["event_type"])
	s.Equal("cred-1", body["credential"].(map[string]any)["credential_id"])

	st := s.counters()
	s.EqualValues(1, st.Total)
	s.EqualValues(1, st.Attempt)
	s.EqualValues(1, st.Success)
	s.Zero(st.Fail)
	s.Zero(st.Retry)
}

func (s *DeliverySuite) TestSkipsNonMatchingSubscriptions() {
	other := s.subscription(models.SubscriptionTopic, "BC9999")
	inactive := s.subscription(models.SubscriptionStream, "")
	inactive.Active = false
	w := s.worker([]*models.Subscription{other, inactive}, 3)

	s.Require().NoError(w.Handle(s.ctx, s.message(regmodels.EventCredentialUpdated, credentialEvent())))

	s.Zero(s.target.hits.Load())
	s.Zero(s.counters().Total)
}

func (s *DeliverySuite) TestIgnoresIssuerEvents() {
	w := s.worker([]*models.Subscription{s.subscription(models.SubscriptionStream, "")}, 3)

	s.Require().NoError(w.Handle(s.ctx, s.message(regmodels.EventIssuerRegistered, credentialEvent())))

	s.Zero(s.target.hits.Load())
}

func (s *DeliverySuite) TestMalformedMessage() {
	w := s.worker(nil, 3)
	s.Error(w.Handle(s.ctx, &consumer.Message{Value: []byte("not json")}))
}

func (s *DeliverySuite) TestRetriesUntilSuccess() {
	s.target.statuses = []int{http.StatusInternalServerError, http.StatusOK}
	w := s.worker([]*models.Subscription{s.subscription(models.SubscriptionNew, "")}, 3)

	s.Require().NoError(w.Handle(s.ctx, s.message(regmodels.EventCredentialCreated, credentialEvent())))

	s.EqualValues(2, s.target.hits.Load())
	st := s.counters()
	s.EqualValues(1, st.Total)
	s.EqualValues(2, st.Attempt)
	s.EqualValues(1, st.Fail)
	s.EqualValues(1, st.Retry)
	s.EqualValues(1, st.Success)
	s.Zero(st.RetryFail)
}

func (s *DeliverySuite) TestRetriesExhausted() {
	s.target.statuses = []int{http.StatusServiceUnavailable}
	w := s.worker([]*models.Subscription{s.subscription(models.SubscriptionStream, "")}, 3)

	s.Require().NoError(w.Handle(s.ctx, s.message(regmodels.EventCredentialCreated, credentialEvent())))

	s.EqualValues(3, s.target.hits.Load())
	st := s.counters()
	s.EqualValues(3, st.Attempt)
	s.EqualValues(1, st.Fail)
	s.EqualValues(2, st.Retry)
	s.EqualValues(1, st.RetryFail)
	s.Zero(st.Success)
}

func (s *DeliverySuite) TestClientErrorIsNotRetried() {
	s.target.statuses = []int{http.StatusBadRequest}
	w := s.worker([]*models.Subscription{s.subscription(models.SubscriptionStream, "")}, 3)

	s.Require().NoError(w.Handle(s.ctx, s.message(regmodels.EventCredentialCreated, credentialEvent())))

	s.EqualValues(1, s.target.hits.Load())
	st := s.counters()
	s.EqualValues(1, st.Attempt)
	s.EqualValues(1, st.Fail)
	s.Zero(st.Retry)
	s.Zero(st.RetryFail)
}

func (s *DeliverySuite) TestOpenCircuitSkipsTarget() {
	s.target.statuses = []int{http.StatusInternalServerError}
	breakers := circuit.NewRegistry(circuit.WithFailureThreshold(1), circuit.WithCooldown(time.Hour))
	w := s.worker([]*models.Subscription{s.subscription(models.SubscriptionStream, "")}, 1, WithBreakers(breakers))

	s.Require().NoError(w.Handle(s.ctx, s.message(regmodels.EventCredentialCreated, credentialEvent())))
	s.Require().NoError(w.Handle(s.ctx, s.message(regmodels.EventCredentialUpdated, credentialEvent())))

	s.EqualValues(1, s.target.hits.Load())
	st := s.counters()
	s.EqualValues(2, st.Total)
	s.EqualValues(1, st.Attempt)
	s.EqualValues(2, st.Fail)
}

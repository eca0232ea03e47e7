package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"vcr/pkg/platform/tx"
)

type published struct {
	topic string
	key   string
	env   Envelope
}

type fakePublisher struct {
	records []published
	failOn  int
	calls   int
}

func (p *fakePublisher) Publish(_ context.Context, topic string, key, value []byte) error {
	p.calls++
	if p.failOn > 0 && p.calls == p.failOn {
		return errors.New("broker down")
	}
	var env Envelope
	if err := json.Unmarshal(value, &env); err != nil {
		return err
	}
	p.records = append(p.records, published{topic: topic, key: string(key), env: env})
	return nil
}

type RelaySuite struct {
	suite.Suite
	store *InMemory
	pub   *fakePublisher
	relay *Relay
	now   time.Time
}

func TestRelaySuite(t *testing.T) {
	suite.Run(t, new(RelaySuite))
}

func (s *RelaySuite) SetupTest() {
	s.store = NewInMemory()
	s.pub = &fakePublisher{}
	s.now = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s.relay = NewRelay(s.store, tx.Nop{}, s.pub, "vcr.registry.events",
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithClock(func() time.Time { return s.now }),
	)
}

func (s *RelaySuite) appendEvent(aggregateID string) Event {
	e, err := NewEvent("credential", aggregateID, "credential.created", map[string]string{"credential_id": aggregateID}, s.now)
	s.Require().NoError(err)
	s.Require().NoError(s.store.Append(context.Background(), e))
	return e
}

func (s *RelaySuite) TestPublishesPendingEvents() {
	first := s.appendEvent("cred-1")
	s.appendEvent("cred-2")

	n, err := s.relay.RunOnce(context.Background())
	s.Require().NoError(err)
	s.Equal(2, n)
	s.Require().Len(s.pub.records, 2)
	s.Equal("vcr.registry.events", s.pub.records[0].topic)
	s.Equal("cred-1", s.pub.records[0].key)
	s.Equal(first.ID.String(), s.pub.records[0].env.ID)
	s.Equal("credential.created", s.pub.records[0].env.Type)
	s.JSONEq(`{"credential_id":"cred-1"}`, string(s.pub.records[0].env.Payload))

	s.Run("published events are not sent again", func() {
		n, err := s.relay.RunOnce(context.Background())
		s.Require().NoError(err)
		s.Equal(0, n)
		s.Len(s.pub.records, 2)
	})
}

func (s *RelaySuite) TestStopsAtFirstPublishFailure() {
	s.appendEvent("cred-1")
	s.appendEvent("cred-2")
	s.appendEvent("cred-3")
	s.pub.failOn = 2

	n, err := s.relay.RunOnce(context.Background())
	s.Require().Error(err)
	s.Equal(1, n)

	pending, err := s.store.FetchUnpublished(context.Background(), 10)
	s.Require().NoError(err)
	s.Len(pending, 2)

	s.Run("remaining events go out on the next poll", func() {
		n, err := s.relay.RunOnce(context.Background())
		s.Require().NoError(err)
		s.Equal(2, n)
		s.Equal([]string{"cred-1", "cred-2", "cred-3"}, []string{
			s.pub.records[0].key, s.pub.records[1].key, s.pub.records[2].key,
		})
	})
}

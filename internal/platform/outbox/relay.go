package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"vcr/pkg/platform/tx"
)

const (
	defaultInterval  = time.Second
	defaultBatchSize = 100
)

// Relay moves committed outbox events onto the event stream. Each poll runs in
// one transaction: rows are locked, published in order, and marked published.
// Publishing stops at the first failure; the remaining rows are retried on the
// next poll, so delivery is at-least-once. Publishers must not block on
// subscribers: the poll transaction stays open until Publish returns.
type Relay struct {
	store     Store
	runner    tx.Runner
	publisher Publisher
	topic     string
	interval  time.Duration
	batchSize int
	now       func() time.Time
	logger    *slog.Logger
}

type RelayOption func(*Relay)

func WithLogger(logger *slog.Logger) RelayOption {
	return func(r *Relay) { r.logger = logger }
}

func WithInterval(d time.Duration) RelayOption {
	return func(r *Relay) {
		if d > 0 {
			r.interval = d
		}
	}
}

func WithBatchSize(n int) RelayOption {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

func WithClock(now func() time.Time) RelayOption {
	return func(r *Relay) { r.now = now }
}

func NewRelay(store Store, runner tx.Runner, publisher Publisher, topic string, opts ...RelayOption) *Relay {
	r := &Relay{
		store:     store,
		runner:    runner,
		publisher: publisher,
		topic:     topic,
		interval:  defaultInterval,
		batchSize: defaultBatchSize,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run polls until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		if _, err := r.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.logger.WarnContext(ctx, "outbox relay poll failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce publishes one batch and returns how many events were published.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	var (
		published  int
		publishErr error
	)
	err := r.runner.RunInTx(ctx, func(ctx context.Context) error {
		events, err := r.store.FetchUnpublished(ctx, r.batchSize)
		if err != nil {
			return err
		}
		ids := make([]uuid.UUID, 0, len(events))
		for _, e := range events {
			value, err := json.Marshal(e.Envelope())
			if err != nil {
				publishErr = fmt.Errorf("encode outbox event %s: %w", e.ID, err)
				break
			}
			if err := r.publisher.Publish(ctx, r.topic, []byte(e.AggregateID), value); err != nil {
				publishErr = fmt.Errorf("publish outbox event %s: %w", e.ID, err)
				break
			}
			ids = append(ids, e.ID)
		}
		published = len(ids)
		return r.store.MarkPublished(ctx, ids, r.now())
	})
	if err != nil {
		return 0, err
	}
	if published > 0 {
		r.logger.DebugContext(ctx, "outbox events published", "count", published, "topic", r.topic)
	}
	return published, publishErr
}

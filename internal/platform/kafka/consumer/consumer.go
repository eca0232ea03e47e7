// Package consumer reads registry events from Kafka and hands them to a Handler.
package consumer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	"vcr/internal/platform/config"
)

// Message is a transport-neutral view of one consumed record.
type Message struct {
	Topic     string
	Key       []byte
	Value     []byte
	Partition int32
	Offset    int64
}

// Handler processes one message. Returning an error does not stop consumption;
// delivery retries are the handler's concern.
type Handler interface {
	Handle(ctx context.Context, msg *Message) error
}

// Consumer is a consumer-group member with manual offset commits.
type Consumer struct {
	client *kgo.Client
	logger *slog.Logger
}

// New joins cfg.ConsumerGroup on cfg.Topic. Returns nil when no brokers are configured.
func New(cfg config.KafkaConfig, logger *slog.Logger) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, nil
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.ConsumerGroup),
		kgo.ConsumeTopics(cfg.Topic),
		kgo.DisableAutoCommit(),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	return &Consumer{client: client, logger: logger}, nil
}

// Run polls until ctx is cancelled, committing offsets after each batch.
func (c *Consumer) Run(ctx context.Context, handler Handler) error {
	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			c.logger.WarnContext(ctx, "kafka fetch error",
				"topic", topic,
				"partition", partition,
				"error", err,
			)
		})
		fetches.EachRecord(func(r *kgo.Record) {
			msg := &Message{
				Topic:     r.Topic,
				Key:       r.Key,
				Value:     r.Value,
				Partition: r.Partition,
				Offset:    r.Offset,
			}
			if err := handler.Handle(ctx, msg); err != nil {
				c.logger.ErrorContext(ctx, "registry event handler failed",
					"topic", msg.Topic,
					"key", string(msg.Key),
					"offset", msg.Offset,
					"error", err,
				)
			}
		})
		if err := c.client.CommitUncommittedOffsets(ctx); err != nil {
			c.logger.WarnContext(ctx, "kafka offset commit failed", "error", err)
		}
	}
}

// Close leaves the group and closes the client.
func (c *Consumer) Close() {
	c.client.Close()
}

// ErrQueueFull is returned by Direct.Publish when the in-process queue has no
// room. The outbox relay stops at the failed event and retries it next poll.
var ErrQueueFull = errors.New("in-process event queue is full")

const defaultQueueSize = 1000

// Direct stands in for Kafka when no brokers are configured. Publish only
// enqueues, so the outbox relay commits without waiting on hook delivery; Run
// drains the queue into the handler outside any transaction. Events still
// queued at shutdown are dropped.
type Direct struct {
	handler Handler
	queue   chan *Message
	logger  *slog.Logger
}

type DirectOption func(*Direct)

func WithQueueSize(n int) DirectOption {
	return func(d *Direct) {
		if n > 0 {
			d.queue = make(chan *Message, n)
		}
	}
}

func WithDirectLogger(logger *slog.Logger) DirectOption {
	return func(d *Direct) { d.logger = logger }
}

func NewDirect(handler Handler, opts ...DirectOption) *Direct {
	d := &Direct{
		handler: handler,
		queue:   make(chan *Message, defaultQueueSize),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Direct) Publish(_ context.Context, topic string, key, value []byte) error {
	msg := &Message{Topic: topic, Key: bytes.Clone(key), Value: bytes.Clone(value)}
	select {
	case d.queue <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run delivers queued messages until ctx is cancelled.
func (d *Direct) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			if n := len(d.queue); n > 0 {
				d.logger.WarnContext(ctx, "dropping queued registry events on shutdown", "count", n)
			}
			return nil
		case msg := <-d.queue:
			if err := d.handler.Handle(ctx, msg); err != nil {
				d.logger.ErrorContext(ctx, "registry event handler failed",
					"topic", msg.Topic,
					"key", string(msg.Key),
					"error", err,
				)
			}
		}
	}
}

// Pending reports how many messages wait in the queue.
func (d *Direct) Pending() int {
	return len(d.queue)
}

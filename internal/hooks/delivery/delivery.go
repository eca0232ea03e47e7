// Package delivery fans registry credential events out to matching hook
// subscriptions. Each delivery is retried with exponential backoff, guarded by
// a per-target circuit breaker, and counted in CredentialHookStats.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"vcr/internal/hooks/metrics"
	"vcr/internal/hooks/models"
	"vcr/internal/hooks/stats"
	"vcr/internal/hooks/token"
	"vcr/internal/platform/kafka/consumer"
	"vcr/internal/platform/outbox"
	regmodels "vcr/internal/registry/models"
	"vcr/pkg/platform/circuit"
	"vcr/pkg/platform/sentinel"
)

// Delivery outcomes reported to metrics.
const (
	outcomeSuccess     = "success"
	outcomeRetryFail   = "retry_fail"
	outcomeFail        = "fail"
	outcomeCircuitOpen = "circuit_open"
)

var errCircuitOpen = fmt.Errorf("hook target circuit open: %w", sentinel.ErrUnavailable)

// SubscriptionSource lists the subscriptions eligible for delivery.
type SubscriptionSource interface {
	ActiveSubscriptions(ctx context.Context) ([]*models.Subscription, error)
}

// Worker implements consumer.Handler for the registry event topic.
type Worker struct {
	subs     SubscriptionSource
	stats    stats.Recorder
	workerID string

	client   *http.Client
	signer   *token.Signer
	breakers *circuit.Registry
	logger   *slog.Logger
	metrics  *metrics.Metrics

	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	requestTimeout time.Duration
	concurrency    int
}

type Option func(*Worker)

func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		w.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Worker) {
		w.metrics = m
	}
}

func WithHTTPClient(c *http.Client) Option {
	return func(w *Worker) {
		w.client = c
	}
}

func WithSigner(s *token.Signer) Option {
	return func(w *Worker) {
		w.signer = s
	}
}

func WithBreakers(r *circuit.Registry) Option {
	return func(w *Worker) {
		w.breakers = r
	}
}

// WithRetry sets the attempt budget and backoff bounds of one delivery.
func WithRetry(maxAttempts int, initial, max time.Duration) Option {
	return func(w *Worker) {
		if maxAttempts > 0 {
			w.maxAttempts = maxAttempts
		}
		w.initialBackoff = initial
		w.maxBackoff = max
	}
}

func WithRequestTimeout(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.requestTimeout = d
		}
	}
}

// WithConcurrency bounds parallel deliveries per event.
func WithConcurrency(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.concurrency = n
		}
	}
}

func New(subs SubscriptionSource, recorder stats.Recorder, workerID string, opts ...Option) *Worker {
	w := &Worker{
		subs:           subs,
		stats:          recorder,
		workerID:       workerID,
		client:         &http.Client{},
		signer:         token.NewSigner(5 * time.Minute),
		breakers:       circuit.NewRegistry(),
		logger:         slog.Default(),
		maxAttempts:    5,
		initialBackoff: 500 * time.Millisecond,
		maxBackoff:     30 * time.Second,
		requestTimeout: 10 * time.Second,
		concurrency:    8,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Handle decodes one registry event and delivers it to every matching
// subscription. Issuer events carry no credential and are skipped.
func (w *Worker) Handle(ctx context.Context, msg *consumer.Message) error {
	var env outbox.Envelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		return fmt.Errorf("decode registry event: %w", err)
	}
	switch env.Type {
	case regmodels.EventCredentialCreated, regmodels.EventCredentialUpdated:
	default:
		return nil
	}
	var ev regmodels.CredentialEvent
	if err := json.Unmarshal(env.Payload, &ev); err != nil {
		return fmt.Errorf("decode credential event %s: %w", env.ID, err)
	}

	subs, err := w.subs.ActiveSubscriptions(ctx)
	if err != nil {
		return err
	}
	matched := lo.Filter(subs, func(sub *models.Subscription, _ int) bool {
		return sub.Matches(&ev)
	})
	if len(matched) == 0 {
		return nil
	}

	var g errgroup.Group
	g.SetLimit(w.concurrency)
	for _, sub := range matched {
		g.Go(func() error {
			w.deliver(ctx, sub, &env, &ev)
			return nil
		})
	}
	return g.Wait()
}

// deliver POSTs one event to one subscription. Failures are recorded, never
// returned: a bad target must not stall the event stream.
func (w *Worker) deliver(ctx context.Context, sub *models.Subscription, env *outbox.Envelope, ev *regmodels.CredentialEvent) {
	start := time.Now()
	defer w.metrics.ObserveDelivery(start)
	w.incr(ctx, models.StatTotal)

	body, err := json.Marshal(models.Delivery{
		EventID:        env.ID,
		EventType:      env.Type,
		SubscriptionID: sub.ID,
		OccurredAt:     env.OccurredAt,
		Credential:     ev,
	})
	if err != nil {
		w.logger.ErrorContext(ctx, "failed to encode hook delivery", "subscription_id", sub.ID, "error", err)
		return
	}

	breaker := w.breakers.Get(sub.TargetURL)
	attempts := 0
	op := func() error {
		if !breaker.Allow() {
			return backoff.Permanent(errCircuitOpen)
		}
		attempts++
		if attempts > 1 {
			w.incr(ctx, models.StatRetry)
		}
		w.incr(ctx, models.StatAttempt)

		if err := w.post(ctx, sub, env, body); err != nil {
			if attempts == 1 {
				w.incr(ctx, models.StatFail)
			}
			if _, change := breaker.RecordFailure(); change.Opened {
				w.metrics.IncCircuitOpened()
				w.logger.WarnContext(ctx, "hook target circuit opened",
					"subscription_id", sub.ID,
					"target_url", sub.TargetURL,
				)
			}
			return err
		}
		breaker.RecordSuccess()
		return nil
	}

	err = backoff.Retry(op, backoff.WithContext(w.retryPolicy(), ctx))
	switch {
	case err == nil:
		w.incr(ctx, models.StatSuccess)
		w.metrics.IncDelivery(outcomeSuccess)
		w.logger.DebugContext(ctx, "hook delivered",
			"subscription_id", sub.ID,
			"event_id", env.ID,
			"attempts", attempts,
		)
		return
	case attempts == 0:
		w.incr(ctx, models.StatFail)
		w.metrics.IncDelivery(outcomeCircuitOpen)
	case attempts > 1:
		w.incr(ctx, models.StatRetryFail)
		w.metrics.IncDelivery(outcomeRetryFail)
	default:
		w.metrics.IncDelivery(outcomeFail)
	}
	w.logger.WarnContext(ctx, "hook delivery failed",
		"subscription_id", sub.ID,
		"event_id", env.ID,
		"target_url", sub.TargetURL,
		"attempts", attempts,
		"error", err,
	)
}

func (w *Worker) retryPolicy() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if w.initialBackoff > 0 {
		b.InitialInterval = w.initialBackoff
	}
	if w.maxBackoff > 0 {
		b.MaxInterval = w.maxBackoff
	}
	b.MaxElapsedTime = 0
	return backoff.WithMaxRetries(b, uint64(w.maxAttempts-1))
}

// statusError is a non-2xx answer from a hook target.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("hook target answered %d", e.code)
}

func (w *Worker) post(ctx context.Context, sub *models.Subscription, env *outbox.Envelope, body []byte) error {
	bearer, err := w.signer.Sign(sub.HookToken, sub.ID, env.ID, sub.TargetURL)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("sign hook token: %w", err))
	}

	ctx, cancel := context.WithTimeout(ctx, w.requestTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.TargetURL, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("build hook request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("X-VCR-Event", env.Type)
	req.Header.Set("X-VCR-Delivery", env.ID)

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post hook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	serr := &statusError{code: resp.StatusCode}
	if retryable(resp.StatusCode) {
		return serr
	}
	return backoff.Permanent(serr)
}

func retryable(code int) bool {
	return code >= 500 || code == http.StatusRequestTimeout || code == http.StatusTooManyRequests
}

func (w *Worker) incr(ctx context.Context, stat models.Stat) {
	if err := w.stats.Incr(ctx, w.workerID, stat, 1); err != nil {
		w.logger.WarnContext(ctx, "failed to record hook stat",
			"stat", string(stat),
			"error", err,
		)
	}
}

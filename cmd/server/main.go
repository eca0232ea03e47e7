package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"vcr/internal/hooks/delivery"
	hookhandler "vcr/internal/hooks/handler"
	hookmetrics "vcr/internal/hooks/metrics"
	hookservice "vcr/internal/hooks/service"
	"vcr/internal/hooks/token"
	"vcr/internal/platform/config"
	"vcr/internal/platform/httpserver"
	"vcr/internal/platform/kafka/consumer"
	"vcr/internal/platform/kafka/producer"
	"vcr/internal/platform/logger"
	"vcr/internal/platform/metrics"
	"vcr/internal/platform/outbox"
	reghandler "vcr/internal/registry/handler"
	regmetrics "vcr/internal/registry/metrics"
	regservice "vcr/internal/registry/service"
	httptransport "vcr/internal/transport/http"
	"vcr/internal/webhook"
	"vcr/pkg/platform/circuit"
)

// main wires dependencies from configuration and runs the HTTP server, the
// outbox relay and the hook consumer until SIGINT or SIGTERM.
func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
}

// app is the wired process: HTTP surface plus the event pipeline.
type app struct {
	backends *backends
	handler  http.Handler
	relay    *outbox.Relay
	router   *consumer.Router
	direct   *consumer.Direct
	producer *producer.Producer
	consumer *consumer.Consumer
}

func newApp(ctx context.Context, cfg *config.Config, log *slog.Logger) (*app, error) {
	b, err := openBackends(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	a := &app{backends: b}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	httpMetrics := metrics.New(reg)

	registry := regservice.New(b.registry, b.registryRunner,
		regservice.WithLogger(log),
		regservice.WithMetrics(regmetrics.New(reg)),
		regservice.WithEventWriter(b.outbox),
	)
	hooks := hookservice.New(b.hooks, b.stats, hookservice.WithLogger(log))

	worker := delivery.New(hooks, b.stats, cfg.Hooks.WorkerID,
		delivery.WithLogger(log),
		delivery.WithMetrics(hookmetrics.New(reg)),
		delivery.WithSigner(token.NewSigner(cfg.Hooks.TokenTTL)),
		delivery.WithBreakers(circuit.NewRegistry(
			circuit.WithFailureThreshold(cfg.Hooks.BreakerThreshold),
			circuit.WithCooldown(cfg.Hooks.BreakerCooldown),
		)),
		delivery.WithRetry(cfg.Hooks.MaxAttempts, cfg.Hooks.InitialBackoff, cfg.Hooks.MaxBackoff),
		delivery.WithRequestTimeout(cfg.Hooks.RequestTimeout),
		delivery.WithConcurrency(cfg.Hooks.Concurrency),
	)
	a.router = consumer.NewRouter(log, nil)
	a.router.Register(cfg.Kafka.Topic, worker)

	var checks []httptransport.Option
	if b.db != nil {
		checks = append(checks, httptransport.WithHealthCheck("postgres", b.db.PingContext))
	}
	if b.redis != nil {
		checks = append(checks, httptransport.WithHealthCheck("redis", b.redis.Health))
	}

	var publisher outbox.Publisher
	if a.producer, err = producer.New(cfg.Kafka, log); err != nil {
		a.close()
		return nil, err
	}
	if a.producer != nil {
		if err := a.producer.EnsureTopic(ctx, cfg.Kafka.Topic, cfg.Kafka.Partitions); err != nil {
			a.close()
			return nil, err
		}
		if a.consumer, err = consumer.New(cfg.Kafka, log); err != nil {
			a.close()
			return nil, err
		}
		publisher = a.producer
		checks = append(checks, httptransport.WithHealthCheck("kafka", a.producer.Health))
		log.InfoContext(ctx, "registry events flow through kafka", "topic", cfg.Kafka.Topic)
	} else {
		a.direct = consumer.NewDirect(a.router,
			consumer.WithQueueSize(cfg.Hooks.QueueSize),
			consumer.WithDirectLogger(log),
		)
		publisher = a.direct
		log.WarnContext(ctx, "KAFKA_BROKERS not set, delivering registry events in-process")
	}

	a.relay = outbox.NewRelay(b.outbox, b.relayRunner, publisher, cfg.Kafka.Topic,
		outbox.WithLogger(log),
		outbox.WithInterval(cfg.Hooks.RelayInterval),
		outbox.WithBatchSize(cfg.Hooks.RelayBatchSize),
	)

	a.handler = httptransport.NewRouter(log, []httptransport.Registrar{
		webhook.New(registry, log,
			webhook.WithAPIKey(cfg.Server.WebhookAPIKey),
			webhook.WithMetrics(httpMetrics),
			webhook.WithTimeout(cfg.Server.RequestTimeout),
		),
		reghandler.New(registry, log, httpMetrics),
		hookhandler.New(hooks, log,
			hookhandler.WithStatsAPIKey(cfg.Server.WebhookAPIKey),
			hookhandler.WithMetrics(httpMetrics),
			hookhandler.WithTimeout(cfg.Server.RequestTimeout),
		),
	}, append(checks, httptransport.WithMetricsHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))...)
	return a, nil
}

func (a *app) close() {
	if a.consumer != nil {
		a.consumer.Close()
	}
	if a.producer != nil {
		a.producer.Close()
	}
	a.backends.close()
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	srv := httpserver.New(cfg.Server, a.handler)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting vcr", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return a.relay.Run(gctx)
	})
	if a.consumer != nil {
		g.Go(func() error {
			return a.consumer.Run(gctx, a.router)
		})
	}
	if a.direct != nil {
		g.Go(func() error {
			return a.direct.Run(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

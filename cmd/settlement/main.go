package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/joao-fontenele/orderflow-settlement/internal/config"
	"github.com/joao-fontenele/orderflow-settlement/internal/jobs"
	"github.com/joao-fontenele/orderflow-settlement/internal/loyalty"
	"github.com/joao-fontenele/orderflow-settlement/internal/messaging"
	"github.com/joao-fontenele/orderflow-settlement/internal/telemetry"
	"github.com/joao-fontenele/orderflow-settlement/internal/wallet"
	"github.com/joao-fontenele/orderflow-settlement/internal/worker"
)

const serviceName = "settlement"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.LoadSettlement()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	telemetryOpts := telemetry.Options{
		ServiceName:    serviceName,
		ServiceVersion: cfg.Telemetry.ServiceVersion,
		TracingEnabled: cfg.Telemetry.TracingEnabled,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		SampleRatio:    cfg.Telemetry.SampleRatio,
	}

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, telemetryOpts)
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider(telemetryOpts)
	if err != nil {
		logger.Error("failed to initialize meter provider", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownMeter(context.Background()) }()

	metrics, err := telemetry.NewMetrics()
	if err != nil {
		logger.Error("failed to create business metrics", "error", err)
		os.Exit(1)
	}

	db, err := telemetry.OpenDB(ctx, cfg.PostgresURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	var lease jobs.Lease
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		defer func() { _ = rdb.Close() }()

		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		lease = jobs.NewRedisLease(rdb)
	} else {
		logger.Warn("REDIS_ADDR not set, running jobs without a lease; run a single replica")
	}

	ledger := wallet.NewLedger(db, metrics, logger)
	runner := jobs.NewRunner(lease, logger)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		runner.Start(ctx, jobs.Job{
			Name:     "release-pending",
			Interval: cfg.ReleaseInterval,
			Run: func(ctx context.Context) error {
				_, err := ledger.ReleasePending(ctx, cfg.CoolingOffPeriod, cfg.ReleaseBatchSize)
				return err
			},
		})
	}()

	if brokers := cfg.Kafka.BrokerList(); brokers != nil {
		httpClient := &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}

		var awarder worker.Awarder
		if cfg.LoyaltyServiceURL != "" {
			awarder = loyalty.NewClient(cfg.LoyaltyServiceURL, httpClient)
		}
		handler := worker.NewEventHandler(cfg.EmailServiceURL, awarder, httpClient, logger)

		consumer := messaging.NewConsumer(brokers, cfg.Kafka.OrderEventsTopic, cfg.Kafka.ConsumerGroupID, logger,
			messaging.WithRetry(3, 200*time.Millisecond))
		defer func() { _ = consumer.Close() }()

		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.Info("starting order event consumer", "brokers", brokers, "topic", cfg.Kafka.OrderEventsTopic)
			if err := consumer.Consume(ctx, handler.Handle); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("consumer error", "error", err)
				cancel()
			}
		}()
	} else {
		logger.Warn("KAFKA_BROKERS not set, order events will not be consumed")
	}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", metricsHandler)
	server := &http.Server{
		Addr:         ":" + cfg.MetricsPort,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("serving settlement metrics", "port", cfg.MetricsPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
			cancel()
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-stop:
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)

	wg.Wait()
	logger.Info("settlement stopped")
}

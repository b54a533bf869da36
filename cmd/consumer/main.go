package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/aggregate"
	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/api"
	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/clock"
	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/config"
	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/influxdb"
	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/ingest"
	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/kafka"
	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/logging"
	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/metrics"
	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/period"
	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/processor"
	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/provider"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger := logging.New(cfg.Logging, "consumer")
	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("consumer exited")
	}
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	startedAt := time.Now()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stores, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer stores.close()

	m := metrics.New()
	clk := clock.Real{}
	resolver := period.NewResolver(stores.summaries, clk, logger, period.WithMetrics(m))

	opts := []processor.Option{processor.WithMetrics(m)}
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.NewClient(ctx, cfg.InfluxDB, logger)
		if err != nil {
			return err
		}
		opts = append(opts, processor.WithSink(influxClient))
	}

	proc := processor.NewProcessor(ingest.NewIngestor(stores.index, logger), resolver, cfg.Processor, logger, opts...)

	var fetcher provider.Fetcher
	if cfg.Provider.BaseURL != "" {
		fetcher = provider.NewClient(cfg.Provider)
	}

	server := api.NewServer(cfg.HTTP, api.Deps{
		Processor:  proc,
		Resolver:   resolver,
		Aggregator: aggregate.New(stores.summaries, clk),
		Fetcher:    fetcher,
		Metrics:    m,
	}, logger)

	// Handle termination signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)

	var (
		consumers []*kafka.Consumer
		startErr  error
	)
	if cfg.Kafka.Enabled {
		logger.Info().Int("count", cfg.Kafka.ConsumerCount).Str("topic", cfg.Kafka.Topic).Msg("starting kafka consumers")

		for i := 0; i < cfg.Kafka.ConsumerCount; i++ {
			consumer, err := kafka.NewConsumer(fmt.Sprintf("consumer-%d", i), cfg.Kafka, proc.ProcessMessages, logger, m)
			if err != nil {
				startErr = fmt.Errorf("create consumer %d: %w", i, err)
				break
			}
			consumers = append(consumers, consumer)

			id := i
			g.Go(func() error {
				logger.Info().Int("consumer", id).Msg("consumer started")
				if err := consumer.Consume(gctx); err != nil {
					return fmt.Errorf("consumer %d: %w", id, err)
				}
				logger.Info().Int("consumer", id).Msg("consumer stopped")
				return nil
			})
		}
	}

	// Wait for a termination signal or a failed component
	if startErr != nil {
		logger.Error().Err(startErr).Msg("startup failed, shutting down")
	} else {
		select {
		case sig := <-sigChan:
			logger.Info().Str("signal", sig.String()).Msg("received termination signal, shutting down")
		case <-gctx.Done():
			logger.Error().Msg("component failed, shutting down")
		}
	}

	// Cancel context to stop consumers
	cancel()

	// Set a deadline for clean shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http server shutdown")
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	var runErr error
	select {
	case runErr = <-done:
		logger.Info().Msg("all components stopped")
	case <-shutdownCtx.Done():
		logger.Warn().Msg("shutdown timed out, forcing exit")
	}

	for _, c := range consumers {
		if err := c.Close(); err != nil {
			logger.Warn().Err(err).Msg("close consumer")
		}
	}

	// Drain the processor before closing the sink it writes to
	proc.Stop()
	if influxClient != nil {
		logger.Info().Msg("closing InfluxDB client")
		influxClient.Close()
	}

	logger.Info().Dur("uptime", time.Since(startedAt)).Msg("shutdown complete")
	if startErr != nil {
		return startErr
	}
	return runErr
}

package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/config"
	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/kafka"
	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/logging"
	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/simulator"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	logger := logging.New(cfg.Logging, "meter-simulator")

	fleet, err := simulator.NewFleet(cfg.Simulator, time.Now().UnixNano())
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid simulator configuration")
	}

	publisher, err := kafka.NewPublisher(cfg.Kafka)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create publisher")
	}
	defer publisher.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info().
		Int("accounts", fleet.Size()).
		Dur("interval", cfg.Simulator.Interval).
		Str("topic", cfg.Kafka.Topic).
		Msg("simulator started")

	ticker := time.NewTicker(cfg.Simulator.Interval)
	defer ticker.Stop()

	var published int
	for {
		select {
		case <-ctx.Done():
			logger.Info().Int("published", published).Msg("simulator stopped")
			return
		case now := <-ticker.C:
			readings := fleet.Tick(now)
			if err := publisher.PublishBatch(readings); err != nil {
				logger.Error().Err(err).Int("readings", len(readings)).Msg("publish failed")
				continue
			}
			published += len(readings)
			logger.Debug().Int("readings", len(readings)).Msg("readings published")
		}
	}
}

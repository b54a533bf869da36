package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/Shopify/sarama"
	"github.com/rs/zerolog"

	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/config"
	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/metrics"
	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/models"
)

// MessageProcessor processes a batch of decoded readings. A non-nil error
// leaves the batch unmarked so it is redelivered.
type MessageProcessor func(ctx context.Context, readings []models.Reading) error

// Consumer represents a Kafka consumer
type Consumer struct {
	id       string
	config   config.KafkaConfig
	consumer sarama.ConsumerGroup
	handler  *consumerGroupHandler
	logger   zerolog.Logger
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(id string, cfg config.KafkaConfig, processor MessageProcessor, logger zerolog.Logger, m *metrics.Collector) (*Consumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Consumer.Return.Errors = true
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
	saramaConfig.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRoundRobin

	saramaConfig.Consumer.Fetch.Min = 1
	saramaConfig.Consumer.Fetch.Default = 1024 * 1024 // 1MB
	saramaConfig.Consumer.MaxWaitTime = 250 * time.Millisecond

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, err
	}

	logger = logger.With().Str("consumer", id).Logger()
	return &Consumer{
		id:       id,
		config:   cfg,
		consumer: group,
		handler:  newHandler(processor, cfg.BatchSize, cfg.BatchTimeout, logger, m),
		logger:   logger,
	}, nil
}

// Consume starts consuming messages from Kafka until ctx is cancelled
func (c *Consumer) Consume(ctx context.Context) error {
	go func() {
		for err := range c.consumer.Errors() {
			c.logger.Error().Err(err).Msg("consumer group error")
		}
	}()

	for {
		if err := c.consumer.Consume(ctx, []string{c.config.Topic}, c.handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		c.logger.Info().Msg("consumer group rebalanced")
	}
}

// Close leaves the consumer group
func (c *Consumer) Close() error {
	return c.consumer.Close()
}

// consumerGroupHandler implements sarama.ConsumerGroupHandler
type consumerGroupHandler struct {
	processor    MessageProcessor
	batchSize    int
	batchTimeout time.Duration
	logger       zerolog.Logger
	metrics      *metrics.Collector
}

func newHandler(processor MessageProcessor, batchSize int, batchTimeout time.Duration, logger zerolog.Logger, m *metrics.Collector) *consumerGroupHandler {
	if batchSize < 1 {
		batchSize = 1
	}
	if batchTimeout <= 0 {
		batchTimeout = time.Second
	}
	return &consumerGroupHandler{
		processor:    processor,
		batchSize:    batchSize,
		batchTimeout: batchTimeout,
		logger:       logger,
		metrics:      m,
	}
}

func (h *consumerGroupHandler) Setup(_ sarama.ConsumerGroupSession) error   { return nil }
func (h *consumerGroupHandler) Cleanup(_ sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim buffers readings of one partition, processes each batch
// synchronously and marks the batch's last offset once it is done.
func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := session.Context()
	buffer := make([]models.Reading, 0, h.batchSize)
	var last *sarama.ConsumerMessage

	flush := func() error {
		if len(buffer) > 0 {
			if err := h.processor(ctx, buffer); err != nil {
				return err
			}
			h.count("processed", len(buffer))
		}
		if last != nil {
			session.MarkMessage(last, "")
		}
		buffer = buffer[:0]
		last = nil
		return nil
	}

	ticker := time.NewTicker(h.batchTimeout)
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok {
				return flush()
			}
			last = message

			var reading models.Reading
			if err := json.Unmarshal(message.Value, &reading); err != nil {
				h.logger.Warn().Err(err).
					Str("topic", message.Topic).
					Int32("partition", message.Partition).
					Int64("offset", message.Offset).
					Msg("discarding undecodable message")
				h.count("invalid", 1)
				continue
			}
			if reading.AccountID == "" && len(message.Key) > 0 {
				reading.AccountID = string(message.Key)
			}

			buffer = append(buffer, reading)
			if len(buffer) >= h.batchSize {
				if err := flush(); err != nil {
					return err
				}
			}

		case <-ticker.C:
			if err := flush(); err != nil {
				return err
			}

		case <-ctx.Done():
			return nil
		}
	}
}

func (h *consumerGroupHandler) count(result string, n int) {
	if h.metrics != nil {
		h.metrics.MessagesConsumed.WithLabelValues(result).Add(float64(n))
	}
}

// Package kafka connects the reading pipeline to Kafka: a consumer group that
// feeds the processor and a publisher used by the meter simulator.
package kafka

import (
	"encoding/json"
	"fmt"

	"github.com/Shopify/sarama"

	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/config"
	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/models"
)

// Publisher writes readings to the ingestion topic keyed by account id, so
// every reading of an account lands on the same partition in order.
type Publisher struct {
	producer sarama.SyncProducer
	topic    string
}

// NewPublisher connects a synchronous producer to the configured brokers
func NewPublisher(cfg config.KafkaConfig) (*Publisher, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
	saramaConfig.Producer.Partitioner = sarama.NewHashPartitioner
	saramaConfig.Producer.Retry.Max = 5

	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("create producer: %w", err)
	}
	return NewPublisherWithProducer(producer, cfg.Topic), nil
}

// NewPublisherWithProducer wraps an existing producer
func NewPublisherWithProducer(producer sarama.SyncProducer, topic string) *Publisher {
	return &Publisher{producer: producer, topic: topic}
}

// Publish sends one reading
func (p *Publisher) Publish(r models.Reading) error {
	msg, err := p.message(r)
	if err != nil {
		return err
	}
	if _, _, err := p.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("publish reading for %s: %w", r.AccountID, err)
	}
	return nil
}

// PublishBatch sends readings in one request
func (p *Publisher) PublishBatch(readings []models.Reading) error {
	msgs := make([]*sarama.ProducerMessage, 0, len(readings))
	for _, r := range readings {
		msg, err := p.message(r)
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}
	if err := p.producer.SendMessages(msgs); err != nil {
		return fmt.Errorf("publish %d readings: %w", len(msgs), err)
	}
	return nil
}

func (p *Publisher) message(r models.Reading) (*sarama.ProducerMessage, error) {
	value, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode reading: %w", err)
	}
	return &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(r.AccountID),
		Value: sarama.ByteEncoder(value),
	}, nil
}

// Close closes the producer
func (p *Publisher) Close() error {
	return p.producer.Close()
}

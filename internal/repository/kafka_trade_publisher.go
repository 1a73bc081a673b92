package repository

import (
	"context"
	"fmt"

	"PolyBot/internal/domain/models"
	pkgkafka "PolyBot/pkg/kafka"
)

// KafkaTradePublisher fans closed trades out on a Kafka topic, keyed by
// market so per-market ordering survives partitioning.
type KafkaTradePublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

// NewKafkaTradePublisher creates a publisher on the given topic.
func NewKafkaTradePublisher(producer *pkgkafka.Producer, topic string) *KafkaTradePublisher {
	return &KafkaTradePublisher{producer: producer, topic: topic}
}

func (p *KafkaTradePublisher) PublishTrade(ctx context.Context, t *models.Trade) error {
	key := []byte(string(t.Asset) + "_" + string(t.Timeframe))
	if err := p.producer.Publish(ctx, p.topic, key, t); err != nil {
		return fmt.Errorf("publish trade %s: %w", t.ID, err)
	}
	return nil
}

func (p *KafkaTradePublisher) Close() error {
	return p.producer.Close()
}

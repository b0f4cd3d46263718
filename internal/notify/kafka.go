package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/xtrntr/stocksim/internal/models"
)

// NewSyncProducer creates a SyncProducer that waits for all in-sync
// replicas, retrying the initial connection a few times.
func NewSyncProducer(brokers []string) (sarama.SyncProducer, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5

	var prod sarama.SyncProducer
	var err error
	for i := 0; i < 5; i++ {
		prod, err = sarama.NewSyncProducer(brokers, config)
		if err == nil {
			return prod, nil
		}
		time.Sleep(2 * time.Second)
	}
	return nil, fmt.Errorf("failed to start producer after retries: %w", err)
}

// KafkaPublisher produces one message per match, keyed by the sell order
// id so fills against the same resting order stay in one partition.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

// NewKafkaPublisher wraps an existing producer.
func NewKafkaPublisher(producer sarama.SyncProducer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

// PublishMatches implements Publisher.
func (k *KafkaPublisher) PublishMatches(ctx context.Context, matches []models.Match) error {
	if len(matches) == 0 {
		return nil
	}
	msgs := make([]*sarama.ProducerMessage, 0, len(matches))
	for _, m := range matches {
		value, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("failed to marshal match: %w", err)
		}
		msgs = append(msgs, &sarama.ProducerMessage{
			Topic: k.topic,
			Key:   sarama.StringEncoder(m.SellOrderID.String()),
			Value: sarama.ByteEncoder(value),
		})
	}
	if err := k.producer.SendMessages(msgs); err != nil {
		return fmt.Errorf("failed to produce matches to %s: %w", k.topic, err)
	}
	return nil
}

// Close closes the underlying producer.
func (k *KafkaPublisher) Close() error {
	return k.producer.Close()
}

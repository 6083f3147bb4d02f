// Package pipeline moves transactions from the input topic through the
// detection engine and publishes every verdict downstream.
package pipeline

import (
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog/log"

	"github.com/slipstream/anomaly-detector/internal/models"
)

// Producer publishes scored results. Messages are keyed by user ID so
// records for one user always land on the same partition.
type Producer struct {
	producer    sarama.SyncProducer
	outputTopic string
	alertsTopic string
}

// NewProducer connects a synchronous producer for the two result topics.
func NewProducer(brokers []string, outputTopic, alertsTopic string) (*Producer, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 3
	config.Producer.Return.Successes = true
	config.Producer.Partitioner = sarama.NewHashPartitioner
	config.Version = sarama.V3_0_0_0

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}

	log.Info().
		Strs("brokers", brokers).
		Str("output_topic", outputTopic).
		Str("alerts_topic", alertsTopic).
		Msg("Kafka producer connected")

	return &Producer{
		producer:    producer,
		outputTopic: outputTopic,
		alertsTopic: alertsTopic,
	}, nil
}

// EmitResult publishes a verdict to the all-results topic.
func (p *Producer) EmitResult(result *models.AnomalyResult) error {
	return p.publish(p.outputTopic, result)
}

// EmitAlert publishes a flagged verdict to the alerts topic.
func (p *Producer) EmitAlert(result *models.AnomalyResult) error {
	return p.publish(p.alertsTopic, result)
}

func (p *Producer) publish(topic string, result *models.AnomalyResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result %s: %w", result.TransactionID, err)
	}

	key := ""
	if result.OriginalTransaction != nil {
		key = result.OriginalTransaction.UserID
	}

	_, _, err = p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(payload),
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// Close flushes and shuts down the underlying producer.
func (p *Producer) Close() error {
	return p.producer.Close()
}

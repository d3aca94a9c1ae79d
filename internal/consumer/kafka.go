package consumer

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"github.com/thesanjai/Online-Exam-Proctoring-System/internal/config"
)

// MessageProcessor handles decoded alert messages
type MessageProcessor interface {
	Process(ctx context.Context, msg map[string]interface{}) error
	Flush()
}

// messageReader is the part of *kafka.Reader the consumer uses.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConsumer reads alerts from Kafka and hands them to a processor
type KafkaConsumer struct {
	reader    messageReader
	processor MessageProcessor
	topic     string
	group     string
}

// NewKafkaConsumer creates a consumer on the alerts topic
func NewKafkaConsumer(cfg config.KafkaConfig, processor MessageProcessor) (*KafkaConsumer, error) {
	topic := cfg.AlertsTopic()
	if topic == "" {
		topic = "proctor.alerts"
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          topic,
		GroupID:        cfg.ConsumerGroup,
		MinBytes:       1e3,  // 1KB
		MaxBytes:       10e6, // 10MB
		CommitInterval: 1000,
		StartOffset:    kafka.LastOffset,
	})

	return &KafkaConsumer{
		reader:    reader,
		processor: processor,
		topic:     topic,
		group:     cfg.ConsumerGroup,
	}, nil
}

// Start consumes messages until ctx is cancelled
func (c *KafkaConsumer) Start(ctx context.Context) {
	log.Info().
		Str("topic", c.topic).
		Str("group", c.group).
		Msg("Starting Kafka consumer")

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Info().Msg("Kafka consumer stopped")
				return
			}
			log.Error().Err(err).Msg("Failed to fetch message")
			continue
		}

		var alert map[string]interface{}
		if err := json.Unmarshal(msg.Value, &alert); err != nil {
			log.Error().
				Err(err).
				Str("value", string(msg.Value)).
				Msg("Failed to parse message")
		} else if err := c.processor.Process(ctx, alert); err != nil {
			log.Error().
				Err(err).
				Interface("alert", alert).
				Msg("Failed to process alert")
		}

		// Commit unparseable messages too, so one bad record can't wedge the group
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			log.Error().Err(err).Msg("Failed to commit message")
		}
	}
}

// Close flushes the processor and closes the reader
func (c *KafkaConsumer) Close() error {
	log.Info().Msg("Closing Kafka consumer")
	c.processor.Flush()
	return c.reader.Close()
}

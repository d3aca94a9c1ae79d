package producer

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"github.com/thesanjai/Online-Exam-Proctoring-System/internal/alerts"
	"github.com/thesanjai/Online-Exam-Proctoring-System/internal/config"
)

// messageWriter is the part of *kafka.Writer the producer uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaProducer publishes alerts to the alerts topic, keyed by session ID so
// one session's alerts stay ordered within a partition.
type KafkaProducer struct {
	writer messageWriter
	topic  string
}

func NewKafkaProducer(cfg config.KafkaConfig) (*KafkaProducer, error) {
	topic := cfg.AlertsTopic()
	if topic == "" {
		return nil, errors.New("producer: no kafka brokers configured")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    100,
		BatchTimeout: time.Millisecond * 100,
		Async:        true,
	}

	return &KafkaProducer{
		writer: writer,
		topic:  topic,
	}, nil
}

// Notify implements alerts.Notifier.
func (p *KafkaProducer) Notify(ctx context.Context, alert alerts.Alert) error {
	data, err := alerts.Encode(alert)
	if err != nil {
		return err
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(alert.SessionID),
		Value: data,
	})
	if err != nil {
		return err
	}

	log.Debug().
		Str("topic", p.topic).
		Str("type", string(alert.Type)).
		Str("session_id", alert.SessionID).
		Msg("Alert published to Kafka")
	return nil
}

func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/thesanjai/Online-Exam-Proctoring-System/internal/archiver"
	"github.com/thesanjai/Online-Exam-Proctoring-System/internal/config"
	"github.com/thesanjai/Online-Exam-Proctoring-System/internal/consumer"
	"github.com/thesanjai/Online-Exam-Proctoring-System/internal/session"
	"github.com/thesanjai/Online-Exam-Proctoring-System/internal/storage"
)

func main() {
	// Setup logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// Load config
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/proctor.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", configPath).Msg("Failed to load config")
	}

	if level, err := zerolog.ParseLevel(cfg.Log.Level); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	log.Info().
		Strs("kafka_brokers", cfg.Kafka.Brokers).
		Str("topic", cfg.Kafka.AlertsTopic()).
		Str("clickhouse_addr", cfg.ClickHouse.Addr).
		Str("redis_addr", cfg.Redis.Addr).
		Int("batch_size", cfg.Batch.Size).
		Dur("flush_interval", cfg.Batch.FlushInterval).
		Msg("Configuration loaded")

	// Initialize ClickHouse
	ch, err := storage.NewClickHouse(cfg.ClickHouse)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to ClickHouse")
	}
	defer ch.Close()

	if err := ch.EnsureSchema(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("Failed to create ClickHouse tables")
	}
	log.Info().Msg("Connected to ClickHouse")

	// Initialize session aggregator
	var sessionAgg *session.Aggregator
	var flusher archiver.SessionFlusher
	if cfg.Redis.Addr != "" {
		sessionAgg = session.NewAggregator(ch, cfg.Redis)
		defer sessionAgg.Close()
		flusher = sessionAgg
		log.Info().Msg("Session aggregator initialized")
	}

	alertProcessor := archiver.NewAlertProcessor(ch, flusher, cfg.Batch)

	kafkaConsumer, err := consumer.NewKafkaConsumer(cfg.Kafka, alertProcessor)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Kafka consumer")
	}

	ctx, cancel := context.WithCancel(context.Background())
	go kafkaConsumer.Start(ctx)

	log.Info().Msg("Alert archiver started")

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")
	cancel()
	kafkaConsumer.Close()
	alertProcessor.Stop()

	// Sessions that never saw tracking_stopped
	if sessionAgg != nil {
		if err := sessionAgg.FlushAllSessions(context.Background()); err != nil {
			log.Error().Err(err).Msg("Failed to flush sessions")
		}
	}

	log.Info().Msg("Shutdown complete")
}

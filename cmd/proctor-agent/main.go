package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/thesanjai/Online-Exam-Proctoring-System/internal/alerts"
	"github.com/thesanjai/Online-Exam-Proctoring-System/internal/config"
	"github.com/thesanjai/Online-Exam-Proctoring-System/internal/eyetracking"
	"github.com/thesanjai/Online-Exam-Proctoring-System/internal/facedetect"
	"github.com/thesanjai/Online-Exam-Proctoring-System/internal/frames"
	"github.com/thesanjai/Online-Exam-Proctoring-System/internal/handler"
	"github.com/thesanjai/Online-Exam-Proctoring-System/internal/metrics"
	"github.com/thesanjai/Online-Exam-Proctoring-System/internal/producer"
	"github.com/thesanjai/Online-Exam-Proctoring-System/internal/screens"
	"github.com/thesanjai/Online-Exam-Proctoring-System/internal/server"
	"github.com/thesanjai/Online-Exam-Proctoring-System/internal/session"
	"github.com/thesanjai/Online-Exam-Proctoring-System/internal/tracker"
	"github.com/thesanjai/Online-Exam-Proctoring-System/internal/validation"
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
		Str("eyetracking_url", cfg.EyeTracking.BaseURL).
		Bool("face_detection", cfg.FaceDetection.Enabled).
		Bool("screens", cfg.Screens.Enabled).
		Float64("movement_threshold", cfg.Fixation.MovementThreshold).
		Int64("limit_ms", cfg.Fixation.LimitMs).
		Msg("Starting proctoring agent...")

	m := metrics.New()

	// Alert sinks. Redis goes before Kafka so the session hash is complete
	// by the time the archiver sees tracking_stopped.
	dispatcher := alerts.NewDispatcher(m)
	dispatcher.Register("log", alerts.LogNotifier{})

	if cfg.Redis.Addr != "" {
		sessionAgg := session.NewAggregator(nil, cfg.Redis)
		defer sessionAgg.Close()
		dispatcher.Register("redis", sessionAgg)
		log.Info().Str("addr", cfg.Redis.Addr).Msg("Session aggregator initialized")
	}

	if cfg.Kafka.AlertsTopic() != "" {
		kafkaProducer, err := producer.NewKafkaProducer(cfg.Kafka)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create Kafka producer")
		}
		defer kafkaProducer.Close()
		dispatcher.Register("kafka", kafkaProducer)
		log.Info().Str("topic", cfg.Kafka.AlertsTopic()).Msg("Kafka producer initialized")
	}

	health := server.NewHealthServer(tracker.ServiceName, facedetect.ServiceName, screens.ServiceName)

	etClient := eyetracking.NewClient(cfg.EyeTracking)
	eyeTracker := tracker.New(cfg, etClient, dispatcher, m, health)

	var faceStatus handler.FaceStatus
	var faceWatcher *facedetect.Watcher
	if cfg.FaceDetection.Enabled {
		source, err := frames.NewSource(cfg.FaceDetection, etClient)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create frame source")
		}
		faceWatcher = facedetect.NewWatcher(cfg.FaceDetection, facedetect.NewClient(cfg.FaceDetection),
			source, dispatcher, eyeTracker, m, health)
		faceStatus = faceWatcher
	}

	var screenStatus handler.ScreenStatus
	var screenWatcher *screens.Watcher
	if cfg.Screens.Enabled {
		screenWatcher = screens.NewWatcher(cfg.Screens, screens.NewClient(cfg.Screens), dispatcher, eyeTracker, m, health)
		screenStatus = screenWatcher
	}

	var keyValidator handler.KeyValidator
	if cfg.Auth.Enabled {
		validator, err := validation.NewValidator(cfg)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create validator")
		}
		defer validator.Close()
		keyValidator = validator
		log.Info().Msg("Validator initialized")
	}

	httpHandler := handler.NewHTTPHandler(eyeTracker, etClient, faceStatus, screenStatus, dispatcher)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler: handler.NewRouter(httpHandler, m.Handler(), keyValidator),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Int("port", cfg.Server.HTTPPort).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return health.ListenAndServe(cfg.Server.GRPCPort)
	})

	if faceWatcher != nil {
		g.Go(func() error { return faceWatcher.Run(gctx) })
	}
	if screenWatcher != nil {
		g.Go(func() error { return screenWatcher.Run(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()

		log.Info().Msg("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		eyeTracker.Close(shutdownCtx)
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP shutdown failed")
		}
		health.Stop()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Agent stopped with error")
	}

	log.Info().Msg("Shutdown complete")
}

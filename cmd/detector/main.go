package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/slipstream/anomaly-detector/configs"
	"github.com/slipstream/anomaly-detector/internal/detector"
	"github.com/slipstream/anomaly-detector/internal/monitoring"
	"github.com/slipstream/anomaly-detector/internal/pipeline"
)

func main() {
	// Load .env file if exists
	_ = godotenv.Load()

	cfg := configs.Load()
	setupLogging(cfg.Environment)

	log.Info().Msg("🔄 Starting SlipStream anomaly detector")
	log.Info().
		Strs("brokers", cfg.Kafka.BootstrapServers).
		Str("input_topic", cfg.Kafka.InputTopic).
		Str("output_topic", cfg.Kafka.OutputTopic).
		Str("alerts_topic", cfg.Kafka.AlertsTopic).
		Str("group_id", cfg.Kafka.GroupID).
		Int("workers", cfg.Kafka.NumThreads).
		Str("state_dir", cfg.Kafka.StateDir).
		Msg("Kafka configuration")

	if err := os.MkdirAll(cfg.Kafka.StateDir, 0o755); err != nil {
		log.Warn().Err(err).Str("state_dir", cfg.Kafka.StateDir).Msg("Could not create state directory")
	}

	det, err := detector.New(cfg.Detector.Variant, detector.Config{})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build detector")
	}
	log.Info().
		Str("variant", det.Name()).
		Bool("online_learning", det.SupportsOnlineLearning()).
		Msg("Detection engine ready")

	model, ok := det.(monitoring.ModelStats)
	if !ok {
		log.Fatal().Str("variant", det.Name()).Msg("Detector does not expose model statistics")
	}

	collector := monitoring.NewCollector(nil)
	collector.SetActiveDetectors(cfg.Kafka.NumThreads)

	producer, err := pipeline.NewProducer(cfg.Kafka.BootstrapServers, cfg.Kafka.OutputTopic, cfg.Kafka.AlertsTopic)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect Kafka producer")
	}
	defer producer.Close()

	processor := pipeline.NewProcessor(det, producer, collector)
	runner := pipeline.NewRunner(cfg.Kafka.BootstrapServers, cfg.Kafka.GroupID, cfg.Kafka.InputTopic, cfg.Kafka.NumThreads, cfg.Kafka.CommitInterval, processor)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	dashboard := monitoring.NewDashboardServer(collector, cfg.Dashboard.Port)
	if err := dashboard.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start dashboard server")
	}

	reporter := monitoring.NewReporter(collector, model, 30*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return runner.Run(ctx) })
	g.Go(func() error { return reporter.Run(ctx) })

	sigterm := make(chan os.Signal, 1)
	signal.Notify(sigterm, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigterm:
		log.Info().Str("signal", sig.String()).Msg("Shutdown signal received, stopping pipeline...")
	case <-ctx.Done():
		log.Error().Msg("Pipeline stopped unexpectedly")
	}
	cancel()

	// Workers finish the record in flight, bounded, before the
	// dashboard goes down.
	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	var runErr error
	select {
	case runErr = <-done:
	case <-time.After(10 * time.Second):
		log.Warn().Msg("Workers did not stop within the shutdown window")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := dashboard.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Dashboard forced to shutdown")
	}

	if runErr != nil {
		log.Fatal().Err(runErr).Msg("Detection pipeline failed")
	}
	log.Info().Msg("SlipStream anomaly detector stopped")
}

func setupLogging(env string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if env == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

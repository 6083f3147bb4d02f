// Command alerts-tail follows the alerts topic and prints every alert
// with its verdict, for watching the detector work from a terminal.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/IBM/sarama"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/slipstream/anomaly-detector/configs"
	"github.com/slipstream/anomaly-detector/internal/models"
	"github.com/slipstream/anomaly-detector/internal/pipeline"
)

const monitorGroupID = "anomaly-demo-consumer"

func main() {
	_ = godotenv.Load()

	cfg := configs.Load()
	setupLogging(cfg.Environment)

	log.Info().Msg("🚨 SlipStream anomaly alert monitor")
	log.Info().
		Strs("brokers", cfg.Kafka.BootstrapServers).
		Str("topic", cfg.Kafka.AlertsTopic).
		Msg("Monitoring for alerts... (Ctrl+C to stop)")

	group, err := sarama.NewConsumerGroup(cfg.Kafka.BootstrapServers, monitorGroupID, pipeline.NewConsumerConfig())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Kafka")
	}
	defer group.Close()

	go func() {
		for err := range group.Errors() {
			log.Error().Err(err).Msg("Consumer group error")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigterm := make(chan os.Signal, 1)
	signal.Notify(sigterm, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigterm
		log.Info().Msg("👋 Shutting down anomaly monitor...")
		cancel()
	}()

	for {
		if err := group.Consume(ctx, []string{cfg.Kafka.AlertsTopic}, alertPrinter{}); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return
			}
			log.Error().Err(err).Msg("Error from consumer")
		}
		if ctx.Err() != nil {
			return
		}
	}
}

type alertPrinter struct{}

func (alertPrinter) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (alertPrinter) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (alertPrinter) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			printAlert(message.Value)
			session.MarkMessage(message, "")
		case <-session.Context().Done():
			return nil
		}
	}
}

func printAlert(value []byte) {
	var res models.AnomalyResult
	if err := json.Unmarshal(value, &res); err != nil {
		log.Error().Err(err).Msg("Failed to decode alert")
		return
	}

	event := log.Warn().
		Str("severity", severityFor(res.Score)).
		Str("transaction_id", res.TransactionID).
		Float64("score", res.Score).
		Str("type", string(res.Type)).
		Float64("confidence", res.Confidence).
		Str("reason", res.Reason)
	if tx := res.OriginalTransaction; tx != nil {
		event = event.Str("user_id", tx.UserID).Float64("amount", tx.Amount)
	}
	event.Msg("🚨 Anomaly alert")
}

func severityFor(score float64) string {
	switch {
	case score >= 0.8:
		return "high"
	case score >= 0.6:
		return "medium"
	default:
		return "low"
	}
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

// Command txgen produces demo transaction traffic on the input topic: a
// mix of normal purchases and seeded anomalies so the detector and its
// dashboard have something to show.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/slipstream/anomaly-detector/configs"
	"github.com/slipstream/anomaly-detector/internal/models"
)

// Scenario mix, matching the demo distribution: 70% normal, 10% high
// amount, 10% velocity bursts, 5% far location, 5% odd hour.
const (
	normalShare     = 0.70
	highAmountShare = 0.80
	velocityShare   = 0.90
	locationShare   = 0.95
)

const (
	minPause  = 500 * time.Millisecond
	maxPause  = 2 * time.Second
	burstSize = 5
	burstGap  = 50 * time.Millisecond
)

var merchants = []string{
	"Amazon", "Walmart", "Target", "Starbucks", "McDonald's",
	"Shell", "Exxon", "CVS", "Walgreens", "Home Depot",
	"Best Buy", "Apple Store", "Netflix", "Spotify", "Uber",
}

type place struct {
	city    string
	country string
	lat     float64
	lon     float64
}

var cities = []place{
	{"New York", "NY", 40.7128, -74.0060},
	{"Los Angeles", "CA", 34.0522, -118.2437},
	{"Chicago", "IL", 41.8781, -87.6298},
	{"Houston", "TX", 29.7604, -95.3698},
	{"Phoenix", "AZ", 33.4484, -112.0740},
	{"Philadelphia", "PA", 39.9526, -75.1652},
	{"San Antonio", "TX", 29.4241, -98.4936},
	{"San Diego", "CA", 32.7157, -117.1611},
	{"Dallas", "TX", 32.7767, -96.7970},
	{"San Jose", "CA", 37.3382, -121.8863},
	{"Austin", "TX", 30.2672, -97.7431},
	{"Jacksonville", "FL", 30.3322, -81.6557},
}

// Suspicious origins carry out-of-range coordinates, the wire marker
// for VPN and relay exit traffic.
var suspiciousPlaces = []place{
	{"Moscow", "Russia", 95.0, 190.0},
	{"Lagos", "Nigeria", 97.5, 200.0},
	{"Bucharest", "Romania", 99.0, 210.0},
	{"Unknown Location", "Unknown", 120.0, 250.0},
	{"VPN_DETECTED", "Unknown", 150.0, 300.0},
	{"TOR_EXIT_NODE", "Unknown", 180.0, 359.0},
}

type generator struct {
	producer sarama.SyncProducer
	topic    string
	rng      *rand.Rand
}

func main() {
	_ = godotenv.Load()

	duration := flag.Int("duration", 30, "how long to generate traffic, in seconds")
	count := flag.Int("count", 0, "stop after this many transactions (0 = no limit)")
	rate := flag.Float64("rate", 0, "fixed transactions per second (0 = random 0.5-2s pacing)")
	flag.Parse()

	cfg := configs.Load()
	setupLogging(cfg.Environment)

	log.Info().Msg("🚀 SlipStream demo traffic generator")
	log.Info().
		Strs("brokers", cfg.Kafka.BootstrapServers).
		Str("topic", cfg.Kafka.InputTopic).
		Int("duration_seconds", *duration).
		Msg("Generating transactions")

	producer, err := newProducer(cfg.Kafka.BootstrapServers)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect Kafka producer")
	}
	defer producer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigterm := make(chan os.Signal, 1)
	signal.Notify(sigterm, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigterm
		log.Info().Msg("Stopping traffic generator...")
		cancel()
	}()

	gen := &generator{
		producer: producer,
		topic:    cfg.Kafka.InputTopic,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	sent := gen.run(ctx, time.Duration(*duration)*time.Second, *count, *rate)
	log.Info().Int("transactions", sent).Msg("✅ Traffic generation complete")
}

func (g *generator) run(ctx context.Context, duration time.Duration, limit int, rate float64) int {
	deadline := time.Now().Add(duration)
	count := 0

	for time.Now().Before(deadline) && ctx.Err() == nil {
		if limit > 0 && count >= limit {
			break
		}

		chance := g.rng.Float64()
		switch {
		case chance < normalShare:
			count += g.send(g.normalTransaction(time.Now()), "NORMAL")
		case chance < highAmountShare:
			count += g.send(g.highAmountTransaction(time.Now()), "HIGH_AMOUNT")
		case chance < velocityShare:
			count += g.sendBurst(ctx)
		case chance < locationShare:
			count += g.send(g.locationTransaction(time.Now()), "LOCATION")
		default:
			count += g.send(g.timeTransaction(time.Now()), "TIME")
		}

		pause := minPause + time.Duration(g.rng.Int63n(int64(maxPause-minPause)))
		if rate > 0 {
			pause = time.Duration(float64(time.Second) / rate)
		}
		select {
		case <-ctx.Done():
		case <-time.After(pause):
		}
	}
	return count
}

func (g *generator) send(tx models.Transaction, kind string) int {
	payload, err := json.Marshal(tx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode transaction")
		return 0
	}

	_, _, err = g.producer.SendMessage(&sarama.ProducerMessage{
		Topic: g.topic,
		Key:   sarama.StringEncoder(tx.UserID),
		Value: sarama.ByteEncoder(payload),
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to send transaction")
		return 0
	}

	log.Info().
		Str("type", kind).
		Str("user_id", tx.UserID).
		Str("merchant", tx.MerchantID).
		Float64("amount", tx.Amount).
		Msg("Transaction sent")
	return 1
}

// sendBurst fires a rapid run of purchases from one user so the
// velocity signal has a real cluster to latch onto.
func (g *generator) sendBurst(ctx context.Context) int {
	userID := fmt.Sprintf("user_%d", g.rng.Intn(100))
	count := 0
	for i := 0; i < burstSize && ctx.Err() == nil; i++ {
		tx := g.normalTransaction(time.Now())
		tx.UserID = userID
		tx.Amount = 50 + g.rng.Float64()*450
		count += g.send(tx, "VELOCITY")
		time.Sleep(burstGap)
	}
	return count
}

func (g *generator) normalTransaction(now time.Time) models.Transaction {
	return g.baseTransaction(now, 1000, 5, 200)
}

func (g *generator) highAmountTransaction(now time.Time) models.Transaction {
	return g.baseTransaction(now, 1000, 5000, 50000)
}

func (g *generator) locationTransaction(now time.Time) models.Transaction {
	tx := g.baseTransaction(now, 1000, 100, 1000)
	tx.Location = g.location(suspiciousPlaces)
	return tx
}

func (g *generator) timeTransaction(now time.Time) models.Transaction {
	oddHour := time.Date(now.Year(), now.Month(), now.Day(), 3, g.rng.Intn(60), g.rng.Intn(60), 0, now.Location())
	tx := g.baseTransaction(oddHour, 1000, 100, 1000)
	return tx
}

func (g *generator) baseTransaction(now time.Time, userPool int, minAmount, maxAmount float64) models.Transaction {
	return models.Transaction{
		TransactionID:    fmt.Sprintf("TXN-%d-%03d", now.UnixMilli(), g.rng.Intn(1000)),
		UserID:           fmt.Sprintf("user_%d", g.rng.Intn(userPool)),
		MerchantID:       merchants[g.rng.Intn(len(merchants))],
		Amount:           minAmount + g.rng.Float64()*(maxAmount-minAmount),
		Currency:         "USD",
		Timestamp:        models.NewCivilTime(now),
		Location:         g.location(cities),
		PaymentMethod:    "VISA",
		MerchantCategory: "RETAIL",
	}
}

func (g *generator) location(pool []place) *models.Location {
	p := pool[g.rng.Intn(len(pool))]
	return &models.Location{
		City:      p.city,
		Country:   p.country,
		Latitude:  p.lat,
		Longitude: p.lon,
	}
}

func newProducer(brokers []string) (sarama.SyncProducer, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Retry.Max = 3
	config.Producer.Return.Successes = true
	config.Producer.Partitioner = sarama.NewHashPartitioner
	config.Version = sarama.V3_0_0_0
	return sarama.NewSyncProducer(brokers, config)
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

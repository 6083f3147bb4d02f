package configs

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

type Config struct {
	Environment string
	Kafka       KafkaConfig
	Dashboard   DashboardConfig
	Detector    DetectorConfig
}

type KafkaConfig struct {
	BootstrapServers []string
	InputTopic       string
	OutputTopic      string
	AlertsTopic      string
	GroupID          string
	NumThreads       int
	CommitInterval   time.Duration
	StateDir         string
}

type DashboardConfig struct {
	Port int
}

type DetectorConfig struct {
	// Variant selects the scoring engine: "ensemble" or "statistical".
	Variant string
}

func Load() *Config {
	return &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Kafka: KafkaConfig{
			BootstrapServers: splitHosts(getEnv("KAFKA_BOOTSTRAP_SERVERS", "localhost:9092")),
			InputTopic:       getEnv("KAFKA_INPUT_TOPIC", "transactions"),
			OutputTopic:      getEnv("KAFKA_OUTPUT_TOPIC", "anomalies"),
			AlertsTopic:      getEnv("KAFKA_ALERTS_TOPIC", "alerts"),
			GroupID:          getEnv("KAFKA_GROUP_ID", "slipstream-anomaly-detector"),
			NumThreads:       getIntEnv("KAFKA_NUM_THREADS", 1),
			CommitInterval:   time.Duration(getIntEnv("KAFKA_COMMIT_INTERVAL_MS", 30000)) * time.Millisecond,
			StateDir:         getEnv("KAFKA_STATE_DIR", filepath.Join(os.TempDir(), "slipstream")),
		},
		Dashboard: DashboardConfig{
			Port: getIntEnv("DASHBOARD_PORT", 8080),
		},
		Detector: DetectorConfig{
			Variant: getEnv("DETECTOR_VARIANT", "ensemble"),
		},
	}
}

func splitHosts(value string) []string {
	parts := strings.Split(value, ",")
	hosts := make([]string, 0, len(parts))
	for _, part := range parts {
		if host := strings.TrimSpace(part); host != "" {
			hosts = append(hosts, host)
		}
	}
	return hosts
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		log.Warn().
			Str("key", key).
			Str("value", value).
			Msg("Invalid integer in environment, using default")
		return defaultValue
	}
	return intValue
}

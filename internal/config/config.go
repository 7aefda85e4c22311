package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// DefaultDatasetURL is the City of Irving commercial permits export.
const DefaultDatasetURL = "https://raw.githubusercontent.com/cheranratnam87/IrvingPermitsDataSet/refs/heads/main/Commercial_Permits_Issued%253A_Feb_15_2022_Through_Present.csv"

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Dataset source and refresh schedule.
	DatasetURL             string
	DatasetRefreshInterval time.Duration
	DatasetFetchTimeout    time.Duration
	DatasetCity            string
	DatasetState           string

	// ArchivePath is the SQLite file holding the last good snapshot.
	// Empty disables archiving.
	ArchivePath string

	KafkaEnabled   bool
	KafkaBrokers   []string
	KafkaSinkTopic string

	// Estimate defaults applied by the API and CLI.
	EstimateDefaultK   int
	EstimateMaxK       int
	EstimateSampleSeed uint64

	APIRateLimit       float64
	APIRateBurst       int
	CORSAllowedOrigins []string

	// Mapbox geocoding configuration.
	MapboxToken     string
	MapboxEnabled   bool
	MapboxTimeout   time.Duration
	MapboxCacheSize int
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	refreshInterval, err := parseDuration("DATASET_REFRESH_INTERVAL", "24h")
	if err != nil {
		return nil, err
	}
	fetchTimeout, err := parseDuration("DATASET_FETCH_TIMEOUT", "30s")
	if err != nil {
		return nil, err
	}
	mapboxTimeout, err := parseDuration("MAPBOX_TIMEOUT", "5s")
	if err != nil {
		return nil, err
	}

	defaultK, err := parsePositiveInt("ESTIMATE_DEFAULT_K", 5)
	if err != nil {
		return nil, err
	}
	maxK, err := parsePositiveInt("ESTIMATE_MAX_K", 100)
	if err != nil {
		return nil, err
	}
	seed, err := strconv.ParseUint(sharedcfg.EnvOrDefault("ESTIMATE_SAMPLE_SEED", "0"), 10, 64)
	if err != nil {
		return nil, errors.New("invalid ESTIMATE_SAMPLE_SEED")
	}

	rateLimit, err := strconv.ParseFloat(sharedcfg.EnvOrDefault("API_RATE_LIMIT", "20"), 64)
	if err != nil || rateLimit <= 0 {
		return nil, errors.New("invalid API_RATE_LIMIT")
	}
	rateBurst, err := parsePositiveInt("API_RATE_BURST", 40)
	if err != nil {
		return nil, err
	}

	kafkaEnabled, err := parseBool("KAFKA_ENABLED", false)
	if err != nil {
		return nil, err
	}

	mapboxToken := os.Getenv("MAPBOX_TOKEN")
	mapboxEnabled := mapboxToken != ""
	if v := os.Getenv("MAPBOX_ENABLED"); v != "" {
		mapboxEnabled = v == "true"
	}

	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		DatasetURL:             sharedcfg.EnvOrDefault("DATASET_URL", DefaultDatasetURL),
		DatasetRefreshInterval: refreshInterval,
		DatasetFetchTimeout:    fetchTimeout,
		DatasetCity:            sharedcfg.EnvOrDefault("DATASET_CITY", "Irving"),
		DatasetState:           sharedcfg.EnvOrDefault("DATASET_STATE", "TX"),
		ArchivePath:            os.Getenv("ARCHIVE_PATH"),

		KafkaEnabled:   kafkaEnabled,
		KafkaBrokers:   sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaSinkTopic: sharedcfg.EnvOrDefault("KAFKA_SINK_TOPIC", "cleaned-permits"),

		EstimateDefaultK:   defaultK,
		EstimateMaxK:       maxK,
		EstimateSampleSeed: seed,

		APIRateLimit:       rateLimit,
		APIRateBurst:       rateBurst,
		CORSAllowedOrigins: parseList(sharedcfg.EnvOrDefault("CORS_ALLOWED_ORIGINS", "*")),

		MapboxToken:     mapboxToken,
		MapboxEnabled:   mapboxEnabled,
		MapboxTimeout:   mapboxTimeout,
		MapboxCacheSize: parseMapboxCacheSize(),
	}

	if cfg.DatasetURL == "" {
		return nil, errors.New("DATASET_URL is required")
	}
	if cfg.EstimateDefaultK > cfg.EstimateMaxK {
		return nil, fmt.Errorf("ESTIMATE_DEFAULT_K (%d) exceeds ESTIMATE_MAX_K (%d)", cfg.EstimateDefaultK, cfg.EstimateMaxK)
	}
	if cfg.KafkaEnabled {
		if len(cfg.KafkaBrokers) == 0 {
			return nil, errors.New("KAFKA_BROKERS is required when KAFKA_ENABLED is true")
		}
		if cfg.KafkaSinkTopic == "" {
			return nil, errors.New("KAFKA_SINK_TOPIC is required when KAFKA_ENABLED is true")
		}
	}
	if cfg.MapboxEnabled && cfg.MapboxToken == "" {
		return nil, errors.New("MAPBOX_ENABLED is true but MAPBOX_TOKEN is not set")
	}

	return cfg, nil
}

func parseDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parsePositiveInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: must be a positive integer", key)
	}
	return n, nil
}

func parseBool(key string, def bool) (bool, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid %s", key)
	}
	return b, nil
}

// parseList splits a comma-separated value, dropping blanks.
func parseList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseMapboxCacheSize() int {
	if s := os.Getenv("MAPBOX_CACHE_SIZE"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return 1000
}

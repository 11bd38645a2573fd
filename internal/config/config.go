package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ClientConfig captures all tunable parameters for one actor process.
// Values are primarily loaded from environment variables with sane
// defaults so the binary can run locally without excessive setup.
type ClientConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	ActorID   string
	ActorRole string

	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string

	KafkaBrokers  []string
	TripTopic     string
	MessageTopic  string
	LocationTopic string

	PGDSN        string
	SnapshotPath string

	OSRMEndpoint    string
	GeocodeEndpoint string

	RecencyWindow   time.Duration
	RequestTimeout  time.Duration
	DefaultSpeedKmh float64
	Currency        string

	LogLevel      string
	RunMigrations bool
}

func defaultClientConfig() ClientConfig {
	return ClientConfig{
		HTTPAddr:        ":8080",
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		ActorRole:       "requester",
		RedisGeoKey:     "drivers_geo",
		TripTopic:       "trip-changes",
		MessageTopic:    "message-changes",
		LocationTopic:   "driver-locations",
		SnapshotPath:    "trip-sync.db",
		RecencyWindow:   20 * time.Minute,
		RequestTimeout:  20 * time.Minute,
		DefaultSpeedKmh: 28.8,
		Currency:        "usd",
		LogLevel:        "info",
	}
}

func LoadClientConfig() (ClientConfig, error) {
	cfg := defaultClientConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	setStringFromEnv(&cfg.ActorID, "ACTOR_ID")
	if v := strings.TrimSpace(os.Getenv("ACTOR_ROLE")); v != "" {
		cfg.ActorRole = strings.ToLower(v)
	}

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.TripTopic, "KAFKA_TRIP_TOPIC")
	setStringFromEnv(&cfg.MessageTopic, "KAFKA_MESSAGE_TOPIC")
	setStringFromEnv(&cfg.LocationTopic, "KAFKA_LOCATION_TOPIC")

	cfg.PGDSN = os.Getenv("PG_DSN")
	setStringFromEnv(&cfg.SnapshotPath, "SNAPSHOT_PATH")

	cfg.OSRMEndpoint = strings.TrimSpace(os.Getenv("OSRM_ENDPOINT"))
	cfg.GeocodeEndpoint = strings.TrimSpace(os.Getenv("GEOCODE_ENDPOINT"))

	setDurationFromEnv(&cfg.RecencyWindow, "FEED_RECENCY_WINDOW", &errs)
	setDurationFromEnv(&cfg.RequestTimeout, "REQUEST_TIMEOUT", &errs)
	setFloatFromEnv(&cfg.DefaultSpeedKmh, "DEFAULT_SPEED_KMH", &errs)
	setStringFromEnv(&cfg.Currency, "CURRENCY")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	if cfg.ActorID == "" {
		errs = append(errs, fmt.Errorf("ACTOR_ID must be set"))
	}
	if cfg.ActorRole != "requester" && cfg.ActorRole != "fulfiller" {
		errs = append(errs, fmt.Errorf("ACTOR_ROLE must be requester or fulfiller"))
	}
	if cfg.RecencyWindow <= 0 {
		errs = append(errs, fmt.Errorf("FEED_RECENCY_WINDOW must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}

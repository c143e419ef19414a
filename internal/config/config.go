package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig captures all tunable parameters for the HTTP API process.
// Defaults come first, then the optional YAML file named by CONFIG_FILE, then
// environment variables, so the binary runs locally without any setup.
type ServerConfig struct {
	HTTPAddr        string        `yaml:"http_addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	RedisAddr      string `yaml:"redis_addr"`
	RedisPassword  string `yaml:"redis_password"`
	RedisGeoKey    string `yaml:"redis_geo_key"`
	BroadcastRelay bool   `yaml:"broadcast_relay"`

	KafkaBrokers []string `yaml:"kafka_brokers"`
	KafkaTopic   string   `yaml:"kafka_topic"`

	PGDSN         string `yaml:"pg_dsn"`
	RunMigrations bool   `yaml:"migrate"`

	JWTSecret string        `yaml:"jwt_secret"`
	JWTIssuer string        `yaml:"jwt_issuer"`
	JWTTTL    time.Duration `yaml:"jwt_ttl"`

	AIServiceURL    string        `yaml:"ai_service_url"`
	AITimeout       time.Duration `yaml:"ai_timeout"`
	RatingWorkers   int           `yaml:"rating_workers"`
	RatingQueueSize int           `yaml:"rating_queue_size"`

	PricePerKm  float64 `yaml:"price_per_km"`
	AvgSpeedKmh float64 `yaml:"avg_speed_kmh"`

	LogLevel string `yaml:"log_level"`
}

// ConsumerConfig configures the Kafka -> Redis live map projector.
type ConsumerConfig struct {
	KafkaBrokers  []string `yaml:"kafka_brokers"`
	KafkaTopic    string   `yaml:"kafka_topic"`
	KafkaGroup    string   `yaml:"kafka_group"`
	RedisAddr     string   `yaml:"redis_addr"`
	RedisPassword string   `yaml:"redis_password"`
	RedisGeoKey   string   `yaml:"redis_geo_key"`
	MetricsAddr   string   `yaml:"metrics_addr"`
	LogLevel      string   `yaml:"log_level"`
}

const devSecret = "dev-secret-change-me"

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:        ":8080",
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RedisGeoKey:     "shipments_geo",
		KafkaTopic:      "shipment-events",
		JWTSecret:       devSecret,
		JWTIssuer:       "agro-freight",
		JWTTTL:          24 * time.Hour,
		AIServiceURL:    "http://localhost:8000",
		AITimeout:       5 * time.Second,
		RatingWorkers:   2,
		RatingQueueSize: 128,
		PricePerKm:      100,
		AvgSpeedKmh:     60,
		LogLevel:        "info",
	}
}

func defaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		KafkaBrokers: []string{"localhost:9092"},
		KafkaTopic:   "shipment-events",
		KafkaGroup:   "agro-freight-live-map",
		RedisAddr:    "localhost:6379",
		RedisGeoKey:  "shipments_geo",
		MetricsAddr:  ":2112",
		LogLevel:     "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	if err := loadFile(os.Getenv("CONFIG_FILE"), &cfg); err != nil {
		return cfg, err
	}
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	setStringFromEnv(&cfg.RedisAddr, "REDIS_ADDR")
	setRawFromEnv(&cfg.RedisPassword, "REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")
	setBoolFromEnv(&cfg.BroadcastRelay, "BROADCAST_RELAY", &errs)

	setListFromEnv(&cfg.KafkaBrokers, "KAFKA_BROKERS")
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	setRawFromEnv(&cfg.PGDSN, "PG_DSN")
	setBoolFromEnv(&cfg.RunMigrations, "MIGRATE", &errs)

	setRawFromEnv(&cfg.JWTSecret, "JWT_SECRET")
	setStringFromEnv(&cfg.JWTIssuer, "JWT_ISSUER")
	setDurationFromEnv(&cfg.JWTTTL, "JWT_TTL", &errs)

	setStringFromEnv(&cfg.AIServiceURL, "AI_SERVICE_URL")
	setDurationFromEnv(&cfg.AITimeout, "AI_TIMEOUT", &errs)
	setIntFromEnv(&cfg.RatingWorkers, "RATING_WORKERS", &errs)
	setIntFromEnv(&cfg.RatingQueueSize, "RATING_QUEUE_SIZE", &errs)

	setFloatFromEnv(&cfg.PricePerKm, "PRICE_PER_KM", &errs)
	setFloatFromEnv(&cfg.AvgSpeedKmh, "AVG_SPEED_KMH", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if cfg.JWTSecret == "" {
		errs = append(errs, fmt.Errorf("JWT_SECRET must not be empty"))
	}
	if cfg.JWTTTL <= 0 {
		errs = append(errs, fmt.Errorf("JWT_TTL must be > 0"))
	}
	if cfg.RatingWorkers <= 0 {
		errs = append(errs, fmt.Errorf("RATING_WORKERS must be > 0"))
	}
	if cfg.RatingQueueSize <= 0 {
		errs = append(errs, fmt.Errorf("RATING_QUEUE_SIZE must be > 0"))
	}
	if cfg.PricePerKm <= 0 {
		errs = append(errs, fmt.Errorf("PRICE_PER_KM must be > 0"))
	}
	if cfg.BroadcastRelay && cfg.RedisAddr == "" {
		errs = append(errs, fmt.Errorf("BROADCAST_RELAY needs REDIS_ADDR"))
	}

	return cfg, errors.Join(errs...)
}

// DevSecret reports whether the server still signs with the built-in secret.
func (c ServerConfig) DevSecret() bool { return c.JWTSecret == devSecret }

func LoadConsumerConfig() (ConsumerConfig, error) {
	cfg := defaultConsumerConfig()
	if err := loadFile(os.Getenv("CONFIG_FILE"), &cfg); err != nil {
		return cfg, err
	}
	setListFromEnv(&cfg.KafkaBrokers, "KAFKA_BROKERS")
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")
	setStringFromEnv(&cfg.KafkaGroup, "KAFKA_GROUP")
	setStringFromEnv(&cfg.RedisAddr, "REDIS_ADDR")
	setRawFromEnv(&cfg.RedisPassword, "REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")
	setStringFromEnv(&cfg.MetricsAddr, "METRICS_ADDR")
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	if len(cfg.KafkaBrokers) == 0 {
		return cfg, fmt.Errorf("KAFKA_BROKERS must list at least one broker")
	}
	return cfg, nil
}

// loadFile overlays a YAML file onto cfg. An empty path or a missing file leaves
// the defaults in place.
func loadFile(path string, cfg any) error {
	if path == "" {
		return nil
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
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

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setBoolFromEnv(target *bool, key string, errs *[]error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = b
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

// setRawFromEnv is for secrets and DSNs, which are taken verbatim.
func setRawFromEnv(target *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*target = v
	}
}

func setListFromEnv(target *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		*target = splitAndTrim(v)
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

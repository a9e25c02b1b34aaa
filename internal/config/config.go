package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Notification strategies accepted by NOTIFY_STRATEGY.
const (
	StrategyNone  = "none"
	StrategyEmail = "email"
	StrategyTopic = "topic"
)

// Topic backends accepted by TOPIC_BACKEND.
const (
	TopicBackendRedis = "redis"
	TopicBackendKafka = "kafka"
	TopicBackendAMQP  = "amqp"
)

// Non-strict fallbacks mirror a local S3 emulator setup.
const (
	fallbackBucket   = "pdf-bucket"
	fallbackEndpoint = "localhost:4566"
)

// Scope selects which settings a process validates. The notify strategy
// name is always checked because intake and worker must agree on it.
type Scope uint

const (
	// ScopeQueue covers the Redis connection and the queue name.
	ScopeQueue Scope = 1 << iota
	// ScopeIntake covers the HTTP listener.
	ScopeIntake
	// ScopeStorage covers the object store.
	ScopeStorage
	// ScopeNotify covers the settings of the selected strategy.
	ScopeNotify
	// ScopeWorker covers consumer concurrency, grouping and the metrics listener.
	ScopeWorker
	// ScopeLedger covers the delivery ledger when DATABASE_ENABLED is set.
	ScopeLedger

	// ScopeAll validates everything.
	ScopeAll = ScopeQueue | ScopeIntake | ScopeStorage | ScopeNotify | ScopeWorker | ScopeLedger
	// ScopeAPI is what cmd/api needs: it never touches storage or notifiers.
	ScopeAPI = ScopeQueue | ScopeIntake | ScopeLedger
	// ScopeWorkerProcess is what cmd/worker needs.
	ScopeWorkerProcess = ScopeQueue | ScopeStorage | ScopeNotify | ScopeWorker | ScopeLedger
)

// Config aggregates application settings sourced from environment variables.
// It is built once at startup and treated as read-only afterwards.
type Config struct {
	Strict   bool           `mapstructure:"strict"`
	API      APIConfig      `mapstructure:"api"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Database DatabaseConfig `mapstructure:"database"`
}

// APIConfig contains HTTP intake settings.
type APIConfig struct {
	Port int `mapstructure:"port"`
	// Token guards the intake endpoint when set.
	Token string `mapstructure:"token"`
	// RateLimit caps accepted requests per client IP per hour. Zero disables it.
	RateLimit int `mapstructure:"rate_limit"`
}

// MetricsConfig contains the worker's Prometheus listener settings.
type MetricsConfig struct {
	Port int `mapstructure:"port"`
}

// RedisConfig 包含 Redis 连接配置。
type RedisConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Addr returns host:port for go-redis and asynq.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// StorageConfig contains connection options for S3-compatible storage.
type StorageConfig struct {
	Endpoint         string        `mapstructure:"endpoint"`
	PublicEndpoint   string        `mapstructure:"public_endpoint"`
	Region           string        `mapstructure:"region"`
	AccessKeyID      string        `mapstructure:"access_key_id"`
	SecretAccessKey  string        `mapstructure:"secret_access_key"`
	UseSSL           bool          `mapstructure:"use_ssl"`
	Bucket           string        `mapstructure:"bucket"`
	BucketLookup     string        `mapstructure:"bucket_lookup"`
	AutoCreateBucket bool          `mapstructure:"auto_create_bucket"`
	KeyPrefix        string        `mapstructure:"key_prefix"`
	PresignTTL       time.Duration `mapstructure:"presign_ttl"`
}

// NotifyConfig selects and configures the notification strategy.
type NotifyConfig struct {
	Strategy string      `mapstructure:"strategy"`
	SMTP     SMTPConfig  `mapstructure:"smtp"`
	Topic    TopicConfig `mapstructure:"topic"`
}

// SMTPConfig holds the transactional mail relay settings.
type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

// TopicConfig holds the fan-out topic settings.
type TopicConfig struct {
	Backend      string   `mapstructure:"backend"`
	Name         string   `mapstructure:"name"`
	KafkaBrokers []string `mapstructure:"kafka_brokers"`
	AMQPURL      string   `mapstructure:"amqp_url"`
}

// WorkerConfig contains queue consumer settings.
type WorkerConfig struct {
	Queue            string        `mapstructure:"queue"`
	Concurrency      int           `mapstructure:"concurrency"`
	BatchConcurrency int           `mapstructure:"batch_concurrency"`
	GroupMaxSize     int           `mapstructure:"group_max_size"`
	GroupMaxDelay    time.Duration `mapstructure:"group_max_delay"`
}

// DatabaseConfig contains connection options for the PostgreSQL delivery ledger.
type DatabaseConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"sslmode"`
}

// DSN builds a PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host,
		d.Port,
		d.User,
		d.Password,
		d.Name,
		d.SSLMode,
	)
}

// Load reads configuration solely from environment variables (with optional
// defaults) and validates all of it.
func Load() (*Config, error) {
	return LoadFor(ScopeAll)
}

// LoadFor is Load restricted to the settings in scope.
func LoadFor(scope Scope) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if err := bindEnv(v); err != nil {
		return nil, fmt.Errorf("bind env: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	normalize(&cfg)

	if err := validate(cfg, scope); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// MustLoad wraps LoadFor and panics on failure.
func MustLoad(scope Scope) *Config {
	cfg, err := LoadFor(scope)
	if err != nil {
		panic(err)
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("strict", true)
	v.SetDefault("api.port", 8080)
	v.SetDefault("metrics.port", 9102)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.use_ssl", false)
	v.SetDefault("storage.bucket_lookup", "path")
	v.SetDefault("storage.auto_create_bucket", false)
	v.SetDefault("storage.key_prefix", "pdfs")
	v.SetDefault("storage.presign_ttl", time.Hour)
	v.SetDefault("notify.strategy", StrategyNone)
	v.SetDefault("notify.smtp.port", 587)
	v.SetDefault("notify.topic.backend", TopicBackendRedis)
	v.SetDefault("worker.queue", "default")
	v.SetDefault("worker.concurrency", 10)
	v.SetDefault("worker.batch_concurrency", 1)
	v.SetDefault("worker.group_max_size", 10)
	v.SetDefault("worker.group_max_delay", 5*time.Second)
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "pdfdispatch")
	v.SetDefault("database.user", "pdfdispatch")
	v.SetDefault("database.sslmode", "disable")
}

func bindEnv(v *viper.Viper) error {
	mappings := map[string]string{
		"strict":                     "CONFIG_STRICT",
		"api.port":                   "API_PORT",
		"api.token":                  "API_TOKEN",
		"api.rate_limit":             "API_RATE_LIMIT",
		"metrics.port":               "METRICS_PORT",
		"redis.host":                 "REDIS_HOST",
		"redis.port":                 "REDIS_PORT",
		"storage.endpoint":           "STORAGE_ENDPOINT",
		"storage.public_endpoint":    "STORAGE_PUBLIC_ENDPOINT",
		"storage.region":             "STORAGE_REGION",
		"storage.access_key_id":      "STORAGE_ACCESS_KEY_ID",
		"storage.secret_access_key":  "STORAGE_SECRET_ACCESS_KEY",
		"storage.use_ssl":            "STORAGE_USE_SSL",
		"storage.bucket":             "STORAGE_BUCKET",
		"storage.bucket_lookup":      "STORAGE_BUCKET_LOOKUP",
		"storage.auto_create_bucket": "STORAGE_AUTO_CREATE_BUCKET",
		"storage.key_prefix":         "STORAGE_KEY_PREFIX",
		"storage.presign_ttl":        "PRESIGN_TTL",
		"notify.strategy":            "NOTIFY_STRATEGY",
		"notify.smtp.host":           "SMTP_HOST",
		"notify.smtp.port":           "SMTP_PORT",
		"notify.smtp.user":           "SMTP_USER",
		"notify.smtp.password":       "SMTP_PASSWORD",
		"notify.smtp.from":           "SMTP_FROM",
		"notify.topic.backend":       "TOPIC_BACKEND",
		"notify.topic.name":          "TOPIC_NAME",
		"notify.topic.kafka_brokers": "KAFKA_BROKERS",
		"notify.topic.amqp_url":      "AMQP_URL",
		"worker.queue":               "WORKER_QUEUE",
		"worker.concurrency":         "WORKER_CONCURRENCY",
		"worker.batch_concurrency":   "WORKER_BATCH_CONCURRENCY",
		"worker.group_max_size":      "WORKER_GROUP_MAX_SIZE",
		"worker.group_max_delay":     "WORKER_GROUP_MAX_DELAY",
		"database.enabled":           "DATABASE_ENABLED",
		"database.host":              "DATABASE_HOST",
		"database.port":              "DATABASE_PORT",
		"database.name":              "POSTGRES_DB",
		"database.user":              "POSTGRES_USER",
		"database.password":          "POSTGRES_PASSWORD",
		"database.sslmode":           "DATABASE_SSLMODE",
	}

	for key, env := range mappings {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("bind %s to %s: %w", key, env, err)
		}
	}

	return nil
}

func normalize(cfg *Config) {
	cfg.Storage.Bucket = strings.TrimSpace(cfg.Storage.Bucket)
	cfg.Storage.Endpoint = strings.TrimSpace(cfg.Storage.Endpoint)
	if !cfg.Strict {
		if cfg.Storage.Bucket == "" {
			cfg.Storage.Bucket = fallbackBucket
		}
		if cfg.Storage.Endpoint == "" {
			cfg.Storage.Endpoint = fallbackEndpoint
		}
	}
	if strings.TrimSpace(cfg.Storage.PublicEndpoint) == "" && cfg.Storage.Endpoint != "" {
		scheme := "http"
		if cfg.Storage.UseSSL {
			scheme = "https"
		}
		cfg.Storage.PublicEndpoint = scheme + "://" + cfg.Storage.Endpoint
	}
	cfg.Storage.KeyPrefix = strings.Trim(strings.TrimSpace(cfg.Storage.KeyPrefix), "/")

	cfg.Worker.Queue = strings.TrimSpace(cfg.Worker.Queue)
	if cfg.Worker.Queue == "" {
		cfg.Worker.Queue = "default"
	}

	cfg.Notify.Strategy = strings.ToLower(strings.TrimSpace(cfg.Notify.Strategy))
	cfg.Notify.Topic.Backend = strings.ToLower(strings.TrimSpace(cfg.Notify.Topic.Backend))

	// KAFKA_BROKERS arrives as a single comma separated string.
	brokers := make([]string, 0, len(cfg.Notify.Topic.KafkaBrokers))
	for _, entry := range cfg.Notify.Topic.KafkaBrokers {
		for _, b := range strings.Split(entry, ",") {
			if b = strings.TrimSpace(b); b != "" {
				brokers = append(brokers, b)
			}
		}
	}
	cfg.Notify.Topic.KafkaBrokers = brokers
}

func validate(cfg Config, scope Scope) error {
	if !knownStrategy(cfg.Notify.Strategy) {
		return fmt.Errorf("unsupported notify strategy %q", cfg.Notify.Strategy)
	}
	if scope&ScopeQueue != 0 {
		if cfg.Redis.Host == "" {
			return errors.New("redis host is required")
		}
		if cfg.Redis.Port <= 0 {
			return errors.New("redis port must be positive")
		}
	}
	if scope&ScopeIntake != 0 {
		if cfg.API.Port <= 0 {
			return errors.New("api port must be positive")
		}
		if cfg.API.RateLimit < 0 {
			return errors.New("api rate limit must not be negative")
		}
	}
	if scope&ScopeStorage != 0 {
		if err := validateStorage(cfg.Storage); err != nil {
			return err
		}
	}
	if scope&ScopeNotify != 0 {
		if err := validateNotify(cfg.Notify); err != nil {
			return err
		}
	}
	if scope&ScopeWorker != 0 {
		if cfg.Metrics.Port <= 0 {
			return errors.New("metrics port must be positive")
		}
		if cfg.Worker.Concurrency <= 0 {
			return errors.New("worker concurrency must be positive")
		}
		if cfg.Worker.BatchConcurrency <= 0 {
			return errors.New("worker batch concurrency must be positive")
		}
		if cfg.Worker.GroupMaxSize <= 0 {
			return errors.New("worker group max size must be positive")
		}
	}
	if scope&ScopeLedger != 0 && cfg.Database.Enabled {
		if err := validateDatabase(cfg.Database); err != nil {
			return err
		}
	}
	return nil
}

func knownStrategy(s string) bool {
	switch s {
	case StrategyNone, StrategyEmail, StrategyTopic:
		return true
	}
	return false
}

func validateDatabase(d DatabaseConfig) error {
	if d.Host == "" {
		return errors.New("database host is required")
	}
	if d.Port <= 0 {
		return errors.New("database port must be positive")
	}
	if d.Name == "" {
		return errors.New("database name is required")
	}
	if d.User == "" {
		return errors.New("database user is required")
	}
	if d.Password == "" {
		return errors.New("database password is required")
	}
	return nil
}

func validateStorage(s StorageConfig) error {
	if s.Endpoint == "" {
		return errors.New("storage endpoint is required")
	}
	if s.Bucket == "" {
		return errors.New("storage bucket is required")
	}
	if s.AccessKeyID == "" {
		return errors.New("storage access key id is required")
	}
	if s.SecretAccessKey == "" {
		return errors.New("storage secret access key is required")
	}
	if s.KeyPrefix == "" {
		return errors.New("storage key prefix is required")
	}
	if s.PresignTTL <= 0 {
		return errors.New("presign ttl must be positive")
	}
	// SigV4 presigned URLs cannot outlive seven days.
	if s.PresignTTL > 7*24*time.Hour {
		return errors.New("presign ttl must not exceed 7 days")
	}
	return nil
}

func validateNotify(n NotifyConfig) error {
	switch n.Strategy {
	case StrategyNone:
		return nil
	case StrategyEmail:
		if strings.TrimSpace(n.SMTP.Host) == "" {
			return errors.New("smtp host is required for email strategy")
		}
		if n.SMTP.Port <= 0 || n.SMTP.Port > 65535 {
			return fmt.Errorf("invalid smtp port %d", n.SMTP.Port)
		}
		if strings.TrimSpace(n.SMTP.From) == "" {
			return errors.New("smtp from address is required for email strategy")
		}
		return nil
	case StrategyTopic:
		if strings.TrimSpace(n.Topic.Name) == "" {
			return errors.New("topic name is required for topic strategy")
		}
		switch n.Topic.Backend {
		case TopicBackendRedis:
		case TopicBackendKafka:
			if len(n.Topic.KafkaBrokers) == 0 {
				return errors.New("kafka brokers are required for kafka topic backend")
			}
		case TopicBackendAMQP:
			if strings.TrimSpace(n.Topic.AMQPURL) == "" {
				return errors.New("amqp url is required for amqp topic backend")
			}
		default:
			return fmt.Errorf("unsupported topic backend %q", n.Topic.Backend)
		}
		return nil
	default:
		return fmt.Errorf("unsupported notify strategy %q", n.Strategy)
	}
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds all configuration for the application, loaded from the
// environment (with an optional .env file).
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Meta      MetaConfig
	Queue     QueueConfig
	Events    EventsConfig
	Redis     RedisConfig
	AI        AIConfig
	Refresher RefresherConfig
	Archive   ArchiveConfig
}

type ServerConfig struct {
	Address     string
	WebhookPath string
}

type DatabaseConfig struct {
	URL string
}

// MetaConfig carries the platform-level provider settings. VerifyToken and
// AppSecret gate the webhook endpoint; AppID/AppSecret drive the token
// refresh exchange; EncryptionKey protects access tokens at rest.
type MetaConfig struct {
	VerifyToken   string
	AppSecret     string
	AppID         string
	APIVersion    string
	GraphBaseURL  string
	EncryptionKey string
}

type QueueConfig struct {
	Workers        int
	MaxAttempts    int
	BackoffBase    time.Duration
	PollInterval   time.Duration
	AttemptTimeout time.Duration
}

type EventsConfig struct {
	AMQPURL     string
	QueuePrefix string
}

type RedisConfig struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
	TTL      time.Duration
}

type AIConfig struct {
	ServiceURL  string
	Concurrency int
}

type RefresherConfig struct {
	Interval     time.Duration
	ExpiryWindow time.Duration
}

type ArchiveConfig struct {
	Enabled   bool
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	PathStyle bool
}

// Load reads configuration from the environment. A missing verification
// token or app secret is a fatal misconfiguration: the webhook deployment
// cannot operate without them.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("No .env file found, relying on environment variables")
	}

	cfg := &Config{
		Server: ServerConfig{
			Address:     getEnv("SERVER_ADDRESS", ":8080"),
			WebhookPath: getEnv("WEBHOOK_PATH", "/webhooks/whatsapp"),
		},
		Database: DatabaseConfig{
			URL: mustEnv("DATABASE_URL"),
		},
		Meta: MetaConfig{
			VerifyToken:   mustEnv("META_WEBHOOK_VERIFY_TOKEN"),
			AppSecret:     mustEnv("META_APP_SECRET"),
			AppID:         os.Getenv("META_APP_ID"),
			APIVersion:    getEnv("META_API_VERSION", "v21.0"),
			GraphBaseURL:  getEnv("META_GRAPH_BASE_URL", "https://graph.facebook.com"),
			EncryptionKey: mustEnv("TOKEN_ENCRYPTION_KEY"),
		},
		Queue: QueueConfig{
			Workers:        getEnvInt("QUEUE_WORKERS", 8),
			MaxAttempts:    getEnvInt("QUEUE_MAX_ATTEMPTS", 3),
			BackoffBase:    getEnvDuration("QUEUE_BACKOFF_BASE", 2*time.Second),
			PollInterval:   getEnvDuration("QUEUE_POLL_INTERVAL", 500*time.Millisecond),
			AttemptTimeout: getEnvDuration("QUEUE_ATTEMPT_TIMEOUT", 30*time.Second),
		},
		Events: EventsConfig{
			AMQPURL:     os.Getenv("AMQP_URL"),
			QueuePrefix: getEnv("AMQP_QUEUE_PREFIX", "wapipe"),
		},
		Redis: loadRedisConfig(),
		AI: AIConfig{
			ServiceURL:  os.Getenv("AI_SERVICE_URL"),
			Concurrency: getEnvInt("AI_CONCURRENCY", 4),
		},
		Refresher: RefresherConfig{
			Interval:     getEnvDuration("TOKEN_REFRESH_INTERVAL", 24*time.Hour),
			ExpiryWindow: getEnvDuration("TOKEN_EXPIRY_WINDOW", 240*time.Hour),
		},
		Archive: loadArchiveConfig(),
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadRedisConfig() RedisConfig {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return RedisConfig{Enabled: false}
	}

	return RedisConfig{
		Enabled:  true,
		Address:  addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       getEnvInt("REDIS_DB", 0),
		TTL:      getEnvDuration("REDIS_TTL", time.Hour),
	}
}

func loadArchiveConfig() ArchiveConfig {
	bucket := os.Getenv("S3_BUCKET")
	if bucket == "" {
		return ArchiveConfig{Enabled: false}
	}

	return ArchiveConfig{
		Enabled:   true,
		Endpoint:  os.Getenv("S3_ENDPOINT"),
		Region:    getEnv("S3_REGION", "us-east-1"),
		Bucket:    bucket,
		AccessKey: os.Getenv("S3_ACCESS_KEY"),
		SecretKey: os.Getenv("S3_SECRET_KEY"),
		PathStyle: getEnv("S3_PATH_STYLE", "false") == "true",
	}
}

func validate(cfg *Config) error {
	if cfg.Queue.Workers <= 0 {
		return fmt.Errorf("QUEUE_WORKERS must be > 0")
	}
	if cfg.Queue.MaxAttempts <= 0 {
		return fmt.Errorf("QUEUE_MAX_ATTEMPTS must be > 0")
	}
	if cfg.Queue.BackoffBase <= 0 {
		return fmt.Errorf("QUEUE_BACKOFF_BASE must be > 0")
	}
	if cfg.AI.Concurrency <= 0 {
		return fmt.Errorf("AI_CONCURRENCY must be > 0")
	}
	return nil
}

func mustEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		log.Fatal().Str("key", key).Msg("Missing required environment variable")
	}
	return val
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		log.Fatal().Str("key", key).Str("value", v).Msg("Invalid integer environment variable")
	}
	return i
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Fatal().Str("key", key).Str("value", v).Msg("Invalid duration environment variable")
	}
	return d
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds all configuration fields for the application.
type Config struct {
	Port      string
	LogLevel  string
	LogFormat string

	DBDriver     string // sqlite, postgres or memory
	DatabaseURL  string
	SessionDSN   string // whatsmeow device store
	SessionStore string // sqlite or postgres

	MaxActive        int
	EventTTL         time.Duration
	MessageTTL       time.Duration
	DebounceTTL      time.Duration
	DuplicateWindow  time.Duration
	DuplicateHistory int
	SendDelay        time.Duration
	ActiveLimit      int
	CompletedLimit   int

	VideoBaseURL   string
	SupportContact string

	GlobalWebhook       string
	RabbitURL           string
	RabbitQueue         string
	RabbitQueuePrefix   string
	RabbitSpecificEvent []string

	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3PathStyle bool
	S3Prefix    string
}

// LoadConfig loads configuration from environment variables.
// It attempts to load a .env file if present.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Info().Err(err).Msg("No .env file found, relying on environment variables")
	}

	cfg := &Config{
		Port:      getEnv("PORT", "8080"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "console"),

		DBDriver:     strings.ToLower(getEnv("DB_DRIVER", "sqlite")),
		DatabaseURL:  getEnv("DATABASE_URL", "file:dbdata/atendimento.db?_pragma=busy_timeout(5000)&_time_format=sqlite"),
		SessionStore: strings.ToLower(getEnv("WA_SESSION_STORE", "sqlite")),
		SessionDSN:   getEnv("WA_SESSION_DSN", "file:dbdata/session.db?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"),

		VideoBaseURL:   getEnv("VIDEO_BASE_URL", "https://videos.suporte.escola.local"),
		SupportContact: getEnv("SUPPORT_CONTACT", "Secretaria de Educação - (00) 0000-0000 - suporte@educacao.local"),

		GlobalWebhook:     os.Getenv("GLOBAL_WEBHOOK"),
		RabbitURL:         os.Getenv("RABBITMQ_URL"),
		RabbitQueue:       getEnv("RABBITMQ_QUEUE", "dashboard_events"),
		RabbitQueuePrefix: getEnv("RABBITMQ_QUEUE_PREFIX", "atendimento"),

		S3Bucket:    os.Getenv("S3_BUCKET"),
		S3Region:    getEnv("S3_REGION", "us-east-1"),
		S3Endpoint:  os.Getenv("S3_ENDPOINT"),
		S3AccessKey: os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey: os.Getenv("S3_SECRET_KEY"),
		S3Prefix:    getEnv("S3_PREFIX", "atendimento"),
	}

	if v := os.Getenv("AMQP_SPECIFIC_EVENTS"); v != "" {
		for _, ev := range strings.Split(v, ",") {
			if ev = strings.TrimSpace(ev); ev != "" {
				cfg.RabbitSpecificEvent = append(cfg.RabbitSpecificEvent, ev)
			}
		}
	}

	var err error
	if cfg.S3PathStyle, err = getEnvBool("S3_PATH_STYLE", false); err != nil {
		return nil, err
	}
	ints := []struct {
		key      string
		fallback int
		dst      *int
	}{
		{"MAX_ACTIVE", 3, &cfg.MaxActive},
		{"DUPLICATE_HISTORY", 10, &cfg.DuplicateHistory},
		{"ACTIVE_LIMIT", 50, &cfg.ActiveLimit},
		{"COMPLETED_LIMIT", 20, &cfg.CompletedLimit},
	}
	for _, i := range ints {
		if *i.dst, err = getEnvInt(i.key, i.fallback); err != nil {
			return nil, err
		}
	}
	durations := []struct {
		key      string
		fallback time.Duration
		dst      *time.Duration
	}{
		{"EVENT_TTL", 2 * time.Second, &cfg.EventTTL},
		{"MESSAGE_TTL", 60 * time.Second, &cfg.MessageTTL},
		{"DEBOUNCE_TTL", 2 * time.Second, &cfg.DebounceTTL},
		{"DUPLICATE_WINDOW", 30 * time.Second, &cfg.DuplicateWindow},
		{"SEND_DELAY", 1200 * time.Millisecond, &cfg.SendDelay},
	}
	for _, d := range durations {
		if *d.dst, err = getEnvDuration(d.key, d.fallback); err != nil {
			return nil, err
		}
	}

	if cfg.MaxActive < 1 {
		return nil, fmt.Errorf("MAX_ACTIVE must be at least 1, got %d", cfg.MaxActive)
	}
	switch cfg.DBDriver {
	case "sqlite", "postgres", "memory":
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DBDriver)
	}

	log.Info().
		Str("dbDriver", cfg.DBDriver).
		Int("maxActive", cfg.MaxActive).
		Bool("rabbitmq", cfg.RabbitURL != "").
		Bool("globalWebhook", cfg.GlobalWebhook != "").
		Bool("s3Archive", cfg.S3Bucket != "").
		Msg("Configuration loaded")
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return i, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return b, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return d, nil
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	strutil "signals/pkg/platform/strings"
)

// Server captures process level configuration. Everything comes from the
// environment with defaults in code.
type Server struct {
	Addr        string
	DatabaseURL string
	AdminToken  string
	LogLevel    string
	LogFormat   string

	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration

	Redis RedisConfig
	Kafka KafkaConfig

	MaxQuestions    int
	GraphCacheTTL   time.Duration
	StrictEdgeOrder bool

	FeedbackRequestWindow   time.Duration
	ReactionRequestWindow   time.Duration
	ForwardToExternalWindow time.Duration

	CleanupInterval  time.Duration
	RetryInterval    time.Duration
	RetryMaxAttempts int
}

// RedisConfig configures the shared graph cache. An empty URL keeps the
// cache in process.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig configures the notification and audit event topics. No brokers
// means notifications are logged and the outbox relay is off.
type KafkaConfig struct {
	Brokers            []string
	ClientID           string
	NotificationsTopic string
	EventsTopic        string
	Partitions         int32
	ReplicationFactor  int16
}

// LoadDotEnv reads a .env file into the environment when one exists.
// Variables already set win.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() (Server, error) {
	e := &env{}
	cfg := Server{
		Addr:        e.str("SIGNALS_ADDR", ":8080"),
		DatabaseURL: e.str("DATABASE_URL", ""),
		AdminToken:  e.str("ADMIN_TOKEN", ""),
		LogLevel:    e.str("LOG_LEVEL", "info"),
		LogFormat:   e.str("LOG_FORMAT", "json"),

		HTTPWriteTimeout: e.duration("HTTP_WRITE_TIMEOUT", 30*time.Second),
		HTTPIdleTimeout:  e.duration("HTTP_IDLE_TIMEOUT", 2*time.Minute),
		Redis: RedisConfig{
			URL:          e.str("REDIS_URL", ""),
			PoolSize:     e.int("REDIS_POOL_SIZE", 10),
			MinIdleConns: e.int("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  e.duration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  e.duration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: e.duration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:            e.list("KAFKA_BROKERS"),
			ClientID:           e.str("KAFKA_CLIENT_ID", "signals"),
			NotificationsTopic: e.str("KAFKA_TOPIC_NOTIFICATIONS", "signals.notifications"),
			EventsTopic:        e.str("KAFKA_TOPIC_EVENTS", "signals.audit"),
			Partitions:         int32(e.int("KAFKA_TOPIC_PARTITIONS", 3)),
			ReplicationFactor:  int16(e.int("KAFKA_TOPIC_REPLICATION", 1)),
		},
		MaxQuestions:            e.int("MAX_QUESTIONS", 50),
		GraphCacheTTL:           e.duration("GRAPH_CACHE_TTL", 10*time.Minute),
		StrictEdgeOrder:         e.bool("STRICT_EDGE_ORDER", true),
		FeedbackRequestWindow:   e.duration("FEEDBACK_REQUEST_WINDOW", 14*24*time.Hour),
		ReactionRequestWindow:   e.duration("REACTION_REQUEST_WINDOW", 5*24*time.Hour),
		ForwardToExternalWindow: e.duration("FORWARD_TO_EXTERNAL_WINDOW", 3*24*time.Hour),
		CleanupInterval:         e.duration("CLEANUP_INTERVAL", 15*time.Minute),
		RetryInterval:           e.duration("RETRY_INTERVAL", time.Minute),
		RetryMaxAttempts:        e.int("RETRY_MAX_ATTEMPTS", 10),
	}
	if e.err != nil {
		return Server{}, e.err
	}
	if cfg.MaxQuestions <= 0 {
		return Server{}, fmt.Errorf("MAX_QUESTIONS must be positive, got %d", cfg.MaxQuestions)
	}
	if cfg.CleanupInterval <= 0 || cfg.RetryInterval <= 0 {
		return Server{}, fmt.Errorf("CLEANUP_INTERVAL and RETRY_INTERVAL must be positive")
	}
	return cfg, nil
}

// env reads typed variables and keeps the first parse error.
type env struct {
	err error
}

func (e *env) str(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

// list splits a comma-separated variable, dropping blanks and repeats.
func (e *env) list(key string) []string {
	return strutil.DedupeAndTrim(strings.Split(os.Getenv(key), ","))
}

func (e *env) int(key string, def int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		e.fail(key, raw, err)
		return def
	}
	return v
}

func (e *env) bool(key string, def bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		e.fail(key, raw, err)
		return def
	}
	return v
}

// duration accepts Go durations plus a day suffix, e.g. "14d".
func (e *env) duration(key string, def time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	if days, ok := strings.CutSuffix(raw, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			e.fail(key, raw, err)
			return def
		}
		return time.Duration(n) * 24 * time.Hour
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		e.fail(key, raw, err)
		return def
	}
	return v
}

func (e *env) fail(key, raw string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("invalid %s=%q: %w", key, raw, err)
	}
}

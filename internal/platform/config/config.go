package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	pstrings "anyzine/pkg/platform/strings"
)

// StoreBackend selects the Counter Store implementation.
type StoreBackend string

const (
	StoreMemory   StoreBackend = "memory"
	StorePostgres StoreBackend = "postgres"
	StoreRedis    StoreBackend = "redis"
)

// IsValid checks if the backend is one of the supported values.
func (b StoreBackend) IsValid() bool {
	switch b {
	case StoreMemory, StorePostgres, StoreRedis:
		return true
	}
	return false
}

// Server captures process level configuration.
type Server struct {
	Addr     string
	LogLevel string

	JWTSigningKey string
	JWTIssuer     string

	SessionCookieSecret string
	SessionCookieSecure bool

	AdminAPIToken string

	RateLimit  RateLimitConfig
	Postgres   PostgresConfig
	Redis      RedisConfig
	Kafka      KafkaConfig
	Completion CompletionConfig
}

// RateLimitConfig tunes the request gate and its Counter Store.
type RateLimitConfig struct {
	Store           StoreBackend
	StoreTimeout    time.Duration
	CleanupInterval time.Duration
	Disabled        bool
}

// PostgresConfig configures the PostgreSQL Counter Store.
type PostgresConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig configures the Redis Counter Store.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig configures the audit event stream. No brokers means log-only auditing.
type KafkaConfig struct {
	Brokers    []string
	AuditTopic string
}

// Enabled reports whether any brokers were configured.
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

// CompletionConfig points at the language-model completion endpoint.
type CompletionConfig struct {
	URL     string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() (Server, error) {
	cfg := Server{
		Addr:                envOr("ANYZINE_ADDR", ":8080"),
		LogLevel:            envOr("LOG_LEVEL", "info"),
		JWTSigningKey:       envOr("JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		JWTIssuer:           envOr("JWT_ISSUER", "anyzine-auth"),
		SessionCookieSecret: envOr("SESSION_COOKIE_SECRET", "dev-session-secret-change-in-production"),
		AdminAPIToken:       os.Getenv("ADMIN_API_TOKEN"),
		Kafka: KafkaConfig{
			Brokers:    pstrings.SplitList(os.Getenv("KAFKA_BROKERS")),
			AuditTopic: envOr("KAFKA_AUDIT_TOPIC", "anyzine.ratelimit.audit"),
		},
		Postgres: PostgresConfig{
			URL: os.Getenv("DATABASE_URL"),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Completion: CompletionConfig{
			URL:    envOr("COMPLETION_API_URL", "https://api.openai.com/v1"),
			APIKey: os.Getenv("COMPLETION_API_KEY"),
			Model:  envOr("COMPLETION_MODEL", "gpt-4o-mini"),
		},
	}

	var err error
	p := parser{}
	cfg.SessionCookieSecure = p.bool("SESSION_COOKIE_SECURE", true)
	cfg.RateLimit = RateLimitConfig{
		Store:           StoreBackend(strings.ToLower(envOr("RATELIMIT_STORE", string(StoreMemory)))),
		StoreTimeout:    p.duration("RATELIMIT_STORE_TIMEOUT", 2*time.Second),
		CleanupInterval: p.duration("RATELIMIT_CLEANUP_INTERVAL", time.Hour),
		Disabled:        p.bool("RATELIMIT_DISABLED", false),
	}
	cfg.Postgres.MaxOpenConns = p.int("DATABASE_MAX_OPEN_CONNS", 10)
	cfg.Postgres.MaxIdleConns = p.int("DATABASE_MAX_IDLE_CONNS", 5)
	cfg.Postgres.ConnMaxLifetime = p.duration("DATABASE_CONN_MAX_LIFETIME", 30*time.Minute)
	cfg.Redis.PoolSize = p.int("REDIS_POOL_SIZE", 10)
	cfg.Redis.MinIdleConns = p.int("REDIS_MIN_IDLE_CONNS", 2)
	cfg.Redis.DialTimeout = p.duration("REDIS_DIAL_TIMEOUT", 5*time.Second)
	cfg.Redis.ReadTimeout = p.duration("REDIS_READ_TIMEOUT", 3*time.Second)
	cfg.Redis.WriteTimeout = p.duration("REDIS_WRITE_TIMEOUT", 3*time.Second)
	cfg.Completion.Timeout = p.duration("COMPLETION_TIMEOUT", 60*time.Second)
	if p.err != nil {
		return Server{}, p.err
	}

	if err = cfg.Validate(); err != nil {
		return Server{}, err
	}
	return cfg, nil
}

// Validate checks cross-field requirements.
func (s Server) Validate() error {
	if !s.RateLimit.Store.IsValid() {
		return fmt.Errorf("RATELIMIT_STORE must be one of memory, postgres, redis: got %q", s.RateLimit.Store)
	}
	if s.RateLimit.Store == StorePostgres && s.Postgres.URL == "" {
		return fmt.Errorf("DATABASE_URL is required when RATELIMIT_STORE=postgres")
	}
	if s.RateLimit.Store == StoreRedis && s.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required when RATELIMIT_STORE=redis")
	}
	if s.RateLimit.StoreTimeout <= 0 {
		return fmt.Errorf("RATELIMIT_STORE_TIMEOUT must be positive")
	}
	if s.RateLimit.CleanupInterval < 0 {
		return fmt.Errorf("RATELIMIT_CLEANUP_INTERVAL must not be negative")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// parser keeps the first parse error so FromEnv can report it once.
type parser struct {
	err error
}

func (p *parser) duration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" || p.err != nil {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		p.err = fmt.Errorf("parse %s: %w", key, err)
		return fallback
	}
	return d
}

func (p *parser) int(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" || p.err != nil {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		p.err = fmt.Errorf("parse %s: %w", key, err)
		return fallback
	}
	return n
}

func (p *parser) bool(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" || p.err != nil {
		return fallback
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		p.err = fmt.Errorf("parse %s: %w", key, err)
		return fallback
	}
	return b
}

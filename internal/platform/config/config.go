package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Server captures process level configuration.
type Server struct {
	Addr          string `env:"TOUROPS_ADDR" envDefault:":8080"`
	DatabaseURL   string `env:"DATABASE_URL"`
	JWTSigningKey string `env:"JWT_SIGNING_KEY" envDefault:"dev-secret-key-change-in-production"`
	JWTIssuer     string `env:"JWT_ISSUER" envDefault:"tourops"`
	JWTAudience   string `env:"JWT_AUDIENCE" envDefault:"tourops-api"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat     string `env:"LOG_FORMAT" envDefault:"json"`

	Redis RedisConfig
	Cache CacheConfig
	Audit AuditConfig
	Kafka KafkaConfig
}

// RedisConfig configures the networked cache connection.
type RedisConfig struct {
	URL          string        `env:"REDIS_URL"`
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`
}

// Cache backend names.
const (
	CacheBackendRedis  = "redis"
	CacheBackendMemory = "memory"
)

// CacheConfig selects the Cache Store implementation at construction time.
type CacheConfig struct {
	Backend       string `env:"CACHE_BACKEND" envDefault:"memory"`
	SweepSchedule string `env:"CACHE_SWEEP_SCHEDULE" envDefault:"@every 1m"`

	// Circuit breaker around the redis backend.
	BreakerFailures  int           `env:"CACHE_BREAKER_FAILURES" envDefault:"5"`
	BreakerSuccesses int           `env:"CACHE_BREAKER_SUCCESSES" envDefault:"3"`
	BreakerCooldown  time.Duration `env:"CACHE_BREAKER_COOLDOWN" envDefault:"10s"`
}

// AuditConfig holds the audit trail cache tunables.
type AuditConfig struct {
	DedupTTL       time.Duration `env:"AUDIT_DEDUP_TTL" envDefault:"5s"`
	RecentTTL      time.Duration `env:"AUDIT_RECENT_TTL" envDefault:"1h"`
	RecentCap      int           `env:"AUDIT_RECENT_CAP" envDefault:"100"`
	StatsTTL       time.Duration `env:"AUDIT_STATS_TTL" envDefault:"5m"`
	CacheBuffer    int           `env:"AUDIT_CACHE_BUFFER" envDefault:"256"`
	CacheableLimit int           `env:"AUDIT_CACHEABLE_LIMIT" envDefault:"50"`
}

// KafkaConfig configures the optional audit stream sink. Empty brokers disable it.
type KafkaConfig struct {
	Brokers     []string `env:"KAFKA_BROKERS" envSeparator:","`
	Topic       string   `env:"AUDIT_KAFKA_TOPIC" envDefault:"tourops.audit.records"`
	Partitions  int32    `env:"AUDIT_KAFKA_PARTITIONS" envDefault:"3"`
	Replication int16    `env:"AUDIT_KAFKA_REPLICATION" envDefault:"1"`
}

// FromEnv builds a Server config from the environment. A .env file in the
// working directory is loaded first when present.
func FromEnv() (Server, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Server{}, fmt.Errorf("load .env: %w", err)
	}
	var cfg Server
	if err := env.Parse(&cfg); err != nil {
		return Server{}, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Server{}, err
	}
	return cfg, nil
}

// Validate rejects combinations the composition root cannot wire.
func (c Server) Validate() error {
	switch c.Cache.Backend {
	case CacheBackendMemory:
	case CacheBackendRedis:
		if c.Redis.URL == "" {
			return errors.New("CACHE_BACKEND=redis requires REDIS_URL")
		}
	default:
		return fmt.Errorf("unknown CACHE_BACKEND %q", c.Cache.Backend)
	}
	if c.Audit.RecentCap <= 0 {
		return errors.New("AUDIT_RECENT_CAP must be positive")
	}
	if c.Audit.CacheableLimit <= 0 {
		return errors.New("AUDIT_CACHEABLE_LIMIT must be positive")
	}
	if c.Audit.CacheableLimit > c.Audit.RecentCap {
		return fmt.Errorf("AUDIT_CACHEABLE_LIMIT (%d) must not exceed AUDIT_RECENT_CAP (%d)",
			c.Audit.CacheableLimit, c.Audit.RecentCap)
	}
	if c.Audit.DedupTTL <= 0 {
		return errors.New("AUDIT_DEDUP_TTL must be positive")
	}
	return nil
}

package config

import (
	"strings"
	"time"

	"github.com/caarlos0/env/v9"
)

type Config struct {
	Port        string `env:"PORT" envDefault:"8080"`
	Environment string `env:"ENV" envDefault:"development"`
	NodeID      int64  `env:"NODE_ID" envDefault:"1"`

	PostgresURI   string `env:"POSTGRES_URI" envDefault:"postgres://localhost:5432/delightful?sslmode=disable"`
	RedisURI      string `env:"REDIS_URI" envDefault:"redis://localhost:6379/0"`
	MongoURI      string `env:"MONGODB_URI" envDefault:"mongodb://localhost:27017"`
	MongoDatabase string `env:"MONGODB_DATABASE" envDefault:"delightful"`

	// CORS: comma separated list of allowed frontend origins
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	LogSink  string `env:"LOG_SINK"`

	// "redis" or "memory"
	QueueBackend       string `env:"QUEUE_BACKEND" envDefault:"redis"`
	StreamCacheBackend string `env:"STREAM_CACHE_BACKEND" envDefault:"memory"`
	QueueCapacity      int    `env:"QUEUE_CAPACITY" envDefault:"4096"`
	// unacked redis deliveries idle this long move to a live consumer
	QueueClaimIdle time.Duration `env:"QUEUE_CLAIM_IDLE" envDefault:"1m"`

	SpinLockWait  time.Duration `env:"SPIN_LOCK_WAIT" envDefault:"3s"`
	MutexLockWait time.Duration `env:"MUTEX_LOCK_WAIT" envDefault:"10s"`
	LockTTL       time.Duration `env:"LOCK_TTL" envDefault:"30s"`

	StreamCacheTTL        time.Duration `env:"STREAM_CACHE_TTL" envDefault:"10m"`
	StreamCacheMaxEntries int           `env:"STREAM_CACHE_MAX_ENTRIES" envDefault:"10000"`
	StreamFlushInterval   time.Duration `env:"STREAM_FLUSH_INTERVAL" envDefault:"3s"`

	PushRetryAttempts int           `env:"PUSH_RETRY_ATTEMPTS" envDefault:"3"`
	PushRetryDelay    time.Duration `env:"PUSH_RETRY_DELAY" envDefault:"300ms"`
	PushRedeliveries  int           `env:"PUSH_REDELIVERIES" envDefault:"5"`
	DedupTTL          time.Duration `env:"DEDUP_TTL" envDefault:"24h"`

	WorkersHighest int `env:"WORKERS_HIGHEST" envDefault:"16"`
	WorkersHigh    int `env:"WORKERS_HIGH" envDefault:"8"`
	WorkersMedium  int `env:"WORKERS_MEDIUM" envDefault:"4"`
	WorkersLow     int `env:"WORKERS_LOW" envDefault:"2"`

	// per sender, applied to the HTTP send endpoints
	SendRatePerSecond float64 `env:"SEND_RATE_PER_SECOND" envDefault:"20"`
	SendRateBurst     int     `env:"SEND_RATE_BURST" envDefault:"40"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	cfg.AllowedOrigins = parseOrigins(cfg.AllowedOrigins)
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"http://localhost:3000"}
	}
	cfg.QueueBackend = strings.ToLower(strings.TrimSpace(cfg.QueueBackend))
	cfg.StreamCacheBackend = strings.ToLower(strings.TrimSpace(cfg.StreamCacheBackend))
	return &cfg, nil
}

func parseOrigins(in []string) []string {
	var out []string
	for _, part := range in {
		part = strings.TrimSpace(part)
		if part != "" && !containsOrigin(out, part) {
			out = append(out, part)
		}
	}
	return out
}

func containsOrigin(list []string, o string) bool {
	o = strings.TrimSpace(strings.ToLower(o))
	for _, v := range list {
		if strings.TrimSpace(strings.ToLower(v)) == o {
			return true
		}
	}
	return false
}

// IsProduction returns true when ENV is set to "production".
func (c *Config) IsProduction() bool {
	return strings.ToLower(strings.TrimSpace(c.Environment)) == "production"
}

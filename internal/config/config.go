// Package config loads application settings from environment variables,
// applying defaults and validating everything up front so misconfiguration
// fails at startup.
package config

import (
	"net"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Generate GenerateConfig
	Rate     RateLimitConfig
	Security SecurityConfig
	Logging  LoggingConfig
	Redis    RedisConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing response (default: 0 for SSE)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout bounds graceful shutdown, including draining jobs (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for non-streaming requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string (required).
	// DATABASE_URL and DB_URL are both accepted.
	URL string `env:"DATABASE_URL" envAlt:"DB_URL" required:"true"`

	// MaxConns is the maximum number of connections in the pool (default: 10)
	MaxConns int `env:"DB_MAX_CONNS" default:"10"`

	// MinConns is the minimum number of connections to keep open (default: 2)
	MinConns int `env:"DB_MIN_CONNS" default:"2"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`

	// MigrateOnStart applies pending schema migrations at startup (default: true)
	MigrateOnStart bool `env:"DB_MIGRATE_ON_START" default:"true"`
}

// GenerateConfig holds page generation settings.
type GenerateConfig struct {
	// BatchSize is the number of rows processed between progress events (default: 10)
	BatchSize int `env:"GENERATE_BATCH_SIZE" default:"10"`

	// MaxFileSize is the maximum accepted CSV size in bytes (default: 10MB)
	MaxFileSize int64 `env:"GENERATE_MAX_FILE_SIZE" default:"10485760"`

	// MaxRowsPerRequest caps rows accepted by the synchronous endpoint (default: 500)
	MaxRowsPerRequest int `env:"GENERATE_MAX_ROWS_PER_REQUEST" default:"500"`

	// MaxConcurrent is the maximum number of jobs running at once (default: 3)
	MaxConcurrent int `env:"GENERATE_MAX_CONCURRENT" default:"3"`

	// MaxWaitTime is how long a new job waits for a free slot (default: 10s)
	MaxWaitTime time.Duration `env:"GENERATE_MAX_WAIT_TIME" default:"10s"`

	// Timeout is the maximum duration of a single job (default: 10m)
	Timeout time.Duration `env:"GENERATE_TIMEOUT" default:"10m"`

	// ResultTTL is how long finished job results stay available (default: 15m)
	ResultTTL time.Duration `env:"GENERATE_RESULT_TTL" default:"15m"`

	// CacheTTL is how long results stay in the Redis cache after leaving
	// memory; it should exceed ResultTTL (default: 24h)
	CacheTTL time.Duration `env:"GENERATE_CACHE_TTL" default:"24h"`
}

// RateLimitConfig holds per-client rate limiting settings.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 120)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"120"`

	// GenerateLimit is requests per minute for endpoints that create pages (default: 30)
	GenerateLimit int `env:"RATE_LIMIT_GENERATE" default:"30"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// RequireAPIKey turns on X-API-Key checks for /api routes (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted keys
	APIKeys []string `env:"API_KEYS"`

	// EnableCSP enables Content-Security-Policy headers (default: true)
	EnableCSP bool `env:"SECURITY_ENABLE_CSP" default:"true"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// RedisConfig holds the optional job result cache settings.
type RedisConfig struct {
	// URL is a redis:// connection URL. Empty disables the cache.
	URL string `env:"REDIS_URL"`

	// KeyPrefix namespaces cache keys (default: pagegen:)
	KeyPrefix string `env:"REDIS_KEY_PREFIX" default:"pagegen:"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

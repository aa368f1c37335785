// Package redis provides the Redis client the gateway uses as a shared
// cache for provider signing key sets, with OpenTelemetry tracing and
// structured error handling.
//
// Redis is optional. When no Redis address is configured the gateway
// falls back to its in-process key-set cache; a shared cache only matters
// when several gateway replicas should reuse each other's JWKS fetches.
//
// # Configuration
//
//	cfg := redis.DefaultConfig()
//	cfg.Password = redis.Secret(os.Getenv("RIY_REDIS_PASSWORD"))
//	client, err := redis.NewClient(ctx, *cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
// For testing, [NewFromClient] injects a mock:
//
//	mock := &mockCmdable{}
//	client := redis.NewFromClient(mock, nil)
//
// # OpenTelemetry Tracing
//
// All operations create spans with standard database semantic attributes.
// Statements are truncated to 100 characters in spans so cached values
// never leak into telemetry.
package redis

import (
	"fmt"
	"net/url"
	"time"
)

// maxStatementTruncateLen is the maximum length for Redis command
// statements recorded in trace spans.
const maxStatementTruncateLen = 100

// Default connection pool and timeout settings. The gateway's cache
// traffic is light: one GET per key resolution, one SET per JWKS refresh.
const (
	// DefaultHost assumes Redis runs alongside the gateway.
	DefaultHost = "localhost"

	// DefaultPort is the standard Redis port.
	DefaultPort = 6379

	// DefaultDB is the Redis database index.
	DefaultDB = 0

	// DefaultPoolSize is the maximum number of pooled connections.
	DefaultPoolSize = 10

	// DefaultMinIdleConns keeps a couple of connections warm.
	DefaultMinIdleConns = 2

	// DefaultMaxRetries handles transient network failures.
	DefaultMaxRetries = 3

	// DefaultDialTimeout bounds new connection establishment.
	DefaultDialTimeout = 10 * time.Second

	// DefaultReadTimeout bounds reads from Redis.
	DefaultReadTimeout = 5 * time.Second

	// DefaultWriteTimeout bounds writes to Redis.
	DefaultWriteTimeout = 5 * time.Second

	// DefaultHealthTimeout bounds a health check ping when the caller's
	// context has no deadline.
	DefaultHealthTimeout = 5 * time.Second
)

// Secret is a string type that prevents accidental logging of the Redis
// password. String and GoString return a redacted placeholder; use
// [Secret.Value] for the real value.
type Secret string

// redacted is the placeholder returned by Secret's string methods.
const redacted = "[REDACTED]"

// String returns "[REDACTED]" to prevent accidental logging.
func (s Secret) String() string {
	return redacted
}

// GoString returns "[REDACTED]" for fmt.Sprintf("%#v", secret) safety.
func (s Secret) GoString() string {
	return redacted
}

// Value returns the actual secret string.
func (s Secret) Value() string {
	return string(s)
}

// MarshalText implements encoding.TextMarshaler, returning "[REDACTED]".
func (s Secret) MarshalText() ([]byte, error) {
	return []byte(redacted), nil
}

// Config holds the Redis connection configuration. When [Config.URI] is
// set it takes precedence over the individual fields. The env struct tags
// document the environment variable each field reads when loaded through
// the config package with the RIY prefix.
type Config struct {
	// URI is a Redis connection string ("redis://:pass@host:6379/0" or
	// "rediss://..." for TLS). When set, Host, Port, DB, and Password
	// are ignored.
	URI string `json:"uri,omitempty" yaml:"uri" env:"URI"`

	// Host is the Redis server hostname or IP address.
	Host string `json:"host,omitempty" yaml:"host" env:"HOST"`

	// Port is the Redis server port.
	Port int `json:"port,omitempty" yaml:"port" env:"PORT"`

	// DB is the Redis database index.
	DB int `json:"db" yaml:"db" env:"DB"`

	// Password is the Redis password, kept out of logs by [Secret].
	Password Secret `json:"-" yaml:"-" env:"PASSWORD"`

	// PoolSize is the maximum number of pooled connections.
	PoolSize int `json:"pool_size,omitempty" yaml:"pool_size" env:"POOL_SIZE"`

	// MinIdleConns is the minimum number of idle connections kept warm.
	MinIdleConns int `json:"min_idle_conns,omitempty" yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`

	// MaxRetries is the retry budget per command. -1 disables retries.
	MaxRetries int `json:"max_retries,omitempty" yaml:"max_retries" env:"MAX_RETRIES"`

	// DialTimeout bounds new connection establishment.
	DialTimeout time.Duration `json:"dial_timeout,omitempty" yaml:"dial_timeout" env:"DIAL_TIMEOUT"`

	// ReadTimeout bounds reads from Redis.
	ReadTimeout time.Duration `json:"read_timeout,omitempty" yaml:"read_timeout" env:"READ_TIMEOUT"`

	// WriteTimeout bounds writes to Redis.
	WriteTimeout time.Duration `json:"write_timeout,omitempty" yaml:"write_timeout" env:"WRITE_TIMEOUT"`

	// TLSEnabled enables TLS for the connection. A "rediss://" URI
	// enables TLS automatically.
	TLSEnabled bool `json:"tls_enabled,omitempty" yaml:"tls_enabled" env:"TLS_ENABLED"`
}

// DefaultConfig returns a Config with the package defaults. Override
// fields as needed before passing the config to [NewClient].
func DefaultConfig() *Config {
	return &Config{
		Host:         DefaultHost,
		Port:         DefaultPort,
		DB:           DefaultDB,
		PoolSize:     DefaultPoolSize,
		MinIdleConns: DefaultMinIdleConns,
		MaxRetries:   DefaultMaxRetries,
		DialTimeout:  DefaultDialTimeout,
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: DefaultWriteTimeout,
	}
}

// Validate checks the configuration and applies defaults for zero-valued
// fields. When [Config.URI] is set, structured fields are not validated;
// pool and timeout defaults are always applied.
func (c *Config) Validate() error {
	c.applyDefaults()

	if c.URI != "" {
		u, err := url.Parse(c.URI)
		if err != nil {
			return fmt.Errorf("redis: config URI is invalid: %w", err)
		}
		if u.Scheme != "redis" && u.Scheme != "rediss" {
			return fmt.Errorf("redis: config URI scheme must be redis:// or rediss://, got %q", u.Scheme)
		}
		return nil
	}

	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("redis: config port must be between 1 and 65535, got %d", c.Port)
	}
	if c.PoolSize < 1 {
		return fmt.Errorf("redis: config pool_size must be >= 1, got %d", c.PoolSize)
	}
	if c.MinIdleConns < 0 {
		return fmt.Errorf("redis: config min_idle_conns must be >= 0, got %d", c.MinIdleConns)
	}
	if c.PoolSize < c.MinIdleConns {
		return fmt.Errorf("redis: config pool_size (%d) must be >= min_idle_conns (%d)", c.PoolSize, c.MinIdleConns)
	}
	if c.DialTimeout < 0 {
		return fmt.Errorf("redis: config dial_timeout must not be negative, got %v", c.DialTimeout)
	}
	if c.ReadTimeout < 0 {
		return fmt.Errorf("redis: config read_timeout must not be negative, got %v", c.ReadTimeout)
	}
	if c.WriteTimeout < 0 {
		return fmt.Errorf("redis: config write_timeout must not be negative, got %v", c.WriteTimeout)
	}

	return nil
}

// applyDefaults sets defaults for zero-valued pool and timeout fields.
func (c *Config) applyDefaults() {
	if c.PoolSize == 0 {
		c.PoolSize = DefaultPoolSize
	}
	if c.MinIdleConns == 0 {
		c.MinIdleConns = DefaultMinIdleConns
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
}

// truncateStatement truncates a Redis command statement for inclusion in
// trace spans. Rune-aware so multi-byte UTF-8 characters are not split.
func truncateStatement(s string) string {
	runes := []rune(s)
	if len(runes) <= maxStatementTruncateLen {
		return s
	}
	return string(runes[:maxStatementTruncateLen]) + "..."
}

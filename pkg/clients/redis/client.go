package redis

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	gwerr "github.com/riycorp/riy-gateway/pkg/errors"
)

// tracerName is the OpenTelemetry instrumentation scope name for this
// package, following the Go module path convention.
const tracerName = "github.com/riycorp/riy-gateway/pkg/clients/redis"

// Nil is the error go-redis returns when a key does not exist. Re-exported
// so callers do not import go-redis just for the sentinel.
var Nil = redis.Nil

// Cmdable defines the Redis operations the gateway uses. It is satisfied
// by [*redis.Client] and by mocks, enabling injection via [NewFromClient].
//
// The interface is deliberately narrow: the key-set cache needs string
// get/set with TTL, deletion, and a ping. Widen only when a caller does.
type Cmdable interface {
	// Set sets the string value of a key with an optional expiration.
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd

	// Get returns the string value of a key.
	Get(ctx context.Context, key string) *redis.StringCmd

	// Del deletes one or more keys.
	Del(ctx context.Context, keys ...string) *redis.IntCmd

	// Exists returns how many of the given keys exist.
	Exists(ctx context.Context, keys ...string) *redis.IntCmd

	// TTL returns the remaining time to live of a key.
	TTL(ctx context.Context, key string) *redis.DurationCmd

	// Ping pings the Redis server.
	Ping(ctx context.Context) *redis.StatusCmd

	// Close closes the client connection.
	Close() error
}

// Compile-time interface compliance check.
var _ Cmdable = (*redis.Client)(nil)

// Client is a Redis client with OpenTelemetry tracing and structured
// error handling. It is safe for concurrent use; create one per Redis
// instance and share it.
type Client struct {
	cmdable Cmdable
	config  *Config
	tracer  trace.Tracer
	dbIndex int
}

// NewClient creates a Redis client. It validates the configuration,
// builds the go-redis options, and verifies connectivity with a ping.
// Call [Client.Close] when done.
//
// Error codes returned:
//   - [gwerr.CodeValidation]: invalid configuration
//   - [gwerr.CodeUnavailableDependency]: cannot connect to Redis
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, gwerr.Wrap(err, gwerr.CodeValidation,
			"redis: invalid configuration")
	}

	var opts *redis.Options
	if cfg.URI != "" {
		var err error
		opts, err = redis.ParseURL(cfg.URI)
		if err != nil {
			return nil, gwerr.Wrap(err, gwerr.CodeValidation,
				"redis: failed to parse connection URI")
		}
		opts.PoolSize = cfg.PoolSize
		opts.MinIdleConns = cfg.MinIdleConns
		opts.MaxRetries = cfg.MaxRetries
		if cfg.DialTimeout > 0 {
			opts.DialTimeout = cfg.DialTimeout
		}
		if cfg.ReadTimeout > 0 {
			opts.ReadTimeout = cfg.ReadTimeout
		}
		if cfg.WriteTimeout > 0 {
			opts.WriteTimeout = cfg.WriteTimeout
		}
	} else {
		opts = &redis.Options{
			Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Password:     cfg.Password.Value(),
			DB:           cfg.DB,
			PoolSize:     cfg.PoolSize,
			MinIdleConns: cfg.MinIdleConns,
			MaxRetries:   cfg.MaxRetries,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		}
		if cfg.TLSEnabled {
			opts.TLSConfig = &tls.Config{
				MinVersion: tls.VersionTLS12,
			}
		}
	}

	rdb := redis.NewClient(opts)

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, gwerr.Wrap(err, gwerr.CodeUnavailableDependency,
			"redis: failed to connect to server")
	}

	dbIndex := cfg.DB
	if cfg.URI != "" {
		dbIndex = opts.DB
	}

	return &Client{
		cmdable: rdb,
		config:  &cfg,
		tracer:  otel.Tracer(tracerName),
		dbIndex: dbIndex,
	}, nil
}

// NewFromClient creates a Client around an existing [Cmdable]. Intended
// for tests with mocks. The cfg is stored but not validated; nil yields a
// zero-value config.
func NewFromClient(cmdable Cmdable, cfg *Config) *Client {
	if cfg == nil {
		cfg = &Config{}
	}
	return &Client{
		cmdable: cmdable,
		config:  cfg,
		tracer:  otel.Tracer(tracerName),
		dbIndex: cfg.DB,
	}
}

// Set sets the string value of a key with an optional expiration.
//
// Errors are wrapped as [*gwerr.Error]:
//   - [gwerr.CodeTimeoutDatabase] when the context deadline is exceeded
//   - [gwerr.CodeInternalDatabase] for all other Redis errors
func (c *Client) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	ctx, span := c.startSpan(ctx, "Set", fmt.Sprintf("SET %s", key))
	err := c.cmdable.Set(ctx, key, value, expiration).Err()
	finishSpan(span, err)
	if err != nil {
		return wrapError(err, "redis: set failed")
	}
	return nil
}

// Get returns the string value of a key. When the key does not exist the
// returned error unwraps to [Nil]:
//
//	val, err := client.Get(ctx, "jwks:microsoft")
//	if errors.Is(err, redis.Nil) {
//	    // cache miss
//	}
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	ctx, span := c.startSpan(ctx, "Get", fmt.Sprintf("GET %s", key))
	val, err := c.cmdable.Get(ctx, key).Result()
	finishSpan(span, err)
	if err != nil {
		return "", wrapError(err, "redis: get failed")
	}
	return val, nil
}

// Del deletes one or more keys and returns the number removed.
func (c *Client) Del(ctx context.Context, keys ...string) (int64, error) {
	ctx, span := c.startSpan(ctx, "Del", fmt.Sprintf("DEL %v", keys))
	val, err := c.cmdable.Del(ctx, keys...).Result()
	finishSpan(span, err)
	if err != nil {
		return 0, wrapError(err, "redis: del failed")
	}
	return val, nil
}

// Exists returns the number of specified keys that exist.
func (c *Client) Exists(ctx context.Context, keys ...string) (int64, error) {
	ctx, span := c.startSpan(ctx, "Exists", fmt.Sprintf("EXISTS %v", keys))
	val, err := c.cmdable.Exists(ctx, keys...).Result()
	finishSpan(span, err)
	if err != nil {
		return 0, wrapError(err, "redis: exists failed")
	}
	return val, nil
}

// TTL returns the remaining time to live of a key. Returns -1 if the key
// has no expiration and -2 if the key does not exist.
func (c *Client) TTL(ctx context.Context, key string) (time.Duration, error) {
	ctx, span := c.startSpan(ctx, "TTL", fmt.Sprintf("TTL %s", key))
	val, err := c.cmdable.TTL(ctx, key).Result()
	finishSpan(span, err)
	if err != nil {
		return 0, wrapError(err, "redis: ttl failed")
	}
	return val, nil
}

// Health pings Redis, applying [DefaultHealthTimeout] when the context
// has no deadline. Returns [gwerr.CodeUnavailableDependency] on failure.
// Designed for readiness probes.
func (c *Client) Health(ctx context.Context) error {
	ctx, span := c.startSpan(ctx, "Health", "PING")

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultHealthTimeout)
		defer cancel()
	}

	err := c.cmdable.Ping(ctx).Err()
	finishSpan(span, err)
	if err != nil {
		return gwerr.Wrap(err, gwerr.CodeUnavailableDependency,
			"redis: health check failed")
	}
	return nil
}

// Close releases all connection resources. Safe to call multiple times.
func (c *Client) Close() error {
	return c.cmdable.Close()
}

// Client returns the underlying [Cmdable] for operations the Client does
// not wrap. Do not close it directly; use [Client.Close].
func (c *Client) Client() Cmdable {
	return c.cmdable
}

// startSpan creates a span with standard database semantic attributes.
func (c *Client) startSpan(ctx context.Context, operationName, statement string) (context.Context, trace.Span) {
	ctx, span := c.tracer.Start(ctx, "redis."+operationName,
		trace.WithSpanKind(trace.SpanKindClient),
	)
	span.SetAttributes(
		attribute.String("db.system", "redis"),
		attribute.Int("db.redis.database_index", c.dbIndex),
		attribute.String("db.statement", truncateStatement(statement)),
	)
	return ctx, span
}

// finishSpan records an error on the span (if any) and ends it.
func finishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// wrapError converts a Redis error to a [*gwerr.Error].
// context.DeadlineExceeded becomes [gwerr.CodeTimeoutDatabase]
// (retryable); everything else, including context.Canceled, becomes
// [gwerr.CodeInternalDatabase] since retrying an intentionally canceled
// request is wasteful. The cause stays in the chain so errors.Is(err,
// redis.Nil) still works through the wrap.
func wrapError(err error, message string) *gwerr.Error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return gwerr.Wrap(err, gwerr.CodeTimeoutDatabase, message)
	}
	return gwerr.Wrap(err, gwerr.CodeInternalDatabase, message)
}

// Package postgres provides the PostgreSQL client the gateway uses to
// reach the corporate user directory, with connection pooling and
// OpenTelemetry tracing.
//
// # Connection Management
//
// The client wraps pgxpool, which manages a pool of persistent
// connections and internally replaces failed ones. Callers do not need
// retry logic for connection-level errors.
//
// # Configuration
//
// Create a client with [NewClient] and a [Config]:
//
//	cfg := postgres.DefaultConfig()
//	cfg.Password = postgres.Secret(os.Getenv("RIY_POSTGRES_PASSWORD"))
//	client, err := postgres.NewClient(ctx, *cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
// For testing, [NewFromPool] injects a mock pool:
//
//	mock, _ := pgxmock.NewPool()
//	client := postgres.NewFromPool(mock, nil)
//
// # OpenTelemetry Tracing
//
// Query, QueryRow, Exec, Begin, and Health create spans with standard
// database semantic attributes. SQL statements are truncated to 100
// characters in spans so parameter values never leak into telemetry.
package postgres

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	gwerr "github.com/riycorp/riy-gateway/pkg/errors"
)

// tracerName is the OpenTelemetry instrumentation scope name for this
// package, following the Go module path convention.
const tracerName = "github.com/riycorp/riy-gateway/pkg/clients/postgres"

// Pool defines the interface for PostgreSQL connection pool operations.
// It is satisfied by [*pgxpool.Pool] and by pgxmock, enabling dependency
// injection via [NewFromPool] for tests without a real database.
//
// All methods follow the pgx v5 API signatures exactly so that
// [*pgxpool.Pool] satisfies the interface without adaptation.
type Pool interface {
	// Query executes a SQL query that returns rows.
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)

	// QueryRow executes a SQL query that returns at most one row.
	// Errors are deferred until the returned pgx.Row is scanned.
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row

	// Exec executes a SQL statement that does not return rows.
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)

	// Begin starts a new database transaction.
	Begin(ctx context.Context) (pgx.Tx, error)

	// Ping verifies the connection to the database is alive.
	Ping(ctx context.Context) error

	// Close releases all pool resources.
	Close()
}

// Compile-time interface compliance check.
var _ Pool = (*pgxpool.Pool)(nil)

// Client is a PostgreSQL client with connection pooling, OpenTelemetry
// tracing, and structured error handling. It is safe for concurrent use;
// create one per database and share it.
type Client struct {
	pool         Pool
	config       *Config
	tracer       trace.Tracer
	databaseName string
}

// NewClient creates a PostgreSQL client. It validates the configuration,
// establishes the pool, configures TLS if a custom CA is provided, and
// verifies connectivity with a ping. Call [Client.Close] when done.
//
// Error codes returned:
//   - [gwerr.CodeValidation]: invalid configuration
//   - [gwerr.CodeInternalConfiguration]: TLS setup failure
//   - [gwerr.CodeUnavailableDependency]: cannot connect to the database
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, gwerr.Wrap(err, gwerr.CodeValidation,
			"postgres: invalid configuration")
	}

	connStr := cfg.ConnectionString()

	poolCfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, gwerr.Wrap(err, gwerr.CodeValidation,
			"postgres: failed to parse connection string")
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	poolCfg.HealthCheckPeriod = cfg.HealthCheckPeriod

	tlsCfg, err := cfg.tlsConfig()
	if err != nil {
		return nil, gwerr.Wrap(err, gwerr.CodeInternalConfiguration,
			"postgres: failed to configure TLS")
	}
	if tlsCfg != nil {
		poolCfg.ConnConfig.TLSConfig = tlsCfg
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, gwerr.Wrap(err, gwerr.CodeUnavailableDependency,
			"postgres: failed to create connection pool")
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, gwerr.Wrap(err, gwerr.CodeUnavailableDependency,
			"postgres: failed to connect to database")
	}

	dbName := cfg.Database
	if cfg.URI != "" {
		if u, parseErr := url.Parse(cfg.URI); parseErr == nil {
			dbName = strings.TrimPrefix(u.Path, "/")
		}
	}

	return &Client{
		pool:         pool,
		config:       &cfg,
		tracer:       otel.Tracer(tracerName),
		databaseName: dbName,
	}, nil
}

// NewFromPool creates a Client around an existing [Pool]. Intended for
// tests with mock pools (pgxmock). The cfg is stored but not validated;
// nil yields a zero-value config.
func NewFromPool(pool Pool, cfg *Config) *Client {
	if cfg == nil {
		cfg = &Config{}
	}
	return &Client{
		pool:         pool,
		config:       cfg,
		tracer:       otel.Tracer(tracerName),
		databaseName: cfg.Database,
	}
}

// Config returns the client's configuration. Repositories use it for the
// collation clause in email lookups.
func (c *Client) Config() *Config {
	return c.config
}

// Query executes a SQL query that returns rows. The returned [pgx.Rows]
// must be closed by the caller.
//
// Errors are wrapped as [*gwerr.Error]:
//   - [gwerr.CodeTimeoutDatabase] when the context deadline is exceeded
//   - [gwerr.CodeInternalDatabase] for all other database errors
func (c *Client) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	ctx, span := c.startSpan(ctx, "Query", sql)

	rows, err := c.pool.Query(ctx, sql, args...)
	if err != nil {
		finishSpan(span, err)
		return nil, wrapError(err, "postgres: query failed")
	}
	// Row-level errors surface during iteration, outside this span.
	finishSpan(span, nil)
	return rows, nil
}

// QueryRow executes a SQL query that returns at most one row. The
// returned [pgx.Row] is never nil; errors are deferred until Scan. The
// span covers only query submission, since pgx defers errors to Scan.
func (c *Client) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	ctx, span := c.startSpan(ctx, "QueryRow", sql)
	defer span.End()

	return c.pool.QueryRow(ctx, sql, args...)
}

// Exec executes a SQL statement that does not return rows. Returns the
// command tag and a [*gwerr.Error] on failure.
func (c *Client) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	ctx, span := c.startSpan(ctx, "Exec", sql)

	tag, err := c.pool.Exec(ctx, sql, args...)
	finishSpan(span, err)
	if err != nil {
		return tag, wrapError(err, "postgres: exec failed")
	}
	return tag, nil
}

// Begin starts a database transaction. Callers must commit or roll back;
// defer tx.Rollback(ctx) right after Begin is the recommended pattern
// (Rollback after Commit is a no-op in pgx).
func (c *Client) Begin(ctx context.Context) (pgx.Tx, error) {
	ctx, span := c.startSpan(ctx, "Begin", "BEGIN")

	tx, err := c.pool.Begin(ctx)
	finishSpan(span, err)
	if err != nil {
		return nil, wrapError(err, "postgres: begin transaction failed")
	}
	return tx, nil
}

// Health pings the database, applying [DefaultHealthTimeout] when the
// context has no deadline. Returns [gwerr.CodeUnavailableDependency] on
// failure. Designed for readiness probes.
func (c *Client) Health(ctx context.Context) error {
	ctx, span := c.startSpan(ctx, "Health", "SELECT 1")

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultHealthTimeout)
		defer cancel()
	}

	err := c.pool.Ping(ctx)
	finishSpan(span, err)
	if err != nil {
		return gwerr.Wrap(err, gwerr.CodeUnavailableDependency,
			"postgres: health check failed")
	}
	return nil
}

// Close releases all pool resources. Safe to call multiple times.
func (c *Client) Close() {
	c.pool.Close()
}

// Pool returns the underlying [Pool] for operations the Client does not
// wrap (CopyFrom, SendBatch). Do not close it directly; use
// [Client.Close].
func (c *Client) Pool() Pool {
	return c.pool
}

// startSpan creates a span with standard database semantic attributes.
func (c *Client) startSpan(ctx context.Context, operationName, sql string) (context.Context, trace.Span) {
	ctx, span := c.tracer.Start(ctx, "postgres."+operationName,
		trace.WithSpanKind(trace.SpanKindClient),
	)
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.name", c.databaseName),
		attribute.String("db.statement", truncateSQL(sql)),
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

// wrapError converts a database error to a [*gwerr.Error], separating
// timeouts from general failures so callers can use [gwerr.IsRetryable].
func wrapError(err error, message string) *gwerr.Error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return gwerr.Wrap(err, gwerr.CodeTimeoutDatabase, message)
	}
	return gwerr.Wrap(err, gwerr.CodeInternalDatabase, message)
}

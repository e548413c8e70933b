package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	acerr "github.com/piewared/authcore/pkg/errors"
)

// tracerName is the OpenTelemetry instrumentation scope name for this
// package, following the Go module path convention.
const tracerName = "github.com/piewared/authcore/pkg/clients/postgres"

// maxStatementTruncateLen caps the length of SQL statements recorded in
// trace spans to prevent sensitive data leakage into telemetry.
const maxStatementTruncateLen = 100

// uniqueViolationCode is the PostgreSQL SQLSTATE for unique constraint
// violations. Identity provisioning relies on it to detect concurrent
// first-login races.
const uniqueViolationCode = "23505"

// Pool defines the interface for PostgreSQL connection pool operations.
// It is satisfied by [*pgxpool.Pool] and by mock implementations such as
// pgxmock, enabling dependency injection via [NewFromPool]. All methods
// follow the pgx v5 API signatures exactly.
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
// tracing, and structured error handling. A Client is safe for concurrent
// use by multiple goroutines; create one per database and share it.
type Client struct {
	pool         Pool
	config       *Config
	tracer       trace.Tracer
	databaseName string
}

// NewClient creates a new PostgreSQL client with connection pooling. It
// validates the configuration, establishes the pool, and verifies
// connectivity with a ping.
//
// The caller must call [Client.Close] when the client is no longer needed.
//
// Error codes returned:
//   - [acerr.CodeValidation]: invalid configuration
//   - [acerr.CodeUnavailableDependency]: cannot connect to the database
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, acerr.Wrap(err, acerr.CodeValidation,
			"postgres: invalid configuration")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, acerr.Wrap(err, acerr.CodeValidation,
			"postgres: failed to parse connection string")
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)
	poolCfg.MinConns = int32(cfg.MinConns)
	if cfg.ConnectTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, acerr.Wrap(err, acerr.CodeInternalDatabase,
			"postgres: failed to create connection pool")
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, acerr.Wrap(err, acerr.CodeUnavailableDependency,
			"postgres: failed to connect to database")
	}

	return &Client{
		pool:         pool,
		config:       &cfg,
		tracer:       otel.Tracer(tracerName),
		databaseName: poolCfg.ConnConfig.Database,
	}, nil
}

// NewFromPool creates a Client with a pre-existing [Pool]. This
// constructor is intended for testing with pgxmock. The cfg parameter is
// stored but not validated; pass nil for a zero-value config.
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

// Query executes a SQL query that returns rows, with OpenTelemetry
// tracing. The caller must close the returned rows.
func (c *Client) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	ctx, span := c.startSpan(ctx, "Query", sql)
	rows, err := c.pool.Query(ctx, sql, args...)
	finishSpan(span, err)
	if err != nil {
		return nil, wrapError(err, "postgres: query failed")
	}
	return rows, nil
}

// QueryRow executes a SQL query expected to return at most one row, with
// OpenTelemetry tracing. Errors are deferred until Scan is called on the
// returned row, per pgx conventions.
func (c *Client) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	ctx, span := c.startSpan(ctx, "QueryRow", sql)
	row := c.pool.QueryRow(ctx, sql, args...)
	span.End()
	return row
}

// Exec executes a SQL statement that does not return rows, with
// OpenTelemetry tracing.
func (c *Client) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	ctx, span := c.startSpan(ctx, "Exec", sql)
	tag, err := c.pool.Exec(ctx, sql, args...)
	finishSpan(span, err)
	if err != nil {
		return pgconn.CommandTag{}, wrapError(err, "postgres: exec failed")
	}
	return tag, nil
}

// Begin starts a new transaction, with OpenTelemetry tracing. The caller
// is responsible for committing or rolling back.
func (c *Client) Begin(ctx context.Context) (pgx.Tx, error) {
	ctx, span := c.startSpan(ctx, "Begin", "BEGIN")
	tx, err := c.pool.Begin(ctx)
	finishSpan(span, err)
	if err != nil {
		return nil, wrapError(err, "postgres: begin failed")
	}
	return tx, nil
}

// Health verifies connectivity to the database.
func (c *Client) Health(ctx context.Context) error {
	ctx, span := c.startSpan(ctx, "Health", "PING")
	err := c.pool.Ping(ctx)
	finishSpan(span, err)
	if err != nil {
		return wrapError(err, "postgres: health check failed")
	}
	return nil
}

// Close releases all pool resources.
func (c *Client) Close() {
	c.pool.Close()
}

// IsUniqueViolation reports whether the error (anywhere in its chain) is a
// PostgreSQL unique constraint violation. Identity provisioning uses this
// to resolve concurrent first-login races by re-reading the winning row.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}

// startSpan creates a client span with standard database semantic
// attributes.
func (c *Client) startSpan(ctx context.Context, op, statement string) (context.Context, trace.Span) {
	if len(statement) > maxStatementTruncateLen {
		statement = statement[:maxStatementTruncateLen]
	}
	return c.tracer.Start(ctx, "postgres."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.name", c.databaseName),
			attribute.String("db.statement", statement),
		),
	)
}

// finishSpan records the error (ignoring no-rows) and ends the span.
func finishSpan(span trace.Span, err error) {
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// wrapError classifies a pgx error into a structured error. ErrNoRows is
// preserved as the cause so callers can test with errors.Is.
func wrapError(err error, message string) error {
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return acerr.Wrap(err, acerr.CodeNotFound, message+": no rows")
	case IsUniqueViolation(err):
		return acerr.Wrap(err, acerr.CodeConflictAlreadyExists, message+": unique constraint violation")
	case errors.Is(err, context.DeadlineExceeded):
		return acerr.Wrap(err, acerr.CodeTimeoutDatabase, message+": deadline exceeded")
	case errors.Is(err, context.Canceled):
		return acerr.Wrap(err, acerr.CodeTimeoutDatabase, message+": context canceled")
	default:
		return acerr.Wrap(err, acerr.CodeInternalDatabase, message)
	}
}

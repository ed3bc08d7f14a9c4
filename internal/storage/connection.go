package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// pingTimeout bounds the startup connectivity check.
const pingTimeout = 5 * time.Second

// ErrNoDatabaseConnection is returned when a store is created without a connection.
var ErrNoDatabaseConnection = errors.New("database connection is required")

// Connection wraps *sql.DB with pool configuration applied.
//
// All stores share one Connection; the pool bounds concurrent orchestration
// passes hitting the database.
type Connection struct {
	db     *sql.DB
	config *Config
}

// NewConnection opens a PostgreSQL connection pool and verifies connectivity.
func NewConnection(cfg *Config) (*Connection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", cfg.databaseURL)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &Connection{db: db, config: cfg}, nil
}

// NewConnectionFromDB wraps an existing *sql.DB. Used by integration tests
// that manage the underlying database themselves.
func NewConnectionFromDB(db *sql.DB) *Connection {
	return &Connection{db: db, config: LoadConfig()}
}

// QueryContext executes a query that returns rows.
func (c *Connection) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.db.QueryContext(ctx, query, args...)
}

// QueryRowContext executes a query expected to return at most one row.
func (c *Connection) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return c.db.QueryRowContext(ctx, query, args...)
}

// ExecContext executes a statement without returning rows.
func (c *Connection) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.db.ExecContext(ctx, query, args...)
}

// BeginTx starts a transaction.
func (c *Connection) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	return c.db.BeginTx(ctx, opts)
}

// HealthCheck verifies the database is reachable.
func (c *Connection) HealthCheck(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Close closes the connection pool. Safe to call multiple times.
func (c *Connection) Close() error {
	if c.db == nil {
		return nil
	}

	return c.db.Close()
}

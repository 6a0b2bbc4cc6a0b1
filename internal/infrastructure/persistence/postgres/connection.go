// Package postgres implements the gamification store on PostgreSQL.
// Profiles, the XP ledger, streaks, the shop catalog and inventories live in
// one database; balance updates and equips run in transactions.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alem-hub/school-gamification/internal/domain/shared"
	"github.com/alem-hub/school-gamification/pkg/logger"
)

var (
	// ErrConnectionClosed is returned by every call made after Close.
	ErrConnectionClosed = errors.New("postgres: connection pool is closed")

	ErrMigrationFailed = errors.New("postgres: migration failed")
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config holds PostgreSQL pool configuration.
type Config struct {
	// URL is a postgres:// connection string.
	URL string

	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration

	// QueryTimeout bounds every statement that has no deadline of its own.
	QueryTimeout time.Duration
}

// DefaultConfig returns pool defaults suited to a single school deployment.
func DefaultConfig() Config {
	return Config{
		MaxConns:          10,
		MinConns:          2,
		MaxConnLifetime:   time.Hour,
		MaxConnIdleTime:   30 * time.Minute,
		HealthCheckPeriod: time.Minute,
		QueryTimeout:      5 * time.Second,
	}
}

// PoolConfig parses URL and applies the non-zero overrides.
func (c Config) PoolConfig() (*pgxpool.Config, error) {
	pc, err := pgxpool.ParseConfig(c.URL)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse database URL: %w", err)
	}

	setInt32(&pc.MaxConns, c.MaxConns)
	setInt32(&pc.MinConns, c.MinConns)
	setDuration(&pc.MaxConnLifetime, c.MaxConnLifetime)
	setDuration(&pc.MaxConnIdleTime, c.MaxConnIdleTime)
	setDuration(&pc.HealthCheckPeriod, c.HealthCheckPeriod)
	return pc, nil
}

func setInt32(dst *int32, v int32) {
	if v > 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v time.Duration) {
	if v > 0 {
		*dst = v
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CONNECTION
// ══════════════════════════════════════════════════════════════════════════════

// Connection is a pgx pool with a default statement timeout.
type Connection struct {
	pool         *pgxpool.Pool
	queryTimeout time.Duration
	log          *logger.Logger
	closed       atomic.Bool
}

// NewConnection creates the pool and verifies it with a ping.
func NewConnection(ctx context.Context, cfg Config, log *logger.Logger) (*Connection, error) {
	if log == nil {
		log = logger.Nop()
	}
	log = log.With(logger.Component("postgres"))

	pc, err := cfg.PoolConfig()
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	log.Info("postgres connected",
		logger.String("database", pc.ConnConfig.Database),
		logger.Int("max_conns", int(pc.MaxConns)),
	)
	return &Connection{pool: pool, queryTimeout: cfg.QueryTimeout, log: log}, nil
}

// Close closes the pool. Safe to call more than once.
func (c *Connection) Close() {
	if c.closed.CompareAndSwap(false, true) {
		c.pool.Close()
		c.log.Debug("postgres pool closed")
	}
}

// Ping checks that the database is reachable.
func (c *Connection) Ping(ctx context.Context) error {
	ctx, cancel, err := c.begin(ctx)
	if err != nil {
		return err
	}
	defer cancel()
	return c.pool.Ping(ctx)
}

// begin rejects calls on a closed pool and applies the query timeout when
// ctx has no deadline.
func (c *Connection) begin(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if c.closed.Load() {
		return nil, nil, ErrConnectionClosed
	}
	if _, ok := ctx.Deadline(); ok || c.queryTimeout <= 0 {
		return ctx, func() {}, nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.queryTimeout)
	return ctx, cancel, nil
}

// WithTx runs fn in a read-committed transaction, committing when fn
// returns nil and rolling back otherwise. A panic in fn rolls back and is
// re-raised.
func (c *Connection) WithTx(ctx context.Context, fn func(pgx.Tx) error) (err error) {
	ctx, cancel, err := c.begin(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	tx, err := c.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				c.log.Warn("rollback failed", logger.Err(rbErr))
			}
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

// Exec runs a statement that returns no rows.
func (c *Connection) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	ctx, cancel, err := c.begin(ctx)
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	defer cancel()
	return c.pool.Exec(ctx, sql, args...)
}

// QueryRow scans a single row into dest.
func (c *Connection) QueryRow(ctx context.Context, sql string, args []any, dest ...any) error {
	ctx, cancel, err := c.begin(ctx)
	if err != nil {
		return err
	}
	defer cancel()
	return c.pool.QueryRow(ctx, sql, args...).Scan(dest...)
}

// Query collects every row with scan.
func Query[T any](ctx context.Context, c *Connection, scan pgx.RowToFunc[T], sql string, args ...any) ([]T, error) {
	ctx, cancel, err := c.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	rows, err := c.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scan)
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

const (
	codeForeignKeyViolation = "23503"
	codeUniqueViolation     = "23505"
	codeCheckViolation      = "23514"
)

func sqlState(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func IsUniqueViolation(err error) bool     { return sqlState(err) == codeUniqueViolation }
func IsForeignKeyViolation(err error) bool { return sqlState(err) == codeForeignKeyViolation }
func IsCheckViolation(err error) bool      { return sqlState(err) == codeCheckViolation }
func IsNoRows(err error) bool              { return errors.Is(err, pgx.ErrNoRows) }

// storeError maps a driver error onto a domain kind. A CHECK violation means
// a write would have broken a table invariant (negative coins, a streak
// shorter than its record); anything else is treated as the store being
// unavailable.
func storeError(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsCheckViolation(err) {
		var pgErr *pgconn.PgError
		errors.As(err, &pgErr)
		return shared.WrapError("postgres", op, shared.ErrInvariantViolation, pgErr.ConstraintName, err)
	}
	return shared.StoreError("postgres", op, err)
}

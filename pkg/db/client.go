package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketcore-backend/pkg/config"
	"github.com/angelmondragon/marketcore-backend/pkg/logger"
)

const (
	defaultTxAttempts   = 5
	defaultTxRetryDelay = 25 * time.Millisecond
)

// Client wraps the shared GORM connection and runs atomic units of work on it.
type Client struct {
	conn        *gorm.DB
	logg        *logger.Logger
	isolation   sql.IsolationLevel
	maxAttempts int
	retryDelay  time.Duration
}

// Pinger exposes the health check surface.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Option tweaks a Client built with Wrap.
type Option func(*Client)

// WithRetry overrides the serialization retry budget.
func WithRetry(attempts int, delay time.Duration) Option {
	return func(c *Client) {
		if attempts > 0 {
			c.maxAttempts = attempts
		}
		if delay >= 0 {
			c.retryDelay = delay
		}
	}
}

// WithLogger attaches a logger used to report retried units.
func WithLogger(logg *logger.Logger) Option {
	return func(c *Client) { c.logg = logg }
}

// New boots a GORM client using the provided configuration.
func New(ctx context.Context, cfg config.DBConfig, logg *logger.Logger) (*Client, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN is required")
	}

	dialector := postgres.New(postgres.Config{
		DSN:                  cfg.DSN,
		PreferSimpleProtocol: true,
	})

	conn, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 newQueryLogger(logg, cfg.SlowQuery),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening db connection: %w", err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, fmt.Errorf("getting sql db handle: %w", err)
	}
	applyPoolSettings(sqlDB, cfg)

	if logg != nil {
		logg.Info(ctx, "database connection established")
	}

	return Wrap(conn, WithLogger(logg), WithRetry(cfg.TxMaxAttempts, cfg.TxRetryDelay)), nil
}

// Wrap builds a Client around an existing connection. Postgres units run at
// SERIALIZABLE; other dialects (sqlite in tests) keep their default level.
func Wrap(conn *gorm.DB, opts ...Option) *Client {
	c := &Client{
		conn:        conn,
		isolation:   sql.LevelDefault,
		maxAttempts: defaultTxAttempts,
		retryDelay:  defaultTxRetryDelay,
	}
	if conn != nil && conn.Dialector != nil && conn.Dialector.Name() == "postgres" {
		c.isolation = sql.LevelSerializable
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func applyPoolSettings(sqlDB *sql.DB, cfg config.DBConfig) {
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if cfg.ConnMaxIdleTime > 0 {
		sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
}

// DB returns the underlying GORM connection.
func (c *Client) DB() *gorm.DB {
	return c.conn
}

// Ping verifies the datasource is reachable.
func (c *Client) Ping(ctx context.Context) error {
	sqlDB, err := c.conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close shuts down the pooled connections.
func (c *Client) Close() error {
	sqlDB, err := c.conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// WithTx executes fn inside a transaction, rolling back on error/panic.
// Serialization failures, deadlocks and stale optimistic writes restart fn
// from scratch, so fn must not hold state across attempts.
func (c *Client) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	attempt := 0
	err := retry.Do(ctx, c.backoff(), func(ctx context.Context) error {
		attempt++
		err := c.runOnce(ctx, fn)
		if err == nil || !IsRetryable(err) {
			return err
		}
		if c.logg != nil {
			c.logg.Warn(c.logg.WithFields(ctx, map[string]any{"attempt": attempt, "max_attempts": c.maxAttempts}), "transaction conflict, retrying")
		}
		return retry.RetryableError(err)
	})
	if err != nil && attempt >= c.maxAttempts && IsRetryable(err) {
		return fmt.Errorf("transaction retries exhausted: %w", err)
	}
	return err
}

// backoff grows the pause between replays of a conflicting unit.
func (c *Client) backoff() retry.Backoff {
	base := c.retryDelay
	if base <= 0 {
		base = time.Millisecond
	}
	return retry.WithMaxRetries(uint64(c.maxAttempts-1), retry.NewExponential(base))
}

func (c *Client) runOnce(ctx context.Context, fn func(tx *gorm.DB) error) (err error) {
	var txOpts *sql.TxOptions
	if c.isolation != sql.LevelDefault {
		txOpts = &sql.TxOptions{Isolation: c.isolation}
	}

	var tx *gorm.DB
	if txOpts != nil {
		tx = c.conn.WithContext(ctx).Begin(txOpts)
	} else {
		tx = c.conn.WithContext(ctx).Begin()
	}
	if tx.Error != nil {
		return tx.Error
	}

	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	return tx.Commit().Error
}

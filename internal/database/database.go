// Package database provides the durable stores: the paired wallet session in
// Badger, Redis or Postgres, and the transfer history in Postgres.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

// Database defines the interface for database operations
type Database interface {
	Ping(ctx context.Context) error
	Close() error
	WithTx(ctx context.Context, fn func(pgx.Tx) error) error
	GetPool() *pgxpool.Pool
}

// Config holds database configuration
type Config struct {
	Host        string
	Port        int
	User        string
	Password    string
	Database    string
	MaxConns    int32
	MaxIdleTime time.Duration
	HealthCheck time.Duration
	SSLMode     string
}

// PostgresDB implements the Database interface
type PostgresDB struct {
	pool   *pgxpool.Pool
	cfg    Config
	logger logrus.FieldLogger
	stop   chan struct{}
}

// New creates a new database connection
func New(ctx context.Context, cfg Config, logger logrus.FieldLogger) (*PostgresDB, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	poolConfig, err := pgxpool.ParseConfig(fmt.Sprintf("sslmode=%s", sslMode))
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.ConnConfig.Host = cfg.Host
	poolConfig.ConnConfig.Port = uint16(cfg.Port)
	poolConfig.ConnConfig.User = cfg.User
	poolConfig.ConnConfig.Password = cfg.Password
	poolConfig.ConnConfig.Database = cfg.Database

	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MaxIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	db := &PostgresDB{
		pool:   pool,
		cfg:    cfg,
		logger: logger.WithField("component", "postgres"),
		stop:   make(chan struct{}),
	}

	if cfg.HealthCheck > 0 {
		go db.startHealthCheck()
	}

	return db, nil
}

// Ping checks database connectivity
func (db *PostgresDB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// Close closes the database connection
func (db *PostgresDB) Close() error {
	select {
	case <-db.stop:
		return nil
	default:
		close(db.stop)
	}
	db.pool.Close()
	return nil
}

// GetPool returns the connection pool
func (db *PostgresDB) GetPool() *pgxpool.Pool {
	return db.pool
}

func (db *PostgresDB) startHealthCheck() {
	ticker := time.NewTicker(db.cfg.HealthCheck)
	defer ticker.Stop()

	for {
		select {
		case <-db.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := db.Ping(ctx); err != nil {
				db.logger.WithError(err).Warn("Database health check failed")
			}
			cancel()
		}
	}
}

// WithTx executes a function within a transaction
func (db *PostgresDB) WithTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback(ctx)
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("rolling back transaction: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	return nil
}

// Validate validates the database configuration
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.User == "" {
		return fmt.Errorf("user is required")
	}
	if c.Database == "" {
		return fmt.Errorf("database name is required")
	}
	if c.MaxConns < 0 {
		return fmt.Errorf("invalid max connections: %d", c.MaxConns)
	}
	return nil
}

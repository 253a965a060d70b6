// Package storage owns the database connection and the domain-schema
// repositories: goals, activity log. The runtime tables live in
// aria_engine and are managed by their own stores; the litellm schema is
// gateway-owned and opaque to this process.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// PoolConfig sizes the shared connection pool. The default pool holds the
// scheduler's worker count plus two.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultPoolConfig returns the standard pool sizing.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    6,
		MaxIdleConns:    3,
		ConnMaxLifetime: 30 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// Open connects to Postgres and verifies the connection.
func Open(dsn string, config PoolConfig) (*sql.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	if config.MaxOpenConns <= 0 {
		config = DefaultPoolConfig()
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), config.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

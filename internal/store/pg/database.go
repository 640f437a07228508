// Package pg wraps the PostgreSQL connection pool that holds every durable
// row Bancho needs (users, stats, messages, matches, badges, reports),
// everything else living in internal/cache's Redis. Grounded on
// internal/storage/pg/database.go's sql.Open + Ping + goose pattern from the
// teacher repo.
package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/akatsuki/bancho/internal/config"
)

// DB is the shared Postgres handle every *Store type holds.
type DB struct {
	*sql.DB
}

// Open connects, tunes the pool, pings, and runs pending migrations.
func Open(cfg *config.Config) (*DB, error) {
	conn, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	conn.SetMaxOpenConns(cfg.DBMaxConnections)
	conn.SetMaxIdleConns(cfg.DBMaxConnections)
	conn.SetConnMaxLifetime(30 * time.Minute)

	waitTimeout := time.Duration(cfg.DBWaitTimeoutSecs) * time.Second
	if waitTimeout <= 0 {
		waitTimeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if err := RunMigrations(conn); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &DB{DB: conn}, nil
}

// Close releases the underlying connection pool.
func (d *DB) Close() error {
	return d.DB.Close()
}

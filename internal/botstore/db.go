// Package botstore is the Postgres-backed store for Bot identities and
// their BotParameters: the tuning knobs re-read fresh at the start of every
// chat turn. Chat session state itself lives in internal/cache, not here.
package botstore

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"log/slog"
	"time"

	"criabot-gateway/internal/apperr"

	_ "github.com/lib/pq"
)

// DB holds the connection pool backing the bot store.
type DB struct {
	*sql.DB
}

// Config configures the connection pool.
type Config struct {
	URL             string
	MaxConnections  int
	MaxIdleTime     time.Duration
	ConnMaxLifetime time.Duration
}

// Connect opens the pool and retries a handful of times so the gateway can
// start up alongside a Postgres container that isn't ready yet.
func Connect(cfg Config) (*DB, error) {
	if cfg.URL == "" {
		return nil, apperr.New(apperr.ErrMissingEnvVar, "DATABASE_URL environment variable is required")
	}

	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, apperr.New(apperr.ErrDatabaseError, fmt.Sprintf("failed to open database connection: %v", err))
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxConnections / 2)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.MaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		if err := db.PingContext(ctx); err != nil {
			lastErr = err
			log.Printf("database connection attempt %d/3 failed: %v", attempt, err)
			if attempt < 3 {
				time.Sleep(2 * time.Second)
				continue
			}
		} else {
			lastErr = nil
			break
		}
	}

	if lastErr != nil {
		db.Close()
		return nil, apperr.New(apperr.ErrDatabaseError, fmt.Sprintf("failed to connect to database after 3 attempts: %v", lastErr))
	}

	slog.Info("connected to bot parameter store")
	return &DB{db}, nil
}

// Close closes the connection pool.
func (db *DB) Close() error {
	if db.DB != nil {
		return db.DB.Close()
	}
	return nil
}

// Transaction runs fn inside a transaction, rolling back on error or panic.
func (db *DB) Transaction(fn func(*sql.Tx) error) error {
	tx, err := db.Begin()
	if err != nil {
		return apperr.Wrap(err, apperr.ErrDatabaseError)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return apperr.Wrap(err, apperr.ErrDatabaseError)
	}

	return nil
}

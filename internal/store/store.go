// Package store provides relational persistence for fetcharr entities on
// SQLite via database/sql.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure Go driver
)

var (
	// ErrNotFound is returned when an entity lookup fails.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned on unique-constraint style violations.
	ErrConflict = errors.New("conflict")
	// ErrInvalidTransition is returned when a task status guard rejects a change.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Config defines SQLite operational parameters.
type Config struct {
	BusyTimeout  time.Duration
	MaxOpenConns int
	// NetworkShare switches journaling from WAL to DELETE for deployments
	// where the database file lives on a network share.
	NetworkShare bool
}

// DefaultConfig returns the recommended SQLite configuration.
func DefaultConfig() Config {
	return Config{
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 10,
	}
}

// Store wraps the database handle and exposes typed operations.
type Store struct {
	db *sql.DB
}

// Open initialises a SQLite connection pool with mandatory PRAGMAs and
// applies pending migrations.
func Open(dbPath string, cfg Config) (*Store, error) {
	journal := "WAL"
	if cfg.NetworkShare {
		journal = "DELETE"
	}
	// _pragma in the DSN applies to every connection in the pool.
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(%s)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)",
		dbPath, journal, cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open failed: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxOpenConns)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping failed: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// withTx runs fn inside a transaction, rolling back on error.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func unixToTime(v int64) time.Time {
	return time.Unix(v, 0).UTC()
}

func unixToTimePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := unixToTime(v.Int64)
	return &t
}

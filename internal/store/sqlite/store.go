package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

// Config configures the SQLite store.
type Config struct {
	Path string // path to the database file, e.g. "data/confluence.db"
}

// Store is the single embedded database behind the price series, the
// watchlist and the signal ledger. One connection serialises all writers;
// WAL mode lets other processes read concurrently.
type Store struct {
	db *sql.DB
}

// DB returns the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// Open opens (or creates) the database with WAL mode and ensures the schema.
func Open(cfg Config) (*Store, error) {
	db, err := sql.Open("sqlite3", cfg.Path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Info().Str("component", "sqlite").Str("path", cfg.Path).Msg("opened database")
	return &Store{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS price_bars (
			asset    TEXT    NOT NULL,
			interval TEXT    NOT NULL,
			ts       INTEGER NOT NULL,
			open     REAL    NOT NULL,
			high     REAL    NOT NULL,
			low      REAL    NOT NULL,
			close    REAL    NOT NULL,
			volume   REAL    NOT NULL DEFAULT 0,
			PRIMARY KEY (asset, interval, ts)
		);

		CREATE TABLE IF NOT EXISTS watchlist (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			asset     TEXT    NOT NULL,
			interval  TEXT    NOT NULL,
			direction TEXT    NOT NULL,
			notes     TEXT    NOT NULL DEFAULT '',
			added_at  INTEGER NOT NULL,
			UNIQUE (asset, interval, direction)
		);

		CREATE TABLE IF NOT EXISTS signals (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			asset          TEXT    NOT NULL,
			interval       TEXT    NOT NULL,
			ts             INTEGER NOT NULL,
			direction      TEXT    NOT NULL,
			score          TEXT    NOT NULL,
			score_value    REAL    NOT NULL,
			classification TEXT    NOT NULL,
			events         TEXT    NOT NULL,
			volume_bonus   INTEGER NOT NULL DEFAULT 0,
			volume_level   TEXT    NOT NULL DEFAULT '',
			volume_ratio   REAL    NOT NULL DEFAULT 0,
			details        TEXT    NOT NULL DEFAULT '',
			price          REAL    NOT NULL,
			notified       INTEGER NOT NULL DEFAULT 0,
			created_at     INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_signals_pair_ts ON signals (asset, interval, ts);
		CREATE INDEX IF NOT EXISTS idx_signals_ts ON signals (ts);
		CREATE INDEX IF NOT EXISTS idx_signals_pending ON signals (notified, score_value);
	`)
	return err
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

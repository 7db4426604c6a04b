package model

import (
	"context"
	"errors"
)

// ── Storage Port Interfaces ──
// These decouple the engine, ledger and dashboard from the concrete SQLite store.

// ErrInsufficientData is returned by BarReader when fewer bars exist than the
// caller requires.
var ErrInsufficientData = errors.New("insufficient data")

// ErrDuplicateEntry is returned when a watchlist entry already exists for
// the same (asset, interval, direction).
var ErrDuplicateEntry = errors.New("watchlist entry already exists")

// ErrEntryNotFound is returned when a watchlist entry to move does not exist.
var ErrEntryNotFound = errors.New("watchlist entry not found")

// BarReader reads price series.
type BarReader interface {
	// GetBars returns up to limit most recent bars, oldest first. It fails
	// with ErrInsufficientData when fewer than minBars exist.
	GetBars(ctx context.Context, asset string, iv Interval, limit, minBars int) (Series, error)
}

// BarWriter writes price series. Bars are unique on (asset, interval, timestamp).
type BarWriter interface {
	UpsertBars(ctx context.Context, bars []PriceBar) (int, error)
	// DeleteBarsBefore removes bars of interval iv with timestamp < ts.
	DeleteBarsBefore(ctx context.Context, iv Interval, ts int64) (int64, error)
}

// WatchlistStore manages watchlist entries.
type WatchlistStore interface {
	ListEntries(ctx context.Context) ([]WatchlistEntry, error)
	AddEntry(ctx context.Context, e WatchlistEntry) (WatchlistEntry, error)
	RemoveEntry(ctx context.Context, asset string, iv Interval, dir Direction) (bool, error)
	// MoveEntry replaces from with to atomically. It fails with
	// ErrEntryNotFound if from does not exist and ErrDuplicateEntry if to does.
	MoveEntry(ctx context.Context, from, to WatchlistEntry) (WatchlistEntry, error)
}

// SignalStore persists signal records.
type SignalStore interface {
	// InsertIfAbsent stores rec unless a record for the same (asset, interval)
	// has a timestamp in [windowStart, windowEnd]. The check and the insert
	// happen in one transaction.
	InsertIfAbsent(ctx context.Context, rec SignalRecord, windowStart, windowEnd int64) (id int64, inserted bool, err error)

	// Unnotified returns records with Notified=false and score >= minScore, oldest first.
	Unnotified(ctx context.Context, minScore float64, limit int) ([]SignalRecord, error)

	// MarkNotified flips the notified flag for id.
	MarkNotified(ctx context.Context, id int64) error

	// Recent returns records with timestamp > since, oldest first.
	Recent(ctx context.Context, since int64, limit int) ([]SignalRecord, error)

	// After returns records with id > afterID and timestamp > since, in
	// insertion order.
	After(ctx context.Context, afterID, since int64, limit int) ([]SignalRecord, error)

	// LastSignalID returns the highest record id, 0 when there are none.
	LastSignalID(ctx context.Context) (int64, error)

	// Stats summarises records with timestamp >= since.
	Stats(ctx context.Context, since int64) (SignalStats, error)

	// DeleteSignalsBefore removes records with timestamp < ts.
	DeleteSignalsBefore(ctx context.Context, ts int64) (int64, error)
}

// SignalPublisher fans accepted records out to live consumers.
type SignalPublisher interface {
	Publish(ctx context.Context, rec SignalRecord) error
}

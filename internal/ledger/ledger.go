// Package ledger decides which confluence verdicts become persisted signal
// records, and serves those records to the notifier and the dashboard.
package ledger

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"confluence-signals/internal/model"
)

// Config holds the ledger thresholds.
type Config struct {
	StoreThreshold  decimal.Decimal // minimum score persisted (GOOD)
	NotifyThreshold decimal.Decimal // minimum score pushed to notifiers (EXCELLENT)
	DedupWindow     time.Duration   // symmetric window around a signal's bar
	Retention       time.Duration
}

// DefaultConfig returns the 1.2 / 2.5 thresholds with a 4h dedup window and
// 30 day retention.
func DefaultConfig() Config {
	return Config{
		StoreThreshold:  decimal.RequireFromString("1.2"),
		NotifyThreshold: decimal.RequireFromString("2.5"),
		DedupWindow:     4 * time.Hour,
		Retention:       30 * 24 * time.Hour,
	}
}

// Rejection says why a verdict was not persisted. The zero value means the
// verdict was accepted.
type Rejection string

const (
	Accepted        Rejection = ""
	RejectLowScore  Rejection = "below_threshold"
	RejectDirection Rejection = "direction_mismatch"
	RejectDuplicate Rejection = "duplicate"
	RejectEmpty     Rejection = "empty"
)

// PersistenceError wraps a storage failure while accepting a verdict. The
// verdict is dropped; the next cycle re-derives it.
type PersistenceError struct {
	Key string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("ledger: persist %s: %v", e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Ledger applies the storage gates to verdicts. Single writer: callers must
// not Accept concurrently for the same pair.
type Ledger struct {
	store model.SignalStore
	pub   model.SignalPublisher
	cfg   Config
	now   func() time.Time
}

// Option customises a Ledger.
type Option func(*Ledger)

// WithPublisher fans accepted records out after they are committed.
func WithPublisher(p model.SignalPublisher) Option {
	return func(l *Ledger) { l.pub = p }
}

// WithClock overrides the wall clock used for created_at and retention.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New creates a Ledger over store.
func New(store model.SignalStore, cfg Config, opts ...Option) *Ledger {
	l := &Ledger{store: store, cfg: cfg, now: time.Now}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Accept persists v as a new record when it clears the score gate, matches
// the watchlist direction and has no neighbour within the dedup window.
// Rejections are not errors.
func (l *Ledger) Accept(ctx context.Context, v *model.Verdict, want model.Direction) (*model.SignalRecord, Rejection, error) {
	if v == nil || len(v.Events) == 0 {
		return nil, RejectEmpty, nil
	}
	if v.Score.LessThan(l.cfg.StoreThreshold) {
		return nil, RejectLowScore, nil
	}
	if v.Direction != want {
		return nil, RejectDirection, nil
	}

	rec := NewRecord(v, l.now())
	window := int64(l.cfg.DedupWindow / time.Second)
	id, inserted, err := l.store.InsertIfAbsent(ctx, rec, v.Timestamp-window, v.Timestamp+window)
	if err != nil {
		return nil, Accepted, &PersistenceError{Key: v.Key(), Err: err}
	}
	if !inserted {
		return nil, RejectDuplicate, nil
	}
	rec.ID = id

	if l.pub != nil {
		if err := l.pub.Publish(ctx, rec); err != nil {
			log.Warn().Err(err).Str("component", "ledger").Str("pair", v.Key()).Int64("id", id).Msg("publish failed")
		}
	}
	return &rec, Accepted, nil
}

// NewRecord derives the persisted form of v.
func NewRecord(v *model.Verdict, now time.Time) model.SignalRecord {
	rec := model.SignalRecord{
		Asset:          v.Asset,
		Interval:       v.Interval,
		Timestamp:      v.Timestamp,
		Direction:      v.Direction,
		Score:          v.Score,
		Classification: v.Classification,
		Events:         append([]model.ScoredEvent(nil), v.Events...),
		VolumeBonus:    v.VolumeBonus,
		PriceAtSignal:  v.Close,
		CreatedAt:      now.Unix(),
	}
	if ve, ok := v.VolumeEvent(); ok {
		rec.VolumeLevel = ve.Metadata["level"]
		rec.VolumeRatio, _ = strconv.ParseFloat(ve.Metadata["ratio"], 64)
	}
	factors := v.Factors()
	if len(factors) > 3 {
		factors = factors[:3]
	}
	rec.Details = strings.Join(factors, "; ")
	return rec
}

// PendingNotifications returns unnotified records at or above the notify
// threshold, oldest first.
func (l *Ledger) PendingNotifications(ctx context.Context, limit int) ([]model.SignalRecord, error) {
	return l.store.Unnotified(ctx, l.cfg.NotifyThreshold.InexactFloat64(), limit)
}

// MarkNotified records a successful delivery.
func (l *Ledger) MarkNotified(ctx context.Context, id int64) error {
	return l.store.MarkNotified(ctx, id)
}

// RecentSignals returns records with timestamp > since, oldest first.
func (l *Ledger) RecentSignals(ctx context.Context, since int64, limit int) ([]model.SignalRecord, error) {
	return l.store.Recent(ctx, since, limit)
}

// SignalsAfter pages records in insertion order, restricted to timestamp >
// since. The returned cursor is the afterID of the next page. A record
// written after the call always has an id above the cursor, whatever its bar
// timestamp, so polling from the cursor may repeat a record but never skips
// one.
func (l *Ledger) SignalsAfter(ctx context.Context, afterID, since int64, limit int) ([]model.SignalRecord, int64, error) {
	head, err := l.store.LastSignalID(ctx)
	if err != nil {
		return nil, afterID, fmt.Errorf("ledger page: %w", err)
	}
	recs, err := l.store.After(ctx, afterID, since, limit)
	if err != nil {
		return nil, afterID, fmt.Errorf("ledger page: %w", err)
	}
	cursor := max(afterID, head)
	if limit > 0 && len(recs) == limit {
		cursor = recs[len(recs)-1].ID
	}
	return recs, cursor, nil
}

// Stats summarises records since the given unix second.
func (l *Ledger) Stats(ctx context.Context, since int64) (model.SignalStats, error) {
	return l.store.Stats(ctx, since)
}

// Cleanup deletes records older than the retention period.
func (l *Ledger) Cleanup(ctx context.Context) (int64, error) {
	if l.cfg.Retention <= 0 {
		return 0, nil
	}
	cutoff := l.now().Add(-l.cfg.Retention).Unix()
	n, err := l.store.DeleteSignalsBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("ledger cleanup: %w", err)
	}
	return n, nil
}

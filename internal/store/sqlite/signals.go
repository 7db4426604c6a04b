package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"confluence-signals/internal/model"
)

const signalColumns = `id, asset, interval, ts, direction, score, classification, events,
	volume_bonus, volume_level, volume_ratio, details, price, notified, created_at`

// InsertIfAbsent stores rec unless a record for the same (asset, interval)
// already has a timestamp in [windowStart, windowEnd]. Check and insert run
// in one transaction on the single writer connection.
func (s *Store) InsertIfAbsent(ctx context.Context, rec model.SignalRecord, windowStart, windowEnd int64) (int64, bool, error) {
	events, err := json.Marshal(rec.Events)
	if err != nil {
		return 0, false, fmt.Errorf("marshal events: %w", err)
	}
	if rec.CreatedAt == 0 {
		rec.CreatedAt = time.Now().Unix()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("sqlite begin: %w", err)
	}
	defer tx.Rollback()

	var existing int
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM signals
		WHERE asset = ? AND interval = ? AND ts BETWEEN ? AND ?
	`, rec.Asset, string(rec.Interval), windowStart, windowEnd).Scan(&existing)
	if err != nil {
		return 0, false, fmt.Errorf("sqlite dedup check: %w", err)
	}
	if existing > 0 {
		return 0, false, nil
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO signals (asset, interval, ts, direction, score, score_value, classification, events,
			volume_bonus, volume_level, volume_ratio, details, price, notified, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.Asset, string(rec.Interval), rec.Timestamp, string(rec.Direction),
		rec.Score.String(), rec.Score.InexactFloat64(), rec.Classification.String(), string(events),
		rec.VolumeBonus, rec.VolumeLevel, rec.VolumeRatio, rec.Details, rec.PriceAtSignal, rec.Notified, rec.CreatedAt)
	if err != nil {
		return 0, false, fmt.Errorf("sqlite insert signal: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, false, err
	}
	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("sqlite commit signal: %w", err)
	}
	return id, true, nil
}

// Unnotified returns pending records at or above minScore, oldest first.
func (s *Store) Unnotified(ctx context.Context, minScore float64, limit int) ([]model.SignalRecord, error) {
	return s.querySignals(ctx, `
		SELECT `+signalColumns+` FROM signals
		WHERE notified = 0 AND score_value >= ?
		ORDER BY ts ASC, id ASC
		LIMIT ?
	`, minScore, limit)
}

// MarkNotified flips the notified flag.
func (s *Store) MarkNotified(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE signals SET notified = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite mark notified: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("sqlite mark notified: signal %d not found", id)
	}
	return nil
}

// Recent returns records newer than since, oldest first, for incremental
// polling.
func (s *Store) Recent(ctx context.Context, since int64, limit int) ([]model.SignalRecord, error) {
	return s.querySignals(ctx, `
		SELECT `+signalColumns+` FROM signals
		WHERE ts > ?
		ORDER BY ts ASC, id ASC
		LIMIT ?
	`, since, limit)
}

// After returns records with id > afterID and ts > since in insertion
// order.
func (s *Store) After(ctx context.Context, afterID, since int64, limit int) ([]model.SignalRecord, error) {
	return s.querySignals(ctx, `
		SELECT `+signalColumns+` FROM signals
		WHERE id > ? AND ts > ?
		ORDER BY id ASC
		LIMIT ?
	`, afterID, since, limit)
}

// LastSignalID returns the highest record id, or 0 for an empty table.
func (s *Store) LastSignalID(ctx context.Context) (int64, error) {
	var id int64
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) FROM signals`).Scan(&id); err != nil {
		return 0, fmt.Errorf("sqlite last signal id: %w", err)
	}
	return id, nil
}

// Stats summarises records with ts >= since.
func (s *Store) Stats(ctx context.Context, since int64) (model.SignalStats, error) {
	stats := model.SignalStats{Since: since, ByDirection: make(map[model.Direction]int)}

	rows, err := s.db.QueryContext(ctx, `
		SELECT direction, classification, COUNT(*)
		FROM signals WHERE ts >= ?
		GROUP BY direction, classification
	`, since)
	if err != nil {
		return stats, fmt.Errorf("sqlite stats: %w", err)
	}
	for rows.Next() {
		var dir, class string
		var n int
		if err := rows.Scan(&dir, &class, &n); err != nil {
			rows.Close()
			return stats, fmt.Errorf("sqlite scan stats: %w", err)
		}
		stats.Total += n
		stats.ByDirection[model.Direction(dir)] += n
		switch c, _ := model.ParseClassification(class); c {
		case model.Perfect:
			stats.Perfect += n
		case model.Excellent:
			stats.Excellent += n
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return stats, err
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT asset, COUNT(*) AS n
		FROM signals WHERE ts >= ?
		GROUP BY asset
		ORDER BY n DESC, asset ASC
		LIMIT 5
	`, since)
	if err != nil {
		return stats, fmt.Errorf("sqlite top assets: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var ac model.AssetCount
		if err := rows.Scan(&ac.Asset, &ac.Count); err != nil {
			return stats, fmt.Errorf("sqlite scan top assets: %w", err)
		}
		stats.TopAssets = append(stats.TopAssets, ac)
	}
	return stats, rows.Err()
}

// DeleteSignalsBefore removes records with ts < cutoff.
func (s *Store) DeleteSignalsBefore(ctx context.Context, cutoff int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM signals WHERE ts < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sqlite delete signals: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) querySignals(ctx context.Context, query string, args ...any) ([]model.SignalRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite query signals: %w", err)
	}
	defer rows.Close()

	var out []model.SignalRecord
	for rows.Next() {
		rec, err := scanSignal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanSignal(rows *sql.Rows) (model.SignalRecord, error) {
	var (
		rec                         model.SignalRecord
		iv, dir, score, class, evts string
	)
	err := rows.Scan(&rec.ID, &rec.Asset, &iv, &rec.Timestamp, &dir, &score, &class, &evts,
		&rec.VolumeBonus, &rec.VolumeLevel, &rec.VolumeRatio, &rec.Details, &rec.PriceAtSignal, &rec.Notified, &rec.CreatedAt)
	if err != nil {
		return rec, fmt.Errorf("sqlite scan signal: %w", err)
	}
	rec.Interval = model.Interval(iv)
	rec.Direction = model.Direction(dir)
	if rec.Score, err = decimal.NewFromString(score); err != nil {
		return rec, fmt.Errorf("signal %d score %q: %w", rec.ID, score, err)
	}
	if rec.Classification, err = model.ParseClassification(class); err != nil {
		return rec, fmt.Errorf("signal %d: %w", rec.ID, err)
	}
	if err := json.Unmarshal([]byte(evts), &rec.Events); err != nil {
		return rec, fmt.Errorf("signal %d events: %w", rec.ID, err)
	}
	return rec, nil
}

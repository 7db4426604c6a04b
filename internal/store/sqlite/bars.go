package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"confluence-signals/internal/model"
)

// UpsertBars writes bars in one transaction, replacing existing rows with
// the same (asset, interval, timestamp). It returns the number written.
func (s *Store) UpsertBars(ctx context.Context, bars []model.PriceBar) (int, error) {
	if len(bars) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlite begin: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO price_bars (asset, interval, ts, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("sqlite prepare price_bars: %w", err)
	}
	defer stmt.Close()

	for _, b := range bars {
		if _, err := stmt.ExecContext(ctx, b.Asset, string(b.Interval), b.Timestamp, b.Open, b.High, b.Low, b.Close, b.Volume); err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("sqlite insert price_bars: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlite commit price_bars: %w", err)
	}
	return len(bars), nil
}

// GetBars returns up to limit most recent bars, oldest first. Fewer than
// minBars rows yields model.ErrInsufficientData.
func (s *Store) GetBars(ctx context.Context, asset string, iv model.Interval, limit, minBars int) (model.Series, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, open, high, low, close, volume
		FROM price_bars
		WHERE asset = ? AND interval = ?
		ORDER BY ts DESC
		LIMIT ?
	`, asset, string(iv), limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite query price_bars: %w", err)
	}
	defer rows.Close()

	var series model.Series
	for rows.Next() {
		b := model.PriceBar{Asset: asset, Interval: iv}
		if err := rows.Scan(&b.Timestamp, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("sqlite scan price_bars: %w", err)
		}
		series = append(series, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(series) < minBars {
		return nil, fmt.Errorf("%w: %s has %d bars, need %d", model.ErrInsufficientData, model.PairKey(asset, iv), len(series), minBars)
	}

	for i, j := 0, len(series)-1; i < j; i, j = i+1, j-1 {
		series[i], series[j] = series[j], series[i]
	}
	return series, nil
}

// LastBarTime returns the latest stored bar timestamp for a pair, or 0.
func (s *Store) LastBarTime(ctx context.Context, asset string, iv model.Interval) (int64, error) {
	var ts sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(ts) FROM price_bars WHERE asset = ? AND interval = ?`,
		asset, string(iv),
	).Scan(&ts)
	if err != nil {
		return 0, err
	}
	return ts.Int64, nil
}

// LatestBarTime returns the newest bar timestamp across all pairs, or 0.
func (s *Store) LatestBarTime(ctx context.Context) (int64, error) {
	var ts sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(ts) FROM price_bars`).Scan(&ts); err != nil {
		return 0, err
	}
	return ts.Int64, nil
}

// DeleteBarsBefore removes bars of one interval with ts < cutoff.
func (s *Store) DeleteBarsBefore(ctx context.Context, iv model.Interval, cutoff int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM price_bars WHERE interval = ? AND ts < ?`, string(iv), cutoff)
	if err != nil {
		return 0, fmt.Errorf("sqlite delete price_bars: %w", err)
	}
	return res.RowsAffected()
}

package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"confluence-signals/internal/model"
)

// ListEntries returns every watchlist entry ordered by asset, interval and
// direction.
func (s *Store) ListEntries(ctx context.Context) ([]model.WatchlistEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, asset, interval, direction, notes, added_at
		FROM watchlist
		ORDER BY asset, interval, direction
	`)
	if err != nil {
		return nil, fmt.Errorf("sqlite query watchlist: %w", err)
	}
	defer rows.Close()

	var out []model.WatchlistEntry
	for rows.Next() {
		var e model.WatchlistEntry
		var iv, dir string
		if err := rows.Scan(&e.ID, &e.Asset, &iv, &dir, &e.Notes, &e.AddedAt); err != nil {
			return nil, fmt.Errorf("sqlite scan watchlist: %w", err)
		}
		e.Interval = model.Interval(iv)
		e.Direction = model.Direction(dir)
		out = append(out, e)
	}
	return out, rows.Err()
}

// AddEntry inserts e. A duplicate (asset, interval, direction) fails with
// model.ErrDuplicateEntry.
func (s *Store) AddEntry(ctx context.Context, e model.WatchlistEntry) (model.WatchlistEntry, error) {
	return insertEntry(ctx, s.db, e)
}

// RemoveEntry deletes the entry and reports whether it existed.
func (s *Store) RemoveEntry(ctx context.Context, asset string, iv model.Interval, dir model.Direction) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM watchlist WHERE asset = ? AND interval = ? AND direction = ?`,
		asset, string(iv), string(dir),
	)
	if err != nil {
		return false, fmt.Errorf("sqlite delete watchlist: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// MoveEntry deletes from and inserts to in one transaction.
func (s *Store) MoveEntry(ctx context.Context, from, to model.WatchlistEntry) (model.WatchlistEntry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.WatchlistEntry{}, fmt.Errorf("sqlite begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`DELETE FROM watchlist WHERE asset = ? AND interval = ? AND direction = ?`,
		from.Asset, string(from.Interval), string(from.Direction),
	)
	if err != nil {
		return model.WatchlistEntry{}, fmt.Errorf("sqlite delete watchlist: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.WatchlistEntry{}, fmt.Errorf("%w: %s %s", model.ErrEntryNotFound, from.Key(), from.Direction)
	}

	if to.Notes == "" {
		to.Notes = from.Notes
	}
	out, err := insertEntry(ctx, tx, to)
	if err != nil {
		return model.WatchlistEntry{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.WatchlistEntry{}, fmt.Errorf("sqlite commit watchlist: %w", err)
	}
	return out, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertEntry(ctx context.Context, db execer, e model.WatchlistEntry) (model.WatchlistEntry, error) {
	if e.AddedAt == 0 {
		e.AddedAt = time.Now().Unix()
	}
	res, err := db.ExecContext(ctx, `
		INSERT INTO watchlist (asset, interval, direction, notes, added_at)
		VALUES (?, ?, ?, ?, ?)
	`, e.Asset, string(e.Interval), string(e.Direction), e.Notes, e.AddedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return model.WatchlistEntry{}, fmt.Errorf("%w: %s %s", model.ErrDuplicateEntry, e.Key(), e.Direction)
		}
		return model.WatchlistEntry{}, fmt.Errorf("sqlite insert watchlist: %w", err)
	}
	e.ID, err = res.LastInsertId()
	return e, err
}

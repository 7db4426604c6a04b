package hyperliquid

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"confluence-signals/internal/model"
)

// CandleSource is what the collector needs from a candle API.
type CandleSource interface {
	Candles(ctx context.Context, asset string, iv model.Interval, start, end time.Time) ([]model.PriceBar, error)
}

// Collector refreshes stored bars for one pair at a time.
type Collector struct {
	src      CandleSource
	store    model.BarWriter
	lookback int
	now      func() time.Time
}

// NewCollector creates a collector that requests lookback bars per refresh.
func NewCollector(src CandleSource, store model.BarWriter, lookback int) *Collector {
	if lookback <= 0 {
		lookback = 250
	}
	return &Collector{src: src, store: store, lookback: lookback, now: time.Now}
}

// Refresh fetches the recent window for (asset, iv) and upserts the bars
// that have closed. It returns the number of bars written.
func (c *Collector) Refresh(ctx context.Context, asset string, iv model.Interval) (int, error) {
	step := iv.Duration()
	if step <= 0 {
		return 0, fmt.Errorf("refresh %s: unsupported interval %q", asset, iv)
	}
	now := c.now()
	start := now.Add(-time.Duration(c.lookback) * step)

	bars, err := c.src.Candles(ctx, asset, iv, start, now)
	if err != nil {
		return 0, err
	}

	closed := make([]model.PriceBar, 0, len(bars))
	cutoff := now.Unix()
	for _, b := range bars {
		if b.CloseTime() <= cutoff {
			closed = append(closed, b)
		}
	}
	if len(closed) == 0 {
		return 0, nil
	}

	n, err := c.store.UpsertBars(ctx, closed)
	if err != nil {
		return 0, fmt.Errorf("store %s: %w", model.PairKey(asset, iv), err)
	}
	log.Debug().Str("component", "collector").Str("pair", model.PairKey(asset, iv)).
		Int("fetched", len(bars)).Int("stored", n).Msg("refreshed bars")
	return n, nil
}

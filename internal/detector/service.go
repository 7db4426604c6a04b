// Package detector runs the scheduled scan: for every distinct watchlist pair
// it refreshes bars, evaluates confluence, offers the verdict to the ledger
// once per watching direction and finally drains the notification queue.
package detector

import (
	"context"
	"errors"
	"sort"
	"time"

	"confluence-signals/internal/confluence"
	"confluence-signals/internal/ledger"
	"confluence-signals/internal/logger"
	"confluence-signals/internal/marketdata/hyperliquid"
	"confluence-signals/internal/metrics"
	"confluence-signals/internal/model"
	"confluence-signals/internal/notification"
)

// Refresher pulls fresh bars for one pair into the bar store.
type Refresher interface {
	Refresh(ctx context.Context, asset string, iv model.Interval) (int, error)
}

// BarStore reads series and prunes old bars.
type BarStore interface {
	model.BarReader
	model.BarWriter
}

// Config tunes the scan loop.
type Config struct {
	Interval     time.Duration // time between scan starts
	Bars         int           // bars loaded per pair
	CleanupEvery time.Duration // retention sweep period
}

// DefaultConfig returns a 5 minute scan over 200 bars with an hourly sweep.
func DefaultConfig() Config {
	return Config{Interval: 5 * time.Minute, Bars: 200, CleanupEvery: time.Hour}
}

// Deps are the collaborators of a Service. Collector, Dispatcher, Metrics and
// Health are optional.
type Deps struct {
	Watchlist  model.WatchlistStore
	Bars       BarStore
	Collector  Refresher
	Engine     *confluence.Engine
	Ledger     *ledger.Ledger
	Dispatcher *notification.Dispatcher
	Metrics    *metrics.Metrics
	Health     *metrics.HealthStatus
}

// Service is the scan scheduler. Pairs are evaluated sequentially; a Service
// must not run two cycles at once.
type Service struct {
	cfg Config
	Deps

	now         func() time.Time
	lastCleanup time.Time
}

// New creates a Service.
func New(cfg Config, deps Deps) *Service {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Bars <= 0 {
		cfg.Bars = def.Bars
	}
	if cfg.CleanupEvery <= 0 {
		cfg.CleanupEvery = def.CleanupEvery
	}
	return &Service{cfg: cfg, Deps: deps, now: time.Now}
}

// Summary describes one scan cycle.
type Summary struct {
	CycleID   string
	StartedAt time.Time
	Duration  time.Duration
	Pairs     int
	Evaluated int
	Verdicts  int
	Skipped   int
	Accepted  []model.SignalRecord
	Rejected  map[ledger.Rejection]int
	Notified  int
	Pruned    int64
}

// pair is one distinct (asset, interval) with the directions watching it.
type pair struct {
	asset string
	iv    model.Interval
	dirs  []model.Direction
}

// Seed adds entries that are not on the watchlist yet.
func (s *Service) Seed(ctx context.Context, entries []model.WatchlistEntry) error {
	log := logger.From(ctx)
	for _, e := range entries {
		_, err := s.Watchlist.AddEntry(ctx, e)
		switch {
		case err == nil:
			log.Info().Str("component", "detector").Str("pair", e.Key()).
				Str("direction", string(e.Direction)).Msg("watchlist entry seeded")
		case errors.Is(err, model.ErrDuplicateEntry):
		default:
			return err
		}
	}
	return nil
}

// Run scans immediately and then every Interval until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	log := logger.From(ctx)
	log.Info().Str("component", "detector").Dur("interval", s.cfg.Interval).
		Int("bars", s.cfg.Bars).Msg("scan loop started")

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			log.Error().Str("component", "detector").Err(err).Msg("scan cycle failed")
		}
		select {
		case <-ctx.Done():
			log.Info().Str("component", "detector").Msg("scan loop stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce performs one full scan cycle. Per-pair failures are logged and
// counted; only a failure to read the watchlist is returned.
func (s *Service) RunOnce(ctx context.Context) (Summary, error) {
	sum := Summary{
		CycleID:   logger.NewTraceID(),
		StartedAt: s.now(),
		Rejected:  make(map[ledger.Rejection]int),
	}
	ctx = logger.WithTraceID(ctx, sum.CycleID)
	log := logger.From(ctx)

	entries, err := s.Watchlist.ListEntries(ctx)
	if err != nil {
		s.recordScan(&sum, err)
		return sum, err
	}
	pairs := groupPairs(entries)
	sum.Pairs = len(pairs)
	if s.Metrics != nil {
		s.Metrics.WatchlistPairs.Set(float64(len(pairs)))
	}

	for _, p := range pairs {
		if ctx.Err() != nil {
			break
		}
		s.scanPair(ctx, p, &sum)
	}

	if s.Dispatcher != nil && ctx.Err() == nil {
		n, err := s.Dispatcher.Dispatch(ctx)
		sum.Notified = n
		if err != nil {
			log.Error().Str("component", "detector").Err(err).Msg("notification dispatch failed")
		}
	}

	if ctx.Err() == nil {
		sum.Pruned = s.cleanup(ctx)
	}

	s.recordScan(&sum, ctx.Err())
	log.Info().Str("component", "detector").
		Int("pairs", sum.Pairs).
		Int("evaluated", sum.Evaluated).
		Int("verdicts", sum.Verdicts).
		Int("accepted", len(sum.Accepted)).
		Int("skipped", sum.Skipped).
		Int("notified", sum.Notified).
		Dur("took", sum.Duration).
		Msg("scan cycle complete")
	return sum, ctx.Err()
}

// scanPair runs fetch, evaluate and persist for one pair. Any failure skips
// the pair for this cycle.
func (s *Service) scanPair(ctx context.Context, p pair, sum *Summary) {
	key := model.PairKey(p.asset, p.iv)
	log := logger.From(ctx).With().Str("component", "detector").Str("pair", key).Logger()

	if s.Collector != nil {
		n, err := s.Collector.Refresh(ctx, p.asset, p.iv)
		if err != nil {
			var fe *hyperliquid.FetchError
			if errors.As(err, &fe) {
				log.Warn().Err(err).Int("status", fe.Status).Msg("price fetch failed, pair skipped")
			} else {
				log.Warn().Err(err).Msg("bar refresh failed, pair skipped")
			}
			s.countError("fetch")
			sum.Skipped++
			return
		}
		if s.Metrics != nil {
			s.Metrics.BarsStored.Add(float64(n))
		}
	}

	series, err := s.Bars.GetBars(ctx, p.asset, p.iv, s.cfg.Bars, s.Engine.FewestBars())
	if err != nil {
		if errors.Is(err, model.ErrInsufficientData) {
			log.Info().Err(err).Msg("not enough history yet")
			s.countError("insufficient")
		} else {
			log.Error().Err(err).Msg("load bars failed")
			s.countError("store")
		}
		sum.Skipped++
		return
	}

	start := time.Now()
	verdict, err := s.Engine.Evaluate(series, p.asset, p.iv, s.now())
	if s.Metrics != nil {
		s.Metrics.EvaluateDur.Observe(time.Since(start).Seconds())
		s.Metrics.PairsEvaluated.Inc()
	}
	if err != nil {
		var die *confluence.DataIntegrityError
		if errors.As(err, &die) {
			log.Error().Err(err).Int("index", die.Index).Msg("price series rejected")
			s.countError("integrity")
		} else {
			log.Error().Err(err).Msg("evaluation failed")
			s.countError("evaluate")
		}
		sum.Skipped++
		return
	}
	sum.Evaluated++
	if verdict == nil {
		return
	}
	sum.Verdicts++
	if s.Metrics != nil {
		s.Metrics.VerdictsTotal.WithLabelValues(verdict.Classification.String(), string(verdict.Direction)).Inc()
	}
	log.Debug().Str("score", verdict.Score.String()).Str("class", verdict.Classification.String()).
		Str("direction", string(verdict.Direction)).Int("events", len(verdict.Events)).Msg("verdict")

	for _, dir := range p.dirs {
		rec, reason, err := s.Ledger.Accept(ctx, verdict, dir)
		if err != nil {
			var pe *ledger.PersistenceError
			if errors.As(err, &pe) {
				log.Error().Err(pe.Err).Str("direction", string(dir)).Msg("verdict dropped, ledger write failed")
				s.countError("persistence")
			}
			s.countOutcome("error")
			continue
		}
		if rec == nil {
			sum.Rejected[reason]++
			s.countOutcome(string(reason))
			continue
		}
		sum.Accepted = append(sum.Accepted, *rec)
		s.countOutcome("accepted")
		log.Info().Int64("id", rec.ID).Str("score", rec.Score.String()).
			Str("class", rec.Classification.String()).Str("direction", string(rec.Direction)).
			Msg("signal recorded")
	}
}

// cleanup prunes signals past the ledger retention and, per interval, bars
// older than the window a scan loads. It runs at most once per CleanupEvery.
func (s *Service) cleanup(ctx context.Context) int64 {
	now := s.now()
	if !s.lastCleanup.IsZero() && now.Sub(s.lastCleanup) < s.cfg.CleanupEvery {
		return 0
	}
	s.lastCleanup = now

	log := logger.From(ctx)
	signals, err := s.Ledger.Cleanup(ctx)
	if err != nil {
		log.Error().Str("component", "detector").Err(err).Msg("signal cleanup failed")
	}

	var bars int64
	for _, iv := range model.Intervals() {
		keep := time.Duration(s.cfg.Bars+1) * iv.Duration()
		n, err := s.Bars.DeleteBarsBefore(ctx, iv, now.Add(-keep).Unix())
		if err != nil {
			log.Error().Str("component", "detector").Str("interval", iv.String()).Err(err).Msg("bar cleanup failed")
			continue
		}
		bars += n
	}
	if signals+bars > 0 {
		log.Info().Str("component", "detector").Int64("signals", signals).Int64("bars", bars).Msg("retention sweep")
	}
	return signals + bars
}

func (s *Service) recordScan(sum *Summary, err error) {
	sum.Duration = s.now().Sub(sum.StartedAt)
	if s.Metrics != nil {
		s.Metrics.ScansTotal.Inc()
		s.Metrics.ScanDuration.Observe(sum.Duration.Seconds())
		s.Metrics.LastScanUnix.Set(float64(s.now().Unix()))
	}
	if s.Health != nil {
		s.Health.RecordScan(s.now(), sum.Pairs, len(sum.Accepted), err)
	}
}

func (s *Service) countError(kind string) {
	if s.Metrics != nil {
		s.Metrics.PipelineErrors.WithLabelValues(kind).Inc()
	}
}

func (s *Service) countOutcome(outcome string) {
	if s.Metrics != nil {
		s.Metrics.LedgerOutcomes.WithLabelValues(outcome).Inc()
	}
}

// groupPairs collapses entries into distinct pairs, sorted by asset then
// interval length, each with its distinct directions.
func groupPairs(entries []model.WatchlistEntry) []pair {
	idx := make(map[string]int)
	var out []pair
	for _, e := range entries {
		k := e.Key()
		i, ok := idx[k]
		if !ok {
			i = len(out)
			idx[k] = i
			out = append(out, pair{asset: e.Asset, iv: e.Interval})
		}
		dup := false
		for _, d := range out[i].dirs {
			if d == e.Direction {
				dup = true
				break
			}
		}
		if !dup {
			out[i].dirs = append(out[i].dirs, e.Direction)
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].asset != out[b].asset {
			return out[a].asset < out[b].asset
		}
		return out[a].iv.Duration() < out[b].iv.Duration()
	})
	return out
}

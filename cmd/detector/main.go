package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"confluence-signals/config"
	"confluence-signals/internal/confluence"
	"confluence-signals/internal/detector"
	"confluence-signals/internal/indicator"
	"confluence-signals/internal/ledger"
	"confluence-signals/internal/logger"
	"confluence-signals/internal/marketdata/hyperliquid"
	"confluence-signals/internal/metrics"
	"confluence-signals/internal/model"
	"confluence-signals/internal/notification"
	redisstore "confluence-signals/internal/store/redis"
	sqlitestore "confluence-signals/internal/store/sqlite"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	once := flag.Bool("once", false, "run a single scan and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "detector: %v\n", err)
		os.Exit(1)
	}
	if _, err := logger.Init("detector", logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format}); err != nil {
		fmt.Fprintf(os.Stderr, "detector: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Str("component", "detector").Msg("shutdown signal received")
		cancel()
	}()

	if err := run(ctx, cfg, *once); err != nil {
		log.Fatal().Err(err).Msg("detector failed")
	}
}

func run(ctx context.Context, cfg *config.Config, once bool) error {
	// ---- Storage ----
	if err := os.MkdirAll(filepath.Dir(cfg.SQLite.Path), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	store, err := sqlitestore.Open(sqlitestore.Config{Path: cfg.SQLite.Path})
	if err != nil {
		return err
	}
	defer store.Close()

	prom := metrics.New(prometheus.DefaultRegisterer)
	health := metrics.NewHealthStatus()
	health.SetRedisEnabled(cfg.Redis.Enabled)

	// ---- Engine ----
	engineCfg, err := cfg.Engine.Confluence()
	if err != nil {
		return err
	}
	engine, err := confluence.New(indicator.DefaultSet(), engineCfg)
	if err != nil {
		return err
	}

	// ---- Ledger + optional Redis fan-out ----
	var opts []ledger.Option
	var rdb *goredis.Client
	if cfg.Redis.Enabled {
		rdb, err = redisstore.Connect(ctx, redisstore.Config{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err != nil {
			// The breaker buffers signals until Redis comes back.
			log.Warn().Str("component", "detector").Err(err).Msg("redis unavailable at startup")
			rdb = goredis.NewClient(&goredis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		}
		defer rdb.Close()

		cb := redisstore.NewBreaker(5, 30*time.Second)
		cb.OnStateChange = func(from, to redisstore.State) {
			prom.RedisBreakerState.Set(float64(to))
			if to == redisstore.StateOpen {
				prom.RedisBreakerTrips.Inc()
			}
			log.Warn().Str("component", "redis").Str("from", from.String()).Str("to", to.String()).Msg("publisher breaker")
		}
		pub := redisstore.NewPublisher(rdb, cb, cfg.Redis.MaxBuffered)
		pub.OnBuffer = prom.RedisBufferedWrites.Inc
		opts = append(opts, ledger.WithPublisher(pub))
	}
	led := ledger.New(store, cfg.Ledger.Ledger(), opts...)

	// ---- Notifications ----
	notifier, err := buildNotifier(cfg)
	if err != nil {
		return err
	}
	dispatcher := notification.NewDispatcher(led, notifier, cfg.Scan.NotifyBatch)
	dispatcher.OnSent = func(model.SignalRecord) { prom.Notifications.WithLabelValues("sent").Inc() }
	dispatcher.OnFailed = func(model.SignalRecord, error) { prom.Notifications.WithLabelValues("failed").Inc() }

	// ---- Market data ----
	client := hyperliquid.NewClient(
		hyperliquid.WithBaseURL(cfg.Hyperliquid.BaseURL),
		hyperliquid.WithHTTPClient(&http.Client{Timeout: cfg.Hyperliquid.Timeout}),
	)
	collector := hyperliquid.NewCollector(client, store, cfg.Scan.FetchBars)

	svc := detector.New(detector.Config{Interval: cfg.Scan.Interval, Bars: cfg.Scan.Bars}, detector.Deps{
		Watchlist:  store,
		Bars:       store,
		Collector:  collector,
		Engine:     engine,
		Ledger:     led,
		Dispatcher: dispatcher,
		Metrics:    prom,
		Health:     health,
	})

	seeds := make([]model.WatchlistEntry, 0, len(cfg.Watchlist))
	for _, s := range cfg.Watchlist {
		e, err := s.Entry()
		if err != nil {
			return fmt.Errorf("watchlist seed: %w", err)
		}
		seeds = append(seeds, e)
	}
	if err := svc.Seed(ctx, seeds); err != nil {
		return err
	}

	if once {
		sum, err := svc.RunOnce(ctx)
		printSummary(sum)
		return err
	}

	health.StartLivenessChecker(ctx, rdb, store.DB(), 15*time.Second)
	srv := metrics.NewServer(cfg.Metrics.Addr, health, prometheus.DefaultGatherer)
	srv.Start()
	defer func() {
		shutCtx, shutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutCancel()
		srv.Stop(shutCtx)
	}()

	log.Info().Str("component", "detector").
		Str("policy", engine.PolicyName()).
		Int("min_bars", engine.MinBars()).
		Bool("redis", cfg.Redis.Enabled).
		Bool("telegram", cfg.Telegram.Enabled()).
		Msg("detector running")
	return svc.Run(ctx)
}

func buildNotifier(cfg *config.Config) (notification.Notifier, error) {
	var out notification.Multi
	if cfg.Telegram.Enabled() {
		tg, err := notification.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
		if err != nil {
			return nil, err
		}
		out = append(out, tg)
	}
	if cfg.Webhook.URL != "" {
		out = append(out, notification.NewWebhookNotifier(cfg.Webhook.URL))
	}
	if len(out) == 0 {
		return notification.NewLogNotifier(), nil
	}
	return out, nil
}

func printSummary(sum detector.Summary) {
	fmt.Printf("scan %s: %d pairs, %d evaluated, %d verdicts, %d skipped, %d accepted, %d notified (%s)\n",
		sum.CycleID, sum.Pairs, sum.Evaluated, sum.Verdicts, sum.Skipped, len(sum.Accepted), sum.Notified,
		sum.Duration.Round(time.Millisecond))
	for reason, n := range sum.Rejected {
		fmt.Printf("  rejected %-20s %d\n", reason, n)
	}
	for _, rec := range sum.Accepted {
		fmt.Printf("  %-8s %-4s %-8s %-10s score=%s price=%g\n",
			rec.Asset, rec.Interval, rec.Direction, rec.Classification, rec.Score.StringFixed(1), rec.PriceAtSignal)
	}
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"confluence-signals/config"
	"confluence-signals/internal/dashboard"
	"confluence-signals/internal/ledger"
	"confluence-signals/internal/logger"
	"confluence-signals/internal/metrics"
	"confluence-signals/internal/model"
	redisstore "confluence-signals/internal/store/redis"
	sqlitestore "confluence-signals/internal/store/sqlite"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dashboard: %v\n", err)
		os.Exit(1)
	}
	if _, err := logger.Init("dashboard", logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format}); err != nil {
		fmt.Fprintf(os.Stderr, "dashboard: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("dashboard failed")
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	store, err := sqlitestore.Open(sqlitestore.Config{Path: cfg.SQLite.Path})
	if err != nil {
		return err
	}
	defer store.Close()

	prom := metrics.New(prometheus.DefaultRegisterer)
	health := metrics.NewHealthStatus()
	health.SetRedisEnabled(cfg.Redis.Enabled)

	hub := dashboard.NewHub(200)
	hub.OnCount = func(n int) { prom.DashboardClients.Set(float64(n)) }

	var rdb *goredis.Client
	if cfg.Redis.Enabled {
		rdb, err = redisstore.Connect(ctx, redisstore.Config{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err != nil {
			log.Warn().Str("component", "dashboard").Err(err).Msg("redis unavailable, live feed disabled")
		} else {
			defer rdb.Close()
			startFeed(ctx, hub, redisstore.NewSubscriber(rdb))
		}
	}
	health.StartLivenessChecker(ctx, rdb, store.DB(), 15*time.Second)

	srv := dashboard.NewServer(dashboard.Deps{
		Signals:    ledger.New(store, cfg.Ledger.Ledger()),
		Watchlist:  store,
		Bars:       store,
		Hub:        hub,
		Health:     health,
		Gatherer:   prometheus.DefaultGatherer,
		TOTPSecret: cfg.Dashboard.TOTPSecret,
	})
	if cfg.Dashboard.TOTPSecret == "" {
		log.Warn().Str("component", "dashboard").Msg("no TOTP secret configured, watchlist is read-only")
	}

	httpSrv := &http.Server{
		Addr:              cfg.Dashboard.Addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("component", "dashboard").Str("addr", cfg.Dashboard.Addr).Msg("listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutCancel()
	log.Info().Str("component", "dashboard").Msg("shutting down")
	return httpSrv.Shutdown(shutCtx)
}

// startFeed replays the stream history into the hub and then follows the
// live channel, resubscribing after errors.
func startFeed(ctx context.Context, hub *dashboard.Hub, sub *redisstore.Subscriber) {
	if history, err := sub.History(ctx, 200); err != nil {
		log.Warn().Str("component", "dashboard").Err(err).Msg("signal history unavailable")
	} else {
		for _, rec := range history {
			hub.Broadcast(rec)
		}
	}

	feed := make(chan model.SignalRecord, 64)
	go hub.Run(ctx, feed)
	go func() {
		for {
			err := sub.Run(ctx, feed)
			if ctx.Err() != nil {
				return
			}
			log.Warn().Str("component", "dashboard").Err(err).Msg("signal subscription lost, retrying")
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
		}
	}()
}

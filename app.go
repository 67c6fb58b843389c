package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"match-stats-server/achievement"
	"match-stats-server/api"
	"match-stats-server/config"
	"match-stats-server/history"
	"match-stats-server/ledger"
	"match-stats-server/metrics"
	"match-stats-server/storage"
	"match-stats-server/storage/sqlite"
	"match-stats-server/workers"
	"match-stats-server/ws"
)

// app is the fully wired server minus the listener.
type app struct {
	cfg       *config.Config
	store     storage.StatsStore
	metrics   *metrics.Metrics
	hub       *ws.Hub
	limiter   *api.RateLimiter
	refresher *workers.StatsRefresher
	handler   http.Handler
}

func openStore(ctx context.Context, cfg *config.Config) (storage.StatsStore, error) {
	if cfg.DatabaseURL != "" {
		return storage.NewStore(ctx, cfg.DatabaseURL, storage.PoolOptions{
			MaxConns:        cfg.PGMaxConns,
			MinConns:        cfg.PGMinConns,
			MaxConnLifetime: cfg.PGMaxConnLifetime(),
		})
	}
	return sqlite.Open(cfg.SQLitePath)
}

// seedCatalog installs the built-in definitions plus those in path, if any.
func seedCatalog(ctx context.Context, catalog *achievement.Catalog, path string) error {
	if err := catalog.SeedDefaults(ctx); err != nil {
		return err
	}
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open achievements file: %w", err)
	}
	defer f.Close()
	defs, err := achievement.LoadDefinitions(f)
	if err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return catalog.Seed(ctx, defs)
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	m := metrics.New()
	hub := ws.NewHub()

	catalog := achievement.NewCatalog(store)
	if err := seedCatalog(ctx, catalog, cfg.AchievementsFile); err != nil {
		store.Close()
		return nil, err
	}

	h := &api.Handler{
		Config:  cfg,
		Ledger:  ledger.New(store, ledger.WithObserver(m), ledger.WithObserver(hub)),
		History: history.NewService(store),
		Catalog: catalog,
		Engine: achievement.NewEngine(store, store, store,
			achievement.WithUnlockObserver(m), achievement.WithUnlockObserver(hub)),
		Store: store,
	}

	a := &app{cfg: cfg, store: store, metrics: m, hub: hub}
	if cfg.RateLimitRPS > 0 {
		a.limiter = api.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, m.RateLimited)
	}
	if cfg.StatsRefreshIntervalSec > 0 {
		a.refresher, err = workers.NewStatsRefresher(store, m, cfg.StatsRefreshInterval())
		if err != nil {
			store.Close()
			return nil, err
		}
	}
	a.handler = api.NewRouter(h, api.RouterOptions{
		Metrics:     m,
		RateLimiter: a.limiter,
		Feed:        hub.ServeWS,
	})
	return a, nil
}

// startBackground launches the hub, the limiter sweep and the stats refresher.
// All of them stop when ctx is cancelled or close is called.
func (a *app) startBackground(ctx context.Context) error {
	go a.hub.Run(ctx)
	if a.limiter != nil {
		go a.limiter.Cleanup(ctx, time.Minute, 3*time.Minute)
	}
	if a.refresher != nil {
		if err := a.refresher.Start(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) close() {
	if a.refresher != nil {
		if err := a.refresher.Stop(); err != nil {
			slog.Warn("stopping stats refresher", "tag", "main", "err", err)
		}
	}
	if err := a.store.Close(); err != nil {
		slog.Warn("closing store", "tag", "main", "err", err)
	}
}

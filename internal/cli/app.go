package cli

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/lazypower/secondbrain/internal/config"
	"github.com/lazypower/secondbrain/internal/engine"
	"github.com/lazypower/secondbrain/internal/logging"
	"github.com/lazypower/secondbrain/internal/metrics"
	"github.com/lazypower/secondbrain/internal/store"
)

// app holds the wired services shared by every command.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	metrics  *metrics.Manager
	db       *store.DB
	embedder engine.Embedder

	heat     *engine.HeatService
	ranking  *engine.RankingService
	dedup    *engine.DeduplicationService
	recorder *engine.Recorder
}

// loadConfig applies the persistent flags on top of file and environment.
func loadConfig() (*config.Config, error) {
	overrides := map[string]any{}
	if dbPath != "" {
		overrides["database.path"] = dbPath
	}
	if logLevel != "" {
		overrides["log.level"] = logLevel
	}
	return config.Load(configPath, overrides)
}

// openApp loads config and builds the services for a one-shot command.
func openApp(ctx context.Context, withEmbedder bool) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return newApp(ctx, cfg, withEmbedder, nil)
}

// newApp opens the database and builds the services. With withEmbedder
// false the embedding provider is not probed and text search is unavailable.
func newApp(ctx context.Context, cfg *config.Config, withEmbedder bool, m *metrics.Manager) (*app, error) {
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	if m == nil {
		m = metrics.NoOpManager()
	}

	path := cfg.Database.Path
	if path == "" {
		if path, err = store.DefaultDBPath(); err != nil {
			return nil, fmt.Errorf("resolve db path: %w", err)
		}
	}
	db, err := store.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	a := &app{cfg: cfg, logger: logger, metrics: m, db: db}
	if withEmbedder {
		a.embedder, err = engine.NewEmbedder(ctx, cfg.Embedder, db, logger)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("embedder: %w", err)
		}
	}

	opts := []engine.Option{engine.WithLogger(logger), engine.WithMetrics(m)}
	a.heat = engine.NewHeatService(db, cfg.Heat, opts...)
	a.ranking = engine.NewRankingService(db, a.heat, a.embedder, cfg.Search, cfg.Heat.MaxHeat, opts...)
	a.dedup = engine.NewDeduplicationService(db, a.embedder, cfg.Dedup, opts...)
	a.recorder = engine.NewRecorder(db, a.heat, a.embedder, cfg.Heat, opts...)
	return a, nil
}

func (a *app) Close() error {
	a.ranking.Wait()
	a.logger.Sync()
	return a.db.Close()
}

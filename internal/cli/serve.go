package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lazypower/secondbrain/internal/engine"
	"github.com/lazypower/secondbrain/internal/metrics"
	"github.com/lazypower/secondbrain/internal/server"
	"github.com/lazypower/secondbrain/internal/tracing"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server and background decay/dedup jobs",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	mcfg := metrics.DefaultConfig()
	mcfg.Enabled = cfg.Metrics.Enabled
	m := metrics.NewManager(mcfg)

	a, err := newApp(ctx, cfg, true, m)
	if err != nil {
		return err
	}
	defer a.Close()
	logger := a.logger

	shutdownTracing, err := tracing.Init(ctx, a.cfg.Tracing, Version)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), a.cfg.Tracing.Timeout)
		defer cancel()
		if err := shutdownTracing(tctx); err != nil {
			logger.Warn("tracing shutdown", zap.Error(err))
		}
	}()

	if a.embedder != nil {
		logger.Info("embedder ready", zap.String("model", a.embedder.Model()))
	} else {
		logger.Warn("no embedder configured, text search disabled")
	}

	sched := engine.NewScheduler(a.heat, a.dedup, a.cfg.Schedule,
		engine.WithLogger(logger), engine.WithMetrics(m))
	sched.Start(ctx)
	defer sched.Stop()

	// Embed any records stored while the provider was down.
	if a.embedder != nil {
		stopBackfill := backfillVectors(ctx, a.recorder, logger)
		defer stopBackfill()
	}

	srv := server.New(server.Services{
		DB:       a.db,
		Heat:     a.heat,
		Ranking:  a.ranking,
		Dedup:    a.dedup,
		Recorder: a.recorder,
	}, *a.cfg, VersionString(), logger, m)

	addr := a.cfg.ListenAddr()
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("secondbrain serving", zap.String("addr", addr), zap.String("version", Version))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	sctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(sctx)
}

// backfillVectors runs EmbedMissing in the background. The returned func
// cancels the run and waits for it, so the database can be closed after.
func backfillVectors(ctx context.Context, rec *engine.Recorder, logger *zap.Logger) func() {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		n, err := rec.EmbedMissing(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				logger.Warn("embed missing", zap.Error(err))
			}
			return
		}
		if n > 0 {
			logger.Info("embedded missing records", zap.Int("count", n))
		}
	}()
	return func() {
		cancel()
		wg.Wait()
	}
}

package engine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lazypower/secondbrain/internal/config"
)

// Scheduler runs decay, and optionally deduplication, in the background.
type Scheduler struct {
	heat  *HeatService
	dedup *DeduplicationService
	cfg   config.ScheduleConfig
	opts  options

	stopCh chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

// NewScheduler creates a Scheduler. dedup may be nil.
func NewScheduler(heat *HeatService, dedup *DeduplicationService, cfg config.ScheduleConfig, opts ...Option) *Scheduler {
	return &Scheduler{
		heat:   heat,
		dedup:  dedup,
		cfg:    cfg,
		opts:   buildOptions(opts),
		stopCh: make(chan struct{}),
	}
}

// Start runs decay once immediately and then every DecayInterval. When
// DedupInterval is positive a deduplication pass runs on its own ticker.
// Start returns without waiting for the first run.
func (s *Scheduler) Start(ctx context.Context) {
	if s.cfg.DecayInterval > 0 {
		s.loop(ctx, s.cfg.DecayInterval, true, s.runDecay)
	}
	if s.dedup != nil && s.cfg.DedupInterval > 0 {
		s.loop(ctx, s.cfg.DedupInterval, false, s.runDedup)
	}
}

func (s *Scheduler) loop(ctx context.Context, every time.Duration, immediate bool, run func(context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if immediate {
			run(ctx)
		}

		ticker := time.NewTicker(every)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				run(ctx)
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (s *Scheduler) runDecay(ctx context.Context) {
	report, err := s.heat.ApplyDecay(ctx, "")
	if err != nil {
		s.opts.logger.Error("decay: scheduled run failed", zap.Error(err))
		return
	}
	if report.Updated > 0 || report.FailedWindows > 0 {
		s.opts.logger.Info("decay: scheduled run",
			zap.String("mode", report.Mode),
			zap.Int("updated", report.Updated),
			zap.Int("failed_windows", report.FailedWindows),
		)
	}
}

func (s *Scheduler) runDedup(ctx context.Context) {
	opts := DedupOptions{DryRun: s.cfg.DedupDryRun}
	if _, err := s.dedup.Deduplicate(ctx, opts); err != nil {
		s.opts.logger.Error("dedup: scheduled run failed", zap.Error(err))
	}
}

// Stop halts the background loops and waits for a run in progress.
func (s *Scheduler) Stop() {
	s.once.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

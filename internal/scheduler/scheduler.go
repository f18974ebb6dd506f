package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/robfig/cron/v3"

	"github.com/evan-ryan-york/umg/internal/archivist"
	"github.com/evan-ryan-york/umg/internal/config"
	"github.com/evan-ryan-york/umg/internal/relationship"
)

// Scheduler owns the two background cadences: the archivist poll loop and
// the nightly relationship engine run. A tick is skipped when the previous
// run of the same job is still going.
type Scheduler struct {
	cron       *cron.Cron
	archivist  *archivist.Archivist
	engine     *relationship.Engine
	cfg        *config.Config
	logger     *slog.Logger
	draining   atomic.Bool
	nightlyRun atomic.Bool
}

// New builds the scheduler; Start registers and launches the jobs.
func New(arch *archivist.Archivist, engine *relationship.Engine, cfg *config.Config) *Scheduler {
	return &Scheduler{
		cron:      cron.New(),
		archivist: arch,
		engine:    engine,
		cfg:       cfg,
		logger:    slog.Default().With("component", "scheduler"),
	}
}

// Start registers the jobs and starts the cron loop. ctx bounds every
// scheduled run.
func (s *Scheduler) Start(ctx context.Context) error {
	drainSpec := fmt.Sprintf("@every %s", s.cfg.Pipeline.PollInterval)
	if _, err := s.cron.AddFunc(drainSpec, func() { s.drain(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule drain job: %w", err)
	}

	nightlySpec := fmt.Sprintf("0 %d * * *", s.cfg.Engine.NightlyHourLocal)
	if _, err := s.cron.AddFunc(nightlySpec, func() { s.nightly(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule nightly job: %w", err)
	}

	s.cron.Start()
	s.logger.Info("scheduler started",
		"drain_interval", s.cfg.Pipeline.PollInterval.String(),
		"nightly_hour", s.cfg.Engine.NightlyHourLocal)
	return nil
}

// Stop halts the cron loop and waits for running jobs.
func (s *Scheduler) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) drain(ctx context.Context) {
	if !s.draining.CompareAndSwap(false, true) {
		s.logger.Debug("previous drain still running, skipping tick")
		return
	}
	defer s.draining.Store(false)

	if _, err := s.archivist.Drain(ctx); err != nil {
		s.logger.Error("scheduled drain failed", "error", err)
	}
}

func (s *Scheduler) nightly(ctx context.Context) {
	if !s.nightlyRun.CompareAndSwap(false, true) {
		s.logger.Warn("previous nightly run still going, skipping")
		return
	}
	defer s.nightlyRun.Store(false)

	if _, err := s.engine.RunNightly(ctx, false); err != nil {
		s.logger.Error("nightly relationship run failed", "error", err)
	}
}

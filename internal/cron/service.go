package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/hostelsync/hostelsync-backend/pkg/logger"
	"github.com/hostelsync/hostelsync-backend/pkg/metrics"
)

const defaultInterval = time.Hour

// ServiceParams configure the cron service.
type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Lock     Lock
	Metrics  *metrics.CronJobMetrics
	Interval time.Duration
}

// Service runs the registered maintenance jobs on a fixed cadence, one
// replica at a time.
type Service struct {
	params ServiceParams
}

type holderLock interface {
	Holder(ctx context.Context) (string, error)
}

// NewService validates params and fills in defaults.
func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger required")
	case params.Lock == nil:
		return nil, errors.New("lock required")
	}
	if params.Registry == nil {
		params.Registry = NewRegistry()
	}
	if params.Interval <= 0 {
		params.Interval = defaultInterval
	}
	return &Service{params: params}, nil
}

// RunOnce executes a single leased cycle. Every job runs even when an earlier
// one fails; the failures come back combined.
func (s *Service) RunOnce(ctx context.Context) error {
	return s.runCycle(ctx)
}

// Run executes a cycle immediately and then on every tick until ctx ends.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ticker := time.NewTicker(s.params.Interval)
	defer ticker.Stop()

	for {
		if err := s.runCycle(ctx); err != nil {
			s.params.Logger.Error(ctx, "cron.cycle_failed", err)
		}
		select {
		case <-ctx.Done():
			s.params.Logger.Info(ctx, "cron.stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Service) runCycle(ctx context.Context) error {
	logg := s.params.Logger
	jobs := s.params.Registry.Jobs()

	acquired, err := s.params.Lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("lock acquire: %w", err)
	}
	if !acquired {
		logg.Info(s.withHolder(ctx), "maintenance lease held elsewhere; skipping cycle")
		for _, job := range jobs {
			s.params.Metrics.Skipped(job.Name())
		}
		return nil
	}
	defer func() {
		if err := s.params.Lock.Release(ctx); err != nil {
			logg.Error(ctx, "cron.lease_release_failed", err)
		}
	}()

	cycleCtx := logg.WithField(ctx, "jobs", len(jobs))
	logg.Info(cycleCtx, "cron.cycle_start")
	var errs error
	for _, job := range jobs {
		if err := s.runJob(ctx, job); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", job.Name(), err))
		}
	}
	logg.Info(logg.WithField(cycleCtx, "failed", len(multierr.Errors(errs))), "cron.cycle_done")
	return errs
}

func (s *Service) withHolder(ctx context.Context) context.Context {
	h, ok := s.params.Lock.(holderLock)
	if !ok {
		return ctx
	}
	holder, err := h.Holder(ctx)
	if err != nil || holder == "" {
		return ctx
	}
	return s.params.Logger.WithField(ctx, "lock_holder", holder)
}

func (s *Service) runJob(ctx context.Context, job Job) error {
	logg := s.params.Logger
	jobCtx := logg.WithFields(ctx, map[string]any{"job": job.Name(), "event": "cron.job"})

	started := time.Now()
	err := job.Run(jobCtx)
	took := time.Since(started)
	s.params.Metrics.Finished(job.Name(), took, err)

	jobCtx = logg.WithField(jobCtx, "duration_ms", took.Milliseconds())
	if err != nil {
		logg.Error(jobCtx, "job failed", err)
		return err
	}
	logg.Info(jobCtx, "job completed")
	return nil
}

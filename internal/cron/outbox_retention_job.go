package cron

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/hostelsync/hostelsync-backend/pkg/logger"
)

const (
	defaultOutboxMaxAge      = 30 * 24 * time.Hour
	defaultOutboxMinAttempts = 5
)

// OutboxRetentionJobParams configure the outbox cleanup job. Published rows
// older than MaxAge are dropped. Parked rows are dropped once older than
// MaxAge and at least MinAttempts deep, so a row parked for a missing
// publisher stays inspectable.
type OutboxRetentionJobParams struct {
	Logger      *logger.Logger
	DB          txRunner
	Repository  outboxRetentionRepo
	MaxAge      time.Duration
	MinAttempts int
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxRetentionRepo interface {
	DeletePublishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, minAttemptCount int) (int64, error)
	CountPending(tx *gorm.DB) (int64, error)
}

func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	switch {
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	case params.DB == nil:
		return nil, fmt.Errorf("db runner required")
	case params.Repository == nil:
		return nil, fmt.Errorf("outbox repository required")
	}
	job := &outboxRetentionJob{
		params: params,
		now:    time.Now,
	}
	if job.params.MaxAge <= 0 {
		job.params.MaxAge = defaultOutboxMaxAge
	}
	if job.params.MinAttempts <= 0 {
		job.params.MinAttempts = defaultOutboxMinAttempts
	}
	return job, nil
}

type outboxRetentionJob struct {
	params OutboxRetentionJobParams
	now    func() time.Time
}

func (j *outboxRetentionJob) Name() string { return "outbox-retention" }

func (j *outboxRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.params.MaxAge)

	var deleted, pending int64
	err := j.params.DB.WithTx(ctx, func(tx *gorm.DB) error {
		n, err := j.params.Repository.DeletePublishedBefore(ctx, tx, cutoff, j.params.MinAttempts)
		if err != nil {
			return fmt.Errorf("delete: %w", err)
		}
		deleted = n
		if pending, err = j.params.Repository.CountPending(tx); err != nil {
			return fmt.Errorf("count pending: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("outbox retention: %w", err)
	}

	logg := j.params.Logger
	logg.Info(logg.WithFields(ctx, map[string]any{
		"cutoff":         cutoff,
		"min_attempts":   j.params.MinAttempts,
		"rows_deleted":   deleted,
		"events_pending": pending,
	}), "outbox.retention_complete")
	return nil
}

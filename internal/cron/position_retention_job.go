package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/hostelsync/hostelsync-backend/pkg/logger"
)

const defaultPruneBatchSize = 500

type positionPruner interface {
	PruneSampledBefore(ctx context.Context, cutoff time.Time, batchSize int) (int, error)
}

type PositionRetentionJobParams struct {
	Logger    *logger.Logger
	Positions positionPruner
	// MaxAge is how long a position survives without a newer report.
	MaxAge    time.Duration
	BatchSize int
}

// NewPositionRetentionJob deletes positions that have not been refreshed within MaxAge.
func NewPositionRetentionJob(params PositionRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Positions == nil {
		return nil, fmt.Errorf("positions service required")
	}
	if params.MaxAge <= 0 {
		return nil, fmt.Errorf("max age must be positive")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultPruneBatchSize
	}
	return &positionRetentionJob{
		logg:      params.Logger,
		positions: params.Positions,
		maxAge:    params.MaxAge,
		batchSize: batch,
		now:       time.Now,
	}, nil
}

type positionRetentionJob struct {
	logg      *logger.Logger
	positions positionPruner
	maxAge    time.Duration
	batchSize int
	now       func() time.Time
}

func (j *positionRetentionJob) Name() string { return "position-retention" }

func (j *positionRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.maxAge)
	deleted, err := j.positions.PruneSampledBefore(ctx, cutoff, j.batchSize)
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":       cutoff,
		"max_age":      j.maxAge.String(),
		"rows_deleted": deleted,
	})
	if err != nil {
		return fmt.Errorf("position retention: %w", err)
	}
	j.logg.Info(logCtx, "position retention cleanup complete")
	return nil
}

package cron

import (
	"context"
	"fmt"

	"github.com/hostelsync/hostelsync-backend/internal/locations"
	"github.com/hostelsync/hostelsync-backend/pkg/logger"
)

type indexReconciler interface {
	ReconcileIndex(ctx context.Context, batchSize int) (locations.ReconcileResult, error)
}

type IndexReconcileJobParams struct {
	Logger    *logger.Logger
	Index     indexReconciler
	BatchSize int
}

// NewIndexReconcileJob rebuilds geo index entries from the stored positions and
// drops members that no longer have a record.
func NewIndexReconcileJob(params IndexReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Index == nil {
		return nil, fmt.Errorf("index reconciler required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultPruneBatchSize
	}
	return &indexReconcileJob{logg: params.Logger, index: params.Index, batchSize: batch}, nil
}

type indexReconcileJob struct {
	logg      *logger.Logger
	index     indexReconciler
	batchSize int
}

func (j *indexReconcileJob) Name() string { return "geo-index-reconcile" }

func (j *indexReconcileJob) Run(ctx context.Context) error {
	res, err := j.index.ReconcileIndex(ctx, j.batchSize)
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"indexed":  res.Indexed,
		"skipped":  res.Skipped,
		"orphaned": res.Orphaned,
	})
	if err != nil {
		return fmt.Errorf("geo index reconcile: %w", err)
	}
	j.logg.Info(logCtx, "geo index reconcile complete")
	return nil
}

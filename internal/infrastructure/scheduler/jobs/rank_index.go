// Package jobs contains the periodic maintenance jobs.
package jobs

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/levelhub/chat-leveling/pkg/logger"
)

// RankReconciler rebuilds mirrored rank indexes.
type RankReconciler interface {
	Reconcile(ctx context.Context) (int, error)
}

// ReconcileRankIndexJob periodically rebuilds the Redis rank mirror so that
// events lost while Redis was unreachable do not skew ranks for long.
type ReconcileRankIndexJob struct {
	index RankReconciler
	log   *zap.Logger

	lastRebuilt atomic.Int64
}

// NewReconcileRankIndexJob creates the job.
func NewReconcileRankIndexJob(index RankReconciler, log *zap.Logger) *ReconcileRankIndexJob {
	if log == nil {
		log = zap.NewNop()
	}
	return &ReconcileRankIndexJob{index: index, log: log.With(logger.Component("job.reconcile_rank_index"))}
}

// Name returns the job name.
func (j *ReconcileRankIndexJob) Name() string { return "reconcile_rank_index" }

// Run rebuilds every group the index has served.
func (j *ReconcileRankIndexJob) Run(ctx context.Context) error {
	start := time.Now()
	n, err := j.index.Reconcile(ctx)

	j.lastRebuilt.Store(int64(n))

	if n > 0 {
		j.log.Info("rank index reconciled", zap.Int("groups", n), logger.Latency(time.Since(start)))
	}
	return err
}

// LastRebuilt returns the group count of the last run.
func (j *ReconcileRankIndexJob) LastRebuilt() int64 { return j.lastRebuilt.Load() }

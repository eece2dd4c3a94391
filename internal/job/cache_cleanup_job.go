package job

import (
	"context"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/poleval/poleval/internal/cache"
	"github.com/poleval/poleval/internal/repo"
)

// CacheCleanupJob expires stale session caches and their evaluation history
// together, so a session never keeps history without its cached documents
// or the other way round.
type CacheCleanupJob struct {
	cache  *cache.SessionCache
	evals  *repo.EvaluationRepo
	maxAge time.Duration
}

func NewCacheCleanupJob(sessionCache *cache.SessionCache, evals *repo.EvaluationRepo, maxAge time.Duration) *CacheCleanupJob {
	return &CacheCleanupJob{cache: sessionCache, evals: evals, maxAge: maxAge}
}

func (j *CacheCleanupJob) Name() string {
	return "cache_cleanup"
}

func (j *CacheCleanupJob) Run(ctx context.Context) error {
	cutoff := time.Now().Add(-j.maxAge)
	removed, err := j.cache.CleanupBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	var rows int64
	if j.evals != nil {
		rows, err = j.evals.DeleteBefore(ctx, cutoff.Unix())
		if err != nil {
			return err
		}
	}
	logutil.GetLogger(ctx).Info("cache cleanup done",
		zap.Int("sessions_removed", removed),
		zap.Int64("history_rows_removed", rows),
	)
	return nil
}

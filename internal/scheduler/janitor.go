// Package scheduler runs periodic maintenance jobs.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/docflow/docflow/internal/db/models"
	"github.com/docflow/docflow/internal/storage"
	"github.com/docflow/docflow/pkg/metrics"
	"github.com/go-co-op/gocron"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	sweepTimeout = 5 * time.Minute
	minGrace     = time.Hour
	lookupBatch  = 500
	jobTag       = "blob_janitor"
)

// BlobJanitor deletes blobs that no document references. Only blobs older
// than the grace period are considered, so a file written by an upload whose
// row is not committed yet is never touched. A non-positive grace falls back
// to minGrace.
type BlobJanitor struct {
	db        *gorm.DB
	blobs     storage.BlobStore
	logger    *zap.Logger
	metrics   *metrics.MetricsCollector
	grace     time.Duration
	scheduler *gocron.Scheduler
	now       func() time.Time
}

func NewBlobJanitor(db *gorm.DB, blobs storage.BlobStore, logger *zap.Logger, mc *metrics.MetricsCollector, grace time.Duration) *BlobJanitor {
	if grace <= 0 {
		grace = minGrace
	}
	return &BlobJanitor{
		db:        db,
		blobs:     blobs,
		logger:    logger.With(zap.String("job", jobTag)),
		metrics:   mc,
		grace:     grace,
		scheduler: gocron.NewScheduler(time.UTC),
		now:       time.Now,
	}
}

// Sweep runs one pass and returns how many blobs were removed.
func (j *BlobJanitor) Sweep(ctx context.Context) (removed int, err error) {
	start := time.Now()
	defer func() { j.metrics.Observe("janitor_sweep", start, err) }()

	objects, err := j.blobs.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list blobs: %w", err)
	}

	cutoff := j.now().Add(-j.grace)
	candidates := make([]string, 0, len(objects))
	for _, o := range objects {
		if o.LastModified.Before(cutoff) {
			candidates = append(candidates, o.Handle)
		}
	}

	for len(candidates) > 0 {
		n := min(lookupBatch, len(candidates))
		batch := candidates[:n]
		candidates = candidates[n:]

		var referenced []string
		if err := j.db.WithContext(ctx).Model(&models.Document{}).
			Where("filename IN ?", batch).
			Pluck("filename", &referenced).Error; err != nil {
			return removed, fmt.Errorf("lookup handles: %w", err)
		}
		inUse := make(map[string]struct{}, len(referenced))
		for _, h := range referenced {
			inUse[h] = struct{}{}
		}

		for _, h := range batch {
			if _, ok := inUse[h]; ok {
				continue
			}
			err := j.blobs.Delete(ctx, h)
			if err != nil && !errors.Is(err, storage.ErrBlobNotFound) {
				j.logger.Warn("Failed to remove orphan blob", zap.String("handle", h), zap.Error(err))
				continue
			}
			removed++
			j.logger.Info("Removed orphan blob", zap.String("handle", h))
		}
	}
	return removed, nil
}

// Start schedules Sweep every interval, the first run one interval from now.
// Runs never overlap.
func (j *BlobJanitor) Start(interval time.Duration) error {
	_, err := j.scheduler.Every(interval).WaitForSchedule().SingletonMode().Tag(jobTag).Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
		defer cancel()

		removed, err := j.Sweep(ctx)
		if err != nil {
			j.logger.Error("Blob sweep failed", zap.Error(err))
			return
		}
		j.logger.Debug("Blob sweep finished", zap.Int("removed", removed))
	})
	if err != nil {
		return fmt.Errorf("schedule %s: %w", jobTag, err)
	}
	j.scheduler.StartAsync()
	j.logger.Info("Blob janitor started", zap.Duration("interval", interval), zap.Duration("grace", j.grace))
	return nil
}

func (j *BlobJanitor) Stop() {
	j.scheduler.Stop()
	j.logger.Info("Blob janitor stopped")
}

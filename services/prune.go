package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/cppla/fhost/models"
	"github.com/cppla/fhost/storage"
)

const sweepBatchSize = 500

var errSweepStopped = errors.New("sweep stopped")

// PruneResult summarizes one prune sweep.
type PruneResult struct {
	Expired  int // records whose expiration was cleared
	Skipped  int // records left alone after an OS error
	Duration time.Duration
}

// Pruner deletes the bytes of expired files. Rows are kept with a nil
// expiration so the digest can be revived or stay blocked.
type Pruner struct {
	db    *gorm.DB
	store *storage.ContentStore
	log   *zap.Logger
	now   func() time.Time
}

func NewPruner(db *gorm.DB, store *storage.ContentStore, log *zap.Logger) *Pruner {
	return &Pruner{db: db, store: store, log: log, now: time.Now}
}

// Prune removes every file whose expiration is in the past. Per-file disk
// errors are logged and the file is retried next run. A database error
// aborts without committing anything. Cancelling ctx stops the scan early
// and still commits what was already deleted.
func (p *Pruner) Prune(ctx context.Context) (PruneResult, error) {
	start := time.Now()
	var res PruneResult
	nowMs := p.now().UnixMilli()

	var ids []uint64
	var batch []models.File
	err := p.db.Where("expiration IS NOT NULL AND expiration < ?", nowMs).
		FindInBatches(&batch, sweepBatchSize, func(tx *gorm.DB, _ int) error {
			for _, f := range batch {
				if ctx.Err() != nil {
					return errSweepStopped
				}
				if err := p.store.Delete(f.SHA256); err != nil {
					p.log.Warn("prune: could not remove file", zap.Uint64("id", f.ID), zap.String("sha256", f.SHA256), zap.Error(err))
					res.Skipped++
					continue
				}
				p.log.Info("prune: removing expired file", zap.Uint64("id", f.ID), zap.String("sha256", f.SHA256))
				ids = append(ids, f.ID)
			}
			return nil
		}).Error
	if err != nil && !errors.Is(err, errSweepStopped) {
		return res, fmt.Errorf("scan expired files: %w", err)
	}

	if len(ids) > 0 {
		err := p.db.WithContext(context.WithoutCancel(ctx)).Transaction(func(tx *gorm.DB) error {
			for i := 0; i < len(ids); i += sweepBatchSize {
				chunk := ids[i:min(i+sweepBatchSize, len(ids))]
				if err := tx.Model(&models.File{}).Where("id IN ?", chunk).Update("expiration", nil).Error; err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return res, fmt.Errorf("commit prune: %w", err)
		}
	}

	res.Expired = len(ids)
	res.Duration = time.Since(start)
	pruneRunsTotal.Inc()
	pruneRemovedTotal.Add(float64(res.Expired))
	sweepDuration.WithLabelValues("prune").Observe(res.Duration.Seconds())
	return res, nil
}

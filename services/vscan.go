package services

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/cppla/fhost/codec"
	"github.com/cppla/fhost/config"
	"github.com/cppla/fhost/models"
	"github.com/cppla/fhost/storage"
)

// ScanSummary counts the outcomes of one sweep.
type ScanSummary struct {
	Scanned     int
	Clean       int
	Quarantined int
	Ignored     int
	Failed      int
	Duration    time.Duration
}

type scanItem struct {
	id     uint64
	sha256 string
	name   string
}

type scanOutcome struct {
	item        scanItem
	result      ScanResult
	quarantined bool
	done        bool
}

// VirusScanner runs stored files through a Scanner and quarantines hits.
type VirusScanner struct {
	db         *gorm.DB
	store      *storage.ContentStore
	codec      *codec.Codec
	scanner    Scanner
	log        *zap.Logger
	quarantine string
	interval   time.Duration
	ignore     map[string]struct{}
	workers    int
	now        func() time.Time
}

func NewVirusScanner(db *gorm.DB, store *storage.ContentStore, c *codec.Codec, scanner Scanner, cfg config.AppConfig, log *zap.Logger) *VirusScanner {
	ignore := make(map[string]struct{}, len(cfg.VScanIgnore))
	for _, sig := range cfg.VScanIgnore {
		ignore[sig] = struct{}{}
	}
	return &VirusScanner{
		db:         db,
		store:      store,
		codec:      c,
		scanner:    scanner,
		log:        log,
		quarantine: cfg.VScanQuarantinePath,
		interval:   time.Duration(cfg.VScanIntervalHours) * time.Hour,
		ignore:     ignore,
		workers:    max(cfg.VScanWorkers, 1),
		now:        time.Now,
	}
}

func (v *VirusScanner) pending() ([]scanItem, error) {
	q := v.db.Where("removed = ? AND expiration IS NOT NULL", false)
	if v.interval > 0 {
		q = q.Where("(last_vscan IS NULL OR last_vscan < ?)", v.now().Add(-v.interval))
	} else {
		q = q.Where("last_vscan IS NULL")
	}

	var items []scanItem
	var batch []models.File
	err := q.Select("id", "sha256", "ext").FindInBatches(&batch, sweepBatchSize, func(tx *gorm.DB, _ int) error {
		for _, f := range batch {
			items = append(items, scanItem{id: f.ID, sha256: f.SHA256, name: v.codec.EncodeUint64(f.ID) + f.Ext})
		}
		return nil
	}).Error
	return items, err
}

// Scan checks every file not scanned within the interval. Results are
// written in one transaction at the end. Files whose scan failed keep a nil
// last_vscan so the next sweep retries them.
func (v *VirusScanner) Scan(ctx context.Context) (ScanSummary, error) {
	start := time.Now()
	var sum ScanSummary

	items, err := v.pending()
	if err != nil {
		return sum, fmt.Errorf("select files to scan: %w", err)
	}

	outcomes := make([]scanOutcome, len(items))
	g := new(errgroup.Group)
	g.SetLimit(v.workers)
	for i, it := range items {
		if ctx.Err() != nil {
			break
		}
		i, it := i, it
		g.Go(func() error {
			outcomes[i] = v.scanOne(ctx, it)
			return nil
		})
	}
	_ = g.Wait()

	now := v.now()
	err = v.db.WithContext(context.WithoutCancel(ctx)).Transaction(func(tx *gorm.DB) error {
		for _, out := range outcomes {
			if !out.done {
				continue
			}
			sum.Scanned++
			var last *time.Time
			switch out.result.Status {
			case ScanFailed, ScanFileNotFound:
				sum.Failed++
			default:
				last = &now
				switch {
				case out.quarantined:
					sum.Quarantined++
				case out.result.Status == ScanFound:
					sum.Ignored++
				default:
					sum.Clean++
				}
			}
			vscanResultsTotal.WithLabelValues(string(out.result.Status)).Inc()
			// never clear removed: a takedown may have landed during the sweep
			cols := map[string]any{"last_vscan": last}
			if out.quarantined {
				cols["removed"] = true
			}
			err := tx.Model(&models.File{}).Where("id = ?", out.item.id).Updates(cols).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return sum, fmt.Errorf("record scan results: %w", err)
	}

	sum.Duration = time.Since(start)
	sweepDuration.WithLabelValues("vscan").Observe(sum.Duration.Seconds())
	return sum, nil
}

func (v *VirusScanner) scanOne(ctx context.Context, it scanItem) scanOutcome {
	out := scanOutcome{item: it, done: true}

	f, err := v.store.Open(it.sha256)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			v.log.Warn("vscan: open failed", zap.String("name", it.name), zap.Error(err))
		}
		out.result = ScanResult{Status: ScanFileNotFound}
		v.log.Info("vscan result", zap.String("name", it.name), zap.String("status", string(out.result.Status)))
		return out
	}
	res, err := v.scanner.Scan(ctx, f)
	f.Close()
	if err != nil {
		v.log.Warn("vscan: scan failed", zap.String("name", it.name), zap.Error(err))
		res = ScanResult{Status: ScanFailed}
	}
	out.result = res

	if res.Status != ScanOK {
		v.log.Info("vscan result", zap.String("name", it.name), zap.String("status", string(res.Status)), zap.String("signature", res.Signature))
	}
	if res.Status == ScanFound {
		if _, ignored := v.ignore[res.Signature]; !ignored {
			if err := v.store.Quarantine(it.sha256, v.quarantine, it.name); err != nil {
				v.log.Error("vscan: quarantine failed", zap.String("name", it.name), zap.Error(err))
			}
			out.quarantined = true
		}
	}
	return out
}

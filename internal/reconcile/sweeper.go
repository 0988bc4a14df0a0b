// Package reconcile removes blobs that no node refers to.
//
// Orphans are left behind when removing the blobs of a deleted subtree
// fails, or when the process stops between storing a file's contents and
// inserting its node. A blob younger than the grace period is never
// removed, because its node may still be about to be inserted.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/michael-freling/file-drive/internal/blob"
	"github.com/michael-freling/file-drive/internal/config"
	"github.com/michael-freling/file-drive/internal/db"
	"github.com/michael-freling/file-drive/internal/metrics"
	"github.com/michael-freling/file-drive/internal/xslices"
	"golang.org/x/sync/errgroup"
)

const (
	defaultBatchSize   = 500
	defaultConcurrency = 4
)

type Options struct {
	GracePeriod time.Duration
	// DryRun only reports orphans.
	DryRun      bool
	BatchSize   int
	Concurrency int
}

func OptionsFromConfig(conf config.Sweep) Options {
	return Options{
		GracePeriod: conf.GracePeriod,
		DryRun:      conf.DryRun,
		BatchSize:   conf.BatchSize,
	}
}

type Stats struct {
	Scanned    int
	Young      int
	Referenced int
	Orphans    int
	Removed    int
	Errors     int
}

type Sweeper struct {
	logger    *slog.Logger
	dbClient  *db.Client
	blobStore blob.Store
	metrics   *metrics.Metrics
	now       func() time.Time
	options   Options

	// one sweep at a time
	mu sync.Mutex
}

type Option func(*Sweeper)

func WithMetrics(m *metrics.Metrics) Option {
	return func(sweeper *Sweeper) {
		sweeper.metrics = m
	}
}

func WithNowFunc(now func() time.Time) Option {
	return func(sweeper *Sweeper) {
		sweeper.now = now
	}
}

func NewSweeper(
	logger *slog.Logger,
	dbClient *db.Client,
	blobStore blob.Store,
	options Options,
	opts ...Option,
) *Sweeper {
	if options.BatchSize <= 0 {
		options.BatchSize = defaultBatchSize
	}
	if options.Concurrency <= 0 {
		options.Concurrency = defaultConcurrency
	}
	sweeper := &Sweeper{
		logger:    logger,
		dbClient:  dbClient,
		blobStore: blobStore,
		now:       time.Now,
		options:   options,
	}
	for _, opt := range opts {
		opt(sweeper)
	}
	return sweeper
}

// Sweep lists the blob store once and removes every blob that is older than
// the grace period and not referenced by a node. Failures to remove a blob
// are counted in Stats.Errors and do not stop the sweep.
func (sweeper *Sweeper) Sweep(ctx context.Context) (stats Stats, err error) {
	sweeper.mu.Lock()
	defer sweeper.mu.Unlock()

	startedAt := time.Now()
	defer func() {
		sweeper.metrics.ObserveSweep(metrics.SweepResult{
			Scanned:  stats.Scanned,
			Orphaned: stats.Orphans,
			Removed:  stats.Removed,
			Failed:   stats.Errors,
			Duration: time.Since(startedAt),
			Err:      err,
		})
	}()

	objects, err := sweeper.blobStore.List(ctx)
	if err != nil {
		return stats, fmt.Errorf("blobStore.List: %w", err)
	}
	stats.Scanned = len(objects)

	cutoff := sweeper.now().Add(-sweeper.options.GracePeriod)
	candidates := make([]string, 0, len(objects))
	for _, object := range objects {
		if object.ModTime.After(cutoff) {
			stats.Young++
			continue
		}
		candidates = append(candidates, object.Key)
	}

	nodeClient := sweeper.dbClient.Node()
	for _, batch := range xslices.Chunk(candidates, sweeper.options.BatchSize) {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		referenced, err := nodeClient.FindReferencedStorageKeys(ctx, batch)
		if err != nil {
			return stats, fmt.Errorf("nodeClient.FindReferencedStorageKeys: %w", err)
		}
		orphans := xslices.Filter(batch, func(key string) bool {
			_, ok := referenced[key]
			return !ok
		})
		stats.Referenced += len(batch) - len(orphans)
		stats.Orphans += len(orphans)

		if sweeper.options.DryRun {
			for _, key := range orphans {
				sweeper.logger.InfoContext(ctx, "found an orphan blob", "storageKey", key)
			}
			continue
		}
		removed, failed := sweeper.remove(ctx, orphans)
		stats.Removed += removed
		stats.Errors += failed
	}

	sweeper.logger.InfoContext(ctx, "swept the blob store",
		"scanned", stats.Scanned,
		"young", stats.Young,
		"referenced", stats.Referenced,
		"orphans", stats.Orphans,
		"removed", stats.Removed,
		"errors", stats.Errors,
		"dryRun", sweeper.options.DryRun,
	)
	if err := ctx.Err(); err != nil {
		return stats, err
	}
	return stats, nil
}

func (sweeper *Sweeper) remove(ctx context.Context, keys []string) (int, int) {
	var mu sync.Mutex
	removed, failed := 0, 0

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(sweeper.options.Concurrency)
	for _, key := range keys {
		group.Go(func() error {
			err := sweeper.blobStore.Remove(groupCtx, key)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				sweeper.logger.WarnContext(groupCtx, "failed to remove an orphan blob",
					"storageKey", key,
					"error", err,
				)
				failed++
				return nil
			}
			removed++
			return nil
		})
	}
	_ = group.Wait()
	return removed, failed
}

// Run sweeps every interval until ctx is done. A failed sweep is logged and
// retried at the next tick.
func (sweeper *Sweeper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := sweeper.Sweep(ctx); err != nil && ctx.Err() == nil {
				sweeper.logger.ErrorContext(ctx, "failed to sweep the blob store", "error", err)
			}
		}
	}
}

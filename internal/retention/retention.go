// Package retention bounds the number of archives held by a store.
package retention

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/newthinker/dbbackup/internal/core"
	"github.com/newthinker/dbbackup/internal/metrics"
	"github.com/newthinker/dbbackup/internal/storage/archive"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Sort orders entries newest first. Equal modification times fall back to
// descending ID, which for timestamped names is also newest first.
func Sort(entries []core.ArchiveEntry) {
	slices.SortFunc(entries, func(a, b core.ArchiveEntry) int {
		if c := b.ModTime.Compare(a.ModTime); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})
}

// SelectForDeletion returns the IDs of every entry past the newest keep.
// The input slice is not modified.
func SelectForDeletion(entries []core.ArchiveEntry, keep int) []string {
	if keep < 0 {
		keep = 0
	}
	if len(entries) <= keep {
		return nil
	}

	sorted := slices.Clone(entries)
	Sort(sorted)

	victims := make([]string, 0, len(sorted)-keep)
	for _, e := range sorted[keep:] {
		victims = append(victims, e.ID)
	}
	return victims
}

// Enforcer applies the retention count to a store
type Enforcer struct {
	keep    int
	workers int
	log     *zap.Logger
	metrics *metrics.Registry
}

// New creates an Enforcer keeping the newest keep archives and deleting the
// rest with at most workers concurrent calls. m may be nil.
func New(keep, workers int, log *zap.Logger, m *metrics.Registry) *Enforcer {
	if log == nil {
		log = zap.NewNop()
	}
	if workers < 1 {
		workers = 1
	}
	return &Enforcer{keep: keep, workers: workers, log: log, metrics: m}
}

// WithLogger returns a copy logging to log
func (e *Enforcer) WithLogger(log *zap.Logger) *Enforcer {
	c := *e
	c.log = log
	return &c
}

// Enforce lists store and deletes every archive past the newest keep.
// A failed deletion is recorded and the pass continues with the others.
// A failed listing skips the pass.
func (e *Enforcer) Enforce(ctx context.Context, store archive.Storage) core.RetentionResult {
	log := e.log.With(zap.String("store", store.Name()), zap.Int("keep", e.keep))
	res := core.RetentionResult{Store: store.Name(), Keep: e.keep}

	entries, err := store.List(ctx)
	if err != nil {
		log.Error("retention listing failed", zap.Error(err))
		res.ListErr = err
		return res
	}
	res.Listed = len(entries)

	victims := SelectForDeletion(entries, e.keep)
	res.Attempted = len(victims)
	if len(victims) == 0 {
		log.Debug("nothing to prune", zap.Int("archives", len(entries)))
		e.setArchives(store.Name(), len(entries))
		return res
	}

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(e.workers)
	for _, id := range victims {
		g.Go(func() error {
			err := ctx.Err()
			if err == nil {
				err = store.Delete(ctx, id)
			}
			if e.metrics != nil {
				e.metrics.RecordDeletion(store.Name(), err)
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.Warn("failed to delete archive", zap.String("id", id), zap.Error(err))
				res.Failures = append(res.Failures, fmt.Errorf("%s: %w", id, err))
				return nil
			}
			log.Info("deleted archive", zap.String("id", id))
			res.Deleted++
			return nil
		})
	}
	_ = g.Wait()

	e.setArchives(store.Name(), res.Listed-res.Deleted)
	log.Info("retention pass complete",
		zap.Int("listed", res.Listed),
		zap.Int("deleted", res.Deleted),
		zap.Int("failed", len(res.Failures)),
	)
	return res
}

func (e *Enforcer) setArchives(store string, n int) {
	if e.metrics != nil {
		e.metrics.SetArchives(store, n)
	}
}

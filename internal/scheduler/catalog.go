package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/SalesPipe/internal/catalog"
	"github.com/BTreeMap/SalesPipe/internal/models"
)

// CatalogRefreshJob is the name of the catalog reload job.
const CatalogRefreshJob = "catalog_refresh"

// SeedLoader returns the entries to install, e.g. catalog.LoadSeedFile.
type SeedLoader func() ([]models.CatalogEntry, error)

// Invalidator is the part of the catalog index the refresh job needs.
type Invalidator interface {
	Invalidate()
	Get(ctx context.Context) (*catalog.Snapshot, error)
}

// CatalogRefresh returns a task that re-installs the seed (when a loader is
// given), invalidates the index and rebuilds it so the next turn reads the
// new catalog without paying for the rebuild.
func CatalogRefresh(w catalog.Writer, load SeedLoader, index Invalidator) Task {
	return func(ctx context.Context) error {
		if load != nil {
			entries, err := load()
			if err != nil {
				return fmt.Errorf("load catalog seed: %w", err)
			}
			if err := catalog.Install(w, entries); err != nil {
				return err
			}
		}
		index.Invalidate()
		snap, err := index.Get(ctx)
		if err != nil {
			return fmt.Errorf("rebuild catalog index: %w", err)
		}
		slog.Info("CatalogRefresh: catalog reloaded", "entries", snap.Len())
		return nil
	}
}

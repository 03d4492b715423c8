package recovery

import (
	"context"
	"log/slog"

	"github.com/BTreeMap/SalesPipe/internal/catalog"
)

// StaleMessageRecoverer is implemented by store.OutboxSender.
type StaleMessageRecoverer interface {
	RecoverStaleMessages() error
}

// StaleJobRecoverer is implemented by store.JobRunner.
type StaleJobRecoverer interface {
	RecoverStaleJobs() error
}

// SnapshotSource is implemented by catalog.Index.
type SnapshotSource interface {
	Get(ctx context.Context) (*catalog.Snapshot, error)
}

// Outbox requeues outbound messages stuck in the sending state.
func Outbox(s StaleMessageRecoverer) Recoverable {
	return Func(func(context.Context) error { return s.RecoverStaleMessages() })
}

// Jobs requeues durable jobs stuck in the running state.
func Jobs(r StaleJobRecoverer) Recoverable {
	return Func(func(context.Context) error { return r.RecoverStaleJobs() })
}

// CatalogWarmup builds the first catalog snapshot.
func CatalogWarmup(index SnapshotSource) Recoverable {
	return Func(func(ctx context.Context) error {
		snap, err := index.Get(ctx)
		if err != nil {
			return err
		}
		slog.Debug("CatalogWarmup: snapshot ready", "entries", snap.Len())
		return nil
	})
}

// Package store provides storage backends for SalesPipe.
//
// Three backends implement the same repositories: an in-memory store for
// tests and throwaway runs, SQLite for single-node deployments and Postgres.
// Sessions, catalog entries and flow definitions are stored as JSON documents
// next to the few columns that queries filter on.
package store

import (
	"errors"
	"strings"

	"github.com/BTreeMap/SalesPipe/internal/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Opts holds configuration options for store implementations.
type Opts struct {
	DSN string // database connection string or SQLite file path
}

// Option configures a store.
type Option func(*Opts)

// WithDSN sets the data source name.
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// SessionRepo persists conversation sessions. One load and one save happen
// per inbound turn.
type SessionRepo interface {
	// GetSession returns the session for a customer, or nil when none exists.
	GetSession(customerID string) (*models.Session, error)
	SaveSession(s *models.Session) error
	// ArchiveSession moves the session into the archive and removes it.
	ArchiveSession(customerID string) error
}

// CatalogRepo is the read/write contract for catalog entries.
type CatalogRepo interface {
	ListCatalogEntries(filter models.CatalogFilter) ([]models.CatalogEntry, error)
	GetCatalogEntry(id string) (*models.CatalogEntry, error)
	UpsertCatalogEntry(e models.CatalogEntry) error
}

// FlowDefinitionRepo persists data-described flow definitions and their counters.
type FlowDefinitionRepo interface {
	GetFlowDefinition(key string) (*models.FlowDefinition, error)
	ListFlowDefinitions() ([]models.FlowDefinition, error)
	// SaveFlowDefinition inserts or replaces a definition body. Counters are kept.
	SaveFlowDefinition(def models.FlowDefinition) error
	// RecordFlowEvent increments the counter for event on the definition the
	// first time the (runID, event) pair is seen. It reports whether the
	// counter moved.
	RecordFlowEvent(key, runID string, event models.FlowEvent) (bool, error)
}

// Store is the full set of repositories a backend provides.
type Store interface {
	SessionRepo
	CatalogRepo
	FlowDefinitionRepo
	OutboxRepo
	JobRepo
	DedupRepo
	Close() error
}

// IsPostgresDSN reports whether a DSN addresses a Postgres server rather than
// an SQLite file.
func IsPostgresDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=")
}

// Open returns the backend matching dsn: Postgres for server DSNs, SQLite for
// file paths and in-memory when dsn is empty.
func Open(dsn string) (Store, error) {
	switch {
	case dsn == "":
		return NewInMemoryStore(), nil
	case IsPostgresDSN(dsn):
		return NewPostgresStore(WithDSN(dsn))
	default:
		return NewSQLiteStore(WithDSN(dsn))
	}
}

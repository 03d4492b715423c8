package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/SalesPipe/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore is the multi-node backend.
type PostgresStore struct {
	sqlQueues
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{sqlQueues: newPostgresQueues(db), db: db}, nil
}

// Close closes the Postgres connection pool.
func (s *PostgresStore) Close() error {
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close Postgres database", "error", err)
	}
	return err
}

func (s *PostgresStore) GetSession(customerID string) (*models.Session, error) {
	var data []byte
	err := s.db.QueryRow(`SELECT data FROM sessions WHERE customer_id = $1`, customerID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetSession failed", "error", err, "customerID", customerID)
		return nil, fmt.Errorf("failed to load session %s: %w", customerID, err)
	}
	return decodeSession(data)
}

func (s *PostgresStore) SaveSession(sess *models.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO sessions (customer_id, status, data, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (customer_id) DO UPDATE SET status = EXCLUDED.status, data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`,
		sess.CustomerID, sess.Status, string(data), sess.CreatedAt, sess.UpdatedAt,
	)
	if err != nil {
		slog.Error("PostgresStore SaveSession failed", "error", err, "customerID", sess.CustomerID)
		return fmt.Errorf("failed to save session %s: %w", sess.CustomerID, err)
	}
	slog.Debug("PostgresStore SaveSession succeeded", "customerID", sess.CustomerID, "state", sess.State.Kind)
	return nil
}

func (s *PostgresStore) ArchiveSession(customerID string) error {
	result, err := s.db.Exec(
		`WITH moved AS (DELETE FROM sessions WHERE customer_id = $1 RETURNING customer_id, data)
		 INSERT INTO session_archive (customer_id, data, archived_at) SELECT customer_id, data, $2 FROM moved`,
		customerID, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to archive session %s: %w", customerID, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	slog.Info("PostgresStore ArchiveSession succeeded", "customerID", customerID)
	return nil
}

func (s *PostgresStore) ListCatalogEntries(filter models.CatalogFilter) ([]models.CatalogEntry, error) {
	rows, err := s.db.Query(`SELECT data FROM catalog_entries WHERE TRUE` + catalogFilterSQL(filter, "TRUE") + ` ORDER BY id`)
	if err != nil {
		slog.Error("PostgresStore ListCatalogEntries query failed", "error", err)
		return nil, fmt.Errorf("failed to query catalog entries: %w", err)
	}
	defer rows.Close()

	var entries []models.CatalogEntry
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan catalog entry: %w", err)
		}
		e, err := decodeCatalogEntry(data)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate catalog entries: %w", err)
	}
	slog.Debug("PostgresStore ListCatalogEntries succeeded", "count", len(entries))
	return entries, nil
}

func (s *PostgresStore) GetCatalogEntry(id string) (*models.CatalogEntry, error) {
	var data []byte
	err := s.db.QueryRow(`SELECT data FROM catalog_entries WHERE id = $1`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog entry %s: %w", id, err)
	}
	e, err := decodeCatalogEntry(data)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *PostgresStore) UpsertCatalogEntry(e models.CatalogEntry) error {
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = time.Now()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode catalog entry: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO catalog_entries (id, parent_id, sellable, active, data, updated_at) VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE SET parent_id = EXCLUDED.parent_id, sellable = EXCLUDED.sellable,
		   active = EXCLUDED.active, data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`,
		e.ID, nilIfEmpty(e.ParentID), e.Sellable, e.Active, string(data), e.UpdatedAt,
	)
	if err != nil {
		slog.Error("PostgresStore UpsertCatalogEntry failed", "error", err, "id", e.ID)
		return fmt.Errorf("failed to upsert catalog entry %s: %w", e.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetFlowDefinition(key string) (*models.FlowDefinition, error) {
	row := s.db.QueryRow(
		`SELECT body, start_count, complete_count, abandon_count, updated_at FROM flow_definitions WHERE key = $1`, key,
	)
	def, err := scanPostgresFlowDefinition(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load flow definition %s: %w", key, err)
	}
	return &def, nil
}

func (s *PostgresStore) ListFlowDefinitions() ([]models.FlowDefinition, error) {
	rows, err := s.db.Query(`SELECT body, start_count, complete_count, abandon_count, updated_at FROM flow_definitions ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("failed to query flow definitions: %w", err)
	}
	defer rows.Close()

	var defs []models.FlowDefinition
	for rows.Next() {
		def, err := scanPostgresFlowDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan flow definition: %w", err)
		}
		defs = append(defs, def)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate flow definitions: %w", err)
	}
	return defs, nil
}

func scanPostgresFlowDefinition(row rowScanner) (models.FlowDefinition, error) {
	var body []byte
	var start, complete, abandon int
	var updatedAt time.Time
	if err := row.Scan(&body, &start, &complete, &abandon, &updatedAt); err != nil {
		return models.FlowDefinition{}, err
	}
	def, err := decodeFlowDefinition(body)
	if err != nil {
		return def, err
	}
	def.StartCount, def.CompleteCount, def.AbandonCount = start, complete, abandon
	def.UpdatedAt = updatedAt
	return def, nil
}

func (s *PostgresStore) SaveFlowDefinition(def models.FlowDefinition) error {
	body, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("failed to encode flow definition: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO flow_definitions (key, body, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (key) DO UPDATE SET body = EXCLUDED.body, updated_at = EXCLUDED.updated_at`,
		def.Key, string(body), time.Now(),
	)
	if err != nil {
		slog.Error("PostgresStore SaveFlowDefinition failed", "error", err, "key", def.Key)
		return fmt.Errorf("failed to save flow definition %s: %w", def.Key, err)
	}
	return nil
}

func (s *PostgresStore) RecordFlowEvent(key, runID string, event models.FlowEvent) (bool, error) {
	column, err := flowEventColumn(event)
	if err != nil {
		return false, err
	}
	tx, err := s.db.Begin()
	if err != nil {
		return false, fmt.Errorf("failed to begin flow event: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(
		`INSERT INTO flow_events (run_id, event, definition_key, created_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (run_id, event) DO NOTHING`,
		runID, string(event), key, time.Now(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to record flow event: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("flow event rows affected check failed: %w", err)
	}
	if n == 0 {
		return false, nil
	}
	if _, err := tx.Exec(`UPDATE flow_definitions SET `+column+` = `+column+` + 1 WHERE key = $1`, key); err != nil {
		return false, fmt.Errorf("failed to bump %s for %s: %w", column, key, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit flow event: %w", err)
	}
	slog.Debug("PostgresStore RecordFlowEvent", "key", key, "runID", runID, "event", event)
	return true, nil
}

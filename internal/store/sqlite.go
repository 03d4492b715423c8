package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/BTreeMap/SalesPipe/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore keeps everything in a single SQLite file.
type SQLiteStore struct {
	sqlQueues
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	// SQLite allows one writer; a single connection also keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{sqlQueues: newSQLiteQueues(db), db: db}, nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}

func (s *SQLiteStore) GetSession(customerID string) (*models.Session, error) {
	var data string
	err := s.db.QueryRow(`SELECT data FROM sessions WHERE customer_id = ?`, customerID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetSession failed", "error", err, "customerID", customerID)
		return nil, fmt.Errorf("failed to load session %s: %w", customerID, err)
	}
	return decodeSession([]byte(data))
}

func (s *SQLiteStore) SaveSession(sess *models.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO sessions (customer_id, status, data, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(customer_id) DO UPDATE SET status = excluded.status, data = excluded.data, updated_at = excluded.updated_at`,
		sess.CustomerID, sess.Status, string(data), sess.CreatedAt, sess.UpdatedAt,
	)
	if err != nil {
		slog.Error("SQLiteStore SaveSession failed", "error", err, "customerID", sess.CustomerID)
		return fmt.Errorf("failed to save session %s: %w", sess.CustomerID, err)
	}
	slog.Debug("SQLiteStore SaveSession succeeded", "customerID", sess.CustomerID, "state", sess.State.Kind)
	return nil
}

func (s *SQLiteStore) ArchiveSession(customerID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin archive: %w", err)
	}
	defer tx.Rollback()

	var data string
	err = tx.QueryRow(`SELECT data FROM sessions WHERE customer_id = ?`, customerID).Scan(&data)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load session %s: %w", customerID, err)
	}
	if _, err := tx.Exec(`INSERT INTO session_archive (customer_id, data, archived_at) VALUES (?, ?, ?)`, customerID, data, time.Now()); err != nil {
		return fmt.Errorf("failed to archive session %s: %w", customerID, err)
	}
	if _, err := tx.Exec(`DELETE FROM sessions WHERE customer_id = ?`, customerID); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", customerID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit archive: %w", err)
	}
	slog.Info("SQLiteStore ArchiveSession succeeded", "customerID", customerID)
	return nil
}

func (s *SQLiteStore) ListCatalogEntries(filter models.CatalogFilter) ([]models.CatalogEntry, error) {
	rows, err := s.db.Query(`SELECT data FROM catalog_entries WHERE 1 = 1` + catalogFilterSQL(filter, "1") + ` ORDER BY id`)
	if err != nil {
		slog.Error("SQLiteStore ListCatalogEntries query failed", "error", err)
		return nil, fmt.Errorf("failed to query catalog entries: %w", err)
	}
	defer rows.Close()

	var entries []models.CatalogEntry
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan catalog entry: %w", err)
		}
		e, err := decodeCatalogEntry([]byte(data))
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate catalog entries: %w", err)
	}
	slog.Debug("SQLiteStore ListCatalogEntries succeeded", "count", len(entries))
	return entries, nil
}

func (s *SQLiteStore) GetCatalogEntry(id string) (*models.CatalogEntry, error) {
	var data string
	err := s.db.QueryRow(`SELECT data FROM catalog_entries WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog entry %s: %w", id, err)
	}
	e, err := decodeCatalogEntry([]byte(data))
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *SQLiteStore) UpsertCatalogEntry(e models.CatalogEntry) error {
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = time.Now()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode catalog entry: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO catalog_entries (id, parent_id, sellable, active, data, updated_at) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET parent_id = excluded.parent_id, sellable = excluded.sellable,
		   active = excluded.active, data = excluded.data, updated_at = excluded.updated_at`,
		e.ID, nilIfEmpty(e.ParentID), e.Sellable, e.Active, string(data), e.UpdatedAt,
	)
	if err != nil {
		slog.Error("SQLiteStore UpsertCatalogEntry failed", "error", err, "id", e.ID)
		return fmt.Errorf("failed to upsert catalog entry %s: %w", e.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetFlowDefinition(key string) (*models.FlowDefinition, error) {
	row := s.db.QueryRow(
		`SELECT body, start_count, complete_count, abandon_count, updated_at FROM flow_definitions WHERE key = ?`, key,
	)
	def, err := scanSQLiteFlowDefinition(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load flow definition %s: %w", key, err)
	}
	return &def, nil
}

func (s *SQLiteStore) ListFlowDefinitions() ([]models.FlowDefinition, error) {
	rows, err := s.db.Query(`SELECT body, start_count, complete_count, abandon_count, updated_at FROM flow_definitions ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("failed to query flow definitions: %w", err)
	}
	defer rows.Close()

	var defs []models.FlowDefinition
	for rows.Next() {
		def, err := scanSQLiteFlowDefinition(rows)
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

func scanSQLiteFlowDefinition(row rowScanner) (models.FlowDefinition, error) {
	var body string
	var start, complete, abandon int
	var updatedAt time.Time
	if err := row.Scan(&body, &start, &complete, &abandon, &updatedAt); err != nil {
		return models.FlowDefinition{}, err
	}
	def, err := decodeFlowDefinition([]byte(body))
	if err != nil {
		return def, err
	}
	def.StartCount, def.CompleteCount, def.AbandonCount = start, complete, abandon
	def.UpdatedAt = updatedAt
	return def, nil
}

func (s *SQLiteStore) SaveFlowDefinition(def models.FlowDefinition) error {
	body, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("failed to encode flow definition: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO flow_definitions (key, body, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`,
		def.Key, string(body), time.Now(),
	)
	if err != nil {
		slog.Error("SQLiteStore SaveFlowDefinition failed", "error", err, "key", def.Key)
		return fmt.Errorf("failed to save flow definition %s: %w", def.Key, err)
	}
	slog.Debug("SQLiteStore SaveFlowDefinition succeeded", "key", def.Key, "steps", len(def.Steps))
	return nil
}

func (s *SQLiteStore) RecordFlowEvent(key, runID string, event models.FlowEvent) (bool, error) {
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
		`INSERT OR IGNORE INTO flow_events (run_id, event, definition_key, created_at) VALUES (?, ?, ?, ?)`,
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
	if _, err := tx.Exec(`UPDATE flow_definitions SET `+column+` = `+column+` + 1 WHERE key = ?`, key); err != nil {
		return false, fmt.Errorf("failed to bump %s for %s: %w", column, key, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit flow event: %w", err)
	}
	slog.Debug("SQLiteStore RecordFlowEvent", "key", key, "runID", runID, "event", event)
	return true, nil
}

package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/BTreeMap/SalesPipe/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

const jobColumns = `id, kind, run_at, payload_json, status, attempt, max_attempts, last_error, locked_at, dedupe_key, created_at, updated_at`

const outboxColumns = `id, conversation_id, kind, payload_json, status, attempts, next_attempt_at, dedupe_key, locked_at, last_error, created_at, updated_at`

func scanJob(row rowScanner) (Job, error) {
	var j Job
	var payloadJSON, lastError, dedupeKey sql.NullString
	var lockedAt sql.NullTime
	err := row.Scan(
		&j.ID, &j.Kind, &j.RunAt, &payloadJSON, &j.Status, &j.Attempt, &j.MaxAttempts,
		&lastError, &lockedAt, &dedupeKey, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return j, err
	}
	j.PayloadJSON = payloadJSON.String
	j.LastError = lastError.String
	j.DedupeKey = dedupeKey.String
	if lockedAt.Valid {
		j.LockedAt = &lockedAt.Time
	}
	return j, nil
}

func scanOutboxMessage(row rowScanner) (OutboxMessage, error) {
	var m OutboxMessage
	var payloadJSON, dedupeKey, lastError sql.NullString
	var nextAttemptAt, lockedAt sql.NullTime
	err := row.Scan(
		&m.ID, &m.ConversationID, &m.Kind, &payloadJSON, &m.Status, &m.Attempts,
		&nextAttemptAt, &dedupeKey, &lockedAt, &lastError, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return m, fmt.Errorf("scan outbox message failed: %w", err)
	}
	m.PayloadJSON = payloadJSON.String
	m.DedupeKey = dedupeKey.String
	m.LastError = lastError.String
	if nextAttemptAt.Valid {
		m.NextAttemptAt = &nextAttemptAt.Time
	}
	if lockedAt.Valid {
		m.LockedAt = &lockedAt.Time
	}
	return m, nil
}

func collectJobs(rows *sql.Rows) ([]Job, error) {
	defer rows.Close()
	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job failed: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("job rows iteration failed: %w", err)
	}
	return jobs, nil
}

func collectOutboxMessages(rows *sql.Rows) ([]OutboxMessage, error) {
	defer rows.Close()
	var msgs []OutboxMessage
	for rows.Next() {
		m, err := scanOutboxMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outbox rows iteration failed: %w", err)
	}
	return msgs, nil
}

func decodeSession(data []byte) (*models.Session, error) {
	var s models.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &s, nil
}

func decodeCatalogEntry(data []byte) (models.CatalogEntry, error) {
	var e models.CatalogEntry
	if err := json.Unmarshal(data, &e); err != nil {
		return e, fmt.Errorf("failed to decode catalog entry: %w", err)
	}
	return e, nil
}

func decodeFlowDefinition(data []byte) (models.FlowDefinition, error) {
	var d models.FlowDefinition
	if err := json.Unmarshal(data, &d); err != nil {
		return d, fmt.Errorf("failed to decode flow definition: %w", err)
	}
	return d, nil
}

// flowEventColumn maps a lifecycle event to its counter column.
func flowEventColumn(event models.FlowEvent) (string, error) {
	switch event {
	case models.FlowEventStart:
		return "start_count", nil
	case models.FlowEventComplete:
		return "complete_count", nil
	case models.FlowEventAbandon:
		return "abandon_count", nil
	default:
		return "", fmt.Errorf("unknown flow event %q", event)
	}
}

func catalogFilterSQL(filter models.CatalogFilter, truthy string) string {
	where := ""
	if filter.SellableOnly {
		where += " AND sellable = " + truthy
	}
	if filter.ActiveOnly {
		where += " AND active = " + truthy
	}
	return where
}

package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/SalesPipe/internal/util"
)

var (
	_ JobRepo    = (*sqlQueues)(nil)
	_ OutboxRepo = (*sqlQueues)(nil)
	_ DedupRepo  = (*sqlQueues)(nil)
)

// sqlQueues implements the job, outbox and inbound-dedup tables on top of
// database/sql for both SQL backends. Queries are written with "?"
// placeholders and rebound for Postgres.
type sqlQueues struct {
	db   *sql.DB
	name string
	// numbered rewrites placeholders as $1, $2, ... (Postgres).
	numbered bool
	// skipLocked claims rows with a single UPDATE ... RETURNING over a
	// FOR UPDATE SKIP LOCKED subquery, so concurrent workers never share a row.
	skipLocked bool
}

func newSQLiteQueues(db *sql.DB) sqlQueues {
	return sqlQueues{db: db, name: "SQLiteStore"}
}

func newPostgresQueues(db *sql.DB) sqlQueues {
	return sqlQueues{db: db, name: "PostgresStore", numbered: true, skipLocked: true}
}

func (q *sqlQueues) bind(query string) string {
	if !q.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (q *sqlQueues) exec(query string, args ...any) (sql.Result, error) {
	return q.db.Exec(q.bind(query), args...)
}

// existingByDedupeKey returns the id of a live row holding dedupeKey, or ""
// when there is none. Terminal rows free their key for reuse.
func (q *sqlQueues) existingByDedupeKey(table, dedupeKey string, terminal ...string) (string, error) {
	if dedupeKey == "" {
		return "", nil
	}
	quoted := make([]string, len(terminal))
	for i, s := range terminal {
		quoted[i] = "'" + s + "'"
	}
	var id string
	err := q.db.QueryRow(
		q.bind(`SELECT id FROM `+table+` WHERE dedupe_key = ? AND status NOT IN (`+strings.Join(quoted, ", ")+`)`),
		dedupeKey,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("%s dedupe check failed: %w", table, err)
	}
	return id, nil
}

// claimQuery describes how due rows of one queue table are claimed.
type claimQuery struct {
	table   string
	columns string
	due     string // WHERE clause over queued rows with one placeholder for now
	order   string
	status  string // status claimed rows move to
}

// claim moves up to limit due rows into c.status and returns them as they
// were read. Without row locks the read and the updates share a transaction.
func claim[T any](q *sqlQueues, c claimQuery, now time.Time, limit int, collect func(*sql.Rows) ([]T, error), idOf func(T) string) ([]T, error) {
	if q.skipLocked {
		rows, err := q.db.Query(q.bind(
			`UPDATE `+c.table+` SET status = '`+c.status+`', locked_at = ?, updated_at = ?
			 WHERE id IN (
			   SELECT id FROM `+c.table+` WHERE `+c.due+`
			   ORDER BY `+c.order+` LIMIT ?
			   FOR UPDATE SKIP LOCKED
			 )
			 RETURNING `+c.columns),
			now, now, now, limit,
		)
		if err != nil {
			return nil, fmt.Errorf("claim %s failed: %w", c.table, err)
		}
		return collect(rows)
	}

	tx, err := q.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("claim %s begin failed: %w", c.table, err)
	}
	defer tx.Rollback()
	rows, err := tx.Query(q.bind(`SELECT `+c.columns+` FROM `+c.table+` WHERE `+c.due+` ORDER BY `+c.order+` LIMIT ?`), now, limit)
	if err != nil {
		return nil, fmt.Errorf("claim %s query failed: %w", c.table, err)
	}
	items, err := collect(rows)
	if err != nil {
		return nil, err
	}
	for _, it := range items {
		if _, err := tx.Exec(q.bind(`UPDATE `+c.table+` SET status = ?, locked_at = ?, updated_at = ? WHERE id = ?`), c.status, now, now, idOf(it)); err != nil {
			return nil, fmt.Errorf("claim %s update failed: %w", c.table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("claim %s commit failed: %w", c.table, err)
	}
	return items, nil
}

func (q *sqlQueues) requeueStale(table, from string, staleBefore time.Time, method string) (int, error) {
	result, err := q.exec(
		`UPDATE `+table+` SET status = 'queued', locked_at = NULL, updated_at = ? WHERE status = '`+from+`' AND locked_at < ?`,
		time.Now(), staleBefore,
	)
	if err != nil {
		return 0, fmt.Errorf("requeue stale %s failed: %w", table, err)
	}
	n, _ := result.RowsAffected()
	if n > 0 {
		slog.Info(q.name+"."+method, "requeued", n)
	}
	return int(n), nil
}

// Jobs

func (q *sqlQueues) EnqueueJob(kind string, runAt time.Time, payloadJSON string, dedupeKey string) (string, error) {
	existing, err := q.existingByDedupeKey("jobs", dedupeKey, string(JobStatusDone), string(JobStatusCanceled))
	if err != nil {
		return "", err
	}
	if existing != "" {
		slog.Debug(q.name+".EnqueueJob: dedupe hit", "dedupeKey", dedupeKey, "existingID", existing)
		return existing, nil
	}

	id := util.NewJobID()
	now := time.Now()
	_, err = q.exec(
		`INSERT INTO jobs (id, kind, run_at, payload_json, status, attempt, max_attempts, dedupe_key, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 'queued', 0, ?, ?, ?, ?)`,
		id, kind, runAt, payloadJSON, DefaultJobMaxAttempts, nilIfEmpty(dedupeKey), now, now,
	)
	if err != nil {
		return "", fmt.Errorf("enqueue job failed: %w", err)
	}
	slog.Debug(q.name+".EnqueueJob", "id", id, "kind", kind, "runAt", runAt)
	return id, nil
}

func (q *sqlQueues) ClaimDueJobs(now time.Time, limit int) ([]Job, error) {
	jobs, err := claim(q, claimQuery{
		table:   "jobs",
		columns: jobColumns,
		due:     "status = 'queued' AND run_at <= ?",
		order:   "run_at ASC",
		status:  string(JobStatusRunning),
	}, now, limit, collectJobs, func(j Job) string { return j.ID })
	if err != nil {
		return nil, err
	}
	sort.SliceStable(jobs, func(i, k int) bool { return jobs[i].RunAt.Before(jobs[k].RunAt) })
	for i := range jobs {
		jobs[i].Status = JobStatusRunning
		jobs[i].LockedAt = &now
	}
	return jobs, nil
}

func (q *sqlQueues) CompleteJob(id string) error {
	if _, err := q.exec(`UPDATE jobs SET status = 'done', updated_at = ? WHERE id = ?`, time.Now(), id); err != nil {
		return fmt.Errorf("complete job failed: %w", err)
	}
	return nil
}

// FailJob counts the attempt and either reschedules the job or, once its
// attempts are spent, marks it failed. SET expressions read the pre-update
// row, so both CASEs see the same attempt count.
func (q *sqlQueues) FailJob(id string, errMsg string, nextRunAt time.Time) error {
	result, err := q.exec(
		`UPDATE jobs SET
		   status = CASE WHEN attempt + 1 >= max_attempts THEN 'failed' ELSE 'queued' END,
		   run_at = CASE WHEN attempt + 1 >= max_attempts THEN run_at ELSE ? END,
		   attempt = attempt + 1, last_error = ?, locked_at = NULL, updated_at = ?
		 WHERE id = ?`,
		nextRunAt, errMsg, time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("fail job update failed: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("fail job lookup failed: %w", ErrNotFound)
	}
	return nil
}

func (q *sqlQueues) CancelJob(id string) error {
	if _, err := q.exec(`UPDATE jobs SET status = 'canceled', locked_at = NULL, updated_at = ? WHERE id = ?`, time.Now(), id); err != nil {
		return fmt.Errorf("cancel job failed: %w", err)
	}
	return nil
}

func (q *sqlQueues) RequeueStaleRunningJobs(staleBefore time.Time) (int, error) {
	return q.requeueStale("jobs", string(JobStatusRunning), staleBefore, "RequeueStaleRunningJobs")
}

func (q *sqlQueues) GetJob(id string) (*Job, error) {
	j, err := scanJob(q.db.QueryRow(q.bind(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job failed: %w", err)
	}
	return &j, nil
}

// Outbox

func (q *sqlQueues) EnqueueOutboxMessage(conversationID, kind, payloadJSON, dedupeKey string) (string, error) {
	existing, err := q.existingByDedupeKey("outbox_messages", dedupeKey,
		string(OutboxStatusSent), string(OutboxStatusFailed), string(OutboxStatusCanceled))
	if err != nil {
		return "", err
	}
	if existing != "" {
		slog.Debug(q.name+".EnqueueOutboxMessage: dedupe hit", "dedupeKey", dedupeKey, "existingID", existing)
		return existing, nil
	}

	id := util.NewOutboxID()
	now := time.Now()
	_, err = q.exec(
		`INSERT INTO outbox_messages (id, conversation_id, kind, payload_json, status, attempts, dedupe_key, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 'queued', 0, ?, ?, ?)`,
		id, conversationID, kind, payloadJSON, nilIfEmpty(dedupeKey), now, now,
	)
	if err != nil {
		return "", fmt.Errorf("enqueue outbox message failed: %w", err)
	}
	slog.Debug(q.name+".EnqueueOutboxMessage", "id", id, "conversationID", conversationID, "kind", kind)
	return id, nil
}

func (q *sqlQueues) ClaimDueOutboxMessages(now time.Time, limit int) ([]OutboxMessage, error) {
	msgs, err := claim(q, claimQuery{
		table:   "outbox_messages",
		columns: outboxColumns,
		due:     "status = 'queued' AND (next_attempt_at IS NULL OR next_attempt_at <= ?)",
		order:   "created_at ASC",
		status:  string(OutboxStatusSending),
	}, now, limit, collectOutboxMessages, func(m OutboxMessage) string { return m.ID })
	if err != nil {
		return nil, err
	}
	sort.SliceStable(msgs, func(i, k int) bool { return msgs[i].CreatedAt.Before(msgs[k].CreatedAt) })
	for i := range msgs {
		msgs[i].Status = OutboxStatusSending
		msgs[i].LockedAt = &now
	}
	return msgs, nil
}

func (q *sqlQueues) MarkOutboxMessageSent(id string) error {
	if _, err := q.exec(`UPDATE outbox_messages SET status = 'sent', updated_at = ? WHERE id = ?`, time.Now(), id); err != nil {
		return fmt.Errorf("mark outbox sent failed: %w", err)
	}
	return nil
}

func (q *sqlQueues) FailOutboxMessage(id string, errMsg string, nextAttemptAt time.Time) error {
	_, err := q.exec(
		`UPDATE outbox_messages SET status = CASE WHEN attempts + 1 >= ? THEN 'failed' ELSE 'queued' END,
		   attempts = attempts + 1, last_error = ?, next_attempt_at = ?, locked_at = NULL, updated_at = ? WHERE id = ?`,
		MaxOutboxAttempts, errMsg, nextAttemptAt, time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("fail outbox message failed: %w", err)
	}
	return nil
}

func (q *sqlQueues) RequeueStaleSendingMessages(staleBefore time.Time) (int, error) {
	return q.requeueStale("outbox_messages", string(OutboxStatusSending), staleBefore, "RequeueStaleSendingMessages")
}

// Inbound dedup

func (q *sqlQueues) IsDuplicate(messageID string) (bool, error) {
	var id string
	err := q.db.QueryRow(q.bind(`SELECT message_id FROM inbound_dedup WHERE message_id = ?`), messageID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("dedup check failed: %w", err)
	}
	return true, nil
}

// RecordInbound inserts the message id and reports whether it was new.
// Both backends accept the ON CONFLICT upsert clause.
func (q *sqlQueues) RecordInbound(messageID, customerID string) (bool, error) {
	result, err := q.exec(
		`INSERT INTO inbound_dedup (message_id, customer_id, received_at) VALUES (?, ?, ?)
		 ON CONFLICT (message_id) DO NOTHING`,
		messageID, customerID, time.Now(),
	)
	if err != nil {
		return false, fmt.Errorf("record inbound failed: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("dedup rows affected check failed: %w", err)
	}
	return n > 0, nil
}

func (q *sqlQueues) MarkProcessed(messageID string) error {
	if _, err := q.exec(`UPDATE inbound_dedup SET processed_at = ? WHERE message_id = ?`, time.Now(), messageID); err != nil {
		return fmt.Errorf("mark processed failed: %w", err)
	}
	return nil
}

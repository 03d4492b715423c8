package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/BTreeMap/SalesPipe/internal/models"
	"github.com/BTreeMap/SalesPipe/internal/util"
)

// InMemoryStore keeps all records in process memory. Values are copied in
// and out so callers never share state with the store.
type InMemoryStore struct {
	mu         sync.Mutex
	sessions   map[string][]byte
	archive    map[string][][]byte
	catalog    map[string]models.CatalogEntry
	flowDefs   map[string]models.FlowDefinition
	flowEvents map[string]bool
	outbox     map[string]*OutboxMessage
	jobs       map[string]*Job
	dedup      map[string]*DedupRecord
}

var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore returns an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions:   make(map[string][]byte),
		archive:    make(map[string][][]byte),
		catalog:    make(map[string]models.CatalogEntry),
		flowDefs:   make(map[string]models.FlowDefinition),
		flowEvents: make(map[string]bool),
		outbox:     make(map[string]*OutboxMessage),
		jobs:       make(map[string]*Job),
		dedup:      make(map[string]*DedupRecord),
	}
}

func (s *InMemoryStore) Close() error { return nil }

func (s *InMemoryStore) GetSession(customerID string) (*models.Session, error) {
	s.mu.Lock()
	data, ok := s.sessions[customerID]
	s.mu.Unlock()
	if !ok {
		return nil, nil
	}
	return decodeSession(data)
}

func (s *InMemoryStore) SaveSession(sess *models.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	s.mu.Lock()
	s.sessions[sess.CustomerID] = data
	s.mu.Unlock()
	slog.Debug("InMemoryStore SaveSession", "customerID", sess.CustomerID, "state", sess.State.Kind)
	return nil
}

func (s *InMemoryStore) ArchiveSession(customerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.sessions[customerID]
	if !ok {
		return ErrNotFound
	}
	s.archive[customerID] = append(s.archive[customerID], data)
	delete(s.sessions, customerID)
	return nil
}

// ArchivedSessions returns the archived copies of a customer's sessions, oldest first.
func (s *InMemoryStore) ArchivedSessions(customerID string) ([]*models.Session, error) {
	s.mu.Lock()
	raw := append([][]byte(nil), s.archive[customerID]...)
	s.mu.Unlock()
	out := make([]*models.Session, 0, len(raw))
	for _, data := range raw {
		sess, err := decodeSession(data)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, nil
}

func (s *InMemoryStore) ListCatalogEntries(filter models.CatalogFilter) ([]models.CatalogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.CatalogEntry, 0, len(s.catalog))
	for _, e := range s.catalog {
		if filter.SellableOnly && !e.Sellable {
			continue
		}
		if filter.ActiveOnly && !e.Active {
			continue
		}
		e.Aliases = append([]string(nil), e.Aliases...)
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemoryStore) GetCatalogEntry(id string) (*models.CatalogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.catalog[id]
	if !ok {
		return nil, nil
	}
	e.Aliases = append([]string(nil), e.Aliases...)
	return &e, nil
}

func (s *InMemoryStore) UpsertCatalogEntry(e models.CatalogEntry) error {
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = time.Now()
	}
	e.Aliases = append([]string(nil), e.Aliases...)
	s.mu.Lock()
	s.catalog[e.ID] = e
	s.mu.Unlock()
	return nil
}

func copyFlowDefinition(def models.FlowDefinition) (models.FlowDefinition, error) {
	body, err := json.Marshal(def)
	if err != nil {
		return def, fmt.Errorf("failed to encode flow definition: %w", err)
	}
	return decodeFlowDefinition(body)
}

func (s *InMemoryStore) GetFlowDefinition(key string) (*models.FlowDefinition, error) {
	s.mu.Lock()
	def, ok := s.flowDefs[key]
	s.mu.Unlock()
	if !ok {
		return nil, nil
	}
	cp, err := copyFlowDefinition(def)
	if err != nil {
		return nil, err
	}
	return &cp, nil
}

func (s *InMemoryStore) ListFlowDefinitions() ([]models.FlowDefinition, error) {
	s.mu.Lock()
	defs := make([]models.FlowDefinition, 0, len(s.flowDefs))
	for _, d := range s.flowDefs {
		defs = append(defs, d)
	}
	s.mu.Unlock()
	sort.Slice(defs, func(i, j int) bool { return defs[i].Key < defs[j].Key })
	for i := range defs {
		cp, err := copyFlowDefinition(defs[i])
		if err != nil {
			return nil, err
		}
		defs[i] = cp
	}
	return defs, nil
}

func (s *InMemoryStore) SaveFlowDefinition(def models.FlowDefinition) error {
	cp, err := copyFlowDefinition(def)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.flowDefs[def.Key]; ok {
		cp.StartCount, cp.CompleteCount, cp.AbandonCount = old.StartCount, old.CompleteCount, old.AbandonCount
	} else {
		cp.StartCount, cp.CompleteCount, cp.AbandonCount = 0, 0, 0
	}
	cp.UpdatedAt = time.Now()
	s.flowDefs[def.Key] = cp
	return nil
}

func (s *InMemoryStore) RecordFlowEvent(key, runID string, event models.FlowEvent) (bool, error) {
	if _, err := flowEventColumn(event); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	eventKey := runID + "\x00" + string(event)
	if s.flowEvents[eventKey] {
		return false, nil
	}
	s.flowEvents[eventKey] = true
	def, ok := s.flowDefs[key]
	if !ok {
		return true, nil
	}
	switch event {
	case models.FlowEventStart:
		def.StartCount++
	case models.FlowEventComplete:
		def.CompleteCount++
	case models.FlowEventAbandon:
		def.AbandonCount++
	}
	s.flowDefs[key] = def
	return true, nil
}

func (s *InMemoryStore) EnqueueOutboxMessage(conversationID, kind, payloadJSON, dedupeKey string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dedupeKey != "" {
		for _, m := range s.outbox {
			if m.DedupeKey == dedupeKey && m.Status != OutboxStatusSent && m.Status != OutboxStatusFailed && m.Status != OutboxStatusCanceled {
				return m.ID, nil
			}
		}
	}
	now := time.Now()
	m := &OutboxMessage{
		ID:             util.NewOutboxID(),
		ConversationID: conversationID,
		Kind:           kind,
		PayloadJSON:    payloadJSON,
		Status:         OutboxStatusQueued,
		DedupeKey:      dedupeKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.outbox[m.ID] = m
	return m.ID, nil
}

func (s *InMemoryStore) ClaimDueOutboxMessages(now time.Time, limit int) ([]OutboxMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*OutboxMessage
	for _, m := range s.outbox {
		if m.Status == OutboxStatusQueued && (m.NextAttemptAt == nil || !m.NextAttemptAt.After(now)) {
			due = append(due, m)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].CreatedAt.Before(due[j].CreatedAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	out := make([]OutboxMessage, 0, len(due))
	for _, m := range due {
		locked := now
		m.Status = OutboxStatusSending
		m.LockedAt = &locked
		m.UpdatedAt = now
		out = append(out, *m)
	}
	return out, nil
}

// OutboxMessages returns a copy of every outbox record, oldest first.
func (s *InMemoryStore) OutboxMessages() []OutboxMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]OutboxMessage, 0, len(s.outbox))
	for _, m := range s.outbox {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *InMemoryStore) MarkOutboxMessageSent(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.outbox[id]; ok {
		m.Status = OutboxStatusSent
		m.UpdatedAt = time.Now()
	}
	return nil
}

func (s *InMemoryStore) FailOutboxMessage(id string, errMsg string, nextAttemptAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.outbox[id]
	if !ok {
		return nil
	}
	m.Attempts++
	m.LastError = errMsg
	m.NextAttemptAt = &nextAttemptAt
	m.LockedAt = nil
	m.UpdatedAt = time.Now()
	if m.Attempts >= MaxOutboxAttempts {
		m.Status = OutboxStatusFailed
	} else {
		m.Status = OutboxStatusQueued
	}
	return nil
}

func (s *InMemoryStore) RequeueStaleSendingMessages(staleBefore time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.outbox {
		if m.Status == OutboxStatusSending && m.LockedAt != nil && m.LockedAt.Before(staleBefore) {
			m.Status = OutboxStatusQueued
			m.LockedAt = nil
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) EnqueueJob(kind string, runAt time.Time, payloadJSON string, dedupeKey string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dedupeKey != "" {
		for _, j := range s.jobs {
			if j.DedupeKey == dedupeKey && j.Status != JobStatusDone && j.Status != JobStatusCanceled {
				return j.ID, nil
			}
		}
	}
	now := time.Now()
	j := &Job{
		ID:          util.NewJobID(),
		Kind:        kind,
		RunAt:       runAt,
		PayloadJSON: payloadJSON,
		Status:      JobStatusQueued,
		MaxAttempts: DefaultJobMaxAttempts,
		DedupeKey:   dedupeKey,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.jobs[j.ID] = j
	return j.ID, nil
}

func (s *InMemoryStore) ClaimDueJobs(now time.Time, limit int) ([]Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*Job
	for _, j := range s.jobs {
		if j.Status == JobStatusQueued && !j.RunAt.After(now) {
			due = append(due, j)
		}
	}
	sort.Slice(due, func(a, b int) bool { return due[a].RunAt.Before(due[b].RunAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	out := make([]Job, 0, len(due))
	for _, j := range due {
		locked := now
		j.Status = JobStatusRunning
		j.LockedAt = &locked
		j.UpdatedAt = now
		out = append(out, *j)
	}
	return out, nil
}

func (s *InMemoryStore) setJobStatus(id string, status JobStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		j.Status = status
		j.LockedAt = nil
		j.UpdatedAt = time.Now()
	}
}

func (s *InMemoryStore) CompleteJob(id string) error {
	s.setJobStatus(id, JobStatusDone)
	return nil
}

func (s *InMemoryStore) CancelJob(id string) error {
	s.setJobStatus(id, JobStatusCanceled)
	return nil
}

func (s *InMemoryStore) FailJob(id string, errMsg string, nextRunAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("fail job lookup failed: %w", ErrNotFound)
	}
	j.Attempt++
	j.LastError = errMsg
	j.LockedAt = nil
	j.UpdatedAt = time.Now()
	if j.Attempt >= j.MaxAttempts {
		j.Status = JobStatusFailed
	} else {
		j.Status = JobStatusQueued
		j.RunAt = nextRunAt
	}
	return nil
}

func (s *InMemoryStore) RequeueStaleRunningJobs(staleBefore time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, j := range s.jobs {
		if j.Status == JobStatusRunning && j.LockedAt != nil && j.LockedAt.Before(staleBefore) {
			j.Status = JobStatusQueued
			j.LockedAt = nil
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) GetJob(id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, nil
	}
	cp := *j
	return &cp, nil
}

func (s *InMemoryStore) IsDuplicate(messageID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.dedup[messageID]
	return ok, nil
}

func (s *InMemoryStore) RecordInbound(messageID, customerID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.dedup[messageID]; ok {
		return false, nil
	}
	s.dedup[messageID] = &DedupRecord{MessageID: messageID, CustomerID: customerID, ReceivedAt: time.Now()}
	return true, nil
}

func (s *InMemoryStore) MarkProcessed(messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.dedup[messageID]; ok {
		now := time.Now()
		r.ProcessedAt = &now
	}
	return nil
}

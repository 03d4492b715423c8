package flow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/SalesPipe/internal/models"
	"github.com/BTreeMap/SalesPipe/internal/store"
)

// customerLock is a reference-counted per-customer mutex.
type customerLock struct {
	mu   sync.Mutex
	refs int
}

// SessionManager serializes turns per customer and wraps each turn in a
// single load-modify-save of the session record. Turns of different
// customers run concurrently.
type SessionManager struct {
	repo store.SessionRepo
	now  func() time.Time

	mu    sync.Mutex
	locks map[string]*customerLock
}

// NewSessionManager creates a session manager backed by repo.
func NewSessionManager(repo store.SessionRepo, opts ...Option) *SessionManager {
	o := resolveOpts(opts)
	slog.Debug("SessionManager: created")
	return &SessionManager{repo: repo, now: o.Clock, locks: make(map[string]*customerLock)}
}

func (sm *SessionManager) acquire(customerID string) *customerLock {
	sm.mu.Lock()
	l, ok := sm.locks[customerID]
	if !ok {
		l = &customerLock{}
		sm.locks[customerID] = l
	}
	l.refs++
	sm.mu.Unlock()
	l.mu.Lock()
	return l
}

func (sm *SessionManager) release(customerID string, l *customerLock) {
	l.mu.Unlock()
	sm.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(sm.locks, customerID)
	}
	sm.mu.Unlock()
}

// WithSession loads the customer's session (creating it when missing), runs
// fn under the customer's lock and saves the result once. A session that fn
// leaves closed is archived. When fn fails nothing is saved.
func (sm *SessionManager) WithSession(ctx context.Context, customerID string, fn func(*models.Session) error) error {
	if customerID == "" {
		return fmt.Errorf("with session: %w", models.ErrEmptySender)
	}
	l := sm.acquire(customerID)
	defer sm.release(customerID, l)

	if err := ctx.Err(); err != nil {
		return err
	}

	sess, err := sm.repo.GetSession(customerID)
	if err != nil {
		slog.Error("SessionManager.WithSession: load failed", "customerID", customerID, "error", err)
		return fmt.Errorf("load session %s: %w", customerID, err)
	}
	if sess == nil {
		slog.Debug("SessionManager.WithSession: new session", "customerID", customerID)
		sess = models.NewSession(customerID, sm.now())
	}

	if err := fn(sess); err != nil {
		return err
	}

	if err := sm.repo.SaveSession(sess); err != nil {
		slog.Error("SessionManager.WithSession: save failed", "customerID", customerID, "error", err)
		return fmt.Errorf("save session %s: %w", customerID, err)
	}
	if sess.IsClosed() {
		if err := sm.repo.ArchiveSession(customerID); err != nil {
			slog.Error("SessionManager.WithSession: archive failed", "customerID", customerID, "error", err)
			return fmt.Errorf("archive session %s: %w", customerID, err)
		}
		slog.Info("SessionManager.WithSession: session archived", "customerID", customerID)
	}
	return nil
}

// Peek returns a copy of the stored session without taking the customer
// lock, or nil when none exists.
func (sm *SessionManager) Peek(customerID string) (*models.Session, error) {
	sess, err := sm.repo.GetSession(customerID)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", customerID, err)
	}
	return sess, nil
}

// Reset archives the customer's session so the next turn starts fresh.
func (sm *SessionManager) Reset(ctx context.Context, customerID string) error {
	return sm.WithSession(ctx, customerID, func(s *models.Session) error {
		s.Close()
		return nil
	})
}

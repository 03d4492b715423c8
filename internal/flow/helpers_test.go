package flow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/SalesPipe/internal/catalog"
	"github.com/BTreeMap/SalesPipe/internal/models"
	"github.com/BTreeMap/SalesPipe/internal/store"
)

var testNow = time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)

// testClock is an adjustable clock.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock { return &testClock{t: testNow} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type recordedNotice struct {
	conversationID string
	reason         string
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []recordedNotice
	err     error
}

func (n *recordingNotifier) Notify(_ context.Context, conversationID, reason string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, recordedNotice{conversationID, reason})
	return n.err
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.notices)
}

type stubLinks struct{}

func (stubLinks) MakeTrackedLink(_ context.Context, customerID, url string, meta map[string]string) (string, error) {
	return "https://l.test/" + meta["product_id"], nil
}

type staticClassifier struct {
	result models.Classification
	err    error
}

func (c staticClassifier) Classify(context.Context, string, models.ClassifyContext) (models.Classification, error) {
	return c.result, c.err
}

type failingSource struct{}

func (failingSource) ListCatalogEntries(models.CatalogFilter) ([]models.CatalogEntry, error) {
	return nil, errors.New("catalog down")
}

// seededStore returns an in-memory store carrying the default catalog and
// lead definitions.
func seededStore(t *testing.T) *store.InMemoryStore {
	t.Helper()
	st := store.NewInMemoryStore()
	seedInto(t, st)
	return st
}

type seedTarget interface {
	store.CatalogRepo
	DefinitionSaver
}

func seedInto(t *testing.T, st seedTarget) {
	t.Helper()
	entries, err := catalog.DefaultSeed()
	if err != nil {
		t.Fatalf("DefaultSeed() error = %v", err)
	}
	for _, e := range entries {
		if err := st.UpsertCatalogEntry(e); err != nil {
			t.Fatalf("UpsertCatalogEntry(%s) error = %v", e.ID, err)
		}
	}
	defs, err := DefaultDefinitions()
	if err != nil {
		t.Fatalf("DefaultDefinitions() error = %v", err)
	}
	v, err := NewDefinitionValidator()
	if err != nil {
		t.Fatalf("NewDefinitionValidator() error = %v", err)
	}
	if err := InstallDefinitions(st, v, defs); err != nil {
		t.Fatalf("InstallDefinitions() error = %v", err)
	}
}

type managerFixture struct {
	store    *store.InMemoryStore
	index    *catalog.Index
	manager  *Manager
	executor *Executor
	notifier *recordingNotifier
	clock    *testClock
}

func newManagerFixture(t *testing.T) *managerFixture {
	t.Helper()
	st := seededStore(t)
	clock := newTestClock()
	notifier := &recordingNotifier{}
	opts := []Option{
		WithClock(clock.Now),
		WithNotifier(notifier),
		WithLinkTracker(stubLinks{}),
		WithStorefrontURL("https://tienda.test"),
	}
	index := catalog.NewIndex(st)
	executor := NewExecutor(st, opts...)
	return &managerFixture{
		store:    st,
		index:    index,
		manager:  NewManager(index, NewDefaultRegistry(index, opts...), executor, opts...),
		executor: executor,
		notifier: notifier,
		clock:    clock,
	}
}

// turn runs one message through the manager.
func (f *managerFixture) turn(t *testing.T, sess *models.Session, text string, cls models.Classification) *models.Reply {
	t.Helper()
	reply, err := f.manager.HandleMessage(context.Background(), &Turn{
		Text:           text,
		CustomerID:     sess.CustomerID,
		Session:        sess,
		Classification: cls,
	})
	if err != nil {
		t.Fatalf("HandleMessage(%q) error = %v", text, err)
	}
	return reply
}

func newSession(flow models.FlowType) *models.Session {
	s := models.NewSession("5215550001111", testNow)
	if flow != "" {
		s.ActiveFlow = flow
		s.ProductInterest = string(flow)
		s.State = models.InFlow(models.StateIdle, flow)
	}
	return s
}

// assertSingleSlot checks that at most one sub-dialog holds the pending slot.
func assertSingleSlot(t *testing.T, s *models.Session) {
	t.Helper()
	if s.PendingConfirmation() != nil && s.PendingHandoff() != nil {
		t.Fatalf("session holds both a confirmation and a handoff: %+v", s.Pending)
	}
}

func unknown() models.Classification {
	return models.Classification{Intent: models.IntentUnknown, Product: "unknown"}
}

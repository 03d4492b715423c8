package recovery

import (
	"context"
	"errors"
	"testing"

	"github.com/BTreeMap/SalesPipe/internal/catalog"
	"github.com/BTreeMap/SalesPipe/internal/store"
)

type fakeOutbox struct {
	calls int
	err   error
}

func (f *fakeOutbox) RecoverStaleMessages() error { f.calls++; return f.err }

type fakeJobs struct{ calls int }

func (f *fakeJobs) RecoverStaleJobs() error { f.calls++; return nil }

func TestRecoverAllRunsEveryComponent(t *testing.T) {
	boom := errors.New("db locked")
	outbox := &fakeOutbox{err: boom}
	jobs := &fakeJobs{}
	var order []string

	rm := NewRecoveryManager()
	rm.Register("first", Func(func(context.Context) error { order = append(order, "first"); return nil }))
	rm.Register("outbox", Outbox(outbox))
	rm.Register("jobs", Jobs(jobs))

	err := rm.RecoverAll(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("RecoverAll() error = %v, want %v", err, boom)
	}
	if outbox.calls != 1 || jobs.calls != 1 || len(order) != 1 {
		t.Errorf("calls: outbox=%d jobs=%d first=%d", outbox.calls, jobs.calls, len(order))
	}
}

func TestRecoverAllSucceeds(t *testing.T) {
	rm := NewRecoveryManager()
	rm.Register("jobs", Jobs(&fakeJobs{}))
	if err := rm.RecoverAll(context.Background()); err != nil {
		t.Errorf("RecoverAll() error = %v", err)
	}
	if err := NewRecoveryManager().RecoverAll(context.Background()); err != nil {
		t.Errorf("empty RecoverAll() error = %v", err)
	}
}

func TestRecoverAllStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	jobs := &fakeJobs{}
	rm := NewRecoveryManager()
	rm.Register("jobs", Jobs(jobs))
	if err := rm.RecoverAll(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("RecoverAll() error = %v", err)
	}
	if jobs.calls != 0 {
		t.Error("component ran after cancel")
	}
}

func TestCatalogWarmup(t *testing.T) {
	st := store.NewInMemoryStore()
	entries, _ := catalog.DefaultSeed()
	if err := catalog.Install(st, entries); err != nil {
		t.Fatal(err)
	}
	if err := CatalogWarmup(catalog.NewIndex(st)).RecoverState(context.Background()); err != nil {
		t.Errorf("CatalogWarmup error = %v", err)
	}
}

func TestStoreRecoverers(t *testing.T) {
	st := store.NewInMemoryStore()
	rm := NewRecoveryManager()
	rm.Register("outbox", Outbox(store.NewOutboxSender(st, nil, 0)))
	rm.Register("jobs", Jobs(store.NewJobRunner(st, 0)))
	if err := rm.RecoverAll(context.Background()); err != nil {
		t.Errorf("RecoverAll() error = %v", err)
	}
}

package store

import (
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/SalesPipe/internal/models"
)

func TestSessionRoundTrip(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		if got, err := s.GetSession("5215512345678"); err != nil || got != nil {
			t.Fatalf("GetSession(missing) = %v, %v; want nil, nil", got, err)
		}

		now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
		sess := models.NewSession("5215512345678", now)
		sess.SwitchFlow(models.FlowConfeccionada)
		w, l := 4.0, 5.0
		sess.ProductSpecs.Width, sess.ProductSpecs.Length = &w, &l
		sess.SetPendingConfirmation(models.PendingConfirmSwitch, models.FlowRollo, "rollo", now)
		if err := s.SaveSession(sess); err != nil {
			t.Fatalf("SaveSession failed: %v", err)
		}

		got, err := s.GetSession("5215512345678")
		if err != nil || got == nil {
			t.Fatalf("GetSession = %v, %v", got, err)
		}
		if got.ActiveFlow != models.FlowConfeccionada || got.ProductSpecs.Width == nil || *got.ProductSpecs.Width != 4 {
			t.Errorf("loaded session = %+v", got)
		}
		if got.PendingConfirmation() == nil || got.Pending.TargetFlow != models.FlowRollo {
			t.Errorf("pending = %+v, want flow switch to rollo", got.Pending)
		}

		*got.ProductSpecs.Width = 9
		again, _ := s.GetSession("5215512345678")
		if *again.ProductSpecs.Width != 4 {
			t.Error("mutating a loaded session leaked into the store")
		}
	})
}

func TestArchiveSession(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		if err := s.ArchiveSession("nobody"); !errors.Is(err, ErrNotFound) {
			t.Errorf("ArchiveSession(missing) = %v, want ErrNotFound", err)
		}
		sess := models.NewSession("5215500000000", time.Now())
		if err := s.SaveSession(sess); err != nil {
			t.Fatal(err)
		}
		if err := s.ArchiveSession(sess.CustomerID); err != nil {
			t.Fatalf("ArchiveSession failed: %v", err)
		}
		if got, _ := s.GetSession(sess.CustomerID); got != nil {
			t.Error("session still present after archive")
		}
	})
}

func TestCatalogEntries(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		entries := []models.CatalogEntry{
			{ID: "malla", Name: "Malla sombra", Aliases: []string{"malla sombra"}},
			{ID: "conf-4x5", ParentID: "malla", Name: "Malla 4x5", Size: "4x5", Sellable: true, Active: true, Price: 649},
			{ID: "conf-old", ParentID: "malla", Name: "Malla 2x2", Size: "2x2", Sellable: true, Active: false},
		}
		for _, e := range entries {
			if err := s.UpsertCatalogEntry(e); err != nil {
				t.Fatalf("UpsertCatalogEntry(%s) failed: %v", e.ID, err)
			}
		}

		all, err := s.ListCatalogEntries(models.CatalogFilter{})
		if err != nil || len(all) != 3 {
			t.Fatalf("ListCatalogEntries(all) = %d, %v", len(all), err)
		}
		live, _ := s.ListCatalogEntries(models.CatalogFilter{SellableOnly: true, ActiveOnly: true})
		if len(live) != 1 || live[0].ID != "conf-4x5" {
			t.Errorf("ListCatalogEntries(live) = %+v", live)
		}

		e, err := s.GetCatalogEntry("conf-4x5")
		if err != nil || e == nil || e.Price != 649 || e.ParentID != "malla" {
			t.Fatalf("GetCatalogEntry = %+v, %v", e, err)
		}
		e.Price = 699
		if err := s.UpsertCatalogEntry(*e); err != nil {
			t.Fatal(err)
		}
		if e2, _ := s.GetCatalogEntry("conf-4x5"); e2.Price != 699 {
			t.Errorf("price after upsert = %v, want 699", e2.Price)
		}
		if missing, err := s.GetCatalogEntry("nope"); missing != nil || err != nil {
			t.Errorf("GetCatalogEntry(missing) = %v, %v", missing, err)
		}
	})
}

func testDefinition() models.FlowDefinition {
	return models.FlowDefinition{
		Key:  "b2b",
		Name: "Prospecto empresarial",
		Steps: []models.FlowStep{
			{ID: "empresa", Message: "¿Cómo se llama tu empresa?", CollectAs: "empresa", Input: models.InputText},
		},
		OnComplete: models.CompletionAction{Action: models.CompleteHandoff},
	}
}

func TestFlowDefinitionCounters(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		if err := s.SaveFlowDefinition(testDefinition()); err != nil {
			t.Fatalf("SaveFlowDefinition failed: %v", err)
		}
		for i := 0; i < 3; i++ {
			moved, err := s.RecordFlowEvent("b2b", "run-1", models.FlowEventStart)
			if err != nil {
				t.Fatal(err)
			}
			if moved != (i == 0) {
				t.Errorf("RecordFlowEvent call %d moved = %v", i, moved)
			}
		}
		s.RecordFlowEvent("b2b", "run-1", models.FlowEventComplete)
		s.RecordFlowEvent("b2b", "run-2", models.FlowEventStart)
		if _, err := s.RecordFlowEvent("b2b", "run-2", "bogus"); err == nil {
			t.Error("expected error for unknown event")
		}

		def := testDefinition()
		def.Name = "Prospecto B2B"
		if err := s.SaveFlowDefinition(def); err != nil {
			t.Fatal(err)
		}

		got, err := s.GetFlowDefinition("b2b")
		if err != nil || got == nil {
			t.Fatalf("GetFlowDefinition = %v, %v", got, err)
		}
		if got.Name != "Prospecto B2B" || len(got.Steps) != 1 {
			t.Errorf("definition = %+v", got)
		}
		if got.StartCount != 2 || got.CompleteCount != 1 || got.AbandonCount != 0 {
			t.Errorf("counters = %d/%d/%d, want 2/1/0", got.StartCount, got.CompleteCount, got.AbandonCount)
		}

		defs, _ := s.ListFlowDefinitions()
		if len(defs) != 1 || defs[0].Key != "b2b" {
			t.Errorf("ListFlowDefinitions = %+v", defs)
		}
	})
}

func TestRecordFlowEventConcurrentOnce(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		s.SaveFlowDefinition(testDefinition())
		var wg sync.WaitGroup
		var mu sync.Mutex
		moved := 0
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := s.RecordFlowEvent("b2b", "run-x", models.FlowEventAbandon)
				if err != nil {
					t.Error(err)
					return
				}
				if ok {
					mu.Lock()
					moved++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		if moved != 1 {
			t.Errorf("counter moved %d times, want 1", moved)
		}
		if def, _ := s.GetFlowDefinition("b2b"); def.AbandonCount != 1 {
			t.Errorf("AbandonCount = %d, want 1", def.AbandonCount)
		}
	})
}

func TestIsPostgresDSN(t *testing.T) {
	tests := []struct {
		dsn  string
		want bool
	}{
		{"postgres://user@localhost/sales", true},
		{"postgresql://user@localhost/sales", true},
		{"host=localhost dbname=sales", true},
		{"/var/lib/salespipe/state.db", false},
		{"state.db", false},
	}
	for _, tt := range tests {
		if got := IsPostgresDSN(tt.dsn); got != tt.want {
			t.Errorf("IsPostgresDSN(%q) = %v, want %v", tt.dsn, got, tt.want)
		}
	}
}

func TestOpenSelectsBackend(t *testing.T) {
	s, err := Open("")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := s.(*InMemoryStore); !ok {
		t.Errorf("Open(\"\") = %T, want *InMemoryStore", s)
	}

	dir := t.TempDir()
	s, err = Open(dir + "/state.db")
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if _, ok := s.(*SQLiteStore); !ok {
		t.Errorf("Open(file) = %T, want *SQLiteStore", s)
	}
}

func TestPostgresStore(t *testing.T) {
	// Requires a running PostgreSQL instance addressed by DATABASE_URL.
	connStr := os.Getenv("DATABASE_URL")
	if connStr == "" {
		t.Skip("env DATABASE_URL not set")
	}
	pgStore, err := NewPostgresStore(WithDSN(connStr))
	if err != nil {
		t.Skipf("Postgres not available: %v", err)
	}
	defer pgStore.Close()
	pgStore.db.Exec("DELETE FROM sessions WHERE customer_id = 'pg-test'")

	sess := models.NewSession("pg-test", time.Now())
	if err := pgStore.SaveSession(sess); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}
	got, err := pgStore.GetSession("pg-test")
	if err != nil || got == nil || got.CustomerID != "pg-test" {
		t.Errorf("GetSession = %+v, %v", got, err)
	}
}

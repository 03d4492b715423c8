package flow

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/SalesPipe/internal/catalog"
	"github.com/BTreeMap/SalesPipe/internal/models"
	"github.com/BTreeMap/SalesPipe/internal/store"
)

func newTestSQLiteStoreForFlow(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(store.WithDSN(filepath.Join(t.TempDir(), "test.db")))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	seedInto(t, s)
	return s
}

// claimAbandonJob returns the single abandon job queued since the last claim.
func claimAbandonJob(t *testing.T, repo store.JobRepo) AbandonFlowRunPayload {
	t.Helper()
	jobs, err := repo.ClaimDueJobs(testNow.Add(72*time.Hour), 10)
	if err != nil {
		t.Fatalf("ClaimDueJobs() error = %v", err)
	}
	if len(jobs) != 1 || jobs[0].Kind != JobKindAbandonFlowRun {
		t.Fatalf("jobs = %+v, want one %s job", jobs, JobKindAbandonFlowRun)
	}
	var p AbandonFlowRunPayload
	if err := json.Unmarshal([]byte(jobs[0].PayloadJSON), &p); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	return p
}

func claimOutbox(t *testing.T, repo store.OutboxRepo) []store.OutboxMessage {
	t.Helper()
	msgs, err := repo.ClaimDueOutboxMessages(time.Now().Add(time.Hour), 50)
	if err != nil {
		t.Fatalf("ClaimDueOutboxMessages() error = %v", err)
	}
	return msgs
}

func encodePayload(t *testing.T, p AbandonFlowRunPayload) string {
	t.Helper()
	b, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("encode payload: %v", err)
	}
	return string(b)
}

func TestAbandonFlowRunJobSQLite(t *testing.T) {
	st := newTestSQLiteStoreForFlow(t)
	clock := newTestClock()
	notifier := &recordingNotifier{}
	engine := NewEngine(st, catalog.NewIndex(st), staticClassifier{result: unknown()},
		WithClock(clock.Now), WithNotifier(notifier))
	handler := makeAbandonFlowRunHandler(engine)
	ctx := context.Background()
	campaign := &models.CampaignContext{LeadScenario: models.LeadScenarioDistributor}

	send := func(id, body string) {
		t.Helper()
		if _, err := engine.HandleInbound(ctx, models.InboundMessage{ID: id, From: testCustomer, Body: body, Campaign: campaign}); err != nil {
			t.Fatalf("HandleInbound(%q) error = %v", body, err)
		}
	}

	send("m1", "quiero ser distribuidor")
	first := claimAbandonJob(t, st)
	clock.Advance(30 * time.Minute)
	send("m2", "Viveros del Sol")
	second := claimAbandonJob(t, st)
	if first.RunID != second.RunID || !second.UpdatedAt.After(first.UpdatedAt) {
		t.Fatalf("payloads = %+v / %+v, want same run with a later timestamp", first, second)
	}
	if n := len(claimOutbox(t, st)); n != 2 {
		t.Fatalf("outbox has %d replies, want 2", n)
	}

	// The run moved on after the first job was scheduled.
	if err := handler(ctx, encodePayload(t, first)); err != nil {
		t.Fatalf("stale job error = %v", err)
	}
	if sess, _ := engine.Sessions().Peek(testCustomer); sess == nil || sess.FlowRun == nil {
		t.Fatal("stale job abandoned a live run")
	}
	if n := len(claimOutbox(t, st)); n != 0 {
		t.Fatalf("stale job queued %d messages", n)
	}

	if err := handler(ctx, encodePayload(t, second)); err != nil {
		t.Fatalf("abandon job error = %v", err)
	}
	sess, err := engine.Sessions().Peek(testCustomer)
	if err != nil || sess == nil {
		t.Fatalf("Peek() = %v, %v", sess, err)
	}
	if sess.FlowRun != nil || !sess.LeadCaptured || !sess.Handoff.Requested {
		t.Errorf("session = run %+v captured %v handoff %+v", sess.FlowRun, sess.LeadCaptured, sess.Handoff)
	}
	if !strings.Contains(sess.Handoff.Reason, "negocio: Viveros del Sol") {
		t.Errorf("handoff reason = %q", sess.Handoff.Reason)
	}
	msgs := claimOutbox(t, st)
	if len(msgs) != 1 || msgs[0].DedupeKey != "abandon:"+second.RunID {
		t.Fatalf("outbox = %+v, want one abandon message", msgs)
	}
	if p, _ := store.DecodeOutboxPayload(msgs[0]); !strings.Contains(p.Body, "registro de distribuidor") {
		t.Errorf("abandon body = %q", p.Body)
	}
	if notifier.count() != 1 {
		t.Errorf("notifications = %d, want 1", notifier.count())
	}

	// Redelivery of the same job is a no-op.
	if err := handler(ctx, encodePayload(t, second)); err != nil {
		t.Fatalf("replayed job error = %v", err)
	}
	if n := len(claimOutbox(t, st)); n != 0 || notifier.count() != 1 {
		t.Errorf("replayed job queued %d messages and %d notifications", n, notifier.count())
	}
}

func TestAbandonFlowRunJobRunner(t *testing.T) {
	f := newEngineFixture(t, staticClassifier{result: unknown()}, WithRunTimeout(time.Minute))
	runner := store.NewJobRunner(f.store, 10*time.Millisecond)
	RegisterJobHandlers(runner, f.engine)

	f.inbound(t, "m1", "hola", &models.CampaignContext{LeadScenario: models.LeadScenarioB2B})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go runner.Run(ctx)

	deadline := time.Now().Add(5 * time.Second)
	for {
		sess, err := f.engine.Sessions().Peek(testCustomer)
		if err != nil {
			t.Fatalf("Peek() error = %v", err)
		}
		if sess != nil && sess.FlowRun == nil {
			if !sess.LeadCaptured {
				t.Error("abandoned run did not mark the lead as captured")
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("abandon job did not run")
		}
		time.Sleep(10 * time.Millisecond)
	}
	// lead_b2b abandons without escalating.
	if f.notifier.count() != 0 {
		t.Errorf("notifications = %d, want 0", f.notifier.count())
	}
}

func TestAbandonFlowRunInvalidPayload(t *testing.T) {
	f := newEngineFixture(t, nil)
	if err := makeAbandonFlowRunHandler(f.engine)(context.Background(), "{"); err == nil {
		t.Fatal("handler accepted a malformed payload")
	}
}

func TestAbandonFlowRunPayloadMatches(t *testing.T) {
	at := testNow.Add(time.Minute)
	p := AbandonFlowRunPayload{CustomerID: testCustomer, RunID: "run-1", UpdatedAt: at}
	tests := []struct {
		name string
		sess *models.Session
		want bool
	}{
		{"nil session", nil, false},
		{"no run", &models.Session{}, false},
		{"other run", &models.Session{FlowRun: &models.FlowRun{ID: "run-2", UpdatedAt: at}}, false},
		{"run moved on", &models.Session{FlowRun: &models.FlowRun{ID: "run-1", UpdatedAt: at.Add(time.Second)}}, false},
		{"same run", &models.Session{FlowRun: &models.FlowRun{ID: "run-1", UpdatedAt: at}}, true},
	}
	for _, tt := range tests {
		if got := p.matches(tt.sess); got != tt.want {
			t.Errorf("%s: matches() = %v, want %v", tt.name, got, tt.want)
		}
	}
}

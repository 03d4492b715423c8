package handoff

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/SalesPipe/internal/store"
)

func claimAll(t *testing.T, st *store.InMemoryStore) []store.OutboxMessage {
	t.Helper()
	msgs, err := st.ClaimDueOutboxMessages(time.Now().Add(time.Minute), 100)
	if err != nil {
		t.Fatalf("ClaimDueOutboxMessages() error = %v", err)
	}
	return msgs
}

func TestOutboxNotifierQueuesAlert(t *testing.T) {
	st := store.NewInMemoryStore()
	n := NewOutboxNotifier(st, "5215559990000")
	ctx := context.Background()

	reason := "Cotización confeccionada 4x5 m. Ubicación: guadalajara"
	for i := 0; i < 2; i++ {
		if err := n.Notify(ctx, "5215550001111", reason); err != nil {
			t.Fatalf("Notify() error = %v", err)
		}
	}
	if err := n.Notify(ctx, "5215550002222", reason); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}

	msgs := claimAll(t, st)
	if len(msgs) != 2 {
		t.Fatalf("queued %d alerts, want 2 (one per conversation)", len(msgs))
	}
	msg := msgs[0]
	if msg.Kind != store.OutboxKindOperatorAlert || msg.ConversationID != "5215559990000" {
		t.Errorf("message = %+v", msg)
	}
	p, err := store.DecodeOutboxPayload(msg)
	if err != nil {
		t.Fatal(err)
	}
	if p.To != "5215559990000" || !strings.Contains(p.Body, "Motivo: "+reason) || !strings.Contains(p.Body, "wa.me/52155500") {
		t.Errorf("payload = %+v", p)
	}
}

func TestOutboxNotifierWithoutOperator(t *testing.T) {
	st := store.NewInMemoryStore()
	if err := NewOutboxNotifier(st, " ").Notify(context.Background(), "5215550001111", "x"); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	if msgs := claimAll(t, st); len(msgs) != 0 {
		t.Errorf("queued %d alerts without an operator", len(msgs))
	}
}

type failingOutbox struct{}

func (failingOutbox) EnqueueOutboxMessage(string, string, string, string) (string, error) {
	return "", errors.New("disk full")
}

func TestOutboxNotifierErrors(t *testing.T) {
	n := NewOutboxNotifier(failingOutbox{}, "5215559990000")
	if err := n.Notify(context.Background(), "", "x"); !errors.Is(err, ErrEmptyConversation) {
		t.Errorf("Notify(\"\") error = %v", err)
	}
	if err := n.Notify(context.Background(), "521", "x"); err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Errorf("Notify() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := n.Notify(ctx, "521", "x"); !errors.Is(err, context.Canceled) {
		t.Errorf("Notify(cancelled) error = %v", err)
	}
}

func TestFormatAlert(t *testing.T) {
	got := FormatAlert("+5215550001111", "")
	want := "Atención humana requerida\nCliente: +5215550001111\nChat: https://wa.me/5215550001111"
	if got != want {
		t.Errorf("FormatAlert() = %q, want %q", got, want)
	}
	if DedupeKey("a", "r1") == DedupeKey("a", "r2") {
		t.Error("different reasons share a dedupe key")
	}
}

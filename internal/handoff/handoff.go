// Package handoff alerts the human operator when a conversation needs a
// person. Alerts go through the durable outbox so a crash between the turn
// and the send does not lose them.
package handoff

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/SalesPipe/internal/store"
)

// ErrEmptyConversation is returned when Notify gets no conversation id.
var ErrEmptyConversation = errors.New("conversation id is empty")

// Enqueuer is the part of the outbox the notifier writes to.
type Enqueuer interface {
	EnqueueOutboxMessage(conversationID, kind, payloadJSON, dedupeKey string) (string, error)
}

// OutboxNotifier queues operator alerts in the outbox.
type OutboxNotifier struct {
	outbox   Enqueuer
	operator string
}

// NewOutboxNotifier creates a notifier delivering to the operator phone. With
// no operator configured, alerts are only logged.
func NewOutboxNotifier(outbox Enqueuer, operatorPhone string) *OutboxNotifier {
	return &OutboxNotifier{outbox: outbox, operator: strings.TrimSpace(operatorPhone)}
}

// Notify queues one alert. The same reason for the same conversation is
// deduplicated while the previous alert is still pending.
func (n *OutboxNotifier) Notify(ctx context.Context, conversationID, reason string) error {
	if conversationID == "" {
		return ErrEmptyConversation
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if n.operator == "" {
		slog.Warn("OutboxNotifier.Notify: no operator configured, alert not sent", "conversationID", conversationID, "reason", reason)
		return nil
	}
	payload, err := store.EncodeOutboxPayload(n.operator, FormatAlert(conversationID, reason))
	if err != nil {
		return err
	}
	id, err := n.outbox.EnqueueOutboxMessage(n.operator, store.OutboxKindOperatorAlert, payload, DedupeKey(conversationID, reason))
	if err != nil {
		slog.Error("OutboxNotifier.Notify: enqueue failed", "conversationID", conversationID, "error", err)
		return fmt.Errorf("enqueue operator alert: %w", err)
	}
	slog.Info("OutboxNotifier.Notify: operator alert queued", "conversationID", conversationID, "outboxID", id)
	return nil
}

// FormatAlert renders the operator-facing alert text.
func FormatAlert(conversationID, reason string) string {
	var b strings.Builder
	b.WriteString("Atención humana requerida\n")
	fmt.Fprintf(&b, "Cliente: +%s\n", strings.TrimPrefix(conversationID, "+"))
	fmt.Fprintf(&b, "Chat: https://wa.me/%s\n", strings.TrimPrefix(conversationID, "+"))
	if reason = strings.TrimSpace(reason); reason != "" {
		fmt.Fprintf(&b, "Motivo: %s", reason)
	}
	return strings.TrimSpace(b.String())
}

// DedupeKey identifies an alert by conversation and reason.
func DedupeKey(conversationID, reason string) string {
	sum := sha256.Sum256([]byte(reason))
	return "handoff:" + conversationID + ":" + hex.EncodeToString(sum[:8])
}

package messaging

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/SalesPipe/internal/store"
)

// OutboxDelivery returns the send function the outbox sender uses: it decodes
// the payload and sends it through svc. Replies go to the customer and
// operator alerts to the operator; both are plain text.
func OutboxDelivery(svc Service) store.OutboxSendFunc {
	return func(ctx context.Context, msg store.OutboxMessage) error {
		p, err := store.DecodeOutboxPayload(msg)
		if err != nil {
			return err
		}
		if p.Body == "" {
			slog.Warn("OutboxDelivery: empty body, nothing to send", "id", msg.ID, "kind", msg.Kind)
			return nil
		}
		if err := svc.SendMessage(ctx, p.To, p.Body); err != nil {
			return fmt.Errorf("deliver %s %s: %w", msg.Kind, msg.ID, err)
		}
		slog.Debug("OutboxDelivery: delivered", "id", msg.ID, "kind", msg.Kind, "to", p.To)
		return nil
	}
}

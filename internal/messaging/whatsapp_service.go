package messaging

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/SalesPipe/internal/models"
	"github.com/BTreeMap/SalesPipe/internal/whatsapp"
	"go.mau.fi/whatsmeow/types/events"
)

// WhatsAppService implements Service using the Whatsmeow-based whatsapp client.
type WhatsAppService struct {
	client   whatsapp.WhatsAppSender
	waClient *whatsapp.Client // Access to underlying client for event handling
	receipts chan models.Receipt
	inbound  chan models.InboundMessage
	mu       sync.RWMutex
	stopped  bool
}

var _ Service = (*WhatsAppService)(nil)

// NewWhatsAppService creates a new WhatsAppService wrapping the given WhatsAppSender.
func NewWhatsAppService(client whatsapp.WhatsAppSender) *WhatsAppService {
	service := &WhatsAppService{
		client:   client,
		receipts: make(chan models.Receipt, DefaultChannelBufferSize),
		inbound:  make(chan models.InboundMessage, DefaultChannelBufferSize),
	}
	if waClient, ok := client.(*whatsapp.Client); ok {
		service.waClient = waClient
		slog.Debug("NewWhatsAppService: full client, events enabled")
	} else {
		slog.Debug("NewWhatsAppService: sender only, events disabled")
	}
	return service
}

// ValidateAndCanonicalizeRecipient returns the phone number in digits-only form.
func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return CanonicalizePhone(recipient)
}

// Start registers the event handler on the whatsmeow client.
func (s *WhatsAppService) Start(ctx context.Context) error {
	if s.waClient == nil || s.waClient.GetClient() == nil {
		slog.Debug("WhatsAppService.Start: no full client, skipping event handling")
		return nil
	}
	s.waClient.GetClient().AddEventHandler(func(evt interface{}) {
		switch v := evt.(type) {
		case *events.Message:
			s.handleIncomingMessage(v)
		case *events.Receipt:
			s.handleMessageReceipt(v)
		}
	})
	slog.Info("WhatsAppService.Start: event handler registered")
	return nil
}

// Stop disconnects and closes the channels.
func (s *WhatsAppService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	if s.waClient != nil {
		s.waClient.Disconnect()
	}
	close(s.receipts)
	close(s.inbound)
	slog.Info("WhatsAppService.Stop: stopped")
	return nil
}

// SendMessage sends a message and emits a sent receipt.
func (s *WhatsAppService) SendMessage(ctx context.Context, to string, body string) error {
	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		return ErrServiceStopped
	}
	if err := s.client.SendMessage(ctx, canonicalTo, body); err != nil {
		slog.Error("WhatsAppService.SendMessage: send failed", "to", canonicalTo, "error", err)
		return err
	}
	s.emitReceipt(models.Receipt{To: canonicalTo, Status: models.MessageStatusSent, Time: time.Now().Unix()})
	return nil
}

// Receipts returns a channel of receipt events.
func (s *WhatsAppService) Receipts() <-chan models.Receipt {
	return s.receipts
}

// Inbound returns a channel of incoming customer messages.
func (s *WhatsAppService) Inbound() <-chan models.InboundMessage {
	return s.inbound
}

// inboundFromEvent converts a whatsmeow message event. Group chats, our own
// messages and non-text messages are skipped.
func inboundFromEvent(evt *events.Message) (models.InboundMessage, bool) {
	if evt.Message == nil || evt.Info.IsFromMe || evt.Info.IsGroup {
		return models.InboundMessage{}, false
	}
	text := evt.Message.GetConversation()
	if text == "" {
		text = evt.Message.GetExtendedTextMessage().GetText()
	}
	if text == "" {
		return models.InboundMessage{}, false
	}
	from, err := CanonicalizePhone(evt.Info.Sender.User)
	if err != nil {
		return models.InboundMessage{}, false
	}
	msg := models.InboundMessage{
		ID:      string(evt.Info.ID),
		From:    from,
		Body:    text,
		Time:    evt.Info.Timestamp.Unix(),
		Channel: models.ChannelContext{Channel: "whatsapp"},
	}
	if ad := evt.Message.GetExtendedTextMessage().GetContextInfo().GetExternalAdReply(); ad != nil {
		msg.Channel.AdProductID = ad.GetSourceID()
		msg.Channel.AdFlowRef = adFlowRef(ad.GetSourceURL())
	}
	return msg, true
}

func (s *WhatsAppService) handleIncomingMessage(evt *events.Message) {
	msg, ok := inboundFromEvent(evt)
	if !ok {
		slog.Debug("WhatsAppService.handleIncomingMessage: skipped", "from", evt.Info.Sender.String())
		return
	}
	s.emitInbound(msg)
}

func (s *WhatsAppService) handleMessageReceipt(evt *events.Receipt) {
	var status models.MessageStatus
	switch evt.Type {
	case events.ReceiptTypeDelivered:
		status = models.MessageStatusDelivered
	case events.ReceiptTypeRead:
		status = models.MessageStatusRead
	default:
		return
	}
	to, err := CanonicalizePhone(evt.MessageSource.Chat.User)
	if err != nil {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		return
	}
	s.emitReceipt(models.Receipt{To: to, Status: status, Time: evt.Timestamp.Unix()})
}

func (s *WhatsAppService) emitInbound(msg models.InboundMessage) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		slog.Warn("WhatsAppService.emitInbound: service stopped, dropping message", "from", msg.From)
		return
	}
	select {
	case s.inbound <- msg:
		slog.Debug("WhatsAppService.emitInbound: forwarded", "from", msg.From, "messageID", msg.ID)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("WhatsAppService.emitInbound: channel blocked, dropping message", "from", msg.From)
	}
}

// emitReceipt must be called with the read lock held on a running service.
func (s *WhatsAppService) emitReceipt(r models.Receipt) {
	select {
	case s.receipts <- r:
	default:
		slog.Debug("WhatsAppService.emitReceipt: receipts channel full, dropping", "to", r.To)
	}
}

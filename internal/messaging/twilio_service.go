package messaging

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/BTreeMap/SalesPipe/internal/models"
	"github.com/BTreeMap/SalesPipe/internal/twiliowhatsapp"
)

// emptyTwiML acknowledges a webhook without sending a synchronous reply;
// replies go out through the outbox.
const emptyTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

// SignatureValidator checks Twilio webhook signatures.
type SignatureValidator interface {
	Validate(url string, params map[string]string, signature string) bool
}

// TwilioService implements the Service interface using Twilio API
type TwilioService struct {
	client    twiliowhatsapp.TwilioWhatsAppSender
	validator SignatureValidator
	publicURL string
	receipts  chan models.Receipt
	inbound   chan models.InboundMessage
	mu        sync.RWMutex
	stopped   bool
}

var _ Service = (*TwilioService)(nil)

// TwilioOption configures a TwilioService.
type TwilioOption func(*TwilioService)

// WithSignatureValidation rejects webhook requests whose X-Twilio-Signature
// does not match publicURL, the URL Twilio is configured to call.
func WithSignatureValidation(v SignatureValidator, publicURL string) TwilioOption {
	return func(s *TwilioService) {
		s.validator = v
		s.publicURL = publicURL
	}
}

// NewTwilioService creates a new TwilioService around a Twilio client.
func NewTwilioService(client twiliowhatsapp.TwilioWhatsAppSender, opts ...TwilioOption) *TwilioService {
	s := &TwilioService{
		client:   client,
		receipts: make(chan models.Receipt, DefaultChannelBufferSize),
		inbound:  make(chan models.InboundMessage, DefaultChannelBufferSize),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ValidateAndCanonicalizeRecipient returns the phone number in digits-only form.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return CanonicalizePhone(recipient)
}

// Start is a no-op; inbound messages arrive through the webhook.
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop closes channels and stops the service
func (s *TwilioService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.receipts)
	close(s.inbound)
	return nil
}

// SendMessage sends a message via Twilio and emits a receipt
func (s *TwilioService) SendMessage(ctx context.Context, to string, body string) error {
	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService.SendMessage: invalid recipient", "to", to, "error", err)
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		return ErrServiceStopped
	}
	if err := s.client.SendMessage(ctx, canonicalTo, body); err != nil {
		return err
	}
	select {
	case s.receipts <- models.Receipt{To: canonicalTo, Status: models.MessageStatusSent, Time: time.Now().Unix()}:
	default:
	}
	return nil
}

// Receipts returns the channel for sent message receipts
func (s *TwilioService) Receipts() <-chan models.Receipt {
	return s.receipts
}

// Inbound returns the channel of messages received through the webhook.
func (s *TwilioService) Inbound() <-chan models.InboundMessage {
	return s.inbound
}

// inboundFromForm converts a Twilio webhook form into an inbound message.
// Click-to-WhatsApp ads add the Referral* fields.
func inboundFromForm(form map[string]string) (models.InboundMessage, error) {
	from, err := CanonicalizePhone(form["From"])
	if err != nil {
		return models.InboundMessage{}, err
	}
	msg := models.InboundMessage{
		ID:   form["MessageSid"],
		From: from,
		Body: form["Body"],
		Time: time.Now().Unix(),
		Channel: models.ChannelContext{
			Channel:     "twilio",
			AdProductID: form["ReferralSourceId"],
			AdFlowRef:   adFlowRef(form["ReferralSourceUrl"]),
		},
	}
	if err := msg.Validate(); err != nil {
		return models.InboundMessage{}, err
	}
	return msg, nil
}

// TwilioWebhookHandler handles inbound Twilio webhook requests and emits them
// on the Inbound channel.
func (s *TwilioService) TwilioWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		slog.Error("TwilioService.TwilioWebhookHandler: parse form failed", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	form := make(map[string]string, len(r.PostForm))
	for k := range r.PostForm {
		form[k] = r.PostForm.Get(k)
	}
	if s.validator != nil && !s.validator.Validate(s.publicURL, form, r.Header.Get("X-Twilio-Signature")) {
		slog.Warn("TwilioService.TwilioWebhookHandler: invalid signature", "remote", r.RemoteAddr)
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	msg, err := inboundFromForm(form)
	if err != nil {
		slog.Warn("TwilioService.TwilioWebhookHandler: invalid message", "from", form["From"], "error", err)
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}
	if !s.emitInbound(msg) {
		http.Error(w, "Service unavailable", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(emptyTwiML))
}

func (s *TwilioService) emitInbound(msg models.InboundMessage) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		slog.Warn("TwilioService.emitInbound: service stopped, dropping message", "from", msg.From)
		return false
	}
	select {
	case s.inbound <- msg:
		slog.Debug("TwilioService.emitInbound: forwarded", "from", msg.From, "messageID", msg.ID)
		return true
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("TwilioService.emitInbound: channel blocked, dropping message", "from", msg.From)
		return false
	}
}

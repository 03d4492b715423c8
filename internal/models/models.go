// Package models defines the core data structures for SalesPipe.
//
// It includes the conversation session, catalog and flow-definition records,
// classifier output, and the message/receipt types shared across modules.
package models

import (
	"errors"
	"strings"
)

// Validation constants for inbound messages.
const (
	// MaxInboundBodyLength caps the text accepted for a single customer message.
	MaxInboundBodyLength = 4096
)

// Error variables for inbound validation.
var (
	ErrEmptySender   = errors.New("sender cannot be empty")
	ErrEmptyBody     = errors.New("message body cannot be empty")
	ErrBodyTooLong   = errors.New("message body exceeds maximum length")
	ErrUnknownIntent = errors.New("unknown intent")
)

// MessageStatus represents the delivery status of a message.
type MessageStatus string

const (
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
	MessageStatusFailed    MessageStatus = "failed"
)

// Receipt records the delivery status of an outbound message.
type Receipt struct {
	To     string        `json:"to"`
	Status MessageStatus `json:"status"`
	Time   int64         `json:"time"`
}

// InboundMessage is a message received from a customer on any channel.
type InboundMessage struct {
	ID       string           `json:"id,omitempty"` // channel message id, used for de-duplication
	From     string           `json:"from"`
	Body     string           `json:"body"`
	Time     int64            `json:"time"`
	Channel  ChannelContext   `json:"channel,omitempty"`
	Campaign *CampaignContext `json:"campaign,omitempty"`
}

// Validate checks the inbound message for required fields.
func (m *InboundMessage) Validate() error {
	if strings.TrimSpace(m.From) == "" {
		return ErrEmptySender
	}
	if strings.TrimSpace(m.Body) == "" {
		return ErrEmptyBody
	}
	if len(m.Body) > MaxInboundBodyLength {
		return ErrBodyTooLong
	}
	return nil
}

// ChannelContext carries channel and advertising metadata for a message.
type ChannelContext struct {
	Channel string `json:"channel,omitempty"` // whatsapp, twilio, api
	// AdFlowRef is the flow reference attached to a click-to-chat ad.
	AdFlowRef string `json:"ad_flow_ref,omitempty"`
	// AdProductID is the product identifier attached to a click-to-chat ad.
	AdProductID string `json:"ad_product_id,omitempty"`
}

// LeadScenario marks campaigns that route straight into a lead-capture script.
type LeadScenario string

const (
	LeadScenarioNone        LeadScenario = ""
	LeadScenarioB2B         LeadScenario = "b2b"
	LeadScenarioDistributor LeadScenario = "distributor"
)

// CampaignContext is optional campaign metadata for a conversation.
type CampaignContext struct {
	ID           string       `json:"id,omitempty"`
	LeadScenario LeadScenario `json:"lead_scenario,omitempty"`
	// FlowKey overrides the lead-capture definition key.
	FlowKey string `json:"flow_key,omitempty"`
}

// IsLeadCapture reports whether the campaign routes to a lead-capture script.
func (c *CampaignContext) IsLeadCapture() bool {
	return c != nil && (c.LeadScenario == LeadScenarioB2B || c.LeadScenario == LeadScenarioDistributor)
}

// Intent tags reported by the classifier.
const (
	IntentUnknown      = "unknown"
	IntentGreeting     = "greeting"
	IntentThanks       = "thanks"
	IntentGoodbye      = "goodbye"
	IntentOptOut       = "opt_out"
	IntentHumanRequest = "human_request"
	IntentShipping     = "shipping"
	IntentPayment      = "payment"
	IntentLocation     = "location"
	IntentHours        = "hours"
	IntentSpam         = "spam"
	IntentPriceQuery   = "price_query"
	IntentSizeQuery    = "size_query"
	IntentProductInfo  = "product_info"
	IntentWholesale    = "wholesale"
)

// ClassifiedEntities are entities pre-parsed by the classifier.
type ClassifiedEntities struct {
	Width    *float64 `json:"width,omitempty"`
	Height   *float64 `json:"height,omitempty"`
	Quantity *int     `json:"quantity,omitempty"`
	Location string   `json:"location,omitempty"`
	Color    string   `json:"color,omitempty"`
}

// Classification is the classifier output for one message.
type Classification struct {
	Intent     string             `json:"intent"`
	Product    string             `json:"product,omitempty"` // flow name or "unknown"
	Entities   ClassifiedEntities `json:"entities"`
	Confidence float64            `json:"confidence"`
}

// ProductFlow returns the classifier product as a flow, or "" when unknown.
func (c Classification) ProductFlow() FlowType {
	f := FlowType(strings.ToLower(strings.TrimSpace(c.Product)))
	if f.IsProduct() {
		return f
	}
	return ""
}

// ClassifyContext gives the classifier conversation context.
type ClassifyContext struct {
	ActiveFlow FlowType `json:"active_flow,omitempty"`
	LastIntent string   `json:"last_intent,omitempty"`
}

// Reply is the outcome of one handled turn.
type Reply struct {
	// Text is sent verbatim when set.
	Text string `json:"text,omitempty"`
	// RenderTag asks the renderer to voice Facts when Text is empty.
	RenderTag string         `json:"render_tag,omitempty"`
	Facts     map[string]any `json:"facts,omitempty"`
	// Silent means the turn was handled but nothing should be sent.
	Silent bool `json:"silent,omitempty"`
	// Handler names the component that produced the reply (audit/logging).
	Handler string `json:"handler,omitempty"`
}

// FallbackReplyText is the polite message shown when a turn cannot be handled.
const FallbackReplyText = "Gracias por tu mensaje. En un momento un asesor te atiende para ayudarte mejor."

// FallbackReply returns the generic polite fallback reply.
func FallbackReply() *Reply {
	return &Reply{Text: FallbackReplyText, Handler: "fallback"}
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	APIStatusOK    APIStatus = "ok"
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Message: message, Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}

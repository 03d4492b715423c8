package models

import "time"

// Session is the durable per-customer conversation record. It is loaded once
// and saved once per inbound turn.
type Session struct {
	CustomerID       string            `json:"customer_id"`
	Status           SessionStatus     `json:"status"`
	ActiveFlow       FlowType          `json:"active_flow,omitempty"`
	State            ConversationState `json:"state"`
	LastIntent       string            `json:"last_intent,omitempty"` // audit only
	ProductInterest  string            `json:"product_interest,omitempty"`
	ProductSpecs     ProductSpecs      `json:"product_specs"`
	Pending          *Pending          `json:"pending,omitempty"`
	IntentSignals    IntentLedger      `json:"intent_signals"`
	PurchaseIntent   IntentBucket      `json:"purchase_intent,omitempty"`
	WholesaleInquiry bool              `json:"wholesale_inquiry,omitempty"`
	Handoff          HandoffInfo       `json:"handoff"`
	FlowRun          *FlowRun          `json:"flow_run,omitempty"`
	LeadCaptured     bool              `json:"lead_captured,omitempty"` // a lead script already ran to an end
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// NewSession returns a fresh active session for a customer.
func NewSession(customerID string, now time.Time) *Session {
	return &Session{
		CustomerID:     customerID,
		Status:         SessionActive,
		ActiveFlow:     FlowDefault,
		State:          Idle(),
		PurchaseIntent: IntentMedium,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// CurrentFlow returns the active flow, treating empty as default.
func (s *Session) CurrentFlow() FlowType {
	return s.ActiveFlow.Normalize()
}

// PendingConfirmation returns the pending confirmation sub-dialog, if any.
func (s *Session) PendingConfirmation() *Pending {
	if s.Pending.IsConfirmation() {
		return s.Pending
	}
	return nil
}

// PendingHandoff returns the pending handoff sub-dialog, if any.
func (s *Session) PendingHandoff() *Pending {
	if s.Pending != nil && s.Pending.Kind == PendingHandoffDetail {
		return s.Pending
	}
	return nil
}

// SetPendingConfirmation replaces the pending slot with a confirmation sub-dialog.
func (s *Session) SetPendingConfirmation(kind PendingKind, target FlowType, suggestion string, now time.Time) {
	s.Pending = &Pending{Kind: kind, TargetFlow: target, Suggestion: suggestion, CreatedAt: now}
}

// SetPendingHandoff replaces the pending slot with a handoff sub-dialog.
func (s *Session) SetPendingHandoff(reason string, now time.Time) {
	s.Pending = &Pending{Kind: PendingHandoffDetail, Reason: reason, CreatedAt: now}
}

// ClearPending releases the pending slot.
func (s *Session) ClearPending() {
	s.Pending = nil
}

// SwitchFlow moves the session to a new flow, resetting flow-specific specs.
func (s *Session) SwitchFlow(flow FlowType) {
	if s.ActiveFlow == flow {
		return
	}
	s.ActiveFlow = flow
	s.ProductInterest = string(flow)
	s.ProductSpecs = ProductSpecs{}
	s.State = InFlow(StateIdle, flow)
}

// RequestHandoff flags the session for a human operator.
func (s *Session) RequestHandoff(reason string, now time.Time) {
	s.Handoff = HandoffInfo{Requested: true, Reason: reason, At: &now}
	s.State = InFlow(StateHandoff, s.CurrentFlow())
}

// Close marks the session closed.
func (s *Session) Close() {
	s.Status = SessionClosed
	s.State = ConversationState{Kind: StateClosed}
	s.Pending = nil
	s.FlowRun = nil
}

// IsClosed reports whether the session has been closed.
func (s *Session) IsClosed() bool {
	return s.Status == SessionClosed
}

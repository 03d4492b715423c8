package models

import "time"

// SessionStatus is the lifecycle status of a conversation session.
type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionClosed SessionStatus = "closed"
)

// PendingKind identifies which sub-dialog currently holds the single pending slot.
type PendingKind string

const (
	// PendingConfirmSwitch waits for a yes/no on switching to another product flow.
	PendingConfirmSwitch PendingKind = "confirm_switch"
	// PendingWholesaleChoice waits for a retail-vs-wholesale answer.
	PendingWholesaleChoice PendingKind = "wholesale_choice"
	// PendingHandoffDetail waits for a follow-up fact (postal code) before escalating.
	PendingHandoffDetail PendingKind = "await_handoff_detail"
)

// Pending is the single-slot sub-dialog lock. Only one sub-dialog can be
// active at a time because a session carries at most one Pending value.
type Pending struct {
	Kind       PendingKind `json:"kind"`
	TargetFlow FlowType    `json:"target_flow,omitempty"`
	// Suggestion is set when the lock was raised by the use-case fit check.
	Suggestion string `json:"suggestion,omitempty"`
	// Reason is the handoff reason template awaiting the follow-up fact.
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// IsConfirmation reports whether the pending slot holds a confirmation sub-dialog.
func (p *Pending) IsConfirmation() bool {
	return p != nil && (p.Kind == PendingConfirmSwitch || p.Kind == PendingWholesaleChoice)
}

// HandoffInfo records a human-escalation request.
type HandoffInfo struct {
	Requested bool       `json:"requested"`
	Reason    string     `json:"reason,omitempty"`
	At        *time.Time `json:"at,omitempty"`
}

// ProductSpecs is the flow-specific, partially filled product specification.
// Pointer fields distinguish "not yet provided" from zero.
type ProductSpecs struct {
	Width      *float64 `json:"width,omitempty"`
	Length     *float64 `json:"length,omitempty"`
	Percentage *int     `json:"percentage,omitempty"`
	Quantity   *int     `json:"quantity,omitempty"`
	Color      string   `json:"color,omitempty"`
}

// Has reports whether the given field has a value.
func (p ProductSpecs) Has(field SpecField) bool {
	switch field {
	case FieldWidth:
		return p.Width != nil
	case FieldLength:
		return p.Length != nil
	case FieldPercentage:
		return p.Percentage != nil
	case FieldQuantity:
		return p.Quantity != nil
	case FieldColor:
		return p.Color != ""
	}
	return false
}

// QuantityOr returns the quantity or def when unset.
func (p ProductSpecs) QuantityOr(def int) int {
	if p.Quantity == nil {
		return def
	}
	return *p.Quantity
}

// IntentBucket is the externally visible purchase-readiness level.
type IntentBucket string

const (
	IntentLow    IntentBucket = "low"
	IntentMedium IntentBucket = "medium"
	IntentHigh   IntentBucket = "high"
)

// IntentLedger accumulates purchase-readiness signals for one conversation.
// Counters never decrease and booleans are never reset to false.
type IntentLedger struct {
	HasDimensions           bool `json:"has_dimensions,omitempty"`
	HasLocation             bool `json:"has_location,omitempty"`
	AskedPayment            bool `json:"asked_payment,omitempty"`
	AskedDelivery           bool `json:"asked_delivery,omitempty"`
	SizeRecommended         bool `json:"size_recommended,omitempty"`
	ConfirmedRecommendation bool `json:"confirmed_recommendation,omitempty"`
	Urgent                  bool `json:"urgent,omitempty"`

	MaterialQuestions       int `json:"material_questions,omitempty"`
	TechSpecQuestions       int `json:"tech_spec_questions,omitempty"`
	CatalogRequests         int `json:"catalog_requests,omitempty"`
	ErraticTyping           int `json:"erratic_typing,omitempty"`
	MessagesWithoutProgress int `json:"messages_without_progress,omitempty"`
	TotalMessages           int `json:"total_messages"`
}

package models

// FlowType names a conversation flow: one per product line plus the default flow.
type FlowType string

// Flow type constants.
const (
	FlowDefault       FlowType = "default"
	FlowConfeccionada FlowType = "confeccionada"
	FlowRollo         FlowType = "rollo"
	FlowBorde         FlowType = "borde"
	FlowAntimaleza    FlowType = "antimaleza"
)

// ProductFlows lists the product flows in their tie-break priority order:
// when several flows claim the same size, the first one listed wins.
var ProductFlows = []FlowType{FlowRollo, FlowAntimaleza, FlowBorde, FlowConfeccionada}

// IsProduct reports whether the flow is a product flow (not default/none).
func (f FlowType) IsProduct() bool {
	switch f {
	case FlowConfeccionada, FlowRollo, FlowBorde, FlowAntimaleza:
		return true
	}
	return false
}

// Normalize maps the empty flow to FlowDefault.
func (f FlowType) Normalize() FlowType {
	if f == "" {
		return FlowDefault
	}
	return f
}

// DisplayName returns the customer-facing product name for a flow.
func (f FlowType) DisplayName() string {
	switch f {
	case FlowConfeccionada:
		return "malla sombra confeccionada"
	case FlowRollo:
		return "malla sombra en rollo"
	case FlowBorde:
		return "borde separador"
	case FlowAntimaleza:
		return "malla antimaleza"
	default:
		return "nuestros productos"
	}
}

// StateKind enumerates the explicit conversation states.
type StateKind string

// State kinds.
const (
	StateIdle               StateKind = "idle"
	StateCollecting         StateKind = "collecting"
	StateQuoted             StateKind = "quoted"
	StateAwaitingPostalCode StateKind = "awaiting_postal_code"
	StateWholesale          StateKind = "wholesale"
	StateHandoff            StateKind = "handoff"
	StateLeadCapture        StateKind = "lead_capture"
	StateClosed             StateKind = "closed"
)

// SpecField names one field of a product specification tuple.
type SpecField string

// Spec fields.
const (
	FieldWidth      SpecField = "width"
	FieldLength     SpecField = "length"
	FieldPercentage SpecField = "percentage"
	FieldQuantity   SpecField = "quantity"
	FieldColor      SpecField = "color"
)

// ConversationState is the explicit per-flow conversation state. Control flow
// decisions read Kind (and Flow/Field), never the LastIntent audit string.
type ConversationState struct {
	Kind  StateKind `json:"kind"`
	Flow  FlowType  `json:"flow,omitempty"`
	Field SpecField `json:"field,omitempty"` // set when Kind is StateCollecting
}

// Is reports whether the state has the given kind for the given flow.
func (s ConversationState) Is(kind StateKind, flow FlowType) bool {
	return s.Kind == kind && s.Flow == flow
}

// Idle returns the idle state.
func Idle() ConversationState { return ConversationState{Kind: StateIdle} }

// Collecting returns the state for a flow waiting on one field.
func Collecting(flow FlowType, field SpecField) ConversationState {
	return ConversationState{Kind: StateCollecting, Flow: flow, Field: field}
}

// InFlow returns a terminal or waiting state for a flow.
func InFlow(kind StateKind, flow FlowType) ConversationState {
	return ConversationState{Kind: kind, Flow: flow}
}

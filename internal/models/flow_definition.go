package models

import "time"

// InputKind is the kind of input a flow step expects.
type InputKind string

const (
	InputText    InputKind = "text"
	InputOption  InputKind = "option"
	InputConfirm InputKind = "confirm"
	InputNumber  InputKind = "number"
	InputPhone   InputKind = "phone"
	InputEmail   InputKind = "email"
)

// CompletionKind names what happens when a run reaches the end of its steps.
type CompletionKind string

const (
	CompleteMessage       CompletionKind = "message"
	CompleteHandoff       CompletionKind = "handoff"
	CompleteTriggerIntent CompletionKind = "trigger_intent"
	CompleteChainFlow     CompletionKind = "chain_flow"
)

// StepValidation holds validation rules applied to a step's input.
type StepValidation struct {
	Required     bool     `json:"required,omitempty" yaml:"required,omitempty"`
	MinLength    int      `json:"min_length,omitempty" yaml:"min_length,omitempty"`
	MaxLength    int      `json:"max_length,omitempty" yaml:"max_length,omitempty"`
	Pattern      string   `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	Min          *float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max          *float64 `json:"max,omitempty" yaml:"max,omitempty"`
	ErrorMessage string   `json:"error_message,omitempty" yaml:"error_message,omitempty"`
}

// StepOption is one selectable answer of an option step.
type StepOption struct {
	Label string `json:"label" yaml:"label"`
	Value string `json:"value" yaml:"value"`
	Next  string `json:"next,omitempty" yaml:"next,omitempty"`
}

// StepCondition routes to an alternate step when a collected variable matches.
type StepCondition struct {
	Variable string `json:"variable" yaml:"variable"`
	Operator string `json:"operator" yaml:"operator"` // eq, ne, gt, gte, lt, lte, contains, exists
	Value    string `json:"value,omitempty" yaml:"value,omitempty"`
	Next     string `json:"next" yaml:"next"`
}

// FlowStep is one step of a data-described flow.
type FlowStep struct {
	ID         string          `json:"id" yaml:"id"`
	Order      int             `json:"order,omitempty" yaml:"order,omitempty"`
	Message    string          `json:"message" yaml:"message"`
	CollectAs  string          `json:"collect_as,omitempty" yaml:"collect_as,omitempty"`
	Input      InputKind       `json:"input,omitempty" yaml:"input,omitempty"`
	Validation StepValidation  `json:"validation,omitempty" yaml:"validation,omitempty"`
	Options    []StepOption    `json:"options,omitempty" yaml:"options,omitempty"`
	Next       string          `json:"next,omitempty" yaml:"next,omitempty"`
	Conditions []StepCondition `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	SkipIf     string          `json:"skip_if,omitempty" yaml:"skip_if,omitempty"`
}

// CompletionAction describes what a definition does once its last step is answered.
type CompletionAction struct {
	Action  CompletionKind `json:"action" yaml:"action"`
	Message string         `json:"message,omitempty" yaml:"message,omitempty"`
	// HandoffFields selects which collected variables go into the handoff notes; empty means all.
	HandoffFields []string `json:"handoff_fields,omitempty" yaml:"handoff_fields,omitempty"`
	Intent        string   `json:"intent,omitempty" yaml:"intent,omitempty"`
	ChainFlow     string   `json:"chain_flow,omitempty" yaml:"chain_flow,omitempty"`
}

// AbandonAction describes what happens when a run is abandoned.
type AbandonAction struct {
	Message string `json:"message,omitempty" yaml:"message,omitempty"`
	Handoff bool   `json:"handoff,omitempty" yaml:"handoff,omitempty"`
}

// FlowDefinition is a data-described step sequence used for lead capture scripts.
type FlowDefinition struct {
	Key        string           `json:"key" yaml:"key"`
	Name       string           `json:"name,omitempty" yaml:"name,omitempty"`
	StartStep  string           `json:"start_step,omitempty" yaml:"start_step,omitempty"`
	Steps      []FlowStep       `json:"steps" yaml:"steps"`
	OnComplete CompletionAction `json:"on_complete" yaml:"on_complete"`
	OnAbandon  AbandonAction    `json:"on_abandon,omitempty" yaml:"on_abandon,omitempty"`

	StartCount    int       `json:"start_count" yaml:"-"`
	CompleteCount int       `json:"complete_count" yaml:"-"`
	AbandonCount  int       `json:"abandon_count" yaml:"-"`
	UpdatedAt     time.Time `json:"updated_at" yaml:"-"`
}

// Step returns the step with the given id.
func (d *FlowDefinition) Step(id string) (*FlowStep, bool) {
	for i := range d.Steps {
		if d.Steps[i].ID == id {
			return &d.Steps[i], true
		}
	}
	return nil, false
}

// FlowEvent names a counted lifecycle event of a run.
type FlowEvent string

const (
	FlowEventStart    FlowEvent = "start"
	FlowEventComplete FlowEvent = "complete"
	FlowEventAbandon  FlowEvent = "abandon"
)

// FlowRun is one in-progress execution of a flow definition.
type FlowRun struct {
	ID            string         `json:"id"`
	DefinitionKey string         `json:"definition_key"`
	CurrentStep   string         `json:"current_step"`
	CollectedData map[string]any `json:"collected_data,omitempty"`
	StartedAt     time.Time      `json:"started_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

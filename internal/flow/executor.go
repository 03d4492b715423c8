package flow

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/BTreeMap/SalesPipe/internal/models"
)

// maxSkipChain bounds how many consecutive steps a run may skip in one move.
const maxSkipChain = 32

// DefinitionSource is what the executor needs from the definition store.
type DefinitionSource interface {
	GetFlowDefinition(key string) (*models.FlowDefinition, error)
	RecordFlowEvent(key, runID string, event models.FlowEvent) (bool, error)
}

// StepResult is the outcome of starting, advancing or abandoning a run.
type StepResult struct {
	Message string
	// Invalid is set when the answer was rejected and the step re-asked.
	Invalid   bool
	Completed bool
	Abandoned bool
	Handoff   bool
	// HandoffNotes summarizes collected data for the operator.
	HandoffNotes string
	// TriggerIntent is the follow-on intent tagged by a trigger_intent completion.
	TriggerIntent string
}

// Executor runs data-described flow definitions. Run state lives in the
// session; definitions and their counters live in the store.
type Executor struct {
	defs DefinitionSource
	cond *conditionEvaluator
	now  func() time.Time
}

// NewExecutor creates an executor over a definition source.
func NewExecutor(defs DefinitionSource, opts ...Option) *Executor {
	o := resolveOpts(opts)
	return &Executor{defs: defs, cond: newConditionEvaluator(), now: o.Clock}
}

func (e *Executor) definition(key string) (*models.FlowDefinition, error) {
	def, err := e.defs.GetFlowDefinition(key)
	if err != nil {
		return nil, fmt.Errorf("load flow definition %q: %w", key, err)
	}
	if def == nil {
		return nil, fmt.Errorf("%w: %s", ErrDefinitionNotFound, key)
	}
	return def, nil
}

func (e *Executor) record(key, runID string, event models.FlowEvent) {
	counted, err := e.defs.RecordFlowEvent(key, runID, event)
	if err != nil {
		slog.Error("Executor.record: counter update failed", "key", key, "runID", runID, "event", event, "error", err)
		return
	}
	if !counted {
		slog.Debug("Executor.record: event already counted", "key", key, "runID", runID, "event", event)
	}
}

// firstStep returns the explicit start step or the step with the lowest order.
func firstStep(def *models.FlowDefinition) (*models.FlowStep, error) {
	if def.StartStep != "" {
		step, ok := def.Step(def.StartStep)
		if !ok {
			return nil, fmt.Errorf("%w: start step %q of %s", ErrStepNotFound, def.StartStep, def.Key)
		}
		return step, nil
	}
	if len(def.Steps) == 0 {
		return nil, fmt.Errorf("%w: definition %s has no steps", ErrStepNotFound, def.Key)
	}
	best := &def.Steps[0]
	for i := range def.Steps {
		if def.Steps[i].Order < best.Order {
			best = &def.Steps[i]
		}
	}
	return best, nil
}

// Start begins a run of the definition and returns its first prompt.
func (e *Executor) Start(ctx context.Context, key string, sess *models.Session) (*StepResult, error) {
	def, err := e.definition(key)
	if err != nil {
		return nil, err
	}
	step, err := firstStep(def)
	if err != nil {
		return nil, err
	}
	now := e.now()
	run := &models.FlowRun{
		ID:            uuid.NewString(),
		DefinitionKey: def.Key,
		CollectedData: map[string]any{},
		StartedAt:     now,
		UpdatedAt:     now,
	}
	sess.FlowRun = run
	sess.State = models.InFlow(models.StateLeadCapture, sess.CurrentFlow())
	e.record(def.Key, run.ID, models.FlowEventStart)
	slog.Info("Executor.Start: run started", "key", def.Key, "runID", run.ID, "customerID", sess.CustomerID)

	step, err = e.settle(def, step, run.CollectedData)
	if err != nil {
		return nil, err
	}
	if step == nil {
		return e.complete(ctx, def, sess)
	}
	run.CurrentStep = step.ID
	return &StepResult{Message: prompt(step, run.CollectedData)}, nil
}

// Advance validates text against the current step and moves the run on.
// Rejected input re-asks the same step without advancing.
func (e *Executor) Advance(ctx context.Context, text string, sess *models.Session) (*StepResult, error) {
	run := sess.FlowRun
	if run == nil {
		return nil, ErrNoActiveRun
	}
	def, err := e.definition(run.DefinitionKey)
	if err != nil {
		return nil, err
	}
	step, ok := def.Step(run.CurrentStep)
	if !ok {
		return nil, fmt.Errorf("%w: %q in %s", ErrStepNotFound, run.CurrentStep, def.Key)
	}

	run.UpdatedAt = e.now()
	value, skipped, problem := acceptInput(e.cond, step, text)
	if problem != "" {
		slog.Debug("Executor.Advance: input rejected", "key", def.Key, "step", step.ID, "customerID", sess.CustomerID)
		return &StepResult{Message: problem + "\n\n" + prompt(step, run.CollectedData), Invalid: true}, nil
	}
	if run.CollectedData == nil {
		run.CollectedData = map[string]any{}
	}
	if step.CollectAs != "" && !skipped {
		run.CollectedData[step.CollectAs] = value
	}

	next, err := e.nextStep(def, step, value, run.CollectedData)
	if err != nil {
		return nil, err
	}
	next, err = e.settle(def, next, run.CollectedData)
	if err != nil {
		return nil, err
	}
	if next == nil {
		return e.complete(ctx, def, sess)
	}
	run.CurrentStep = next.ID
	return &StepResult{Message: prompt(next, run.CollectedData)}, nil
}

// nextStep resolves where an answered step leads: the chosen option's own
// target, then the first matching condition, then the default next step.
// A nil step means the run is complete.
func (e *Executor) nextStep(def *models.FlowDefinition, step *models.FlowStep, value any, data map[string]any) (*models.FlowStep, error) {
	target := ""
	if step.Input == models.InputOption {
		for _, o := range step.Options {
			if o.Value == valueString(value) && o.Next != "" {
				target = o.Next
				break
			}
		}
	}
	if target == "" {
		for _, c := range step.Conditions {
			if matchCondition(c, data) {
				target = c.Next
				break
			}
		}
	}
	if target == "" {
		target = step.Next
	}
	if target == "" {
		return nil, nil
	}
	next, ok := def.Step(target)
	if !ok {
		return nil, fmt.Errorf("%w: %q referenced from %s/%s", ErrStepNotFound, target, def.Key, step.ID)
	}
	return next, nil
}

// settle skips forward over steps whose skip predicate holds.
func (e *Executor) settle(def *models.FlowDefinition, step *models.FlowStep, data map[string]any) (*models.FlowStep, error) {
	for i := 0; step != nil && i < maxSkipChain; i++ {
		if !e.cond.shouldSkip(step, data) {
			return step, nil
		}
		slog.Debug("Executor.settle: step skipped", "key", def.Key, "step", step.ID)
		var err error
		step, err = e.nextStep(def, step, nil, data)
		if err != nil {
			return nil, err
		}
	}
	if step != nil {
		return nil, fmt.Errorf("flow %s: skip chain longer than %d steps", def.Key, maxSkipChain)
	}
	return nil, nil
}

// complete closes the run, counts the completion once and applies the
// definition's completion action.
func (e *Executor) complete(ctx context.Context, def *models.FlowDefinition, sess *models.Session) (*StepResult, error) {
	run := sess.FlowRun
	data := run.CollectedData
	e.record(def.Key, run.ID, models.FlowEventComplete)
	sess.FlowRun = nil
	sess.LeadCaptured = true
	sess.State = models.InFlow(models.StateIdle, sess.CurrentFlow())
	slog.Info("Executor.complete: run completed", "key", def.Key, "runID", run.ID, "customerID", sess.CustomerID)

	oc := def.OnComplete
	res := &StepResult{Completed: true, Message: oc.Message}
	switch oc.Action {
	case models.CompleteHandoff:
		notes := handoffNotes(def, data)
		sess.RequestHandoff(notes, e.now())
		res.Handoff = true
		res.HandoffNotes = notes
	case models.CompleteTriggerIntent:
		sess.LastIntent = oc.Intent
		res.TriggerIntent = oc.Intent
	case models.CompleteChainFlow:
		chained, err := e.Start(ctx, oc.ChainFlow, sess)
		if err != nil {
			slog.Error("Executor.complete: chained flow failed to start", "key", def.Key, "chain", oc.ChainFlow, "error", err)
			break
		}
		res.Message = joinMessages(oc.Message, chained.Message)
		res.Completed = chained.Completed
		res.Handoff = chained.Handoff
		res.HandoffNotes = chained.HandoffNotes
		res.TriggerIntent = chained.TriggerIntent
	}
	return res, nil
}

// Abandon ends the active run without completing it. It returns nil when no
// run is active.
func (e *Executor) Abandon(ctx context.Context, sess *models.Session, reason string) (*StepResult, error) {
	run := sess.FlowRun
	if run == nil {
		return nil, nil
	}
	sess.FlowRun = nil
	sess.LeadCaptured = true
	sess.State = models.InFlow(models.StateIdle, sess.CurrentFlow())

	def, err := e.definition(run.DefinitionKey)
	if err != nil {
		slog.Warn("Executor.Abandon: definition missing, run dropped", "key", run.DefinitionKey, "runID", run.ID, "error", err)
		return &StepResult{Abandoned: true}, nil
	}
	e.record(def.Key, run.ID, models.FlowEventAbandon)
	slog.Info("Executor.Abandon: run abandoned", "key", def.Key, "runID", run.ID, "reason", reason)

	res := &StepResult{Abandoned: true, Message: def.OnAbandon.Message}
	if def.OnAbandon.Handoff {
		notes := fmt.Sprintf("Flujo %s abandonado (%s). %s", def.Key, reason, handoffNotes(def, run.CollectedData))
		sess.RequestHandoff(strings.TrimSpace(notes), e.now())
		res.Handoff = true
		res.HandoffNotes = notes
	}
	return res, nil
}

// handoffNotes lists the selected collected fields, or all of them sorted by
// name, as "field: value" pairs.
func handoffNotes(def *models.FlowDefinition, data map[string]any) string {
	fields := def.OnComplete.HandoffFields
	if len(fields) == 0 {
		for k := range data {
			fields = append(fields, k)
		}
		sort.Strings(fields)
	}
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		v, ok := data[f]
		if !ok {
			continue
		}
		parts = append(parts, f+": "+displayValue(v))
	}
	if len(parts) == 0 {
		return "Lead " + def.Key
	}
	return "Lead " + def.Key + " | " + strings.Join(parts, "; ")
}

func displayValue(v any) string {
	switch t := v.(type) {
	case bool:
		if t {
			return "sí"
		}
		return "no"
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	return valueString(v)
}

// prompt renders a step message, substituting {{var}} placeholders from the
// collected data and listing options when the step has them.
func prompt(step *models.FlowStep, data map[string]any) string {
	msg := step.Message
	for k, v := range data {
		msg = strings.ReplaceAll(msg, "{{"+k+"}}", displayValue(v))
	}
	if len(step.Options) == 0 {
		return msg
	}
	var b strings.Builder
	b.WriteString(msg)
	for i, o := range step.Options {
		fmt.Fprintf(&b, "\n%d. %s", i+1, o.Label)
	}
	return b.String()
}

func joinMessages(parts ...string) string {
	var out []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "\n\n")
}

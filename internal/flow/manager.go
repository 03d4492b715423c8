package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/SalesPipe/internal/catalog"
	"github.com/BTreeMap/SalesPipe/internal/entities"
	"github.com/BTreeMap/SalesPipe/internal/models"
	"github.com/BTreeMap/SalesPipe/internal/scoring"
)

// ErrNilSession is returned when a turn arrives without a session.
var ErrNilSession = errors.New("turn has no session")

// Manager orchestrates one inbound turn: pending sub-dialogs, switch
// detection, lead-capture scripts, flow resolution and dispatch.
type Manager struct {
	index         *catalog.Index
	registry      *Registry
	executor      *Executor
	dispatcher    *Dispatcher
	notifier      Notifier
	storefrontURL string
	now           func() time.Time
}

// NewManager wires the manager to its collaborators.
func NewManager(index *catalog.Index, registry *Registry, executor *Executor, opts ...Option) *Manager {
	o := resolveOpts(opts)
	return &Manager{
		index:         index,
		registry:      registry,
		executor:      executor,
		dispatcher:    NewDispatcher(opts...),
		notifier:      o.Notifier,
		storefrontURL: o.StorefrontURL,
		now:           o.Clock,
	}
}

// HandleMessage runs the turn pipeline and mutates t.Session in place. A nil
// reply means no component handled the turn and the caller should fall back
// to a generic answer. Collaborator failures degrade inside the pipeline and
// are never returned.
func (m *Manager) HandleMessage(ctx context.Context, t *Turn) (*models.Reply, error) {
	if t == nil || t.Session == nil {
		return nil, ErrNilSession
	}
	sess := t.Session
	before := sess.Handoff

	reply := m.handle(ctx, t)

	if after := sess.Handoff; after.Requested && handoffChanged(before, after) {
		m.notify(ctx, t.CustomerID, after.Reason)
	}
	sess.UpdatedAt = m.now()
	if reply != nil {
		slog.Debug("Manager.HandleMessage: handled", "customerID", t.CustomerID, "handler", reply.Handler,
			"flow", sess.CurrentFlow(), "state", sess.State.Kind, "intent", sess.PurchaseIntent)
	}
	return reply, nil
}

func handoffChanged(before, after models.HandoffInfo) bool {
	if !before.Requested || before.At == nil || after.At == nil {
		return true
	}
	return !before.At.Equal(*after.At) || before.Reason != after.Reason
}

func (m *Manager) notify(ctx context.Context, customerID, reason string) {
	if m.notifier == nil {
		slog.Warn("Manager.notify: no notifier configured, handoff not sent", "customerID", customerID)
		return
	}
	if err := m.notifier.Notify(ctx, customerID, reason); err != nil {
		slog.Error("Manager.notify: handoff notification failed", "customerID", customerID, "error", err)
	}
}

func (m *Manager) handle(ctx context.Context, t *Turn) *models.Reply {
	sess := t.Session
	text := strings.TrimSpace(t.Text)

	// The ledger is updated on every turn, whatever branch answers it.
	sess.IntentSignals, sess.PurchaseIntent = scoring.Score(text, sess.IntentSignals)
	sess.WholesaleInquiry = sess.WholesaleInquiry || isWholesaleInquiry(text)

	if text == "" {
		return nil
	}
	ents := entities.Extract(text)

	if p := sess.PendingConfirmation(); p != nil {
		switch p.Kind {
		case models.PendingWholesaleChoice:
			if reply := m.resolveWholesaleChoice(ctx, t, p); reply != nil {
				return reply
			}
		case models.PendingConfirmSwitch:
			if reply := m.resolveSwitchConfirmation(ctx, t, p); reply != nil {
				return reply
			}
		}
	}

	if sess.PendingConfirmation() == nil && sess.FlowRun == nil {
		if reply := m.detectSwitch(ctx, t); reply != nil {
			return reply
		}
	}

	if reply, ok := m.leadCapture(ctx, t); ok {
		return reply
	}

	current := sess.CurrentFlow()
	detected, via := m.resolveFlow(ctx, t, ents)
	var transferred models.FlowType
	if detected.IsProduct() && detected != current {
		slog.Info("Manager.handle: flow transfer", "customerID", t.CustomerID, "from", current, "to", detected, "via", via)
		sess.SwitchFlow(detected)
		transferred = current
		current = detected
	}

	if reply := m.checkUseCase(ctx, t, current); reply != nil {
		return reply
	}

	hc := HandlerContext{
		Score:           sess.PurchaseIntent,
		Wholesale:       sess.WholesaleInquiry,
		TransferredFrom: transferred,
		Classification:  t.Classification,
		Campaign:        t.Campaign,
		Entities:        ents,
	}
	intent := t.Classification.Intent
	if isDispatcherIntent(intent) && !coupled(intent, sess, ents) && transferred == "" {
		return m.dispatcher.Dispatch(ctx, t)
	}
	if h, ok := m.registry.Get(current); ok {
		reply, err := h.Handle(ctx, t, hc)
		if err != nil {
			slog.Error("Manager.handle: handler failed", "flow", current, "customerID", t.CustomerID, "error", err)
		} else if reply != nil {
			return reply
		}
	} else {
		slog.Warn("Manager.handle: no handler registered", "flow", current)
	}
	return m.dispatcher.Dispatch(ctx, t)
}

// resolveWholesaleChoice answers the menudeo/mayoreo question. An answer
// leaning neither way releases the lock and returns nil.
func (m *Manager) resolveWholesaleChoice(_ context.Context, t *Turn, p *models.Pending) *models.Reply {
	sess := t.Session
	target := p.TargetFlow
	switch {
	case leanWholesale(t.Text):
		sess.ClearPending()
		sess.ProductInterest = string(target)
		sess.WholesaleInquiry = true
		sess.RequestHandoff("Mayoreo "+target.DisplayName()+": "+t.Text, m.now())
		sess.LastIntent = string(target) + "_" + outcomeWholesale
		return &models.Reply{
			Text:    "¡Perfecto! Para mayoreo un asesor te arma la cotización con precio especial. En breve te escribe por aquí.",
			Handler: "wholesale_choice",
		}
	case leanRetail(t.Text):
		sess.ClearPending()
		sess.SwitchFlow(target)
		return &models.Reply{Text: m.registry.opening(target, sess), Handler: "wholesale_choice"}
	}
	slog.Debug("Manager.resolveWholesaleChoice: unclear answer, lock released", "customerID", t.CustomerID)
	sess.ClearPending()
	return nil
}

// resolveSwitchConfirmation answers a pending "switch to X?" question. A
// reply that is neither yes nor no releases the lock and returns nil.
func (m *Manager) resolveSwitchConfirmation(ctx context.Context, t *Turn, p *models.Pending) *models.Reply {
	sess := t.Session
	target := p.TargetFlow
	switch {
	case entities.IsAffirmative(t.Text):
		sess.IntentSignals.ConfirmedRecommendation = sess.IntentSignals.ConfirmedRecommendation || p.Suggestion != ""
		retail, wholesale, err := m.index.Variants(ctx, target)
		if err != nil {
			slog.Warn("Manager.resolveSwitchConfirmation: variant lookup failed, switching directly", "target", target, "error", err)
		}
		switch {
		case err == nil && retail && wholesale:
			sess.SetPendingConfirmation(models.PendingWholesaleChoice, target, "", m.now())
			return &models.Reply{
				Text:    fmt.Sprintf("Manejamos %s al menudeo y al mayoreo. ¿Lo buscas al menudeo o al mayoreo?", target.DisplayName()),
				Handler: "switch_confirmation",
			}
		case err == nil && wholesale && !retail:
			sess.ClearPending()
			sess.SwitchFlow(target)
			sess.RequestHandoff("Cambio a "+target.DisplayName()+" (solo mayoreo)", m.now())
			sess.LastIntent = string(target) + "_" + outcomeWholesale
			return &models.Reply{
				Text:    fmt.Sprintf("El %s lo manejamos por mayoreo. Ya le pasé tus datos a un asesor para que te cotice.", target.DisplayName()),
				Handler: "switch_confirmation",
			}
		}
		sess.ClearPending()
		sess.SwitchFlow(target)
		return &models.Reply{Text: m.registry.opening(target, sess), Handler: "switch_confirmation"}
	case entities.IsNegative(t.Text):
		sess.ClearPending()
		current := sess.CurrentFlow()
		return &models.Reply{
			Text:    joinMessages("Perfecto, seguimos con tu "+current.DisplayName()+".", m.registry.question(current, sess)),
			Handler: "switch_confirmation",
		}
	}
	slog.Debug("Manager.resolveSwitchConfirmation: unclear answer, lock released", "customerID", t.CustomerID)
	sess.ClearPending()
	return nil
}

// detectSwitch asks before moving an active product flow to another product,
// and deflects product categories that are not sold. Neither path changes
// the active flow.
func (m *Manager) detectSwitch(ctx context.Context, t *Turn) *models.Reply {
	sess := t.Session
	current := sess.CurrentFlow()
	named, hasNamed := matchKeywordFlow(t.Text, true)

	if current.IsProduct() {
		target := named
		if !hasNamed {
			target = t.Classification.ProductFlow()
		}
		if target == "" {
			if snap := m.snapshot(ctx); snap != nil {
				target, _ = snap.MatchAlias(t.Text)
			}
		}
		if target.IsProduct() && target != current {
			sess.SetPendingConfirmation(models.PendingConfirmSwitch, target, "", m.now())
			slog.Info("Manager.detectSwitch: confirmation requested", "customerID", t.CustomerID, "from", current, "to", target)
			return &models.Reply{
				Text: fmt.Sprintf("Ahorita estamos viendo %s. ¿Quieres que cambiemos a %s? Responde sí o no.",
					current.DisplayName(), target.DisplayName()),
				Handler: "switch_detection",
			}
		}
	}

	if name, ok := matchUnsold(t.Text); ok && !hasNamed {
		msg := fmt.Sprintf("Por ahora no manejamos %s. Nos especializamos en malla sombra, malla antimaleza y borde separador.", name)
		if m.storefrontURL != "" {
			msg += " Puedes ver todo lo que tenemos en " + m.storefrontURL
		}
		return &models.Reply{Text: msg, Handler: "deflection"}
	}
	return nil
}

// leadCapture delegates to the executor while a script runs, or starts one
// for lead-capture campaigns. ok is false when the turn should continue
// through normal routing.
func (m *Manager) leadCapture(ctx context.Context, t *Turn) (*models.Reply, bool) {
	sess := t.Session
	if run := sess.FlowRun; run != nil {
		var (
			res *StepResult
			err error
		)
		if isCancel(t.Text) {
			res, err = m.executor.Abandon(ctx, sess, "cancelado por el cliente")
		} else {
			res, err = m.executor.Advance(ctx, t.Text, sess)
		}
		if err != nil {
			slog.Error("Manager.leadCapture: run failed, dropping it", "key", run.DefinitionKey, "runID", run.ID, "customerID", t.CustomerID, "error", err)
			sess.FlowRun = nil
			sess.ClearPending()
			sess.State = models.InFlow(models.StateIdle, sess.CurrentFlow())
			return nil, false
		}
		return leadReply(run.DefinitionKey, res), true
	}

	if !t.Campaign.IsLeadCapture() || sess.LeadCaptured {
		return nil, false
	}
	key := leadDefinitionKey(t.Campaign)
	res, err := m.executor.Start(ctx, key, sess)
	if err != nil {
		slog.Error("Manager.leadCapture: cannot start lead script", "key", key, "customerID", t.CustomerID, "error", err)
		sess.FlowRun = nil
		sess.ClearPending()
		return nil, false
	}
	return leadReply(key, res), true
}

func leadDefinitionKey(c *models.CampaignContext) string {
	if c.FlowKey != "" {
		return c.FlowKey
	}
	if c.LeadScenario == models.LeadScenarioDistributor {
		return LeadDistributorKey
	}
	return LeadB2BKey
}

func leadReply(key string, res *StepResult) *models.Reply {
	msg := res.Message
	if msg == "" {
		switch {
		case res.Abandoned:
			msg = "Listo, lo dejamos aquí. Si quieres retomarlo, escríbenos."
		case res.Completed:
			msg = "¡Gracias! Ya tenemos tus datos."
		}
	}
	return &models.Reply{Text: msg, Handler: "executor:" + key}
}

// checkUseCase suggests a better-fitting product when the customer describes
// a usage that does not match the current one.
func (m *Manager) checkUseCase(ctx context.Context, t *Turn, current models.FlowType) *models.Reply {
	sess := t.Session
	if !current.IsProduct() || sess.Pending != nil {
		return nil
	}
	rule, ok := matchUseCase(t.Text)
	if !ok || rule.flow == current {
		return nil
	}
	if named, ok := matchKeywordFlow(t.Text, true); ok && named == current {
		return nil
	}
	has, err := m.index.HasFlow(ctx, rule.flow)
	if err != nil || !has {
		if err != nil {
			slog.Warn("Manager.checkUseCase: catalog lookup failed", "flow", rule.flow, "error", err)
		}
		return nil
	}
	sess.SetPendingConfirmation(models.PendingConfirmSwitch, rule.flow, rule.suggestion, m.now())
	slog.Info("Manager.checkUseCase: suggestion offered", "customerID", t.CustomerID, "scenario", rule.scenario, "from", current, "to", rule.flow)
	return &models.Reply{
		Text:    joinMessages(rule.suggestion, fmt.Sprintf("¿Quieres que te cotice %s? (sí/no)", rule.flow.DisplayName())),
		Handler: "use_case",
	}
}

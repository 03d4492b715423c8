package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/BTreeMap/SalesPipe/internal/catalog"
	"github.com/BTreeMap/SalesPipe/internal/models"
	"github.com/BTreeMap/SalesPipe/internal/store"
)

// Result is the outcome of one inbound message.
type Result struct {
	CustomerID string        `json:"customer_id"`
	Text       string        `json:"text,omitempty"`
	Reply      *models.Reply `json:"reply,omitempty"`
	// Duplicate is set when the message id was already processed.
	Duplicate bool `json:"duplicate,omitempty"`
}

// Engine is the entry point for inbound messages. It serializes turns per
// customer, classifies, runs the Manager inside one session transaction,
// renders the reply and queues it for delivery.
type Engine struct {
	store      store.Store
	sessions   *SessionManager
	manager    *Manager
	executor   *Executor
	classifier Classifier
	fallback   Classifier
	renderer   Renderer
	templates  TemplateRenderer
	runTimeout time.Duration
	now        func() time.Time
}

// NewEngine assembles the engine over a store, a catalog index and a
// classifier. A nil classifier leaves only the fallback classifier.
func NewEngine(st store.Store, index *catalog.Index, classifier Classifier, opts ...Option) *Engine {
	o := resolveOpts(opts)
	executor := NewExecutor(st, opts...)
	registry := NewDefaultRegistry(index, opts...)
	return &Engine{
		store:      st,
		sessions:   NewSessionManager(st, opts...),
		manager:    NewManager(index, registry, executor, opts...),
		executor:   executor,
		classifier: classifier,
		fallback:   o.FallbackClassifier,
		renderer:   o.Renderer,
		runTimeout: o.RunTimeout,
		now:        o.Clock,
	}
}

// Sessions exposes the session manager.
func (e *Engine) Sessions() *SessionManager { return e.sessions }

// HandleMessage runs the orchestration pipeline on a caller-owned session.
// A nil reply means the turn was not handled.
func (e *Engine) HandleMessage(ctx context.Context, text, customerID string, sess *models.Session,
	cls models.Classification, channel models.ChannelContext, campaign *models.CampaignContext) (*models.Reply, error) {
	return e.manager.HandleMessage(ctx, &Turn{
		Text:           text,
		CustomerID:     customerID,
		Session:        sess,
		Classification: cls,
		Channel:        channel,
		Campaign:       campaign,
	})
}

// HandleInbound processes one inbound message end to end. Redelivered
// message ids are dropped. The reply is queued in the outbox after the
// session has been saved.
func (e *Engine) HandleInbound(ctx context.Context, msg models.InboundMessage) (*Result, error) {
	if err := msg.Validate(); err != nil {
		return nil, fmt.Errorf("inbound message: %w", err)
	}
	res := &Result{CustomerID: msg.From}

	if msg.ID != "" {
		fresh, err := e.store.RecordInbound(msg.ID, msg.From)
		switch {
		case err != nil:
			slog.Warn("Engine.HandleInbound: dedup check failed, processing anyway", "messageID", msg.ID, "error", err)
		case !fresh:
			slog.Info("Engine.HandleInbound: duplicate message dropped", "messageID", msg.ID, "from", msg.From)
			res.Duplicate = true
			return res, nil
		}
	}

	var run *models.FlowRun
	err := e.sessions.WithSession(ctx, msg.From, func(sess *models.Session) error {
		cls := e.classify(ctx, msg.Body, sess)
		reply, err := e.manager.HandleMessage(ctx, &Turn{
			Text:           msg.Body,
			CustomerID:     msg.From,
			Session:        sess,
			Classification: cls,
			Channel:        msg.Channel,
			Campaign:       msg.Campaign,
		})
		if err != nil {
			slog.Error("Engine.HandleInbound: manager failed", "from", msg.From, "error", err)
			reply = nil
		}
		if reply == nil {
			reply = models.FallbackReply()
		}
		res.Reply = reply
		res.Text = e.render(ctx, reply)
		if sess.FlowRun != nil {
			r := *sess.FlowRun
			run = &r
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if res.Text != "" {
		if err := e.enqueueText(msg.From, res.Text, replyDedupeKey(msg.ID)); err != nil {
			return res, err
		}
	}
	if msg.ID != "" {
		if err := e.store.MarkProcessed(msg.ID); err != nil {
			slog.Warn("Engine.HandleInbound: mark processed failed", "messageID", msg.ID, "error", err)
		}
	}
	if run != nil {
		e.scheduleAbandon(msg.From, run)
	}
	return res, nil
}

func replyDedupeKey(messageID string) string {
	if messageID == "" {
		return ""
	}
	return "reply:" + messageID
}

// classify asks the classifier, then the fallback classifier. Failures
// degrade to an unknown intent.
func (e *Engine) classify(ctx context.Context, text string, sess *models.Session) models.Classification {
	cc := models.ClassifyContext{ActiveFlow: sess.CurrentFlow(), LastIntent: sess.LastIntent}
	for i, c := range []Classifier{e.classifier, e.fallback} {
		if c == nil {
			continue
		}
		cls, err := c.Classify(ctx, text, cc)
		if err != nil {
			slog.Warn("Engine.classify: classifier failed", "attempt", i, "customerID", sess.CustomerID, "error", err)
			continue
		}
		if cls.Intent == "" {
			cls.Intent = models.IntentUnknown
		}
		return cls
	}
	return models.Classification{Intent: models.IntentUnknown, Product: "unknown"}
}

// render turns a reply into the text to send. Tagged replies go through the
// renderer, then the fixed templates.
func (e *Engine) render(ctx context.Context, reply *models.Reply) string {
	switch {
	case reply.Silent:
		return ""
	case reply.Text != "":
		return reply.Text
	case reply.RenderTag == "":
		return models.FallbackReplyText
	}
	if e.renderer != nil {
		text, err := e.renderer.Render(ctx, reply.RenderTag, reply.Facts)
		if err == nil && text != "" {
			return text
		}
		slog.Warn("Engine.render: renderer failed, using template", "tag", reply.RenderTag, "error", err)
	}
	text, err := e.templates.Render(ctx, reply.RenderTag, reply.Facts)
	if err != nil {
		slog.Error("Engine.render: template failed", "tag", reply.RenderTag, "error", err)
		return models.FallbackReplyText
	}
	return text
}

func (e *Engine) enqueueText(to, body, dedupeKey string) error {
	payload, err := store.EncodeOutboxPayload(to, body)
	if err != nil {
		return err
	}
	if _, err := e.store.EnqueueOutboxMessage(to, store.OutboxKindReply, payload, dedupeKey); err != nil {
		slog.Error("Engine.enqueueText: outbox enqueue failed", "to", to, "error", err)
		return fmt.Errorf("enqueue reply for %s: %w", to, err)
	}
	return nil
}

// scheduleAbandon queues the idle timeout of a running lead script. Every
// answer moves UpdatedAt, so each turn schedules its own job and stale jobs
// find the run changed and do nothing.
func (e *Engine) scheduleAbandon(customerID string, run *models.FlowRun) {
	payload, err := json.Marshal(AbandonFlowRunPayload{CustomerID: customerID, RunID: run.ID, UpdatedAt: run.UpdatedAt})
	if err != nil {
		slog.Error("Engine.scheduleAbandon: encode payload", "runID", run.ID, "error", err)
		return
	}
	key := JobKindAbandonFlowRun + ":" + run.ID + ":" + strconv.FormatInt(run.UpdatedAt.UnixNano(), 10)
	if _, err := e.store.EnqueueJob(JobKindAbandonFlowRun, run.UpdatedAt.Add(e.runTimeout), string(payload), key); err != nil {
		slog.Error("Engine.scheduleAbandon: enqueue failed", "runID", run.ID, "error", err)
	}
}

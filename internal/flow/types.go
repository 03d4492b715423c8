// Package flow is the conversation orchestration engine.
//
// For every inbound message the Manager runs pending sub-dialogs, resolves
// the flow that owns the conversation, checks for product switches and
// use-case mismatches, and dispatches to a product flow handler, the
// data-described lead Executor, or the flow-agnostic intent Dispatcher.
// The Engine wraps the Manager with per-customer serialization, session
// persistence, classification, rendering and outbound delivery.
package flow

import (
	"context"
	"errors"

	"github.com/BTreeMap/SalesPipe/internal/entities"
	"github.com/BTreeMap/SalesPipe/internal/models"
)

// Sentinel errors.
var (
	// ErrDefinitionNotFound is returned when a flow definition key is unknown.
	ErrDefinitionNotFound = errors.New("flow definition not found")
	// ErrStepNotFound is returned when a definition references a missing step.
	ErrStepNotFound = errors.New("flow step not found")
	// ErrNoActiveRun is returned when advancing a session without a run.
	ErrNoActiveRun = errors.New("no active flow run")
)

// Classifier extracts intent, product and entities from customer text.
type Classifier interface {
	Classify(ctx context.Context, text string, cc models.ClassifyContext) (models.Classification, error)
}

// Renderer voices structured facts as customer-facing text.
type Renderer interface {
	Render(ctx context.Context, tag string, facts map[string]any) (string, error)
}

// Notifier alerts a human operator about a conversation.
type Notifier interface {
	Notify(ctx context.Context, conversationID, reason string) error
}

// LinkTracker wraps a destination URL in a tracked short link.
type LinkTracker interface {
	MakeTrackedLink(ctx context.Context, customerID, url string, meta map[string]string) (string, error)
}

// Turn is one inbound message with everything the manager needs to handle it.
type Turn struct {
	Text           string
	CustomerID     string
	Session        *models.Session
	Classification models.Classification
	Channel        models.ChannelContext
	Campaign       *models.CampaignContext
}

// HandlerContext is the bundle passed to a flow handler.
type HandlerContext struct {
	Score           models.IntentBucket
	Wholesale       bool
	TransferredFrom models.FlowType
	Classification  models.Classification
	Campaign        *models.CampaignContext
	Entities        entities.Entities
}

// Handler answers turns for one product flow. A nil reply means the handler
// had nothing to say and the dispatcher should try.
type Handler interface {
	Flow() models.FlowType
	Handle(ctx context.Context, t *Turn, hc HandlerContext) (*models.Reply, error)
}

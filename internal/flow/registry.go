package flow

import (
	"context"
	"sort"

	"github.com/BTreeMap/SalesPipe/internal/catalog"
	"github.com/BTreeMap/SalesPipe/internal/models"
)

// Registry holds the fixed set of flow handlers.
type Registry struct {
	handlers map[models.FlowType]Handler
}

// NewRegistry registers handlers by the flow they own. A later handler for
// the same flow replaces an earlier one.
func NewRegistry(handlers ...Handler) *Registry {
	r := &Registry{handlers: make(map[models.FlowType]Handler, len(handlers))}
	for _, h := range handlers {
		r.handlers[h.Flow()] = h
	}
	return r
}

// NewDefaultRegistry builds the product flows plus the default flow handler.
func NewDefaultRegistry(index *catalog.Index, opts ...Option) *Registry {
	handlers := []Handler{&DefaultFlow{}}
	for _, spec := range DefaultProductFlowSpecs() {
		handlers = append(handlers, NewProductFlow(spec, index, opts...))
	}
	return NewRegistry(handlers...)
}

// Get returns the handler for a flow.
func (r *Registry) Get(flow models.FlowType) (Handler, bool) {
	h, ok := r.handlers[flow.Normalize()]
	return h, ok
}

// Flows lists the registered flows in a stable order.
func (r *Registry) Flows() []models.FlowType {
	out := make([]models.FlowType, 0, len(r.handlers))
	for f := range r.handlers {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// opening returns the greeting plus first question of a flow, when its
// handler can produce one.
func (r *Registry) opening(flow models.FlowType, sess *models.Session) string {
	if h, ok := r.Get(flow); ok {
		if p, ok := h.(*ProductFlow); ok {
			return p.Opening(sess)
		}
	}
	return "¡Claro! ¿Qué medida necesitas?"
}

// question returns the pending question of a flow for the session, or "".
func (r *Registry) question(flow models.FlowType, sess *models.Session) string {
	if h, ok := r.Get(flow); ok {
		if p, ok := h.(*ProductFlow); ok {
			return p.Question(sess)
		}
	}
	return ""
}

// DefaultFlow answers while no product has been identified.
type DefaultFlow struct{}

var _ Handler = (*DefaultFlow)(nil)

const defaultIntro = "¡Hola! Manejamos malla sombra confeccionada, malla sombra en rollo, malla antimaleza y borde separador. ¿Qué producto te interesa y de qué medida?"

// Flow returns the default flow.
func (d *DefaultFlow) Flow() models.FlowType { return models.FlowDefault }

// Handle introduces the product lines. Dispatcher intents are left to the
// dispatcher.
func (d *DefaultFlow) Handle(_ context.Context, t *Turn, hc HandlerContext) (*models.Reply, error) {
	if isDispatcherIntent(hc.Classification.Intent) {
		return nil, nil
	}
	if hc.Entities.Dimensions != nil && hc.Entities.Dimensions.Bulk() {
		return &models.Reply{
			Text:    "Esa medida corresponde a un rollo de " + hc.Entities.Dimensions.String() + " m. ¿Buscas malla sombra en rollo o malla antimaleza?",
			Handler: string(models.FlowDefault),
		}, nil
	}
	t.Session.State = models.Idle()
	return &models.Reply{Text: defaultIntro, Handler: string(models.FlowDefault)}, nil
}

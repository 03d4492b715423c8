package flow

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/BTreeMap/SalesPipe/internal/catalog"
	"github.com/BTreeMap/SalesPipe/internal/entities"
	"github.com/BTreeMap/SalesPipe/internal/models"
)

// Render tags produced by product flows.
const (
	TagQuote        = "quote"
	TagNoExactMatch = "no_exact_match"
	TagWholesaleAck = "wholesale_ack"
)

// Terminal outcomes recorded in LastIntent as "<flow>_<outcome>".
const (
	outcomeQuoted       = "quoted"
	outcomeAwaitingCP   = "awaiting_postal_code"
	outcomeWholesale    = "wholesale"
	outcomeNoMatch      = "no_match"
	outcomeHandoff      = "handoff"
	outcomeCatalogError = "catalog_error"
)

// ProductFlowSpec parameterizes one product line's state machine.
type ProductFlowSpec struct {
	Flow        models.FlowType
	DisplayName string
	// Fields is the tuple that must be complete before a catalog lookup.
	Fields    []models.SpecField
	Greeting  string
	Questions map[models.SpecField]string
}

// DefaultProductFlowSpecs returns the specs for every product line.
func DefaultProductFlowSpecs() []ProductFlowSpec {
	return []ProductFlowSpec{
		{
			Flow:        models.FlowConfeccionada,
			DisplayName: models.FlowConfeccionada.DisplayName(),
			Fields:      []models.SpecField{models.FieldWidth, models.FieldLength},
			Greeting:    "¡Claro! La malla sombra confeccionada ya viene con ojillos y lista para instalar.",
			Questions: map[models.SpecField]string{
				models.FieldWidth:  "¿Qué medida necesitas? Dime ancho y largo en metros, por ejemplo 4x5.",
				models.FieldLength: "¿Y cuánto mide de largo el área?",
			},
		},
		{
			Flow:        models.FlowRollo,
			DisplayName: models.FlowRollo.DisplayName(),
			Fields:      []models.SpecField{models.FieldWidth, models.FieldPercentage},
			Greeting:    "¡Claro! Manejamos malla sombra en rollo de 100 metros.",
			Questions: map[models.SpecField]string{
				models.FieldWidth:      "¿Qué ancho de rollo buscas? Tenemos 2.10 m y 4.20 m.",
				models.FieldPercentage: "¿Qué porcentaje de sombra necesitas? Por ejemplo 80% o 90%.",
			},
		},
		{
			Flow:        models.FlowBorde,
			DisplayName: models.FlowBorde.DisplayName(),
			Fields:      []models.SpecField{models.FieldLength, models.FieldQuantity},
			Greeting:    "¡Claro! El borde separador sirve para delimitar jardines y arriates.",
			Questions: map[models.SpecField]string{
				models.FieldLength:   "¿Qué largo necesitas? Lo tenemos en 6 y 18 metros.",
				models.FieldQuantity: "¿Cuántas piezas necesitas?",
			},
		},
		{
			Flow:        models.FlowAntimaleza,
			DisplayName: models.FlowAntimaleza.DisplayName(),
			Fields:      []models.SpecField{models.FieldWidth, models.FieldLength},
			Greeting:    "¡Claro! La malla antimaleza evita que crezca hierba y deja pasar el agua.",
			Questions: map[models.SpecField]string{
				models.FieldWidth:  "¿Qué medida necesitas? Dime ancho y largo en metros, por ejemplo 2x10.",
				models.FieldLength: "¿Y de qué largo la necesitas?",
			},
		},
	}
}

// ProductFlow is the generic state machine shared by every product line.
type ProductFlow struct {
	spec  ProductFlowSpec
	index *catalog.Index
	links LinkTracker
	now   func() time.Time
}

var _ Handler = (*ProductFlow)(nil)

// NewProductFlow creates a product flow handler.
func NewProductFlow(spec ProductFlowSpec, index *catalog.Index, opts ...Option) *ProductFlow {
	o := resolveOpts(opts)
	return &ProductFlow{spec: spec, index: index, links: o.Links, now: o.Clock}
}

// Flow returns the flow this handler owns.
func (p *ProductFlow) Flow() models.FlowType { return p.spec.Flow }

// nextField returns the first field of the tuple that is still missing.
func (p *ProductFlow) nextField(specs models.ProductSpecs) (models.SpecField, bool) {
	for _, f := range p.spec.Fields {
		if !specs.Has(f) {
			return f, true
		}
	}
	return "", false
}

// Question returns the question for the next missing field, or "" when the
// tuple is complete.
func (p *ProductFlow) Question(sess *models.Session) string {
	if f, ok := p.nextField(sess.ProductSpecs); ok {
		return p.spec.Questions[f]
	}
	return ""
}

// Opening returns the greeting and first question used when a switch completes.
func (p *ProductFlow) Opening(sess *models.Session) string {
	return joinMessages(p.spec.Greeting, p.Question(sess))
}

// Handle advances the product state machine by one turn.
func (p *ProductFlow) Handle(ctx context.Context, t *Turn, hc HandlerContext) (*models.Reply, error) {
	sess := t.Session
	flow := p.spec.Flow

	if ph := sess.PendingHandoff(); ph != nil {
		if reply := p.completePendingHandoff(t, hc, ph); reply != nil {
			return reply, nil
		}
	}

	changed := p.merge(sess, t.Text, hc)
	if field, missing := p.nextField(sess.ProductSpecs); missing {
		asking := sess.State.Is(models.StateCollecting, flow)
		sess.State = models.Collecting(flow, field)
		question := p.spec.Questions[field]
		if hc.TransferredFrom != "" || (!asking && !changed) {
			question = joinMessages(p.spec.Greeting, question)
		}
		if asking && !changed && hc.Classification.Intent != "" && isDispatcherIntent(hc.Classification.Intent) {
			return nil, nil
		}
		return &models.Reply{Text: question, Handler: string(flow)}, nil
	}

	if !changed && hc.TransferredFrom == "" && isSettled(sess.State, flow) {
		return nil, nil
	}
	return p.quote(ctx, t, hc)
}

// isSettled reports whether the flow already reached a terminal state.
func isSettled(st models.ConversationState, flow models.FlowType) bool {
	if st.Flow != flow {
		return false
	}
	switch st.Kind {
	case models.StateQuoted, models.StateHandoff, models.StateWholesale, models.StateAwaitingPostalCode:
		return true
	}
	return false
}

// completePendingHandoff finishes an escalation waiting for a postal code.
// It returns nil when the turn should be handled normally.
func (p *ProductFlow) completePendingHandoff(t *Turn, hc HandlerContext, ph *models.Pending) *models.Reply {
	sess := t.Session
	loc, ok := entities.ParseLocation(t.Text)
	if !ok && hc.Classification.Entities.Location != "" {
		loc, ok = hc.Classification.Entities.Location, true
	}
	if ok {
		sess.ClearPending()
		sess.RequestHandoff(ph.Reason+" | Ubicación: "+loc, p.now())
		sess.LastIntent = string(p.spec.Flow) + "_" + outcomeHandoff
		return &models.Reply{
			Text:    "¡Gracias! Con tu ubicación un asesor te confirma el costo de envío y el total en unos minutos.",
			Handler: string(p.spec.Flow),
		}
	}
	if hc.Entities.Dimensions == nil && hc.Entities.Width == nil && hc.Entities.Length == nil &&
		hc.Entities.Percentage == nil && hc.Entities.Quantity == nil {
		if isDispatcherIntent(hc.Classification.Intent) {
			return nil
		}
		return &models.Reply{
			Text:    "Para cotizarte el envío, ¿me compartes tu código postal o tu ciudad?",
			Handler: string(p.spec.Flow),
		}
	}
	// New specs replace the pending quote.
	sess.ClearPending()
	return nil
}

// merge folds newly extracted entities into the session specs. It reports
// whether any tuple field, quantity or color changed.
func (p *ProductFlow) merge(sess *models.Session, text string, hc HandlerContext) bool {
	specs := &sess.ProductSpecs
	before := *specs
	ents := hc.Entities
	ce := hc.Classification.Entities

	wants := func(f models.SpecField) bool {
		for _, x := range p.spec.Fields {
			if x == f {
				return true
			}
		}
		return false
	}

	switch p.spec.Flow {
	case models.FlowRollo:
		if ents.Dimensions != nil {
			w := math.Min(ents.Dimensions.Width, ents.Dimensions.Length)
			specs.Width = &w
		} else if ents.Width != nil {
			specs.Width = ents.Width
		} else if ents.Length != nil && *ents.Length < entities.BulkLengthThreshold {
			// "rollo de 4.20 metros" names the roll width.
			specs.Width = ents.Length
		}
	case models.FlowBorde:
		if ents.Length != nil && ents.Dimensions == nil {
			specs.Length = ents.Length
		}
	default:
		if ents.Dimensions != nil {
			w, l := ents.Dimensions.Width, ents.Dimensions.Length
			specs.Width, specs.Length = &w, &l
		} else {
			if ents.Width != nil {
				specs.Width = ents.Width
			}
			if ents.Length != nil {
				specs.Length = ents.Length
			}
		}
		if ents.Dimensions == nil && ents.Width == nil && ents.Length == nil && ce.Width != nil && ce.Height != nil {
			w, l := *ce.Width, *ce.Height
			specs.Width, specs.Length = &w, &l
		}
	}
	if ents.Percentage != nil && wants(models.FieldPercentage) {
		specs.Percentage = ents.Percentage
	}
	if ents.Quantity != nil {
		specs.Quantity = ents.Quantity
	} else if ce.Quantity != nil && *ce.Quantity > 0 {
		specs.Quantity = ce.Quantity
	}
	if ents.Color != "" {
		specs.Color = ents.Color
	} else if ce.Color != "" {
		specs.Color = entities.Fold(ce.Color)
	}

	// A bare number answers the field being asked.
	if st := sess.State; st.Is(models.StateCollecting, p.spec.Flow) && before == *specs {
		if v, ok := entities.ParseBareNumber(text); ok {
			setField(specs, st.Field, v)
		}
	}
	return !sameSpecs(before, *specs)
}

func setField(specs *models.ProductSpecs, f models.SpecField, v float64) {
	switch f {
	case models.FieldWidth:
		specs.Width = &v
	case models.FieldLength:
		specs.Length = &v
	case models.FieldPercentage:
		n := int(math.Round(v))
		if n >= 10 && n <= 100 {
			specs.Percentage = &n
		}
	case models.FieldQuantity:
		n := int(math.Round(v))
		if n > 0 {
			specs.Quantity = &n
		}
	}
}

func sameSpecs(a, b models.ProductSpecs) bool {
	return eqF(a.Width, b.Width) && eqF(a.Length, b.Length) && eqI(a.Percentage, b.Percentage) &&
		eqI(a.Quantity, b.Quantity) && a.Color == b.Color
}

func eqF(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func eqI(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// quote runs the catalog lookup for a complete tuple and produces the
// terminal reply.
func (p *ProductFlow) quote(ctx context.Context, t *Turn, hc HandlerContext) (*models.Reply, error) {
	sess := t.Session
	flow := p.spec.Flow
	specs := sess.ProductSpecs
	sess.ProductInterest = string(flow)
	summary := p.describe(specs)

	snap, err := p.index.Get(ctx)
	if err != nil {
		slog.Error("ProductFlow.quote: catalog unavailable", "flow", flow, "customerID", sess.CustomerID, "error", err)
		p.settle(sess, outcomeCatalogError, models.StateHandoff)
		sess.RequestHandoff(fmt.Sprintf("Cotización %s sin catálogo: %s", p.spec.DisplayName, summary), p.now())
		reply := models.FallbackReply()
		reply.Handler = string(flow)
		return reply, nil
	}

	entry, found := snap.FindExact(flow, specs)
	if !found || (entry.PurchaseURL == "" && entry.Price <= 0) {
		return p.noMatch(snap, sess, summary), nil
	}

	qty := specs.QuantityOr(1)
	if entry.Wholesale || (entry.WholesaleMinQty > 0 && qty >= entry.WholesaleMinQty) {
		sess.RequestHandoff(fmt.Sprintf("Mayoreo %s: %s, %d piezas", p.spec.DisplayName, summary, qty), p.now())
		p.settle(sess, outcomeWholesale, models.StateWholesale)
		facts := map[string]any{
			"product":  entry.Name,
			"quantity": qty,
		}
		if entry.WholesalePrice > 0 {
			facts["wholesale_price"] = formatPrice(entry.WholesalePrice)
		}
		return &models.Reply{RenderTag: TagWholesaleAck, Facts: facts, Handler: string(flow)}, nil
	}

	if entry.PurchaseURL != "" {
		link := p.trackedLink(ctx, sess.CustomerID, entry)
		facts := map[string]any{
			"product": entry.Name,
			"price":   formatPrice(entry.Price),
			"link":    link,
			"size":    summary,
		}
		if entry.WholesaleMinQty > 0 && qty < entry.WholesaleMinQty && entry.WholesalePrice > 0 {
			facts["upsell"] = fmt.Sprintf("Desde %d piezas el precio baja a %s c/u.", entry.WholesaleMinQty, formatPrice(entry.WholesalePrice))
		}
		p.settle(sess, outcomeQuoted, models.StateQuoted)
		return &models.Reply{RenderTag: TagQuote, Facts: facts, Handler: string(flow)}, nil
	}

	reason := fmt.Sprintf("Cotización %s: %s a %s, falta envío", entry.Name, summary, formatPrice(entry.Price))
	p.settle(sess, outcomeAwaitingCP, models.StateAwaitingPostalCode)
	sess.SetPendingHandoff(reason, p.now())
	return &models.Reply{
		Text: fmt.Sprintf("La %s tiene un precio de %s. Para enviártela, ¿me compartes tu código postal?",
			strings.ToLower(entry.Name), formatPrice(entry.Price)),
		Handler: string(flow),
	}, nil
}

// noMatch offers the closest sizes and escalates with the full specs.
func (p *ProductFlow) noMatch(snap *catalog.Snapshot, sess *models.Session, summary string) *models.Reply {
	flow := p.spec.Flow
	alts := snap.Closest(flow, sess.ProductSpecs, 3)
	names := make([]string, 0, len(alts))
	for _, a := range alts {
		if a.Price > 0 {
			names = append(names, fmt.Sprintf("%s (%s)", a.Name, formatPrice(a.Price)))
		} else {
			names = append(names, a.Name)
		}
	}
	if len(names) > 0 {
		sess.IntentSignals.SizeRecommended = true
	}
	sess.RequestHandoff(fmt.Sprintf("Sin coincidencia %s: %s", p.spec.DisplayName, summary), p.now())
	p.settle(sess, outcomeNoMatch, models.StateHandoff)
	return &models.Reply{
		RenderTag: TagNoExactMatch,
		Facts: map[string]any{
			"product":      p.spec.DisplayName,
			"requested":    summary,
			"alternatives": names,
		},
		Handler: string(flow),
	}
}

// settle records a terminal outcome. RequestHandoff sets the handoff state,
// so the explicit state is applied after it.
func (p *ProductFlow) settle(sess *models.Session, outcome string, kind models.StateKind) {
	sess.ProductInterest = string(p.spec.Flow)
	sess.LastIntent = string(p.spec.Flow) + "_" + outcome
	sess.State = models.InFlow(kind, p.spec.Flow)
}

func (p *ProductFlow) trackedLink(ctx context.Context, customerID string, e models.CatalogEntry) string {
	if p.links == nil {
		return e.PurchaseURL
	}
	link, err := p.links.MakeTrackedLink(ctx, customerID, e.PurchaseURL, map[string]string{
		"product_id": e.ID,
		"flow":       string(p.spec.Flow),
	})
	if err != nil || link == "" {
		slog.Warn("ProductFlow.trackedLink: falling back to raw URL", "productID", e.ID, "error", err)
		return e.PurchaseURL
	}
	return link
}

// describe summarizes the specs for customers and operators.
func (p *ProductFlow) describe(s models.ProductSpecs) string {
	var parts []string
	switch p.spec.Flow {
	case models.FlowRollo:
		if s.Width != nil {
			parts = append(parts, "ancho "+formatMeters(*s.Width))
		}
		if s.Percentage != nil {
			parts = append(parts, strconv.Itoa(*s.Percentage)+"% sombra")
		}
	case models.FlowBorde:
		if s.Length != nil {
			parts = append(parts, "largo "+formatMeters(*s.Length))
		}
	default:
		if s.Width != nil && s.Length != nil {
			parts = append(parts, entities.Dimensions{Width: *s.Width, Length: *s.Length}.String()+" m")
		}
		if s.Percentage != nil {
			parts = append(parts, strconv.Itoa(*s.Percentage)+"% sombra")
		}
	}
	if s.Quantity != nil {
		parts = append(parts, strconv.Itoa(*s.Quantity)+" pzas")
	}
	if s.Color != "" {
		parts = append(parts, "color "+s.Color)
	}
	return strings.Join(parts, ", ")
}

func formatMeters(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64) + " m"
}

// pricePrinter groups digits the way Mexican prices are written: "," for
// thousands and "." for cents, the English convention.
var pricePrinter = message.NewPrinter(language.English)

// formatPrice renders pesos with thousands separators, e.g. "$6,900". Cents
// are shown only when the rounded amount has them.
func formatPrice(v float64) string {
	cents := int64(math.Round(v * 100))
	if cents%100 == 0 {
		return pricePrinter.Sprintf("$%d", cents/100)
	}
	return pricePrinter.Sprintf("$%.2f", float64(cents)/100)
}

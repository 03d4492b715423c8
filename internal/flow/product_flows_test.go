package flow

import (
	"context"
	"strings"
	"testing"

	"github.com/BTreeMap/SalesPipe/internal/catalog"
	"github.com/BTreeMap/SalesPipe/internal/entities"
	"github.com/BTreeMap/SalesPipe/internal/models"
)

func productFlowFor(t *testing.T, index *catalog.Index, flow models.FlowType) *ProductFlow {
	t.Helper()
	for _, spec := range DefaultProductFlowSpecs() {
		if spec.Flow == flow {
			return NewProductFlow(spec, index, WithClock(newTestClock().Now), WithLinkTracker(stubLinks{}))
		}
	}
	t.Fatalf("no product flow spec for %q", flow)
	return nil
}

// step runs one message straight through a product flow handler.
func step(t *testing.T, p *ProductFlow, sess *models.Session, text string) *models.Reply {
	t.Helper()
	reply, err := p.Handle(context.Background(), &Turn{Text: text, CustomerID: sess.CustomerID, Session: sess},
		HandlerContext{Entities: entities.Extract(text)})
	if err != nil {
		t.Fatalf("Handle(%q) error = %v", text, err)
	}
	return reply
}

func TestFormatPrice(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{649, "$649"},
		{6900, "$6,900"},
		{1290.5, "$1,290.50"},
		{1234567, "$1,234,567"},
		{0, "$0"},
		{1299.999, "$1,300"},
		{12.3456, "$12.35"},
		{1499.9, "$1,499.90"},
	}
	for _, tt := range tests {
		if got := formatPrice(tt.in); got != tt.want {
			t.Errorf("formatPrice(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestProductFlowRolloCollectsWidthThenPercentage(t *testing.T) {
	p := productFlowFor(t, catalog.NewIndex(seededStore(t)), models.FlowRollo)
	sess := newSession(models.FlowRollo)

	reply := step(t, p, sess, "quiero un rollo")
	if reply == nil || !strings.Contains(reply.Text, "2.10 m y 4.20 m") || !strings.HasPrefix(reply.Text, "¡Claro!") {
		t.Fatalf("first reply = %+v, want greeting plus width question", reply)
	}
	if !sess.State.Is(models.StateCollecting, models.FlowRollo) || sess.State.Field != models.FieldWidth {
		t.Fatalf("state = %+v, want collecting width", sess.State)
	}

	reply = step(t, p, sess, "4.20")
	if reply == nil || !strings.Contains(reply.Text, "porcentaje") {
		t.Fatalf("second reply = %+v, want percentage question", reply)
	}
	if strings.HasPrefix(reply.Text, "¡Claro!") {
		t.Errorf("follow-up question repeated the greeting: %q", reply.Text)
	}
	if sess.ProductSpecs.Width == nil || *sess.ProductSpecs.Width != 4.2 {
		t.Fatalf("width = %v, want 4.2", sess.ProductSpecs.Width)
	}

	reply = step(t, p, sess, "90")
	if reply == nil || reply.RenderTag != TagQuote {
		t.Fatalf("third reply = %+v, want quote", reply)
	}
	if got := reply.Facts["price"]; got != "$6,900" {
		t.Errorf("price = %v, want $6,900", got)
	}
	if got := reply.Facts["link"]; got != "https://l.test/rollo-420-90" {
		t.Errorf("link = %v", got)
	}
	if got := reply.Facts["upsell"]; got != "Desde 5 piezas el precio baja a $6,200 c/u." {
		t.Errorf("upsell = %v", got)
	}
	if !sess.State.Is(models.StateQuoted, models.FlowRollo) || sess.LastIntent != "rollo_quoted" {
		t.Errorf("state = %+v lastIntent = %q", sess.State, sess.LastIntent)
	}

	// Nothing new after a settled quote leaves the turn to the dispatcher.
	if reply := step(t, p, sess, "ok gracias"); reply != nil {
		t.Errorf("settled flow answered %+v, want nil", reply)
	}
}

func TestProductFlowRolloLengthNamesWidth(t *testing.T) {
	p := productFlowFor(t, catalog.NewIndex(seededStore(t)), models.FlowRollo)
	sess := newSession(models.FlowRollo)
	reply := step(t, p, sess, "un rollo de 4.20 metros")
	if sess.ProductSpecs.Width == nil || *sess.ProductSpecs.Width != 4.2 {
		t.Fatalf("width = %v, want 4.2", sess.ProductSpecs.Width)
	}
	if reply == nil || !strings.Contains(reply.Text, "porcentaje") {
		t.Errorf("reply = %+v, want percentage question", reply)
	}
}

func TestProductFlowWholesaleQuantity(t *testing.T) {
	p := productFlowFor(t, catalog.NewIndex(seededStore(t)), models.FlowConfeccionada)
	sess := newSession(models.FlowConfeccionada)

	reply := step(t, p, sess, "10 piezas de 4x5")
	if reply == nil || reply.RenderTag != TagWholesaleAck {
		t.Fatalf("reply = %+v, want wholesale ack", reply)
	}
	if reply.Facts["quantity"] != 10 || reply.Facts["wholesale_price"] != "$559" {
		t.Errorf("facts = %v", reply.Facts)
	}
	if !sess.Handoff.Requested || sess.State.Kind != models.StateWholesale {
		t.Errorf("handoff = %+v state = %+v, want wholesale handoff", sess.Handoff, sess.State)
	}
	if sess.LastIntent != "confeccionada_wholesale" {
		t.Errorf("lastIntent = %q", sess.LastIntent)
	}
}

func TestProductFlowWholesaleOnlyEntry(t *testing.T) {
	p := productFlowFor(t, catalog.NewIndex(seededStore(t)), models.FlowBorde)
	sess := newSession(models.FlowBorde)

	reply := step(t, p, sess, "54 metros")
	if reply == nil || !strings.Contains(reply.Text, "piezas") {
		t.Fatalf("reply = %+v, want quantity question", reply)
	}
	reply = step(t, p, sess, "2")
	if reply == nil || reply.RenderTag != TagWholesaleAck {
		t.Fatalf("reply = %+v, want wholesale ack", reply)
	}
	if _, ok := reply.Facts["wholesale_price"]; ok {
		t.Errorf("facts carry a wholesale price for an entry without one: %v", reply.Facts)
	}
}

func TestProductFlowNoExactMatch(t *testing.T) {
	p := productFlowFor(t, catalog.NewIndex(seededStore(t)), models.FlowConfeccionada)
	sess := newSession(models.FlowConfeccionada)

	reply := step(t, p, sess, "la necesito de 7x9")
	if reply == nil || reply.RenderTag != TagNoExactMatch {
		t.Fatalf("reply = %+v, want no_exact_match", reply)
	}
	alts, _ := reply.Facts["alternatives"].([]string)
	if len(alts) != 3 || alts[0] != "Malla sombra confeccionada 6x8 m 90% ($1,290)" {
		t.Errorf("alternatives = %v", alts)
	}
	if reply.Facts["requested"] != "7x9 m" {
		t.Errorf("requested = %v", reply.Facts["requested"])
	}
	if !sess.IntentSignals.SizeRecommended {
		t.Error("SizeRecommended not set after offering alternatives")
	}
	if !sess.Handoff.Requested || !strings.Contains(sess.Handoff.Reason, "7x9") {
		t.Errorf("handoff = %+v, want reason with the requested size", sess.Handoff)
	}
	if sess.LastIntent != "confeccionada_no_match" {
		t.Errorf("lastIntent = %q", sess.LastIntent)
	}
}

func TestProductFlowPendingHandoff(t *testing.T) {
	p := productFlowFor(t, catalog.NewIndex(seededStore(t)), models.FlowConfeccionada)
	sess := newSession(models.FlowConfeccionada)

	reply := step(t, p, sess, "5x5")
	if reply == nil || !strings.Contains(reply.Text, "$799") || sess.PendingHandoff() == nil {
		t.Fatalf("reply = %+v pending = %+v, want price and pending handoff", reply, sess.Pending)
	}

	reply = step(t, p, sess, "mañana te digo")
	if reply == nil || !strings.Contains(reply.Text, "código postal") || sess.PendingHandoff() == nil {
		t.Fatalf("reply = %+v, want postal code reprompt with pending kept", reply)
	}

	reply = step(t, p, sess, "mejor de 4x5")
	if reply == nil || reply.RenderTag != TagQuote {
		t.Fatalf("reply = %+v, want fresh quote", reply)
	}
	if sess.Pending != nil {
		t.Errorf("pending = %+v, want cleared by new specs", sess.Pending)
	}
}

func TestProductFlowPendingHandoffLocation(t *testing.T) {
	p := productFlowFor(t, catalog.NewIndex(seededStore(t)), models.FlowConfeccionada)
	sess := newSession(models.FlowConfeccionada)
	step(t, p, sess, "5x5")

	reply := step(t, p, sess, "vivo en Guadalajara")
	if reply == nil || !strings.Contains(reply.Text, "asesor") {
		t.Fatalf("reply = %+v", reply)
	}
	if sess.Pending != nil || !sess.Handoff.Requested {
		t.Fatalf("pending = %+v handoff = %+v", sess.Pending, sess.Handoff)
	}
	if !strings.HasSuffix(sess.Handoff.Reason, "Ubicación: guadalajara") {
		t.Errorf("reason = %q", sess.Handoff.Reason)
	}
	if sess.LastIntent != "confeccionada_handoff" {
		t.Errorf("lastIntent = %q", sess.LastIntent)
	}
}

func TestProductFlowCatalogUnavailable(t *testing.T) {
	p := productFlowFor(t, catalog.NewIndex(failingSource{}), models.FlowConfeccionada)
	sess := newSession(models.FlowConfeccionada)

	reply := step(t, p, sess, "4x5")
	if reply == nil || reply.Text != models.FallbackReplyText {
		t.Fatalf("reply = %+v, want fallback", reply)
	}
	if !sess.Handoff.Requested || sess.LastIntent != "confeccionada_catalog_error" {
		t.Errorf("handoff = %+v lastIntent = %q", sess.Handoff, sess.LastIntent)
	}
}

func TestProductFlowDescribe(t *testing.T) {
	w, l, pct, qty := 4.2, 100.0, 90, 3
	tests := []struct {
		flow  models.FlowType
		specs models.ProductSpecs
		want  string
	}{
		{models.FlowRollo, models.ProductSpecs{Width: &w, Percentage: &pct}, "ancho 4.2 m, 90% sombra"},
		{models.FlowBorde, models.ProductSpecs{Length: &l, Quantity: &qty}, "largo 100 m, 3 pzas"},
		{models.FlowConfeccionada, models.ProductSpecs{Width: &w, Length: &l, Color: "negro"}, "4.2x100 m, color negro"},
	}
	index := catalog.NewIndex(seededStore(t))
	for _, tt := range tests {
		p := productFlowFor(t, index, tt.flow)
		if got := p.describe(tt.specs); got != tt.want {
			t.Errorf("describe(%s) = %q, want %q", tt.flow, got, tt.want)
		}
	}
}

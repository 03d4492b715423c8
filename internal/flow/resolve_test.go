package flow

import (
	"context"
	"testing"

	"github.com/BTreeMap/SalesPipe/internal/entities"
	"github.com/BTreeMap/SalesPipe/internal/models"
)

func TestResolveFlowChain(t *testing.T) {
	f := newManagerFixture(t)
	w, h := 10.0, 2.0
	tests := []struct {
		name     string
		pinned   models.FlowType
		interest string
		text     string
		channel  models.ChannelContext
		cls      models.Classification
		want     models.FlowType
		wantVia  string
	}{
		{name: "pinned flow wins", pinned: models.FlowRollo, text: "malla confeccionada", want: models.FlowRollo, wantVia: "pinned"},
		{name: "ad flow alias", text: "hola", channel: models.ChannelContext{AdFlowRef: "Borde-Separador"}, want: models.FlowBorde, wantVia: "ad_flow_ref"},
		{name: "ad product table", text: "hola", channel: models.ChannelContext{AdProductID: "ms-rollo"}, want: models.FlowRollo, wantVia: "ad_product"},
		{name: "ad product catalog id", text: "hola", channel: models.ChannelContext{AdProductID: "am-2x10"}, want: models.FlowAntimaleza, wantVia: "ad_product"},
		{name: "classifier product", text: "info", cls: models.Classification{Product: "Antimaleza"}, want: models.FlowAntimaleza, wantVia: "classifier"},
		{name: "product interest prefix", interest: "malla_sombra_rollo", text: "info", want: models.FlowRollo, wantVia: "product_interest"},
		{name: "product interest family", interest: "malla_sombra", text: "info", want: models.FlowConfeccionada, wantVia: "product_interest"},
		{name: "keyword", text: "busco malla antimaleza", want: models.FlowAntimaleza, wantVia: "keyword"},
		{name: "rollo keyword yields to confeccionada", text: "rollo de malla confeccionada", want: models.FlowConfeccionada, wantVia: "keyword"},
		{name: "catalog alias", text: "una orilla para jardin", want: models.FlowBorde, wantVia: "alias"},
		{name: "dimension pair", text: "necesito 4x5", want: models.FlowConfeccionada, wantVia: "dimensions"},
		{name: "dimension pair reversed", text: "necesito 10x2", want: models.FlowAntimaleza, wantVia: "dimensions"},
		{name: "unclaimed size", text: "de 7x7", want: models.FlowConfeccionada, wantVia: "dimensions_unclaimed"},
		{name: "classifier dimensions", text: "medidas", cls: models.Classification{Entities: models.ClassifiedEntities{Width: &w, Height: &h}}, want: models.FlowAntimaleza, wantVia: "dimensions"},
		{name: "bulk dimensions stay default", text: "4.20x100", want: models.FlowDefault, wantVia: "default"},
		{name: "nothing", text: "hola buenas", want: models.FlowDefault, wantVia: "default"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess := newSession(tt.pinned)
			if tt.interest != "" {
				sess.ProductInterest = tt.interest
			}
			turn := &Turn{Text: tt.text, CustomerID: sess.CustomerID, Session: sess, Classification: tt.cls, Channel: tt.channel}
			got, via := f.manager.resolveFlow(context.Background(), turn, entities.Extract(tt.text))
			if got != tt.want || via != tt.wantVia {
				t.Errorf("resolveFlow(%q) = %q via %q, want %q via %q", tt.text, got, via, tt.want, tt.wantVia)
			}
		})
	}
}

func TestResolveFlowOrientationInvariant(t *testing.T) {
	f := newManagerFixture(t)
	pairs := [][2]string{{"4x5", "5x4"}, {"2x10", "10x2"}, {"3x4", "4x3"}, {"7x9", "9x7"}}
	for _, p := range pairs {
		var got [2]models.FlowType
		for i, text := range p {
			sess := newSession("")
			got[i], _ = f.manager.resolveFlow(context.Background(), &Turn{Text: text, Session: sess}, entities.Extract(text))
		}
		if got[0] != got[1] {
			t.Errorf("resolveFlow(%s) = %q but resolveFlow(%s) = %q", p[0], got[0], p[1], got[1])
		}
	}
}

func TestMatchKeywordFlow(t *testing.T) {
	tests := []struct {
		text         string
		specificOnly bool
		want         models.FlowType
		wantOK       bool
	}{
		{"tienen malla antimaleza?", false, models.FlowAntimaleza, true},
		{"quiero borde separador", false, models.FlowBorde, true},
		{"malla sombra con borde reforzado", false, models.FlowConfeccionada, true},
		{"precio del rollo", false, models.FlowRollo, true},
		{"rollo de malla confeccionada", false, models.FlowConfeccionada, true},
		{"una malla sombra", false, models.FlowConfeccionada, true},
		{"una malla sombra", true, "", false},
		{"malla sombra en rollo", false, models.FlowRollo, true},
		{"hola", false, "", false},
	}
	for _, tt := range tests {
		got, ok := matchKeywordFlow(tt.text, tt.specificOnly)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("matchKeywordFlow(%q, %v) = %q, %v; want %q, %v", tt.text, tt.specificOnly, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestFlowFromInterest(t *testing.T) {
	tests := []struct {
		in     string
		want   models.FlowType
		wantOK bool
	}{
		{"rollo", models.FlowRollo, true},
		{"Malla Sombra", models.FlowConfeccionada, true},
		{"malla_sombra_antimaleza", models.FlowAntimaleza, true},
		{"lona", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := flowFromInterest(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("flowFromInterest(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestWholesaleChoiceLean(t *testing.T) {
	tests := []struct {
		text              string
		retail, wholesale bool
	}{
		{"al menudeo", true, false},
		{"solo una pieza", true, false},
		{"es para mi casa", true, false},
		{"al mayoreo", false, true},
		{"soy distribuidor", false, true},
		{"menudeo o mayoreo", false, true},
		{"muchas gracias", false, false},
		{"tengo una duda, cuánto tarda el envío?", false, false},
		{"uno nada más para mí", false, false},
		{"varios colores?", false, false},
		{"tengo un negocio de jardinería", false, false},
	}
	for _, tt := range tests {
		if got := leanRetail(tt.text); got != tt.retail {
			t.Errorf("leanRetail(%q) = %v, want %v", tt.text, got, tt.retail)
		}
		if got := leanWholesale(tt.text); got != tt.wholesale {
			t.Errorf("leanWholesale(%q) = %v, want %v", tt.text, got, tt.wholesale)
		}
	}
}

func TestReplyClassifiers(t *testing.T) {
	if !leanRetail("al menudeo, solo una") || leanRetail("menudeo o mayoreo") {
		t.Error("leanRetail misclassified")
	}
	if !leanWholesale("para revender") || leanWholesale("para mi casa") {
		t.Error("leanWholesale misclassified")
	}
	if !isWholesaleInquiry("¿manejan precio de mayoreo?") || isWholesaleInquiry("cuánto cuesta") {
		t.Error("isWholesaleInquiry misclassified")
	}
	for _, text := range []string{"cancelar", "Salir.", "ya no"} {
		if !isCancel(text) {
			t.Errorf("isCancel(%q) = false", text)
		}
	}
	if isCancel("ya no quiero esperar tanto el envío") {
		t.Error("isCancel matched a longer sentence")
	}
	if name, ok := matchUnsold("¿venden pasto sintético?"); !ok || name != "pasto sintético" {
		t.Errorf("matchUnsold() = %q, %v", name, ok)
	}
}

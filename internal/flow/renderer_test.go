package flow

import (
	"context"
	"errors"
	"testing"
)

func TestTemplateRenderer(t *testing.T) {
	tests := []struct {
		name  string
		tag   string
		facts map[string]any
		want  string
	}{
		{
			name: "quote with upsell",
			tag:  TagQuote,
			facts: map[string]any{
				"product": "Malla sombra confeccionada 4x5 m 90%",
				"size":    "4x5 m",
				"price":   "$649",
				"link":    "https://l.test/conf-4x5",
				"upsell":  "Desde 10 piezas el precio baja a $559 c/u.",
			},
			want: "¡Listo! La Malla sombra confeccionada 4x5 m 90% de 4x5 m cuesta $649. Puedes comprarla aquí: https://l.test/conf-4x5\nDesde 10 piezas el precio baja a $559 c/u.",
		},
		{
			name:  "no exact match",
			tag:   TagNoExactMatch,
			facts: map[string]any{"product": "Malla antimaleza", "requested": "3x7 m", "alternatives": []string{"2x10 m", "4x10 m"}},
			want:  "No tenemos Malla antimaleza exactamente de 3x7 m. Las medidas más cercanas son: 2x10 m, 4x10 m. Ya le pasé tu solicitud a un asesor para que te cotice la medida exacta.",
		},
		{
			name:  "no exact match without alternatives",
			tag:   TagNoExactMatch,
			facts: map[string]any{"product": "Borde separador", "requested": "largo 40 m"},
			want:  "No tenemos Borde separador exactamente de largo 40 m. Ya le pasé tu solicitud a un asesor para que te cotice la medida exacta.",
		},
		{
			name:  "wholesale ack",
			tag:   TagWholesaleAck,
			facts: map[string]any{"product": "Borde separador 6 m", "quantity": 40, "wholesale_price": "$159"},
			want:  "¡Excelente! Por 40 piezas de Borde separador 6 m te toca precio de mayoreo desde $159 c/u. Un asesor te confirma disponibilidad y envío en breve.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := TemplateRenderer{}.Render(context.Background(), tt.tag, tt.facts)
			if err != nil {
				t.Fatalf("Render() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Render() =\n%q\nwant\n%q", got, tt.want)
			}
		})
	}
}

func TestTemplateRendererUnknownTag(t *testing.T) {
	_, err := TemplateRenderer{}.Render(context.Background(), "greeting", nil)
	if !errors.Is(err, ErrUnknownRenderTag) {
		t.Fatalf("Render() error = %v, want ErrUnknownRenderTag", err)
	}
}

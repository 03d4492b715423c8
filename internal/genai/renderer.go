package genai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// ErrFactsDropped is returned when a rendered reply leaves out a price or a
// link it was given.
var ErrFactsDropped = errors.New("rendered reply dropped facts")

// verbatimFacts must appear unchanged in every rendered reply.
var verbatimFacts = []string{"price", "link", "wholesale_price"}

const rendererSystemPrompt = `Eres el asistente de ventas por WhatsApp de una tienda mexicana de malla sombra.
Redacta UNA respuesta breve y amable en español de México (máximo 3 oraciones) para el cliente.
Recibes una etiqueta de situación y un objeto JSON de hechos. Usa sólo esos hechos.
Copia precios y ligas EXACTAMENTE como vienen, sin cambiarlos ni redondearlos.
No inventes medidas, precios, existencias ni tiempos de entrega.
Etiquetas:
- quote: cotización de un producto con su precio y liga de compra; menciona "upsell" si viene.
- no_exact_match: no hay la medida pedida; ofrece "alternatives" y avisa que un asesor dará seguimiento.
- wholesale_ack: pedido de mayoreo; menciona "wholesale_price" si viene y que un asesor confirmará.`

// Renderer voices tagged replies with the model. Output that loses a price or
// link is rejected so the caller can fall back to fixed templates.
type Renderer struct {
	client ClientInterface
}

// NewRenderer creates a renderer on top of a GenAI client.
func NewRenderer(client ClientInterface) *Renderer {
	return &Renderer{client: client}
}

// Render asks the model to voice facts for tag.
func (r *Renderer) Render(ctx context.Context, tag string, facts map[string]any) (string, error) {
	payload, err := json.Marshal(struct {
		Tag   string         `json:"tag"`
		Facts map[string]any `json:"facts"`
	}{Tag: tag, Facts: facts})
	if err != nil {
		return "", fmt.Errorf("encode render request: %w", err)
	}
	text, err := r.client.GeneratePromptWithContext(ctx, rendererSystemPrompt, string(payload))
	if err != nil {
		return "", fmt.Errorf("render %s: %w", tag, err)
	}
	if text == "" {
		return "", fmt.Errorf("render %s: %w", tag, ErrNoChoicesReturned)
	}
	if missing := missingFacts(text, facts); len(missing) > 0 {
		slog.Warn("Renderer.Render: reply dropped facts", "tag", tag, "missing", missing)
		return "", fmt.Errorf("%w: %s", ErrFactsDropped, strings.Join(missing, ", "))
	}
	return text, nil
}

func missingFacts(text string, facts map[string]any) []string {
	var missing []string
	for _, key := range verbatimFacts {
		v, ok := facts[key].(string)
		if !ok || v == "" {
			continue
		}
		if !strings.Contains(text, v) {
			missing = append(missing, key)
		}
	}
	return missing
}

package genai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/SalesPipe/internal/models"
)

// ErrInvalidClassification is returned when the model answer is not a
// classification object.
var ErrInvalidClassification = errors.New("invalid classification")

const classifierSystemPrompt = `Eres el clasificador de mensajes de WhatsApp de una tienda mexicana de malla sombra.
Responde SOLO con un objeto JSON con estas claves:
  "intent": uno de greeting, thanks, goodbye, opt_out, human_request, shipping, payment, location, hours, spam, price_query, size_query, product_info, wholesale, unknown
  "product": uno de rollo, antimaleza, borde, confeccionada, unknown
  "entities": {"width": número o null, "height": número o null, "quantity": entero o null, "location": texto o "", "color": texto o ""}
  "confidence": número entre 0 y 1
Reglas:
- "rollo" es malla sombra por rollo o por metro lineal; "confeccionada" es una pieza terminada con ojillos.
- "borde" es borde separador de jardín; "antimaleza" es malla ground cover.
- Si el mensaje sólo dice "malla sombra" sin más detalle, product es "unknown".
- Medidas como "4x5" van en width y height, en metros.
- No inventes datos que el mensaje no diga.`

var knownIntents = map[string]bool{
	models.IntentUnknown: true, models.IntentGreeting: true, models.IntentThanks: true,
	models.IntentGoodbye: true, models.IntentOptOut: true, models.IntentHumanRequest: true,
	models.IntentShipping: true, models.IntentPayment: true, models.IntentLocation: true,
	models.IntentHours: true, models.IntentSpam: true, models.IntentPriceQuery: true,
	models.IntentSizeQuery: true, models.IntentProductInfo: true, models.IntentWholesale: true,
}

// classifierAnswer mirrors the JSON object the model is asked to produce.
type classifierAnswer struct {
	Intent   string `json:"intent"`
	Product  string `json:"product"`
	Entities struct {
		Width    *float64 `json:"width"`
		Height   *float64 `json:"height"`
		Quantity *float64 `json:"quantity"`
		Location string   `json:"location"`
		Color    string   `json:"color"`
	} `json:"entities"`
	Confidence float64 `json:"confidence"`
}

// Classifier tags customer messages with an intent and product using the
// model in JSON mode.
type Classifier struct {
	client ClientInterface
}

// NewClassifier creates a classifier on top of a GenAI client.
func NewClassifier(client ClientInterface) *Classifier {
	return &Classifier{client: client}
}

// Classify asks the model for a classification. Unrecognised intents and
// products come back as unknown; an answer that is not JSON is an error so
// the caller can fall back to another classifier.
func (c *Classifier) Classify(ctx context.Context, text string, cc models.ClassifyContext) (models.Classification, error) {
	user, err := json.Marshal(struct {
		Message    string `json:"message"`
		ActiveFlow string `json:"active_flow,omitempty"`
		LastIntent string `json:"last_intent,omitempty"`
	}{Message: text, ActiveFlow: string(cc.ActiveFlow), LastIntent: cc.LastIntent})
	if err != nil {
		return models.Classification{}, fmt.Errorf("encode classify request: %w", err)
	}
	raw, err := c.client.GenerateJSON(ctx, classifierSystemPrompt, string(user))
	if err != nil {
		return models.Classification{}, fmt.Errorf("classify: %w", err)
	}
	cls, err := parseClassification(raw)
	if err != nil {
		slog.Warn("Classifier.Classify: unusable answer", "answer", raw, "error", err)
		return models.Classification{}, err
	}
	slog.Debug("Classifier.Classify: classified", "intent", cls.Intent, "product", cls.Product, "confidence", cls.Confidence)
	return cls, nil
}

func parseClassification(raw string) (models.Classification, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.Trim(raw, "`\n ")
	var a classifierAnswer
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		return models.Classification{}, fmt.Errorf("%w: %v", ErrInvalidClassification, err)
	}

	cls := models.Classification{
		Intent:     strings.ToLower(strings.TrimSpace(a.Intent)),
		Product:    strings.ToLower(strings.TrimSpace(a.Product)),
		Confidence: a.Confidence,
	}
	if !knownIntents[cls.Intent] {
		cls.Intent = models.IntentUnknown
	}
	if !models.FlowType(cls.Product).IsProduct() {
		cls.Product = "unknown"
	}
	switch {
	case cls.Confidence < 0:
		cls.Confidence = 0
	case cls.Confidence > 1:
		cls.Confidence = 1
	}

	cls.Entities.Width = positive(a.Entities.Width)
	cls.Entities.Height = positive(a.Entities.Height)
	if q := positive(a.Entities.Quantity); q != nil && *q == float64(int(*q)) {
		n := int(*q)
		cls.Entities.Quantity = &n
	}
	cls.Entities.Location = strings.TrimSpace(a.Entities.Location)
	cls.Entities.Color = strings.ToLower(strings.TrimSpace(a.Entities.Color))
	return cls, nil
}

func positive(v *float64) *float64 {
	if v == nil || *v <= 0 {
		return nil
	}
	out := *v
	return &out
}

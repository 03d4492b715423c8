package genai

import (
	"context"
	"regexp"

	"github.com/BTreeMap/SalesPipe/internal/entities"
	"github.com/BTreeMap/SalesPipe/internal/models"
)

// intentRule tags folded text with an intent. Rules are checked in order.
type intentRule struct {
	intent  string
	pattern *regexp.Regexp
}

var intentRules = []intentRule{
	{models.IntentSpam, regexp.MustCompile(`\b(bitcoin|criptomoneda|gana dinero|inversion garantizada|prestamos? inmediatos?)\b`)},
	{models.IntentOptOut, regexp.MustCompile(`\b(no me interesa|ya no me (?:escriban|manden)|dejen de (?:escribir|mandar)|darme de baja|stop)\b`)},
	{models.IntentHumanRequest, regexp.MustCompile(`\b(asesor|asesora|humano|una persona|hablar con alguien|ejecutivo|vendedor|llamenme|marquenme)\b`)},
	{models.IntentWholesale, regexp.MustCompile(`\b(mayoreo|al por mayor|distribuidor(?:a|es)?|revender|reventa)\b`)},
	{models.IntentPriceQuery, regexp.MustCompile(`\b(precios?|cuanto (?:cuesta|cuestan|sale|salen|es|seria)|costos?|cotiza\w*|que valor)\b`)},
	{models.IntentShipping, regexp.MustCompile(`\b(envios?|envian|mandan|paqueteria|entrega|llega a)\b`)},
	{models.IntentPayment, regexp.MustCompile(`\b(pagos?|pagar|tarjeta|transferencia|deposito|oxxo|meses sin intereses)\b`)},
	{models.IntentLocation, regexp.MustCompile(`\b(donde (?:estan|se ubican|quedan)|ubicacion|direccion|sucursal|tienda fisica)\b`)},
	{models.IntentHours, regexp.MustCompile(`\b(horarios?|a que hora|abren|cierran)\b`)},
	{models.IntentSizeQuery, regexp.MustCompile(`\b(medidas?|tamanos?|que tamano|ancho|largo)\b`)},
	{models.IntentGoodbye, regexp.MustCompile(`\b(adios|hasta luego|bye|nos vemos|hasta pronto)\b`)},
	{models.IntentThanks, regexp.MustCompile(`\b(gracias|muchas gracias|se agradece)\b`)},
	{models.IntentGreeting, regexp.MustCompile(`^(hola|buenas|buen dia|buenos dias|buenas tardes|buenas noches|que tal|hey)\b`)},
}

// productRules names a product line in folded text. The generic "malla
// sombra" mention is left unknown.
var productRules = []struct {
	flow    models.FlowType
	pattern *regexp.Regexp
}{
	{models.FlowAntimaleza, regexp.MustCompile(`\b(anti ?maleza|antihierba|ground ?cover)\b`)},
	{models.FlowBorde, regexp.MustCompile(`\b(borde separador|bordes? de jardin|separador(?:es)?)\b`)},
	{models.FlowRollo, regexp.MustCompile(`\b(rollos?|bobinas?|metro lineal)\b`)},
	{models.FlowConfeccionada, regexp.MustCompile(`\b(confeccionad[ao]s?|ojillos|toldos?)\b`)},
}

// KeywordClassifier is the offline classifier: keyword rules for the intent,
// the entity parsers for numbers. It never fails.
type KeywordClassifier struct{}

// NewKeywordClassifier creates the keyword classifier.
func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{}
}

// Classify tags text by keyword.
func (KeywordClassifier) Classify(_ context.Context, text string, _ models.ClassifyContext) (models.Classification, error) {
	folded := entities.Fold(text)
	ents := entities.Extract(text)

	cls := models.Classification{Intent: models.IntentUnknown, Product: "unknown", Confidence: 0.3}
	for _, r := range productRules {
		if r.pattern.MatchString(folded) {
			cls.Product = string(r.flow)
			break
		}
	}
	for _, r := range intentRules {
		if r.pattern.MatchString(folded) {
			cls.Intent = r.intent
			cls.Confidence = 0.6
			break
		}
	}
	switch {
	case cls.Intent == models.IntentGreeting && !ents.Empty():
		cls.Intent = models.IntentSizeQuery
	case cls.Intent == models.IntentUnknown && (ents.Dimensions != nil || ents.Width != nil):
		cls.Intent = models.IntentSizeQuery
		cls.Confidence = 0.5
	case cls.Intent == models.IntentUnknown && cls.Product != "unknown":
		cls.Intent = models.IntentProductInfo
		cls.Confidence = 0.5
	}

	if ents.Dimensions != nil {
		w, h := ents.Dimensions.Width, ents.Dimensions.Length
		cls.Entities.Width, cls.Entities.Height = &w, &h
	} else if ents.Width != nil {
		w := *ents.Width
		cls.Entities.Width = &w
	}
	if ents.Quantity != nil {
		q := *ents.Quantity
		cls.Entities.Quantity = &q
	}
	cls.Entities.Color = ents.Color
	if loc, ok := entities.ParseLocation(text); ok {
		cls.Entities.Location = loc
	}
	return cls, nil
}

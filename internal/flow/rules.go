package flow

import (
	"regexp"

	"github.com/BTreeMap/SalesPipe/internal/catalog"
	"github.com/BTreeMap/SalesPipe/internal/entities"
	"github.com/BTreeMap/SalesPipe/internal/models"
)

// matchKeywordFlow returns the flow named by the catalog family rules, the
// same ordered table that classifies catalog entries. With specificOnly
// set, generic mentions such as "malla sombra" are ignored.
func matchKeywordFlow(text string, specificOnly bool) (models.FlowType, bool) {
	return catalog.MatchFamily(text, specificOnly)
}

// unsoldCategory is a product family the business does not carry.
type unsoldCategory struct {
	name  string
	match *regexp.Regexp
}

var unsoldCategories = []unsoldCategory{
	{"lona", regexp.MustCompile(`\blonas?\b`)},
	{"pasto sintético", regexp.MustCompile(`\bpasto (?:sintetico|artificial)\b`)},
	{"malla ciclónica", regexp.MustCompile(`\bmalla ciclonica\b|\bciclonica\b`)},
	{"malla electrosoldada", regexp.MustCompile(`\belectrosoldada\b`)},
	{"mosquitero", regexp.MustCompile(`\bmosquiteros?\b`)},
	{"plástico para invernadero", regexp.MustCompile(`\bplastico (?:para |de )?invernadero\b`)},
}

// matchUnsold returns the display name of an unsold category mentioned in text.
func matchUnsold(text string) (string, bool) {
	folded := entities.Fold(text)
	for _, c := range unsoldCategories {
		if c.match.MatchString(folded) {
			return c.name, true
		}
	}
	return "", false
}

// useCaseRule maps a usage scenario to the flow that fits it best.
type useCaseRule struct {
	flow       models.FlowType
	scenario   string
	match      *regexp.Regexp
	suggestion string
}

var useCaseRules = []useCaseRule{
	{
		flow:       models.FlowAntimaleza,
		scenario:   "control de maleza",
		match:      regexp.MustCompile(`\b(maleza|hierba mala|yerba|que no salga (?:el )?pasto|evitar (?:el )?pasto)\b`),
		suggestion: "Para evitar que crezca la maleza te conviene la malla antimaleza: deja pasar el agua y bloquea la luz.",
	},
	{
		flow:       models.FlowBorde,
		scenario:   "delimitar jardín",
		match:      regexp.MustCompile(`\b(delimitar|separar|dividir|orillar)\b.*\b(jardin|pasto|arriates?|macetas?|camellon)\b`),
		suggestion: "Para delimitar tu jardín lo ideal es el borde separador, se entierra fácil y queda firme.",
	},
	{
		flow:       models.FlowRollo,
		scenario:   "invernadero",
		match:      regexp.MustCompile(`\b(invernaderos?|viveros?|cultivos?|hortalizas?|huertas?)\b`),
		suggestion: "Para invernadero o cultivo normalmente se usa malla sombra en rollo, la cortas a la medida de tu estructura.",
	},
	{
		flow:       models.FlowConfeccionada,
		scenario:   "sombra para casa",
		match:      regexp.MustCompile(`\b(cochera|patio|terraza|estacionamiento|jardin para sombra|carport|alberca)\b`),
		suggestion: "Para cochera, patio o terraza te recomiendo la malla sombra confeccionada, ya viene con ojillos lista para instalar.",
	},
}

// matchUseCase returns the first usage scenario mentioned in text.
func matchUseCase(text string) (useCaseRule, bool) {
	folded := entities.Fold(text)
	for _, r := range useCaseRules {
		if r.match.MatchString(folded) {
			return r, true
		}
	}
	return useCaseRule{}, false
}

// Lean phrases for the menudeo/mayoreo question. Bare quantifiers and
// pronouns such as "una", "muchas" or "para mi" never count as a lean.
var (
	retailWords = []string{
		"menudeo", "al menudeo", "pieza", "piezas", "una pieza", "una sola pieza",
		"unidad", "por unidad", "para mi casa", "uso personal", "para uso personal",
	}
	wholesaleWords = []string{
		"mayoreo", "al mayoreo", "mayorista", "distribuidor", "distribuidores", "distribuir",
		"revender", "reventa", "por volumen", "por cantidad", "precio de volumen",
	}
)

// leanRetail reports whether a reply to the menudeo/mayoreo question leans
// retail; wholesale words win when both appear.
func leanRetail(text string) bool {
	return entities.ContainsAny(text, retailWords...) && !entities.ContainsAny(text, wholesaleWords...)
}

func leanWholesale(text string) bool {
	return entities.ContainsAny(text, wholesaleWords...)
}

var wholesaleInquiryPattern = regexp.MustCompile(`\b(mayoreo|mayorista|distribuidor(?:es)?|distribuir|revender|reventa|precio de volumen|por volumen)\b`)

// isWholesaleInquiry reports whether the text asks about wholesale terms.
func isWholesaleInquiry(text string) bool {
	return wholesaleInquiryPattern.MatchString(entities.Fold(text))
}

var cancelPattern = regexp.MustCompile(`^\s*(cancelar|cancela|salir|ya no|detener|stop)\s*[.!]*\s*$`)

// isCancel reports whether the text asks to leave a running script.
func isCancel(text string) bool {
	return cancelPattern.MatchString(entities.Fold(text))
}

// adFlowAliases maps click-to-chat ad flow references to flows.
var adFlowAliases = map[string]models.FlowType{
	"confeccionada":         models.FlowConfeccionada,
	"malla_confeccionada":   models.FlowConfeccionada,
	"ms_confeccionada":      models.FlowConfeccionada,
	"malla_sombra":          models.FlowConfeccionada,
	"rollo":                 models.FlowRollo,
	"rollos":                models.FlowRollo,
	"malla_rollo":           models.FlowRollo,
	"ms_rollo":              models.FlowRollo,
	"borde":                 models.FlowBorde,
	"borde_separador":       models.FlowBorde,
	"antimaleza":            models.FlowAntimaleza,
	"malla_antimaleza":      models.FlowAntimaleza,
	"groundcover":           models.FlowAntimaleza,
	"ground_cover":          models.FlowAntimaleza,
	"campana_confeccionada": models.FlowConfeccionada,
}

// adProductFlows maps ad product identifiers that are not catalog ids.
var adProductFlows = map[string]models.FlowType{
	"MS-CONF":  models.FlowConfeccionada,
	"MS-ROLLO": models.FlowRollo,
	"BS-JARD":  models.FlowBorde,
	"AM-GC":    models.FlowAntimaleza,
}

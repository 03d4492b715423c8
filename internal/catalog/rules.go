package catalog

import (
	"regexp"

	"github.com/BTreeMap/SalesPipe/internal/entities"
	"github.com/BTreeMap/SalesPipe/internal/models"
)

// familyRule maps a keyword pattern over folded text to a product flow. The
// rule does not fire when unless also matches, which keeps near-synonymous
// sibling families from cross-matching.
type familyRule struct {
	flow   models.FlowType
	match  *regexp.Regexp
	unless *regexp.Regexp
	// generic rules name the product line loosely, e.g. "malla sombra".
	generic bool
}

// familyRules are evaluated in order; the first rule that fires wins.
var familyRules = []familyRule{
	{
		flow:  models.FlowAntimaleza,
		match: regexp.MustCompile(`\b(anti ?-?maleza|antihierba|ground ?cover|malla (?:para|contra) (?:la )?(?:maleza|hierba))\b`),
	},
	{
		flow:   models.FlowBorde,
		match:  regexp.MustCompile(`\b(bordes?(?: separador(?:es)?)?|separador(?:es)? de jardin|delimitador(?:es)? de jardin)\b`),
		unless: regexp.MustCompile(`\bborde reforzado\b|\bcon borde\b`),
	},
	{
		flow:   models.FlowRollo,
		match:  regexp.MustCompile(`\b(rollos?|bobinas?|metro lineal|por metro)\b`),
		unless: regexp.MustCompile(`\b(confeccionad[ao]s?|ojillos)\b`),
	},
	{
		flow:  models.FlowConfeccionada,
		match: regexp.MustCompile(`\b(confeccionad[ao]s?|ojillos|toldos?|velarias?|reforzad[ao]s?|triangular(?:es)?)\b`),
	},
	{
		flow:    models.FlowConfeccionada,
		match:   regexp.MustCompile(`\b(malla ?sombra|malla raschel)\b`),
		unless:  regexp.MustCompile(`\b(rollos?|bobinas?)\b`),
		generic: true,
	},
}

// MatchFamily returns the product flow named by the first family rule that
// fires on text. With specificOnly set, generic rules are skipped.
func MatchFamily(text string, specificOnly bool) (models.FlowType, bool) {
	folded := entities.Fold(text)
	for _, r := range familyRules {
		if specificOnly && r.generic {
			continue
		}
		if !r.match.MatchString(folded) {
			continue
		}
		if r.unless != nil && r.unless.MatchString(folded) {
			continue
		}
		return r.flow, true
	}
	return "", false
}

package entities

import (
	"regexp"
	"strings"
)

var (
	affirmativePattern = regexp.MustCompile(`^(?:si|sip|simon|claro|ok|okey|okay|va|dale|sale|de acuerdo|correcto|esa|ese|perfecto|me interesa|por favor|andale|exacto|asi es)\b`)
	negativePattern    = regexp.MustCompile(`^(?:no|nop|nel|para nada|mejor no|todavia no|aun no|no gracias)\b`)

	locationNames = []string{
		"aguascalientes", "baja california", "campeche", "chiapas", "chihuahua", "coahuila",
		"colima", "durango", "guanajuato", "guerrero", "hidalgo", "jalisco", "michoacan",
		"morelos", "nayarit", "nuevo leon", "oaxaca", "puebla", "queretaro", "quintana roo",
		"san luis potosi", "sinaloa", "sonora", "tabasco", "tamaulipas", "tlaxcala", "veracruz",
		"yucatan", "zacatecas", "cdmx", "ciudad de mexico", "estado de mexico", "edomex",
		"guadalajara", "monterrey", "tijuana", "merida", "cancun", "toluca", "hermosillo",
		"culiacan", "mexicali", "saltillo", "torreon", "zapopan", "leon", "celaya", "irapuato",
		"morelia", "pachuca", "cuernavaca", "acapulco", "mazatlan", "tampico", "reynosa",
		"matamoros", "ensenada", "la paz", "los cabos", "xalapa", "tuxtla",
	}
	locationPattern = regexp.MustCompile(`\b(` + strings.Join(locationNames, "|") + `)\b`)
)

// simplify folds text and drops everything except letters, digits and spaces.
func simplify(text string) string {
	f := Fold(text)
	var b strings.Builder
	for _, r := range f {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// IsAffirmative reports whether a reply opens with a yes.
func IsAffirmative(text string) bool {
	return affirmativePattern.MatchString(simplify(text))
}

// IsNegative reports whether a reply opens with a no.
func IsNegative(text string) bool {
	s := simplify(text)
	return negativePattern.MatchString(s) && !affirmativePattern.MatchString(s)
}

// ParseLocation returns a recognised Mexican state, city or postal code.
func ParseLocation(text string) (string, bool) {
	if pc, ok := ParsePostalCode(text); ok {
		return pc, true
	}
	if m := locationPattern.FindString(simplify(text)); m != "" {
		return m, true
	}
	return "", false
}

// ContainsAny reports whether folded text contains any of the folded phrases
// as whole words.
func ContainsAny(text string, phrases ...string) bool {
	s := " " + simplify(text) + " "
	for _, p := range phrases {
		if strings.Contains(s, " "+p+" ") {
			return true
		}
	}
	return false
}

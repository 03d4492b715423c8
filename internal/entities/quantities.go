package entities

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	quantityPattern = regexp.MustCompile(`\b(\d+)\s*(?:piezas?|pzas?|pz|unidades|rollos?|mallas?|tramos?|juegos?)\b`)
	quantityLabeled = regexp.MustCompile(`\bcantidad\s*(?:de\s*)?:?\s*(\d+)\b`)

	percentPattern   = regexp.MustCompile(`\b(\d{2,3})\s*(?:%|por\s*ciento)`)
	percentAlPattern = regexp.MustCompile(`\bal\s*(\d{2,3})\b`)

	widthPattern   = regexp.MustCompile(`ancho\s*(?:de\s*)?` + num + unit)
	widthSuffixed  = regexp.MustCompile(num + unit + `\s*de\s*ancho`)
	lengthPattern  = regexp.MustCompile(`largo\s*(?:de\s*)?` + num + unit)
	lengthSuffixed = regexp.MustCompile(num + unit + `\s*de\s*largo`)
	metersPattern  = regexp.MustCompile(num + `\s*(?:m|mt|mts|metro|metros)\b`)
	bareNumber     = regexp.MustCompile(`^\s*` + num + unit + `\s*$`)
	postalPattern  = regexp.MustCompile(`\b(\d{5})\b`)
)

var colorWords = []string{"negro", "negra", "verde", "beige", "blanco", "blanca", "azul", "rojo", "gris", "cafe", "arena"}

// ParseQuantity extracts a piece count ("3 rollos", "cantidad 10").
func ParseQuantity(text string) (int, bool) {
	return parseQuantityPrepared(Prepare(text))
}

func parseQuantityPrepared(s string) (int, bool) {
	s = pairPattern.ReplaceAllString(s, " ")
	for _, re := range []*regexp.Regexp{quantityPattern, quantityLabeled} {
		all := re.FindAllStringSubmatch(s, -1)
		if len(all) != 1 {
			continue
		}
		n, err := strconv.Atoi(all[0][1])
		if err == nil && n > 0 {
			return n, true
		}
	}
	return 0, false
}

// ParsePercentage extracts a shade percentage between 10 and 100 ("al 90", "80%").
func ParsePercentage(text string) (int, bool) {
	return parsePercentagePrepared(Prepare(text))
}

func parsePercentagePrepared(s string) (int, bool) {
	for _, re := range []*regexp.Regexp{percentPattern, percentAlPattern} {
		if m := re.FindStringSubmatch(s); m != nil {
			n, err := strconv.Atoi(m[1])
			if err == nil && n >= 10 && n <= 100 {
				return n, true
			}
		}
	}
	return 0, false
}

// ParseWidth extracts an explicitly labeled width ("ancho de 4.20").
func ParseWidth(text string) (float64, bool) {
	return parseLabeled(Prepare(text), widthPattern, widthSuffixed)
}

// ParseLength extracts a length: labeled ("largo 20") or a single metric
// amount ("20 metros"). Several metric amounts are ambiguous.
func ParseLength(text string) (float64, bool) {
	s := Prepare(text)
	if v, ok := parseLabeled(s, lengthPattern, lengthSuffixed); ok {
		return v, true
	}
	if _, ok := parseDimensionsPrepared(s); ok {
		return 0, false
	}
	s = widthSuffixed.ReplaceAllString(s, " ")
	s = widthPattern.ReplaceAllString(s, " ")
	all := metersPattern.FindAllStringSubmatch(s, -1)
	if len(all) != 1 {
		return 0, false
	}
	return parseNum(all[0][1])
}

func parseLabeled(s string, patterns ...*regexp.Regexp) (float64, bool) {
	for _, re := range patterns {
		if m := re.FindStringSubmatch(s); m != nil {
			if v, ok := parseNum(m[1]); ok {
				return v, true
			}
		}
	}
	return 0, false
}

// ParseBareNumber reports the value of a message that is only a number,
// optionally with a meter unit ("4.20", "cinco metros").
func ParseBareNumber(text string) (float64, bool) {
	m := bareNumber.FindStringSubmatch(Prepare(text))
	if m == nil {
		return 0, false
	}
	return parseNum(m[1])
}

// ParsePostalCode extracts a five-digit Mexican postal code.
func ParsePostalCode(text string) (string, bool) {
	all := postalPattern.FindAllString(Fold(text), -1)
	if len(all) != 1 {
		return "", false
	}
	return all[0], true
}

// ParseColor returns the first known color word in text.
func ParseColor(text string) (string, bool) {
	words := strings.FieldsFunc(Fold(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z')
	})
	for _, w := range words {
		for _, c := range colorWords {
			if w == c {
				return canonicalColor(c), true
			}
		}
	}
	return "", false
}

func canonicalColor(c string) string {
	switch c {
	case "negra":
		return "negro"
	case "blanca":
		return "blanco"
	}
	return c
}

// Entities is everything the normalizer could pull out of one message.
type Entities struct {
	Dimensions *Dimensions `json:"dimensions,omitempty"`
	Width      *float64    `json:"width,omitempty"`
	Length     *float64    `json:"length,omitempty"`
	Percentage *int        `json:"percentage,omitempty"`
	Quantity   *int        `json:"quantity,omitempty"`
	Color      string      `json:"color,omitempty"`
	PostalCode string      `json:"postal_code,omitempty"`
}

// Empty reports whether nothing was extracted.
func (e Entities) Empty() bool {
	return e.Dimensions == nil && e.Width == nil && e.Length == nil &&
		e.Percentage == nil && e.Quantity == nil && e.Color == "" && e.PostalCode == ""
}

// Extract runs every parser over text.
func Extract(text string) Entities {
	s := Prepare(text)
	var e Entities
	if d, ok := parseDimensionsPrepared(s); ok {
		e.Dimensions = &d
		w, l := d.Width, d.Length
		e.Width, e.Length = &w, &l
	} else {
		if v, ok := parseLabeled(s, widthPattern, widthSuffixed); ok {
			e.Width = &v
		}
		if v, ok := ParseLength(text); ok {
			e.Length = &v
		}
	}
	if p, ok := parsePercentagePrepared(s); ok {
		e.Percentage = &p
	}
	if q, ok := parseQuantityPrepared(s); ok {
		e.Quantity = &q
	}
	if c, ok := ParseColor(text); ok {
		e.Color = c
	}
	if pc, ok := ParsePostalCode(text); ok {
		e.PostalCode = pc
	}
	return e
}

package entities

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
)

// BulkLengthThreshold marks dimension pairs whose long side is a roll length
// (for example 4.20 x 100) rather than a finished piece.
const BulkLengthThreshold = 50.0

const (
	num  = `(\d+(?:\.\d+)?)`
	unit = `(?:\s*(?:m|mt|mts|metro|metros)\b)?`
	sep  = `\s*(?:x|\*|×|por)\s*`
	conn = `\s*(?:,|y|por|x)?\s*`
)

var (
	decimalComma = regexp.MustCompile(`(\d),(\d)`)

	pairPattern = regexp.MustCompile(num + unit + sep + num + unit)

	// "ancho 4 largo 5", "ancho de 4 metros y largo de 5"
	widthFirstLabeled = regexp.MustCompile(`ancho\s*(?:de\s*)?` + num + unit + conn + `(?:de\s*)?largo\s*(?:de\s*)?` + num)
	// "largo 5 ancho 4"
	lengthFirstLabeled = regexp.MustCompile(`largo\s*(?:de\s*)?` + num + unit + conn + `(?:de\s*)?ancho\s*(?:de\s*)?` + num)
	// "4 de ancho por 5 de largo"
	widthFirstSuffixed = regexp.MustCompile(num + unit + `\s*de\s*ancho` + conn + num + unit + `\s*de\s*largo`)
	// "5 de largo por 4 de ancho"
	lengthFirstSuffixed = regexp.MustCompile(num + unit + `\s*de\s*largo` + conn + num + unit + `\s*de\s*ancho`)

	trianglePattern = regexp.MustCompile(`triangul\w*\s*(?:de\s*)?` + num)
)

// Dimensions is a parsed width/length pair in meters.
type Dimensions struct {
	Width  float64 `json:"width"`
	Length float64 `json:"length"`
	// Triangle is set for triangular pieces, where Width and Length are the side.
	Triangle bool `json:"triangle,omitempty"`
}

// Bulk reports whether the pair describes a roll rather than a finished piece.
func (d Dimensions) Bulk() bool {
	return math.Max(d.Width, d.Length) >= BulkLengthThreshold
}

// Key returns the orientation-insensitive canonical key "min x max".
func (d Dimensions) Key() string {
	return DimensionKey(d.Width, d.Length)
}

// String formats the pair as the customer wrote it, e.g. "4x5".
func (d Dimensions) String() string {
	return fmt.Sprintf("%sx%s", formatNumber(round2(d.Width)), formatNumber(round2(d.Length)))
}

// DimensionKey returns the canonical key for a pair regardless of orientation.
func DimensionKey(a, b float64) string {
	a, b = round2(a), round2(b)
	if a > b {
		a, b = b, a
	}
	return formatNumber(a) + "x" + formatNumber(b)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func parseNum(s string) (float64, bool) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

// ParseDimensions extracts a single width/length pair from free text.
// Several distinct pairs in one message count as ambiguous and yield no match.
func ParseDimensions(text string) (Dimensions, bool) {
	return parseDimensionsPrepared(Prepare(text))
}

func parseDimensionsPrepared(s string) (Dimensions, bool) {
	if d, ok := labeledPair(s); ok {
		return d, true
	}

	matches := pairPattern.FindAllStringSubmatch(s, -1)
	var found *Dimensions
	for _, m := range matches {
		a, okA := parseNum(m[1])
		b, okB := parseNum(m[2])
		if !okA || !okB {
			continue
		}
		d := Dimensions{Width: a, Length: b}
		if found != nil && found.Key() != d.Key() {
			return Dimensions{}, false
		}
		if found == nil {
			found = &d
		}
	}
	if found == nil {
		return Dimensions{}, false
	}
	return *found, true
}

func labeledPair(s string) (Dimensions, bool) {
	for _, p := range []struct {
		re         *regexp.Regexp
		widthFirst bool
	}{
		{widthFirstLabeled, true},
		{lengthFirstLabeled, false},
		{widthFirstSuffixed, true},
		{lengthFirstSuffixed, false},
	} {
		m := p.re.FindStringSubmatch(s)
		if m == nil {
			continue
		}
		a, okA := parseNum(m[1])
		b, okB := parseNum(m[2])
		if !okA || !okB {
			continue
		}
		if p.widthFirst {
			return Dimensions{Width: a, Length: b}, true
		}
		return Dimensions{Width: b, Length: a}, true
	}
	return Dimensions{}, false
}

// ParseSize parses a catalog size label such as "4x5 m", "4.20 x 100" or
// "Triangular 5 m".
func ParseSize(size string) (Dimensions, bool) {
	s := Prepare(size)
	if m := trianglePattern.FindStringSubmatch(s); m != nil {
		if side, ok := parseNum(m[1]); ok {
			return Dimensions{Width: side, Length: side, Triangle: true}, true
		}
	}
	return parseDimensionsPrepared(s)
}

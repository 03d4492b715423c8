// Package entities parses free customer text into canonical quantities:
// dimension pairs, widths, lengths, counts, shade percentages and colors.
//
// All parsers are best-effort. When the text is ambiguous they report no
// match instead of guessing.
package entities

import (
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold lowercases text and strips diacritics so "Cuántos" and "cuantos" compare equal.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return strings.ToLower(s)
	}
	return strings.ToLower(out)
}

var unitWords = map[string]int{
	"cero": 0, "un": 1, "uno": 1, "una": 1, "dos": 2, "tres": 3, "cuatro": 4, "cinco": 5,
	"seis": 6, "siete": 7, "ocho": 8, "nueve": 9,
}

var teenWords = map[string]int{
	"diez": 10, "once": 11, "doce": 12, "trece": 13, "catorce": 14, "quince": 15,
	"dieciseis": 16, "diecisiete": 17, "dieciocho": 18, "diecinueve": 19, "veinte": 20,
	"veintiun": 21, "veintiuno": 21, "veintiuna": 21, "veintidos": 22, "veintitres": 23,
	"veinticuatro": 24, "veinticinco": 25, "veintiseis": 26, "veintisiete": 27,
	"veintiocho": 28, "veintinueve": 29,
}

var tensWords = map[string]int{
	"treinta": 30, "cuarenta": 40, "cincuenta": 50, "sesenta": 60, "setenta": 70,
	"ochenta": 80, "noventa": 90,
}

const trimPunct = ".,;:!?¿¡()\"'"

// token keeps the punctuation around a word so it can be restored after rewriting.
type token struct {
	prefix, core, suffix string
}

func splitToken(raw string) token {
	core := strings.TrimLeft(raw, trimPunct)
	prefix := raw[:len(raw)-len(core)]
	trimmed := strings.TrimRight(core, trimPunct)
	suffix := core[len(trimmed):]
	return token{prefix: prefix, core: trimmed, suffix: suffix}
}

// below100 parses "cinco", "quince", "treinta", "treinta y cinco" starting at i.
// It returns the value, the number of tokens consumed, and whether the value
// came from a single unit word (1..9).
func below100(toks []token, i int) (int, int, bool) {
	w := toks[i].core
	if v, ok := unitWords[w]; ok {
		return v, 1, true
	}
	if v, ok := teenWords[w]; ok {
		return v, 1, false
	}
	if v, ok := tensWords[w]; ok {
		if i+2 < len(toks) && toks[i+1].core == "y" {
			if u, ok := unitWords[toks[i+2].core]; ok && u > 0 && toks[i].suffix == "" && toks[i+1].suffix == "" {
				return v + u, 3, false
			}
		}
		return v, 1, false
	}
	return 0, 0, false
}

// wordNumber parses a number-word phrase up to 199 starting at i.
func wordNumber(toks []token, i int) (int, int, bool, bool) {
	w := toks[i].core
	if w == "cien" || w == "ciento" {
		if w == "ciento" && i+1 < len(toks) && toks[i].suffix == "" {
			if v, n, _ := below100(toks, i+1); n > 0 && v > 0 {
				return 100 + v, 1 + n, false, true
			}
		}
		if w == "ciento" {
			// "por ciento" is a percent sign, not a number
			return 0, 0, false, false
		}
		return 100, 1, false, true
	}
	v, n, single := below100(toks, i)
	if n == 0 {
		return 0, 0, false, false
	}
	return v, n, single, true
}

func isHalf(toks []token, i int) bool {
	return i+1 < len(toks) && toks[i].core == "y" && (toks[i+1].core == "medio" || toks[i+1].core == "media")
}

func digitsValue(s string) (float64, bool) {
	if s == "" || s[0] < '0' || s[0] > '9' {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	return v, err == nil
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// NormalizeNumberWords rewrites Spanish number words in folded text as digits.
// It understands tens+ones compounds ("treinta y cinco" -> 35), halves
// ("cuatro y medio" -> 4.5, also after digits), the spoken decimal form where a
// unit is followed by a two-digit fragment ("uno treinta" -> 1.3) and
// "metro y medio" -> 1.5 metros. Unrecognised words pass through unchanged.
func NormalizeNumberWords(text string) string {
	raw := strings.Fields(text)
	toks := make([]token, len(raw))
	for i, r := range raw {
		toks[i] = splitToken(r)
	}

	out := make([]string, 0, len(toks))
	for i := 0; i < len(toks); {
		t := toks[i]

		if t.core == "metro" && isHalf(toks, i+1) {
			out = append(out, t.prefix+"1.5 metros"+toks[i+2].suffix)
			i += 3
			continue
		}

		var value float64
		var consumed int
		if n, ok := digitsValue(t.core); ok {
			if !isHalf(toks, i+1) || t.suffix != "" {
				out = append(out, raw[i])
				i++
				continue
			}
			value, consumed = n, 1
		} else if v, n, single, ok := wordNumber(toks, i); ok {
			value, consumed = float64(v), n
			next := i + n
			if single && v > 0 && next < len(toks) && toks[next-1].suffix == "" {
				if frac, fn, _, ok := wordNumber(toks, next); ok && frac >= 10 && frac < 100 {
					value += float64(frac) / 100
					consumed += fn
				}
			}
		} else {
			out = append(out, t.prefix+t.core+t.suffix)
			i++
			continue
		}

		last := i + consumed - 1
		if toks[last].suffix == "" && isHalf(toks, last+1) {
			value += 0.5
			consumed += 2
			last += 2
		}
		out = append(out, t.prefix+formatNumber(round2(value))+toks[last].suffix)
		i += consumed
	}
	return strings.Join(out, " ")
}

// Prepare folds text, rewrites number words and normalises decimal commas
// between digits ("4,20" -> "4.20"). Every parser in this package runs on
// prepared text.
func Prepare(text string) string {
	s := NormalizeNumberWords(Fold(text))
	return decimalComma.ReplaceAllString(s, "$1.$2")
}

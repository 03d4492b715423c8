// Package scoring derives a purchase-readiness bucket from behavioral signals.
//
// Score is a pure function: it merges the signals found in one message into
// the previous ledger and recomputes the score from the whole ledger. Nothing
// is carried between calls except the ledger itself.
package scoring

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/BTreeMap/SalesPipe/internal/entities"
	"github.com/BTreeMap/SalesPipe/internal/models"
)

// Score bounds and bucket thresholds.
const (
	BaseScore     = 50
	MaxScore      = 100
	HighThreshold = 70
	LowThreshold  = 30
)

// Signal weights.
const (
	dimensionsPoints   = 30
	locationPoints     = 10
	paymentPoints      = 20
	deliveryPoints     = 10
	confirmationPoints = 25
	urgencyPoints      = 15
)

var (
	paymentPhrases = []string{
		"transferencia", "tarjeta", "efectivo", "oxxo", "deposito", "meses sin intereses",
		"forma de pago", "formas de pago", "como pago", "como le pago", "mercado pago", "paypal",
		"pago contra entrega",
	}
	deliveryPhrases = []string{
		"envio", "envios", "envian", "entrega", "entregan", "mandan", "llega", "llegan",
		"flete", "paqueteria", "a domicilio",
	}
	urgencyPhrases = []string{
		"urgente", "urge", "hoy mismo", "para hoy", "para manana", "lo antes posible",
		"cuanto antes", "lo mas pronto", "rapido",
	}
	materialPhrases = []string{
		"material", "polietileno", "hdpe", "de que esta hecha", "de que es", "rafia", "plastico", "tela",
	}
	techSpecPhrases = []string{
		"gramaje", "uv", "densidad", "ficha tecnica", "garantia", "vida util", "resistencia",
		"calibre", "gr m2", "cuanto dura", "cuantos anos dura",
	}
	catalogPhrases = []string{
		"catalogo", "lista de precios", "mandame todo", "mandeme todo", "todos los precios",
		"todas las medidas", "todos los productos", "todo lo que tengan",
	}

	consonantRun     = regexp.MustCompile(`[bcdfghjklmnpqrstvwxz]{5,}`)
	punctuationBurst = regexp.MustCompile(`[!?.¡¿]{4,}`)
)

// Score merges the signals found in text into prev and returns the updated
// ledger with its bucket. Booleans only move from false to true and counters
// only increase.
func Score(text string, prev models.IntentLedger) (models.IntentLedger, models.IntentBucket) {
	l := prev
	l.TotalMessages++

	_, hasLocation := entities.ParseLocation(text)

	if _, ok := entities.ParseDimensions(text); ok {
		l.HasDimensions = true
	}
	if hasLocation {
		l.HasLocation = true
	}
	if entities.ContainsAny(text, paymentPhrases...) {
		l.AskedPayment = true
	}
	if hasLocation && entities.ContainsAny(text, deliveryPhrases...) {
		l.AskedDelivery = true
	}
	if prev.SizeRecommended && entities.IsAffirmative(text) {
		l.ConfirmedRecommendation = true
	}
	if entities.ContainsAny(text, urgencyPhrases...) {
		l.Urgent = true
	}

	if entities.ContainsAny(text, materialPhrases...) {
		l.MaterialQuestions++
	}
	if entities.ContainsAny(text, techSpecPhrases...) {
		l.TechSpecQuestions++
	}
	if entities.ContainsAny(text, catalogPhrases...) {
		l.CatalogRequests++
	}
	if Erratic(text) {
		l.ErraticTyping++
	}
	if !l.HasDimensions {
		l.MessagesWithoutProgress++
	}

	return l, Bucket(Points(l))
}

// Points computes the 0..100 readiness score for a ledger.
func Points(l models.IntentLedger) int {
	score := BaseScore
	if l.HasDimensions {
		score += dimensionsPoints
	}
	if l.HasLocation {
		score += locationPoints
	}
	if l.AskedPayment {
		score += paymentPoints
	}
	if l.AskedDelivery {
		score += deliveryPoints
	}
	if l.ConfirmedRecommendation {
		score += confirmationPoints
	}
	if l.Urgent {
		score += urgencyPoints
	}

	score -= questionPenalty(l.MaterialQuestions)
	score -= questionPenalty(l.TechSpecQuestions)

	switch {
	case l.CatalogRequests >= 2:
		score -= 25
	case l.CatalogRequests == 1:
		score -= 10
	}

	if l.MessagesWithoutProgress >= 5 && !l.HasDimensions {
		score -= 20
	}

	switch {
	case l.ErraticTyping >= 3:
		score -= 20
	case l.ErraticTyping == 2:
		score -= 10
	}

	if score < 0 {
		return 0
	}
	if score > MaxScore {
		return MaxScore
	}
	return score
}

func questionPenalty(n int) int {
	switch {
	case n >= 3:
		return 30
	case n == 2:
		return 15
	}
	return 0
}

// Bucket maps a score to its readiness bucket.
func Bucket(score int) models.IntentBucket {
	switch {
	case score >= HighThreshold:
		return models.IntentHigh
	case score <= LowThreshold:
		return models.IntentLow
	}
	return models.IntentMedium
}

// Erratic reports suspicious typing: very short non-answers, long consonant
// runs, or bursts of punctuation.
func Erratic(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}
	if punctuationBurst.MatchString(trimmed) {
		return true
	}
	folded := entities.Fold(trimmed)
	if consonantRun.MatchString(folded) {
		return true
	}

	letters, digits := 0, 0
	for _, r := range folded {
		switch {
		case unicode.IsLetter(r):
			letters++
		case unicode.IsDigit(r):
			digits++
		}
	}
	if letters > 0 && letters < 3 && digits == 0 && !entities.IsAffirmative(trimmed) && !entities.IsNegative(trimmed) {
		return true
	}
	return false
}

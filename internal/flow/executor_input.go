package flow

import (
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/BTreeMap/SalesPipe/internal/entities"
	"github.com/BTreeMap/SalesPipe/internal/models"
)

// inputRule validates and normalizes the answer to one kind of step. validate
// returns the customer-facing problem, or "" when the input is acceptable;
// normalize is only called on accepted input.
type inputRule struct {
	validate  func(step *models.FlowStep, raw string) string
	normalize func(step *models.FlowStep, raw string) any
}

var (
	emailPattern    = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]{2,}$`)
	phoneChars      = regexp.MustCompile(`^\+?[\d\s\-().]+$`)
	currencyNoise   = strings.NewReplacer("$", "", ",", "", " ", "", "mxn", "", "pesos", "", "usd", "")
	skipAnswerWords = []string{"omitir", "no tengo", "n/a", "na", "ninguno", "ninguna", "-"}
)

var inputRules = map[models.InputKind]inputRule{
	models.InputText: {
		validate: func(step *models.FlowStep, raw string) string {
			n := utf8.RuneCountInString(raw)
			v := step.Validation
			if v.MinLength > 0 && n < v.MinLength {
				return fmt.Sprintf("Tu respuesta es muy corta, escribe al menos %d caracteres.", v.MinLength)
			}
			if v.MaxLength > 0 && n > v.MaxLength {
				return fmt.Sprintf("Tu respuesta es muy larga, usa máximo %d caracteres.", v.MaxLength)
			}
			return ""
		},
		normalize: func(_ *models.FlowStep, raw string) any { return raw },
	},
	models.InputOption: {
		validate: func(step *models.FlowStep, raw string) string {
			if _, ok := matchOption(step, raw); !ok {
				return "Elige una de las opciones, puedes responder con el número."
			}
			return ""
		},
		normalize: func(step *models.FlowStep, raw string) any {
			opt, _ := matchOption(step, raw)
			return opt.Value
		},
	},
	models.InputConfirm: {
		validate: func(_ *models.FlowStep, raw string) string {
			if !entities.IsAffirmative(raw) && !entities.IsNegative(raw) {
				return "Responde sí o no, por favor."
			}
			return ""
		},
		normalize: func(_ *models.FlowStep, raw string) any { return entities.IsAffirmative(raw) },
	},
	models.InputNumber: {
		validate: func(step *models.FlowStep, raw string) string {
			n, ok := parseNumberAnswer(raw)
			if !ok {
				return "Escribe solo el número, por favor."
			}
			v := step.Validation
			if v.Min != nil && n < *v.Min {
				return fmt.Sprintf("El número debe ser al menos %s.", strconv.FormatFloat(*v.Min, 'f', -1, 64))
			}
			if v.Max != nil && n > *v.Max {
				return fmt.Sprintf("El número no puede ser mayor a %s.", strconv.FormatFloat(*v.Max, 'f', -1, 64))
			}
			return ""
		},
		normalize: func(_ *models.FlowStep, raw string) any {
			n, _ := parseNumberAnswer(raw)
			return n
		},
	},
	models.InputPhone: {
		validate: func(_ *models.FlowStep, raw string) string {
			d := digitsOnly(raw)
			if !phoneChars.MatchString(raw) || len(d) < 10 || len(d) > 13 {
				return "Ese teléfono no parece válido, escríbelo a 10 dígitos."
			}
			return ""
		},
		normalize: func(_ *models.FlowStep, raw string) any { return digitsOnly(raw) },
	},
	models.InputEmail: {
		validate: func(_ *models.FlowStep, raw string) string {
			if !emailPattern.MatchString(raw) {
				return "Ese correo no parece válido, revisa que tenga @ y dominio."
			}
			return ""
		},
		normalize: func(_ *models.FlowStep, raw string) any { return strings.ToLower(raw) },
	},
}

// ruleFor returns the rule for a step, treating an empty input kind as text.
func ruleFor(kind models.InputKind) (inputRule, bool) {
	if kind == "" {
		kind = models.InputText
	}
	r, ok := inputRules[kind]
	return r, ok
}

// acceptInput runs the common checks and the kind-specific rule. It returns
// the normalized value, whether the step was skipped by an optional answer,
// and a customer-facing problem when the input is rejected. A validation
// pattern that does not compile rejects every answer.
func acceptInput(c *conditionEvaluator, step *models.FlowStep, text string) (value any, skipped bool, problem string) {
	raw := strings.TrimSpace(text)
	v := step.Validation
	if raw == "" {
		if v.Required {
			return nil, false, validationMessage(step, "Esta respuesta es necesaria para continuar.")
		}
		return nil, true, ""
	}
	if !v.Required && step.Input != models.InputOption && step.Input != models.InputConfirm &&
		entities.ContainsAny(raw, skipAnswerWords...) && utf8.RuneCountInString(raw) <= 10 {
		return nil, true, ""
	}
	rule, ok := ruleFor(step.Input)
	if !ok {
		rule = inputRules[models.InputText]
	}
	if msg := rule.validate(step, raw); msg != "" {
		return nil, false, validationMessage(step, msg)
	}
	if v.Pattern != "" {
		re, err := c.pattern(v.Pattern)
		if err != nil {
			slog.Error("acceptInput: invalid validation pattern", "step", step.ID, "error", err)
			return nil, false, validationMessage(step, "El formato de tu respuesta no es válido.")
		}
		if !re.MatchString(raw) {
			return nil, false, validationMessage(step, "El formato de tu respuesta no es válido.")
		}
	}
	return rule.normalize(step, raw), false, ""
}

func validationMessage(step *models.FlowStep, fallback string) string {
	if step.Validation.ErrorMessage != "" {
		return step.Validation.ErrorMessage
	}
	return fallback
}

// matchOption resolves an answer by option value, label or 1-based index.
func matchOption(step *models.FlowStep, raw string) (models.StepOption, bool) {
	answer := strings.Trim(entities.Fold(raw), " .)")
	for _, o := range step.Options {
		if answer == entities.Fold(o.Value) || answer == entities.Fold(o.Label) {
			return o, true
		}
	}
	if n, err := strconv.Atoi(answer); err == nil && n >= 1 && n <= len(step.Options) {
		return step.Options[n-1], true
	}
	return models.StepOption{}, false
}

func parseNumberAnswer(raw string) (float64, bool) {
	s := currencyNoise.Replace(entities.Fold(raw))
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return n, true
	}
	return entities.ParseBareNumber(raw)
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

package flow

import (
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/BTreeMap/SalesPipe/internal/entities"
	"github.com/BTreeMap/SalesPipe/internal/models"
)

// conditionEvaluator evaluates step skip predicates written in expr syntax
// against the collected data of a run, and the validation patterns of step
// answers. Compiled programs and patterns are cached by their source text
// and are safe to share across goroutines.
type conditionEvaluator struct {
	mu       sync.RWMutex
	cache    map[string]*vm.Program
	patterns map[string]*regexp.Regexp
}

func newConditionEvaluator() *conditionEvaluator {
	return &conditionEvaluator{cache: make(map[string]*vm.Program), patterns: make(map[string]*regexp.Regexp)}
}

// pattern returns the cached regexp for a validation pattern, compiling it
// on first use.
func (c *conditionEvaluator) pattern(src string) (*regexp.Regexp, error) {
	c.mu.RLock()
	re, ok := c.patterns[src]
	c.mu.RUnlock()
	if ok {
		return re, nil
	}
	re, err := regexp.Compile(src)
	if err != nil {
		return nil, fmt.Errorf("compile validation pattern %q: %w", src, err)
	}
	c.mu.Lock()
	c.patterns[src] = re
	c.mu.Unlock()
	return re, nil
}

// compile returns the cached program for expression, compiling it on first use.
func (c *conditionEvaluator) compile(expression string) (*vm.Program, error) {
	c.mu.RLock()
	if prg, ok := c.cache[expression]; ok {
		c.mu.RUnlock()
		return prg, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if prg, ok := c.cache[expression]; ok {
		return prg, nil
	}
	// Variables are typed at run time: collected data differs run to run.
	prg, err := expr.Compile(expression,
		expr.Env(map[string]any{}),
		expr.AllowUndefinedVariables(),
	)
	if err != nil {
		return nil, fmt.Errorf("compile skip expression %q: %w", expression, err)
	}
	c.cache[expression] = prg
	return prg, nil
}

// Eval reports whether expression holds for data. A non-boolean result is an error.
func (c *conditionEvaluator) Eval(expression string, data map[string]any) (bool, error) {
	prg, err := c.compile(expression)
	if err != nil {
		return false, err
	}
	env := make(map[string]any, len(data))
	for k, v := range data {
		env[k] = v
	}
	out, err := vm.Run(prg, env)
	if err != nil {
		return false, fmt.Errorf("evaluate skip expression %q: %w", expression, err)
	}
	b, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("skip expression %q returned %T, want bool", expression, out)
	}
	return b, nil
}

// shouldSkip evaluates a step's skip predicate. Evaluation failures never skip.
func (c *conditionEvaluator) shouldSkip(step *models.FlowStep, data map[string]any) bool {
	if strings.TrimSpace(step.SkipIf) == "" {
		return false
	}
	skip, err := c.Eval(step.SkipIf, data)
	if err != nil {
		slog.Warn("Executor.shouldSkip: skip predicate failed", "step", step.ID, "error", err)
		return false
	}
	return skip
}

// matchCondition evaluates one routing condition against collected data.
func matchCondition(cond models.StepCondition, data map[string]any) bool {
	raw, present := data[cond.Variable]
	got := valueString(raw)
	if cond.Operator == "exists" {
		return present && got != ""
	}
	if !present {
		return cond.Operator == "ne"
	}
	want := cond.Value
	gn, gok := toNumber(raw)
	wn, wok := toNumber(want)
	numeric := gok && wok
	switch cond.Operator {
	case "eq":
		if numeric {
			return gn == wn
		}
		return entities.Fold(got) == entities.Fold(want)
	case "ne":
		if numeric {
			return gn != wn
		}
		return entities.Fold(got) != entities.Fold(want)
	case "gt":
		return numeric && gn > wn
	case "gte":
		return numeric && gn >= wn
	case "lt":
		return numeric && gn < wn
	case "lte":
		return numeric && gn <= wn
	case "contains":
		return strings.Contains(entities.Fold(got), entities.Fold(want))
	}
	slog.Warn("Executor.matchCondition: unknown operator", "operator", cond.Operator, "variable", cond.Variable)
	return false
}

func valueString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprint(t)
	}
}

func toNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}

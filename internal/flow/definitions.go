package flow

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"

	"github.com/BTreeMap/SalesPipe/internal/models"
)

// Default lead-capture definition keys.
const (
	LeadB2BKey         = "lead_b2b"
	LeadDistributorKey = "lead_distributor"
)

//go:embed definitions/*.yaml
var defaultDefinitions embed.FS

// ErrInvalidDefinition wraps every definition validation failure.
var ErrInvalidDefinition = errors.New("invalid flow definition")

const definitionSchemaURL = "https://salespipe.local/schemas/flow-definition.json"

const definitionSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://salespipe.local/schemas/flow-definition.json",
  "type": "object",
  "required": ["key", "steps", "on_complete"],
  "properties": {
    "key": { "type": "string", "pattern": "^[a-z0-9_]+$" },
    "name": { "type": "string" },
    "start_step": { "type": "string" },
    "steps": { "type": "array", "minItems": 1, "items": { "$ref": "#/$defs/step" } },
    "on_complete": { "$ref": "#/$defs/completion" },
    "on_abandon": {
      "type": "object",
      "properties": {
        "message": { "type": "string" },
        "handoff": { "type": "boolean" }
      },
      "additionalProperties": false
    },
    "start_count": { "type": "integer", "minimum": 0 },
    "complete_count": { "type": "integer", "minimum": 0 },
    "abandon_count": { "type": "integer", "minimum": 0 },
    "updated_at": { "type": "string" }
  },
  "additionalProperties": false,
  "$defs": {
    "step": {
      "type": "object",
      "required": ["id", "message"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "order": { "type": "integer" },
        "message": { "type": "string", "minLength": 1 },
        "collect_as": { "type": "string", "pattern": "^[A-Za-z_][A-Za-z0-9_]*$" },
        "input": { "type": "string", "enum": ["", "text", "option", "confirm", "number", "phone", "email"] },
        "validation": {
          "type": "object",
          "properties": {
            "required": { "type": "boolean" },
            "min_length": { "type": "integer", "minimum": 0 },
            "max_length": { "type": "integer", "minimum": 0 },
            "pattern": { "type": "string" },
            "min": { "type": "number" },
            "max": { "type": "number" },
            "error_message": { "type": "string" }
          },
          "additionalProperties": false
        },
        "options": {
          "type": "array",
          "items": {
            "type": "object",
            "required": ["label", "value"],
            "properties": {
              "label": { "type": "string", "minLength": 1 },
              "value": { "type": "string", "minLength": 1 },
              "next": { "type": "string" }
            },
            "additionalProperties": false
          }
        },
        "next": { "type": "string" },
        "conditions": {
          "type": "array",
          "items": {
            "type": "object",
            "required": ["variable", "operator", "next"],
            "properties": {
              "variable": { "type": "string", "minLength": 1 },
              "operator": { "type": "string", "enum": ["eq", "ne", "gt", "gte", "lt", "lte", "contains", "exists"] },
              "value": { "type": "string" },
              "next": { "type": "string", "minLength": 1 }
            },
            "additionalProperties": false
          }
        },
        "skip_if": { "type": "string" }
      },
      "additionalProperties": false
    },
    "completion": {
      "type": "object",
      "required": ["action"],
      "properties": {
        "action": { "type": "string", "enum": ["message", "handoff", "trigger_intent", "chain_flow"] },
        "message": { "type": "string" },
        "handoff_fields": { "type": "array", "items": { "type": "string" } },
        "intent": { "type": "string" },
        "chain_flow": { "type": "string" }
      },
      "additionalProperties": false
    }
  }
}`

// DefinitionValidator checks flow definitions against the definition schema
// and the structural rules a schema cannot express. It is safe for
// concurrent use.
type DefinitionValidator struct {
	schema *jsonschema.Schema
	cond   *conditionEvaluator
}

// NewDefinitionValidator compiles the definition schema.
func NewDefinitionValidator() (*DefinitionValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(definitionSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal definition schema: %w", err)
	}
	if err := c.AddResource(definitionSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("add definition schema resource: %w", err)
	}
	sch, err := c.Compile(definitionSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile definition schema: %w", err)
	}
	return &DefinitionValidator{schema: sch, cond: newConditionEvaluator()}, nil
}

// Validate reports every problem found in def, wrapped in ErrInvalidDefinition.
func (v *DefinitionValidator) Validate(def *models.FlowDefinition) error {
	if def == nil {
		return fmt.Errorf("%w: definition is nil", ErrInvalidDefinition)
	}
	b, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("%w: serialize: %v", ErrInvalidDefinition, err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("%w: serialize: %v", ErrInvalidDefinition, err)
	}
	if err := v.schema.Validate(doc); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			return fmt.Errorf("%w: %s", ErrInvalidDefinition, strings.Join(collectViolations(verr), "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}
	if problems := v.structural(def); len(problems) > 0 {
		return fmt.Errorf("%w: %s: %s", ErrInvalidDefinition, def.Key, strings.Join(problems, "; "))
	}
	return nil
}

// structural checks step references, patterns and skip expressions.
func (v *DefinitionValidator) structural(def *models.FlowDefinition) []string {
	var problems []string
	ids := make(map[string]bool, len(def.Steps))
	for _, s := range def.Steps {
		if ids[s.ID] {
			problems = append(problems, fmt.Sprintf("duplicate step id %q", s.ID))
		}
		ids[s.ID] = true
	}
	ref := func(from, to string) {
		if to != "" && !ids[to] {
			problems = append(problems, fmt.Sprintf("step %q points to unknown step %q", from, to))
		}
	}
	if def.StartStep != "" && !ids[def.StartStep] {
		problems = append(problems, fmt.Sprintf("start_step %q does not exist", def.StartStep))
	}
	for _, s := range def.Steps {
		ref(s.ID, s.Next)
		for _, c := range s.Conditions {
			ref(s.ID, c.Next)
		}
		for _, o := range s.Options {
			ref(s.ID, o.Next)
		}
		if s.Input == models.InputOption && len(s.Options) == 0 {
			problems = append(problems, fmt.Sprintf("option step %q has no options", s.ID))
		}
		if s.Validation.Pattern != "" {
			if _, err := v.cond.pattern(s.Validation.Pattern); err != nil {
				problems = append(problems, fmt.Sprintf("step %q pattern: %v", s.ID, err))
			}
		}
		if s.SkipIf != "" {
			if _, err := v.cond.compile(s.SkipIf); err != nil {
				problems = append(problems, fmt.Sprintf("step %q skip_if: %v", s.ID, err))
			}
		}
	}
	oc := def.OnComplete
	switch oc.Action {
	case models.CompleteTriggerIntent:
		if oc.Intent == "" {
			problems = append(problems, "trigger_intent completion needs an intent")
		}
	case models.CompleteChainFlow:
		if oc.ChainFlow == "" {
			problems = append(problems, "chain_flow completion needs a chain_flow key")
		} else if oc.ChainFlow == def.Key {
			problems = append(problems, "chain_flow cannot chain to itself")
		}
	}
	return problems
}

func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		return []string{"/" + strings.Join(verr.InstanceLocation, "/") + ": " + verr.Error()}
	}
	var out []string
	for _, c := range verr.Causes {
		out = append(out, collectViolations(c)...)
	}
	return out
}

// ParseDefinition decodes a YAML definition.
func ParseDefinition(r io.Reader) (models.FlowDefinition, error) {
	var def models.FlowDefinition
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&def); err != nil {
		return models.FlowDefinition{}, fmt.Errorf("decode flow definition: %w", err)
	}
	return def, nil
}

// DefaultDefinitions returns the built-in lead-capture definitions.
func DefaultDefinitions() ([]models.FlowDefinition, error) {
	entries, err := defaultDefinitions.ReadDir("definitions")
	if err != nil {
		return nil, fmt.Errorf("read embedded definitions: %w", err)
	}
	var defs []models.FlowDefinition
	for _, e := range entries {
		f, err := defaultDefinitions.Open("definitions/" + e.Name())
		if err != nil {
			return nil, err
		}
		def, err := ParseDefinition(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.Name(), err)
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// LoadDefinitions reads every .yaml/.yml file in dir.
func LoadDefinitions(dir string) ([]models.FlowDefinition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read definitions dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if !e.IsDir() && (ext == ".yaml" || ext == ".yml") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	defs := make([]models.FlowDefinition, 0, len(names))
	for _, name := range names {
		f, err := os.Open(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		def, err := ParseDefinition(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// DefinitionSaver persists definitions.
type DefinitionSaver interface {
	SaveFlowDefinition(def models.FlowDefinition) error
}

// InstallDefinitions validates defs and saves the valid ones. Invalid
// definitions are logged and skipped; the first error is returned after all
// definitions were tried.
func InstallDefinitions(repo DefinitionSaver, v *DefinitionValidator, defs []models.FlowDefinition) error {
	var first error
	for i := range defs {
		def := &defs[i]
		if err := v.Validate(def); err != nil {
			slog.Error("InstallDefinitions: definition rejected", "key", def.Key, "error", err)
			if first == nil {
				first = err
			}
			continue
		}
		if err := repo.SaveFlowDefinition(*def); err != nil {
			return fmt.Errorf("save flow definition %s: %w", def.Key, err)
		}
		slog.Info("InstallDefinitions: definition installed", "key", def.Key, "steps", len(def.Steps))
	}
	return first
}

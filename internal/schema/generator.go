// File: internal/schema/generator.go
// Description: Builds the closed per-turn action schema from the active
// provider's live state, and validates model responses against it.
package schema

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pilot-cli/api/schemas"
)

// Generator produces one ActionSchema per turn.
type Generator struct {
	log *zap.Logger
}

// New creates a Generator.
func New(logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{log: logger.Named("schema")}
}

// Generate queries the active provider for its current capability variants
// and appends the two reserved variants: switch_provider (enumerated over the
// registered identifiers) and emit_recommendation. A provider exposing zero
// variants still yields a minimally valid schema; an empty legal-action set
// is not an error.
func (g *Generator) Generate(active schemas.Provider, registeredIDs []string) *schemas.ActionSchema {
	s := &schemas.ActionSchema{
		ID:       uuid.NewString(),
		Provider: active.ID(),
		Variants: active.Variants(),
	}

	s.Variants = append(s.Variants,
		schemas.ActionVariant{
			Name:    schemas.VariantSwitchProvider,
			Purpose: "Switch the active provider. Takes effect on the next turn.",
			Parameters: []schemas.ParameterSpec{
				{
					Name:     schemas.ParamProvider,
					Type:     schemas.ParamTypeEnum,
					Purpose:  "identifier of the provider to activate",
					Required: true,
					Enum:     registeredIDs,
				},
			},
		},
		schemas.ActionVariant{
			Name:    schemas.VariantEmitRecommendation,
			Purpose: "Conclude the mission with a final recommendation.",
			Parameters: []schemas.ParameterSpec{
				{Name: schemas.ParamPosition, Type: schemas.ParamTypeString, Purpose: "the recommended position or answer", Required: true},
				{Name: schemas.ParamJustifications, Type: schemas.ParamTypeString, Purpose: "newline-separated justifications", Required: true},
				{Name: schemas.ParamConfidence, Type: schemas.ParamTypeFloat, Purpose: "confidence in [0,1]", Required: false},
			},
		},
	)

	g.log.Debug("Action schema generated",
		zap.String("schema_id", s.ID),
		zap.String("provider", s.Provider),
		zap.Int("variants", len(s.Variants)))
	return s
}

// Validate checks a model response against the issued schema under a
// closed-world rule: the chosen variant must exist, every required parameter
// must be present, no unknown parameters are accepted, and typed or
// enumerated parameters must hold acceptable values. A nil chosen action is a
// violation: every turn must pick exactly one variant.
func Validate(s *schemas.ActionSchema, resp *schemas.ModelResponse) error {
	if resp == nil || resp.Action == nil {
		return &schemas.SchemaViolationError{SchemaID: s.ID, Cause: "response contains no chosen action"}
	}

	action := resp.Action
	variant := s.Variant(action.Variant)
	if variant == nil {
		return &schemas.SchemaViolationError{
			SchemaID: s.ID,
			Variant:  action.Variant,
			Cause:    "variant is not part of the issued schema",
		}
	}

	specs := make(map[string]schemas.ParameterSpec, len(variant.Parameters))
	for _, p := range variant.Parameters {
		specs[p.Name] = p
		if _, ok := action.Params[p.Name]; p.Required && !ok {
			return &schemas.SchemaViolationError{
				SchemaID: s.ID,
				Variant:  variant.Name,
				Cause:    fmt.Sprintf("required parameter %q is missing", p.Name),
			}
		}
	}

	for name, value := range action.Params {
		spec, ok := specs[name]
		if !ok {
			return &schemas.SchemaViolationError{
				SchemaID: s.ID,
				Variant:  variant.Name,
				Cause:    fmt.Sprintf("parameter %q is not part of variant %q", name, variant.Name),
			}
		}
		if err := checkValue(spec, value); err != nil {
			return &schemas.SchemaViolationError{
				SchemaID: s.ID,
				Variant:  variant.Name,
				Cause:    err.Error(),
			}
		}
	}
	return nil
}

// checkValue coerces and range-checks a single parameter value.
func checkValue(spec schemas.ParameterSpec, value string) error {
	switch spec.Type {
	case schemas.ParamTypeEnum:
		for _, allowed := range spec.Enum {
			if value == allowed {
				return nil
			}
		}
		return fmt.Errorf("parameter %q value %q is not in the current enumeration", spec.Name, value)
	case schemas.ParamTypeInt:
		if _, err := strconv.Atoi(value); err != nil {
			return fmt.Errorf("parameter %q value %q is not an integer", spec.Name, value)
		}
	case schemas.ParamTypeFloat:
		if _, err := strconv.ParseFloat(value, 64); err != nil {
			return fmt.Errorf("parameter %q value %q is not a number", spec.Name, value)
		}
	}
	return nil
}

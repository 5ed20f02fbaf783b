// File: api/schemas/actions.go
package schemas

import (
	"fmt"
	"sort"
	"strings"
)

// Reserved variant names. These are injected by the schema generator every
// turn and are legal regardless of which provider is active.
const (
	VariantSwitchProvider     = "switch_provider"
	VariantEmitRecommendation = "emit_recommendation"
)

// Reserved parameter names used by the injected variants.
const (
	ParamProvider       = "provider"
	ParamPosition       = "position"
	ParamJustifications = "justifications"
	ParamConfidence     = "confidence"
)

// ParamType constrains how a parameter value is interpreted during validation.
type ParamType string

const (
	ParamTypeString ParamType = "string"
	ParamTypeInt    ParamType = "int"
	ParamTypeFloat  ParamType = "float"
	// ParamTypeEnum values must be one of the ParameterSpec's Enum entries.
	// The enumeration is rebuilt from live provider state every turn.
	ParamTypeEnum ParamType = "enum"
)

// ParameterSpec describes a single typed, constrained parameter of an action
// variant.
type ParameterSpec struct {
	Name     string    `json:"name"`
	Type     ParamType `json:"type"`
	Purpose  string    `json:"purpose"`
	Required bool      `json:"required"`
	// Enum holds the acceptable values for ParamTypeEnum parameters,
	// enumerated from the issuing provider's current state (e.g. element
	// references) or from the registry (provider identifiers).
	Enum []string `json:"enum,omitempty"`
}

// ActionVariant is one legal action shape: a name, a natural-language purpose
// shown to the model, and its parameters.
type ActionVariant struct {
	Name       string          `json:"name"`
	Purpose    string          `json:"purpose"`
	Parameters []ParameterSpec `json:"parameters,omitempty"`
}

// ActionSchema is the closed enumeration of legal actions for exactly one
// turn. It is regenerated before every model call and never persisted across
// turns, since the provider state it encodes may have changed.
type ActionSchema struct {
	ID       string          `json:"id"`
	Provider string          `json:"provider"`
	Variants []ActionVariant `json:"variants"`
}

// Variant returns the named variant, or nil if the schema does not contain it.
func (s *ActionSchema) Variant(name string) *ActionVariant {
	for i := range s.Variants {
		if s.Variants[i].Name == name {
			return &s.Variants[i]
		}
	}
	return nil
}

// Render produces the textual form of the schema that is embedded in the
// model prompt. Variants are listed in declaration order; enumerations are
// spelled out so the model never has to guess a legal value.
func (s *ActionSchema) Render() string {
	var b strings.Builder
	b.WriteString("Legal actions for this turn:\n")
	for _, v := range s.Variants {
		fmt.Fprintf(&b, "- %s: %s\n", v.Name, v.Purpose)
		for _, p := range v.Parameters {
			req := "optional"
			if p.Required {
				req = "required"
			}
			fmt.Fprintf(&b, "    %s (%s, %s): %s", p.Name, p.Type, req, p.Purpose)
			if len(p.Enum) > 0 {
				fmt.Fprintf(&b, " [one of: %s]", strings.Join(p.Enum, ", "))
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

// ChosenAction is the model's selection of one schema variant with concrete
// parameter values. Parameter values arrive as strings and are coerced during
// validation according to the variant's ParameterSpec types.
type ChosenAction struct {
	Variant string            `json:"variant"`
	Params  map[string]string `json:"params,omitempty"`
}

// SortedParams returns the action's parameters as stable "k=v" pairs, for
// logging and for the operator approval prompt.
func (a *ChosenAction) SortedParams() []string {
	out := make([]string, 0, len(a.Params))
	for k, v := range a.Params {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// String renders the action compactly, e.g. `click{element=3}`.
func (a *ChosenAction) String() string {
	if len(a.Params) == 0 {
		return a.Variant + "{}"
	}
	return a.Variant + "{" + strings.Join(a.SortedParams(), " ") + "}"
}

// ModelResponse is the model's structured output for one turn. It must
// validate against the ActionSchema issued in the same turn; a response that
// fails validation is a protocol error, not a valid Turn.
type ModelResponse struct {
	Thoughts []string      `json:"thoughts"`
	Action   *ChosenAction `json:"action,omitempty"`
}

// Recommendation is the terminal artifact. Its presence, not its content, is
// what the loop controller inspects to decide to stop.
type Recommendation struct {
	Position       string   `json:"position"`
	Justifications []string `json:"justifications"`
	Confidence     float64  `json:"confidence"`
}

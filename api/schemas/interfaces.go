// File: api/schemas/interfaces.go
// Description: Cross-package contracts. Keeping them here lets concrete
// implementations live in internal/ packages without import cycles, and makes
// every boundary mockable in tests.
package schemas

import "context"

// Provider is a capability unit the loop can act through. Implementations are
// owned exclusively by the registry; nothing outside the loop controller may
// invoke Execute directly. Side effects are provider-local: a provider never
// observes or mutates another provider's state.
type Provider interface {
	// ID returns the stable identifier used for registration and switching.
	ID() string

	// Describe returns static usage text, included verbatim in the prompt.
	Describe() string

	// Variants returns the provider's legal action shapes given its current
	// internal state. An empty set is valid (e.g. a browser with no page
	// loaded exposes nothing clickable).
	Variants() []ActionVariant

	// Execute performs the action, mutates provider-local state, and returns
	// a fresh observation. Failures that the model should see and react to
	// are returned as *ProviderExecutionError; anything else is treated as a
	// transport fault.
	Execute(ctx context.Context, action *ChosenAction) (*Observation, error)

	// Close releases the provider's external resources (browser contexts,
	// SSH connections). Called once at mission shutdown.
	Close(ctx context.Context) error
}

// DecisionRequest is the model boundary input: the per-turn schema, the
// rendered context window, and the mission's system instructions.
type DecisionRequest struct {
	SystemPrompt string
	Schema       *ActionSchema
	Context      string
}

// LLMClient is the black-box model boundary. Decide must return structured,
// schema-conformant data or an error; conformance itself is checked by the
// caller, since only the caller holds the issued schema.
type LLMClient interface {
	Decide(ctx context.Context, req DecisionRequest) (*ModelResponse, error)

	// Summarize condenses text for history compaction. Implementations may
	// return an error; compaction then falls back to a deterministic digest.
	Summarize(ctx context.Context, text string) (string, error)
}

// Approver is the operator boundary: a confirmation gate before each
// dispatch. A rejection is recorded as a corrective turn, not a crash.
type Approver interface {
	Approve(action *ChosenAction, provider string) (bool, error)
}

// MissionLog is the append-only persisted record of every turn. Compaction
// summaries must be reconstructable from it; the concrete sink (file,
// Postgres) is chosen by configuration.
type MissionLog interface {
	Append(ctx context.Context, missionID string, turn *Turn) error
	Close(ctx context.Context) error
}

// File: api/schemas/turns.go
package schemas

import (
	"fmt"
	"strings"
	"time"
)

// TurnKind discriminates the outcome a Turn records.
type TurnKind string

const (
	// TurnAction is a normal observe-think-act cycle that dispatched an action.
	TurnAction TurnKind = "action"
	// TurnViolation records a model response that failed schema validation.
	TurnViolation TurnKind = "violation"
	// TurnDenied records an action the operator rejected at the approval gate.
	TurnDenied TurnKind = "denied"
	// TurnSwitch records a provider switch.
	TurnSwitch TurnKind = "switch"
	// TurnRecommendation records the terminal emit_recommendation action.
	TurnRecommendation TurnKind = "recommendation"
	// TurnSummary is a synthetic turn standing in for a compacted prefix.
	TurnSummary TurnKind = "summary"
)

// ElementRef identifies one interactive element enumerated by the browser
// provider. Refs are valid only within the observation that listed them.
type ElementRef struct {
	Ref   int    `json:"ref"`
	Label string `json:"label"`
}

// Observation is the result of executing one action on a provider: rendered
// page text with enumerated elements, captured command output, or an image
// handle. Observations are owned by the issuing provider and refreshed only
// by executing an action on it.
type Observation struct {
	Provider string `json:"provider"`
	// Summary is a one-line description suitable for compaction digests.
	Summary string `json:"summary"`
	// Body is the full observation text shown to the model.
	Body     string       `json:"body,omitempty"`
	Elements []ElementRef `json:"elements,omitempty"`
	// ExitCode carries the remote command status for terminal observations.
	ExitCode int `json:"exit_code,omitempty"`
	// ImagePath is the handle of a captured screenshot, if any.
	ImagePath  string    `json:"image_path,omitempty"`
	CapturedAt time.Time `json:"captured_at"`
}

// Turn is an immutable record of one loop iteration. It is created once by
// the loop controller, appended to the history, and never mutated afterwards.
// Turns are only ever discarded in bulk, by compaction.
type Turn struct {
	Index     int            `json:"index"`
	Kind      TurnKind       `json:"kind"`
	Provider  string         `json:"provider"`
	SchemaID  string         `json:"schema_id"`
	Response  *ModelResponse `json:"response,omitempty"`
	Action    *ChosenAction  `json:"action,omitempty"`
	Result    *Observation   `json:"result,omitempty"`
	// Err holds the human-readable cause when the turn recorded a
	// validation failure or a provider execution error.
	Err       string    `json:"err,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Failed reports whether the turn recorded an error of any kind.
func (t *Turn) Failed() bool {
	return t.Err != "" || t.Kind == TurnViolation || t.Kind == TurnDenied
}

// RenderText produces the textual form of the turn for inclusion in the
// model prompt. It is deliberately compact: thoughts are the model's own and
// are replayed verbatim, observations are replayed in full.
func (t *Turn) RenderText() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[turn %d, %s]", t.Index, t.Kind)
	if t.Provider != "" {
		fmt.Fprintf(&b, " provider=%s", t.Provider)
	}
	b.WriteString("\n")

	if t.Response != nil && len(t.Response.Thoughts) > 0 {
		b.WriteString("thoughts:\n")
		for _, th := range t.Response.Thoughts {
			fmt.Fprintf(&b, "  - %s\n", th)
		}
	}
	if t.Action != nil {
		fmt.Fprintf(&b, "action: %s\n", t.Action.String())
	}
	if t.Err != "" {
		fmt.Fprintf(&b, "error: %s\n", t.Err)
	}
	if t.Result != nil {
		fmt.Fprintf(&b, "observation (%s):\n%s\n", t.Result.Summary, t.Result.Body)
		if t.Result.ExitCode != 0 {
			fmt.Fprintf(&b, "exit code: %d\n", t.Result.ExitCode)
		}
		if t.Result.ImagePath != "" {
			fmt.Fprintf(&b, "screenshot: %s\n", t.Result.ImagePath)
		}
	}
	return b.String()
}

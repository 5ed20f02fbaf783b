// File: internal/loop/states.go
package loop

// State is the controller's position in the observe-think-act cycle. States
// exist for observability and tests; transitions are driven entirely by Run.
type State string

const (
	// StateIdle is the state before Run and after Resume.
	StateIdle State = "idle"
	// StateAwaitingSchema is generating the turn's action schema.
	StateAwaitingSchema State = "awaiting_schema"
	// StateAwaitingResponse is waiting on the model.
	StateAwaitingResponse State = "awaiting_response"
	// StateValidating is checking the response against the issued schema.
	StateValidating State = "validating"
	// StateDispatching is executing the validated action on a provider.
	StateDispatching State = "dispatching"
	// StateObserving is folding the execution result into the history.
	StateObserving State = "observing"
	// StateDeciding is between turns: the next schema has not been issued yet.
	StateDeciding State = "deciding"
	// StateDone is reached when the model emits a recommendation. It is not
	// final: Resume re-enters the loop with history intact.
	StateDone State = "done"
	// StateAborted is terminal: retry budget exhausted, transport dead, or
	// the turn limit hit.
	StateAborted State = "aborted"
)

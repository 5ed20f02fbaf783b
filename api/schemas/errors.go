// File: api/schemas/errors.go
package schemas

import "fmt"

// SchemaViolationError reports a model response that does not conform to the
// ActionSchema issued in the same turn. It is recoverable: the loop records a
// violation turn, informs the model, and retries with the same schema, up to
// a configurable budget.
type SchemaViolationError struct {
	SchemaID string
	Variant  string
	Cause    string
}

func (e *SchemaViolationError) Error() string {
	if e.Variant != "" {
		return fmt.Sprintf("schema violation (schema %s, variant %q): %s", e.SchemaID, e.Variant, e.Cause)
	}
	return fmt.Sprintf("schema violation (schema %s): %s", e.SchemaID, e.Cause)
}

// ProviderExecutionError reports an action that was well-formed but failed at
// the provider (invalid element reference, unreachable host, command error).
// It is captured into the turn record as something the model can see and
// react to; it never aborts the loop by itself.
type ProviderExecutionError struct {
	Provider string
	Action   string
	Cause    error
}

func (e *ProviderExecutionError) Error() string {
	return fmt.Sprintf("provider %s failed to execute %s: %v", e.Provider, e.Action, e.Cause)
}

func (e *ProviderExecutionError) Unwrap() error { return e.Cause }

// UnknownProviderError reports a switch to an unregistered provider
// identifier. The active provider is left unchanged.
type UnknownProviderError struct {
	ID         string
	Registered []string
}

func (e *UnknownProviderError) Error() string {
	return fmt.Sprintf("unknown provider %q (registered: %v)", e.ID, e.Registered)
}

// CompactionError reports a failed history compaction. Policy: retry with a
// smaller prefix; turns are never dropped silently.
type CompactionError struct {
	PrefixLen int
	Cause     error
}

func (e *CompactionError) Error() string {
	return fmt.Sprintf("compaction of %d-turn prefix failed: %v", e.PrefixLen, e.Cause)
}

func (e *CompactionError) Unwrap() error { return e.Cause }

// FatalTransportError reports a permanently unreachable model or provider
// transport. It surfaces to the operator and halts the loop in Aborted; it is
// never swallowed.
type FatalTransportError struct {
	Transport string
	Cause     error
}

func (e *FatalTransportError) Error() string {
	return fmt.Sprintf("transport %s permanently unreachable: %v", e.Transport, e.Cause)
}

func (e *FatalTransportError) Unwrap() error { return e.Cause }

// File: internal/history/compact.go
package history

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/pilot-cli/api/schemas"
)

// compactionFloor accumulates the facts compaction must never lose: every
// provider switch, every execution or validation error, and the most recent
// observation from every provider touched so far. Later turns may depend on
// these implicitly, so dropping any of them is a correctness bug.
type compactionFloor struct {
	switches  []string
	errors    []string
	latestObs map[string]string
	compacted int
}

func newCompactionFloor() compactionFloor {
	return compactionFloor{latestObs: make(map[string]string)}
}

// absorb folds one compacted turn into the floor.
func (f *compactionFloor) absorb(t *schemas.Turn) {
	f.compacted++
	if t.Kind == schemas.TurnSwitch && t.Action != nil {
		f.switches = append(f.switches,
			fmt.Sprintf("turn %d: switched to %s", t.Index, t.Action.Params[schemas.ParamProvider]))
	}
	if t.Failed() {
		f.errors = append(f.errors, fmt.Sprintf("turn %d (%s): %s", t.Index, t.Kind, t.Err))
	}
	if t.Result != nil && t.Result.Provider != "" {
		f.latestObs[t.Result.Provider] = fmt.Sprintf("turn %d: %s", t.Index, t.Result.Summary)
	}
}

// digest renders the floor deterministically.
func (f *compactionFloor) digest() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d earlier turns were compacted.\n", f.compacted)
	if len(f.switches) > 0 {
		b.WriteString("Provider switches:\n")
		for _, s := range f.switches {
			fmt.Fprintf(&b, "  - %s\n", s)
		}
	}
	if len(f.errors) > 0 {
		b.WriteString("Errors encountered:\n")
		for _, e := range f.errors {
			fmt.Fprintf(&b, "  - %s\n", e)
		}
	}
	if len(f.latestObs) > 0 {
		b.WriteString("Latest observation per provider:\n")
		providers := make([]string, 0, len(f.latestObs))
		for p := range f.latestObs {
			providers = append(providers, p)
		}
		sort.Strings(providers)
		for _, p := range providers {
			fmt.Fprintf(&b, "  - %s: %s\n", p, f.latestObs[p])
		}
	}
	return b.String()
}

// NeedsCompaction reports whether the rendered window exceeds the budget.
func (h *History) NeedsCompaction() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.opts.BudgetChars > 0 &&
		len(h.turns) > h.opts.Window &&
		h.renderedSizeLocked() > h.opts.BudgetChars
}

// Compact replaces the oldest prefix (everything outside the verbatim window)
// with a single synthetic summary turn. It is idempotent: compacting an
// already-compacted history with no new turns is a no-op beyond
// re-summarizing the (empty) new prefix, and the retained suffix is never
// reordered.
//
// The summary always embeds the deterministic floor digest; a configured
// summarizer adds a narrative on top. Summarizer failures follow the
// CompactionError policy: retry with a smaller prefix, and when even the
// smallest prefix fails, fall back to the digest alone rather than dropping
// turns silently.
func (h *History) Compact(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.turns) <= h.opts.Window {
		return nil
	}

	cut := len(h.turns) - h.opts.Window
	prefix := h.turns[:cut]

	for _, t := range prefix {
		h.floor.absorb(&t)
	}

	narrative, err := h.summarizePrefix(ctx, prefix)
	if err != nil {
		// The digest floor is always available; record the failure but do
		// not lose the turns.
		h.log.Warn("Model summarization failed, using digest only", zap.Error(err))
	}

	body := h.floor.digest()
	if narrative != "" {
		body = body + "\nSummary of compacted turns:\n" + narrative
	}

	summary := schemas.Turn{
		// The summary inherits the index of the first retained turn minus
		// one so causal order of the rendered view is preserved.
		Index:    h.turns[cut].Index - 1,
		Kind:     schemas.TurnSummary,
		Result:   &schemas.Observation{Summary: "compacted history", Body: body},
		Response: nil,
	}
	h.summary = &summary

	// Drop the prefix; copy so the backing array does not pin dropped turns.
	retained := make([]schemas.Turn, len(h.turns)-cut)
	copy(retained, h.turns[cut:])
	h.turns = retained

	h.log.Info("History compacted",
		zap.Int("compacted_turns", cut),
		zap.Int("retained_turns", len(h.turns)),
		zap.Int("total_compacted", h.floor.compacted))
	return nil
}

// summarizePrefix asks the summarizer for a narrative, halving the prefix on
// failure. Returns empty text once no prefix size succeeds.
func (h *History) summarizePrefix(ctx context.Context, prefix []schemas.Turn) (string, error) {
	if h.opts.Summarizer == nil || len(prefix) == 0 {
		return "", nil
	}

	var lastErr error
	for size := len(prefix); size > 0; size /= 2 {
		var b strings.Builder
		for i := len(prefix) - size; i < len(prefix); i++ {
			b.WriteString(prefix[i].RenderText())
			b.WriteString("\n")
		}
		narrative, err := h.opts.Summarizer.Summarize(ctx, b.String())
		if err == nil {
			return narrative, nil
		}
		lastErr = &schemas.CompactionError{PrefixLen: size, Cause: err}
		h.log.Debug("Summarization attempt failed, retrying with smaller prefix",
			zap.Int("prefix", size), zap.Error(err))
	}
	return "", lastErr
}

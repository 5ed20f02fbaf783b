// File: internal/history/history.go
// Description: Owns the ordered turn history and renders the bounded window
// fed to the model. The history is append-only in real time; the only
// operation allowed to discard information is compaction (see compact.go).
package history

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/pilot-cli/api/schemas"
)

// Summarizer condenses a compacted prefix into narrative text. The LLM client
// satisfies this; a nil summarizer selects the deterministic digest.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

// Options configures a History.
type Options struct {
	// Window is K: how many recent turns render verbatim.
	Window int
	// BudgetChars triggers compaction when the rendered context exceeds it.
	BudgetChars int
	// Summarizer is optional; nil means deterministic digests only.
	Summarizer Summarizer
}

// History maintains the ordered sequence of turns plus the compaction state.
// It is safe for concurrent reads, though the loop controller is the only
// writer by design.
type History struct {
	mu   sync.RWMutex
	log  *zap.Logger
	opts Options

	// turns is the retained suffix; ordering is total and monotonic.
	turns []schemas.Turn
	// summary stands in for every compacted turn, or is nil before the
	// first compaction.
	summary *schemas.Turn
	// floor accumulates what compaction must never lose.
	floor compactionFloor

	nextIndex int
}

// New creates a History.
func New(opts Options, logger *zap.Logger) *History {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Window <= 0 {
		opts.Window = 10
	}
	return &History{
		log:   logger.Named("history"),
		opts:  opts,
		floor: newCompactionFloor(),
	}
}

// Append records a completed turn. The turn's index is assigned here so that
// ordering is total and monotonic regardless of caller bookkeeping. Turns are
// never mutated after this point.
func (h *History) Append(turn schemas.Turn) schemas.Turn {
	h.mu.Lock()
	defer h.mu.Unlock()

	turn.Index = h.nextIndex
	h.nextIndex++
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now().UTC()
	}
	h.turns = append(h.turns, turn)

	h.log.Debug("Turn appended",
		zap.Int("index", turn.Index),
		zap.String("kind", string(turn.Kind)),
		zap.String("provider", turn.Provider))
	return turn
}

// Len returns the number of retained turns, excluding the summary.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.turns)
}

// Render returns the bounded view for the next model call: the synthetic
// summary turn (if compaction has occurred) followed by at most Window recent
// turns, verbatim and in causal order.
func (h *History) Render() []schemas.Turn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.renderLocked()
}

func (h *History) renderLocked() []schemas.Turn {
	var out []schemas.Turn
	if h.summary != nil {
		out = append(out, *h.summary)
	}
	start := 0
	if len(h.turns) > h.opts.Window {
		start = len(h.turns) - h.opts.Window
	}
	out = append(out, h.turns[start:]...)
	return out
}

// RenderText renders the window as prompt text.
func (h *History) RenderText() string {
	rendered := h.Render()
	var size int
	for i := range rendered {
		size += len(rendered[i].RenderText())
	}
	buf := make([]byte, 0, size+len(rendered))
	for i := range rendered {
		buf = append(buf, rendered[i].RenderText()...)
		buf = append(buf, '\n')
	}
	return string(buf)
}

// renderedSizeLocked approximates the prompt cost of the current window.
func (h *History) renderedSizeLocked() int {
	var size int
	for _, t := range h.renderLocked() {
		size += len(t.RenderText())
	}
	return size
}

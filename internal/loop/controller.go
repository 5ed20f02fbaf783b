// File: internal/loop/controller.go
// Description: The observe-think-act controller. Each turn it regenerates the
// action schema from live provider state, asks the model for one decision,
// validates it under the closed-world rule, gates it past the operator, and
// dispatches it on the provider that issued the schema.
package loop

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pilot-cli/api/schemas"
	"github.com/xkilldash9x/pilot-cli/internal/config"
	"github.com/xkilldash9x/pilot-cli/internal/history"
	"github.com/xkilldash9x/pilot-cli/internal/registry"
	"github.com/xkilldash9x/pilot-cli/internal/schema"
)

// Options wires the controller's collaborators.
type Options struct {
	Config    config.LoopConfig
	Objective string
	Registry  *registry.Registry
	Generator *schema.Generator
	History   *history.History
	LLM       schemas.LLMClient
	// Approver gates every dispatch. Nil disables the gate (unattended runs).
	Approver   schemas.Approver
	MissionLog schemas.MissionLog
	MissionID  string
}

// Controller owns the loop state machine. It is the single writer of the
// history and the only caller of Provider.Execute.
type Controller struct {
	cfg       config.LoopConfig
	objective string
	missionID string
	log       *zap.Logger

	registry   *registry.Registry
	generator  *schema.Generator
	history    *history.History
	llm        schemas.LLMClient
	approver   schemas.Approver
	missionLog schemas.MissionLog

	state State
	// violations counts consecutive schema violations; any conformant
	// response resets it. Operator denials do not count.
	violations int
	turnCount  int

	recommendation *schemas.Recommendation
}

// New creates a loop controller.
func New(opts Options, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	missionID := opts.MissionID
	if missionID == "" {
		missionID = uuid.NewString()
	}
	return &Controller{
		cfg:        opts.Config,
		objective:  opts.Objective,
		missionID:  missionID,
		log:        logger.Named("loop").With(zap.String("mission_id", missionID)),
		registry:   opts.Registry,
		generator:  opts.Generator,
		history:    opts.History,
		llm:        opts.LLM,
		approver:   opts.Approver,
		missionLog: opts.MissionLog,
		state:      StateIdle,
	}
}

// MissionID returns the mission's stable identifier.
func (c *Controller) MissionID() string { return c.missionID }

// State returns the controller's current state.
func (c *Controller) State() State { return c.state }

// Recommendation returns the terminal artifact, or nil before StateDone.
func (c *Controller) Recommendation() *schemas.Recommendation { return c.recommendation }

// Run drives the loop until the model emits a recommendation, the retry or
// turn budget is exhausted, or the context is cancelled. It may be called
// again after Resume to continue the same mission.
func (c *Controller) Run(ctx context.Context) (*schemas.Recommendation, error) {
	if c.state == StateAborted {
		return nil, fmt.Errorf("mission %s is aborted and cannot be resumed", c.missionID)
	}
	if c.state == StateDone {
		return c.recommendation, nil
	}

	c.log.Info("Mission started",
		zap.String("objective", c.objective),
		zap.String("initial_provider", c.registry.ActiveID()))

	for {
		if err := ctx.Err(); err != nil {
			c.state = StateAborted
			return nil, fmt.Errorf("mission cancelled: %w", err)
		}
		if c.cfg.MaxTurns > 0 && c.turnCount >= c.cfg.MaxTurns {
			c.state = StateAborted
			return nil, fmt.Errorf("mission aborted: turn limit of %d reached", c.cfg.MaxTurns)
		}

		if c.history.NeedsCompaction() {
			if err := c.history.Compact(ctx); err != nil {
				c.log.Warn("History compaction failed", zap.Error(err))
			}
		}

		done, err := c.runTurn(ctx)
		if err != nil {
			c.state = StateAborted
			return nil, err
		}
		if done {
			c.state = StateDone
			c.log.Info("Mission concluded", zap.Int("turns", c.turnCount))
			return c.recommendation, nil
		}
	}
}

// Resume re-enters the loop after a recommendation, keeping history and
// provider state intact. The previous recommendation stays readable until the
// model emits a new one.
func (c *Controller) Resume() error {
	if c.state != StateDone {
		return fmt.Errorf("cannot resume from state %q", c.state)
	}
	c.state = StateIdle
	c.log.Info("Mission resumed")
	return nil
}

// runTurn executes one full turn. Schema violations loop here against the
// SAME issued schema until the model conforms or the retry budget runs out;
// provider state has not changed, so regenerating would be wasted motion.
func (c *Controller) runTurn(ctx context.Context) (bool, error) {
	c.state = StateAwaitingSchema
	active := c.registry.Active()
	if active == nil {
		return false, fmt.Errorf("no active provider registered")
	}
	issued := c.generator.Generate(active, c.registry.IDs())

	for {
		c.state = StateAwaitingResponse
		resp, err := c.llm.Decide(ctx, schemas.DecisionRequest{
			SystemPrompt: c.systemPrompt(active),
			Schema:       issued,
			Context:      c.history.RenderText(),
		})
		if err != nil {
			var fatal *schemas.FatalTransportError
			if errors.As(err, &fatal) {
				return false, fmt.Errorf("model transport failed: %w", err)
			}
			// Unparseable output is a protocol failure the model can correct;
			// it consumes retry budget like any other violation.
			if exhausted := c.recordViolation(ctx, issued, nil, err.Error()); exhausted {
				return false, c.abortOnViolations()
			}
			continue
		}

		c.state = StateValidating
		if err := schema.Validate(issued, resp); err != nil {
			if exhausted := c.recordViolation(ctx, issued, resp, err.Error()); exhausted {
				return false, c.abortOnViolations()
			}
			continue
		}

		c.violations = 0
		return c.dispatch(ctx, active, issued, resp)
	}
}

// dispatch routes one validated action: conclude, switch, or execute on the
// provider that issued the schema.
func (c *Controller) dispatch(ctx context.Context, active schemas.Provider, issued *schemas.ActionSchema, resp *schemas.ModelResponse) (bool, error) {
	action := resp.Action

	if c.approver != nil {
		approved, err := c.approver.Approve(action, active.ID())
		if err != nil {
			return false, fmt.Errorf("operator approval failed: %w", err)
		}
		if !approved {
			// A denial is corrective feedback, not a model failure: it is
			// recorded for the model to see but consumes no retry budget.
			c.record(ctx, schemas.Turn{
				Kind:     schemas.TurnDenied,
				Provider: active.ID(),
				SchemaID: issued.ID,
				Response: resp,
				Action:   action,
				Err:      "the operator rejected this action; choose a different approach",
			})
			c.state = StateDeciding
			return false, nil
		}
	}

	switch action.Variant {
	case schemas.VariantEmitRecommendation:
		rec := recommendationFromParams(action.Params)
		c.recommendation = rec
		c.record(ctx, schemas.Turn{
			Kind:     schemas.TurnRecommendation,
			Provider: active.ID(),
			SchemaID: issued.ID,
			Response: resp,
			Action:   action,
			Result: &schemas.Observation{
				Provider: active.ID(),
				Summary:  fmt.Sprintf("recommendation emitted: %s", rec.Position),
			},
		})
		return true, nil

	case schemas.VariantSwitchProvider:
		target := action.Params[schemas.ParamProvider]
		if _, err := c.registry.Switch(target); err != nil {
			// The enum validation makes this unreachable unless the registry
			// changed mid-turn; surface it to the model either way.
			c.record(ctx, schemas.Turn{
				Kind:     schemas.TurnAction,
				Provider: active.ID(),
				SchemaID: issued.ID,
				Response: resp,
				Action:   action,
				Err:      err.Error(),
			})
			c.state = StateDeciding
			return false, nil
		}
		// The switch takes effect for the NEXT schema generation; this turn
		// still belongs to the provider that issued the schema.
		c.record(ctx, schemas.Turn{
			Kind:     schemas.TurnSwitch,
			Provider: target,
			SchemaID: issued.ID,
			Response: resp,
			Action:   action,
			Result: &schemas.Observation{
				Provider: target,
				Summary:  fmt.Sprintf("switched to provider %s", target),
			},
		})
		c.state = StateDeciding
		return false, nil

	default:
		c.state = StateDispatching
		obs, err := active.Execute(ctx, action)
		c.state = StateObserving

		turn := schemas.Turn{
			Kind:     schemas.TurnAction,
			Provider: active.ID(),
			SchemaID: issued.ID,
			Response: resp,
			Action:   action,
			Result:   obs,
		}
		if err != nil {
			// Execution failures are observations for the model, not loop
			// failures. Only the transport dying aborts a mission.
			turn.Err = err.Error()
			c.log.Warn("Action execution failed",
				zap.String("action", action.String()),
				zap.Error(err))
		}
		c.record(ctx, turn)
		c.state = StateDeciding
		return false, nil
	}
}

// recordViolation appends a violation turn carrying the model-readable cause
// and reports whether the retry budget is now exhausted.
func (c *Controller) recordViolation(ctx context.Context, issued *schemas.ActionSchema, resp *schemas.ModelResponse, cause string) bool {
	c.violations++
	c.log.Warn("Schema violation",
		zap.String("schema_id", issued.ID),
		zap.Int("consecutive", c.violations),
		zap.String("cause", cause))

	c.record(ctx, schemas.Turn{
		Kind:     schemas.TurnViolation,
		Provider: issued.Provider,
		SchemaID: issued.ID,
		Response: resp,
		Err:      fmt.Sprintf("your response violated the action schema: %s", cause),
	})
	return c.violations >= c.cfg.MaxRetries
}

func (c *Controller) abortOnViolations() error {
	return fmt.Errorf("mission aborted: %d consecutive schema violations", c.violations)
}

// record appends the turn to the in-memory history and the persistent
// mission log. A sink failure is logged but never stops the mission.
func (c *Controller) record(ctx context.Context, turn schemas.Turn) {
	appended := c.history.Append(turn)
	c.turnCount++

	if c.missionLog != nil {
		if err := c.missionLog.Append(ctx, c.missionID, &appended); err != nil {
			c.log.Error("Mission log append failed",
				zap.Int("turn", appended.Index), zap.Error(err))
		}
	}
}

// systemPrompt assembles the static instructions for one model call.
func (c *Controller) systemPrompt(active schemas.Provider) string {
	var b strings.Builder
	b.WriteString("You are an autonomous agent pursuing this objective:\n")
	b.WriteString(c.objective)
	b.WriteString("\n\nActive capability: ")
	b.WriteString(active.ID())
	b.WriteString("\n")
	b.WriteString(active.Describe())
	b.WriteString("\n\nAct through the legal actions only. When the objective is met, conclude with ")
	b.WriteString(schemas.VariantEmitRecommendation)
	b.WriteString(".")
	return b.String()
}

// recommendationFromParams converts validated action parameters into the
// terminal artifact.
func recommendationFromParams(params map[string]string) *schemas.Recommendation {
	rec := &schemas.Recommendation{
		Position: params[schemas.ParamPosition],
	}
	for _, line := range strings.Split(params[schemas.ParamJustifications], "\n") {
		if line = strings.TrimSpace(line); line != "" {
			rec.Justifications = append(rec.Justifications, line)
		}
	}
	if raw, ok := params[schemas.ParamConfidence]; ok {
		if confidence, err := strconv.ParseFloat(raw, 64); err == nil {
			rec.Confidence = confidence
		}
	}
	return rec
}

// File: internal/loop/controller_test.go
package loop

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pilot-cli/api/schemas"
	"github.com/xkilldash9x/pilot-cli/internal/config"
	"github.com/xkilldash9x/pilot-cli/internal/history"
	"github.com/xkilldash9x/pilot-cli/internal/registry"
	"github.com/xkilldash9x/pilot-cli/internal/schema"
)

// -- Fakes --

type fakeProvider struct {
	id       string
	executed []*schemas.ChosenAction
	execErr  error
}

func (p *fakeProvider) ID() string       { return p.id }
func (p *fakeProvider) Describe() string { return "fake " + p.id }
func (p *fakeProvider) Variants() []schemas.ActionVariant {
	return []schemas.ActionVariant{
		{
			Name:    "run",
			Purpose: "run something",
			Parameters: []schemas.ParameterSpec{
				{Name: "command", Type: schemas.ParamTypeString, Purpose: "cmd", Required: true},
			},
		},
	}
}
func (p *fakeProvider) Execute(_ context.Context, action *schemas.ChosenAction) (*schemas.Observation, error) {
	p.executed = append(p.executed, action)
	if p.execErr != nil {
		return nil, p.execErr
	}
	return &schemas.Observation{
		Provider: p.id,
		Summary:  fmt.Sprintf("ran %s", action.Params["command"]),
		Body:     "ok",
	}, nil
}
func (p *fakeProvider) Close(_ context.Context) error { return nil }

type llmStep struct {
	resp *schemas.ModelResponse
	err  error
}

type scriptedLLM struct {
	steps    []llmStep
	i        int
	requests []schemas.DecisionRequest
}

func (s *scriptedLLM) Decide(_ context.Context, req schemas.DecisionRequest) (*schemas.ModelResponse, error) {
	s.requests = append(s.requests, req)
	if s.i >= len(s.steps) {
		return nil, fmt.Errorf("script exhausted after %d calls", s.i)
	}
	step := s.steps[s.i]
	s.i++
	return step.resp, step.err
}

func (s *scriptedLLM) Summarize(_ context.Context, _ string) (string, error) {
	return "summary", nil
}

type scriptedApprover struct {
	denials int
	seen    []*schemas.ChosenAction
}

func (a *scriptedApprover) Approve(action *schemas.ChosenAction, _ string) (bool, error) {
	a.seen = append(a.seen, action)
	if a.denials > 0 {
		a.denials--
		return false, nil
	}
	return true, nil
}

type capturingLog struct {
	appends []schemas.Turn
}

func (l *capturingLog) Append(_ context.Context, _ string, turn *schemas.Turn) error {
	l.appends = append(l.appends, *turn)
	return nil
}
func (l *capturingLog) Close(_ context.Context) error { return nil }

// -- Helpers --

func respond(variant string, kv ...string) llmStep {
	params := map[string]string{}
	for i := 0; i+1 < len(kv); i += 2 {
		params[kv[i]] = kv[i+1]
	}
	return llmStep{resp: &schemas.ModelResponse{
		Thoughts: []string{"thinking"},
		Action:   &schemas.ChosenAction{Variant: variant, Params: params},
	}}
}

func recommend() llmStep {
	return respond(schemas.VariantEmitRecommendation,
		"position", "ship it",
		"justifications", "tested\nstable",
		"confidence", "0.9")
}

type fixture struct {
	controller *Controller
	terminal   *fakeProvider
	browser    *fakeProvider
	llm        *scriptedLLM
	missionLog *capturingLog
	history    *history.History
}

func newFixture(t *testing.T, cfg config.LoopConfig, steps ...llmStep) *fixture {
	t.Helper()

	reg := registry.New(zap.NewNop())
	terminal := &fakeProvider{id: "terminal"}
	browser := &fakeProvider{id: "browser"}
	reg.Register(terminal)
	reg.Register(browser)

	llm := &scriptedLLM{steps: steps}
	missionLog := &capturingLog{}
	hist := history.New(history.Options{Window: 50}, zap.NewNop())

	controller := New(Options{
		Config:     cfg,
		Objective:  "find out whether the service is healthy",
		Registry:   reg,
		Generator:  schema.New(zap.NewNop()),
		History:    hist,
		LLM:        llm,
		MissionLog: missionLog,
		MissionID:  "mission-test",
	}, zap.NewNop())

	return &fixture{
		controller: controller,
		terminal:   terminal,
		browser:    browser,
		llm:        llm,
		missionLog: missionLog,
		history:    hist,
	}
}

func defaultCfg() config.LoopConfig {
	return config.LoopConfig{MaxRetries: 3}
}

// -- Tests --

func TestRunHappyPath(t *testing.T) {
	t.Parallel()

	f := newFixture(t, defaultCfg(),
		respond("run", "command", "uptime"),
		recommend(),
	)

	rec, err := f.controller.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "ship it", rec.Position)
	assert.Equal(t, []string{"tested", "stable"}, rec.Justifications)
	assert.InDelta(t, 0.9, rec.Confidence, 1e-9)
	assert.Equal(t, StateDone, f.controller.State())

	require.Len(t, f.terminal.executed, 1)
	assert.Equal(t, "uptime", f.terminal.executed[0].Params["command"])

	require.Len(t, f.missionLog.appends, 2)
	assert.Equal(t, schemas.TurnAction, f.missionLog.appends[0].Kind)
	assert.Equal(t, schemas.TurnRecommendation, f.missionLog.appends[1].Kind)
}

func TestViolationRetriesAgainstSameSchema(t *testing.T) {
	t.Parallel()

	f := newFixture(t, defaultCfg(),
		respond("teleport"),
		respond("run", "command", "uptime"),
		recommend(),
	)

	_, err := f.controller.Run(context.Background())
	require.NoError(t, err)

	// Both attempts of the first turn must cite the same issued schema.
	require.GreaterOrEqual(t, len(f.llm.requests), 2)
	assert.Equal(t, f.llm.requests[0].Schema.ID, f.llm.requests[1].Schema.ID,
		"violations are retried against the schema that was issued, not a fresh one")

	// The violation is visible to the model on the retry.
	assert.Contains(t, f.llm.requests[1].Context, "violated the action schema")
	assert.Equal(t, schemas.TurnViolation, f.missionLog.appends[0].Kind)
}

func TestConsecutiveViolationsAbort(t *testing.T) {
	t.Parallel()

	f := newFixture(t, config.LoopConfig{MaxRetries: 2},
		respond("teleport"),
		respond("teleport"),
	)

	_, err := f.controller.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 consecutive schema violations")
	assert.Equal(t, StateAborted, f.controller.State())
	assert.Empty(t, f.terminal.executed)

	_, err = f.controller.Run(context.Background())
	assert.Error(t, err, "an aborted mission cannot run again")
}

func TestUnparseableResponseConsumesRetryBudget(t *testing.T) {
	t.Parallel()

	f := newFixture(t, defaultCfg(),
		llmStep{err: fmt.Errorf("failed to unmarshal LLM JSON response")},
		respond("run", "command", "uptime"),
		recommend(),
	)

	rec, err := f.controller.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, schemas.TurnViolation, f.missionLog.appends[0].Kind)
}

func TestSwitchProviderTakesEffectNextTurn(t *testing.T) {
	t.Parallel()

	f := newFixture(t, defaultCfg(),
		respond(schemas.VariantSwitchProvider, "provider", "browser"),
		respond("run", "command", "check page"),
		recommend(),
	)

	_, err := f.controller.Run(context.Background())
	require.NoError(t, err)

	// The switch turn's schema came from the terminal; the next from the browser.
	assert.Equal(t, "terminal", f.llm.requests[0].Schema.Provider)
	assert.Equal(t, "browser", f.llm.requests[1].Schema.Provider)

	assert.Empty(t, f.terminal.executed)
	require.Len(t, f.browser.executed, 1)

	assert.Equal(t, schemas.TurnSwitch, f.missionLog.appends[0].Kind)
}

func TestOperatorDenialIsRecordedWithoutRetryCost(t *testing.T) {
	t.Parallel()

	f := newFixture(t, config.LoopConfig{MaxRetries: 1},
		respond("run", "command", "rm -rf /"),
		respond("run", "command", "ls /"),
		recommend(),
	)
	approver := &scriptedApprover{denials: 1}
	f.controller.approver = approver

	rec, err := f.controller.Run(context.Background())
	require.NoError(t, err, "a denial must not hit the violation budget even at MaxRetries=1")
	require.NotNil(t, rec)

	assert.Equal(t, schemas.TurnDenied, f.missionLog.appends[0].Kind)
	require.Len(t, f.terminal.executed, 1)
	assert.Equal(t, "ls /", f.terminal.executed[0].Params["command"])
	assert.Len(t, approver.seen, 3)
}

func TestProviderExecutionErrorIsObservedNotFatal(t *testing.T) {
	t.Parallel()

	f := newFixture(t, defaultCfg(),
		respond("run", "command", "uptime"),
		recommend(),
	)
	f.terminal.execErr = &schemas.ProviderExecutionError{
		Provider: "terminal",
		Action:   "run",
		Cause:    fmt.Errorf("connection reset"),
	}

	rec, err := f.controller.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, rec)

	failed := f.missionLog.appends[0]
	assert.Equal(t, schemas.TurnAction, failed.Kind)
	assert.Contains(t, failed.Err, "connection reset")
	assert.Contains(t, f.llm.requests[1].Context, "connection reset",
		"the model sees the failure and decides what to do next")
}

func TestFatalTransportAborts(t *testing.T) {
	t.Parallel()

	f := newFixture(t, defaultCfg(),
		llmStep{err: &schemas.FatalTransportError{Transport: "gemini", Cause: fmt.Errorf("401")}},
	)

	_, err := f.controller.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model transport failed")
	assert.Equal(t, StateAborted, f.controller.State())
}

func TestTurnLimitAborts(t *testing.T) {
	t.Parallel()

	f := newFixture(t, config.LoopConfig{MaxRetries: 3, MaxTurns: 2},
		respond("run", "command", "a"),
		respond("run", "command", "b"),
		respond("run", "command", "c"),
	)

	_, err := f.controller.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "turn limit")
	assert.Len(t, f.terminal.executed, 2)
}

func TestResumeContinuesAfterRecommendation(t *testing.T) {
	t.Parallel()

	f := newFixture(t, defaultCfg(),
		recommend(),
		respond("run", "command", "double check"),
		respond(schemas.VariantEmitRecommendation,
			"position", "hold off",
			"justifications", "new evidence"),
	)

	first, err := f.controller.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ship it", first.Position)

	require.NoError(t, f.controller.Resume())
	assert.Error(t, f.controller.Resume(), "resume is only legal from done")

	second, err := f.controller.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "hold off", second.Position)
	require.Len(t, f.terminal.executed, 1)
}

func TestCancelledContextAborts(t *testing.T) {
	t.Parallel()

	f := newFixture(t, defaultCfg())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.controller.Run(ctx)
	require.Error(t, err)
	assert.Equal(t, StateAborted, f.controller.State())
}

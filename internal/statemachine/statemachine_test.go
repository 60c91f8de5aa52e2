package statemachine_test

import (
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/sentinel-uhnw/sentinel/internal/chain"
	"github.com/sentinel-uhnw/sentinel/internal/errs"
	"github.com/sentinel-uhnw/sentinel/internal/statemachine"
	"github.com/sentinel-uhnw/sentinel/pkg/types"
)

func TestInitialStateLogsConstructionTransition(t *testing.T) {
	c, _ := chain.New(zap.NewNop())
	m := statemachine.New("session-1", "", c, zap.NewNop())

	if m.State() != types.StateMonitor {
		t.Fatalf("expected initial state monitor, got %s", m.State())
	}
	last, ok := m.LastTransition()
	if !ok {
		t.Fatal("expected a recorded transition")
	}
	if last.From != "" || last.To != types.StateMonitor || last.Trigger != statemachine.TriggerInitialize {
		t.Errorf("unexpected construction transition: %+v", last)
	}

	blocks := c.GetBlocksBySession("session-1")
	if len(blocks) != 1 || blocks[0].EventType != "state_transition" {
		t.Errorf("expected one state_transition block, got %+v", blocks)
	}
}

func TestGoldenPathTransitions(t *testing.T) {
	c, _ := chain.New(zap.NewNop())
	m := statemachine.New("session-1", "", c, zap.NewNop())

	steps := []struct {
		trigger statemachine.Trigger
		want    types.SystemState
	}{
		{statemachine.TriggerDetectEvent, types.StateDetect},
		{statemachine.TriggerStartAnalysis, types.StateAnalyze},
		{statemachine.TriggerNoConflict, types.StateRecommend},
		{statemachine.TriggerApprove, types.StateApproved},
		{statemachine.TriggerExecute, types.StateExecute},
		{statemachine.TriggerComplete, types.StateMonitor},
	}
	for _, s := range steps {
		tr, err := m.Fire(s.trigger, nil)
		if err != nil {
			t.Fatalf("Fire(%s): %v", s.trigger, err)
		}
		if tr.To != s.want {
			t.Fatalf("Fire(%s) -> %s, want %s", s.trigger, tr.To, s.want)
		}
	}
}

func TestConflictPath(t *testing.T) {
	c, _ := chain.New(zap.NewNop())
	m := statemachine.New("session-1", "", c, zap.NewNop())

	m.Fire(statemachine.TriggerDetectEvent, nil)
	m.Fire(statemachine.TriggerStartAnalysis, nil)
	if _, err := m.Fire(statemachine.TriggerDetectConflict, nil); err != nil {
		t.Fatalf("Fire(detect_conflict): %v", err)
	}
	if m.State() != types.StateConflictResolution {
		t.Fatalf("expected conflict_resolution, got %s", m.State())
	}
	if _, err := m.Fire(statemachine.TriggerResolveConflict, nil); err != nil {
		t.Fatalf("Fire(resolve_conflict): %v", err)
	}
	if m.State() != types.StateRecommend {
		t.Fatalf("expected recommend, got %s", m.State())
	}
}

func TestInvalidTransitionDoesNotMutateState(t *testing.T) {
	c, _ := chain.New(zap.NewNop())
	m := statemachine.New("session-1", "", c, zap.NewNop())
	blocksBefore := c.BlockCount()

	_, err := m.Fire(statemachine.TriggerApprove, nil)
	if !errors.Is(err, errs.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if m.State() != types.StateMonitor {
		t.Errorf("state should be unchanged after invalid transition, got %s", m.State())
	}
	if c.BlockCount() != blocksBefore {
		t.Error("invalid transition should not write a chain block")
	}
}

func TestResetToMonitor(t *testing.T) {
	c, _ := chain.New(zap.NewNop())
	m := statemachine.New("session-1", "", c, zap.NewNop())

	m.Fire(statemachine.TriggerDetectEvent, nil)
	m.Fire(statemachine.TriggerStartAnalysis, nil)

	tr, err := m.ResetToMonitor("drift analysis aborted")
	if err != nil {
		t.Fatalf("ResetToMonitor: %v", err)
	}
	if tr.To != types.StateMonitor {
		t.Fatalf("expected reset to monitor, got %s", tr.To)
	}
	if m.State() != types.StateMonitor {
		t.Error("expected machine in monitor after reset")
	}
}

func TestOnEnterCallback(t *testing.T) {
	c, _ := chain.New(zap.NewNop())
	m := statemachine.New("session-1", "", c, zap.NewNop())

	var fired bool
	m.OnEnter(types.StateDetect, func(statemachine.Transition) { fired = true })

	m.Fire(statemachine.TriggerDetectEvent, nil)
	if !fired {
		t.Error("expected OnEnter callback for detect to fire")
	}
}

// Every non-monitor state must be reachable from monitor via some finite
// trigger sequence.
func TestAllStatesReachableFromMonitor(t *testing.T) {
	c, _ := chain.New(zap.NewNop())

	paths := [][]statemachine.Trigger{
		{statemachine.TriggerDetectEvent},
		{statemachine.TriggerDetectEvent, statemachine.TriggerStartAnalysis},
		{statemachine.TriggerDetectEvent, statemachine.TriggerStartAnalysis, statemachine.TriggerDetectConflict},
		{statemachine.TriggerDetectEvent, statemachine.TriggerStartAnalysis, statemachine.TriggerNoConflict},
		{statemachine.TriggerDetectEvent, statemachine.TriggerStartAnalysis, statemachine.TriggerNoConflict, statemachine.TriggerApprove},
		{statemachine.TriggerDetectEvent, statemachine.TriggerStartAnalysis, statemachine.TriggerNoConflict, statemachine.TriggerApprove, statemachine.TriggerExecute},
	}
	want := []types.SystemState{
		types.StateDetect,
		types.StateAnalyze,
		types.StateConflictResolution,
		types.StateRecommend,
		types.StateApproved,
		types.StateExecute,
	}

	for i, path := range paths {
		fresh := statemachine.New("probe", "", c, zap.NewNop())
		var last types.SystemState
		for _, trig := range path {
			tr, err := fresh.Fire(trig, nil)
			if err != nil {
				t.Fatalf("path %d, trigger %s: %v", i, trig, err)
			}
			last = tr.To
		}
		if last != want[i] {
			t.Errorf("path %d ended in %s, want %s", i, last, want[i])
		}
	}
}

func TestIsAnalyzingSpansDetectAnalyzeAndConflictResolution(t *testing.T) {
	c, _ := chain.New(zap.NewNop())
	m := statemachine.New("session-1", "", c, zap.NewNop())

	if m.IsAnalyzing() {
		t.Error("expected IsAnalyzing false in monitor")
	}

	mustFire(t, m, statemachine.TriggerDetectEvent)
	if !m.IsAnalyzing() {
		t.Error("expected IsAnalyzing true in detect")
	}

	mustFire(t, m, statemachine.TriggerStartAnalysis)
	if !m.IsAnalyzing() {
		t.Error("expected IsAnalyzing true in analyze")
	}

	mustFire(t, m, statemachine.TriggerDetectConflict)
	if !m.IsAnalyzing() {
		t.Error("expected IsAnalyzing true in conflict_resolution")
	}

	mustFire(t, m, statemachine.TriggerResolveConflict)
	if m.IsAnalyzing() {
		t.Error("expected IsAnalyzing false in recommend")
	}
}

func TestIsExecutingSpansApprovedAndExecute(t *testing.T) {
	c, _ := chain.New(zap.NewNop())
	m := statemachine.New("session-1", "", c, zap.NewNop())

	mustFire(t, m, statemachine.TriggerDetectEvent)
	mustFire(t, m, statemachine.TriggerStartAnalysis)
	mustFire(t, m, statemachine.TriggerNoConflict)
	if m.IsExecuting() {
		t.Error("expected IsExecuting false in recommend")
	}

	mustFire(t, m, statemachine.TriggerApprove)
	if !m.IsExecuting() {
		t.Error("expected IsExecuting true in approved")
	}

	mustFire(t, m, statemachine.TriggerExecute)
	if !m.IsExecuting() {
		t.Error("expected IsExecuting true in execute")
	}
}

func mustFire(t *testing.T, m *statemachine.Machine, trigger statemachine.Trigger) {
	t.Helper()
	if _, err := m.Fire(trigger, nil); err != nil {
		t.Fatalf("Fire(%s): %v", trigger, err)
	}
}

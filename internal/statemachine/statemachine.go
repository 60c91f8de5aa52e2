// Package statemachine implements the per-session finite state machine
// that drives a monitoring cycle from detection through execution and
// back to monitoring, with every transition logged to an audit sink.
package statemachine

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sentinel-uhnw/sentinel/internal/errs"
	"github.com/sentinel-uhnw/sentinel/pkg/types"
)

// Trigger is an event that drives a state transition.
type Trigger string

const (
	TriggerInitialize      Trigger = "initialize"
	TriggerDetectEvent     Trigger = "detect_event"
	TriggerStartAnalysis   Trigger = "start_analysis"
	TriggerReset           Trigger = "reset"
	TriggerDetectConflict  Trigger = "detect_conflict"
	TriggerNoConflict      Trigger = "no_conflict"
	TriggerResolveConflict Trigger = "resolve_conflict"
	TriggerApprove         Trigger = "approve"
	TriggerReject          Trigger = "reject"
	TriggerExecute         Trigger = "execute"
	TriggerAbort           Trigger = "abort"
	TriggerComplete        Trigger = "complete"
)

type edge struct {
	from    types.SystemState
	trigger Trigger
}

// transitionTable is the fixed state → trigger → state map. It is the sole
// source of truth for which moves are legal; Fire and CanFire both consult
// it, and nothing else in this package encodes transition logic.
var transitionTable = map[edge]types.SystemState{
	{types.StateMonitor, TriggerDetectEvent}:                 types.StateDetect,
	{types.StateDetect, TriggerStartAnalysis}:                types.StateAnalyze,
	{types.StateDetect, TriggerReset}:                        types.StateMonitor,
	{types.StateAnalyze, TriggerDetectConflict}:              types.StateConflictResolution,
	{types.StateAnalyze, TriggerNoConflict}:                  types.StateRecommend,
	{types.StateAnalyze, TriggerReset}:                       types.StateMonitor,
	{types.StateConflictResolution, TriggerResolveConflict}:  types.StateRecommend,
	{types.StateConflictResolution, TriggerReset}:            types.StateMonitor,
	{types.StateRecommend, TriggerApprove}:                   types.StateApproved,
	{types.StateRecommend, TriggerReject}:                    types.StateMonitor,
	{types.StateApproved, TriggerExecute}:                    types.StateExecute,
	{types.StateApproved, TriggerAbort}:                      types.StateMonitor,
	{types.StateExecute, TriggerComplete}:                    types.StateMonitor,
	{types.StateExecute, TriggerAbort}:                       types.StateMonitor,
}

// resetTrigger returns the trigger that sends a given state back to
// monitor, for the reset_to_monitor convenience helper.
var resetTrigger = map[types.SystemState]Trigger{
	types.StateDetect:             TriggerReset,
	types.StateAnalyze:            TriggerReset,
	types.StateConflictResolution: TriggerReset,
	types.StateRecommend:          TriggerReject,
	types.StateApproved:           TriggerAbort,
	types.StateExecute:            TriggerAbort,
}

// Transition records a single state change.
type Transition struct {
	From      types.SystemState
	To        types.SystemState
	Trigger   Trigger
	SessionID string
	Metadata  map[string]any
	Timestamp time.Time
}

// AuditSink receives state_transition blocks. internal/chain.Chain
// satisfies this directly.
type AuditSink interface {
	Add(data map[string]any) (string, error)
}

// Callback is invoked after a transition commits.
type Callback func(Transition)

// Machine is a single session's finite state machine.
type Machine struct {
	mu        sync.Mutex
	sessionID string
	state     types.SystemState
	history   []Transition
	chain     AuditSink
	logger    *zap.Logger
	onEnter   map[types.SystemState][]Callback
}

// New creates a Machine in StateMonitor (or the given initial state) and
// logs the construction transition (from="" to=initial trigger=initialize).
func New(sessionID string, initial types.SystemState, chainSink AuditSink, logger *zap.Logger) *Machine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if initial == "" {
		initial = types.StateMonitor
	}
	m := &Machine{
		sessionID: sessionID,
		state:     initial,
		chain:     chainSink,
		logger:    logger.Named("statemachine"),
		onEnter:   make(map[types.SystemState][]Callback),
	}
	t := Transition{
		From:      "",
		To:        initial,
		Trigger:   TriggerInitialize,
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
	}
	m.history = append(m.history, t)
	m.logTransition(t)
	return m
}

// State returns the current state.
func (m *Machine) State() types.SystemState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// CanFire reports whether trigger has a defined path from the current state.
func (m *Machine) CanFire(trigger Trigger) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := transitionTable[edge{m.state, trigger}]
	return ok
}

// AvailableTriggers returns every trigger with a defined path from the
// current state.
func (m *Machine) AvailableTriggers() []Trigger {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Trigger
	for e := range transitionTable {
		if e.from == m.state {
			out = append(out, e.trigger)
		}
	}
	return out
}

// Fire applies trigger. It returns ErrInvalidTransition without mutating
// state or logging a block if no path exists from the current state.
func (m *Machine) Fire(trigger Trigger, metadata map[string]any) (Transition, error) {
	m.mu.Lock()

	next, ok := transitionTable[edge{m.state, trigger}]
	if !ok {
		from := m.state
		m.mu.Unlock()
		return Transition{}, fmt.Errorf("%w: no transition for trigger %q from state %q", errs.ErrInvalidTransition, trigger, from)
	}

	t := Transition{
		From:      m.state,
		To:        next,
		Trigger:   trigger,
		SessionID: m.sessionID,
		Metadata:  metadata,
		Timestamp: time.Now().UTC(),
	}
	m.state = next
	m.history = append(m.history, t)
	callbacks := append([]Callback(nil), m.onEnter[next]...)
	m.mu.Unlock()

	m.logTransition(t)
	for _, cb := range callbacks {
		cb(t)
	}
	return t, nil
}

// ResetToMonitor fires whichever trigger returns the current state to
// monitor, recording reason in the transition metadata. It is a no-op
// (returns the zero Transition, nil error) if already in monitor.
func (m *Machine) ResetToMonitor(reason string) (Transition, error) {
	m.mu.Lock()
	current := m.state
	m.mu.Unlock()

	if current == types.StateMonitor {
		return Transition{}, nil
	}
	trigger, ok := resetTrigger[current]
	if !ok {
		return Transition{}, fmt.Errorf("%w: no reset path defined from state %q", errs.ErrInvalidTransition, current)
	}
	return m.Fire(trigger, map[string]any{"reason": reason})
}

// OnEnter registers a callback invoked after every transition into state.
func (m *Machine) OnEnter(state types.SystemState, cb Callback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEnter[state] = append(m.onEnter[state], cb)
}

// LastTransition returns the most recently applied transition, if any.
func (m *Machine) LastTransition() (Transition, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.history) == 0 {
		return Transition{}, false
	}
	return m.history[len(m.history)-1], true
}

// TimeInState returns how long the machine has held its current state.
func (m *Machine) TimeInState() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.history) == 0 {
		return 0
	}
	return time.Since(m.history[len(m.history)-1].Timestamp)
}

// IsIdle, IsAnalyzing, IsPendingApproval, and IsExecuting are convenience
// predicates mirroring the most commonly checked states. IsAnalyzing and
// IsExecuting each span more than one state: detection and conflict
// resolution both count as analyzing, and an approved-but-not-yet-started
// recommendation counts as executing.
func (m *Machine) IsIdle() bool { return m.State() == types.StateMonitor }

func (m *Machine) IsAnalyzing() bool {
	switch m.State() {
	case types.StateDetect, types.StateAnalyze, types.StateConflictResolution:
		return true
	default:
		return false
	}
}

func (m *Machine) IsPendingApproval() bool { return m.State() == types.StateRecommend }

func (m *Machine) IsExecuting() bool {
	switch m.State() {
	case types.StateApproved, types.StateExecute:
		return true
	default:
		return false
	}
}

func (m *Machine) logTransition(t Transition) {
	if m.chain == nil {
		return
	}
	data := map[string]any{
		"event_type": "state_transition",
		"session_id": t.SessionID,
		"actor":      "statemachine",
		"action":     string(t.Trigger),
		"from":       string(t.From),
		"to":         string(t.To),
	}
	if t.Metadata != nil {
		data["metadata"] = t.Metadata
	}
	if _, err := m.chain.Add(data); err != nil {
		m.logger.Warn("failed to log state transition", zap.Error(err))
	}
}

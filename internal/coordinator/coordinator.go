// Package coordinator is the hub of the hub-and-spoke analysis pipeline:
// it runs the drift and tax analyzers, detects conflicts between their
// findings, generates candidate remediation scenarios, ranks them by
// utility, and logs the result to the audit chain.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sentinel-uhnw/sentinel/internal/analysis/drift"
	"github.com/sentinel-uhnw/sentinel/internal/analysis/tax"
	"github.com/sentinel-uhnw/sentinel/internal/events"
	"github.com/sentinel-uhnw/sentinel/internal/statemachine"
	"github.com/sentinel-uhnw/sentinel/internal/utility"
	"github.com/sentinel-uhnw/sentinel/pkg/types"
)

// AuditSink is the narrow interface the coordinator needs from the audit
// chain: append one block, get back its hash.
type AuditSink interface {
	Add(data map[string]any) (string, error)
}

// Config tunes the coordinator's behavior.
type Config struct {
	Scoring utility.ScoringConfig
	// TaxContext supplies year-to-date realized gains used by the tax
	// analyzer's loss-harvesting calculation.
	TaxContext tax.Context
}

// DefaultConfig returns baseline coordinator configuration.
func DefaultConfig() Config {
	return Config{Scoring: utility.DefaultScoringConfig()}
}

// Coordinator orchestrates one portfolio's analysis pipeline.
type Coordinator struct {
	logger *zap.Logger
	chain  AuditSink
	config Config
	bus    *events.EventBus

	mu       sync.Mutex
	machines map[string]*statemachine.Machine
}

// New constructs a Coordinator. chain may be nil to disable audit logging
// (useful for unit tests of the pipeline shape alone).
func New(logger *zap.Logger, chain AuditSink, config Config) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		logger:   logger.Named("coordinator"),
		chain:    chain,
		config:   config,
		machines: make(map[string]*statemachine.Machine),
	}
}

// WithEventBus attaches a progress event bus; Analyze publishes
// stage_started/stage_completed/session_completed events to it as it
// runs. Passing nil (the default) disables publishing.
func (c *Coordinator) WithEventBus(bus *events.EventBus) *Coordinator {
	c.bus = bus
	return c
}

func (c *Coordinator) publishStage(eventType events.EventType, sessionID, portfolioID, stage string, since time.Time) {
	if c.bus == nil {
		return
	}
	var duration time.Duration
	if eventType == events.EventTypeStageCompleted {
		duration = time.Since(since)
	}
	c.bus.Publish(events.NewStageEvent(eventType, sessionID, portfolioID, stage, duration))
}

// machineFor returns the per-session state machine, creating one seeded at
// monitor if this is the session's first analysis.
func (c *Coordinator) machineFor(sessionID string) *statemachine.Machine {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.machines[sessionID]
	if !ok {
		m = statemachine.New(sessionID, types.StateMonitor, c.chain, c.logger)
		c.machines[sessionID] = m
	}
	return m
}

// Input bundles everything the coordinator needs to analyze a portfolio.
type Input struct {
	SessionID      string
	Portfolio      types.Portfolio
	Transactions   []types.Transaction
	TriggerEvent   string
	ClientProfile  *types.ClientProfile
	ProposedTrades []types.RecommendedTrade // optional, pre-seeds the tax analyzer's wash-sale check
}

// Analyze runs the full pipeline for one portfolio: drift analysis, then
// tax analysis seeded with the drift agent's recommended trades, conflict
// detection, scenario generation, and utility-based ranking. It drives the
// session's state machine through detect -> analyze -> (conflict
// resolution) -> recommend, and logs a single agent_completed block.
func (c *Coordinator) Analyze(ctx context.Context, in Input) (types.CoordinatorOutput, error) {
	now := time.Now().UTC()
	machine := c.machineFor(in.SessionID)

	if _, err := machine.Fire(statemachine.TriggerDetectEvent, map[string]any{"trigger": in.TriggerEvent}); err != nil {
		return types.CoordinatorOutput{}, fmt.Errorf("coordinator: advancing to detect: %w", err)
	}
	if _, err := machine.Fire(statemachine.TriggerStartAnalysis, nil); err != nil {
		return types.CoordinatorOutput{}, fmt.Errorf("coordinator: advancing to analyze: %w", err)
	}

	profile := in.Portfolio.ClientProfile
	if in.ClientProfile != nil {
		profile = *in.ClientProfile
		in.Portfolio.ClientProfile = profile
	}

	stageStart := time.Now()
	c.publishStage(events.EventTypeStageStarted, in.SessionID, in.Portfolio.PortfolioID, "drift", stageStart)
	driftOutput := drift.Analyze(in.Portfolio, now)
	c.publishStage(events.EventTypeStageCompleted, in.SessionID, in.Portfolio.PortfolioID, "drift", stageStart)

	proposedForTax := in.ProposedTrades
	if len(proposedForTax) == 0 {
		proposedForTax = driftOutput.RecommendedTrades
	}
	stageStart = time.Now()
	c.publishStage(events.EventTypeStageStarted, in.SessionID, in.Portfolio.PortfolioID, "tax", stageStart)
	taxOutput := tax.Analyze(in.Portfolio, in.Transactions, proposedForTax, c.config.TaxContext, now)
	c.publishStage(events.EventTypeStageCompleted, in.SessionID, in.Portfolio.PortfolioID, "tax", stageStart)

	stageStart = time.Now()
	c.publishStage(events.EventTypeStageStarted, in.SessionID, in.Portfolio.PortfolioID, "conflict", stageStart)
	conflicts := DetectConflicts(driftOutput, taxOutput, in.Portfolio)
	c.publishStage(events.EventTypeStageCompleted, in.SessionID, in.Portfolio.PortfolioID, "conflict", stageStart)
	c.logger.Info("analysis conflicts detected", zap.String("portfolio_id", in.Portfolio.PortfolioID), zap.Int("count", len(conflicts)))

	if len(conflicts) > 0 {
		if _, err := machine.Fire(statemachine.TriggerDetectConflict, map[string]any{"conflicts": len(conflicts)}); err != nil {
			return types.CoordinatorOutput{}, fmt.Errorf("coordinator: advancing to conflict_resolution: %w", err)
		}
	}

	stageStart = time.Now()
	c.publishStage(events.EventTypeStageStarted, in.SessionID, in.Portfolio.PortfolioID, "scenario", stageStart)
	scenarios := GenerateScenarios(driftOutput, taxOutput, in.Portfolio)
	c.publishStage(events.EventTypeStageCompleted, in.SessionID, in.Portfolio.PortfolioID, "scenario", stageStart)

	stageStart = time.Now()
	c.publishStage(events.EventTypeStageStarted, in.SessionID, in.Portfolio.PortfolioID, "utility", stageStart)
	weights := utility.WeightsForProfile(profile.RiskTolerance)
	ranked := utility.RankScenarios(scenarios, in.Portfolio, weights, c.config.Scoring)
	c.publishStage(events.EventTypeStageCompleted, in.SessionID, in.Portfolio.PortfolioID, "utility", stageStart)

	rankByID := make(map[string]types.UtilityScore, len(ranked))
	for _, r := range ranked {
		rankByID[r.ScenarioID] = r
	}
	for i := range scenarios {
		if score, ok := rankByID[scenarios[i].ScenarioID]; ok {
			scored := score
			scenarios[i].UtilityScore = &scored
		}
	}
	sortScenariosByScoreDesc(scenarios)

	recommendedID := ""
	if len(ranked) > 0 {
		recommendedID = ranked[0].ScenarioID
	} else if len(scenarios) > 0 {
		recommendedID = scenarios[0].ScenarioID
	}

	if len(conflicts) > 0 {
		if _, err := machine.Fire(statemachine.TriggerResolveConflict, map[string]any{"recommended_scenario": recommendedID}); err != nil {
			return types.CoordinatorOutput{}, fmt.Errorf("coordinator: resolving conflict: %w", err)
		}
	} else {
		if _, err := machine.Fire(statemachine.TriggerNoConflict, map[string]any{"recommended_scenario": recommendedID}); err != nil {
			return types.CoordinatorOutput{}, fmt.Errorf("coordinator: advancing to recommend: %w", err)
		}
	}

	merkleHash := c.logAnalysisComplete(in.Portfolio.PortfolioID, in.SessionID, len(conflicts), len(scenarios), recommendedID)

	if c.bus != nil {
		c.bus.Publish(events.NewSessionCompleteEvent(in.SessionID, in.Portfolio.PortfolioID, recommendedID, merkleHash, len(scenarios)))
	}

	return types.CoordinatorOutput{
		PortfolioID:           in.Portfolio.PortfolioID,
		TriggerEvent:          in.TriggerEvent,
		Timestamp:             now,
		DriftFindings:         driftOutput,
		TaxFindings:           taxOutput,
		ConflictsDetected:     conflicts,
		Scenarios:             scenarios,
		RecommendedScenarioID: recommendedID,
		MerkleHash:            merkleHash,
	}, nil
}

func (c *Coordinator) logAnalysisComplete(portfolioID, sessionID string, conflictCount, scenarioCount int, recommendedID string) string {
	if c.chain == nil {
		return ""
	}
	hash, err := c.chain.Add(map[string]any{
		"event_type":            "agent_completed",
		"session_id":            sessionID,
		"actor":                 string(types.AgentCoordinator),
		"action":                "analysis_complete",
		"resource":              portfolioID,
		"conflicts_detected":    conflictCount,
		"scenarios_generated":   scenarioCount,
		"recommended_scenario":  recommendedID,
	})
	if err != nil {
		c.logger.Warn("failed to log analysis completion", zap.Error(err))
		return ""
	}
	return hash
}

func sortScenariosByScoreDesc(scenarios []types.Scenario) {
	for i := 1; i < len(scenarios); i++ {
		for j := i; j > 0 && scoreOf(scenarios[j]) > scoreOf(scenarios[j-1]); j-- {
			scenarios[j], scenarios[j-1] = scenarios[j-1], scenarios[j]
		}
	}
}

func scoreOf(s types.Scenario) float64 {
	if s.UtilityScore == nil {
		return 0
	}
	return s.UtilityScore.TotalScore
}

// ResetSession returns a session's state machine to monitor, e.g. after a
// scenario is approved and executed or rejected.
func (c *Coordinator) ResetSession(sessionID, reason string) error {
	c.mu.Lock()
	m, ok := c.machines[sessionID]
	c.mu.Unlock()
	if !ok {
		return nil
	}
	_, err := m.ResetToMonitor(reason)
	return err
}

// SessionState reports the current state of a session's state machine,
// creating one at monitor if the session hasn't been analyzed yet.
func (c *Coordinator) SessionState(sessionID string) types.SystemState {
	return c.machineFor(sessionID).State()
}

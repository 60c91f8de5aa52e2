package coordinator_test

import (
	"context"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/sentinel-uhnw/sentinel/internal/chain"
	"github.com/sentinel-uhnw/sentinel/internal/coordinator"
	"github.com/sentinel-uhnw/sentinel/internal/events"
	"github.com/sentinel-uhnw/sentinel/pkg/types"
)

func techCrashPortfolio() types.Portfolio {
	return types.Portfolio{
		PortfolioID: "portfolio-1",
		AUMUSD:      d(8_500_000),
		Holdings: []types.Holding{
			{
				Ticker:          "NVDA",
				Quantity:        d(10000),
				CurrentPrice:    d(850),
				MarketValue:     d(8_500_000),
				PortfolioWeight: d(0.17),
				CostBasis:       d(5_000_000),
				AssetClass:      "US Equities",
			},
		},
		TargetAllocation: types.TargetAllocation{USEquities: d(0.50)},
		ClientProfile: types.ClientProfile{
			ConcentrationLimit: d(0.15),
			RiskTolerance:      types.RiskModerateGrowth,
		},
	}
}

func TestCoordinatorAnalyzeProducesRankedScenarios(t *testing.T) {
	c, err := chain.New(zap.NewNop())
	if err != nil {
		t.Fatalf("chain.New: %v", err)
	}
	coord := coordinator.New(zap.NewNop(), c, coordinator.DefaultConfig())

	out, err := coord.Analyze(context.Background(), coordinator.Input{
		SessionID:    "session-1",
		Portfolio:    techCrashPortfolio(),
		TriggerEvent: "drift_detected",
	})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	if len(out.Scenarios) < 2 {
		t.Fatalf("expected at least 2 scenarios, got %d", len(out.Scenarios))
	}
	if out.RecommendedScenarioID == "" {
		t.Error("expected a recommended scenario id")
	}
	for i, s := range out.Scenarios {
		if s.UtilityScore == nil {
			t.Errorf("scenario %d missing utility score", i)
			continue
		}
		if i > 0 && s.UtilityScore.TotalScore > out.Scenarios[i-1].UtilityScore.TotalScore {
			t.Errorf("scenarios not sorted by score descending at index %d", i)
		}
	}
	if out.MerkleHash == "" {
		t.Error("expected a merkle hash from the audit chain")
	}
	if coord.SessionState("session-1") != types.StateRecommend {
		t.Errorf("expected session to land in recommend state, got %s", coord.SessionState("session-1"))
	}
}

func TestCoordinatorResetSessionReturnsToMonitor(t *testing.T) {
	c, err := chain.New(zap.NewNop())
	if err != nil {
		t.Fatalf("chain.New: %v", err)
	}
	coord := coordinator.New(zap.NewNop(), c, coordinator.DefaultConfig())

	_, err = coord.Analyze(context.Background(), coordinator.Input{
		SessionID:    "session-2",
		Portfolio:    techCrashPortfolio(),
		TriggerEvent: "manual",
	})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if err := coord.ResetSession("session-2", "rejected by advisor"); err != nil {
		t.Fatalf("ResetSession: %v", err)
	}
	if coord.SessionState("session-2") != types.StateMonitor {
		t.Errorf("expected session back at monitor, got %s", coord.SessionState("session-2"))
	}
}

func TestCoordinatorWithoutAuditChain(t *testing.T) {
	coord := coordinator.New(zap.NewNop(), nil, coordinator.DefaultConfig())
	out, err := coord.Analyze(context.Background(), coordinator.Input{
		SessionID:    "session-3",
		Portfolio:    techCrashPortfolio(),
		TriggerEvent: "manual",
	})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if out.MerkleHash != "" {
		t.Errorf("expected empty merkle hash with no audit chain, got %s", out.MerkleHash)
	}
}

func TestCoordinatorPublishesStageEvents(t *testing.T) {
	bus := events.NewEventBus(zap.NewNop(), events.DefaultEventBusConfig())
	defer bus.Stop()

	var mu sync.Mutex
	var seen []events.EventType
	bus.SubscribeAll(func(e events.Event) error {
		mu.Lock()
		seen = append(seen, e.GetType())
		mu.Unlock()
		return nil
	}, events.SubscriptionOptions{Async: false})

	coord := coordinator.New(zap.NewNop(), nil, coordinator.DefaultConfig()).WithEventBus(bus)
	_, err := coord.Analyze(context.Background(), coordinator.Input{
		SessionID:    "session-4",
		Portfolio:    techCrashPortfolio(),
		TriggerEvent: "manual",
	})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	var sawCompletion bool
	for _, et := range seen {
		if et == events.EventTypeSessionComplete {
			sawCompletion = true
		}
	}
	if !sawCompletion {
		t.Errorf("expected a session_completed event, got %+v", seen)
	}
}

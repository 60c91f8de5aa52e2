package coordinator_test

import (
	"testing"

	"github.com/sentinel-uhnw/sentinel/internal/coordinator"
	"github.com/sentinel-uhnw/sentinel/pkg/types"
)

func sampleOutputs() (types.DriftAgentOutput, types.TaxAgentOutput, types.Portfolio) {
	drift := types.DriftAgentOutput{
		ConcentrationRisks: []types.ConcentrationRisk{
			{Ticker: "NVDA", CurrentWeight: d(0.17), Limit: d(0.15)},
		},
		DriftMetrics: []types.DriftMetric{
			{AssetClass: "US Equities", DriftPct: d(0.05)},
		},
		RecommendedTrades: []types.RecommendedTrade{
			{Ticker: "NVDA", Action: types.ActionSell, Quantity: d(10), Urgency: 8, Rationale: "trim concentration"},
		},
		UrgencyScore: 8,
	}
	tax := types.TaxAgentOutput{
		TaxOpportunities: []types.TaxOpportunity{
			{Ticker: "AAPL", Type: types.TaxOpportunityHarvestLoss, EstimatedBenefit: d(2000)},
		},
	}
	portfolio := types.Portfolio{
		PortfolioID: "p1",
		Holdings: []types.Holding{
			{Ticker: "NVDA", Quantity: d(100)},
			{Ticker: "AAPL", Quantity: d(50)},
		},
	}
	return drift, tax, portfolio
}

func TestGenerateScenariosAlwaysIncludesOptimalAndTaxEfficient(t *testing.T) {
	drift, tax, portfolio := sampleOutputs()
	scenarios := coordinator.GenerateScenarios(drift, tax, portfolio)

	kinds := make(map[types.ScenarioKind]bool)
	for _, s := range scenarios {
		kinds[s.Kind] = true
	}
	if !kinds[types.ScenarioOptimalBalance] || !kinds[types.ScenarioTaxEfficient] {
		t.Fatalf("expected optimal balance and tax efficient scenarios, got %+v", kinds)
	}
}

func TestGenerateScenariosIncludesRiskFirstWhenConcentrationRisksExist(t *testing.T) {
	drift, tax, portfolio := sampleOutputs()
	scenarios := coordinator.GenerateScenarios(drift, tax, portfolio)

	found := false
	for _, s := range scenarios {
		if s.Kind == types.ScenarioRiskFirst {
			found = true
		}
	}
	if !found {
		t.Error("expected risk-first scenario when concentration risks are present")
	}
}

func TestGenerateScenariosOmitsRiskFirstWhenNoConcentrationRisk(t *testing.T) {
	drift, tax, portfolio := sampleOutputs()
	drift.ConcentrationRisks = nil
	scenarios := coordinator.GenerateScenarios(drift, tax, portfolio)

	for _, s := range scenarios {
		if s.Kind == types.ScenarioRiskFirst {
			t.Error("did not expect risk-first scenario with no concentration risks")
		}
	}
}

func TestGenerateScenariosIncludesGradualWhenMoreThanTwoTrades(t *testing.T) {
	drift, tax, portfolio := sampleOutputs()
	drift.RecommendedTrades = append(drift.RecommendedTrades,
		types.RecommendedTrade{Ticker: "AAPL", Action: types.ActionSell, Quantity: d(5), Urgency: 4},
		types.RecommendedTrade{Ticker: "MSFT", Action: types.ActionBuy, Quantity: d(5), Urgency: 3},
	)
	scenarios := coordinator.GenerateScenarios(drift, tax, portfolio)

	found := false
	for _, s := range scenarios {
		if s.Kind == types.ScenarioGradualRebalance {
			found = true
		}
	}
	if !found {
		t.Error("expected gradual rebalance scenario with more than two recommended trades")
	}
}

func TestOptimalBalanceReportsConcentrationBeforeAndAfter(t *testing.T) {
	drift, tax, portfolio := sampleOutputs()
	scenarios := coordinator.GenerateScenarios(drift, tax, portfolio)

	var optimal types.Scenario
	for _, s := range scenarios {
		if s.Kind == types.ScenarioOptimalBalance {
			optimal = s
		}
	}
	before, ok := optimal.ExpectedOutcomes["concentration_before"].(float64)
	if !ok || before <= 0 {
		t.Fatalf("expected positive concentration_before, got %+v", optimal.ExpectedOutcomes["concentration_before"])
	}
	after, ok := optimal.ExpectedOutcomes["concentration_after"].(float64)
	if !ok || after >= before {
		t.Errorf("expected concentration_after < concentration_before, got before=%v after=%v", before, after)
	}
}

func TestOptimalBalanceSkipsWashSaleFlaggedBuys(t *testing.T) {
	drift := types.DriftAgentOutput{
		RecommendedTrades: []types.RecommendedTrade{{Ticker: "NVDA", Action: types.ActionBuy, Urgency: 5}},
	}
	tax := types.TaxAgentOutput{
		WashSaleViolations: []types.WashSaleViolation{{Ticker: "NVDA"}},
	}
	scenarios := coordinator.GenerateScenarios(drift, tax, types.Portfolio{})

	var optimal types.Scenario
	for _, s := range scenarios {
		if s.Kind == types.ScenarioOptimalBalance {
			optimal = s
		}
	}
	if len(optimal.ActionSteps) != 0 {
		t.Errorf("expected wash-sale-flagged buy to be skipped, got %+v", optimal.ActionSteps)
	}
}

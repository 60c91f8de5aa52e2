package drift_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sentinel-uhnw/sentinel/internal/analysis/drift"
	"github.com/sentinel-uhnw/sentinel/pkg/types"
)

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

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
				Sector:          "Technology",
			},
		},
		TargetAllocation: types.TargetAllocation{
			USEquities: d(0.50),
		},
		ClientProfile: types.ClientProfile{
			ConcentrationLimit: d(0.15),
			RiskTolerance:      types.RiskModerateGrowth,
		},
	}
}

func TestAnalyzeDetectsConcentrationRisk(t *testing.T) {
	out := drift.Analyze(techCrashPortfolio(), time.Now())

	if !out.DriftDetected {
		t.Fatal("expected drift_detected = true")
	}
	if len(out.ConcentrationRisks) != 1 {
		t.Fatalf("expected 1 concentration risk, got %d", len(out.ConcentrationRisks))
	}
	risk := out.ConcentrationRisks[0]
	if risk.Ticker != "NVDA" {
		t.Errorf("expected risk on NVDA, got %s", risk.Ticker)
	}
	if risk.Severity != types.SeverityMedium {
		t.Errorf("expected medium severity for 2%% excess, got %s", risk.Severity)
	}
}

func TestAnalyzeRecommendsSellTrade(t *testing.T) {
	out := drift.Analyze(techCrashPortfolio(), time.Now())
	if len(out.RecommendedTrades) != 1 {
		t.Fatalf("expected 1 recommended trade, got %d", len(out.RecommendedTrades))
	}
	trade := out.RecommendedTrades[0]
	if trade.Action != types.ActionSell || trade.Ticker != "NVDA" {
		t.Errorf("expected SELL NVDA, got %+v", trade)
	}
	if trade.Quantity.IsZero() || trade.Quantity.IsNegative() {
		t.Errorf("expected a positive quantity, got %s", trade.Quantity)
	}
}

func TestSeverityBoundaries(t *testing.T) {
	cases := []struct {
		weight float64
		limit  float64
		want   types.Severity
	}{
		{0.16, 0.15, types.SeverityLow},      // 1% excess
		{0.18, 0.15, types.SeverityMedium},   // 3% excess
		{0.22, 0.15, types.SeverityHigh},     // 7% excess
		{0.30, 0.15, types.SeverityCritical}, // 15% excess
	}
	for _, c := range cases {
		p := types.Portfolio{
			AUMUSD: d(1_000_000),
			Holdings: []types.Holding{
				{Ticker: "X", PortfolioWeight: d(c.weight), CurrentPrice: d(100), MarketValue: d(1_000_000 * c.weight)},
			},
			ClientProfile: types.ClientProfile{ConcentrationLimit: d(c.limit)},
		}
		out := drift.Analyze(p, time.Now())
		if len(out.ConcentrationRisks) != 1 {
			t.Fatalf("weight=%v: expected 1 risk, got %d", c.weight, len(out.ConcentrationRisks))
		}
		if out.ConcentrationRisks[0].Severity != c.want {
			t.Errorf("weight=%v: severity = %s, want %s", c.weight, out.ConcentrationRisks[0].Severity, c.want)
		}
	}
}

func TestAnalyzeNoRisksWithinLimits(t *testing.T) {
	p := types.Portfolio{
		AUMUSD: d(1_000_000),
		Holdings: []types.Holding{
			{Ticker: "X", PortfolioWeight: d(0.10), AssetClass: "US Equities"},
		},
		TargetAllocation: types.TargetAllocation{USEquities: d(0.10)},
		ClientProfile:    types.ClientProfile{ConcentrationLimit: d(0.15)},
	}
	out := drift.Analyze(p, time.Now())
	if out.DriftDetected {
		t.Error("expected no drift for a balanced, in-limit portfolio")
	}
	if len(out.ConcentrationRisks) != 0 {
		t.Error("expected no concentration risks")
	}
	if out.UrgencyScore != 3 {
		t.Errorf("expected baseline urgency 3, got %d", out.UrgencyScore)
	}
}

func TestAnalyzeIsPure(t *testing.T) {
	p := techCrashPortfolio()
	now := time.Now()
	out1 := drift.Analyze(p, now)
	out2 := drift.Analyze(p, now)
	if out1.UrgencyScore != out2.UrgencyScore || len(out1.ConcentrationRisks) != len(out2.ConcentrationRisks) {
		t.Error("Analyze should be deterministic given identical inputs")
	}
}

package tax_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sentinel-uhnw/sentinel/internal/analysis/tax"
	"github.com/sentinel-uhnw/sentinel/pkg/types"
)

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func TestDetectsWashSaleOnProposedBuyAfterRecentSell(t *testing.T) {
	now := time.Now().UTC()
	portfolio := types.Portfolio{
		PortfolioID: "portfolio-1",
		Holdings: []types.Holding{
			{Ticker: "NVDA", Quantity: d(100), UnrealizedGainLoss: d(-50000)},
		},
	}
	transactions := []types.Transaction{
		{Ticker: "NVDA", Action: types.ActionSell, Timestamp: now.Add(-15 * 24 * time.Hour)},
	}
	proposed := []types.RecommendedTrade{
		{Ticker: "NVDA", Action: types.ActionBuy, Quantity: d(50)},
	}

	out := tax.Analyze(portfolio, transactions, proposed, tax.Context{}, now)

	if len(out.WashSaleViolations) != 1 {
		t.Fatalf("expected 1 wash sale violation, got %d", len(out.WashSaleViolations))
	}
	v := out.WashSaleViolations[0]
	if v.Ticker != "NVDA" || v.DaysSinceSale != 15 {
		t.Errorf("unexpected violation: %+v", v)
	}
	if v.DaysUntilClear() != 16 {
		t.Errorf("expected days_until_clear=16, got %d", v.DaysUntilClear())
	}
}

func TestNoWashSaleWhenOutsideWindow(t *testing.T) {
	now := time.Now().UTC()
	portfolio := types.Portfolio{Holdings: []types.Holding{{Ticker: "NVDA", Quantity: d(100)}}}
	transactions := []types.Transaction{
		{Ticker: "NVDA", Action: types.ActionSell, Timestamp: now.Add(-45 * 24 * time.Hour)},
	}
	proposed := []types.RecommendedTrade{{Ticker: "NVDA", Action: types.ActionBuy, Quantity: d(50)}}

	out := tax.Analyze(portfolio, transactions, proposed, tax.Context{}, now)
	if len(out.WashSaleViolations) != 0 {
		t.Errorf("expected no violations outside the 31-day window, got %d", len(out.WashSaleViolations))
	}
}

func TestHarvestOpportunityUsesShortTermRateRegardlessOfHoldingPeriod(t *testing.T) {
	now := time.Now().UTC()
	portfolio := types.Portfolio{
		Holdings: []types.Holding{
			{
				Ticker:             "AAPL",
				UnrealizedGainLoss: d(-10000),
				TaxLots: []types.TaxLot{
					{Quantity: d(100), PurchaseDate: now.Add(-800 * 24 * time.Hour)}, // long-term
				},
			},
		},
	}

	out := tax.Analyze(portfolio, nil, nil, tax.Context{YearToDateGains: d(20000)}, now)
	if len(out.TaxOpportunities) != 1 {
		t.Fatalf("expected 1 harvest opportunity, got %d", len(out.TaxOpportunities))
	}
	want := d(10000).Mul(tax.ShortTermRate)
	got := out.TaxOpportunities[0].EstimatedBenefit
	if !got.Equal(want) {
		t.Errorf("expected harvest benefit computed at the short-term rate = %s, got %s", want, got)
	}
}

func TestHarvestOpportunityOffsetCapsAtOrdinaryIncomeWithoutGains(t *testing.T) {
	now := time.Now().UTC()
	portfolio := types.Portfolio{
		Holdings: []types.Holding{{Ticker: "AAPL", UnrealizedGainLoss: d(-10000)}},
	}
	out := tax.Analyze(portfolio, nil, nil, tax.Context{}, now)
	want := d(3000).Mul(tax.ShortTermRate)
	if !out.TaxOpportunities[0].EstimatedBenefit.Equal(want) {
		t.Errorf("expected benefit capped at $3000 offset, got %s want %s", out.TaxOpportunities[0].EstimatedBenefit, want)
	}
}

func TestProposedSellAppliesLongTermRateForLongHeldLots(t *testing.T) {
	now := time.Now().UTC()
	portfolio := types.Portfolio{
		Holdings: []types.Holding{
			{
				Ticker:             "AAPL",
				Quantity:           d(100),
				UnrealizedGainLoss: d(20000),
				TaxLots: []types.TaxLot{
					{Quantity: d(100), PurchaseDate: now.Add(-800 * 24 * time.Hour)},
				},
			},
		},
	}
	proposed := []types.RecommendedTrade{{Ticker: "AAPL", Action: types.ActionSell, Quantity: d(100)}}

	out := tax.Analyze(portfolio, nil, proposed, tax.Context{}, now)
	if len(out.ProposedTradesAnalysis) != 1 {
		t.Fatalf("expected 1 analysis entry, got %d", len(out.ProposedTradesAnalysis))
	}
	entry := out.ProposedTradesAnalysis[0]
	if entry.HoldingPeriod != "long-term" {
		t.Errorf("expected long-term classification, got %s", entry.HoldingPeriod)
	}
	want := d(20000).Mul(tax.LongTermRate)
	if !entry.TaxImpact.Equal(want) {
		t.Errorf("expected tax impact %s, got %s", want, entry.TaxImpact)
	}
}

func TestAnalyzeIsPure(t *testing.T) {
	now := time.Now().UTC()
	portfolio := types.Portfolio{Holdings: []types.Holding{{Ticker: "AAPL", UnrealizedGainLoss: d(-5000)}}}
	out1 := tax.Analyze(portfolio, nil, nil, tax.Context{}, now)
	out2 := tax.Analyze(portfolio, nil, nil, tax.Context{}, now)
	if !out1.TotalTaxImpact.Equal(out2.TotalTaxImpact) || len(out1.TaxOpportunities) != len(out2.TaxOpportunities) {
		t.Error("Analyze should be deterministic given identical inputs")
	}
}

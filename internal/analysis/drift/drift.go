// Package drift implements the rule-based drift and concentration-risk
// analyzer. Analyze is a pure function: given the same portfolio and
// context it always returns the same output, with no side effects.
package drift

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sentinel-uhnw/sentinel/pkg/types"
)

var assetClasses = []string{
	"US Equities",
	"International Equities",
	"Fixed Income",
	"Alternatives",
	"Structured Products",
	"Cash",
}

// significantDriftThreshold is the per-asset-class |drift| threshold above which
// drift is worth calling out in the reasoning narrative.
var significantDriftThreshold = decimal.NewFromFloat(0.05)

// driftDetectedThreshold is the |drift| threshold (independent of
// concentration risk) that alone is enough to set DriftDetected.
var driftDetectedThreshold = decimal.NewFromFloat(0.02)

// severityToUrgency maps a concentration severity to an urgency score.
var severityToUrgency = map[types.Severity]int{
	types.SeverityLow:      3,
	types.SeverityMedium:   5,
	types.SeverityHigh:     7,
	types.SeverityCritical: 9,
}

// Analyze finds concentration risks, computes per-asset-class drift from
// target allocation, and proposes trades to bring overweight positions
// back to the client's concentration limit.
func Analyze(portfolio types.Portfolio, now time.Time) types.DriftAgentOutput {
	limit := portfolio.ClientProfile.ConcentrationLimit

	risks := concentrationRisks(portfolio, limit)
	metrics := driftMetrics(portfolio)
	trades := recommendedTrades(portfolio, limit, risks)
	urgency := overallUrgency(risks)
	reasoning := buildReasoning(risks, metrics, limit)

	return types.DriftAgentOutput{
		PortfolioID:        portfolio.PortfolioID,
		Timestamp:          now.UTC(),
		DriftDetected:      len(risks) > 0 || anyDriftExceeds(metrics, driftDetectedThreshold),
		ConcentrationRisks: risks,
		DriftMetrics:       metrics,
		RecommendedTrades:  trades,
		UrgencyScore:       urgency,
		Reasoning:          reasoning,
	}
}

func concentrationRisks(portfolio types.Portfolio, limit decimal.Decimal) []types.ConcentrationRisk {
	var out []types.ConcentrationRisk
	for _, h := range portfolio.Holdings {
		if h.PortfolioWeight.GreaterThan(limit) {
			excess := h.PortfolioWeight.Sub(limit)
			out = append(out, types.ConcentrationRisk{
				Ticker:        h.Ticker,
				CurrentWeight: h.PortfolioWeight,
				Limit:         limit,
				Excess:        excess,
				Severity:      severityFor(excess),
			})
		}
	}
	return out
}

func severityFor(excess decimal.Decimal) types.Severity {
	switch {
	case excess.GreaterThan(decimal.NewFromFloat(0.10)):
		return types.SeverityCritical
	case excess.GreaterThan(decimal.NewFromFloat(0.05)):
		return types.SeverityHigh
	case excess.GreaterThan(decimal.NewFromFloat(0.02)):
		return types.SeverityMedium
	default:
		return types.SeverityLow
	}
}

func driftMetrics(portfolio types.Portfolio) []types.DriftMetric {
	metrics := make([]types.DriftMetric, 0, len(assetClasses))
	for _, assetClass := range assetClasses {
		target := portfolio.TargetAllocation.Weight(assetClass)
		current := portfolio.AssetClassWeight(assetClass)
		signed := current.Sub(target)

		direction := types.DriftUnder
		if signed.IsPositive() {
			direction = types.DriftOver
		}
		metrics = append(metrics, types.DriftMetric{
			AssetClass:    assetClass,
			TargetWeight:  target,
			CurrentWeight: current,
			DriftPct:      signed,
			Direction:     direction,
		})
	}
	// Largest absolute drift first, matching the original's display order.
	sort.Slice(metrics, func(i, j int) bool {
		return metrics[i].DriftPct.Abs().GreaterThan(metrics[j].DriftPct.Abs())
	})
	return metrics
}

func anyDriftExceeds(metrics []types.DriftMetric, threshold decimal.Decimal) bool {
	for _, m := range metrics {
		if m.DriftPct.Abs().GreaterThan(threshold) {
			return true
		}
	}
	return false
}

func recommendedTrades(portfolio types.Portfolio, limit decimal.Decimal, risks []types.ConcentrationRisk) []types.RecommendedTrade {
	var out []types.RecommendedTrade
	for _, risk := range risks {
		holding, ok := portfolio.GetHolding(risk.Ticker)
		if !ok || holding.CurrentPrice.IsZero() {
			continue
		}
		targetValue := portfolio.AUMUSD.Mul(limit)
		excessValue := holding.MarketValue.Sub(targetValue)
		sharesToSell := excessValue.Div(holding.CurrentPrice).IntPart()
		if sharesToSell <= 0 {
			continue
		}
		out = append(out, types.RecommendedTrade{
			Ticker:             risk.Ticker,
			Action:             types.ActionSell,
			Quantity:           decimal.NewFromInt(sharesToSell),
			Rationale:          "reduce " + risk.Ticker + " from over-concentration back to the client's limit",
			Urgency:            severityToUrgency[risk.Severity],
			EstimatedTaxImpact: decimal.Zero, // supplied by the tax analyzer, not computed here
		})
	}
	return out
}

func overallUrgency(risks []types.ConcentrationRisk) int {
	if len(risks) == 0 {
		return 3
	}
	max := 0
	for _, r := range risks {
		if u := severityToUrgency[r.Severity]; u > max {
			max = u
		}
	}
	return max
}

func buildReasoning(risks []types.ConcentrationRisk, metrics []types.DriftMetric, limit decimal.Decimal) string {
	var parts []string
	if len(risks) > 0 {
		tickers := make([]string, len(risks))
		for i, r := range risks {
			tickers[i] = r.Ticker
		}
		parts = append(parts, "concentration risk in "+joinAnd(tickers)+"; positions exceed the configured limit")
	}
	if anyDriftExceeds(metrics, significantDriftThreshold) {
		parts = append(parts, "significant allocation drift detected from target weights")
	}
	if len(parts) == 0 {
		return "portfolio is within acceptable drift and concentration limits"
	}
	out := parts[0]
	for _, p := range parts[1:] {
		out += ". " + p
	}
	return out
}

func joinAnd(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	default:
		out := items[0]
		for _, item := range items[1:] {
			out += ", " + item
		}
		return out
	}
}

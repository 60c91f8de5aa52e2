package coordinator

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sentinel-uhnw/sentinel/pkg/types"
)

// gradualRebalanceTimings are the pacing labels applied to successive
// phases of a Gradual Rebalance scenario.
var gradualRebalanceTimings = []string{"immediate", "within 1 week", "within 2 weeks", "within 1 month"}

// GenerateScenarios builds the candidate remediation plans for a pair of
// analyzer outputs. Optimal Balance and Tax Efficient are always produced;
// Risk First only when concentration risks exist, and Gradual Rebalance
// only when there are more than two recommended drift trades.
func GenerateScenarios(drift types.DriftAgentOutput, tax types.TaxAgentOutput, portfolio types.Portfolio) []types.Scenario {
	scenarios := []types.Scenario{
		optimalBalanceScenario(drift, tax),
		taxEfficientScenario(drift, tax, portfolio),
	}
	if len(drift.ConcentrationRisks) > 0 {
		scenarios = append(scenarios, riskFirstScenario(drift, tax))
	}
	if len(drift.RecommendedTrades) > 2 {
		scenarios = append(scenarios, gradualRebalanceScenario(drift, tax))
	}
	return scenarios
}

func washSaleTickers(tax types.TaxAgentOutput) map[string]bool {
	flagged := make(map[string]bool, len(tax.WashSaleViolations))
	for _, v := range tax.WashSaleViolations {
		flagged[v.Ticker] = true
	}
	return flagged
}

func totalDrift(metrics []types.DriftMetric) decimal.Decimal {
	total := decimal.Zero
	for _, m := range metrics {
		total = total.Add(m.DriftPct.Abs())
	}
	return total
}

func maxConcentrationWeight(risks []types.ConcentrationRisk) decimal.Decimal {
	max := decimal.Zero
	for _, r := range risks {
		if r.CurrentWeight.GreaterThan(max) {
			max = r.CurrentWeight
		}
	}
	return max
}

// minConcentrationLimit returns the smallest per-holding concentration
// limit among risks, or fallback if there are none.
func minConcentrationLimit(risks []types.ConcentrationRisk, fallback decimal.Decimal) decimal.Decimal {
	if len(risks) == 0 {
		return fallback
	}
	min := risks[0].Limit
	for _, r := range risks[1:] {
		if r.Limit.LessThan(min) {
			min = r.Limit
		}
	}
	return min
}

func optimalBalanceScenario(drift types.DriftAgentOutput, tax types.TaxAgentOutput) types.Scenario {
	flagged := washSaleTickers(tax)
	var steps []types.ActionStep
	step := 1
	for _, trade := range drift.RecommendedTrades {
		if trade.Action == types.ActionBuy && flagged[trade.Ticker] {
			continue
		}
		timing := "within 1 week"
		if trade.Urgency >= 7 {
			timing = "immediate"
		}
		steps = append(steps, types.ActionStep{
			StepNumber: step,
			Action:     trade.Action,
			Ticker:     trade.Ticker,
			Quantity:   trade.Quantity,
			Timing:     timing,
			Rationale:  trade.Rationale,
		})
		step++
	}

	driftBefore := totalDrift(drift.DriftMetrics)
	driftAfter := driftBefore.Mul(decimal.NewFromFloat(0.5))
	totalTax, _ := tax.TotalTaxImpact.Float64()
	concentrationBefore := maxConcentrationWeight(drift.ConcentrationRisks)
	concentrationAfter := minConcentrationLimit(drift.ConcentrationRisks, concentrationBefore)

	var risks []string
	if totalTax > 0 {
		risks = append(risks, fmt.Sprintf("tax impact of $%.0f", totalTax))
	}
	risks = append(risks, "market timing risk on delayed trades")

	return types.Scenario{
		ScenarioID:  "scenario_optimal_" + uuid.NewString()[:8],
		Kind:        types.ScenarioOptimalBalance,
		Title:       "Optimal Balance",
		Description: "Balances risk reduction against tax efficiency across all recommended trades.",
		ActionSteps: steps,
		ExpectedOutcomes: map[string]any{
			"concentration_before":    driftFloat(concentrationBefore),
			"concentration_after":     driftFloat(concentrationAfter),
			"tax_impact":              totalTax,
			"wash_sale_violations":    0,
			"drift_before":            driftFloat(driftBefore),
			"drift_after":             driftFloat(driftAfter),
			"urgency_level":           drift.UrgencyScore,
			"addresses_urgent_issues": drift.UrgencyScore >= 7,
			"issue_urgency":           drift.UrgencyScore,
		},
		Risks: risks,
	}
}

func taxEfficientScenario(drift types.DriftAgentOutput, tax types.TaxAgentOutput, portfolio types.Portfolio) types.Scenario {
	var steps []types.ActionStep
	step := 1

	for _, opp := range tax.TaxOpportunities {
		if opp.Type != types.TaxOpportunityHarvestLoss {
			continue
		}
		holding, ok := portfolio.GetHolding(opp.Ticker)
		if !ok {
			continue
		}
		benefit, _ := opp.EstimatedBenefit.Float64()
		steps = append(steps, types.ActionStep{
			StepNumber: step,
			Action:     types.ActionSell,
			Ticker:     opp.Ticker,
			Quantity:   holding.Quantity,
			Timing:     "immediate",
			Rationale:  fmt.Sprintf("harvest $%.0f tax benefit", benefit),
		})
		step++
	}

	urgent := sortedByUrgencyDesc(drift.RecommendedTrades)
	for _, trade := range urgent {
		if trade.Urgency < 7 {
			continue
		}
		steps = append(steps, types.ActionStep{
			StepNumber: step,
			Action:     trade.Action,
			Ticker:     trade.Ticker,
			Quantity:   trade.Quantity,
			Timing:     "immediate",
			Rationale:  "[URGENT] " + trade.Rationale,
		})
		step++
	}

	harvestSavings := decimal.Zero
	for _, o := range tax.TaxOpportunities {
		harvestSavings = harvestSavings.Add(o.EstimatedBenefit)
	}
	savings, _ := harvestSavings.Float64()

	concentration := maxConcentrationWeight(drift.ConcentrationRisks)
	concentrationFloat := driftFloat(concentration)

	return types.Scenario{
		ScenarioID:  "scenario_tax_" + uuid.NewString()[:8],
		Kind:        types.ScenarioTaxEfficient,
		Title:       "Tax Efficient",
		Description: "Prioritizes tax-loss harvesting and minimizes tax impact. Only executes urgent risk actions.",
		ActionSteps: steps,
		ExpectedOutcomes: map[string]any{
			"concentration_before":           concentrationFloat,
			"concentration_after":            concentrationFloat * 0.9,
			"tax_impact":                     -savings,
			"harvest_opportunities_captured": len(tax.TaxOpportunities),
			"wash_sale_violations":           0,
			"drift_before":                   driftFloat(totalDrift(drift.DriftMetrics)),
			"drift_after":                    driftFloat(totalDrift(drift.DriftMetrics)) * 0.8,
			"urgency_level":                  6,
		},
		Risks: []string{
			"may not fully address concentration risk",
			"drift may worsen if market moves against positions",
		},
	}
}

func riskFirstScenario(drift types.DriftAgentOutput, tax types.TaxAgentOutput) types.Scenario {
	concentrationTickers := make(map[string]bool, len(drift.ConcentrationRisks))
	for _, r := range drift.ConcentrationRisks {
		concentrationTickers[r.Ticker] = true
	}

	var steps []types.ActionStep
	step := 1
	for _, trade := range drift.RecommendedTrades {
		if !concentrationTickers[trade.Ticker] && trade.Urgency < 6 {
			continue
		}
		steps = append(steps, types.ActionStep{
			StepNumber: step,
			Action:     trade.Action,
			Ticker:     trade.Ticker,
			Quantity:   trade.Quantity,
			Timing:     "immediate",
			Rationale:  "[RISK PRIORITY] " + trade.Rationale,
		})
		step++
	}

	totalTax, _ := tax.TotalTaxImpact.Float64()
	concentrationFloat := driftFloat(maxConcentrationWeight(drift.ConcentrationRisks))

	limit := 0.15
	for _, r := range drift.ConcentrationRisks {
		limit = driftFloat(r.Limit)
		break
	}

	return types.Scenario{
		ScenarioID:  "scenario_risk_" + uuid.NewString()[:8],
		Kind:        types.ScenarioRiskFirst,
		Title:       "Risk First",
		Description: "Immediately addresses all concentration risks. Accepts higher tax cost for faster risk reduction.",
		ActionSteps: steps,
		ExpectedOutcomes: map[string]any{
			"concentration_before":    concentrationFloat,
			"concentration_after":     limit,
			"tax_impact":              totalTax,
			"wash_sale_violations":    len(tax.WashSaleViolations),
			"drift_before":            driftFloat(totalDrift(drift.DriftMetrics)),
			"drift_after":             0.02,
			"urgency_level":           9,
			"addresses_urgent_issues": true,
			"issue_urgency":           drift.UrgencyScore,
		},
		Risks: []string{
			fmt.Sprintf("significant tax impact of $%.0f", totalTax),
			"may trigger wash sale if not careful with timing",
		},
	}
}

func gradualRebalanceScenario(drift types.DriftAgentOutput, tax types.TaxAgentOutput) types.Scenario {
	sorted := sortedByUrgencyDesc(drift.RecommendedTrades)

	var steps []types.ActionStep
	for i, trade := range sorted {
		timing := gradualRebalanceTimings[min(i, len(gradualRebalanceTimings)-1)]
		qty := trade.Quantity
		if i > 0 {
			qty = qty.Mul(decimal.NewFromFloat(0.5))
		}
		steps = append(steps, types.ActionStep{
			StepNumber: i + 1,
			Action:     trade.Action,
			Ticker:     trade.Ticker,
			Quantity:   qty,
			Timing:     timing,
			Rationale:  fmt.Sprintf("[PHASE %d] %s", i+1, trade.Rationale),
		})
	}

	driftBefore := totalDrift(drift.DriftMetrics)
	totalTax, _ := tax.TotalTaxImpact.Float64()

	return types.Scenario{
		ScenarioID:  "scenario_gradual_" + uuid.NewString()[:8],
		Kind:        types.ScenarioGradualRebalance,
		Title:       "Gradual Rebalance",
		Description: "Phased approach over 4 weeks. Reduces market impact and allows for tax planning between phases.",
		ActionSteps: steps,
		ExpectedOutcomes: map[string]any{
			"concentration_before": driftFloat(maxConcentrationWeight(drift.ConcentrationRisks)),
			"concentration_after":  driftFloat(maxConcentrationWeight(drift.ConcentrationRisks)) * 0.7,
			"tax_impact":           totalTax * 0.7,
			"wash_sale_violations": 0,
			"drift_before":         driftFloat(driftBefore),
			"drift_after":          driftFloat(driftBefore) * 0.3,
			"urgency_level":        5,
		},
		Risks: []string{
			"market may move unfavorably during phased execution",
			"requires monitoring between phases",
			"may not address urgent issues fast enough",
		},
	}
}

func sortedByUrgencyDesc(trades []types.RecommendedTrade) []types.RecommendedTrade {
	sorted := make([]types.RecommendedTrade, len(trades))
	copy(sorted, trades)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Urgency > sorted[j].Urgency })
	return sorted
}

func driftFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

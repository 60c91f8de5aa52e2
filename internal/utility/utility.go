// Package utility implements the five-dimensional weighted scoring system
// used to rank candidate remediation scenarios: risk reduction, tax
// savings, goal alignment, transaction cost, and urgency.
package utility

import (
	"math"
	"sort"

	"github.com/sentinel-uhnw/sentinel/pkg/types"
)

// ScoringConfig tunes the dimension scorers. Bindable from YAML/env via
// viper in internal/config.
type ScoringConfig struct {
	ConcentrationLimit    float64 `mapstructure:"concentration_limit"`
	MaxSectorWeight       float64 `mapstructure:"max_sector_weight"`
	WashSalePenalty       float64 `mapstructure:"wash_sale_penalty"`
	HarvestBonus          float64 `mapstructure:"harvest_bonus"`
	CommissionRate        float64 `mapstructure:"estimated_commission_rate"`
	MinCostThreshold      float64 `mapstructure:"min_cost_threshold"`
	CriticalUrgencyThresh int     `mapstructure:"critical_urgency_threshold"`
	HighUrgencyThresh     int     `mapstructure:"high_urgency_threshold"`
}

// DefaultScoringConfig returns the baseline thresholds.
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		ConcentrationLimit:    0.15,
		MaxSectorWeight:       0.30,
		WashSalePenalty:       2.0,
		HarvestBonus:          1.5,
		CommissionRate:        0.001,
		MinCostThreshold:      100,
		CriticalUrgencyThresh: 8,
		HighUrgencyThresh:     6,
	}
}

func clampf(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func outcomeFloat(outcomes map[string]any, key string, fallback float64) float64 {
	v, ok := outcomes[key]
	if !ok {
		return fallback
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case bool:
		if n {
			return 1
		}
		return 0
	default:
		return fallback
	}
}

func outcomeBool(outcomes map[string]any, key string) bool {
	v, ok := outcomes[key]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// scoreRisk scores risk reduction (0-10); higher is better.
func scoreRisk(scenario types.Scenario, cfg ScoringConfig) float64 {
	score := 5.0
	outcomes := scenario.ExpectedOutcomes

	before := outcomeFloat(outcomes, "concentration_before", 0)
	after := outcomeFloat(outcomes, "concentration_after", 0)
	if before > cfg.ConcentrationLimit {
		reduction := before - after
		if after <= cfg.ConcentrationLimit {
			score += 3.0
		} else {
			score += math.Min(2.0, reduction*20)
		}
	}

	diversification := outcomeFloat(outcomes, "diversification_delta", 0)
	score += math.Min(1.0, diversification*10)

	newRisks := len(scenario.Risks)
	if newRisks > 0 {
		score -= math.Min(2.0, float64(newRisks)*0.5)
	}

	sectorImprovement := outcomeFloat(outcomes, "sector_improvement", 0)
	score += math.Min(1.0, sectorImprovement*5)

	return clampf(score, 0, 10)
}

// scoreTax scores tax savings (0-10); higher is better.
func scoreTax(scenario types.Scenario, cfg ScoringConfig) float64 {
	score := 5.0
	outcomes := scenario.ExpectedOutcomes

	taxImpact := outcomeFloat(outcomes, "tax_impact", 0)
	if taxImpact < 0 {
		score += math.Min(3.0, math.Abs(taxImpact)/5000)
	} else {
		score -= math.Min(3.0, taxImpact/5000)
	}

	washSales := outcomeFloat(outcomes, "wash_sale_violations", 0)
	score -= washSales * cfg.WashSalePenalty

	harvested := outcomeFloat(outcomes, "harvest_opportunities_captured", 0)
	score += harvested * cfg.HarvestBonus

	ltGains := outcomeFloat(outcomes, "long_term_gains", 0)
	stGains := outcomeFloat(outcomes, "short_term_gains", 0)
	if ltGains > 0 && stGains > 0 {
		ratio := ltGains / (ltGains + stGains)
		score += (ratio - 0.5) * 2
	}

	return clampf(score, 0, 10)
}

// scoreGoal scores goal alignment (0-10); higher is better.
func scoreGoal(scenario types.Scenario, portfolio types.Portfolio) float64 {
	score := 5.0
	outcomes := scenario.ExpectedOutcomes
	client := portfolio.ClientProfile

	before := outcomeFloat(outcomes, "drift_before", 0)
	after := outcomeFloat(outcomes, "drift_after", 0)
	if before > 0 {
		reduction := before - after
		score += math.Min(2.5, reduction/before*2.5)
	}

	targetAlignment := outcomeFloat(outcomes, "target_alignment", 0.5)
	score += (targetAlignment - 0.5) * 4

	riskAlignment := outcomeFloat(outcomes, "risk_profile_alignment", 0.5)
	if client.RiskTolerance == types.RiskConservative {
		score += (riskAlignment - 0.5) * 3
	} else {
		score += (riskAlignment - 0.5) * 2
	}

	incomePreference := outcomeFloat(outcomes, "income_alignment", 0)
	growthPreference := outcomeFloat(outcomes, "growth_alignment", 0)
	switch client.RiskTolerance {
	case types.RiskConservative:
		score += incomePreference * 0.5
	case types.RiskAggressive:
		score += growthPreference * 0.5
	}

	return clampf(score, 0, 10)
}

// scoreCost scores transaction-cost efficiency (0-10); higher means cheaper.
func scoreCost(scenario types.Scenario, portfolio types.Portfolio, cfg ScoringConfig) float64 {
	totalValue := 0.0
	for _, step := range scenario.ActionSteps {
		if step.Action != types.ActionBuy && step.Action != types.ActionSell {
			continue
		}
		holding, ok := portfolio.GetHolding(step.Ticker)
		price := 0.0
		if ok {
			price, _ = holding.CurrentPrice.Float64()
		}
		qty, _ := step.Quantity.Float64()
		totalValue += qty * price
	}

	commission := totalValue * cfg.CommissionRate
	spread := totalValue * 0.0005
	totalCost := commission + spread
	totalCost += outcomeFloat(scenario.ExpectedOutcomes, "transaction_costs", 0)

	if totalCost <= cfg.MinCostThreshold {
		return 10.0
	}

	score := 10 - math.Log10(math.Max(1, totalCost/cfg.MinCostThreshold))*2.5
	return clampf(score, 0, 10)
}

// scoreUrgency scores urgency alignment (0-10); higher means the scenario's
// pacing matches how time-sensitive the underlying issues are.
func scoreUrgency(scenario types.Scenario, cfg ScoringConfig) float64 {
	outcomes := scenario.ExpectedOutcomes

	scenarioUrgency := outcomeFloat(outcomes, "urgency_level", 5)
	addressesUrgent := outcomeBool(outcomes, "addresses_urgent_issues")
	issueUrgency := outcomeFloat(outcomes, "issue_urgency", 5)

	if addressesUrgent && issueUrgency >= float64(cfg.CriticalUrgencyThresh) {
		return math.Min(10.0, 6.0+issueUrgency*0.4)
	}
	if addressesUrgent && issueUrgency >= float64(cfg.HighUrgencyThresh) {
		return math.Min(10.0, 5.0+issueUrgency*0.3)
	}
	if scenarioUrgency >= float64(cfg.HighUrgencyThresh) {
		return 7.0 + (scenarioUrgency-float64(cfg.HighUrgencyThresh))*0.5
	}
	return 5.0 + (scenarioUrgency-5)*0.2
}

// dimensionScore builds a DimensionScore with the weighted-score formula
// raw*weight*10 (weights sum to 1, raw maxes at 10, so total maxes at 100).
func dimensionScore(dimension string, raw, weight float64) types.DimensionScore {
	return types.DimensionScore{
		Dimension:     dimension,
		RawScore:      raw,
		Weight:        weight,
		WeightedScore: raw * weight * 10,
	}
}

// Score scores a single scenario against a portfolio using the given
// dimension weights. Rank is left at 0; RankScenarios fills it in.
func Score(scenario types.Scenario, portfolio types.Portfolio, weights types.UtilityWeights, cfg ScoringConfig) types.UtilityScore {
	dims := []types.DimensionScore{
		dimensionScore("risk_reduction", scoreRisk(scenario, cfg), weights.RiskReduction),
		dimensionScore("tax_savings", scoreTax(scenario, cfg), weights.TaxSavings),
		dimensionScore("goal_alignment", scoreGoal(scenario, portfolio), weights.GoalAlignment),
		dimensionScore("transaction_cost", scoreCost(scenario, portfolio, cfg), weights.TransactionCost),
		dimensionScore("urgency", scoreUrgency(scenario, cfg), weights.Urgency),
	}

	total := 0.0
	for _, d := range dims {
		total += d.WeightedScore
	}

	return types.UtilityScore{
		ScenarioID:      scenario.ScenarioID,
		DimensionScores: dims,
		TotalScore:      total,
	}
}

// RankScenarios scores every scenario and returns UtilityScores sorted by
// total score descending, with Rank filled in starting at 1.
func RankScenarios(scenarios []types.Scenario, portfolio types.Portfolio, weights types.UtilityWeights, cfg ScoringConfig) []types.UtilityScore {
	if len(scenarios) == 0 {
		return nil
	}

	scores := make([]types.UtilityScore, len(scenarios))
	for i, s := range scenarios {
		scores[i] = Score(s, portfolio, weights, cfg)
	}

	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].TotalScore > scores[j].TotalScore
	})
	for i := range scores {
		scores[i].Rank = i + 1
	}
	return scores
}

// WeightsForProfile returns the fixed dimension weights for a risk
// tolerance, falling back to moderate-growth if the profile is unknown.
func WeightsForProfile(profile types.RiskProfile) types.UtilityWeights {
	if w, ok := types.UtilityWeightsByProfile[profile]; ok {
		return w
	}
	return types.UtilityWeightsByProfile[types.RiskModerateGrowth]
}

package coordinator

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/sentinel-uhnw/sentinel/pkg/types"
)

// significantTaxImpact is the threshold above which a sell's tax cost is
// considered significant enough to flag against a non-urgent drift trade.
var significantTaxImpact = 50000.0

// urgentEnoughToOverrideTax is the drift urgency at or above which a sale
// is considered justified despite its tax cost.
const urgentEnoughToOverrideTax = 7

// DetectConflicts finds disagreements between the drift and tax analyzer
// outputs: a drift-recommended buy that would trigger a wash sale, a
// drift-recommended sell whose tax cost is significant and not urgent, and
// any ticker drift recommends both buying and selling.
func DetectConflicts(drift types.DriftAgentOutput, tax types.TaxAgentOutput, portfolio types.Portfolio) []types.ConflictInfo {
	driftTrades := make(map[string]types.RecommendedTrade, len(drift.RecommendedTrades))
	for _, t := range drift.RecommendedTrades {
		driftTrades[t.Ticker] = t
	}

	var conflicts []types.ConflictInfo
	conflicts = append(conflicts, washSaleConflicts(driftTrades, tax)...)
	conflicts = append(conflicts, taxInefficientConflicts(driftTrades, tax)...)
	conflicts = append(conflicts, contradictoryActionConflicts(drift)...)
	return conflicts
}

func washSaleConflicts(driftTrades map[string]types.RecommendedTrade, tax types.TaxAgentOutput) []types.ConflictInfo {
	var conflicts []types.ConflictInfo
	for _, violation := range tax.WashSaleViolations {
		trade, ok := driftTrades[violation.Ticker]
		if !ok || trade.Action != types.ActionBuy {
			continue
		}
		conflicts = append(conflicts, types.ConflictInfo{
			ConflictID:     newConflictID(),
			ConflictType:   types.ConflictWashSale,
			InvolvedAgents: []types.AgentTag{types.AgentDrift, types.AgentTax},
			Description: fmt.Sprintf(
				"drift agent recommends buying %s, but tax agent detected wash sale risk (%d days until clear)",
				violation.Ticker, violation.DaysUntilClear(),
			),
			ResolutionOptions: []string{
				fmt.Sprintf("wait %d days before purchasing %s", violation.DaysUntilClear(), violation.Ticker),
				fmt.Sprintf("purchase a substitute security instead of %s", violation.Ticker),
				"proceed anyway (loss will be disallowed)",
			},
		})
	}
	return conflicts
}

func taxInefficientConflicts(driftTrades map[string]types.RecommendedTrade, tax types.TaxAgentOutput) []types.ConflictInfo {
	var conflicts []types.ConflictInfo
	for _, analysis := range tax.ProposedTradesAnalysis {
		taxImpact, _ := analysis.TaxImpact.Float64()
		if taxImpact <= significantTaxImpact {
			continue
		}
		trade, ok := driftTrades[analysis.Ticker]
		if !ok || trade.Action != types.ActionSell || trade.Urgency >= urgentEnoughToOverrideTax {
			continue
		}
		conflicts = append(conflicts, types.ConflictInfo{
			ConflictID:     newConflictID(),
			ConflictType:   types.ConflictTaxInefficient,
			InvolvedAgents: []types.AgentTag{types.AgentDrift, types.AgentTax},
			Description: fmt.Sprintf(
				"selling %s would generate $%.0f in taxes; drift urgency is %d/10",
				analysis.Ticker, taxImpact, trade.Urgency,
			),
			ResolutionOptions: []string{
				"proceed with the sale (urgency may justify the tax cost)",
				"delay the sale to harvest losses elsewhere first",
				"sell only a partial position to reduce the tax impact",
			},
		})
	}
	return conflicts
}

func contradictoryActionConflicts(drift types.DriftAgentOutput) []types.ConflictInfo {
	buys := make(map[string]bool)
	sells := make(map[string]bool)
	for _, t := range drift.RecommendedTrades {
		switch t.Action {
		case types.ActionBuy:
			buys[t.Ticker] = true
		case types.ActionSell:
			sells[t.Ticker] = true
		}
	}

	// Walk trades in their original order so the output is deterministic
	// and each contradictory ticker is reported once.
	var tickers []string
	seen := make(map[string]bool)
	for _, t := range drift.RecommendedTrades {
		if buys[t.Ticker] && sells[t.Ticker] && !seen[t.Ticker] {
			seen[t.Ticker] = true
			tickers = append(tickers, t.Ticker)
		}
	}

	var conflicts []types.ConflictInfo
	for _, ticker := range tickers {
		conflicts = append(conflicts, types.ConflictInfo{
			ConflictID:     newConflictID(),
			ConflictType:   types.ConflictContradictory,
			InvolvedAgents: []types.AgentTag{types.AgentDrift},
			Description:    fmt.Sprintf("both a buy and a sell are recommended for %s", ticker),
			ResolutionOptions: []string{
				fmt.Sprintf("review position size targets for %s", ticker),
				"execute only the net action",
				"skip this security",
			},
		})
	}
	return conflicts
}

func newConflictID() string {
	return "conflict_" + uuid.NewString()[:8]
}

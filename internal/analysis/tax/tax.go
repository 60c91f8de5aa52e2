// Package tax implements the rule-based tax analyzer: wash-sale
// detection, loss-harvesting opportunities, and the tax impact of
// proposed trades. Analyze is a pure function of its inputs.
package tax

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sentinel-uhnw/sentinel/pkg/types"
)

// Tax rates applied to UHNW clients: federal top bracket plus the 3.8%
// net investment income tax.
var (
	ShortTermRate = decimal.NewFromFloat(0.408)
	LongTermRate  = decimal.NewFromFloat(0.238)
)

// washSaleWindowDays is the IRS wash-sale lookback window.
const washSaleWindowDays = 31

// ordinaryIncomeOffsetCap is the amount of ordinary income a harvested
// loss may offset when there are no year-to-date gains to offset instead.
var ordinaryIncomeOffsetCap = decimal.NewFromInt(3000)

// Context carries the optional inputs the tax analyzer consults beyond
// the portfolio itself.
type Context struct {
	YearToDateGains decimal.Decimal
}

// Analyze detects wash-sale violations against recent sell transactions
// and a set of proposed trades, finds loss-harvesting opportunities, and
// estimates the tax impact of the proposed trades.
func Analyze(portfolio types.Portfolio, transactions []types.Transaction, proposedTrades []types.RecommendedTrade, ctx Context, now time.Time) types.TaxAgentOutput {
	violations := detectWashSales(portfolio, transactions, proposedTrades, now)
	opportunities := findOpportunities(portfolio, ctx.YearToDateGains)
	analysis, totalImpact := analyzeProposedTrades(portfolio, proposedTrades, now)
	recommendations := buildRecommendations(violations, opportunities, proposedTrades)
	reasoning := buildReasoning(violations, opportunities, totalImpact)

	return types.TaxAgentOutput{
		PortfolioID:            portfolio.PortfolioID,
		Timestamp:              now.UTC(),
		WashSaleViolations:     violations,
		TaxOpportunities:       opportunities,
		ProposedTradesAnalysis: analysis,
		TotalTaxImpact:         totalImpact,
		Recommendations:        recommendations,
		Reasoning:              reasoning,
	}
}

type recentSale struct {
	date    time.Time
	daysAgo int
}

func detectWashSales(portfolio types.Portfolio, transactions []types.Transaction, proposedTrades []types.RecommendedTrade, now time.Time) []types.WashSaleViolation {
	recentSales := make(map[string][]recentSale)
	for _, t := range transactions {
		if t.Action != types.ActionSell {
			continue
		}
		daysAgo := int(now.Sub(t.Timestamp).Hours() / 24)
		if daysAgo <= washSaleWindowDays {
			recentSales[t.Ticker] = append(recentSales[t.Ticker], recentSale{date: t.Timestamp, daysAgo: daysAgo})
		}
	}

	var violations []types.WashSaleViolation

	for _, trade := range proposedTrades {
		if trade.Action != types.ActionBuy {
			continue
		}
		for _, sale := range recentSales[trade.Ticker] {
			estimatedLoss := decimal.Zero
			if holding, ok := portfolio.GetHolding(trade.Ticker); ok && holding.UnrealizedGainLoss.IsNegative() {
				estimatedLoss = holding.UnrealizedGainLoss.Abs()
			}
			violations = append(violations, types.WashSaleViolation{
				Ticker:         trade.Ticker,
				PriorSaleDate:  sale.date,
				DaysSinceSale:  sale.daysAgo,
				DisallowedLoss: estimatedLoss,
				Recommendation: fmt.Sprintf(
					"wait %d more day(s) before buying %s, or purchase a substitute security to maintain exposure",
					washSaleWindowDays-sale.daysAgo, trade.Ticker,
				),
			})
		}
	}

	sellTickers := make(map[string]bool)
	buyTickers := make(map[string]bool)
	for _, t := range proposedTrades {
		if t.Action == types.ActionSell {
			sellTickers[t.Ticker] = true
		}
		if t.Action == types.ActionBuy {
			buyTickers[t.Ticker] = true
		}
	}
	for ticker := range sellTickers {
		if !buyTickers[ticker] {
			continue
		}
		holding, ok := portfolio.GetHolding(ticker)
		if !ok || !holding.UnrealizedGainLoss.IsNegative() {
			continue
		}
		violations = append(violations, types.WashSaleViolation{
			Ticker:         ticker,
			PriorSaleDate:  now,
			DaysSinceSale:  0,
			DisallowedLoss: holding.UnrealizedGainLoss.Abs(),
			Recommendation: fmt.Sprintf(
				"cannot sell and immediately repurchase %s at a loss; use a substitute security instead",
				ticker,
			),
		})
	}

	return violations
}

func findOpportunities(portfolio types.Portfolio, ytdGains decimal.Decimal) []types.TaxOpportunity {
	var opportunities []types.TaxOpportunity

	for _, h := range portfolio.Holdings {
		if !h.UnrealizedGainLoss.IsNegative() {
			continue
		}
		loss := h.UnrealizedGainLoss.Abs()

		var benefit decimal.Decimal
		var action string
		if ytdGains.IsPositive() {
			offsettable := decimal.Min(loss, ytdGains)
			// Preserved as-is: this uses the short-term rate even when the
			// position being harvested is long-term eligible.
			benefit = offsettable.Mul(ShortTermRate)
			action = fmt.Sprintf("harvest %s loss to offset %s in gains", money(loss), money(offsettable))
		} else {
			offsettable := decimal.Min(loss, ordinaryIncomeOffsetCap)
			benefit = offsettable.Mul(ShortTermRate)
			action = fmt.Sprintf("harvest %s loss to offset ordinary income", money(loss))
		}

		opportunities = append(opportunities, types.TaxOpportunity{
			Ticker:           h.Ticker,
			Type:             types.TaxOpportunityHarvestLoss,
			EstimatedBenefit: benefit,
			ActionRequired:   action,
		})
	}

	sortByBenefitDesc(opportunities)
	return opportunities
}

func sortByBenefitDesc(opportunities []types.TaxOpportunity) {
	for i := 1; i < len(opportunities); i++ {
		for j := i; j > 0 && opportunities[j].EstimatedBenefit.GreaterThan(opportunities[j-1].EstimatedBenefit); j-- {
			opportunities[j], opportunities[j-1] = opportunities[j-1], opportunities[j]
		}
	}
}

func analyzeProposedTrades(portfolio types.Portfolio, proposedTrades []types.RecommendedTrade, now time.Time) ([]types.ProposedTradeAnalysis, decimal.Decimal) {
	var analysis []types.ProposedTradeAnalysis
	totalImpact := decimal.Zero

	for _, trade := range proposedTrades {
		holding, ok := portfolio.GetHolding(trade.Ticker)
		if !ok {
			analysis = append(analysis, types.ProposedTradeAnalysis{
				Ticker:    trade.Ticker,
				Action:    trade.Action,
				Quantity:  trade.Quantity,
				TaxImpact: decimal.Zero,
				Note:      "new position, no tax impact on purchase",
			})
			continue
		}

		if trade.Action != types.ActionSell {
			analysis = append(analysis, types.ProposedTradeAnalysis{
				Ticker:    trade.Ticker,
				Action:    trade.Action,
				Quantity:  trade.Quantity,
				TaxImpact: decimal.Zero,
				Note:      "purchase, no immediate tax impact",
			})
			continue
		}

		sellRatio := decimal.NewFromInt(1)
		if !holding.Quantity.IsZero() {
			ratio := trade.Quantity.Div(holding.Quantity)
			sellRatio = decimal.Min(ratio, decimal.NewFromInt(1))
		}
		gainLoss := holding.UnrealizedGainLoss.Mul(sellRatio)

		isLongTerm := isLongTermAverage(holding, now)
		rate := ShortTermRate
		holdingPeriod := "short-term"
		if isLongTerm {
			rate = LongTermRate
			holdingPeriod = "long-term"
		}

		taxImpact := decimal.Zero
		if gainLoss.IsPositive() {
			taxImpact = gainLoss.Mul(rate)
		}
		totalImpact = totalImpact.Add(taxImpact)

		label := "loss"
		if gainLoss.IsPositive() {
			label = "gain"
		}
		analysis = append(analysis, types.ProposedTradeAnalysis{
			Ticker:           trade.Ticker,
			Action:           trade.Action,
			Quantity:         trade.Quantity,
			RealizedGainLoss: gainLoss,
			HoldingPeriod:    holdingPeriod,
			TaxRate:          rate,
			TaxImpact:        taxImpact,
			Note:             fmt.Sprintf("%s of %s taxed at %s", label, money(gainLoss.Abs()), rate.StringFixed(3)),
		})
	}

	return analysis, totalImpact
}

// isLongTermAverage reports whether the holding's lots are predominantly
// long-term by quantity. A holding with no lot detail is assumed
// long-term, matching the conservative default in the original service.
func isLongTermAverage(holding types.Holding, now time.Time) bool {
	if len(holding.TaxLots) == 0 {
		return true
	}
	totalQty := decimal.Zero
	longTermQty := decimal.Zero
	for _, lot := range holding.TaxLots {
		totalQty = totalQty.Add(lot.Quantity)
		if lot.IsLongTerm(now) {
			longTermQty = longTermQty.Add(lot.Quantity)
		}
	}
	if totalQty.IsZero() {
		return true
	}
	return longTermQty.GreaterThan(totalQty.Div(decimal.NewFromInt(2)))
}

func buildRecommendations(violations []types.WashSaleViolation, opportunities []types.TaxOpportunity, proposedTrades []types.RecommendedTrade) []string {
	var recs []string

	if len(violations) > 0 {
		recs = append(recs, fmt.Sprintf(
			"%d potential wash sale violation(s) detected; review proposed trades before execution",
			len(violations),
		))
	}
	if len(opportunities) > 0 {
		top := opportunities[0]
		recs = append(recs, fmt.Sprintf(
			"consider harvesting %s loss for an estimated %s tax benefit",
			top.Ticker, money(top.EstimatedBenefit),
		))
	}
	for _, t := range proposedTrades {
		if t.Action == types.ActionSell {
			recs = append(recs, "use HIFO (highest in, first out) lot selection to minimize gains")
			break
		}
	}
	if len(recs) == 0 {
		recs = append(recs, "portfolio is tax-efficient; no immediate action required")
	}
	return recs
}

func buildReasoning(violations []types.WashSaleViolation, opportunities []types.TaxOpportunity, totalImpact decimal.Decimal) string {
	var parts []string

	if len(violations) > 0 {
		tickers := make([]string, len(violations))
		for i, v := range violations {
			tickers[i] = v.Ticker
		}
		parts = append(parts, fmt.Sprintf(
			"detected %d wash sale risk(s) involving %s; these trades should be modified or delayed to avoid IRS penalties",
			len(violations), joinComma(tickers),
		))
	}
	if len(opportunities) > 0 {
		total := decimal.Zero
		for _, o := range opportunities {
			total = total.Add(o.EstimatedBenefit)
		}
		parts = append(parts, fmt.Sprintf(
			"identified %d tax-loss harvesting opportunity(ies) with total estimated benefit of %s",
			len(opportunities), money(total),
		))
	}
	if totalImpact.IsPositive() {
		parts = append(parts, fmt.Sprintf("proposed trades would result in estimated tax liability of %s", money(totalImpact)))
	} else if totalImpact.IsNegative() {
		parts = append(parts, fmt.Sprintf("proposed trades would generate %s in realizable losses", money(totalImpact.Abs())))
	}

	if len(parts) == 0 {
		return "no significant tax implications identified"
	}
	out := parts[0]
	for _, p := range parts[1:] {
		out += ". " + p
	}
	return out
}

func money(d decimal.Decimal) string {
	return "$" + d.StringFixed(0)
}

func joinComma(items []string) string {
	out := ""
	for i, item := range items {
		if i > 0 {
			out += ", "
		}
		out += item
	}
	return out
}

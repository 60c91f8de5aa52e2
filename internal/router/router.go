// Package router implements the persona router: given a triggering event
// and the portfolio it names, decide whether an analysis run is
// warranted, at what priority, and which analyzers it should engage.
package router

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sentinel-uhnw/sentinel/internal/analysis/drift"
	"github.com/sentinel-uhnw/sentinel/pkg/types"
)

// RoutingConfig holds the routing thresholds spec.md lists literally. Kept as
// fields (not constants) so they can be bound from YAML/env via viper.
type RoutingConfig struct {
	MarketCriticalMagnitude decimal.Decimal `mapstructure:"market_critical_magnitude"`
	MarketHighMagnitude     decimal.Decimal `mapstructure:"market_high_magnitude"`
	MarketHighExposure      decimal.Decimal `mapstructure:"market_high_exposure"`
	MarketNormalExposure    decimal.Decimal `mapstructure:"market_normal_exposure"`

	HeartbeatHighConcentrationExcess   decimal.Decimal `mapstructure:"heartbeat_high_concentration_excess"`
	HeartbeatNormalConcentrationExcess decimal.Decimal `mapstructure:"heartbeat_normal_concentration_excess"`
	HeartbeatDriftHighThreshold        decimal.Decimal `mapstructure:"heartbeat_drift_high_threshold"`
	HeartbeatDriftNormalThreshold      decimal.Decimal `mapstructure:"heartbeat_drift_normal_threshold"`
	HeartbeatTaxHarvestThreshold       decimal.Decimal `mapstructure:"heartbeat_tax_harvest_threshold"`
}

// DefaultConfig returns the literal thresholds from spec.md §4.10.
func DefaultConfig() RoutingConfig {
	return RoutingConfig{
		MarketCriticalMagnitude:            decimal.NewFromFloat(0.10),
		MarketHighMagnitude:                decimal.NewFromFloat(0.05),
		MarketHighExposure:                 decimal.NewFromFloat(0.20),
		MarketNormalExposure:               decimal.NewFromFloat(0.10),
		HeartbeatHighConcentrationExcess:   decimal.NewFromFloat(0.10),
		HeartbeatNormalConcentrationExcess: decimal.NewFromFloat(0.05),
		HeartbeatDriftHighThreshold:        decimal.NewFromFloat(0.10),
		HeartbeatDriftNormalThreshold:      decimal.NewFromFloat(0.05),
		HeartbeatTaxHarvestThreshold:       decimal.NewFromInt(50000),
	}
}

// PortfolioLoader resolves a portfolio_id to a Portfolio. The real loader
// (a per-portfolio JSON file per spec §1) is explicitly out of scope; any
// implementation satisfying this interface can be wired in.
type PortfolioLoader interface {
	Load(portfolioID string) (types.Portfolio, error)
}

// Route decides whether event should produce an analysis run, and if so
// at what priority and with which agents engaged.
func Route(event types.Event, loader PortfolioLoader, cfg RoutingConfig) types.RoutingDecision {
	portfolio, err := loader.Load(event.PortfolioID)
	if err != nil {
		return types.RoutingDecision{
			ShouldProcess: false,
			Priority:      types.PrioritySkip,
			Reasoning:     fmt.Sprintf("portfolio load failed: %s", err),
		}
	}

	switch event.Kind {
	case types.EventKindMarket:
		return routeMarketEvent(event, portfolio, cfg)
	case types.EventKindHeartbeat:
		return routeHeartbeat(portfolio, cfg)
	case types.EventKindWebhook:
		return routeWebhook(event, portfolio)
	case types.EventKindCronJob:
		return routeCronJob(event)
	case types.EventKindAgentMessage:
		return routeAgentMessage(event)
	default:
		return types.RoutingDecision{ShouldProcess: false, Priority: types.PrioritySkip, Reasoning: fmt.Sprintf("unrecognized event kind %q", event.Kind)}
	}
}

func routeMarketEvent(event types.Event, portfolio types.Portfolio, cfg RoutingConfig) types.RoutingDecision {
	exposure := decimal.Zero
	var sectors []string
	if event.MarketPayload != nil {
		sectors = event.MarketPayload.AffectedSectors
	}
	for _, sector := range sectors {
		exposure = exposure.Add(portfolio.SectorWeight(sector))
	}

	magnitude := decimal.Zero
	if event.MarketPayload != nil {
		magnitude = event.MarketPayload.Magnitude
	}
	absMagnitude := magnitude.Abs()

	reasoning := fmt.Sprintf("market event magnitude %s, sector exposure %s", absMagnitude.StringFixed(3), exposure.StringFixed(3))

	switch {
	case absMagnitude.GreaterThanOrEqual(cfg.MarketCriticalMagnitude):
		return types.RoutingDecision{
			ShouldProcess:  true,
			Priority:       types.PriorityCritical,
			AgentsRequired: []types.AgentTag{types.AgentDrift, types.AgentTax, types.AgentCoordinator},
			Reasoning:      reasoning,
		}
	case absMagnitude.GreaterThanOrEqual(cfg.MarketHighMagnitude) && exposure.GreaterThan(cfg.MarketHighExposure):
		return types.RoutingDecision{
			ShouldProcess:  true,
			Priority:       types.PriorityHigh,
			AgentsRequired: []types.AgentTag{types.AgentDrift, types.AgentTax, types.AgentCoordinator},
			Reasoning:      reasoning,
		}
	case exposure.GreaterThan(cfg.MarketNormalExposure):
		return types.RoutingDecision{
			ShouldProcess:  true,
			Priority:       types.PriorityNormal,
			AgentsRequired: []types.AgentTag{types.AgentDrift, types.AgentCoordinator},
			Reasoning:      reasoning,
		}
	default:
		return types.RoutingDecision{
			ShouldProcess:  true,
			Priority:       types.PriorityLow,
			AgentsRequired: []types.AgentTag{types.AgentDrift},
			Reasoning:      reasoning,
		}
	}
}

func routeHeartbeat(portfolio types.Portfolio, cfg RoutingConfig) types.RoutingDecision {
	driftOutput := drift.Analyze(portfolio, time.Now())

	concentrationExcess := decimal.Zero
	for _, risk := range driftOutput.ConcentrationRisks {
		if risk.Excess.GreaterThan(concentrationExcess) {
			concentrationExcess = risk.Excess
		}
	}

	maxDrift := decimal.Zero
	for _, m := range driftOutput.DriftMetrics {
		if m.DriftPct.Abs().GreaterThan(maxDrift) {
			maxDrift = m.DriftPct.Abs()
		}
	}

	unrealizedLosses := decimal.Zero
	for _, h := range portfolio.Holdings {
		if h.UnrealizedGainLoss.IsNegative() {
			unrealizedLosses = unrealizedLosses.Add(h.UnrealizedGainLoss.Abs())
		}
	}

	agents := make(map[types.AgentTag]bool)
	var contextAdditions []string
	priority := types.PriorityLow

	switch {
	case concentrationExcess.GreaterThan(cfg.HeartbeatHighConcentrationExcess):
		priority = types.PriorityHigh
		agents[types.AgentDrift] = true
	case concentrationExcess.GreaterThan(cfg.HeartbeatNormalConcentrationExcess):
		priority = types.PriorityNormal
		agents[types.AgentDrift] = true
	}

	if maxDrift.GreaterThan(cfg.HeartbeatDriftNormalThreshold) {
		agents[types.AgentDrift] = true
		contextAdditions = append(contextAdditions, "drift_detected")
		if maxDrift.GreaterThan(cfg.HeartbeatDriftHighThreshold) {
			priority = types.PriorityHigh
		}
	}

	if unrealizedLosses.GreaterThan(cfg.HeartbeatTaxHarvestThreshold) {
		agents[types.AgentTax] = true
		contextAdditions = append(contextAdditions, "tax_harvest_opportunity")
	}

	if len(agents) >= 2 {
		agents[types.AgentCoordinator] = true
	}

	if len(agents) == 0 {
		return types.RoutingDecision{
			ShouldProcess: false,
			Priority:      types.PrioritySkip,
			Reasoning:     "heartbeat found no concentration, drift, or harvesting signal worth escalating",
		}
	}

	return types.RoutingDecision{
		ShouldProcess:    true,
		Priority:         priority,
		AgentsRequired:   agentTagsInFixedOrder(agents),
		ContextAdditions: contextAdditions,
		Reasoning: fmt.Sprintf(
			"heartbeat: concentration excess %s, max drift %s, unrealized losses %s",
			concentrationExcess.StringFixed(3), maxDrift.StringFixed(3), unrealizedLosses.StringFixed(0),
		),
	}
}

func routeWebhook(event types.Event, portfolio types.Portfolio) types.RoutingDecision {
	if event.WebhookPayload == nil {
		return types.RoutingDecision{ShouldProcess: false, Priority: types.PrioritySkip, Reasoning: "webhook carried no payload"}
	}

	switch event.WebhookPayload.Type {
	case types.WebhookTradeExecution:
		return types.RoutingDecision{
			ShouldProcess:  true,
			Priority:       types.PriorityHigh,
			AgentsRequired: []types.AgentTag{types.AgentTax},
			Reasoning:      "trade execution webhook requires tax impact assessment",
		}
	case types.WebhookPriceAlert:
		return types.RoutingDecision{
			ShouldProcess:  true,
			Priority:       types.PriorityNormal,
			AgentsRequired: []types.AgentTag{types.AgentDrift, types.AgentCoordinator},
			Reasoning:      "price alert webhook requires drift assessment",
		}
	case types.WebhookNewsAlert:
		if !tickersIntersectHoldings(event.WebhookPayload.Tickers, portfolio) {
			return types.RoutingDecision{ShouldProcess: false, Priority: types.PrioritySkip, Reasoning: "news alert tickers do not intersect holdings"}
		}
		return types.RoutingDecision{
			ShouldProcess:  true,
			Priority:       types.PriorityNormal,
			AgentsRequired: []types.AgentTag{types.AgentDrift, types.AgentCoordinator},
			Reasoning:      "news alert intersects holdings, requires drift assessment",
		}
	default:
		return types.RoutingDecision{ShouldProcess: false, Priority: types.PrioritySkip, Reasoning: fmt.Sprintf("unrecognized webhook type %q", event.WebhookPayload.Type)}
	}
}

func routeCronJob(event types.Event) types.RoutingDecision {
	jobType := types.CronJobType("")
	if event.CronPayload != nil {
		jobType = event.CronPayload.JobType
	}

	switch jobType {
	case types.CronDailyReview:
		return types.RoutingDecision{
			ShouldProcess:  true,
			Priority:       types.PriorityNormal,
			AgentsRequired: []types.AgentTag{types.AgentDrift, types.AgentTax, types.AgentCoordinator},
			Reasoning:      "daily review runs the full analysis",
		}
	case types.CronEODTax:
		return types.RoutingDecision{
			ShouldProcess:  true,
			Priority:       types.PriorityNormal,
			AgentsRequired: []types.AgentTag{types.AgentTax},
			Reasoning:      "end-of-day tax review",
		}
	case types.CronQuarterlyRebalance:
		return types.RoutingDecision{
			ShouldProcess:  true,
			Priority:       types.PriorityHigh,
			AgentsRequired: []types.AgentTag{types.AgentDrift, types.AgentTax, types.AgentCoordinator},
			Reasoning:      "quarterly rebalance requires full analysis",
		}
	default:
		return types.RoutingDecision{
			ShouldProcess:  true,
			Priority:       types.PriorityLow,
			AgentsRequired: []types.AgentTag{types.AgentDrift},
			Reasoning:      fmt.Sprintf("unrecognized cron job type %q, defaulting to a drift-only check", jobType),
		}
	}
}

// routeAgentMessage always engages the drift and coordinator agents, the
// same default routing the original router applies to any event type it
// has no dedicated handler for.
func routeAgentMessage(event types.Event) types.RoutingDecision {
	reasoning := fmt.Sprintf("default routing for event kind %q", event.Kind)
	if event.AgentMessagePayload != nil {
		reasoning = fmt.Sprintf("agent message from %s to %s", event.AgentMessagePayload.FromAgent, event.AgentMessagePayload.ToAgent)
	}
	return types.RoutingDecision{
		ShouldProcess:  true,
		Priority:       types.PriorityNormal,
		AgentsRequired: []types.AgentTag{types.AgentDrift, types.AgentCoordinator},
		Reasoning:      reasoning,
	}
}

func tickersIntersectHoldings(tickers []string, portfolio types.Portfolio) bool {
	for _, ticker := range tickers {
		if _, ok := portfolio.GetHolding(ticker); ok {
			return true
		}
	}
	return false
}

// agentTagsInFixedOrder returns the agents present in the set, in the
// canonical drift/tax/coordinator order so routing decisions are
// deterministic regardless of map iteration.
func agentTagsInFixedOrder(agents map[types.AgentTag]bool) []types.AgentTag {
	order := []types.AgentTag{types.AgentDrift, types.AgentTax, types.AgentCoordinator}
	var out []types.AgentTag
	for _, tag := range order {
		if agents[tag] {
			out = append(out, tag)
		}
	}
	return out
}

// Package types provides shared domain type definitions for the portfolio
// monitoring engine.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeAction represents a proposed or recorded portfolio action.
type TradeAction string

const (
	ActionBuy  TradeAction = "buy"
	ActionSell TradeAction = "sell"
	ActionHold TradeAction = "hold"
)

// Severity represents the severity of a concentration risk.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// DriftDirection indicates whether current weight is over or under target.
type DriftDirection string

const (
	DriftOver  DriftDirection = "over"
	DriftUnder DriftDirection = "under"
)

// RiskProfile is a client's risk tolerance classification.
type RiskProfile string

const (
	RiskConservative   RiskProfile = "conservative"
	RiskModerateGrowth RiskProfile = "moderate_growth"
	RiskAggressive     RiskProfile = "aggressive"
)

// TaxOpportunityType classifies a tax opportunity.
type TaxOpportunityType string

const (
	TaxOpportunityHarvestLoss  TaxOpportunityType = "harvest_loss"
	TaxOpportunityHarvestGain  TaxOpportunityType = "harvest_gain"
	TaxOpportunityLotSelection TaxOpportunityType = "lot_selection"
)

// ConflictType classifies a conflict between analyzer outputs.
type ConflictType string

const (
	ConflictWashSale       ConflictType = "wash_sale_conflict"
	ConflictTaxInefficient ConflictType = "tax_inefficient"
	ConflictContradictory  ConflictType = "contradictory_actions"
)

// ScenarioKind names the four scenario archetypes.
type ScenarioKind string

const (
	ScenarioOptimalBalance   ScenarioKind = "optimal_balance"
	ScenarioTaxEfficient     ScenarioKind = "tax_efficient"
	ScenarioRiskFirst        ScenarioKind = "risk_first"
	ScenarioGradualRebalance ScenarioKind = "gradual_rebalance"
)

// SystemState is a state of the per-session finite state machine.
type SystemState string

const (
	StateMonitor            SystemState = "monitor"
	StateDetect             SystemState = "detect"
	StateAnalyze            SystemState = "analyze"
	StateConflictResolution SystemState = "conflict_resolution"
	StateRecommend          SystemState = "recommend"
	StateApproved           SystemState = "approved"
	StateExecute            SystemState = "execute"
)

// SessionType classifies the principal driving a session.
type SessionType string

const (
	SessionAdvisorMain  SessionType = "advisor_main"
	SessionAnalyst      SessionType = "analyst"
	SessionClientPortal SessionType = "client_portal"
	SessionSystem       SessionType = "system"
)

// Role is an RBAC role.
type Role string

const (
	RoleDriftAgent   Role = "drift_agent"
	RoleTaxAgent     Role = "tax_agent"
	RoleCoordinator  Role = "coordinator"
	RoleHumanAdvisor Role = "human_advisor"
	RoleAnalyst      Role = "analyst"
	RoleClient       Role = "client"
	RoleSystem       Role = "system"
	RoleAdmin        Role = "admin"
)

// Permission is a single RBAC capability bit.
type Permission string

const (
	PermReadHoldings         Permission = "read_holdings"
	PermReadTaxLots          Permission = "read_tax_lots"
	PermReadClientPII        Permission = "read_client_pii"
	PermReadTransactions     Permission = "read_transactions"
	PermReadRecommendations  Permission = "read_recommendations"
	PermWriteRecommendations Permission = "write_recommendations"
	PermApproveTrades        Permission = "approve_trades"
	PermExecuteTrades        Permission = "execute_trades"
	PermConfigureSystem      Permission = "configure_system"
	PermManageUsers          Permission = "manage_users"
	PermViewAuditLog         Permission = "view_audit_log"
	PermAdmin                Permission = "admin"
)

// EventKind tags the concrete variant of an Event.
type EventKind string

const (
	EventKindMarket       EventKind = "market_event"
	EventKindHeartbeat    EventKind = "heartbeat"
	EventKindCronJob      EventKind = "cron_job"
	EventKindWebhook      EventKind = "webhook"
	EventKindAgentMessage EventKind = "agent_message"
)

// CronJobType classifies a scheduled review job.
type CronJobType string

const (
	CronDailyReview        CronJobType = "daily_review"
	CronEODTax             CronJobType = "eod_tax"
	CronQuarterlyRebalance CronJobType = "quarterly_rebalance"
)

// AgentTag names an analyzer or coordinating component for routing purposes.
type AgentTag string

const (
	AgentDrift       AgentTag = "drift"
	AgentTax         AgentTag = "tax"
	AgentCoordinator AgentTag = "coordinator"
)

// Priority is a coarse routing priority bucket.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityNormal   Priority = "normal"
	PriorityLow      Priority = "low"
	PrioritySkip     Priority = "skip"
)

// TaxLot is an individually identified parcel of a holding.
type TaxLot struct {
	LotID         string          `json:"lotId"`
	PurchaseDate  time.Time       `json:"purchaseDate"`
	PurchasePrice decimal.Decimal `json:"purchasePrice"`
	Quantity      decimal.Decimal `json:"quantity"`
	CostBasis     decimal.Decimal `json:"costBasis"`
}

// HoldingPeriodDays returns the number of days the lot has been held as of asOf.
func (l TaxLot) HoldingPeriodDays(asOf time.Time) int {
	return int(asOf.Sub(l.PurchaseDate).Hours() / 24)
}

// IsLongTerm reports whether the lot has been held more than 365 days.
func (l TaxLot) IsLongTerm(asOf time.Time) bool {
	return l.HoldingPeriodDays(asOf) > 365
}

// Holding is a single position within a portfolio.
type Holding struct {
	Ticker             string          `json:"ticker"`
	Quantity           decimal.Decimal `json:"quantity"`
	CurrentPrice       decimal.Decimal `json:"currentPrice"`
	MarketValue        decimal.Decimal `json:"marketValue"`
	PortfolioWeight    decimal.Decimal `json:"portfolioWeight"`
	CostBasis          decimal.Decimal `json:"costBasis"`
	UnrealizedGainLoss decimal.Decimal `json:"unrealizedGainLoss"`
	Sector             string          `json:"sector"`
	AssetClass         string          `json:"assetClass"`
	TaxLots            []TaxLot        `json:"taxLots"`
}

// GainLossPct returns unrealized gain/loss as a fraction of cost basis, 0 when basis is 0.
func (h Holding) GainLossPct() decimal.Decimal {
	if h.CostBasis.IsZero() {
		return decimal.Zero
	}
	return h.UnrealizedGainLoss.Div(h.CostBasis)
}

// TargetAllocation is the client's six-bucket target asset allocation.
type TargetAllocation struct {
	USEquities            decimal.Decimal `json:"usEquities"`
	InternationalEquities decimal.Decimal `json:"internationalEquities"`
	FixedIncome           decimal.Decimal `json:"fixedIncome"`
	Alternatives          decimal.Decimal `json:"alternatives"`
	StructuredProducts    decimal.Decimal `json:"structuredProducts"`
	Cash                  decimal.Decimal `json:"cash"`
}

// Sum totals the six target weights.
func (t TargetAllocation) Sum() decimal.Decimal {
	return t.USEquities.Add(t.InternationalEquities).Add(t.FixedIncome).
		Add(t.Alternatives).Add(t.StructuredProducts).Add(t.Cash)
}

// Weight returns the target weight for a human-readable asset-class label,
// mapping it to the lowercased, underscored field (e.g. "US Equities" -> USEquities).
func (t TargetAllocation) Weight(assetClass string) decimal.Decimal {
	switch normalizeAssetClass(assetClass) {
	case "us_equities":
		return t.USEquities
	case "international_equities":
		return t.InternationalEquities
	case "fixed_income":
		return t.FixedIncome
	case "alternatives":
		return t.Alternatives
	case "structured_products":
		return t.StructuredProducts
	case "cash":
		return t.Cash
	default:
		return decimal.Zero
	}
}

func normalizeAssetClass(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r == ' ' || r == '-':
			out = append(out, '_')
		case r >= 'A' && r <= 'Z':
			out = append(out, r+('a'-'A'))
		default:
			out = append(out, r)
		}
	}
	return string(out)
}

// ClientProfile describes a client's investment preferences.
type ClientProfile struct {
	ClientID             string          `json:"clientId"`
	RiskTolerance        RiskProfile     `json:"riskTolerance"`
	TaxSensitivity       decimal.Decimal `json:"taxSensitivity"`
	ConcentrationLimit   decimal.Decimal `json:"concentrationLimit"`
	RebalancingFrequency string          `json:"rebalancingFrequency"`
}

// Portfolio is an immutable snapshot of a client's holdings.
type Portfolio struct {
	PortfolioID      string           `json:"portfolioId"`
	ClientID         string           `json:"clientId"`
	Name             string           `json:"name"`
	AUMUSD           decimal.Decimal  `json:"aumUsd"`
	Holdings         []Holding        `json:"holdings"`
	TargetAllocation TargetAllocation `json:"targetAllocation"`
	ClientProfile    ClientProfile    `json:"clientProfile"`
	LastRebalance    time.Time        `json:"lastRebalance"`
	CashAvailable    decimal.Decimal  `json:"cashAvailable"`
}

// TotalMarketValue sums the market value of every holding.
func (p Portfolio) TotalMarketValue() decimal.Decimal {
	total := decimal.Zero
	for _, h := range p.Holdings {
		total = total.Add(h.MarketValue)
	}
	return total
}

// GetHolding returns the holding for a ticker, if present.
func (p Portfolio) GetHolding(ticker string) (Holding, bool) {
	for _, h := range p.Holdings {
		if h.Ticker == ticker {
			return h, true
		}
	}
	return Holding{}, false
}

// SectorWeight returns the sum of portfolio weights for holdings in a sector.
func (p Portfolio) SectorWeight(sector string) decimal.Decimal {
	total := decimal.Zero
	for _, h := range p.Holdings {
		if h.Sector == sector {
			total = total.Add(h.PortfolioWeight)
		}
	}
	return total
}

// AssetClassWeight returns the sum of portfolio weights for holdings in an asset class.
func (p Portfolio) AssetClassWeight(assetClass string) decimal.Decimal {
	total := decimal.Zero
	for _, h := range p.Holdings {
		if h.AssetClass == assetClass {
			total = total.Add(h.PortfolioWeight)
		}
	}
	return total
}

// Transaction is a recorded or proposed trade.
type Transaction struct {
	ID                 string          `json:"id"`
	PortfolioID        string          `json:"portfolioId"`
	Ticker             string          `json:"ticker"`
	Action             TradeAction     `json:"action"`
	Quantity           decimal.Decimal `json:"quantity"`
	Price              decimal.Decimal `json:"price"`
	Timestamp          time.Time       `json:"timestamp"`
	WashSaleDisallowed decimal.Decimal `json:"washSaleDisallowed"`
}

// ConcentrationRisk flags a single holding over the client's concentration limit.
type ConcentrationRisk struct {
	Ticker        string          `json:"ticker"`
	CurrentWeight decimal.Decimal `json:"currentWeight"`
	Limit         decimal.Decimal `json:"limit"`
	Excess        decimal.Decimal `json:"excess"`
	Severity      Severity        `json:"severity"`
}

// DriftMetric reports how far current allocation is from target for one asset class.
type DriftMetric struct {
	AssetClass    string          `json:"assetClass"`
	TargetWeight  decimal.Decimal `json:"targetWeight"`
	CurrentWeight decimal.Decimal `json:"currentWeight"`
	DriftPct      decimal.Decimal `json:"driftPct"`
	Direction     DriftDirection  `json:"direction"`
}

// RecommendedTrade is a drift-correction action suggested by the Drift Analyzer.
type RecommendedTrade struct {
	Ticker             string          `json:"ticker"`
	Action             TradeAction     `json:"action"`
	Quantity           decimal.Decimal `json:"quantity"`
	Rationale          string          `json:"rationale"`
	Urgency            int             `json:"urgency"`
	EstimatedTaxImpact decimal.Decimal `json:"estimatedTaxImpact"`
}

// DriftAgentOutput is the Drift Analyzer's result.
type DriftAgentOutput struct {
	PortfolioID        string              `json:"portfolioId"`
	Timestamp          time.Time           `json:"timestamp"`
	DriftDetected      bool                `json:"driftDetected"`
	ConcentrationRisks []ConcentrationRisk `json:"concentrationRisks"`
	DriftMetrics       []DriftMetric       `json:"driftMetrics"`
	RecommendedTrades  []RecommendedTrade  `json:"recommendedTrades"`
	UrgencyScore       int                 `json:"urgencyScore"`
	Reasoning          string              `json:"reasoning"`
}

// WashSaleViolation flags a proposed or realized wash sale.
type WashSaleViolation struct {
	Ticker         string          `json:"ticker"`
	PriorSaleDate  time.Time       `json:"priorSaleDate"`
	DaysSinceSale  int             `json:"daysSinceSale"`
	DisallowedLoss decimal.Decimal `json:"disallowedLoss"`
	Recommendation string          `json:"recommendation"`
}

// DaysUntilClear returns how many days remain until the wash-sale window clears.
func (v WashSaleViolation) DaysUntilClear() int {
	remaining := 31 - v.DaysSinceSale
	if remaining < 0 {
		return 0
	}
	return remaining
}

// TaxOpportunity is a harvesting or lot-selection opportunity.
type TaxOpportunity struct {
	Ticker           string             `json:"ticker"`
	Type             TaxOpportunityType `json:"type"`
	EstimatedBenefit decimal.Decimal    `json:"estimatedBenefit"`
	ActionRequired   string             `json:"actionRequired"`
}

// ProposedTradeAnalysis is a free-form per-trade tax analysis entry.
type ProposedTradeAnalysis struct {
	Ticker           string          `json:"ticker"`
	Action           TradeAction     `json:"action"`
	Quantity         decimal.Decimal `json:"quantity"`
	RealizedGainLoss decimal.Decimal `json:"realizedGainLoss,omitempty"`
	HoldingPeriod    string          `json:"holdingPeriod,omitempty"`
	TaxRate          decimal.Decimal `json:"taxRate,omitempty"`
	TaxImpact        decimal.Decimal `json:"taxImpact"`
	Note             string          `json:"note"`
}

// TaxAgentOutput is the Tax Analyzer's result.
type TaxAgentOutput struct {
	PortfolioID            string                  `json:"portfolioId"`
	Timestamp              time.Time               `json:"timestamp"`
	WashSaleViolations     []WashSaleViolation      `json:"washSaleViolations"`
	TaxOpportunities       []TaxOpportunity         `json:"taxOpportunities"`
	ProposedTradesAnalysis []ProposedTradeAnalysis  `json:"proposedTradesAnalysis"`
	TotalTaxImpact         decimal.Decimal          `json:"totalTaxImpact"`
	Recommendations        []string                 `json:"recommendations"`
	Reasoning              string                   `json:"reasoning"`
}

// ConflictInfo is a single detected conflict between analyzer outputs.
type ConflictInfo struct {
	ConflictID        string       `json:"conflictId"`
	ConflictType      ConflictType `json:"conflictType"`
	InvolvedAgents    []AgentTag   `json:"involvedAgents"`
	Description       string       `json:"description"`
	ResolutionOptions []string     `json:"resolutionOptions"`
}

// ActionStep is one step of an ordered remediation scenario.
type ActionStep struct {
	StepNumber int             `json:"stepNumber"`
	Action     TradeAction     `json:"action"`
	Ticker     string          `json:"ticker"`
	Quantity   decimal.Decimal `json:"quantity"`
	Timing     string          `json:"timing"`
	Rationale  string          `json:"rationale"`
}

// Scenario is a candidate remediation plan with expected outcomes.
type Scenario struct {
	ScenarioID       string         `json:"scenarioId"`
	Kind             ScenarioKind   `json:"kind"`
	Title            string         `json:"title"`
	Description      string         `json:"description"`
	ActionSteps      []ActionStep   `json:"actionSteps"`
	ExpectedOutcomes map[string]any `json:"expectedOutcomes"`
	Risks            []string       `json:"risks"`
	UtilityScore     *UtilityScore  `json:"utilityScore,omitempty"`
}

// UtilityWeights are the five dimension weights used to score a scenario.
type UtilityWeights struct {
	RiskReduction   float64 `json:"riskReduction"`
	TaxSavings      float64 `json:"taxSavings"`
	GoalAlignment   float64 `json:"goalAlignment"`
	TransactionCost float64 `json:"transactionCost"`
	Urgency         float64 `json:"urgency"`
}

// Sum totals the five weights.
func (w UtilityWeights) Sum() float64 {
	return w.RiskReduction + w.TaxSavings + w.GoalAlignment + w.TransactionCost + w.Urgency
}

// UtilityWeightsByProfile is the fixed weight table keyed by risk tolerance.
var UtilityWeightsByProfile = map[RiskProfile]UtilityWeights{
	RiskConservative:   {RiskReduction: 0.40, TaxSavings: 0.20, GoalAlignment: 0.20, TransactionCost: 0.15, Urgency: 0.05},
	RiskModerateGrowth: {RiskReduction: 0.25, TaxSavings: 0.30, GoalAlignment: 0.25, TransactionCost: 0.10, Urgency: 0.10},
	RiskAggressive:     {RiskReduction: 0.15, TaxSavings: 0.20, GoalAlignment: 0.30, TransactionCost: 0.10, Urgency: 0.25},
}

// DimensionScore is a single scored dimension of a scenario.
type DimensionScore struct {
	Dimension     string  `json:"dimension"`
	RawScore      float64 `json:"rawScore"`
	Weight        float64 `json:"weight"`
	WeightedScore float64 `json:"weightedScore"`
}

// UtilityScore is the ranked, weighted score of one scenario.
type UtilityScore struct {
	ScenarioID      string           `json:"scenarioId"`
	DimensionScores []DimensionScore `json:"dimensionScores"`
	TotalScore      float64          `json:"totalScore"`
	Rank            int              `json:"rank"`
}

// CoordinatorOutput is the full result of one coordinator invocation.
type CoordinatorOutput struct {
	PortfolioID           string           `json:"portfolioId"`
	TriggerEvent          string           `json:"triggerEvent"`
	Timestamp             time.Time        `json:"timestamp"`
	DriftFindings         DriftAgentOutput `json:"driftFindings"`
	TaxFindings           TaxAgentOutput   `json:"taxFindings"`
	ConflictsDetected     []ConflictInfo   `json:"conflictsDetected"`
	Scenarios             []Scenario       `json:"scenarios"`
	RecommendedScenarioID string           `json:"recommendedScenarioId"`
	MerkleHash            string           `json:"merkleHash"`
}

// Event is the common envelope for everything the Gateway and Persona
// Router handle: a market move, a heartbeat tick, an inbound webhook, a
// fired cron job, or a direct agent-to-agent message. Exactly one of
// MarketPayload/HeartbeatPayload/WebhookPayload/CronPayload/
// AgentMessagePayload is populated, selected by Kind.
type Event struct {
	EventID   string    `json:"eventId"`
	Kind      EventKind `json:"kind"`
	SessionID string    `json:"sessionId"`
	Timestamp time.Time `json:"timestamp"`
	Priority  int       `json:"priority"`

	PortfolioID string `json:"portfolioId"`

	MarketPayload       *MarketEventPayload  `json:"marketPayload,omitempty"`
	HeartbeatPayload    *HeartbeatPayload    `json:"heartbeatPayload,omitempty"`
	WebhookPayload      *WebhookPayload      `json:"webhookPayload,omitempty"`
	CronPayload         *CronJobPayload      `json:"cronPayload,omitempty"`
	AgentMessagePayload *AgentMessagePayload `json:"agentMessagePayload,omitempty"`
}

// MarketEventPayload carries the affected sectors and the magnitude of a
// market move (e.g. -0.12 for a 12% drawdown).
type MarketEventPayload struct {
	AffectedSectors []string        `json:"affectedSectors"`
	Magnitude       decimal.Decimal `json:"magnitude"`
	AffectedTickers []string        `json:"affectedTickers,omitempty"`
	Description     string          `json:"description,omitempty"`
}

// HeartbeatPayload carries nothing beyond the envelope; heartbeats trigger
// a routine portfolio check rather than reacting to external input.
type HeartbeatPayload struct{}

// WebhookType classifies an inbound webhook payload.
type WebhookType string

const (
	WebhookTradeExecution WebhookType = "trade_execution"
	WebhookPriceAlert     WebhookType = "price_alert"
	WebhookNewsAlert      WebhookType = "news_alert"
)

// WebhookPayload carries an inbound webhook's type and, for news alerts,
// the tickers it mentions.
type WebhookPayload struct {
	Type    WebhookType `json:"type"`
	Tickers []string    `json:"tickers,omitempty"`
}

// CronJobPayload carries which scheduled review fired.
type CronJobPayload struct {
	JobType      CronJobType    `json:"jobType"`
	Instructions map[string]any `json:"instructions,omitempty"`
}

// AgentMessagePayload carries a direct message from one agent to another,
// used for inter-agent coordination outside the normal analysis flow.
type AgentMessagePayload struct {
	FromAgent AgentTag       `json:"fromAgent"`
	ToAgent   AgentTag       `json:"toAgent"`
	Context   map[string]any `json:"context,omitempty"`
}

// RoutingDecision is the Persona Router's verdict on one event.
type RoutingDecision struct {
	ShouldProcess    bool       `json:"shouldProcess"`
	Priority         Priority   `json:"priority"`
	AgentsRequired   []AgentTag `json:"agentsRequired"`
	ContextAdditions []string   `json:"contextAdditions"`
	Reasoning        string     `json:"reasoning"`
}

package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Strategy tags the screen that opened a position.
type Strategy string

const (
	StrategyMomentumGap Strategy = "MOMENTUM_GAP"
	StrategyGroupFollow Strategy = "GROUP_FOLLOW"
	StrategyFlowSurge   Strategy = "FLOW_SURGE"
	StrategyRecovered   Strategy = "RECOVERED"
	StrategyUnknown     Strategy = "UNKNOWN"
)

func ParseStrategy(s string) Strategy {
	switch st := Strategy(strings.ToUpper(strings.TrimSpace(s))); st {
	case StrategyMomentumGap, StrategyGroupFollow, StrategyFlowSurge, StrategyRecovered:
		return st
	}
	return StrategyUnknown
}

// Stats are the running extremes kept for exit rules and the journal.
type Stats struct {
	MaxPrice  decimal.Decimal `json:"max_price"`
	MinPrice  decimal.Decimal `json:"min_price"`
	MaxFlow   decimal.Decimal `json:"max_flow"`
	EntryFlow decimal.Decimal `json:"entry_flow"`
}

func NewStats(price, flow decimal.Decimal) *Stats {
	return &Stats{MaxPrice: price, MinPrice: price, MaxFlow: flow, EntryFlow: flow}
}

// Observe widens the price range and raises MaxFlow.
func (s *Stats) Observe(price, flow decimal.Decimal) {
	if price.GreaterThan(s.MaxPrice) {
		s.MaxPrice = price
	}
	if price.LessThan(s.MinPrice) {
		s.MinPrice = price
	}
	if flow.GreaterThan(s.MaxFlow) {
		s.MaxFlow = flow
	}
}

// Position is one held symbol.
//
// ReferencePrice is the profit baseline and moves to the fill price on every
// pyramid add, while AvgPrice stays the quantity-weighted cost.
type Position struct {
	Symbol         string          `json:"symbol"`
	Name           string          `json:"name"`
	Qty            int64           `json:"qty"`
	AvgPrice       decimal.Decimal `json:"avg_price"`
	ReferencePrice decimal.Decimal `json:"reference_price"`
	Strategy       Strategy        `json:"strategy"`
	EnteredAt      time.Time       `json:"entered_at"`
	PyramidLevel   int             `json:"pyramid_level"`
	Group          string          `json:"group,omitempty"`

	Leader     string          `json:"leader,omitempty"`
	LeaderName string          `json:"leader_name,omitempty"`
	LeaderPeak decimal.Decimal `json:"leader_peak"`

	PartialTaken  bool            `json:"partial_taken"`
	MaxProfitRate float64         `json:"max_profit_rate"`
	PeakFlow      decimal.Decimal `json:"peak_flow"`

	// Stats is nil until the first quote seeds it (see EnsureStats).
	Stats   *Stats       `json:"stats,omitempty"`
	Candles CandleMemory `json:"-"`
}

// EnsureStats seeds missing statistics from the current observation.
// It reports whether a re-seed happened.
func (p *Position) EnsureStats(price, flow decimal.Decimal) bool {
	if p.Stats != nil {
		return false
	}
	p.Stats = NewStats(price, flow)
	if p.EnteredAt.IsZero() {
		p.EnteredAt = time.Now()
	}
	return true
}

// ProfitRate is (price - reference) / reference; 0 without a reference.
func (p *Position) ProfitRate(price decimal.Decimal) float64 {
	if !p.ReferencePrice.IsPositive() {
		return 0
	}
	return price.Sub(p.ReferencePrice).Div(p.ReferencePrice).InexactFloat64()
}

// RealizedRate is the exit ratio against average cost.
func (p *Position) RealizedRate(price decimal.Decimal) float64 {
	if !p.AvgPrice.IsPositive() {
		return 0
	}
	return price.Sub(p.AvgPrice).Div(p.AvgPrice).InexactFloat64()
}

// Slots is the number of capital slots the position occupies.
func (p *Position) Slots() int {
	return p.PyramidLevel + 1
}

func (p *Position) Held(now time.Time) time.Duration {
	if p.EnteredAt.IsZero() {
		return 0
	}
	return now.Sub(p.EnteredAt)
}

// SlotsUsed sums Slots over a portfolio.
func SlotsUsed(positions map[string]*Position) int {
	n := 0
	for _, p := range positions {
		n += p.Slots()
	}
	return n
}

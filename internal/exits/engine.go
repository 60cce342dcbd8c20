// Package exits decides, once per cycle per position, whether and how much
// of a position to sell.
package exits

import (
	"time"

	"intraday_trader/internal/candles"
	"intraday_trader/internal/config"
	"intraday_trader/internal/models"

	"github.com/shopspring/decimal"
)

// Rules are the thresholds the engine applies. Rates are fractions.
type Rules struct {
	FlowDropRate      float64
	PartialProfitRate float64
	PartialSellRatio  float64
	StopLossRate      float64
	MomentumStopLoss  float64
	TrailTriggerRate  float64
	TrailGap          float64
	TrailGapUnstable  float64
	DepthImbalance    float64
	TimeStop          time.Duration
	TimeStopProfit    float64

	// Trend-reversal schedule, in minutes after midnight (market zone).
	MorningStart     int
	MorningEnd       int
	AfternoonEnd     int
	MorningWindow    int
	MorningBearish   int
	AfternoonWindow  int
	AfternoonBearish int

	// Loc is the zone the session clocks above are read in.
	Loc *time.Location
}

func RulesFromConfig(c *config.Config) Rules {
	return Rules{
		FlowDropRate:      c.FlowDropRate,
		PartialProfitRate: c.PartialProfitRate,
		PartialSellRatio:  c.PartialSellRatio,
		StopLossRate:      c.StopLossRate,
		MomentumStopLoss:  c.MomentumStopLoss,
		TrailTriggerRate:  c.TrailTriggerRate,
		TrailGap:          c.TrailGap,
		TrailGapUnstable:  c.TrailGapUnstable,
		DepthImbalance:    c.DepthImbalance,
		TimeStop:          c.TimeStop,
		TimeStopProfit:    c.TimeStopProfit,
		MorningStart:      config.MustClock(c.SessionOpen, 9*60),
		MorningEnd:        config.MustClock(c.MorningSessionEnd, 11*60+30),
		AfternoonEnd:      config.MustClock(c.AfternoonSessionEnd, 15*60+20),
		MorningWindow:     c.MorningWindow,
		MorningBearish:    c.MorningBearish,
		AfternoonWindow:   c.AfternoonWindow,
		AfternoonBearish:  c.AfternoonBearish,
		Loc:               c.Location(),
	}
}

// Input is what one cycle observed for a position. Leader is nil when the
// position has no leader or its quote could not be fetched.
type Input struct {
	Quote  *models.Quote
	Leader *models.Quote
	Now    time.Time
}

type Engine struct {
	rules Rules
}

func NewEngine(r Rules) *Engine {
	return &Engine{rules: r}
}

func (e *Engine) Rules() Rules { return e.rules }

// TrendWindow returns the bar count and bearish threshold in force at now.
// Zero means the trend rule is off.
//
// Morning is [MorningStart, MorningEnd), afternoon is [MorningEnd, AfternoonEnd].
func (e *Engine) TrendWindow(now time.Time) (n, threshold int) {
	m := config.MinuteOfDay(now, e.rules.Loc)
	switch {
	case m >= e.rules.MorningStart && m < e.rules.MorningEnd:
		return e.rules.MorningWindow, e.rules.MorningBearish
	case m >= e.rules.MorningEnd && m <= e.rules.AfternoonEnd:
		return e.rules.AfternoonWindow, e.rules.AfternoonBearish
	}
	return 0, 0
}

// Evaluate refreshes the position's running statistics from in and returns
// the first exit rule that fires, or nil. The caller must hold whatever lock
// guards pos. Candle memory is expected to be updated before the call.
func (e *Engine) Evaluate(pos *models.Position, in Input) *Decision {
	q := in.Quote
	if q == nil || !q.Price.IsPositive() {
		return nil
	}
	price := q.Price
	flow := q.FlowAmount()
	profit := e.observe(pos, in, price, flow)

	if r, ok := e.leaderDesync(pos, in.Leader); ok {
		return e.exit(pos, r)
	}
	if pos.Strategy == models.StrategyFlowSurge {
		if r, ok := e.flowExhaustion(pos, flow); ok {
			return e.exit(pos, r)
		}
		if r, ok := e.trendReversal(pos, in.Now); ok {
			return e.exit(pos, r)
		}
	}
	if q.AtLimitUp() {
		return e.exit(pos, Reason{Kind: LimitUp, ProfitRate: profit})
	}
	if r, ok := e.trailingStop(pos, q, profit); ok {
		return e.exit(pos, r)
	}
	if pos.PartialTaken && pos.MaxProfitRate < e.rules.TrailTriggerRate && profit <= 0 {
		return e.exit(pos, Reason{Kind: GiveBack, ProfitRate: profit, MaxProfitRate: pos.MaxProfitRate})
	}
	if e.rules.TimeStop > 0 {
		held := pos.Held(in.Now)
		if held >= e.rules.TimeStop && profit <= e.rules.TimeStopProfit {
			return e.exit(pos, Reason{Kind: TimeStop, Elapsed: held, ProfitRate: profit})
		}
	}
	if profit <= e.stopLossFloor(pos.Strategy) {
		return e.exit(pos, Reason{Kind: StopLoss, ProfitRate: profit})
	}
	if !pos.PartialTaken && profit >= e.rules.PartialProfitRate {
		qty := int64(float64(pos.Qty) * e.rules.PartialSellRatio)
		if qty <= 0 {
			return e.exit(pos, Reason{Kind: TargetFullExit, ProfitRate: profit, Qty: pos.Qty})
		}
		if qty < pos.Qty {
			return &Decision{
				Symbol:     pos.Symbol,
				Reason:     Reason{Kind: PartialTake, ProfitRate: profit, Qty: qty},
				PartialQty: qty,
			}
		}
		return e.exit(pos, Reason{Kind: TargetFullExit, ProfitRate: profit, Qty: pos.Qty})
	}
	return nil
}

// observe updates every running statistic and returns the current profit rate.
func (e *Engine) observe(pos *models.Position, in Input, price, flow decimal.Decimal) float64 {
	if !pos.EnsureStats(price, flow) {
		pos.Stats.Observe(price, flow)
	}
	if flow.GreaterThan(pos.PeakFlow) {
		pos.PeakFlow = flow
	}
	if l := in.Leader; l != nil && l.Price.GreaterThan(pos.LeaderPeak) {
		pos.LeaderPeak = l.Price
	}
	profit := pos.ProfitRate(price)
	if profit > pos.MaxProfitRate {
		pos.MaxProfitRate = profit
	}
	return profit
}

func (e *Engine) exit(pos *models.Position, r Reason) *Decision {
	return &Decision{Symbol: pos.Symbol, Reason: r}
}

func (e *Engine) leaderDesync(pos *models.Position, leader *models.Quote) (Reason, bool) {
	if pos.Strategy != models.StrategyGroupFollow || pos.Leader == "" || leader == nil {
		return Reason{}, false
	}
	if !pos.LeaderPeak.IsPositive() || !leader.Price.LessThan(pos.LeaderPeak) {
		return Reason{}, false
	}
	name := pos.LeaderName
	if name == "" {
		name = pos.Leader
	}
	return Reason{Kind: LeaderDesync, Leader: name, LeaderPrice: leader.Price, LeaderPeak: pos.LeaderPeak}, true
}

func (e *Engine) flowExhaustion(pos *models.Position, flow decimal.Decimal) (Reason, bool) {
	if !pos.PeakFlow.IsPositive() {
		return Reason{}, false
	}
	floor := pos.PeakFlow.Mul(decimal.NewFromFloat(1 - e.rules.FlowDropRate))
	if flow.LessThan(floor) {
		return Reason{Kind: FlowExhaustion, FlowAmount: flow, PeakFlow: pos.PeakFlow}, true
	}
	return Reason{}, false
}

// trendReversal counts bars in the window that closed down and below the
// previous close, skipping the first bar, and requires a net decline over
// the window.
func (e *Engine) trendReversal(pos *models.Position, now time.Time) (Reason, bool) {
	n, threshold := e.TrendWindow(now)
	if n <= 0 {
		return Reason{}, false
	}
	bars, ok := candles.Window(&pos.Candles, n)
	if !ok {
		return Reason{}, false
	}

	bearish := 0
	for i := 1; i < len(bars); i++ {
		if bars[i].Bearish() && bars[i].Close.LessThan(bars[i-1].Close) {
			bearish++
		}
	}
	if bearish >= threshold && bars[len(bars)-1].Close.LessThan(bars[0].Open) {
		return Reason{Kind: TrendReversal, Bars: n, BearishCount: bearish}, true
	}
	return Reason{}, false
}

func (e *Engine) trailingStop(pos *models.Position, q *models.Quote, profit float64) (Reason, bool) {
	if pos.MaxProfitRate < e.rules.TrailTriggerRate {
		return Reason{}, false
	}
	gap := e.rules.TrailGap
	unstable := q.TotalAskDepth > 0 && float64(q.TotalBidDepth) > float64(q.TotalAskDepth)*e.rules.DepthImbalance
	if unstable {
		gap = e.rules.TrailGapUnstable
	}
	if profit <= pos.MaxProfitRate-gap {
		return Reason{Kind: TrailingStop, ProfitRate: profit, MaxProfitRate: pos.MaxProfitRate, Gap: gap, Unstable: unstable}, true
	}
	return Reason{}, false
}

func (e *Engine) stopLossFloor(s models.Strategy) float64 {
	if s == models.StrategyMomentumGap {
		return e.rules.MomentumStopLoss
	}
	return e.rules.StopLossRate
}

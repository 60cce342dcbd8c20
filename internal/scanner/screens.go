package scanner

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"
	"unicode"

	"intraday_trader/internal/logger"
	"intraday_trader/internal/models"
	"intraday_trader/internal/watcher"

	"github.com/shopspring/decimal"
)

const eok = 100_000_000

// Products the screens never trade: SPACs, ETPs, REITs, preferred shares
// and derivative-linked issues. Hangul markers match anywhere in the name,
// Latin ones only as whole words.
var (
	excludedFragments = []string{"스팩", "리츠", "우B", "우(", "인버스", "레버리지", "선물", "채권"}
	excludedWords     = map[string]bool{
		"ETF": true, "ETN": true, "SPAC": true, "REIT": true,
		"LEVERAGED": true, "INVERSE": true, "ULTRAPRO": true,
	}
)

func excludedName(name string) bool {
	for _, frag := range excludedFragments {
		if strings.Contains(name, frag) {
			return true
		}
	}
	for _, w := range strings.FieldsFunc(strings.ToUpper(name), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if excludedWords[w] {
			return true
		}
	}
	return strings.HasSuffix(name, "우")
}

// milestoneLevel is the index of the highest flow milestone reached; -1
// below the first.
func milestoneLevel(flow int64, milestones []int64) int {
	for i, m := range milestones {
		if flow < m {
			return i - 1
		}
	}
	return len(milestones) - 1
}

// flowFilter is the minimum institutional flow by minute-of-day. Zero
// means no new flow entries in that window.
func (s *Scanner) flowFilter(minute int) int64 {
	switch {
	case minute < 9*60+30:
		return s.cfg.FlowFilterEarly
	case minute < 11*60:
		return s.cfg.FlowFilter
	case minute < 13*60:
		return 0
	case minute < 15*60:
		return s.cfg.FlowFilter
	}
	return 0
}

func sortedQuotes(quotes map[string]*models.Quote, less func(a, b *models.Quote) bool) []*models.Quote {
	out := make([]*models.Quote, 0, len(quotes))
	for _, q := range quotes {
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool {
		if less(out[i], out[j]) {
			return true
		}
		if less(out[j], out[i]) {
			return false
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out
}

func (s *Scanner) atLeast(v decimal.Decimal, floor int64) bool {
	return v.GreaterThanOrEqual(decimal.NewFromInt(floor))
}

func (s *Scanner) bestDepthOK(q *models.Quote) bool {
	ask := decimal.NewFromInt(q.AskDepth1).Mul(q.Price)
	bid := decimal.NewFromInt(q.BidDepth1).Mul(q.Price)
	return s.atLeast(ask, s.cfg.MinBestDepthValue) && s.atLeast(bid, s.cfg.MinBestDepthValue)
}

func (s *Scanner) bidAskOK(q *models.Quote) bool {
	r := q.BidAskRatio()
	return r >= s.cfg.BidAskRatioMin && r <= s.cfg.BidAskRatioMax
}

func (s *Scanner) priceOK(q *models.Quote) bool {
	return q.Price.InexactFloat64() >= s.cfg.MinStockPrice
}

// submit places one entry. It reports whether a buy went through; the
// caller stops the screen on success so each tick buys at most once.
func (s *Scanner) submit(ctx context.Context, req watcher.BuyRequest) bool {
	pos, err := s.book.Buy(ctx, req)
	switch {
	case err == nil:
		logger.Infof("[%s] entered %s %d sh @ %s (L%d)", req.Strategy, pos.Symbol, pos.Qty, pos.AvgPrice.String(), pos.PyramidLevel)
		return true
	case errors.Is(err, watcher.ErrTradingPaused):
		logger.Debugf("[%s] %s skipped: buying paused", req.Strategy, req.Quote.Symbol)
	case errors.Is(err, watcher.ErrZeroQuantity), errors.Is(err, watcher.ErrSlotsExhausted):
		logger.Infof("[%s] %s skipped: %v", req.Strategy, req.Quote.Symbol, err)
	default:
		logger.Warnf("[%s] %s buy failed: %v", req.Strategy, req.Quote.Symbol, err)
	}
	return false
}

// flowSurge buys symbols whose institutional flow crosses the time-of-day
// filter, and adds to held ones that reach a higher milestone.
func (s *Scanner) flowSurge(ctx context.Context, quotes map[string]*models.Quote, minute int) {
	filter := s.flowFilter(minute)
	if filter <= 0 {
		return
	}
	now := s.now()
	byFlow := sortedQuotes(quotes, func(a, b *models.Quote) bool {
		return a.FlowAmount().GreaterThan(b.FlowAmount())
	})

	for _, q := range byFlow {
		flowAmt := q.FlowAmount()
		flow := flowAmt.IntPart()
		if flow < filter || flow < s.cfg.FlowLevelZero {
			continue
		}
		if s.ledger.IsBlocked(q.Symbol, now) {
			continue
		}
		level := milestoneLevel(flow, s.cfg.FlowMilestones)
		if level < 0 {
			level = 0
		}

		if s.book.Holds(q.Symbol) {
			if !s.cfg.PyramidingEnabled {
				continue
			}
			pos, ok := s.book.Position(q.Symbol)
			if !ok || level <= pos.PyramidLevel {
				continue
			}
		} else if s.ledger.Has(q.Symbol) {
			// re-entry after a flow-drop exit needs the flow to rebound off its trough
			if !s.cfg.PyramidingEnabled || !s.ledger.ReboundReady(q.Symbol, flowAmt, s.cfg.FlowRiseRate) {
				continue
			}
		}

		if r := q.ChangeRate(); r < s.cfg.FlowRateMin || r > s.cfg.FlowRateMax {
			continue
		}
		if q.Price.LessThan(q.Open) || q.WickRatio() >= s.cfg.MaxWickRatio {
			continue
		}
		depth := decimal.NewFromInt(q.TotalAskDepth + q.TotalBidDepth).Mul(q.Price)
		if !s.atLeast(depth, s.cfg.MinTotalDepthValue) {
			continue
		}

		logger.Infof("[FLOW_SURGE] %s flow %d억 rate %.2f%% L%d", q.Symbol, flow/eok, q.ChangeRate(), level)
		if s.submit(ctx, watcher.BuyRequest{Quote: q, Strategy: models.StrategyFlowSurge, PyramidLevel: level}) {
			return
		}
	}
}

// tradeValueFloor scales the liquidity bar with time since the open.
func tradeValueFloor(elapsed time.Duration) int64 {
	switch {
	case elapsed <= 10*time.Minute:
		return 30 * eok
	case elapsed <= 30*time.Minute:
		return 100 * eok
	}
	return 300 * eok
}

func momentumFlowOK(flow int64, elapsed time.Duration) bool {
	switch {
	case elapsed <= 10*time.Minute:
		return flow > 0
	case elapsed <= 30*time.Minute:
		return flow >= 10*eok
	}
	return flow >= 30*eok
}

// momentumGap buys strong opening movers with a moderate gap in the first
// minutes of the session.
func (s *Scanner) momentumGap(ctx context.Context, quotes map[string]*models.Quote, elapsed time.Duration) {
	if elapsed > s.cfg.MomentumWindow {
		return
	}
	if s.book.BuysToday(models.StrategyMomentumGap) >= s.cfg.MaxDailyMomentum {
		return
	}

	candidates := make(map[string]*models.Quote)
	floor := tradeValueFloor(elapsed)
	for sym, q := range quotes {
		if s.book.Holds(sym) || s.ledger.Has(sym) || !s.priceOK(q) {
			continue
		}
		if !s.atLeast(q.TradeValue(), floor) {
			continue
		}
		if r := q.ChangeRate(); r < s.cfg.MomentumRateMin || r > s.cfg.MomentumRateMax {
			continue
		}
		candidates[sym] = q
	}

	byRate := sortedQuotes(candidates, func(a, b *models.Quote) bool {
		return a.ChangeRate() > b.ChangeRate()
	})
	for _, q := range byRate {
		if !q.Open.IsPositive() || q.WickRatio() >= s.cfg.MaxWickRatio {
			continue
		}
		if !s.bestDepthOK(q) {
			continue
		}
		if g := q.GapRate(); g < s.cfg.MomentumGapMin || g > s.cfg.MomentumGapMax {
			continue
		}
		if !momentumFlowOK(q.FlowAmount().IntPart(), elapsed) || !s.bidAskOK(q) {
			continue
		}

		logger.Infof("[MOMENTUM_GAP] %s rate %.2f%% gap %.2f%%", q.Symbol, q.ChangeRate(), q.GapRate())
		if s.submit(ctx, watcher.BuyRequest{Quote: q, Strategy: models.StrategyMomentumGap}) {
			return
		}
	}
}

// groupFollow buys the runner-up of a group whose leader is pinned at
// limit-up, provided the lock is fresh.
func (s *Scanner) groupFollow(ctx context.Context, quotes map[string]*models.Quote, elapsed time.Duration, now time.Time) {
	if elapsed > s.cfg.GroupWindow {
		return
	}
	if s.book.BuysToday(models.StrategyGroupFollow) >= s.cfg.MaxDailyGroup {
		return
	}

	for _, group := range s.groups.Groups() {
		if s.boughtGroups[group] {
			continue
		}
		members := make(map[string]*models.Quote)
		for _, sym := range s.groups.Members(group) {
			if q, ok := quotes[sym]; ok {
				members[sym] = q
			}
		}
		if len(members) < 2 {
			continue
		}
		ranked := sortedQuotes(members, func(a, b *models.Quote) bool {
			return a.ChangeRate() > b.ChangeRate()
		})
		leader, follower := ranked[0], ranked[1]
		if !s.priceOK(leader) || !s.priceOK(follower) {
			continue
		}
		if s.ledger.Has(follower.Symbol) || s.book.Holds(follower.Symbol) {
			continue
		}

		if !leader.AtLimitUp() {
			delete(s.lockedSince, group)
			continue
		}
		since, ok := s.lockedSince[group]
		if !ok {
			since = now
			s.lockedSince[group] = now
		}
		if now.Sub(since) > s.cfg.LeaderLockTimeout {
			// the lock is stale; the move has already been priced in
			s.boughtGroups[group] = true
			continue
		}

		if follower.WickRatio() >= s.cfg.MaxWickRatio || !s.bestDepthOK(follower) {
			continue
		}
		if follower.Price.LessThan(follower.Open) || !s.bidAskOK(follower) {
			continue
		}

		logger.Infof("[GROUP_FOLLOW] %s follows %s in %s (%.2f%% vs %.2f%%)",
			follower.Symbol, leader.Symbol, group, follower.ChangeRate(), leader.ChangeRate())
		req := watcher.BuyRequest{
			Quote:    follower,
			Strategy: models.StrategyGroupFollow,
			Leader:   leader,
			Group:    group,
		}
		if s.submit(ctx, req) {
			s.boughtGroups[group] = true
			return
		}
	}
}

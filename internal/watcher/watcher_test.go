package watcher

import (
	"context"
	"testing"

	"intraday_trader/internal/cooldown"
	"intraday_trader/internal/exits"
	"intraday_trader/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuy_NewEntry(t *testing.T) {
	h := newHarness(t)
	q := quote("AAA", 10_000)
	q.BestAsk = decimal.NewFromInt(10_010)
	q.NetBuyQty = 1_000

	pos, err := h.w.Buy(context.Background(), BuyRequest{Quote: &q, Strategy: models.StrategyMomentumGap})
	require.NoError(t, err)

	// 10,000,000 × 0.15 / 10,000
	assert.Equal(t, int64(150), pos.Qty)
	assert.True(t, pos.AvgPrice.Equal(decimal.NewFromInt(10_010)), "limit at best ask")
	assert.True(t, pos.ReferencePrice.Equal(pos.AvgPrice))
	assert.Equal(t, testNow, pos.EnteredAt)
	require.NotNil(t, pos.Stats)
	assert.True(t, pos.Stats.EntryFlow.Equal(decimal.NewFromInt(10_000_000)))

	require.Len(t, h.gw.orders, 1)
	assert.Equal(t, models.SideBuy, h.gw.orders[0].Side)
	assert.True(t, h.gw.orders[0].Price.Equal(decimal.NewFromInt(10_010)))

	assert.Equal(t, 1, h.w.SlotsUsed())
	assert.Equal(t, 1, h.w.BuysToday(models.StrategyMomentumGap))
	assert.False(t, h.w.Holds("BBB"))
	require.Len(t, h.journal.buys, 1)
	assert.Equal(t, "MOMENTUM_GAP", h.journal.buys[0].Strategy)
	assert.True(t, h.notes.contains("BUY"))
}

func TestBuy_LimitFallsBackToLastPrice(t *testing.T) {
	h := newHarness(t)
	q := quote("AAA", 10_000)

	_, err := h.w.Buy(context.Background(), BuyRequest{Quote: &q, Strategy: models.StrategyFlowSurge})
	require.NoError(t, err)
	assert.True(t, h.gw.orders[0].Price.Equal(decimal.NewFromInt(10_000)))
}

func TestBuy_GroupFollowSeedsLeader(t *testing.T) {
	h := newHarness(t)
	q := quote("FOL", 5_000)
	leader := quote("LDR", 13_000)

	pos, err := h.w.Buy(context.Background(), BuyRequest{Quote: &q, Strategy: models.StrategyGroupFollow, Leader: &leader, Group: "battery"})
	require.NoError(t, err)
	assert.Equal(t, "LDR", pos.Leader)
	assert.Equal(t, "LDR Corp", pos.LeaderName)
	assert.True(t, pos.LeaderPeak.Equal(decimal.NewFromInt(13_000)))
	assert.Equal(t, "battery", pos.Group)
}

func TestBuy_Paused(t *testing.T) {
	h := newHarness(t)
	h.w.Pause()
	q := quote("AAA", 10_000)

	_, err := h.w.Buy(context.Background(), BuyRequest{Quote: &q, Strategy: models.StrategyFlowSurge})
	assert.ErrorIs(t, err, ErrTradingPaused)
	assert.Zero(t, h.gw.orderCount())

	h.w.Resume()
	_, err = h.w.Buy(context.Background(), BuyRequest{Quote: &q, Strategy: models.StrategyFlowSurge})
	assert.NoError(t, err)
}

func TestBuy_SlotsExhausted(t *testing.T) {
	h := newHarness(t)
	h.w.config.MaxSlots = 2
	h.hold(&models.Position{Symbol: "AAA", Qty: 10, AvgPrice: decimal.NewFromInt(1000), PyramidLevel: 1})
	q := quote("BBB", 10_000)

	_, err := h.w.Buy(context.Background(), BuyRequest{Quote: &q, Strategy: models.StrategyFlowSurge})
	assert.ErrorIs(t, err, ErrSlotsExhausted)
	assert.Zero(t, h.gw.orderCount())
	assert.False(t, h.w.Holds("BBB"))
}

func TestBuy_ZeroQuantity(t *testing.T) {
	h := newHarness(t)
	h.gw.equity = decimal.NewFromInt(50_000)
	q := quote("AAA", 10_000)

	_, err := h.w.Buy(context.Background(), BuyRequest{Quote: &q, Strategy: models.StrategyFlowSurge})
	assert.ErrorIs(t, err, ErrZeroQuantity)
	assert.Zero(t, h.gw.orderCount())
	assert.False(t, h.w.Holds("AAA"))
}

func TestBuy_RejectedLeavesStateUnchanged(t *testing.T) {
	h := newHarness(t)
	h.gw.reject["AAA"] = true
	q := quote("AAA", 10_000)

	_, err := h.w.Buy(context.Background(), BuyRequest{Quote: &q, Strategy: models.StrategyFlowSurge})
	assert.ErrorIs(t, err, ErrOrderRejected)
	assert.False(t, h.w.Holds("AAA"))
	assert.Zero(t, h.w.SlotsUsed())
	assert.Empty(t, h.journal.buys)
	assert.True(t, h.notes.contains("Buy rejected"))
}

func TestBuy_AlreadyHeld(t *testing.T) {
	h := newHarness(t)
	h.hold(&models.Position{Symbol: "AAA", Qty: 10, AvgPrice: decimal.NewFromInt(1000)})
	q := quote("AAA", 10_000)

	_, err := h.w.Buy(context.Background(), BuyRequest{Quote: &q, Strategy: models.StrategyFlowSurge})
	assert.ErrorIs(t, err, ErrAlreadyHeld)
}

func TestBuy_PyramidAdd(t *testing.T) {
	h := newHarness(t)
	h.gw.equity = decimal.NewFromInt(3_700_000)
	h.hold(&models.Position{
		Symbol:        "AAA",
		Qty:           100,
		AvgPrice:      decimal.NewFromInt(10_000),
		Strategy:      models.StrategyFlowSurge,
		PartialTaken:  true,
		MaxProfitRate: 0.05,
		PeakFlow:      decimal.NewFromInt(90_000_000_000),
		Stats:         models.NewStats(decimal.NewFromInt(10_000), decimal.Zero),
	})
	q := quote("AAA", 11_000)
	q.NetBuyQty = 100

	pos, err := h.w.Buy(context.Background(), BuyRequest{Quote: &q, Strategy: models.StrategyFlowSurge, PyramidLevel: 1})
	require.NoError(t, err)

	// 3,700,000 × 0.15 / 11,000 = 50.45
	assert.Equal(t, int64(150), pos.Qty)
	want := decimal.NewFromInt(100*10_000 + 50*11_000).Div(decimal.NewFromInt(150))
	assert.True(t, want.Equal(pos.AvgPrice), "avg %s want %s", pos.AvgPrice, want)
	assert.True(t, pos.ReferencePrice.Equal(decimal.NewFromInt(11_000)))
	assert.False(t, pos.PartialTaken)
	assert.Zero(t, pos.MaxProfitRate)
	assert.True(t, pos.PeakFlow.Equal(decimal.NewFromInt(1_100_000)))
	assert.Equal(t, 1, pos.PyramidLevel)
	assert.Equal(t, 2, h.w.SlotsUsed())
	assert.True(t, h.notes.contains("ADD L1"))
}

func TestBuy_PyramidAddNeedsSlots(t *testing.T) {
	h := newHarness(t)
	h.w.config.MaxSlots = 1
	h.hold(&models.Position{Symbol: "AAA", Qty: 100, AvgPrice: decimal.NewFromInt(10_000)})
	q := quote("AAA", 11_000)

	_, err := h.w.Buy(context.Background(), BuyRequest{Quote: &q, Strategy: models.StrategyFlowSurge, PyramidLevel: 1})
	assert.ErrorIs(t, err, ErrSlotsExhausted)
}

func TestSell_FlowExhaustionWritesFlowDrop(t *testing.T) {
	h := newHarness(t)
	h.hold(&models.Position{Symbol: "AAA", Qty: 100, AvgPrice: decimal.NewFromInt(10_000), Strategy: models.StrategyFlowSurge})
	q := quote("AAA", 10_300)
	q.NetBuyQty = 2_000
	h.gw.setQuote(q)

	err := h.w.Sell("AAA", exits.Reason{Kind: exits.FlowExhaustion})
	require.NoError(t, err)

	assert.False(t, h.w.Holds("AAA"))
	e, ok := h.ledger.Get("AAA")
	require.True(t, ok)
	assert.Equal(t, cooldown.FlowDrop, e.Category)
	assert.True(t, e.MinFlow.Equal(decimal.NewFromInt(20_600_000)))
	assert.Equal(t, testNow, e.ExitedAt)

	require.Len(t, h.journal.sells, 1)
	s := h.journal.sells[0]
	assert.Equal(t, "flow_exhaustion", s.ReasonKind)
	assert.InDelta(t, 0.03, s.Realized, 1e-9)
	assert.Equal(t, int64(100), s.Qty)
	assert.Equal(t, 60, s.HoldMinutes)
	assert.Equal(t, models.SideSell, h.gw.orders[0].Side)
	assert.True(t, h.gw.orders[0].Price.IsZero(), "sells go out at market")
}

func TestSell_OtherReasonsWriteNormal(t *testing.T) {
	h := newHarness(t)
	h.hold(&models.Position{Symbol: "AAA", Qty: 100, AvgPrice: decimal.NewFromInt(10_000)})
	h.gw.setQuote(quote("AAA", 9_800))

	require.NoError(t, h.w.Sell("AAA", exits.Reason{Kind: exits.StopLoss, ProfitRate: -0.02}))

	e, ok := h.ledger.Get("AAA")
	require.True(t, ok)
	assert.Equal(t, cooldown.Normal, e.Category)
	assert.True(t, h.ledger.IsBlocked("AAA", testNow))
}

func TestSell_RetriesQuoteOnce(t *testing.T) {
	h := newHarness(t)
	h.hold(&models.Position{Symbol: "AAA", Qty: 10, AvgPrice: decimal.NewFromInt(10_000)})
	h.gw.setQuote(quote("AAA", 10_500))
	h.gw.failQuote["AAA"] = 1

	require.NoError(t, h.w.Sell("AAA", exits.Reason{Kind: exits.LimitUp}))
	assert.True(t, h.journal.sells[0].Price.Equal(decimal.NewFromInt(10_500)))
}

func TestSell_ProceedsWithoutQuote(t *testing.T) {
	h := newHarness(t)
	h.hold(&models.Position{Symbol: "AAA", Qty: 10, AvgPrice: decimal.NewFromInt(10_000)})

	require.NoError(t, h.w.Sell("AAA", exits.Reason{Kind: exits.StopLoss}))
	assert.False(t, h.w.Holds("AAA"))
	assert.True(t, h.journal.sells[0].Price.IsZero())
	assert.Zero(t, h.journal.sells[0].Realized)
	assert.Equal(t, 1, h.gw.orderCount())
}

func TestSell_RejectedLeavesStateUnchanged(t *testing.T) {
	h := newHarness(t)
	h.hold(&models.Position{Symbol: "AAA", Qty: 10, AvgPrice: decimal.NewFromInt(10_000)})
	h.gw.setQuote(quote("AAA", 9_000))
	h.gw.reject["AAA"] = true

	err := h.w.Sell("AAA", exits.Reason{Kind: exits.StopLoss})
	assert.ErrorIs(t, err, ErrOrderRejected)

	p, ok := h.w.Position("AAA")
	require.True(t, ok)
	assert.Equal(t, int64(10), p.Qty)
	assert.False(t, h.ledger.Has("AAA"))
	assert.Empty(t, h.journal.sells)
}

func TestSell_NotHeld(t *testing.T) {
	h := newHarness(t)
	assert.ErrorIs(t, h.w.Sell("ZZZ", exits.Reason{Kind: exits.Manual}), ErrNotHeld)
}

func TestSellPartial(t *testing.T) {
	h := newHarness(t)
	h.hold(&models.Position{Symbol: "AAA", Qty: 101, AvgPrice: decimal.NewFromInt(10_000)})
	h.gw.setQuote(quote("AAA", 10_200))

	require.NoError(t, h.w.SellPartial("AAA", 50, exits.Reason{Kind: exits.PartialTake, Qty: 50}))

	p, ok := h.w.Position("AAA")
	require.True(t, ok)
	assert.Equal(t, int64(51), p.Qty)
	assert.True(t, p.PartialTaken)
	assert.False(t, h.ledger.Has("AAA"), "partial sells leave no cooldown")
	assert.Equal(t, int64(50), h.gw.orders[0].Qty)
	assert.True(t, h.notes.contains("PARTIAL"))
}

func TestSellPartial_WholeQtyBecomesFullSell(t *testing.T) {
	h := newHarness(t)
	h.hold(&models.Position{Symbol: "AAA", Qty: 1, AvgPrice: decimal.NewFromInt(10_000)})
	h.gw.setQuote(quote("AAA", 10_200))

	require.NoError(t, h.w.SellPartial("AAA", 1, exits.Reason{Kind: exits.TargetFullExit}))
	assert.False(t, h.w.Holds("AAA"))
	assert.True(t, h.ledger.Has("AAA"))
}

func TestLiquidateAll(t *testing.T) {
	h := newHarness(t)
	for _, s := range []string{"AAA", "BBB", "CCC"} {
		h.hold(&models.Position{Symbol: s, Qty: 10, AvgPrice: decimal.NewFromInt(1000)})
		h.gw.setQuote(quote(s, 1000))
	}
	h.gw.reject["BBB"] = true

	sold, err := h.w.LiquidateAll(exits.Reason{Kind: exits.SessionClose, Note: "session close"})
	assert.Equal(t, 2, sold)
	assert.ErrorIs(t, err, ErrOrderRejected)
	assert.True(t, h.w.Holds("BBB"))
	assert.Len(t, h.w.Positions(), 1)
	assert.Equal(t, "session close", h.journal.sells[0].Reason)
}

func TestResetDay(t *testing.T) {
	h := newHarness(t)
	q := quote("AAA", 10_000)
	_, err := h.w.Buy(context.Background(), BuyRequest{Quote: &q, Strategy: models.StrategyFlowSurge})
	require.NoError(t, err)
	h.ledger.Record("OLD", cooldown.Normal, decimal.Zero, testNow)

	h.w.ResetDay()
	assert.Zero(t, h.w.BuysToday(models.StrategyFlowSurge))
	assert.Zero(t, h.ledger.Len())
	assert.True(t, h.w.Holds("AAA"), "positions survive the reset")
}

func TestSlotsUsed_PyramidLevels(t *testing.T) {
	h := newHarness(t)
	for i, lvl := range []int{0, 1, 0} {
		h.hold(&models.Position{Symbol: string(rune('A' + i)), Qty: 1, AvgPrice: decimal.NewFromInt(1), PyramidLevel: lvl})
	}
	assert.Equal(t, 4, h.w.SlotsUsed())
	assert.Equal(t, 2, h.w.FreeSlots())
}

func TestBuy_FreshEntryAtMilestoneLevel(t *testing.T) {
	h := newHarness(t)
	h.w.config.MaxSlots = 3
	q := quote("AAA", 10_000)

	pos, err := h.w.Buy(context.Background(), BuyRequest{Quote: &q, Strategy: models.StrategyFlowSurge, PyramidLevel: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, pos.PyramidLevel)
	assert.Equal(t, 3, h.w.SlotsUsed())
	assert.Equal(t, 1, h.w.BuysToday(models.StrategyFlowSurge))

	q2 := quote("BBB", 10_000)
	_, err = h.w.Buy(context.Background(), BuyRequest{Quote: &q2, Strategy: models.StrategyFlowSurge})
	assert.ErrorIs(t, err, ErrSlotsExhausted)
}

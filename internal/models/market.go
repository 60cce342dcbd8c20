package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Quote is a point-in-time snapshot for one symbol.
// DailyMax is zero when the venue publishes no limit-up price, and
// NetBuyQty is zero when it publishes no institutional flow estimate.
type Quote struct {
	Symbol    string          `json:"symbol"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	PrevClose decimal.Decimal `json:"prev_close"`
	DailyMax  decimal.Decimal `json:"daily_max"`

	BidDepth1     int64           `json:"bid_depth_1"`
	AskDepth1     int64           `json:"ask_depth_1"`
	TotalBidDepth int64           `json:"total_bid_depth"`
	TotalAskDepth int64           `json:"total_ask_depth"`
	BestBid       decimal.Decimal `json:"best_bid"`
	BestAsk       decimal.Decimal `json:"best_ask"`

	Volume    int64     `json:"volume"`
	NetBuyQty int64     `json:"net_buy_qty"`
	Timestamp time.Time `json:"timestamp"`
}

// FlowAmount is the estimated institutional net-buy value.
func (q *Quote) FlowAmount() decimal.Decimal {
	return decimal.NewFromInt(q.NetBuyQty).Mul(q.Price)
}

// TradeValue is the session's traded value, price × cumulative volume.
func (q *Quote) TradeValue() decimal.Decimal {
	return decimal.NewFromInt(q.Volume).Mul(q.Price)
}

// WickRatio is the upper shadow over the open-to-high range, 0 when the
// high is not above the open.
func (q *Quote) WickRatio() float64 {
	if !q.High.GreaterThan(q.Open) {
		return 0
	}
	top := decimal.Max(q.Price, q.Open)
	return q.High.Sub(top).Div(q.High.Sub(q.Open)).InexactFloat64()
}

// BidAskRatio is total bid depth over total ask depth in percent; 999 when
// only bids are resting and 0 when the book is empty.
func (q *Quote) BidAskRatio() float64 {
	switch {
	case q.TotalAskDepth > 0:
		return float64(q.TotalBidDepth) / float64(q.TotalAskDepth) * 100
	case q.TotalBidDepth > 0:
		return 999
	}
	return 0
}

// ChangeRate is the percent change from the previous close.
func (q *Quote) ChangeRate() float64 {
	if !q.PrevClose.IsPositive() {
		return 0
	}
	return q.Price.Sub(q.PrevClose).Div(q.PrevClose).Mul(decimal.NewFromInt(100)).InexactFloat64()
}

// GapRate is the percent gap of the open over the previous close.
func (q *Quote) GapRate() float64 {
	if !q.PrevClose.IsPositive() {
		return 0
	}
	return q.Open.Sub(q.PrevClose).Div(q.PrevClose).Mul(decimal.NewFromInt(100)).InexactFloat64()
}

// AtLimitUp reports price at or above the daily maximum; false when unknown.
func (q *Quote) AtLimitUp() bool {
	return q.DailyMax.IsPositive() && q.Price.GreaterThanOrEqual(q.DailyMax)
}

// Holding is one line of the broker's authoritative ledger.
type Holding struct {
	Symbol   string          `json:"symbol"`
	Name     string          `json:"name"`
	Qty      int64           `json:"qty"`
	AvgPrice decimal.Decimal `json:"avg_price"`
}

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderRequest with a zero Price is a market order.
type OrderRequest struct {
	Symbol string
	Qty    int64
	Price  decimal.Decimal
	Side   Side
}

// Order represents an accepted order found in any broker.
type Order struct {
	ID            string          `json:"id"`
	ClientOrderID string          `json:"client_order_id"`
	Symbol        string          `json:"symbol"`
	Qty           int64           `json:"qty"`
	Side          Side            `json:"side"`
	Type          string          `json:"type"`   // market, limit
	Status        string          `json:"status"` // new, accepted, filled, rejected
	LimitPrice    decimal.Decimal `json:"limit_price"`
	CreatedAt     time.Time       `json:"created_at"`
}

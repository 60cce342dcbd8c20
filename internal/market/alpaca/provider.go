package alpaca

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"intraday_trader/internal/market"
	"intraday_trader/internal/models"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Options selects the account and bounds every HTTP call.
type Options struct {
	APIKey    string
	APISecret string
	BaseURL   string
	Timeout   time.Duration
	Feed      string
}

// Provider implements market.Gateway over Alpaca's trading and snapshot APIs.
//
// Alpaca publishes neither a daily limit-up price nor an institutional
// net-buy estimate, so Quote.DailyMax and Quote.NetBuyQty stay zero and the
// rules depending on them never fire.
type Provider struct {
	mdClient    *marketdata.Client
	tradeClient *alpaca.Client
	feed        marketdata.Feed

	mu    sync.Mutex
	names map[string]string
}

var _ market.Gateway = (*Provider)(nil)

func NewProvider(opts Options) *Provider {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	httpClient := &http.Client{Timeout: opts.Timeout}
	return &Provider{
		mdClient: marketdata.NewClient(marketdata.ClientOpts{
			APIKey:     opts.APIKey,
			APISecret:  opts.APISecret,
			HTTPClient: httpClient,
		}),
		tradeClient: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:     opts.APIKey,
			APISecret:  opts.APISecret,
			BaseURL:    opts.BaseURL,
			HTTPClient: httpClient,
		}),
		feed:  marketdata.Feed(opts.Feed),
		names: make(map[string]string),
	}
}

// --- Market Data ---

func (p *Provider) FetchQuote(symbol string) (*models.Quote, error) {
	snap, err := p.mdClient.GetSnapshot(symbol, marketdata.GetSnapshotRequest{Feed: p.feed})
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", symbol, err)
	}
	if snap == nil || snap.LatestTrade == nil || snap.LatestTrade.Price <= 0 {
		return nil, fmt.Errorf("%s: %w", symbol, market.ErrNoQuote)
	}
	return mapSnapshot(symbol, p.assetName(symbol), snap), nil
}

func mapSnapshot(symbol, name string, snap *marketdata.Snapshot) *models.Quote {
	q := &models.Quote{
		Symbol:    symbol,
		Name:      name,
		Price:     decimal.NewFromFloat(snap.LatestTrade.Price),
		Timestamp: snap.LatestTrade.Timestamp,
	}
	if b := snap.DailyBar; b != nil {
		q.Open = decimal.NewFromFloat(b.Open)
		q.High = decimal.NewFromFloat(b.High)
		q.Low = decimal.NewFromFloat(b.Low)
		q.Volume = int64(b.Volume)
	} else {
		q.Open, q.High, q.Low = q.Price, q.Price, q.Price
	}
	if b := snap.PrevDailyBar; b != nil {
		q.PrevClose = decimal.NewFromFloat(b.Close)
	}
	// Top of book is all the snapshot carries, so it doubles as total depth.
	if lq := snap.LatestQuote; lq != nil {
		q.BestBid = decimal.NewFromFloat(lq.BidPrice)
		q.BestAsk = decimal.NewFromFloat(lq.AskPrice)
		q.BidDepth1 = int64(lq.BidSize)
		q.AskDepth1 = int64(lq.AskSize)
		q.TotalBidDepth = q.BidDepth1
		q.TotalAskDepth = q.AskDepth1
	}
	return q
}

// assetName resolves a display name once per symbol; failures fall back to the symbol.
func (p *Provider) assetName(symbol string) string {
	p.mu.Lock()
	name, ok := p.names[symbol]
	p.mu.Unlock()
	if ok {
		return name
	}

	name = symbol
	if a, err := p.tradeClient.GetAsset(symbol); err == nil && a != nil && a.Name != "" {
		name = a.Name
	}
	p.mu.Lock()
	p.names[symbol] = name
	p.mu.Unlock()
	return name
}

// --- Account ---

func (p *Provider) AccountValue() (decimal.Decimal, error) {
	acct, err := p.tradeClient.GetAccount()
	if err != nil {
		return decimal.Zero, err
	}
	return acct.Equity, nil
}

func (p *Provider) FetchHoldings() (map[string]models.Holding, error) {
	positions, err := p.tradeClient.GetPositions()
	if err != nil {
		return nil, err
	}

	out := make(map[string]models.Holding, len(positions))
	for _, x := range positions {
		qty := x.Qty.IntPart()
		if qty <= 0 {
			continue
		}
		out[x.Symbol] = models.Holding{
			Symbol:   x.Symbol,
			Name:     p.assetName(x.Symbol),
			Qty:      qty,
			AvgPrice: x.AvgEntryPrice,
		}
	}
	return out, nil
}

// --- Execution ---

// SubmitOrder places a day order. A positive Price makes it a limit order.
func (p *Provider) SubmitOrder(r models.OrderRequest) (*models.Order, error) {
	if r.Qty <= 0 {
		return nil, fmt.Errorf("submit %s: non-positive qty %d", r.Symbol, r.Qty)
	}
	qty := decimal.NewFromInt(r.Qty)
	req := alpaca.PlaceOrderRequest{
		Symbol:        r.Symbol,
		Qty:           &qty,
		Side:          alpaca.Side(r.Side),
		Type:          alpaca.Market,
		TimeInForce:   alpaca.Day,
		ClientOrderID: uuid.NewString(),
	}
	if r.Price.IsPositive() {
		price := r.Price
		req.Type = alpaca.Limit
		req.LimitPrice = &price
	}

	o, err := p.tradeClient.PlaceOrder(req)
	if err != nil {
		return nil, err
	}
	order := mapOrder(o)
	if strings.EqualFold(order.Status, "rejected") {
		return order, fmt.Errorf("%s %s: %w", r.Side, r.Symbol, market.ErrRejected)
	}
	return order, nil
}

func mapOrder(o *alpaca.Order) *models.Order {
	if o == nil {
		return nil
	}
	res := &models.Order{
		ID:            o.ID,
		ClientOrderID: o.ClientOrderID,
		Symbol:        o.Symbol,
		Side:          models.Side(o.Side),
		Type:          string(o.Type),
		Status:        o.Status,
		CreatedAt:     o.CreatedAt,
	}
	if o.Qty != nil {
		res.Qty = o.Qty.IntPart()
	}
	if o.LimitPrice != nil {
		res.LimitPrice = *o.LimitPrice
	}
	return res
}

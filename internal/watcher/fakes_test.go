package watcher

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"intraday_trader/internal/config"
	"intraday_trader/internal/cooldown"
	"intraday_trader/internal/journal"
	"intraday_trader/internal/market"
	"intraday_trader/internal/models"
	"intraday_trader/internal/storage"

	"github.com/shopspring/decimal"
)

// MockGateway implements market.Gateway for testing
type MockGateway struct {
	mu        sync.Mutex
	quotes    map[string]models.Quote
	failQuote map[string]int // remaining failures per symbol
	holdings  map[string]models.Holding
	holdErr   error
	equity    decimal.Decimal
	reject    map[string]bool
	orders    []models.OrderRequest
	calls     []string
	holdCalls int
}

func newMockGateway() *MockGateway {
	return &MockGateway{
		quotes:    make(map[string]models.Quote),
		failQuote: make(map[string]int),
		holdings:  make(map[string]models.Holding),
		reject:    make(map[string]bool),
		equity:    decimal.NewFromInt(10_000_000),
	}
}

func (m *MockGateway) setQuote(q models.Quote) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quotes[q.Symbol] = q
}

func (m *MockGateway) FetchQuote(symbol string) (*models.Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "quote:"+symbol)
	if m.failQuote[symbol] > 0 {
		m.failQuote[symbol]--
		return nil, fmt.Errorf("timeout fetching %s", symbol)
	}
	q, ok := m.quotes[symbol]
	if !ok {
		return nil, market.ErrNoQuote
	}
	return &q, nil
}

func (m *MockGateway) FetchHoldings() (map[string]models.Holding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.holdCalls++
	if m.holdErr != nil {
		return nil, m.holdErr
	}
	out := make(map[string]models.Holding, len(m.holdings))
	for k, v := range m.holdings {
		out[k] = v
	}
	return out, nil
}

func (m *MockGateway) SubmitOrder(req models.OrderRequest) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "order:"+req.Symbol)
	if m.reject[req.Symbol] {
		return nil, fmt.Errorf("%w: insufficient buying power", market.ErrRejected)
	}
	m.orders = append(m.orders, req)
	return &models.Order{ID: fmt.Sprintf("mock_%d", len(m.orders)), Symbol: req.Symbol, Qty: req.Qty, Side: req.Side}, nil
}

func (m *MockGateway) AccountValue() (decimal.Decimal, error) {
	return m.equity, nil
}

func (m *MockGateway) orderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

type mockNotifier struct {
	mu   sync.Mutex
	msgs []string
}

func (n *mockNotifier) Notify(text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, text)
}

func (n *mockNotifier) contains(sub string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, m := range n.msgs {
		if strings.Contains(m, sub) {
			return true
		}
	}
	return false
}

type mockJournal struct {
	mu    sync.Mutex
	buys  []journal.BuyRecord
	sells []journal.SellRecord
}

func (j *mockJournal) RecordBuy(_ context.Context, r journal.BuyRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.buys = append(j.buys, r)
	return nil
}

func (j *mockJournal) RecordSell(_ context.Context, r journal.SellRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.sells = append(j.sells, r)
	return nil
}

func (j *mockJournal) SummarySince(_ context.Context, since time.Time) (journal.Summary, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var s journal.Summary
	total := 0.0
	for _, r := range j.sells {
		if r.Time.Before(since) {
			continue
		}
		s.Sells++
		if r.Realized > 0 {
			s.Wins++
		}
		total += r.Realized
	}
	if s.Sells > 0 {
		s.AvgRealized = total / float64(s.Sells)
	}
	return s, nil
}

type mockState struct {
	mu    sync.Mutex
	saves []storage.Snapshot
}

func (s *mockState) Save(snap storage.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves = append(s.saves, snap)
	return nil
}

func (s *mockState) last() (storage.Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.saves) == 0 {
		return storage.Snapshot{}, false
	}
	return s.saves[len(s.saves)-1], true
}

var testNow = time.Date(2024, 3, 4, 10, 0, 0, 0, config.DefaultLocation())

func testConfig() *config.Config {
	return &config.Config{
		MaxSlots:            6,
		InvestRatio:         0.15,
		MonitorInterval:     10 * time.Millisecond,
		SyncEveryCycles:     10,
		SyncGrace:           10 * time.Second,
		MissingLimit:        3,
		ManualSellFloor:     999_999_999_999,
		CandleWidth:         5 * time.Minute,
		CandleCap:           20,
		FlowDropRate:        0.30,
		PartialProfitRate:   0.02,
		PartialSellRatio:    0.5,
		StopLossRate:        -0.02,
		MomentumStopLoss:    -0.01,
		TrailTriggerRate:    0.04,
		TrailGap:            0.02,
		TrailGapUnstable:    0.01,
		DepthImbalance:      2.0,
		TimeStop:            600 * time.Minute,
		TimeStopProfit:      0,
		MorningWindow:       6,
		MorningBearish:      4,
		AfternoonWindow:     12,
		AfternoonBearish:    8,
		MorningSessionEnd:   "11:30",
		AfternoonSessionEnd: "15:20",
		SessionOpen:         "09:00",
		SessionClose:        "15:15",
		ReentryDelay:        480 * time.Minute,
		FlowRiseRate:        0.30,
	}
}

type harness struct {
	w       *Watcher
	gw      *MockGateway
	notes   *mockNotifier
	journal *mockJournal
	state   *mockState
	ledger  *cooldown.Ledger
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := testConfig()
	h := &harness{
		gw:      newMockGateway(),
		notes:   &mockNotifier{},
		journal: &mockJournal{},
		state:   &mockState{},
		ledger:  cooldown.New(cfg.ReentryDelay),
	}
	h.w = New(cfg, Deps{Gateway: h.gw, Ledger: h.ledger, Journal: h.journal, State: h.state, Notifier: h.notes})
	h.w.now = func() time.Time { return testNow }
	h.w.retryDelay = 0
	return h
}

// hold puts a position straight into the portfolio.
func (h *harness) hold(p *models.Position) {
	if p.ReferencePrice.IsZero() {
		p.ReferencePrice = p.AvgPrice
	}
	if p.EnteredAt.IsZero() {
		p.EnteredAt = testNow.Add(-time.Hour)
	}
	h.w.mu.Lock()
	h.w.portfolio[p.Symbol] = p
	h.w.mu.Unlock()
}

func quote(symbol string, price int64) models.Quote {
	return models.Quote{
		Symbol:    symbol,
		Name:      symbol + " Corp",
		Price:     decimal.NewFromInt(price),
		Open:      decimal.NewFromInt(price),
		High:      decimal.NewFromInt(price),
		Low:       decimal.NewFromInt(price),
		PrevClose: decimal.NewFromInt(price),
	}
}

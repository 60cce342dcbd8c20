package watcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"intraday_trader/internal/candles"
	"intraday_trader/internal/config"
	"intraday_trader/internal/cooldown"
	"intraday_trader/internal/exits"
	"intraday_trader/internal/journal"
	"intraday_trader/internal/logger"
	"intraday_trader/internal/market"
	"intraday_trader/internal/metrics"
	"intraday_trader/internal/models"
	"intraday_trader/internal/storage"

	"github.com/shopspring/decimal"
)

var (
	ErrTradingPaused  = errors.New("trading paused")
	ErrSlotsExhausted = errors.New("slot capacity exhausted")
	ErrZeroQuantity   = errors.New("order quantity rounds to zero")
	ErrNotHeld        = errors.New("symbol not held")
	ErrAlreadyHeld    = errors.New("symbol already held")
	ErrOrderRejected  = errors.New("order rejected by venue")
	ErrOrderInFlight  = errors.New("order already in flight for symbol")
)

const journalTimeout = 3 * time.Second

// Notifier delivers operator-facing messages. telegram.Client satisfies it.
type Notifier interface {
	Notify(text string)
}

// Journal receives one record per fill. journal.Store satisfies it.
type Journal interface {
	RecordBuy(ctx context.Context, r journal.BuyRecord) error
	RecordSell(ctx context.Context, r journal.SellRecord) error
	SummarySince(ctx context.Context, since time.Time) (journal.Summary, error)
}

// StateStore persists the position book between runs. storage.Store
// satisfies it.
type StateStore interface {
	Save(snap storage.Snapshot) error
}

type logNotifier struct{}

func (logNotifier) Notify(text string) { logger.Infof("[notify] %s", text) }

// Deps are the collaborators a Watcher drives. Journal, State and Metrics
// may be nil.
type Deps struct {
	Gateway  market.Gateway
	Ledger   *cooldown.Ledger
	Journal  Journal
	State    StateStore
	Notifier Notifier
	Metrics  *metrics.Metrics
}

// Watcher owns the portfolio. mu guards every field below it and is never
// held across a gateway call.
type Watcher struct {
	config   *config.Config
	gateway  market.Gateway
	engine   *exits.Engine
	candles  *candles.Synthesizer
	ledger   *cooldown.Ledger
	journal  Journal
	state    StateStore
	notifier Notifier
	metrics  *metrics.Metrics

	now        func() time.Time
	retryDelay time.Duration

	mu        sync.Mutex
	portfolio map[string]*models.Position
	missing   map[string]int
	// pending holds symbols with an order in flight and the slots a buy reserves.
	pending map[string]int
	paused  bool
	cycles  int
	buys    map[models.Strategy]int
}

func New(cfg *config.Config, d Deps) *Watcher {
	if d.Ledger == nil {
		d.Ledger = cooldown.New(cfg.ReentryDelay)
	}
	if d.Notifier == nil {
		d.Notifier = logNotifier{}
	}
	return &Watcher{
		config:     cfg,
		gateway:    d.Gateway,
		engine:     exits.NewEngine(exits.RulesFromConfig(cfg)),
		candles:    candles.New(cfg.CandleWidth, cfg.CandleCap, cfg.Location()),
		ledger:     d.Ledger,
		journal:    d.Journal,
		state:      d.State,
		notifier:   d.Notifier,
		metrics:    d.Metrics,
		now:        time.Now,
		retryDelay: 200 * time.Millisecond,
		portfolio:  make(map[string]*models.Position),
		missing:    make(map[string]int),
		pending:    make(map[string]int),
		buys:       make(map[models.Strategy]int),
	}
}

func (w *Watcher) Ledger() *cooldown.Ledger { return w.ledger }

func (w *Watcher) Pause() {
	w.mu.Lock()
	w.paused = true
	w.publishLocked()
	w.mu.Unlock()
}

func (w *Watcher) Resume() {
	w.mu.Lock()
	w.paused = false
	w.publishLocked()
	w.mu.Unlock()
}

func (w *Watcher) Paused() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.paused
}

// SlotsUsed is Σ(level+1) over open positions.
func (w *Watcher) SlotsUsed() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return models.SlotsUsed(w.portfolio)
}

// FreeSlots accounts for buys still in flight.
func (w *Watcher) FreeSlots() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.config.MaxSlots - w.reservedLocked()
}

func (w *Watcher) reservedLocked() int {
	n := models.SlotsUsed(w.portfolio)
	for _, s := range w.pending {
		n += s
	}
	return n
}

// Position returns a copy of the held position for symbol.
func (w *Watcher) Position(symbol string) (models.Position, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	p, ok := w.portfolio[symbol]
	if !ok {
		return models.Position{}, false
	}
	return clonePosition(p), true
}

// Holds reports whether symbol is held or has an order in flight.
func (w *Watcher) Holds(symbol string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, held := w.portfolio[symbol]
	_, busy := w.pending[symbol]
	return held || busy
}

// Positions returns copies of every open position sorted by symbol.
func (w *Watcher) Positions() []models.Position {
	w.mu.Lock()
	out := make([]models.Position, 0, len(w.portfolio))
	for _, p := range w.portfolio {
		out = append(out, clonePosition(p))
	}
	w.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// BuysToday counts new entries filled for a strategy since the last ResetDay.
func (w *Watcher) BuysToday(s models.Strategy) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buys[s]
}

// ResetDay clears the per-day state: cooldowns, missing counters and buy counts.
func (w *Watcher) ResetDay() {
	w.mu.Lock()
	w.missing = make(map[string]int)
	w.buys = make(map[models.Strategy]int)
	w.cycles = 0
	w.mu.Unlock()
	w.ledger.Reset()
	logger.Infof("Daily state reset")
}

func clonePosition(p *models.Position) models.Position {
	c := *p
	if p.Stats != nil {
		s := *p.Stats
		c.Stats = &s
	}
	c.Candles.History = append([]models.Bar(nil), p.Candles.History...)
	if p.Candles.Current != nil {
		b := *p.Candles.Current
		c.Candles.Current = &b
	}
	return c
}

func (w *Watcher) publishLocked() {
	w.metrics.SetPortfolio(len(w.portfolio), models.SlotsUsed(w.portfolio), w.paused)
}

// BuyRequest describes one entry or pyramid add. Leader is set for
// GROUP_FOLLOW entries. For a held symbol, a PyramidLevel above the held
// level makes it an add.
type BuyRequest struct {
	Quote        *models.Quote
	Strategy     models.Strategy
	Leader       *models.Quote
	Group        string
	PyramidLevel int
}

// Buy sizes, submits and books one order. A nil error means the position
// map reflects the fill.
func (w *Watcher) Buy(ctx context.Context, req BuyRequest) (*models.Position, error) {
	q := req.Quote
	if q == nil || !q.Price.IsPositive() {
		return nil, fmt.Errorf("buy: %w", market.ErrNoQuote)
	}
	symbol := q.Symbol

	w.mu.Lock()
	if w.paused {
		w.mu.Unlock()
		w.metrics.RecordBuyRejection("paused")
		return nil, ErrTradingPaused
	}
	if _, busy := w.pending[symbol]; busy {
		w.mu.Unlock()
		return nil, fmt.Errorf("buy %s: %w", symbol, ErrOrderInFlight)
	}
	if req.PyramidLevel < 0 {
		req.PyramidLevel = 0
	}
	held := w.portfolio[symbol]
	add := held != nil && req.PyramidLevel > held.PyramidLevel
	if held != nil && !add {
		w.mu.Unlock()
		return nil, fmt.Errorf("buy %s: %w", symbol, ErrAlreadyHeld)
	}
	// a fresh entry may start above level 0 and occupies level+1 slots
	need := req.PyramidLevel + 1
	if add {
		need = req.PyramidLevel - held.PyramidLevel
	}
	if w.reservedLocked()+need > w.config.MaxSlots {
		w.mu.Unlock()
		w.metrics.RecordBuyRejection("slots")
		return nil, fmt.Errorf("buy %s: %w", symbol, ErrSlotsExhausted)
	}
	w.pending[symbol] = need
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		delete(w.pending, symbol)
		w.publishLocked()
		w.mu.Unlock()
	}()

	equity, err := w.gateway.AccountValue()
	if err != nil {
		return nil, fmt.Errorf("buy %s: account value: %w", symbol, err)
	}
	qty := equity.Mul(decimal.NewFromFloat(w.config.InvestRatio)).Div(q.Price).IntPart()
	if qty <= 0 {
		w.metrics.RecordBuyRejection("zero_qty")
		return nil, fmt.Errorf("buy %s at %s with equity %s: %w", symbol, q.Price, equity.StringFixed(0), ErrZeroQuantity)
	}

	limit := q.Price
	if q.BestAsk.IsPositive() {
		limit = q.BestAsk
	}
	order, err := w.gateway.SubmitOrder(models.OrderRequest{Symbol: symbol, Qty: qty, Price: limit, Side: models.SideBuy})
	if err != nil {
		if errors.Is(err, market.ErrRejected) {
			w.metrics.RecordBuyRejection("venue")
			w.notifier.Notify(fmt.Sprintf("⚠️ Buy rejected: %s %d sh (%v)", symbol, qty, err))
			return nil, fmt.Errorf("buy %s: %w: %v", symbol, ErrOrderRejected, err)
		}
		return nil, fmt.Errorf("buy %s: submit: %w", symbol, err)
	}

	now := w.now()
	flow := q.FlowAmount()

	w.mu.Lock()
	var pos *models.Position
	if add {
		// re-read under the lock; reconciliation may have adjusted qty meanwhile
		pos = w.portfolio[symbol]
		if pos == nil {
			pos = w.newPosition(req, limit, qty, flow, now)
			w.portfolio[symbol] = pos
		} else {
			total := pos.Qty + qty
			cost := pos.AvgPrice.Mul(decimal.NewFromInt(pos.Qty)).Add(limit.Mul(decimal.NewFromInt(qty)))
			pos.AvgPrice = cost.Div(decimal.NewFromInt(total))
			pos.Qty = total
			pos.ReferencePrice = limit
			pos.PartialTaken = false
			pos.MaxProfitRate = 0
			pos.PeakFlow = flow
			pos.PyramidLevel = req.PyramidLevel
			pos.EnteredAt = now
		}
	} else {
		pos = w.newPosition(req, limit, qty, flow, now)
		w.portfolio[symbol] = pos
	}
	delete(w.missing, symbol)
	if !add {
		w.buys[req.Strategy]++
	}
	snapshot := clonePosition(pos)
	w.mu.Unlock()

	logger.Infof("BUY %s (%s) %d sh @ %s [%s L%d] order=%s", symbol, q.Name, qty, limit, req.Strategy, req.PyramidLevel, orderID(order))
	w.metrics.RecordBuy(string(req.Strategy))
	w.recordBuy(ctx, snapshot, q, limit, qty, now)
	w.persist()
	w.notifier.Notify(buyMessage(snapshot, q, limit, qty, add))
	return &snapshot, nil
}

func (w *Watcher) newPosition(req BuyRequest, price decimal.Decimal, qty int64, flow decimal.Decimal, now time.Time) *models.Position {
	q := req.Quote
	pos := &models.Position{
		Symbol:         q.Symbol,
		Name:           q.Name,
		Qty:            qty,
		AvgPrice:       price,
		ReferencePrice: price,
		Strategy:       req.Strategy,
		EnteredAt:      now,
		PyramidLevel:   req.PyramidLevel,
		Group:          req.Group,
		PeakFlow:       flow,
		Stats:          models.NewStats(price, flow),
	}
	if l := req.Leader; l != nil {
		pos.Leader = l.Symbol
		pos.LeaderName = l.Name
		pos.LeaderPeak = l.Price
	}
	return pos
}

// Sell flattens symbol. On error the position is left as it was.
func (w *Watcher) Sell(symbol string, reason exits.Reason) error {
	return w.sell(symbol, 0, reason)
}

// SellPartial sells qty shares and keeps the rest, marking the partial as
// taken. A qty that would empty the position becomes a full sell.
func (w *Watcher) SellPartial(symbol string, qty int64, reason exits.Reason) error {
	if qty <= 0 {
		return fmt.Errorf("sell %s: %w", symbol, ErrZeroQuantity)
	}
	return w.sell(symbol, qty, reason)
}

func (w *Watcher) sell(symbol string, partial int64, reason exits.Reason) error {
	w.mu.Lock()
	pos, ok := w.portfolio[symbol]
	if !ok {
		w.mu.Unlock()
		return fmt.Errorf("sell %s: %w", symbol, ErrNotHeld)
	}
	if _, busy := w.pending[symbol]; busy {
		w.mu.Unlock()
		return fmt.Errorf("sell %s: %w", symbol, ErrOrderInFlight)
	}
	qty := pos.Qty
	full := partial <= 0 || partial >= pos.Qty
	if !full {
		qty = partial
	}
	w.pending[symbol] = 0
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		delete(w.pending, symbol)
		w.publishLocked()
		w.mu.Unlock()
	}()

	price, flow := decimal.Zero, decimal.Zero
	if q := w.refetchQuote(symbol); q != nil {
		price, flow = q.Price, q.FlowAmount()
	} else {
		logger.Warnf("SELL %s: no quote after retry, exit price unknown", symbol)
	}

	order, err := w.gateway.SubmitOrder(models.OrderRequest{Symbol: symbol, Qty: qty, Side: models.SideSell})
	if err != nil {
		if errors.Is(err, market.ErrRejected) {
			w.notifier.Notify(fmt.Sprintf("⚠️ Sell rejected: %s %d sh (%v)", symbol, qty, err))
			return fmt.Errorf("sell %s: %w: %v", symbol, ErrOrderRejected, err)
		}
		return fmt.Errorf("sell %s: submit: %w", symbol, err)
	}
	now := w.now()

	w.mu.Lock()
	pos, ok = w.portfolio[symbol]
	if !ok {
		// reconciliation cannot drop a pending symbol, so this is a bug
		w.mu.Unlock()
		logger.Errorf("SELL %s filled but position vanished", symbol)
		return nil
	}
	realized := 0.0
	if price.IsPositive() {
		realized = pos.RealizedRate(price)
	}
	snapshot := clonePosition(pos)
	if full {
		cat := cooldown.Normal
		if reason.IsFlowExhaustion() {
			cat = cooldown.FlowDrop
		}
		w.ledger.Record(symbol, cat, flow, now)
		delete(w.portfolio, symbol)
		delete(w.missing, symbol)
	} else {
		pos.Qty -= qty
		pos.PartialTaken = true
	}
	w.mu.Unlock()

	logger.Infof("SELL %s %d sh @ %s (%s) realized=%.2f%% order=%s", symbol, qty, price, reason, realized*100, orderID(order))
	if full {
		w.metrics.RecordExit(reason.Kind.String())
	} else {
		w.metrics.RecordPartial()
	}
	w.recordSell(snapshot, reason, price, flow, qty, realized, now)
	w.persist()
	w.notifier.Notify(sellMessage(snapshot, reason, price, qty, realized, full))
	return nil
}

// refetchQuote tries the venue twice, retryDelay apart.
func (w *Watcher) refetchQuote(symbol string) *models.Quote {
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			time.Sleep(w.retryDelay)
		}
		q, err := w.gateway.FetchQuote(symbol)
		if err == nil && q != nil && q.Price.IsPositive() {
			return q
		}
		w.metrics.RecordQuoteFailure()
		logger.Debugf("quote %s attempt %d: %v", symbol, attempt+1, err)
	}
	return nil
}

// LiquidateAll sells every open position one after another with reason.
// It returns how many were sold and the joined errors of the rest.
func (w *Watcher) LiquidateAll(reason exits.Reason) (int, error) {
	w.mu.Lock()
	symbols := make([]string, 0, len(w.portfolio))
	for sym := range w.portfolio {
		symbols = append(symbols, sym)
	}
	w.mu.Unlock()
	sort.Strings(symbols)

	sold := 0
	var errs []error
	for _, sym := range symbols {
		if err := w.Sell(sym, reason); err != nil {
			if errors.Is(err, ErrNotHeld) {
				continue
			}
			logger.Errorf("liquidate: %v", err)
			errs = append(errs, err)
			continue
		}
		sold++
	}
	return sold, errors.Join(errs...)
}

func (w *Watcher) recordBuy(ctx context.Context, p models.Position, q *models.Quote, price decimal.Decimal, qty int64, now time.Time) {
	if w.journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, journalTimeout)
	defer cancel()
	err := w.journal.RecordBuy(ctx, journal.BuyRecord{
		Time:       now,
		Symbol:     p.Symbol,
		Name:       p.Name,
		Strategy:   string(p.Strategy),
		Level:      p.PyramidLevel,
		Price:      price,
		Qty:        qty,
		Flow:       q.FlowAmount(),
		Leader:     p.Leader,
		ChangeRate: q.ChangeRate(),
	})
	if err != nil {
		logger.Warnf("journal buy %s: %v", p.Symbol, err)
	}
}

func (w *Watcher) recordSell(p models.Position, reason exits.Reason, price, flow decimal.Decimal, qty int64, realized float64, now time.Time) {
	if w.journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()
	rec := journal.SellRecord{
		Time:        now,
		Symbol:      p.Symbol,
		Name:        p.Name,
		Strategy:    string(p.Strategy),
		Reason:      reason.String(),
		ReasonKind:  reason.Kind.String(),
		AvgPrice:    p.AvgPrice,
		Price:       price,
		Qty:         qty,
		Realized:    realized,
		HoldMinutes: int(p.Held(now).Minutes()),
		ExitFlow:    flow,
	}
	if s := p.Stats; s != nil {
		rec.MaxPrice, rec.MinPrice = s.MaxPrice, s.MinPrice
		rec.EntryFlow, rec.MaxFlow = s.EntryFlow, s.MaxFlow
	}
	if err := w.journal.RecordSell(ctx, rec); err != nil {
		logger.Warnf("journal sell %s: %v", p.Symbol, err)
	}
}

// persist writes the book to the state store. Call it without w.mu held.
func (w *Watcher) persist() {
	if w.state == nil {
		return
	}
	snap := storage.Snapshot{SavedAt: w.now(), Positions: w.Positions()}
	if err := w.state.Save(snap); err != nil {
		logger.Warnf("save state: %v", err)
	}
}

// Restore seeds the book from a saved snapshot before the first Mirror,
// which then drops whatever the broker no longer holds. Symbols already in
// the book are left alone.
func (w *Watcher) Restore(positions []models.Position) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, p := range positions {
		if p.Symbol == "" || p.Qty <= 0 {
			continue
		}
		if _, held := w.portfolio[p.Symbol]; held {
			continue
		}
		pos := clonePosition(&p)
		pos.Candles = models.CandleMemory{}
		w.portfolio[p.Symbol] = &pos
		n++
	}
	w.publishLocked()
	return n
}

func orderID(o *models.Order) string {
	if o == nil {
		return "-"
	}
	return o.ID
}

package watcher

import (
	"context"
	"errors"
	"sort"
	"time"

	"intraday_trader/internal/exits"
	"intraday_trader/internal/logger"
	"intraday_trader/internal/models"
)

type target struct {
	symbol string
	leader string
}

// RunMonitor drives Cycle every MonitorInterval until ctx ends.
func (w *Watcher) RunMonitor(ctx context.Context) error {
	interval := w.config.MonitorInterval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Infof("Monitor loop started (every %s, reconcile every %d cycles)", interval, w.config.SyncEveryCycles)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.Cycle()
		}
	}
}

// Cycle runs one monitoring pass. Every decision is collected before any
// order goes out, so an exit earlier in the pass cannot influence how a
// later position is judged.
func (w *Watcher) Cycle() {
	start := time.Now()

	targets := w.targets()
	quotes := w.fetchQuotes(targets)
	decisions := w.evaluate(targets, quotes, w.now())

	for _, d := range decisions {
		w.execute(d)
	}
	w.sweepTroughs()

	w.mu.Lock()
	w.cycles++
	due := w.config.SyncEveryCycles > 0 && w.cycles%w.config.SyncEveryCycles == 0
	w.publishLocked()
	w.mu.Unlock()

	if due {
		if err := w.Reconcile(); err != nil {
			logger.Warnf("reconcile: %v", err)
		}
	}
	w.metrics.ObserveCycle(time.Since(start))
}

func (w *Watcher) targets() []target {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]target, 0, len(w.portfolio))
	for sym, p := range w.portfolio {
		if _, busy := w.pending[sym]; busy {
			continue
		}
		out = append(out, target{symbol: sym, leader: p.Leader})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].symbol < out[j].symbol })
	return out
}

// fetchQuotes asks the venue once per distinct symbol, leaders included.
// Failed symbols are simply absent from the result.
func (w *Watcher) fetchQuotes(targets []target) map[string]*models.Quote {
	quotes := make(map[string]*models.Quote, len(targets))
	failed := make(map[string]bool)
	fetch := func(sym string) {
		if sym == "" || failed[sym] {
			return
		}
		if _, ok := quotes[sym]; ok {
			return
		}
		q, err := w.gateway.FetchQuote(sym)
		if err != nil || q == nil || !q.Price.IsPositive() {
			failed[sym] = true
			w.metrics.RecordQuoteFailure()
			logger.Debugf("quote %s skipped this cycle: %v", sym, err)
			return
		}
		quotes[sym] = q
	}
	for _, t := range targets {
		fetch(t.symbol)
		fetch(t.leader)
	}
	return quotes
}

func (w *Watcher) evaluate(targets []target, quotes map[string]*models.Quote, now time.Time) []*exits.Decision {
	w.mu.Lock()
	defer w.mu.Unlock()

	var out []*exits.Decision
	for _, t := range targets {
		q, ok := quotes[t.symbol]
		if !ok {
			continue
		}
		pos, ok := w.portfolio[t.symbol]
		if !ok {
			continue
		}
		w.candles.Update(&pos.Candles, q.Price, now)
		d := w.engine.Evaluate(pos, exits.Input{Quote: q, Leader: quotes[t.leader], Now: now})
		if d != nil {
			out = append(out, d)
		}
	}
	return out
}

func (w *Watcher) execute(d *exits.Decision) {
	var err error
	if d.Partial() {
		err = w.SellPartial(d.Symbol, d.PartialQty, d.Reason)
	} else {
		err = w.Sell(d.Symbol, d.Reason)
	}
	if err != nil && !errors.Is(err, ErrNotHeld) && !errors.Is(err, ErrOrderInFlight) {
		logger.Errorf("exit %s (%s): %v", d.Symbol, d.Reason.Kind, err)
	}
}

// sweepTroughs keeps lowering the recorded flow of FLOW_DROP exits so a
// rebound can later be measured against the true low.
func (w *Watcher) sweepTroughs() {
	for _, sym := range w.ledger.FlowDropSymbols() {
		q, err := w.gateway.FetchQuote(sym)
		if err != nil || q == nil {
			continue
		}
		if w.ledger.TrackTrough(sym, q.FlowAmount()) {
			logger.Debugf("cooldown %s: new flow trough %s", sym, q.FlowAmount())
		}
	}
}

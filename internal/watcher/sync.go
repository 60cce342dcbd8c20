package watcher

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"intraday_trader/internal/cooldown"
	"intraday_trader/internal/logger"
	"intraday_trader/internal/models"

	"github.com/shopspring/decimal"
)

// Reconcile diffs the portfolio against the broker's ledger. It only fixes
// bookkeeping and never places an order.
//
// Positions younger than SyncGrace are left alone. A position missing from
// the ledger MissingLimit times in a row is treated as sold by hand. A lower
// broker quantity shrinks the local one. Broker holdings we do not know and
// never exited today are adopted as RECOVERED.
func (w *Watcher) Reconcile() error {
	holdings, err := w.gateway.FetchHoldings()
	if err != nil {
		return fmt.Errorf("fetch holdings: %w", err)
	}
	now := w.now()

	var notes []string
	w.mu.Lock()
	for _, sym := range sortedKeys(w.portfolio) {
		pos := w.portfolio[sym]
		if _, busy := w.pending[sym]; busy {
			continue
		}
		if now.Sub(pos.EnteredAt) < w.config.SyncGrace {
			continue
		}
		h, ok := holdings[sym]
		if !ok || h.Qty <= 0 {
			w.missing[sym]++
			logger.Debugf("reconcile %s missing (%d/%d)", sym, w.missing[sym], w.config.MissingLimit)
			if w.missing[sym] < w.config.MissingLimit {
				continue
			}
			w.ledger.Record(sym, cooldown.ManualSell, decimal.NewFromInt(w.config.ManualSellFloor), now)
			delete(w.portfolio, sym)
			delete(w.missing, sym)
			w.metrics.RecordReconciliation("manual_sell")
			notes = append(notes, fmt.Sprintf("🖐 Manual sell detected: %s (%s) gone from the account, %d sh dropped", displayName(pos), sym, pos.Qty))
			continue
		}
		delete(w.missing, sym)
		if h.Qty < pos.Qty {
			notes = append(notes, fmt.Sprintf("✂️ Quantity sync: %s %d → %d sh", displayName(pos), pos.Qty, h.Qty))
			pos.Qty = h.Qty
			w.metrics.RecordReconciliation("qty_decrease")
		}
	}

	for _, sym := range sortedKeys(holdings) {
		h := holdings[sym]
		if h.Qty <= 0 {
			continue
		}
		if _, held := w.portfolio[sym]; held {
			continue
		}
		if _, busy := w.pending[sym]; busy {
			continue
		}
		if w.ledger.Has(sym) {
			continue
		}
		pos := adopt(sym, h, models.StrategyRecovered, now)
		w.portfolio[sym] = pos
		w.metrics.RecordReconciliation("recovered")
		notes = append(notes, fmt.Sprintf("🩹 Recovered holding: %s (%s) %d sh @ %s", displayName(pos), sym, h.Qty, h.AvgPrice.StringFixed(0)))
	}
	w.publishLocked()
	w.mu.Unlock()

	if len(notes) > 0 {
		w.persist()
	}
	for _, n := range notes {
		logger.Infof("%s", n)
		w.notifier.Notify(n)
	}
	return nil
}

// Mirror makes the portfolio an exact copy of the broker's ledger. It runs
// once at startup, before any loop, so stale local entries are dropped
// without the missing-counter debounce.
func (w *Watcher) Mirror() error {
	holdings, err := w.gateway.FetchHoldings()
	if err != nil {
		return fmt.Errorf("fetch holdings: %w", err)
	}
	now := w.now()

	var adopted, dropped []string
	w.mu.Lock()
	for sym, pos := range w.portfolio {
		h, ok := holdings[sym]
		if !ok || h.Qty <= 0 {
			delete(w.portfolio, sym)
			delete(w.missing, sym)
			dropped = append(dropped, sym)
			continue
		}
		pos.Qty = h.Qty
	}
	for _, sym := range sortedKeys(holdings) {
		h := holdings[sym]
		if h.Qty <= 0 {
			continue
		}
		if _, held := w.portfolio[sym]; held {
			continue
		}
		w.portfolio[sym] = adopt(sym, h, models.StrategyUnknown, now)
		adopted = append(adopted, fmt.Sprintf("%s %d sh", sym, h.Qty))
	}
	w.publishLocked()
	w.mu.Unlock()

	w.persist()
	sort.Strings(dropped)
	if len(dropped) > 0 {
		logger.Warnf("Mirror dropped local ghosts: %v", dropped)
	}
	if len(adopted) > 0 {
		w.notifier.Notify("🔄 Synced holdings from account:\n" + strings.Join(adopted, "\n"))
	}
	logger.Infof("Mirror complete: %d adopted, %d dropped", len(adopted), len(dropped))
	return nil
}

// adopt builds a position for a holding we did not open. Stats stay nil and
// are seeded from the first quote the monitor sees.
func adopt(symbol string, h models.Holding, s models.Strategy, now time.Time) *models.Position {
	return &models.Position{
		Symbol:         symbol,
		Name:           h.Name,
		Qty:            h.Qty,
		AvgPrice:       h.AvgPrice,
		ReferencePrice: h.AvgPrice,
		Strategy:       s,
		EnteredAt:      now,
	}
}

func displayName(p *models.Position) string {
	if p.Name != "" {
		return p.Name
	}
	return p.Symbol
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

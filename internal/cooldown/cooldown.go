// Package cooldown remembers recently exited symbols to gate re-entry.
package cooldown

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

type Category string

const (
	Normal     Category = "NORMAL"
	FlowDrop   Category = "FLOW_DROP"
	ManualSell Category = "MANUAL_SELL"
)

// Entry is one blacklisted symbol. MinFlow starts at the flow observed at
// exit; for FlowDrop entries it is lowered by TrackTrough.
type Entry struct {
	Category Category
	MinFlow  decimal.Decimal
	ExitedAt time.Time
}

// Ledger is safe for concurrent use. Entries live until Reset.
type Ledger struct {
	mu      sync.Mutex
	delay   time.Duration
	entries map[string]*Entry
}

func New(delay time.Duration) *Ledger {
	return &Ledger{delay: delay, entries: make(map[string]*Entry)}
}

// Record overwrites any earlier entry for symbol.
func (l *Ledger) Record(symbol string, cat Category, flow decimal.Decimal, at time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[symbol] = &Entry{Category: cat, MinFlow: flow, ExitedAt: at}
}

// IsBlocked reports whether symbol exited less than the re-entry delay ago.
func (l *Ledger) IsBlocked(symbol string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[symbol]
	if !ok {
		return false
	}
	return now.Sub(e.ExitedAt) < l.delay
}

// Has reports whether symbol has any entry, expired or not.
func (l *Ledger) Has(symbol string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.entries[symbol]
	return ok
}

func (l *Ledger) Get(symbol string) (Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[symbol]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// TrackTrough lowers a FlowDrop entry's MinFlow when flow is below it.
func (l *Ledger) TrackTrough(symbol string, flow decimal.Decimal) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[symbol]
	if !ok || e.Category != FlowDrop || !flow.LessThan(e.MinFlow) {
		return false
	}
	e.MinFlow = flow
	return true
}

// FlowDropSymbols lists the symbols whose trough is being tracked, sorted.
func (l *Ledger) FlowDropSymbols() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for sym, e := range l.entries {
		if e.Category == FlowDrop {
			out = append(out, sym)
		}
	}
	sort.Strings(out)
	return out
}

// ReboundReady reports whether flow has recovered riseRate above the
// tracked trough of a FlowDrop entry. Non-positive troughs never qualify.
func (l *Ledger) ReboundReady(symbol string, flow decimal.Decimal, riseRate float64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[symbol]
	if !ok || e.Category != FlowDrop || !e.MinFlow.IsPositive() {
		return false
	}
	target := e.MinFlow.Mul(decimal.NewFromFloat(1 + riseRate))
	return flow.GreaterThanOrEqual(target)
}

func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Reset forgets everything; called at the start of a trading day.
func (l *Ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = make(map[string]*Entry)
}

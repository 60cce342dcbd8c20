package watcher

import (
	"context"
	"fmt"
	"strings"
	"time"

	"intraday_trader/internal/exits"
	"intraday_trader/internal/logger"
	"intraday_trader/internal/models"

	"github.com/shopspring/decimal"
)

// StatusReport renders the balance, the buy switch and every position.
// The account value is fetched outside the lock.
func (w *Watcher) StatusReport() string {
	positions := w.Positions()
	paused := w.Paused()

	balance := "n/a"
	if equity, err := w.gateway.AccountValue(); err != nil {
		logger.Warnf("status: account value: %v", err)
	} else {
		balance = equity.StringFixed(0)
	}

	buying := "ON"
	if paused {
		buying = "OFF"
	}

	var sb strings.Builder
	sb.WriteString("📊 STATUS\n")
	sb.WriteString(fmt.Sprintf("Balance: %s\n", balance))
	sb.WriteString(fmt.Sprintf("Buying: %s\n", buying))
	sb.WriteString(fmt.Sprintf("Slots: %d/%d\n", models.SlotsUsed(positionMap(positions)), w.config.MaxSlots))
	if len(positions) == 0 {
		sb.WriteString("No open positions.")
		return sb.String()
	}
	sb.WriteString(fmt.Sprintf("Positions (%d):\n", len(positions)))
	for _, p := range positions {
		partial := ""
		if p.PartialTaken {
			partial = " ½"
		}
		sb.WriteString(fmt.Sprintf("• %s %d sh [%s L%d] max %.2f%%%s\n",
			displayName(&p), p.Qty, p.Strategy, p.PyramidLevel, p.MaxProfitRate*100, partial))
	}
	return sb.String()
}

func positionMap(ps []models.Position) map[string]*models.Position {
	m := make(map[string]*models.Position, len(ps))
	for i := range ps {
		m[ps[i].Symbol] = &ps[i]
	}
	return m
}

// DailyReport summarizes today's sells from the journal.
func (w *Watcher) DailyReport(ctx context.Context, since time.Time) string {
	if w.journal == nil {
		return ""
	}
	ctx, cancel := context.WithTimeout(ctx, journalTimeout)
	defer cancel()
	s, err := w.journal.SummarySince(ctx, since)
	if err != nil {
		logger.Warnf("daily report: %v", err)
		return ""
	}
	if s.Sells == 0 {
		return "📒 Session closed. No trades today."
	}
	return fmt.Sprintf("📒 Session closed. %d exits, %d winners, avg %.2f%%",
		s.Sells, s.Wins, s.AvgRealized*100)
}

// SendStartupNotification announces the process and what it found in the account.
func (w *Watcher) SendStartupNotification(version, mode string) {
	equity, err := w.gateway.AccountValue()
	if err != nil {
		logger.Warnf("Startup Warning: Could not fetch account value: %v", err)
	}
	msg := fmt.Sprintf("🚀 SYSTEM START: intraday trader %s online\nMode: [%s]\nBalance: %s | Positions: %d | Slots: %d/%d",
		version, strings.ToUpper(mode), equity.StringFixed(0), len(w.Positions()), w.SlotsUsed(), w.config.MaxSlots)
	w.notifier.Notify(msg)
}

func (w *Watcher) SendShutdownNotification() {
	w.notifier.Notify(fmt.Sprintf("🛑 SYSTEM SHUTDOWN: signal received, %d positions left open.", len(w.Positions())))
}

func buyMessage(p models.Position, q *models.Quote, price decimal.Decimal, qty int64, add bool) string {
	title := "🟢 BUY"
	if add {
		title = fmt.Sprintf("➕ ADD L%d", p.PyramidLevel)
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%s [%s] %s (%s)\n", title, p.Strategy, displayName(&p), p.Symbol))
	sb.WriteString(fmt.Sprintf("%d sh @ %s (%+.2f%%)\n", qty, price.StringFixed(0), q.ChangeRate()))
	if add {
		sb.WriteString(fmt.Sprintf("Avg %s, total %d sh\n", p.AvgPrice.StringFixed(0), p.Qty))
	}
	if p.Leader != "" {
		sb.WriteString(fmt.Sprintf("Leader: %s @ %s\n", p.LeaderName, p.LeaderPeak.StringFixed(0)))
	}
	if f := q.FlowAmount(); !f.IsZero() {
		sb.WriteString(fmt.Sprintf("Flow: %s억\n", f.Div(decimal.NewFromInt(100_000_000)).StringFixed(0)))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func sellMessage(p models.Position, r exits.Reason, price decimal.Decimal, qty int64, realized float64, full bool) string {
	title := "🔴 SELL"
	if !full {
		title = "🟡 PARTIAL"
	}
	px := "unknown"
	if price.IsPositive() {
		px = price.StringFixed(0)
	}
	return fmt.Sprintf("%s %s (%s)\n%d sh @ %s | %+.2f%%\nReason: %s",
		title, displayName(&p), p.Symbol, qty, px, realized*100, r)
}

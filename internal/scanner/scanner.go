// Package scanner screens the trading universe once per tick and submits
// entries through the portfolio. It also owns the session calendar: the
// close-out at SESSION_CLOSE and the daily reset.
package scanner

import (
	"context"
	"fmt"
	"sort"
	"time"

	"intraday_trader/internal/config"
	"intraday_trader/internal/cooldown"
	"intraday_trader/internal/exits"
	"intraday_trader/internal/groups"
	"intraday_trader/internal/logger"
	"intraday_trader/internal/market"
	"intraday_trader/internal/models"
	"intraday_trader/internal/watcher"
)

// Portfolio is the part of *watcher.Watcher the scanner drives.
type Portfolio interface {
	Buy(ctx context.Context, req watcher.BuyRequest) (*models.Position, error)
	Position(symbol string) (models.Position, bool)
	Holds(symbol string) bool
	FreeSlots() int
	SlotsUsed() int
	BuysToday(s models.Strategy) int
	LiquidateAll(reason exits.Reason) (int, error)
	ResetDay()
	DailyReport(ctx context.Context, since time.Time) string
}

type Notifier interface {
	Notify(text string)
}

type Scanner struct {
	cfg      *config.Config
	gateway  market.Gateway
	book     Portfolio
	ledger   *cooldown.Ledger
	groups   *groups.Map
	notifier Notifier
	now      func() time.Time
	loc      *time.Location

	openMin  int
	closeMin int
	universe []string

	// day state; only the scan goroutine touches it
	day           string
	sessionStart  time.Time
	closed        bool
	closeFailed   bool
	boughtGroups  map[string]bool
	lockedSince   map[string]time.Time
	lastHeartbeat time.Time
}

func New(cfg *config.Config, gw market.Gateway, book Portfolio, ledger *cooldown.Ledger, gm *groups.Map, n Notifier) *Scanner {
	if gm == nil {
		gm = groups.Empty()
	}
	s := &Scanner{
		cfg:          cfg,
		gateway:      gw,
		book:         book,
		ledger:       ledger,
		groups:       gm,
		notifier:     n,
		now:          time.Now,
		loc:          cfg.Location(),
		openMin:      config.MustClock(cfg.SessionOpen, 9*60),
		closeMin:     config.MustClock(cfg.SessionClose, 15*60+15),
		boughtGroups: make(map[string]bool),
		lockedSince:  make(map[string]time.Time),
	}
	s.universe = universe(gm, cfg.Watchlist)
	return s
}

func universe(gm *groups.Map, watchlist []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, sym := range append(gm.Symbols(), watchlist...) {
		if sym == "" || seen[sym] {
			continue
		}
		seen[sym] = true
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// Run steps the scanner every ScanInterval until ctx ends.
func (s *Scanner) Run(ctx context.Context) error {
	interval := s.cfg.ScanInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Infof("Scan loop started: %d symbols, %d groups, every %s", len(s.universe), len(s.groups.Groups()), interval)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Step(ctx)
		}
	}
}

// Step runs one scan pass at the current time.
func (s *Scanner) Step(ctx context.Context) {
	now := s.now().In(s.loc)
	if wd := now.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return
	}
	if day := now.Format(time.DateOnly); day != s.day {
		s.startDay(day, now)
	}

	minute := config.MinuteOfDay(now, s.loc)
	if minute >= s.closeMin {
		s.closeSession(ctx)
		return
	}
	if minute < s.openMin {
		return
	}
	elapsed := now.Sub(s.sessionStart)

	quotes := s.fetchUniverse()
	s.heartbeat(now, quotes)

	if s.book.FreeSlots() > 0 {
		s.flowSurge(ctx, quotes, minute)
	}
	if s.book.FreeSlots() > 0 {
		s.momentumGap(ctx, quotes, elapsed)
	}
	if s.book.FreeSlots() > 0 {
		s.groupFollow(ctx, quotes, elapsed, now)
	}
}

// startDay forgets yesterday. It runs on the first tick of a new calendar
// day, well after the previous close-out has settled at the broker.
func (s *Scanner) startDay(day string, now time.Time) {
	first := s.day == ""
	s.day = day
	s.closed = false
	s.closeFailed = false
	s.boughtGroups = make(map[string]bool)
	s.lockedSince = make(map[string]time.Time)
	y, m, d := now.Date()
	s.sessionStart = time.Date(y, m, d, s.openMin/60, s.openMin%60, 0, 0, now.Location())
	s.book.ResetDay()
	if !first {
		logger.Infof("New trading day %s", day)
	}
}

// closeSession flattens the book. Sells that fail are retried on every
// later tick; the day is closed and reported only once nothing is held.
func (s *Scanner) closeSession(ctx context.Context) {
	if s.closed {
		return
	}
	if s.book.SlotsUsed() > 0 {
		if !s.closeFailed {
			s.notifier.Notify("⏰ Session close: liquidating all positions")
		}
		sold, err := s.book.LiquidateAll(exits.Reason{Kind: exits.SessionClose, Note: "session close"})
		if err != nil {
			logger.Warnf("Session close: %d sold, retrying the rest next tick: %v", sold, err)
			if !s.closeFailed {
				s.notifier.Notify(fmt.Sprintf("⚠️ Session close: %d sold, retrying failures:\n%v", sold, err))
			}
			s.closeFailed = true
		}
		if s.book.SlotsUsed() > 0 {
			return
		}
	}
	s.closed = true
	if report := s.book.DailyReport(ctx, s.sessionStart); report != "" {
		s.notifier.Notify(report)
	}
	logger.Infof("Session closed for %s", s.day)
}

// fetchUniverse quotes every symbol once; failures are skipped silently.
func (s *Scanner) fetchUniverse() map[string]*models.Quote {
	quotes := make(map[string]*models.Quote, len(s.universe))
	for _, sym := range s.universe {
		q, err := s.gateway.FetchQuote(sym)
		if err != nil || q == nil || !q.Price.IsPositive() {
			continue
		}
		if q.Name == "" {
			q.Name = s.groups.Name(sym)
		}
		if excludedName(q.Name) {
			continue
		}
		quotes[sym] = q
	}
	return quotes
}

func (s *Scanner) heartbeat(now time.Time, quotes map[string]*models.Quote) {
	every := s.cfg.HeartbeatInterval
	if every <= 0 || now.Sub(s.lastHeartbeat) < every {
		return
	}
	s.lastHeartbeat = now
	flow, gap := 0, 0
	for _, q := range quotes {
		if q.FlowAmount().IntPart() >= s.cfg.FlowLevelZero {
			flow++
		}
		if r := q.ChangeRate(); r >= s.cfg.MomentumRateMin && r <= s.cfg.MomentumRateMax {
			gap++
		}
	}
	logger.Infof("💓 heartbeat %s | Slots:%d/%d | Quotes:%d Flow:%d Gap:%d Cooldown:%d",
		now.Format("15:04"), s.book.SlotsUsed(), s.cfg.MaxSlots, len(quotes), flow, gap, s.ledger.Len())
}

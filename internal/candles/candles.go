// Package candles rebuilds fixed-width OHLC bars from polled last-trade
// prices. Bars are a coarse proxy: they only see the prices the monitor
// happened to sample and carry no volume.
package candles

import (
	"time"

	"intraday_trader/internal/models"

	"github.com/shopspring/decimal"
)

const (
	DefaultWidth = 5 * time.Minute
	DefaultCap   = 20
)

// Synthesizer holds the bar geometry shared by every position.
type Synthesizer struct {
	Width time.Duration
	Cap   int
	Loc   *time.Location
}

func New(width time.Duration, capacity int, loc *time.Location) *Synthesizer {
	if width <= 0 || width > time.Hour {
		width = DefaultWidth
	}
	if capacity <= 0 {
		capacity = DefaultCap
	}
	if loc == nil {
		loc = time.Local
	}
	return &Synthesizer{Width: width, Cap: capacity, Loc: loc}
}

// BucketOf floors now to the bar width within its hour, in the market zone.
func (s *Synthesizer) BucketOf(now time.Time) time.Time {
	t := now.In(s.Loc)
	w := int(s.Width / time.Minute)
	if w <= 0 {
		w = 1
	}
	minute := t.Minute() / w * w
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), minute, 0, 0, s.Loc)
}

// Update folds one price observation into mem. A bucket change closes the
// bar in progress into History and opens a new one at price.
func (s *Synthesizer) Update(mem *models.CandleMemory, price decimal.Decimal, now time.Time) {
	bucket := s.BucketOf(now)

	if mem.Current != nil && mem.Bucket.Equal(bucket) {
		cur := mem.Current
		if price.GreaterThan(cur.High) {
			cur.High = price
		}
		if price.LessThan(cur.Low) {
			cur.Low = price
		}
		cur.Close = price
		return
	}

	if mem.Current != nil {
		mem.History = append(mem.History, *mem.Current)
		if over := len(mem.History) - s.Cap; over > 0 {
			// copy so the backing array does not grow without bound
			mem.History = append([]models.Bar(nil), mem.History[over:]...)
		}
	}
	mem.Current = &models.Bar{Bucket: bucket, Open: price, High: price, Low: price, Close: price}
	mem.Bucket = bucket
}

// Window returns the n most recent completed bars, oldest first.
// ok is false when fewer than n have closed.
func Window(mem *models.CandleMemory, n int) ([]models.Bar, bool) {
	if n <= 0 || len(mem.History) < n {
		return nil, false
	}
	return mem.History[len(mem.History)-n:], true
}

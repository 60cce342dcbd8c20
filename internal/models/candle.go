package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bar is one synthesized OHLC candle. Bucket is the start of its interval.
type Bar struct {
	Bucket time.Time       `json:"bucket"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
}

func (b Bar) Bearish() bool {
	return b.Open.GreaterThan(b.Close)
}

// CandleMemory holds completed bars oldest first plus the bar in progress.
type CandleMemory struct {
	History []Bar
	Current *Bar
	Bucket  time.Time
}

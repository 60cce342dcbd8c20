package exits

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Kind classifies why a position is being sold.
type Kind int

const (
	KindNone Kind = iota
	LeaderDesync
	FlowExhaustion
	TrendReversal
	LimitUp
	TrailingStop
	GiveBack
	TimeStop
	StopLoss
	PartialTake
	// TargetFullExit is a partial take that would round to zero shares.
	TargetFullExit
	SessionClose
	Manual
)

var kindNames = map[Kind]string{
	KindNone:       "none",
	LeaderDesync:   "leader_desync",
	FlowExhaustion: "flow_exhaustion",
	TrendReversal:  "trend_reversal",
	LimitUp:        "limit_up",
	TrailingStop:   "trailing_stop",
	GiveBack:       "give_back",
	TimeStop:       "time_stop",
	StopLoss:       "stop_loss",
	PartialTake:    "partial_take",
	TargetFullExit: "target_full_exit",
	SessionClose:   "session_close",
	Manual:         "manual",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Reason is a tagged exit cause. Only the fields relevant to Kind are set.
type Reason struct {
	Kind Kind

	FlowAmount decimal.Decimal
	PeakFlow   decimal.Decimal

	Bars         int
	BearishCount int

	ProfitRate    float64
	MaxProfitRate float64
	Gap           float64
	Unstable      bool

	Elapsed time.Duration

	Leader      string
	LeaderPrice decimal.Decimal
	LeaderPeak  decimal.Decimal

	Qty  int64
	Note string
}

// IsFlowExhaustion drives the FLOW_DROP cooldown category.
func (r Reason) IsFlowExhaustion() bool {
	return r.Kind == FlowExhaustion
}

func (r Reason) String() string {
	switch r.Kind {
	case LeaderDesync:
		return fmt.Sprintf("leader %s lost its high (%s < %s)", r.Leader, r.LeaderPrice, r.LeaderPeak)
	case FlowExhaustion:
		return fmt.Sprintf("flow exhaustion (%s < peak %s)", eok(r.FlowAmount), eok(r.PeakFlow))
	case TrendReversal:
		return fmt.Sprintf("trend reversal (%d of %d bars bearish)", r.BearishCount, r.Bars)
	case LimitUp:
		return "limit-up reached, full take"
	case TrailingStop:
		status := "book normal"
		if r.Unstable {
			status = "book unstable"
		}
		return fmt.Sprintf("trailing stop (max %.1f%% / now %.1f%%, %s, gap %.0f%%)",
			r.MaxProfitRate*100, r.ProfitRate*100, status, r.Gap*100)
	case GiveBack:
		return fmt.Sprintf("gave back partial gain (now %.2f%%)", r.ProfitRate*100)
	case TimeStop:
		return fmt.Sprintf("time stop (%.0f min held, %.2f%%)", r.Elapsed.Minutes(), r.ProfitRate*100)
	case StopLoss:
		return fmt.Sprintf("stop loss (%.2f%%)", r.ProfitRate*100)
	case PartialTake:
		return fmt.Sprintf("partial take %d sh at %.2f%%", r.Qty, r.ProfitRate*100)
	case TargetFullExit:
		return fmt.Sprintf("target reached on odd lot (%d sh), full take", r.Qty)
	case SessionClose, Manual:
		if r.Note != "" {
			return r.Note
		}
	}
	return r.Kind.String()
}

// eok renders flow amounts in units of 100M (억), the desk's habit.
func eok(v decimal.Decimal) string {
	return v.Div(decimal.NewFromInt(100_000_000)).StringFixed(0) + "억"
}

// Decision is the engine's verdict for one position in one cycle.
// PartialQty > 0 means sell only that many shares and keep the position.
type Decision struct {
	Symbol     string
	Reason     Reason
	PartialQty int64
}

func (d *Decision) Partial() bool {
	return d != nil && d.PartialQty > 0
}

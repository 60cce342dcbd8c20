package market

import (
	"errors"

	"intraday_trader/internal/models"

	"github.com/shopspring/decimal"
)

var (
	// ErrNoQuote means the venue returned nothing usable for the symbol.
	ErrNoQuote = errors.New("no quote")
	// ErrRejected is returned when the venue accepted the request but refused the order.
	ErrRejected = errors.New("order rejected")
)

// Gateway is the order & quote venue the engine trades against.
// Implementations bound every call with a short timeout and never retry.
type Gateway interface {
	FetchQuote(symbol string) (*models.Quote, error)
	// FetchHoldings returns the authoritative ledger keyed by symbol.
	FetchHoldings() (map[string]models.Holding, error)
	SubmitOrder(req models.OrderRequest) (*models.Order, error)
	AccountValue() (decimal.Decimal, error)
}

package venue

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// Error classification for venue failures. The order manager decides rollback
// behavior from these, so venue implementations must map their raw errors
// onto this set.
var (
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrPriceImpactExceeded   = errors.New("price impact exceeded")
	ErrTransactionFailed     = errors.New("transaction failed")
	ErrTimeout               = errors.New("venue timeout")
)

// Quote is a priced route for swapping Amount of InputAsset into OutputAsset.
type Quote struct {
	InputAsset  string
	OutputAsset string
	Amount      decimal.Decimal
	// Price is the effective OutputAsset-per-InputAsset price of the route.
	Price decimal.Decimal
	// PriceImpact is the fractional impact of the swap on the route price.
	PriceImpact decimal.Decimal
	Raw         map[string]any
}

// SwapResult is the venue's confirmation of an executed swap.
type SwapResult struct {
	VenueOrderID   string
	ConfirmedPrice decimal.Decimal
	FilledSize     decimal.Decimal
	Fee            decimal.Decimal
}

// Client is the execution venue: a swap counterparty that prices and fills
// orders. Implementations must honor context deadlines; the order manager
// treats a deadline expiry as ErrTimeout and never blindly resubmits, since a
// repeated swap risks double execution.
type Client interface {
	GetQuote(ctx context.Context, inputAsset, outputAsset string, amount decimal.Decimal) (*Quote, error)
	ExecuteSwap(ctx context.Context, quote *Quote) (*SwapResult, error)
}

// Retryable reports whether the error class is safe to retry at the quote
// stage. Execution-stage errors are never retryable.
func Retryable(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrInsufficientLiquidity)
}

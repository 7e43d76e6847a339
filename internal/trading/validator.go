package trading

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/marketsim/tradecore/internal/calendar"
	"github.com/marketsim/tradecore/pkg/models"
)

// QuoteSource reads the latest cached quote for a symbol. The marketdata
// cache satisfies it.
type QuoteSource interface {
	Get(symbol string) (models.PriceUpdate, bool)
}

// Snapshot carries the caller-supplied state an order is validated against.
// Validation never reads live state itself, so it can run on every input
// change with nothing but recomputation cost.
type Snapshot struct {
	Quotes    QuoteSource
	Balance   int64
	Positions map[string]int64 // net quantity per symbol (lots for options)
}

// Validator checks orders against quantity, position, price and balance
// rules plus the market calendar. It is stateless; Now is injectable for
// deterministic tests.
type Validator struct {
	Calendar *calendar.Calendar
	Now      func() time.Time
}

// NewValidator creates a validator over the given calendar.
func NewValidator(cal *calendar.Calendar) *Validator {
	return &Validator{Calendar: cal, Now: time.Now}
}

// Validate evaluates every rule — errors are not short-circuited, so a
// caller can show all problems at once. It never mutates state.
func (v *Validator) Validate(order models.Order, snap Snapshot) models.ValidationResult {
	res := models.ValidationResult{}

	unit := "shares"
	if order.Instrument == models.InstrumentOption {
		unit = "lots"
	}

	if order.Quantity <= 0 {
		res.Errors = append(res.Errors, models.ValidationIssue{
			Code:    models.IssueInvalidQuantity,
			Message: fmt.Sprintf("quantity must be a positive whole number of %s", unit),
		})
	}

	if order.Action == models.ActionSell && order.Quantity > 0 {
		held := snap.Positions[order.Symbol]
		if order.Quantity > held {
			res.Errors = append(res.Errors, models.ValidationIssue{
				Code:    models.IssueInsufficientShares,
				Message: fmt.Sprintf("cannot sell %d %s, position holds %d", order.Quantity, unit, held),
			})
		}
	}

	price, ok := v.EffectivePrice(order, snap.Quotes)
	if !ok {
		res.Errors = append(res.Errors, models.ValidationIssue{
			Code:    models.IssueNoPrice,
			Message: fmt.Sprintf("no price available for %s", order.Symbol),
		})
	} else if order.Quantity > 0 {
		res.CoinCost = CoinCost(order.Quantity, price, order.LotSize())
		res.TotalAmount = res.CoinCost
	}

	res.CanAfford = true
	if order.Action == models.ActionBuy && ok {
		res.CanAfford = snap.Balance >= res.CoinCost
		if !res.CanAfford {
			res.Errors = append(res.Errors, models.ValidationIssue{
				Code:    models.IssueInsufficientBalance,
				Message: fmt.Sprintf("order costs %d coins, balance is %d", res.CoinCost, snap.Balance),
			})
		}
	}

	// Market-closed is always a warning, never a hard error: off-hours
	// orders may be queued or simulated.
	if st := v.Calendar.Status(v.Now()); !st.IsOpen {
		res.Warnings = append(res.Warnings, models.ValidationIssue{
			Code:    models.IssueMarketClosed,
			Message: fmt.Sprintf("market is closed, next open %s", st.NextOpen.Format(time.RFC3339)),
		})
	}

	res.IsValid = len(res.Errors) == 0
	return res
}

// EffectivePrice is the limit price for limit orders, else the latest cached
// quote.
func (v *Validator) EffectivePrice(order models.Order, quotes QuoteSource) (float64, bool) {
	if order.Type == models.OrderLimit {
		if order.LimitPrice <= 0 {
			return 0, false
		}
		return order.LimitPrice, true
	}
	if quotes == nil {
		return 0, false
	}
	u, ok := quotes.Get(order.Symbol)
	if !ok || u.Price <= 0 {
		return 0, false
	}
	return u.Price, true
}

// CoinCost computes quantity x price x lotSize in whole coin units, rounded
// half away from zero.
func CoinCost(quantity int64, price float64, lotSize int64) int64 {
	return decimal.NewFromFloat(price).
		Mul(decimal.NewFromInt(quantity)).
		Mul(decimal.NewFromInt(lotSize)).
		Round(0).
		IntPart()
}

package models

import (
	"time"

	"github.com/google/uuid"
)

// InstrumentType distinguishes equities from option contracts.
type InstrumentType string

const (
	InstrumentStock  InstrumentType = "stock"
	InstrumentOption InstrumentType = "option"
)

// OrderAction is the side of an order.
type OrderAction string

const (
	ActionBuy  OrderAction = "buy"
	ActionSell OrderAction = "sell"
)

// OrderType selects market or limit pricing.
type OrderType string

const (
	OrderMarket OrderType = "market"
	OrderLimit  OrderType = "limit"
)

// OptionKind is the contract type of an option leg.
type OptionKind string

const (
	OptionCall OptionKind = "call"
	OptionPut  OptionKind = "put"
)

// PriceUpdate is the latest quote for a single symbol. Produced by the feed
// connector or the polling generator; the price cache keeps the newest one
// per symbol, using Timestamp as the tie-break.
type PriceUpdate struct {
	Symbol        string    `json:"symbol"`
	Price         float64   `json:"price"`
	Change        float64   `json:"change"`
	ChangePercent float64   `json:"changePercent"`
	Volume        int64     `json:"volume"`
	Bid           float64   `json:"bid"`
	Ask           float64   `json:"ask"`
	Timestamp     time.Time `json:"timestamp"`
}

// OptionQuote is one leg (call or put) at a strike.
type OptionQuote struct {
	Symbol       string  `json:"symbol"`
	LTP          float64 `json:"ltp"`
	Bid          float64 `json:"bid"`
	Ask          float64 `json:"ask"`
	OpenInterest int64   `json:"openInterest"`
	ImpliedVol   float64 `json:"impliedVol"`
}

// StrikeQuotes pairs the call and put quotes at one strike.
type StrikeQuotes struct {
	Call OptionQuote `json:"call"`
	Put  OptionQuote `json:"put"`
}

// OptionChainSnapshot is a whole option chain for an underlying at a point in
// time. Chains are always replaced wholesale so every strike comes from the
// same instant.
type OptionChainSnapshot struct {
	Underlying  string                  `json:"underlying"`
	SpotPrice   float64                 `json:"spotPrice"`
	Expiry      time.Time               `json:"expiry"`
	LastUpdated time.Time               `json:"lastUpdated"`
	Strikes     map[float64]StrikeQuotes `json:"strikes"`
}

// OptionDetails describes the contract behind an option order. Quantity on
// the order is expressed in lots; LotSize is the number of underlying units
// per lot.
type OptionDetails struct {
	Underlying string     `json:"underlying"`
	Strike     float64    `json:"strike"`
	Expiry     time.Time  `json:"expiry"`
	Kind       OptionKind `json:"kind"`
	LotSize    int64      `json:"lotSize"`
}

// Order is an immutable trade request.
type Order struct {
	UserID     string         `json:"userId"`
	Symbol     string         `json:"symbol"`
	Instrument InstrumentType `json:"instrumentType"`
	Action     OrderAction    `json:"action"`
	Quantity   int64          `json:"quantity"`
	Type       OrderType      `json:"orderType"`
	LimitPrice float64        `json:"limitPrice,omitempty"`
	Option     *OptionDetails `json:"optionDetails,omitempty"`
}

// LotSize returns the underlying units covered by one order unit: the option
// lot size for option orders, 1 for stocks.
func (o Order) LotSize() int64 {
	if o.Instrument == InstrumentOption && o.Option != nil && o.Option.LotSize > 0 {
		return o.Option.LotSize
	}
	return 1
}

// Validation issue codes.
const (
	IssueInvalidQuantity     = "invalid_quantity"
	IssueInsufficientShares  = "insufficient_shares"
	IssueInsufficientBalance = "insufficient_balance"
	IssueNoPrice             = "no_price"
	IssueMarketClosed        = "market_closed"
)

// ValidationIssue is a single structured error or warning from order
// validation.
type ValidationIssue struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationResult is the pure outcome of validating an order against a
// price snapshot, a balance snapshot and a portfolio snapshot. It is derived
// data and never persisted.
type ValidationResult struct {
	IsValid     bool              `json:"isValid"`
	Errors      []ValidationIssue `json:"errors"`
	Warnings    []ValidationIssue `json:"warnings"`
	CoinCost    int64             `json:"coinCost"`
	TotalAmount int64             `json:"totalAmount"`
	CanAfford   bool              `json:"canAfford"`
}

// TransactionType classifies ledger entries. DEBIT reduces the balance,
// CREDIT and PURCHASE increase it.
type TransactionType string

const (
	TxDebit    TransactionType = "DEBIT"
	TxCredit   TransactionType = "CREDIT"
	TxPurchase TransactionType = "PURCHASE"
)

// CoinTransaction is one append-only ledger entry. Amount is always positive;
// the sign is implied by Type. RelatedTradeID is the idempotency key: at most
// one transaction may exist per (user, related trade, type).
type CoinTransaction struct {
	ID             uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid"`
	UserID         string          `json:"userId" gorm:"index:idx_coin_tx_user"`
	Type           TransactionType `json:"type"`
	Amount         int64           `json:"amount"`
	BalanceAfter   int64           `json:"balanceAfter"`
	Reason         string          `json:"reason"`
	RelatedTradeID string          `json:"relatedTradeId,omitempty" gorm:"index:idx_coin_tx_trade"`
	Status         string          `json:"status"`
	CreatedAt      time.Time       `json:"timestamp"`
}

// CoinBalance is the cached projection of a user's transaction stream. It
// always equals the signed sum of that user's CoinTransactions.
type CoinBalance struct {
	UserID         string    `json:"userId" gorm:"primaryKey"`
	Balance        int64     `json:"balance"`
	TotalPurchased int64     `json:"totalPurchased"`
	TotalSpent     int64     `json:"totalSpent"`
	UpdatedAt      time.Time `json:"lastUpdated"`
}

// Trade is a persisted execution record. TransactionID references the ledger
// entry that paid for (or was credited by) the trade.
type Trade struct {
	ID            uuid.UUID      `json:"id" gorm:"primaryKey;type:uuid"`
	UserID        string         `json:"userId" gorm:"index:idx_trade_user"`
	Symbol        string         `json:"symbol" gorm:"index:idx_trade_symbol"`
	Instrument    InstrumentType `json:"instrumentType"`
	Action        OrderAction    `json:"action"`
	Quantity      int64          `json:"quantity"`
	Price         float64        `json:"price"`
	LotSize       int64          `json:"lotSize"`
	CoinAmount    int64          `json:"coinAmount"`
	TransactionID uuid.UUID      `json:"transactionId" gorm:"type:uuid"`
	CreatedAt     time.Time      `json:"timestamp"`
}

// Position is a user's net quantity in a symbol, derived from trade records.
type Position struct {
	Symbol     string         `json:"symbol"`
	Instrument InstrumentType `json:"instrumentType"`
	Quantity   int64          `json:"quantity"`
}

// ExecutionStatus is the terminal state of an execution attempt.
type ExecutionStatus string

const (
	ExecutionSuccess ExecutionStatus = "SUCCESS"
	ExecutionFailed  ExecutionStatus = "FAILED"
)

// ExecutionResult is returned from the trade execution coordinator.
type ExecutionResult struct {
	Status           ExecutionStatus `json:"status"`
	TradeID          string          `json:"tradeId,omitempty"`
	ExecutedQuantity int64           `json:"executedQuantity,omitempty"`
	ExecutedPrice    float64         `json:"executedPrice,omitempty"`
	CoinAmount       int64           `json:"coinAmount,omitempty"`
	Message          string          `json:"message,omitempty"`
	Timestamp        time.Time       `json:"timestamp"`
}

package trading

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/marketsim/tradecore/internal/bookkeeper"
	"github.com/marketsim/tradecore/pkg/models"
)

// Coordinator orchestrates trade execution: re-validate, mutate the ledger,
// record the trade. It is the only component allowed to mutate the ledger as
// a side effect of a trade. There is no rollback machinery here — the trade
// row and the ledger transaction commit together or not at all, which the
// ledger's Apply contract guarantees.
type Coordinator struct {
	log       *zap.Logger
	ledger    *bookkeeper.Service
	store     *TradeStore
	validator *Validator
	quotes    QuoteSource
	now       func() time.Time
}

// NewCoordinator wires the execution pipeline.
func NewCoordinator(log *zap.Logger, ledger *bookkeeper.Service, store *TradeStore, validator *Validator, quotes QuoteSource) *Coordinator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Coordinator{
		log:       log,
		ledger:    ledger,
		store:     store,
		validator: validator,
		quotes:    quotes,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Execute runs one order to completion. The caller's earlier validation is
// advisory only: cost is re-derived from current state here, defending
// against price movement between preview and confirm. Failures never leave a
// half-applied balance change.
func (c *Coordinator) Execute(ctx context.Context, order models.Order) (res models.ExecutionResult) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("trade execution panicked", zap.Any("panic", r))
			res = c.failed(fmt.Sprintf("execution failed: %v", r))
		}
	}()

	positions, err := c.store.Positions(ctx, order.UserID)
	if err != nil {
		return c.failed(err.Error())
	}
	bal, err := c.ledger.Balance(ctx, order.UserID)
	if err != nil {
		return c.failed(err.Error())
	}

	vr := c.validator.Validate(order, Snapshot{
		Quotes:    c.quotes,
		Balance:   bal.Balance,
		Positions: positions,
	})
	if !vr.IsValid {
		return c.failed(vr.Errors[0].Message)
	}

	price, _ := c.validator.EffectivePrice(order, c.quotes)

	tradeID := uuid.New()
	trade := &models.Trade{
		ID:         tradeID,
		UserID:     order.UserID,
		Symbol:     order.Symbol,
		Instrument: order.Instrument,
		Action:     order.Action,
		Quantity:   order.Quantity,
		Price:      price,
		LotSize:    order.LotSize(),
		CoinAmount: vr.CoinCost,
		CreatedAt:  c.now(),
	}

	typ := models.TxDebit
	if order.Action == models.ActionSell {
		typ = models.TxCredit
	}
	reason := fmt.Sprintf("%s %d %s", order.Action, order.Quantity, order.Symbol)

	txn, err := c.ledger.Apply(ctx, order.UserID, typ, vr.CoinCost, reason, tradeID.String(),
		func(tx *gorm.DB, txn *models.CoinTransaction) error {
			trade.TransactionID = txn.ID
			return c.store.RecordTx(tx, trade)
		})
	if err != nil {
		c.log.Warn("trade rejected by ledger",
			zap.String("user_id", order.UserID),
			zap.String("symbol", order.Symbol),
			zap.Error(err))
		return c.failed(err.Error())
	}

	c.log.Info("trade executed",
		zap.String("trade_id", tradeID.String()),
		zap.String("user_id", order.UserID),
		zap.String("symbol", order.Symbol),
		zap.Int64("quantity", order.Quantity),
		zap.Float64("price", price),
		zap.Int64("coins", vr.CoinCost),
		zap.String("transaction_id", txn.ID.String()))

	return models.ExecutionResult{
		Status:           models.ExecutionSuccess,
		TradeID:          tradeID.String(),
		ExecutedQuantity: order.Quantity,
		ExecutedPrice:    price,
		CoinAmount:       vr.CoinCost,
		Message:          "trade executed",
		Timestamp:        c.now(),
	}
}

func (c *Coordinator) failed(message string) models.ExecutionResult {
	return models.ExecutionResult{
		Status:    models.ExecutionFailed,
		Message:   message,
		Timestamp: c.now(),
	}
}

package trading

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/marketsim/tradecore/pkg/models"
)

// TradeStore persists trade records and derives portfolio positions from
// them.
type TradeStore struct {
	db *gorm.DB
}

// NewTradeStore creates a store on the given database.
func NewTradeStore(db *gorm.DB) *TradeStore {
	return &TradeStore{db: db}
}

// RecordTx inserts a trade inside an already-open transaction. The
// coordinator uses it so the trade row and its ledger transaction commit or
// roll back together.
func (s *TradeStore) RecordTx(tx *gorm.DB, trade *models.Trade) error {
	if err := tx.Create(trade).Error; err != nil {
		return fmt.Errorf("failed to record trade: %w", err)
	}
	return nil
}

// Trades pages a user's trade history, newest first.
func (s *TradeStore) Trades(ctx context.Context, userID string, limit, offset int) ([]*models.Trade, int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Trade{}).Where("user_id = ?", userID).Count(&count).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count trades: %w", err)
	}
	var trades []*models.Trade
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).
		Order("created_at DESC").Limit(limit).Offset(offset).Find(&trades).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to find trades: %w", err)
	}
	return trades, count, nil
}

// Positions computes net quantity per symbol for a user: buys add, sells
// subtract. Symbols netting to zero are dropped.
func (s *TradeStore) Positions(ctx context.Context, userID string) (map[string]int64, error) {
	var trades []models.Trade
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Find(&trades).Error; err != nil {
		return nil, fmt.Errorf("failed to load trades: %w", err)
	}
	net := make(map[string]int64)
	for _, t := range trades {
		if t.Action == models.ActionSell {
			net[t.Symbol] -= t.Quantity
		} else {
			net[t.Symbol] += t.Quantity
		}
	}
	for sym, qty := range net {
		if qty == 0 {
			delete(net, sym)
		}
	}
	return net, nil
}

// Portfolio lists a user's open positions.
func (s *TradeStore) Portfolio(ctx context.Context, userID string) ([]models.Position, error) {
	var trades []models.Trade
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at ASC").Find(&trades).Error; err != nil {
		return nil, fmt.Errorf("failed to load trades: %w", err)
	}
	net := make(map[string]*models.Position)
	var order []string
	for _, t := range trades {
		p, ok := net[t.Symbol]
		if !ok {
			p = &models.Position{Symbol: t.Symbol, Instrument: t.Instrument}
			net[t.Symbol] = p
			order = append(order, t.Symbol)
		}
		if t.Action == models.ActionSell {
			p.Quantity -= t.Quantity
		} else {
			p.Quantity += t.Quantity
		}
	}
	out := make([]models.Position, 0, len(order))
	for _, sym := range order {
		if p := net[sym]; p.Quantity != 0 {
			out = append(out, *p)
		}
	}
	return out, nil
}

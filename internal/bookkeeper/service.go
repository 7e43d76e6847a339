// Package bookkeeper is the system of record for virtual coin balances.
// Every balance change appends exactly one CoinTransaction; the CoinBalance
// row is a projection that always equals the signed sum of the user's
// transactions.
package bookkeeper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/marketsim/tradecore/pkg/models"
)

// Typed ledger errors. Callers branch with errors.Is.
var (
	ErrInvalidAmount        = errors.New("amount must be a positive integer")
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrUserNotFound         = errors.New("user not found")
	ErrDuplicateTransaction = errors.New("conflicting transaction for related trade")
	ErrAccountExists        = errors.New("account already exists")
)

// Ledger defines the coin accounting operations.
type Ledger interface {
	CreateAccount(ctx context.Context, userID string, openingBalance int64) (*models.CoinBalance, error)
	Balance(ctx context.Context, userID string) (*models.CoinBalance, error)
	Debit(ctx context.Context, userID string, amount int64, reason, relatedTradeID string) (*models.CoinTransaction, error)
	Credit(ctx context.Context, userID string, amount int64, reason, relatedTradeID string) (*models.CoinTransaction, error)
	Purchase(ctx context.Context, userID string, amount int64, reason string) (*models.CoinTransaction, error)
	Transactions(ctx context.Context, userID string, limit, offset int) ([]*models.CoinTransaction, int64, error)
}

// Service implements Ledger on a gorm database.
type Service struct {
	logger *zap.Logger
	db     *gorm.DB
	users  sync.Map // userID -> *sync.Mutex
	now    func() time.Time
}

// NewService creates a ledger service.
func NewService(logger *zap.Logger, db *gorm.DB) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{logger: logger, db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// lockUser returns the per-user mutex. Each debit/credit performs its balance
// check and its append as one atomic unit; the mutex serializes callers so
// two concurrent requests can never both read the same pre-mutation balance.
func (s *Service) lockUser(userID string) *sync.Mutex {
	v, _ := s.users.LoadOrStore(userID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// CreateAccount opens a coin account. A non-zero opening balance is granted
// as a PURCHASE transaction so the projection invariant holds from the first
// row.
func (s *Service) CreateAccount(ctx context.Context, userID string, openingBalance int64) (*models.CoinBalance, error) {
	if openingBalance < 0 {
		return nil, ErrInvalidAmount
	}
	mu := s.lockUser(userID)
	mu.Lock()
	defer mu.Unlock()

	var bal models.CoinBalance
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.CoinBalance{}).Where("user_id = ?", userID).Count(&count).Error; err != nil {
			return fmt.Errorf("failed to check account: %w", err)
		}
		if count > 0 {
			return ErrAccountExists
		}
		bal = models.CoinBalance{UserID: userID, UpdatedAt: s.now()}
		if err := tx.Create(&bal).Error; err != nil {
			return fmt.Errorf("failed to create account: %w", err)
		}
		if openingBalance > 0 {
			if _, _, err := s.applyTx(tx, userID, models.TxPurchase, openingBalance, "opening balance", ""); err != nil {
				return err
			}
			if err := tx.Where("user_id = ?", userID).First(&bal).Error; err != nil {
				return fmt.Errorf("failed to reload account: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("coin account created",
		zap.String("user_id", userID),
		zap.Int64("opening_balance", openingBalance))
	return &bal, nil
}

// Balance returns the cached balance projection for a user.
func (s *Service) Balance(ctx context.Context, userID string) (*models.CoinBalance, error) {
	var bal models.CoinBalance
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&bal).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to find account: %w", err)
	}
	return &bal, nil
}

// Debit removes coins from a user's balance. Fails with
// ErrInsufficientBalance when amount exceeds the current balance, leaving
// the balance unchanged. A repeated call with the same relatedTradeID is a
// no-op that returns the stored transaction.
func (s *Service) Debit(ctx context.Context, userID string, amount int64, reason, relatedTradeID string) (*models.CoinTransaction, error) {
	return s.Apply(ctx, userID, models.TxDebit, amount, reason, relatedTradeID, nil)
}

// Credit adds coins to a user's balance, with the same idempotency contract
// as Debit.
func (s *Service) Credit(ctx context.Context, userID string, amount int64, reason, relatedTradeID string) (*models.CoinTransaction, error) {
	return s.Apply(ctx, userID, models.TxCredit, amount, reason, relatedTradeID, nil)
}

// Purchase adds coins bought through the top-up flow. It creates the balance
// row on first use.
func (s *Service) Purchase(ctx context.Context, userID string, amount int64, reason string) (*models.CoinTransaction, error) {
	return s.Apply(ctx, userID, models.TxPurchase, amount, reason, "", nil)
}

// Apply performs one ledger mutation. The optional extra callback runs inside
// the same database transaction after the mutation, so a caller can persist a
// dependent record (a trade) atomically with its transaction. extra is
// skipped entirely on an idempotent replay.
func (s *Service) Apply(ctx context.Context, userID string, typ models.TransactionType, amount int64, reason, relatedTradeID string, extra func(tx *gorm.DB, txn *models.CoinTransaction) error) (*models.CoinTransaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	mu := s.lockUser(userID)
	mu.Lock()
	defer mu.Unlock()

	var result *models.CoinTransaction
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txn, replayed, err := s.applyTx(tx, userID, typ, amount, reason, relatedTradeID)
		if err != nil {
			return err
		}
		result = txn
		if replayed || extra == nil {
			return nil
		}
		return extra(tx, txn)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// applyTx is the transactional core: idempotency lookup, balance check and
// append under the locked balance row. Callers hold the user mutex and an
// open database transaction.
func (s *Service) applyTx(tx *gorm.DB, userID string, typ models.TransactionType, amount int64, reason, relatedTradeID string) (*models.CoinTransaction, bool, error) {
	if relatedTradeID != "" {
		var existing models.CoinTransaction
		err := tx.Where("user_id = ? AND related_trade_id = ? AND type = ?", userID, relatedTradeID, typ).
			First(&existing).Error
		switch {
		case err == nil:
			if existing.Amount != amount {
				return nil, false, ErrDuplicateTransaction
			}
			return &existing, true, nil
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return nil, false, fmt.Errorf("failed to check idempotency key: %w", err)
		}
	}

	var bal models.CoinBalance
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).First(&bal).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, fmt.Errorf("failed to find account: %w", err)
		}
		if typ != models.TxPurchase {
			return nil, false, ErrUserNotFound
		}
		// First purchase opens the account.
		bal = models.CoinBalance{UserID: userID, UpdatedAt: s.now()}
		if err := tx.Create(&bal).Error; err != nil {
			return nil, false, fmt.Errorf("failed to create account: %w", err)
		}
	}

	switch typ {
	case models.TxDebit:
		if amount > bal.Balance {
			return nil, false, ErrInsufficientBalance
		}
		bal.Balance -= amount
		bal.TotalSpent += amount
	case models.TxCredit:
		bal.Balance += amount
	case models.TxPurchase:
		bal.Balance += amount
		bal.TotalPurchased += amount
	default:
		return nil, false, fmt.Errorf("unknown transaction type %q", typ)
	}
	bal.UpdatedAt = s.now()

	txn := &models.CoinTransaction{
		ID:             uuid.New(),
		UserID:         userID,
		Type:           typ,
		Amount:         amount,
		BalanceAfter:   bal.Balance,
		Reason:         reason,
		RelatedTradeID: relatedTradeID,
		Status:         "completed",
		CreatedAt:      s.now(),
	}
	if err := tx.Create(txn).Error; err != nil {
		return nil, false, fmt.Errorf("failed to append transaction: %w", err)
	}
	if err := tx.Save(&bal).Error; err != nil {
		return nil, false, fmt.Errorf("failed to save balance: %w", err)
	}
	return txn, false, nil
}

// Transactions pages a user's audit trail, newest first.
func (s *Service) Transactions(ctx context.Context, userID string, limit, offset int) ([]*models.CoinTransaction, int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.CoinTransaction{}).Where("user_id = ?", userID).Count(&count).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	var txns []*models.CoinTransaction
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).
		Order("created_at DESC").Limit(limit).Offset(offset).Find(&txns).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to find transactions: %w", err)
	}
	return txns, count, nil
}

// AuditBalance recomputes the signed transaction sum for a user. The result
// always equals the cached projection; it exists for audits and tests.
func (s *Service) AuditBalance(ctx context.Context, userID string) (int64, error) {
	var txns []models.CoinTransaction
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Find(&txns).Error; err != nil {
		return 0, fmt.Errorf("failed to load transactions: %w", err)
	}
	var sum int64
	for _, t := range txns {
		if t.Type == models.TxDebit {
			sum -= t.Amount
		} else {
			sum += t.Amount
		}
	}
	return sum, nil
}

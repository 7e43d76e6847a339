package bookkeeper

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/marketsim/tradecore/pkg/models"
)

func setupLedger(t *testing.T) *Service {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.CoinBalance{}, &models.CoinTransaction{}))

	svc, err := NewService(nil, db)
	require.NoError(t, err)
	return svc
}

func TestCreateAccountBooksOpeningBalance(t *testing.T) {
	svc := setupLedger(t)
	ctx := context.Background()

	bal, err := svc.CreateAccount(ctx, "user-1", 10000)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), bal.Balance)
	assert.Equal(t, int64(10000), bal.TotalPurchased)

	// The opening grant is a real transaction, so the projection invariant
	// holds from the first row.
	txns, count, err := svc.Transactions(ctx, "user-1", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	assert.Equal(t, models.TxPurchase, txns[0].Type)

	sum, err := svc.AuditBalance(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, bal.Balance, sum)
}

func TestCreateAccountRejectsDuplicate(t *testing.T) {
	svc := setupLedger(t)
	ctx := context.Background()

	_, err := svc.CreateAccount(ctx, "user-1", 100)
	require.NoError(t, err)

	_, err = svc.CreateAccount(ctx, "user-1", 100)
	assert.ErrorIs(t, err, ErrAccountExists)
}

func TestDebitCreditFlow(t *testing.T) {
	svc := setupLedger(t)
	ctx := context.Background()

	_, err := svc.CreateAccount(ctx, "user-1", 10000)
	require.NoError(t, err)

	txn, err := svc.Debit(ctx, "user-1", 5001, "trade debit", "trade-1")
	require.NoError(t, err)
	assert.Equal(t, int64(4999), txn.BalanceAfter)

	txn, err = svc.Credit(ctx, "user-1", 2500, "trade credit", "trade-2")
	require.NoError(t, err)
	assert.Equal(t, int64(7499), txn.BalanceAfter)

	bal, err := svc.Balance(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(7499), bal.Balance)
	assert.Equal(t, int64(5001), bal.TotalSpent)

	sum, err := svc.AuditBalance(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, bal.Balance, sum)
}

func TestDebitInsufficientLeavesLedgerUntouched(t *testing.T) {
	svc := setupLedger(t)
	ctx := context.Background()

	_, err := svc.CreateAccount(ctx, "user-1", 100)
	require.NoError(t, err)

	_, err = svc.Debit(ctx, "user-1", 5001, "trade debit", "trade-1")
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	bal, err := svc.Balance(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), bal.Balance)

	// No transaction row was appended for the rejected debit.
	_, count, err := svc.Transactions(ctx, "user-1", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestDebitIdempotentReplay(t *testing.T) {
	svc := setupLedger(t)
	ctx := context.Background()

	_, err := svc.CreateAccount(ctx, "user-1", 10000)
	require.NoError(t, err)

	first, err := svc.Debit(ctx, "user-1", 5001, "trade debit", "trade-1")
	require.NoError(t, err)

	// Same relatedTradeID again: no-op returning the stored transaction.
	second, err := svc.Debit(ctx, "user-1", 5001, "trade debit", "trade-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.BalanceAfter, second.BalanceAfter)

	bal, err := svc.Balance(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(4999), bal.Balance)

	_, count, err := svc.Transactions(ctx, "user-1", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count) // opening purchase + one debit
}

func TestDebitReplayAmountMismatch(t *testing.T) {
	svc := setupLedger(t)
	ctx := context.Background()

	_, err := svc.CreateAccount(ctx, "user-1", 10000)
	require.NoError(t, err)

	_, err = svc.Debit(ctx, "user-1", 5001, "trade debit", "trade-1")
	require.NoError(t, err)

	_, err = svc.Debit(ctx, "user-1", 4999, "trade debit", "trade-1")
	assert.ErrorIs(t, err, ErrDuplicateTransaction)

	bal, err := svc.Balance(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(4999), bal.Balance)
}

func TestCreditAndDebitShareIdempotencyKeySpace(t *testing.T) {
	svc := setupLedger(t)
	ctx := context.Background()

	_, err := svc.CreateAccount(ctx, "user-1", 10000)
	require.NoError(t, err)

	// A debit and a credit may share a relatedTradeID: the idempotency key
	// is (user, trade, type).
	_, err = svc.Debit(ctx, "user-1", 100, "fee", "trade-1")
	require.NoError(t, err)
	_, err = svc.Credit(ctx, "user-1", 100, "refund", "trade-1")
	require.NoError(t, err)

	bal, err := svc.Balance(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(10000), bal.Balance)
}

func TestInvalidAmounts(t *testing.T) {
	svc := setupLedger(t)
	ctx := context.Background()

	_, err := svc.CreateAccount(ctx, "user-1", 1000)
	require.NoError(t, err)

	_, err = svc.Debit(ctx, "user-1", 0, "r", "t")
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = svc.Credit(ctx, "user-1", -5, "r", "t")
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = svc.CreateAccount(ctx, "user-2", -1)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestDebitUnknownUser(t *testing.T) {
	svc := setupLedger(t)

	_, err := svc.Debit(context.Background(), "nobody", 100, "r", "t")
	assert.ErrorIs(t, err, ErrUserNotFound)

	_, err = svc.Balance(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestPurchaseOpensAccount(t *testing.T) {
	svc := setupLedger(t)
	ctx := context.Background()

	txn, err := svc.Purchase(ctx, "fresh-user", 500, "coin pack")
	require.NoError(t, err)
	assert.Equal(t, int64(500), txn.BalanceAfter)

	bal, err := svc.Balance(ctx, "fresh-user")
	require.NoError(t, err)
	assert.Equal(t, int64(500), bal.Balance)
	assert.Equal(t, int64(500), bal.TotalPurchased)
}

func TestTransactionsPaging(t *testing.T) {
	svc := setupLedger(t)
	ctx := context.Background()

	_, err := svc.CreateAccount(ctx, "user-1", 10000)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err = svc.Debit(ctx, "user-1", 10, "fee", fmt.Sprintf("trade-%d", i))
		require.NoError(t, err)
	}

	page, count, err := svc.Transactions(ctx, "user-1", 3, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(6), count)
	assert.Len(t, page, 3)

	rest, _, err := svc.Transactions(ctx, "user-1", 10, 3)
	require.NoError(t, err)
	assert.Len(t, rest, 3)
}

func TestConcurrentDebitsNeverOverspend(t *testing.T) {
	svc := setupLedger(t)
	ctx := context.Background()

	_, err := svc.CreateAccount(ctx, "user-1", 100)
	require.NoError(t, err)

	const workers = 20
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Debit(ctx, "user-1", 10, "race", fmt.Sprintf("trade-%d", i))
		}(i)
	}
	wg.Wait()

	var ok int
	for _, err := range errs {
		if err == nil {
			ok++
		} else {
			assert.ErrorIs(t, err, ErrInsufficientBalance)
		}
	}
	assert.Equal(t, 10, ok)

	bal, err := svc.Balance(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), bal.Balance)

	sum, err := svc.AuditBalance(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), sum)
}

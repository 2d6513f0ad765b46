// Package mocks はアプリケーション層のテストで使うリポジトリのモックを提供する。
package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"credits-ledger/internal/domain/account"
	"credits-ledger/internal/domain/compensation"
	"credits-ledger/internal/domain/redeem_code"
	"credits-ledger/internal/domain/transaction"
)

// AccountRepository モックアカウントリポジトリ
type AccountRepository struct {
	mock.Mock
}

func (m *AccountRepository) FindByUserID(ctx context.Context, userID string) (*account.Account, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*account.Account), args.Error(1)
}

func (m *AccountRepository) LockByUserID(ctx context.Context, userID string) (*account.Account, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*account.Account), args.Error(1)
}

func (m *AccountRepository) EnsureExists(ctx context.Context, userID string) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func (m *AccountRepository) UpdateCredits(ctx context.Context, userID string, credits int64) error {
	args := m.Called(ctx, userID, credits)
	return args.Error(0)
}

func (m *AccountRepository) DecrementIfSufficient(ctx context.Context, userID string, amount int64) (bool, error) {
	args := m.Called(ctx, userID, amount)
	return args.Bool(0), args.Error(1)
}

func (m *AccountRepository) ListUserIDs(ctx context.Context, afterUserID string, limit int) ([]string, error) {
	args := m.Called(ctx, afterUserID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

// TransactionRepository モック台帳リポジトリ
type TransactionRepository struct {
	mock.Mock
}

func (m *TransactionRepository) Save(ctx context.Context, tx *transaction.Transaction) error {
	args := m.Called(ctx, tx)
	return args.Error(0)
}

func (m *TransactionRepository) FindByTransactionID(ctx context.Context, transactionID string) (*transaction.Transaction, error) {
	args := m.Called(ctx, transactionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*transaction.Transaction), args.Error(1)
}

func (m *TransactionRepository) FindByIdempotencyKey(ctx context.Context, userID, refID string, action transaction.Action) (*transaction.Transaction, error) {
	args := m.Called(ctx, userID, refID, action)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*transaction.Transaction), args.Error(1)
}

func (m *TransactionRepository) SumAmountByUserID(ctx context.Context, userID string) (int64, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *TransactionRepository) FindByUserID(ctx context.Context, userID string, action transaction.Action, limit, offset int) ([]*transaction.Transaction, error) {
	args := m.Called(ctx, userID, action, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*transaction.Transaction), args.Error(1)
}

func (m *TransactionRepository) CountByUserID(ctx context.Context, userID string, action transaction.Action) (int64, error) {
	args := m.Called(ctx, userID, action)
	return args.Get(0).(int64), args.Error(1)
}

func (m *TransactionRepository) FindAfterID(ctx context.Context, afterID int64, createdBefore time.Time, limit int) ([]*transaction.Transaction, error) {
	args := m.Called(ctx, afterID, createdBefore, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*transaction.Transaction), args.Error(1)
}

// AtomicDebiter モックアトミック減算
type AtomicDebiter struct {
	mock.Mock
}

func (m *AtomicDebiter) TryAtomicDebit(ctx context.Context, req transaction.DebitRequest) (transaction.DebitResult, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(transaction.DebitResult), args.Error(1)
}

// RedeemCodeRepository モック引き換えコードリポジトリ
type RedeemCodeRepository struct {
	mock.Mock
}

func (m *RedeemCodeRepository) Save(ctx context.Context, code *redeem_code.RedeemCode) error {
	args := m.Called(ctx, code)
	return args.Error(0)
}

func (m *RedeemCodeRepository) FindByCode(ctx context.Context, code string) (*redeem_code.RedeemCode, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*redeem_code.RedeemCode), args.Error(1)
}

func (m *RedeemCodeRepository) LockByCode(ctx context.Context, code string) (*redeem_code.RedeemCode, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*redeem_code.RedeemCode), args.Error(1)
}

func (m *RedeemCodeRepository) Update(ctx context.Context, code *redeem_code.RedeemCode) error {
	args := m.Called(ctx, code)
	return args.Error(0)
}

func (m *RedeemCodeRepository) List(ctx context.Context, filter redeem_code.ListFilter, limit, offset int) ([]*redeem_code.RedeemCode, error) {
	args := m.Called(ctx, filter, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*redeem_code.RedeemCode), args.Error(1)
}

func (m *RedeemCodeRepository) Count(ctx context.Context, filter redeem_code.ListFilter) (int64, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).(int64), args.Error(1)
}

func (m *RedeemCodeRepository) Statistics(ctx context.Context) (*redeem_code.Statistics, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*redeem_code.Statistics), args.Error(1)
}

// CompensationRepository モック補償リポジトリ
type CompensationRepository struct {
	mock.Mock
}

func (m *CompensationRepository) Save(ctx context.Context, c *compensation.Compensation) error {
	args := m.Called(ctx, c)
	return args.Error(0)
}

func (m *CompensationRepository) FindByCompensationID(ctx context.Context, compensationID string) (*compensation.Compensation, error) {
	args := m.Called(ctx, compensationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*compensation.Compensation), args.Error(1)
}

func (m *CompensationRepository) FindPending(ctx context.Context, limit int) ([]*compensation.Compensation, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*compensation.Compensation), args.Error(1)
}

func (m *CompensationRepository) Update(ctx context.Context, c *compensation.Compensation) error {
	args := m.Called(ctx, c)
	return args.Error(0)
}

func (m *CompensationRepository) ListByStatus(ctx context.Context, status compensation.Status, limit, offset int) ([]*compensation.Compensation, error) {
	args := m.Called(ctx, status, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*compensation.Compensation), args.Error(1)
}

func (m *CompensationRepository) CountByStatus(ctx context.Context, status compensation.Status) (int64, error) {
	args := m.Called(ctx, status)
	return args.Get(0).(int64), args.Error(1)
}

// TransactionManager fnをそのまま実行するトランザクションマネージャー
// CommitErrors に値があれば、n回目の呼び出しでfnが成功した後にそのエラーを返す
type TransactionManager struct {
	mu           sync.Mutex
	CommitErrors []error
	Calls        int
}

func (m *TransactionManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	m.mu.Lock()
	call := m.Calls
	m.Calls++
	m.mu.Unlock()

	if err := fn(ctx); err != nil {
		return err
	}
	if call < len(m.CommitErrors) {
		return m.CommitErrors[call]
	}
	return nil
}

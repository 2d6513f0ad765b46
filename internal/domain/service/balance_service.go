package service

import (
	"context"
	"errors"
	"fmt"

	"credits-ledger/internal/domain/account"
	"credits-ledger/internal/domain/transaction"
)

// BalanceService 台帳と残高キャッシュを同時に更新するドメインサービス
// すべてのメソッドは TransactionManager.WithTransaction の中で呼び出すこと
type BalanceService struct {
	accountRepo     account.AccountRepository
	transactionRepo transaction.TransactionRepository
}

// NewBalanceService 新しいBalanceServiceを作成
func NewBalanceService(
	accountRepo account.AccountRepository,
	transactionRepo transaction.TransactionRepository,
) *BalanceService {
	return &BalanceService{
		accountRepo:     accountRepo,
		transactionRepo: transactionRepo,
	}
}

// LockedBalance ロック取得後の残高
type LockedBalance struct {
	UserID string
	Cached int64 // ロック時点のキャッシュ値
	Ledger int64 // 台帳合計（権威ある残高）
}

// Drift キャッシュと台帳の差分
func (b *LockedBalance) Drift() int64 {
	return b.Cached - b.Ledger
}

// Posting 台帳への記帳結果
type Posting struct {
	Transaction *transaction.Transaction
	Drift       int64 // 記帳前に修復したキャッシュの差分
}

// Balance 記帳後の残高
func (p *Posting) Balance() int64 {
	return p.Transaction.BalanceAfter()
}

// LockAndSync ユーザー行をロックし、台帳合計を読み、差分があればキャッシュを台帳合計に書き戻す
func (s *BalanceService) LockAndSync(ctx context.Context, userID string) (*LockedBalance, error) {
	locked, err := s.Lock(ctx, userID)
	if err != nil {
		return nil, err
	}
	if locked.Drift() != 0 {
		if err := s.accountRepo.UpdateCredits(ctx, userID, locked.Ledger); err != nil {
			return nil, fmt.Errorf("failed to repair cached balance: %w", err)
		}
	}
	return locked, nil
}

// Lock ユーザー行をロックし、キャッシュと台帳合計を返す（キャッシュは書き換えない）
func (s *BalanceService) Lock(ctx context.Context, userID string) (*LockedBalance, error) {
	acct, err := s.accountRepo.LockByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	ledger, err := s.transactionRepo.SumAmountByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &LockedBalance{
		UserID: userID,
		Cached: acct.Credits(),
		Ledger: ledger,
	}, nil
}

// Credit 加算行を記帳し、キャッシュを更新
func (s *BalanceService) Credit(
	ctx context.Context,
	userID string,
	amount int64,
	action transaction.Action,
	refID *string,
	description string,
) (*Posting, error) {
	if err := account.ValidateAmount(amount); err != nil {
		return nil, err
	}

	locked, err := s.Lock(ctx, userID)
	if err != nil {
		return nil, err
	}
	if locked.Ledger > account.MaxBalance-amount {
		return nil, account.ErrBalanceOutOfRange
	}

	newBalance := locked.Ledger + amount
	tx, err := transaction.NewCredit(userID, amount, action, refID, description, newBalance)
	if err != nil {
		return nil, err
	}
	if err := s.transactionRepo.Save(ctx, tx); err != nil {
		return nil, err
	}
	if err := s.accountRepo.UpdateCredits(ctx, userID, newBalance); err != nil {
		return nil, err
	}

	return &Posting{Transaction: tx, Drift: locked.Drift()}, nil
}

// Debit 条件付き更新による減算
// 台帳合計で残高を判定し、キャッシュは credits >= amount の条件付きUPDATEで減算する
func (s *BalanceService) Debit(ctx context.Context, req transaction.DebitRequest) (*Posting, error) {
	if err := account.ValidateAmount(req.Amount); err != nil {
		return nil, err
	}

	locked, err := s.LockAndSync(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if locked.Ledger < req.Amount {
		return nil, account.NewInsufficientCreditsError(locked.Ledger, req.Amount)
	}

	newBalance := locked.Ledger - req.Amount
	tx, err := transaction.NewTransaction(
		req.TransactionID,
		req.UserID,
		-req.Amount,
		req.Action,
		req.RefID,
		req.Description,
		newBalance,
	)
	if err != nil {
		return nil, err
	}
	if err := s.transactionRepo.Save(ctx, tx); err != nil {
		return nil, err
	}

	ok, err := s.accountRepo.DecrementIfSufficient(ctx, req.UserID, req.Amount)
	if err != nil {
		return nil, err
	}
	if !ok {
		acct, err := s.accountRepo.FindByUserID(ctx, req.UserID)
		if err != nil {
			if errors.Is(err, account.ErrAccountNotFound) {
				return nil, account.ErrAccountNotFound
			}
			return nil, err
		}
		return nil, account.NewInsufficientCreditsError(acct.Credits(), req.Amount)
	}

	return &Posting{Transaction: tx, Drift: locked.Drift()}, nil
}

package account

import (
	"regexp"
	"time"
)

const (
	// MaxAmount 1回の操作で扱える最大金額 (10兆)
	MaxAmount = 10_000_000_000_000
	// MaxBalance 残高の上限
	MaxBalance = 10_000_000_000_000
)

var userIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_\-\.\@]{1,255}$`)

// ValidateUserID ユーザーIDの形式を検証
func ValidateUserID(userID string) error {
	if !userIDRegex.MatchString(userID) {
		return ErrInvalidUserID
	}
	return nil
}

// ValidateAmount 操作金額を検証（正の整数のみ）
func ValidateAmount(amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if amount > MaxAmount {
		return ErrAmountTooLarge
	}
	return nil
}

// Account 残高キャッシュを持つユーザー行
// credits は台帳合計のミラーであり、真実は常に台帳側にある
type Account struct {
	userID    string
	credits   int64
	createdAt time.Time
	updatedAt time.Time
}

// NewAccount 新しいAccountエンティティを作成
func NewAccount(userID string, credits int64) (*Account, error) {
	if err := ValidateUserID(userID); err != nil {
		return nil, err
	}
	if credits < 0 || credits > MaxBalance {
		return nil, ErrBalanceOutOfRange
	}
	now := time.Now()
	return &Account{
		userID:    userID,
		credits:   credits,
		createdAt: now,
		updatedAt: now,
	}, nil
}

// UserID ユーザーIDを返す
func (a *Account) UserID() string {
	return a.userID
}

// Credits キャッシュ残高を返す
func (a *Account) Credits() int64 {
	return a.credits
}

// CreatedAt 作成日時を返す
func (a *Account) CreatedAt() time.Time {
	return a.createdAt
}

// UpdatedAt 更新日時を返す
func (a *Account) UpdatedAt() time.Time {
	return a.updatedAt
}

// Drift 台帳合計との差分（キャッシュ - 台帳）を返す
func (a *Account) Drift(ledgerBalance int64) int64 {
	return a.credits - ledgerBalance
}

// SyncTo キャッシュを台帳合計に合わせる。差分があった場合 true
func (a *Account) SyncTo(ledgerBalance int64) bool {
	if a.credits == ledgerBalance {
		return false
	}
	a.credits = ledgerBalance
	a.updatedAt = time.Now()
	return true
}

// Debit 残高を減らす
func (a *Account) Debit(amount int64) error {
	if err := ValidateAmount(amount); err != nil {
		return err
	}
	if a.credits < amount {
		return NewInsufficientCreditsError(a.credits, amount)
	}
	a.credits -= amount
	a.updatedAt = time.Now()
	return nil
}

// Credit 残高を増やす
func (a *Account) Credit(amount int64) error {
	if err := ValidateAmount(amount); err != nil {
		return err
	}
	if a.credits > MaxBalance-amount {
		return ErrBalanceOutOfRange
	}
	a.credits += amount
	a.updatedAt = time.Now()
	return nil
}

// SetTimestamps 日時を設定（リポジトリから読み込んだ際に使用）
func (a *Account) SetTimestamps(createdAt, updatedAt time.Time) {
	a.createdAt = createdAt
	a.updatedAt = updatedAt
}

// MustNewAccount テスト用ヘルパー: NewAccountを呼び出し、エラーが発生した場合はpanicする
func MustNewAccount(userID string, credits int64) *Account {
	a, err := NewAccount(userID, credits)
	if err != nil {
		panic(err)
	}
	return a
}

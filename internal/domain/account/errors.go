package account

import (
	"errors"
	"fmt"
)

var (
	// ErrAccountNotFound アカウント（残高キャッシュ行）が見つからないエラー
	ErrAccountNotFound = errors.New("account not found")
	// ErrInvalidUserID ユーザーIDが無効
	ErrInvalidUserID = errors.New("invalid user id")
	// ErrInvalidAmount 無効な金額エラー
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrAmountTooLarge 金額が大きすぎる
	ErrAmountTooLarge = errors.New("amount too large")
	// ErrBalanceOutOfRange 残高が範囲外
	ErrBalanceOutOfRange = errors.New("balance out of range")
	// ErrInsufficientCredits 残高不足エラー（errors.Is 判定用）
	ErrInsufficientCredits = errors.New("insufficient credits")
)

// InsufficientCreditsError 残高不足エラー（観測残高と必要額を保持）
type InsufficientCreditsError struct {
	Balance  int64
	Required int64
}

// NewInsufficientCreditsError 新しいInsufficientCreditsErrorを作成
func NewInsufficientCreditsError(balance, required int64) *InsufficientCreditsError {
	return &InsufficientCreditsError{Balance: balance, Required: required}
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: balance=%d, required=%d", e.Balance, e.Required)
}

// Is ErrInsufficientCredits と一致させる
func (e *InsufficientCreditsError) Is(target error) bool {
	return target == ErrInsufficientCredits
}

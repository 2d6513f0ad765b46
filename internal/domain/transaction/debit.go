package transaction

import (
	"context"
	"fmt"
)

// DebitOutcome TryAtomicDebitの結果種別
type DebitOutcome int

const (
	// DebitApplied 減算が適用された
	DebitApplied DebitOutcome = iota + 1
	// DebitInsufficientFunds 残高不足
	DebitInsufficientFunds
	// DebitPrimitiveUnavailable ストアドプロシージャが利用できない
	DebitPrimitiveUnavailable
)

func (o DebitOutcome) String() string {
	switch o {
	case DebitApplied:
		return "applied"
	case DebitInsufficientFunds:
		return "insufficient"
	case DebitPrimitiveUnavailable:
		return "primitive_unavailable"
	default:
		return fmt.Sprintf("unknown(%d)", int(o))
	}
}

// DebitResult TryAtomicDebitのタグ付き結果
// Balance は Applied の場合は減算後残高、InsufficientFunds の場合は観測残高
type DebitResult struct {
	Outcome       DebitOutcome
	Balance       int64
	TransactionID string
}

// Applied 減算適用の結果を作成
func Applied(newBalance int64, transactionID string) DebitResult {
	return DebitResult{Outcome: DebitApplied, Balance: newBalance, TransactionID: transactionID}
}

// InsufficientFunds 残高不足の結果を作成
func InsufficientFunds(balance int64) DebitResult {
	return DebitResult{Outcome: DebitInsufficientFunds, Balance: balance}
}

// PrimitiveUnavailable プロシージャ未定義の結果を作成
func PrimitiveUnavailable() DebitResult {
	return DebitResult{Outcome: DebitPrimitiveUnavailable}
}

// DebitRequest アトミック減算の要求
type DebitRequest struct {
	TransactionID string
	UserID        string
	Amount        int64
	Action        Action
	RefID         *string
	Description   string
}

// AtomicDebiter サーバーサイドでの残高確認と減算を1往復で行う
type AtomicDebiter interface {
	// TryAtomicDebit 減算を試みる。ユーザーが存在しない場合は account.ErrAccountNotFound を返す
	TryAtomicDebit(ctx context.Context, req DebitRequest) (DebitResult, error)
}

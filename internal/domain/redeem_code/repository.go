package redeem_code

import (
	"context"
)

// ListFilter 一覧取得の絞り込み条件（nilは条件なし）
type ListFilter struct {
	Used     *bool
	Disabled *bool
}

// Statistics コードの集計
type Statistics struct {
	Total       int64
	Used        int64
	Unused      int64
	Disabled    int64
	TotalAmount int64
	UsedAmount  int64
}

// RedeemCodeRepository 引き換えコードリポジトリインターフェース
type RedeemCodeRepository interface {
	// Save 新しいコードを保存。コードが重複した場合は ErrCodeAlreadyExists を返す
	Save(ctx context.Context, code *RedeemCode) error

	// FindByCode コードで取得（ロックなし）
	FindByCode(ctx context.Context, code string) (*RedeemCode, error)

	// LockByCode 行ロック（SELECT ... FOR UPDATE）を取得してコードを返す
	LockByCode(ctx context.Context, code string) (*RedeemCode, error)

	// Update 使用・無効化の状態を更新
	Update(ctx context.Context, code *RedeemCode) error

	// List 作成日時の新しい順に取得
	List(ctx context.Context, filter ListFilter, limit, offset int) ([]*RedeemCode, error)

	// Count 条件に一致する件数を返す
	Count(ctx context.Context, filter ListFilter) (int64, error)

	// Statistics 全体の集計を返す
	Statistics(ctx context.Context) (*Statistics, error)
}

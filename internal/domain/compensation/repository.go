package compensation

import (
	"context"
)

// CompensationRepository 補填リポジトリインターフェース
type CompensationRepository interface {
	// Save 補填を保存
	Save(ctx context.Context, compensation *Compensation) error

	// FindByCompensationID 補填IDで取得
	FindByCompensationID(ctx context.Context, compensationID string) (*Compensation, error)

	// FindPending 未処理の補填を古い順に最大limit件取得
	FindPending(ctx context.Context, limit int) ([]*Compensation, error)

	// Update ステータス・リトライ回数・エラーを更新
	Update(ctx context.Context, compensation *Compensation) error

	// ListByStatus ステータスで一覧取得（新しい順）
	ListByStatus(ctx context.Context, status Status, limit, offset int) ([]*Compensation, error)

	// CountByStatus ステータスごとの件数を返す
	CountByStatus(ctx context.Context, status Status) (int64, error)
}

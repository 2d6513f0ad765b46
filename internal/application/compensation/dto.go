package compensation

import (
	"time"

	"credits-ledger/internal/domain/compensation"
)

// CompensationView 補填の表示用データ
type CompensationView struct {
	CompensationID string
	UserID         string
	Amount         int64
	Reason         string
	RefID          string
	Status         string
	RetryCount     int
	LastError      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func newCompensationView(c *compensation.Compensation) *CompensationView {
	return &CompensationView{
		CompensationID: c.CompensationID(),
		UserID:         c.UserID(),
		Amount:         c.Amount(),
		Reason:         c.Reason(),
		RefID:          c.RefID(),
		Status:         c.Status().String(),
		RetryCount:     c.RetryCount(),
		LastError:      c.LastError(),
		CreatedAt:      c.CreatedAt(),
		UpdatedAt:      c.UpdatedAt(),
	}
}

// RecordRequest 補填の登録リクエスト
type RecordRequest struct {
	UserID string
	Amount int64
	Reason string
	RefID  string
	Cause  error // 返金に失敗した原因
}

// ProcessResult 補填処理の結果
type ProcessResult struct {
	Processed int
	Completed int
	Retried   int
	Failed    int
}

// ListRequest 補填一覧取得リクエスト
type ListRequest struct {
	Status   string
	Page     int
	PageSize int
}

// ListResponse 補填一覧取得レスポンス
type ListResponse struct {
	Compensations []*CompensationView
	Total         int64
	Page          int
	PageSize      int
}

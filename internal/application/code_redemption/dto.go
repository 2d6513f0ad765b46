package code_redemption

import (
	"time"

	"credits-ledger/internal/domain/redeem_code"
)

// CodeView 引き換えコードの表示用データ
type CodeView struct {
	Code       string
	Amount     int64
	Status     string
	Used       bool
	UsedBy     *string
	UsedAt     *time.Time
	ExpiresAt  *time.Time
	Disabled   bool
	DisabledAt *time.Time
	DisabledBy *string
	Note       string
	CreatedAt  time.Time
}

func newCodeView(rc *redeem_code.RedeemCode, now time.Time) *CodeView {
	return &CodeView{
		Code:       rc.Code(),
		Amount:     rc.Amount(),
		Status:     rc.Status(now).String(),
		Used:       rc.Used(),
		UsedBy:     rc.UsedBy(),
		UsedAt:     rc.UsedAt(),
		ExpiresAt:  rc.ExpiresAt(),
		Disabled:   rc.Disabled(),
		DisabledAt: rc.DisabledAt(),
		DisabledBy: rc.DisabledBy(),
		Note:       rc.Note(),
		CreatedAt:  rc.CreatedAt(),
	}
}

// GenerateCodesRequest コード一括生成リクエスト
type GenerateCodesRequest struct {
	Amount    int64
	Count     int
	ExpiresAt *time.Time
	Note      string
}

// GenerateCodesResponse コード一括生成レスポンス
type GenerateCodesResponse struct {
	Codes []*CodeView
}

// ValidateCodeRequest コード検証リクエスト
type ValidateCodeRequest struct {
	Code string
}

// ValidateCodeResponse コード検証レスポンス
type ValidateCodeResponse struct {
	Code      string
	Amount    int64
	ExpiresAt *time.Time
}

// RedeemCodeRequest コード引き換えリクエスト
type RedeemCodeRequest struct {
	Code   string
	UserID string
}

// RedeemCodeResponse コード引き換えレスポンス
type RedeemCodeResponse struct {
	Code          string
	UserID        string
	Amount        int64
	Balance       int64
	TransactionID string
}

// DisableCodeRequest コード無効化リクエスト
type DisableCodeRequest struct {
	Code        string
	AdminUserID string
}

// DisableCodeResponse コード無効化レスポンス
type DisableCodeResponse struct {
	Code *CodeView
}

// ListCodesRequest コード一覧取得リクエスト
type ListCodesRequest struct {
	Used     *bool // optional
	Disabled *bool // optional
	Page     int
	PageSize int
}

// ListCodesResponse コード一覧取得レスポンス
type ListCodesResponse struct {
	Codes    []*CodeView
	Total    int64
	Page     int
	PageSize int
}

// StatisticsResponse コード集計レスポンス
type StatisticsResponse struct {
	Total       int64
	Used        int64
	Unused      int64
	Disabled    int64
	TotalAmount int64
	UsedAmount  int64
}

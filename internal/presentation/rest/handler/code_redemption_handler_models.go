package handler

// CodeItem 引き換えコード
type CodeItem struct {
	Code       string  `json:"code" example:"ABCD2345"`
	Amount     string  `json:"amount" example:"50"`
	Status     string  `json:"status" example:"active" enums:"active,used,expired,disabled"`
	Used       bool    `json:"used"`
	UsedBy     *string `json:"used_by,omitempty"`
	UsedAt     *string `json:"used_at,omitempty"`
	ExpiresAt  *string `json:"expires_at,omitempty" example:"2026-12-31T23:59:59Z"`
	Disabled   bool    `json:"disabled"`
	DisabledAt *string `json:"disabled_at,omitempty"`
	DisabledBy *string `json:"disabled_by,omitempty"`
	Note       string  `json:"note,omitempty"`
	CreatedAt  string  `json:"created_at" example:"2026-01-01T00:00:00Z"`
}

// GenerateCodesRequest コード一括生成リクエスト
type GenerateCodesRequest struct {
	Amount    string  `json:"amount" example:"50"`
	Count     int     `json:"count" example:"10"`
	ExpiresAt *string `json:"expires_at,omitempty" example:"2026-12-31T23:59:59Z"`
	Note      string  `json:"note,omitempty" example:"launch campaign"`
}

// GenerateCodesResponse コード一括生成レスポンス
type GenerateCodesResponse struct {
	Codes []CodeItem `json:"codes"`
}

// CodeRequest コードのみを含むリクエスト
type CodeRequest struct {
	Code string `json:"code" example:"ABCD2345"`
}

// ValidateCodeResponse コード検証レスポンス
type ValidateCodeResponse struct {
	Code      string  `json:"code" example:"ABCD2345"`
	Amount    string  `json:"amount" example:"50"`
	ExpiresAt *string `json:"expires_at,omitempty"`
}

// RedeemCodeRequest コード引き換えリクエスト
// user_id を省略した場合はトークンのユーザー
type RedeemCodeRequest struct {
	Code   string `json:"code" example:"ABCD2345"`
	UserID string `json:"user_id,omitempty" example:"user123"`
}

// RedeemCodeResponse コード引き換えレスポンス
type RedeemCodeResponse struct {
	Code          string `json:"code" example:"ABCD2345"`
	UserID        string `json:"user_id" example:"user123"`
	Amount        string `json:"amount" example:"50"`
	BalanceAfter  string `json:"balance_after" example:"60"`
	TransactionID string `json:"transaction_id"`
}

// DisableCodeRequest コード無効化リクエスト
type DisableCodeRequest struct {
	AdminUserID string `json:"admin_user_id,omitempty" example:"admin"`
}

// ListCodesResponse コード一覧レスポンス
type ListCodesResponse struct {
	Codes    []CodeItem `json:"codes"`
	Total    int64      `json:"total" example:"120"`
	Page     int        `json:"page" example:"1"`
	PageSize int        `json:"page_size" example:"50"`
}

// CodeStatisticsResponse コード集計レスポンス
type CodeStatisticsResponse struct {
	Total       int64  `json:"total"`
	Used        int64  `json:"used"`
	Unused      int64  `json:"unused"`
	Disabled    int64  `json:"disabled"`
	TotalAmount string `json:"total_amount"`
	UsedAmount  string `json:"used_amount"`
}

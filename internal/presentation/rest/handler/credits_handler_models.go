package handler

// BalanceResponse 残高レスポンス
type BalanceResponse struct {
	UserID  string `json:"user_id" example:"user123"`
	Balance string `json:"balance" example:"10"`
}

// ConsumeRequest クレジット消費リクエスト
type ConsumeRequest struct {
	Amount      string  `json:"amount" example:"6"`
	Action      string  `json:"action" example:"ai_generate_text"`
	RefID       *string `json:"ref_id,omitempty" example:"job_123"`
	Description string  `json:"description,omitempty"`
}

// LedgerEntryResponse 記帳結果レスポンス（消費・返金共通）
type LedgerEntryResponse struct {
	UserID        string `json:"user_id" example:"user123"`
	TransactionID string `json:"transaction_id" example:"txn_1b4e28ba-2fa1-11d2-883f-0016d3cca427"`
	BalanceAfter  string `json:"balance_after" example:"4"`
	Replayed      bool   `json:"replayed"`
}

// RefundRequest 返金リクエスト
type RefundRequest struct {
	Amount string  `json:"amount" example:"6"`
	Reason string  `json:"reason" example:"generation failed"`
	RefID  *string `json:"ref_id,omitempty" example:"job_123"`
}

// RecomputeBalanceResponse 残高照合レスポンス
type RecomputeBalanceResponse struct {
	UserID   string `json:"user_id" example:"user123"`
	Cached   string `json:"cached" example:"12"`
	Ledger   string `json:"ledger" example:"10"`
	Drift    string `json:"drift" example:"2"`
	Repaired bool   `json:"repaired"`
}

// ReconcileAllRequest 全ユーザー照合リクエスト
type ReconcileAllRequest struct {
	Repair    bool `json:"repair"`
	BatchSize int  `json:"batch_size,omitempty" example:"100"`
}

// ReconcileAllResponse 全ユーザー照合レスポンス
type ReconcileAllResponse struct {
	Scanned  int                        `json:"scanned"`
	Drifted  int                        `json:"drifted"`
	Repaired int                        `json:"repaired"`
	Failed   int                        `json:"failed"`
	Drifts   []RecomputeBalanceResponse `json:"drifts"`
}

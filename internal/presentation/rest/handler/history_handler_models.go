package handler

// TransactionItem 台帳行
type TransactionItem struct {
	TransactionID string  `json:"transaction_id" example:"txn_1b4e28ba-2fa1-11d2-883f-0016d3cca427"`
	Amount        string  `json:"amount" example:"-6"`
	Action        string  `json:"action" example:"ai_generate_text"`
	RefID         *string `json:"ref_id,omitempty" example:"job_123"`
	Description   string  `json:"description,omitempty"`
	BalanceAfter  string  `json:"balance_after" example:"4"`
	CreatedAt     string  `json:"created_at" example:"2026-01-01T12:00:00Z"`
}

// TransactionHistoryResponse 台帳履歴レスポンス
type TransactionHistoryResponse struct {
	Transactions []TransactionItem `json:"transactions"`
	Total        int64             `json:"total" example:"1"`
	Limit        int               `json:"limit" example:"50"`
	Offset       int               `json:"offset" example:"0"`
}

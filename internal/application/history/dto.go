package history

import "time"

// GetTransactionHistoryRequest 台帳履歴取得リクエスト
type GetTransactionHistoryRequest struct {
	UserID string
	Limit  int
	Offset int
	Action string // optional: "ai_generate_text", "refund", "redeem_code" など
}

// TransactionView 台帳行の表示用データ
type TransactionView struct {
	TransactionID string
	UserID        string
	Amount        int64
	Action        string
	RefID         *string
	Description   string
	BalanceAfter  int64
	CreatedAt     time.Time
}

// GetTransactionHistoryResponse 台帳履歴取得レスポンス
type GetTransactionHistoryResponse struct {
	Transactions []*TransactionView
	Total        int64
	Limit        int
	Offset       int
}

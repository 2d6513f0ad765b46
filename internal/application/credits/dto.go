package credits

// ConsumeRequest クレジット消費リクエスト
type ConsumeRequest struct {
	UserID      string
	Amount      int64
	Action      string
	RefID       *string // 冪等キーの一部（任意）
	Description string
}

// ConsumeResponse クレジット消費レスポンス
type ConsumeResponse struct {
	UserID        string
	Balance       int64
	TransactionID string
	Replayed      bool // 既存の記帳結果を返した場合 true
}

// RefundRequest 返金リクエスト
type RefundRequest struct {
	UserID string
	Amount int64
	Reason string
	RefID  *string // 消費時の参照ID（ジョブIDなど）
}

// RefundResponse 返金レスポンス
type RefundResponse struct {
	UserID        string
	Balance       int64
	TransactionID string
	Replayed      bool
}

// GetBalanceRequest 残高取得リクエスト
type GetBalanceRequest struct {
	UserID string
}

// GetBalanceResponse 残高取得レスポンス
type GetBalanceResponse struct {
	UserID  string
	Balance int64
}

// RecomputeBalanceRequest 残高再計算リクエスト
type RecomputeBalanceRequest struct {
	UserID string
	Repair bool
}

// RecomputeBalanceResponse 残高再計算レスポンス
type RecomputeBalanceResponse struct {
	UserID   string
	Cached   int64
	Ledger   int64
	Drift    int64
	Repaired bool
}

// ReconcileAllRequest 全ユーザー照合リクエスト
type ReconcileAllRequest struct {
	Repair    bool
	BatchSize int
}

// ReconcileAllResponse 全ユーザー照合の集計
type ReconcileAllResponse struct {
	Scanned  int
	Drifted  int
	Repaired int
	Failed   int
	Drifts   []*RecomputeBalanceResponse
}

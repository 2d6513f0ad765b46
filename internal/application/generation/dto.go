package generation

// GenerateRequest 有償生成リクエスト
type GenerateRequest struct {
	UserID string
	Kind   string
	Prompt string
	Cost   int64
	JobID  string // 省略時は job_<uuid> を採番
}

// GenerateResponse 有償生成レスポンス
type GenerateResponse struct {
	JobID         string
	Kind          string
	Output        string
	Charged       int64
	Balance       int64
	TransactionID string
	Replayed      bool
}

package handler

// GenerateRequest 有償生成リクエスト
type GenerateRequest struct {
	Kind   string `json:"kind" example:"text" enums:"text,image,video"`
	Prompt string `json:"prompt" example:"a haiku about ledgers"`
	Cost   string `json:"cost" example:"6"`
	JobID  string `json:"job_id,omitempty" example:"job_123"`
}

// GenerateResponse 有償生成レスポンス
type GenerateResponse struct {
	JobID         string `json:"job_id" example:"job_123"`
	Kind          string `json:"kind" example:"text"`
	Output        string `json:"output"`
	Charged       string `json:"charged" example:"6"`
	BalanceAfter  string `json:"balance_after" example:"4"`
	TransactionID string `json:"transaction_id"`
}

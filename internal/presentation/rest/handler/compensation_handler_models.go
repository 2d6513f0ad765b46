package handler

// CompensationItem 補填
type CompensationItem struct {
	CompensationID string `json:"compensation_id" example:"cmp_1b4e28ba-2fa1-11d2-883f-0016d3cca427"`
	UserID         string `json:"user_id" example:"user123"`
	Amount         string `json:"amount" example:"6"`
	Reason         string `json:"reason"`
	RefID          string `json:"ref_id" example:"job_123"`
	Status         string `json:"status" example:"pending" enums:"pending,completed,failed"`
	RetryCount     int    `json:"retry_count"`
	LastError      string `json:"last_error,omitempty"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at"`
}

// ListCompensationsResponse 補填一覧レスポンス
type ListCompensationsResponse struct {
	Compensations []CompensationItem `json:"compensations"`
	Total         int64              `json:"total"`
	Page          int                `json:"page"`
	PageSize      int                `json:"page_size"`
}

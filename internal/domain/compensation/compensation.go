package compensation

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"credits-ledger/internal/domain/account"
	"credits-ledger/internal/domain/transaction"
)

// MaxLastErrorLength 保存するエラーメッセージの最大長
const MaxLastErrorLength = 1000

// Status 補填のステータス
type Status string

const (
	StatusPending   Status = "pending"   // 未処理
	StatusCompleted Status = "completed" // 返金済み
	StatusFailed    Status = "failed"    // リトライ上限到達（手動対応）
)

// NewStatus 新しいStatusを作成
func NewStatus(s string) (Status, error) {
	switch s {
	case "pending", "completed", "failed":
		return Status(s), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrInvalidStatus, s)
	}
}

// String 文字列表現を返す
func (s Status) String() string {
	return string(s)
}

// Compensation 返金に失敗した補填の記録
// refID は元の有償ジョブIDで、返金の冪等キーとして使われる
type Compensation struct {
	compensationID string
	userID         string
	amount         int64
	reason         string
	refID          string
	status         Status
	retryCount     int
	lastError      string
	createdAt      time.Time
	updatedAt      time.Time
}

// NewCompensation 新しいCompensationエンティティを作成
func NewCompensation(userID string, amount int64, reason, refID, lastError string) (*Compensation, error) {
	if err := account.ValidateUserID(userID); err != nil {
		return nil, err
	}
	if err := account.ValidateAmount(amount); err != nil {
		return nil, err
	}
	if err := transaction.ValidateRefID(refID); err != nil {
		return nil, err
	}

	now := time.Now()
	return &Compensation{
		compensationID: "cmp_" + uuid.New().String(),
		userID:         userID,
		amount:         amount,
		reason:         reason,
		refID:          refID,
		status:         StatusPending,
		lastError:      truncate(lastError),
		createdAt:      now,
		updatedAt:      now,
	}, nil
}

// Reconstruct リポジトリから読み込んだ値でCompensationを復元
func Reconstruct(
	compensationID string,
	userID string,
	amount int64,
	reason string,
	refID string,
	status Status,
	retryCount int,
	lastError string,
	createdAt time.Time,
	updatedAt time.Time,
) *Compensation {
	return &Compensation{
		compensationID: compensationID,
		userID:         userID,
		amount:         amount,
		reason:         reason,
		refID:          refID,
		status:         status,
		retryCount:     retryCount,
		lastError:      lastError,
		createdAt:      createdAt,
		updatedAt:      updatedAt,
	}
}

// CompensationID 補填IDを返す
func (c *Compensation) CompensationID() string {
	return c.compensationID
}

// UserID ユーザーIDを返す
func (c *Compensation) UserID() string {
	return c.userID
}

// Amount 返金額を返す
func (c *Compensation) Amount() int64 {
	return c.amount
}

// Reason 理由を返す
func (c *Compensation) Reason() string {
	return c.reason
}

// RefID 参照IDを返す
func (c *Compensation) RefID() string {
	return c.refID
}

// Status ステータスを返す
func (c *Compensation) Status() Status {
	return c.status
}

// RetryCount リトライ回数を返す
func (c *Compensation) RetryCount() int {
	return c.retryCount
}

// LastError 最後のエラーを返す
func (c *Compensation) LastError() string {
	return c.lastError
}

// CreatedAt 作成日時を返す
func (c *Compensation) CreatedAt() time.Time {
	return c.createdAt
}

// UpdatedAt 更新日時を返す
func (c *Compensation) UpdatedAt() time.Time {
	return c.updatedAt
}

// MarkCompleted 返金済みにする
func (c *Compensation) MarkCompleted() error {
	if c.status != StatusPending {
		return ErrCompensationAlreadyProcessed
	}
	c.status = StatusCompleted
	c.lastError = ""
	c.updatedAt = time.Now()
	return nil
}

// RecordFailure 失敗を記録する。リトライ上限に達した場合は failed に遷移して true を返す
func (c *Compensation) RecordFailure(cause error, maxRetries int) (bool, error) {
	if c.status != StatusPending {
		return false, ErrCompensationAlreadyProcessed
	}
	c.retryCount++
	if cause != nil {
		c.lastError = truncate(cause.Error())
	}
	c.updatedAt = time.Now()
	if c.retryCount >= maxRetries {
		c.status = StatusFailed
		return true, nil
	}
	return false, nil
}

func truncate(s string) string {
	if len(s) > MaxLastErrorLength {
		return s[:MaxLastErrorLength]
	}
	return s
}

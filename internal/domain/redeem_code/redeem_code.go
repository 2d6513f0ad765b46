package redeem_code

import (
	"time"

	"credits-ledger/internal/domain/account"
)

const (
	// MaxGenerateCount 一度に生成できる最大数
	MaxGenerateCount = 100
	// MaxNoteLength メモの最大長
	MaxNoteLength = 255
	// DefaultPageSize 一覧取得のデフォルト件数
	DefaultPageSize = 50
	// MaxPageSize 一覧取得の最大件数
	MaxPageSize = 100
)

// RedeemCode 引き換えコードエンティティ
type RedeemCode struct {
	code       string
	amount     int64
	used       bool
	usedBy     *string
	usedAt     *time.Time
	expiresAt  *time.Time
	disabled   bool
	disabledAt *time.Time
	disabledBy *string
	note       string
	createdAt  time.Time
}

// NewRedeemCode 新しいRedeemCodeエンティティを作成
func NewRedeemCode(code string, amount int64, expiresAt *time.Time, note string) (*RedeemCode, error) {
	if err := ValidateCode(code); err != nil {
		return nil, err
	}
	if err := account.ValidateAmount(amount); err != nil {
		return nil, err
	}
	if len(note) > MaxNoteLength {
		return nil, ErrNoteTooLong
	}

	return &RedeemCode{
		code:      code,
		amount:    amount,
		expiresAt: expiresAt,
		note:      note,
		createdAt: time.Now(),
	}, nil
}

// Code コードを返す
func (rc *RedeemCode) Code() string {
	return rc.code
}

// Amount 金額を返す
func (rc *RedeemCode) Amount() int64 {
	return rc.amount
}

// Used 使用済みかどうかを返す
func (rc *RedeemCode) Used() bool {
	return rc.used
}

// UsedBy 使用したユーザーIDを返す
func (rc *RedeemCode) UsedBy() *string {
	return rc.usedBy
}

// UsedAt 使用日時を返す
func (rc *RedeemCode) UsedAt() *time.Time {
	return rc.usedAt
}

// ExpiresAt 有効期限を返す（nilは無期限）
func (rc *RedeemCode) ExpiresAt() *time.Time {
	return rc.expiresAt
}

// Disabled 無効化されているかどうかを返す
func (rc *RedeemCode) Disabled() bool {
	return rc.disabled
}

// DisabledAt 無効化日時を返す
func (rc *RedeemCode) DisabledAt() *time.Time {
	return rc.disabledAt
}

// DisabledBy 無効化した管理者IDを返す
func (rc *RedeemCode) DisabledBy() *string {
	return rc.disabledBy
}

// Note メモを返す
func (rc *RedeemCode) Note() string {
	return rc.note
}

// CreatedAt 作成日時を返す
func (rc *RedeemCode) CreatedAt() time.Time {
	return rc.createdAt
}

// IsExpired now時点で期限切れかどうかを返す
func (rc *RedeemCode) IsExpired(now time.Time) bool {
	return rc.expiresAt != nil && !now.Before(*rc.expiresAt)
}

// Status now時点のステータスを返す
func (rc *RedeemCode) Status(now time.Time) CodeStatus {
	switch {
	case rc.used:
		return CodeStatusUsed
	case rc.disabled:
		return CodeStatusDisabled
	case rc.IsExpired(now):
		return CodeStatusExpired
	default:
		return CodeStatusActive
	}
}

// CheckRedeemable 引き換え可能かどうかを検証
func (rc *RedeemCode) CheckRedeemable(now time.Time) error {
	switch rc.Status(now) {
	case CodeStatusUsed:
		return ErrCodeAlreadyUsed
	case CodeStatusDisabled:
		return ErrCodeDisabled
	case CodeStatusExpired:
		return ErrCodeExpired
	default:
		return nil
	}
}

// MarkUsed 使用済みにする
func (rc *RedeemCode) MarkUsed(userID string, now time.Time) error {
	if err := rc.CheckRedeemable(now); err != nil {
		return err
	}
	rc.used = true
	rc.usedBy = &userID
	rc.usedAt = &now
	return nil
}

// Disable コードを無効化
func (rc *RedeemCode) Disable(adminUserID string, now time.Time) error {
	if rc.used {
		return ErrCodeAlreadyUsed
	}
	if rc.disabled {
		return ErrCodeDisabled
	}
	rc.disabled = true
	rc.disabledAt = &now
	rc.disabledBy = &adminUserID
	return nil
}

// SetUsage 使用情報を設定（リポジトリから読み込んだ際に使用）
func (rc *RedeemCode) SetUsage(used bool, usedBy *string, usedAt *time.Time) {
	rc.used = used
	rc.usedBy = usedBy
	rc.usedAt = usedAt
}

// SetDisabled 無効化情報を設定（リポジトリから読み込んだ際に使用）
func (rc *RedeemCode) SetDisabled(disabled bool, disabledAt *time.Time, disabledBy *string) {
	rc.disabled = disabled
	rc.disabledAt = disabledAt
	rc.disabledBy = disabledBy
}

// SetCreatedAt 作成日時を設定（リポジトリから読み込んだ際に使用）
func (rc *RedeemCode) SetCreatedAt(createdAt time.Time) {
	rc.createdAt = createdAt
}

// MustNewRedeemCode テスト用ヘルパー: NewRedeemCodeを呼び出し、エラーが発生した場合はpanicする
func MustNewRedeemCode(code string, amount int64, expiresAt *time.Time, note string) *RedeemCode {
	rc, err := NewRedeemCode(code, amount, expiresAt, note)
	if err != nil {
		panic(err)
	}
	return rc
}

package redeem_code

import (
	"fmt"
)

// CodeStatus コードステータスを表す値オブジェクト
// expired は永続化されず、有効期限から導出される
type CodeStatus string

const (
	CodeStatusActive   CodeStatus = "active"   // 有効
	CodeStatusUsed     CodeStatus = "used"     // 使用済み（終端）
	CodeStatusDisabled CodeStatus = "disabled" // 無効化（終端）
	CodeStatusExpired  CodeStatus = "expired"  // 期限切れ
)

// NewCodeStatus 新しいCodeStatusを作成
func NewCodeStatus(s string) (CodeStatus, error) {
	switch s {
	case "active", "used", "disabled", "expired":
		return CodeStatus(s), nil
	default:
		return "", fmt.Errorf("invalid code status: %s", s)
	}
}

// String 文字列表現を返す
func (cs CodeStatus) String() string {
	return string(cs)
}

// Valid 有効なコードステータスかどうかを返す
func (cs CodeStatus) Valid() bool {
	switch cs {
	case CodeStatusActive, CodeStatusUsed, CodeStatusDisabled, CodeStatusExpired:
		return true
	default:
		return false
	}
}

// IsTerminal 終端状態かどうかを返す
func (cs CodeStatus) IsTerminal() bool {
	return cs == CodeStatusUsed || cs == CodeStatusDisabled
}

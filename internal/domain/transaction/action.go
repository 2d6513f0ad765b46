package transaction

import (
	"fmt"
	"regexp"
)

// Action 台帳行の操作タグを表す値オブジェクト
type Action string

const (
	ActionRefund          Action = "refund"           // 返金（補填）
	ActionRedeemCode      Action = "redeem_code"      // 引き換えコードによるチャージ
	ActionAIGenerateText  Action = "ai_generate_text" // AIテキスト生成
	ActionAIGenerateImage Action = "ai_generate_image"
	ActionAIGenerateVideo Action = "ai_generate_video"
)

var actionRegex = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)

// NewAction 新しいActionを作成
// 呼び出し側が任意の有償アクション名を渡せるため、形式のみを検証する
func NewAction(s string) (Action, error) {
	if !actionRegex.MatchString(s) {
		return "", fmt.Errorf("%w: %q", ErrInvalidAction, s)
	}
	return Action(s), nil
}

// String 文字列表現を返す
func (a Action) String() string {
	return string(a)
}

// Valid 有効なアクションかどうかを返す
func (a Action) Valid() bool {
	return actionRegex.MatchString(string(a))
}

// IsCredit 残高を増やす操作かどうかを返す
func (a Action) IsCredit() bool {
	return a == ActionRefund || a == ActionRedeemCode
}

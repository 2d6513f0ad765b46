package transaction

import (
	"credits-ledger/internal/domain/account"
	"regexp"
	"time"

	"github.com/google/uuid"
)

const (
	// MaxRefIDLength 参照IDの最大長
	MaxRefIDLength = 128
	// MaxDescriptionLength 説明の最大長
	MaxDescriptionLength = 255
)

var (
	idRegex    = regexp.MustCompile(`^[a-zA-Z0-9_\-\.\@]{1,255}$`)
	refIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_\-\.\@:]{1,128}$`)
)

// NewTransactionID 新しいトランザクションIDを生成 (txn_<uuid>)
func NewTransactionID() string {
	return "txn_" + uuid.New().String()
}

// ValidateRefID 参照IDの形式を検証
func ValidateRefID(refID string) error {
	if !refIDRegex.MatchString(refID) {
		return ErrInvalidRefID
	}
	return nil
}

// Transaction 台帳（credit_transactions）の1行
// 追記のみで、作成後に変更されることはない
type Transaction struct {
	id            int64 // 自動採番（リレーのカーソルとして使用）
	transactionID string
	userID        string
	amount        int64 // 符号付き。マイナスは消費
	action        Action
	refID         *string
	description   string
	balanceAfter  int64
	createdAt     time.Time
}

// NewTransaction 新しいTransactionエンティティを作成
func NewTransaction(
	transactionID string,
	userID string,
	amount int64,
	action Action,
	refID *string,
	description string,
	balanceAfter int64,
) (*Transaction, error) {
	if !idRegex.MatchString(transactionID) {
		return nil, ErrInvalidTransactionID
	}
	if err := account.ValidateUserID(userID); err != nil {
		return nil, err
	}
	if amount == 0 {
		return nil, account.ErrInvalidAmount
	}
	if amount > account.MaxAmount || amount < -account.MaxAmount {
		return nil, account.ErrAmountTooLarge
	}
	if !action.Valid() {
		return nil, ErrInvalidAction
	}
	if refID != nil {
		if err := ValidateRefID(*refID); err != nil {
			return nil, err
		}
	}
	if len(description) > MaxDescriptionLength {
		description = description[:MaxDescriptionLength]
	}
	if balanceAfter < 0 || balanceAfter > account.MaxBalance {
		return nil, account.ErrBalanceOutOfRange
	}

	return &Transaction{
		transactionID: transactionID,
		userID:        userID,
		amount:        amount,
		action:        action,
		refID:         refID,
		description:   description,
		balanceAfter:  balanceAfter,
		createdAt:     time.Now(),
	}, nil
}

// NewDebit 消費行を作成（amountは正の値で渡す）
func NewDebit(userID string, amount int64, action Action, refID *string, description string, balanceAfter int64) (*Transaction, error) {
	if err := account.ValidateAmount(amount); err != nil {
		return nil, err
	}
	return NewTransaction(NewTransactionID(), userID, -amount, action, refID, description, balanceAfter)
}

// NewCredit 加算行を作成
func NewCredit(userID string, amount int64, action Action, refID *string, description string, balanceAfter int64) (*Transaction, error) {
	if err := account.ValidateAmount(amount); err != nil {
		return nil, err
	}
	return NewTransaction(NewTransactionID(), userID, amount, action, refID, description, balanceAfter)
}

// ID 自動採番IDを返す（未保存の場合は0）
func (t *Transaction) ID() int64 {
	return t.id
}

// TransactionID トランザクションIDを返す
func (t *Transaction) TransactionID() string {
	return t.transactionID
}

// UserID ユーザーIDを返す
func (t *Transaction) UserID() string {
	return t.userID
}

// Amount 符号付き金額を返す
func (t *Transaction) Amount() int64 {
	return t.amount
}

// Action アクションタグを返す
func (t *Transaction) Action() Action {
	return t.action
}

// RefID 参照IDを返す
func (t *Transaction) RefID() *string {
	return t.refID
}

// Description 説明を返す
func (t *Transaction) Description() string {
	return t.description
}

// BalanceAfter 処理後の残高を返す
func (t *Transaction) BalanceAfter() int64 {
	return t.balanceAfter
}

// CreatedAt 作成日時を返す
func (t *Transaction) CreatedAt() time.Time {
	return t.createdAt
}

// IsDebit 消費行かどうかを返す
func (t *Transaction) IsDebit() bool {
	return t.amount < 0
}

// SetID 自動採番IDを設定（リポジトリから読み込んだ際に使用）
func (t *Transaction) SetID(id int64) {
	t.id = id
}

// SetCreatedAt 作成日時を設定（リポジトリから読み込んだ際に使用）
func (t *Transaction) SetCreatedAt(createdAt time.Time) {
	t.createdAt = createdAt
}

// MustNewTransaction テスト用ヘルパー: NewTransactionを呼び出し、エラーが発生した場合はpanicする
func MustNewTransaction(
	transactionID string,
	userID string,
	amount int64,
	action Action,
	refID *string,
	description string,
	balanceAfter int64,
) *Transaction {
	tx, err := NewTransaction(transactionID, userID, amount, action, refID, description, balanceAfter)
	if err != nil {
		panic(err)
	}
	return tx
}

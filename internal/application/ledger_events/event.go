package ledger_events

import (
	"time"

	"credits-ledger/internal/domain/transaction"
)

// LedgerEvent 台帳1行分のイベント
// amount と balance_after はJSON上は文字列で表す
type LedgerEvent struct {
	ID            int64     `json:"id"`
	TransactionID string    `json:"transaction_id"`
	UserID        string    `json:"user_id"`
	Amount        int64     `json:"amount,string"`
	Action        string    `json:"action"`
	RefID         *string   `json:"ref_id,omitempty"`
	Description   string    `json:"description,omitempty"`
	BalanceAfter  int64     `json:"balance_after,string"`
	CreatedAt     time.Time `json:"created_at"`
}

func newLedgerEvent(t *transaction.Transaction) LedgerEvent {
	return LedgerEvent{
		ID:            t.ID(),
		TransactionID: t.TransactionID(),
		UserID:        t.UserID(),
		Amount:        t.Amount(),
		Action:        t.Action().String(),
		RefID:         t.RefID(),
		Description:   t.Description(),
		BalanceAfter:  t.BalanceAfter(),
		CreatedAt:     t.CreatedAt(),
	}
}

// Package memstore はアプリケーション層の結合テスト用のインメモリ実装を提供する。
// トランザクションはグローバルロックで直列化し、失敗時はスナップショットに巻き戻す。
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"credits-ledger/internal/domain/account"
	"credits-ledger/internal/domain/redeem_code"
	"credits-ledger/internal/domain/transaction"
)

type txKey struct{}

type codeRow struct {
	code       *redeem_code.RedeemCode
	used       bool
	usedBy     *string
	usedAt     *time.Time
	disabled   bool
	disabledAt *time.Time
	disabledBy *string
}

type state struct {
	credits map[string]int64
	ledger  []*transaction.Transaction
	codes   map[string]codeRow
	nextID  int64
}

func (s state) clone() state {
	c := state{
		credits: make(map[string]int64, len(s.credits)),
		ledger:  append([]*transaction.Transaction(nil), s.ledger...),
		codes:   make(map[string]codeRow, len(s.codes)),
		nextID:  s.nextID,
	}
	for k, v := range s.credits {
		c.credits[k] = v
	}
	for k, v := range s.codes {
		c.codes[k] = v
	}
	return c
}

// Store インメモリの台帳・残高・引き換えコード
type Store struct {
	txMu sync.Mutex // WithTransaction を直列化する
	mu   sync.Mutex
	st   state

	// ProcedureAvailable false の場合 TryAtomicDebit は PrimitiveUnavailable を返す
	ProcedureAvailable bool
}

// New 空のStoreを作成
func New() *Store {
	return &Store{
		st: state{
			credits: map[string]int64{},
			codes:   map[string]codeRow{},
			nextID:  1,
		},
		ProcedureAvailable: true,
	}
}

// Seed アカウントを作成し、初期残高を加算行として記帳する
func (s *Store) Seed(userID string, credits int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.credits[userID] = credits
	if credits == 0 {
		return
	}
	t, err := transaction.NewCredit(userID, credits, transaction.ActionRedeemCode, nil, "seed", credits)
	if err != nil {
		panic(err)
	}
	if err := s.appendLocked(t); err != nil {
		panic(err)
	}
}

// SetCachedBalance キャッシュ残高を直接書き換える（乖離の再現用）
func (s *Store) SetCachedBalance(userID string, credits int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.credits[userID] = credits
}

// CachedBalance キャッシュ残高を返す
func (s *Store) CachedBalance(userID string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.credits[userID]
}

// LedgerBalance 台帳合計を返す
func (s *Store) LedgerBalance(userID string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sumLocked(userID)
}

// Rows ユーザーの台帳行を記帳順に返す
func (s *Store) Rows(userID string) []*transaction.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rows []*transaction.Transaction
	for _, t := range s.st.ledger {
		if t.UserID() == userID {
			rows = append(rows, t)
		}
	}
	return rows
}

// WithTransaction fnを直列に実行し、エラー時は変更を破棄する
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapshot := s.st.clone()
	s.mu.Unlock()

	defer func() {
		if p := recover(); p != nil {
			s.restore(snapshot)
			panic(p)
		}
		if err != nil {
			s.restore(snapshot)
		}
	}()

	return fn(context.WithValue(ctx, txKey{}, true))
}

func (s *Store) restore(snapshot state) {
	s.mu.Lock()
	s.st = snapshot
	s.mu.Unlock()
}

// TryAtomicDebit consume_credits プロシージャ相当の減算
func (s *Store) TryAtomicDebit(ctx context.Context, req transaction.DebitRequest) (transaction.DebitResult, error) {
	if !s.ProcedureAvailable {
		return transaction.PrimitiveUnavailable(), nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.st.credits[req.UserID]; !ok {
		return transaction.DebitResult{}, account.ErrAccountNotFound
	}
	ledger := s.sumLocked(req.UserID)
	s.st.credits[req.UserID] = ledger
	if ledger < req.Amount {
		return transaction.InsufficientFunds(ledger), nil
	}

	t, err := transaction.NewTransaction(req.TransactionID, req.UserID, -req.Amount, req.Action, req.RefID, req.Description, ledger-req.Amount)
	if err != nil {
		return transaction.DebitResult{}, err
	}
	if err := s.appendLocked(t); err != nil {
		return transaction.DebitResult{}, err
	}
	s.st.credits[req.UserID] = ledger - req.Amount
	return transaction.Applied(ledger-req.Amount, req.TransactionID), nil
}

// FindByUserID アカウントを取得
func (s *Store) FindByUserID(ctx context.Context, userID string) (*account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	credits, ok := s.st.credits[userID]
	if !ok {
		return nil, account.ErrAccountNotFound
	}
	return account.NewAccount(userID, credits)
}

// LockByUserID トランザクションが直列化されているためFindByUserIDと同じ
func (s *Store) LockByUserID(ctx context.Context, userID string) (*account.Account, error) {
	return s.FindByUserID(ctx, userID)
}

// EnsureExists アカウント行が無ければ作成
func (s *Store) EnsureExists(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.credits[userID]; !ok {
		s.st.credits[userID] = 0
	}
	return nil
}

// UpdateCredits キャッシュ残高を更新
func (s *Store) UpdateCredits(ctx context.Context, userID string, credits int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.credits[userID]; !ok {
		return account.ErrAccountNotFound
	}
	s.st.credits[userID] = credits
	return nil
}

// DecrementIfSufficient 条件付き減算
func (s *Store) DecrementIfSufficient(ctx context.Context, userID string, amount int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	credits, ok := s.st.credits[userID]
	if !ok || credits < amount {
		return false, nil
	}
	s.st.credits[userID] = credits - amount
	return true, nil
}

// ListUserIDs ユーザーIDを昇順で返す
func (s *Store) ListUserIDs(ctx context.Context, afterUserID string, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.st.credits))
	for id := range s.st.credits {
		if id > afterUserID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

// Save 台帳行を追記
func (s *Store) Save(ctx context.Context, t *transaction.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(t)
}

func (s *Store) appendLocked(t *transaction.Transaction) error {
	if t.RefID() != nil {
		for _, row := range s.st.ledger {
			if row.UserID() == t.UserID() && row.Action() == t.Action() &&
				row.RefID() != nil && *row.RefID() == *t.RefID() {
				return transaction.ErrDuplicateTransaction
			}
		}
	}
	t.SetID(s.st.nextID)
	s.st.nextID++
	s.st.ledger = append(s.st.ledger, t)
	return nil
}

func (s *Store) sumLocked(userID string) int64 {
	var sum int64
	for _, t := range s.st.ledger {
		if t.UserID() == userID {
			sum += t.Amount()
		}
	}
	return sum
}

// FindByTransactionID トランザクションIDで取得
func (s *Store) FindByTransactionID(ctx context.Context, transactionID string) (*transaction.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.st.ledger {
		if t.TransactionID() == transactionID {
			return t, nil
		}
	}
	return nil, transaction.ErrTransactionNotFound
}

// FindByIdempotencyKey 冪等キーで取得
func (s *Store) FindByIdempotencyKey(ctx context.Context, userID, refID string, action transaction.Action) (*transaction.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.st.ledger {
		if t.UserID() == userID && t.Action() == action && t.RefID() != nil && *t.RefID() == refID {
			return t, nil
		}
	}
	return nil, transaction.ErrTransactionNotFound
}

// SumAmountByUserID 台帳合計
func (s *Store) SumAmountByUserID(ctx context.Context, userID string) (int64, error) {
	return s.LedgerBalance(userID), nil
}

// history 新しい順の履歴。TransactionRepository.FindByUserID は transactionView が提供する
func (s *Store) history(userID string, action transaction.Action) []*transaction.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rows []*transaction.Transaction
	for i := len(s.st.ledger) - 1; i >= 0; i-- {
		t := s.st.ledger[i]
		if t.UserID() == userID && (action == "" || t.Action() == action) {
			rows = append(rows, t)
		}
	}
	return rows
}

// CountByUserID 履歴件数
func (s *Store) CountByUserID(ctx context.Context, userID string, action transaction.Action) (int64, error) {
	return int64(len(s.history(userID, action))), nil
}

// FindAfterID リレー用の取得
func (s *Store) FindAfterID(ctx context.Context, afterID int64, createdBefore time.Time, limit int) ([]*transaction.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rows []*transaction.Transaction
	for _, t := range s.st.ledger {
		if t.ID() > afterID && !t.CreatedAt().After(createdBefore) {
			rows = append(rows, t)
			if len(rows) == limit {
				break
			}
		}
	}
	return rows, nil
}

// Transactions TransactionRepository としてのビュー
func (s *Store) Transactions() transaction.TransactionRepository {
	return transactionView{s}
}

// Codes RedeemCodeRepository としてのビュー
func (s *Store) Codes() redeem_code.RedeemCodeRepository {
	return codeView{s}
}

type transactionView struct {
	*Store
}

func (v transactionView) FindByUserID(ctx context.Context, userID string, action transaction.Action, limit, offset int) ([]*transaction.Transaction, error) {
	rows := v.history(userID, action)
	if offset >= len(rows) {
		return []*transaction.Transaction{}, nil
	}
	rows = rows[offset:]
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

type codeView struct {
	*Store
}

func toRow(rc *redeem_code.RedeemCode) codeRow {
	return codeRow{
		code:       rc,
		used:       rc.Used(),
		usedBy:     rc.UsedBy(),
		usedAt:     rc.UsedAt(),
		disabled:   rc.Disabled(),
		disabledAt: rc.DisabledAt(),
		disabledBy: rc.DisabledBy(),
	}
}

func (r codeRow) entity() *redeem_code.RedeemCode {
	rc := redeem_code.MustNewRedeemCode(r.code.Code(), r.code.Amount(), r.code.ExpiresAt(), r.code.Note())
	rc.SetCreatedAt(r.code.CreatedAt())
	rc.SetUsage(r.used, r.usedBy, r.usedAt)
	rc.SetDisabled(r.disabled, r.disabledAt, r.disabledBy)
	return rc
}

func (v codeView) Save(ctx context.Context, code *redeem_code.RedeemCode) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.st.codes[code.Code()]; ok {
		return redeem_code.ErrCodeAlreadyExists
	}
	v.st.codes[code.Code()] = toRow(code)
	return nil
}

func (v codeView) FindByCode(ctx context.Context, code string) (*redeem_code.RedeemCode, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	row, ok := v.st.codes[code]
	if !ok {
		return nil, redeem_code.ErrCodeNotFound
	}
	return row.entity(), nil
}

func (v codeView) LockByCode(ctx context.Context, code string) (*redeem_code.RedeemCode, error) {
	return v.FindByCode(ctx, code)
}

func (v codeView) Update(ctx context.Context, code *redeem_code.RedeemCode) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.st.codes[code.Code()]; !ok {
		return redeem_code.ErrCodeNotFound
	}
	v.st.codes[code.Code()] = toRow(code)
	return nil
}

func (v codeView) filtered(filter redeem_code.ListFilter) []*redeem_code.RedeemCode {
	v.mu.Lock()
	defer v.mu.Unlock()
	var codes []*redeem_code.RedeemCode
	for _, row := range v.st.codes {
		if filter.Used != nil && row.used != *filter.Used {
			continue
		}
		if filter.Disabled != nil && row.disabled != *filter.Disabled {
			continue
		}
		codes = append(codes, row.entity())
	}
	sort.Slice(codes, func(i, j int) bool {
		return codes[i].CreatedAt().After(codes[j].CreatedAt())
	})
	return codes
}

func (v codeView) List(ctx context.Context, filter redeem_code.ListFilter, limit, offset int) ([]*redeem_code.RedeemCode, error) {
	codes := v.filtered(filter)
	if offset >= len(codes) {
		return []*redeem_code.RedeemCode{}, nil
	}
	codes = codes[offset:]
	if len(codes) > limit {
		codes = codes[:limit]
	}
	return codes, nil
}

func (v codeView) Count(ctx context.Context, filter redeem_code.ListFilter) (int64, error) {
	return int64(len(v.filtered(filter))), nil
}

func (v codeView) Statistics(ctx context.Context) (*redeem_code.Statistics, error) {
	stats := &redeem_code.Statistics{}
	for _, rc := range v.filtered(redeem_code.ListFilter{}) {
		stats.Total++
		stats.TotalAmount += rc.Amount()
		if rc.Used() {
			stats.Used++
			stats.UsedAmount += rc.Amount()
		}
		if rc.Disabled() {
			stats.Disabled++
		}
	}
	stats.Unused = stats.Total - stats.Used
	return stats, nil
}

package code_redemption

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"credits-ledger/internal/domain/account"
	"credits-ledger/internal/domain/redeem_code"
	"credits-ledger/internal/domain/service"
	"credits-ledger/internal/domain/transaction"
	otelinfra "credits-ledger/internal/infrastructure/observability/otel"
	"credits-ledger/internal/testutil/memstore"
	"credits-ledger/internal/testutil/mocks"
)

var fixedNow = time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

// sequenceGenerator 決められた順にコードを返す生成器
type sequenceGenerator struct {
	codes []string
	next  int
}

func (g *sequenceGenerator) Generate() (string, error) {
	if g.next >= len(g.codes) {
		return "", errors.New("sequence exhausted")
	}
	code := g.codes[g.next]
	g.next++
	return code, nil
}

func newTestLogger() *otelinfra.Logger {
	return otelinfra.NewLogger(otel.Tracer("test"), otelinfra.WithWriter(io.Discard))
}

func newMockService(t *testing.T, gen redeem_code.CodeGenerator) (*CodeRedemptionApplicationService, *mocks.RedeemCodeRepository, *mocks.AccountRepository, *mocks.TransactionRepository) {
	t.Helper()
	codeRepo := &mocks.RedeemCodeRepository{}
	accountRepo := &mocks.AccountRepository{}
	transactionRepo := &mocks.TransactionRepository{}
	metrics, err := otelinfra.NewMetrics("test")
	require.NoError(t, err)

	s := NewCodeRedemptionApplicationService(
		codeRepo,
		accountRepo,
		&mocks.TransactionManager{},
		service.NewBalanceService(accountRepo, transactionRepo),
		gen,
		newTestLogger(),
		metrics,
	)
	s.now = func() time.Time { return fixedNow }
	s.retryPolicy.InitialInterval = time.Millisecond
	s.retryPolicy.MaxInterval = time.Millisecond
	return s, codeRepo, accountRepo, transactionRepo
}

func newStoreService(t *testing.T, store *memstore.Store, gen redeem_code.CodeGenerator) *CodeRedemptionApplicationService {
	t.Helper()
	metrics, err := otelinfra.NewMetrics("test")
	require.NoError(t, err)

	s := NewCodeRedemptionApplicationService(
		store.Codes(),
		store,
		store,
		service.NewBalanceService(store, store.Transactions()),
		gen,
		newTestLogger(),
		metrics,
	)
	s.now = func() time.Time { return fixedNow }
	return s
}

func timePtr(t time.Time) *time.Time {
	return &t
}

func boolPtr(b bool) *bool {
	return &b
}

func TestCodeRedemptionApplicationService_GenerateCodes(t *testing.T) {
	tests := []struct {
		name       string
		req        *GenerateCodesRequest
		codes      []string
		setupMocks func(*mocks.RedeemCodeRepository)
		wantCodes  []string
		wantErrIs  error
	}{
		{
			name:  "正常系: 指定数のコードを生成",
			req:   &GenerateCodesRequest{Amount: 50, Count: 2, Note: "campaign"},
			codes: []string{"ABCD2345", "EFGH6789"},
			setupMocks: func(m *mocks.RedeemCodeRepository) {
				m.On("Save", mock.Anything, mock.AnythingOfType("*redeem_code.RedeemCode")).Return(nil).Twice()
			},
			wantCodes: []string{"ABCD2345", "EFGH6789"},
		},
		{
			name:  "正常系: 衝突したコードは再生成",
			req:   &GenerateCodesRequest{Amount: 50, Count: 1},
			codes: []string{"ABCD2345", "EFGH6789"},
			setupMocks: func(m *mocks.RedeemCodeRepository) {
				m.On("Save", mock.Anything, mock.AnythingOfType("*redeem_code.RedeemCode")).Return(redeem_code.ErrCodeAlreadyExists).Once()
				m.On("Save", mock.Anything, mock.AnythingOfType("*redeem_code.RedeemCode")).Return(nil).Once()
			},
			wantCodes: []string{"EFGH6789"},
		},
		{
			name:  "異常系: 衝突が続く場合は諦める",
			req:   &GenerateCodesRequest{Amount: 50, Count: 1},
			codes: []string{"AAAAAAAA", "AAAAAAAA", "AAAAAAAA", "AAAAAAAA", "AAAAAAAA"},
			setupMocks: func(m *mocks.RedeemCodeRepository) {
				m.On("Save", mock.Anything, mock.AnythingOfType("*redeem_code.RedeemCode")).Return(redeem_code.ErrCodeAlreadyExists).Times(maxGenerateAttempts)
			},
			wantErrIs: redeem_code.ErrCodeAlreadyExists,
		},
		{
			name:       "異常系: 生成数が0",
			req:        &GenerateCodesRequest{Amount: 50, Count: 0},
			setupMocks: func(*mocks.RedeemCodeRepository) {},
			wantErrIs:  redeem_code.ErrInvalidCount,
		},
		{
			name:       "異常系: 生成数が上限超過",
			req:        &GenerateCodesRequest{Amount: 50, Count: redeem_code.MaxGenerateCount + 1},
			setupMocks: func(*mocks.RedeemCodeRepository) {},
			wantErrIs:  redeem_code.ErrInvalidCount,
		},
		{
			name:       "異常系: 金額が0",
			req:        &GenerateCodesRequest{Amount: 0, Count: 1},
			setupMocks: func(*mocks.RedeemCodeRepository) {},
			wantErrIs:  account.ErrInvalidAmount,
		},
		{
			name:       "異常系: 有効期限が過去",
			req:        &GenerateCodesRequest{Amount: 50, Count: 1, ExpiresAt: timePtr(fixedNow.Add(-time.Hour))},
			setupMocks: func(*mocks.RedeemCodeRepository) {},
			wantErrIs:  redeem_code.ErrInvalidExpiry,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, codeRepo, _, _ := newMockService(t, &sequenceGenerator{codes: tt.codes})
			tt.setupMocks(codeRepo)

			got, err := s.GenerateCodes(context.Background(), tt.req)

			if tt.wantErrIs != nil {
				assert.ErrorIs(t, err, tt.wantErrIs)
			} else {
				require.NoError(t, err)
				require.Len(t, got.Codes, len(tt.wantCodes))
				for i, code := range tt.wantCodes {
					assert.Equal(t, code, got.Codes[i].Code)
					assert.Equal(t, tt.req.Amount, got.Codes[i].Amount)
					assert.Equal(t, "active", got.Codes[i].Status)
					assert.Equal(t, tt.req.Note, got.Codes[i].Note)
				}
			}
			codeRepo.AssertExpectations(t)
		})
	}
}

func TestCodeRedemptionApplicationService_ValidateCode(t *testing.T) {
	used := redeem_code.MustNewRedeemCode("USED2345", 50, nil, "")
	require.NoError(t, used.MarkUsed("someone", fixedNow))
	disabled := redeem_code.MustNewRedeemCode("DSBL2345", 50, nil, "")
	require.NoError(t, disabled.Disable("admin", fixedNow))

	tests := []struct {
		name       string
		code       string
		setupMocks func(*mocks.RedeemCodeRepository)
		wantErrIs  error
	}{
		{
			name: "正常系: 小文字と空白は正規化される",
			code: "  abcd2345 ",
			setupMocks: func(m *mocks.RedeemCodeRepository) {
				m.On("FindByCode", mock.Anything, "ABCD2345").Return(redeem_code.MustNewRedeemCode("ABCD2345", 50, nil, ""), nil)
			},
		},
		{
			name: "異常系: 存在しない",
			code: "ABCD2345",
			setupMocks: func(m *mocks.RedeemCodeRepository) {
				m.On("FindByCode", mock.Anything, "ABCD2345").Return(nil, redeem_code.ErrCodeNotFound)
			},
			wantErrIs: redeem_code.ErrCodeNotFound,
		},
		{
			name: "異常系: 使用済み",
			code: "USED2345",
			setupMocks: func(m *mocks.RedeemCodeRepository) {
				m.On("FindByCode", mock.Anything, "USED2345").Return(used, nil)
			},
			wantErrIs: redeem_code.ErrCodeAlreadyUsed,
		},
		{
			name: "異常系: 無効化済み",
			code: "DSBL2345",
			setupMocks: func(m *mocks.RedeemCodeRepository) {
				m.On("FindByCode", mock.Anything, "DSBL2345").Return(disabled, nil)
			},
			wantErrIs: redeem_code.ErrCodeDisabled,
		},
		{
			name: "異常系: 期限切れ",
			code: "EXPD2345",
			setupMocks: func(m *mocks.RedeemCodeRepository) {
				m.On("FindByCode", mock.Anything, "EXPD2345").
					Return(redeem_code.MustNewRedeemCode("EXPD2345", 50, timePtr(fixedNow.Add(-time.Minute)), ""), nil)
			},
			wantErrIs: redeem_code.ErrCodeExpired,
		},
		{
			name:       "異常系: 形式が不正なコードは存在しない扱い",
			code:       "ABC-0001",
			setupMocks: func(*mocks.RedeemCodeRepository) {},
			wantErrIs:  redeem_code.ErrCodeNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, codeRepo, _, _ := newMockService(t, nil)
			tt.setupMocks(codeRepo)

			got, err := s.ValidateCode(context.Background(), &ValidateCodeRequest{Code: tt.code})

			if tt.wantErrIs != nil {
				assert.ErrorIs(t, err, tt.wantErrIs)
			} else {
				require.NoError(t, err)
				assert.Equal(t, "ABCD2345", got.Code)
				assert.Equal(t, int64(50), got.Amount)
			}
			codeRepo.AssertExpectations(t)
		})
	}
}

func TestCodeRedemptionApplicationService_RedeemCode(t *testing.T) {
	tests := []struct {
		name       string
		setupMocks func(*mocks.RedeemCodeRepository, *mocks.AccountRepository, *mocks.TransactionRepository)
		wantErrIs  error
		wantDBErr  bool
	}{
		{
			name: "正常系: 引き換えてクレジットを付与",
			setupMocks: func(codes *mocks.RedeemCodeRepository, accounts *mocks.AccountRepository, txs *mocks.TransactionRepository) {
				codes.On("FindByCode", mock.Anything, "ABCD2345").Return(redeem_code.MustNewRedeemCode("ABCD2345", 50, nil, ""), nil)
				codes.On("LockByCode", mock.Anything, "ABCD2345").Return(redeem_code.MustNewRedeemCode("ABCD2345", 50, nil, ""), nil)
				accounts.On("EnsureExists", mock.Anything, "user123").Return(nil)
				accounts.On("LockByUserID", mock.Anything, "user123").Return(account.MustNewAccount("user123", 10), nil)
				txs.On("SumAmountByUserID", mock.Anything, "user123").Return(int64(10), nil)
				txs.On("Save", mock.Anything, mock.MatchedBy(func(tx *transaction.Transaction) bool {
					return tx.Amount() == 50 &&
						tx.Action() == transaction.ActionRedeemCode &&
						tx.RefID() != nil && *tx.RefID() == "redeem:ABCD2345"
				})).Return(nil)
				accounts.On("UpdateCredits", mock.Anything, "user123", int64(60)).Return(nil)
				codes.On("Update", mock.Anything, mock.MatchedBy(func(rc *redeem_code.RedeemCode) bool {
					return rc.Used() && rc.UsedBy() != nil && *rc.UsedBy() == "user123"
				})).Return(nil)
			},
		},
		{
			name: "異常系: ロック取得後の再検証で使用済み",
			setupMocks: func(codes *mocks.RedeemCodeRepository, _ *mocks.AccountRepository, _ *mocks.TransactionRepository) {
				used := redeem_code.MustNewRedeemCode("ABCD2345", 50, nil, "")
				_ = used.MarkUsed("other", fixedNow)
				codes.On("FindByCode", mock.Anything, "ABCD2345").Return(redeem_code.MustNewRedeemCode("ABCD2345", 50, nil, ""), nil)
				codes.On("LockByCode", mock.Anything, "ABCD2345").Return(used, nil)
			},
			wantErrIs: redeem_code.ErrCodeAlreadyUsed,
		},
		{
			name: "異常系: 冪等キー重複は使用済みとして扱う",
			setupMocks: func(codes *mocks.RedeemCodeRepository, accounts *mocks.AccountRepository, txs *mocks.TransactionRepository) {
				codes.On("FindByCode", mock.Anything, "ABCD2345").Return(redeem_code.MustNewRedeemCode("ABCD2345", 50, nil, ""), nil)
				codes.On("LockByCode", mock.Anything, "ABCD2345").Return(redeem_code.MustNewRedeemCode("ABCD2345", 50, nil, ""), nil)
				accounts.On("EnsureExists", mock.Anything, "user123").Return(nil)
				accounts.On("LockByUserID", mock.Anything, "user123").Return(account.MustNewAccount("user123", 10), nil)
				txs.On("SumAmountByUserID", mock.Anything, "user123").Return(int64(10), nil)
				txs.On("Save", mock.Anything, mock.Anything).Return(transaction.ErrDuplicateTransaction)
			},
			wantErrIs: redeem_code.ErrCodeAlreadyUsed,
		},
		{
			name: "異常系: コードが存在しない",
			setupMocks: func(codes *mocks.RedeemCodeRepository, _ *mocks.AccountRepository, _ *mocks.TransactionRepository) {
				codes.On("FindByCode", mock.Anything, "ABCD2345").Return(nil, redeem_code.ErrCodeNotFound)
			},
			wantErrIs: redeem_code.ErrCodeNotFound,
		},
		{
			name: "異常系: ロック待ちタイムアウトは再試行後に返す",
			setupMocks: func(codes *mocks.RedeemCodeRepository, _ *mocks.AccountRepository, _ *mocks.TransactionRepository) {
				codes.On("FindByCode", mock.Anything, "ABCD2345").Return(redeem_code.MustNewRedeemCode("ABCD2345", 50, nil, ""), nil)
				codes.On("LockByCode", mock.Anything, "ABCD2345").
					Return(nil, transaction.NewDatabaseError("lock code", errors.New("lock wait timeout"), true)).Times(3)
			},
			wantDBErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, codeRepo, accountRepo, transactionRepo := newMockService(t, nil)
			tt.setupMocks(codeRepo, accountRepo, transactionRepo)

			got, err := s.RedeemCode(context.Background(), &RedeemCodeRequest{Code: "abcd2345", UserID: "user123"})

			switch {
			case tt.wantErrIs != nil:
				assert.ErrorIs(t, err, tt.wantErrIs)
			case tt.wantDBErr:
				assert.True(t, transaction.IsDatabaseError(err))
			default:
				require.NoError(t, err)
				assert.Equal(t, int64(60), got.Balance)
				assert.Equal(t, int64(50), got.Amount)
				assert.Regexp(t, `^txn_`, got.TransactionID)
			}
			codeRepo.AssertExpectations(t)
			accountRepo.AssertExpectations(t)
			transactionRepo.AssertExpectations(t)
		})
	}
}

func TestCodeRedemptionApplicationService_DisableCode(t *testing.T) {
	tests := []struct {
		name       string
		setupMocks func(*mocks.RedeemCodeRepository)
		wantErrIs  error
	}{
		{
			name: "正常系: 未使用のコードを無効化",
			setupMocks: func(m *mocks.RedeemCodeRepository) {
				m.On("LockByCode", mock.Anything, "ABCD2345").Return(redeem_code.MustNewRedeemCode("ABCD2345", 50, nil, ""), nil)
				m.On("Update", mock.Anything, mock.MatchedBy(func(rc *redeem_code.RedeemCode) bool {
					return rc.Disabled() && rc.DisabledBy() != nil && *rc.DisabledBy() == "admin-1"
				})).Return(nil)
			},
		},
		{
			name: "正常系: 期限切れのコードも無効化できる",
			setupMocks: func(m *mocks.RedeemCodeRepository) {
				m.On("LockByCode", mock.Anything, "ABCD2345").
					Return(redeem_code.MustNewRedeemCode("ABCD2345", 50, timePtr(fixedNow.Add(-time.Hour)), ""), nil)
				m.On("Update", mock.Anything, mock.Anything).Return(nil)
			},
		},
		{
			name: "異常系: 使用済みは無効化できない",
			setupMocks: func(m *mocks.RedeemCodeRepository) {
				used := redeem_code.MustNewRedeemCode("ABCD2345", 50, nil, "")
				_ = used.MarkUsed("user123", fixedNow)
				m.On("LockByCode", mock.Anything, "ABCD2345").Return(used, nil)
			},
			wantErrIs: redeem_code.ErrCodeAlreadyUsed,
		},
		{
			name: "異常系: 存在しない",
			setupMocks: func(m *mocks.RedeemCodeRepository) {
				m.On("LockByCode", mock.Anything, "ABCD2345").Return(nil, redeem_code.ErrCodeNotFound)
			},
			wantErrIs: redeem_code.ErrCodeNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, codeRepo, _, _ := newMockService(t, nil)
			tt.setupMocks(codeRepo)

			got, err := s.DisableCode(context.Background(), &DisableCodeRequest{Code: "ABCD2345", AdminUserID: "admin-1"})

			if tt.wantErrIs != nil {
				assert.ErrorIs(t, err, tt.wantErrIs)
			} else {
				require.NoError(t, err)
				assert.True(t, got.Code.Disabled)
				assert.Equal(t, "disabled", got.Code.Status)
			}
			codeRepo.AssertExpectations(t)
		})
	}
}

func TestCodeRedemptionApplicationService_ListCodes(t *testing.T) {
	tests := []struct {
		name       string
		req        *ListCodesRequest
		setupMocks func(*mocks.RedeemCodeRepository)
		wantSize   int
		wantErrIs  error
	}{
		{
			name: "正常系: デフォルトのページサイズ",
			req:  &ListCodesRequest{Page: 1},
			setupMocks: func(m *mocks.RedeemCodeRepository) {
				m.On("List", mock.Anything, redeem_code.ListFilter{}, 50, 0).
					Return([]*redeem_code.RedeemCode{redeem_code.MustNewRedeemCode("ABCD2345", 50, nil, "")}, nil)
				m.On("Count", mock.Anything, redeem_code.ListFilter{}).Return(int64(1), nil)
			},
			wantSize: 50,
		},
		{
			name: "正常系: 絞り込みと2ページ目",
			req:  &ListCodesRequest{Used: boolPtr(false), Page: 2, PageSize: 10},
			setupMocks: func(m *mocks.RedeemCodeRepository) {
				filter := redeem_code.ListFilter{Used: boolPtr(false)}
				m.On("List", mock.Anything, filter, 10, 10).Return([]*redeem_code.RedeemCode{}, nil)
				m.On("Count", mock.Anything, filter).Return(int64(10), nil)
			},
			wantSize: 10,
		},
		{
			name:       "異常系: ページが0",
			req:        &ListCodesRequest{Page: 0},
			setupMocks: func(*mocks.RedeemCodeRepository) {},
			wantErrIs:  redeem_code.ErrInvalidPage,
		},
		{
			name:       "異常系: ページサイズが上限超過",
			req:        &ListCodesRequest{Page: 1, PageSize: 101},
			setupMocks: func(*mocks.RedeemCodeRepository) {},
			wantErrIs:  redeem_code.ErrInvalidPageSize,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, codeRepo, _, _ := newMockService(t, nil)
			tt.setupMocks(codeRepo)

			got, err := s.ListCodes(context.Background(), tt.req)

			if tt.wantErrIs != nil {
				assert.ErrorIs(t, err, tt.wantErrIs)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.wantSize, got.PageSize)
				assert.Equal(t, tt.req.Page, got.Page)
			}
			codeRepo.AssertExpectations(t)
		})
	}
}

func TestCodeRedemptionApplicationService_Statistics(t *testing.T) {
	s, codeRepo, _, _ := newMockService(t, nil)
	codeRepo.On("Statistics", mock.Anything).Return(&redeem_code.Statistics{
		Total: 5, Used: 2, Unused: 3, Disabled: 1, TotalAmount: 250, UsedAmount: 100,
	}, nil)

	got, err := s.Statistics(context.Background())

	require.NoError(t, err)
	assert.Equal(t, &StatisticsResponse{Total: 5, Used: 2, Unused: 3, Disabled: 1, TotalAmount: 250, UsedAmount: 100}, got)
	codeRepo.AssertExpectations(t)
}

func TestCodeRedemption_RedeemExactlyOnce(t *testing.T) {
	store := memstore.New()
	store.Seed("user123", 10)
	s := newStoreService(t, store, &sequenceGenerator{codes: []string{"ABCD2345"}})
	ctx := context.Background()

	generated, err := s.GenerateCodes(ctx, &GenerateCodesRequest{Amount: 50, Count: 1})
	require.NoError(t, err)
	code := generated.Codes[0].Code

	got, err := s.RedeemCode(ctx, &RedeemCodeRequest{Code: code, UserID: "user123"})
	require.NoError(t, err)
	assert.Equal(t, int64(60), got.Balance)

	_, err = s.RedeemCode(ctx, &RedeemCodeRequest{Code: code, UserID: "user123"})
	assert.ErrorIs(t, err, redeem_code.ErrCodeAlreadyUsed)

	assert.Equal(t, int64(60), store.LedgerBalance("user123"))
	assert.Equal(t, int64(60), store.CachedBalance("user123"))

	stats, err := s.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Used)
	assert.Equal(t, int64(0), stats.Unused)
}

func TestCodeRedemption_ConcurrentRedeemOneWinner(t *testing.T) {
	store := memstore.New()
	s := newStoreService(t, store, &sequenceGenerator{codes: []string{"WXYZ2345"}})
	ctx := context.Background()

	_, err := s.GenerateCodes(ctx, &GenerateCodesRequest{Amount: 30, Count: 1})
	require.NoError(t, err)

	users := []string{"alice", "bob", "carol"}
	errs := make([]error, len(users))
	var wg sync.WaitGroup
	for i, userID := range users {
		wg.Add(1)
		go func(i int, userID string) {
			defer wg.Done()
			_, errs[i] = s.RedeemCode(ctx, &RedeemCodeRequest{Code: "WXYZ2345", UserID: userID})
		}(i, userID)
	}
	wg.Wait()

	winners := 0
	var total int64
	for i, err := range errs {
		if err == nil {
			winners++
		} else {
			assert.ErrorIs(t, err, redeem_code.ErrCodeAlreadyUsed)
		}
		total += store.LedgerBalance(users[i])
	}
	assert.Equal(t, 1, winners)
	assert.Equal(t, int64(30), total)
}

func TestCodeRedemption_RedeemCreatesAccount(t *testing.T) {
	store := memstore.New()
	s := newStoreService(t, store, &sequenceGenerator{codes: []string{"NEWU2345"}})
	ctx := context.Background()

	_, err := s.GenerateCodes(ctx, &GenerateCodesRequest{Amount: 25, Count: 1, ExpiresAt: timePtr(fixedNow.Add(time.Hour))})
	require.NoError(t, err)

	got, err := s.RedeemCode(ctx, &RedeemCodeRequest{Code: "NEWU2345", UserID: "newcomer"})

	require.NoError(t, err)
	assert.Equal(t, int64(25), got.Balance)
	assert.Equal(t, int64(25), store.CachedBalance("newcomer"))
}

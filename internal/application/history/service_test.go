package history

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"credits-ledger/internal/domain/account"
	"credits-ledger/internal/domain/transaction"
	otelinfra "credits-ledger/internal/infrastructure/observability/otel"
	"credits-ledger/internal/testutil/mocks"
)

func strPtr(s string) *string {
	return &s
}

func TestHistoryApplicationService_GetTransactionHistory(t *testing.T) {
	rows := []*transaction.Transaction{
		transaction.MustNewTransaction("txn2", "user123", 5, transaction.ActionRefund, strPtr("job_1"), "refund", 20),
		transaction.MustNewTransaction("txn1", "user123", -5, transaction.ActionAIGenerateText, strPtr("job_1"), "", 15),
	}

	tests := []struct {
		name       string
		req        *GetTransactionHistoryRequest
		setupMocks func(*mocks.TransactionRepository)
		wantErrIs  error
		wantErr    bool
		checkFunc  func(*testing.T, *GetTransactionHistoryResponse)
	}{
		{
			name: "正常系: 履歴を取得",
			req:  &GetTransactionHistoryRequest{UserID: "user123", Limit: 10},
			setupMocks: func(m *mocks.TransactionRepository) {
				m.On("FindByUserID", mock.Anything, "user123", transaction.Action(""), 10, 0).Return(rows, nil)
				m.On("CountByUserID", mock.Anything, "user123", transaction.Action("")).Return(int64(2), nil)
			},
			checkFunc: func(t *testing.T, resp *GetTransactionHistoryResponse) {
				require.Len(t, resp.Transactions, 2)
				assert.Equal(t, "txn2", resp.Transactions[0].TransactionID)
				assert.Equal(t, int64(5), resp.Transactions[0].Amount)
				assert.Equal(t, "refund", resp.Transactions[0].Action)
				assert.Equal(t, int64(-5), resp.Transactions[1].Amount)
				assert.Equal(t, int64(2), resp.Total)
			},
		},
		{
			name: "正常系: デフォルトと上限の補正",
			req:  &GetTransactionHistoryRequest{UserID: "user123", Limit: 1000, Offset: -1},
			setupMocks: func(m *mocks.TransactionRepository) {
				m.On("FindByUserID", mock.Anything, "user123", transaction.Action(""), MaxLimit, 0).Return([]*transaction.Transaction{}, nil)
				m.On("CountByUserID", mock.Anything, "user123", transaction.Action("")).Return(int64(0), nil)
			},
			checkFunc: func(t *testing.T, resp *GetTransactionHistoryResponse) {
				assert.Equal(t, MaxLimit, resp.Limit)
				assert.Equal(t, 0, resp.Offset)
				assert.Empty(t, resp.Transactions)
			},
		},
		{
			name: "正常系: アクションで絞り込み",
			req:  &GetTransactionHistoryRequest{UserID: "user123", Action: "refund"},
			setupMocks: func(m *mocks.TransactionRepository) {
				m.On("FindByUserID", mock.Anything, "user123", transaction.ActionRefund, DefaultLimit, 0).Return(rows[:1], nil)
				m.On("CountByUserID", mock.Anything, "user123", transaction.ActionRefund).Return(int64(1), nil)
			},
			checkFunc: func(t *testing.T, resp *GetTransactionHistoryResponse) {
				require.Len(t, resp.Transactions, 1)
				assert.Equal(t, DefaultLimit, resp.Limit)
			},
		},
		{
			name:       "異常系: 不正なアクション",
			req:        &GetTransactionHistoryRequest{UserID: "user123", Action: "Bad Action"},
			setupMocks: func(*mocks.TransactionRepository) {},
			wantErrIs:  transaction.ErrInvalidAction,
		},
		{
			name:       "異常系: 不正なユーザーID",
			req:        &GetTransactionHistoryRequest{UserID: ""},
			setupMocks: func(*mocks.TransactionRepository) {},
			wantErrIs:  account.ErrInvalidUserID,
		},
		{
			name: "異常系: 取得に失敗",
			req:  &GetTransactionHistoryRequest{UserID: "user123"},
			setupMocks: func(m *mocks.TransactionRepository) {
				m.On("FindByUserID", mock.Anything, "user123", transaction.Action(""), DefaultLimit, 0).Return(nil, errors.New("db down"))
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &mocks.TransactionRepository{}
			tt.setupMocks(repo)
			logger := otelinfra.NewLogger(otel.Tracer("test"), otelinfra.WithWriter(io.Discard))
			svc := NewHistoryApplicationService(repo, logger)

			got, err := svc.GetTransactionHistory(context.Background(), tt.req)

			switch {
			case tt.wantErrIs != nil:
				assert.ErrorIs(t, err, tt.wantErrIs)
			case tt.wantErr:
				assert.Error(t, err)
			default:
				require.NoError(t, err)
				tt.checkFunc(t, got)
			}
			repo.AssertExpectations(t)
		})
	}
}

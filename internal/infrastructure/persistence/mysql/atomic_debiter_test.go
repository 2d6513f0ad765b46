package mysql

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"credits-ledger/internal/domain/account"
	"credits-ledger/internal/domain/transaction"
)

func TestAtomicDebiter_TryAtomicDebit(t *testing.T) {
	req := transaction.DebitRequest{
		TransactionID: "txn_1",
		UserID:        "user123",
		Amount:        6,
		Action:        transaction.ActionAIGenerateText,
		RefID:         strPtr("R1"),
		Description:   "text",
	}

	tests := []struct {
		name        string
		setupMock   func(sqlmock.Sqlmock)
		want        transaction.DebitResult
		wantError   error
		wantDBError bool
	}{
		{
			name: "正常系: 減算が適用された",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`CALL consume_credits\(\?, \?, \?, \?, \?, \?\)`).
					WithArgs("txn_1", "user123", int64(6), "ai_generate_text", "R1", "text").
					WillReturnRows(sqlmock.NewRows([]string{"outcome", "balance"}).AddRow("applied", int64(4)))
			},
			want: transaction.Applied(4, "txn_1"),
		},
		{
			name: "正常系: 残高不足",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`CALL consume_credits`).
					WillReturnRows(sqlmock.NewRows([]string{"outcome", "balance"}).AddRow("insufficient", int64(4)))
			},
			want: transaction.InsufficientFunds(4),
		},
		{
			name: "正常系: プロシージャ未定義（エラー番号1305）",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`CALL consume_credits`).
					WillReturnError(&mysqldriver.MySQLError{Number: 1305, Message: "PROCEDURE credits.consume_credits does not exist"})
			},
			want: transaction.PrimitiveUnavailable(),
		},
		{
			name: "異常系: 文字列が似ていても番号が違えばフォールバックしない",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`CALL consume_credits`).
					WillReturnError(errors.New("PROCEDURE consume_credits does not exist"))
			},
			wantDBError: true,
		},
		{
			name: "異常系: ユーザーが存在しない",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`CALL consume_credits`).
					WillReturnRows(sqlmock.NewRows([]string{"outcome", "balance"}).AddRow("not_found", int64(0)))
			},
			wantError: account.ErrAccountNotFound,
		},
		{
			name: "異常系: 冪等キーの重複",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`CALL consume_credits`).
					WillReturnError(&mysqldriver.MySQLError{Number: 1062, Message: "Duplicate entry"})
			},
			wantError: transaction.ErrDuplicateTransaction,
		},
		{
			name: "異常系: 接続エラー",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`CALL consume_credits`).
					WillReturnError(sql.ErrConnDone)
			},
			wantDBError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer db.Close()

			d := &AtomicDebiter{db: &DB{DB: db}, tracer: otel.Tracer("test")}
			tt.setupMock(mock)

			got, err := d.TryAtomicDebit(context.Background(), req)

			switch {
			case tt.wantError != nil:
				assert.ErrorIs(t, err, tt.wantError)
			case tt.wantDBError:
				assert.True(t, transaction.IsDatabaseError(err))
			default:
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

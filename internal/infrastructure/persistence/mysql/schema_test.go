package mysql

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrate(t *testing.T) {
	tests := []struct {
		name      string
		setupMock func(sqlmock.Sqlmock)
		wantError bool
	}{
		{
			name: "正常系: すべての文を順に実行",
			setupMock: func(mock sqlmock.Sqlmock) {
				for _, stmt := range statements {
					mock.ExpectExec(regexp.QuoteMeta(stmt)).WillReturnResult(sqlmock.NewResult(0, 0))
				}
			},
		},
		{
			name: "異常系: 途中の文で失敗",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(regexp.QuoteMeta(statements[0])).WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectExec(regexp.QuoteMeta(statements[1])).WillReturnError(errors.New("access denied"))
			},
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sqlDB, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer sqlDB.Close()

			tt.setupMock(mock)

			err = Migrate(context.Background(), &DB{DB: sqlDB})
			if tt.wantError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestSchema_IdempotencyIndex(t *testing.T) {
	var found bool
	for _, stmt := range statements {
		if regexp.MustCompile(`UNIQUE KEY uk_credit_tx_idempotency \(user_id, ref_id, action\)`).MatchString(stmt) {
			found = true
		}
	}
	assert.True(t, found)
}

func TestSchema_ConsumeProcedureLocksBeforeSum(t *testing.T) {
	var body string
	for _, stmt := range statements {
		if strings.HasPrefix(stmt, "CREATE PROCEDURE "+ConsumeProcedure) {
			body = stmt
		}
	}
	require.NotEmpty(t, body)

	lockAt := strings.Index(body, "FROM users WHERE user_id = p_user_id FOR UPDATE")
	sumAt := strings.Index(body, "FROM credit_transactions WHERE user_id = p_user_id FOR SHARE")
	insertAt := strings.Index(body, "INSERT INTO credit_transactions")

	require.NotEqual(t, -1, lockAt, "user row must be locked")
	require.NotEqual(t, -1, sumAt, "ledger sum must be a locking read")
	assert.Less(t, lockAt, sumAt)
	assert.Less(t, sumAt, insertAt)
}

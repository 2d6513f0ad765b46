package mysql

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"credits-ledger/internal/domain/compensation"
)

var compensationRowColumns = []string{
	"compensation_id", "user_id", "amount", "reason", "ref_id", "status", "retry_count", "last_error", "created_at", "updated_at",
}

func newCompensationRepo(t *testing.T) (*CompensationRepository, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	repo := &CompensationRepository{
		db:     &DB{DB: db},
		tracer: otel.Tracer("test"),
	}
	return repo, mock, func() { db.Close() }
}

func TestCompensationRepository_Save(t *testing.T) {
	repo, mock, closeDB := newCompensationRepo(t)
	defer closeDB()

	c, err := compensation.NewCompensation("user123", 5, "provider failed", "job_1", "refund failed")
	require.NoError(t, err)

	mock.ExpectExec(`INSERT INTO pending_compensations`).
		WithArgs(c.CompensationID(), "user123", int64(5), "provider failed", "job_1", "pending", 0, "refund failed", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	assert.NoError(t, repo.Save(context.Background(), c))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompensationRepository_FindPending(t *testing.T) {
	repo, mock, closeDB := newCompensationRepo(t)
	defer closeDB()

	now := time.Now()
	rows := sqlmock.NewRows(compensationRowColumns).
		AddRow("cmp_1", "user123", int64(5), "reason", "job_1", "pending", 0, nil, now, now).
		AddRow("cmp_2", "user456", int64(7), "reason", "job_2", "pending", 2, "db down", now, now)
	mock.ExpectQuery(`FROM pending_compensations WHERE status = \? ORDER BY created_at ASC LIMIT \?`).
		WithArgs("pending", 10).
		WillReturnRows(rows)

	got, err := repo.FindPending(context.Background(), 10)

	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "cmp_1", got[0].CompensationID())
	assert.Empty(t, got[0].LastError())
	assert.Equal(t, 2, got[1].RetryCount())
	assert.Equal(t, "db down", got[1].LastError())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompensationRepository_FindByCompensationID(t *testing.T) {
	repo, mock, closeDB := newCompensationRepo(t)
	defer closeDB()

	mock.ExpectQuery(`WHERE compensation_id = \?`).
		WithArgs("cmp_404").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByCompensationID(context.Background(), "cmp_404")

	assert.ErrorIs(t, err, compensation.ErrCompensationNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompensationRepository_Update(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name         string
		rowsAffected int64
		wantError    error
	}{
		{name: "正常系: 完了に更新", rowsAffected: 1},
		{name: "異常系: 補填が存在しない", rowsAffected: 0, wantError: compensation.ErrCompensationNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock, closeDB := newCompensationRepo(t)
			defer closeDB()

			c := compensation.Reconstruct("cmp_1", "user123", 5, "reason", "job_1", compensation.StatusPending, 1, "x", now, now)
			require.NoError(t, c.MarkCompleted())

			mock.ExpectExec(`UPDATE pending_compensations SET status = \?, retry_count = \?, last_error = \?, updated_at = \?`).
				WithArgs("completed", 1, "", sqlmock.AnyArg(), "cmp_1").
				WillReturnResult(sqlmock.NewResult(0, tt.rowsAffected))

			err := repo.Update(context.Background(), c)
			if tt.wantError != nil {
				assert.ErrorIs(t, err, tt.wantError)
			} else {
				assert.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestCompensationRepository_ListAndCountByStatus(t *testing.T) {
	repo, mock, closeDB := newCompensationRepo(t)
	defer closeDB()

	now := time.Now()
	mock.ExpectQuery(`WHERE status = \? ORDER BY created_at DESC LIMIT \? OFFSET \?`).
		WithArgs("failed", 20, 0).
		WillReturnRows(sqlmock.NewRows(compensationRowColumns).
			AddRow("cmp_1", "user123", int64(5), "reason", "job_1", "failed", 5, "db down", now, now))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM pending_compensations WHERE status = \?`).
		WithArgs("failed").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(1)))

	list, err := repo.ListByStatus(context.Background(), compensation.StatusFailed, 20, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, compensation.StatusFailed, list[0].Status())

	count, err := repo.CountByStatus(context.Background(), compensation.StatusFailed)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	assert.NoError(t, mock.ExpectationsWereMet())
}

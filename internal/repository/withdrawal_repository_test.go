package repository

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/igcse-subject-reservation/internal/model"
)

func newWithdrawalMock(t *testing.T) (*WithdrawalRepo, sqlmock.Sqlmock, *sql.Tx) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	mock.ExpectBegin()
	tx, err := db.Begin()
	require.NoError(t, err)
	return NewWithdrawalRepo(db), mock, tx
}

func TestResolveTxFulfillmentStampsOutcome(t *testing.T) {
	repo, mock, tx := newWithdrawalMock(t)

	released := model.FromPounds(200)
	notes := "bank transfer sent"
	mock.ExpectExec(`UPDATE withdrawal_requests\s+SET status = \?, released_piastres = \?, admin_notes = \?, fulfilled_at = UTC_TIMESTAMP\(\), fulfilled_by = \?`).
		WithArgs(model.WithdrawalFulfilled, int64(20000), notes, uint64(9), uint64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.ResolveTx(context.Background(), tx, 5, model.WithdrawalFulfilled, &released, 9, &notes)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveTxRejectionLeavesFulfillmentFieldsUntouched(t *testing.T) {
	repo, mock, tx := newWithdrawalMock(t)

	// A rejection writes only status and notes; released_piastres,
	// fulfilled_at and fulfilled_by stay NULL, so a rejected request can
	// never be read back as a zero-release fulfillment.
	notes := "amount disputed"
	mock.ExpectExec(`UPDATE withdrawal_requests\s+SET status = \?, admin_notes = \?\s+WHERE id = \? AND status = 'PENDING'`).
		WithArgs(model.WithdrawalRejected, notes, uint64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.ResolveTx(context.Background(), tx, 5, model.WithdrawalRejected, nil, 9, &notes)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveTxAlreadyResolved(t *testing.T) {
	repo, mock, tx := newWithdrawalMock(t)

	notes := "late second click"
	mock.ExpectExec(`UPDATE withdrawal_requests\s+SET status = \?, admin_notes = \?`).
		WithArgs(model.WithdrawalRejected, notes, uint64(5)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT status FROM withdrawal_requests WHERE id = \?`).
		WithArgs(uint64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(model.WithdrawalFulfilled))

	err := repo.ResolveTx(context.Background(), tx, 5, model.WithdrawalRejected, nil, 9, &notes)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.NoError(t, mock.ExpectationsWereMet())
}

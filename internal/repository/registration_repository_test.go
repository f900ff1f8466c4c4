package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/igcse-subject-reservation/internal/model"
)

var registrationCols = []string{
	"id", "student_id", "session_id", "subject_id", "registration_type",
	"price_at_registration_piastres", "status", "registered_by", "swapped_from_id", "dropped_at", "created_at", "updated_at",
}

func newRegistrationMock(t *testing.T) (*RegistrationRepo, sqlmock.Sqlmock, *sql.Tx) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	mock.ExpectBegin()
	tx, err := db.Begin()
	require.NoError(t, err)
	return NewRegistrationRepo(db), mock, tx
}

func regRow(id uint64, status string) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows(registrationCols).
		AddRow(id, 42, 1, 5, model.TypeInSchool, 50000, status, 42, nil, nil, now, now)
}

func TestActiveExistsTx(t *testing.T) {
	repo, mock, tx := newRegistrationMock(t)

	mock.ExpectQuery(`SELECT id FROM registrations`).
		WithArgs(uint64(42), uint64(1), uint64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(11))

	exists, err := repo.ActiveExistsTx(context.Background(), tx, 42, 1, 5)
	require.NoError(t, err)
	assert.True(t, exists)

	mock.ExpectQuery(`SELECT id FROM registrations`).
		WithArgs(uint64(42), uint64(1), uint64(6)).
		WillReturnError(sql.ErrNoRows)

	exists, err = repo.ActiveExistsTx(context.Background(), tx, 42, 1, 6)
	require.NoError(t, err)
	assert.False(t, exists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateTxPopulatesID(t *testing.T) {
	repo, mock, tx := newRegistrationMock(t)

	mock.ExpectExec(`INSERT INTO registrations`).
		WithArgs(uint64(42), uint64(1), uint64(5), model.TypeInSchool, int64(50000), model.RegPendingPayment, uint64(42), nil).
		WillReturnResult(sqlmock.NewResult(11, 1))

	reg := model.Registration{
		StudentID:           42,
		SessionID:           1,
		SubjectID:           5,
		RegistrationType:    model.TypeInSchool,
		PriceAtRegistration: model.FromPounds(500),
		Status:              model.RegPendingPayment,
		RegisteredBy:        42,
	}
	require.NoError(t, repo.CreateTx(context.Background(), tx, &reg))
	assert.Equal(t, uint64(11), reg.ID)
	assert.False(t, reg.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTxNotFound(t *testing.T) {
	repo, mock, tx := newRegistrationMock(t)

	mock.ExpectQuery(`SELECT (.+) FROM registrations WHERE id = \? FOR UPDATE`).
		WithArgs(uint64(99)).
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetTx(context.Background(), tx, 99)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConfirmTx(t *testing.T) {
	repo, mock, tx := newRegistrationMock(t)

	mock.ExpectExec(`UPDATE registrations SET status = 'CONFIRMED'`).
		WithArgs(uint64(11)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.ConfirmTx(context.Background(), tx, 11))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConfirmTxRowReclaimedMeanwhile(t *testing.T) {
	repo, mock, tx := newRegistrationMock(t)

	// The conditional update touches nothing and the row is gone: a
	// reclamation sweep committed first and deleted it.
	mock.ExpectExec(`UPDATE registrations SET status = 'CONFIRMED'`).
		WithArgs(uint64(11)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT status FROM registrations WHERE id = \?`).
		WithArgs(uint64(11)).
		WillReturnError(sql.ErrNoRows)

	err := repo.ConfirmTx(context.Background(), tx, 11)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConfirmTxWrongState(t *testing.T) {
	repo, mock, tx := newRegistrationMock(t)

	mock.ExpectExec(`UPDATE registrations SET status = 'CONFIRMED'`).
		WithArgs(uint64(11)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT status FROM registrations WHERE id = \?`).
		WithArgs(uint64(11)).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(model.RegConfirmed))

	err := repo.ConfirmTx(context.Background(), tx, 11)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDropTxOnlyFromConfirmed(t *testing.T) {
	repo, mock, tx := newRegistrationMock(t)

	mock.ExpectExec(`UPDATE registrations SET status = 'DROPPED'`).
		WithArgs(sqlmock.AnyArg(), uint64(11)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT status FROM registrations WHERE id = \?`).
		WithArgs(uint64(11)).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(model.RegDropped))

	_, err := repo.DropTx(context.Background(), tx, 11)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDropTxHappyPath(t *testing.T) {
	repo, mock, tx := newRegistrationMock(t)

	mock.ExpectExec(`UPDATE registrations SET status = 'DROPPED'`).
		WithArgs(sqlmock.AnyArg(), uint64(11)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	droppedAt, err := repo.DropTx(context.Background(), tx, 11)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().UTC(), droppedAt, time.Minute)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPendingByIDsTxDeletesOnlyPendingRows(t *testing.T) {
	repo, mock, tx := newRegistrationMock(t)

	// Of the two requested rows only one is still pending; the other was
	// confirmed meanwhile and must be left alone.
	mock.ExpectQuery(`SELECT (.+) FROM registrations`).
		WithArgs(uint64(11), uint64(12)).
		WillReturnRows(regRow(11, model.RegPendingPayment))
	mock.ExpectExec(`DELETE FROM registrations WHERE id IN`).
		WithArgs(uint64(11)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	pending, err := repo.PendingByIDsTx(context.Background(), tx, []uint64{11, 12})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, uint64(11), pending[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExpiredPendingTxNothingExpired(t *testing.T) {
	repo, mock, tx := newRegistrationMock(t)

	mock.ExpectQuery(`SELECT (.+) FROM registrations`).
		WithArgs(uint64(1), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(registrationCols))

	expired, err := repo.ExpiredPendingTx(context.Background(), tx, 1, time.Now().UTC())
	require.NoError(t, err)
	assert.Empty(t, expired)
	// No DELETE expected when nothing matched.
	assert.NoError(t, mock.ExpectationsWereMet())
}

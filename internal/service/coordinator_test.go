package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/igcse-subject-reservation/internal/model"
	"github.com/iliyamo/igcse-subject-reservation/internal/policy"
	"github.com/iliyamo/igcse-subject-reservation/internal/queue"
	"github.com/iliyamo/igcse-subject-reservation/internal/repository"
)

// capturedEvents records published events for assertions.
type capturedEvents struct {
	balance     []queue.BalanceChangedEvent
	confirmed   []queue.RegistrationConfirmedEvent
	withdrawals []queue.WithdrawalFulfilledEvent
}

func (e *capturedEvents) BalanceChanged(_ context.Context, ev queue.BalanceChangedEvent) {
	e.balance = append(e.balance, ev)
}
func (e *capturedEvents) RegistrationConfirmed(_ context.Context, ev queue.RegistrationConfirmedEvent) {
	e.confirmed = append(e.confirmed, ev)
}
func (e *capturedEvents) WithdrawalFulfilled(_ context.Context, ev queue.WithdrawalFulfilledEvent) {
	e.withdrawals = append(e.withdrawals, ev)
}

func newCoordinatorMock(t *testing.T) (*Coordinator, sqlmock.Sqlmock, *capturedEvents) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	events := &capturedEvents{}
	svc := NewCoordinator(
		db,
		repository.NewEscrowRepo(db),
		repository.NewRegistrationRepo(db),
		repository.NewSubjectRepo(db),
		repository.NewSessionRepo(db),
		repository.NewStudentRepo(db),
		repository.NewWithdrawalRepo(db),
		events,
		30*time.Minute,
	)
	return svc, mock, events
}

var admin = policy.Actor{UserID: 1, Role: policy.RoleAdmin}

const (
	lockEscrowSQL    = `SELECT id, balance_piastres FROM escrows WHERE student_id = \? FOR UPDATE`
	insertEscrowSQL  = `INSERT INTO escrows`
	updateBalanceSQL = `UPDATE escrows SET balance_piastres = \? WHERE id = \?`
	insertTxnSQL     = `INSERT INTO escrow_transactions`
)

func escrowRow(id uint64, balance int64) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "balance_piastres"}).AddRow(id, balance)
}

const (
	getRegistrationSQL = `SELECT (.+) FROM registrations WHERE id = \? FOR UPDATE`
	getSessionSQL      = `SELECT (.+) FROM registration_sessions WHERE id = \? FOR UPDATE`
	getSubjectsSQL     = `SELECT (.+) FROM subjects WHERE id IN`
	studentGradeSQL    = `SELECT grade FROM students WHERE user_id = \?`
)

func confirmedRegRow(id, studentID, sessionID, subjectID uint64, price int64) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows([]string{
		"id", "student_id", "session_id", "subject_id", "registration_type",
		"price_at_registration_piastres", "status", "registered_by", "swapped_from_id", "dropped_at", "created_at", "updated_at",
	}).AddRow(id, studentID, sessionID, subjectID, model.TypeInSchool, price, model.RegConfirmed, studentID, nil, nil, now, now)
}

func activeJuneSessionRow(id uint64) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows([]string{
		"id", "name", "session_type", "starts_at", "ends_at", "status", "created_at", "updated_at",
	}).AddRow(id, "June 2026", model.SessionJune, now, now.Add(720*time.Hour), model.SessionActive, now, now)
}

func subjectRow(id uint64, name, code string, price int64, isCore bool) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows([]string{
		"id", "name", "code", "price_in_school_piastres", "price_external_piastres", "is_core", "is_active", "created_at", "updated_at",
	}).AddRow(id, name, code, price, nil, isCore, true, now, now)
}

func gradeRow(grade uint8) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"grade"}).AddRow(grade)
}

func TestTransferMovesBothLegsAtomically(t *testing.T) {
	svc, mock, events := newCoordinatorMock(t)

	mock.ExpectBegin()
	// Both escrows are locked in ascending student-ID order; the receiving
	// escrow does not exist yet and is created lazily.
	mock.ExpectQuery(lockEscrowSQL).WithArgs(uint64(2)).WillReturnRows(escrowRow(20, 50000))
	mock.ExpectQuery(lockEscrowSQL).WithArgs(uint64(3)).WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(insertEscrowSQL).WithArgs(uint64(3)).WillReturnResult(sqlmock.NewResult(21, 1))
	// Debit leg.
	mock.ExpectQuery(lockEscrowSQL).WithArgs(uint64(2)).WillReturnRows(escrowRow(20, 50000))
	mock.ExpectExec(updateBalanceSQL).WithArgs(int64(40000), uint64(20)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(insertTxnSQL).
		WithArgs(uint64(20), uint64(2), model.TxnDebit, int64(10000), model.ReasonTransferOut, nil, nil, uint64(1)).
		WillReturnResult(sqlmock.NewResult(201, 1))
	// Credit leg.
	mock.ExpectQuery(lockEscrowSQL).WithArgs(uint64(3)).WillReturnRows(escrowRow(21, 0))
	mock.ExpectExec(updateBalanceSQL).WithArgs(int64(10000), uint64(21)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(insertTxnSQL).
		WithArgs(uint64(21), uint64(3), model.TxnCredit, int64(10000), model.ReasonTransferIn, nil, nil, uint64(1)).
		WillReturnResult(sqlmock.NewResult(202, 1))
	mock.ExpectCommit()

	result, err := svc.Transfer(context.Background(), admin, 2, 3, model.FromPounds(100))
	require.NoError(t, err)
	assert.Equal(t, model.ReasonTransferOut, result.DebitTxn.Reason)
	assert.Equal(t, model.ReasonTransferIn, result.CreditTxn.Reason)
	assert.NoError(t, mock.ExpectationsWereMet())

	// Both legs were published after commit.
	require.Len(t, events.balance, 2)
	assert.Equal(t, int64(40000), events.balance[0].NewBalance)
	assert.Equal(t, int64(10000), events.balance[1].NewBalance)
}

func TestTransferInsufficientFundsRollsBack(t *testing.T) {
	svc, mock, events := newCoordinatorMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(lockEscrowSQL).WithArgs(uint64(2)).WillReturnRows(escrowRow(20, 5000))
	mock.ExpectQuery(lockEscrowSQL).WithArgs(uint64(3)).WillReturnRows(escrowRow(21, 0))
	mock.ExpectQuery(lockEscrowSQL).WithArgs(uint64(2)).WillReturnRows(escrowRow(20, 5000))
	mock.ExpectRollback()

	_, err := svc.Transfer(context.Background(), admin, 2, 3, model.FromPounds(100))
	assert.ErrorIs(t, err, repository.ErrInsufficientFunds)
	assert.NoError(t, mock.ExpectationsWereMet())
	// Nothing may be published for rolled-back work.
	assert.Empty(t, events.balance)
}

func TestTransferValidation(t *testing.T) {
	svc, _, _ := newCoordinatorMock(t)

	_, err := svc.Transfer(context.Background(), admin, 2, 2, model.FromPounds(100))
	assert.ErrorIs(t, err, repository.ErrForbidden)

	_, err = svc.Transfer(context.Background(), admin, 2, 3, 0)
	assert.ErrorIs(t, err, repository.ErrNonPositiveAmount)

	// Students never transfer, not even from their own escrow.
	student := policy.Actor{UserID: 2, Role: policy.RoleStudent}
	_, err = svc.Transfer(context.Background(), student, 2, 3, model.FromPounds(100))
	assert.ErrorIs(t, err, repository.ErrForbidden)
}

func TestConfirmPaymentDropsSwappedPredecessor(t *testing.T) {
	svc, mock, events := newCoordinatorMock(t)

	now := time.Now().UTC()
	regCols := []string{
		"id", "student_id", "session_id", "subject_id", "registration_type",
		"price_at_registration_piastres", "status", "registered_by", "swapped_from_id", "dropped_at", "created_at", "updated_at",
	}

	mock.ExpectBegin()
	// Registration 12 is the deferred successor of registration 11.
	mock.ExpectQuery(`SELECT (.+) FROM registrations WHERE id = \? FOR UPDATE`).
		WithArgs(uint64(12)).
		WillReturnRows(sqlmock.NewRows(regCols).
			AddRow(12, 42, 1, 6, model.TypeInSchool, 80000, model.RegPendingPayment, 42, 11, nil, now, now))
	mock.ExpectExec(`UPDATE registrations SET status = 'CONFIRMED'`).
		WithArgs(uint64(12)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	// The replaced registration falls in the same transaction.
	mock.ExpectExec(`UPDATE registrations SET status = 'DROPPED'`).
		WithArgs(sqlmock.AnyArg(), uint64(11)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	confirmed, err := svc.ConfirmPayment(context.Background(), "pay_123", []uint64{12})
	require.NoError(t, err)
	require.Len(t, confirmed, 1)
	assert.Equal(t, model.RegConfirmed, confirmed[0].Status)
	assert.Nil(t, confirmed[0].SwappedFromID)
	assert.NoError(t, mock.ExpectationsWereMet())

	require.Len(t, events.confirmed, 1)
	assert.Equal(t, "pay_123", events.confirmed[0].PaymentID)
	assert.Equal(t, uint64(12), events.confirmed[0].RegistrationID)
}

func TestConfirmPaymentLateCallbackFailsCleanly(t *testing.T) {
	svc, mock, events := newCoordinatorMock(t)

	mock.ExpectBegin()
	// The reclamation sweep won the race and deleted the row.
	mock.ExpectQuery(`SELECT (.+) FROM registrations WHERE id = \? FOR UPDATE`).
		WithArgs(uint64(12)).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := svc.ConfirmPayment(context.Background(), "pay_123", []uint64{12})
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Empty(t, events.confirmed)
}

func TestSwapRollsBackWhenReplacementInsertFails(t *testing.T) {
	svc, mock, events := newCoordinatorMock(t)

	mock.ExpectBegin()
	// Student 42 (grade 11, no core mandate) swaps subject 6 for subject 7;
	// the 200-pound delta is covered by the 500-pound balance.
	mock.ExpectQuery(getRegistrationSQL).WithArgs(uint64(11)).
		WillReturnRows(confirmedRegRow(11, 42, 1, 6, 80000))
	mock.ExpectQuery(getSessionSQL).WithArgs(uint64(1)).WillReturnRows(activeJuneSessionRow(1))
	mock.ExpectQuery(studentGradeSQL).WithArgs(uint64(42)).WillReturnRows(gradeRow(11))
	mock.ExpectQuery(getSubjectsSQL).WithArgs(uint64(6)).
		WillReturnRows(subjectRow(6, "Biology", "0610", 80000, false))
	mock.ExpectQuery(`SELECT id FROM registrations WHERE student_id = \?`).
		WithArgs(uint64(42), uint64(1), uint64(7)).WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(getSubjectsSQL).WithArgs(uint64(7)).
		WillReturnRows(subjectRow(7, "Physics", "0625", 100000, false))
	mock.ExpectQuery(studentGradeSQL).WithArgs(uint64(42)).WillReturnRows(gradeRow(11))
	mock.ExpectQuery(lockEscrowSQL).WithArgs(uint64(42)).WillReturnRows(escrowRow(30, 50000))
	// The old registration is dropped first; the insert of its replacement
	// then fails, and the whole exchange rolls back. The student is never
	// left holding neither subject.
	mock.ExpectExec(`UPDATE registrations SET status = 'DROPPED'`).
		WithArgs(sqlmock.AnyArg(), uint64(11)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO registrations`).
		WithArgs(uint64(42), uint64(1), uint64(7), model.TypeInSchool, int64(100000), model.RegConfirmed, uint64(1), nil).
		WillReturnError(errors.New("driver: bad connection"))
	mock.ExpectRollback()

	_, err := svc.Swap(context.Background(), admin, 11, 7, model.TypeInSchool)
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Empty(t, events.balance)
	assert.Empty(t, events.confirmed)
}

func TestCoreSubjectLockBlocksMutations(t *testing.T) {
	cases := []struct {
		name string
		call func(svc *Coordinator) error
	}{
		{"drop", func(svc *Coordinator) error {
			_, err := svc.Drop(context.Background(), admin, 11)
			return err
		}},
		{"swap", func(svc *Coordinator) error {
			_, err := svc.Swap(context.Background(), admin, 11, 7, model.TypeInSchool)
			return err
		}},
		{"switch type", func(svc *Coordinator) error {
			_, err := svc.SwitchType(context.Background(), admin, 11, model.TypeExternal)
			return err
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, mock, events := newCoordinatorMock(t)

			// Grade-10 student, June session, core subject: locked. Only the
			// reads below are expected; any UPDATE or INSERT would fail the
			// mock.
			mock.ExpectBegin()
			mock.ExpectQuery(getRegistrationSQL).WithArgs(uint64(11)).
				WillReturnRows(confirmedRegRow(11, 42, 1, 6, 80000))
			mock.ExpectQuery(getSessionSQL).WithArgs(uint64(1)).WillReturnRows(activeJuneSessionRow(1))
			mock.ExpectQuery(studentGradeSQL).WithArgs(uint64(42)).WillReturnRows(gradeRow(10))
			mock.ExpectQuery(getSubjectsSQL).WithArgs(uint64(6)).
				WillReturnRows(subjectRow(6, "Mathematics", "0580", 80000, true))
			mock.ExpectRollback()

			err := tc.call(svc)
			assert.ErrorIs(t, err, repository.ErrCoreSubjectLocked)
			assert.NoError(t, mock.ExpectationsWereMet())
			assert.Empty(t, events.balance)
			assert.Empty(t, events.confirmed)
		})
	}
}

package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/igcse-subject-reservation/internal/model"
)

const (
	lockEscrowSQL    = `SELECT id, balance_piastres FROM escrows WHERE student_id = \? FOR UPDATE`
	insertEscrowSQL  = `INSERT INTO escrows \(student_id, balance_piastres\) VALUES \(\?, 0\)`
	updateBalanceSQL = `UPDATE escrows SET balance_piastres = \? WHERE id = \?`
	insertTxnSQL     = `INSERT INTO escrow_transactions`
)

func newEscrowMock(t *testing.T) (*EscrowRepo, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewEscrowRepo(db), mock
}

func TestCreditTxCreatesEscrowLazily(t *testing.T) {
	repo, mock := newEscrowMock(t)

	mock.ExpectBegin()
	// No escrow row yet: the first credit creates one with a zero balance.
	mock.ExpectQuery(lockEscrowSQL).WithArgs(uint64(42)).WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(insertEscrowSQL).WithArgs(uint64(42)).WillReturnResult(sqlmock.NewResult(7, 1))
	mock.ExpectExec(updateBalanceSQL).WithArgs(int64(50000), uint64(7)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(insertTxnSQL).
		WithArgs(uint64(7), uint64(42), model.TxnCredit, int64(50000), model.ReasonDrop, nil, nil, uint64(42)).
		WillReturnResult(sqlmock.NewResult(101, 1))

	tx, err := repo.DB().Begin()
	require.NoError(t, err)

	txn, newBalance, err := repo.CreditTx(context.Background(), tx, 42, model.FromPounds(500), model.ReasonDrop, RelatedIDs{}, 42)
	require.NoError(t, err)
	assert.Equal(t, uint64(101), txn.ID)
	assert.Equal(t, model.TxnCredit, txn.Type)
	assert.Equal(t, model.FromPounds(500), txn.Amount)
	assert.Equal(t, model.FromPounds(500), newBalance)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreditTxRejectsNonPositiveAmount(t *testing.T) {
	repo, mock := newEscrowMock(t)
	mock.ExpectBegin()
	tx, err := repo.DB().Begin()
	require.NoError(t, err)

	_, _, err = repo.CreditTx(context.Background(), tx, 42, 0, model.ReasonDrop, RelatedIDs{}, 1)
	assert.ErrorIs(t, err, ErrNonPositiveAmount)

	_, _, err = repo.DebitTx(context.Background(), tx, 42, model.Money(-5), model.ReasonWithdrawal, RelatedIDs{}, 1)
	assert.ErrorIs(t, err, ErrNonPositiveAmount)
}

func TestDebitTxHappyPath(t *testing.T) {
	repo, mock := newEscrowMock(t)
	regID := uint64(9)

	mock.ExpectBegin()
	mock.ExpectQuery(lockEscrowSQL).WithArgs(uint64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "balance_piastres"}).AddRow(7, 50000))
	mock.ExpectExec(updateBalanceSQL).WithArgs(int64(20000), uint64(7)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(insertTxnSQL).
		WithArgs(uint64(7), uint64(42), model.TxnDebit, int64(30000), model.ReasonSwapCharge, int64(9), nil, uint64(1)).
		WillReturnResult(sqlmock.NewResult(102, 1))

	tx, err := repo.DB().Begin()
	require.NoError(t, err)

	txn, newBalance, err := repo.DebitTx(context.Background(), tx, 42, model.FromPounds(300), model.ReasonSwapCharge, RelatedIDs{RegistrationID: &regID}, 1)
	require.NoError(t, err)
	assert.Equal(t, model.FromPounds(200), newBalance)
	assert.Equal(t, model.TxnDebit, txn.Type)
	require.NotNil(t, txn.RelatedRegistrationID)
	assert.Equal(t, regID, *txn.RelatedRegistrationID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDebitTxInsufficientBalance(t *testing.T) {
	repo, mock := newEscrowMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(lockEscrowSQL).WithArgs(uint64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "balance_piastres"}).AddRow(7, 10000))

	tx, err := repo.DB().Begin()
	require.NoError(t, err)

	_, _, err = repo.DebitTx(context.Background(), tx, 42, model.FromPounds(200), model.ReasonWithdrawal, RelatedIDs{}, 1)
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDebitTxMissingEscrow(t *testing.T) {
	repo, mock := newEscrowMock(t)

	mock.ExpectBegin()
	// A student with no escrow row has a zero balance: any debit fails.
	mock.ExpectQuery(lockEscrowSQL).WithArgs(uint64(42)).WillReturnError(sql.ErrNoRows)

	tx, err := repo.DB().Begin()
	require.NoError(t, err)

	_, _, err = repo.DebitTx(context.Background(), tx, 42, model.FromPounds(1), model.ReasonWithdrawal, RelatedIDs{}, 1)
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBalanceEqualsSignedSumOfTransactions(t *testing.T) {
	repo, mock := newEscrowMock(t)

	ops := []struct {
		credit bool
		amount model.Money
		reason string
	}{
		{true, model.FromPounds(500), model.ReasonDrop},
		{true, model.FromPounds(120), model.ReasonTransferIn},
		{false, model.FromPounds(300), model.ReasonSwapCharge},
		{true, model.FromPounds(40), model.ReasonSwapRefund},
		{false, model.FromPounds(260), model.ReasonWithdrawal},
	}

	mock.ExpectBegin()
	running := int64(0)
	for i, op := range ops {
		if i == 0 {
			// First credit creates the escrow lazily at a zero balance.
			mock.ExpectQuery(lockEscrowSQL).WithArgs(uint64(42)).WillReturnError(sql.ErrNoRows)
			mock.ExpectExec(insertEscrowSQL).WithArgs(uint64(42)).WillReturnResult(sqlmock.NewResult(7, 1))
		} else {
			mock.ExpectQuery(lockEscrowSQL).WithArgs(uint64(42)).
				WillReturnRows(sqlmock.NewRows([]string{"id", "balance_piastres"}).AddRow(7, running))
		}
		txnType := model.TxnDebit
		if op.credit {
			running += op.amount.Piastres()
			txnType = model.TxnCredit
		} else {
			running -= op.amount.Piastres()
		}
		mock.ExpectExec(updateBalanceSQL).WithArgs(running, uint64(7)).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(insertTxnSQL).
			WithArgs(uint64(7), uint64(42), txnType, op.amount.Piastres(), op.reason, nil, nil, uint64(1)).
			WillReturnResult(sqlmock.NewResult(int64(200+i), 1))
	}

	tx, err := repo.DB().Begin()
	require.NoError(t, err)

	// After every step the balance handed back by the ledger must equal the
	// signed sum of all transactions appended so far (credit +, debit -).
	signedSum := model.Money(0)
	for _, op := range ops {
		var balance model.Money
		if op.credit {
			_, balance, err = repo.CreditTx(context.Background(), tx, 42, op.amount, op.reason, RelatedIDs{}, 1)
			signedSum = signedSum.Add(op.amount)
		} else {
			_, balance, err = repo.DebitTx(context.Background(), tx, 42, op.amount, op.reason, RelatedIDs{}, 1)
			signedSum = signedSum.Sub(op.amount)
		}
		require.NoError(t, err)
		assert.Equal(t, signedSum, balance)
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBalanceMissingEscrowReadsZero(t *testing.T) {
	repo, mock := newEscrowMock(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT balance_piastres FROM escrows WHERE student_id = ?`)).
		WithArgs(uint64(42)).WillReturnError(sql.ErrNoRows)

	balance, err := repo.Balance(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, model.Money(0), balance)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentAppliedTx(t *testing.T) {
	repo, mock := newEscrowMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT related_registration_id`).
		WithArgs(uint64(11), uint64(12)).
		WillReturnRows(sqlmock.NewRows([]string{"related_registration_id", "net"}).
			AddRow(11, 50000).
			AddRow(12, 10000))

	tx, err := repo.DB().Begin()
	require.NoError(t, err)

	applied, err := repo.PaymentAppliedTx(context.Background(), tx, []uint64{11, 12})
	require.NoError(t, err)
	assert.Equal(t, map[uint64]model.Money{
		11: model.FromPounds(500),
		12: model.FromPounds(100),
	}, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentAppliedTxEmptyInput(t *testing.T) {
	repo, mock := newEscrowMock(t)

	mock.ExpectBegin()
	tx, err := repo.DB().Begin()
	require.NoError(t, err)

	applied, err := repo.PaymentAppliedTx(context.Background(), tx, nil)
	require.NoError(t, err)
	assert.Empty(t, applied)
}

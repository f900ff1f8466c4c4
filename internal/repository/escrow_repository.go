package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/iliyamo/igcse-subject-reservation/internal/model"
)

// ErrNonPositiveAmount is returned when a ledger primitive is invoked with a
// zero or negative amount. Credits and debits always move strictly positive
// amounts; signs are expressed through the transaction type instead.
var ErrNonPositiveAmount = errors.New("amount must be positive")

// EscrowRepo owns the escrows and escrow_transactions tables. All balance
// mutations go through CreditTx/DebitTx so that the balance and the
// append-only transaction log change together inside the caller's
// transaction; nothing else in the codebase writes these tables. Ledger
// entries are never updated or deleted; corrections are compensating
// entries.
type EscrowRepo struct {
	db *sql.DB
}

// NewEscrowRepo returns a new EscrowRepo bound to the given database.
func NewEscrowRepo(db *sql.DB) *EscrowRepo { return &EscrowRepo{db: db} }

// DB exposes the underlying handle so the coordinator can begin
// transactions spanning several repositories.
func (r *EscrowRepo) DB() *sql.DB { return r.db }

// RelatedIDs carries the optional foreign references recorded on a ledger
// entry so statements and compensations can be traced back to the
// registration or external payment that caused them.
type RelatedIDs struct {
	RegistrationID *uint64
	PaymentID      *string
}

// LockTx loads the escrow row for a student with SELECT ... FOR UPDATE,
// serializing all concurrent ledger operations on that student. When
// createIfMissing is set and no escrow exists yet, one is created lazily
// with a zero balance (first financial event for the student). Without
// createIfMissing, a missing escrow returns sql.ErrNoRows.
//
// Callers composing multi-escrow operations (transfer) must invoke LockTx
// for every involved student in ascending student-ID order before applying
// any mutation, so two opposite-direction transfers cannot deadlock.
func (r *EscrowRepo) LockTx(ctx context.Context, tx *sql.Tx, studentID uint64, createIfMissing bool) (uint64, model.Money, error) {
	const q = `SELECT id, balance_piastres FROM escrows WHERE student_id = ? FOR UPDATE`
	var id uint64
	var balance int64
	err := tx.QueryRowContext(ctx, q, studentID).Scan(&id, &balance)
	if err == nil {
		return id, model.Money(balance), nil
	}
	if !errors.Is(err, sql.ErrNoRows) || !createIfMissing {
		return 0, 0, err
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO escrows (student_id, balance_piastres) VALUES (?, 0)`, studentID)
	if err != nil {
		return 0, 0, err
	}
	newID, err := res.LastInsertId()
	if err != nil {
		return 0, 0, err
	}
	return uint64(newID), 0, nil
}

// CreditTx appends a credit entry and increases the balance inside the
// provided transaction, creating the escrow lazily when absent. It returns
// the appended entry and the new balance. It never fails for business
// reasons except a non-positive amount.
func (r *EscrowRepo) CreditTx(ctx context.Context, tx *sql.Tx, studentID uint64, amount model.Money, reason string, rel RelatedIDs, initiatedBy uint64) (*model.EscrowTransaction, model.Money, error) {
	if !amount.IsPositive() {
		return nil, 0, ErrNonPositiveAmount
	}
	escrowID, balance, err := r.LockTx(ctx, tx, studentID, true)
	if err != nil {
		return nil, 0, err
	}
	newBalance := balance.Add(amount)
	txn, err := r.appendTx(ctx, tx, escrowID, studentID, model.TxnCredit, amount, reason, rel, initiatedBy, newBalance)
	if err != nil {
		return nil, 0, err
	}
	return txn, newBalance, nil
}

// DebitTx appends a debit entry and decreases the balance inside the
// provided transaction. It fails with ErrInsufficientFunds when the amount
// exceeds the current balance; a student with no escrow yet has a zero
// balance, so any debit on a missing escrow fails the same way.
func (r *EscrowRepo) DebitTx(ctx context.Context, tx *sql.Tx, studentID uint64, amount model.Money, reason string, rel RelatedIDs, initiatedBy uint64) (*model.EscrowTransaction, model.Money, error) {
	if !amount.IsPositive() {
		return nil, 0, ErrNonPositiveAmount
	}
	escrowID, balance, err := r.LockTx(ctx, tx, studentID, false)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, 0, ErrInsufficientFunds
		}
		return nil, 0, err
	}
	if amount > balance {
		return nil, 0, ErrInsufficientFunds
	}
	newBalance := balance.Sub(amount)
	txn, err := r.appendTx(ctx, tx, escrowID, studentID, model.TxnDebit, amount, reason, rel, initiatedBy, newBalance)
	if err != nil {
		return nil, 0, err
	}
	return txn, newBalance, nil
}

// appendTx writes the new balance and the ledger entry. The escrow row is
// already locked by the caller via LockTx.
func (r *EscrowRepo) appendTx(ctx context.Context, tx *sql.Tx, escrowID, studentID uint64, txnType string, amount model.Money, reason string, rel RelatedIDs, initiatedBy uint64, newBalance model.Money) (*model.EscrowTransaction, error) {
	if _, err := tx.ExecContext(ctx,
		`UPDATE escrows SET balance_piastres = ? WHERE id = ?`,
		newBalance.Piastres(), escrowID,
	); err != nil {
		return nil, err
	}
	const ins = `INSERT INTO escrow_transactions
        (escrow_id, student_id, txn_type, amount_piastres, reason, related_registration_id, related_payment_id, initiated_by)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := tx.ExecContext(ctx, ins,
		escrowID, studentID, txnType, amount.Piastres(), reason,
		rel.RegistrationID, rel.PaymentID, initiatedBy,
	)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &model.EscrowTransaction{
		ID:                    uint64(id),
		EscrowID:              escrowID,
		StudentID:             studentID,
		Type:                  txnType,
		Amount:                amount,
		Reason:                reason,
		RelatedRegistrationID: rel.RegistrationID,
		RelatedPaymentID:      rel.PaymentID,
		InitiatedBy:           initiatedBy,
		CreatedAt:             time.Now().UTC(),
	}, nil
}

// Balance returns the current escrow balance for a student, or zero when no
// escrow exists yet. Reading the balance never creates an escrow.
func (r *EscrowRepo) Balance(ctx context.Context, studentID uint64) (model.Money, error) {
	const q = `SELECT balance_piastres FROM escrows WHERE student_id = ?`
	var balance int64
	err := r.db.QueryRowContext(ctx, q, studentID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return model.Money(balance), nil
}

// TransactionsByStudent returns a page of the student's ledger entries,
// newest first. An absent escrow yields an empty page.
func (r *EscrowRepo) TransactionsByStudent(ctx context.Context, studentID uint64, limit, offset int) ([]model.EscrowTransaction, error) {
	const q = `SELECT id, escrow_id, student_id, txn_type, amount_piastres, reason,
                      related_registration_id, related_payment_id, initiated_by, created_at
               FROM escrow_transactions
               WHERE student_id = ?
               ORDER BY id DESC
               LIMIT ? OFFSET ?`
	rows, err := r.db.QueryContext(ctx, q, studentID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	txns := make([]model.EscrowTransaction, 0)
	for rows.Next() {
		var t model.EscrowTransaction
		var amount int64
		var regID sql.NullInt64
		var payID sql.NullString
		if err := rows.Scan(&t.ID, &t.EscrowID, &t.StudentID, &t.Type, &amount, &t.Reason,
			&regID, &payID, &t.InitiatedBy, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Amount = model.Money(amount)
		if regID.Valid {
			v := uint64(regID.Int64)
			t.RelatedRegistrationID = &v
		}
		if payID.Valid {
			v := payID.String
			t.RelatedPaymentID = &v
		}
		txns = append(txns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return txns, nil
}

// PaymentAppliedTx returns, per registration ID, the net escrow amount
// applied at checkout (PAYMENT_APPLIED debits minus any compensating
// credits). Reclamation and payment failure use this to credit back exactly
// what was taken for a released registration.
func (r *EscrowRepo) PaymentAppliedTx(ctx context.Context, tx *sql.Tx, registrationIDs []uint64) (map[uint64]model.Money, error) {
	applied := make(map[uint64]model.Money)
	if len(registrationIDs) == 0 {
		return applied, nil
	}
	placeholders := make([]string, 0, len(registrationIDs))
	args := make([]interface{}, 0, len(registrationIDs))
	for _, id := range registrationIDs {
		placeholders = append(placeholders, "?")
		args = append(args, id)
	}
	query := `SELECT related_registration_id,
                     SUM(CASE WHEN txn_type = 'DEBIT' THEN amount_piastres ELSE -amount_piastres END)
              FROM escrow_transactions
              WHERE reason = 'PAYMENT_APPLIED' AND related_registration_id IN (` + strings.Join(placeholders, ",") + `)
              GROUP BY related_registration_id`
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var regID uint64
		var net int64
		if err := rows.Scan(&regID, &net); err != nil {
			return nil, err
		}
		applied[regID] = model.Money(net)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return applied, nil
}

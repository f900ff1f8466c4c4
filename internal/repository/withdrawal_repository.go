package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iliyamo/igcse-subject-reservation/internal/model"
)

// WithdrawalRepo owns the withdrawal_requests table. Requests enter PENDING
// and leave it exactly once, via a conditional update inside the
// coordinator's fulfillment transaction, so two admins racing on the same
// request cannot both release money.
type WithdrawalRepo struct {
	db *sql.DB
}

// NewWithdrawalRepo returns a new WithdrawalRepo bound to the given database.
func NewWithdrawalRepo(db *sql.DB) *WithdrawalRepo { return &WithdrawalRepo{db: db} }

const withdrawalColumns = `id, escrow_id, student_id, requested_piastres, released_piastres, status,
               admin_notes, requested_by, fulfilled_at, fulfilled_by, created_at, updated_at`

func scanWithdrawal(row interface{ Scan(...interface{}) error }) (*model.WithdrawalRequest, error) {
	var w model.WithdrawalRequest
	var requested int64
	var released sql.NullInt64
	var notes sql.NullString
	var fulfilledAt sql.NullTime
	var fulfilledBy sql.NullInt64
	if err := row.Scan(&w.ID, &w.EscrowID, &w.StudentID, &requested, &released, &w.Status,
		&notes, &w.RequestedBy, &fulfilledAt, &fulfilledBy, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return nil, err
	}
	w.RequestedAmount = model.Money(requested)
	if released.Valid {
		m := model.Money(released.Int64)
		w.ReleasedAmount = &m
	}
	if notes.Valid {
		s := notes.String
		w.AdminNotes = &s
	}
	if fulfilledAt.Valid {
		t := fulfilledAt.Time
		w.FulfilledAt = &t
	}
	if fulfilledBy.Valid {
		v := uint64(fulfilledBy.Int64)
		w.FulfilledBy = &v
	}
	return &w, nil
}

// CreateTx inserts a PENDING request within the caller's transaction and
// populates the generated ID. The escrow is created lazily beforehand by
// the coordinator so EscrowID is always valid.
func (r *WithdrawalRepo) CreateTx(ctx context.Context, tx *sql.Tx, w *model.WithdrawalRequest) error {
	const q = `INSERT INTO withdrawal_requests (escrow_id, student_id, requested_piastres, status, requested_by)
               VALUES (?, ?, ?, 'PENDING', ?)`
	res, err := tx.ExecContext(ctx, q, w.EscrowID, w.StudentID, w.RequestedAmount.Piastres(), w.RequestedBy)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	w.ID = uint64(id)
	w.Status = model.WithdrawalPending
	w.CreatedAt = time.Now().UTC()
	w.UpdatedAt = w.CreatedAt
	return nil
}

// GetTx loads a request with FOR UPDATE so fulfillment serializes per
// request. Returns ErrNotFound when absent.
func (r *WithdrawalRepo) GetTx(ctx context.Context, tx *sql.Tx, id uint64) (*model.WithdrawalRequest, error) {
	const q = `SELECT ` + withdrawalColumns + ` FROM withdrawal_requests WHERE id = ? FOR UPDATE`
	w, err := scanWithdrawal(tx.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return w, err
}

// ResolveTx moves a request out of PENDING, recording outcome, notes and,
// when money was released, the released amount plus the fulfillment stamp.
// A nil released amount (rejection) leaves released_piastres, fulfilled_at
// and fulfilled_by NULL so a rejected request never reads as a zero-release
// fulfillment. The update is conditional on PENDING; zero affected rows
// means the request was already resolved (ErrInvalidTransition) or never
// existed (ErrNotFound).
func (r *WithdrawalRepo) ResolveTx(ctx context.Context, tx *sql.Tx, id uint64, status string, released *model.Money, adminID uint64, notes *string) error {
	var res sql.Result
	var err error
	if released != nil {
		const q = `UPDATE withdrawal_requests
               SET status = ?, released_piastres = ?, admin_notes = ?, fulfilled_at = UTC_TIMESTAMP(), fulfilled_by = ?
               WHERE id = ? AND status = 'PENDING'`
		res, err = tx.ExecContext(ctx, q, status, released.Piastres(), notes, adminID, id)
	} else {
		const q = `UPDATE withdrawal_requests
               SET status = ?, admin_notes = ?
               WHERE id = ? AND status = 'PENDING'`
		res, err = tx.ExecContext(ctx, q, status, notes, id)
	}
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var current string
		err := tx.QueryRowContext(ctx, `SELECT status FROM withdrawal_requests WHERE id = ?`, id).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return ErrInvalidTransition
	}
	return nil
}

// ListForStudent returns a student's requests, newest first.
func (r *WithdrawalRepo) ListForStudent(ctx context.Context, studentID uint64) ([]model.WithdrawalRequest, error) {
	const q = `SELECT ` + withdrawalColumns + ` FROM withdrawal_requests WHERE student_id = ? ORDER BY id DESC`
	return r.list(ctx, q, studentID)
}

// ListPending returns all PENDING requests for the admin review queue,
// oldest first.
func (r *WithdrawalRepo) ListPending(ctx context.Context) ([]model.WithdrawalRequest, error) {
	const q = `SELECT ` + withdrawalColumns + ` FROM withdrawal_requests WHERE status = 'PENDING' ORDER BY id`
	return r.list(ctx, q)
}

func (r *WithdrawalRepo) list(ctx context.Context, query string, args ...interface{}) ([]model.WithdrawalRequest, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	requests := make([]model.WithdrawalRequest, 0)
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, *w)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return requests, nil
}

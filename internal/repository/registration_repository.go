package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/iliyamo/igcse-subject-reservation/internal/model"
)

// RegistrationRepo owns the registrations table: per-student, per-session,
// per-subject enrollment rows with immutable price snapshots. Status
// transitions are enforced with conditional UPDATE statements so that two
// concurrent operations on the same registration cannot both succeed: the
// loser observes zero affected rows and fails with ErrInvalidTransition.
type RegistrationRepo struct {
	db *sql.DB
}

// NewRegistrationRepo returns a new RegistrationRepo bound to the given database.
func NewRegistrationRepo(db *sql.DB) *RegistrationRepo { return &RegistrationRepo{db: db} }

const registrationColumns = `id, student_id, session_id, subject_id, registration_type,
               price_at_registration_piastres, status, registered_by, swapped_from_id, dropped_at, created_at, updated_at`

func scanRegistration(row interface{ Scan(...interface{}) error }) (*model.Registration, error) {
	var reg model.Registration
	var price int64
	var swappedFrom sql.NullInt64
	var droppedAt sql.NullTime
	if err := row.Scan(&reg.ID, &reg.StudentID, &reg.SessionID, &reg.SubjectID, &reg.RegistrationType,
		&price, &reg.Status, &reg.RegisteredBy, &swappedFrom, &droppedAt, &reg.CreatedAt, &reg.UpdatedAt); err != nil {
		return nil, err
	}
	reg.PriceAtRegistration = model.Money(price)
	if swappedFrom.Valid {
		v := uint64(swappedFrom.Int64)
		reg.SwappedFromID = &v
	}
	if droppedAt.Valid {
		t := droppedAt.Time
		reg.DroppedAt = &t
	}
	return &reg, nil
}

// ActiveExistsTx reports whether a non-dropped registration already exists
// for the (student, session, subject) triple. The row, when present, is
// locked FOR UPDATE so a concurrent checkout for the same subject serializes
// behind this transaction.
func (r *RegistrationRepo) ActiveExistsTx(ctx context.Context, tx *sql.Tx, studentID, sessionID, subjectID uint64) (bool, error) {
	const q = `SELECT id FROM registrations
               WHERE student_id = ? AND session_id = ? AND subject_id = ? AND status <> 'DROPPED'
               FOR UPDATE`
	var id uint64
	err := tx.QueryRowContext(ctx, q, studentID, sessionID, subjectID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// CreateTx inserts a new registration within the scope of an existing
// transaction and populates the generated ID on the provided record. The
// caller is responsible for the duplicate check (ActiveExistsTx) and for
// committing or rolling back.
func (r *RegistrationRepo) CreateTx(ctx context.Context, tx *sql.Tx, reg *model.Registration) error {
	const q = `INSERT INTO registrations
        (student_id, session_id, subject_id, registration_type, price_at_registration_piastres, status, registered_by, swapped_from_id)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := tx.ExecContext(ctx, q,
		reg.StudentID, reg.SessionID, reg.SubjectID, reg.RegistrationType,
		reg.PriceAtRegistration.Piastres(), reg.Status, reg.RegisteredBy, reg.SwappedFromID,
	)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	reg.ID = uint64(id)
	reg.CreatedAt = time.Now().UTC()
	reg.UpdatedAt = reg.CreatedAt
	return nil
}

// GetTx loads a registration by ID with FOR UPDATE, serializing concurrent
// drop/swap/switch operations on the same row. Returns ErrNotFound when the
// row does not exist.
func (r *RegistrationRepo) GetTx(ctx context.Context, tx *sql.Tx, id uint64) (*model.Registration, error) {
	const q = `SELECT ` + registrationColumns + ` FROM registrations WHERE id = ? FOR UPDATE`
	reg, err := scanRegistration(tx.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return reg, err
}

// Get loads a registration by ID outside any transaction.
func (r *RegistrationRepo) Get(ctx context.Context, id uint64) (*model.Registration, error) {
	const q = `SELECT ` + registrationColumns + ` FROM registrations WHERE id = ?`
	reg, err := scanRegistration(r.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return reg, err
}

// ConfirmTx transitions PENDING_PAYMENT -> CONFIRMED. The update is
// conditional on the current status: when zero rows are affected the row was
// either reclaimed meanwhile (ErrNotFound) or is not pending
// (ErrInvalidTransition), and the caller's transaction should roll back.
func (r *RegistrationRepo) ConfirmTx(ctx context.Context, tx *sql.Tx, id uint64) error {
	const q = `UPDATE registrations SET status = 'CONFIRMED', swapped_from_id = NULL WHERE id = ? AND status = 'PENDING_PAYMENT'`
	res, err := tx.ExecContext(ctx, q, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return r.transitionFailure(ctx, tx, id)
	}
	return nil
}

// DropTx transitions CONFIRMED -> DROPPED and returns the drop timestamp.
// Fails with ErrInvalidTransition from any other state.
func (r *RegistrationRepo) DropTx(ctx context.Context, tx *sql.Tx, id uint64) (time.Time, error) {
	droppedAt := time.Now().UTC()
	const q = `UPDATE registrations SET status = 'DROPPED', dropped_at = ? WHERE id = ? AND status = 'CONFIRMED'`
	res, err := tx.ExecContext(ctx, q, droppedAt.Format("2006-01-02 15:04:05"), id)
	if err != nil {
		return time.Time{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return time.Time{}, err
	}
	if n == 0 {
		return time.Time{}, r.transitionFailure(ctx, tx, id)
	}
	return droppedAt, nil
}

// UpdateTypeTx rewrites the registration type and price snapshot on a
// CONFIRMED row (in-school/external switch). The snapshot changes here and
// only here, together with the settling ledger entry in the same
// transaction.
func (r *RegistrationRepo) UpdateTypeTx(ctx context.Context, tx *sql.Tx, id uint64, newType string, newPrice model.Money) error {
	const q = `UPDATE registrations SET registration_type = ?, price_at_registration_piastres = ? WHERE id = ? AND status = 'CONFIRMED'`
	res, err := tx.ExecContext(ctx, q, newType, newPrice.Piastres(), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return r.transitionFailure(ctx, tx, id)
	}
	return nil
}

// transitionFailure distinguishes a vanished row from a row in the wrong
// state after a conditional update affected nothing.
func (r *RegistrationRepo) transitionFailure(ctx context.Context, tx *sql.Tx, id uint64) error {
	var status string
	err := tx.QueryRowContext(ctx, `SELECT status FROM registrations WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return ErrInvalidTransition
}

// ConfirmedSubjectIDsTx returns the set of subject IDs the student holds
// CONFIRMED registrations for in a session. Used for core-completeness
// checks inside checkout and swap transactions.
func (r *RegistrationRepo) ConfirmedSubjectIDsTx(ctx context.Context, tx *sql.Tx, studentID, sessionID uint64) (map[uint64]struct{}, error) {
	const q = `SELECT subject_id FROM registrations WHERE student_id = ? AND session_id = ? AND status = 'CONFIRMED'`
	rows, err := tx.QueryContext(ctx, q, studentID, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := make(map[uint64]struct{})
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

// ListForStudent returns all registrations for a student, optionally
// filtered to one session, newest first.
func (r *RegistrationRepo) ListForStudent(ctx context.Context, studentID uint64, sessionID *uint64) ([]model.Registration, error) {
	query := `SELECT ` + registrationColumns + ` FROM registrations WHERE student_id = ?`
	args := []interface{}{studentID}
	if sessionID != nil {
		query += ` AND session_id = ?`
		args = append(args, *sessionID)
	}
	query += ` ORDER BY id DESC`
	return r.list(ctx, query, args...)
}

// ListActiveForSession returns the CONFIRMED registrations of a session,
// used for compliance and enrollment reporting.
func (r *RegistrationRepo) ListActiveForSession(ctx context.Context, sessionID uint64) ([]model.Registration, error) {
	const q = `SELECT ` + registrationColumns + ` FROM registrations WHERE session_id = ? AND status = 'CONFIRMED' ORDER BY student_id, subject_id`
	return r.list(ctx, q, sessionID)
}

func (r *RegistrationRepo) list(ctx context.Context, query string, args ...interface{}) ([]model.Registration, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	regs := make([]model.Registration, 0)
	for rows.Next() {
		reg, err := scanRegistration(rows)
		if err != nil {
			return nil, err
		}
		regs = append(regs, *reg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return regs, nil
}

// ExpiredPendingTx returns the PENDING_PAYMENT rows of a session created
// before the cutoff and deletes them, freeing the subject slots. The
// returned rows let the caller compensate any escrow applied at checkout.
// Runs entirely inside the provided transaction; a concurrent late
// confirmation either commits before this (the row is no longer pending) or
// observes the deletion and fails cleanly.
func (r *RegistrationRepo) ExpiredPendingTx(ctx context.Context, tx *sql.Tx, sessionID uint64, cutoff time.Time) ([]model.Registration, error) {
	const q = `SELECT ` + registrationColumns + ` FROM registrations
               WHERE session_id = ? AND status = 'PENDING_PAYMENT' AND created_at <= ?
               FOR UPDATE`
	rows, err := tx.QueryContext(ctx, q, sessionID, cutoff.UTC().Format("2006-01-02 15:04:05"))
	if err != nil {
		return nil, err
	}
	expired := make([]model.Registration, 0)
	for rows.Next() {
		reg, scanErr := scanRegistration(rows)
		if scanErr != nil {
			rows.Close()
			return nil, scanErr
		}
		expired = append(expired, *reg)
	}
	if err = rows.Close(); err != nil {
		return nil, err
	}
	if len(expired) == 0 {
		return expired, nil
	}
	if err := r.deleteTx(ctx, tx, expired); err != nil {
		return nil, err
	}
	return expired, nil
}

// PendingByIDsTx locks and returns the rows among ids that are still
// PENDING_PAYMENT, then deletes them. Used by payment failure to release the
// slots of an abandoned checkout.
func (r *RegistrationRepo) PendingByIDsTx(ctx context.Context, tx *sql.Tx, ids []uint64) ([]model.Registration, error) {
	if len(ids) == 0 {
		return []model.Registration{}, nil
	}
	placeholders := make([]string, 0, len(ids))
	args := make([]interface{}, 0, len(ids))
	for _, id := range ids {
		placeholders = append(placeholders, "?")
		args = append(args, id)
	}
	query := `SELECT ` + registrationColumns + ` FROM registrations
              WHERE id IN (` + strings.Join(placeholders, ",") + `) AND status = 'PENDING_PAYMENT'
              FOR UPDATE`
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	pending := make([]model.Registration, 0)
	for rows.Next() {
		reg, scanErr := scanRegistration(rows)
		if scanErr != nil {
			rows.Close()
			return nil, scanErr
		}
		pending = append(pending, *reg)
	}
	if err = rows.Close(); err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		return pending, nil
	}
	if err := r.deleteTx(ctx, tx, pending); err != nil {
		return nil, err
	}
	return pending, nil
}

func (r *RegistrationRepo) deleteTx(ctx context.Context, tx *sql.Tx, regs []model.Registration) error {
	placeholders := make([]string, 0, len(regs))
	args := make([]interface{}, 0, len(regs))
	for _, reg := range regs {
		placeholders = append(placeholders, "?")
		args = append(args, reg.ID)
	}
	query := `DELETE FROM registrations WHERE id IN (` + strings.Join(placeholders, ",") + `)`
	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

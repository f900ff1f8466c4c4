package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/iliyamo/igcse-subject-reservation/internal/model"
)

// SessionRepo manages registration session windows. Lifecycle transitions
// are forward-only (DRAFT -> ACTIVE -> CLOSED) and enforced with conditional
// updates, the same mechanism registrations use, so an admin racing an
// auto-close cannot resurrect a closed session.
type SessionRepo struct {
	db *sql.DB
}

// NewSessionRepo returns a new SessionRepo bound to the given database.
func NewSessionRepo(db *sql.DB) *SessionRepo { return &SessionRepo{db: db} }

const sessionColumns = `id, name, session_type, starts_at, ends_at, status, created_at, updated_at`

func scanSession(row interface{ Scan(...interface{}) error }) (*model.RegistrationSession, error) {
	var s model.RegistrationSession
	if err := row.Scan(&s.ID, &s.Name, &s.SessionType, &s.StartsAt, &s.EndsAt, &s.Status, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	return &s, nil
}

// Create inserts a session in DRAFT state and populates the generated ID.
func (r *SessionRepo) Create(ctx context.Context, s *model.RegistrationSession) error {
	const q = `INSERT INTO registration_sessions (name, session_type, starts_at, ends_at, status) VALUES (?, ?, ?, ?, 'DRAFT')`
	res, err := r.db.ExecContext(ctx, q, s.Name, s.SessionType,
		s.StartsAt.UTC().Format("2006-01-02 15:04:05"), s.EndsAt.UTC().Format("2006-01-02 15:04:05"))
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	s.ID = uint64(id)
	s.Status = model.SessionDraft
	return nil
}

// GetByID loads one session. Returns ErrNotFound when absent.
func (r *SessionRepo) GetByID(ctx context.Context, id uint64) (*model.RegistrationSession, error) {
	const q = `SELECT ` + sessionColumns + ` FROM registration_sessions WHERE id = ?`
	s, err := scanSession(r.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return s, err
}

// GetByIDTx loads one session inside a transaction. The coordinator reads
// the session once per operation; the status check stays valid for the
// duration of the transaction because the row is locked.
func (r *SessionRepo) GetByIDTx(ctx context.Context, tx *sql.Tx, id uint64) (*model.RegistrationSession, error) {
	const q = `SELECT ` + sessionColumns + ` FROM registration_sessions WHERE id = ? FOR UPDATE`
	s, err := scanSession(tx.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return s, err
}

// Activate transitions DRAFT -> ACTIVE. Fails with ErrInvalidTransition
// when the session is in any other state and ErrNotFound when it is absent.
func (r *SessionRepo) Activate(ctx context.Context, id uint64) error {
	return r.transition(ctx, id, model.SessionDraft, model.SessionActive)
}

// Close transitions ACTIVE -> CLOSED. CLOSED is terminal.
func (r *SessionRepo) Close(ctx context.Context, id uint64) error {
	return r.transition(ctx, id, model.SessionActive, model.SessionClosed)
}

func (r *SessionRepo) transition(ctx context.Context, id uint64, from, to string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE registration_sessions SET status = ? WHERE id = ? AND status = ?`, to, id, from)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var status string
		err := r.db.QueryRowContext(ctx, `SELECT status FROM registration_sessions WHERE id = ?`, id).Scan(&status)
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

// List returns all sessions, newest first.
func (r *SessionRepo) List(ctx context.Context) ([]model.RegistrationSession, error) {
	const q = `SELECT ` + sessionColumns + ` FROM registration_sessions ORDER BY id DESC`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	sessions := make([]model.RegistrationSession, 0)
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}

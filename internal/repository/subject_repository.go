package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/iliyamo/igcse-subject-reservation/internal/model"
)

// SubjectRepo provides access to the subject catalogue. The engine only
// reads subjects; prices are snapshotted onto registrations at creation
// time, so catalogue edits never touch existing enrollments.
type SubjectRepo struct {
	db *sql.DB
}

// NewSubjectRepo returns a new SubjectRepo bound to the given database.
func NewSubjectRepo(db *sql.DB) *SubjectRepo { return &SubjectRepo{db: db} }

const subjectColumns = `id, name, code, price_in_school_piastres, price_external_piastres, is_core, is_active, created_at, updated_at`

func scanSubject(row interface{ Scan(...interface{}) error }) (*model.Subject, error) {
	var s model.Subject
	var inSchool int64
	var external sql.NullInt64
	if err := row.Scan(&s.ID, &s.Name, &s.Code, &inSchool, &external, &s.IsCore, &s.IsActive, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	s.PriceInSchool = model.Money(inSchool)
	if external.Valid {
		p := model.Money(external.Int64)
		s.PriceExternal = &p
	}
	return &s, nil
}

// Create inserts a catalogue entry and populates the generated ID.
func (r *SubjectRepo) Create(ctx context.Context, s *model.Subject) error {
	var external interface{}
	if s.PriceExternal != nil {
		external = s.PriceExternal.Piastres()
	}
	const q = `INSERT INTO subjects (name, code, price_in_school_piastres, price_external_piastres, is_core, is_active)
               VALUES (?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, q, s.Name, s.Code, s.PriceInSchool.Piastres(), external, s.IsCore, s.IsActive)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	s.ID = uint64(id)
	return nil
}

// GetByID loads one subject. Returns ErrNotFound when absent.
func (r *SubjectRepo) GetByID(ctx context.Context, id uint64) (*model.Subject, error) {
	const q = `SELECT ` + subjectColumns + ` FROM subjects WHERE id = ?`
	s, err := scanSubject(r.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return s, err
}

// GetByIDsTx loads several subjects at once inside a transaction, keyed by
// ID. Missing IDs are simply absent from the map; callers decide whether
// that is an error.
func (r *SubjectRepo) GetByIDsTx(ctx context.Context, tx *sql.Tx, ids []uint64) (map[uint64]model.Subject, error) {
	out := make(map[uint64]model.Subject)
	if len(ids) == 0 {
		return out, nil
	}
	placeholders := make([]string, 0, len(ids))
	args := make([]interface{}, 0, len(ids))
	for _, id := range ids {
		placeholders = append(placeholders, "?")
		args = append(args, id)
	}
	query := `SELECT ` + subjectColumns + ` FROM subjects WHERE id IN (` + strings.Join(placeholders, ",") + `)`
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		s, err := scanSubject(rows)
		if err != nil {
			return nil, err
		}
		out[s.ID] = *s
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ListActive returns the active catalogue, core subjects first.
func (r *SubjectRepo) ListActive(ctx context.Context) ([]model.Subject, error) {
	const q = `SELECT ` + subjectColumns + ` FROM subjects WHERE is_active = 1 ORDER BY is_core DESC, name`
	return r.list(ctx, q)
}

// ListActiveTx is ListActive inside an existing transaction, used by the
// coordinator when computing the required core set.
func (r *SubjectRepo) ListActiveTx(ctx context.Context, tx *sql.Tx) ([]model.Subject, error) {
	const q = `SELECT ` + subjectColumns + ` FROM subjects WHERE is_active = 1 ORDER BY is_core DESC, name`
	rows, err := tx.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSubjects(rows)
}

// SetActive flips the is_active flag. Returns ErrNotFound when the subject
// does not exist.
func (r *SubjectRepo) SetActive(ctx context.Context, id uint64, active bool) error {
	res, err := r.db.ExecContext(ctx, `UPDATE subjects SET is_active = ? WHERE id = ?`, active, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdatePrices rewrites the catalogue prices. Existing registrations keep
// their snapshots; pass a nil external price to withdraw external offering.
func (r *SubjectRepo) UpdatePrices(ctx context.Context, id uint64, inSchool model.Money, external *model.Money) error {
	var ext interface{}
	if external != nil {
		ext = external.Piastres()
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE subjects SET price_in_school_piastres = ?, price_external_piastres = ? WHERE id = ?`,
		inSchool.Piastres(), ext, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SubjectRepo) list(ctx context.Context, query string, args ...interface{}) ([]model.Subject, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSubjects(rows)
}

func collectSubjects(rows *sql.Rows) ([]model.Subject, error) {
	subjects := make([]model.Subject, 0)
	for rows.Next() {
		s, err := scanSubject(rows)
		if err != nil {
			return nil, err
		}
		subjects = append(subjects, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return subjects, nil
}

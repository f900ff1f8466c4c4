package repository

import (
	"context"
	"database/sql"
	"errors"
)

// StudentRepo supplies the enrollment facts the coordinator consumes:
// student grades and parent links. Grade drives the core-subject policy;
// approved parent links grant a parent authority over a student's
// registrations and escrow.
type StudentRepo struct {
	db *sql.DB
}

// NewStudentRepo returns a new StudentRepo bound to the given database.
func NewStudentRepo(db *sql.DB) *StudentRepo { return &StudentRepo{db: db} }

// CreateTx inserts the student row for a newly registered STUDENT user
// within the caller's transaction, so account and grade appear together.
func (r *StudentRepo) CreateTx(ctx context.Context, tx *sql.Tx, userID uint64, grade uint8) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO students (user_id, grade) VALUES (?, ?)`, userID, grade)
	return err
}

// Grade returns the student's school grade. Returns ErrNotFound when no
// student record exists for the user.
func (r *StudentRepo) Grade(ctx context.Context, studentID uint64) (uint8, error) {
	var grade uint8
	err := r.db.QueryRowContext(ctx, `SELECT grade FROM students WHERE user_id = ?`, studentID).Scan(&grade)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	return grade, err
}

// SetGrade updates a student's grade (yearly progression, admin-driven).
func (r *StudentRepo) SetGrade(ctx context.Context, studentID uint64, grade uint8) error {
	res, err := r.db.ExecContext(ctx, `UPDATE students SET grade = ? WHERE user_id = ?`, grade, studentID)
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

// LinkParent records a PENDING link between a parent and a student. The
// link grants no authority until approved.
func (r *StudentRepo) LinkParent(ctx context.Context, parentID, studentID uint64) (uint64, error) {
	const q = `INSERT INTO parent_links (parent_id, student_id, status) VALUES (?, ?, 'PENDING')`
	res, err := r.db.ExecContext(ctx, q, parentID, studentID)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}

// ApproveLink transitions a link to APPROVED. Fails with
// ErrInvalidTransition when the link is not pending and ErrNotFound when it
// is absent.
func (r *StudentRepo) ApproveLink(ctx context.Context, linkID uint64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE parent_links SET status = 'APPROVED' WHERE id = ? AND status = 'PENDING'`, linkID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var status string
		err := r.db.QueryRowContext(ctx, `SELECT status FROM parent_links WHERE id = ?`, linkID).Scan(&status)
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

// IsParentLinked reports whether an APPROVED link exists between the parent
// and the student.
func (r *StudentRepo) IsParentLinked(ctx context.Context, parentID, studentID uint64) (bool, error) {
	const q = `SELECT id FROM parent_links WHERE parent_id = ? AND student_id = ? AND status = 'APPROVED'`
	var id uint64
	err := r.db.QueryRowContext(ctx, q, parentID, studentID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// LinkedStudents returns the IDs of all students the parent has an APPROVED
// link to, for listing dashboards.
func (r *StudentRepo) LinkedStudents(ctx context.Context, parentID uint64) ([]uint64, error) {
	const q = `SELECT student_id FROM parent_links WHERE parent_id = ? AND status = 'APPROVED' ORDER BY student_id`
	rows, err := r.db.QueryContext(ctx, q, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := make([]uint64, 0)
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/rollcall-dev/rollcall/internal/roster/schema"
)

const studentColumns = `id, name, contact_number, registration_number, email,
	password_hash, is_cr, is_repeater, created_at`

// InsertStudent inserts a new student and returns the generated id.
// A duplicate registration number fails with a constraint error.
func (db *DB) InsertStudent(ctx context.Context, s *schema.Student) (int64, error) {
	query := `
	INSERT INTO students (
		name, contact_number, registration_number, email,
		password_hash, is_cr, is_repeater, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	res, err := db.conn.ExecContext(ctx, query,
		s.Name,
		s.ContactNumber,
		s.RegistrationNumber,
		s.Email,
		s.PasswordHash,
		s.IsCR,
		s.IsRepeater,
		schema.ToMillis(s.CreatedAt),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert student %s: %w", s.RegistrationNumber, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read student id: %w", err)
	}
	db.notify(TableStudents)
	return id, nil
}

// UpdateStudent overwrites every column of the student with the given id.
// An empty PasswordHash keeps the stored hash.
func (db *DB) UpdateStudent(ctx context.Context, s *schema.Student) error {
	query := `
	UPDATE students SET
		name = ?,
		contact_number = ?,
		registration_number = ?,
		email = ?,
		password_hash = CASE WHEN ? = '' THEN password_hash ELSE ? END,
		is_cr = ?,
		is_repeater = ?,
		created_at = ?
	WHERE id = ?
	`
	res, err := db.conn.ExecContext(ctx, query,
		s.Name,
		s.ContactNumber,
		s.RegistrationNumber,
		s.Email,
		s.PasswordHash, s.PasswordHash,
		s.IsCR,
		s.IsRepeater,
		schema.ToMillis(s.CreatedAt),
		s.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update student %d: %w", s.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("student %d: %w", s.ID, ErrNotFound)
	}
	db.notify(TableStudents)
	return nil
}

// GetStudentByID returns the student with the given id, or ErrNotFound.
func (db *DB) GetStudentByID(ctx context.Context, id int64) (*schema.Student, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+studentColumns+` FROM students WHERE id = ?`, id)
	s, err := scanStudent(row)
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("student %d", id))
	}
	return s, nil
}

// GetStudentByRegistration returns the student with the given registration number, or ErrNotFound.
func (db *DB) GetStudentByRegistration(ctx context.Context, reg string) (*schema.Student, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+studentColumns+` FROM students WHERE registration_number = ?`, reg)
	s, err := scanStudent(row)
	if err != nil {
		return nil, notFound(err, "student "+reg)
	}
	return s, nil
}

// GetStudentIDByRegistration resolves a registration number to an id.
// found is false when no student has that registration number.
func (db *DB) GetStudentIDByRegistration(ctx context.Context, reg string) (id int64, found bool, err error) {
	return studentIDByRegistration(ctx, db.conn, reg)
}

func studentIDByRegistration(ctx context.Context, q querier, reg string) (int64, bool, error) {
	var id int64
	err := q.QueryRowContext(ctx, `SELECT id FROM students WHERE registration_number = ?`, reg).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to resolve registration %s: %w", reg, err)
	}
	return id, true, nil
}

// GetStudentsByIDs returns the students with the given ids, ordered by name.
// Unknown ids are skipped.
func (db *DB) GetStudentsByIDs(ctx context.Context, ids []int64) ([]*schema.Student, error) {
	if len(ids) == 0 {
		return []*schema.Student{}, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	query := `SELECT ` + studentColumns + ` FROM students WHERE id IN (` + placeholders + `) ORDER BY name, id`
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query students: %w", err)
	}
	defer rows.Close()
	return scanStudents(rows)
}

// ListStudents returns every student ordered by name.
func (db *DB) ListStudents(ctx context.Context) ([]*schema.Student, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT `+studentColumns+` FROM students ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list students: %w", err)
	}
	defer rows.Close()
	return scanStudents(rows)
}

// DeleteStudentCascade removes a student's enrollments, then its attendance,
// then the student row itself, all in one transaction.
//
// The student is identified by registration number. found is false (and
// nothing is deleted) when the registration number does not resolve.
func (db *DB) DeleteStudentCascade(ctx context.Context, reg string) (id int64, found bool, err error) {
	err = db.withTx(ctx, func(tx *sql.Tx) error {
		id, found, err = studentIDByRegistration(ctx, tx, reg)
		if err != nil || !found {
			return err
		}
		if err := deleteEnrollmentsBy(ctx, tx, "student_id", id); err != nil {
			return err
		}
		if err := deleteAttendanceBy(ctx, tx, "student_id", id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM students WHERE registration_number = ?`, reg); err != nil {
			return fmt.Errorf("failed to delete student %s: %w", reg, err)
		}
		return nil
	})
	if err != nil {
		return 0, false, err
	}
	if found {
		db.notify(AllTables...)
	}
	return id, found, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStudent(row rowScanner) (*schema.Student, error) {
	var s schema.Student
	var createdAt int64
	err := row.Scan(
		&s.ID,
		&s.Name,
		&s.ContactNumber,
		&s.RegistrationNumber,
		&s.Email,
		&s.PasswordHash,
		&s.IsCR,
		&s.IsRepeater,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}
	s.CreatedAt = schema.FromMillis(createdAt)
	return &s, nil
}

func scanStudents(rows *sql.Rows) ([]*schema.Student, error) {
	students := []*schema.Student{}
	for rows.Next() {
		s, err := scanStudent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan student: %w", err)
		}
		students = append(students, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating students: %w", err)
	}
	return students, nil
}

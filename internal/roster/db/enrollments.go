package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rollcall-dev/rollcall/internal/roster/schema"
)

// InsertEnrollment links a student to a course and returns the generated id.
// Enrolling the same pair twice creates two rows.
func (db *DB) InsertEnrollment(ctx context.Context, e *schema.Enrollment) (int64, error) {
	res, err := db.conn.ExecContext(ctx,
		`INSERT INTO enrollments (student_id, course_id) VALUES (?, ?)`,
		e.StudentID, e.CourseID)
	if err != nil {
		return 0, fmt.Errorf("failed to enroll student %d in course %d: %w", e.StudentID, e.CourseID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read enrollment id: %w", err)
	}
	db.notify(TableEnrollments)
	return id, nil
}

// ListEnrollmentsForCourse returns the enrollments of one course in id order.
func (db *DB) ListEnrollmentsForCourse(ctx context.Context, courseID int64) ([]*schema.Enrollment, error) {
	return db.listEnrollments(ctx, `WHERE course_id = ? ORDER BY id`, courseID)
}

// ListEnrollmentsForStudent returns the enrollments of one student in id order.
func (db *DB) ListEnrollmentsForStudent(ctx context.Context, studentID int64) ([]*schema.Enrollment, error) {
	return db.listEnrollments(ctx, `WHERE student_id = ? ORDER BY id`, studentID)
}

func (db *DB) listEnrollments(ctx context.Context, where string, args ...any) ([]*schema.Enrollment, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT id, student_id, course_id FROM enrollments `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list enrollments: %w", err)
	}
	defer rows.Close()
	return scanEnrollments(rows)
}

// DeleteEnrollment removes every enrollment of the student in the course and
// returns the ids that were removed.
func (db *DB) DeleteEnrollment(ctx context.Context, studentID, courseID int64) ([]int64, error) {
	var ids []int64
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT id FROM enrollments WHERE student_id = ? AND course_id = ?`, studentID, courseID)
		if err != nil {
			return fmt.Errorf("failed to find enrollments: %w", err)
		}
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan enrollment id: %w", err)
			}
			ids = append(ids, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("error iterating enrollments: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM enrollments WHERE student_id = ? AND course_id = ?`, studentID, courseID); err != nil {
			return fmt.Errorf("failed to delete enrollment: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(ids) > 0 {
		db.notify(TableEnrollments)
	}
	return ids, nil
}

// column is always a constant from this package.
func deleteEnrollmentsBy(ctx context.Context, q querier, column string, id int64) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM enrollments WHERE `+column+` = ?`, id); err != nil {
		return fmt.Errorf("failed to delete enrollments by %s %d: %w", column, id, err)
	}
	return nil
}

func scanEnrollments(rows *sql.Rows) ([]*schema.Enrollment, error) {
	enrollments := []*schema.Enrollment{}
	for rows.Next() {
		var e schema.Enrollment
		if err := rows.Scan(&e.ID, &e.StudentID, &e.CourseID); err != nil {
			return nil, fmt.Errorf("failed to scan enrollment: %w", err)
		}
		enrollments = append(enrollments, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating enrollments: %w", err)
	}
	return enrollments, nil
}

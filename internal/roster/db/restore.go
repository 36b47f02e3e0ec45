package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rollcall-dev/rollcall/internal/roster/schema"
)

// RestoreSnapshot writes every record of snap into the store, replacing rows
// that share a primary key. Rows not present in snap are left alone.
//
// The restore runs in a single transaction in owner-first order; if any row
// fails, nothing is applied. The local-only password hash of an existing
// student is preserved.
//
// This is the only write path that accepts caller-chosen ids.
func (db *DB) RestoreSnapshot(ctx context.Context, snap *schema.Snapshot) error {
	if snap == nil {
		return nil
	}
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		for _, s := range snap.Students {
			if err := upsertStudent(ctx, tx, s); err != nil {
				return err
			}
		}
		for _, c := range snap.Courses {
			if err := upsertCourse(ctx, tx, c); err != nil {
				return err
			}
		}
		for _, e := range snap.Enrollments {
			if err := upsertEnrollment(ctx, tx, e); err != nil {
				return err
			}
		}
		for _, a := range snap.Attendance {
			if err := upsertAttendance(ctx, tx, a); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to restore snapshot: %w", err)
	}
	db.notify(AllTables...)
	return nil
}

// Snapshot reads every row of every table.
func (db *DB) Snapshot(ctx context.Context) (*schema.Snapshot, error) {
	snap := &schema.Snapshot{}
	var err error
	if snap.Students, err = db.ListStudents(ctx); err != nil {
		return nil, err
	}
	if snap.Courses, err = db.ListCourses(ctx); err != nil {
		return nil, err
	}
	if snap.Enrollments, err = db.listEnrollments(ctx, `ORDER BY id`); err != nil {
		return nil, err
	}
	if snap.Attendance, err = db.listAttendance(ctx, `ORDER BY id`); err != nil {
		return nil, err
	}
	return snap, nil
}

func upsertStudent(ctx context.Context, q querier, s *schema.Student) error {
	query := `
	INSERT INTO students (
		id, name, contact_number, registration_number, email,
		password_hash, is_cr, is_repeater, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		contact_number = excluded.contact_number,
		registration_number = excluded.registration_number,
		email = excluded.email,
		password_hash = CASE WHEN excluded.password_hash = '' THEN students.password_hash ELSE excluded.password_hash END,
		is_cr = excluded.is_cr,
		is_repeater = excluded.is_repeater,
		created_at = excluded.created_at
	`
	_, err := q.ExecContext(ctx, query,
		s.ID,
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
		return fmt.Errorf("failed to restore student %d: %w", s.ID, err)
	}
	return nil
}

func upsertCourse(ctx context.Context, q querier, c *schema.Course) error {
	query := `
	INSERT INTO courses (id, course_name, course_code, credit_hours, instructor_name, semester_number)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		course_name = excluded.course_name,
		course_code = excluded.course_code,
		credit_hours = excluded.credit_hours,
		instructor_name = excluded.instructor_name,
		semester_number = excluded.semester_number
	`
	_, err := q.ExecContext(ctx, query,
		c.ID,
		c.CourseName,
		c.CourseCode,
		c.CreditHours,
		c.InstructorName,
		c.SemesterNumber,
	)
	if err != nil {
		return fmt.Errorf("failed to restore course %d: %w", c.ID, err)
	}
	return nil
}

func upsertEnrollment(ctx context.Context, q querier, e *schema.Enrollment) error {
	query := `
	INSERT INTO enrollments (id, student_id, course_id) VALUES (?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		student_id = excluded.student_id,
		course_id = excluded.course_id
	`
	if _, err := q.ExecContext(ctx, query, e.ID, e.StudentID, e.CourseID); err != nil {
		return fmt.Errorf("failed to restore enrollment %d: %w", e.ID, err)
	}
	return nil
}

func upsertAttendance(ctx context.Context, q querier, a *schema.Attendance) error {
	query := `
	INSERT INTO attendance (id, student_id, course_id, date, is_present) VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		student_id = excluded.student_id,
		course_id = excluded.course_id,
		date = excluded.date,
		is_present = excluded.is_present
	`
	if _, err := q.ExecContext(ctx, query, a.ID, a.StudentID, a.CourseID, schema.ToMillis(a.Date), a.IsPresent); err != nil {
		return fmt.Errorf("failed to restore attendance %d: %w", a.ID, err)
	}
	return nil
}

package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rollcall-dev/rollcall/internal/roster/schema"
)

const courseColumns = `id, course_name, course_code, credit_hours, instructor_name, semester_number`

// InsertCourse inserts a new course and returns the generated id.
func (db *DB) InsertCourse(ctx context.Context, c *schema.Course) (int64, error) {
	query := `
	INSERT INTO courses (course_name, course_code, credit_hours, instructor_name, semester_number)
	VALUES (?, ?, ?, ?, ?)
	`
	res, err := db.conn.ExecContext(ctx, query,
		c.CourseName,
		c.CourseCode,
		c.CreditHours,
		c.InstructorName,
		c.SemesterNumber,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert course %s: %w", c.CourseCode, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read course id: %w", err)
	}
	db.notify(TableCourses)
	return id, nil
}

// UpdateCourse overwrites every column of the course with the given id.
func (db *DB) UpdateCourse(ctx context.Context, c *schema.Course) error {
	query := `
	UPDATE courses SET
		course_name = ?,
		course_code = ?,
		credit_hours = ?,
		instructor_name = ?,
		semester_number = ?
	WHERE id = ?
	`
	res, err := db.conn.ExecContext(ctx, query,
		c.CourseName,
		c.CourseCode,
		c.CreditHours,
		c.InstructorName,
		c.SemesterNumber,
		c.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update course %d: %w", c.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("course %d: %w", c.ID, ErrNotFound)
	}
	db.notify(TableCourses)
	return nil
}

// GetCourseByID returns the course with the given id, or ErrNotFound.
func (db *DB) GetCourseByID(ctx context.Context, id int64) (*schema.Course, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+courseColumns+` FROM courses WHERE id = ?`, id)
	c, err := scanCourse(row)
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("course %d", id))
	}
	return c, nil
}

// GetCourseByCode returns the course with the given code, or ErrNotFound.
func (db *DB) GetCourseByCode(ctx context.Context, code string) (*schema.Course, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+courseColumns+` FROM courses WHERE course_code = ?`, code)
	c, err := scanCourse(row)
	if err != nil {
		return nil, notFound(err, "course "+code)
	}
	return c, nil
}

// ListCourses returns every course ordered by course name.
func (db *DB) ListCourses(ctx context.Context) ([]*schema.Course, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT `+courseColumns+` FROM courses ORDER BY course_name, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list courses: %w", err)
	}
	defer rows.Close()

	courses := []*schema.Course{}
	for rows.Next() {
		c, err := scanCourse(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan course: %w", err)
		}
		courses = append(courses, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating courses: %w", err)
	}
	return courses, nil
}

// DeleteCourseCascade removes a course's enrollments, then its attendance,
// then the course row, all in one transaction.
//
// found is false (and nothing is deleted) when the code does not resolve.
func (db *DB) DeleteCourseCascade(ctx context.Context, code string) (course *schema.Course, found bool, err error) {
	err = db.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT `+courseColumns+` FROM courses WHERE course_code = ?`, code)
		c, err := scanCourse(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to resolve course %s: %w", code, err)
		}
		course, found = c, true

		if err := deleteEnrollmentsBy(ctx, tx, "course_id", c.ID); err != nil {
			return err
		}
		if err := deleteAttendanceBy(ctx, tx, "course_id", c.ID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM courses WHERE id = ?`, c.ID); err != nil {
			return fmt.Errorf("failed to delete course %s: %w", code, err)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if found {
		db.notify(AllTables...)
	}
	return course, found, nil
}

func scanCourse(row rowScanner) (*schema.Course, error) {
	var c schema.Course
	err := row.Scan(
		&c.ID,
		&c.CourseName,
		&c.CourseCode,
		&c.CreditHours,
		&c.InstructorName,
		&c.SemesterNumber,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

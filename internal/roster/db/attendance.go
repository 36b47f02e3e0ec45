package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rollcall-dev/rollcall/internal/roster/schema"
)

const attendanceColumns = `id, student_id, course_id, date, is_present`

// InsertAttendance inserts a new attendance row and returns the generated id.
func (db *DB) InsertAttendance(ctx context.Context, a *schema.Attendance) (int64, error) {
	res, err := db.conn.ExecContext(ctx,
		`INSERT INTO attendance (student_id, course_id, date, is_present) VALUES (?, ?, ?, ?)`,
		a.StudentID, a.CourseID, schema.ToMillis(a.Date), a.IsPresent)
	if err != nil {
		return 0, fmt.Errorf("failed to insert attendance for student %d: %w", a.StudentID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read attendance id: %w", err)
	}
	db.notify(TableAttendance)
	return id, nil
}

// UpdateAttendance overwrites the attendance row with the given id.
func (db *DB) UpdateAttendance(ctx context.Context, a *schema.Attendance) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE attendance SET student_id = ?, course_id = ?, date = ?, is_present = ? WHERE id = ?`,
		a.StudentID, a.CourseID, schema.ToMillis(a.Date), a.IsPresent, a.ID)
	if err != nil {
		return fmt.Errorf("failed to update attendance %d: %w", a.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("attendance %d: %w", a.ID, ErrNotFound)
	}
	db.notify(TableAttendance)
	return nil
}

// FindAttendanceInRange returns one attendance row of the student in the
// course whose date lies in [start, end], or nil when there is none.
func (db *DB) FindAttendanceInRange(ctx context.Context, studentID, courseID int64, start, end time.Time) (*schema.Attendance, error) {
	query := `
	SELECT ` + attendanceColumns + `
	FROM attendance
	WHERE student_id = ? AND course_id = ? AND date BETWEEN ? AND ?
	ORDER BY id
	LIMIT 1
	`
	row := db.conn.QueryRowContext(ctx, query, studentID, courseID, schema.ToMillis(start), schema.ToMillis(end))
	a, err := scanAttendance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find attendance: %w", err)
	}
	return a, nil
}

// ListAttendanceForCourse returns the attendance of one course, newest first.
func (db *DB) ListAttendanceForCourse(ctx context.Context, courseID int64) ([]*schema.Attendance, error) {
	return db.listAttendance(ctx, `WHERE course_id = ? ORDER BY date DESC, id DESC`, courseID)
}

// ListAttendanceForStudent returns the attendance of one student, newest first.
func (db *DB) ListAttendanceForStudent(ctx context.Context, studentID int64) ([]*schema.Attendance, error) {
	return db.listAttendance(ctx, `WHERE student_id = ? ORDER BY date DESC, id DESC`, studentID)
}

func (db *DB) listAttendance(ctx context.Context, where string, args ...any) ([]*schema.Attendance, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT `+attendanceColumns+` FROM attendance `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list attendance: %w", err)
	}
	defer rows.Close()

	records := []*schema.Attendance{}
	for rows.Next() {
		a, err := scanAttendance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan attendance: %w", err)
		}
		records = append(records, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating attendance: %w", err)
	}
	return records, nil
}

// DeleteAttendance removes one attendance row. found is false when no row
// has the id.
func (db *DB) DeleteAttendance(ctx context.Context, id int64) (found bool, err error) {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM attendance WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete attendance %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}
	db.notify(TableAttendance)
	return true, nil
}

func deleteAttendanceBy(ctx context.Context, q querier, column string, id int64) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM attendance WHERE `+column+` = ?`, id); err != nil {
		return fmt.Errorf("failed to delete attendance by %s %d: %w", column, id, err)
	}
	return nil
}

func scanAttendance(row rowScanner) (*schema.Attendance, error) {
	var a schema.Attendance
	var date int64
	if err := row.Scan(&a.ID, &a.StudentID, &a.CourseID, &date, &a.IsPresent); err != nil {
		return nil, err
	}
	a.Date = schema.FromMillis(date)
	return &a, nil
}

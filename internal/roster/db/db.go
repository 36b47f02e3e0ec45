// Package db is the rollcall local store: an embedded SQLite database holding
// students, courses, enrollments and attendance.
//
// The local store is the single source of truth. Every identity is generated
// here (AUTOINCREMENT, monotonic per table) and the remote mirror only ever
// follows it. Enrollment and attendance rows reference their owners with
// ON DELETE CASCADE foreign keys.
//
// Architecture:
//   - Database file: .rollcall/rollcall.db
//   - WAL mode: concurrent readers during writes
//   - Tables: students, courses, enrollments, attendance
//   - Timestamps: integer milliseconds since the Unix epoch
//
// Callers open the store once at startup and pass the handle to every
// component that needs it:
//
//	store, err := db.Open(".rollcall/rollcall.db")
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//	if err := store.InitSchema(); err != nil {
//	    return err
//	}
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// ErrNotFound is returned by single-row lookups that match nothing.
var ErrNotFound = errors.New("record not found")

// Table names a local table in change notifications.
type Table string

const (
	TableStudents    Table = "students"
	TableCourses     Table = "courses"
	TableEnrollments Table = "enrollments"
	TableAttendance  Table = "attendance"
)

// AllTables lists every table, owners first.
var AllTables = []Table{TableStudents, TableCourses, TableEnrollments, TableAttendance}

// Change is delivered to subscribers after a mutation commits.
type Change struct {
	Tables []Table
}

// Has reports whether t is among the changed tables.
func (c Change) Has(t Table) bool {
	for _, ct := range c.Tables {
		if ct == t {
			return true
		}
	}
	return false
}

// DB wraps the SQLite connection pool.
type DB struct {
	conn *sql.DB
	path string

	subsMu sync.RWMutex
	subs   map[int]func(Change)
	nextID int
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Open creates a connection pool for the database at path, creating the
// parent directory if needed.
//
// The caller MUST call Close() when done.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Pragmas go in the DSN so every pooled connection gets them.
	params := url.Values{}
	params.Add("_pragma", "journal_mode(wal)")
	params.Add("_pragma", "busy_timeout(5000)")
	params.Add("_pragma", "foreign_keys(1)")
	params.Set("_txlock", "immediate")
	connStr := "file:" + path + "?" + params.Encode()

	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(8)
	conn.SetMaxIdleConns(4)
	conn.SetConnMaxLifetime(5 * time.Minute)

	return &DB{
		conn: conn,
		path: path,
		subs: make(map[int]func(Change)),
	}, nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// RawDB returns the underlying sql.DB connection.
func (db *DB) RawDB() *sql.DB {
	return db.conn
}

// Close checkpoints the WAL and closes the connection pool.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// InitSchema creates the tables and indexes if they don't exist.
// Safe to call multiple times.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the schema with context support.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS students (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		contact_number TEXT NOT NULL DEFAULT '',
		registration_number TEXT NOT NULL UNIQUE,
		email TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL DEFAULT '',  -- local only, never mirrored
		is_cr INTEGER NOT NULL DEFAULT 0,
		is_repeater INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL  -- unix ms
	);

	CREATE TABLE IF NOT EXISTS courses (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		course_name TEXT NOT NULL,
		course_code TEXT NOT NULL UNIQUE,
		credit_hours INTEGER NOT NULL,
		instructor_name TEXT NOT NULL DEFAULT '',
		semester_number INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS enrollments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		student_id INTEGER NOT NULL,
		course_id INTEGER NOT NULL,
		FOREIGN KEY (student_id) REFERENCES students(id) ON DELETE CASCADE,
		FOREIGN KEY (course_id) REFERENCES courses(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS attendance (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		student_id INTEGER NOT NULL,
		course_id INTEGER NOT NULL,
		date INTEGER NOT NULL,  -- unix ms
		is_present INTEGER NOT NULL DEFAULT 0,
		FOREIGN KEY (student_id) REFERENCES students(id) ON DELETE CASCADE,
		FOREIGN KEY (course_id) REFERENCES courses(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_students_name ON students(name);
	CREATE INDEX IF NOT EXISTS idx_courses_name ON courses(course_name);
	CREATE INDEX IF NOT EXISTS idx_enrollments_student ON enrollments(student_id);
	CREATE INDEX IF NOT EXISTS idx_enrollments_course ON enrollments(course_id);
	CREATE INDEX IF NOT EXISTS idx_attendance_student ON attendance(student_id);
	CREATE INDEX IF NOT EXISTS idx_attendance_course_date ON attendance(course_id, date);

	-- Session lookup: one student, one course, one day range
	CREATE INDEX IF NOT EXISTS idx_attendance_session
	    ON attendance(student_id, course_id, date);
	`

	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// Subscribe registers fn to be called after every committed mutation.
// The returned function removes the subscription.
//
// fn runs on the mutating goroutine and must not block.
func (db *DB) Subscribe(fn func(Change)) (unsubscribe func()) {
	db.subsMu.Lock()
	id := db.nextID
	db.nextID++
	db.subs[id] = fn
	db.subsMu.Unlock()

	return func() {
		db.subsMu.Lock()
		delete(db.subs, id)
		db.subsMu.Unlock()
	}
}

func (db *DB) notify(tables ...Table) {
	db.subsMu.RLock()
	fns := make([]func(Change), 0, len(db.subs))
	for _, fn := range db.subs {
		fns = append(fns, fn)
	}
	db.subsMu.RUnlock()

	change := Change{Tables: tables}
	for _, fn := range fns {
		fn(change)
	}
}

// withTx runs fn in a transaction, committing on nil and rolling back otherwise.
func (db *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Counts holds the row count of each table.
type Counts struct {
	Students    int `json:"students"`
	Courses     int `json:"courses"`
	Enrollments int `json:"enrollments"`
	Attendance  int `json:"attendance"`
}

// Counts returns the row count of every table.
func (db *DB) Counts() (Counts, error) {
	return db.CountsContext(context.Background())
}

// CountsContext returns the row count of every table with context support.
func (db *DB) CountsContext(ctx context.Context) (Counts, error) {
	var c Counts
	query := `
	SELECT
		(SELECT COUNT(*) FROM students),
		(SELECT COUNT(*) FROM courses),
		(SELECT COUNT(*) FROM enrollments),
		(SELECT COUNT(*) FROM attendance)
	`
	if err := db.conn.QueryRowContext(ctx, query).Scan(&c.Students, &c.Courses, &c.Enrollments, &c.Attendance); err != nil {
		return Counts{}, fmt.Errorf("failed to count rows: %w", err)
	}
	return c, nil
}

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("failed to get %s: %w", what, err)
}

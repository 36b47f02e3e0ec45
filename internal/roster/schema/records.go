package schema

import (
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Student is an enrolled student. RegistrationNumber is the immutable business key.
type Student struct {
	ID                 int64     `json:"id" yaml:"id"`
	Name               string    `json:"name" yaml:"name" validate:"required,alphaspace,max=100"`
	ContactNumber      string    `json:"contact_number,omitempty" yaml:"contact_number,omitempty" validate:"omitempty,contact"`
	RegistrationNumber string    `json:"registration_number" yaml:"registration_number" validate:"required,regno"`
	Email              string    `json:"email,omitempty" yaml:"email,omitempty" validate:"omitempty,email"`
	IsCR               bool      `json:"is_cr" yaml:"is_cr"`
	IsRepeater         bool      `json:"is_repeater" yaml:"is_repeater"`
	CreatedAt          time.Time `json:"created_at" yaml:"created_at"`

	// PasswordHash is a bcrypt hash. It stays in the local store and is never mirrored.
	PasswordHash string `json:"-" yaml:"-"`
}

// SetPassword hashes pw and stores the hash on the student.
func (s *Student) SetPassword(pw string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	s.PasswordHash = string(hash)
	return nil
}

// CheckPassword reports whether pw matches the stored hash.
func (s *Student) CheckPassword(pw string) bool {
	if s.PasswordHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(s.PasswordHash), []byte(pw)) == nil
}

// Course is a taught course. CourseCode is the unique business key.
type Course struct {
	ID             int64  `json:"id" yaml:"id"`
	CourseName     string `json:"course_name" yaml:"course_name" validate:"required,max=200"`
	CourseCode     string `json:"course_code" yaml:"course_code" validate:"required,coursecode"`
	CreditHours    int    `json:"credit_hours" yaml:"credit_hours" validate:"gt=0"`
	InstructorName string `json:"instructor_name" yaml:"instructor_name" validate:"required,alphaspace,max=100"`
	SemesterNumber int    `json:"semester_number" yaml:"semester_number" validate:"min=1,max=8"`
}

// Enrollment links a student to a course.
type Enrollment struct {
	ID        int64 `json:"id" yaml:"id"`
	StudentID int64 `json:"student_id" yaml:"student_id" validate:"gt=0"`
	CourseID  int64 `json:"course_id" yaml:"course_id" validate:"gt=0"`
}

// Attendance records presence of a student in a course for one calendar day.
type Attendance struct {
	ID        int64     `json:"id" yaml:"id"`
	StudentID int64     `json:"student_id" yaml:"student_id" validate:"gt=0"`
	CourseID  int64     `json:"course_id" yaml:"course_id" validate:"gt=0"`
	Date      time.Time `json:"date" yaml:"date"`
	IsPresent bool      `json:"is_present" yaml:"is_present"`
}

// Snapshot holds every record of the local store, or a decoded remote snapshot.
type Snapshot struct {
	Students    []*Student    `json:"students" yaml:"students"`
	Courses     []*Course     `json:"courses" yaml:"courses"`
	Enrollments []*Enrollment `json:"enrollments" yaml:"enrollments"`
	Attendance  []*Attendance `json:"attendance" yaml:"attendance"`
}

// Len returns the total number of records in the snapshot.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Students) + len(s.Courses) + len(s.Enrollments) + len(s.Attendance)
}

// FromMillis converts a stored millisecond timestamp to a local time value.
func FromMillis(ms int64) time.Time {
	return time.UnixMilli(ms)
}

// ToMillis converts t to milliseconds since the Unix epoch.
func ToMillis(t time.Time) int64 {
	return t.UnixMilli()
}

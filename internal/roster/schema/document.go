package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Remote collection names.
const (
	CollectionStudents    = "Students"
	CollectionCourses     = "Courses"
	CollectionEnrollments = "Enrollments"
	CollectionAttendance  = "Attendance"
)

// Collections lists the remote collections in restore order: owners before dependents.
var Collections = []string{
	CollectionStudents,
	CollectionCourses,
	CollectionEnrollments,
	CollectionAttendance,
}

// Field names shared by several collections.
const (
	FieldStudentID = "studentId"
	FieldCourseID  = "courseId"
)

// ErrBadID is returned when a document id or reference cannot be parsed as a local id.
var ErrBadID = errors.New("unparseable record id")

// Document is one remote record. ID is the stringified local id.
type Document struct {
	Collection string         `json:"collection" yaml:"collection"`
	ID         string         `json:"id" yaml:"id"`
	Fields     map[string]any `json:"fields" yaml:"fields"`
}

// FormatID encodes a local id as a document id.
func FormatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

// ParseID decodes a document id back into a local id.
func ParseID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrBadID, s)
	}
	return id, nil
}

// ToDocument encodes the student for the Students collection.
// The password hash is left out.
func (s *Student) ToDocument() Document {
	id := FormatID(s.ID)
	return Document{
		Collection: CollectionStudents,
		ID:         id,
		Fields: map[string]any{
			FieldStudentID:       id,
			"name":               s.Name,
			"contactNumber":      s.ContactNumber,
			"registrationNumber": s.RegistrationNumber,
			"email":              s.Email,
			"isCR":               s.IsCR,
			"isRepeater":         s.IsRepeater,
			"createdAt":          ToMillis(s.CreatedAt),
		},
	}
}

// ToDocument encodes the course for the Courses collection.
func (c *Course) ToDocument() Document {
	id := FormatID(c.ID)
	return Document{
		Collection: CollectionCourses,
		ID:         id,
		Fields: map[string]any{
			FieldCourseID:    id,
			"courseName":     c.CourseName,
			"courseCode":     c.CourseCode,
			"creditHours":    int64(c.CreditHours),
			"instructorName": c.InstructorName,
			"semesterNumber": int64(c.SemesterNumber),
		},
	}
}

// ToDocument encodes the enrollment for the Enrollments collection.
func (e *Enrollment) ToDocument() Document {
	id := FormatID(e.ID)
	return Document{
		Collection: CollectionEnrollments,
		ID:         id,
		Fields: map[string]any{
			"enrollmentId": id,
			FieldStudentID: FormatID(e.StudentID),
			FieldCourseID:  FormatID(e.CourseID),
		},
	}
}

// ToDocument encodes the attendance row for the Attendance collection.
func (a *Attendance) ToDocument() Document {
	id := FormatID(a.ID)
	return Document{
		Collection: CollectionAttendance,
		ID:         id,
		Fields: map[string]any{
			"attendanceId": id,
			FieldStudentID: FormatID(a.StudentID),
			FieldCourseID:  FormatID(a.CourseID),
			"date":         a.Date.UTC(),
			"isPresent":    a.IsPresent,
		},
	}
}

// StudentFromDocument decodes a Students document.
// A createdAt that is missing or not positive is replaced with now.
func StudentFromDocument(doc Document) (*Student, error) {
	f := fields(doc)
	id, err := refID(f, FieldStudentID, doc.ID)
	if err != nil {
		return nil, err
	}
	s := &Student{ID: id}
	if s.Name, err = stringField(f, "name"); err != nil {
		return nil, err
	}
	if s.ContactNumber, err = stringField(f, "contactNumber"); err != nil {
		return nil, err
	}
	if s.RegistrationNumber, err = stringField(f, "registrationNumber"); err != nil {
		return nil, err
	}
	if s.Email, err = stringField(f, "email"); err != nil {
		return nil, err
	}
	if s.IsCR, err = boolField(f, "isCR"); err != nil {
		return nil, err
	}
	if s.IsRepeater, err = boolField(f, "isRepeater"); err != nil {
		return nil, err
	}
	created, err := intField(f, "createdAt")
	if err != nil {
		return nil, err
	}
	if created > 0 {
		s.CreatedAt = FromMillis(created)
	} else {
		s.CreatedAt = time.Now()
	}
	return s, nil
}

// CourseFromDocument decodes a Courses document.
func CourseFromDocument(doc Document) (*Course, error) {
	f := fields(doc)
	id, err := refID(f, FieldCourseID, doc.ID)
	if err != nil {
		return nil, err
	}
	c := &Course{ID: id}
	if c.CourseName, err = stringField(f, "courseName"); err != nil {
		return nil, err
	}
	if c.CourseCode, err = stringField(f, "courseCode"); err != nil {
		return nil, err
	}
	if c.InstructorName, err = stringField(f, "instructorName"); err != nil {
		return nil, err
	}
	credits, err := intField(f, "creditHours")
	if err != nil {
		return nil, err
	}
	semester, err := intField(f, "semesterNumber")
	if err != nil {
		return nil, err
	}
	c.CreditHours = int(credits)
	c.SemesterNumber = int(semester)
	return c, nil
}

// EnrollmentFromDocument decodes an Enrollments document.
func EnrollmentFromDocument(doc Document) (*Enrollment, error) {
	f := fields(doc)
	id, err := refID(f, "enrollmentId", doc.ID)
	if err != nil {
		return nil, err
	}
	studentID, err := refID(f, FieldStudentID, "")
	if err != nil {
		return nil, err
	}
	courseID, err := refID(f, FieldCourseID, "")
	if err != nil {
		return nil, err
	}
	return &Enrollment{ID: id, StudentID: studentID, CourseID: courseID}, nil
}

// AttendanceFromDocument decodes an Attendance document.
func AttendanceFromDocument(doc Document) (*Attendance, error) {
	f := fields(doc)
	id, err := refID(f, "attendanceId", doc.ID)
	if err != nil {
		return nil, err
	}
	studentID, err := refID(f, FieldStudentID, "")
	if err != nil {
		return nil, err
	}
	courseID, err := refID(f, FieldCourseID, "")
	if err != nil {
		return nil, err
	}
	a := &Attendance{ID: id, StudentID: studentID, CourseID: courseID}
	if a.Date, err = timeField(f, "date"); err != nil {
		return nil, err
	}
	if a.IsPresent, err = boolField(f, "isPresent"); err != nil {
		return nil, err
	}
	return a, nil
}

func fields(doc Document) map[string]any {
	if doc.Fields == nil {
		return map[string]any{}
	}
	return doc.Fields
}

// refID reads an id held in a string field, falling back to fallback when the
// field is absent.
func refID(f map[string]any, key, fallback string) (int64, error) {
	raw, ok := f[key]
	if !ok || raw == nil {
		return ParseID(fallback)
	}
	switch v := raw.(type) {
	case string:
		return ParseID(v)
	case json.Number:
		return ParseID(v.String())
	case int64:
		return ParseID(strconv.FormatInt(v, 10))
	case int:
		return ParseID(strconv.Itoa(v))
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("%w: %v", ErrBadID, v)
		}
		return ParseID(strconv.FormatInt(int64(v), 10))
	}
	return 0, fmt.Errorf("%w: %s has type %T", ErrBadID, key, raw)
}

func stringField(f map[string]any, key string) (string, error) {
	raw, ok := f[key]
	if !ok || raw == nil {
		return "", nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("field %s: expected string, got %T", key, raw)
	}
	return s, nil
}

func boolField(f map[string]any, key string) (bool, error) {
	raw, ok := f[key]
	if !ok || raw == nil {
		return false, nil
	}
	switch v := raw.(type) {
	case bool:
		return v, nil
	case int64:
		return v != 0, nil
	case float64:
		return v != 0, nil
	}
	return false, fmt.Errorf("field %s: expected bool, got %T", key, raw)
}

func intField(f map[string]any, key string) (int64, error) {
	raw, ok := f[key]
	if !ok || raw == nil {
		return 0, nil
	}
	switch v := raw.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("field %s: %v is not an integer", key, v)
		}
		return int64(v), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, fmt.Errorf("field %s: %w", key, err)
		}
		return n, nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("field %s: %w", key, err)
		}
		return n, nil
	}
	return 0, fmt.Errorf("field %s: expected integer, got %T", key, raw)
}

func timeField(f map[string]any, key string) (time.Time, error) {
	raw, ok := f[key]
	if !ok || raw == nil {
		return time.Time{}, fmt.Errorf("field %s: missing", key)
	}
	switch v := raw.(type) {
	case time.Time:
		return v.Local(), nil
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return time.Time{}, fmt.Errorf("field %s: %w", key, err)
		}
		return t.Local(), nil
	}
	ms, err := intField(f, key)
	if err != nil {
		return time.Time{}, err
	}
	return FromMillis(ms), nil
}

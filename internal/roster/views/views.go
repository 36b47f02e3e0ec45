// Package views provides read-only live views of the local store.
//
// Each view is a channel that first carries the current rows and then a
// fresh copy after every committed change to a table the view reads. A
// consumer that falls behind only ever sees the newest rows; intermediate
// states are skipped. The channel is closed when the context ends.
package views

import (
	"context"
	"log"
	"os"

	"github.com/rollcall-dev/rollcall/internal/roster/db"
	"github.com/rollcall-dev/rollcall/internal/roster/schema"
)

// Views opens live views on a store.
type Views struct {
	store  *db.DB
	logger *log.Logger
}

// New creates a Views. If logger is nil, a default logger writing to stderr is used.
func New(store *db.DB, logger *log.Logger) *Views {
	if logger == nil {
		logger = log.New(os.Stderr, "[views] ", log.LstdFlags)
	}
	return &Views{store: store, logger: logger}
}

// StudentsByName streams all students ordered by name.
func (v *Views) StudentsByName(ctx context.Context) <-chan []*schema.Student {
	return watch(ctx, v, []db.Table{db.TableStudents}, v.store.ListStudents)
}

// CoursesByName streams all courses ordered by course name.
func (v *Views) CoursesByName(ctx context.Context) <-chan []*schema.Course {
	return watch(ctx, v, []db.Table{db.TableCourses}, v.store.ListCourses)
}

// EnrollmentsForCourse streams the enrollments of one course.
func (v *Views) EnrollmentsForCourse(ctx context.Context, courseID int64) <-chan []*schema.Enrollment {
	return watch(ctx, v, []db.Table{db.TableEnrollments}, func(ctx context.Context) ([]*schema.Enrollment, error) {
		return v.store.ListEnrollmentsForCourse(ctx, courseID)
	})
}

// AttendanceForCourse streams the attendance of one course, newest first.
func (v *Views) AttendanceForCourse(ctx context.Context, courseID int64) <-chan []*schema.Attendance {
	return watch(ctx, v, []db.Table{db.TableAttendance}, func(ctx context.Context) ([]*schema.Attendance, error) {
		return v.store.ListAttendanceForCourse(ctx, courseID)
	})
}

func watch[T any](ctx context.Context, v *Views, tables []db.Table, query func(context.Context) ([]T, error)) <-chan []T {
	out := make(chan []T)
	kick := make(chan struct{}, 1)

	unsubscribe := v.store.Subscribe(func(c db.Change) {
		for _, t := range tables {
			if c.Has(t) {
				select {
				case kick <- struct{}{}:
				default:
				}
				return
			}
		}
	})

	go func() {
		defer close(out)
		defer unsubscribe()

		var latest []T
		ready := false
		refresh := func() {
			rows, err := query(ctx)
			if err != nil {
				if ctx.Err() == nil {
					v.logger.Printf("Warning: failed to refresh view: %v", err)
				}
				return
			}
			latest, ready = rows, true
		}

		refresh()
		for {
			var send chan<- []T
			if ready {
				send = out
			}
			select {
			case <-ctx.Done():
				return
			case <-kick:
				refresh()
			case send <- latest:
				latest, ready = nil, false
			}
		}
	}()
	return out
}

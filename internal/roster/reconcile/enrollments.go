package reconcile

import (
	"context"
	"time"

	"github.com/rollcall-dev/rollcall/internal/roster/schema"
)

// EnrollStudent links a student to a course and mirrors the new row.
//
// Enrolling the same pair twice creates two rows; uniqueness is not enforced
// here.
func (e *Engine) EnrollStudent(ctx context.Context, studentID, courseID int64) (Receipt, error) {
	started := time.Now()
	rec := Receipt{State: StatePending}

	enr := &schema.Enrollment{StudentID: studentID, CourseID: courseID}
	if err := schema.Validate(enr); err != nil {
		return e.finish(OpEnroll, started, rec, &ValidationError{Err: err})
	}
	id, err := e.store.InsertEnrollment(ctx, enr)
	if err != nil {
		return e.finish(OpEnroll, started, rec, err)
	}
	enr.ID = id
	rec.ID = id
	rec.State = StateLocalCommitted

	e.mirrorWrite(ctx, OpEnroll, &rec, func(ctx context.Context) error {
		return e.mirror.SaveEnrollment(ctx, enr)
	})
	return e.finish(OpEnroll, started, rec, nil)
}

// Unenroll removes every enrollment of the student in the course, locally and
// in the mirror. Receipt.ID is the first removed enrollment. No matching row
// is a successful no-op.
func (e *Engine) Unenroll(ctx context.Context, studentID, courseID int64) (Receipt, error) {
	started := time.Now()
	rec := Receipt{State: StatePending}

	ids, err := e.store.DeleteEnrollment(ctx, studentID, courseID)
	if err != nil {
		return e.finish(OpUnenroll, started, rec, err)
	}
	rec.State = StateLocalCommitted
	if len(ids) == 0 {
		rec.NoOp = true
		return e.finish(OpUnenroll, started, rec, nil)
	}
	rec.ID = ids[0]

	e.mirrorWrite(ctx, OpUnenroll, &rec, func(ctx context.Context) error {
		return e.mirror.DeleteEnrollments(ctx, ids...)
	})
	return e.finish(OpUnenroll, started, rec, nil)
}

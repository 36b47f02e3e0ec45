package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rollcall-dev/rollcall/internal/roster/db"
	"github.com/rollcall-dev/rollcall/internal/roster/schema"
)

// AddCourse validates c, inserts it, stores the generated id on c and
// mirrors it. A taken course code is rejected before any write.
func (e *Engine) AddCourse(ctx context.Context, c *schema.Course) (Receipt, error) {
	started := time.Now()
	rec := Receipt{State: StatePending}

	if err := schema.Validate(c); err != nil {
		return e.finish(OpAddCourse, started, rec, &ValidationError{Err: err})
	}
	if _, err := e.store.GetCourseByCode(ctx, c.CourseCode); err == nil {
		return e.finish(OpAddCourse, started, rec, fmt.Errorf("%s: %w", c.CourseCode, ErrDuplicateCourseCode))
	} else if !errors.Is(err, db.ErrNotFound) {
		return e.finish(OpAddCourse, started, rec, err)
	}

	id, err := e.store.InsertCourse(ctx, c)
	if err != nil {
		return e.finish(OpAddCourse, started, rec, err)
	}
	c.ID = id
	rec.ID = id
	rec.State = StateLocalCommitted

	e.mirrorWrite(ctx, OpAddCourse, &rec, func(ctx context.Context) error {
		return e.mirror.SaveCourse(ctx, c)
	})
	return e.finish(OpAddCourse, started, rec, nil)
}

// UpdateCourse overwrites the course with c.ID. A course that does not
// exist is a no-op. Changing the code to one used by another course is
// rejected.
func (e *Engine) UpdateCourse(ctx context.Context, c *schema.Course) (Receipt, error) {
	started := time.Now()
	rec := Receipt{ID: c.ID, State: StatePending}

	if err := schema.Validate(c); err != nil {
		return e.finish(OpUpdateCourse, started, rec, &ValidationError{Err: err})
	}
	if c.ID <= 0 {
		rec.State = StateLocalCommitted
		rec.NoOp = true
		return e.finish(OpUpdateCourse, started, rec, nil)
	}

	other, err := e.store.GetCourseByCode(ctx, c.CourseCode)
	switch {
	case err == nil && other.ID != c.ID:
		return e.finish(OpUpdateCourse, started, rec, fmt.Errorf("%s: %w", c.CourseCode, ErrDuplicateCourseCode))
	case err != nil && !errors.Is(err, db.ErrNotFound):
		return e.finish(OpUpdateCourse, started, rec, err)
	}

	err = e.store.UpdateCourse(ctx, c)
	if errors.Is(err, db.ErrNotFound) {
		rec.State = StateLocalCommitted
		rec.NoOp = true
		return e.finish(OpUpdateCourse, started, rec, nil)
	}
	if err != nil {
		return e.finish(OpUpdateCourse, started, rec, err)
	}
	rec.State = StateLocalCommitted

	e.mirrorWrite(ctx, OpUpdateCourse, &rec, func(ctx context.Context) error {
		return e.mirror.SaveCourse(ctx, c)
	})
	return e.finish(OpUpdateCourse, started, rec, nil)
}

// DeleteCourseByCode removes the course and every enrollment and attendance
// row referencing it, locally and then in the mirror. An unknown code is a
// successful no-op.
func (e *Engine) DeleteCourseByCode(ctx context.Context, code string) (Receipt, error) {
	started := time.Now()
	rec := Receipt{State: StatePending}

	course, found, err := e.store.DeleteCourseCascade(ctx, code)
	if err != nil {
		return e.finish(OpDeleteCourse, started, rec, err)
	}
	rec.State = StateLocalCommitted
	if !found {
		rec.NoOp = true
		return e.finish(OpDeleteCourse, started, rec, nil)
	}
	rec.ID = course.ID

	e.mirrorWrite(ctx, OpDeleteCourse, &rec, func(ctx context.Context) error {
		return e.mirror.DeleteCourse(ctx, course.ID)
	})
	return e.finish(OpDeleteCourse, started, rec, nil)
}

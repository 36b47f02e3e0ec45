package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rollcall-dev/rollcall/internal/roster/db"
	"github.com/rollcall-dev/rollcall/internal/roster/schema"
)

// AddStudent validates s, inserts it, stores the generated id on s and
// mirrors it. A taken registration number is rejected before any write.
func (e *Engine) AddStudent(ctx context.Context, s *schema.Student) (Receipt, error) {
	started := time.Now()
	rec := Receipt{State: StatePending}

	if err := schema.Validate(s); err != nil {
		return e.finish(OpAddStudent, started, rec, &ValidationError{Err: err})
	}
	_, found, err := e.store.GetStudentIDByRegistration(ctx, s.RegistrationNumber)
	if err != nil {
		return e.finish(OpAddStudent, started, rec, err)
	}
	if found {
		return e.finish(OpAddStudent, started, rec, fmt.Errorf("%s: %w", s.RegistrationNumber, ErrDuplicateRegistration))
	}

	if s.CreatedAt.IsZero() {
		s.CreatedAt = schema.FromMillis(schema.ToMillis(e.now()))
	}
	id, err := e.store.InsertStudent(ctx, s)
	if err != nil {
		return e.finish(OpAddStudent, started, rec, err)
	}
	s.ID = id
	rec.ID = id
	rec.State = StateLocalCommitted

	e.mirrorWrite(ctx, OpAddStudent, &rec, func(ctx context.Context) error {
		return e.mirror.SaveStudent(ctx, s)
	})
	return e.finish(OpAddStudent, started, rec, nil)
}

// UpdateStudent overwrites the student with s.ID. The registration number
// cannot change. A zero CreatedAt or empty PasswordHash keeps the stored value.
func (e *Engine) UpdateStudent(ctx context.Context, s *schema.Student) (Receipt, error) {
	started := time.Now()
	rec := Receipt{ID: s.ID, State: StatePending}

	if s.ID <= 0 {
		return e.finish(OpUpdateStudent, started, rec, invalid("student id is required"))
	}
	if err := schema.Validate(s); err != nil {
		return e.finish(OpUpdateStudent, started, rec, &ValidationError{Err: err})
	}

	existing, err := e.store.GetStudentByID(ctx, s.ID)
	if errors.Is(err, db.ErrNotFound) {
		return e.finish(OpUpdateStudent, started, rec, fmt.Errorf("student %d: %w", s.ID, ErrNotFound))
	}
	if err != nil {
		return e.finish(OpUpdateStudent, started, rec, err)
	}
	if existing.RegistrationNumber != s.RegistrationNumber {
		return e.finish(OpUpdateStudent, started, rec,
			fmt.Errorf("%s -> %s: %w", existing.RegistrationNumber, s.RegistrationNumber, ErrImmutableRegistration))
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = existing.CreatedAt
	}

	if err := e.store.UpdateStudent(ctx, s); err != nil {
		return e.finish(OpUpdateStudent, started, rec, err)
	}
	rec.State = StateLocalCommitted

	e.mirrorWrite(ctx, OpUpdateStudent, &rec, func(ctx context.Context) error {
		return e.mirror.SaveStudent(ctx, s)
	})
	return e.finish(OpUpdateStudent, started, rec, nil)
}

// DeleteStudentByRegistration removes the student and every enrollment and
// attendance row referencing it, locally and then in the mirror. An unknown
// registration number is a successful no-op.
func (e *Engine) DeleteStudentByRegistration(ctx context.Context, reg string) (Receipt, error) {
	started := time.Now()
	rec := Receipt{State: StatePending}

	id, found, err := e.store.DeleteStudentCascade(ctx, reg)
	if err != nil {
		return e.finish(OpDeleteStudent, started, rec, err)
	}
	rec.State = StateLocalCommitted
	if !found {
		rec.NoOp = true
		return e.finish(OpDeleteStudent, started, rec, nil)
	}
	rec.ID = id

	e.mirrorWrite(ctx, OpDeleteStudent, &rec, func(ctx context.Context) error {
		return e.mirror.DeleteStudent(ctx, id)
	})
	return e.finish(OpDeleteStudent, started, rec, nil)
}

package reconcile

import (
	"context"
	"time"
)

// SaveAttendance records presence for the session (student, course, day of
// at). A second mark on the same day updates the first row and keeps its id.
func (e *Engine) SaveAttendance(ctx context.Context, studentID, courseID int64, present bool, at time.Time) (Receipt, error) {
	started := time.Now()
	rec, err := e.saveAttendance(ctx, studentID, courseID, present, at)
	return e.finish(OpSaveAttendance, started, rec, err)
}

func (e *Engine) saveAttendance(ctx context.Context, studentID, courseID int64, present bool, at time.Time) (Receipt, error) {
	rec := Receipt{State: StatePending}
	if studentID <= 0 || courseID <= 0 {
		return rec, invalid("student id and course id are required")
	}
	if at.IsZero() {
		at = e.now()
	}

	row, _, err := e.resolver.Resolve(ctx, studentID, courseID, present, at)
	if err != nil {
		return rec, err
	}
	rec.ID = row.ID
	rec.State = StateLocalCommitted

	e.mirrorWrite(ctx, OpSaveAttendance, &rec, func(ctx context.Context) error {
		return e.mirror.SaveAttendance(ctx, row)
	})
	return rec, nil
}

// DeleteAttendance removes one attendance row, locally and then in the
// mirror. An unknown id is a successful no-op.
func (e *Engine) DeleteAttendance(ctx context.Context, id int64) (Receipt, error) {
	started := time.Now()
	rec := Receipt{ID: id, State: StatePending}
	if id <= 0 {
		return e.finish(OpDeleteAttendance, started, rec, invalid("attendance id is required"))
	}

	found, err := e.store.DeleteAttendance(ctx, id)
	if err != nil {
		return e.finish(OpDeleteAttendance, started, rec, err)
	}
	rec.State = StateLocalCommitted
	if !found {
		rec.NoOp = true
		return e.finish(OpDeleteAttendance, started, rec, nil)
	}

	e.mirrorWrite(ctx, OpDeleteAttendance, &rec, func(ctx context.Context) error {
		return e.mirror.DeleteAttendance(ctx, id)
	})
	return e.finish(OpDeleteAttendance, started, rec, nil)
}

// Mark is one student's presence in a batch.
type Mark struct {
	StudentID int64 `json:"student_id" toml:"student_id"`
	Present   bool  `json:"present" toml:"present"`
}

// BatchItem is the outcome for one Mark.
type BatchItem struct {
	StudentID int64
	Receipt   Receipt

	// Err is set when the local write failed.
	Err error
}

// BatchResult summarizes a batch save.
type BatchResult struct {
	// SuccessCount is the number of marks committed locally.
	SuccessCount int

	// FailedStudentIDs lists, in input order, the students whose mark failed
	// locally or could not be mirrored.
	FailedStudentIDs []int64

	// Items holds one entry per mark, in input order.
	Items []BatchItem
}

// SaveAttendanceBatch saves marks for one course at one time, in input order.
// Each item is independent: a failure on one student never stops or undoes
// the others. The returned error is reserved for the batch as a whole and is
// currently only a canceled context between items.
func (e *Engine) SaveAttendanceBatch(ctx context.Context, courseID int64, marks []Mark, at time.Time) (*BatchResult, error) {
	started := time.Now()
	if at.IsZero() {
		at = e.now()
	}

	result := &BatchResult{Items: make([]BatchItem, 0, len(marks))}
	for _, m := range marks {
		if err := ctx.Err(); err != nil {
			e.finish(OpAttendanceBatch, started, Receipt{ID: courseID, State: StateLocalCommitted}, err)
			return result, err
		}

		rec, err := e.saveAttendance(ctx, m.StudentID, courseID, m.Present, at)
		result.Items = append(result.Items, BatchItem{StudentID: m.StudentID, Receipt: rec, Err: err})
		switch {
		case err != nil:
			e.logger.Printf("Warning: attendance for student %d in course %d failed: %v", m.StudentID, courseID, err)
			result.FailedStudentIDs = append(result.FailedStudentIDs, m.StudentID)
		case rec.State == StateMirrorFailed:
			result.SuccessCount++
			result.FailedStudentIDs = append(result.FailedStudentIDs, m.StudentID)
		default:
			result.SuccessCount++
		}
	}

	e.logger.Printf("Saved attendance for course %d: %d/%d committed, %d failed",
		courseID, result.SuccessCount, len(marks), len(result.FailedStudentIDs))

	summary := Receipt{ID: courseID, State: StateMirrorCommitted}
	if len(result.FailedStudentIDs) > 0 {
		summary.State = StateMirrorFailed
	}
	e.finish(OpAttendanceBatch, started, summary, nil)
	return result, nil
}

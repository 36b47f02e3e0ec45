package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rollcall-dev/rollcall/internal/roster/schema"
)

// SyncReport describes one reconciliation pull.
type SyncReport struct {
	RunID       string        `json:"run_id"`
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration"`
	Students    int           `json:"students"`
	Courses     int           `json:"courses"`
	Enrollments int           `json:"enrollments"`
	Attendance  int           `json:"attendance"`

	// Dropped counts remote documents skipped for an unparseable id.
	Dropped int `json:"dropped"`
}

// Total returns the number of records applied.
func (r SyncReport) Total() int {
	return r.Students + r.Courses + r.Enrollments + r.Attendance
}

// Sync pulls the full remote snapshot into the local store.
//
// Steps, all or nothing:
//  1. wait for buffered mirror writes to drain (bounded by DrainTimeout)
//  2. fetch every document of every collection
//  3. decode them, dropping documents whose id cannot be parsed
//  4. upsert every record by primary key in one local transaction
//
// Any failure is wrapped in ErrPullFailed and the local store is left as it
// was. Rows that exist locally but not remotely are kept.
func (e *Engine) Sync(ctx context.Context) (*SyncReport, error) {
	e.syncMu.Lock()
	defer e.syncMu.Unlock()

	report := &SyncReport{
		RunID:     uuid.NewString(),
		StartedAt: e.now(),
	}
	started := time.Now()
	e.logger.Printf("Starting reconciliation pull %s", report.RunID)

	err := e.pull(ctx, report)
	report.Duration = time.Since(started)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrPullFailed, err)
		e.logger.Printf("Pull %s failed after %v: %v", report.RunID, report.Duration, err)
		e.emitSync(*report, err)
		return report, err
	}

	e.logger.Printf("Pull %s complete: students=%d courses=%d enrollments=%d attendance=%d (dropped=%d) in %v",
		report.RunID, report.Students, report.Courses, report.Enrollments, report.Attendance,
		report.Dropped, report.Duration)
	e.emitSync(*report, nil)
	return report, nil
}

func (e *Engine) pull(ctx context.Context, report *SyncReport) error {
	drainCtx, cancel := context.WithTimeout(ctx, e.config.DrainTimeout)
	err := e.mirror.WaitForPendingWrites(drainCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to drain pending writes: %w", err)
	}

	docs, err := e.mirror.FetchAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch remote snapshot: %w", err)
	}

	snap, dropped, err := schema.DecodeSnapshot(docs)
	if err != nil {
		return fmt.Errorf("failed to convert remote snapshot: %w", err)
	}
	for _, d := range dropped {
		e.logger.Printf("Warning: dropping %s/%s: %v", d.Collection, d.ID, d.Err)
	}

	if err := e.store.RestoreSnapshot(ctx, snap); err != nil {
		return fmt.Errorf("failed to apply remote snapshot: %w", err)
	}

	report.Students = len(snap.Students)
	report.Courses = len(snap.Courses)
	report.Enrollments = len(snap.Enrollments)
	report.Attendance = len(snap.Attendance)
	report.Dropped = len(dropped)
	return nil
}

// SyncWithRemote runs Sync and reports only whether it succeeded.
func (e *Engine) SyncWithRemote(ctx context.Context) bool {
	_, err := e.Sync(ctx)
	return err == nil
}

package reconcile_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rollcall-dev/rollcall/internal/roster/mirror/memdoc"
	"github.com/rollcall-dev/rollcall/internal/roster/reconcile"
	"github.com/rollcall-dev/rollcall/internal/roster/schema"
)

// seedRemote writes records straight into the mirror, as another device would.
func seedRemote(t *testing.T, f *fixture) {
	t.Helper()
	ctx := context.Background()
	s := student("Remote Student", "REMO123456789")
	s.ID = 40
	s.CreatedAt = time.UnixMilli(1767225600000)
	c := course("REMO-4040")
	c.ID = 41
	require.NoError(t, f.client.SaveStudent(ctx, s))
	require.NoError(t, f.client.SaveCourse(ctx, c))
	require.NoError(t, f.client.SaveEnrollment(ctx, &schema.Enrollment{ID: 42, StudentID: 40, CourseID: 41}))
	require.NoError(t, f.client.SaveAttendance(ctx, &schema.Attendance{
		ID: 43, StudentID: 40, CourseID: 41, Date: time.Date(2026, 3, 2, 9, 0, 0, 0, pkt), IsPresent: true,
	}))
}

func TestSyncPullsRemoteSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedRemote(t, f)

	// A document whose id cannot become a local id is dropped, not fatal.
	require.NoError(t, f.remote.Set(ctx, schema.CollectionStudents, "not-a-number", map[string]any{"name": "Ghost"}))

	report, err := f.engine.Sync(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, 1, report.Students)
	assert.Equal(t, 1, report.Courses)
	assert.Equal(t, 1, report.Enrollments)
	assert.Equal(t, 1, report.Attendance)
	assert.Equal(t, 1, report.Dropped)
	assert.Equal(t, 4, report.Total())

	got, err := f.store.GetStudentByID(ctx, 40)
	require.NoError(t, err)
	assert.Equal(t, "REMO123456789", got.RegistrationNumber)
	att, err := f.store.ListAttendanceForCourse(ctx, 41)
	require.NoError(t, err)
	require.Len(t, att, 1)
	assert.Equal(t, int64(43), att[0].ID)

	// New local ids continue past the pulled ones.
	local := student("Local Student", "LOCL123456789")
	rec, err := f.engine.AddStudent(ctx, local)
	require.NoError(t, err)
	assert.Greater(t, rec.ID, int64(40))
}

func TestSyncKeepsLocalOnlyRows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s := student("Ayesha Khan", "ABCD123456789")
	_, err := f.engine.AddStudent(ctx, s)
	require.NoError(t, err)
	require.NoError(t, f.remote.Delete(ctx, schema.CollectionStudents, schema.FormatID(s.ID)))

	ok := f.engine.SyncWithRemote(ctx)
	require.True(t, ok)
	_, err = f.store.GetStudentByID(ctx, s.ID)
	assert.NoError(t, err, "a pull never deletes local rows")
}

func TestSyncFailureLeavesLocalUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s := student("Ayesha Khan", "ABCD123456789")
	_, err := f.engine.AddStudent(ctx, s)
	require.NoError(t, err)
	seedRemote(t, f)

	f.remote.FailWith(func(op memdoc.Op, collection, _ string) error {
		if op == memdoc.OpList && collection == schema.CollectionAttendance {
			return errors.New("quota exceeded")
		}
		return nil
	})

	_, err = f.engine.Sync(ctx)
	require.ErrorIs(t, err, reconcile.ErrPullFailed)
	assert.False(t, f.engine.SyncWithRemote(ctx))

	counts, err := f.store.Counts()
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Students, "no partial snapshot may be applied")
	assert.Zero(t, counts.Courses)

	f.events.mu.Lock()
	defer f.events.mu.Unlock()
	require.Len(t, f.events.syncs, 2)
	assert.ErrorIs(t, f.events.syncs[0], reconcile.ErrPullFailed)
}

func TestSyncAbortsOnMalformedDocument(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedRemote(t, f)

	require.NoError(t, f.remote.Set(ctx, schema.CollectionCourses, "41", map[string]any{"creditHours": "lots"}))

	_, err := f.engine.Sync(ctx)
	require.ErrorIs(t, err, reconcile.ErrPullFailed)
	counts, _ := f.store.Counts()
	assert.Zero(t, counts.Students, "students decode fine but must not be applied alone")
}

func TestSyncWaitsForPendingWrites(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.remote.SetOffline(true)
	rec, err := f.engine.AddCourse(ctx, course("MATH-1010"))
	require.NoError(t, err)
	require.Equal(t, reconcile.StateMirrorFailed, rec.State)

	// Still offline: the drain barrier times out and the pull fails.
	_, err = f.engine.Sync(ctx)
	require.ErrorIs(t, err, reconcile.ErrPullFailed)

	f.remote.SetOffline(false)
	report, err := f.engine.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Courses, "the queued write lands before the fetch")
	assert.Zero(t, f.client.Pending())
}

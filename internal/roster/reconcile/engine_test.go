package reconcile_test

import (
	"context"
	"errors"
	"io"
	"log"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rollcall-dev/rollcall/internal/roster/db"
	"github.com/rollcall-dev/rollcall/internal/roster/mirror"
	"github.com/rollcall-dev/rollcall/internal/roster/mirror/memdoc"
	"github.com/rollcall-dev/rollcall/internal/roster/reconcile"
	"github.com/rollcall-dev/rollcall/internal/roster/schema"
)

var pkt = time.FixedZone("PKT", 5*60*60)

type fixture struct {
	store  *db.DB
	remote *memdoc.Store
	client *mirror.Client
	engine *reconcile.Engine
	events *recorder
}

// recorder is a Listener that keeps everything it is told.
type recorder struct {
	mu       sync.Mutex
	commands []reconcile.Event
	syncs    []error
}

func (r *recorder) OnCommand(ev reconcile.Event) {
	r.mu.Lock()
	r.commands = append(r.commands, ev)
	r.mu.Unlock()
}

func (r *recorder) OnSync(_ reconcile.SyncReport, err error) {
	r.mu.Lock()
	r.syncs = append(r.syncs, err)
	r.mu.Unlock()
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := db.Open(filepath.Join(t.TempDir(), "roster.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.InitSchema())

	quiet := log.New(io.Discard, "", 0)
	remote := memdoc.New()
	client := mirror.New(remote, &mirror.Config{
		RetryInterval: 5 * time.Millisecond,
		Logger:        quiet,
	})
	events := &recorder{}
	engine := reconcile.New(store, client, &reconcile.Config{
		MirrorTimeout: time.Second,
		DrainTimeout:  100 * time.Millisecond,
		Location:      pkt,
		Listeners:     []reconcile.Listener{events},
		Logger:        quiet,
	})
	return &fixture{store: store, remote: remote, client: client, engine: engine, events: events}
}

func student(name, reg string) *schema.Student {
	return &schema.Student{
		Name:               name,
		RegistrationNumber: reg,
		ContactNumber:      "03001234567",
		Email:              "student@example.edu",
	}
}

func course(code string) *schema.Course {
	return &schema.Course{
		CourseName:     "Calculus",
		CourseCode:     code,
		CreditHours:    3,
		InstructorName: "Dr Saleem",
		SemesterNumber: 1,
	}
}

func TestAddStudentRoundTrips(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s := student("Ayesha Khan", "ABCD123456789")
	rec, err := f.engine.AddStudent(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, reconcile.StateMirrorCommitted, rec.State)
	assert.Equal(t, rec.ID, s.ID, "generated id must be attached to the record")

	got, err := f.store.GetStudentByRegistration(ctx, "ABCD123456789")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, s.Name, got.Name)
	assert.Equal(t, s.ContactNumber, got.ContactNumber)
	assert.Equal(t, s.Email, got.Email)
	assert.True(t, s.CreatedAt.Equal(got.CreatedAt))

	doc, ok := f.remote.Get(schema.CollectionStudents, schema.FormatID(rec.ID))
	require.True(t, ok)
	assert.Equal(t, "Ayesha Khan", doc["name"])
}

func TestAddStudentRejectsDuplicateRegistration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.AddStudent(ctx, student("Ayesha Khan", "ABCD123456789"))
	require.NoError(t, err)
	writes := f.remote.Writes()

	_, err = f.engine.AddStudent(ctx, student("Bilal Ahmed", "ABCD123456789"))
	assert.ErrorIs(t, err, reconcile.ErrDuplicateRegistration)

	counts, err := f.store.Counts()
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Students)
	assert.Equal(t, writes, f.remote.Writes(), "rejected add must not reach the mirror")
}

func TestAddCourseRejectsDuplicateCodeWithoutWrites(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.AddCourse(ctx, course("MATH-1010"))
	require.NoError(t, err)
	writes := f.remote.Writes()

	for i := 0; i < 2; i++ {
		_, err = f.engine.AddCourse(ctx, course("MATH-1010"))
		assert.ErrorIs(t, err, reconcile.ErrDuplicateCourseCode)
	}

	counts, err := f.store.Counts()
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Courses)
	assert.Equal(t, writes, f.remote.Writes())
}

func TestAddRejectsInvalidInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.AddCourse(ctx, course("math1010"))
	assert.ErrorIs(t, err, reconcile.ErrValidation)

	var verr *reconcile.ValidationError
	_, err = f.engine.AddStudent(ctx, student("Ayesha Khan", "123"))
	require.ErrorAs(t, err, &verr)

	counts, _ := f.store.Counts()
	assert.Zero(t, counts.Students+counts.Courses)
	assert.Zero(t, f.remote.Writes())
}

func TestUpdateStudent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s := student("Ayesha Khan", "ABCD123456789")
	require.NoError(t, s.SetPassword("hunter22"))
	_, err := f.engine.AddStudent(ctx, s)
	require.NoError(t, err)

	update := student("Ayesha Malik", "ABCD123456789")
	update.ID = s.ID
	update.IsCR = true
	rec, err := f.engine.UpdateStudent(ctx, update)
	require.NoError(t, err)
	assert.Equal(t, reconcile.StateMirrorCommitted, rec.State)

	got, err := f.store.GetStudentByID(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ayesha Malik", got.Name)
	assert.True(t, got.IsCR)
	assert.True(t, got.CheckPassword("hunter22"), "update without a password keeps the hash")
	assert.True(t, s.CreatedAt.Equal(got.CreatedAt))

	doc, _ := f.remote.Get(schema.CollectionStudents, schema.FormatID(s.ID))
	assert.Equal(t, true, doc["isCR"])

	moved := student("Ayesha Malik", "WXYZ123456789")
	moved.ID = s.ID
	_, err = f.engine.UpdateStudent(ctx, moved)
	assert.ErrorIs(t, err, reconcile.ErrImmutableRegistration)

	ghost := student("Nobody", "ABCD000000000")
	ghost.ID = 999
	_, err = f.engine.UpdateStudent(ctx, ghost)
	assert.ErrorIs(t, err, reconcile.ErrNotFound)
}

func TestUpdateCourse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	math := course("MATH-1010")
	phys := course("PHYS-2020")
	_, err := f.engine.AddCourse(ctx, math)
	require.NoError(t, err)
	_, err = f.engine.AddCourse(ctx, phys)
	require.NoError(t, err)

	math.CreditHours = 4
	rec, err := f.engine.UpdateCourse(ctx, math)
	require.NoError(t, err)
	assert.False(t, rec.NoOp)
	got, _ := f.store.GetCourseByID(ctx, math.ID)
	assert.Equal(t, 4, got.CreditHours)

	clash := *phys
	clash.CourseCode = "MATH-1010"
	_, err = f.engine.UpdateCourse(ctx, &clash)
	assert.ErrorIs(t, err, reconcile.ErrDuplicateCourseCode)

	missing := course("CHEM-3030")
	missing.ID = 404
	writes := f.remote.Writes()
	rec, err = f.engine.UpdateCourse(ctx, missing)
	require.NoError(t, err)
	assert.True(t, rec.NoOp)
	assert.Equal(t, writes, f.remote.Writes())
}

// Same-day marks collapse into one row; the next day gets a new one.
func TestSaveAttendanceSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s := student("Ayesha Khan", "ABCD123456789")
	c := course("MATH-1010")
	_, err := f.engine.AddStudent(ctx, s)
	require.NoError(t, err)
	_, err = f.engine.AddCourse(ctx, c)
	require.NoError(t, err)
	_, err = f.engine.EnrollStudent(ctx, s.ID, c.ID)
	require.NoError(t, err)

	day1 := time.Date(2026, 3, 2, 9, 0, 0, 0, pkt)
	first, err := f.engine.SaveAttendance(ctx, s.ID, c.ID, true, day1)
	require.NoError(t, err)
	second, err := f.engine.SaveAttendance(ctx, s.ID, c.ID, false, day1.Add(8*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	rows, err := f.store.ListAttendanceForCourse(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.False(t, rows[0].IsPresent)

	doc, _ := f.remote.Get(schema.CollectionAttendance, schema.FormatID(first.ID))
	assert.Equal(t, false, doc["isPresent"])

	_, err = f.engine.SaveAttendance(ctx, s.ID, c.ID, true, day1.Add(24*time.Hour))
	require.NoError(t, err)
	rows, err = f.store.ListAttendanceForCourse(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	assert.Equal(t, 2, f.remote.Count(schema.CollectionAttendance))
}

func TestDeleteStudentCascadesBothStores(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s := student("Ayesha Khan", "ABCD123456789")
	other := student("Bilal Ahmed", "ABCD987654321")
	c := course("MATH-1010")
	for _, st := range []*schema.Student{s, other} {
		_, err := f.engine.AddStudent(ctx, st)
		require.NoError(t, err)
	}
	_, err := f.engine.AddCourse(ctx, c)
	require.NoError(t, err)
	for _, st := range []*schema.Student{s, other} {
		_, err = f.engine.EnrollStudent(ctx, st.ID, c.ID)
		require.NoError(t, err)
		_, err = f.engine.SaveAttendance(ctx, st.ID, c.ID, true, time.Now())
		require.NoError(t, err)
	}

	rec, err := f.engine.DeleteStudentByRegistration(ctx, s.RegistrationNumber)
	require.NoError(t, err)
	assert.Equal(t, s.ID, rec.ID)
	assert.Equal(t, reconcile.StateMirrorCommitted, rec.State)

	enr, err := f.store.ListEnrollmentsForStudent(ctx, s.ID)
	require.NoError(t, err)
	assert.Empty(t, enr)
	att, err := f.store.ListAttendanceForStudent(ctx, s.ID)
	require.NoError(t, err)
	assert.Empty(t, att)

	remaining, err := f.remote.Query(ctx, schema.CollectionAttendance, schema.FieldStudentID, schema.FormatID(s.ID))
	require.NoError(t, err)
	assert.Empty(t, remaining)
	assert.Equal(t, 1, f.remote.Count(schema.CollectionStudents))
	assert.Equal(t, 1, f.remote.Count(schema.CollectionEnrollments))
}

func TestDeleteUnknownKeysAreNoOps(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, err := f.engine.DeleteStudentByRegistration(ctx, "ZZZZ000000000")
	require.NoError(t, err)
	assert.True(t, rec.NoOp)

	rec, err = f.engine.DeleteCourseByCode(ctx, "ZZZZ-0000")
	require.NoError(t, err)
	assert.True(t, rec.NoOp)

	rec, err = f.engine.Unenroll(ctx, 1, 1)
	require.NoError(t, err)
	assert.True(t, rec.NoOp)
}

func TestDeleteCourseCascades(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s := student("Ayesha Khan", "ABCD123456789")
	c := course("MATH-1010")
	_, _ = f.engine.AddStudent(ctx, s)
	_, _ = f.engine.AddCourse(ctx, c)
	_, _ = f.engine.EnrollStudent(ctx, s.ID, c.ID)
	_, _ = f.engine.SaveAttendance(ctx, s.ID, c.ID, true, time.Now())

	rec, err := f.engine.DeleteCourseByCode(ctx, "MATH-1010")
	require.NoError(t, err)
	assert.Equal(t, c.ID, rec.ID)

	counts, _ := f.store.Counts()
	assert.Equal(t, 1, counts.Students)
	assert.Zero(t, counts.Courses+counts.Enrollments+counts.Attendance)
	assert.Zero(t, f.remote.Count(schema.CollectionCourses))
	assert.Zero(t, f.remote.Count(schema.CollectionEnrollments))
	assert.Zero(t, f.remote.Count(schema.CollectionAttendance))
}

func TestDeleteAttendanceRemovesOneRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s := student("Ayesha Khan", "ABCD123456789")
	c := course("MATH-1010")
	_, _ = f.engine.AddStudent(ctx, s)
	_, _ = f.engine.AddCourse(ctx, c)
	monday := time.Date(2026, 3, 2, 9, 0, 0, 0, pkt)
	first, err := f.engine.SaveAttendance(ctx, s.ID, c.ID, true, monday)
	require.NoError(t, err)
	_, err = f.engine.SaveAttendance(ctx, s.ID, c.ID, false, monday.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Equal(t, 2, f.remote.Count(schema.CollectionAttendance))

	rec, err := f.engine.DeleteAttendance(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, reconcile.StateMirrorCommitted, rec.State)
	assert.False(t, rec.NoOp)

	rows, _ := f.store.ListAttendanceForCourse(ctx, c.ID)
	require.Len(t, rows, 1)
	assert.NotEqual(t, first.ID, rows[0].ID)
	assert.Equal(t, 1, f.remote.Count(schema.CollectionAttendance))
	_, ok := f.remote.Get(schema.CollectionAttendance, schema.FormatID(first.ID))
	assert.False(t, ok)

	rec, err = f.engine.DeleteAttendance(ctx, first.ID)
	require.NoError(t, err)
	assert.True(t, rec.NoOp)
	assert.Equal(t, reconcile.StateLocalCommitted, rec.State)

	_, err = f.engine.DeleteAttendance(ctx, 0)
	assert.ErrorIs(t, err, reconcile.ErrValidation)
}

func TestEnrollAllowsDuplicatesAndUnenrollRemovesAll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s := student("Ayesha Khan", "ABCD123456789")
	c := course("MATH-1010")
	_, _ = f.engine.AddStudent(ctx, s)
	_, _ = f.engine.AddCourse(ctx, c)

	_, err := f.engine.EnrollStudent(ctx, s.ID, c.ID)
	require.NoError(t, err)
	_, err = f.engine.EnrollStudent(ctx, s.ID, c.ID)
	require.NoError(t, err)
	enr, _ := f.store.ListEnrollmentsForCourse(ctx, c.ID)
	assert.Len(t, enr, 2)

	rec, err := f.engine.Unenroll(ctx, s.ID, c.ID)
	require.NoError(t, err)
	assert.Equal(t, reconcile.StateMirrorCommitted, rec.State)
	enr, _ = f.store.ListEnrollmentsForCourse(ctx, c.ID)
	assert.Empty(t, enr)
	assert.Zero(t, f.remote.Count(schema.CollectionEnrollments))
}

func TestEnrollUnknownStudentFailsLocally(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c := course("MATH-1010")
	_, _ = f.engine.AddCourse(ctx, c)
	writes := f.remote.Writes()

	rec, err := f.engine.EnrollStudent(ctx, 77, c.ID)
	require.Error(t, err, "foreign key must reject the row")
	assert.Equal(t, reconcile.StatePending, rec.State)
	assert.Equal(t, writes, f.remote.Writes())
}

func TestMirrorFailureKeepsLocalWrite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.remote.SetOffline(true)
	s := student("Ayesha Khan", "ABCD123456789")
	rec, err := f.engine.AddStudent(ctx, s)
	require.NoError(t, err, "mirror failures are not command failures")
	assert.Equal(t, reconcile.StateMirrorFailed, rec.State)
	assert.ErrorIs(t, rec.MirrorErr, mirror.ErrQueued)

	_, err = f.store.GetStudentByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, f.client.Pending())

	// The buffered write is delivered once the mirror is back.
	f.remote.SetOffline(false)
	require.NoError(t, f.client.WaitForPendingWrites(ctx))
	_, ok := f.remote.Get(schema.CollectionStudents, schema.FormatID(rec.ID))
	assert.True(t, ok)
}

func TestCallerCancellationDoesNotStopMirrorWrite(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Cancel right after the local commit.
	unsubscribe := f.store.Subscribe(func(db.Change) { cancel() })
	defer unsubscribe()

	rec, err := f.engine.AddCourse(ctx, course("MATH-1010"))
	require.NoError(t, err)
	require.Error(t, ctx.Err())
	assert.Equal(t, reconcile.StateMirrorCommitted, rec.State)
	assert.Equal(t, 1, f.remote.Count(schema.CollectionCourses))
}

func TestBatchAttendanceIsolatesFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c := course("MATH-1010")
	_, err := f.engine.AddCourse(ctx, c)
	require.NoError(t, err)

	regs := []string{"AAAA000000001", "AAAA000000002", "AAAA000000003", "AAAA000000004", "AAAA000000005"}
	marks := make([]reconcile.Mark, len(regs))
	for i, reg := range regs {
		s := student("Student Number", reg)
		_, err := f.engine.AddStudent(ctx, s)
		require.NoError(t, err)
		marks[i] = reconcile.Mark{StudentID: s.ID, Present: i%2 == 0}
	}

	// Attendance ids are assigned in input order on a fresh store, so the
	// third row gets id 3.
	rejected := errors.New("permission denied")
	f.remote.FailWith(func(op memdoc.Op, collection, id string) error {
		if op == memdoc.OpSet && collection == schema.CollectionAttendance && id == "3" {
			return rejected
		}
		return nil
	})

	result, err := f.engine.SaveAttendanceBatch(ctx, c.ID, marks, time.Date(2026, 3, 2, 10, 0, 0, 0, pkt))
	require.NoError(t, err)
	assert.Equal(t, 5, result.SuccessCount)
	assert.Equal(t, []int64{marks[2].StudentID}, result.FailedStudentIDs)
	require.Len(t, result.Items, 5)
	for i, item := range result.Items {
		assert.Equal(t, marks[i].StudentID, item.StudentID, "items keep input order")
	}
	assert.ErrorIs(t, result.Items[2].Receipt.MirrorErr, rejected)

	rows, err := f.store.ListAttendanceForCourse(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, rows, 5, "every local row is committed")
	assert.Equal(t, 4, f.remote.Count(schema.CollectionAttendance))
}

func TestBatchAttendanceRecordsLocalFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c := course("MATH-1010")
	s := student("Ayesha Khan", "ABCD123456789")
	_, _ = f.engine.AddCourse(ctx, c)
	_, _ = f.engine.AddStudent(ctx, s)

	marks := []reconcile.Mark{{StudentID: 999, Present: true}, {StudentID: s.ID, Present: true}}
	result, err := f.engine.SaveAttendanceBatch(ctx, c.ID, marks, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, result.SuccessCount)
	assert.Equal(t, []int64{999}, result.FailedStudentIDs)
	assert.Error(t, result.Items[0].Err)
	assert.NoError(t, result.Items[1].Err)
}

func TestListenersSeeEveryCommand(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _ = f.engine.AddCourse(ctx, course("MATH-1010"))
	_, _ = f.engine.AddCourse(ctx, course("MATH-1010"))
	_, _ = f.engine.DeleteCourseByCode(ctx, "MATH-1010")

	f.events.mu.Lock()
	defer f.events.mu.Unlock()
	require.Len(t, f.events.commands, 3)
	assert.Equal(t, reconcile.OpAddCourse, f.events.commands[0].Op)
	assert.NoError(t, f.events.commands[0].Err)
	assert.ErrorIs(t, f.events.commands[1].Err, reconcile.ErrDuplicateCourseCode)
	assert.Equal(t, reconcile.OpDeleteCourse, f.events.commands[2].Op)
}

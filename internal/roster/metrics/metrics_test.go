package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/rollcall-dev/rollcall/internal/roster/reconcile"
)

func TestOnCommand(t *testing.T) {
	m := New(nil)

	m.OnCommand(reconcile.Event{Op: reconcile.OpAddStudent, Receipt: reconcile.Receipt{State: reconcile.StateMirrorCommitted}})
	m.OnCommand(reconcile.Event{Op: reconcile.OpAddStudent, Receipt: reconcile.Receipt{State: reconcile.StateMirrorFailed}})
	m.OnCommand(reconcile.Event{Op: reconcile.OpAddCourse, Err: &reconcile.ValidationError{Err: errors.New("bad code")}})
	m.OnCommand(reconcile.Event{Op: reconcile.OpDeleteCourse, Receipt: reconcile.Receipt{State: reconcile.StateLocalCommitted, NoOp: true}})

	if got := testutil.ToFloat64(m.commands.WithLabelValues("add_student", "mirror_committed")); got != 1 {
		t.Errorf("mirror_committed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.mirrorFailures.WithLabelValues("add_student")); got != 1 {
		t.Errorf("mirror failures = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.commands.WithLabelValues("add_course", "rejected")); got != 1 {
		t.Errorf("rejected = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.commands.WithLabelValues("delete_course", "noop")); got != 1 {
		t.Errorf("noop = %v, want 1", got)
	}
}

func TestEveryOpHasSeries(t *testing.T) {
	m := New(nil)
	if got := testutil.CollectAndCount(m.mirrorFailures); got != len(reconcile.Ops) {
		t.Errorf("expected %d mirror failure series, got %d", len(reconcile.Ops), got)
	}
	if got := testutil.ToFloat64(m.mirrorFailures.WithLabelValues(string(reconcile.OpDeleteAttendance))); got != 0 {
		t.Errorf("expected idle op at 0, got %v", got)
	}
}

func TestOnSyncAndHandler(t *testing.T) {
	pending := 3
	m := New(func() int { return pending })

	m.OnSync(reconcile.SyncReport{Students: 2, Courses: 1, Duration: 40 * time.Millisecond}, nil)
	m.OnSync(reconcile.SyncReport{}, reconcile.ErrPullFailed)

	if got := testutil.ToFloat64(m.pulls.WithLabelValues("success")); got != 1 {
		t.Errorf("success pulls = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.pulls.WithLabelValues("failure")); got != 1 {
		t.Errorf("failed pulls = %v, want 1", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{
		"rollcall_mirror_pending 3",
		`rollcall_sync_records{collection="students"} 2`,
		"rollcall_sync_duration_seconds_count 2",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

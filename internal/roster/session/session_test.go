package session

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rollcall-dev/rollcall/internal/roster/db"
	"github.com/rollcall-dev/rollcall/internal/roster/schema"
)

func TestBounds(t *testing.T) {
	karachi := time.FixedZone("PKT", 5*60*60)

	tests := []struct {
		name      string
		at        time.Time
		loc       *time.Location
		wantStart time.Time
		wantEnd   time.Time
	}{
		{
			name:      "midday",
			at:        time.Date(2026, 5, 12, 13, 45, 10, 0, karachi),
			loc:       karachi,
			wantStart: time.Date(2026, 5, 12, 0, 0, 0, 0, karachi),
			wantEnd:   time.Date(2026, 5, 12, 23, 59, 59, 999e6, karachi),
		},
		{
			name:      "exact midnight",
			at:        time.Date(2026, 5, 12, 0, 0, 0, 0, karachi),
			loc:       karachi,
			wantStart: time.Date(2026, 5, 12, 0, 0, 0, 0, karachi),
			wantEnd:   time.Date(2026, 5, 12, 23, 59, 59, 999e6, karachi),
		},
		{
			// 21:00 UTC is already the next day in Karachi.
			name:      "converted to location",
			at:        time.Date(2026, 5, 12, 21, 0, 0, 0, time.UTC),
			loc:       karachi,
			wantStart: time.Date(2026, 5, 13, 0, 0, 0, 0, karachi),
			wantEnd:   time.Date(2026, 5, 13, 23, 59, 59, 999e6, karachi),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end := Bounds(tt.at, tt.loc)
			if !start.Equal(tt.wantStart) {
				t.Errorf("start = %v, want %v", start, tt.wantStart)
			}
			if !end.Equal(tt.wantEnd) {
				t.Errorf("end = %v, want %v", end, tt.wantEnd)
			}
		})
	}
}

func TestSameDay(t *testing.T) {
	loc := time.UTC
	a := time.Date(2026, 1, 1, 0, 0, 0, 0, loc)
	if !SameDay(a, a.Add(23*time.Hour+59*time.Minute), loc) {
		t.Error("expected same day")
	}
	if SameDay(a, a.Add(24*time.Hour), loc) {
		t.Error("expected different days")
	}
}

func setup(t *testing.T) (*db.DB, int64, int64) {
	t.Helper()
	store, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.InitSchema(); err != nil {
		t.Fatalf("InitSchema failed: %v", err)
	}
	ctx := context.Background()
	sid, err := store.InsertStudent(ctx, &schema.Student{Name: "Ali", RegistrationNumber: "ABCD123456789", CreatedAt: time.Now()})
	if err != nil {
		t.Fatalf("InsertStudent failed: %v", err)
	}
	cid, err := store.InsertCourse(ctx, &schema.Course{CourseName: "Calculus", CourseCode: "MATH-1010", CreditHours: 3, SemesterNumber: 1})
	if err != nil {
		t.Fatalf("InsertCourse failed: %v", err)
	}
	return store, sid, cid
}

func TestResolve_SameDayUpdatesInPlace(t *testing.T) {
	store, sid, cid := setup(t)
	r := NewResolver(store, time.UTC)
	ctx := context.Background()

	morning := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	evening := time.Date(2026, 3, 2, 20, 0, 0, 0, time.UTC)

	first, created, err := r.Resolve(ctx, sid, cid, true, morning)
	if err != nil || !created {
		t.Fatalf("first Resolve = %v, created=%v, err=%v", first, created, err)
	}
	second, created, err := r.Resolve(ctx, sid, cid, false, evening)
	if err != nil || created {
		t.Fatalf("second Resolve = %v, created=%v, err=%v", second, created, err)
	}
	if second.ID != first.ID {
		t.Errorf("session id changed from %d to %d", first.ID, second.ID)
	}

	rows, err := store.ListAttendanceForCourse(ctx, cid)
	if err != nil {
		t.Fatalf("ListAttendanceForCourse failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0].IsPresent || !rows[0].Date.Equal(evening) {
		t.Errorf("row not updated to last write: %+v", rows[0])
	}
}

func TestResolve_DifferentDaysCreateRows(t *testing.T) {
	store, sid, cid := setup(t)
	r := NewResolver(store, time.UTC)
	ctx := context.Background()

	day1 := time.Date(2026, 3, 2, 23, 59, 59, 999e6, time.UTC)
	day2 := day1.Add(time.Millisecond)

	a, _, err := r.Resolve(ctx, sid, cid, true, day1)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	b, created, err := r.Resolve(ctx, sid, cid, true, day2)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !created || a.ID == b.ID {
		t.Errorf("expected a new session across midnight, got ids %d and %d", a.ID, b.ID)
	}
}

func TestResolve_ConcurrentMarksShareOneRow(t *testing.T) {
	store, sid, cid := setup(t)
	r := NewResolver(store, time.UTC)
	ctx := context.Background()
	day := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, _, err := r.Resolve(ctx, sid, cid, i%2 == 0, day.Add(time.Duration(i)*time.Minute)); err != nil {
				t.Errorf("Resolve failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	rows, err := store.ListAttendanceForCourse(ctx, cid)
	if err != nil {
		t.Fatalf("ListAttendanceForCourse failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row for the session, got %d", len(rows))
	}
	if n := len(r.locks); n != 0 {
		t.Errorf("expected session locks to be released, %d left", n)
	}
}

func TestResolve_OtherSessionsAreNotBlocked(t *testing.T) {
	store, sid, cid := setup(t)
	r := NewResolver(store, time.UTC)
	ctx := context.Background()
	monday := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	// Hold Monday's session while Tuesday is marked.
	unlock := r.lock(sessionKey{sid, cid, monday.Format(time.DateOnly)})
	defer unlock()

	done := make(chan error, 1)
	go func() {
		_, _, err := r.Resolve(ctx, sid, cid, true, monday.AddDate(0, 0, 1))
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("marking another day waited on a held session")
	}
}

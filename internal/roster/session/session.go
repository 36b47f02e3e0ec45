// Package session resolves attendance sessions.
//
// A session is one (student, course, calendar day) bucket. Marking attendance
// twice on the same local day updates the existing row in place, keeping its
// id; marking on a different day creates a new row.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rollcall-dev/rollcall/internal/roster/schema"
)

// Bounds returns the first and last millisecond of t's calendar day in loc.
// A nil loc uses t's own location.
func Bounds(t time.Time, loc *time.Location) (start, end time.Time) {
	if loc != nil {
		t = t.In(loc)
	}
	y, m, d := t.Date()
	start = time.Date(y, m, d, 0, 0, 0, 0, t.Location())
	end = time.Date(y, m, d, 23, 59, 59, int(999*time.Millisecond), t.Location())
	return start, end
}

// SameDay reports whether a and b fall on the same calendar day in loc.
func SameDay(a, b time.Time, loc *time.Location) bool {
	start, end := Bounds(a, loc)
	return !b.Before(start) && !b.After(end)
}

// Ledger is the part of the local store the resolver needs.
type Ledger interface {
	FindAttendanceInRange(ctx context.Context, studentID, courseID int64, start, end time.Time) (*schema.Attendance, error)
	InsertAttendance(ctx context.Context, a *schema.Attendance) (int64, error)
	UpdateAttendance(ctx context.Context, a *schema.Attendance) error
}

// Resolver maps attendance marks onto sessions.
type Resolver struct {
	ledger Ledger
	loc    *time.Location

	// locks serializes find-then-write per session so two marks for one
	// session cannot both insert. Marks for other sessions run in parallel.
	mu    sync.Mutex
	locks map[sessionKey]*sessionLock
}

type sessionKey struct {
	studentID int64
	courseID  int64
	day       string
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// NewResolver creates a resolver that buckets days in loc (time.Local when nil).
func NewResolver(ledger Ledger, loc *time.Location) *Resolver {
	if loc == nil {
		loc = time.Local
	}
	return &Resolver{ledger: ledger, loc: loc, locks: make(map[sessionKey]*sessionLock)}
}

// lock takes the session's lock and returns its release func. Entries are
// dropped once no caller holds or waits on them.
func (r *Resolver) lock(key sessionKey) (unlock func()) {
	r.mu.Lock()
	l, ok := r.locks[key]
	if !ok {
		l = &sessionLock{}
		r.locks[key] = l
	}
	l.refs++
	r.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		r.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(r.locks, key)
		}
		r.mu.Unlock()
	}
}

// Location returns the time zone used for day boundaries.
func (r *Resolver) Location() *time.Location {
	return r.loc
}

// Resolve records presence for the session containing at.
//
// If the session already has a row, that row is updated with the new
// timestamp and presence and keeps its id. Otherwise a new row is inserted.
// created reports which of the two happened.
func (r *Resolver) Resolve(ctx context.Context, studentID, courseID int64, present bool, at time.Time) (rec *schema.Attendance, created bool, err error) {
	start, end := Bounds(at, r.loc)

	unlock := r.lock(sessionKey{studentID, courseID, start.Format(time.DateOnly)})
	defer unlock()

	existing, err := r.ledger.FindAttendanceInRange(ctx, studentID, courseID, start, end)
	if err != nil {
		return nil, false, fmt.Errorf("failed to look up session: %w", err)
	}

	if existing != nil {
		existing.Date = at
		existing.IsPresent = present
		if err := r.ledger.UpdateAttendance(ctx, existing); err != nil {
			return nil, false, fmt.Errorf("failed to update session %d: %w", existing.ID, err)
		}
		return existing, false, nil
	}

	rec = &schema.Attendance{
		StudentID: studentID,
		CourseID:  courseID,
		Date:      at,
		IsPresent: present,
	}
	id, err := r.ledger.InsertAttendance(ctx, rec)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create session: %w", err)
	}
	rec.ID = id
	return rec, true, nil
}

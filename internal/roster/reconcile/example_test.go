package reconcile_test

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/rollcall-dev/rollcall/internal/roster/db"
	"github.com/rollcall-dev/rollcall/internal/roster/mirror"
	"github.com/rollcall-dev/rollcall/internal/roster/mirror/memdoc"
	"github.com/rollcall-dev/rollcall/internal/roster/reconcile"
	"github.com/rollcall-dev/rollcall/internal/roster/schema"
)

// Marking the same student twice on one day keeps one row; the next day
// adds a second.
func ExampleEngine_SaveAttendance() {
	dir, err := os.MkdirTemp("", "rollcall-example")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)

	store, err := db.Open(filepath.Join(dir, "roster.db"))
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()
	if err := store.InitSchema(); err != nil {
		log.Fatal(err)
	}

	quiet := log.New(io.Discard, "", 0)
	client := mirror.New(memdoc.New(), &mirror.Config{Logger: quiet})
	engine := reconcile.New(store, client, &reconcile.Config{Location: time.UTC, Logger: quiet})
	ctx := context.Background()

	s := &schema.Student{Name: "Ayesha Khan", RegistrationNumber: "ABCD123456789"}
	c := &schema.Course{
		CourseName:     "Calculus",
		CourseCode:     "MATH-1010",
		CreditHours:    3,
		InstructorName: "Dr Saleem",
		SemesterNumber: 1,
	}
	if _, err := engine.AddStudent(ctx, s); err != nil {
		log.Fatal(err)
	}
	if _, err := engine.AddCourse(ctx, c); err != nil {
		log.Fatal(err)
	}
	if _, err := engine.EnrollStudent(ctx, s.ID, c.ID); err != nil {
		log.Fatal(err)
	}

	day1 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	engine.SaveAttendance(ctx, s.ID, c.ID, true, day1)
	engine.SaveAttendance(ctx, s.ID, c.ID, false, day1.Add(2*time.Hour))

	rows, _ := store.ListAttendanceForCourse(ctx, c.ID)
	fmt.Println(len(rows), rows[0].IsPresent)

	engine.SaveAttendance(ctx, s.ID, c.ID, true, day1.AddDate(0, 0, 1))
	rows, _ = store.ListAttendanceForCourse(ctx, c.ID)
	fmt.Println(len(rows))

	// Output:
	// 1 false
	// 2
}

// Package loadtest drives concurrent batch attendance through the engine.
//
// It simulates several class representatives marking attendance for the
// same course at once, each submitting whole-class batches, and measures
// per-batch latency. The mirror is an in-memory store so the numbers reflect
// the local store, the session resolver and the mirror client, not a network.
package loadtest

import (
	"context"
	"fmt"
	"io"
	"log"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rollcall-dev/rollcall/internal/roster/db"
	"github.com/rollcall-dev/rollcall/internal/roster/mirror"
	"github.com/rollcall-dev/rollcall/internal/roster/mirror/memdoc"
	"github.com/rollcall-dev/rollcall/internal/roster/reconcile"
	"github.com/rollcall-dev/rollcall/internal/roster/schema"
)

// TestRoster is a populated roster ready for load testing.
type TestRoster struct {
	RunID      string
	DB         *db.DB
	Remote     *memdoc.Store
	Engine     *reconcile.Engine
	CourseID   int64
	StudentIDs []int64

	// Day is the first session day; batch j of a run is marked on Day+j.
	Day time.Time
}

// LatencyStats captures performance metrics from load tests.
type LatencyStats struct {
	Min          time.Duration
	Max          time.Duration
	Mean         time.Duration
	P50          time.Duration // Median
	P95          time.Duration
	P99          time.Duration
	TotalBatches int
	TotalMarks   int
	Errors       int
	Durations    []time.Duration
}

// CreateTestRoster creates a database at dbPath with numStudents students
// enrolled in one course.
func CreateTestRoster(ctx context.Context, dbPath string, numStudents int) (*TestRoster, error) {
	if numStudents <= 0 {
		return nil, fmt.Errorf("need at least one student, got %d", numStudents)
	}

	database, err := db.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := database.InitSchemaContext(ctx); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	quiet := log.New(io.Discard, "", 0)
	remote := memdoc.New()
	engine := reconcile.New(database, mirror.New(remote, &mirror.Config{Logger: quiet}), &reconcile.Config{
		Location: time.UTC,
		Logger:   quiet,
	})

	tr := &TestRoster{
		RunID:      uuid.NewString(),
		DB:         database,
		Remote:     remote,
		Engine:     engine,
		StudentIDs: make([]int64, 0, numStudents),
		Day:        time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC),
	}

	course := &schema.Course{
		CourseName:     "Load Test",
		CourseCode:     "LOAD-0001",
		CreditHours:    3,
		InstructorName: "Load Tester",
		SemesterNumber: 1,
	}
	if _, err := engine.AddCourse(ctx, course); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("failed to add course: %w", err)
	}
	tr.CourseID = course.ID

	for _, s := range generateStudents(numStudents) {
		if _, err := engine.AddStudent(ctx, s); err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("failed to add student %s: %w", s.RegistrationNumber, err)
		}
		if _, err := engine.EnrollStudent(ctx, s.ID, tr.CourseID); err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("failed to enroll student %s: %w", s.RegistrationNumber, err)
		}
		tr.StudentIDs = append(tr.StudentIDs, s.ID)
	}

	return tr, nil
}

// Close closes the test database connection.
func (tr *TestRoster) Close() error {
	if tr.DB != nil {
		return tr.DB.Close()
	}
	return nil
}

// RunConcurrentBatches simulates numSessions representatives each saving
// batchesPerSession whole-class batches. All sessions mark the same days,
// so every batch after the first on a given day updates existing rows.
func (tr *TestRoster) RunConcurrentBatches(ctx context.Context, numSessions, batchesPerSession int) (*LatencyStats, error) {
	var wg sync.WaitGroup
	resultsChan := make(chan []time.Duration, numSessions)
	errorsChan := make(chan error, numSessions)

	for i := 0; i < numSessions; i++ {
		wg.Add(1)
		go func(sessionID int) {
			defer wg.Done()

			rng := rand.New(rand.NewSource(int64(sessionID) + 1))
			durations := make([]time.Duration, 0, batchesPerSession)

			for j := 0; j < batchesPerSession; j++ {
				marks := make([]reconcile.Mark, len(tr.StudentIDs))
				for k, id := range tr.StudentIDs {
					// Roughly 85% present
					marks[k] = reconcile.Mark{StudentID: id, Present: rng.Intn(100) < 85}
				}

				start := time.Now()
				result, err := tr.Engine.SaveAttendanceBatch(ctx, tr.CourseID, marks, tr.Day.AddDate(0, 0, j))
				durations = append(durations, time.Since(start))

				if err != nil {
					errorsChan <- fmt.Errorf("session %d batch %d failed: %w", sessionID, j, err)
					return
				}
				if len(result.FailedStudentIDs) > 0 {
					errorsChan <- fmt.Errorf("session %d batch %d: %d marks failed", sessionID, j, len(result.FailedStudentIDs))
					return
				}
			}

			resultsChan <- durations
		}(i)
	}

	wg.Wait()
	close(resultsChan)
	close(errorsChan)

	var errs []error
	for err := range errorsChan {
		errs = append(errs, err)
	}

	var allDurations []time.Duration
	for durations := range resultsChan {
		allDurations = append(allDurations, durations...)
	}

	if len(allDurations) == 0 {
		if len(errs) > 0 {
			return nil, fmt.Errorf("no batch completed: %w", errs[0])
		}
		return nil, fmt.Errorf("no batch completed")
	}

	stats := computeLatencyStats(allDurations)
	stats.Errors = len(errs)
	stats.TotalMarks = stats.TotalBatches * len(tr.StudentIDs)
	return stats, nil
}

// VerifySessions checks that concurrent marking left exactly one attendance
// row per student per day, locally and in the mirror.
func (tr *TestRoster) VerifySessions(ctx context.Context, days int) error {
	rows, err := tr.DB.ListAttendanceForCourse(ctx, tr.CourseID)
	if err != nil {
		return fmt.Errorf("failed to list attendance: %w", err)
	}

	seen := make(map[string]int64, len(rows))
	for _, a := range rows {
		key := fmt.Sprintf("%d/%s", a.StudentID, a.Date.UTC().Format(time.DateOnly))
		if prev, ok := seen[key]; ok {
			return fmt.Errorf("duplicate session %s: rows %d and %d", key, prev, a.ID)
		}
		seen[key] = a.ID
	}

	want := days * len(tr.StudentIDs)
	if len(rows) != want {
		return fmt.Errorf("expected %d attendance rows, found %d", want, len(rows))
	}
	if got := tr.Remote.Count(schema.CollectionAttendance); got != want {
		return fmt.Errorf("expected %d mirrored attendance documents, found %d", want, got)
	}
	return nil
}

// generateStudents creates students with valid, distinct registration numbers.
func generateStudents(count int) []*schema.Student {
	students := make([]*schema.Student, count)
	base := time.Now().Add(-30 * 24 * time.Hour)

	for i := 0; i < count; i++ {
		students[i] = &schema.Student{
			Name:               "Student " + spell(i),
			RegistrationNumber: fmt.Sprintf("LOAD%09d", i+1),
			CreatedAt:          base.Add(time.Duration(i) * time.Minute),
		}
	}
	return students
}

// spell turns n into letters so generated names pass the alphabetic check.
func spell(n int) string {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	s := ""
	for {
		s = string(letters[n%26]) + s
		n /= 26
		if n == 0 {
			return s
		}
		n--
	}
}

// computeLatencyStats calculates statistics from a slice of durations.
func computeLatencyStats(durations []time.Duration) *LatencyStats {
	if len(durations) == 0 {
		return &LatencyStats{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return &LatencyStats{
		Min:          sorted[0],
		Max:          sorted[len(sorted)-1],
		Mean:         sum / time.Duration(len(durations)),
		P50:          sorted[len(sorted)*50/100],
		P95:          sorted[len(sorted)*95/100],
		P99:          sorted[len(sorted)*99/100],
		TotalBatches: len(durations),
		Durations:    sorted,
	}
}

// PrintStats formats and prints latency statistics.
func (s *LatencyStats) PrintStats(w io.Writer) {
	fmt.Fprintf(w, "Batch Latency Statistics:\n")
	fmt.Fprintf(w, "  Total Batches: %d\n", s.TotalBatches)
	fmt.Fprintf(w, "  Total Marks:   %d\n", s.TotalMarks)
	fmt.Fprintf(w, "  Errors:        %d\n", s.Errors)
	fmt.Fprintf(w, "  Min:           %v\n", s.Min)
	fmt.Fprintf(w, "  P50 (Median):  %v\n", s.P50)
	fmt.Fprintf(w, "  Mean:          %v\n", s.Mean)
	fmt.Fprintf(w, "  P95:           %v\n", s.P95)
	fmt.Fprintf(w, "  P99:           %v\n", s.P99)
	fmt.Fprintf(w, "  Max:           %v\n", s.Max)
}

package daemon

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rollcall-dev/rollcall/internal/roster/db"
	"github.com/rollcall-dev/rollcall/internal/roster/mirror"
	"github.com/rollcall-dev/rollcall/internal/roster/mirror/filedoc"
	"github.com/rollcall-dev/rollcall/internal/roster/mirror/memdoc"
	"github.com/rollcall-dev/rollcall/internal/roster/reconcile"
	"github.com/rollcall-dev/rollcall/internal/roster/schema"
)

var quiet = log.New(io.Discard, "", 0)

func newEngine(t *testing.T, store mirror.DocumentStore) (*reconcile.Engine, *db.DB) {
	t.Helper()
	local, err := db.Open(filepath.Join(t.TempDir(), "roster.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = local.Close() })
	if err := local.InitSchema(); err != nil {
		t.Fatalf("InitSchema failed: %v", err)
	}
	client := mirror.New(store, &mirror.Config{RetryInterval: 5 * time.Millisecond, Logger: quiet})
	engine := reconcile.New(local, client, &reconcile.Config{DrainTimeout: 50 * time.Millisecond, Logger: quiet})
	return engine, local
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func runDaemon(t *testing.T, d *Daemon) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Start returned error: %v", err)
		}
	})
}

func TestNew(t *testing.T) {
	engine, _ := newEngine(t, memdoc.New())

	tests := []struct {
		name    string
		config  *Config
		wantErr bool
	}{
		{name: "defaults", config: nil},
		{name: "descriptor", config: &Config{Schedule: "@every 1m", Logger: quiet}},
		{name: "no schedule", config: &Config{Logger: quiet}},
		{name: "bad schedule", config: &Config{Schedule: "every tuesday", Logger: quiet}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := New(engine, tt.config)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if d != nil {
				_ = d.Stop()
			}
		})
	}

	if _, err := New(nil, nil); err == nil {
		t.Error("New(nil) should fail")
	}
}

func TestStartupPull(t *testing.T) {
	remote := memdoc.New()
	engine, local := newEngine(t, remote)
	course := &schema.Course{ID: 7, CourseName: "Physics", CourseCode: "PHYS-2020", CreditHours: 3, InstructorName: "Dr Noor", SemesterNumber: 2}
	if err := engine.Mirror().SaveCourse(context.Background(), course); err != nil {
		t.Fatalf("SaveCourse failed: %v", err)
	}

	d, err := New(engine, &Config{Logger: quiet})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	runDaemon(t, d)

	waitFor(t, "startup pull", func() bool { return d.Stats().Pulls >= 1 })
	if _, err := local.GetCourseByID(context.Background(), 7); err != nil {
		t.Errorf("course not pulled: %v", err)
	}
}

func TestDrainDeliversPendingWrites(t *testing.T) {
	remote := memdoc.New()
	engine, _ := newEngine(t, remote)

	remote.SetOffline(true)
	course := &schema.Course{CourseName: "Physics", CourseCode: "PHYS-2020", CreditHours: 3, InstructorName: "Dr Noor", SemesterNumber: 2}
	if _, err := engine.AddCourse(context.Background(), course); err != nil {
		t.Fatalf("AddCourse failed: %v", err)
	}
	if engine.Mirror().Pending() != 1 {
		t.Fatalf("expected 1 pending write, got %d", engine.Mirror().Pending())
	}

	d, err := New(engine, &Config{DrainInterval: 20 * time.Millisecond, Logger: quiet})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	runDaemon(t, d)

	waitFor(t, "startup pull attempt", func() bool { return d.Stats().PullFailures >= 1 })
	remote.SetOffline(false)
	waitFor(t, "drain", func() bool { return engine.Mirror().Pending() == 0 })
	if remote.Count(schema.CollectionCourses) != 1 {
		t.Errorf("course not delivered to mirror")
	}
}

func TestFileChangesTriggerPull(t *testing.T) {
	root := filepath.Join(t.TempDir(), "mirror")
	store, err := filedoc.Open(root)
	if err != nil {
		t.Fatalf("filedoc.Open failed: %v", err)
	}
	engine, local := newEngine(t, store)

	d, err := New(engine, &Config{WatchDir: root, DebounceInterval: 20 * time.Millisecond, Logger: quiet})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	runDaemon(t, d)
	waitFor(t, "startup pull", func() bool { return d.Stats().Pulls >= 1 })

	// Another device drops a course document into the shared root.
	doc := `{"courseId":"12","courseName":"Chemistry","courseCode":"CHEM-3030","creditHours":4,"instructorName":"Dr Iqbal","semesterNumber":3}`
	if err := os.WriteFile(store.Path(schema.CollectionCourses, "12"), []byte(doc), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	waitFor(t, "pulled course", func() bool {
		_, err := local.GetCourseByID(context.Background(), 12)
		return err == nil
	})
}

func TestTakeSettledChanges(t *testing.T) {
	engine, _ := newEngine(t, memdoc.New())
	d, err := New(engine, &Config{DebounceInterval: time.Hour, Logger: quiet})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer d.Stop()

	d.queueChange("Courses/1")
	if n := d.takeSettledChanges(); n != 0 {
		t.Errorf("fresh change should not be settled, got %d", n)
	}

	d.changeQueueMu.Lock()
	d.changeQueue["Courses/1"] = time.Now().Add(-2 * time.Hour)
	d.changeQueue["Students/4"] = time.Now().Add(-2 * time.Hour)
	d.changeQueueMu.Unlock()
	if n := d.takeSettledChanges(); n != 2 {
		t.Errorf("expected 2 settled changes, got %d", n)
	}
	if n := d.takeSettledChanges(); n != 0 {
		t.Errorf("queue should be empty, got %d", n)
	}
}

// closeCounter counts Close calls on a watched file mirror.
type closeCounter struct {
	*filedoc.Store
	closed atomic.Int32
}

func (c *closeCounter) Close() error {
	c.closed.Add(1)
	return c.Store.Close()
}

func TestStopClosesWatchStore(t *testing.T) {
	root := filepath.Join(t.TempDir(), "mirror")
	store, err := filedoc.Open(root)
	if err != nil {
		t.Fatalf("filedoc.Open failed: %v", err)
	}
	engine, _ := newEngine(t, store)

	var opened *closeCounter
	orig := openWatchStore
	openWatchStore = func(dir string) (watchStore, error) {
		s, err := filedoc.Open(dir)
		if err != nil {
			return nil, err
		}
		opened = &closeCounter{Store: s}
		return opened, nil
	}
	t.Cleanup(func() { openWatchStore = orig })

	d, err := New(engine, &Config{WatchDir: root, DebounceInterval: 20 * time.Millisecond, Logger: quiet})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	runDaemon(t, d)
	waitFor(t, "startup pull", func() bool { return d.Stats().Pulls >= 1 })

	if err := d.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if opened == nil {
		t.Fatal("watch store was never opened")
	}
	if n := opened.closed.Load(); n != 1 {
		t.Errorf("expected watch store closed once, got %d", n)
	}
	_ = d.Stop()
	if n := opened.closed.Load(); n != 1 {
		t.Errorf("second Stop closed the store again, got %d", n)
	}
}

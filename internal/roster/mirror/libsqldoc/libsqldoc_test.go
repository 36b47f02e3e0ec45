package libsqldoc

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/rollcall-dev/rollcall/internal/roster/mirror"
	"github.com/rollcall-dev/rollcall/internal/roster/schema"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), Config{Path: filepath.Join(t.TempDir(), "mirror.db")})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSetMergesWithJSONPatch(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, schema.CollectionCourses, "3", map[string]any{"courseCode": "MATH-1010", "creditHours": 3}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := s.Set(ctx, schema.CollectionCourses, "3", map[string]any{"creditHours": 4}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	docs, err := s.List(ctx, schema.CollectionCourses)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected 1 document, got %d", len(docs))
	}
	f := docs[0].Fields
	if f["courseCode"] != "MATH-1010" {
		t.Errorf("courseCode lost by merge: %v", f)
	}
	if fmt.Sprint(f["creditHours"]) != "4" {
		t.Errorf("creditHours = %v, want 4", f["creditHours"])
	}
}

func TestQueryMatchesStringAndNumber(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	_ = s.Set(ctx, schema.CollectionAttendance, "1", map[string]any{schema.FieldCourseID: "5"})
	_ = s.Set(ctx, schema.CollectionAttendance, "2", map[string]any{schema.FieldCourseID: 5})
	_ = s.Set(ctx, schema.CollectionAttendance, "3", map[string]any{schema.FieldCourseID: "6"})

	docs, err := s.Query(ctx, schema.CollectionAttendance, schema.FieldCourseID, "5")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(docs))
	}
}

func TestDeleteBatchAndOrder(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	for _, id := range []string{"10", "9", "1"} {
		_ = s.Set(ctx, schema.CollectionStudents, id, map[string]any{"name": "S" + id})
	}
	docs, _ := s.List(ctx, schema.CollectionStudents)
	if len(docs) != 3 || docs[0].ID != "1" || docs[2].ID != "10" {
		t.Fatalf("unexpected order: %+v", docs)
	}

	err := s.DeleteBatch(ctx, []mirror.Ref{
		{Collection: schema.CollectionStudents, ID: "9"},
		{Collection: schema.CollectionStudents, ID: "10"},
		{Collection: schema.CollectionStudents, ID: "404"},
	})
	if err != nil {
		t.Fatalf("DeleteBatch failed: %v", err)
	}
	docs, _ = s.List(ctx, schema.CollectionStudents)
	if len(docs) != 1 || docs[0].ID != "1" {
		t.Errorf("expected only student 1 left, got %+v", docs)
	}
}

func TestLocalSyncIsNoop(t *testing.T) {
	s := openStore(t)
	if err := s.Sync(context.Background()); err != nil {
		t.Errorf("Sync in local mode failed: %v", err)
	}
}

func TestClassify(t *testing.T) {
	err := classify(errors.New("dial tcp 10.0.0.1:443: connection refused"))
	if !errors.Is(err, mirror.ErrUnavailable) {
		t.Errorf("expected connection refused to be unavailable: %v", err)
	}
	if errors.Is(classify(errors.New("UNIQUE constraint failed")), mirror.ErrUnavailable) {
		t.Error("constraint failure must not be unavailable")
	}
}

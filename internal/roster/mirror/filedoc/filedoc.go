// Package filedoc is a mirror backend that keeps one JSON file per document.
//
// Layout under the root directory:
//
//	root/
//	  Students/1.json
//	  Courses/3.json
//	  Enrollments/7.json
//	  Attendance/12.json
//	  .trash/            staging area for batch deletes
//
// The root can live on a shared or synced filesystem. When it is missing
// (an unmounted share, say) every operation fails with mirror.ErrUnavailable
// so the client buffers the write.
package filedoc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/rollcall-dev/rollcall/internal/roster/mirror"
	"github.com/rollcall-dev/rollcall/internal/roster/schema"
)

const trashDir = ".trash"

// Store is a DocumentStore over a directory tree.
type Store struct {
	root string
	mu   sync.Mutex
}

var _ mirror.DocumentStore = (*Store)(nil)

// Open prepares root and its collection directories.
func Open(root string) (*Store, error) {
	for _, coll := range schema.Collections {
		if err := os.MkdirAll(filepath.Join(root, coll), 0755); err != nil {
			return nil, fmt.Errorf("failed to create collection directory %s: %w", coll, err)
		}
	}
	return &Store{root: root}, nil
}

// Root returns the store's root directory.
func (s *Store) Root() string {
	return s.root
}

// Path returns the file that holds collection/id.
func (s *Store) Path(collection, id string) string {
	return filepath.Join(s.root, collection, id+".json")
}

func (s *Store) available() error {
	if _, err := os.Stat(s.root); err != nil {
		return fmt.Errorf("mirror root %s: %w", s.root, errors.Join(mirror.ErrUnavailable, err))
	}
	return nil
}

func (s *Store) Set(ctx context.Context, collection, id string, fields map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.available(); err != nil {
		return err
	}

	path := s.Path(collection, id)
	doc, err := readDoc(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	if doc == nil {
		doc = make(map[string]any, len(fields))
	}
	for k, v := range fields {
		doc[k] = v
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s/%s: %w", collection, id, err)
	}
	return writeFileAtomic(path, data)
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.available(); err != nil {
		return err
	}
	if err := os.Remove(s.Path(collection, id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete %s/%s: %w", collection, id, err)
	}
	return nil
}

// Query scans the collection directory. Values are compared by their
// printed form, so a numeric 3 matches the string "3".
func (s *Store) Query(ctx context.Context, collection, field string, value any) ([]schema.Document, error) {
	docs, err := s.List(ctx, collection)
	if err != nil {
		return nil, err
	}
	want := fmt.Sprint(value)
	matched := docs[:0]
	for _, d := range docs {
		if v, ok := d.Fields[field]; ok && fmt.Sprint(v) == want {
			matched = append(matched, d)
		}
	}
	return matched, nil
}

// DeleteBatch moves every file into a staging directory first. If any move
// fails the moved files are put back and nothing is deleted.
func (s *Store) DeleteBatch(ctx context.Context, refs []mirror.Ref) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.available(); err != nil {
		return err
	}

	stage := filepath.Join(s.root, trashDir, uuid.NewString())
	if err := os.MkdirAll(stage, 0755); err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}

	type moved struct{ from, to string }
	var done []moved
	for i, ref := range refs {
		from := s.Path(ref.Collection, ref.ID)
		to := filepath.Join(stage, fmt.Sprintf("%d-%s-%s.json", i, ref.Collection, ref.ID))
		err := os.Rename(from, to)
		if err == nil {
			done = append(done, moved{from, to})
			continue
		}
		if os.IsNotExist(err) {
			continue
		}
		for j := len(done) - 1; j >= 0; j-- {
			_ = os.Rename(done[j].to, done[j].from)
		}
		_ = os.RemoveAll(stage)
		return fmt.Errorf("failed to stage delete of %s: %w", ref, err)
	}

	if err := os.RemoveAll(stage); err != nil {
		return fmt.Errorf("failed to clear staging directory: %w", err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, collection string) ([]schema.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.available(); err != nil {
		return nil, err
	}

	dir := filepath.Join(s.root, collection)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []schema.Document{}, nil
		}
		return nil, fmt.Errorf("failed to read collection %s: %w", collection, err)
	}

	docs := make([]schema.Document, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
			continue
		}
		fields, err := readDoc(filepath.Join(dir, name))
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		docs = append(docs, schema.Document{
			Collection: collection,
			ID:         strings.TrimSuffix(name, ".json"),
			Fields:     fields,
		})
	}
	sort.Slice(docs, func(i, j int) bool {
		a, errA := strconv.ParseInt(docs[i].ID, 10, 64)
		b, errB := strconv.ParseInt(docs[j].ID, 10, 64)
		if errA == nil && errB == nil {
			return a < b
		}
		return docs[i].ID < docs[j].ID
	})
	return docs, nil
}

func (s *Store) Close() error {
	return nil
}

// readDoc decodes a document file. Numbers stay json.Number so large ids
// survive the round trip.
func readDoc(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to read document %s: %w", path, err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("failed to parse document %s: %w", path, err)
	}
	return fields, nil
}

// writeFileAtomic writes through a temp file in the same directory and
// renames it over path, so readers never see a partial document.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file for %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to rename into %s: %w", path, err)
	}
	return nil
}

// Package memdoc is an in-memory mirror backend.
//
// It behaves like a remote document store without a network: merge writes,
// equality queries, atomic batch deletes. Tests use its failure hooks to
// simulate lost connectivity or rejected writes.
package memdoc

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/rollcall-dev/rollcall/internal/roster/mirror"
	"github.com/rollcall-dev/rollcall/internal/roster/schema"
)

// Op identifies the store method a failure hook is consulted for.
type Op string

const (
	OpSet         Op = "set"
	OpDelete      Op = "delete"
	OpQuery       Op = "query"
	OpDeleteBatch Op = "delete_batch"
	OpList        Op = "list"
)

// FailFunc decides whether an operation on collection/id should fail.
// id is empty for queries and lists.
type FailFunc func(op Op, collection, id string) error

// Store is an in-memory DocumentStore. The zero value is not usable; call New.
type Store struct {
	mu      sync.RWMutex
	colls   map[string]map[string]map[string]any
	offline bool
	fail    FailFunc
	writes  int
}

var _ mirror.DocumentStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{colls: make(map[string]map[string]map[string]any)}
}

// SetOffline makes every operation fail with mirror.ErrUnavailable until
// called again with false.
func (s *Store) SetOffline(offline bool) {
	s.mu.Lock()
	s.offline = offline
	s.mu.Unlock()
}

// FailWith installs a failure hook. A nil fn removes it.
func (s *Store) FailWith(fn FailFunc) {
	s.mu.Lock()
	s.fail = fn
	s.mu.Unlock()
}

// Writes returns the number of successful Set calls.
func (s *Store) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}

// Get returns a copy of one document's fields.
func (s *Store) Get(collection, id string) (map[string]any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fields, ok := s.colls[collection][id]
	if !ok {
		return nil, false
	}
	return copyFields(fields), true
}

// Count returns the number of documents in collection.
func (s *Store) Count(collection string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.colls[collection])
}

// check must be called with s.mu held.
func (s *Store) check(op Op, collection, id string) error {
	if s.offline {
		return fmt.Errorf("memdoc %s %s/%s: %w", op, collection, id, mirror.ErrUnavailable)
	}
	if s.fail != nil {
		return s.fail(op, collection, id)
	}
	return nil
}

func (s *Store) Set(ctx context.Context, collection, id string, fields map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(OpSet, collection, id); err != nil {
		return err
	}

	coll, ok := s.colls[collection]
	if !ok {
		coll = make(map[string]map[string]any)
		s.colls[collection] = coll
	}
	doc, ok := coll[id]
	if !ok {
		doc = make(map[string]any, len(fields))
		coll[id] = doc
	}
	for k, v := range fields {
		doc[k] = v
	}
	s.writes++
	return nil
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(OpDelete, collection, id); err != nil {
		return err
	}
	delete(s.colls[collection], id)
	return nil
}

func (s *Store) Query(ctx context.Context, collection, field string, value any) ([]schema.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(OpQuery, collection, ""); err != nil {
		return nil, err
	}

	want := fmt.Sprint(value)
	var docs []schema.Document
	for id, fields := range s.colls[collection] {
		if v, ok := fields[field]; ok && fmt.Sprint(v) == want {
			docs = append(docs, schema.Document{Collection: collection, ID: id, Fields: copyFields(fields)})
		}
	}
	sortDocs(docs)
	return docs, nil
}

// DeleteBatch checks every ref against the failure hooks before deleting
// anything, so a failing ref leaves the whole batch undone.
func (s *Store) DeleteBatch(ctx context.Context, refs []mirror.Ref) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(OpDeleteBatch, "", ""); err != nil {
		return err
	}
	for _, ref := range refs {
		if err := s.check(OpDelete, ref.Collection, ref.ID); err != nil {
			return err
		}
	}
	for _, ref := range refs {
		delete(s.colls[ref.Collection], ref.ID)
	}
	return nil
}

func (s *Store) List(ctx context.Context, collection string) ([]schema.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(OpList, collection, ""); err != nil {
		return nil, err
	}

	docs := make([]schema.Document, 0, len(s.colls[collection]))
	for id, fields := range s.colls[collection] {
		docs = append(docs, schema.Document{Collection: collection, ID: id, Fields: copyFields(fields)})
	}
	sortDocs(docs)
	return docs, nil
}

func (s *Store) Close() error {
	return nil
}

func copyFields(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// sortDocs orders documents by numeric id when possible for stable output.
func sortDocs(docs []schema.Document) {
	sort.Slice(docs, func(i, j int) bool {
		a, errA := strconv.ParseInt(docs[i].ID, 10, 64)
		b, errB := strconv.ParseInt(docs[j].ID, 10, 64)
		if errA == nil && errB == nil {
			return a < b
		}
		return docs[i].ID < docs[j].ID
	})
}

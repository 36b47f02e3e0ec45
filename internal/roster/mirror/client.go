package mirror

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/rollcall-dev/rollcall/internal/roster/schema"
)

// Config holds configuration for a Client.
type Config struct {
	// RetryInterval is how long WaitForPendingWrites waits between flush attempts.
	RetryInterval time.Duration

	// MaxBatch caps the number of deletes in one atomic batch.
	MaxBatch int

	// Logger for mirror activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		RetryInterval: 2 * time.Second,
		MaxBatch:      500,
		Logger:        log.New(os.Stderr, "[mirror] ", log.LstdFlags),
	}
}

type opKind int

const (
	opSet opKind = iota
	opDelete
	opCascade
)

// op is one logical mirror write, kept whole so it can be replayed from the
// pending buffer.
type op struct {
	kind   opKind
	ref    Ref
	fields map[string]any

	// opDelete: extra documents deleted in the same batch as ref.
	also []Ref

	// opCascade: dependents matching field == ref.ID are deleted with ref.
	field string
}

func (o op) String() string {
	switch o.kind {
	case opSet:
		return "set " + o.ref.String()
	case opCascade:
		return "cascade delete " + o.ref.String()
	}
	return "delete " + o.ref.String()
}

// Client writes records to a DocumentStore and buffers writes that fail for
// lack of connectivity.
type Client struct {
	store  DocumentStore
	config *Config
	logger *log.Logger

	mu      sync.Mutex
	pending []op

	// Held while talking to the store so buffered and fresh writes never interleave.
	flushMu sync.Mutex
}

// New creates a Client over store. A nil config uses DefaultConfig.
func New(store DocumentStore, config *Config) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[mirror] ", log.LstdFlags)
	}
	if config.RetryInterval <= 0 {
		config.RetryInterval = 2 * time.Second
	}
	if config.MaxBatch <= 0 {
		config.MaxBatch = 500
	}
	return &Client{
		store:  store,
		config: config,
		logger: config.Logger,
	}
}

// Store returns the underlying document store.
func (c *Client) Store() DocumentStore {
	return c.store
}

// SaveStudent merges the student's document. The password hash is never sent.
func (c *Client) SaveStudent(ctx context.Context, s *schema.Student) error {
	return c.saveDocument(ctx, s.ToDocument())
}

// SaveCourse merges the course's document.
func (c *Client) SaveCourse(ctx context.Context, course *schema.Course) error {
	return c.saveDocument(ctx, course.ToDocument())
}

// SaveEnrollment merges the enrollment's document.
func (c *Client) SaveEnrollment(ctx context.Context, e *schema.Enrollment) error {
	return c.saveDocument(ctx, e.ToDocument())
}

// SaveAttendance merges the attendance document.
func (c *Client) SaveAttendance(ctx context.Context, a *schema.Attendance) error {
	return c.saveDocument(ctx, a.ToDocument())
}

func (c *Client) saveDocument(ctx context.Context, doc schema.Document) error {
	return c.submit(ctx, op{
		kind:   opSet,
		ref:    Ref{Collection: doc.Collection, ID: doc.ID},
		fields: doc.Fields,
	})
}

// DeleteStudent removes the student document along with every enrollment and
// attendance document whose studentId matches, in one atomic batch.
func (c *Client) DeleteStudent(ctx context.Context, id int64) error {
	return c.submit(ctx, op{
		kind:  opCascade,
		ref:   Ref{Collection: schema.CollectionStudents, ID: schema.FormatID(id)},
		field: schema.FieldStudentID,
	})
}

// DeleteCourse removes the course document along with every enrollment and
// attendance document whose courseId matches, in one atomic batch.
func (c *Client) DeleteCourse(ctx context.Context, id int64) error {
	return c.submit(ctx, op{
		kind:  opCascade,
		ref:   Ref{Collection: schema.CollectionCourses, ID: schema.FormatID(id)},
		field: schema.FieldCourseID,
	})
}

// DeleteEnrollments removes enrollment documents by id in one batch.
func (c *Client) DeleteEnrollments(ctx context.Context, ids ...int64) error {
	return c.deleteByID(ctx, schema.CollectionEnrollments, ids)
}

// DeleteAttendance removes attendance documents by id in one batch.
func (c *Client) DeleteAttendance(ctx context.Context, ids ...int64) error {
	return c.deleteByID(ctx, schema.CollectionAttendance, ids)
}

func (c *Client) deleteByID(ctx context.Context, collection string, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	o := op{kind: opDelete, ref: Ref{Collection: collection, ID: schema.FormatID(ids[0])}}
	for _, id := range ids[1:] {
		o.also = append(o.also, Ref{Collection: collection, ID: schema.FormatID(id)})
	}
	return c.submit(ctx, o)
}

// FetchAll returns every document of every collection.
func (c *Client) FetchAll(ctx context.Context) (schema.DocumentSet, error) {
	if s, ok := c.store.(Syncer); ok {
		if err := s.Sync(ctx); err != nil {
			return nil, fmt.Errorf("failed to sync replica: %w", err)
		}
	}
	ds := make(schema.DocumentSet, len(schema.Collections))
	for _, coll := range schema.Collections {
		docs, err := c.store.List(ctx, coll)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch %s: %w", coll, err)
		}
		ds[coll] = docs
	}
	return ds, nil
}

// Pending returns the number of buffered writes.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// WaitForPendingWrites blocks until every buffered write has been delivered,
// retrying every RetryInterval. It returns early with an error when ctx ends.
//
// Buffered writes that fail for reasons other than connectivity are logged
// and discarded, matching what the backend would do with a rejected write.
func (c *Client) WaitForPendingWrites(ctx context.Context) error {
	for {
		c.flushMu.Lock()
		err := c.flush(ctx)
		c.flushMu.Unlock()
		if err == nil {
			return nil
		}

		timer := time.NewTimer(c.config.RetryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("failed to drain %d pending writes: %w", c.Pending(), errors.Join(ctx.Err(), err))
		case <-timer.C:
		}
	}
}

// Flush makes one attempt to deliver buffered writes without waiting.
func (c *Client) Flush(ctx context.Context) error {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()
	return c.flush(ctx)
}

// Close closes the underlying store. Buffered writes are lost.
func (c *Client) Close() error {
	if n := c.Pending(); n > 0 {
		c.logger.Printf("Warning: closing with %d undelivered writes", n)
	}
	return c.store.Close()
}

// submit delivers o, or buffers it when the store is unreachable or older
// writes are still waiting.
func (c *Client) submit(ctx context.Context, o op) error {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	if c.Pending() > 0 {
		if err := c.flush(ctx); err != nil {
			c.enqueue(o)
			return fmt.Errorf("%w: %s: %w", ErrQueued, o, err)
		}
	}

	err := c.execute(ctx, o)
	if err == nil {
		return nil
	}
	if IsUnavailable(err) {
		c.enqueue(o)
		return fmt.Errorf("%w: %s: %w", ErrQueued, o, err)
	}
	return fmt.Errorf("failed to %s: %w", o, err)
}

func (c *Client) enqueue(o op) {
	c.mu.Lock()
	c.pending = append(c.pending, o)
	n := len(c.pending)
	c.mu.Unlock()
	c.logger.Printf("Queued %s (%d pending)", o, n)
}

// flush delivers buffered writes in order. Callers hold flushMu.
func (c *Client) flush(ctx context.Context) error {
	for {
		c.mu.Lock()
		if len(c.pending) == 0 {
			c.mu.Unlock()
			return nil
		}
		next := c.pending[0]
		c.mu.Unlock()

		err := c.execute(ctx, next)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if IsUnavailable(err) {
				return err
			}
			c.logger.Printf("Dropping pending %s: %v", next, err)
		}

		c.mu.Lock()
		c.pending = c.pending[1:]
		c.mu.Unlock()
	}
}

func (c *Client) execute(ctx context.Context, o op) error {
	switch o.kind {
	case opSet:
		return c.store.Set(ctx, o.ref.Collection, o.ref.ID, o.fields)
	case opDelete:
		if len(o.also) == 0 {
			return c.store.Delete(ctx, o.ref.Collection, o.ref.ID)
		}
		return c.deleteBatches(ctx, append([]Ref{o.ref}, o.also...))
	case opCascade:
		return c.cascade(ctx, o.ref, o.field)
	}
	return fmt.Errorf("unknown mirror operation %d", o.kind)
}

// cascade finds the dependents of root and deletes them with root. When the
// set exceeds MaxBatch it is split, and root goes in the last batch so a
// partial failure never leaves orphaned dependents behind a deleted owner.
func (c *Client) cascade(ctx context.Context, root Ref, field string) error {
	var refs []Ref
	for _, coll := range []string{schema.CollectionEnrollments, schema.CollectionAttendance} {
		docs, err := c.store.Query(ctx, coll, field, root.ID)
		if err != nil {
			return fmt.Errorf("failed to query %s by %s: %w", coll, field, err)
		}
		for _, d := range docs {
			refs = append(refs, Ref{Collection: coll, ID: d.ID})
		}
	}
	refs = append(refs, root)
	if err := c.deleteBatches(ctx, refs); err != nil {
		return err
	}
	c.logger.Printf("Deleted %s with %d dependents", root, len(refs)-1)
	return nil
}

func (c *Client) deleteBatches(ctx context.Context, refs []Ref) error {
	for start := 0; start < len(refs); start += c.config.MaxBatch {
		end := start + c.config.MaxBatch
		if end > len(refs) {
			end = len(refs)
		}
		if err := c.store.DeleteBatch(ctx, refs[start:end]); err != nil {
			return fmt.Errorf("failed to commit delete batch: %w", err)
		}
	}
	return nil
}

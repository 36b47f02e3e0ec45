package mirror

import (
	"context"
	"errors"

	"github.com/rollcall-dev/rollcall/internal/roster/schema"
)

// ErrUnavailable marks a failure caused by lost connectivity. Writes that fail
// with it are kept in the client's pending buffer and retried by a drain.
var ErrUnavailable = errors.New("remote mirror unavailable")

// ErrQueued is returned for a write that was not delivered but is waiting in
// the pending buffer.
var ErrQueued = errors.New("mirror write queued")

// Ref addresses one document.
type Ref struct {
	Collection string
	ID         string
}

func (r Ref) String() string {
	return r.Collection + "/" + r.ID
}

// DocumentStore is a schema-less document backend.
//
// Implementations must treat deleting a missing document as success, and
// must wrap connectivity failures with ErrUnavailable.
type DocumentStore interface {
	// Set merges fields into the document, creating it if needed. Fields
	// absent from the map keep their stored values.
	Set(ctx context.Context, collection, id string, fields map[string]any) error

	// Delete removes one document.
	Delete(ctx context.Context, collection, id string) error

	// Query returns the documents of collection whose field equals value.
	Query(ctx context.Context, collection, field string, value any) ([]schema.Document, error)

	// DeleteBatch removes all refs atomically: either every document is
	// deleted or none is.
	DeleteBatch(ctx context.Context, refs []Ref) error

	// List returns every document in collection.
	List(ctx context.Context, collection string) ([]schema.Document, error)

	Close() error
}

// Syncer is implemented by stores that keep a local replica. Client.FetchAll
// calls Sync before reading so a pull sees the latest remote state.
type Syncer interface {
	Sync(ctx context.Context) error
}

// IsUnavailable reports whether err is a connectivity failure.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

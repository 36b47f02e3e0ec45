package reconcile

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/rollcall-dev/rollcall/internal/roster/db"
	"github.com/rollcall-dev/rollcall/internal/roster/mirror"
	"github.com/rollcall-dev/rollcall/internal/roster/session"
)

// Config holds configuration for an Engine.
type Config struct {
	// MirrorTimeout bounds each mirror attempt after a local commit.
	MirrorTimeout time.Duration

	// DrainTimeout bounds the pending-write barrier at the start of a pull.
	DrainTimeout time.Duration

	// Location decides where attendance days begin and end.
	Location *time.Location

	// Listeners are told about every command and pull.
	Listeners []Listener

	// Now returns the current time. Tests replace it.
	Now func() time.Time

	// Logger for engine activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		MirrorTimeout: 15 * time.Second,
		DrainTimeout:  30 * time.Second,
		Location:      time.Local,
		Now:           time.Now,
		Logger:        log.New(os.Stderr, "[reconcile] ", log.LstdFlags),
	}
}

// State is the position of a command in its lifecycle.
type State int

const (
	StatePending State = iota
	StateLocalCommitted
	StateMirrorCommitted
	StateMirrorFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateLocalCommitted:
		return "local_committed"
	case StateMirrorCommitted:
		return "mirror_committed"
	case StateMirrorFailed:
		return "mirror_failed"
	default:
		return "unknown"
	}
}

// Receipt is the id-correlated result of a command.
//
// A command that returns without error has at least reached
// StateLocalCommitted. NoOp receipts (a delete whose key did not resolve, an
// update of a missing course) stay at StateLocalCommitted with nothing written.
type Receipt struct {
	ID        int64
	State     State
	MirrorErr error
	NoOp      bool
}

// Mirrored reports whether the remote write succeeded.
func (r Receipt) Mirrored() bool {
	return r.State == StateMirrorCommitted
}

// Engine runs commands against the local store and the mirror.
//
// The engine starts no goroutines. Callers must not issue overlapping
// commands against the same record.
type Engine struct {
	store    *db.DB
	mirror   *mirror.Client
	resolver *session.Resolver
	config   *Config
	logger   *log.Logger

	listenersMu sync.RWMutex
	listeners   []Listener

	// One pull at a time.
	syncMu sync.Mutex
}

// New creates an Engine. A nil config uses DefaultConfig.
func New(store *db.DB, client *mirror.Client, config *Config) *Engine {
	defaults := DefaultConfig()
	if config == nil {
		config = defaults
	}
	if config.MirrorTimeout <= 0 {
		config.MirrorTimeout = defaults.MirrorTimeout
	}
	if config.DrainTimeout <= 0 {
		config.DrainTimeout = defaults.DrainTimeout
	}
	if config.Location == nil {
		config.Location = time.Local
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	return &Engine{
		store:     store,
		mirror:    client,
		resolver:  session.NewResolver(store, config.Location),
		config:    config,
		logger:    config.Logger,
		listeners: append([]Listener(nil), config.Listeners...),
	}
}

// Store returns the local store.
func (e *Engine) Store() *db.DB {
	return e.store
}

// Mirror returns the mirror client.
func (e *Engine) Mirror() *mirror.Client {
	return e.mirror
}

// Location returns the zone attendance days are bucketed in.
func (e *Engine) Location() *time.Location {
	return e.config.Location
}

// AddListener registers l for future commands and pulls.
func (e *Engine) AddListener(l Listener) {
	e.listenersMu.Lock()
	e.listeners = append(e.listeners, l)
	e.listenersMu.Unlock()
}

func (e *Engine) now() time.Time {
	return e.config.Now()
}

// mirrorWrite runs fn after a local commit and moves rec to its final state.
// The caller's cancellation does not reach fn.
func (e *Engine) mirrorWrite(ctx context.Context, op Op, rec *Receipt, fn func(context.Context) error) {
	mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.config.MirrorTimeout)
	defer cancel()

	if err := fn(mctx); err != nil {
		rec.State = StateMirrorFailed
		rec.MirrorErr = err
		e.logger.Printf("Warning: mirror %s for %d failed: %v", op, rec.ID, err)
		return
	}
	rec.State = StateMirrorCommitted
}

// finish notifies listeners and returns the command's result.
func (e *Engine) finish(op Op, started time.Time, rec Receipt, err error) (Receipt, error) {
	if err != nil {
		err = fmt.Errorf("failed to %s: %w", op, err)
	}
	e.emitCommand(Event{
		Op:       op,
		Receipt:  rec,
		Err:      err,
		At:       e.now(),
		Duration: time.Since(started),
	})
	return rec, err
}

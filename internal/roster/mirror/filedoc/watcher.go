package filedoc

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/rollcall-dev/rollcall/internal/roster/schema"
)

// EventOp is the kind of change seen on a document file.
type EventOp int

const (
	OpCreate EventOp = iota
	OpModify
	OpDelete
)

func (op EventOp) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Event reports a change to one document file.
type Event struct {
	Collection string
	ID         string
	Op         EventOp
}

// Watcher reports changes made to the store's files, including edits made
// by other processes sharing the same root.
type Watcher struct {
	watcher *fsnotify.Watcher
	dirs    map[string]string // absolute dir -> collection
	events  chan Event
	errors  chan error
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// Watch starts watching every collection directory of s.
// The caller must Stop the returned watcher.
func (s *Store) Watch() (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		watcher: fsw,
		dirs:    make(map[string]string, len(schema.Collections)),
		events:  make(chan Event, 100),
		errors:  make(chan error, 10),
		done:    make(chan struct{}),
	}
	for _, coll := range schema.Collections {
		dir, err := filepath.Abs(filepath.Join(s.root, coll))
		if err != nil {
			fsw.Close()
			return nil, fmt.Errorf("failed to resolve %s: %w", coll, err)
		}
		if err := fsw.Add(dir); err != nil {
			fsw.Close()
			return nil, fmt.Errorf("failed to watch collection directory %s: %w", dir, err)
		}
		w.dirs[dir] = coll
	}

	w.running = true
	w.wg.Add(1)
	go w.processEvents()
	return w, nil
}

// Stop ends the watch and closes the Events and Errors channels.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.mu.Unlock()

	close(w.done)
	err := w.watcher.Close()
	w.wg.Wait()
	close(w.events)
	close(w.errors)
	if err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

// Events returns the channel of document changes.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Errors returns the channel of watch errors.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

func (w *Watcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev, ok := w.convertEvent(event); ok {
				select {
				case w.events <- ev:
				case <-w.done:
					return
				}
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			select {
			case w.errors <- err:
			case <-w.done:
				return
			}
		}
	}
}

func (w *Watcher) convertEvent(event fsnotify.Event) (Event, bool) {
	base := filepath.Base(event.Name)
	// Temp files from atomic writes start with a dot.
	if !strings.HasSuffix(base, ".json") || strings.HasPrefix(base, ".") {
		return Event{}, false
	}

	abs, err := filepath.Abs(event.Name)
	if err != nil {
		return Event{}, false
	}
	coll, ok := w.dirs[filepath.Dir(abs)]
	if !ok {
		return Event{}, false
	}

	var op EventOp
	switch {
	case event.Has(fsnotify.Create):
		op = OpCreate
	case event.Has(fsnotify.Write):
		op = OpModify
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		op = OpDelete
	default:
		return Event{}, false
	}

	return Event{
		Collection: coll,
		ID:         strings.TrimSuffix(base, ".json"),
		Op:         op,
	}, true
}

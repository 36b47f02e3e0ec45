package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rollcall-dev/rollcall/internal/roster/mirror/filedoc"
	"github.com/rollcall-dev/rollcall/internal/roster/reconcile"
)

// Config holds configuration for the daemon.
type Config struct {
	// Schedule is a cron spec for periodic pulls. Empty disables them.
	Schedule string

	// DrainInterval is how often buffered mirror writes are retried.
	DrainInterval time.Duration

	// WatchDir is a filedoc mirror root to watch for external edits.
	// Empty disables watching.
	WatchDir string

	// DebounceInterval is how long file events must settle before a pull.
	DebounceInterval time.Duration

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Schedule:         "@every 5m",
		DrainInterval:    30 * time.Second,
		DebounceInterval: 500 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// watchStore is the file mirror the daemon watches.
type watchStore interface {
	Watch() (*filedoc.Watcher, error)
	Close() error
}

var openWatchStore = func(dir string) (watchStore, error) {
	return filedoc.Open(dir)
}

// Stats summarizes what the daemon has done.
type Stats struct {
	Pulls        int       `json:"pulls"`
	PullFailures int       `json:"pull_failures"`
	LastPull     time.Time `json:"last_pull"`
	LastError    string    `json:"last_error,omitempty"`
	Drains       int       `json:"drains"`
}

// Daemon schedules pulls and drains for one engine.
type Daemon struct {
	engine *reconcile.Engine
	config *Config

	cron       *cron.Cron
	watchStore watchStore
	watcher    *filedoc.Watcher

	changeQueue   map[string]time.Time // collection/id -> last event
	changeQueueMu sync.Mutex

	statsMu sync.Mutex
	stats   Stats

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	stopOnce sync.Once
}

// New creates a daemon for engine. A nil config uses DefaultConfig.
func New(engine *reconcile.Engine, config *Config) (*Daemon, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	defaults := DefaultConfig()
	if config == nil {
		config = defaults
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = defaults.DebounceInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Daemon{
		engine:      engine,
		config:      config,
		changeQueue: make(map[string]time.Time),
		ctx:         ctx,
		cancel:      cancel,
	}

	if config.Schedule != "" {
		logger := cron.PrintfLogger(config.Logger)
		d.cron = cron.New(
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		)
		if _, err := d.cron.AddFunc(config.Schedule, func() { d.pull("schedule") }); err != nil {
			cancel()
			return nil, fmt.Errorf("invalid schedule %q: %w", config.Schedule, err)
		}
	}
	return d, nil
}

// Start runs the daemon. It blocks until ctx is canceled or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	if d.config.WatchDir != "" {
		store, err := openWatchStore(d.config.WatchDir)
		if err != nil {
			return fmt.Errorf("failed to open watch directory: %w", err)
		}
		w, err := store.Watch()
		if err != nil {
			_ = store.Close()
			return fmt.Errorf("failed to watch %s: %w", d.config.WatchDir, err)
		}
		d.watchStore = store
		d.watcher = w
		d.config.Logger.Printf("Watching: %s", d.config.WatchDir)
	}

	d.pull("startup")

	if d.cron != nil {
		d.cron.Start()
	}
	if d.watcher != nil {
		d.wg.Add(2)
		go d.watchFileEvents()
		go d.processChangeQueue()
	}
	if d.config.DrainInterval > 0 {
		d.wg.Add(1)
		go d.drainLoop()
	}

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon, waiting for a running pull.
func (d *Daemon) Stop() error {
	d.stopOnce.Do(func() {
		d.config.Logger.Println("Stopping daemon")
		d.cancel()

		if d.cron != nil {
			<-d.cron.Stop().Done()
		}
		if d.watcher != nil {
			if err := d.watcher.Stop(); err != nil {
				d.config.Logger.Printf("Error closing watcher: %v", err)
			}
		}
		if d.watchStore != nil {
			if err := d.watchStore.Close(); err != nil {
				d.config.Logger.Printf("Error closing watch store: %v", err)
			}
		}
		d.wg.Wait()
		d.config.Logger.Println("Daemon stopped")
	})
	return nil
}

// Stats returns a copy of the daemon's counters.
func (d *Daemon) Stats() Stats {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	return d.stats
}

// TriggerPull runs a pull now, outside the schedule.
func (d *Daemon) TriggerPull() {
	d.pull("manual")
}

func (d *Daemon) pull(reason string) {
	if d.ctx.Err() != nil {
		return
	}
	d.config.Logger.Printf("Pulling remote snapshot (%s)", reason)
	report, err := d.engine.Sync(d.ctx)

	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	d.stats.Pulls++
	d.stats.LastPull = time.Now()
	if err != nil {
		d.stats.PullFailures++
		d.stats.LastError = err.Error()
		d.config.Logger.Printf("Warning: pull failed: %v", err)
		return
	}
	d.stats.LastError = ""
	d.config.Logger.Printf("Pulled %d records", report.Total())
}

// drainLoop retries buffered mirror writes.
func (d *Daemon) drainLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DrainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			client := d.engine.Mirror()
			n := client.Pending()
			if n == 0 {
				continue
			}
			if err := client.Flush(d.ctx); err != nil {
				d.config.Logger.Printf("Drain incomplete, %d writes still pending: %v", client.Pending(), err)
				continue
			}
			d.statsMu.Lock()
			d.stats.Drains++
			d.statsMu.Unlock()
			d.config.Logger.Printf("Delivered %d pending writes", n)
		}
	}
}

// watchFileEvents queues changes reported by the file mirror.
func (d *Daemon) watchFileEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events():
			if !ok {
				return
			}
			d.queueChange(event.Collection + "/" + event.ID)

		case err, ok := <-d.watcher.Errors():
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

func (d *Daemon) queueChange(key string) {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	d.changeQueue[key] = time.Now()
}

// processChangeQueue turns settled file events into a single pull.
func (d *Daemon) processChangeQueue() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			if n := d.takeSettledChanges(); n > 0 {
				d.pull(fmt.Sprintf("%d file changes", n))
			}
		}
	}
}

// takeSettledChanges removes and counts queued changes once the newest one
// is older than the debounce interval.
func (d *Daemon) takeSettledChanges() int {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	if len(d.changeQueue) == 0 {
		return 0
	}
	now := time.Now()
	for _, queuedAt := range d.changeQueue {
		if now.Sub(queuedAt) < d.config.DebounceInterval {
			return 0
		}
	}
	n := len(d.changeQueue)
	d.changeQueue = make(map[string]time.Time)
	return n
}

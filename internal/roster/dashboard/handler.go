package dashboard

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"sync"
	"time"

	"github.com/rollcall-dev/rollcall/internal/roster/db"
	"github.com/rollcall-dev/rollcall/internal/roster/reconcile"
	"github.com/rollcall-dev/rollcall/internal/roster/views"
)

// CommandData describes one finished engine command
type CommandData struct {
	Op          reconcile.Op `json:"op"`
	ID          int64        `json:"id,omitempty"`
	State       string       `json:"state"`
	NoOp        bool         `json:"noop,omitempty"`
	Error       string       `json:"error,omitempty"`
	MirrorError string       `json:"mirror_error,omitempty"`
	DurationMS  int64        `json:"duration_ms"`
}

// StatsData contains record counts and engine activity
type StatsData struct {
	db.Counts
	PendingWrites  int        `json:"pending_writes"`
	Commands       int        `json:"commands"`
	MirrorFailures int        `json:"mirror_failures"`
	LastSync       *time.Time `json:"last_sync,omitempty"`
	LastSyncError  string     `json:"last_sync_error,omitempty"`
}

// SyncCompleteData contains pull completion information
type SyncCompleteData struct {
	reconcile.SyncReport
	Error string `json:"error,omitempty"`
}

// Handler turns engine events and live views into dashboard messages.
// It implements reconcile.Listener.
type Handler struct {
	server *Server
	engine *reconcile.Engine
	views  *views.Views
	logger *log.Logger

	mu    sync.Mutex
	stats StatsData
}

var _ reconcile.Listener = (*Handler)(nil)

// NewHandler creates a handler that broadcasts on server. It does not
// register itself with the engine; call engine.AddListener(h).
func NewHandler(server *Server, engine *reconcile.Engine, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.New(os.Stderr, "[dashboard] ", log.LstdFlags)
	}

	h := &Handler{
		server: server,
		engine: engine,
		views:  views.New(engine.Store(), logger),
		logger: logger,
	}
	server.SetWelcome(h.statsMessage)
	return h
}

// Run streams the student and course views to clients until ctx ends.
func (h *Handler) Run(ctx context.Context) {
	students := h.views.StudentsByName(ctx)
	courses := h.views.CoursesByName(ctx)

	for students != nil || courses != nil {
		select {
		case rows, ok := <-students:
			if !ok {
				students = nil
				continue
			}
			h.broadcast(MessageTypeStudents, rows)
			h.refreshCounts(ctx)
		case rows, ok := <-courses:
			if !ok {
				courses = nil
				continue
			}
			h.broadcast(MessageTypeCourses, rows)
			h.refreshCounts(ctx)
		}
	}
}

// OnCommand handles finished engine commands
func (h *Handler) OnCommand(ev reconcile.Event) {
	data := CommandData{
		Op:         ev.Op,
		ID:         ev.Receipt.ID,
		State:      ev.Receipt.State.String(),
		NoOp:       ev.Receipt.NoOp,
		DurationMS: ev.Duration.Milliseconds(),
	}
	if ev.Err != nil {
		data.Error = ev.Err.Error()
	}
	if ev.Receipt.MirrorErr != nil {
		data.MirrorError = ev.Receipt.MirrorErr.Error()
	}

	h.mu.Lock()
	h.stats.Commands++
	if ev.Err == nil && ev.Receipt.State == reconcile.StateMirrorFailed {
		h.stats.MirrorFailures++
	}
	h.mu.Unlock()

	h.broadcast(MessageTypeCommand, data)
	h.broadcastStats()
}

// OnSync handles reconciliation pull events
func (h *Handler) OnSync(report reconcile.SyncReport, err error) {
	data := SyncCompleteData{SyncReport: report}
	finished := report.StartedAt.Add(report.Duration)

	h.mu.Lock()
	h.stats.LastSync = &finished
	h.stats.LastSyncError = ""
	if err != nil {
		data.Error = err.Error()
		h.stats.LastSyncError = data.Error
	}
	h.mu.Unlock()

	if err != nil {
		h.logger.Printf("Pull %s failed: %v", report.RunID, err)
	} else {
		h.logger.Printf("Pull %s complete: %d records in %v", report.RunID, report.Total(), report.Duration)
	}
	h.broadcast(MessageTypeSyncComplete, data)
	h.broadcastStats()
}

// GetStats returns the current statistics
func (h *Handler) GetStats() StatsData {
	h.mu.Lock()
	defer h.mu.Unlock()
	stats := h.stats
	stats.PendingWrites = h.engine.Mirror().Pending()
	return stats
}

func (h *Handler) refreshCounts(ctx context.Context) {
	counts, err := h.engine.Store().CountsContext(ctx)
	if err != nil {
		if ctx.Err() == nil {
			h.logger.Printf("Failed to refresh counts: %v", err)
		}
		return
	}
	h.mu.Lock()
	h.stats.Counts = counts
	h.mu.Unlock()
	h.broadcastStats()
}

func (h *Handler) statsMessage() Message {
	msg, err := newMessage(MessageTypeStats, h.GetStats())
	if err != nil {
		h.logger.Printf("Failed to marshal stats: %v", err)
		return Message{Type: MessageTypeStats, Timestamp: time.Now()}
	}
	return msg
}

func (h *Handler) broadcastStats() {
	h.server.Broadcast(h.statsMessage())
}

func (h *Handler) broadcast(typ MessageType, v any) {
	msg, err := newMessage(typ, v)
	if err != nil {
		h.logger.Printf("Failed to marshal %s data: %v", typ, err)
		return
	}
	h.server.Broadcast(msg)
}

func newMessage(typ MessageType, v any) (Message, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: typ, Timestamp: time.Now(), Data: data}, nil
}


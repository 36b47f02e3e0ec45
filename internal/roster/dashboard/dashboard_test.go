package dashboard

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/rollcall-dev/rollcall/internal/roster/db"
	"github.com/rollcall-dev/rollcall/internal/roster/metrics"
	"github.com/rollcall-dev/rollcall/internal/roster/mirror"
	"github.com/rollcall-dev/rollcall/internal/roster/mirror/memdoc"
	"github.com/rollcall-dev/rollcall/internal/roster/reconcile"
	"github.com/rollcall-dev/rollcall/internal/roster/schema"
)

var quiet = log.New(io.Discard, "", 0)

func newEngine(t *testing.T) (*reconcile.Engine, *memdoc.Store) {
	t.Helper()
	store, err := db.Open(filepath.Join(t.TempDir(), "roster.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.InitSchema(); err != nil {
		t.Fatalf("InitSchema failed: %v", err)
	}

	remote := memdoc.New()
	client := mirror.New(remote, &mirror.Config{RetryInterval: 5 * time.Millisecond, Logger: quiet})
	engine := reconcile.New(store, client, &reconcile.Config{
		MirrorTimeout: time.Second,
		DrainTimeout:  100 * time.Millisecond,
		Logger:        quiet,
	})
	return engine, remote
}

func startServer(t *testing.T, config *Config) *Server {
	t.Helper()
	config.Port = 0
	config.Logger = quiet
	server := NewServer(config)
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() { _ = server.Stop() })
	return server
}

func dial(t *testing.T, ctx context.Context, server *Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.Dial(ctx, "ws://"+server.GetAddr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readMessage(t *testing.T, ctx context.Context, conn *websocket.Conn) Message {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read message: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}
	return msg
}

// readUntil skips messages until one of the given type arrives.
func readUntil(t *testing.T, ctx context.Context, conn *websocket.Conn, typ MessageType) Message {
	t.Helper()
	for {
		msg := readMessage(t, ctx, conn)
		if msg.Type == typ {
			return msg
		}
	}
}

func waitForClients(t *testing.T, server *Server, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for server.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("Expected %d clients, got %d", n, server.ClientCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestServerStartStop(t *testing.T) {
	server := NewServer(&Config{Port: 0, Logger: quiet})
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	if addr := server.GetAddr(); addr == "" || strings.HasSuffix(addr, ":0") {
		t.Fatalf("Unexpected server address %q", addr)
	}
	if err := server.Stop(); err != nil {
		t.Fatalf("Failed to stop server: %v", err)
	}
}

func TestWelcomeAndBroadcast(t *testing.T) {
	server := startServer(t, &Config{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	clients := make([]*websocket.Conn, 3)
	for i := range clients {
		clients[i] = dial(t, ctx, server)
		if msg := readMessage(t, ctx, clients[i]); msg.Type != MessageTypeStats {
			t.Errorf("Expected welcome message type %s, got %s", MessageTypeStats, msg.Type)
		}
	}
	waitForClients(t, server, 3)

	server.Broadcast(Message{Type: MessageTypeCommand, Data: json.RawMessage(`{"op":"enroll"}`)})

	for i, conn := range clients {
		msg := readMessage(t, ctx, conn)
		if msg.Type != MessageTypeCommand {
			t.Errorf("Client %d: expected %s, got %s", i, MessageTypeCommand, msg.Type)
		}
		if msg.Timestamp.IsZero() {
			t.Errorf("Client %d: broadcast timestamp not set", i)
		}
	}

	_ = clients[0].Close(websocket.StatusNormalClosure, "")
	waitForClients(t, server, 2)
}

func TestHandlerBroadcastsCommandsAndViews(t *testing.T) {
	engine, _ := newEngine(t)
	server := startServer(t, &Config{Engine: engine})
	handler := NewHandler(server, engine, quiet)
	engine.AddListener(handler)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go handler.Run(ctx)

	conn := dial(t, ctx, server)
	readMessage(t, ctx, conn)
	waitForClients(t, server, 1)

	if _, err := engine.AddCourse(ctx, &schema.Course{
		CourseName:     "Calculus",
		CourseCode:     "MATH-1010",
		CreditHours:    3,
		InstructorName: "Dr Saleem",
		SemesterNumber: 1,
	}); err != nil {
		t.Fatalf("AddCourse failed: %v", err)
	}

	cmd := readUntil(t, ctx, conn, MessageTypeCommand)
	var data CommandData
	if err := json.Unmarshal(cmd.Data, &data); err != nil {
		t.Fatalf("Failed to unmarshal command: %v", err)
	}
	if data.Op != reconcile.OpAddCourse || data.State != reconcile.StateMirrorCommitted.String() {
		t.Errorf("Unexpected command data: %+v", data)
	}

	// The course view delivers an initial empty list first; wait for the
	// one holding the new course.
	deadline := time.Now().Add(3 * time.Second)
	for {
		msg := readUntil(t, ctx, conn, MessageTypeCourses)
		var courses []*schema.Course
		if err := json.Unmarshal(msg.Data, &courses); err != nil {
			t.Fatalf("Failed to unmarshal courses: %v", err)
		}
		if len(courses) == 1 && courses[0].CourseCode == "MATH-1010" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("course list never included the new course")
		}
	}

	stats := handler.GetStats()
	if stats.Commands != 1 {
		t.Errorf("Expected 1 command, got %d", stats.Commands)
	}
}

func TestHealthSyncAndMetrics(t *testing.T) {
	engine, remote := newEngine(t)
	m := metrics.New(engine.Mirror().Pending)
	engine.AddListener(m)
	server := NewServer(&Config{Engine: engine, Metrics: m.Handler(), Logger: quiet})
	routes := server.routes()

	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	var health map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatalf("Failed to decode health: %v", err)
	}
	if health["status"] != "ok" {
		t.Errorf("Expected status ok, got %v", health["status"])
	}

	ctx := context.Background()
	doc := (&schema.Student{
		ID:                 7,
		Name:               "Bilal Ahmed",
		RegistrationNumber: "ABCD123456789",
		CreatedAt:          time.UnixMilli(1000),
	}).ToDocument()
	if err := remote.Set(ctx, doc.Collection, doc.ID, doc.Fields); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	rec = httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sync", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /sync returned %d: %s", rec.Code, rec.Body.String())
	}
	var report reconcile.SyncReport
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("Failed to decode report: %v", err)
	}
	if report.Students != 1 {
		t.Errorf("Expected 1 student pulled, got %d", report.Students)
	}

	rec = httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sync", nil))
	if rec.Code == http.StatusOK {
		t.Errorf("GET /sync must not run a pull")
	}

	rec = httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), `rollcall_sync_pulls_total{result="success"} 1`) {
		t.Errorf("metrics missing successful pull:\n%s", rec.Body.String())
	}
}

func TestSyncWithoutEngine(t *testing.T) {
	server := NewServer(&Config{Logger: quiet})
	rec := httptest.NewRecorder()
	server.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sync", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected %d, got %d", http.StatusServiceUnavailable, rec.Code)
	}
}

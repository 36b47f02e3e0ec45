package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/rollcall-dev/rollcall/internal/config"
	"github.com/rollcall-dev/rollcall/internal/roster/db"
	"github.com/rollcall-dev/rollcall/internal/roster/mirror"
	"github.com/rollcall-dev/rollcall/internal/roster/mirror/cloudstore"
	"github.com/rollcall-dev/rollcall/internal/roster/mirror/filedoc"
	"github.com/rollcall-dev/rollcall/internal/roster/mirror/libsqldoc"
	"github.com/rollcall-dev/rollcall/internal/roster/mirror/memdoc"
	"github.com/rollcall-dev/rollcall/internal/roster/reconcile"
	"github.com/rollcall-dev/rollcall/internal/ui"
)

// app is everything a command needs, opened once per invocation.
type app struct {
	settings *config.Settings
	logger   *log.Logger
	logClose io.Closer
	store    *db.DB
	client   *mirror.Client
	engine   *reconcile.Engine
}

// loadSettings finds the data directory and reads its configuration.
func loadSettings() *config.Settings {
	dataDir := config.FindDataDir()
	if dataDir == "" {
		fmt.Fprintf(os.Stderr, "Error: %s directory not found\n", config.DirName)
		fmt.Fprintf(os.Stderr, "Run 'rc init' to create one here\n")
		os.Exit(1)
	}

	settings, _, err := config.Load(dataDir)
	if err != nil {
		fatalf("%v", err)
	}
	if dbFlag != "" {
		settings.DBPath = dbFlag
	}
	return settings
}

// openApp opens the local store, the configured mirror and the engine.
// Callers must defer close.
func openApp(ctx context.Context) *app {
	settings := loadSettings()
	logger, logClose := config.NewLogger(settings.Log, verboseFlag)

	store, err := db.Open(settings.DBPath)
	if err != nil {
		fatalf("opening database: %v", err)
	}
	if err := store.InitSchemaContext(ctx); err != nil {
		_ = store.Close()
		fatalf("initializing schema: %v", err)
	}

	remote, err := openMirror(ctx, settings)
	if err != nil {
		_ = store.Close()
		fatalf("opening %s mirror: %v", settings.Mirror.Backend, err)
	}

	client := mirror.New(remote, &mirror.Config{
		RetryInterval: settings.Mirror.RetryInterval,
		Logger:        config.Component(logger, "mirror"),
	})

	loc, _ := settings.Location()
	engine := reconcile.New(store, client, &reconcile.Config{
		MirrorTimeout: settings.Mirror.Timeout,
		DrainTimeout:  settings.Mirror.DrainTimeout,
		Location:      loc,
		Logger:        config.Component(logger, "engine"),
	})

	return &app{
		settings: settings,
		logger:   logger,
		logClose: logClose,
		store:    store,
		client:   client,
		engine:   engine,
	}
}

// close delivers what it can of the pending buffer, then closes everything.
func (a *app) close() {
	if a.client.Pending() > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.client.WaitForPendingWrites(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "%s %d change(s) not yet mirrored; they are saved locally and will be pulled over on the next sync\n",
				ui.RenderWarn("⚠"), a.client.Pending())
		}
		cancel()
	}
	_ = a.client.Close()
	_ = a.store.Close()
	_ = a.logClose.Close()
}

func openMirror(ctx context.Context, s *config.Settings) (mirror.DocumentStore, error) {
	switch s.Mirror.Backend {
	case config.BackendMemory:
		return memdoc.New(), nil
	case config.BackendFile:
		return filedoc.Open(s.Mirror.FileRoot)
	case config.BackendLibSQL:
		return libsqldoc.Open(ctx, libsqldoc.Config{
			Path:         s.Mirror.LibSQLReplicaPath,
			PrimaryURL:   s.Mirror.LibSQLURL,
			AuthToken:    s.Mirror.LibSQLAuthToken,
			SyncInterval: s.Mirror.LibSQLSync,
		})
	case config.BackendFirestore:
		return cloudstore.Open(ctx, cloudstore.Config{
			ProjectID:       s.Mirror.FirestoreProjectID,
			CredentialsFile: s.Mirror.FirestoreCredentialsFile,
		})
	}
	return nil, fmt.Errorf("unknown backend %q", s.Mirror.Backend)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fatalf("encoding JSON: %v", err)
	}
}

// receiptJSON is the --json form of a command outcome.
type receiptJSON struct {
	ID          int64  `json:"id,omitempty"`
	State       string `json:"state"`
	NoOp        bool   `json:"noop,omitempty"`
	MirrorError string `json:"mirror_error,omitempty"`
}

// reportReceipt prints the outcome of a command that committed locally.
func reportReceipt(what string, rec reconcile.Receipt) {
	if jsonFlag {
		out := receiptJSON{ID: rec.ID, State: rec.State.String(), NoOp: rec.NoOp}
		if rec.MirrorErr != nil {
			out.MirrorError = rec.MirrorErr.Error()
		}
		printJSON(out)
		return
	}

	switch {
	case rec.NoOp:
		fmt.Printf("%s %s: nothing to do\n", ui.RenderMuted("·"), what)
	case rec.State == reconcile.StateMirrorFailed:
		fmt.Printf("%s %s (saved locally; mirror: %v)\n", ui.RenderWarn("⚠"), what, rec.MirrorErr)
	default:
		fmt.Printf("%s %s\n", ui.RenderPass("✓"), what)
	}
}

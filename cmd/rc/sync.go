package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rollcall-dev/rollcall/internal/config"
	"github.com/rollcall-dev/rollcall/internal/roster/daemon"
	"github.com/rollcall-dev/rollcall/internal/roster/reconcile"
	"github.com/rollcall-dev/rollcall/internal/roster/schema"
	"github.com/rollcall-dev/rollcall/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Pull the remote mirror into the local database",
	Long: `Pull every record from the remote mirror and upsert it into the local
database in one transaction. Pending mirror writes are delivered first.

Records that exist only locally are kept. If anything fails the local
database is left unchanged.`,
	Run: func(cmd *cobra.Command, args []string) {
		timeout, _ := cmd.Flags().GetDuration("timeout")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		ctx, cancelTimeout := context.WithTimeout(ctx, timeout)
		defer cancelTimeout()

		a := openApp(ctx)
		defer a.close()

		report, err := a.engine.Sync(ctx)
		if jsonFlag {
			out := map[string]any{"report": report}
			if err != nil {
				out["error"] = err.Error()
			}
			printJSON(out)
			if err != nil {
				os.Exit(1)
			}
			return
		}
		if err != nil {
			if hint := syncErrorHint(err); hint != "" {
				fmt.Fprintf(os.Stderr, "Hint: %s\n", hint)
			}
			fatalf("%v", err)
		}

		fmt.Printf("%s Pulled %d records in %v\n", ui.RenderPass("✓"), report.Total(), report.Duration.Round(time.Millisecond))
		fmt.Printf("  Students:    %d\n", report.Students)
		fmt.Printf("  Courses:     %d\n", report.Courses)
		fmt.Printf("  Enrollments: %d\n", report.Enrollments)
		fmt.Printf("  Attendance:  %d\n", report.Attendance)
		if report.Dropped > 0 {
			fmt.Printf("%s %d remote documents skipped (unreadable id); see the log\n", ui.RenderWarn("⚠"), report.Dropped)
		}
	},
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show local record counts and the mirror configuration",
	Run: func(cmd *cobra.Command, args []string) {
		remote, _ := cmd.Flags().GetBool("remote")

		ctx := context.Background()
		a := openApp(ctx)
		defer a.close()

		counts, err := a.store.CountsContext(ctx)
		if err != nil {
			fatalf("%v", err)
		}

		var remoteCounts map[string]int
		var remoteErr error
		if remote {
			fetchCtx, cancel := context.WithTimeout(ctx, a.settings.Mirror.Timeout)
			var ds schema.DocumentSet
			ds, remoteErr = a.client.FetchAll(fetchCtx)
			cancel()
			if remoteErr == nil {
				remoteCounts = make(map[string]int, len(ds))
				for coll, docs := range ds {
					remoteCounts[coll] = len(docs)
				}
			}
		}

		if jsonFlag {
			out := map[string]any{
				"database": a.settings.DBPath,
				"backend":  a.settings.Mirror.Backend,
				"local":    counts,
			}
			if remoteCounts != nil {
				out["remote"] = remoteCounts
			}
			if remoteErr != nil {
				out["remote_error"] = remoteErr.Error()
			}
			printJSON(out)
			return
		}

		fmt.Printf("\n%s rollcall status\n\n", ui.RenderAccent("📋"))
		fmt.Printf("Database: %s\n", a.settings.DBPath)
		fmt.Printf("Mirror:   %s\n", describeMirror(a.settings))
		fmt.Printf("Timezone: %s\n\n", a.engine.Location())

		headers := []string{"", "Local"}
		row := func(name, coll string, n int) []string {
			r := []string{name, fmt.Sprint(n)}
			if remoteCounts != nil {
				r = append(r, fmt.Sprint(remoteCounts[coll]))
			}
			return r
		}
		if remoteCounts != nil {
			headers = append(headers, "Remote")
		}
		fmt.Print(ui.RenderTable(headers, [][]string{
			row("Students", schema.CollectionStudents, counts.Students),
			row("Courses", schema.CollectionCourses, counts.Courses),
			row("Enrollments", schema.CollectionEnrollments, counts.Enrollments),
			row("Attendance", schema.CollectionAttendance, counts.Attendance),
		}))
		if remoteErr != nil {
			fmt.Printf("\n%s remote unreachable: %v\n", ui.RenderWarn("⚠"), remoteErr)
		}
	},
}

func describeMirror(s *config.Settings) string {
	switch s.Mirror.Backend {
	case config.BackendFile:
		return "file (" + s.Mirror.FileRoot + ")"
	case config.BackendLibSQL:
		if s.Mirror.LibSQLURL == "" {
			return "libsql (" + s.Mirror.LibSQLReplicaPath + ", local only)"
		}
		return "libsql (" + s.Mirror.LibSQLURL + ")"
	case config.BackendFirestore:
		return "firestore (" + s.Mirror.FirestoreProjectID + ")"
	}
	return s.Mirror.Backend
}

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Pull on a schedule and keep retrying pending mirror writes",
	Long: `Run in the foreground, pulling the remote mirror on a cron schedule
(daemon.schedule, default "@every 5m") and retrying buffered mirror writes.
With the file backend and daemon.watch enabled, edits under the mirror
directory trigger a pull as well.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		a := openApp(ctx)
		defer a.close()

		cfg := &daemon.Config{
			Schedule:      a.settings.Daemon.Schedule,
			DrainInterval: a.settings.Daemon.DrainInterval,
			Logger:        config.Component(a.logger, "daemon"),
		}
		if cmd.Flags().Changed("schedule") {
			cfg.Schedule, _ = cmd.Flags().GetString("schedule")
		}
		if a.settings.Mirror.Backend == config.BackendFile && a.settings.Daemon.Watch {
			cfg.WatchDir = a.settings.Mirror.FileRoot
		}

		d, err := daemon.New(a.engine, cfg)
		if err != nil {
			fatalf("%v", err)
		}

		fmt.Printf("%s Daemon running (schedule %q, mirror %s)\n", ui.RenderAccent("⟳"), cfg.Schedule, describeMirror(a.settings))
		if cfg.WatchDir != "" {
			fmt.Printf("Watching %s for changes\n", cfg.WatchDir)
		}
		fmt.Println("Press Ctrl+C to stop...")

		if err := d.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			fatalf("%v", err)
		}

		st := d.Stats()
		fmt.Printf("\nDaemon stopped after %d pulls (%d failed), %d drains\n", st.Pulls, st.PullFailures, st.Drains)
	},
}

// syncErrorHint turns a pull failure into a hint for the terminal.
func syncErrorHint(err error) string {
	if errors.Is(err, reconcile.ErrPullFailed) && errors.Is(err, context.DeadlineExceeded) {
		return "the mirror did not answer in time; try again with a longer --timeout"
	}
	return ""
}

func init() {
	syncCmd.Flags().Duration("timeout", 2*time.Minute, "Give up on the pull after this long")
	statusCmd.Flags().Bool("remote", false, "Also count the documents in the remote mirror")
	daemonCmd.Flags().String("schedule", "", `Cron schedule for pulls, e.g. "@every 1m" or "0 */2 * * *"`)

	rootCmd.AddCommand(syncCmd, statusCmd, daemonCmd)
}

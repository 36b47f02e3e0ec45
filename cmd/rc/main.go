// Command rc manages a class roster and its attendance, keeping a local
// database mirrored to a remote document store.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	dbFlag      string
	verboseFlag bool
	jsonFlag    bool
	yesFlag     bool
)

var rootCmd = &cobra.Command{
	Use:   "rc",
	Short: "rollcall - class roster and attendance with a mirrored backup",
	Long: `rollcall keeps students, courses, enrollments and attendance in a local
SQLite database and mirrors every change to a remote document store
(a directory of JSON files, a libSQL/Turso database, or Firestore).

Local writes always win: if the mirror is unreachable the change is kept
locally, queued, and delivered later. 'rc sync' pulls the remote copy back
into the local database.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "records", Title: "Records:"},
		&cobra.Group{ID: "sync", Title: "Sync:"},
		&cobra.Group{ID: "advanced", Title: "Advanced:"},
	)

	rootCmd.PersistentFlags().StringVar(&dbFlag, "db", "", "Local database path (default: .rollcall/roster.db)")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Also write logs to stderr")
	rootCmd.PersistentFlags().BoolVar(&jsonFlag, "json", false, "Output JSON")
	rootCmd.PersistentFlags().BoolVarP(&yesFlag, "yes", "y", false, "Skip confirmation prompts")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// fatalf prints an error and exits, for use inside Run functions.
func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

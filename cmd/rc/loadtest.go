package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/rollcall-dev/rollcall/internal/roster/loadtest"
	"github.com/rollcall-dev/rollcall/internal/ui"
)

var loadtestCmd = &cobra.Command{
	Use:     "loadtest",
	GroupID: "advanced",
	Short:   "Measure batch attendance latency on a scratch database",
	Long: `Seed a scratch database with one course and --students enrolled students,
then run --sessions concurrent sessions, each saving --batches whole-class
attendance batches against an in-memory mirror. Prints latency percentiles
and checks that every student has exactly one mark per day.

Nothing in your .rollcall directory is touched.`,
	Run: func(cmd *cobra.Command, args []string) {
		students, _ := cmd.Flags().GetInt("students")
		sessions, _ := cmd.Flags().GetInt("sessions")
		batches, _ := cmd.Flags().GetInt("batches")
		keep, _ := cmd.Flags().GetBool("keep")

		dir, err := os.MkdirTemp("", "rollcall-loadtest-")
		if err != nil {
			fatalf("creating scratch directory: %v", err)
		}
		if !keep {
			defer os.RemoveAll(dir)
		}

		ctx := context.Background()
		fmt.Printf("Seeding %d students...\n", students)
		tr, err := loadtest.CreateTestRoster(ctx, filepath.Join(dir, "loadtest.db"), students)
		if err != nil {
			fatalf("%v", err)
		}
		defer tr.Close()

		fmt.Printf("Running %d sessions x %d batches (run %s)...\n", sessions, batches, tr.RunID)
		stats, err := tr.RunConcurrentBatches(ctx, sessions, batches)
		if err != nil {
			fatalf("%v", err)
		}
		if jsonFlag {
			printJSON(stats)
		} else {
			stats.PrintStats(os.Stdout)
		}

		if err := tr.VerifySessions(ctx, batches); err != nil {
			fatalf("verification failed: %v", err)
		}
		if !jsonFlag {
			fmt.Printf("%s one mark per student per day, locally and in the mirror\n", ui.RenderPass("✓"))
			if keep {
				fmt.Printf("Database kept at %s\n", dir)
			}
		}
	},
}

func init() {
	loadtestCmd.Flags().Int("students", 60, "Students in the class")
	loadtestCmd.Flags().Int("sessions", 5, "Concurrent sessions")
	loadtestCmd.Flags().Int("batches", 10, "Batches per session; each batch is a new day")
	loadtestCmd.Flags().Bool("keep", false, "Keep the scratch database")

	rootCmd.AddCommand(loadtestCmd)
}

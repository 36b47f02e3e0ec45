package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rollcall-dev/rollcall/internal/roster/export"
	"github.com/rollcall-dev/rollcall/internal/ui"
)

var exportCmd = &cobra.Command{
	Use:     "export <path>",
	GroupID: "advanced",
	Short:   "Write every local record to a JSONL or YAML snapshot file",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		format := snapshotFormat(cmd, args[0])

		ctx := context.Background()
		a := openApp(ctx)
		defer a.close()

		result, err := export.Export(ctx, a.store, args[0], format)
		if err != nil {
			fatalf("%v", err)
		}
		if jsonFlag {
			printJSON(result)
			return
		}
		fmt.Printf("%s Exported %d records to %s\n", ui.RenderPass("✓"), result.Total(), result.Path)
		printResultCounts(result)
	},
}

var importCmd = &cobra.Command{
	Use:     "import <path>",
	GroupID: "advanced",
	Short:   "Upsert records from a snapshot file into the local database",
	Long: `Upsert every record of a JSONL or YAML snapshot into the local database in
one transaction. Local records missing from the file are kept. The mirror
is not written; run 'rc sync' against a mirror that has the same data, or
re-save the records, to publish them.

By default the current database is exported next to it first.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		backup, _ := cmd.Flags().GetBool("backup")
		opts := export.ImportOptions{
			Format: snapshotFormat(cmd, args[0]),
			DryRun: dryRun,
			Backup: backup,
		}

		if !dryRun && !confirm("Import "+args[0]+"?", "Records in the file overwrite local records with the same id.") {
			fatalf("aborted")
		}

		ctx := context.Background()
		a := openApp(ctx)
		defer a.close()

		result, err := export.Import(ctx, a.store, args[0], opts)
		if err != nil {
			fatalf("%v", err)
		}
		if jsonFlag {
			printJSON(result)
			return
		}

		verb := "Imported"
		if dryRun {
			verb = "Would import"
		}
		fmt.Printf("%s %s %d records from %s\n", ui.RenderPass("✓"), verb, result.Total(), result.Path)
		printResultCounts(result)
		for _, d := range result.Dropped {
			fmt.Printf("%s skipped %s/%s: %v\n", ui.RenderWarn("⚠"), d.Collection, d.ID, d.Err)
		}
		if result.BackupCreated != "" {
			fmt.Printf("Backup: %s\n", result.BackupCreated)
		}
	},
}

func snapshotFormat(cmd *cobra.Command, path string) export.Format {
	name, _ := cmd.Flags().GetString("format")
	if name == "" {
		return export.FormatFromPath(path)
	}
	f, err := export.ParseFormat(name)
	if err != nil {
		fatalf("%v", err)
	}
	return f
}

func printResultCounts(r *export.Result) {
	fmt.Printf("  Students:    %d\n", r.Students)
	fmt.Printf("  Courses:     %d\n", r.Courses)
	fmt.Printf("  Enrollments: %d\n", r.Enrollments)
	fmt.Printf("  Attendance:  %d\n", r.Attendance)
}

func init() {
	for _, c := range []*cobra.Command{exportCmd, importCmd} {
		c.Flags().String("format", "", "jsonl or yaml (default: from the file extension)")
	}
	importCmd.Flags().Bool("dry-run", false, "Read and count the file without writing")
	importCmd.Flags().Bool("backup", true, "Export the current database before importing")

	rootCmd.AddCommand(exportCmd, importCmd)
}

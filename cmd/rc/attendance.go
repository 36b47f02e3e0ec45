package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/rollcall-dev/rollcall/internal/roster/reconcile"
	"github.com/rollcall-dev/rollcall/internal/roster/schema"
	"github.com/rollcall-dev/rollcall/internal/ui"
)

// markFile is the TOML form of a whole session, for 'rc attend --file'.
//
//	course = "CSCS-3010"
//	at = "2026-03-02 09:00"
//
//	[[marks]]
//	registration = "BSCS210042001"
//	present = true
type markFile struct {
	Course string      `toml:"course"`
	At     string      `toml:"at"`
	Marks  []markEntry `toml:"marks"`
}

type markEntry struct {
	reconcile.Mark
	Registration string `toml:"registration"`
}

var attendCmd = &cobra.Command{
	Use:     "attend [course-code] [registration-number]...",
	GroupID: "records",
	Short:   "Mark attendance for a class session",
	Long: `Mark attendance for one course at one time. Every listed student is marked
present, or absent with --absent. Marking a student twice on the same day
updates the first mark.

A whole session can be read from a TOML file with --file instead.`,
	Example: `  rc attend CSCS-3010 BSCS210042001 BSCS210042002
  rc attend CSCS-3010 BSCS210042003 --absent --at "yesterday 9am"
  rc attend --file monday.toml`,
	Run: func(cmd *cobra.Command, args []string) {
		file, _ := cmd.Flags().GetString("file")
		absent, _ := cmd.Flags().GetBool("absent")
		atFlag, _ := cmd.Flags().GetString("at")

		var mf markFile
		switch {
		case file != "":
			if len(args) > 0 {
				fatalf("--file cannot be combined with arguments")
			}
			if _, err := toml.DecodeFile(file, &mf); err != nil {
				fatalf("reading %s: %v", file, err)
			}
			if mf.Course == "" {
				fatalf("%s: course is required", file)
			}
			if cmd.Flags().Changed("at") {
				mf.At = atFlag
			}
		case len(args) >= 2:
			mf.Course = args[0]
			mf.At = atFlag
			for _, reg := range args[1:] {
				mf.Marks = append(mf.Marks, markEntry{Registration: reg, Mark: reconcile.Mark{Present: !absent}})
			}
		default:
			fatalf("give a course code and at least one registration number, or --file")
		}

		ctx := context.Background()
		a := openApp(ctx)
		defer a.close()

		at, err := parseAt(mf.At, time.Now(), a.engine.Location())
		if err != nil {
			fatalf("%v", err)
		}
		c := mustCourse(ctx, a, mf.Course)

		marks := make([]reconcile.Mark, 0, len(mf.Marks))
		regs := make(map[int64]string, len(mf.Marks))
		for _, m := range mf.Marks {
			if m.Registration != "" {
				s := mustStudent(ctx, a, m.Registration)
				m.StudentID = s.ID
			}
			regs[m.StudentID] = m.Registration
			marks = append(marks, m.Mark)
		}

		result, err := a.engine.SaveAttendanceBatch(ctx, c.ID, marks, at)
		if err != nil {
			fatalf("%v", err)
		}
		reportBatch(c, at, result, regs)
		if result.SuccessCount < len(result.Items) {
			os.Exit(1)
		}
	},
}

func reportBatch(c *schema.Course, at time.Time, result *reconcile.BatchResult, regs map[int64]string) {
	if jsonFlag {
		items := make([]map[string]any, 0, len(result.Items))
		for _, it := range result.Items {
			item := map[string]any{
				"student_id": it.StudentID,
				"state":      it.Receipt.State.String(),
			}
			if it.Receipt.ID != 0 {
				item["attendance_id"] = it.Receipt.ID
			}
			if it.Err != nil {
				item["error"] = it.Err.Error()
			} else if it.Receipt.MirrorErr != nil {
				item["mirror_error"] = it.Receipt.MirrorErr.Error()
			}
			items = append(items, item)
		}
		printJSON(map[string]any{
			"course":             c.CourseCode,
			"at":                 at,
			"success_count":      result.SuccessCount,
			"failed_student_ids": result.FailedStudentIDs,
			"items":              items,
		})
		return
	}

	who := func(id int64) string {
		if reg := regs[id]; reg != "" {
			return reg
		}
		return "#" + strconv.FormatInt(id, 10)
	}
	for _, it := range result.Items {
		switch {
		case it.Err != nil:
			fmt.Printf("%s %s: %v\n", ui.RenderFail("✗"), who(it.StudentID), it.Err)
		case it.Receipt.State == reconcile.StateMirrorFailed:
			fmt.Printf("%s %s saved locally; mirror: %v\n", ui.RenderWarn("⚠"), who(it.StudentID), it.Receipt.MirrorErr)
		}
	}
	fmt.Printf("%s %s on %s: %d/%d marks saved\n", ui.RenderPass("✓"), c.CourseCode,
		at.Format("Mon 2 Jan 2006 15:04"), result.SuccessCount, len(result.Items))
}

var attendanceCmd = &cobra.Command{
	Use:     "attendance <course-code>",
	GroupID: "records",
	Short:   "Show attendance for a course",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		a := openApp(ctx)
		defer a.close()

		c := mustCourse(ctx, a, args[0])
		rows, err := a.store.ListAttendanceForCourse(ctx, c.ID)
		if err != nil {
			fatalf("%v", err)
		}
		if jsonFlag {
			printJSON(rows)
			return
		}
		if len(rows) == 0 {
			fmt.Println(ui.RenderMuted("No attendance recorded for " + c.CourseCode + "."))
			return
		}

		ids := make([]int64, 0, len(rows))
		for _, r := range rows {
			ids = append(ids, r.StudentID)
		}
		students, err := a.store.GetStudentsByIDs(ctx, ids)
		if err != nil {
			fatalf("%v", err)
		}
		byID := make(map[int64]*schema.Student, len(students))
		for _, s := range students {
			byID[s.ID] = s
		}

		loc := a.engine.Location()
		present := 0
		table := make([][]string, 0, len(rows))
		for _, r := range rows {
			reg, name := "#"+strconv.FormatInt(r.StudentID, 10), ""
			if s, ok := byID[r.StudentID]; ok {
				reg, name = s.RegistrationNumber, s.Name
			}
			status := ui.RenderFail("absent")
			if r.IsPresent {
				status = ui.RenderPass("present")
				present++
			}
			table = append(table, []string{strconv.FormatInt(r.ID, 10), r.Date.In(loc).Format("2006-01-02 15:04"), reg, name, status})
		}
		fmt.Print(ui.RenderTable([]string{"ID", "Date", "Registration", "Name", ""}, table))
		fmt.Printf("\n%d marks, %d present, %d absent\n", len(rows), present, len(rows)-present)
	},
}

var unmarkCmd = &cobra.Command{
	Use:     "unmark <attendance-id>",
	GroupID: "records",
	Short:   "Delete one attendance mark",
	Long: `Delete one attendance mark by id, locally and in the mirror. Ids are
shown by 'rc attendance <course-code>'.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil || id <= 0 {
			fatalf("invalid attendance id %q", args[0])
		}
		if !confirm("Delete attendance mark #"+args[0]+"?", "The mark is removed locally and in the mirror.") {
			fatalf("aborted")
		}

		ctx := context.Background()
		a := openApp(ctx)
		defer a.close()

		rec, err := a.engine.DeleteAttendance(ctx, id)
		if err != nil {
			fatalf("%v", err)
		}
		reportReceipt("Deleted attendance mark #"+args[0], rec)
	},
}

func init() {
	attendCmd.Flags().Bool("absent", false, "Mark the listed students absent")
	attendCmd.Flags().String("at", "", `When the session was held (default now), e.g. "2026-03-02", "yesterday 9am"`)
	attendCmd.Flags().StringP("file", "f", "", "Read the session from a TOML file")

	rootCmd.AddCommand(attendCmd, attendanceCmd, unmarkCmd)
}

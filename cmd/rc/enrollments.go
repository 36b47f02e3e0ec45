package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/rollcall-dev/rollcall/internal/ui"
)

var enrollCmd = &cobra.Command{
	Use:     "enroll <course-code> <registration-number>...",
	GroupID: "records",
	Short:   "Enroll students in a course",
	Args:    cobra.MinimumNArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		a := openApp(ctx)
		defer a.close()

		c := mustCourse(ctx, a, args[0])
		failed := 0
		for _, reg := range args[1:] {
			s := mustStudent(ctx, a, reg)
			rec, err := a.engine.EnrollStudent(ctx, s.ID, c.ID)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s %s: %v\n", ui.RenderFail("✗"), reg, err)
				failed++
				continue
			}
			reportReceipt(fmt.Sprintf("Enrolled %s in %s", reg, c.CourseCode), rec)
		}
		if failed > 0 {
			os.Exit(1)
		}
	},
}

var unenrollCmd = &cobra.Command{
	Use:     "unenroll <course-code> <registration-number>",
	GroupID: "records",
	Short:   "Remove a student from a course",
	Long: `Remove a student from a course. The student's attendance for the course
is kept.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		a := openApp(ctx)
		defer a.close()

		c := mustCourse(ctx, a, args[0])
		s := mustStudent(ctx, a, args[1])
		rec, err := a.engine.Unenroll(ctx, s.ID, c.ID)
		if err != nil {
			fatalf("%v", err)
		}
		reportReceipt(fmt.Sprintf("Removed %s from %s", s.RegistrationNumber, c.CourseCode), rec)
	},
}

var enrollmentsCmd = &cobra.Command{
	Use:     "enrollments <course-code>",
	GroupID: "records",
	Short:   "List the students enrolled in a course",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		a := openApp(ctx)
		defer a.close()

		c := mustCourse(ctx, a, args[0])
		enrollments, err := a.store.ListEnrollmentsForCourse(ctx, c.ID)
		if err != nil {
			fatalf("%v", err)
		}
		ids := make([]int64, 0, len(enrollments))
		for _, e := range enrollments {
			ids = append(ids, e.StudentID)
		}
		students, err := a.store.GetStudentsByIDs(ctx, ids)
		if err != nil {
			fatalf("%v", err)
		}

		if jsonFlag {
			printJSON(map[string]any{"course": c, "students": students})
			return
		}
		fmt.Printf("\n%s %s %s %s\n\n", ui.RenderAccent("📚"), c.CourseCode, c.CourseName,
			ui.RenderMuted(fmt.Sprintf("(%d enrolled)", len(students))))
		if len(students) == 0 {
			return
		}
		rows := make([][]string, 0, len(students))
		for _, s := range students {
			rows = append(rows, []string{strconv.FormatInt(s.ID, 10), s.RegistrationNumber, s.Name, studentTags(s)})
		}
		fmt.Print(ui.RenderTable([]string{"ID", "Registration", "Name", ""}, rows))
	},
}

func init() {
	rootCmd.AddCommand(enrollCmd, unenrollCmd, enrollmentsCmd)
}

package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/rollcall-dev/rollcall/internal/roster/db"
	"github.com/rollcall-dev/rollcall/internal/roster/schema"
	"github.com/rollcall-dev/rollcall/internal/ui"
)

var courseCmd = &cobra.Command{
	Use:     "course",
	GroupID: "records",
	Short:   "Add, change, remove and list courses",
}

var courseAddCmd = &cobra.Command{
	Use:     "add",
	Short:   "Add a course",
	Example: `  rc course add --code CSCS-3010 --name "Operating Systems" --credits 3 --instructor "Sana Mir" --semester 5`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		c := &schema.Course{}
		applyCourseFlags(cmd, c)
		c.CourseCode, _ = cmd.Flags().GetString("code")

		a := openApp(ctx)
		defer a.close()

		rec, err := a.engine.AddCourse(ctx, c)
		if err != nil {
			fatalf("%v", err)
		}
		reportReceipt(fmt.Sprintf("Added %s %s as #%d", c.CourseCode, c.CourseName, rec.ID), rec)
	},
}

var courseUpdateCmd = &cobra.Command{
	Use:   "update <course-code>",
	Short: "Change a course's details",
	Long:  `Change a course's details. Only the flags you pass are changed.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		a := openApp(ctx)
		defer a.close()

		c := mustCourse(ctx, a, args[0])
		applyCourseFlags(cmd, c)
		if cmd.Flags().Changed("code") {
			c.CourseCode, _ = cmd.Flags().GetString("code")
		}

		rec, err := a.engine.UpdateCourse(ctx, c)
		if err != nil {
			fatalf("%v", err)
		}
		reportReceipt(fmt.Sprintf("Updated %s %s", c.CourseCode, c.CourseName), rec)
	},
}

var courseDeleteCmd = &cobra.Command{
	Use:   "delete <course-code>",
	Short: "Delete a course with its enrollments and attendance",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if !confirm("Delete course "+args[0]+"?", "Its enrollments and attendance are deleted too, locally and in the mirror.") {
			fatalf("aborted")
		}

		ctx := context.Background()
		a := openApp(ctx)
		defer a.close()

		rec, err := a.engine.DeleteCourseByCode(ctx, args[0])
		if err != nil {
			fatalf("%v", err)
		}
		reportReceipt("Deleted course "+args[0], rec)
	},
}

var courseListCmd = &cobra.Command{
	Use:   "list",
	Short: "List courses by name",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		a := openApp(ctx)
		defer a.close()

		courses, err := a.store.ListCourses(ctx)
		if err != nil {
			fatalf("%v", err)
		}
		if jsonFlag {
			printJSON(courses)
			return
		}
		if len(courses) == 0 {
			fmt.Println(ui.RenderMuted("No courses yet. Add one with 'rc course add'."))
			return
		}

		rows := make([][]string, 0, len(courses))
		for _, c := range courses {
			rows = append(rows, []string{
				strconv.FormatInt(c.ID, 10),
				c.CourseCode,
				c.CourseName,
				strconv.Itoa(c.CreditHours),
				c.InstructorName,
				strconv.Itoa(c.SemesterNumber),
			})
		}
		fmt.Print(ui.RenderTable([]string{"ID", "Code", "Name", "Credits", "Instructor", "Semester"}, rows))
	},
}

// mustCourse looks up a course by code or exits.
func mustCourse(ctx context.Context, a *app, code string) *schema.Course {
	c, err := a.store.GetCourseByCode(ctx, code)
	if errors.Is(err, db.ErrNotFound) {
		fatalf("no course with code %s", code)
	} else if err != nil {
		fatalf("%v", err)
	}
	return c
}

// mustStudent looks up a student by registration number or exits.
func mustStudent(ctx context.Context, a *app, reg string) *schema.Student {
	s, err := a.store.GetStudentByRegistration(ctx, reg)
	if errors.Is(err, db.ErrNotFound) {
		fatalf("no student with registration number %s", reg)
	} else if err != nil {
		fatalf("%v", err)
	}
	return s
}

func addCourseFlags(cmd *cobra.Command) {
	cmd.Flags().String("code", "", "Course code, e.g. CSCS-3010")
	cmd.Flags().String("name", "", "Course name")
	cmd.Flags().Int("credits", 3, "Credit hours")
	cmd.Flags().String("instructor", "", "Instructor name")
	cmd.Flags().Int("semester", 1, "Semester number (1-8)")
}

func applyCourseFlags(cmd *cobra.Command, c *schema.Course) {
	f := cmd.Flags()
	// add reads every flag so the defaults apply
	isAdd := c.ID == 0
	if isAdd || f.Changed("name") {
		c.CourseName, _ = f.GetString("name")
	}
	if isAdd || f.Changed("credits") {
		c.CreditHours, _ = f.GetInt("credits")
	}
	if isAdd || f.Changed("instructor") {
		c.InstructorName, _ = f.GetString("instructor")
	}
	if isAdd || f.Changed("semester") {
		c.SemesterNumber, _ = f.GetInt("semester")
	}
}

func init() {
	addCourseFlags(courseAddCmd)
	_ = courseAddCmd.MarkFlagRequired("code")
	_ = courseAddCmd.MarkFlagRequired("name")
	addCourseFlags(courseUpdateCmd)

	courseCmd.AddCommand(courseAddCmd, courseUpdateCmd, courseDeleteCmd, courseListCmd)
	rootCmd.AddCommand(courseCmd)
}

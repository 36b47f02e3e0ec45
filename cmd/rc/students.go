package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/rollcall-dev/rollcall/internal/roster/schema"
	"github.com/rollcall-dev/rollcall/internal/ui"
)

var studentCmd = &cobra.Command{
	Use:     "student",
	GroupID: "records",
	Short:   "Add, change, remove and list students",
}

var studentAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a student",
	Example: `  rc student add --name "Ayesha Khan" --reg BSCS210042001 --contact 03001234567
  rc student add --name "Ali Raza" --reg BSCS210042002 --cr --ask-password`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		s := &schema.Student{CreatedAt: time.Now()}
		applyStudentFlags(cmd, s)
		s.RegistrationNumber, _ = cmd.Flags().GetString("reg")
		setPasswordFromFlags(cmd, s)

		a := openApp(ctx)
		defer a.close()

		rec, err := a.engine.AddStudent(ctx, s)
		if err != nil {
			fatalf("%v", err)
		}
		reportReceipt(fmt.Sprintf("Added %s (%s) as #%d", s.Name, s.RegistrationNumber, rec.ID), rec)
	},
}

var studentUpdateCmd = &cobra.Command{
	Use:   "update <registration-number>",
	Short: "Change a student's details",
	Long: `Change a student's details. Only the flags you pass are changed.
The registration number cannot be changed.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		a := openApp(ctx)
		defer a.close()

		s := mustStudent(ctx, a, args[0])

		applyStudentFlags(cmd, s)
		s.PasswordHash = ""
		setPasswordFromFlags(cmd, s)

		rec, err := a.engine.UpdateStudent(ctx, s)
		if err != nil {
			fatalf("%v", err)
		}
		reportReceipt(fmt.Sprintf("Updated %s (%s)", s.Name, s.RegistrationNumber), rec)
	},
}

var studentDeleteCmd = &cobra.Command{
	Use:   "delete <registration-number>",
	Short: "Delete a student with their enrollments and attendance",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if !confirm("Delete student "+args[0]+"?", "Their enrollments and attendance are deleted too, locally and in the mirror.") {
			fatalf("aborted")
		}

		ctx := context.Background()
		a := openApp(ctx)
		defer a.close()

		rec, err := a.engine.DeleteStudentByRegistration(ctx, args[0])
		if err != nil {
			fatalf("%v", err)
		}
		reportReceipt("Deleted student "+args[0], rec)
	},
}

var studentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List students by name",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		a := openApp(ctx)
		defer a.close()

		students, err := a.store.ListStudents(ctx)
		if err != nil {
			fatalf("%v", err)
		}
		if jsonFlag {
			printJSON(students)
			return
		}
		if len(students) == 0 {
			fmt.Println(ui.RenderMuted("No students yet. Add one with 'rc student add'."))
			return
		}

		rows := make([][]string, 0, len(students))
		for _, s := range students {
			rows = append(rows, []string{
				strconv.FormatInt(s.ID, 10),
				s.RegistrationNumber,
				s.Name,
				s.ContactNumber,
				s.Email,
				studentTags(s),
			})
		}
		fmt.Print(ui.RenderTable([]string{"ID", "Registration", "Name", "Contact", "Email", ""}, rows))
	},
}

var studentShowCmd = &cobra.Command{
	Use:   "show <registration-number>",
	Short: "Show a student with their courses and attendance",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		a := openApp(ctx)
		defer a.close()

		s := mustStudent(ctx, a, args[0])
		enrollments, err := a.store.ListEnrollmentsForStudent(ctx, s.ID)
		if err != nil {
			fatalf("%v", err)
		}
		attendance, err := a.store.ListAttendanceForStudent(ctx, s.ID)
		if err != nil {
			fatalf("%v", err)
		}

		type courseSummary struct {
			Code    string `json:"course_code"`
			Name    string `json:"course_name"`
			Present int    `json:"present"`
			Absent  int    `json:"absent"`
		}
		summaries := make([]courseSummary, 0, len(enrollments))
		for _, e := range enrollments {
			sum := courseSummary{Code: "?", Name: fmt.Sprintf("course #%d", e.CourseID)}
			if c, err := a.store.GetCourseByID(ctx, e.CourseID); err == nil {
				sum.Code, sum.Name = c.CourseCode, c.CourseName
			}
			for _, at := range attendance {
				if at.CourseID != e.CourseID {
					continue
				}
				if at.IsPresent {
					sum.Present++
				} else {
					sum.Absent++
				}
			}
			summaries = append(summaries, sum)
		}

		if jsonFlag {
			printJSON(map[string]any{"student": s, "courses": summaries})
			return
		}

		fmt.Printf("\n%s %s %s\n\n", ui.RenderAccent("👤"), s.Name, ui.RenderMuted("#"+strconv.FormatInt(s.ID, 10)))
		fmt.Printf("Registration: %s\n", s.RegistrationNumber)
		fmt.Printf("Contact:      %s\n", s.ContactNumber)
		fmt.Printf("Email:        %s\n", s.Email)
		if f := studentTags(s); f != "" {
			fmt.Printf("Flags:        %s\n", f)
		}
		fmt.Printf("Added:        %s\n\n", s.CreatedAt.Format("2006-01-02 15:04"))

		if len(summaries) == 0 {
			fmt.Println(ui.RenderMuted("Not enrolled in any course."))
			return
		}
		rows := make([][]string, 0, len(summaries))
		for _, sum := range summaries {
			rows = append(rows, []string{sum.Code, sum.Name, strconv.Itoa(sum.Present), strconv.Itoa(sum.Absent)})
		}
		fmt.Print(ui.RenderTable([]string{"Course", "Name", "Present", "Absent"}, rows))
	},
}

func studentTags(s *schema.Student) string {
	switch {
	case s.IsCR && s.IsRepeater:
		return "CR, repeater"
	case s.IsCR:
		return "CR"
	case s.IsRepeater:
		return "repeater"
	}
	return ""
}

func addStudentFlags(cmd *cobra.Command) {
	cmd.Flags().String("name", "", "Full name (letters and spaces)")
	cmd.Flags().String("contact", "", "Contact number, 11 digits starting with 03")
	cmd.Flags().String("email", "", "Email address")
	cmd.Flags().Bool("cr", false, "Student is a class representative")
	cmd.Flags().Bool("repeater", false, "Student is repeating the course")
	cmd.Flags().String("password", "", "Password for the student's local login")
	cmd.Flags().Bool("ask-password", false, "Prompt for the password without echo")
}

// applyStudentFlags copies the flags that were set onto s.
func applyStudentFlags(cmd *cobra.Command, s *schema.Student) {
	f := cmd.Flags()
	if f.Changed("name") {
		s.Name, _ = f.GetString("name")
	}
	if f.Changed("contact") {
		s.ContactNumber, _ = f.GetString("contact")
	}
	if f.Changed("email") {
		s.Email, _ = f.GetString("email")
	}
	if f.Changed("cr") {
		s.IsCR, _ = f.GetBool("cr")
	}
	if f.Changed("repeater") {
		s.IsRepeater, _ = f.GetBool("repeater")
	}
}

func setPasswordFromFlags(cmd *cobra.Command, s *schema.Student) {
	pw, _ := cmd.Flags().GetString("password")
	if ask, _ := cmd.Flags().GetBool("ask-password"); ask {
		var err error
		if pw, err = readPassword("Password: "); err != nil {
			fatalf("%v", err)
		}
	}
	if pw == "" {
		return
	}
	if err := s.SetPassword(pw); err != nil {
		fatalf("%v", err)
	}
}

func init() {
	addStudentFlags(studentAddCmd)
	studentAddCmd.Flags().String("reg", "", "Registration number, e.g. BSCS210042001")
	_ = studentAddCmd.MarkFlagRequired("name")
	_ = studentAddCmd.MarkFlagRequired("reg")
	addStudentFlags(studentUpdateCmd)

	studentCmd.AddCommand(studentAddCmd, studentUpdateCmd, studentDeleteCmd, studentListCmd, studentShowCmd)
	rootCmd.AddCommand(studentCmd)
}

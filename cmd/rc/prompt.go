package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"golang.org/x/term"

	"github.com/rollcall-dev/rollcall/internal/ui"
)

// confirm asks before a destructive action. --yes, --json and a non-TTY
// stdin skip the prompt; without --yes a non-TTY stdin refuses.
func confirm(title, description string) bool {
	if yesFlag {
		return true
	}
	if jsonFlag || !ui.IsTerminal(os.Stdin) {
		fmt.Fprintf(os.Stderr, "Error: %s requires --yes when not running interactively\n", strings.ToLower(title))
		return false
	}

	ok := false
	err := huh.NewConfirm().
		Title(title).
		Description(description).
		Affirmative("Yes").
		Negative("No").
		Value(&ok).
		Run()
	if err != nil {
		return false
	}
	return ok
}

// readPassword prompts for a password without echo.
func readPassword(prompt string) (string, error) {
	if !ui.IsTerminal(os.Stdin) {
		return "", fmt.Errorf("no terminal to read the password from; use --password")
	}
	fmt.Fprint(os.Stderr, prompt)
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(pw), nil
}

var naturalDates = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

// localLayouts are date-time forms read in the session timezone.
var localLayouts = []string{
	"2006-01-02 15:04",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02T15:04:05",
}

// parseAt reads a timestamp as RFC 3339, a local date and time, a plain
// date, or natural language such as "yesterday 9am" or "last monday",
// relative to now in loc. Natural language must match the whole input.
func parseAt(s string, now time.Time, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return now, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	if t, err := time.ParseInLocation(time.DateOnly, s, loc); err == nil {
		// Keep the time of day so same-day marks stay ordered.
		h, m, sec := now.In(loc).Clock()
		return t.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(sec)*time.Second), nil
	}

	r, err := naturalDates.Parse(s, now.In(loc))
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse date %q: %w", s, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("could not understand date %q", s)
	}
	if r.Index != 0 || len(r.Text) != len(s) {
		return time.Time{}, fmt.Errorf("could not understand date %q (only %q is a date)", s, r.Text)
	}
	return r.Time, nil
}

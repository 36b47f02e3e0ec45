package ui

import (
	"strings"
	"testing"
)

func TestRenderTable(t *testing.T) {
	DisableColor()

	out := RenderTable(
		[]string{"ID", "Name"},
		[][]string{{"1", "Ayesha Khan"}, {"12", "Ali"}},
	)
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d:\n%s", len(lines), out)
	}
	if lines[0] != "ID  Name" {
		t.Errorf("header = %q", lines[0])
	}
	if lines[1] != "1   Ayesha Khan" || lines[2] != "12  Ali" {
		t.Errorf("rows not aligned:\n%s", out)
	}
}

func TestRenderWithoutColor(t *testing.T) {
	DisableColor()
	for _, render := range []func(string) string{RenderPass, RenderWarn, RenderFail, RenderAccent, RenderMuted} {
		if got := render("ok"); got != "ok" {
			t.Errorf("render produced %q with color disabled", got)
		}
	}
}

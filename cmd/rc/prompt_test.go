package main

import (
	"testing"
	"time"
)

func TestParseAt(t *testing.T) {
	loc := time.UTC
	now := time.Date(2026, 3, 4, 10, 30, 0, 0, loc)

	t.Run("empty is now", func(t *testing.T) {
		got, err := parseAt("", now, loc)
		if err != nil {
			t.Fatalf("parseAt failed: %v", err)
		}
		if !got.Equal(now) {
			t.Errorf("expected %v, got %v", now, got)
		}
	})

	t.Run("rfc3339", func(t *testing.T) {
		got, err := parseAt("2026-02-01T08:00:00Z", now, loc)
		if err != nil {
			t.Fatalf("parseAt failed: %v", err)
		}
		want := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
		if !got.Equal(want) {
			t.Errorf("expected %v, got %v", want, got)
		}
	})

	t.Run("date keeps time of day", func(t *testing.T) {
		got, err := parseAt("2026-02-01", now, loc)
		if err != nil {
			t.Fatalf("parseAt failed: %v", err)
		}
		want := time.Date(2026, 2, 1, 10, 30, 0, 0, loc)
		if !got.Equal(want) {
			t.Errorf("expected %v, got %v", want, got)
		}
	})

	t.Run("local date and time", func(t *testing.T) {
		want := time.Date(2026, 3, 2, 9, 0, 0, 0, loc)
		for _, in := range []string{"2026-03-02 09:00", "2026-03-02 09:00:00", "2026-03-02T09:00"} {
			got, err := parseAt(in, now, loc)
			if err != nil {
				t.Fatalf("parseAt(%q) failed: %v", in, err)
			}
			if !got.Equal(want) {
				t.Errorf("parseAt(%q): expected %v, got %v", in, want, got)
			}
		}
	})

	t.Run("local date and time in zone", func(t *testing.T) {
		zone := time.FixedZone("PKT", 5*60*60)
		got, err := parseAt("2026-03-02 23:30", now, zone)
		if err != nil {
			t.Fatalf("parseAt failed: %v", err)
		}
		if y, m, d := got.In(zone).Date(); y != 2026 || m != time.March || d != 2 {
			t.Errorf("expected 2026-03-02 in zone, got %v", got.In(zone))
		}
	})

	t.Run("natural language", func(t *testing.T) {
		got, err := parseAt("tomorrow", now, loc)
		if err != nil {
			t.Fatalf("parseAt failed: %v", err)
		}
		if y, m, d := got.Date(); y != 2026 || m != time.March || d != 5 {
			t.Errorf("expected 2026-03-05, got %v", got)
		}
	})

	t.Run("partial natural match", func(t *testing.T) {
		if got, err := parseAt("2026-03-02 at 9ish", now, loc); err == nil {
			t.Errorf("expected error for partly understood date, got %v", got)
		}
	})

	t.Run("nonsense", func(t *testing.T) {
		if _, err := parseAt("qwxz", now, loc); err == nil {
			t.Error("expected error for unparseable date")
		}
	})
}

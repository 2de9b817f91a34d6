package datetime

import (
	"testing"
	"time"
)

func TestRenderExtractRoundTrip(t *testing.T) {
	eng := NewEngine(time.UTC)

	cases := []struct {
		name     string
		pattern  string
		dateExpr string
		cycle    CycleUnit
	}{
		{"hour", "/var/log/app/YYYYMMDDhh/*.log", "YYYYMMDDhh", Hour},
		{"separators", "/data/YYYY-MM-DD_hh/*.log", "YYYY-MM-DD_hh", Hour},
	}

	ref := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			expanded := eng.Render(tc.pattern, ref.UnixMilli())
			path := expanded[:len(expanded)-len("*.log")] + "a.log"

			got, err := eng.ExtractDataTime(path, tc.pattern, tc.dateExpr)
			if err != nil {
				t.Fatalf("ExtractDataTime: %v", err)
			}
			want := eng.RenderCycle(tc.cycle, ref.UnixMilli())
			if got != want {
				t.Errorf("ExtractDataTime = %q, want %q", got, want)
			}
		})
	}
}

func TestDateRegion(t *testing.T) {
	eng := NewEngine(time.UTC)
	start := time.Date(2024, 1, 1, 0, 30, 0, 0, time.UTC)
	end := time.Date(2024, 1, 1, 3, 0, 0, 0, time.UTC)

	got := eng.DateRegion(start, end, Hour)
	want := []string{"2024010100", "2024010101", "2024010102", "2024010103"}
	if len(got) != len(want) {
		t.Fatalf("len(got) = %d, want %d (%v)", len(got), len(want), got)
	}
	for i, tm := range got {
		if s := eng.RenderCycle(Hour, tm.UnixMilli()); s != want[i] {
			t.Errorf("got[%d] = %s, want %s", i, s, want[i])
		}
	}
	for i := 1; i < len(got); i++ {
		if !got[i].After(got[i-1]) {
			t.Errorf("DateRegion not strictly ascending at %d", i)
		}
	}
}

func TestShouldStartTime(t *testing.T) {
	eng := NewEngine(time.UTC)
	got, err := eng.ShouldStartTime("2024060112", Hour, Zero)
	if err != nil {
		t.Fatalf("ShouldStartTime: %v", err)
	}
	want := time.Date(2024, 6, 1, 13, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("ShouldStartTime = %v, want %v", got, want)
	}

	offset, _ := ParseOffset("-1h")
	got2, err := eng.ShouldStartTime("2024060112", Hour, offset)
	if err != nil {
		t.Fatalf("ShouldStartTime with offset: %v", err)
	}
	want2 := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	if !got2.Equal(want2) {
		t.Errorf("ShouldStartTime with offset = %v, want %v", got2, want2)
	}
}

func TestIsValidCreationTimeWindow(t *testing.T) {
	eng := NewEngine(time.UTC)
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	ok, err := eng.IsValidCreationTimeWindow(eng.RenderCycle(Hour, now.UnixMilli()), Hour, now, 2*24*time.Hour)
	if err != nil || !ok {
		t.Fatalf("expected current hour to be valid, got ok=%v err=%v", ok, err)
	}

	old := now.AddDate(0, 0, -30)
	ok, err = eng.IsValidCreationTimeWindow(eng.RenderCycle(Hour, old.UnixMilli()), Hour, now, 2*24*time.Hour)
	if err != nil {
		t.Fatalf("IsValidCreationTimeWindow: %v", err)
	}
	if ok {
		t.Error("expected 30-day-old data time to be rejected by ±2d window")
	}
}

func TestParseOffset(t *testing.T) {
	cases := map[string]TimeOffset{
		"-1h": {Amount: -1, Unit: Hour},
		"+2D": {Amount: 2, Unit: Day},
		"0h":  {Amount: 0, Unit: Hour},
		"10m": {Amount: 10, Unit: Minute},
	}
	for expr, want := range cases {
		got, err := ParseOffset(expr)
		if err != nil {
			t.Fatalf("ParseOffset(%q): %v", expr, err)
		}
		if got != want {
			t.Errorf("ParseOffset(%q) = %+v, want %+v", expr, got, want)
		}
	}

	if _, err := ParseOffset("bogus"); err == nil {
		t.Error("expected error for invalid offset expression")
	}
}

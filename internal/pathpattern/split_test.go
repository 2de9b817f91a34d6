package pathpattern

import "testing"

func TestSplit(t *testing.T) {
	t.Run("single_dynamic_segment", func(t *testing.T) {
		layers, err := Split("/d/YYYYMMDDhh.log")
		if err != nil {
			t.Fatalf("Split: %v", err)
		}
		if layers.StaticRoot != "/d" {
			t.Errorf("StaticRoot = %q, want /d", layers.StaticRoot)
		}
		if layers.IntermediateDirRegex != layers.FileNameRegex {
			t.Error("expected IntermediateDirRegex == FileNameRegex for single dynamic segment")
		}
		if !layers.FileNameRegex.MatchString("2024010100.log") {
			t.Error("expected 2024010100.log to match file regex")
		}
		if layers.FileNameRegex.MatchString("2024-01-01-00.log") {
			t.Error("did not expect dashed file name to match digit-only token regex")
		}
	})

	t.Run("two_dynamic_segments", func(t *testing.T) {
		layers, err := Split("/var/log/app/YYYYMMDDhh/*.log")
		if err != nil {
			t.Fatalf("Split: %v", err)
		}
		if layers.StaticRoot != "/var/log/app" {
			t.Errorf("StaticRoot = %q, want /var/log/app", layers.StaticRoot)
		}
		if !layers.IntermediateDirRegex.MatchString("2024060112") {
			t.Error("expected 2024060112 to match intermediate dir regex")
		}
		if !layers.FileNameRegex.MatchString("a.log") {
			t.Error("expected a.log to match file regex")
		}
		if layers.FileNameRegex.MatchString("a.txt") {
			t.Error("did not expect a.txt to match *.log file regex")
		}
	})

	t.Run("no_static_root", func(t *testing.T) {
		_, err := Split("YYYYMMDD/*.log")
		if err == nil {
			t.Fatal("expected InvalidPatternError")
		}
		if _, ok := err.(*InvalidPatternError); !ok {
			t.Errorf("got %T (%v), want *InvalidPatternError", err, err)
		}
	})

	t.Run("longest_date_pattern_present", func(t *testing.T) {
		layers, err := Split("/data/YYYY-MM-DD_hh/*.log")
		if err != nil {
			t.Fatalf("Split: %v", err)
		}
		if layers.LongestDatePattern == "" {
			t.Error("expected non-empty LongestDatePattern")
		}
	})

	t.Run("no_date_token", func(t *testing.T) {
		layers, err := Split("/var/log/app/*.log")
		if err != nil {
			t.Fatalf("Split: %v", err)
		}
		if layers.LongestDatePattern != "" {
			t.Errorf("LongestDatePattern = %q, want empty", layers.LongestDatePattern)
		}
	})
}

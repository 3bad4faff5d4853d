package trigger_test

import (
	"testing"
	"time"

	"github.com/relaysched/relay/trigger"
)

func TestParseUnixCron_SundayAliasesZeroAndSeven(t *testing.T) {
	start := time.Date(2024, 5, 5, 0, 0, 0, 0, time.UTC) // Sunday
	for _, expr := range []string{"0 0 * * 0", "0 0 * * 7", "0 0 * * sun"} {
		tr, err := trigger.ParseUnixCron(expr, start, time.UTC)
		if err != nil {
			t.Fatalf("ParseUnixCron(%q): %v", expr, err)
		}
		got, ok, err := tr.Next()
		if err != nil || !ok {
			t.Fatalf("ParseUnixCron(%q).Next(): got=%v ok=%v err=%v", expr, got, ok, err)
		}
		if !got.Equal(start) {
			t.Fatalf("ParseUnixCron(%q): expected %v, got %v", expr, start, got)
		}
	}
}

func TestParseUnixCron_CommaListOfDays(t *testing.T) {
	start := time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC) // Monday
	tr, err := trigger.ParseUnixCron("0 0 * * 1,3,5", start, time.UTC)
	if err != nil {
		t.Fatalf("ParseUnixCron: %v", err)
	}

	want := []time.Time{
		time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC), // Monday
		time.Date(2024, 5, 8, 0, 0, 0, 0, time.UTC), // Wednesday
		time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC), // Friday
	}
	for i, w := range want {
		got, ok, err := tr.Next()
		if err != nil || !ok {
			t.Fatalf("Next()[%d]: got=%v ok=%v err=%v", i, got, ok, err)
		}
		if !got.Equal(w) {
			t.Fatalf("Next()[%d]: expected %v, got %v", i, w, got)
		}
	}
}

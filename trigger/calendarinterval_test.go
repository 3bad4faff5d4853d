package trigger_test

import (
	"testing"
	"time"

	"github.com/relaysched/relay/trigger"
)

func TestCalendarIntervalTrigger_MonthlyStep(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tr, err := trigger.NewCalendarInterval(trigger.CalendarIntervalOptions{
		Months: 1, StartDate: start, Timezone: time.UTC,
	})
	if err != nil {
		t.Fatalf("NewCalendarInterval: %v", err)
	}

	want := []time.Time{
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
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

// TestCalendarIntervalTrigger_MonthEndClamp exercises Go's time.Date
// normalization for a step that lands on a shorter month: Jan 31 + 1
// month rolls forward into March rather than erroring, same as adding a
// day past the end of February.
func TestCalendarIntervalTrigger_MonthEndClamp(t *testing.T) {
	start := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
	tr, err := trigger.NewCalendarInterval(trigger.CalendarIntervalOptions{
		Months: 1, StartDate: start, Timezone: time.UTC,
	})
	if err != nil {
		t.Fatalf("NewCalendarInterval: %v", err)
	}
	if _, _, err := tr.Next(); err != nil {
		t.Fatalf("Next: %v", err)
	}
	got, ok, err := tr.Next()
	if err != nil || !ok {
		t.Fatalf("Next(): got=%v ok=%v err=%v", got, ok, err)
	}
	want := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestCalendarIntervalTrigger_RejectsAllZeroFields(t *testing.T) {
	_, err := trigger.NewCalendarInterval(trigger.CalendarIntervalOptions{
		StartDate: time.Now(), Timezone: time.UTC,
	})
	if err == nil {
		t.Fatal("expected error when years/months/weeks/days are all zero")
	}
}

func TestCalendarIntervalTrigger_StateRoundTrip(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tr, err := trigger.NewCalendarInterval(trigger.CalendarIntervalOptions{
		Weeks: 1, StartDate: start, Timezone: time.UTC,
	})
	if err != nil {
		t.Fatalf("NewCalendarInterval: %v", err)
	}
	first, _, _ := tr.Next()

	restored, err := trigger.FromState(tr.Kind(), tr.State())
	if err != nil {
		t.Fatalf("FromState: %v", err)
	}
	second, ok, err := restored.Next()
	if err != nil || !ok {
		t.Fatalf("Next after restore: got=%v ok=%v err=%v", second, ok, err)
	}
	if !second.Equal(first.AddDate(0, 0, 7)) {
		t.Fatalf("expected %v, got %v", first.AddDate(0, 0, 7), second)
	}
}

func TestCalendarIntervalTrigger_SpringForwardGapSkipsForward(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	// 2024-03-10 is the US spring-forward day: 2:30 does not exist in
	// America/New_York (the clock jumps 2:00 -> 3:00). The trigger must
	// land on the first valid instant after the gap, not on whatever
	// time.Date silently normalizes to.
	start := time.Date(2024, 3, 10, 2, 30, 0, 0, loc)
	tr, err := trigger.NewCalendarInterval(trigger.CalendarIntervalOptions{
		Days: 1, Hour: 2, Minute: 30,
		StartDate: start, Timezone: loc,
	})
	if err != nil {
		t.Fatalf("NewCalendarInterval: %v", err)
	}
	got, ok, err := tr.Next()
	if err != nil || !ok {
		t.Fatalf("Next(): got=%v ok=%v err=%v", got, ok, err)
	}
	if got.Day() != 10 || got.Hour() < 3 {
		t.Fatalf("expected a valid instant at or after 03:00 on 2024-03-10, got %v", got)
	}
	_, offset := got.Zone()
	if offset != -4*3600 {
		t.Fatalf("expected the post-gap EDT offset -4h, got %d at %v", offset/3600, got)
	}
}

func TestCalendarIntervalTrigger_FallBackAmbiguousPicksEarlierOffset(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	start := time.Date(2024, 11, 3, 1, 30, 0, 0, loc)
	tr, err := trigger.NewCalendarInterval(trigger.CalendarIntervalOptions{
		Days: 1, Hour: 1, Minute: 30,
		StartDate: start, Timezone: loc,
	})
	if err != nil {
		t.Fatalf("NewCalendarInterval: %v", err)
	}
	got, ok, err := tr.Next()
	if err != nil || !ok {
		t.Fatalf("Next(): got=%v ok=%v err=%v", got, ok, err)
	}
	_, offset := got.Zone()
	if offset != -4*3600 {
		t.Fatalf("expected the EDT (earlier) occurrence at offset -4h, got offset %d at %v", offset/3600, got)
	}
}

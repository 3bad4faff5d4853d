package trigger_test

import (
	"testing"
	"time"

	"github.com/relaysched/relay/trigger"
)

func TestCronTrigger_Weekdays(t *testing.T) {
	start := time.Date(2024, 5, 3, 0, 0, 0, 0, time.UTC) // Friday
	tr, err := trigger.NewCron(trigger.CronOptions{
		DayOfWeek: "mon-fri", Hour: "*", Minute: "0", Second: "0",
		StartTime: start, Timezone: time.UTC,
	})
	if err != nil {
		t.Fatalf("NewCron: %v", err)
	}

	want := []time.Time{
		time.Date(2024, 5, 3, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 5, 3, 1, 0, 0, 0, time.UTC),
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

func TestCronTrigger_SkipsWeekend(t *testing.T) {
	start := time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC) // Friday
	tr, err := trigger.NewCron(trigger.CronOptions{
		DayOfWeek: "mon-fri", Hour: "0", Minute: "0", Second: "0",
		StartTime: start, Timezone: time.UTC,
	})
	if err != nil {
		t.Fatalf("NewCron: %v", err)
	}

	first, _, err := tr.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if !first.Equal(start) {
		t.Fatalf("expected %v, got %v", start, first)
	}
	second, _, err := tr.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	want := time.Date(2024, 5, 13, 0, 0, 0, 0, time.UTC) // Monday, skipping the weekend
	if !second.Equal(want) {
		t.Fatalf("expected %v, got %v", want, second)
	}
}

func TestCronTrigger_LastDayOfMonth(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tr, err := trigger.NewCron(trigger.CronOptions{
		Day: "last", Hour: "0", Minute: "0", Second: "0", StartTime: start, Timezone: time.UTC,
	})
	if err != nil {
		t.Fatalf("NewCron: %v", err)
	}
	got, ok, err := tr.Next()
	if err != nil || !ok {
		t.Fatalf("Next(): got=%v ok=%v err=%v", got, ok, err)
	}
	want := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	got, ok, err = tr.Next()
	if err != nil || !ok {
		t.Fatalf("Next(): got=%v ok=%v err=%v", got, ok, err)
	}
	want = time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC) // 2024 is a leap year
	if !got.Equal(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestCronTrigger_RejectsLastOutsideDayField(t *testing.T) {
	_, err := trigger.NewCron(trigger.CronOptions{
		Month: "last", StartTime: time.Now(), Timezone: time.UTC,
	})
	if err == nil {
		t.Fatal("expected error for 'last' outside the day field")
	}
}

func TestCronTrigger_RejectsMissingTimezone(t *testing.T) {
	_, err := trigger.NewCron(trigger.CronOptions{StartTime: time.Now()})
	if err == nil {
		t.Fatal("expected error for missing timezone")
	}
}

func TestCronTrigger_StateRoundTrip(t *testing.T) {
	start := time.Date(2024, 5, 3, 0, 0, 0, 0, time.UTC)
	tr, err := trigger.NewCron(trigger.CronOptions{
		DayOfWeek: "mon-fri", StartTime: start, Timezone: time.UTC,
	})
	if err != nil {
		t.Fatalf("NewCron: %v", err)
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
	if !second.After(first) {
		t.Fatalf("expected restored trigger to continue after %v, got %v", first, second)
	}
}

func TestParseUnixCron_RemapsDayOfWeek(t *testing.T) {
	start := time.Date(2024, 5, 3, 0, 0, 0, 0, time.UTC) // Friday
	tr, err := trigger.ParseUnixCron("0 9 * * 1-5", start, time.UTC)
	if err != nil {
		t.Fatalf("ParseUnixCron: %v", err)
	}
	got, ok, err := tr.Next()
	if err != nil || !ok {
		t.Fatalf("Next(): got=%v ok=%v err=%v", got, ok, err)
	}
	want := time.Date(2024, 5, 3, 9, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestParseUnixCron_RejectsMalformedExpression(t *testing.T) {
	if _, err := trigger.ParseUnixCron("not a cron", time.Now(), time.UTC); err == nil {
		t.Fatal("expected error for malformed crontab expression")
	}
}

func TestCronTrigger_SpringForwardGapSkipsForward(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	start := time.Date(2024, 3, 9, 0, 0, 0, 0, loc)
	tr, err := trigger.NewCron(trigger.CronOptions{
		Hour: "2", Minute: "30", Second: "0",
		StartTime: start, Timezone: loc,
	})
	if err != nil {
		t.Fatalf("NewCron: %v", err)
	}

	first, ok, err := tr.Next()
	if err != nil || !ok {
		t.Fatalf("Next()[0]: got=%v ok=%v err=%v", first, ok, err)
	}
	want := time.Date(2024, 3, 9, 2, 30, 0, 0, loc)
	if !first.Equal(want) {
		t.Fatalf("Next()[0]: expected %v, got %v", want, first)
	}

	// 2024-03-10 is the US spring-forward day: 2:00-2:59 does not exist in
	// America/New_York. The trigger must skip forward to the next match
	// instead of exhausting its iteration budget and reporting itself
	// terminal, which would make internal/schedloop delete the schedule.
	second, ok, err := tr.Next()
	if err != nil {
		t.Fatalf("Next()[1]: err=%v", err)
	}
	if !ok {
		t.Fatal("Next()[1]: trigger reported terminal across a DST gap")
	}
	if !second.After(first) {
		t.Fatalf("Next()[1]: expected a time after %v, got %v", first, second)
	}
	if second.Sub(first) > 48*time.Hour {
		t.Fatalf("Next()[1]: expected the gap day's next match within 2 days, got %v later", second.Sub(first))
	}
}

func TestCronTrigger_FallBackAmbiguousPicksEarlierOffset(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	// 2024-11-03 is the US fall-back day: 1:00-1:59 occurs twice, first in
	// EDT (UTC-4) then again in EST (UTC-5). The earlier (EDT) occurrence
	// must win.
	start := time.Date(2024, 11, 3, 0, 0, 0, 0, loc)
	tr, err := trigger.NewCron(trigger.CronOptions{
		Hour: "1", Minute: "30", Second: "0",
		StartTime: start, Timezone: loc,
	})
	if err != nil {
		t.Fatalf("NewCron: %v", err)
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

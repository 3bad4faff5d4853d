package trigger_test

import (
	"errors"
	"testing"
	"time"

	"github.com/relaysched/relay/trigger"
)

func mustDate(t *testing.T, when time.Time) *trigger.DateTrigger {
	t.Helper()
	d, err := trigger.NewDate(when)
	if err != nil {
		t.Fatalf("NewDate: %v", err)
	}
	return d
}

func mustInterval(t *testing.T, opts trigger.IntervalOptions) *trigger.IntervalTrigger {
	t.Helper()
	it, err := trigger.NewInterval(opts)
	if err != nil {
		t.Fatalf("NewInterval: %v", err)
	}
	return it
}

func TestAndTrigger_WithinThresholdEmitsEarlier(t *testing.T) {
	date1 := time.Date(2020, 5, 16, 14, 17, 30, 254212000, time.UTC)
	date2 := date1.Add(time.Second)

	and, err := trigger.NewAnd([]trigger.Trigger{mustDate(t, date1), mustDate(t, date2)}, trigger.WithThreshold(time.Second))
	if err != nil {
		t.Fatalf("NewAnd: %v", err)
	}

	got, ok, err := and.Next()
	if err != nil || !ok {
		t.Fatalf("Next(): got=%v ok=%v err=%v", got, ok, err)
	}
	if !got.Equal(date1) {
		t.Fatalf("expected the earlier date %v, got %v", date1, got)
	}

	_, ok, err = and.Next()
	if err != nil || ok {
		t.Fatalf("expected terminal after the converged pair, got ok=%v err=%v", ok, err)
	}
}

func TestAndTrigger_ZeroThresholdRequiresExactMatch(t *testing.T) {
	date1 := time.Date(2020, 5, 16, 14, 17, 30, 254212000, time.UTC)
	date2 := date1.Add(time.Second)

	and, err := trigger.NewAnd([]trigger.Trigger{mustDate(t, date1), mustDate(t, date2)}, trigger.WithThreshold(0))
	if err != nil {
		t.Fatalf("NewAnd: %v", err)
	}

	_, ok, err := and.Next()
	if err != nil || ok {
		t.Fatalf("expected no intersection under zero threshold, got ok=%v err=%v", ok, err)
	}
}

func TestAndTrigger_MaxIterationsReached(t *testing.T) {
	start := time.Date(2020, 5, 16, 14, 17, 30, 254212000, time.UTC)
	left := mustInterval(t, trigger.IntervalOptions{Seconds: 4, StartTime: start})
	right := mustInterval(t, trigger.IntervalOptions{Seconds: 4, StartTime: start.Add(2 * time.Second)})

	and, err := trigger.NewAnd([]trigger.Trigger{left, right})
	if err != nil {
		t.Fatalf("NewAnd: %v", err)
	}

	_, _, err = and.Next()
	if !errors.Is(err, trigger.ErrMaxIterationsReached) {
		t.Fatalf("expected ErrMaxIterationsReached, got %v", err)
	}
}

func TestAndTrigger_IntersectionOfTwoIntervals(t *testing.T) {
	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	left := mustInterval(t, trigger.IntervalOptions{Hours: 6, StartTime: start})
	right := mustInterval(t, trigger.IntervalOptions{Hours: 12, StartTime: start})

	and, err := trigger.NewAnd([]trigger.Trigger{left, right})
	if err != nil {
		t.Fatalf("NewAnd: %v", err)
	}

	want := []time.Time{
		start,
		start.Add(12 * time.Hour),
		start.Add(24 * time.Hour),
	}
	for i, w := range want {
		got, ok, err := and.Next()
		if err != nil || !ok {
			t.Fatalf("Next()[%d]: got=%v ok=%v err=%v", i, got, ok, err)
		}
		if !got.Equal(w) {
			t.Fatalf("Next()[%d]: expected %v, got %v", i, w, got)
		}
	}
}

func TestAndTrigger_StateRoundTrip(t *testing.T) {
	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	left := mustInterval(t, trigger.IntervalOptions{Hours: 6, StartTime: start})
	right := mustInterval(t, trigger.IntervalOptions{Hours: 12, StartTime: start})

	and, err := trigger.NewAnd([]trigger.Trigger{left, right})
	if err != nil {
		t.Fatalf("NewAnd: %v", err)
	}
	if _, _, err := and.Next(); err != nil {
		t.Fatalf("Next: %v", err)
	}

	restored, err := trigger.FromState(and.Kind(), and.State())
	if err != nil {
		t.Fatalf("FromState: %v", err)
	}
	got, ok, err := restored.Next()
	if err != nil || !ok {
		t.Fatalf("Next after restore: got=%v ok=%v err=%v", got, ok, err)
	}
	want := start.Add(12 * time.Hour)
	if !got.Equal(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestOrTrigger_MergesAndDedupes(t *testing.T) {
	start := time.Date(2020, 5, 16, 14, 17, 30, 254212000, time.UTC)
	end1 := start.Add(16 * time.Second)
	end2 := start.Add(18 * time.Second)
	left := mustInterval(t, trigger.IntervalOptions{Seconds: 4, StartTime: start, EndTime: &end1})
	right := mustInterval(t, trigger.IntervalOptions{Seconds: 6, StartTime: start, EndTime: &end2})

	or, err := trigger.NewOr([]trigger.Trigger{left, right})
	if err != nil {
		t.Fatalf("NewOr: %v", err)
	}

	want := []time.Duration{0, 4, 6, 8, 12, 16, 18}
	for i, w := range want {
		got, ok, err := or.Next()
		if err != nil || !ok {
			t.Fatalf("Next()[%d]: got=%v ok=%v err=%v", i, got, ok, err)
		}
		expect := start.Add(w * time.Second)
		if !got.Equal(expect) {
			t.Fatalf("Next()[%d]: expected %v, got %v", i, expect, got)
		}
	}
	if _, ok, err := or.Next(); err != nil || ok {
		t.Fatalf("expected terminal once both children are exhausted, got ok=%v err=%v", ok, err)
	}
}

func TestOrTrigger_TwoDateTriggers(t *testing.T) {
	date1 := time.Date(2020, 5, 16, 14, 17, 30, 254212000, time.UTC)
	date2 := time.Date(2020, 5, 18, 15, 1, 53, 940564000, time.UTC)

	or, err := trigger.NewOr([]trigger.Trigger{mustDate(t, date1), mustDate(t, date2)})
	if err != nil {
		t.Fatalf("NewOr: %v", err)
	}

	got, ok, err := or.Next()
	if err != nil || !ok || !got.Equal(date1) {
		t.Fatalf("first Next(): got=%v ok=%v err=%v", got, ok, err)
	}

	restored, err := trigger.FromState(or.Kind(), or.State())
	if err != nil {
		t.Fatalf("FromState: %v", err)
	}
	got, ok, err = restored.Next()
	if err != nil || !ok || !got.Equal(date2) {
		t.Fatalf("second Next() after restore: got=%v ok=%v err=%v", got, ok, err)
	}
	if _, ok, err := restored.Next(); err != nil || ok {
		t.Fatalf("expected terminal, got ok=%v err=%v", ok, err)
	}
}

func TestAndTrigger_RejectsEmptyChildren(t *testing.T) {
	if _, err := trigger.NewAnd(nil); err == nil {
		t.Fatal("expected error for an AndTrigger with no children")
	}
}

func TestOrTrigger_RejectsEmptyChildren(t *testing.T) {
	if _, err := trigger.NewOr(nil); err == nil {
		t.Fatal("expected error for an OrTrigger with no children")
	}
}

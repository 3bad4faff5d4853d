package trigger_test

import (
	"testing"
	"time"

	"github.com/relaysched/relay/trigger"
)

func TestCronField_RangeStepAndAliases(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tr, err := trigger.NewCron(trigger.CronOptions{
		Month: "jan,mar-may/2", Day: "1", Hour: "0", Minute: "0", Second: "0",
		StartTime: start, Timezone: time.UTC,
	})
	if err != nil {
		t.Fatalf("NewCron: %v", err)
	}

	var got []time.Month
	for i := 0; i < 3; i++ {
		v, ok, err := tr.Next()
		if err != nil || !ok {
			t.Fatalf("Next()[%d]: got=%v ok=%v err=%v", i, v, ok, err)
		}
		got = append(got, v.Month())
	}
	want := []time.Month{time.January, time.March, time.May}
	for i, w := range want {
		if got[i] != w {
			t.Fatalf("month[%d]: expected %v, got %v", i, w, got[i])
		}
	}
}

func TestCronField_RejectsOutOfRangeValue(t *testing.T) {
	_, err := trigger.NewCron(trigger.CronOptions{
		Hour: "24", StartTime: time.Now(), Timezone: time.UTC,
	})
	if err == nil {
		t.Fatal("expected error for out-of-range hour value")
	}
}

func TestCronField_RejectsInvalidStep(t *testing.T) {
	_, err := trigger.NewCron(trigger.CronOptions{
		Minute: "*/0", StartTime: time.Now(), Timezone: time.UTC,
	})
	if err == nil {
		t.Fatal("expected error for a zero step")
	}
}

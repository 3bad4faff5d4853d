package schedule_test

import (
	"testing"
	"time"

	"github.com/relaysched/relay/schedule"
	"github.com/relaysched/relay/trigger"
)

func TestSchedule_TerminalWhenNextFireTimeNil(t *testing.T) {
	s := &schedule.Schedule{ID: "s1"}
	if !s.Terminal() {
		t.Fatal("expected a schedule with nil NextFireTime to be terminal")
	}

	next := time.Now()
	s.NextFireTime = &next
	if s.Terminal() {
		t.Fatal("expected a schedule with a set NextFireTime to not be terminal")
	}
}

func TestSchedule_HoldsATrigger(t *testing.T) {
	tr, err := trigger.NewDate(time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("NewDate: %v", err)
	}
	s := &schedule.Schedule{ID: "s1", TaskID: "t1", Trigger: tr, CoalescePolicy: schedule.CoalesceAll}
	if s.Trigger.Kind() != trigger.KindDate {
		t.Fatalf("expected kind %q, got %q", trigger.KindDate, s.Trigger.Kind())
	}
}

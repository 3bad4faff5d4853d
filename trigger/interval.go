package trigger

import (
	"fmt"
	"time"
)

// IntervalOptions configures an IntervalTrigger. The interval is the sum
// of every field; at least one must make it positive.
type IntervalOptions struct {
	Weeks, Days, Hours, Minutes, Seconds, Microseconds int
	StartTime                                          time.Time
	EndTime                                             *time.Time
}

// IntervalTrigger fires every fixed duration starting at StartTime:
// start_time + k*delta for k = 0, 1, ... while the result is <= EndTime.
type IntervalTrigger struct {
	delta        time.Duration
	startTime    time.Time
	endTime      *time.Time
	lastFireTime *time.Time
}

// NewInterval builds a fixed-period trigger.
func NewInterval(opts IntervalOptions) (*IntervalTrigger, error) {
	delta := time.Duration(opts.Weeks)*7*24*time.Hour +
		time.Duration(opts.Days)*24*time.Hour +
		time.Duration(opts.Hours)*time.Hour +
		time.Duration(opts.Minutes)*time.Minute +
		time.Duration(opts.Seconds)*time.Second +
		time.Duration(opts.Microseconds)*time.Microsecond
	if delta <= 0 {
		return nil, invalid("interval: duration must be positive")
	}
	if opts.StartTime.IsZero() {
		return nil, invalid("interval: start_time must be set")
	}
	if opts.EndTime != nil && opts.EndTime.Before(opts.StartTime) {
		return nil, invalid("interval: end_time before start_time")
	}
	return &IntervalTrigger{delta: delta, startTime: opts.StartTime, endTime: opts.EndTime}, nil
}

func (t *IntervalTrigger) Next() (time.Time, bool, error) {
	var base time.Time
	if t.lastFireTime != nil {
		base = *t.lastFireTime
	} else {
		base = t.startTime.Add(-t.delta)
	}
	next := base.Add(t.delta)
	if t.endTime != nil && next.After(*t.endTime) {
		return time.Time{}, false, nil
	}
	t.lastFireTime = &next
	return next, true, nil
}

func (t *IntervalTrigger) Kind() string { return KindInterval }

func (t *IntervalTrigger) State() State {
	s := State{
		"seconds":    t.delta.Seconds(),
		"start_time": encodeTime(t.startTime),
	}
	if t.endTime != nil {
		s["end_time"] = encodeTime(*t.endTime)
	}
	if t.lastFireTime != nil {
		s["last_fire_time"] = encodeTime(*t.lastFireTime)
	}
	return s
}

func (t *IntervalTrigger) LoadState(s State) error {
	secs, ok := s["seconds"].(float64)
	if !ok {
		return fmt.Errorf("trigger: interval state missing %q", "seconds")
	}
	t.delta = time.Duration(secs * float64(time.Second))
	start, err := stateTime(s, "start_time")
	if err != nil {
		return err
	}
	t.startTime = start
	end, err := stateOptTime(s, "end_time")
	if err != nil {
		return err
	}
	t.endTime = end
	last, err := stateOptTime(s, "last_fire_time")
	if err != nil {
		return err
	}
	t.lastFireTime = last
	return nil
}

func (t *IntervalTrigger) String() string {
	return fmt.Sprintf("IntervalTrigger(seconds=%d, start_time='%s')",
		int(t.delta.Seconds()), t.startTime.Format("2006-01-02 15:04:05.000000-07:00"))
}

package trigger

import (
	"fmt"
	"time"
)

// CalendarIntervalOptions configures a CalendarIntervalTrigger. Calendar
// fields (Years/Months/Weeks/Days) step the *date*; Hour/Minute/Second
// pin the wall-clock time of day applied after each step.
type CalendarIntervalOptions struct {
	Years, Months, Weeks, Days int
	Hour, Minute, Second       int
	StartDate                  time.Time
	EndDate                    *time.Time
	Timezone                   *time.Location
}

// CalendarIntervalTrigger performs calendar arithmetic in Timezone:
// advances the date by Years/Months/Weeks/Days, then applies the fixed
// wall-clock Hour/Minute/Second. A nonexistent or ambiguous result (the
// fixed time of day falling in a DST gap or repeat) is resolved explicitly
// by resolveWallClock rather than left to time.Date's own choice.
type CalendarIntervalTrigger struct {
	years, months, days int
	hour, minute, second int
	startDate            time.Time
	endDate               *time.Time
	loc                   *time.Location
	lastFireTime          *time.Time
}

// NewCalendarInterval builds a calendar-stepped trigger.
func NewCalendarInterval(opts CalendarIntervalOptions) (*CalendarIntervalTrigger, error) {
	if opts.StartDate.IsZero() {
		return nil, invalid("calendar_interval: start_date must be set")
	}
	if opts.Years == 0 && opts.Months == 0 && opts.Weeks == 0 && opts.Days == 0 {
		return nil, invalid("calendar_interval: at least one of years/months/weeks/days must be non-zero")
	}
	loc := opts.Timezone
	if loc == nil {
		return nil, invalid("calendar_interval: timezone must be set")
	}
	if opts.EndDate != nil && opts.EndDate.Before(opts.StartDate) {
		return nil, invalid("calendar_interval: end_date before start_date")
	}
	return &CalendarIntervalTrigger{
		years: opts.Years, months: opts.Months, days: opts.Weeks*7 + opts.Days,
		hour: opts.Hour, minute: opts.Minute, second: opts.Second,
		startDate: opts.StartDate, endDate: opts.EndDate, loc: loc,
	}, nil
}

func (t *CalendarIntervalTrigger) Next() (time.Time, bool, error) {
	var candidate time.Time
	if t.lastFireTime == nil {
		candidate = resolveWallClock(t.startDate.Year(), t.startDate.Month(), t.startDate.Day(),
			t.hour, t.minute, t.second, t.loc)
	} else {
		d := t.lastFireTime.AddDate(t.years, t.months, t.days)
		candidate = resolveWallClock(d.Year(), d.Month(), d.Day(), t.hour, t.minute, t.second, t.loc)
	}
	if t.endDate != nil && candidate.After(*t.endDate) {
		return time.Time{}, false, nil
	}
	t.lastFireTime = &candidate
	return candidate, true, nil
}

func (t *CalendarIntervalTrigger) Kind() string { return KindCalendarInterval }

func (t *CalendarIntervalTrigger) State() State {
	s := State{
		"years": t.years, "months": t.months, "days": t.days,
		"hour": t.hour, "minute": t.minute, "second": t.second,
		"start_date": encodeTime(t.startDate),
		"timezone":   t.loc.String(),
	}
	if t.endDate != nil {
		s["end_date"] = encodeTime(*t.endDate)
	}
	if t.lastFireTime != nil {
		s["last_fire_time"] = encodeTime(*t.lastFireTime)
	}
	return s
}

func (t *CalendarIntervalTrigger) LoadState(s State) error {
	loc, err := stateLocation(s, "timezone")
	if err != nil {
		return err
	}
	t.loc = loc
	t.years = stateInt(s, "years", 0)
	t.months = stateInt(s, "months", 0)
	t.days = stateInt(s, "days", 0)
	t.hour = stateInt(s, "hour", 0)
	t.minute = stateInt(s, "minute", 0)
	t.second = stateInt(s, "second", 0)
	start, err := stateTime(s, "start_date")
	if err != nil {
		return err
	}
	t.startDate = start
	end, err := stateOptTime(s, "end_date")
	if err != nil {
		return err
	}
	t.endDate = end
	last, err := stateOptTime(s, "last_fire_time")
	if err != nil {
		return err
	}
	t.lastFireTime = last
	return nil
}

func (t *CalendarIntervalTrigger) String() string {
	return fmt.Sprintf("CalendarIntervalTrigger(years=%d, months=%d, days=%d, start_date='%s')",
		t.years, t.months, t.days, t.startDate.Format("2006-01-02"))
}

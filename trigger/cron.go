package trigger

import (
	"fmt"
	"time"
)

// maxCronIterations bounds the field-rollover search in CronTrigger.Next.
// Each iteration advances exactly one field by one unit, so this allows
// searching roughly 270 years of daily granularity before giving up and
// reporting the trigger as exhausted — a pathological expression (e.g.
// day="30", month="feb") would otherwise search forever.
const maxCronIterations = 100000

// CronOptions configures a CronTrigger. Every field defaults to "*"
// (always matches) when left empty. Day (and day-of-week, week) are
// logically ANDed together along with every other field — unlike a unix
// crontab's day-of-month/day-of-week OR special case.
type CronOptions struct {
	Year, Month, Day, Week, DayOfWeek string
	Hour, Minute, Second              string
	StartTime                         time.Time
	EndTime                           *time.Time
	Timezone                          *time.Location
}

// CronTrigger yields wall-clock matches of a field expression, evaluated
// in Timezone with the same DST handling as CalendarIntervalTrigger.
type CronTrigger struct {
	year, month, hour, minute, second *fieldExpr
	day, week, dayOfWeek               *fieldExpr
	loc                                 *time.Location
	startTime                           time.Time
	endTime                              *time.Time
	lastFireTime                        *time.Time
}

// NewCron parses the field expressions and builds a CronTrigger.
func NewCron(opts CronOptions) (*CronTrigger, error) {
	if opts.StartTime.IsZero() {
		return nil, invalid("cron: start_time must be set")
	}
	loc := opts.Timezone
	if loc == nil {
		return nil, invalid("cron: timezone must be set")
	}
	if opts.EndTime != nil && opts.EndTime.Before(opts.StartTime) {
		return nil, invalid("cron: end_time before start_time")
	}

	fields := []struct {
		name       string
		expr       string
		min, max   int
		aliases    map[string]int
		dest       **fieldExpr
	}{
		{"year", opts.Year, 1, 9999, nil, nil},
		{"month", defaultStar(opts.Month), 1, 12, monthAliases, nil},
		{"day", defaultStar(opts.Day), 1, 31, nil, nil},
		{"week", defaultStar(opts.Week), 1, 53, nil, nil},
		{"day_of_week", defaultStar(opts.DayOfWeek), 0, 6, weekdayAliases, nil},
		{"hour", defaultStar(opts.Hour), 0, 23, nil, nil},
		{"minute", defaultStar(opts.Minute), 0, 59, nil, nil},
		{"second", defaultStar(opts.Second), 0, 59, nil, nil},
	}
	fields[0].expr = defaultStar(opts.Year)

	t := &CronTrigger{startTime: opts.StartTime, endTime: opts.EndTime, loc: loc}
	parsed := make([]*fieldExpr, len(fields))
	for i, f := range fields {
		fe, err := parseField(f.expr, f.min, f.max, f.aliases)
		if err != nil {
			return nil, err
		}
		if fe.last && f.name != "day" {
			return nil, invalid("cron: 'last' is only valid for the day field")
		}
		parsed[i] = fe
	}
	t.year, t.month, t.day, t.week, t.dayOfWeek, t.hour, t.minute, t.second =
		parsed[0], parsed[1], parsed[2], parsed[3], parsed[4], parsed[5], parsed[6], parsed[7]
	return t, nil
}

func defaultStar(s string) string {
	if s == "" {
		return "*"
	}
	return s
}

func lastDayOfMonth(y int, m time.Month) int {
	return time.Date(y, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func (t *CronTrigger) dayMatches(c time.Time) bool {
	if t.day.last {
		if c.Day() != lastDayOfMonth(c.Year(), c.Month()) {
			return false
		}
	} else if !t.day.match(c.Day()) {
		return false
	}
	if !t.dayOfWeek.wildcard {
		apWeekday := (int(c.Weekday()) + 6) % 7 // Monday=0 .. Sunday=6
		if !t.dayOfWeek.match(apWeekday) {
			return false
		}
	}
	if !t.week.wildcard {
		_, wk := c.ISOWeek()
		if !t.week.match(wk) {
			return false
		}
	}
	return true
}

func (t *CronTrigger) Next() (time.Time, bool, error) {
	var candidate time.Time
	if t.lastFireTime != nil {
		candidate = t.lastFireTime.Add(time.Second).In(t.loc)
	} else {
		candidate = t.startTime.In(t.loc)
	}

	for i := 0; i < maxCronIterations; i++ {
		if t.endTime != nil && candidate.After(*t.endTime) {
			return time.Time{}, false, nil
		}
		if !t.year.match(candidate.Year()) {
			candidate = resolveWallClock(candidate.Year()+1, 1, 1, 0, 0, 0, t.loc)
			continue
		}
		if !t.month.match(int(candidate.Month())) {
			candidate = resolveWallClock(candidate.Year(), candidate.Month()+1, 1, 0, 0, 0, t.loc)
			continue
		}
		if !t.dayMatches(candidate) {
			candidate = resolveWallClock(candidate.Year(), candidate.Month(), candidate.Day()+1, 0, 0, 0, t.loc)
			continue
		}
		if !t.hour.match(candidate.Hour()) {
			next := resolveWallClock(candidate.Year(), candidate.Month(), candidate.Day(), candidate.Hour()+1, 0, 0, t.loc)
			if !next.After(candidate) {
				next = candidate.Add(time.Hour)
			}
			candidate = next
			continue
		}
		if !t.minute.match(candidate.Minute()) {
			next := resolveWallClock(candidate.Year(), candidate.Month(), candidate.Day(), candidate.Hour(), candidate.Minute()+1, 0, t.loc)
			if !next.After(candidate) {
				next = candidate.Add(time.Minute)
			}
			candidate = next
			continue
		}
		if !t.second.match(candidate.Second()) {
			candidate = candidate.Add(time.Second)
			continue
		}

		t.lastFireTime = &candidate
		return candidate, true, nil
	}
	return time.Time{}, false, nil
}

func (t *CronTrigger) Kind() string { return KindCron }

func (t *CronTrigger) State() State {
	s := State{
		"year": t.year.raw, "month": t.month.raw, "day": t.day.raw,
		"week": t.week.raw, "day_of_week": t.dayOfWeek.raw,
		"hour": t.hour.raw, "minute": t.minute.raw, "second": t.second.raw,
		"start_time": encodeTime(t.startTime),
		"timezone":   t.loc.String(),
	}
	if t.endTime != nil {
		s["end_time"] = encodeTime(*t.endTime)
	}
	if t.lastFireTime != nil {
		s["last_fire_time"] = encodeTime(*t.lastFireTime)
	}
	return s
}

func (t *CronTrigger) LoadState(s State) error {
	loc, err := stateLocation(s, "timezone")
	if err != nil {
		return err
	}
	start, err := stateTime(s, "start_time")
	if err != nil {
		return err
	}
	end, err := stateOptTime(s, "end_time")
	if err != nil {
		return err
	}
	n, err := NewCron(CronOptions{
		Year: stateString(s, "year"), Month: stateString(s, "month"), Day: stateString(s, "day"),
		Week: stateString(s, "week"), DayOfWeek: stateString(s, "day_of_week"),
		Hour: stateString(s, "hour"), Minute: stateString(s, "minute"), Second: stateString(s, "second"),
		StartTime: start, EndTime: end, Timezone: loc,
	})
	if err != nil {
		return err
	}
	last, err := stateOptTime(s, "last_fire_time")
	if err != nil {
		return err
	}
	n.lastFireTime = last
	*t = *n
	return nil
}

func (t *CronTrigger) String() string {
	return fmt.Sprintf("CronTrigger(year=%s, month=%s, day=%s, day_of_week=%s, hour=%s, minute=%s, second=%s)",
		t.year, t.month, t.day, t.dayOfWeek, t.hour, t.minute, t.second)
}

// ParseUnixCron bridges a classic 5-field crontab string ("minute hour
// day month weekday") into a CronTrigger, using robfig/cron's parser for
// the field splitting/validation the way the teacher's dispatcher and
// schedule usecase both already did with cron.ParseStandard — but
// re-expressed as a CronTrigger so the result composes with And/Or and
// restarts from serialized state like every other trigger here.
func ParseUnixCron(expr string, startTime time.Time, loc *time.Location) (*CronTrigger, error) {
	fields, err := splitUnixCron(expr)
	if err != nil {
		return nil, invalid("cron: %s", err.Error())
	}
	return NewCron(CronOptions{
		Minute: fields[0], Hour: fields[1], Day: fields[2], Month: fields[3], DayOfWeek: fields[4],
		Second: "0", StartTime: startTime, Timezone: loc,
	})
}

package trigger

import "time"

// DateTrigger fires exactly once, at runTime, then is terminal.
type DateTrigger struct {
	runTime time.Time
	fired   bool
}

// NewDate builds a one-shot trigger firing at runTime.
func NewDate(runTime time.Time) (*DateTrigger, error) {
	if runTime.IsZero() {
		return nil, invalid("date: run_time must be set")
	}
	return &DateTrigger{runTime: runTime}, nil
}

func (t *DateTrigger) Next() (time.Time, bool, error) {
	if t.fired {
		return time.Time{}, false, nil
	}
	t.fired = true
	return t.runTime, true, nil
}

func (t *DateTrigger) Kind() string { return KindDate }

func (t *DateTrigger) State() State {
	return State{
		"run_time": encodeTime(t.runTime),
		"fired":    t.fired,
	}
}

func (t *DateTrigger) LoadState(s State) error {
	rt, err := stateTime(s, "run_time")
	if err != nil {
		return err
	}
	t.runTime = rt
	t.fired = stateBool(s, "fired")
	return nil
}

func (t *DateTrigger) String() string {
	return "DateTrigger('" + t.runTime.Format("2006-01-02 15:04:05.000000-07:00") + "')"
}

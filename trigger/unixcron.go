package trigger

import (
	"fmt"
	"strconv"
	"strings"

	robfigcron "github.com/robfig/cron/v3"
)

// splitUnixCron validates expr as a standard 5-field crontab expression
// using robfig/cron's parser (catching malformed input the same way the
// teacher validated CronExpr in usecase.ScheduleUsecase.CreateSchedule
// and scheduler.Dispatcher.computeNext), then returns the five fields
// translated into this package's field-expression dialect: unix cron's
// day-of-week (0 or 7 = Sunday) is remapped to our Monday=0 convention.
func splitUnixCron(expr string) ([5]string, error) {
	var out [5]string
	if _, err := robfigcron.ParseStandard(expr); err != nil {
		return out, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return out, fmt.Errorf("invalid cron expression %q: expected 5 fields, got %d", expr, len(fields))
	}
	out[0], out[1], out[2], out[3] = fields[0], fields[1], fields[2], fields[3]
	dow, err := remapUnixDayOfWeek(fields[4])
	if err != nil {
		return out, err
	}
	out[4] = dow
	return out, nil
}

var unixDayNames = map[string]int{"sun": 0, "mon": 1, "tue": 2, "wed": 3, "thu": 4, "fri": 5, "sat": 6}

// remapUnixDayOfWeek translates a unix-cron day-of-week field (0 or 7 =
// Sunday, 1 = Monday, ... ; comma lists, and ranges with an optional
// step, are supported) into this package's Monday=0 dialect. A step on
// "*" (e.g. "*/2") is rejected, and a range starting at Sunday 0 (e.g.
// "0-3") remaps to a descending range that the field parser rejects.
func remapUnixDayOfWeek(expr string) (string, error) {
	expr = strings.ToLower(strings.TrimSpace(expr))
	if expr == "*" || expr == "" {
		return "*", nil
	}
	var out []string
	for _, part := range strings.Split(expr, ",") {
		step := ""
		rangePart := part
		if idx := strings.Index(part, "/"); idx >= 0 {
			rangePart, step = part[:idx], part[idx:]
		}
		if dash := strings.Index(rangePart, "-"); dash >= 0 {
			lo, err := remapUnixDayValue(rangePart[:dash])
			if err != nil {
				return "", err
			}
			hi, err := remapUnixDayValue(rangePart[dash+1:])
			if err != nil {
				return "", err
			}
			out = append(out, fmt.Sprintf("%d-%d%s", lo, hi, step))
			continue
		}
		v, err := remapUnixDayValue(rangePart)
		if err != nil {
			return "", err
		}
		out = append(out, fmt.Sprintf("%d%s", v, step))
	}
	return strings.Join(out, ","), nil
}

func remapUnixDayValue(s string) (int, error) {
	s = strings.TrimSpace(s)
	unix, ok := unixDayNames[s]
	if !ok {
		v, err := strconv.Atoi(s)
		if err != nil {
			return 0, fmt.Errorf("invalid day-of-week value %q", s)
		}
		unix = v % 7
	}
	// unix: 0=Sunday..6=Saturday -> ours: 0=Monday..6=Sunday
	return (unix + 6) % 7, nil
}

package trigger

import (
	"strconv"
	"time"
)

// Describe returns a trigger's repr-style description, using its String()
// method when available and falling back to Kind() otherwise. Used by
// AndTrigger/OrTrigger to describe their children.
func Describe(t Trigger) string {
	if s, ok := t.(interface{ String() string }); ok {
		return s.String()
	}
	return t.Kind()
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'g', -1, 64)
}

func formatInt(n int) string {
	return strconv.Itoa(n)
}

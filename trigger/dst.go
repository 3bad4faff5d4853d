package trigger

import "time"

// resolveWallClock builds the instant named by the given local wall-clock
// components in loc, enforcing the DST policy from §4.A explicitly instead
// of trusting time.Date's own choice, which the standard library documents
// as unspecified: "Date returns a time that is correct in one of the two
// zones involved... but it does not guarantee which."
//
// A nonexistent local time (spring-forward gap, e.g. 2:30 on the day the
// clock jumps from 2:00 to 3:00) advances to the first valid instant after
// the gap closes. An ambiguous local time (fall-back repeat, e.g. 1:30
// occurring twice) resolves to the earlier of the two instants.
func resolveWallClock(y int, mo time.Month, d, hh, mm, ss int, loc *time.Location) time.Time {
	// Canonicalize the requested fields through a DST-free calendar first.
	// Callers (notably CronTrigger's field-rollover search) sometimes pass
	// an overflowing hour or minute, e.g. 24 or 60, to mean "roll into the
	// next day/hour"; that arithmetic is always unambiguous and must not be
	// mistaken for a DST gap.
	canon := time.Date(y, mo, d, hh, mm, ss, 0, time.UTC)
	cy, cmo, cd := canon.Date()
	chh, cmm, css := canon.Clock()

	t := time.Date(cy, cmo, cd, chh, cmm, css, 0, loc)
	ry, rmo, rd := t.Date()
	rhh, rmm, rss := t.Clock()
	if ry != cy || rmo != cmo || rd != cd || rhh != chh || rmm != cmm || rss != css {
		return nextValidAfterGap(t)
	}
	return earlierOfAmbiguous(t)
}

// nextValidAfterGap is called once a round-trip through time.Date has shown
// the requested wall clock does not exist. t already names some instant Go
// picked on one side of the transition; the transition boundary itself,
// whichever of t's zone-period bounds sits closest to t, is the first valid
// instant after the gap.
func nextValidAfterGap(t time.Time) time.Time {
	start, end := t.ZoneBounds()
	switch {
	case !start.IsZero() && !end.IsZero():
		if t.Sub(start) <= end.Sub(t) {
			return start
		}
		return end
	case !end.IsZero():
		return end
	case !start.IsZero():
		return start
	default:
		return t
	}
}

// earlierOfAmbiguous is called once t has round-tripped cleanly, meaning the
// wall clock exists, but checks whether it also falls within the repeated
// hour of a fall-back transition. If so it returns the earlier of the two
// instants that share this local reading.
func earlierOfAmbiguous(t time.Time) time.Time {
	start, _ := t.ZoneBounds()
	if start.IsZero() {
		return t
	}
	_, curOffset := t.Zone()
	_, beforeOffset := start.Add(-time.Second).Zone()
	if beforeOffset <= curOffset {
		return t
	}
	delta := time.Duration(beforeOffset-curOffset) * time.Second
	if t.Before(start.Add(delta)) {
		return t.Add(-delta)
	}
	return t
}

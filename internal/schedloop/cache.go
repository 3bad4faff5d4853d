package schedloop

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/relaysched/relay/schedule"
)

// cacheSize bounds how many of this node's own hot schedules (the ones
// it has recently acquired and advanced) are kept in nextWake's local
// cache, so a busy node with a small working set of frequently-firing
// schedules doesn't re-query the store every cycle just to find the
// next sleep deadline.
const cacheSize = 4096

// scheduleCache is the bounded local cache of hot schedules (§5): keyed
// by schedule id, holding just enough (NextFireTime, Paused) to answer
// "when is the next one due" without a store round trip. It is
// refreshed per-entry whenever this node releases that schedule with a
// new fire time, evicts it once the schedule goes terminal, and drops
// any entry named by a schedule broker event the loop receives, since
// another node may have advanced or removed that schedule since.
type scheduleCache struct {
	lru *lru.Cache[string, schedule.Schedule]
}

func newScheduleCache() *scheduleCache {
	c, _ := lru.New[string, schedule.Schedule](cacheSize)
	return &scheduleCache{lru: c}
}

func (c *scheduleCache) touch(s schedule.Schedule) {
	if s.NextFireTime == nil {
		c.lru.Remove(s.ID)
		return
	}
	c.lru.Add(s.ID, s)
}

func (c *scheduleCache) remove(id string) {
	c.lru.Remove(id)
}

// earliest returns the soonest NextFireTime among cached schedules and
// whether the cache held anything at all.
func (c *scheduleCache) earliest() (t schedule.Schedule, ok bool) {
	for _, id := range c.lru.Keys() {
		s, present := c.lru.Peek(id)
		if !present || s.Paused || s.NextFireTime == nil {
			continue
		}
		if !ok || s.NextFireTime.Before(*t.NextFireTime) {
			t, ok = s, true
		}
	}
	return t, ok
}

package trigger

import (
	"fmt"
	"time"
)

// State is the reversible, flat-ish representation of a trigger's
// construction arguments plus its advance-state (§4.B). Every value is a
// primitive (string, bool, float64/int, nil) or a nested State/[]State —
// safe to round-trip through any encoding the serialize package plugs in.
type State map[string]any

// Trigger produces a restartable, monotonically non-decreasing sequence
// of fire times. Next returns the next time in the sequence, or ok=false
// once the sequence is exhausted. A trigger never rewinds: given
// identical construction arguments and identical advance-state, repeated
// calls always return the same remaining sequence, whether that state
// arrived by construction or by LoadState.
type Trigger interface {
	// Next returns the next fire time, advancing the trigger's internal
	// state. ok is false once the trigger is terminal. err is non-nil
	// only for a genuine evaluation failure (currently only
	// AndTrigger's ErrMaxIterationsReached).
	Next() (t time.Time, ok bool, err error)

	// Kind is the stable discriminator used by the serializer contract
	// and by FromState to reconstruct the right concrete type.
	Kind() string

	// State returns the trigger's current construction arguments and
	// advance-state as a flat map of primitives.
	State() State
}

// Restorable is implemented by every trigger kind shipped in this
// package; LoadState restores advance-state captured by a prior State()
// call. It is kept separate from Trigger so that external, opaque
// trigger kinds (not reconstructible generically) can still satisfy
// Trigger without promising restorability.
type Restorable interface {
	Trigger
	LoadState(State) error
}

// Factory constructs a zero-value trigger of a given kind so its State
// can be loaded into it. Used by FromState and by AndTrigger/OrTrigger
// when restoring their children.
type Factory func() Restorable

var registry = map[string]Factory{
	KindDate:             func() Restorable { return &DateTrigger{} },
	KindInterval:         func() Restorable { return &IntervalTrigger{} },
	KindCalendarInterval: func() Restorable { return &CalendarIntervalTrigger{} },
	KindCron:             func() Restorable { return &CronTrigger{} },
	KindAnd:              func() Restorable { return &AndTrigger{} },
	KindOr:               func() Restorable { return &OrTrigger{} },
}

// RegisterKind lets a caller add a custom trigger kind to the registry
// used by FromState, so custom triggers can still be deserialized
// generically when nested inside And/Or.
func RegisterKind(kind string, f Factory) {
	registry[kind] = f
}

// FromState reconstructs a Trigger from a kind discriminator and its
// serialized State, per the serializer contract (§4.B). Returns
// DeserializationError-shaped error (via errors package boundary; here a
// plain error) when the kind is unknown or the state is corrupt.
func FromState(kind string, state State) (Trigger, error) {
	f, ok := registry[kind]
	if !ok {
		return nil, invalid("unknown trigger kind %q", kind)
	}
	t := f()
	if err := t.LoadState(state); err != nil {
		return nil, err
	}
	return t, nil
}

const (
	KindDate             = "date"
	KindInterval         = "interval"
	KindCalendarInterval = "calendar_interval"
	KindCron             = "cron"
	KindAnd              = "and"
	KindOr               = "or"
)

const timeLayout = time.RFC3339Nano

func encodeTime(t time.Time) string { return t.Format(timeLayout) }

func stateTime(s State, key string) (time.Time, error) {
	v, ok := s[key]
	if !ok || v == nil {
		return time.Time{}, fmt.Errorf("trigger: missing state key %q", key)
	}
	switch tv := v.(type) {
	case time.Time:
		return tv, nil
	case string:
		t, err := time.Parse(timeLayout, tv)
		if err != nil {
			return time.Time{}, fmt.Errorf("trigger: state key %q: %w", key, err)
		}
		return t, nil
	default:
		return time.Time{}, fmt.Errorf("trigger: state key %q has unexpected type %T", key, v)
	}
}

func stateOptTime(s State, key string) (*time.Time, error) {
	v, ok := s[key]
	if !ok || v == nil {
		return nil, nil
	}
	t, err := stateTime(s, key)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func stateInt(s State, key string, def int) int {
	v, ok := s[key]
	if !ok || v == nil {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return def
}

func stateString(s State, key string) string {
	v, _ := s[key].(string)
	return v
}

func stateBool(s State, key string) bool {
	v, _ := s[key].(bool)
	return v
}

func stateLocation(s State, key string) (*time.Location, error) {
	name := stateString(s, key)
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("trigger: state key %q: unknown timezone %q: %w", key, name, err)
	}
	return loc, nil
}

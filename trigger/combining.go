package trigger

import (
	"strings"
	"time"
)

const defaultThreshold = time.Second
const defaultMaxIterations = 10000

// AndTrigger yields times present in every child sequence within
// Threshold of each other. When two or more children land within
// Threshold, the earliest of them is emitted and every child is advanced
// past it (near-duplicates are treated as the same occurrence, not as
// separate fires — see DESIGN.md for how this was resolved against
// _examples/original_source/tests/triggers/test_combining.py).
type AndTrigger struct {
	children      []Trigger
	threshold     time.Duration
	maxIterations int

	pending   []*time.Time
	exhausted []bool
}

// AndOption customizes an AndTrigger at construction.
type AndOption func(*AndTrigger)

// WithThreshold sets the intersection tolerance (default 1 second).
func WithThreshold(d time.Duration) AndOption { return func(t *AndTrigger) { t.threshold = d } }

// WithMaxIterations bounds the intersection search (default 10000).
func WithMaxIterations(n int) AndOption { return func(t *AndTrigger) { t.maxIterations = n } }

// NewAnd builds an AndTrigger over children.
func NewAnd(children []Trigger, opts ...AndOption) (*AndTrigger, error) {
	if len(children) == 0 {
		return nil, invalid("and: at least one child trigger is required")
	}
	t := &AndTrigger{children: children, threshold: defaultThreshold, maxIterations: defaultMaxIterations}
	for _, o := range opts {
		o(t)
	}
	if t.threshold < 0 {
		return nil, invalid("and: threshold must be >= 0")
	}
	if t.maxIterations <= 0 {
		return nil, invalid("and: max_iterations must be > 0")
	}
	t.pending = make([]*time.Time, len(children))
	t.exhausted = make([]bool, len(children))
	return t, nil
}

func (t *AndTrigger) fetch(i int) error {
	if t.exhausted[i] {
		return nil
	}
	v, ok, err := t.children[i].Next()
	if err != nil {
		return err
	}
	if !ok {
		t.exhausted[i] = true
		t.pending[i] = nil
		return nil
	}
	t.pending[i] = &v
	return nil
}

func (t *AndTrigger) anyExhausted() bool {
	for _, e := range t.exhausted {
		if e {
			return true
		}
	}
	return false
}

func (t *AndTrigger) Next() (time.Time, bool, error) {
	for i := range t.children {
		if t.pending[i] == nil && !t.exhausted[i] {
			if err := t.fetch(i); err != nil {
				return time.Time{}, false, err
			}
		}
	}

	iterations := 0
	for {
		if t.anyExhausted() {
			return time.Time{}, false, nil
		}

		minIdx := 0
		min, max := *t.pending[0], *t.pending[0]
		for i, p := range t.pending {
			if p.Before(min) {
				min, minIdx = *p, i
			}
			if p.After(max) {
				max = *p
			}
		}

		if max.Sub(min) <= t.threshold {
			for i := range t.children {
				if err := t.fetch(i); err != nil {
					return time.Time{}, false, err
				}
			}
			return min, true, nil
		}

		iterations++
		if iterations > t.maxIterations {
			return time.Time{}, false, ErrMaxIterationsReached
		}
		if err := t.fetch(minIdx); err != nil {
			return time.Time{}, false, err
		}
	}
}

func (t *AndTrigger) Kind() string { return KindAnd }

func (t *AndTrigger) State() State {
	children := make([]State, len(t.children))
	for i, c := range t.children {
		children[i] = State{"kind": c.Kind(), "state": c.State()}
	}
	s := State{
		"children":       children,
		"threshold":      t.threshold.Seconds(),
		"max_iterations": t.maxIterations,
	}
	pending := make([]any, len(t.pending))
	for i, p := range t.pending {
		if p != nil {
			pending[i] = encodeTime(*p)
		}
	}
	s["pending"] = pending
	s["exhausted"] = append([]bool(nil), t.exhausted...)
	return s
}

func (t *AndTrigger) LoadState(s State) error {
	children, err := loadChildren(s)
	if err != nil {
		return err
	}
	t.children = children
	if v, ok := s["threshold"].(float64); ok {
		t.threshold = time.Duration(v * float64(time.Second))
	} else {
		t.threshold = defaultThreshold
	}
	t.maxIterations = stateInt(s, "max_iterations", defaultMaxIterations)

	t.pending = make([]*time.Time, len(children))
	t.exhausted = make([]bool, len(children))
	if raw, ok := s["pending"].([]any); ok {
		for i, v := range raw {
			if i >= len(t.pending) {
				break
			}
			if str, ok := v.(string); ok && str != "" {
				tm, err := time.Parse(timeLayout, str)
				if err != nil {
					return err
				}
				t.pending[i] = &tm
			}
		}
	}
	if raw, ok := s["exhausted"].([]bool); ok {
		copy(t.exhausted, raw)
	} else if raw, ok := s["exhausted"].([]any); ok {
		for i, v := range raw {
			if i >= len(t.exhausted) {
				break
			}
			t.exhausted[i], _ = v.(bool)
		}
	}
	return nil
}

func (t *AndTrigger) String() string {
	parts := make([]string, len(t.children))
	for i, c := range t.children {
		parts[i] = Describe(c)
	}
	return "AndTrigger([" + strings.Join(parts, ", ") + "], threshold=" +
		formatSeconds(t.threshold) + ", max_iterations=" + formatInt(t.maxIterations) + ")"
}

// OrTrigger yields the chronological, de-duplicated merge of all child
// sequences: the earliest pending value across children, with any other
// child whose pending equals it advanced in lock-step (so simultaneous
// fires collapse into one output).
type OrTrigger struct {
	children  []Trigger
	pending   []*time.Time
	exhausted []bool
}

// NewOr builds an OrTrigger over children.
func NewOr(children []Trigger) (*OrTrigger, error) {
	if len(children) == 0 {
		return nil, invalid("or: at least one child trigger is required")
	}
	return &OrTrigger{
		children:  children,
		pending:   make([]*time.Time, len(children)),
		exhausted: make([]bool, len(children)),
	}, nil
}

func (t *OrTrigger) fetch(i int) error {
	if t.exhausted[i] {
		return nil
	}
	v, ok, err := t.children[i].Next()
	if err != nil {
		return err
	}
	if !ok {
		t.exhausted[i] = true
		t.pending[i] = nil
		return nil
	}
	t.pending[i] = &v
	return nil
}

func (t *OrTrigger) Next() (time.Time, bool, error) {
	for i := range t.children {
		if t.pending[i] == nil && !t.exhausted[i] {
			if err := t.fetch(i); err != nil {
				return time.Time{}, false, err
			}
		}
	}

	minIdx := -1
	for i := range t.children {
		if t.exhausted[i] {
			continue
		}
		if minIdx == -1 || t.pending[i].Before(*t.pending[minIdx]) {
			minIdx = i
		}
	}
	if minIdx == -1 {
		return time.Time{}, false, nil
	}

	result := *t.pending[minIdx]
	for i := range t.children {
		if t.exhausted[i] || t.pending[i] == nil {
			continue
		}
		if t.pending[i].Equal(result) {
			if err := t.fetch(i); err != nil {
				return time.Time{}, false, err
			}
		}
	}
	return result, true, nil
}

func (t *OrTrigger) Kind() string { return KindOr }

func (t *OrTrigger) State() State {
	children := make([]State, len(t.children))
	for i, c := range t.children {
		children[i] = State{"kind": c.Kind(), "state": c.State()}
	}
	pending := make([]any, len(t.pending))
	for i, p := range t.pending {
		if p != nil {
			pending[i] = encodeTime(*p)
		}
	}
	return State{
		"children":  children,
		"pending":   pending,
		"exhausted": append([]bool(nil), t.exhausted...),
	}
}

func (t *OrTrigger) LoadState(s State) error {
	children, err := loadChildren(s)
	if err != nil {
		return err
	}
	t.children = children
	t.pending = make([]*time.Time, len(children))
	t.exhausted = make([]bool, len(children))
	if raw, ok := s["pending"].([]any); ok {
		for i, v := range raw {
			if i >= len(t.pending) {
				break
			}
			if str, ok := v.(string); ok && str != "" {
				tm, err := time.Parse(timeLayout, str)
				if err != nil {
					return err
				}
				t.pending[i] = &tm
			}
		}
	}
	if raw, ok := s["exhausted"].([]bool); ok {
		copy(t.exhausted, raw)
	} else if raw, ok := s["exhausted"].([]any); ok {
		for i, v := range raw {
			if i >= len(t.exhausted) {
				break
			}
			t.exhausted[i], _ = v.(bool)
		}
	}
	return nil
}

func (t *OrTrigger) String() string {
	parts := make([]string, len(t.children))
	for i, c := range t.children {
		parts[i] = Describe(c)
	}
	return "OrTrigger([" + strings.Join(parts, ", ") + "])"
}

func loadChildren(s State) ([]Trigger, error) {
	raw, ok := s["children"].([]State)
	if !ok {
		// after a JSON round-trip, nested maps decode as []any of map[string]any.
		anyRaw, ok2 := s["children"].([]any)
		if !ok2 {
			return nil, invalid("combining: missing or malformed %q", "children")
		}
		raw = make([]State, len(anyRaw))
		for i, v := range anyRaw {
			m, ok := v.(map[string]any)
			if !ok {
				return nil, invalid("combining: malformed child at index %d", i)
			}
			raw[i] = State(m)
		}
	}
	children := make([]Trigger, len(raw))
	for i, cs := range raw {
		kind := stateString(cs, "kind")
		childState, ok := cs["state"].(State)
		if !ok {
			if m, ok2 := cs["state"].(map[string]any); ok2 {
				childState = State(m)
			} else {
				return nil, invalid("combining: malformed child state at index %d", i)
			}
		}
		child, err := FromState(kind, childState)
		if err != nil {
			return nil, err
		}
		children[i] = child
	}
	return children, nil
}

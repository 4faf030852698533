// Package ledger implements the bounded, importance-weighted event store.
package ledger

import (
	"io"
	"math/rand"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/rcliao/accessmind/internal/model"
)

// DefaultMaxSize is the retention cap when none is configured.
const DefaultMaxSize = 2000

// Ledger is a timestamp-ordered event store. When it grows past its cap it
// keeps the most important events, not the newest. It is not safe for
// concurrent use; the engine serializes access.
type Ledger struct {
	max     int
	events  []model.Event
	index   map[string]int
	entropy io.Reader
}

// New creates a ledger holding at most limit events. Entropy seeds event IDs;
// a nil source uses a time-seeded generator.
func New(limit int, entropy *rand.Rand) *Ledger {
	if limit <= 0 {
		limit = DefaultMaxSize
	}
	if entropy == nil {
		entropy = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Ledger{
		max:     limit,
		index:   make(map[string]int),
		entropy: ulid.Monotonic(entropy, 0),
	}
}

func (l *Ledger) newID(now time.Time) string {
	return ulid.MustNew(ulid.Timestamp(now), l.entropy).String()
}

// Record stamps in with now and a fresh ID, appends it and applies eviction.
// The returned event is a copy; evicted reports whether the new event itself
// was dropped because it was the least important.
func (l *Ledger) Record(now time.Time, in model.EventInput) (ev model.Event, evicted bool) {
	ev = model.Event{
		ID:                l.newID(now),
		Kind:              in.Kind,
		Timestamp:         now,
		Importance:        in.Importance,
		EmotionalWeight:   in.EmotionalWeight,
		Details:           in.Details,
		Context:           in.Context,
		Stake:             in.Stake,
		RequestedDuration: in.RequestedDuration,
	}
	ev = ev.Clone()
	l.insert(ev)
	l.evict()
	_, kept := l.index[ev.ID]
	return ev.Clone(), !kept
}

// Restore re-ingests previously recorded events, keeping their IDs and
// timestamps. Events whose ID is already present are skipped.
func (l *Ledger) Restore(events []model.Event) int {
	added := 0
	for _, ev := range events {
		if _, ok := l.index[ev.ID]; ok || ev.ID == "" {
			continue
		}
		l.insert(ev.Clone())
		added++
	}
	l.evict()
	return added
}

// insert places ev in timestamp order. Appends are the common case.
func (l *Ledger) insert(ev model.Event) {
	n := len(l.events)
	if n == 0 || !before(ev, l.events[n-1]) {
		l.events = append(l.events, ev)
		l.index[ev.ID] = n
		return
	}
	i := sort.Search(n, func(i int) bool { return before(ev, l.events[i]) })
	l.events = append(l.events, model.Event{})
	copy(l.events[i+1:], l.events[i:])
	l.events[i] = ev
	l.reindex()
}

// evict keeps the top-max events by importance. Ties prefer the newer event
// so repeated evictions are deterministic.
func (l *Ledger) evict() {
	if len(l.events) <= l.max {
		return
	}
	ranked := make([]model.Event, len(l.events))
	copy(ranked, l.events)
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Importance != ranked[j].Importance {
			return ranked[i].Importance > ranked[j].Importance
		}
		return before(ranked[j], ranked[i])
	})
	ranked = ranked[:l.max]
	sort.Slice(ranked, func(i, j int) bool { return before(ranked[i], ranked[j]) })
	l.events = ranked
	l.reindex()
}

func (l *Ledger) reindex() {
	clear(l.index)
	for i, ev := range l.events {
		l.index[ev.ID] = i
	}
}

func before(a, b model.Event) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.Before(b.Timestamp)
	}
	return a.ID < b.ID
}

// Len returns the number of retained events.
func (l *Ledger) Len() int { return len(l.events) }

// Cap returns the retention cap.
func (l *Ledger) Cap() int { return l.max }

// Get returns a copy of the event with id.
func (l *Ledger) Get(id string) (model.Event, bool) {
	i, ok := l.index[id]
	if !ok {
		return model.Event{}, false
	}
	return l.events[i].Clone(), true
}

// Events returns a copy of all retained events, oldest first.
func (l *Ledger) Events() []model.Event {
	out := make([]model.Event, len(l.events))
	for i, ev := range l.events {
		out[i] = ev.Clone()
	}
	return out
}

// Since returns copies of the events recorded strictly after t.
func (l *Ledger) Since(t time.Time) []model.Event {
	i := sort.Search(len(l.events), func(i int) bool { return l.events[i].Timestamp.After(t) })
	out := make([]model.Event, 0, len(l.events)-i)
	for _, ev := range l.events[i:] {
		out = append(out, ev.Clone())
	}
	return out
}

// Boost raises the importance of the listed events by the given deltas,
// capped at 1. Unknown IDs are ignored. It returns the number of events changed.
func (l *Ledger) Boost(deltas map[string]float64) int {
	changed := 0
	for id, delta := range deltas {
		i, ok := l.index[id]
		if !ok || delta <= 0 {
			continue
		}
		l.events[i].Importance = min(1.0, l.events[i].Importance+delta)
		changed++
	}
	return changed
}

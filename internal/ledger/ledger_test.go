package ledger

import (
	"math/rand"
	"sort"
	"testing"
	"time"

	"github.com/rcliao/accessmind/internal/model"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newTestLedger(limit int) *Ledger {
	return New(limit, rand.New(rand.NewSource(7)))
}

func access(importance float64) model.EventInput {
	return model.EventInput{Kind: model.KindAccess, Importance: importance, EmotionalWeight: 0.2}
}

func TestRecordStampsAndOrders(t *testing.T) {
	l := newTestLedger(10)

	a, _ := l.Record(t0, access(0.5))
	b, _ := l.Record(t0.Add(time.Second), access(0.5))

	if a.ID == "" || b.ID == "" || a.ID == b.ID {
		t.Fatalf("expected distinct IDs, got %q and %q", a.ID, b.ID)
	}
	if !a.Timestamp.Equal(t0) {
		t.Errorf("expected timestamp %v, got %v", t0, a.Timestamp)
	}
	events := l.Events()
	if len(events) != 2 || events[0].ID != a.ID || events[1].ID != b.ID {
		t.Errorf("expected events in timestamp order, got %+v", events)
	}
}

func TestSameInstantIDsAreOrdered(t *testing.T) {
	l := newTestLedger(10)
	var ids []string
	for i := 0; i < 5; i++ {
		ev, _ := l.Record(t0, access(0.5))
		ids = append(ids, ev.ID)
	}
	if !sort.StringsAreSorted(ids) {
		t.Errorf("expected monotonic IDs within one millisecond, got %v", ids)
	}
}

func TestEvictionKeepsMostImportant(t *testing.T) {
	const limit = 50
	l := newTestLedger(limit)
	r := rand.New(rand.NewSource(42))

	type rec struct {
		id  string
		imp float64
	}
	var all []rec
	for i := 0; i < 400; i++ {
		imp := float64(r.Intn(100)) / 100
		ev, _ := l.Record(t0.Add(time.Duration(i)*time.Second), access(imp))
		all = append(all, rec{ev.ID, imp})
		if l.Len() > limit {
			t.Fatalf("ledger exceeded cap: %d > %d", l.Len(), limit)
		}
	}

	// Expected survivors: top-limit by importance, newer first on ties.
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].imp != all[j].imp {
			return all[i].imp > all[j].imp
		}
		return all[i].id > all[j].id
	})
	want := map[string]bool{}
	for _, r := range all[:limit] {
		want[r.id] = true
	}
	for _, ev := range l.Events() {
		if !want[ev.ID] {
			t.Errorf("event %s (importance %.2f) should have been evicted", ev.ID, ev.Importance)
		}
	}

	events := l.Events()
	for i := 1; i < len(events); i++ {
		if events[i].Timestamp.Before(events[i-1].Timestamp) {
			t.Fatalf("ledger lost timestamp order at %d", i)
		}
	}
}

func TestRecordReportsSelfEviction(t *testing.T) {
	l := newTestLedger(2)
	l.Record(t0, access(0.9))
	l.Record(t0.Add(time.Second), access(0.8))

	_, evicted := l.Record(t0.Add(2*time.Second), access(0.1))
	if !evicted {
		t.Error("expected the least important new event to be evicted")
	}
	_, evicted = l.Record(t0.Add(3*time.Second), access(0.95))
	if evicted {
		t.Error("expected the most important new event to be kept")
	}
}

func TestSince(t *testing.T) {
	l := newTestLedger(10)
	for i := 0; i < 5; i++ {
		l.Record(t0.Add(time.Duration(i)*time.Hour), access(0.5))
	}
	got := l.Since(t0.Add(2 * time.Hour))
	if len(got) != 2 {
		t.Errorf("expected 2 events strictly after cutoff, got %d", len(got))
	}
}

func TestBoostCapsAtOne(t *testing.T) {
	l := newTestLedger(10)
	a, _ := l.Record(t0, access(0.5))
	b, _ := l.Record(t0, access(0.9))

	n := l.Boost(map[string]float64{a.ID: 0.2, b.ID: 0.5, "missing": 0.3})
	if n != 2 {
		t.Errorf("expected 2 boosted events, got %d", n)
	}
	got, _ := l.Get(a.ID)
	if got.Importance < 0.69 || got.Importance > 0.71 {
		t.Errorf("expected importance 0.7, got %v", got.Importance)
	}
	got, _ = l.Get(b.ID)
	if got.Importance != 1.0 {
		t.Errorf("expected importance capped at 1, got %v", got.Importance)
	}
}

func TestRestoreSkipsDuplicates(t *testing.T) {
	src := newTestLedger(10)
	for i := 0; i < 3; i++ {
		src.Record(t0.Add(time.Duration(i)*time.Minute), access(0.4))
	}
	dst := newTestLedger(10)
	if n := dst.Restore(src.Events()); n != 3 {
		t.Fatalf("expected 3 restored, got %d", n)
	}
	if n := dst.Restore(src.Events()); n != 0 {
		t.Errorf("expected duplicates to be skipped, got %d", n)
	}

	// Out-of-order restore still yields timestamp order.
	late, _ := dst.Record(t0.Add(time.Hour), access(0.4))
	early := model.Event{ID: "00000000000000000000000000", Kind: model.KindAccess, Timestamp: t0.Add(-time.Hour)}
	dst.Restore([]model.Event{early})
	events := dst.Events()
	if events[0].ID != early.ID || events[len(events)-1].ID != late.ID {
		t.Errorf("expected restored event first and latest last, got first=%s last=%s", events[0].ID, events[len(events)-1].ID)
	}
}

func TestEventsAreCopies(t *testing.T) {
	l := newTestLedger(10)
	in := access(0.5)
	in.Context.Stability = model.Stability(0.9)
	ev, _ := l.Record(t0, in)

	events := l.Events()
	events[0].Importance = 0
	*events[0].Context.Stability = 0

	got, _ := l.Get(ev.ID)
	if got.Importance != 0.5 || *got.Context.Stability != 0.9 {
		t.Error("mutating a returned event leaked into the ledger")
	}
}

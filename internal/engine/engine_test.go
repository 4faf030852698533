package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/rcliao/accessmind/internal/config"
	"github.com/rcliao/accessmind/internal/decision"
	"github.com/rcliao/accessmind/internal/logging"
	"github.com/rcliao/accessmind/internal/model"
	"github.com/rcliao/accessmind/internal/vault"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// quietConfig disables every timer so tests drive the engine explicitly.
func quietConfig() *config.Config {
	cfg := config.Default()
	cfg.Memory.ExtractIntervalSec = 0
	cfg.SelfModel.CycleIntervalSec = 0
	cfg.Temporal.IntervalSec = 0
	cfg.Knowledge.GeneralizeIntervalSec = 0
	return cfg
}

// start runs e until the test ends and returns a function that stops it and
// waits for Run to return.
func start(t *testing.T, e *Engine) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	var once sync.Once
	stop = func() {
		once.Do(func() {
			cancel()
			select {
			case err := <-done:
				assert.NoError(t, err)
			case <-time.After(5 * time.Second):
				t.Error("engine did not stop")
			}
		})
	}
	t.Cleanup(stop)
	return stop
}

func newEngine(t *testing.T, cfg *config.Config, opts ...Option) (*Engine, *clock, func()) {
	t.Helper()
	c := newClock()
	opts = append([]Option{WithClock(c.Now), WithRand(rand.New(rand.NewSource(1)))}, opts...)
	e := New(cfg, opts...)
	stop := start(t, e)
	return e, c, stop
}

func interaction() model.EventInput {
	return model.EventInput{Kind: model.KindInteraction, Importance: 0.5, EmotionalWeight: 0.2}
}

func TestFrequentAccessLeadsToDenial(t *testing.T) {
	e, _, _ := newEngine(t, quietConfig())
	ctx := context.Background()
	req := decision.Request{Counterparty: "0xAlice", Category: model.CategoryLocation, Duration: time.Hour}

	var decisions []model.Decision
	for range 15 {
		d, err := e.EvaluateAccess(ctx, req)
		require.NoError(t, err)
		decisions = append(decisions, d)
	}

	for i, d := range decisions[:10] {
		assert.True(t, d.Approved, "decision %d", i)
	}
	for i, d := range decisions[10:] {
		assert.False(t, d.Approved, "decision %d", i+10)
		assert.Equal(t, "Security risk from 0xAlice: Frequent Access", d.Reason)
	}

	ps, err := e.Patterns(ctx)
	require.NoError(t, err)
	require.Len(t, ps, 1)
	assert.Equal(t, "frequent-access-0xAlice", ps[0].ID)
	assert.Equal(t, model.PatternSecurity, ps[0].Category)
	assert.InDelta(t, 0.9, ps[0].Confidence, 1e-9)

	ns, err := e.Notifications(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, ns)
	assert.Equal(t, model.NotifyWarning, ns[0].Level)
	assert.Contains(t, ns[0].Message, "Protection triggered: suspicious pattern")
}

func TestRecordedAccessBurstDeniesIdentity(t *testing.T) {
	e, _, _ := newEngine(t, quietConfig())
	ctx := context.Background()

	for range 15 {
		_, err := e.RecordEvent(ctx, model.EventInput{
			Kind:       model.KindAccess,
			Importance: 0.5,
			Context:    model.EventContext{Counterparty: "P", Category: model.CategoryIdentity},
		})
		require.NoError(t, err)
	}

	ps, err := e.Patterns(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, ps)
	assert.Equal(t, "Frequent Access", ps[0].Name)
	assert.Equal(t, model.PatternSecurity, ps[0].Category)
	assert.GreaterOrEqual(t, ps[0].Confidence, 0.7)

	d, err := e.EvaluateAccess(ctx, decision.Request{Counterparty: "P", Category: model.CategoryIdentity, Duration: time.Hour})
	require.NoError(t, err)
	assert.False(t, d.Approved)
	assert.Zero(t, d.Fee)
}

func TestBreachLocksStorage(t *testing.T) {
	var locks atomic.Int32
	locker := vault.LockerFunc(func(context.Context, string) error {
		locks.Add(1)
		return nil
	})
	e, _, stop := newEngine(t, quietConfig(), WithLocker(locker))
	ctx := context.Background()

	ev, err := e.RecordEvent(ctx, model.EventInput{Kind: model.KindBreach, Importance: 0.9, EmotionalWeight: 0.9})
	require.NoError(t, err)
	require.NotEmpty(t, ev.ID)

	ns, err := e.Notifications(ctx)
	require.NoError(t, err)
	require.Len(t, ns, 1)
	assert.Equal(t, model.NotifyCritical, ns[0].Level)
	assert.Equal(t, "Protection triggered: breach reported ("+ev.ID+")", ns[0].Message)

	stop()
	assert.EqualValues(t, 1, locks.Load())
}

func TestBreachWithoutAutoProtection(t *testing.T) {
	var locks atomic.Int32
	locker := vault.LockerFunc(func(context.Context, string) error {
		locks.Add(1)
		return nil
	})
	e, _, stop := newEngine(t, quietConfig(), WithLocker(locker))
	ctx := context.Background()

	require.NoError(t, e.SetAutoProtection(ctx, false))
	_, err := e.RecordEvent(ctx, model.EventInput{Kind: model.KindBreach, Importance: 0.9})
	require.NoError(t, err)

	ns, err := e.Notifications(ctx)
	require.NoError(t, err)
	require.Len(t, ns, 1)
	assert.Equal(t, "Auto-protection disabled", ns[0].Message)

	stop()
	assert.Zero(t, locks.Load())
}

func TestLockFailureIsLoggedNotReturned(t *testing.T) {
	var buf syncBuffer
	log := logging.New(config.LoggingConfig{Level: "debug", Format: "json"}, &buf)
	locker := vault.LockerFunc(func(context.Context, string) error {
		return errors.New("vault sealed")
	})
	e, _, stop := newEngine(t, quietConfig(), WithLocker(locker), WithLogger(log))

	_, err := e.RecordEvent(context.Background(), model.EventInput{Kind: model.KindBreach, Importance: 0.9})
	require.NoError(t, err)

	stop()
	assert.Contains(t, buf.String(), "storage lock failed")
	assert.Contains(t, buf.String(), "vault sealed")
}

func TestLedgerCap(t *testing.T) {
	cfg := quietConfig()
	cfg.Memory.MaxSize = 5
	e, c, _ := newEngine(t, cfg)
	ctx := context.Background()

	var ids []string
	for i := range 8 {
		in := interaction()
		in.Importance = float64(i+1) / 10
		ev, err := e.RecordEvent(ctx, in)
		require.NoError(t, err)
		ids = append(ids, ev.ID)
		c.Advance(time.Second)
	}

	evs, err := e.Events(ctx)
	require.NoError(t, err)
	require.Len(t, evs, 5)
	for _, ev := range evs {
		assert.GreaterOrEqual(t, ev.Importance, 0.4-1e-9)
	}

	s, err := e.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, s.Events)
	assert.Equal(t, 5, s.EventCap)

	_, ok, err := e.Event(ctx, ids[0])
	require.NoError(t, err)
	assert.False(t, ok, "least important event was evicted")
	last, ok, err := e.Event(ctx, ids[7])
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 0.8, last.Importance, 1e-9)
}

func TestConsolidationSettlesImmediately(t *testing.T) {
	cfg := quietConfig()
	cfg.SelfModel.SettleDelaySec = 0
	e, c, _ := newEngine(t, cfg)
	ctx := context.Background()

	for range 10 {
		_, err := e.RecordEvent(ctx, interaction())
		require.NoError(t, err)
	}
	require.NoError(t, e.Consolidate(ctx))

	s, err := e.SelfModel(ctx)
	require.NoError(t, err)
	assert.False(t, s.Dreaming)
	assert.Equal(t, c.Now(), s.LastCycle)
	assert.InDelta(t, 0.33, s.Awareness, 1e-9)
	assert.InDelta(t, 0.24, s.NarrativeComplexity, 1e-9)
	assert.NotEmpty(t, s.DreamContent)
}

func TestConsolidationSettlesAfterDelay(t *testing.T) {
	cfg := quietConfig()
	cfg.SelfModel.SettleDelaySec = 1
	e, _, _ := newEngine(t, cfg)
	ctx := context.Background()

	for range 10 {
		_, err := e.RecordEvent(ctx, interaction())
		require.NoError(t, err)
	}
	require.NoError(t, e.Consolidate(ctx))

	s, err := e.SelfModel(ctx)
	require.NoError(t, err)
	assert.True(t, s.Dreaming)

	assert.Eventually(t, func() bool {
		s, err := e.SelfModel(ctx)
		return err == nil && !s.Dreaming
	}, 5*time.Second, 50*time.Millisecond)
}

func TestConsolidationBelowMinimum(t *testing.T) {
	e, _, _ := newEngine(t, quietConfig())
	ctx := context.Background()

	_, err := e.RecordEvent(ctx, interaction())
	require.NoError(t, err)
	require.NoError(t, e.Consolidate(ctx))

	s, err := e.SelfModel(ctx)
	require.NoError(t, err)
	assert.False(t, s.Dreaming)
	assert.True(t, s.LastCycle.IsZero())
}

func TestTransitionEnvironment(t *testing.T) {
	e, _, _ := newEngine(t, quietConfig())
	ctx := context.Background()

	rep, err := e.TransitionEnvironment(ctx, "testnet")
	require.NoError(t, err)
	assert.Equal(t, "mainnet", rep.From)
	assert.Equal(t, "testnet", rep.To)

	evs, err := e.Events(ctx)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, model.KindEnvironmentTransition, evs[0].Kind)
	assert.Equal(t, "testnet", evs[0].Context.Environment)
	assert.Equal(t, "mainnet -> testnet", evs[0].Details)

	// Same environment is a no-op.
	_, err = e.TransitionEnvironment(ctx, "testnet")
	require.NoError(t, err)
	evs, err = e.Events(ctx)
	require.NoError(t, err)
	assert.Len(t, evs, 1)

	// New events are stamped with the current environment.
	ev, err := e.RecordEvent(ctx, interaction())
	require.NoError(t, err)
	assert.Equal(t, "testnet", ev.Context.Environment)

	k, err := e.Knowledge(ctx)
	require.NoError(t, err)
	assert.Equal(t, "testnet", k.CurrentEnvironment)
}

func TestNegotiateCounterOffer(t *testing.T) {
	e, _, _ := newEngine(t, quietConfig())
	ctx := context.Background()
	req := decision.Request{Counterparty: "0xBob", Category: model.CategoryLocation, Duration: 24 * time.Hour}

	n, err := e.Negotiate(ctx, req, 1.0)
	require.NoError(t, err)
	assert.False(t, n.Accepted)
	assert.InDelta(t, 3.0, n.FairFee, 1e-9)
	require.NotNil(t, n.CounterOffer)
	assert.InDelta(t, 2.0, n.CounterOffer.Fee, 1e-9)
	assert.Equal(t, 8*time.Hour, n.CounterOffer.Duration)

	ns, err := e.Notifications(ctx)
	require.NoError(t, err)
	require.Len(t, ns, 1)
	assert.Equal(t, "Counter-offer sent to 0xBob: 2.00 for 8h0m0s", ns[0].Message)

	n, err = e.Negotiate(ctx, req, 3.0)
	require.NoError(t, err)
	assert.True(t, n.Accepted)
	assert.Nil(t, n.CounterOffer)

	s, err := e.SelfModel(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 0.22, s.NarrativeComplexity, 1e-9)
}

func TestValidationErrors(t *testing.T) {
	e, _, _ := newEngine(t, quietConfig())
	ctx := context.Background()

	_, err := e.RecordEvent(ctx, model.EventInput{Kind: model.KindAccess, Importance: 2})
	assert.ErrorIs(t, err, model.ErrInvalidInput)

	_, err = e.EvaluateAccess(ctx, decision.Request{Category: model.CategoryLocation})
	assert.ErrorIs(t, err, model.ErrInvalidInput)

	_, err = e.Negotiate(ctx, decision.Request{Counterparty: "x", Category: model.CategoryLocation}, -1)
	assert.ErrorIs(t, err, model.ErrInvalidInput)

	_, err = e.TransitionEnvironment(ctx, "  ")
	assert.ErrorIs(t, err, model.ErrInvalidInput)

	err = e.RegisterEnvironment(ctx, model.EnvironmentProfile{Name: "lab", ProtectionLevel: 3})
	assert.ErrorIs(t, err, model.ErrInvalidInput)

	evs, err := e.Events(ctx)
	require.NoError(t, err)
	assert.Empty(t, evs, "rejected input must not be recorded")
}

func TestQueriesAreIdempotent(t *testing.T) {
	e, _, _ := newEngine(t, quietConfig())
	ctx := context.Background()
	req := decision.Request{Counterparty: "0xAlice", Category: model.CategorySocial, Duration: time.Hour}
	for range 12 {
		_, err := e.EvaluateAccess(ctx, req)
		require.NoError(t, err)
	}

	r1, err := e.Recommendations(ctx)
	require.NoError(t, err)
	r2, err := e.Recommendations(ctx)
	require.NoError(t, err)
	assert.Equal(t, r1, r2)
	assert.Equal(t, "Privacy Audit", r1[len(r1)-1].Title)

	o1, err := e.OptimizeSettings(ctx)
	require.NoError(t, err)
	o2, err := e.OptimizeSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, o1, o2)

	t1, err := e.Threats(ctx)
	require.NoError(t, err)
	t2, err := e.Threats(ctx)
	require.NoError(t, err)
	assert.Equal(t, t1, t2)
}

func TestErrStoppedAfterCancel(t *testing.T) {
	e, _, stop := newEngine(t, quietConfig())
	stop()

	_, err := e.RecordEvent(context.Background(), interaction())
	assert.ErrorIs(t, err, ErrStopped)
	_, err = e.Patterns(context.Background())
	assert.ErrorIs(t, err, ErrStopped)
}

func TestCallBeforeRunWaitsForContext(t *testing.T) {
	e := New(quietConfig())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := e.Patterns(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRunTwice(t *testing.T) {
	e, _, _ := newEngine(t, quietConfig())
	// wait for the first Run to own the actor
	_, err := e.Patterns(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.EqualError(t, e.Run(ctx), "engine already started")
}

func TestForecastTimer(t *testing.T) {
	cfg := quietConfig()
	cfg.Temporal.IntervalSec = 1
	cfg.Temporal.MinEvents = 3
	e, c, _ := newEngine(t, cfg)
	ctx := context.Background()

	for range 3 {
		_, err := e.RecordEvent(ctx, interaction())
		require.NoError(t, err)
	}

	assert.Eventually(t, func() bool {
		ts, err := e.Temporal(ctx)
		return err == nil && ts.UpdatedAt.Equal(c.Now())
	}, 5*time.Second, 50*time.Millisecond)
}

func TestOnDecision(t *testing.T) {
	e, _, _ := newEngine(t, quietConfig())
	var got []model.Decision
	e.OnDecision(func(d model.Decision) { got = append(got, d) })

	d, err := e.EvaluateAccess(context.Background(), decision.Request{Counterparty: "0xCarol", Category: model.CategoryBrowsing})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, d, got[0])
}

type fakeProofs struct {
	ref string
	err error
}

func (f fakeProofs) Lookup(context.Context, string, model.DataCategory) (string, bool, error) {
	return f.ref, f.ref != "", f.err
}

func TestProofRegistryDecoratesDecision(t *testing.T) {
	e, _, _ := newEngine(t, quietConfig(), WithProofRegistry(fakeProofs{ref: "proof-1"}))
	req := decision.Request{Counterparty: "0xDave", Category: model.CategoryIdentity, Duration: time.Hour}

	d, err := e.EvaluateAccess(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, d.Approved)
	assert.True(t, d.ProofSuggested)
	assert.Equal(t, "proof-1", d.ProofRef)
}

func TestProofRegistryFailureIsIgnored(t *testing.T) {
	e, _, _ := newEngine(t, quietConfig(), WithProofRegistry(fakeProofs{err: errors.New("registry down")}))
	req := decision.Request{Counterparty: "0xDave", Category: model.CategoryFinancial}

	d, err := e.EvaluateAccess(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, d.ProofSuggested)
	assert.Empty(t, d.ProofRef)
}

func TestEnhancedMemoryDisabled(t *testing.T) {
	cfg := quietConfig()
	cfg.Features.EnhancedMemory = false
	e, _, _ := newEngine(t, cfg)
	ctx := context.Background()

	ev, err := e.RecordEvent(ctx, interaction())
	require.NoError(t, err)
	assert.Empty(t, ev.ID)

	d, err := e.EvaluateAccess(ctx, decision.Request{Counterparty: "0xErin", Category: model.CategoryPayment})
	require.NoError(t, err)
	assert.True(t, d.Approved)

	evs, err := e.Events(ctx)
	require.NoError(t, err)
	assert.Empty(t, evs)

	n, err := e.ExtractPatterns(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRestore(t *testing.T) {
	e, c, _ := newEngine(t, quietConfig())
	ctx := context.Background()

	journal := []model.Event{
		{ID: "01A", Kind: model.KindAccess, Timestamp: c.Now().Add(-time.Hour), Importance: 0.5},
		{ID: "01B", Kind: model.KindSharing, Timestamp: c.Now().Add(-time.Minute), Importance: 0.5},
	}
	n, err := e.Restore(ctx, journal)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = e.Restore(ctx, journal)
	require.NoError(t, err)
	assert.Zero(t, n)

	ns, err := e.Notifications(ctx)
	require.NoError(t, err)
	assert.Empty(t, ns)
}

func TestAnalyzeRecoversFrequentAccess(t *testing.T) {
	e, c, _ := newEngine(t, quietConfig())
	ctx := context.Background()

	var journal []model.Event
	for i := range 12 {
		journal = append(journal, model.Event{
			ID:         fmt.Sprintf("01J%02d", i),
			Kind:       model.KindAccess,
			Timestamp:  c.Now().Add(-time.Duration(60-i) * time.Minute),
			Importance: 0.5,
			Context:    model.EventContext{Counterparty: "P", Category: model.CategoryIdentity},
		})
	}
	_, err := e.Restore(ctx, journal)
	require.NoError(t, err)

	ps, err := e.Patterns(ctx)
	require.NoError(t, err)
	assert.Empty(t, ps, "restore alone runs no checks")

	require.NoError(t, e.Analyze(ctx))
	ps, err = e.Patterns(ctx)
	require.NoError(t, err)
	var found bool
	for _, p := range ps {
		if p.ID == "frequent-access-P" {
			found = true
			assert.Equal(t, model.PatternSecurity, p.Category)
			assert.Len(t, p.RelatedEventIDs, 12)
		}
	}
	assert.True(t, found, "frequent access pattern recovered from restored events")

	d, err := e.EvaluateAccess(ctx, decision.Request{Counterparty: "P", Category: model.CategoryLocation, Duration: time.Hour})
	require.NoError(t, err)
	assert.False(t, d.Approved)
}

func TestConcurrentUse(t *testing.T) {
	e, _, _ := newEngine(t, quietConfig())
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 20 {
				if _, err := e.RecordEvent(ctx, interaction()); err != nil {
					t.Error(err)
					return
				}
				if _, err := e.Status(ctx); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	evs, err := e.Events(ctx)
	require.NoError(t, err)
	assert.Len(t, evs, 160)
}

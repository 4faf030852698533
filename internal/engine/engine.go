// Package engine owns all analytical state and serializes every operation on
// it through a single actor goroutine. Timers, API calls and collaborator
// callbacks are all submitted to the actor as messages.
package engine

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/rcliao/accessmind/internal/config"
	"github.com/rcliao/accessmind/internal/decision"
	"github.com/rcliao/accessmind/internal/knowledge"
	"github.com/rcliao/accessmind/internal/ledger"
	"github.com/rcliao/accessmind/internal/logging"
	"github.com/rcliao/accessmind/internal/model"
	"github.com/rcliao/accessmind/internal/patterns"
	"github.com/rcliao/accessmind/internal/selfmodel"
	"github.com/rcliao/accessmind/internal/temporal"
	"github.com/rcliao/accessmind/internal/vault"
)

// ErrStopped is returned by calls made after the actor has exited.
var ErrStopped = errors.New("engine stopped")

// NotificationLogSize is the number of notifications kept for queries.
const NotificationLogSize = 50

// Notifier receives user-facing notifications. It is called from the actor
// goroutine and must not block.
type Notifier interface {
	Notify(n model.Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(model.Notification)

func (f NotifierFunc) Notify(n model.Notification) { f(n) }

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithRand seeds event IDs and consolidation sampling.
func WithRand(r *rand.Rand) Option {
	return func(e *Engine) { e.rng = r }
}

// WithLogger sets the base logger.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.log = logging.Component(l, "engine") }
}

// WithLocker sets the storage-lock collaborator.
func WithLocker(l vault.Locker) Option {
	return func(e *Engine) { e.locker = l }
}

// WithProofRegistry sets the proof-registry collaborator.
func WithProofRegistry(r vault.ProofRegistry) Option {
	return func(e *Engine) { e.proofs = r }
}

// WithNotifier sets the notification sink.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithLocation sets the time zone used for weekday and hour bucketing.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) { e.loc = loc }
}

// Engine is the access-control decision engine.
type Engine struct {
	cfg      config.Config
	log      zerolog.Logger
	now      func() time.Time
	rng      *rand.Rand
	loc      *time.Location
	locker   vault.Locker
	proofs   vault.ProofRegistry
	notifier Notifier

	inbox   chan func()
	stopped chan struct{}
	started atomic.Bool
	runCtx  context.Context
	bg      sync.WaitGroup // lock calls and pending settles

	listenersMu sync.Mutex
	listeners   []func(model.Decision)

	// Owned by the actor goroutine.
	ledger        *ledger.Ledger
	registry      *patterns.Registry
	extractor     *patterns.Extractor
	frequentSpan  time.Duration
	self          *selfmodel.Model
	forecaster    *temporal.Forecaster
	temporal      model.TemporalState
	knowledge     *knowledge.Hierarchy
	decider       *decision.Engine
	autoProtect   bool
	notifications []model.Notification
}

// New builds an engine from cfg. The engine does nothing until Run is called.
func New(cfg *config.Config, opts ...Option) *Engine {
	e := &Engine{
		cfg:     *cfg,
		log:     zerolog.Nop(),
		now:     time.Now,
		inbox:   make(chan func()),
		stopped: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.rng == nil {
		e.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	xopts := patterns.OptionsFromConfig(cfg.Memory, cfg.Patterns)

	e.ledger = ledger.New(cfg.Memory.MaxSize, e.rng)
	e.registry = patterns.NewRegistry(cfg.Memory.MaxPatterns)
	e.extractor = patterns.NewExtractor(xopts)
	e.frequentSpan = xopts.FrequentWindow
	e.self = selfmodel.New(cfg.SelfModel, e.rng)
	e.forecaster = temporal.New(cfg.Temporal, e.loc)
	e.knowledge = knowledge.New(cfg.Knowledge)
	e.decider = decision.New(cfg.Decision)
	e.autoProtect = cfg.Memory.AutoProtection
	return e
}

type schedule struct {
	name  string
	every time.Duration
	run   func()
}

func (e *Engine) schedules() []schedule {
	f := e.cfg.Features
	var out []schedule
	if f.EnhancedMemory {
		out = append(out, schedule{"extract", config.Seconds(e.cfg.Memory.ExtractIntervalSec), func() { e.extract() }})
	}
	if f.Consciousness {
		out = append(out, schedule{"consolidate", config.Seconds(e.cfg.SelfModel.CycleIntervalSec), e.consolidate})
	}
	if f.TemporalConsciousness {
		out = append(out, schedule{"forecast", config.Seconds(e.cfg.Temporal.IntervalSec), e.forecast})
	}
	if f.CrossEnvironmentKnowledge {
		out = append(out, schedule{"generalize", config.Seconds(e.cfg.Knowledge.GeneralizeIntervalSec), func() { e.generalize() }})
	}
	return out
}

// Run starts the actor and the periodic schedules and blocks until ctx is
// cancelled. A schedule with a non-positive interval is disabled. Run waits
// for in-flight lock calls before returning and may be called only once.
func (e *Engine) Run(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return errors.New("engine already started")
	}
	e.runCtx = ctx

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.loop(gctx) })
	timers := 0
	for _, s := range e.schedules() {
		if s.every <= 0 {
			e.log.Debug().Str("schedule", s.name).Msg("timer disabled")
			continue
		}
		timers++
		g.Go(func() error { return e.tick(gctx, s) })
	}
	e.log.Info().Int("timers", timers).Str("environment", e.cfg.Knowledge.InitialEnvironment).Msg("engine started")

	err := g.Wait()
	e.bg.Wait()
	e.log.Info().Msg("engine stopped")
	return err
}

func (e *Engine) loop(ctx context.Context) error {
	defer close(e.stopped)
	for {
		select {
		case fn := <-e.inbox:
			fn()
		case <-ctx.Done():
			return nil
		}
	}
}

func (e *Engine) tick(ctx context.Context, s schedule) error {
	t := time.NewTicker(s.every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if err := e.do(ctx, s.run); err != nil {
				return nil
			}
		}
	}
}

// do runs fn on the actor and waits for it. Calls made before Run block until
// the actor starts or ctx ends.
func (e *Engine) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	select {
	case e.inbox <- func() { defer close(done); fn() }:
	case <-e.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	<-done
	return nil
}

// OnDecision registers fn to receive every access decision. Listeners run on
// the caller's goroutine after the decision is made.
func (e *Engine) OnDecision(fn func(model.Decision)) {
	e.listenersMu.Lock()
	defer e.listenersMu.Unlock()
	e.listeners = append(e.listeners, fn)
}

func (e *Engine) emit(d model.Decision) {
	e.listenersMu.Lock()
	ls := make([]func(model.Decision), len(e.listeners))
	copy(ls, e.listeners)
	e.listenersMu.Unlock()
	for _, fn := range ls {
		fn(d)
	}
}

package engine

import (
	"fmt"
	"time"

	"github.com/rcliao/accessmind/internal/config"
	"github.com/rcliao/accessmind/internal/logging"
	"github.com/rcliao/accessmind/internal/model"
	"github.com/rcliao/accessmind/internal/patterns"
	"github.com/rcliao/accessmind/internal/vault"
)

// Everything in this file runs on the actor goroutine.

// record appends in to the ledger and runs the immediate checks. It reports
// false when event recording is disabled.
func (e *Engine) record(in model.EventInput) (model.Event, bool) {
	if !e.cfg.Features.EnhancedMemory {
		return model.Event{}, false
	}
	if in.Context.Environment == "" {
		in.Context.Environment = e.knowledge.Current()
	}
	now := e.now()
	ev, evicted := e.ledger.Record(now, in)
	if evicted {
		e.log.Debug().Str("id", ev.ID).Float64("importance", ev.Importance).Msg("event evicted on arrival")
	}

	if cp := ev.Context.Counterparty; ev.Kind.IsAccessAttempt() && cp != "" {
		recent := e.ledger.Since(now.Add(-e.frequentSpan))
		if p, ok := e.extractor.FrequentAccess(recent, cp, now); ok {
			e.addPattern(now, p)
		}
	}
	if ev.Kind == model.KindBreach {
		e.protect(now, true, fmt.Sprintf("breach reported (%s)", ev.ID))
	}
	return ev, true
}

// addPattern merges or inserts p. Inserts feed the self-model, the
// knowledge hierarchy and, for security patterns, the protection trigger.
func (e *Engine) addPattern(now time.Time, p model.Pattern) bool {
	inserted, err := e.registry.Add(p)
	if err != nil {
		e.log.Error().Err(err).Str("pattern", p.ID).Msg("pattern rejected")
		return false
	}
	if !inserted {
		if merged, ok := e.registry.Get(p.ID); ok {
			e.log.Debug().Str("pattern", p.ID).Int("detections", merged.DetectionCount).Float64("confidence", merged.Confidence).Msg("pattern reinforced")
		}
		return false
	}
	e.log.Debug().Str("pattern", p.ID).Str("category", p.Category.String()).Float64("confidence", p.Confidence).Msg("pattern detected")
	if e.cfg.Features.Consciousness {
		e.self.PatternAdded()
	}
	if e.cfg.Features.CrossEnvironmentKnowledge {
		e.knowledge.Ingest(now, p)
	}
	if p.Category == model.PatternSecurity {
		e.protect(now, false, fmt.Sprintf("suspicious pattern: %s", p.Description))
	}
	return true
}

func (e *Engine) extract() int {
	if !e.cfg.Features.EnhancedMemory {
		return 0
	}
	now := e.now()
	added := 0
	for _, p := range e.extractor.Extract(e.ledger.Events(), now) {
		if e.addPattern(now, p) {
			added++
		}
	}
	if e.cfg.Features.Consciousness {
		e.self.Integrate(e.registry.Len())
	}
	if added > 0 {
		e.log.Info().Int("new", added).Int("patterns", e.registry.Len()).Msg("patterns extracted")
	}
	return added
}

// recheckFrequent runs the immediate frequent-access check once per recent
// counterparty. Restored events never went through record, so this is how a
// rebuilt engine recovers those patterns.
func (e *Engine) recheckFrequent() int {
	if !e.cfg.Features.EnhancedMemory {
		return 0
	}
	now := e.now()
	recent := e.ledger.Since(now.Add(-e.frequentSpan))
	seen := make(map[string]bool)
	added := 0
	for _, ev := range recent {
		cp := ev.Context.Counterparty
		if cp == "" || seen[cp] || !ev.Kind.IsAccessAttempt() {
			continue
		}
		seen[cp] = true
		if p, ok := e.extractor.FrequentAccess(recent, cp, now); ok && e.addPattern(now, p) {
			added++
		}
	}
	return added
}

func (e *Engine) consolidate() {
	if !e.cfg.Features.Consciousness {
		return
	}
	now := e.now()
	boosts, ok := e.self.BeginCycle(now, e.ledger.Events(), e.registry.List())
	if !ok {
		return
	}
	boosted := e.ledger.Boost(boosts)
	e.log.Debug().Int("boosted", boosted).Msg("consolidation cycle started")

	delay := config.Seconds(e.cfg.SelfModel.SettleDelaySec)
	if delay == 0 {
		e.settle()
		return
	}
	e.bg.Add(1)
	go func() {
		defer e.bg.Done()
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-t.C:
			if err := e.do(e.runCtx, e.settle); err != nil {
				e.log.Debug().Err(err).Msg("settle dropped")
			}
		case <-e.stopped:
		}
	}()
}

func (e *Engine) settle() {
	e.self.Settle(e.now(), e.ledger.Events(), e.registry.List())
	e.log.Debug().Msg("consolidation cycle settled")
}

func (e *Engine) forecast() {
	if !e.cfg.Features.TemporalConsciousness {
		return
	}
	threats := e.decider.AnalyzeThreats(e.registry.List())
	if state, ok := e.forecaster.Forecast(e.now(), e.ledger.Events(), threats); ok {
		e.temporal = state
	}
}

func (e *Engine) generalize() (mid, high int) {
	if !e.cfg.Features.CrossEnvironmentKnowledge {
		return 0, 0
	}
	mid, high = e.knowledge.Generalize()
	if mid+high > 0 {
		e.log.Debug().Int("mid", mid).Int("high", high).Msg("knowledge generalized")
	}
	return mid, high
}

// protect is the protection trigger. A breach notifies and locks storage in
// the background; anything else only notifies.
func (e *Engine) protect(now time.Time, breach bool, reason string) {
	if !e.autoProtect {
		return
	}
	level := model.NotifyWarning
	if breach {
		level = model.NotifyCritical
	}
	e.notify(now, "security", level, "Protection triggered: "+reason)
	if breach {
		e.lock(reason)
	}
}

func (e *Engine) lock(reason string) {
	if e.locker == nil {
		e.log.Warn().Err(vault.ErrDisabled).Msg("storage lock skipped")
		return
	}
	timeout := config.Seconds(e.cfg.Vault.TimeoutSec)
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	e.bg.Add(1)
	go func() {
		defer e.bg.Done()
		ctx, cancel := logging.DetachWithTimeout(e.runCtx, timeout)
		defer cancel()
		if err := e.locker.Lock(ctx, reason); err != nil {
			e.log.Warn().Err(err).Msg("storage lock failed")
			return
		}
		e.log.Info().Str("reason", reason).Msg("storage locked")
	}()
}

func (e *Engine) notify(now time.Time, topic string, level model.NotificationLevel, msg string) {
	n := model.Notification{Topic: topic, Level: level, Message: msg, At: now}
	e.notifications = append(e.notifications, n)
	if over := len(e.notifications) - NotificationLogSize; over > 0 {
		e.notifications = append(e.notifications[:0], e.notifications[over:]...)
	}
	if e.notifier != nil {
		e.notifier.Notify(n)
	}
	e.log.Info().Str("topic", topic).Str("level", string(level)).Msg(msg)
}

func counterOfferMessage(cp string, c *model.CounterOffer) string {
	return fmt.Sprintf("Counter-offer sent to %s: %.2f for %s", patterns.ShortParty(cp), c.Fee, c.Duration)
}

package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rcliao/accessmind/internal/config"
	"github.com/rcliao/accessmind/internal/decision"
	"github.com/rcliao/accessmind/internal/logging"
	"github.com/rcliao/accessmind/internal/model"
)

// Transition events mark the instability of an environment switch.
const (
	transitionImportance = 0.8
	transitionStability  = 0.3
)

// RecordEvent validates in and appends it to the ledger. The returned event
// has an empty ID when event recording is disabled.
func (e *Engine) RecordEvent(ctx context.Context, in model.EventInput) (model.Event, error) {
	if err := in.Validate(); err != nil {
		return model.Event{}, err
	}
	var ev model.Event
	err := e.do(ctx, func() { ev, _ = e.record(in) })
	return ev, err
}

// Restore re-ingests journaled events without running the immediate checks.
func (e *Engine) Restore(ctx context.Context, events []model.Event) (int, error) {
	var n int
	err := e.do(ctx, func() { n = e.ledger.Restore(events) })
	return n, err
}

// SetAutoProtection enables or disables the protection trigger.
func (e *Engine) SetAutoProtection(ctx context.Context, enabled bool) error {
	return e.do(ctx, func() {
		e.autoProtect = enabled
		state := "disabled"
		if enabled {
			state = "enabled"
		}
		e.notify(e.now(), "security", model.NotifyInfo, "Auto-protection "+state)
	})
}

// EvaluateAccess records the request and decides it. Sensitive-category
// denials are decorated with an existing proof reference when a proof
// registry is configured.
func (e *Engine) EvaluateAccess(ctx context.Context, req decision.Request) (model.Decision, error) {
	if err := req.Validate(); err != nil {
		return model.Decision{}, err
	}
	var d model.Decision
	err := e.do(ctx, func() {
		e.record(req.Event())
		d = e.decider.Evaluate(req, e.registry.List())
		e.decided()
	})
	if err != nil {
		return model.Decision{}, err
	}
	if d.ProofSuggested {
		d.ProofRef = e.lookupProof(ctx, req)
	}
	e.emit(d)
	return d, nil
}

// Negotiate records the request, decides it and weighs the offered fee.
func (e *Engine) Negotiate(ctx context.Context, req decision.Request, offered float64) (model.Negotiation, error) {
	if err := req.Validate(); err != nil {
		return model.Negotiation{}, err
	}
	if err := decision.ValidateOffer(offered); err != nil {
		return model.Negotiation{}, err
	}
	var n model.Negotiation
	err := e.do(ctx, func() {
		e.record(req.Event())
		n = e.decider.Negotiate(req, offered, e.registry.List())
		e.decided()
		if n.CounterOffer != nil {
			e.notify(e.now(), "negotiation", model.NotifyInfo, counterOfferMessage(req.Counterparty, n.CounterOffer))
		}
	})
	if err != nil {
		return model.Negotiation{}, err
	}
	e.emit(n.Decision)
	return n, nil
}

func (e *Engine) decided() {
	if e.cfg.Features.Consciousness {
		e.self.AccessDecided()
	}
}

func (e *Engine) lookupProof(ctx context.Context, req decision.Request) string {
	if e.proofs == nil {
		return ""
	}
	lctx, cancel := context.WithTimeout(ctx, max(config.Seconds(e.cfg.Vault.TimeoutSec), time.Second))
	defer cancel()
	ref, found, err := e.proofs.Lookup(lctx, req.Counterparty, req.Category)
	if err != nil {
		e.log.Warn().Err(err).Str("counterparty", req.Counterparty).Msg("proof lookup failed")
		return ""
	}
	if !found {
		return ""
	}
	return ref
}

// TransitionEnvironment switches the current environment and records the
// transition.
func (e *Engine) TransitionEnvironment(ctx context.Context, name string) (model.TransitionReport, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > model.MaxEnvironmentBytes {
		return model.TransitionReport{}, fmt.Errorf("%w: environment name must be 1..%d bytes", model.ErrInvalidInput, model.MaxEnvironmentBytes)
	}
	var rep model.TransitionReport
	err := e.do(ctx, func() {
		now := e.now()
		rep = e.knowledge.Transition(now, name)
		if rep.From == rep.To {
			return
		}
		e.record(model.EventInput{
			Kind:            model.KindEnvironmentTransition,
			Importance:      transitionImportance,
			EmotionalWeight: 0.5,
			Details:         fmt.Sprintf("%s -> %s", rep.From, rep.To),
			Context:         model.EventContext{Environment: rep.To, Stability: model.Stability(transitionStability)},
		})
		e.notify(now, "environment", model.NotifyInfo,
			fmt.Sprintf("Transitioned from %s to %s (similarity %.2f)", rep.From, rep.To, rep.Similarity))
	})
	return rep, err
}

// RegisterEnvironment creates or replaces an environment profile.
func (e *Engine) RegisterEnvironment(ctx context.Context, p model.EnvironmentProfile) error {
	var rerr error
	if err := e.do(ctx, func() { rerr = e.knowledge.RegisterEnvironment(e.now(), p) }); err != nil {
		return err
	}
	return rerr
}

// ExtractPatterns runs one extractor pass and returns the number of new patterns.
func (e *Engine) ExtractPatterns(ctx context.Context) (int, error) {
	var n int
	err := e.do(ctx, func() { n = e.extract() })
	return n, err
}

// Consolidate runs one consolidation cycle.
func (e *Engine) Consolidate(ctx context.Context) error {
	return e.do(ctx, e.consolidate)
}

// Forecast recomputes the temporal state.
func (e *Engine) Forecast(ctx context.Context) error {
	return e.do(ctx, e.forecast)
}

// Generalize runs one knowledge generalization pass.
func (e *Engine) Generalize(ctx context.Context) (mid, high int, err error) {
	err = e.do(ctx, func() { mid, high = e.generalize() })
	return mid, high, err
}

// Analyze runs every enabled analysis once, in dependency order.
func (e *Engine) Analyze(ctx context.Context) error {
	return e.do(ctx, func() {
		e.recheckFrequent()
		e.extract()
		e.forecast()
		e.generalize()
	})
}

// --- queries ---

// SelfModel returns the self-model snapshot.
func (e *Engine) SelfModel(ctx context.Context) (model.SelfModel, error) {
	var s model.SelfModel
	err := e.do(ctx, func() { s = e.self.Snapshot() })
	return s, err
}

// Patterns returns the registry, highest confidence first.
func (e *Engine) Patterns(ctx context.Context) ([]model.Pattern, error) {
	var ps []model.Pattern
	err := e.do(ctx, func() { ps = e.registry.List() })
	return ps, err
}

// Temporal returns the last forecast.
func (e *Engine) Temporal(ctx context.Context) (model.TemporalState, error) {
	var t model.TemporalState
	err := e.do(ctx, func() { t = e.temporal.Clone() })
	return t, err
}

// Knowledge returns the knowledge hierarchy summary.
func (e *Engine) Knowledge(ctx context.Context) (model.KnowledgeSummary, error) {
	var k model.KnowledgeSummary
	err := e.do(ctx, func() { k = e.knowledge.Summary() })
	return k, err
}

// LowLevelKnowledge returns every per-environment knowledge entry.
func (e *Engine) LowLevelKnowledge(ctx context.Context) ([]model.LowLevelEntry, error) {
	var out []model.LowLevelEntry
	err := e.do(ctx, func() { out = e.knowledge.LowLevel() })
	return out, err
}

// Recommendations returns the ranked recommendation list.
func (e *Engine) Recommendations(ctx context.Context) ([]model.Recommendation, error) {
	var recs []model.Recommendation
	err := e.do(ctx, func() { recs = e.decider.Recommend(e.registry.List()) })
	return recs, err
}

// Threats returns the current threat list.
func (e *Engine) Threats(ctx context.Context) ([]model.Threat, error) {
	var ts []model.Threat
	err := e.do(ctx, func() { ts = e.decider.AnalyzeThreats(e.registry.List()) })
	return ts, err
}

// OptimizeSettings returns the optimized policy bundle.
func (e *Engine) OptimizeSettings(ctx context.Context) (model.PolicyBundle, error) {
	var b model.PolicyBundle
	err := e.do(ctx, func() { b = e.decider.Optimize(e.registry.List()) })
	return b, err
}

// Events returns the ledger, oldest first.
func (e *Engine) Events(ctx context.Context) ([]model.Event, error) {
	var evs []model.Event
	err := e.do(ctx, func() { evs = e.ledger.Events() })
	return evs, err
}

// Event returns the retained event with id. ok is false once it has been
// evicted or was never recorded.
func (e *Engine) Event(ctx context.Context, id string) (ev model.Event, ok bool, err error) {
	err = e.do(ctx, func() { ev, ok = e.ledger.Get(id) })
	return ev, ok, err
}

// Notifications returns the most recent notifications, oldest first.
func (e *Engine) Notifications(ctx context.Context) ([]model.Notification, error) {
	var ns []model.Notification
	err := e.do(ctx, func() { ns = append([]model.Notification(nil), e.notifications...) })
	return ns, err
}

// Status is a one-shot overview of the engine.
type Status struct {
	Environment    string               `json:"environment"`
	AutoProtection bool                 `json:"auto_protection"`
	Events         int                  `json:"events"`
	EventCap       int                  `json:"event_cap"`
	Patterns       int                  `json:"patterns"`
	Threats        int                  `json:"threats"`
	SelfModel      model.SelfModel      `json:"self_model"`
	Features       config.FeatureConfig `json:"features"`
	ForecastAt     time.Time            `json:"forecast_at"`
}

// Status returns an overview snapshot.
func (e *Engine) Status(ctx context.Context) (Status, error) {
	var s Status
	err := e.do(ctx, func() {
		s = Status{
			Environment:    e.knowledge.Current(),
			AutoProtection: e.autoProtect,
			Events:         e.ledger.Len(),
			EventCap:       e.ledger.Cap(),
			Patterns:       e.registry.Len(),
			Threats:        len(e.decider.AnalyzeThreats(e.registry.List())),
			SelfModel:      e.self.Snapshot(),
			Features:       e.cfg.Features,
			ForecastAt:     e.temporal.UpdatedAt,
		}
	})
	return s, err
}

// LogStatus writes a one-line status summary. Serve mode calls it
// periodically when visualization is enabled.
func (e *Engine) LogStatus(ctx context.Context) error {
	s, err := e.Status(ctx)
	if err != nil {
		return err
	}
	l := logging.Component(e.log, "status")
	l.Info().
		Str("environment", s.Environment).
		Int("events", s.Events).
		Int("patterns", s.Patterns).
		Int("threats", s.Threats).
		Float64("awareness", s.SelfModel.Awareness).
		Bool("dreaming", s.SelfModel.Dreaming).
		Msg("status")
	return nil
}

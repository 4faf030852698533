// Package selfmodel tracks the engine's self-assessment scalars and runs the
// consolidation cycle that re-weights remembered events.
package selfmodel

import (
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/rcliao/accessmind/internal/config"
	"github.com/rcliao/accessmind/internal/model"
	"github.com/rcliao/accessmind/internal/patterns"
)

// Scalar ceiling and step sizes.
const (
	Ceiling = 0.9

	awarenessPerPattern   = 0.02
	imaginationPerPattern = 0.01
	narrativePerDecision  = 0.01
	awarenessPerCycle     = 0.03
	narrativePerCycle     = 0.04

	integrationBase       = 0.2
	integrationPerPattern = 0.02

	dreamMemories        = 5
	dreamPatterns        = 3
	dreamMinConfidence   = 0.7
	boostFactor          = 0.2
	insightCount         = 3
	insightMinConfidence = 0.7
	reflectionWindow     = 24 * time.Hour
)

// Initial is the state of a freshly started engine.
func Initial() model.SelfModel {
	return model.SelfModel{
		Awareness:           0.3,
		Imagination:         0.4,
		NarrativeComplexity: 0.2,
		Integration:         0.3,
	}
}

// Model owns a SelfModel and applies the update rules to it. It is not safe
// for concurrent use.
type Model struct {
	cfg   config.SelfModelConfig
	rng   *rand.Rand
	state model.SelfModel
}

// New creates a model in its initial state. rng drives memory sampling during
// consolidation; nil uses a time-seeded source.
func New(cfg config.SelfModelConfig, rng *rand.Rand) *Model {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Model{cfg: cfg, rng: rng, state: Initial()}
}

// Snapshot returns a deep copy of the current state.
func (m *Model) Snapshot() model.SelfModel { return m.state.Clone() }

// PatternAdded applies the new-pattern increments. Merges into an existing
// pattern must not call it.
func (m *Model) PatternAdded() {
	m.state.Awareness = bump(m.state.Awareness, awarenessPerPattern)
	if m.cfg.ImaginationEnabled {
		m.state.Imagination = bump(m.state.Imagination, imaginationPerPattern)
	}
}

// AccessDecided applies the access-decision increment.
func (m *Model) AccessDecided() {
	if m.cfg.NarrativeEnabled {
		m.state.NarrativeComplexity = bump(m.state.NarrativeComplexity, narrativePerDecision)
	}
}

// Integrate recomputes integration from the registry size after an extractor pass.
func (m *Model) Integrate(patternCount int) {
	m.state.Integration = min(Ceiling, integrationBase+float64(patternCount)*integrationPerPattern)
}

// BeginCycle starts a consolidation cycle. It samples events and strong
// patterns into the dream content and returns the importance boost for every
// event referenced by a pattern, keyed by event id. ok is false when dreaming
// is disabled, the ledger is too small, or a cycle is already in progress.
func (m *Model) BeginCycle(now time.Time, events []model.Event, patterns []model.Pattern) (boosts map[string]float64, ok bool) {
	if !m.cfg.DreamEnabled || m.state.Dreaming || len(events) < m.cfg.MinEvents {
		return nil, false
	}
	m.state.Dreaming = true
	m.state.LastCycle = now
	m.state.DreamContent = m.dream(events, patterns)
	return Boosts(events, patterns), true
}

func (m *Model) dream(events []model.Event, ps []model.Pattern) string {
	picks := m.rng.Perm(len(events))
	if len(picks) > dreamMemories {
		picks = picks[:dreamMemories]
	}
	var b strings.Builder
	b.WriteString("memories:")
	for _, i := range picks {
		ev := events[i]
		fmt.Fprintf(&b, " %s", ev.Kind)
		if ev.Context.Counterparty != "" {
			fmt.Fprintf(&b, " by %s", patterns.ShortParty(ev.Context.Counterparty))
		}
		if ev.Context.Category != model.CategoryNone {
			fmt.Fprintf(&b, " on %s", ev.Context.Category)
		}
		b.WriteString(";")
	}

	b.WriteString(" patterns:")
	n := 0
	for _, p := range ps {
		if n == dreamPatterns {
			break
		}
		if p.Confidence > dreamMinConfidence {
			fmt.Fprintf(&b, " %s (%.2f);", p.Name, p.Confidence)
			n++
		}
	}
	return strings.TrimSuffix(b.String(), ";")
}

// Settle ends the cycle started by BeginCycle: it clears the dreaming flag,
// applies the post-cycle increments and, when enabled and enough patterns
// exist, replaces the reflection.
func (m *Model) Settle(now time.Time, events []model.Event, patterns []model.Pattern) {
	if !m.state.Dreaming {
		return
	}
	m.state.Dreaming = false
	m.state.Awareness = bump(m.state.Awareness, awarenessPerCycle)
	m.state.NarrativeComplexity = bump(m.state.NarrativeComplexity, narrativePerCycle)
	if m.cfg.ReflectionEnabled && len(patterns) >= m.cfg.MinReflectPatterns {
		r := Reflect(now, events, patterns)
		m.state.Reflection = &r
	}
}

// Boosts maps each event referenced by at least one pattern to its importance
// increase: the mean confidence of the referencing patterns scaled by 0.2.
func Boosts(events []model.Event, patterns []model.Pattern) map[string]float64 {
	sum := map[string]float64{}
	count := map[string]int{}
	for _, p := range patterns {
		for _, id := range p.RelatedEventIDs {
			sum[id] += p.Confidence
			count[id]++
		}
	}
	out := make(map[string]float64, len(sum))
	for _, ev := range events {
		if n := count[ev.ID]; n > 0 {
			out[ev.ID] = sum[ev.ID] / float64(n) * boostFactor
		}
	}
	return out
}

// Reflect summarizes the last 24h of events and the strongest patterns.
func Reflect(now time.Time, events []model.Event, patterns []model.Pattern) model.Reflection {
	kind, found := dominantKind(now, events)
	r := model.Reflection{Focus: "overall privacy"}
	if found {
		r.FocusKind = kind
		r.Focus = focusLabel(kind)
	}

	strong := make([]model.Pattern, 0, len(patterns))
	for _, p := range patterns {
		if p.Confidence > insightMinConfidence {
			strong = append(strong, p)
		}
	}
	sort.SliceStable(strong, func(i, j int) bool { return strong[i].Confidence > strong[j].Confidence })
	if len(strong) > insightCount {
		strong = strong[:insightCount]
	}

	var total float64
	for _, p := range strong {
		insight := p.ActionRecommendation
		if insight == "" {
			insight = p.Description
		}
		r.Insights = append(r.Insights, insight)
		r.ActionPlan = append(r.ActionPlan, actionOf(insight))
		total += p.Confidence
	}
	mean := 0.0
	if len(strong) > 0 {
		mean = total / float64(len(strong))
	}
	r.Confidence = min(Ceiling, 0.4+mean*0.5)
	return r
}

func dominantKind(now time.Time, events []model.Event) (model.EventKind, bool) {
	cutoff := now.Add(-reflectionWindow)
	counts := make([]int, len(model.EventKinds()))
	found := false
	for _, ev := range events {
		if ev.Timestamp.After(cutoff) && ev.Kind.Valid() {
			counts[ev.Kind]++
			found = true
		}
	}
	if !found {
		return 0, false
	}
	best := 0
	for k, c := range counts {
		if c > counts[best] {
			best = k
		}
	}
	return model.EventKind(best), true
}

func focusLabel(k model.EventKind) string {
	switch k {
	case model.KindRequest, model.KindAccess, model.KindSharing:
		return "data access trends"
	case model.KindStakeAction, model.KindPoolContribution:
		return "staking optimization"
	case model.KindDisputeAction:
		return "dispute resolution"
	case model.KindBreach, model.KindThreatDetected:
		return "security posture"
	default:
		return "overall privacy"
	}
}

// actionOf keeps the imperative part of "Topic: do something".
func actionOf(insight string) string {
	if _, after, ok := strings.Cut(insight, ": "); ok {
		return after
	}
	return insight
}

func bump(v, step float64) float64 {
	return min(Ceiling, v+step)
}

// Package knowledge maintains the three-level knowledge hierarchy: patterns
// observed per environment, patterns generalized across environments, and
// universal principles.
package knowledge

import (
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/rcliao/accessmind/internal/config"
	"github.com/rcliao/accessmind/internal/model"
)

const (
	// DefaultSimilarity is used when a profile is missing or both feature sets are empty.
	DefaultSimilarity = 0.5
	// SeedProtection is the protection level of a profile seeded under uncertainty.
	SeedProtection = 0.7
	// BaseProtection is the protection level of a profile created by ingestion.
	BaseProtection = 0.5

	deleteBelow        = 0.2
	minEnvironments    = 2
	minInstances       = 3
	minMidPerCategory  = 2
	generalizeDiscount = 0.9
)

type lowKey struct {
	env, pattern string
}

// Hierarchy is the knowledge store. It is not safe for concurrent use.
type Hierarchy struct {
	cfg        config.KnowledgeConfig
	current    string
	similarity float64
	profiles   map[string]*model.EnvironmentProfile
	low        map[lowKey]*model.LowLevelEntry
	mid        map[string]*model.MidLevelEntry
	high       map[model.PatternCategory]*model.Principle
}

// New creates a hierarchy positioned in the configured initial environment.
func New(cfg config.KnowledgeConfig) *Hierarchy {
	return &Hierarchy{
		cfg:        cfg,
		current:    cfg.InitialEnvironment,
		similarity: 1,
		profiles:   make(map[string]*model.EnvironmentProfile),
		low:        make(map[lowKey]*model.LowLevelEntry),
		mid:        make(map[string]*model.MidLevelEntry),
		high:       make(map[model.PatternCategory]*model.Principle),
	}
}

// Current returns the current environment name.
func (h *Hierarchy) Current() string { return h.current }

// Ingest records a newly inserted pattern as a low-level entry of the current
// environment and folds its features into that environment's profile.
func (h *Hierarchy) Ingest(now time.Time, p model.Pattern) {
	h.low[lowKey{h.current, p.ID}] = &model.LowLevelEntry{
		Environment: h.current,
		PatternID:   p.ID,
		Description: p.Description,
		Key:         GeneralizeKey(p.Description, p.Counterparty),
		Category:    p.Category,
		Confidence:  p.Confidence,
	}

	prof := h.profile(now, h.current)
	feature := FeatureKey(p)
	prof.Features[feature] = max(prof.Features[feature], p.Confidence)
	if p.Category == model.PatternSecurity && !slices.Contains(prof.Hazards, p.Name) {
		prof.Hazards = append(prof.Hazards, p.Name)
	}
	prof.UpdatedAt = now
}

func (h *Hierarchy) profile(now time.Time, name string) *model.EnvironmentProfile {
	prof, ok := h.profiles[name]
	if !ok {
		prof = &model.EnvironmentProfile{
			Name:            name,
			Features:        map[string]float64{},
			ProtectionLevel: BaseProtection,
			UpdatedAt:       now,
		}
		h.profiles[name] = prof
	}
	return prof
}

// FeatureKey is the profile feature contributed by a pattern.
func FeatureKey(p model.Pattern) string {
	if p.DataCategory == model.CategoryNone {
		return p.Category.String()
	}
	return p.Category.String() + ":" + p.DataCategory.String()
}

// RegisterEnvironment creates or replaces a profile.
func (h *Hierarchy) RegisterEnvironment(now time.Time, p model.EnvironmentProfile) error {
	name := strings.TrimSpace(p.Name)
	if name == "" || len(name) > model.MaxEnvironmentBytes {
		return fmt.Errorf("environment name must be 1..%d bytes: %w", model.MaxEnvironmentBytes, model.ErrInvalidInput)
	}
	if p.ProtectionLevel < 0 || p.ProtectionLevel > 1 {
		return fmt.Errorf("protection level %v outside [0,1]: %w", p.ProtectionLevel, model.ErrInvalidInput)
	}
	for k, v := range p.Features {
		if v < 0 || v > 1 {
			return fmt.Errorf("feature %q weight %v outside [0,1]: %w", k, v, model.ErrInvalidInput)
		}
	}
	p = p.Clone()
	p.Name = name
	if p.Features == nil {
		p.Features = map[string]float64{}
	}
	p.UpdatedAt = now
	h.profiles[name] = &p
	return nil
}

// Similarity is the Jaccard ratio of the two environments' feature keys.
func (h *Hierarchy) Similarity(a, b string) float64 {
	pa, okA := h.profiles[a]
	pb, okB := h.profiles[b]
	if !okA || !okB {
		return DefaultSimilarity
	}
	union := len(pa.Features)
	shared := 0
	for k := range pb.Features {
		if _, ok := pa.Features[k]; ok {
			shared++
		} else {
			union++
		}
	}
	if union == 0 {
		return DefaultSimilarity
	}
	return float64(shared) / float64(union)
}

// Transition switches the current environment. When the target is dissimilar
// every low-level entry of other environments decays by the similarity and
// entries that fall below 0.2 are dropped.
func (h *Hierarchy) Transition(now time.Time, to string) model.TransitionReport {
	rep := model.TransitionReport{From: h.current, To: to, Similarity: 1}
	if to == h.current {
		return rep
	}
	rep.Similarity = h.Similarity(h.current, to)

	if rep.Similarity < h.cfg.TransitionThreshold {
		for k, e := range h.low {
			if e.Environment == to {
				continue
			}
			e.Confidence *= rep.Similarity
			rep.Decayed++
			if e.Confidence < deleteBelow {
				delete(h.low, k)
				rep.Deleted++
			}
		}
		if _, ok := h.profiles[to]; !ok && h.cfg.PredictiveAdaptation {
			h.seed(now, to)
			rep.Seeded = true
		}
	}

	h.current = to
	h.similarity = rep.Similarity
	return rep
}

func (h *Hierarchy) seed(now time.Time, name string) {
	prof := h.profile(now, name)
	prof.ProtectionLevel = SeedProtection
	for cat, pr := range h.high {
		prof.Features[cat.String()] = pr.Confidence
	}
}

// Generalize promotes low-level groups seen in enough environments to
// mid-level entries, and categories with enough mid-level entries to
// principles. It returns the number of entries upserted at each level.
func (h *Hierarchy) Generalize() (mid, high int) {
	groups := map[string][]*model.LowLevelEntry{}
	for _, e := range h.low {
		groups[e.Key] = append(groups[e.Key], e)
	}
	for _, key := range slices.Sorted(maps.Keys(groups)) {
		entries := groups[key]
		if len(entries) < minInstances {
			continue
		}
		envs := map[string]bool{}
		var sum float64
		for _, e := range entries {
			envs[e.Environment] = true
			sum += e.Confidence
		}
		mean := sum / float64(len(entries))
		if len(envs) < minEnvironments || mean < h.cfg.AbstractionThreshold {
			continue
		}
		h.mid[key] = &model.MidLevelEntry{
			Key:          key,
			Pattern:      strings.ReplaceAll(key, "-", " "),
			Category:     majority(entries),
			Confidence:   mean * generalizeDiscount,
			Environments: slices.Sorted(maps.Keys(envs)),
			Instances:    len(entries),
		}
		mid++
	}

	byCategory := map[model.PatternCategory][]*model.MidLevelEntry{}
	for _, m := range h.mid {
		byCategory[m.Category] = append(byCategory[m.Category], m)
	}
	for cat, entries := range byCategory {
		if len(entries) < minMidPerCategory {
			continue
		}
		var sum float64
		for _, m := range entries {
			sum += m.Confidence
		}
		h.high[cat] = &model.Principle{
			Key:        cat.String(),
			Principle:  principleText(cat),
			Category:   cat,
			Confidence: sum / float64(len(entries)) * generalizeDiscount,
		}
		high++
	}
	return mid, high
}

func majority(entries []*model.LowLevelEntry) model.PatternCategory {
	counts := map[model.PatternCategory]int{}
	for _, e := range entries {
		counts[e.Category]++
	}
	best := entries[0].Category
	for cat, n := range counts {
		if n > counts[best] || (n == counts[best] && cat < best) {
			best = cat
		}
	}
	return best
}

func principleText(cat model.PatternCategory) string {
	switch cat {
	case model.PatternSecurity:
		return "Treat repeated access bursts as hostile in every environment"
	case model.PatternPrivacy:
		return "Minimize disclosure regardless of environment"
	case model.PatternDataAccess:
		return "Recurring data access warrants proof-based verification everywhere"
	case model.PatternUserBehavior:
		return "User habits carry across environments"
	default:
		return "Activity follows the same rhythm across environments"
	}
}

// AbstractionLevel reflects how much knowledge has been generalized.
func (h *Hierarchy) AbstractionLevel() float64 {
	return min(0.9, 0.2+0.05*float64(len(h.mid))+0.1*float64(len(h.high)))
}

// LowLevel returns every low-level entry ordered by environment then pattern id.
func (h *Hierarchy) LowLevel() []model.LowLevelEntry {
	out := make([]model.LowLevelEntry, 0, len(h.low))
	for _, e := range h.low {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Environment != out[j].Environment {
			return out[i].Environment < out[j].Environment
		}
		return out[i].PatternID < out[j].PatternID
	})
	return out
}

// Summary returns a deep-copied view of the hierarchy.
func (h *Hierarchy) Summary() model.KnowledgeSummary {
	s := model.KnowledgeSummary{
		CurrentEnvironment: h.current,
		Similarity:         h.similarity,
		AbstractionLevel:   h.AbstractionLevel(),
		Principles:         []model.Principle{},
		LowLevelCount:      len(h.low),
		Profiles:           make(map[string]model.EnvironmentProfile, len(h.profiles)),
	}
	for _, cat := range slices.Sorted(maps.Keys(h.high)) {
		s.Principles = append(s.Principles, *h.high[cat])
	}
	for _, key := range slices.Sorted(maps.Keys(h.mid)) {
		m := *h.mid[key]
		m.Environments = slices.Clone(m.Environments)
		s.MidLevel = append(s.MidLevel, m)
	}
	for name, p := range h.profiles {
		s.Profiles[name] = p.Clone()
	}
	return s
}

package patterns

import (
	"fmt"
	"math"
	"sort"
	"time"
	"unicode/utf8"

	"github.com/rcliao/accessmind/internal/config"
	"github.com/rcliao/accessmind/internal/model"
)

// Options tunes the extractor thresholds.
type Options struct {
	MinEvents             int // ledger size below which Extract does nothing
	MinCounterpartyEvents int // events a counterparty needs before its pairs are mined
	MinPairCount          int // pairs must occur more than this
	ProofAdviceCount      int // pair count above which proof-based verification is advised
	MinCategoryCount      int
	AuditCount            int
	MinStakeEvents        int // stake events must exceed this
	MinConsistency        float64
	FrequentWindow        time.Duration
	FrequentCount         int // recent attempts must exceed this
}

// DefaultOptions returns the stock thresholds.
func DefaultOptions() Options {
	return Options{
		MinEvents:             10,
		MinCounterpartyEvents: 5,
		MinPairCount:          3,
		ProofAdviceCount:      10,
		MinCategoryCount:      5,
		AuditCount:            20,
		MinStakeEvents:        5,
		MinConsistency:        0.7,
		FrequentWindow:        24 * time.Hour,
		FrequentCount:         10,
	}
}

// OptionsFromConfig maps the configured thresholds onto Options.
func OptionsFromConfig(mem config.MemoryConfig, pc config.PatternConfig) Options {
	return Options{
		MinEvents:             mem.MinEventsToExtract,
		MinCounterpartyEvents: pc.MinCounterpartyEvents,
		MinPairCount:          pc.PairCount,
		ProofAdviceCount:      pc.ProofAdviceCount,
		MinCategoryCount:      pc.MinCategoryCount,
		AuditCount:            pc.AuditCount,
		MinStakeEvents:        pc.StakeEvents,
		MinConsistency:        pc.MinConsistency,
		FrequentWindow:        config.Seconds(pc.FrequentWindowSec),
		FrequentCount:         pc.FrequentCount,
	}
}

// Extractor mines candidate patterns from a batch of events.
type Extractor struct {
	opts Options
}

// NewExtractor creates an extractor with opts.
func NewExtractor(opts Options) *Extractor {
	return &Extractor{opts: opts}
}

// Extract runs the counterparty, category and behaviour passes over events
// and returns the candidates in a stable order. Nothing is produced when the
// batch is smaller than MinEvents.
func (x *Extractor) Extract(events []model.Event, now time.Time) []model.Pattern {
	if len(events) < x.opts.MinEvents {
		return nil
	}
	var out []model.Pattern
	out = append(out, x.counterpartyPatterns(events, now)...)
	out = append(out, x.categoryPatterns(events, now)...)
	if p, ok := x.stakingPattern(events, now); ok {
		out = append(out, p)
	}
	return out
}

func (x *Extractor) counterpartyPatterns(events []model.Event, now time.Time) []model.Pattern {
	byParty := map[string][]model.Event{}
	for _, ev := range events {
		if cp := ev.Context.Counterparty; cp != "" {
			byParty[cp] = append(byParty[cp], ev)
		}
	}

	var out []model.Pattern
	for _, cp := range sortedKeys(byParty) {
		evs := byParty[cp]
		if len(evs) < x.opts.MinCounterpartyEvents {
			continue
		}
		byCategory := groupByCategory(evs)
		for _, cat := range sortedCategories(byCategory) {
			related := byCategory[cat]
			count := len(related)
			if count <= x.opts.MinPairCount {
				continue
			}
			p := model.Pattern{
				ID:              fmt.Sprintf("%s-%s-access", cp, cat),
				Name:            cat.Title() + " Access Pattern",
				Description:     fmt.Sprintf("Counterparty %s frequently accesses %s (%d times)", ShortParty(cp), cat, count),
				Confidence:      min(0.95, 0.6+float64(count)/20),
				Category:        model.PatternDataAccess,
				RelatedEventIDs: ids(related),
				DetectionCount:  1,
				LastDetected:    now,
				Counterparty:    cp,
				DataCategory:    cat,
				Tags:            []model.PatternTag{model.TagFrequent},
			}
			if count > x.opts.ProofAdviceCount {
				p.ActionRecommendation = fmt.Sprintf("Use proof-based verification for %s with this counterparty", cat)
			}
			out = append(out, p)
		}
	}
	return out
}

func (x *Extractor) categoryPatterns(events []model.Event, now time.Time) []model.Pattern {
	byCategory := groupByCategory(events)
	var out []model.Pattern
	for _, cat := range sortedCategories(byCategory) {
		related := byCategory[cat]
		count := len(related)
		if count < x.opts.MinCategoryCount {
			continue
		}
		p := model.Pattern{
			ID:              fmt.Sprintf("%s-access-frequency", cat),
			Name:            cat.Title() + " Access Frequency",
			Description:     fmt.Sprintf("%s data accessed %d times", cat, count),
			Confidence:      min(0.9, 0.5+float64(count)/30),
			Category:        model.PatternDataAccess,
			RelatedEventIDs: ids(related),
			DetectionCount:  1,
			LastDetected:    now,
			DataCategory:    cat,
		}
		if count > x.opts.AuditCount {
			p.ActionRecommendation = fmt.Sprintf("Audit %s access policies", cat)
			p.Tags = []model.PatternTag{model.TagAudit}
		}
		out = append(out, p)
	}
	return out
}

func (x *Extractor) stakingPattern(events []model.Event, now time.Time) (model.Pattern, bool) {
	var stakes []model.Event
	for _, ev := range events {
		if ev.Kind == model.KindStakeAction {
			stakes = append(stakes, ev)
		}
	}
	if len(stakes) <= x.opts.MinStakeEvents {
		return model.Pattern{}, false
	}
	amounts := make([]float64, len(stakes))
	for i, ev := range stakes {
		if ev.Stake != nil {
			amounts[i] = ev.Stake.Amount
		}
	}
	mean, variance := meanVariance(amounts)
	if mean == 0 {
		return model.Pattern{}, false
	}
	consistency := 1 / (1 + variance/(mean*mean))
	if consistency <= x.opts.MinConsistency {
		return model.Pattern{}, false
	}
	return model.Pattern{
		ID:                   "consistent-staking",
		Name:                 "Consistent Staking",
		Description:          fmt.Sprintf("Stakes about %.2f consistently", mean),
		Confidence:           consistency,
		Category:             model.PatternUserBehavior,
		RelatedEventIDs:      ids(stakes),
		DetectionCount:       1,
		LastDetected:         now,
		ActionRecommendation: "Optimize staking strategy for maximum returns",
		Tags:                 []model.PatternTag{model.TagStaking},
	}, true
}

// FrequentAccess checks whether counterparty made more than FrequentCount
// request or access attempts within FrequentWindow of now, and if so returns
// the security pattern describing it.
func (x *Extractor) FrequentAccess(events []model.Event, counterparty string, now time.Time) (model.Pattern, bool) {
	if counterparty == "" {
		return model.Pattern{}, false
	}
	cutoff := now.Add(-x.opts.FrequentWindow)
	var recent []model.Event
	for _, ev := range events {
		if ev.Kind.IsAccessAttempt() && ev.Context.Counterparty == counterparty && ev.Timestamp.After(cutoff) {
			recent = append(recent, ev)
		}
	}
	count := len(recent)
	if count <= x.opts.FrequentCount {
		return model.Pattern{}, false
	}
	return model.Pattern{
		ID:                   "frequent-access-" + counterparty,
		Name:                 "Frequent Access",
		Description:          fmt.Sprintf("Counterparty %s accessed data %d times in 24h", ShortParty(counterparty), count),
		Confidence:           min(0.9, 0.7+float64(count)/50),
		Category:             model.PatternSecurity,
		RelatedEventIDs:      ids(recent),
		DetectionCount:       1,
		LastDetected:         now,
		ActionRecommendation: "Review access grants for this counterparty",
		Counterparty:         counterparty,
	}, true
}

// ShortParty abbreviates a counterparty identifier for display.
func ShortParty(cp string) string {
	if utf8.RuneCountInString(cp) <= 8 {
		return cp
	}
	r := []rune(cp)
	return string(r[:8]) + "..."
}

func meanVariance(xs []float64) (mean, variance float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	for _, x := range xs {
		variance += math.Pow(x-mean, 2)
	}
	variance /= float64(len(xs))
	return mean, variance
}

func groupByCategory(events []model.Event) map[model.DataCategory][]model.Event {
	out := map[model.DataCategory][]model.Event{}
	for _, ev := range events {
		if ev.Context.Category != model.CategoryNone {
			out[ev.Context.Category] = append(out[ev.Context.Category], ev)
		}
	}
	return out
}

func sortedKeys(m map[string][]model.Event) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedCategories(m map[model.DataCategory][]model.Event) []model.DataCategory {
	keys := make([]model.DataCategory, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func ids(events []model.Event) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.ID
	}
	return out
}

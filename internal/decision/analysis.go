package decision

import (
	"fmt"
	"strings"

	"github.com/rcliao/accessmind/internal/model"
)

// Thresholds of the derived views.
const (
	SuspiciousConfidence  = 0.6
	HighAlertConfidence   = 0.8
	OversharingConfidence = 0.7
	BreachImpact          = 0.8
)

// Mitigation is the standard response to a breach risk.
var Mitigation = []string{"Lock storage", "Revoke access", "Raise dispute"}

func suspicious(ps []model.Pattern) []model.Pattern {
	var out []model.Pattern
	for _, p := range ps {
		if p.Category == model.PatternSecurity && p.Confidence > SuspiciousConfidence {
			out = append(out, p)
		}
	}
	return out
}

func names(ps []model.Pattern) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.Name
	}
	return out
}

func ids(ps []model.Pattern) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.ID
	}
	return out
}

// AnalyzeThreats synthesizes a breach-risk threat when security patterns are
// confident enough.
func (e *Engine) AnalyzeThreats(ps []model.Pattern) []model.Threat {
	sus := suspicious(ps)
	if len(sus) == 0 {
		return []model.Threat{}
	}
	return []model.Threat{{
		Title:       "Data Breach Risk",
		Description: fmt.Sprintf("Suspicious activity from %d sources: %s", len(sus), strings.Join(names(sus), ", ")),
		Likelihood:  min(0.9, 0.5+0.1*float64(len(sus))),
		Impact:      BreachImpact,
		Timeframe:   model.TimeframeImmediate,
		Mitigation:  append([]string(nil), Mitigation...),
	}}
}

// ThreatLevel is the highest likelihood times impact among threats.
func ThreatLevel(threats []model.Threat) float64 {
	level := 0.0
	for _, t := range threats {
		level = max(level, t.Likelihood*t.Impact)
	}
	return level
}

// Recommend derives the ranked recommendation list. The audit reminder is
// always last.
func (e *Engine) Recommend(ps []model.Pattern) []model.Recommendation {
	var recs []model.Recommendation

	if sus := suspicious(ps); len(sus) > 0 {
		prio := model.PriorityMedium
		for _, p := range sus {
			if p.Confidence > HighAlertConfidence {
				prio = model.PriorityHigh
			}
		}
		recs = append(recs, model.Recommendation{
			Title:           "Security Alert",
			Description:     fmt.Sprintf("Detected %d threats: %s. Review access now.", len(sus), strings.Join(names(sus), ", ")),
			Priority:        prio,
			Actionable:      true,
			RelatedPatterns: ids(sus),
		})
	}

	var frequent []model.Pattern
	var cats []string
	for _, p := range ps {
		if p.HasTag(model.TagFrequent) && p.Confidence > OversharingConfidence {
			frequent = append(frequent, p)
			cats = append(cats, p.DataCategory.String())
		}
	}
	if len(frequent) > 0 {
		recs = append(recs, model.Recommendation{
			Title:           "Oversharing Risk",
			Description:     fmt.Sprintf("Frequent sharing detected: %s. Consider proof-based verification.", strings.Join(cats, ", ")),
			Priority:        model.PriorityMedium,
			Actionable:      true,
			RelatedPatterns: ids(frequent),
		})
	}

	recs = append(recs, model.Recommendation{
		Title:           "Privacy Audit",
		Description:     "Conduct regular audits of granted access.",
		Priority:        model.PriorityLow,
		Actionable:      true,
		RelatedPatterns: []string{},
	})
	return recs
}

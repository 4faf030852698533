package model

import (
	"slices"
	"time"
)

// PatternTag is a structured marker attached when a pattern is created.
type PatternTag string

const (
	// TagFrequent marks repeated access by one counterparty to one category.
	TagFrequent PatternTag = "frequent"
	// TagAudit marks categories whose access volume warrants an audit.
	TagAudit PatternTag = "audit"
	// TagStaking marks staking behaviour patterns.
	TagStaking PatternTag = "staking"
)

// Pattern is a derived, confidence-scored behavioural claim.
type Pattern struct {
	ID                   string          `json:"id"`
	Name                 string          `json:"name"`
	Description          string          `json:"description"`
	Confidence           float64         `json:"confidence"`
	Category             PatternCategory `json:"category"`
	RelatedEventIDs      []string        `json:"related_event_ids,omitempty"`
	DetectionCount       int             `json:"detection_count"`
	LastDetected         time.Time       `json:"last_detected"`
	ActionRecommendation string          `json:"action_recommendation,omitempty"`

	Counterparty string       `json:"counterparty,omitempty"`
	DataCategory DataCategory `json:"data_category,omitempty"`
	Tags         []PatternTag `json:"tags,omitempty"`
}

// HasTag reports whether the pattern carries tag.
func (p Pattern) HasTag(tag PatternTag) bool {
	return slices.Contains(p.Tags, tag)
}

// Clone returns a deep copy of p.
func (p Pattern) Clone() Pattern {
	p.RelatedEventIDs = slices.Clone(p.RelatedEventIDs)
	p.Tags = slices.Clone(p.Tags)
	return p
}

// ClonePatterns deep-copies a pattern slice.
func ClonePatterns(in []Pattern) []Pattern {
	if in == nil {
		return nil
	}
	out := make([]Pattern, len(in))
	for i, p := range in {
		out[i] = p.Clone()
	}
	return out
}

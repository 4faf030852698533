package model

import (
	"maps"
	"slices"
	"time"
)

// EnvironmentProfile describes a named operating context.
type EnvironmentProfile struct {
	Name            string             `json:"name"`
	Features        map[string]float64 `json:"features"`
	Hazards         []string           `json:"hazards,omitempty"`
	ProtectionLevel float64            `json:"protection_level"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// Clone returns a deep copy of p.
func (p EnvironmentProfile) Clone() EnvironmentProfile {
	p.Features = maps.Clone(p.Features)
	p.Hazards = slices.Clone(p.Hazards)
	return p
}

// LowLevelEntry is a pattern as observed in one environment.
type LowLevelEntry struct {
	Environment string          `json:"environment"`
	PatternID   string          `json:"pattern_id"`
	Description string          `json:"description"`
	Key         string          `json:"key"`
	Category    PatternCategory `json:"category"`
	Confidence  float64         `json:"confidence"`
}

// MidLevelEntry is a pattern generalized across environments.
type MidLevelEntry struct {
	Key          string          `json:"key"`
	Pattern      string          `json:"pattern"`
	Category     PatternCategory `json:"category"`
	Confidence   float64         `json:"confidence"`
	Environments []string        `json:"environments"`
	Instances    int             `json:"instances"`
}

// Principle is a universal, environment-independent rule.
type Principle struct {
	Key        string          `json:"key"`
	Principle  string          `json:"principle"`
	Category   PatternCategory `json:"category"`
	Confidence float64         `json:"confidence"`
}

// KnowledgeSummary is the read-only view of the knowledge hierarchy.
type KnowledgeSummary struct {
	CurrentEnvironment string                        `json:"current_environment"`
	Similarity         float64                       `json:"similarity"`
	AbstractionLevel   float64                       `json:"abstraction_level"`
	Principles         []Principle                   `json:"principles"`
	MidLevel           []MidLevelEntry               `json:"mid_level,omitempty"`
	LowLevelCount      int                           `json:"low_level_count"`
	Profiles           map[string]EnvironmentProfile `json:"profiles,omitempty"`
}

// TransitionReport describes an environment switch.
type TransitionReport struct {
	From       string  `json:"from"`
	To         string  `json:"to"`
	Similarity float64 `json:"similarity"`
	Decayed    int     `json:"decayed"`
	Deleted    int     `json:"deleted"`
	Seeded     bool    `json:"seeded"`
}

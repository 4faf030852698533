package model

import "time"

// Decision is the outcome of an access evaluation.
type Decision struct {
	Approved       bool          `json:"approved"`
	Reason         string        `json:"reason"`
	Counterparty   string        `json:"counterparty"`
	Category       DataCategory  `json:"category"`
	Duration       time.Duration `json:"duration"`
	Fee            float64       `json:"fee,omitempty"`
	ProofSuggested bool          `json:"proof_suggested,omitempty"`
	ProofRef       string        `json:"proof_ref,omitempty"`
}

// CounterOffer is the engine's proposal when an offered fee is too low.
type CounterOffer struct {
	Duration time.Duration `json:"duration"`
	Fee      float64       `json:"fee"`
}

// Negotiation is the outcome of a fee negotiation.
type Negotiation struct {
	Accepted     bool          `json:"accepted"`
	Decision     Decision      `json:"decision"`
	FairFee      float64       `json:"fair_fee,omitempty"`
	CounterOffer *CounterOffer `json:"counter_offer,omitempty"`
}

// Timeframe is a threat's expected onset.
type Timeframe string

const (
	TimeframeImmediate Timeframe = "immediate"
	TimeframeNearTerm  Timeframe = "near-term"
)

// Threat is a synthesized risk assessment.
type Threat struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Likelihood  float64   `json:"likelihood"`
	Impact      float64   `json:"impact"`
	Timeframe   Timeframe `json:"timeframe"`
	Mitigation  []string  `json:"mitigation"`
}

// Priority ranks recommendations.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
)

var priorityNames = [...]string{"low", "medium", "high"}

func (p Priority) String() string {
	if p < 0 || int(p) >= len(priorityNames) {
		return "unknown"
	}
	return priorityNames[p]
}

func (p Priority) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *Priority) UnmarshalText(b []byte) error {
	for i, name := range priorityNames {
		if name == string(b) {
			*p = Priority(i)
			return nil
		}
	}
	return ErrInvalidInput
}

// Recommendation is a ranked, human-facing action item.
type Recommendation struct {
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	Priority        Priority `json:"priority"`
	Actionable      bool     `json:"actionable"`
	RelatedPatterns []string `json:"related_patterns"`
}

// ProtectionTier is the encryption and sharing posture for a category.
type ProtectionTier string

const (
	TierStrict   ProtectionTier = "strict"
	TierElevated ProtectionTier = "elevated"
	TierStandard ProtectionTier = "standard"
)

// CategoryPolicy is the optimized posture for one data category.
type CategoryPolicy struct {
	Tier       ProtectionTier `json:"tier"`
	Encryption string         `json:"encryption"`
	Sharing    string         `json:"sharing"`
	Protection float64        `json:"protection"`
}

// ProofRecommendation suggests proof-based verification for a category.
type ProofRecommendation struct {
	Category       DataCategory `json:"category"`
	Recommendation string       `json:"recommendation"`
}

// PolicyBundle is the output of policy optimization.
type PolicyBundle struct {
	Categories           map[DataCategory]CategoryPolicy `json:"categories"`
	ProofRecommendations []ProofRecommendation           `json:"proof_recommendations"`
	StakeAllocation      map[StakeType]float64           `json:"stake_allocation"`
	ThreatLevel          float64                         `json:"threat_level"`
}

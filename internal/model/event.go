// Package model defines the core data types shared by the engine components.
package model

import (
	"errors"
	"fmt"
	"math"
	"time"
	"unicode/utf8"
)

// ErrInvalidInput marks a value rejected at the API boundary.
var ErrInvalidInput = errors.New("invalid input")

// Input limits enforced by Validate.
const (
	MaxDetailsBytes      = 4096
	MaxCounterpartyBytes = 128
	MaxEnvironmentBytes  = 128
)

// EventKind is the closed set of interaction event kinds.
type EventKind int

const (
	KindRequest EventKind = iota
	KindAccess
	KindSharing
	KindBreach
	KindInteraction
	KindStakeAction
	KindDisputeAction
	KindPoolContribution
	KindProofVerification
	KindEnvironmentTransition
	KindThreatDetected
	KindPolicyOptimized
)

var eventKindNames = [...]string{
	KindRequest:               "request",
	KindAccess:                "access",
	KindSharing:               "sharing",
	KindBreach:                "breach",
	KindInteraction:           "interaction",
	KindStakeAction:           "stake-action",
	KindDisputeAction:         "dispute-action",
	KindPoolContribution:      "pool-contribution",
	KindProofVerification:     "proof-verification",
	KindEnvironmentTransition: "environment-transition",
	KindThreatDetected:        "threat-detected",
	KindPolicyOptimized:       "policy-optimized",
}

// EventKinds lists every kind in declaration order.
func EventKinds() []EventKind {
	kinds := make([]EventKind, len(eventKindNames))
	for i := range eventKindNames {
		kinds[i] = EventKind(i)
	}
	return kinds
}

func (k EventKind) String() string {
	if k < 0 || int(k) >= len(eventKindNames) {
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
	return eventKindNames[k]
}

// Valid reports whether k is one of the declared kinds.
func (k EventKind) Valid() bool {
	return k >= 0 && int(k) < len(eventKindNames)
}

// IsAccessAttempt reports whether the kind counts toward access frequency checks.
func (k EventKind) IsAccessAttempt() bool {
	return k == KindRequest || k == KindAccess
}

// ParseEventKind resolves a kind label.
func ParseEventKind(s string) (EventKind, error) {
	for i, name := range eventKindNames {
		if name == s {
			return EventKind(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown event kind %q", ErrInvalidInput, s)
}

func (k EventKind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("%w: event kind %d", ErrInvalidInput, int(k))
	}
	return []byte(k.String()), nil
}

func (k *EventKind) UnmarshalText(b []byte) error {
	v, err := ParseEventKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// StakeType names the bucket a stake action targets.
type StakeType string

const (
	StakeSecurity      StakeType = "security"
	StakeService       StakeType = "service"
	StakeDataValidator StakeType = "data-validator"
	StakeLiquidity     StakeType = "liquidity"
)

// ValidStakeTypes are the allowed stake buckets.
var ValidStakeTypes = map[StakeType]bool{
	StakeSecurity:      true,
	StakeService:       true,
	StakeDataValidator: true,
	StakeLiquidity:     true,
}

// StakeDetail is the typed payload of a stake-action event.
type StakeDetail struct {
	Type   StakeType `json:"type"`
	Amount float64   `json:"amount"`
}

// EventContext carries the optional attribution of an event.
type EventContext struct {
	Counterparty string       `json:"counterparty,omitempty"`
	Category     DataCategory `json:"category,omitempty"`
	Stability    *float64     `json:"stability,omitempty"`
	Environment  string       `json:"environment,omitempty"`
	DisputeID    string       `json:"dispute_id,omitempty"`
}

// Event is an immutable interaction fact. Importance is the only field
// changed after recording.
type Event struct {
	ID                string        `json:"id"`
	Kind              EventKind     `json:"kind"`
	Timestamp         time.Time     `json:"timestamp"`
	Importance        float64       `json:"importance"`
	EmotionalWeight   float64       `json:"emotional_weight"`
	Details           string        `json:"details,omitempty"`
	Context           EventContext  `json:"context"`
	Stake             *StakeDetail  `json:"stake,omitempty"`
	RequestedDuration time.Duration `json:"requested_duration,omitempty"`
}

// Clone returns a copy that shares no pointers with e.
func (e Event) Clone() Event {
	if e.Context.Stability != nil {
		v := *e.Context.Stability
		e.Context.Stability = &v
	}
	if e.Stake != nil {
		s := *e.Stake
		e.Stake = &s
	}
	return e
}

// EventInput is an event before the ledger stamps it.
type EventInput struct {
	Kind              EventKind
	Importance        float64
	EmotionalWeight   float64
	Details           string
	Context           EventContext
	Stake             *StakeDetail
	RequestedDuration time.Duration
}

// Validate rejects out-of-range scalars and oversized payloads.
func (in EventInput) Validate() error {
	if !in.Kind.Valid() {
		return fmt.Errorf("%w: event kind %d", ErrInvalidInput, int(in.Kind))
	}
	if err := unitInterval("importance", in.Importance); err != nil {
		return err
	}
	if err := unitInterval("emotional_weight", in.EmotionalWeight); err != nil {
		return err
	}
	if len(in.Details) > MaxDetailsBytes {
		return fmt.Errorf("%w: details exceed %d bytes", ErrInvalidInput, MaxDetailsBytes)
	}
	if len(in.Context.Counterparty) > MaxCounterpartyBytes {
		return fmt.Errorf("%w: counterparty exceeds %d bytes", ErrInvalidInput, MaxCounterpartyBytes)
	}
	if len(in.Context.Environment) > MaxEnvironmentBytes {
		return fmt.Errorf("%w: environment exceeds %d bytes", ErrInvalidInput, MaxEnvironmentBytes)
	}
	if !utf8.ValidString(in.Context.Counterparty) || !utf8.ValidString(in.Context.Environment) {
		return fmt.Errorf("%w: counterparty and environment must be valid UTF-8", ErrInvalidInput)
	}
	if !in.Context.Category.Valid() {
		return fmt.Errorf("%w: data category %d", ErrInvalidInput, int(in.Context.Category))
	}
	if in.Context.Stability != nil {
		if err := unitInterval("stability", *in.Context.Stability); err != nil {
			return err
		}
	}
	if in.Stake != nil {
		if !ValidStakeTypes[in.Stake.Type] {
			return fmt.Errorf("%w: stake type %q", ErrInvalidInput, in.Stake.Type)
		}
		if math.IsNaN(in.Stake.Amount) || math.IsInf(in.Stake.Amount, 0) || in.Stake.Amount < 0 {
			return fmt.Errorf("%w: stake amount %v", ErrInvalidInput, in.Stake.Amount)
		}
	}
	if in.RequestedDuration < 0 {
		return fmt.Errorf("%w: negative requested duration", ErrInvalidInput)
	}
	return nil
}

// Stability returns a pointer suitable for EventContext.Stability.
func Stability(v float64) *float64 { return &v }

func unitInterval(name string, v float64) error {
	if math.IsNaN(v) || v < 0 || v > 1 {
		return fmt.Errorf("%w: %s %v outside [0,1]", ErrInvalidInput, name, v)
	}
	return nil
}

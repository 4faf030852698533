package model

import (
	"slices"
	"time"
)

// Reflection is the self-model's distilled view of recent activity.
type Reflection struct {
	Focus      string    `json:"focus"`
	FocusKind  EventKind `json:"focus_kind"`
	Insights   []string  `json:"insights"`
	Confidence float64   `json:"confidence"`
	ActionPlan []string  `json:"action_plan,omitempty"`
}

// SelfModel holds the scalars used to bias recommendations.
type SelfModel struct {
	Awareness           float64     `json:"awareness"`
	Imagination         float64     `json:"imagination"`
	NarrativeComplexity float64     `json:"narrative_complexity"`
	Integration         float64     `json:"integration"`
	Dreaming            bool        `json:"dreaming"`
	LastCycle           time.Time   `json:"last_cycle"`
	DreamContent        string      `json:"dream_content,omitempty"`
	Reflection          *Reflection `json:"reflection,omitempty"`
}

// Clone returns a deep copy of s.
func (s SelfModel) Clone() SelfModel {
	if s.Reflection != nil {
		r := *s.Reflection
		r.Insights = slices.Clone(r.Insights)
		r.ActionPlan = slices.Clone(r.ActionPlan)
		s.Reflection = &r
	}
	return s
}

// CyclicalPattern is a weekly activity peak.
type CyclicalPattern struct {
	Label          string        `json:"label"`
	Weekday        time.Weekday  `json:"weekday"`
	PeakHour       int           `json:"peak_hour"`
	Confidence     float64       `json:"confidence"`
	Period         time.Duration `json:"period"`
	NextOccurrence time.Time     `json:"next_occurrence"`
}

// Scenario is one forecast outcome.
type Scenario struct {
	Description  string   `json:"description"`
	Probability  float64  `json:"probability"`
	Desirability float64  `json:"desirability"`
	HorizonDays  int      `json:"horizon_days"`
	Mitigation   []string `json:"mitigation,omitempty"`
}

// TemporalState is replaced wholesale on each forecaster run.
type TemporalState struct {
	Cycles    []CyclicalPattern `json:"cycles"`
	Scenarios []Scenario        `json:"scenarios"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Clone returns a deep copy of t.
func (t TemporalState) Clone() TemporalState {
	t.Cycles = slices.Clone(t.Cycles)
	if t.Scenarios != nil {
		scenarios := make([]Scenario, len(t.Scenarios))
		for i, s := range t.Scenarios {
			s.Mitigation = slices.Clone(s.Mitigation)
			scenarios[i] = s
		}
		t.Scenarios = scenarios
	}
	return t
}

// NotificationLevel grades user-facing notifications.
type NotificationLevel string

const (
	NotifyInfo     NotificationLevel = "info"
	NotifyWarning  NotificationLevel = "warning"
	NotifyCritical NotificationLevel = "critical"
)

// Notification is a user-facing message emitted by the engine.
type Notification struct {
	Topic   string            `json:"topic"`
	Level   NotificationLevel `json:"level"`
	Message string            `json:"message"`
	At      time.Time         `json:"at"`
}

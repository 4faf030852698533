// Package store provides the journal interface and its SQLite implementation.
// The journal persists the event ledger, access decisions and a few settings
// between CLI invocations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/rcliao/accessmind/internal/model"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// Setting keys restored into the engine configuration on startup.
const (
	SettingEnvironment    = "environment"
	SettingAutoProtection = "auto_protection"
)

// DecisionRecord is a journaled access decision.
type DecisionRecord struct {
	ID           string              `json:"id"`
	CreatedAt    time.Time           `json:"created_at"`
	Decision     model.Decision      `json:"decision"`
	Offered      *float64            `json:"offered,omitempty"`
	CounterOffer *model.CounterOffer `json:"counter_offer,omitempty"`
}

// DecisionFilter narrows a decision listing.
type DecisionFilter struct {
	Counterparty string
	Category     model.DataCategory
	DeniedOnly   bool
	Limit        int
}

// EventFilter narrows an event listing.
type EventFilter struct {
	Kind        *model.EventKind
	Environment string
	Since       time.Time
	Limit       int
}

// Store defines the journal interface.
type Store interface {
	// SyncEvents mirrors the ledger: every given event is upserted and
	// journaled events missing from the set are pruned.
	SyncEvents(ctx context.Context, events []model.Event) (SyncResult, error)

	// AppendEvents inserts events, skipping IDs already journaled.
	AppendEvents(ctx context.Context, events []model.Event) (int, error)

	// Events lists journaled events oldest first.
	Events(ctx context.Context, f EventFilter) ([]model.Event, error)

	// RecordDecision journals a decision, optionally with the negotiation
	// that produced it.
	RecordDecision(ctx context.Context, d model.Decision, n *model.Negotiation, offered *float64) (*DecisionRecord, error)

	// Decisions lists journaled decisions newest first.
	Decisions(ctx context.Context, f DecisionFilter) ([]DecisionRecord, error)

	// Setting returns a stored setting value.
	Setting(ctx context.Context, key string) (string, error)

	// SetSetting stores a setting value.
	SetSetting(ctx context.Context, key, value string) error

	// Close closes the store.
	Close() error
}

// SyncResult reports what a SyncEvents call changed.
type SyncResult struct {
	Upserted int `json:"upserted"`
	Pruned   int `json:"pruned"`
}

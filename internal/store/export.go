package store

import (
	"context"
	"fmt"
	"time"

	"github.com/rcliao/accessmind/internal/model"
)

// ExportVersion is the format version written by ExportAll.
const ExportVersion = 1

// Export is a full journal dump.
type Export struct {
	Version    int               `json:"version"`
	ExportedAt time.Time         `json:"exported_at"`
	Events     []model.Event     `json:"events"`
	Decisions  []DecisionRecord  `json:"decisions"`
	Settings   map[string]string `json:"settings,omitempty"`
}

// ImportResult counts the records an Import added.
type ImportResult struct {
	Events    int `json:"events"`
	Decisions int `json:"decisions"`
	Settings  int `json:"settings"`
}

// ExportAll returns every journaled record.
func (s *SQLiteStore) ExportAll(ctx context.Context) (*Export, error) {
	events, err := s.Events(ctx, EventFilter{})
	if err != nil {
		return nil, fmt.Errorf("export events: %w", err)
	}
	decisions, err := s.queryDecisions(ctx,
		`SELECT id, counterparty, category, approved, reason, duration_ns, fee,
		        proof_suggested, proof_ref, offered, counter_fee, counter_duration, created_at
		 FROM decisions ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("export decisions: %w", err)
	}
	settings, err := s.Settings(ctx)
	if err != nil {
		return nil, fmt.Errorf("export settings: %w", err)
	}
	return &Export{
		Version:    ExportVersion,
		ExportedAt: s.now().UTC(),
		Events:     events,
		Decisions:  decisions,
		Settings:   settings,
	}, nil
}

// Import stores the records of an export. Events and decisions already
// present (same ID) are skipped; settings are overwritten.
func (s *SQLiteStore) Import(ctx context.Context, x *Export) (ImportResult, error) {
	var res ImportResult
	if x.Version != ExportVersion {
		return res, fmt.Errorf("unsupported export version %d: %w", x.Version, model.ErrInvalidInput)
	}

	n, err := s.AppendEvents(ctx, x.Events)
	if err != nil {
		return res, err
	}
	res.Events = n

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, err
	}
	defer tx.Rollback()
	for i := range x.Decisions {
		rec := &x.Decisions[i]
		if rec.ID == "" {
			return res, fmt.Errorf("decision without id: %w", model.ErrInvalidInput)
		}
		added, err := s.insertDecision(ctx, tx, rec, true)
		if err != nil {
			return res, err
		}
		if added {
			res.Decisions++
		}
	}
	if err := tx.Commit(); err != nil {
		return res, err
	}

	for k, v := range x.Settings {
		if err := s.SetSetting(ctx, k, v); err != nil {
			return res, err
		}
		res.Settings++
	}
	return res, nil
}

package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rcliao/accessmind/internal/model"
)

func (s *SQLiteStore) RecordDecision(ctx context.Context, d model.Decision, n *model.Negotiation, offered *float64) (*DecisionRecord, error) {
	now := s.now().UTC()
	rec := &DecisionRecord{
		ID:        s.newID(now),
		CreatedAt: now,
		Decision:  d,
		Offered:   offered,
	}
	if n != nil && n.CounterOffer != nil {
		c := *n.CounterOffer
		rec.CounterOffer = &c
	}
	if _, err := s.insertDecision(ctx, s.db, rec, false); err != nil {
		return nil, err
	}
	return rec, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// insertDecision writes rec and reports whether a row was added. With
// ignore set an existing ID is skipped.
func (s *SQLiteStore) insertDecision(ctx context.Context, db execer, rec *DecisionRecord, ignore bool) (bool, error) {
	var counterFee, counterDur any
	if rec.CounterOffer != nil {
		counterFee = rec.CounterOffer.Fee
		counterDur = int64(rec.CounterOffer.Duration)
	}
	verb := "INSERT"
	if ignore {
		verb = "INSERT OR IGNORE"
	}
	d := rec.Decision
	r, err := db.ExecContext(ctx,
		verb+` INTO decisions (id, counterparty, category, approved, reason, duration_ns, fee,
		                       proof_suggested, proof_ref, offered, counter_fee, counter_duration, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, d.Counterparty, d.Category.String(), d.Approved, d.Reason, int64(d.Duration), d.Fee,
		d.ProofSuggested, nullString(d.ProofRef), rec.Offered, counterFee, counterDur,
		rec.CreatedAt.UTC().Format(tsLayout))
	if err != nil {
		return false, fmt.Errorf("insert decision: %w", err)
	}
	n, _ := r.RowsAffected()
	return n > 0, nil
}

func (s *SQLiteStore) Decisions(ctx context.Context, f DecisionFilter) ([]DecisionRecord, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}

	var where []string
	var args []any
	if f.Counterparty != "" {
		where = append(where, "counterparty = ?")
		args = append(args, f.Counterparty)
	}
	if f.Category != model.CategoryNone {
		where = append(where, "category = ?")
		args = append(args, f.Category.String())
	}
	if f.DeniedOnly {
		where = append(where, "approved = 0")
	}

	query := `SELECT id, counterparty, category, approved, reason, duration_ns, fee,
	                 proof_suggested, proof_ref, offered, counter_fee, counter_duration, created_at
	          FROM decisions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	return s.queryDecisions(ctx, query, args...)
}

func (s *SQLiteStore) queryDecisions(ctx context.Context, query string, args ...any) ([]DecisionRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DecisionRecord
	for rows.Next() {
		rec, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDecision(row scanner) (DecisionRecord, error) {
	var rec DecisionRecord
	var (
		category, createdAt string
		durationNS          int64
		proofRef            sql.NullString
		offered, counterFee sql.NullFloat64
		counterDur          sql.NullInt64
	)
	d := &rec.Decision
	err := row.Scan(
		&rec.ID, &d.Counterparty, &category, &d.Approved, &d.Reason, &durationNS, &d.Fee,
		&d.ProofSuggested, &proofRef, &offered, &counterFee, &counterDur, &createdAt,
	)
	if err != nil {
		return rec, err
	}

	d.Category, _ = model.ParseDataCategory(category)
	d.Duration = time.Duration(durationNS)
	d.ProofRef = proofRef.String
	rec.CreatedAt, _ = time.Parse(tsLayout, createdAt)
	if offered.Valid {
		v := offered.Float64
		rec.Offered = &v
	}
	if counterFee.Valid {
		rec.CounterOffer = &model.CounterOffer{Fee: counterFee.Float64, Duration: time.Duration(counterDur.Int64)}
	}
	return rec, nil
}

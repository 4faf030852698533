package store

import (
	"context"
	"os"
)

// Stats holds journal statistics.
type Stats struct {
	DBPath          string       `json:"db_path"`
	DBSizeBytes     int64        `json:"db_size_bytes"`
	TotalEvents     int          `json:"total_events"`
	TotalDecisions  int          `json:"total_decisions"`
	ApprovedCount   int          `json:"approved"`
	DeniedCount     int          `json:"denied"`
	Kinds           []KindStats  `json:"kinds"`
	Counterparties  []PartyStats `json:"counterparties"`
	EnvironmentSeen []string     `json:"environments"`
}

// KindStats holds per-kind event counts.
type KindStats struct {
	Kind  string `json:"kind"`
	Count int    `json:"count"`
}

// PartyStats holds per-counterparty decision counts.
type PartyStats struct {
	Counterparty string `json:"counterparty"`
	Decisions    int    `json:"decisions"`
	Denied       int    `json:"denied"`
}

// Stats returns journal statistics.
func (s *SQLiteStore) Stats(ctx context.Context, dbPath string) (*Stats, error) {
	st := &Stats{DBPath: dbPath}

	if info, err := os.Stat(dbPath); err == nil {
		st.DBSizeBytes = info.Size()
	}

	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&st.TotalEvents)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(approved), 0) FROM decisions`).Scan(&st.TotalDecisions, &st.ApprovedCount)
	st.DeniedCount = st.TotalDecisions - st.ApprovedCount

	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, COUNT(*) AS cnt FROM events
		GROUP BY kind ORDER BY cnt DESC, kind`)
	if err != nil {
		return st, err
	}
	for rows.Next() {
		var k KindStats
		rows.Scan(&k.Kind, &k.Count)
		st.Kinds = append(st.Kinds, k)
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx, `
		SELECT counterparty, COUNT(*) AS cnt, SUM(1 - approved) AS denied FROM decisions
		GROUP BY counterparty ORDER BY cnt DESC, counterparty LIMIT 10`)
	if err != nil {
		return st, err
	}
	for rows.Next() {
		var p PartyStats
		rows.Scan(&p.Counterparty, &p.Decisions, &p.Denied)
		st.Counterparties = append(st.Counterparties, p)
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx, `
		SELECT DISTINCT environment FROM events
		WHERE environment IS NOT NULL ORDER BY environment`)
	if err != nil {
		return st, err
	}
	defer rows.Close()
	for rows.Next() {
		var env string
		rows.Scan(&env)
		st.EnvironmentSeen = append(st.EnvironmentSeen, env)
	}

	return st, nil
}

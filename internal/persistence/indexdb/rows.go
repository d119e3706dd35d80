package indexdb

import (
	"context"
	"database/sql"
	"time"
)

type MatchRow struct {
	MatchID      string
	CreatedAt    time.Time
	Seed         int64
	RoundMode    string
	Rounds       int
	ConfigJSON   string
	RoundsPlayed int
	Events       int
	Digest       string
	// Zero while the match is running.
	EndedAt time.Time
}

type PlayerRow struct {
	MatchID  string
	PlayerID int
	Name     string
	Version  string
	Team     string
	Score    int
	Expelled bool
}

type RoundRow struct {
	MatchID string
	Round   int
	// Order and Winners are comma separated player ids.
	Order    string
	Winners  string
	Shots    int
	EndIndex int
}

type DQRow struct {
	MatchID   string
	Index     int
	Round     int
	PlayerID  int
	Code      string
	Detail    string
	ElapsedMs int64
	Fatal     bool
}

type SnapshotRow struct {
	MatchID string
	Index   int
	Round   int
	Path    string
	Digest  string
}

// Standing aggregates one controller version across every indexed match.
type Standing struct {
	Name      string
	Version   string
	Matches   int
	RoundWins int
	Expelled  int
}

func parseTime(s sql.NullString) time.Time {
	if !s.Valid {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339Nano, s.String)
	return t
}

// Matches lists the most recent matches first. limit <= 0 means 50.
func (s *SQLiteIndex) Matches(ctx context.Context, limit int) ([]MatchRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT match_id,created_at,seed,round_mode,rounds,config_json,rounds_played,events,digest,ended_at
		FROM matches ORDER BY created_at DESC, match_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []MatchRow
	for rows.Next() {
		var (
			m       MatchRow
			created string
			ended   sql.NullString
		)
		if err := rows.Scan(&m.MatchID, &created, &m.Seed, &m.RoundMode, &m.Rounds, &m.ConfigJSON, &m.RoundsPlayed, &m.Events, &m.Digest, &ended); err != nil {
			return nil, err
		}
		m.CreatedAt = parseTime(sql.NullString{String: created, Valid: true})
		m.EndedAt = parseTime(ended)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) Players(ctx context.Context, matchID string) ([]PlayerRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT match_id,player_id,name,version,team,score,expelled
		FROM players WHERE match_id=? ORDER BY player_id`, matchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PlayerRow
	for rows.Next() {
		var p PlayerRow
		if err := rows.Scan(&p.MatchID, &p.PlayerID, &p.Name, &p.Version, &p.Team, &p.Score, &p.Expelled); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) Rounds(ctx context.Context, matchID string) ([]RoundRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT match_id,round,turn_order,winners,shots,end_index
		FROM rounds WHERE match_id=? ORDER BY round`, matchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RoundRow
	for rows.Next() {
		var r RoundRow
		if err := rows.Scan(&r.MatchID, &r.Round, &r.Order, &r.Winners, &r.Shots, &r.EndIndex); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Disqualifications lists a match's penalties in log order. An empty matchID
// lists the latest penalties across all matches.
func (s *SQLiteIndex) Disqualifications(ctx context.Context, matchID string, limit int) ([]DQRow, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT match_id,idx,round,player_id,code,detail,elapsed_ms,fatal FROM disqualifications`
	args := []any{}
	if matchID != "" {
		q += ` WHERE match_id=? ORDER BY idx LIMIT ?`
		args = append(args, matchID, limit)
	} else {
		q += ` ORDER BY match_id DESC, idx DESC LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []DQRow
	for rows.Next() {
		var d DQRow
		if err := rows.Scan(&d.MatchID, &d.Index, &d.Round, &d.PlayerID, &d.Code, &d.Detail, &d.ElapsedMs, &d.Fatal); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) Snapshots(ctx context.Context, matchID string) ([]SnapshotRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT match_id,idx,round,path,digest FROM snapshots WHERE match_id=? ORDER BY idx`, matchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SnapshotRow
	for rows.Next() {
		var sn SnapshotRow
		if err := rows.Scan(&sn.MatchID, &sn.Index, &sn.Round, &sn.Path, &sn.Digest); err != nil {
			return nil, err
		}
		out = append(out, sn)
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) Standings(ctx context.Context) ([]Standing, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name,version,COUNT(DISTINCT match_id),SUM(score),SUM(expelled)
		FROM players GROUP BY name,version ORDER BY SUM(score) DESC, name, version`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Standing
	for rows.Next() {
		var st Standing
		if err := rows.Scan(&st.Name, &st.Version, &st.Matches, &st.RoundWins, &st.Expelled); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

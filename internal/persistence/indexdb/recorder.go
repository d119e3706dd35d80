package indexdb

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"broadside.gg/internal/persistence/snapshot"
	"broadside.gg/internal/sim/board"
	"broadside.gg/internal/sim/event"
	"broadside.gg/internal/sim/eventlog"
	"broadside.gg/internal/sim/state"
)

// Recorder is the eventlog sink that feeds one match into the index.
type Recorder struct {
	idx     *SQLiteIndex
	matchID string
	created time.Time
}

func (s *SQLiteIndex) Recorder(matchID string) *Recorder {
	return &Recorder{idx: s, matchID: matchID}
}

func (r *Recorder) OnEvent(e eventlog.Entry, st *state.State) {
	switch ev := e.Event.(type) {
	case event.MatchBegin:
		r.created = e.At
		r.idx.RecordMatch(r.matchRow(e, st))
	case event.PlayerTeamAssign:
		r.recordPlayer(st, ev.Player)
	case event.PlayerDisqualified:
		round := 0
		if cr := st.CurrentRound(); cr != nil {
			round = cr.Number
		}
		r.idx.RecordDisqualification(DQRow{
			MatchID:   r.matchID,
			Index:     e.Index,
			Round:     round,
			PlayerID:  int(ev.Player),
			Code:      ev.Code,
			Detail:    ev.Detail,
			ElapsedMs: ev.Elapsed.Milliseconds(),
			Fatal:     ev.Fatal,
		})
		if ev.Fatal {
			r.recordPlayer(st, ev.Player)
		}
	case event.RoundEnd:
		rd := st.CurrentRound()
		if rd == nil {
			return
		}
		row := RoundRow{MatchID: r.matchID, Round: rd.Number, Order: joinIDs(rd.Order), EndIndex: e.Index}
		var winners []board.PlayerID
		for _, id := range rd.Order {
			seat := rd.Seats[id]
			row.Shots += seat.ShotsMade.Len()
			if seat.Won {
				winners = append(winners, id)
				r.recordPlayer(st, id)
			}
		}
		row.Winners = joinIDs(winners)
		r.idx.RecordRound(row)
		r.idx.RecordMatch(r.matchRow(e, st))
	case event.MatchEnd:
		r.idx.RecordMatch(r.matchRow(e, st))
	}
}

func (r *Recorder) matchRow(e eventlog.Entry, st *state.State) MatchRow {
	cfg, _ := json.Marshal(st.Config)
	m := MatchRow{
		MatchID:      r.matchID,
		CreatedAt:    r.created,
		Seed:         st.Config.Seed,
		RoundMode:    string(st.Config.RoundMode),
		Rounds:       st.Config.Rounds,
		ConfigJSON:   string(cfg),
		RoundsPlayed: len(st.Rounds),
		Events:       e.Index + 1,
		Digest:       st.Digest(),
	}
	if st.Ended {
		m.EndedAt = e.At
	}
	return m
}

func (r *Recorder) recordPlayer(st *state.State, id board.PlayerID) {
	p := st.Players[id]
	if p == nil {
		return
	}
	team := ""
	if t := st.Teams[p.Team]; t != nil {
		team = t.Name
	}
	r.idx.RecordPlayer(PlayerRow{
		MatchID:  r.matchID,
		PlayerID: int(id),
		Name:     p.Name,
		Version:  p.Version,
		Team:     team,
		Score:    p.Score,
		Expelled: p.Expelled,
	})
}

// RecordSnapshot fits snapshot.Writer.OnWritten.
func (r *Recorder) RecordSnapshot(h snapshot.Header, path string) {
	r.idx.RecordSnapshot(SnapshotRow{MatchID: r.matchID, Index: h.Index, Round: h.Round, Path: path, Digest: h.Digest})
}

func joinIDs(ids []board.PlayerID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(int(id))
	}
	return strings.Join(parts, ",")
}

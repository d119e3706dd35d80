// Package controller defines what a bot must implement to take part in a match.
// Every call is made through the sandbox and gets a context that ends at the
// per-call deadline.
package controller

import (
	"context"

	"broadside.gg/internal/config"
	"broadside.gg/internal/sim/board"
	"broadside.gg/internal/sim/state"
)

type Controller interface {
	NewMatch(ctx context.Context, info MatchInfo) error
	NewRound(ctx context.Context, round int, order []board.PlayerID) error
	// PlaceShips receives the unplaced fleet and returns it placed.
	PlaceShips(ctx context.Context, ships board.ShipList) (board.ShipList, error)
	MakeShot(ctx context.Context, view TurnView) (board.Shot, error)
	OpponentShot(ctx context.Context, shot board.Shot, shooter board.PlayerID) error
	ShotHit(ctx context.Context, shot board.Shot, sunk bool) error
	ShotMiss(ctx context.Context, shot board.Shot) error
	RoundWon(ctx context.Context, round int) error
	RoundLost(ctx context.Context, round int) error
	MatchOver(ctx context.Context, scores map[board.PlayerID]int) error
}

type PlayerInfo struct {
	ID      board.PlayerID
	Name    string
	Version string
	Team    state.TeamID
}

// MatchInfo is handed out once per match. Config is a copy.
type MatchInfo struct {
	MatchID string
	Self    board.PlayerID
	Config  config.Match
	Players []PlayerInfo
}

type Opponent struct {
	ID            board.PlayerID
	Team          state.TeamID
	Active        bool
	ShotsReceived []board.Shot
	SunkLengths   []int
}

// TurnView is everything a shooter may know when asked for a shot.
type TurnView struct {
	Round     int
	Self      board.PlayerID
	Field     board.Coord
	ShotsMade []board.Shot
	Opponents []Opponent
}

// LiveOpponents lists opponents still in the round.
func (v TurnView) LiveOpponents() []Opponent {
	var out []Opponent
	for _, o := range v.Opponents {
		if o.Active {
			out = append(out, o)
		}
	}
	return out
}

// NewTurnView builds the shooter's view of the running round from st. Teammates
// are not listed.
func NewTurnView(st *state.State, self board.PlayerID) TurnView {
	v := TurnView{Self: self, Field: st.Size()}
	r := st.CurrentRound()
	if r == nil {
		return v
	}
	v.Round = r.Number
	if seat := r.Seats[self]; seat != nil {
		v.ShotsMade = seat.ShotsMade.Shots()
	}
	for _, id := range r.Order {
		if id == self {
			continue
		}
		seat := r.Seats[id]
		if seat == nil || st.SameTeam(id, self) {
			continue
		}
		o := Opponent{
			ID:            id,
			Active:        seat.Active,
			ShotsReceived: seat.ShotsReceived.Shots(),
			SunkLengths:   seat.Ships.SunkLengths(),
		}
		if p := st.Players[id]; p != nil {
			o.Team = p.Team
		}
		v.Opponents = append(v.Opponents, o)
	}
	return v
}

// NewMatchInfo describes the match to participant self.
func NewMatchInfo(st *state.State, self board.PlayerID) MatchInfo {
	info := MatchInfo{MatchID: st.MatchID, Self: self, Config: st.Config.Clone()}
	for _, id := range st.PlayerIDs() {
		p := st.Players[id]
		info.Players = append(info.Players, PlayerInfo{ID: p.ID, Name: p.Name, Version: p.Version, Team: p.Team})
	}
	return info
}

// Base implements the notification callbacks as no-ops. Embed it and provide
// PlaceShips and MakeShot.
type Base struct{}

func (Base) NewMatch(context.Context, MatchInfo) error                      { return nil }
func (Base) NewRound(context.Context, int, []board.PlayerID) error          { return nil }
func (Base) OpponentShot(context.Context, board.Shot, board.PlayerID) error { return nil }
func (Base) ShotHit(context.Context, board.Shot, bool) error                { return nil }
func (Base) ShotMiss(context.Context, board.Shot) error                     { return nil }
func (Base) RoundWon(context.Context, int) error                            { return nil }
func (Base) RoundLost(context.Context, int) error                           { return nil }
func (Base) MatchOver(context.Context, map[board.PlayerID]int) error        { return nil }

package event

import (
	"fmt"
	"strings"
	"time"

	"broadside.gg/internal/config"
	"broadside.gg/internal/sim/board"
	"broadside.gg/internal/sim/state"
)

type Kind string

const (
	KindMatchBegin         Kind = "MATCH_BEGIN"
	KindTeamAdd            Kind = "TEAM_ADD"
	KindPlayerAdd          Kind = "PLAYER_ADD"
	KindPlayerTeamAssign   Kind = "PLAYER_TEAM_ASSIGN"
	KindRoundBegin         Kind = "ROUND_BEGIN"
	KindShipsPlaced        Kind = "SHIPS_PLACED"
	KindTurnSwitch         Kind = "TURN_SWITCH"
	KindPlayerShot         Kind = "PLAYER_SHOT"
	KindShipHit            Kind = "SHIP_HIT"
	KindShipDestroyed      Kind = "SHIP_DESTROYED"
	KindPlayerDisqualified Kind = "PLAYER_DISQUALIFIED"
	KindPlayerLost         Kind = "PLAYER_LOST"
	KindPlayerWon          Kind = "PLAYER_WON"
	KindRoundEnd           Kind = "ROUND_END"
	KindMatchEnd           Kind = "MATCH_END"
)

// Event is the closed set of state transitions. Values are immutable once appended.
type Event interface {
	Kind() Kind
	String() string
	isEvent()
}

type MatchBegin struct {
	MatchID string       `json:"match_id"`
	Config  config.Match `json:"config"`
}

type TeamAdd struct {
	Team     state.TeamID `json:"team"`
	Name     string       `json:"name"`
	Internal bool         `json:"internal,omitempty"`
}

type PlayerAdd struct {
	Player  board.PlayerID `json:"player"`
	Name    string         `json:"name"`
	Version string         `json:"version,omitempty"`
}

type PlayerTeamAssign struct {
	Player board.PlayerID `json:"player"`
	Team   state.TeamID   `json:"team"`
}

type RoundBegin struct {
	Round int              `json:"round"`
	Order []board.PlayerID `json:"order"`
}

type ShipsPlaced struct {
	Player board.PlayerID `json:"player"`
	Ships  board.ShipList `json:"ships"`
	// Elapsed is how long the controller took to answer.
	Elapsed time.Duration `json:"elapsed_ns"`
}

// TurnSwitch hands the turn from From to To. From is 0 at the start of a round.
type TurnSwitch struct {
	From board.PlayerID `json:"from"`
	To   board.PlayerID `json:"to"`
}

type PlayerShot struct {
	Player  board.PlayerID `json:"player"`
	Shot    board.Shot     `json:"shot"`
	Elapsed time.Duration  `json:"elapsed_ns"`
}

type ShipHit struct {
	Player   board.PlayerID `json:"player"`
	Receiver board.PlayerID `json:"receiver"`
	Coord    board.Coord    `json:"coord"`
	Ship     int            `json:"ship"`
}

type ShipDestroyed struct {
	Player   board.PlayerID `json:"player"`
	Receiver board.PlayerID `json:"receiver"`
	Ship     int            `json:"ship"`
	Length   int            `json:"length"`
}

// PlayerDisqualified removes a participant from the current round. Fatal ones also
// expel the participant from the rest of the match and cannot be undone.
type PlayerDisqualified struct {
	Player  board.PlayerID `json:"player"`
	Code    string         `json:"code"`
	Detail  string         `json:"detail,omitempty"`
	Elapsed time.Duration  `json:"elapsed_ns,omitempty"`
	Fatal   bool           `json:"fatal,omitempty"`
}

// PlayerLost marks a participant whose whole fleet was sunk.
type PlayerLost struct {
	Player board.PlayerID `json:"player"`
	By     board.PlayerID `json:"by,omitempty"`
}

type PlayerWon struct {
	Player board.PlayerID `json:"player"`
	Round  int            `json:"round"`
}

type RoundEnd struct {
	Round int `json:"round"`
}

type MatchEnd struct {
	Rounds int `json:"rounds"`
}

func (MatchBegin) Kind() Kind         { return KindMatchBegin }
func (TeamAdd) Kind() Kind            { return KindTeamAdd }
func (PlayerAdd) Kind() Kind          { return KindPlayerAdd }
func (PlayerTeamAssign) Kind() Kind   { return KindPlayerTeamAssign }
func (RoundBegin) Kind() Kind         { return KindRoundBegin }
func (ShipsPlaced) Kind() Kind        { return KindShipsPlaced }
func (TurnSwitch) Kind() Kind         { return KindTurnSwitch }
func (PlayerShot) Kind() Kind         { return KindPlayerShot }
func (ShipHit) Kind() Kind            { return KindShipHit }
func (ShipDestroyed) Kind() Kind      { return KindShipDestroyed }
func (PlayerDisqualified) Kind() Kind { return KindPlayerDisqualified }
func (PlayerLost) Kind() Kind         { return KindPlayerLost }
func (PlayerWon) Kind() Kind          { return KindPlayerWon }
func (RoundEnd) Kind() Kind           { return KindRoundEnd }
func (MatchEnd) Kind() Kind           { return KindMatchEnd }

func (MatchBegin) isEvent()         {}
func (TeamAdd) isEvent()            {}
func (PlayerAdd) isEvent()          {}
func (PlayerTeamAssign) isEvent()   {}
func (RoundBegin) isEvent()         {}
func (ShipsPlaced) isEvent()        {}
func (TurnSwitch) isEvent()         {}
func (PlayerShot) isEvent()         {}
func (ShipHit) isEvent()            {}
func (ShipDestroyed) isEvent()      {}
func (PlayerDisqualified) isEvent() {}
func (PlayerLost) isEvent()         {}
func (PlayerWon) isEvent()          {}
func (RoundEnd) isEvent()           {}
func (MatchEnd) isEvent()           {}

func (e MatchBegin) String() string {
	c := e.Config
	return fmt.Sprintf("match %s begins: %dx%d field, ships %v, %d ms per call, %s %d",
		e.MatchID, c.FieldWidth, c.FieldHeight, c.Ships, c.TimeLimitMs, c.RoundMode, c.Rounds)
}

func (e TeamAdd) String() string { return fmt.Sprintf("team %d %q formed", e.Team, e.Name) }

func (e PlayerAdd) String() string {
	if e.Version != "" {
		return fmt.Sprintf("P%d %s %s joins", e.Player, e.Name, e.Version)
	}
	return fmt.Sprintf("P%d %s joins", e.Player, e.Name)
}

func (e PlayerTeamAssign) String() string {
	return fmt.Sprintf("P%d assigned to team %d", e.Player, e.Team)
}

func (e RoundBegin) String() string {
	ids := make([]string, len(e.Order))
	for i, id := range e.Order {
		ids[i] = fmt.Sprintf("P%d", id)
	}
	return fmt.Sprintf("round %d begins, order %s", e.Round, strings.Join(ids, " "))
}

func (e ShipsPlaced) String() string {
	return fmt.Sprintf("P%d placed %d ships (%s)", e.Player, len(e.Ships), e.Elapsed)
}

func (e TurnSwitch) String() string { return fmt.Sprintf("P%d to move", e.To) }

func (e PlayerShot) String() string {
	return fmt.Sprintf("P%d fires at P%d %s (%s)", e.Player, e.Shot.Receiver, e.Shot.Coord, e.Elapsed)
}

func (e ShipHit) String() string {
	return fmt.Sprintf("P%d hits a ship of P%d at %s", e.Player, e.Receiver, e.Coord)
}

func (e ShipDestroyed) String() string {
	return fmt.Sprintf("P%d sinks the length %d ship of P%d", e.Player, e.Length, e.Receiver)
}

func (e PlayerDisqualified) String() string {
	scope := "for the round"
	if e.Fatal {
		scope = "from the match"
	}
	msg := fmt.Sprintf("P%d disqualified %s: %s", e.Player, scope, e.Code)
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	if e.Elapsed > 0 {
		msg += fmt.Sprintf(" after %s", e.Elapsed)
	}
	return msg
}

func (e PlayerLost) String() string {
	if e.By != 0 {
		return fmt.Sprintf("P%d has lost its fleet to P%d", e.Player, e.By)
	}
	return fmt.Sprintf("P%d has lost its fleet", e.Player)
}

func (e PlayerWon) String() string { return fmt.Sprintf("P%d wins round %d", e.Player, e.Round) }

func (e RoundEnd) String() string { return fmt.Sprintf("round %d ends", e.Round) }

func (e MatchEnd) String() string { return fmt.Sprintf("match over after %d rounds", e.Rounds) }

// Reversible reports whether Apply can run ev backwards.
func Reversible(ev Event) bool {
	if dq, ok := ev.(PlayerDisqualified); ok && dq.Fatal {
		return false
	}
	return true
}

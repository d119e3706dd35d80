// Package eventtest holds a short scripted match shared by log, persistence and
// replay tests.
package eventtest

import (
	"testing"
	"time"

	"broadside.gg/internal/config"
	"broadside.gg/internal/protocol"
	"broadside.gg/internal/sim/board"
	"broadside.gg/internal/sim/event"
	"broadside.gg/internal/sim/state"
)

const MatchID = "01J0TESTMATCH0000000000000"

func Config() config.Match {
	c := config.Defaults()
	c.FieldWidth, c.FieldHeight = 5, 5
	c.Ships = []int{2, 3}
	c.Rounds = 3
	c.RoundMode = config.RoundsBestOf
	c.Seed = 7
	return c
}

func ship(length, x, y int, o board.Orientation) board.Ship {
	return board.Ship{Length: length, Placed: true, Location: board.C(x, y), Orientation: o}
}

// Fleets used by the script: P1 keeps both ships on the top two rows, P2 stands a
// destroyer upright in column 3 and lays its cruiser along the bottom row.
func FleetP1() board.ShipList {
	return board.ShipList{ship(2, 0, 0, board.Horizontal), ship(3, 0, 1, board.Horizontal)}
}

func FleetP2() board.ShipList {
	return board.ShipList{ship(2, 3, 0, board.Vertical), ship(3, 0, 4, board.Horizontal)}
}

func shot(p board.PlayerID, x, y int, to board.PlayerID) event.PlayerShot {
	return event.PlayerShot{Player: p, Shot: board.Shot{Coord: board.C(x, y), Receiver: to}, Elapsed: time.Millisecond}
}

// Script is a complete two-round match: P1 sinks P2 in round one, P2 times out
// during placement in round two.
func Script() []event.Event {
	return []event.Event{
		event.MatchBegin{MatchID: MatchID, Config: Config()},
		event.TeamAdd{Team: 1, Name: "alpha", Internal: true},
		event.PlayerAdd{Player: 1, Name: "alpha", Version: "v1.0.0"},
		event.PlayerTeamAssign{Player: 1, Team: 1},
		event.TeamAdd{Team: 2, Name: "bravo", Internal: true},
		event.PlayerAdd{Player: 2, Name: "bravo", Version: "v0.3.1"},
		event.PlayerTeamAssign{Player: 2, Team: 2},

		event.RoundBegin{Round: 1, Order: []board.PlayerID{1, 2}},
		event.ShipsPlaced{Player: 1, Ships: FleetP1(), Elapsed: time.Millisecond},
		event.ShipsPlaced{Player: 2, Ships: FleetP2(), Elapsed: time.Millisecond},
		event.TurnSwitch{From: 0, To: 1},
		shot(1, 3, 0, 2),
		event.ShipHit{Player: 1, Receiver: 2, Coord: board.C(3, 0), Ship: 0},
		event.TurnSwitch{From: 1, To: 2},
		shot(2, 4, 4, 1),
		event.TurnSwitch{From: 2, To: 1},
		shot(1, 3, 1, 2),
		event.ShipHit{Player: 1, Receiver: 2, Coord: board.C(3, 1), Ship: 0},
		event.ShipDestroyed{Player: 1, Receiver: 2, Ship: 0, Length: 2},
		event.TurnSwitch{From: 1, To: 2},
		shot(2, 0, 0, 1),
		event.ShipHit{Player: 2, Receiver: 1, Coord: board.C(0, 0), Ship: 0},
		event.TurnSwitch{From: 2, To: 1},
		shot(1, 0, 4, 2),
		event.ShipHit{Player: 1, Receiver: 2, Coord: board.C(0, 4), Ship: 1},
		event.TurnSwitch{From: 1, To: 2},
		shot(2, 1, 0, 1),
		event.ShipHit{Player: 2, Receiver: 1, Coord: board.C(1, 0), Ship: 0},
		event.ShipDestroyed{Player: 2, Receiver: 1, Ship: 0, Length: 2},
		event.TurnSwitch{From: 2, To: 1},
		shot(1, 1, 4, 2),
		event.ShipHit{Player: 1, Receiver: 2, Coord: board.C(1, 4), Ship: 1},
		event.TurnSwitch{From: 1, To: 2},
		shot(2, 4, 3, 1),
		event.TurnSwitch{From: 2, To: 1},
		shot(1, 2, 4, 2),
		event.ShipHit{Player: 1, Receiver: 2, Coord: board.C(2, 4), Ship: 1},
		event.ShipDestroyed{Player: 1, Receiver: 2, Ship: 1, Length: 3},
		event.PlayerLost{Player: 2, By: 1},
		event.PlayerWon{Player: 1, Round: 1},
		event.RoundEnd{Round: 1},

		event.RoundBegin{Round: 2, Order: []board.PlayerID{2, 1}},
		event.ShipsPlaced{Player: 1, Ships: FleetP1(), Elapsed: time.Millisecond},
		event.PlayerDisqualified{Player: 2, Code: protocol.ErrTimeout, Elapsed: 500 * time.Millisecond},
		event.PlayerWon{Player: 1, Round: 2},
		event.RoundEnd{Round: 2},
		event.MatchEnd{Rounds: 2},
	}
}

// Index of the first round-two event in Script.
const RoundTwoAt = 41

// Play applies evs forward to a fresh state.
func Play(t testing.TB, evs []event.Event) *state.State {
	t.Helper()
	st := state.New()
	for i, ev := range evs {
		if err := event.Apply(st, ev, event.Forward); err != nil {
			t.Fatalf("event %d (%s): %v", i, ev.Kind(), err)
		}
	}
	return st
}

package event

import (
	"fmt"

	"broadside.gg/internal/protocol"
	"broadside.gg/internal/sim/board"
	"broadside.gg/internal/sim/state"
)

type Direction int

const (
	Forward Direction = iota
	Backward
)

func (d Direction) String() string {
	if d == Backward {
		return "backward"
	}
	return "forward"
}

// Apply runs ev against st in the given direction. Every check happens before the
// first write, so a failed Apply leaves st exactly as it was.
func Apply(st *state.State, ev Event, dir Direction) error {
	if dir == Backward {
		if !Reversible(ev) {
			return fmt.Errorf("%s: %w", ev.Kind(), ErrIrreversible)
		}
		if st.Ended && ev.Kind() != KindMatchEnd {
			return invariant(ev.Kind(), "match end must be reversed first")
		}
	} else if st.Ended {
		return invariant(ev.Kind(), "match has ended")
	}

	switch e := ev.(type) {
	case MatchBegin:
		return applyMatchBegin(st, e, dir)
	case TeamAdd:
		return applyTeamAdd(st, e, dir)
	case PlayerAdd:
		return applyPlayerAdd(st, e, dir)
	case PlayerTeamAssign:
		return applyTeamAssign(st, e, dir)
	case RoundBegin:
		return applyRoundBegin(st, e, dir)
	case ShipsPlaced:
		return applyShipsPlaced(st, e, dir)
	case TurnSwitch:
		return applyTurnSwitch(st, e, dir)
	case PlayerShot:
		return applyPlayerShot(st, e, dir)
	case ShipHit:
		return applyShipHit(st, e, dir)
	case ShipDestroyed:
		return applyShipDestroyed(st, e, dir)
	case PlayerDisqualified:
		return applyDisqualified(st, e, dir)
	case PlayerLost:
		return applyPlayerLost(st, e, dir)
	case PlayerWon:
		return applyPlayerWon(st, e, dir)
	case RoundEnd:
		return applyRoundEnd(st, e, dir)
	case MatchEnd:
		return applyMatchEnd(st, e, dir)
	default:
		return fmt.Errorf("%T: %w", ev, ErrUnknownEvent)
	}
}

func inSetup(st *state.State) bool {
	return st.Begun && !st.Ended && len(st.Rounds) == 0
}

func applyMatchBegin(st *state.State, e MatchBegin, dir Direction) error {
	if dir == Backward {
		if !st.Begun || len(st.Players) > 0 || len(st.Teams) > 0 || len(st.Rounds) > 0 {
			return invariant(e.Kind(), "match still has participants")
		}
		*st = *state.New()
		return nil
	}
	if st.Begun {
		return invariant(e.Kind(), "match already begun")
	}
	if err := e.Config.Validate(); err != nil {
		return invariant(e.Kind(), "config: %v", err)
	}
	st.MatchID = e.MatchID
	st.Config = e.Config.Clone()
	st.Begun = true
	return nil
}

func applyTeamAdd(st *state.State, e TeamAdd, dir Direction) error {
	if dir == Backward {
		t := st.Teams[e.Team]
		if t == nil || len(t.Members) > 0 {
			return invariant(e.Kind(), "team %d missing or not empty", e.Team)
		}
		delete(st.Teams, e.Team)
		return nil
	}
	if !inSetup(st) {
		return invariant(e.Kind(), "teams can only be added before the first round")
	}
	if e.Team < 1 {
		return invariant(e.Kind(), "invalid team id %d", e.Team)
	}
	if st.Teams[e.Team] != nil {
		return invariant(e.Kind(), "team %d already exists", e.Team)
	}
	st.Teams[e.Team] = &state.Team{ID: e.Team, Name: e.Name, Internal: e.Internal}
	return nil
}

func applyPlayerAdd(st *state.State, e PlayerAdd, dir Direction) error {
	if dir == Backward {
		p := st.Players[e.Player]
		if p == nil || p.Team != 0 || p.Score != 0 {
			return invariant(e.Kind(), "P%d missing or still referenced", e.Player)
		}
		delete(st.Players, e.Player)
		return nil
	}
	if !inSetup(st) {
		return invariant(e.Kind(), "players can only join before the first round")
	}
	if e.Player < 1 {
		return invariant(e.Kind(), "invalid player id %d", e.Player)
	}
	if st.Players[e.Player] != nil {
		return invariant(e.Kind(), "P%d already exists", e.Player)
	}
	st.Players[e.Player] = &state.Player{ID: e.Player, Name: e.Name, Version: e.Version}
	return nil
}

func applyTeamAssign(st *state.State, e PlayerTeamAssign, dir Direction) error {
	p := st.Players[e.Player]
	t := st.Teams[e.Team]
	if p == nil || t == nil {
		return invariant(e.Kind(), "unknown P%d or team %d", e.Player, e.Team)
	}
	if dir == Backward {
		n := len(t.Members)
		if p.Team != e.Team || n == 0 || t.Members[n-1] != e.Player {
			return invariant(e.Kind(), "P%d is not the latest member of team %d", e.Player, e.Team)
		}
		t.Members = t.Members[:n-1]
		p.Team = 0
		return nil
	}
	if !inSetup(st) {
		return invariant(e.Kind(), "teams are fixed once rounds start")
	}
	if p.Team != 0 {
		return invariant(e.Kind(), "P%d already in team %d", e.Player, p.Team)
	}
	p.Team = e.Team
	t.Members = append(t.Members, e.Player)
	return nil
}

func applyRoundBegin(st *state.State, e RoundBegin, dir Direction) error {
	if dir == Backward {
		r := st.CurrentRound()
		if r == nil || r.Number != e.Round || r.Ended || r.Current != 0 {
			return invariant(e.Kind(), "round %d is not the pristine latest round", e.Round)
		}
		for id, seat := range r.Seats {
			if seat.Placed || !seat.Active {
				return invariant(e.Kind(), "round %d: P%d seat already changed", e.Round, id)
			}
		}
		st.Rounds = st.Rounds[:len(st.Rounds)-1]
		return nil
	}
	if !st.Begun {
		return invariant(e.Kind(), "match not begun")
	}
	if r := st.CurrentRound(); r != nil && !r.Ended {
		return invariant(e.Kind(), "round %d still running", r.Number)
	}
	if e.Round != len(st.Rounds)+1 {
		return invariant(e.Kind(), "round %d out of order, expected %d", e.Round, len(st.Rounds)+1)
	}
	if len(e.Order) == 0 {
		return invariant(e.Kind(), "empty turn order")
	}
	seen := map[board.PlayerID]bool{}
	for _, id := range e.Order {
		p := st.Players[id]
		if p == nil || p.Expelled || seen[id] {
			return invariant(e.Kind(), "P%d cannot take a seat", id)
		}
		seen[id] = true
	}
	r := &state.Round{
		Number: e.Round,
		Order:  append([]board.PlayerID(nil), e.Order...),
		Seats:  make(map[board.PlayerID]*state.Seat, len(e.Order)),
	}
	for _, id := range e.Order {
		r.Seats[id] = &state.Seat{
			Player: id,
			Ships:  board.NewShipList(st.Config.Ships),
			Active: true,
		}
	}
	st.Rounds = append(st.Rounds, r)
	return nil
}

// liveSeat finds the participant's seat in the running round.
func liveSeat(st *state.State, k Kind, id board.PlayerID) (*state.Round, *state.Seat, error) {
	r := st.LiveRound()
	if r == nil {
		return nil, nil, invariant(k, "no round in progress")
	}
	seat := r.Seats[id]
	if seat == nil {
		return nil, nil, ruleErr(k, protocol.ErrUnknownTarget, "P%d has no seat in round %d", id, r.Number)
	}
	return r, seat, nil
}

func applyShipsPlaced(st *state.State, e ShipsPlaced, dir Direction) error {
	_, seat, err := liveSeat(st, e.Kind(), e.Player)
	if err != nil {
		return err
	}
	if dir == Backward {
		if !seat.Placed {
			return invariant(e.Kind(), "P%d has not placed", e.Player)
		}
		seat.Ships = board.NewShipList(st.Config.Ships)
		seat.Placed = false
		return nil
	}
	if !seat.Active || seat.Placed {
		return invariant(e.Kind(), "P%d cannot place now", e.Player)
	}
	if err := e.Ships.Validate(st.Size(), st.Config.Ships); err != nil {
		return ruleErr(e.Kind(), protocol.ErrBadLayout, "P%d: %v", e.Player, err)
	}
	ships := e.Ships.Clone()
	for i := range ships {
		ships[i].Sunk = false
	}
	seat.Ships = ships
	seat.Placed = true
	return nil
}

func applyTurnSwitch(st *state.State, e TurnSwitch, dir Direction) error {
	r := st.LiveRound()
	if r == nil {
		return invariant(e.Kind(), "no round in progress")
	}
	if dir == Backward {
		if r.Current != e.To {
			return invariant(e.Kind(), "turn is P%d, not P%d", r.Current, e.To)
		}
		r.Current = e.From
		return nil
	}
	if st.Phase() != state.PhaseTurn {
		return invariant(e.Kind(), "placement not finished")
	}
	if r.Current != e.From {
		return invariant(e.Kind(), "turn is P%d, not P%d", r.Current, e.From)
	}
	if seat := r.Seats[e.To]; seat == nil || !seat.Active {
		return invariant(e.Kind(), "P%d cannot take the turn", e.To)
	}
	r.Current = e.To
	return nil
}

// CheckShot validates a shot by shooter against the running round.
func CheckShot(st *state.State, shooter board.PlayerID, shot board.Shot) error {
	const k = KindPlayerShot
	r, seat, err := liveSeat(st, k, shooter)
	if err != nil {
		return err
	}
	if !seat.Active {
		return invariant(k, "P%d is out of the round", shooter)
	}
	if !shot.Coord.InBounds(st.Size()) {
		return ruleErr(k, protocol.ErrOutOfBounds, "%s outside %s field", shot.Coord, st.Size())
	}
	if shot.Receiver == shooter {
		return ruleErr(k, protocol.ErrSelfTarget, "P%d fired at itself", shooter)
	}
	target := r.Seats[shot.Receiver]
	if target == nil {
		return ruleErr(k, protocol.ErrUnknownTarget, "P%d is not in the round", shot.Receiver)
	}
	if !target.Active {
		return ruleErr(k, protocol.ErrDeadTarget, "P%d is out of the round", shot.Receiver)
	}
	if !st.Config.FriendlyFire && st.SameTeam(shooter, shot.Receiver) {
		return ruleErr(k, protocol.ErrFriendlyFire, "P%d and P%d are teammates", shooter, shot.Receiver)
	}
	if seat.ShotsMade.Contains(shot) {
		return ruleErr(k, protocol.ErrRepeatShot, "P%d already fired at %s", shooter, shot)
	}
	return nil
}

func applyPlayerShot(st *state.State, e PlayerShot, dir Direction) error {
	if dir == Backward {
		r := st.LiveRound()
		if r == nil {
			return invariant(e.Kind(), "no round in progress")
		}
		shooter, target := r.Seats[e.Player], r.Seats[e.Shot.Receiver]
		if shooter == nil || target == nil {
			return invariant(e.Kind(), "missing seat")
		}
		if last, ok := shooter.ShotsMade.Last(); !ok || last != e.Shot {
			return invariant(e.Kind(), "P%d last shot is not %s", e.Player, e.Shot)
		}
		if last, ok := target.ShotsReceived.Last(); !ok || last != e.Shot {
			return invariant(e.Kind(), "P%d last received shot is not %s", e.Shot.Receiver, e.Shot)
		}
		shooter.ShotsMade.RemoveLast(e.Shot)
		target.ShotsReceived.RemoveLast(e.Shot)
		return nil
	}
	if st.Phase() != state.PhaseTurn {
		return invariant(e.Kind(), "not in turn phase")
	}
	if r := st.LiveRound(); r.Current != e.Player {
		return invariant(e.Kind(), "turn is P%d, not P%d", r.Current, e.Player)
	}
	if err := CheckShot(st, e.Player, e.Shot); err != nil {
		return err
	}
	r := st.LiveRound()
	r.Seats[e.Player].ShotsMade.Add(e.Shot)
	r.Seats[e.Shot.Receiver].ShotsReceived.Add(e.Shot)
	return nil
}

func applyShipHit(st *state.State, e ShipHit, dir Direction) error {
	r, target, err := liveSeat(st, e.Kind(), e.Receiver)
	if err != nil {
		return err
	}
	shooter := r.Seats[e.Player]
	if shooter == nil {
		return invariant(e.Kind(), "P%d has no seat", e.Player)
	}
	if dir == Backward {
		if shooter.Hits < 1 {
			return invariant(e.Kind(), "P%d has no hits to undo", e.Player)
		}
		shooter.Hits--
		return nil
	}
	if e.Ship < 0 || e.Ship >= len(target.Ships) || !target.Ships[e.Ship].IsAt(e.Coord) {
		return invariant(e.Kind(), "no ship %d of P%d at %s", e.Ship, e.Receiver, e.Coord)
	}
	if last, ok := shooter.ShotsMade.Last(); !ok || last != (board.Shot{Coord: e.Coord, Receiver: e.Receiver}) {
		return invariant(e.Kind(), "hit does not follow a shot by P%d at %s", e.Player, e.Coord)
	}
	shooter.Hits++
	return nil
}

func applyShipDestroyed(st *state.State, e ShipDestroyed, dir Direction) error {
	_, target, err := liveSeat(st, e.Kind(), e.Receiver)
	if err != nil {
		return err
	}
	if e.Ship < 0 || e.Ship >= len(target.Ships) {
		return invariant(e.Kind(), "P%d has no ship %d", e.Receiver, e.Ship)
	}
	ship := &target.Ships[e.Ship]
	if dir == Backward {
		if !ship.Sunk {
			return invariant(e.Kind(), "ship %d of P%d is afloat", e.Ship, e.Receiver)
		}
		ship.Sunk = false
		return nil
	}
	if ship.Sunk || ship.Length != e.Length || !ship.IsSunk(target.ShotsReceived) {
		return invariant(e.Kind(), "ship %d of P%d cannot sink", e.Ship, e.Receiver)
	}
	ship.Sunk = true
	return nil
}

func applyDisqualified(st *state.State, e PlayerDisqualified, dir Direction) error {
	_, seat, err := liveSeat(st, e.Kind(), e.Player)
	if err != nil {
		return err
	}
	if dir == Backward {
		if !seat.Disqualified || seat.Active {
			return invariant(e.Kind(), "P%d is not disqualified", e.Player)
		}
		seat.Active = true
		seat.Disqualified = false
		seat.DQReason = ""
		return nil
	}
	if !seat.Active {
		return invariant(e.Kind(), "P%d is already out of the round", e.Player)
	}
	seat.Active = false
	seat.Disqualified = true
	seat.DQReason = e.Code
	if e.Fatal {
		st.Players[e.Player].Expelled = true
	}
	return nil
}

func applyPlayerLost(st *state.State, e PlayerLost, dir Direction) error {
	_, seat, err := liveSeat(st, e.Kind(), e.Player)
	if err != nil {
		return err
	}
	if dir == Backward {
		if !seat.Lost {
			return invariant(e.Kind(), "P%d has not lost", e.Player)
		}
		seat.Lost = false
		seat.Active = true
		return nil
	}
	if !seat.Active || !seat.Ships.AllSunk() {
		return invariant(e.Kind(), "P%d still has ships afloat", e.Player)
	}
	seat.Active = false
	seat.Lost = true
	return nil
}

func applyPlayerWon(st *state.State, e PlayerWon, dir Direction) error {
	r, seat, err := liveSeat(st, e.Kind(), e.Player)
	if err != nil {
		return err
	}
	p := st.Players[e.Player]
	if dir == Backward {
		if !seat.Won || p.Score < 1 {
			return invariant(e.Kind(), "P%d has not won", e.Player)
		}
		seat.Won = false
		p.Score--
		return nil
	}
	if e.Round != r.Number {
		return invariant(e.Kind(), "round %d is not running", e.Round)
	}
	if seat.Won || seat.Disqualified {
		return invariant(e.Kind(), "P%d cannot win round %d", e.Player, e.Round)
	}
	seat.Won = true
	p.Score++
	return nil
}

func applyRoundEnd(st *state.State, e RoundEnd, dir Direction) error {
	r := st.CurrentRound()
	if r == nil || r.Number != e.Round {
		return invariant(e.Kind(), "round %d is not the latest round", e.Round)
	}
	if dir == Backward {
		if !r.Ended {
			return invariant(e.Kind(), "round %d has not ended", e.Round)
		}
		r.Ended = false
		return nil
	}
	if r.Ended {
		return invariant(e.Kind(), "round %d already ended", e.Round)
	}
	if n := st.ActiveSides(); n > 1 {
		return invariant(e.Kind(), "round %d still has %d sides in play", e.Round, n)
	}
	r.Ended = true
	return nil
}

func applyMatchEnd(st *state.State, e MatchEnd, dir Direction) error {
	if dir == Backward {
		if !st.Ended {
			return invariant(e.Kind(), "match has not ended")
		}
		st.Ended = false
		return nil
	}
	if !st.Begun || st.LiveRound() != nil {
		return invariant(e.Kind(), "match cannot end now")
	}
	if e.Rounds != len(st.Rounds) {
		return invariant(e.Kind(), "match played %d rounds, not %d", len(st.Rounds), e.Rounds)
	}
	st.Ended = true
	return nil
}

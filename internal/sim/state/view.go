package state

import "broadside.gg/internal/sim/board"

// Register is a detached copy of one participant's record as of the current round.
// Controllers and renderers get these; nothing they do to it reaches the match.
type Register struct {
	ID      board.PlayerID
	Name    string
	Version string
	Team    TeamID
	Score   int

	Ships         board.ShipList
	ShotsMade     board.ShotList
	ShotsReceived board.ShotList
	Hits          int

	Seated       bool
	Active       bool
	Disqualified bool
	DQReason     string
	Expelled     bool

	Teammates []board.PlayerID
}

func (s *State) Register(id board.PlayerID) (Register, bool) {
	p := s.Players[id]
	if p == nil {
		return Register{}, false
	}
	r := Register{
		ID:        p.ID,
		Name:      p.Name,
		Version:   p.Version,
		Team:      p.Team,
		Score:     p.Score,
		Expelled:  p.Expelled,
		Teammates: s.Teammates(id),
	}
	if seat := s.Seat(id); seat != nil {
		r.Seated = true
		r.Ships = seat.Ships.Clone()
		r.ShotsMade = seat.ShotsMade.Clone()
		r.ShotsReceived = seat.ShotsReceived.Clone()
		r.Hits = seat.Hits
		r.Active = seat.Active
		r.Disqualified = seat.Disqualified
		r.DQReason = seat.DQReason
	} else {
		r.Ships = board.NewShipList(s.Config.Ships)
	}
	return r, true
}

func (s *State) Registers() []Register {
	out := make([]Register, 0, len(s.Players))
	for _, id := range s.PlayerIDs() {
		r, _ := s.Register(id)
		out = append(out, r)
	}
	return out
}

type Cell byte

const (
	CellWater Cell = '.'
	CellShip  Cell = '#'
	CellMiss  Cell = 'o'
	CellHit   Cell = 'x'
	CellSunk  Cell = 'X'
)

// Field renders one participant's waters as seen by the owner, indexed [y][x].
func (s *State) Field(id board.PlayerID) [][]Cell {
	w, h := s.Config.FieldWidth, s.Config.FieldHeight
	out := make([][]Cell, h)
	for y := range out {
		out[y] = make([]Cell, w)
		for x := range out[y] {
			out[y][x] = CellWater
		}
	}
	seat := s.Seat(id)
	if seat == nil {
		return out
	}
	size := s.Size()
	for _, ship := range seat.Ships {
		for _, c := range ship.Cells() {
			if c.InBounds(size) {
				out[c.Y][c.X] = CellShip
			}
		}
	}
	for _, shot := range seat.ShotsReceived.Shots() {
		c := shot.Coord
		if !c.InBounds(size) {
			continue
		}
		switch i := seat.Ships.ShipAt(c); {
		case i < 0:
			out[c.Y][c.X] = CellMiss
		case seat.Ships[i].Sunk:
			out[c.Y][c.X] = CellSunk
		default:
			out[c.Y][c.X] = CellHit
		}
	}
	return out
}

// FieldString renders Field as newline separated rows.
func (s *State) FieldString(id board.PlayerID) string {
	rows := s.Field(id)
	var buf []byte
	for _, row := range rows {
		for _, c := range row {
			buf = append(buf, byte(c))
		}
		buf = append(buf, '\n')
	}
	return string(buf)
}

// Clone deep-copies the state. Snapshots and path checks use it.
func (s *State) Clone() *State {
	out := &State{
		MatchID: s.MatchID,
		Config:  s.Config.Clone(),
		Begun:   s.Begun,
		Ended:   s.Ended,
		Players: make(map[board.PlayerID]*Player, len(s.Players)),
		Teams:   make(map[TeamID]*Team, len(s.Teams)),
		Rounds:  make([]*Round, 0, len(s.Rounds)),
	}
	for id, p := range s.Players {
		cp := *p
		out.Players[id] = &cp
	}
	for id, t := range s.Teams {
		cp := *t
		cp.Members = append([]board.PlayerID(nil), t.Members...)
		out.Teams[id] = &cp
	}
	for _, r := range s.Rounds {
		cr := &Round{
			Number:  r.Number,
			Order:   append([]board.PlayerID(nil), r.Order...),
			Seats:   make(map[board.PlayerID]*Seat, len(r.Seats)),
			Current: r.Current,
			Ended:   r.Ended,
		}
		for id, seat := range r.Seats {
			cs := *seat
			cs.Ships = seat.Ships.Clone()
			cs.ShotsMade = seat.ShotsMade.Clone()
			cs.ShotsReceived = seat.ShotsReceived.Clone()
			cr.Seats[id] = &cs
		}
		out.Rounds = append(out.Rounds, cr)
	}
	return out
}

// Normalize fills nil maps after decoding.
func (s *State) Normalize() {
	if s.Players == nil {
		s.Players = map[board.PlayerID]*Player{}
	}
	if s.Teams == nil {
		s.Teams = map[TeamID]*Team{}
	}
	for _, r := range s.Rounds {
		if r.Seats == nil {
			r.Seats = map[board.PlayerID]*Seat{}
		}
	}
}

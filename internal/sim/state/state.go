package state

import (
	"sort"

	"broadside.gg/internal/config"
	"broadside.gg/internal/sim/board"
)

type Phase string

const (
	PhaseSetup     Phase = "setup"
	PhasePlacement Phase = "placement"
	PhaseTurn      Phase = "turn"
	PhaseRoundEnd  Phase = "round_end"
	PhaseMatchEnd  Phase = "match_end"
)

type TeamID int

// Player is the match-long part of a participant's record.
type Player struct {
	ID      board.PlayerID `json:"id"`
	Name    string         `json:"name"`
	Version string         `json:"version,omitempty"`
	Team    TeamID         `json:"team"`
	Score   int            `json:"score"`

	// Expelled players sit out every remaining round.
	Expelled bool `json:"expelled,omitempty"`
}

type Team struct {
	ID       TeamID           `json:"id"`
	Name     string           `json:"name"`
	Internal bool             `json:"internal,omitempty"`
	Members  []board.PlayerID `json:"members"`
}

// Seat is the per-round part of a participant's record. A fresh seat is created for
// every round; old rounds keep theirs so the log can walk backwards across rounds.
type Seat struct {
	Player        board.PlayerID `json:"player"`
	Ships         board.ShipList `json:"ships"`
	Placed        bool           `json:"placed"`
	ShotsMade     board.ShotList `json:"shots_made"`
	ShotsReceived board.ShotList `json:"shots_received"`
	Hits          int            `json:"hits"`

	Active       bool   `json:"active"`
	Disqualified bool   `json:"disqualified,omitempty"`
	DQReason     string `json:"dq_reason,omitempty"`
	Won          bool   `json:"won,omitempty"`
	Lost         bool   `json:"lost,omitempty"`
}

type Round struct {
	Number  int                      `json:"number"`
	Order   []board.PlayerID         `json:"order"`
	Seats   map[board.PlayerID]*Seat `json:"seats"`
	Current board.PlayerID           `json:"current"`
	Ended   bool                     `json:"ended"`
}

// State is everything the event log reconstructs. Only event.Apply mutates it.
type State struct {
	MatchID string       `json:"match_id"`
	Config  config.Match `json:"config"`
	Begun   bool         `json:"begun"`
	Ended   bool         `json:"ended"`

	Players map[board.PlayerID]*Player `json:"players"`
	Teams   map[TeamID]*Team           `json:"teams"`
	Rounds  []*Round                   `json:"rounds"`
}

func New() *State {
	return &State{
		Players: map[board.PlayerID]*Player{},
		Teams:   map[TeamID]*Team{},
	}
}

// Phase is derived from the record; nothing stores it.
func (s *State) Phase() Phase {
	switch {
	case s.Ended:
		return PhaseMatchEnd
	case !s.Begun || len(s.Rounds) == 0:
		return PhaseSetup
	}
	r := s.Rounds[len(s.Rounds)-1]
	if r.Ended {
		return PhaseRoundEnd
	}
	for _, seat := range r.Seats {
		if seat.Active && !seat.Placed {
			return PhasePlacement
		}
	}
	return PhaseTurn
}

// CurrentRound returns the latest round, ended or not.
func (s *State) CurrentRound() *Round {
	if len(s.Rounds) == 0 {
		return nil
	}
	return s.Rounds[len(s.Rounds)-1]
}

// LiveRound returns the latest round if it has not ended.
func (s *State) LiveRound() *Round {
	r := s.CurrentRound()
	if r == nil || r.Ended {
		return nil
	}
	return r
}

func (s *State) Seat(id board.PlayerID) *Seat {
	r := s.CurrentRound()
	if r == nil {
		return nil
	}
	return r.Seats[id]
}

func (s *State) PlayerIDs() []board.PlayerID {
	out := make([]board.PlayerID, 0, len(s.Players))
	for id := range s.Players {
		out = append(out, id)
	}
	sortIDs(out)
	return out
}

func (s *State) TeamIDs() []TeamID {
	out := make([]TeamID, 0, len(s.Teams))
	for id := range s.Teams {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Eligible lists players that may take a seat in the next round.
func (s *State) Eligible() []board.PlayerID {
	var out []board.PlayerID
	for _, id := range s.PlayerIDs() {
		if !s.Players[id].Expelled {
			out = append(out, id)
		}
	}
	return out
}

// Active lists the participants still in play this round, in turn order.
func (s *State) Active() []board.PlayerID {
	r := s.CurrentRound()
	if r == nil {
		return nil
	}
	var out []board.PlayerID
	for _, id := range r.Order {
		if seat := r.Seats[id]; seat != nil && seat.Active {
			out = append(out, id)
		}
	}
	return out
}

// ActiveSides counts the distinct teams with at least one active participant.
func (s *State) ActiveSides() int {
	sides := map[TeamID]bool{}
	for _, id := range s.Active() {
		sides[s.teamOf(id)] = true
	}
	return len(sides)
}

// SidesOf counts distinct teams among ids.
func (s *State) SidesOf(ids []board.PlayerID) int {
	sides := map[TeamID]bool{}
	for _, id := range ids {
		sides[s.teamOf(id)] = true
	}
	return len(sides)
}

func (s *State) teamOf(id board.PlayerID) TeamID {
	p := s.Players[id]
	if p == nil {
		return 0
	}
	if p.Team == 0 {
		// Unassigned players are their own side.
		return TeamID(-int(id))
	}
	return p.Team
}

func (s *State) SameTeam(a, b board.PlayerID) bool {
	return s.teamOf(a) == s.teamOf(b)
}

func (s *State) Teammates(id board.PlayerID) []board.PlayerID {
	var out []board.PlayerID
	for _, other := range s.PlayerIDs() {
		if other != id && s.SameTeam(id, other) {
			out = append(out, other)
		}
	}
	return out
}

// BestScore is the highest score held by any team; teammates share wins.
func (s *State) BestScore() int {
	best := 0
	for _, p := range s.Players {
		if p.Score > best {
			best = p.Score
		}
	}
	return best
}

func (s *State) Scores() map[board.PlayerID]int {
	out := make(map[board.PlayerID]int, len(s.Players))
	for id, p := range s.Players {
		out[id] = p.Score
	}
	return out
}

func (s *State) Size() board.Coord {
	return board.C(s.Config.FieldWidth, s.Config.FieldHeight)
}

func sortIDs(ids []board.PlayerID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}

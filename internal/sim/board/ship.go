package board

import (
	"errors"
	"fmt"
	"sort"
)

var (
	ErrAlreadyPlaced = errors.New("ship already placed")
	ErrBadLength     = errors.New("ship length must be at least 1")
)

// Ship is a single vessel. It is created unplaced from a template length and placed
// exactly once by its owner.
type Ship struct {
	Length      int         `json:"length"`
	Placed      bool        `json:"placed"`
	Location    Coord       `json:"location"`
	Orientation Orientation `json:"orientation"`
	Sunk        bool        `json:"sunk,omitempty"`
}

func NewShip(length int) Ship { return Ship{Length: length} }

// Place fixes the ship on the field. Bounds are not checked here; see IsValid.
func (s *Ship) Place(loc Coord, o Orientation) error {
	if s.Length < 1 {
		return ErrBadLength
	}
	if s.Placed {
		return ErrAlreadyPlaced
	}
	s.Placed = true
	s.Location = loc
	s.Orientation = o
	return nil
}

// Cells returns the occupied cells in order from the bow. Unplaced ships occupy nothing.
func (s Ship) Cells() []Coord {
	if !s.Placed || s.Length < 1 {
		return nil
	}
	out := make([]Coord, s.Length)
	step := s.Orientation.step()
	c := s.Location
	for i := range out {
		out[i] = c
		c = c.Add(step)
	}
	return out
}

func (s Ship) IsAt(c Coord) bool {
	if !s.Placed {
		return false
	}
	switch s.Orientation {
	case Vertical:
		return c.X == s.Location.X && c.Y >= s.Location.Y && c.Y < s.Location.Y+s.Length
	default:
		return c.Y == s.Location.Y && c.X >= s.Location.X && c.X < s.Location.X+s.Length
	}
}

// IsValid reports whether the ship is placed with every cell inside a field of the given size.
func (s Ship) IsValid(size Coord) bool {
	if !s.Placed || s.Length < 1 {
		return false
	}
	if s.Orientation != Horizontal && s.Orientation != Vertical {
		return false
	}
	end := s.Location.Add(Coord{
		X: s.Orientation.step().X * (s.Length - 1),
		Y: s.Orientation.step().Y * (s.Length - 1),
	})
	return s.Location.InBounds(size) && end.InBounds(size)
}

// ConflictsWith reports whether both ships occupy at least one common cell.
func (s Ship) ConflictsWith(o Ship) bool {
	if !s.Placed || !o.Placed {
		return false
	}
	for _, c := range s.Cells() {
		if o.IsAt(c) {
			return true
		}
	}
	return false
}

// IsSunk is true iff the ship is placed and every occupied cell appears in shots.
// Only the coordinate of each shot is considered.
func (s Ship) IsSunk(shots ShotList) bool {
	if !s.Placed {
		return false
	}
	for _, c := range s.Cells() {
		if !shots.HasCoord(c) {
			return false
		}
	}
	return true
}

func (s Ship) String() string {
	if !s.Placed {
		return fmt.Sprintf("ship[%d] unplaced", s.Length)
	}
	return fmt.Sprintf("ship[%d] at %s %s", s.Length, s.Location, s.Orientation)
}

// ShipList is an ordered fleet. Index positions are stable for the life of a round.
type ShipList []Ship

// NewShipList creates unplaced ships from a template of lengths.
func NewShipList(lengths []int) ShipList {
	out := make(ShipList, len(lengths))
	for i, l := range lengths {
		out[i] = NewShip(l)
	}
	return out
}

func (l ShipList) Clone() ShipList {
	if l == nil {
		return nil
	}
	out := make(ShipList, len(l))
	copy(out, l)
	return out
}

func (l ShipList) Lengths() []int {
	out := make([]int, len(l))
	for i, s := range l {
		out[i] = s.Length
	}
	return out
}

// MatchesTemplate reports whether the fleet has exactly the template's lengths, in any order.
func (l ShipList) MatchesTemplate(lengths []int) bool {
	if len(l) != len(lengths) {
		return false
	}
	a := l.Lengths()
	b := append([]int(nil), lengths...)
	sort.Ints(a)
	sort.Ints(b)
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (l ShipList) AllPlaced() bool {
	for _, s := range l {
		if !s.Placed {
			return false
		}
	}
	return len(l) > 0
}

// Validate checks a submitted layout: ship count and lengths against the template,
// placement legality within the field, and pairwise non-conflict.
func (l ShipList) Validate(size Coord, template []int) error {
	if !l.MatchesTemplate(template) {
		return fmt.Errorf("fleet %v does not match template %v", l.Lengths(), template)
	}
	for i, s := range l {
		if !s.Placed {
			return fmt.Errorf("ship %d (length %d) not placed", i, s.Length)
		}
		if !s.IsValid(size) {
			return fmt.Errorf("ship %d out of bounds: %s", i, s)
		}
	}
	for i := 0; i < len(l); i++ {
		for j := i + 1; j < len(l); j++ {
			if l[i].ConflictsWith(l[j]) {
				return fmt.Errorf("ship %d conflicts with ship %d", i, j)
			}
		}
	}
	return nil
}

// ShipAt returns the index of the ship occupying c, or -1.
func (l ShipList) ShipAt(c Coord) int {
	for i, s := range l {
		if s.IsAt(c) {
			return i
		}
	}
	return -1
}

func (l ShipList) AllSunk() bool {
	for _, s := range l {
		if !s.Sunk {
			return false
		}
	}
	return len(l) > 0
}

func (l ShipList) SunkLengths() []int {
	var out []int
	for _, s := range l {
		if s.Sunk {
			out = append(out, s.Length)
		}
	}
	return out
}

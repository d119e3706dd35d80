package board

import "fmt"

// Coord is a cell position on a field. The zero value is the origin.
//
// Ordering comparisons are component-wise: a < b only when a.X < b.X AND a.Y < b.Y.
// Two coordinates can therefore be neither less, equal nor greater than each other.
type Coord struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func C(x, y int) Coord { return Coord{X: x, Y: y} }

func (c Coord) Add(o Coord) Coord { return Coord{X: c.X + o.X, Y: c.Y + o.Y} }

func (c Coord) Less(o Coord) bool      { return c.X < o.X && c.Y < o.Y }
func (c Coord) LessEq(o Coord) bool    { return c.X <= o.X && c.Y <= o.Y }
func (c Coord) Greater(o Coord) bool   { return c.X > o.X && c.Y > o.Y }
func (c Coord) GreaterEq(o Coord) bool { return c.X >= o.X && c.Y >= o.Y }

// InBounds reports whether c lies inside a field of the given size.
func (c Coord) InBounds(size Coord) bool {
	return c.GreaterEq(Coord{}) && c.Less(size)
}

func (c Coord) String() string { return fmt.Sprintf("(%d,%d)", c.X, c.Y) }

type Orientation int

const (
	Horizontal Orientation = iota
	Vertical
)

func (o Orientation) String() string {
	switch o {
	case Horizontal:
		return "horizontal"
	case Vertical:
		return "vertical"
	default:
		return "unknown"
	}
}

func (o Orientation) step() Coord {
	if o == Vertical {
		return Coord{Y: 1}
	}
	return Coord{X: 1}
}

func (o Orientation) MarshalText() ([]byte, error) {
	switch o {
	case Horizontal, Vertical:
		return []byte(o.String()), nil
	default:
		return nil, fmt.Errorf("invalid orientation %d", int(o))
	}
}

func (o *Orientation) UnmarshalText(b []byte) error {
	switch string(b) {
	case "horizontal", "h", "H":
		*o = Horizontal
	case "vertical", "v", "V":
		*o = Vertical
	default:
		return fmt.Errorf("invalid orientation %q", string(b))
	}
	return nil
}

package board

import (
	"encoding/json"
	"testing"
)

func TestCoord_ComponentWiseOrdering(t *testing.T) {
	a := C(1, 5)
	b := C(3, 2)
	if a.Less(b) || b.Less(a) {
		t.Fatalf("expected %s and %s to be unordered", a, b)
	}
	if !C(0, 0).Less(C(1, 1)) {
		t.Fatalf("expected (0,0) < (1,1)")
	}
	if C(0, 1).Less(C(1, 1)) {
		t.Fatalf("(0,1) < (1,1) must fail: Y components equal")
	}
	if !C(2, 2).GreaterEq(C(2, 0)) || C(2, 2).Greater(C(2, 0)) {
		t.Fatalf("GreaterEq/Greater mismatch")
	}
}

func TestCoord_InBounds(t *testing.T) {
	size := C(10, 10)
	cases := []struct {
		c    Coord
		want bool
	}{
		{C(0, 0), true},
		{C(9, 9), true},
		{C(10, 0), false},
		{C(0, 10), false},
		{C(-1, 3), false},
		{C(3, -1), false},
	}
	for _, tc := range cases {
		if got := tc.c.InBounds(size); got != tc.want {
			t.Fatalf("InBounds(%s)=%v want=%v", tc.c, got, tc.want)
		}
	}
}

func placed(t *testing.T, length int, at Coord, o Orientation) Ship {
	t.Helper()
	s := NewShip(length)
	if err := s.Place(at, o); err != nil {
		t.Fatalf("place: %v", err)
	}
	return s
}

func TestShip_PlaceOnce(t *testing.T) {
	s := NewShip(3)
	if err := s.Place(C(0, 0), Horizontal); err != nil {
		t.Fatalf("first place: %v", err)
	}
	if err := s.Place(C(1, 1), Vertical); err != ErrAlreadyPlaced {
		t.Fatalf("second place err=%v want=%v", err, ErrAlreadyPlaced)
	}
	bad := NewShip(0)
	if err := bad.Place(C(0, 0), Horizontal); err != ErrBadLength {
		t.Fatalf("zero length err=%v", err)
	}
}

func TestShip_CellsAndValidity(t *testing.T) {
	size := C(10, 10)
	h := placed(t, 3, C(7, 0), Horizontal)
	if !h.IsValid(size) {
		t.Fatalf("expected %s valid", h)
	}
	over := placed(t, 4, C(7, 0), Horizontal)
	if over.IsValid(size) {
		t.Fatalf("expected %s out of bounds", over)
	}
	v := placed(t, 5, C(0, 5), Vertical)
	cells := v.Cells()
	if len(cells) != 5 || cells[4] != C(0, 9) {
		t.Fatalf("unexpected cells: %v", cells)
	}
	if NewShip(2).IsValid(size) {
		t.Fatalf("unplaced ship must be invalid")
	}
}

func TestShip_ConflictsWithIsSymmetric(t *testing.T) {
	layouts := []Ship{
		placed(t, 3, C(0, 0), Horizontal),
		placed(t, 3, C(1, 0), Vertical),
		placed(t, 2, C(3, 0), Horizontal),
		placed(t, 4, C(2, 2), Vertical),
		placed(t, 5, C(0, 3), Horizontal),
		NewShip(2),
	}
	for i := range layouts {
		for j := range layouts {
			a, b := layouts[i], layouts[j]
			if a.ConflictsWith(b) != b.ConflictsWith(a) {
				t.Fatalf("asymmetric conflict between %s and %s", a, b)
			}
		}
	}
	if !layouts[0].ConflictsWith(layouts[1]) {
		t.Fatalf("expected overlap at (1,0)")
	}
	if layouts[0].ConflictsWith(layouts[2]) {
		t.Fatalf("adjacent ships must not conflict")
	}
	if !layouts[3].ConflictsWith(layouts[4]) {
		t.Fatalf("expected overlap at (2,3)")
	}
}

func TestShip_SunkAfterThirdShot(t *testing.T) {
	s := placed(t, 3, C(0, 0), Horizontal)
	var shots ShotList
	for i, c := range []Coord{C(0, 0), C(1, 0), C(2, 0)} {
		if s.IsSunk(shots) {
			t.Fatalf("sunk before shot %d", i+1)
		}
		shots.Add(Shot{Coord: c, Receiver: 2})
	}
	if !s.IsSunk(shots) {
		t.Fatalf("expected sunk after third shot")
	}
}

func TestShip_IsSunkIffAllCellsShot(t *testing.T) {
	s := placed(t, 4, C(2, 3), Vertical)
	cells := s.Cells()
	// every subset of the four cells
	for mask := 0; mask < 1<<len(cells); mask++ {
		var shots ShotList
		shots.Add(Shot{Coord: C(9, 9), Receiver: 1})
		for i, c := range cells {
			if mask&(1<<i) != 0 {
				shots.Add(Shot{Coord: c, Receiver: 1})
			}
		}
		want := mask == 1<<len(cells)-1
		if got := s.IsSunk(shots); got != want {
			t.Fatalf("mask=%b sunk=%v want=%v", mask, got, want)
		}
	}
}

func TestShipList_Validate(t *testing.T) {
	size := C(10, 10)
	template := []int{2, 3}

	good := ShipList{placed(t, 3, C(0, 0), Horizontal), placed(t, 2, C(0, 1), Horizontal)}
	if err := good.Validate(size, template); err != nil {
		t.Fatalf("good layout: %v", err)
	}

	overlap := ShipList{placed(t, 3, C(0, 0), Horizontal), placed(t, 2, C(1, 0), Vertical)}
	if err := overlap.Validate(size, template); err == nil {
		t.Fatalf("expected conflict error")
	}

	wrong := ShipList{placed(t, 3, C(0, 0), Horizontal), placed(t, 3, C(0, 1), Horizontal)}
	if err := wrong.Validate(size, template); err == nil {
		t.Fatalf("expected template mismatch")
	}

	missing := ShipList{placed(t, 3, C(0, 0), Horizontal)}
	if err := missing.Validate(size, template); err == nil {
		t.Fatalf("expected count mismatch")
	}

	unplaced := ShipList{placed(t, 3, C(0, 0), Horizontal), NewShip(2)}
	if err := unplaced.Validate(size, template); err == nil {
		t.Fatalf("expected unplaced error")
	}

	oob := ShipList{placed(t, 3, C(8, 0), Horizontal), placed(t, 2, C(0, 1), Horizontal)}
	if err := oob.Validate(size, template); err == nil {
		t.Fatalf("expected out of bounds error")
	}
}

func TestShotList_IdentityIgnoresIssuer(t *testing.T) {
	var l ShotList
	l.Add(Shot{Coord: C(1, 1), Receiver: 2})
	if !l.Contains(Shot{Coord: C(1, 1), Receiver: 2}) {
		t.Fatalf("expected contains")
	}
	if l.Contains(Shot{Coord: C(1, 1), Receiver: 3}) {
		t.Fatalf("receiver is part of identity")
	}
	if !l.RemoveLast(Shot{Coord: C(1, 1), Receiver: 2}) || l.Len() != 0 {
		t.Fatalf("remove last failed")
	}
	if l.Contains(Shot{Coord: C(1, 1), Receiver: 2}) {
		t.Fatalf("expected removed")
	}
}

func TestShotList_JSON(t *testing.T) {
	l := NewShotList(Shot{Coord: C(1, 2), Receiver: 3}, Shot{Coord: C(4, 5), Receiver: 1})
	b, err := json.Marshal(l)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got ShotList
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Len() != 2 || !got.Contains(Shot{Coord: C(4, 5), Receiver: 1}) {
		t.Fatalf("unexpected shots: %v", got.Shots())
	}
}

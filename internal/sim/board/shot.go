package board

import "fmt"

// PlayerID identifies a participant within one match. Ids start at 1; 0 means "unset".
type PlayerID int

// Shot is a single fired cell aimed at a receiving participant. The issuer is not part
// of a shot's identity, so shots can be used as keys for "already fired here" checks.
type Shot struct {
	Coord    Coord    `json:"coord"`
	Receiver PlayerID `json:"receiver"`
}

func (s Shot) String() string { return fmt.Sprintf("%s@P%d", s.Coord, s.Receiver) }

// ShotList keeps shots in firing order with constant-time membership.
// The zero value is ready to use.
type ShotList struct {
	shots []Shot
	set   map[Shot]int
}

func NewShotList(shots ...Shot) ShotList {
	var l ShotList
	for _, s := range shots {
		l.Add(s)
	}
	return l
}

func (l *ShotList) Add(s Shot) {
	if l.set == nil {
		l.set = map[Shot]int{}
	}
	l.shots = append(l.shots, s)
	l.set[s]++
}

// RemoveLast pops the most recent shot. It reports false if the last shot is not s.
func (l *ShotList) RemoveLast(s Shot) bool {
	n := len(l.shots)
	if n == 0 || l.shots[n-1] != s {
		return false
	}
	l.shots = l.shots[:n-1]
	if l.set[s] <= 1 {
		delete(l.set, s)
	} else {
		l.set[s]--
	}
	return true
}

func (l ShotList) Contains(s Shot) bool { return l.set[s] > 0 }

// HasCoord ignores the receiver; used on a receiver-local list (shots received).
func (l ShotList) HasCoord(c Coord) bool {
	for _, s := range l.shots {
		if s.Coord == c {
			return true
		}
	}
	return false
}

func (l ShotList) Len() int { return len(l.shots) }

func (l ShotList) Last() (Shot, bool) {
	if len(l.shots) == 0 {
		return Shot{}, false
	}
	return l.shots[len(l.shots)-1], true
}

// Shots returns a copy of the shots in firing order.
func (l ShotList) Shots() []Shot {
	return append([]Shot(nil), l.shots...)
}

// For returns the shots aimed at a single receiver.
func (l ShotList) For(receiver PlayerID) ShotList {
	var out ShotList
	for _, s := range l.shots {
		if s.Receiver == receiver {
			out.Add(s)
		}
	}
	return out
}

func (l ShotList) Clone() ShotList { return NewShotList(l.shots...) }

func (l ShotList) MarshalJSON() ([]byte, error) {
	return marshalShots(l.shots)
}

func (l *ShotList) UnmarshalJSON(b []byte) error {
	shots, err := unmarshalShots(b)
	if err != nil {
		return err
	}
	*l = NewShotList(shots...)
	return nil
}

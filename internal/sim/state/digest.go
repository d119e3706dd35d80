package state

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"

	"broadside.gg/internal/sim/board"
)

// Digest hashes everything replay must reproduce. Two states with equal digests are
// indistinguishable to the scheduler and to controllers.
func (s *State) Digest() string {
	h := sha256.New()
	var tmp [8]byte

	h.Write([]byte(s.MatchID))
	h.Write([]byte{boolByte(s.Begun), boolByte(s.Ended)})
	digestConfig(h, &tmp, s)
	digestPlayers(h, &tmp, s)
	digestTeams(h, &tmp, s)
	writeU64(h, &tmp, uint64(len(s.Rounds)))
	for _, r := range s.Rounds {
		digestRound(h, &tmp, r)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func writeU64(h hash.Hash, tmp *[8]byte, v uint64) {
	binary.LittleEndian.PutUint64(tmp[:], v)
	h.Write(tmp[:])
}

func writeI64(h hash.Hash, tmp *[8]byte, v int64) { writeU64(h, tmp, uint64(v)) }

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func digestConfig(h hash.Hash, tmp *[8]byte, s *State) {
	c := s.Config
	writeI64(h, tmp, int64(c.FieldWidth))
	writeI64(h, tmp, int64(c.FieldHeight))
	writeU64(h, tmp, uint64(len(c.Ships)))
	for _, l := range c.Ships {
		writeI64(h, tmp, int64(l))
	}
	writeI64(h, tmp, int64(c.TimeLimitMs))
	writeI64(h, tmp, int64(c.Rounds))
	h.Write([]byte(c.RoundMode))
	h.Write([]byte{0})
	writeI64(h, tmp, c.Seed)
	writeI64(h, tmp, int64(c.PlacementAttempts))
	h.Write([]byte{
		boolByte(c.TimeoutFatal),
		boolByte(c.FaultFatal),
		boolByte(c.ViolationFatal),
		boolByte(c.FriendlyFire),
	})
	writeU64(h, tmp, uint64(len(c.Teams)))
	for _, t := range c.Teams {
		h.Write([]byte(t.Name))
		h.Write([]byte{0})
		writeU64(h, tmp, uint64(len(t.Members)))
		for _, m := range t.Members {
			h.Write([]byte(m))
			h.Write([]byte{0})
		}
	}
}

func digestPlayers(h hash.Hash, tmp *[8]byte, s *State) {
	ids := s.PlayerIDs()
	writeU64(h, tmp, uint64(len(ids)))
	for _, id := range ids {
		p := s.Players[id]
		writeI64(h, tmp, int64(p.ID))
		h.Write([]byte(p.Name))
		h.Write([]byte{0})
		h.Write([]byte(p.Version))
		h.Write([]byte{0})
		writeI64(h, tmp, int64(p.Team))
		writeI64(h, tmp, int64(p.Score))
		h.Write([]byte{boolByte(p.Expelled)})
	}
}

func digestTeams(h hash.Hash, tmp *[8]byte, s *State) {
	ids := s.TeamIDs()
	writeU64(h, tmp, uint64(len(ids)))
	for _, id := range ids {
		t := s.Teams[id]
		writeI64(h, tmp, int64(t.ID))
		h.Write([]byte(t.Name))
		h.Write([]byte{0, boolByte(t.Internal)})
		writeU64(h, tmp, uint64(len(t.Members)))
		for _, m := range t.Members {
			writeI64(h, tmp, int64(m))
		}
	}
}

func digestRound(h hash.Hash, tmp *[8]byte, r *Round) {
	writeI64(h, tmp, int64(r.Number))
	writeI64(h, tmp, int64(r.Current))
	h.Write([]byte{boolByte(r.Ended)})
	writeU64(h, tmp, uint64(len(r.Order)))
	for _, id := range r.Order {
		writeI64(h, tmp, int64(id))
	}
	ids := make([]board.PlayerID, 0, len(r.Seats))
	for id := range r.Seats {
		ids = append(ids, id)
	}
	sortIDs(ids)
	for _, id := range ids {
		seat := r.Seats[id]
		writeI64(h, tmp, int64(id))
		h.Write([]byte{
			boolByte(seat.Placed), boolByte(seat.Active), boolByte(seat.Disqualified),
			boolByte(seat.Won), boolByte(seat.Lost),
		})
		h.Write([]byte(seat.DQReason))
		h.Write([]byte{0})
		writeI64(h, tmp, int64(seat.Hits))
		writeU64(h, tmp, uint64(len(seat.Ships)))
		for _, ship := range seat.Ships {
			writeI64(h, tmp, int64(ship.Length))
			writeI64(h, tmp, int64(ship.Location.X))
			writeI64(h, tmp, int64(ship.Location.Y))
			h.Write([]byte{byte(ship.Orientation), boolByte(ship.Placed), boolByte(ship.Sunk)})
		}
		digestShots(h, tmp, seat.ShotsMade)
		digestShots(h, tmp, seat.ShotsReceived)
	}
}

func digestShots(h hash.Hash, tmp *[8]byte, l board.ShotList) {
	shots := l.Shots()
	writeU64(h, tmp, uint64(len(shots)))
	for _, s := range shots {
		writeI64(h, tmp, int64(s.Coord.X))
		writeI64(h, tmp, int64(s.Coord.Y))
		writeI64(h, tmp, int64(s.Receiver))
	}
}

// Package randombot is the reference controller: random legal layouts, random shots,
// and a short hunt around fresh hits.
package randombot

import (
	"context"
	"errors"
	"math/rand"

	"broadside.gg/internal/sim/board"
	"broadside.gg/internal/sim/controller"
)

const (
	Name    = "randombot"
	Version = "v1.2.0"
)

var ErrNoLayout = errors.New("randombot: no legal layout found")

type Bot struct {
	controller.Base

	rng   *rand.Rand
	field board.Coord
	hunt  []board.Shot
}

func New(seed int64) *Bot {
	return &Bot{rng: rand.New(rand.NewSource(seed))}
}

func (b *Bot) NewMatch(_ context.Context, info controller.MatchInfo) error {
	b.field = board.C(info.Config.FieldWidth, info.Config.FieldHeight)
	return nil
}

func (b *Bot) NewRound(context.Context, int, []board.PlayerID) error {
	b.hunt = b.hunt[:0]
	return nil
}

func (b *Bot) PlaceShips(ctx context.Context, ships board.ShipList) (board.ShipList, error) {
	if b.field == (board.Coord{}) {
		return nil, errors.New("randombot: field size unknown")
	}
	const tries = 1000
	for attempt := 0; attempt < tries; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if out, ok := b.tryLayout(ships); ok {
			return out, nil
		}
	}
	return nil, ErrNoLayout
}

func (b *Bot) tryLayout(template board.ShipList) (board.ShipList, bool) {
	out := make(board.ShipList, 0, len(template))
	for _, proto := range template {
		s := board.NewShip(proto.Length)
		o := board.Orientation(b.rng.Intn(2))
		if err := s.Place(board.C(b.rng.Intn(b.field.X), b.rng.Intn(b.field.Y)), o); err != nil {
			return nil, false
		}
		if !s.IsValid(b.field) {
			return nil, false
		}
		for _, other := range out {
			if s.ConflictsWith(other) {
				return nil, false
			}
		}
		out = append(out, s)
	}
	return out, true
}

func (b *Bot) MakeShot(ctx context.Context, view controller.TurnView) (board.Shot, error) {
	live := view.LiveOpponents()
	if len(live) == 0 {
		return board.Shot{}, errors.New("randombot: no opponents left")
	}
	fired := board.NewShotList(view.ShotsMade...)
	alive := map[board.PlayerID]bool{}
	for _, o := range live {
		alive[o.ID] = true
	}
	for len(b.hunt) > 0 {
		s := b.hunt[len(b.hunt)-1]
		b.hunt = b.hunt[:len(b.hunt)-1]
		if alive[s.Receiver] && s.Coord.InBounds(view.Field) && !fired.Contains(s) {
			return s, nil
		}
	}
	target := live[b.rng.Intn(len(live))]
	var open []board.Coord
	for y := 0; y < view.Field.Y; y++ {
		for x := 0; x < view.Field.X; x++ {
			c := board.C(x, y)
			if !fired.Contains(board.Shot{Coord: c, Receiver: target.ID}) {
				open = append(open, c)
			}
		}
	}
	if len(open) == 0 {
		return board.Shot{}, errors.New("randombot: no open cells")
	}
	return board.Shot{Coord: open[b.rng.Intn(len(open))], Receiver: target.ID}, nil
}

// ShotHit queues the four neighbours of a hit that did not sink anything.
func (b *Bot) ShotHit(_ context.Context, shot board.Shot, sunk bool) error {
	if sunk {
		return nil
	}
	for _, d := range []board.Coord{{X: 1}, {X: -1}, {Y: 1}, {Y: -1}} {
		b.hunt = append(b.hunt, board.Shot{Coord: shot.Coord.Add(d), Receiver: shot.Receiver})
	}
	return nil
}

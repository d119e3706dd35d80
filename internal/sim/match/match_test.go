package match

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"broadside.gg/internal/bots/randombot"
	"broadside.gg/internal/config"
	"broadside.gg/internal/protocol"
	"broadside.gg/internal/sim/board"
	"broadside.gg/internal/sim/controller"
	"broadside.gg/internal/sim/event"
	"broadside.gg/internal/sim/eventlog"
	"broadside.gg/internal/sim/sandbox"
	"broadside.gg/internal/sim/state"
)

type scripted struct {
	controller.Base

	mu      sync.Mutex
	layouts []board.ShipList
	shots   []board.Shot

	block       chan struct{}
	panicOnShot bool
	newMatchErr error
	shotHitErr  error
}

func (s *scripted) NewMatch(context.Context, controller.MatchInfo) error { return s.newMatchErr }

func (s *scripted) PlaceShips(ctx context.Context, _ board.ShipList) (board.ShipList, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.layouts) == 0 {
		return nil, errors.New("out of layouts")
	}
	l := s.layouts[0]
	if len(s.layouts) > 1 {
		s.layouts = s.layouts[1:]
	}
	return l.Clone(), nil
}

func (s *scripted) MakeShot(ctx context.Context, _ controller.TurnView) (board.Shot, error) {
	if s.block != nil {
		<-s.block
	}
	if s.panicOnShot {
		panic("bot crashed")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.shots) == 0 {
		return board.Shot{}, errors.New("out of shots")
	}
	shot := s.shots[0]
	s.shots = s.shots[1:]
	return shot, nil
}

func (s *scripted) ShotHit(context.Context, board.Shot, bool) error { return s.shotHitErr }

// rowFleet lays the classic fleet out horizontally on rows top..top+4.
func rowFleet(top int) board.ShipList {
	var out board.ShipList
	for i, l := range []int{2, 3, 3, 4, 5} {
		out = append(out, board.Ship{Length: l, Placed: true, Location: board.C(0, top+i), Orientation: board.Horizontal})
	}
	return out
}

func sweep(from board.Coord, n int, receiver board.PlayerID) []board.Shot {
	var out []board.Shot
	for i := 0; i < n; i++ {
		out = append(out, board.Shot{Coord: board.C(from.X-i%10, from.Y-i/10), Receiver: receiver})
	}
	return out
}

func oneRound() config.Match {
	cfg := config.Defaults()
	cfg.Rounds = 1
	cfg.RoundMode = config.RoundsAll
	return cfg
}

func newMatch(t *testing.T, cfg config.Match, entrants ...Entrant) *Match {
	t.Helper()
	logger := zaptest.NewLogger(t)
	m, err := New(Context{Logger: logger, Sandbox: sandbox.New(logger)}, "m-test", cfg, entrants, eventlog.Options{})
	if err != nil {
		t.Fatalf("new match: %v", err)
	}
	return m
}

func events(m *Match) []event.Event {
	var out []event.Event
	for _, e := range m.Log().Since(0, 0) {
		out = append(out, e.Event)
	}
	return out
}

func find[T event.Event](evs []event.Event) []T {
	var out []T
	for _, ev := range evs {
		if v, ok := ev.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

func TestRun_DoubleShotDisqualifies(t *testing.T) {
	a := &scripted{
		layouts: []board.ShipList{rowFleet(0)},
		shots:   []board.Shot{{Coord: board.C(0, 0)}, {Coord: board.C(0, 0)}},
	}
	b := &scripted{
		layouts: []board.ShipList{rowFleet(5)},
		shots:   sweep(board.C(9, 9), 10, 1),
	}
	m := newMatch(t, oneRound(), Entrant{Name: "A", Controller: a}, Entrant{Name: "B", Controller: b})
	res, err := m.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	evs := events(m)
	dqs := find[event.PlayerDisqualified](evs)
	if len(dqs) != 1 || dqs[0].Player != 1 || dqs[0].Code != protocol.ErrRepeatShot {
		t.Fatalf("disqualifications=%+v", dqs)
	}
	won := find[event.PlayerWon](evs)
	if len(won) != 1 || won[0].Player != 2 {
		t.Fatalf("winners=%+v", won)
	}
	if res.Scores[2] != 1 || res.Scores[1] != 0 {
		t.Fatalf("scores=%v", res.Scores)
	}
	shots := find[event.PlayerShot](evs)
	for _, s := range shots {
		if s.Player == 1 && s.Shot.Receiver != 2 {
			t.Fatalf("unaddressed shot not defaulted: %+v", s)
		}
	}
	if _, ok := evs[len(evs)-1].(event.MatchEnd); !ok {
		t.Fatalf("last event %s", evs[len(evs)-1].Kind())
	}
}

func TestRun_TimeoutDisqualifiesWithinDeadline(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	cfg := oneRound()
	cfg.TimeLimitMs = 500
	a := &scripted{layouts: []board.ShipList{rowFleet(0)}, block: release}
	b := &scripted{layouts: []board.ShipList{rowFleet(5)}, shots: sweep(board.C(9, 9), 10, 1)}
	m := newMatch(t, cfg, Entrant{Name: "A", Controller: a}, Entrant{Name: "B", Controller: b})

	start := time.Now()
	if _, err := m.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if wall := time.Since(start); wall > cfg.TimeLimit()+time.Second {
		t.Fatalf("match took %v", wall)
	}
	dqs := find[event.PlayerDisqualified](events(m))
	if len(dqs) != 1 || dqs[0].Code != protocol.ErrTimeout || dqs[0].Player != 1 {
		t.Fatalf("disqualifications=%+v", dqs)
	}
	if dqs[0].Elapsed < cfg.TimeLimit() {
		t.Fatalf("elapsed %v below limit", dqs[0].Elapsed)
	}
	won := find[event.PlayerWon](events(m))
	if len(won) != 1 || won[0].Player != 2 {
		t.Fatalf("winners=%+v", won)
	}
}

func TestRun_NoSurvivorNoWinner(t *testing.T) {
	cfg := oneRound()
	cfg.FieldWidth, cfg.FieldHeight = 2, 2
	cfg.Ships = []int{1}
	single := func(x, y int) board.ShipList {
		return board.ShipList{{Length: 1, Placed: true, Location: board.C(x, y)}}
	}
	a := &scripted{
		layouts:    []board.ShipList{single(1, 1)},
		shots:      []board.Shot{{Coord: board.C(0, 0), Receiver: 2}},
		shotHitErr: errors.New("cannot handle success"),
	}
	b := &scripted{
		layouts: []board.ShipList{single(0, 0)},
		shots:   []board.Shot{{Coord: board.C(0, 1), Receiver: 1}},
	}
	m := newMatch(t, cfg, Entrant{Name: "A", Controller: a}, Entrant{Name: "B", Controller: b})
	if _, err := m.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	evs := events(m)
	if won := find[event.PlayerWon](evs); len(won) != 0 {
		t.Fatalf("unexpected winners %+v", won)
	}
	if ends := find[event.RoundEnd](evs); len(ends) != 1 {
		t.Fatalf("round ends=%d", len(ends))
	}
	if lost := find[event.PlayerLost](evs); len(lost) != 1 || lost[0].Player != 2 {
		t.Fatalf("lost=%+v", lost)
	}
	dqs := find[event.PlayerDisqualified](evs)
	if len(dqs) != 1 || dqs[0].Player != 1 || dqs[0].Code != protocol.ErrFault {
		t.Fatalf("disqualifications=%+v", dqs)
	}
}

func TestRun_FailedNewMatchIsDeferredToFirstRound(t *testing.T) {
	a := &scripted{layouts: []board.ShipList{rowFleet(0)}, newMatchErr: errors.New("not ready")}
	b := &scripted{layouts: []board.ShipList{rowFleet(5)}, shots: sweep(board.C(9, 9), 10, 1)}
	m := newMatch(t, oneRound(), Entrant{Name: "A", Controller: a}, Entrant{Name: "B", Controller: b})
	if _, err := m.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	evs := events(m)
	for i, ev := range evs {
		if _, ok := ev.(event.RoundBegin); ok {
			dq, ok := evs[i+1].(event.PlayerDisqualified)
			if !ok || dq.Player != 1 || !strings.HasPrefix(dq.Detail, protocol.MethodNewMatch) {
				t.Fatalf("event after round begin: %s", evs[i+1])
			}
			return
		}
	}
	t.Fatalf("no round began")
}

func TestRun_PlacementAttempts(t *testing.T) {
	bad := rowFleet(0)
	bad[1].Location = board.C(0, 0)
	cfg := oneRound()
	cfg.PlacementAttempts = 2
	// A needs its second attempt, B never manages, C is fine from the start.
	a := &scripted{layouts: []board.ShipList{bad, rowFleet(0)}, shots: sweep(board.C(9, 9), 100, 0)}
	b := &scripted{layouts: []board.ShipList{bad}}
	c := &scripted{layouts: []board.ShipList{rowFleet(5)}, shots: sweep(board.C(9, 9), 100, 0)}
	m := newMatch(t, cfg,
		Entrant{Name: "A", Controller: a},
		Entrant{Name: "B", Controller: b},
		Entrant{Name: "C", Controller: c},
	)
	if _, err := m.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	evs := events(m)
	placed := map[board.PlayerID]bool{}
	for _, p := range find[event.ShipsPlaced](evs) {
		placed[p.Player] = true
	}
	if len(placed) != 2 || !placed[1] || !placed[3] {
		t.Fatalf("placed=%v", placed)
	}
	dqs := find[event.PlayerDisqualified](evs)
	if len(dqs) != 1 || dqs[0].Player != 2 || dqs[0].Code != protocol.ErrBadLayout {
		t.Fatalf("disqualifications=%+v", dqs)
	}
	if won := find[event.PlayerWon](evs); len(won) != 1 || won[0].Player == 2 {
		t.Fatalf("winners=%+v", won)
	}
}

func TestRun_FatalFaultExpelsForTheMatch(t *testing.T) {
	cfg := config.Defaults()
	cfg.Rounds = 3
	cfg.RoundMode = config.RoundsAll
	cfg.FaultFatal = true
	a := &scripted{layouts: []board.ShipList{rowFleet(0)}, panicOnShot: true}
	b := &scripted{layouts: []board.ShipList{rowFleet(5)}, shots: sweep(board.C(9, 9), 10, 1)}
	m := newMatch(t, cfg, Entrant{Name: "A", Controller: a}, Entrant{Name: "B", Controller: b})
	res, err := m.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Rounds != 1 {
		t.Fatalf("expected the match to stop after the expulsion, played %d", res.Rounds)
	}
	dqs := find[event.PlayerDisqualified](events(m))
	if len(dqs) != 1 || !dqs[0].Fatal || dqs[0].Code != protocol.ErrFault {
		t.Fatalf("disqualifications=%+v", dqs)
	}
	if err := m.Log().SeekTo(0); !errors.Is(err, eventlog.ErrIrreversible) {
		t.Fatalf("expected irreversible seek, got %v", err)
	}
}

func randomEntrants(n int, seed int64) []Entrant {
	out := make([]Entrant, n)
	for i := range out {
		out[i] = Entrant{Name: randombot.Name, Version: randombot.Version, Controller: randombot.New(seed + int64(i))}
	}
	return out
}

func TestRun_DeterministicReplay(t *testing.T) {
	cfg := config.Defaults()
	cfg.Seed = 11
	run := func() (*Match, Result) {
		m := newMatch(t, cfg, randomEntrants(2, 100)...)
		res, err := m.Run(context.Background())
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		return m, res
	}
	m1, r1 := run()
	_, r2 := run()
	if r1.Digest != r2.Digest || r1.Events != r2.Events {
		t.Fatalf("same seeds diverged: %s/%d vs %s/%d", r1.Digest, r1.Events, r2.Digest, r2.Events)
	}
	rebuilt, err := m1.Log().Rebuild(m1.Log().Len())
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if rebuilt.Digest() != r1.Digest {
		t.Fatalf("replay from empty differs from live state")
	}
	best := 0
	for _, s := range r1.Scores {
		if s > best {
			best = s
		}
	}
	if best < 2 || r1.Rounds > 3 {
		t.Fatalf("best_of 3 ended with best=%d after %d rounds", best, r1.Rounds)
	}

	mid := m1.Log().Len() / 2
	if err := m1.Log().SeekTo(mid); err != nil {
		t.Fatalf("seek back: %v", err)
	}
	want, _ := m1.Log().Rebuild(mid)
	var got string
	m1.Log().View(func(st *state.State, _ int) { got = st.Digest() })
	if got != want.Digest() {
		t.Fatalf("seek %d digest mismatch", mid)
	}
}

func TestRun_TeamsShareWins(t *testing.T) {
	cfg := config.Defaults()
	cfg.Rounds = 1
	cfg.RoundMode = config.RoundsAll
	cfg.Teams = []config.TeamSpec{{Name: "red", Members: []string{"r1", "r2"}}}
	entrants := []Entrant{
		{Name: "r1", Controller: randombot.New(1)},
		{Name: "r2", Controller: randombot.New(2)},
		{Name: "blue", Controller: randombot.New(3)},
	}
	m := newMatch(t, cfg, entrants...)
	res, err := m.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	evs := events(m)
	for _, dq := range find[event.PlayerDisqualified](evs) {
		t.Fatalf("unexpected disqualification: %s", dq)
	}
	won := find[event.PlayerWon](evs)
	if len(won) == 0 {
		t.Fatalf("no winner")
	}
	if won[0].Player == 3 {
		if len(won) != 1 {
			t.Fatalf("blue plays alone: %+v", won)
		}
	} else if len(won) != 2 || res.Scores[1] != 1 || res.Scores[2] != 1 {
		t.Fatalf("red should win together: %+v scores=%v", won, res.Scores)
	}
}

func TestNew_RejectsSingleSide(t *testing.T) {
	cfg := config.Defaults()
	cfg.Teams = []config.TeamSpec{{Name: "all", Members: []string{randombot.Name}}}
	_, err := New(Context{}, "solo", cfg, randomEntrants(2, 1), eventlog.Options{})
	if !errors.Is(err, ErrTooFewEntrants) {
		t.Fatalf("expected too few entrants, got %v", err)
	}
	if _, err := New(Context{}, "one", config.Defaults(), randomEntrants(1, 1), eventlog.Options{}); !errors.Is(err, ErrTooFewEntrants) {
		t.Fatalf("expected too few entrants, got %v", err)
	}
}

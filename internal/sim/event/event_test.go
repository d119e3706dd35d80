package event_test

import (
	"errors"
	"testing"

	"broadside.gg/internal/protocol"
	"broadside.gg/internal/sim/board"
	"broadside.gg/internal/sim/event"
	"broadside.gg/internal/sim/event/eventtest"
	"broadside.gg/internal/sim/state"
)

func TestScript_PlaysToMatchEnd(t *testing.T) {
	st := eventtest.Play(t, eventtest.Script())
	if st.Phase() != state.PhaseMatchEnd {
		t.Fatalf("phase=%s", st.Phase())
	}
	if st.Players[1].Score != 2 || st.Players[2].Score != 0 {
		t.Fatalf("scores=%v", st.Scores())
	}
	r1 := st.Rounds[0]
	if !r1.Seats[2].Lost || r1.Seats[2].Active || !r1.Seats[2].Ships.AllSunk() {
		t.Fatalf("P2 should have lost round 1: %+v", r1.Seats[2])
	}
	if r1.Seats[1].Hits != 5 || r1.Seats[2].Hits != 2 {
		t.Fatalf("hits=%d/%d", r1.Seats[1].Hits, r1.Seats[2].Hits)
	}
	if dq := st.Rounds[1].Seats[2]; !dq.Disqualified || dq.DQReason != protocol.ErrTimeout {
		t.Fatalf("P2 should be disqualified in round 2: %+v", dq)
	}
}

func TestApply_BackwardRetracesForward(t *testing.T) {
	evs := eventtest.Script()
	st := state.New()
	digests := []string{st.Digest()}
	for _, ev := range evs {
		if err := event.Apply(st, ev, event.Forward); err != nil {
			t.Fatalf("forward %s: %v", ev.Kind(), err)
		}
		digests = append(digests, st.Digest())
	}
	for i := len(evs) - 1; i >= 0; i-- {
		if err := event.Apply(st, evs[i], event.Backward); err != nil {
			t.Fatalf("backward %d %s: %v", i, evs[i].Kind(), err)
		}
		if got := st.Digest(); got != digests[i] {
			t.Fatalf("digest after reversing %d (%s) = %s want %s", i, evs[i].Kind(), got, digests[i])
		}
	}
}

// playUntilTurn returns a state where P1 is to move in round one.
func playUntilTurn(t *testing.T) *state.State {
	t.Helper()
	evs := eventtest.Script()
	for i, ev := range evs {
		if _, ok := ev.(event.PlayerShot); ok {
			return eventtest.Play(t, evs[:i])
		}
	}
	t.Fatalf("script has no shots")
	return nil
}

func TestApply_ShotViolationsLeaveStateUnchanged(t *testing.T) {
	cases := []struct {
		name string
		shot board.Shot
		code string
	}{
		{"out of bounds", board.Shot{Coord: board.C(5, 0), Receiver: 2}, protocol.ErrOutOfBounds},
		{"negative", board.Shot{Coord: board.C(-1, 2), Receiver: 2}, protocol.ErrOutOfBounds},
		{"self", board.Shot{Coord: board.C(1, 1), Receiver: 1}, protocol.ErrSelfTarget},
		{"unknown", board.Shot{Coord: board.C(1, 1), Receiver: 9}, protocol.ErrUnknownTarget},
	}
	for _, tc := range cases {
		st := playUntilTurn(t)
		before := st.Digest()
		err := event.Apply(st, event.PlayerShot{Player: 1, Shot: tc.shot}, event.Forward)
		if !errors.Is(err, event.ErrRuleViolation) {
			t.Fatalf("%s: err=%v", tc.name, err)
		}
		if got := event.CodeOf(err); got != tc.code {
			t.Fatalf("%s: code=%s want %s", tc.name, got, tc.code)
		}
		if st.Digest() != before {
			t.Fatalf("%s: state changed by rejected shot", tc.name)
		}
	}
}

func TestApply_DoubleShotIsRepeat(t *testing.T) {
	st := playUntilTurn(t)
	first := event.PlayerShot{Player: 1, Shot: board.Shot{Coord: board.C(0, 0), Receiver: 2}}
	if err := event.Apply(st, first, event.Forward); err != nil {
		t.Fatalf("first shot: %v", err)
	}
	for _, ev := range []event.Event{
		event.TurnSwitch{From: 1, To: 2},
		event.PlayerShot{Player: 2, Shot: board.Shot{Coord: board.C(4, 4), Receiver: 1}},
		event.TurnSwitch{From: 2, To: 1},
	} {
		if err := event.Apply(st, ev, event.Forward); err != nil {
			t.Fatalf("%s: %v", ev.Kind(), err)
		}
	}
	err := event.Apply(st, first, event.Forward)
	if event.CodeOf(err) != protocol.ErrRepeatShot {
		t.Fatalf("expected repeat shot, got %v", err)
	}
}

func TestApply_OutOfTurnShotRejected(t *testing.T) {
	st := playUntilTurn(t)
	err := event.Apply(st, event.PlayerShot{Player: 2, Shot: board.Shot{Coord: board.C(0, 0), Receiver: 1}}, event.Forward)
	if err == nil {
		t.Fatalf("expected out of turn error")
	}
}

func TestApply_InvariantsAreNotRuleViolations(t *testing.T) {
	st := playUntilTurn(t)
	outOfTurn := event.PlayerShot{Player: 2, Shot: board.Shot{Coord: board.C(0, 0), Receiver: 1}}
	ended := eventtest.Play(t, eventtest.Script())
	cases := map[string]error{
		"out of turn":     event.Apply(st, outOfTurn, event.Forward),
		"after match end": event.Apply(ended, event.RoundBegin{Round: 3, Order: []board.PlayerID{1, 2}}, event.Forward),
		"round end early": event.Apply(st, event.RoundEnd{Round: 1}, event.Forward),
	}
	for name, err := range cases {
		if !errors.Is(err, event.ErrInvariant) {
			t.Fatalf("%s: expected invariant error, got %v", name, err)
		}
		if errors.Is(err, event.ErrRuleViolation) {
			t.Fatalf("%s: invariant failure reads as a rule violation", name)
		}
		if code := event.CodeOf(err); code != protocol.ErrInternal {
			t.Fatalf("%s: code=%s", name, code)
		}
	}

	oob := event.Apply(st, event.PlayerShot{Player: 1, Shot: board.Shot{Coord: board.C(9, 9), Receiver: 2}}, event.Forward)
	if !errors.Is(oob, event.ErrRuleViolation) || errors.Is(oob, event.ErrInvariant) {
		t.Fatalf("out of bounds shot: %v", oob)
	}
}

func TestApply_FriendlyFire(t *testing.T) {
	cfg := eventtest.Config()
	evs := []event.Event{
		event.MatchBegin{MatchID: "ff", Config: cfg},
		event.TeamAdd{Team: 1, Name: "red"},
		event.TeamAdd{Team: 2, Name: "blue"},
	}
	for id := board.PlayerID(1); id <= 3; id++ {
		team := state.TeamID(1)
		if id == 3 {
			team = 2
		}
		evs = append(evs, event.PlayerAdd{Player: id, Name: "p"}, event.PlayerTeamAssign{Player: id, Team: team})
	}
	evs = append(evs,
		event.RoundBegin{Round: 1, Order: []board.PlayerID{1, 2, 3}},
		event.ShipsPlaced{Player: 1, Ships: eventtest.FleetP1()},
		event.ShipsPlaced{Player: 2, Ships: eventtest.FleetP2()},
		event.ShipsPlaced{Player: 3, Ships: eventtest.FleetP1()},
		event.TurnSwitch{From: 0, To: 1},
	)
	st := eventtest.Play(t, evs)
	mate := board.Shot{Coord: board.C(0, 0), Receiver: 2}
	if code := event.CodeOf(event.CheckShot(st, 1, mate)); code != protocol.ErrFriendlyFire {
		t.Fatalf("code=%s", code)
	}
	if err := event.CheckShot(st, 1, board.Shot{Coord: board.C(0, 0), Receiver: 3}); err != nil {
		t.Fatalf("enemy shot: %v", err)
	}
	st.Config.FriendlyFire = true
	if err := event.CheckShot(st, 1, mate); err != nil {
		t.Fatalf("friendly fire enabled: %v", err)
	}
	if got := st.ActiveSides(); got != 2 {
		t.Fatalf("active sides=%d", got)
	}
}

func TestApply_BadLayoutRejected(t *testing.T) {
	evs := eventtest.Script()
	st := eventtest.Play(t, evs[:8])
	overlap := board.ShipList{eventtest.FleetP1()[1], eventtest.FleetP1()[1]}
	overlap[0].Length = 2
	err := event.Apply(st, event.ShipsPlaced{Player: 1, Ships: overlap}, event.Forward)
	if event.CodeOf(err) != protocol.ErrBadLayout {
		t.Fatalf("expected bad layout, got %v", err)
	}
	if st.Seat(1).Placed {
		t.Fatalf("seat placed after rejected layout")
	}
}

func TestApply_FatalDisqualificationIsIrreversible(t *testing.T) {
	evs := eventtest.Script()
	st := eventtest.Play(t, evs[:eventtest.RoundTwoAt+2])
	dq := event.PlayerDisqualified{Player: 2, Code: protocol.ErrFault, Fatal: true}
	if event.Reversible(dq) {
		t.Fatalf("fatal disqualification reported reversible")
	}
	if err := event.Apply(st, dq, event.Forward); err != nil {
		t.Fatalf("dq: %v", err)
	}
	if !st.Players[2].Expelled {
		t.Fatalf("expected expelled")
	}
	before := st.Digest()
	if err := event.Apply(st, dq, event.Backward); !errors.Is(err, event.ErrIrreversible) {
		t.Fatalf("expected irreversible, got %v", err)
	}
	if st.Digest() != before {
		t.Fatalf("state changed by refused reversal")
	}
	if err := event.Apply(st, event.RoundEnd{Round: 2}, event.Forward); err != nil {
		t.Fatalf("round end: %v", err)
	}
	if got := st.Eligible(); len(got) != 1 || got[0] != 1 {
		t.Fatalf("eligible=%v", got)
	}
}

func TestApply_RoundEndNeedsSingleSide(t *testing.T) {
	st := playUntilTurn(t)
	if err := event.Apply(st, event.RoundEnd{Round: 1}, event.Forward); err == nil {
		t.Fatalf("round ended with two sides in play")
	}
}

func TestApply_NothingAfterMatchEnd(t *testing.T) {
	st := eventtest.Play(t, eventtest.Script())
	if err := event.Apply(st, event.RoundBegin{Round: 3, Order: []board.PlayerID{1, 2}}, event.Forward); err == nil {
		t.Fatalf("expected error after match end")
	}
}

func TestCodec_ReplayDecodedScript(t *testing.T) {
	evs := eventtest.Script()
	decoded := make([]event.Event, 0, len(evs))
	for _, ev := range evs {
		b, err := event.Marshal(ev)
		if err != nil {
			t.Fatalf("marshal %s: %v", ev.Kind(), err)
		}
		got, err := event.Unmarshal(b)
		if err != nil {
			t.Fatalf("unmarshal %s: %v", ev.Kind(), err)
		}
		if got.Kind() != ev.Kind() || got.String() != ev.String() {
			t.Fatalf("decoded %q, want %q", got, ev)
		}
		decoded = append(decoded, got)
	}
	want := eventtest.Play(t, evs).Digest()
	if got := eventtest.Play(t, decoded).Digest(); got != want {
		t.Fatalf("decoded replay digest %s want %s", got, want)
	}
	if _, err := event.Unmarshal([]byte(`{"kind":"NOPE","data":{}}`)); !errors.Is(err, event.ErrUnknownEvent) {
		t.Fatalf("expected unknown event, got %v", err)
	}
}

func TestMessages(t *testing.T) {
	for _, ev := range eventtest.Script() {
		if ev.String() == "" {
			t.Fatalf("%s has empty message", ev.Kind())
		}
	}
	dq := event.PlayerDisqualified{Player: 3, Code: protocol.ErrRepeatShot, Detail: "(0,0)@P1", Fatal: true}
	if got := dq.String(); got != "P3 disqualified from the match: E_REPEAT_SHOT ((0,0)@P1)" {
		t.Fatalf("message=%q", got)
	}
}

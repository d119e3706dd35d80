package match

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"broadside.gg/internal/protocol"
	"broadside.gg/internal/sim/board"
	"broadside.gg/internal/sim/controller"
	"broadside.gg/internal/sim/event"
	"broadside.gg/internal/sim/sandbox"
	"broadside.gg/internal/sim/state"
)

func (m *Match) playRound(ctx context.Context, round int, eligible []board.PlayerID) error {
	order := append([]board.PlayerID(nil), eligible...)
	// Turn order is fixed once per round.
	m.rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	if err := m.must(event.RoundBegin{Round: round, Order: order}); err != nil {
		return err
	}
	m.logger.Debug("round started", zap.Int("round", round), zap.Any("order", order))

	for _, pid := range order {
		dq, ok := m.pending[pid]
		if !ok {
			continue
		}
		delete(m.pending, pid)
		if err := m.must(dq); err != nil {
			return err
		}
	}
	for pid := range m.pending {
		// Expelled before the deferred penalty could land.
		delete(m.pending, pid)
	}

	for _, pid := range order {
		if !m.isActive(pid) {
			continue
		}
		if err := m.notify(ctx, pid, protocol.MethodNewRound, func(ctx context.Context, c controller.Controller) error {
			return c.NewRound(ctx, round, append([]board.PlayerID(nil), order...))
		}); err != nil {
			return err
		}
	}

	if m.sides() > 1 {
		if err := m.placement(ctx, order); err != nil {
			return err
		}
	}
	if m.sides() > 1 {
		if err := m.turns(ctx); err != nil {
			return err
		}
	}
	return m.endRound(ctx, round, order)
}

func (m *Match) sides() int {
	var n int
	m.log.View(func(st *state.State, _ int) { n = st.ActiveSides() })
	return n
}

func (m *Match) isActive(pid board.PlayerID) bool {
	active := false
	m.log.View(func(st *state.State, _ int) {
		if seat := st.Seat(pid); seat != nil && st.LiveRound() != nil {
			active = seat.Active
		}
	})
	return active
}

func (m *Match) placement(ctx context.Context, order []board.PlayerID) error {
	for _, pid := range order {
		if m.sides() < 2 {
			return nil
		}
		if !m.isActive(pid) {
			continue
		}
		if err := m.place(ctx, pid); err != nil {
			return err
		}
	}
	return nil
}

func (m *Match) place(ctx context.Context, pid board.PlayerID) error {
	var lastErr error
	for attempt := 1; attempt <= m.cfg.PlacementAttempts; attempt++ {
		out := sandbox.Invoke(ctx, m.sb, m.cfg.TimeLimit(), m.names[pid], func(ctx context.Context) (board.ShipList, error) {
			return m.ctl[pid].PlaceShips(ctx, board.NewShipList(m.cfg.Ships))
		})
		if !out.OK() {
			return m.disqualifyOutcome(pid, out.Err, out.Elapsed)
		}
		err := m.append(event.ShipsPlaced{Player: pid, Ships: out.Value, Elapsed: out.Elapsed})
		if err == nil {
			return nil
		}
		if !errors.Is(err, event.ErrRuleViolation) || event.CodeOf(err) != protocol.ErrBadLayout {
			return err
		}
		lastErr = err
		m.logger.Info("invalid layout", zap.Int64("player", int64(pid)), zap.Int("attempt", attempt), zap.Error(err))
	}
	return m.disqualify(pid, protocol.ErrBadLayout, lastErr.Error(), 0)
}

func (m *Match) turns(ctx context.Context) error {
	var first board.PlayerID
	m.log.View(func(st *state.State, _ int) {
		if active := st.Active(); len(active) > 0 {
			first = active[0]
		}
	})
	if err := m.must(event.TurnSwitch{From: 0, To: first}); err != nil {
		return err
	}
	for m.sides() > 1 {
		if err := ctx.Err(); err != nil {
			return err
		}
		var cur board.PlayerID
		m.log.View(func(st *state.State, _ int) { cur = st.LiveRound().Current })
		if err := m.turn(ctx, cur); err != nil {
			return err
		}
		if m.sides() < 2 {
			break
		}
		next := m.nextActive(cur)
		if err := m.must(event.TurnSwitch{From: cur, To: next}); err != nil {
			return err
		}
	}
	return nil
}

// nextActive walks the round's order cyclically from cur. cur itself may no
// longer be active.
func (m *Match) nextActive(cur board.PlayerID) board.PlayerID {
	var next board.PlayerID
	m.log.View(func(st *state.State, _ int) {
		r := st.LiveRound()
		at := 0
		for i, id := range r.Order {
			if id == cur {
				at = i
			}
		}
		for step := 1; step <= len(r.Order); step++ {
			id := r.Order[(at+step)%len(r.Order)]
			if r.Seats[id].Active {
				next = id
				return
			}
		}
	})
	return next
}

func (m *Match) turn(ctx context.Context, shooter board.PlayerID) error {
	var view controller.TurnView
	m.log.View(func(st *state.State, _ int) { view = controller.NewTurnView(st, shooter) })
	out := sandbox.Invoke(ctx, m.sb, m.cfg.TimeLimit(), m.names[shooter], func(ctx context.Context) (board.Shot, error) {
		return m.ctl[shooter].MakeShot(ctx, view)
	})
	if !out.OK() {
		return m.disqualifyOutcome(shooter, out.Err, out.Elapsed)
	}
	shot := out.Value
	if shot.Receiver == 0 {
		shot.Receiver = m.soleOpponent(shooter)
	}
	if err := m.append(event.PlayerShot{Player: shooter, Shot: shot, Elapsed: out.Elapsed}); err != nil {
		if !errors.Is(err, event.ErrRuleViolation) {
			return err
		}
		return m.disqualify(shooter, event.CodeOf(err), err.Error(), out.Elapsed)
	}

	var (
		ship      = -1
		length    int
		sunk      bool
		fleetDown bool
	)
	m.log.View(func(st *state.State, _ int) {
		seat := st.Seat(shot.Receiver)
		ship = seat.Ships.ShipAt(shot.Coord)
		if ship >= 0 {
			length = seat.Ships[ship].Length
		}
	})
	if ship >= 0 {
		if err := m.must(event.ShipHit{Player: shooter, Receiver: shot.Receiver, Coord: shot.Coord, Ship: ship}); err != nil {
			return err
		}
		m.log.View(func(st *state.State, _ int) {
			seat := st.Seat(shot.Receiver)
			sunk = !seat.Ships[ship].Sunk && seat.Ships[ship].IsSunk(seat.ShotsReceived)
		})
		if sunk {
			if err := m.must(event.ShipDestroyed{Player: shooter, Receiver: shot.Receiver, Ship: ship, Length: length}); err != nil {
				return err
			}
			m.log.View(func(st *state.State, _ int) { fleetDown = st.Seat(shot.Receiver).Ships.AllSunk() })
		}
	}
	if fleetDown {
		if err := m.must(event.PlayerLost{Player: shot.Receiver, By: shooter}); err != nil {
			return err
		}
	}

	if err := m.notify(ctx, shot.Receiver, protocol.MethodOpponentShot, func(ctx context.Context, c controller.Controller) error {
		return c.OpponentShot(ctx, shot, shooter)
	}); err != nil {
		return err
	}
	if ship >= 0 {
		if err := m.notify(ctx, shooter, protocol.MethodShotHit, func(ctx context.Context, c controller.Controller) error {
			return c.ShotHit(ctx, shot, sunk)
		}); err != nil {
			return err
		}
	} else {
		if err := m.notify(ctx, shooter, protocol.MethodShotMiss, func(ctx context.Context, c controller.Controller) error {
			return c.ShotMiss(ctx, shot)
		}); err != nil {
			return err
		}
	}
	return nil
}

// soleOpponent resolves an unaddressed shot when exactly one enemy is left.
func (m *Match) soleOpponent(shooter board.PlayerID) board.PlayerID {
	var target board.PlayerID
	m.log.View(func(st *state.State, _ int) {
		var enemies []board.PlayerID
		for _, id := range st.Active() {
			if id != shooter && !st.SameTeam(id, shooter) {
				enemies = append(enemies, id)
			}
		}
		if len(enemies) == 1 {
			target = enemies[0]
		}
	})
	return target
}

func (m *Match) endRound(ctx context.Context, round int, order []board.PlayerID) error {
	var winners []board.PlayerID
	m.log.View(func(st *state.State, _ int) {
		active := st.Active()
		if len(active) == 0 {
			return
		}
		r := st.LiveRound()
		for _, id := range r.Order {
			if st.SameTeam(id, active[0]) && !r.Seats[id].Disqualified {
				winners = append(winners, id)
			}
		}
	})
	for _, id := range winners {
		if err := m.must(event.PlayerWon{Player: id, Round: round}); err != nil {
			return err
		}
	}
	if err := m.must(event.RoundEnd{Round: round}); err != nil {
		return err
	}
	m.logger.Info("round finished", zap.Int("round", round), zap.Any("winners", winners))

	won := map[board.PlayerID]bool{}
	for _, id := range winners {
		won[id] = true
	}
	for _, pid := range order {
		if won[pid] {
			_ = m.notify(ctx, pid, protocol.MethodRoundWon, func(ctx context.Context, c controller.Controller) error {
				return c.RoundWon(ctx, round)
			})
			continue
		}
		_ = m.notify(ctx, pid, protocol.MethodRoundLost, func(ctx context.Context, c controller.Controller) error {
			return c.RoundLost(ctx, round)
		})
	}
	return nil
}

// notify delivers a callback through the sandbox. A failure disqualifies the
// participant now if it is still in the running round, otherwise at the start of
// its next round. The returned error is an engine failure only.
func (m *Match) notify(ctx context.Context, pid board.PlayerID, method string, fn func(context.Context, controller.Controller) error) error {
	c := m.ctl[pid]
	out := sandbox.Invoke(ctx, m.sb, m.cfg.TimeLimit(), m.names[pid], func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx, c)
	})
	if out.OK() {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	m.logger.Info("notification failed",
		zap.Int64("player", int64(pid)),
		zap.String("method", method),
		zap.Error(out.Err),
	)
	dq := m.penalty(pid, out.Err, out.Elapsed, method)
	if m.isActive(pid) {
		return m.must(dq)
	}
	if _, already := m.pending[pid]; !already {
		m.pending[pid] = dq
	}
	return nil
}

// notifyQuiet is for callbacks after the match ended; failures are only logged.
func (m *Match) notifyQuiet(ctx context.Context, pid board.PlayerID, method string, fn func(context.Context, controller.Controller) error) {
	c := m.ctl[pid]
	out := sandbox.Invoke(ctx, m.sb, m.cfg.TimeLimit(), m.names[pid], func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx, c)
	})
	if !out.OK() {
		m.logger.Info("notification failed", zap.Int64("player", int64(pid)), zap.String("method", method), zap.Error(out.Err))
	}
}

func (m *Match) penalty(pid board.PlayerID, err error, elapsed time.Duration, detail string) event.PlayerDisqualified {
	dq := event.PlayerDisqualified{Player: pid, Detail: detail, Elapsed: elapsed}
	if errors.Is(err, sandbox.ErrTimeout) {
		dq.Code = protocol.ErrTimeout
		dq.Fatal = m.cfg.TimeoutFatal
	} else {
		dq.Code = protocol.ErrFault
		dq.Fatal = m.cfg.FaultFatal
		if detail == "" {
			dq.Detail = err.Error()
		} else {
			dq.Detail = detail + ": " + err.Error()
		}
	}
	return dq
}

// disqualifyOutcome penalises a failed sandbox call. Anything other than a
// timeout or fault means the match itself was cancelled.
func (m *Match) disqualifyOutcome(pid board.PlayerID, err error, elapsed time.Duration) error {
	if !errors.Is(err, sandbox.ErrTimeout) && !errors.Is(err, sandbox.ErrFault) {
		return err
	}
	return m.must(m.penalty(pid, err, elapsed, ""))
}

func (m *Match) disqualify(pid board.PlayerID, code, detail string, elapsed time.Duration) error {
	m.logger.Info("rule violation", zap.Int64("player", int64(pid)), zap.String("code", code), zap.String("detail", detail))
	return m.must(event.PlayerDisqualified{
		Player:  pid,
		Code:    code,
		Detail:  detail,
		Elapsed: elapsed,
		Fatal:   m.cfg.ViolationFatal,
	})
}

package stdio

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"broadside.gg/internal/protocol"
	"broadside.gg/internal/sim/board"
	"broadside.gg/internal/sim/controller"
)

var (
	ErrClosed  = errors.New("controller connection closed")
	ErrNoHello = errors.New("controller did not say HELLO")
	ErrRemote  = errors.New("controller replied with error")
)

const maxLineBytes = 1 << 20

// Conn is the engine side of a JSON-lines controller connection. Calls are
// matched to replies by id; a reply for a call that already gave up is dropped.
type Conn struct {
	name   string
	w      io.WriteCloser
	logger *zap.Logger

	wmu    sync.Mutex
	enc    *json.Encoder
	nextID atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]chan protocol.ReplyMsg
	closed  bool
	err     error

	hello chan protocol.HelloMsg
	done  chan struct{}
}

func NewConn(name string, r io.Reader, w io.WriteCloser, logger *zap.Logger) *Conn {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Conn{
		name:    name,
		w:       w,
		enc:     json.NewEncoder(w),
		logger:  logger.With(zap.String("controller", name)),
		pending: map[uint64]chan protocol.ReplyMsg{},
		hello:   make(chan protocol.HelloMsg, 1),
		done:    make(chan struct{}),
	}
	go c.readLoop(r)
	return c
}

// Hello waits for the controller's greeting.
func (c *Conn) Hello(ctx context.Context) (protocol.HelloMsg, error) {
	select {
	case h := <-c.hello:
		if h.ProtocolVersion != "" && h.ProtocolVersion != protocol.Version {
			return h, fmt.Errorf("%s: protocol %s, want %s", c.name, h.ProtocolVersion, protocol.Version)
		}
		return h, nil
	case <-c.done:
		return protocol.HelloMsg{}, fmt.Errorf("%s: %w: %v", c.name, ErrNoHello, c.Err())
	case <-ctx.Done():
		return protocol.HelloMsg{}, fmt.Errorf("%s: %w: %v", c.name, ErrNoHello, ctx.Err())
	}
}

func (c *Conn) readLoop(r io.Reader) {
	defer c.shutdown(io.EOF)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	greeted := false
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		base, err := protocol.DecodeBase(line)
		if err != nil {
			c.logger.Warn("bad line from controller", zap.Error(err))
			continue
		}
		switch base.Type {
		case protocol.TypeHello:
			var h protocol.HelloMsg
			if err := json.Unmarshal(line, &h); err != nil || greeted {
				continue
			}
			greeted = true
			c.hello <- h
		case protocol.TypeReply:
			var rep protocol.ReplyMsg
			if err := json.Unmarshal(line, &rep); err != nil {
				c.logger.Warn("bad reply", zap.Error(err))
				continue
			}
			c.mu.Lock()
			ch, ok := c.pending[rep.ID]
			delete(c.pending, rep.ID)
			c.mu.Unlock()
			if !ok {
				c.logger.Debug("dropping stale reply", zap.Uint64("id", rep.ID))
				continue
			}
			ch <- rep
		default:
			c.logger.Debug("ignoring message", zap.String("type", base.Type))
		}
	}
	if err := sc.Err(); err != nil {
		c.shutdown(err)
	}
}

func (c *Conn) shutdown(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.err = err
	c.pending = map[uint64]chan protocol.ReplyMsg{}
	close(c.done)
}

func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Done is closed once the controller side of the stream ends.
func (c *Conn) Done() <-chan struct{} { return c.done }

func (c *Conn) Close() error {
	c.shutdown(ErrClosed)
	return c.w.Close()
}

func (c *Conn) call(ctx context.Context, method string, params, result any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return err
	}
	id := c.nextID.Add(1)
	ch := make(chan protocol.ReplyMsg, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("%s: %w", c.name, ErrClosed)
	}
	c.pending[id] = ch
	c.mu.Unlock()
	forget := func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}

	c.wmu.Lock()
	err = c.enc.Encode(protocol.CallMsg{
		Type:            protocol.TypeCall,
		ProtocolVersion: protocol.Version,
		ID:              id,
		Method:          method,
		Params:          raw,
	})
	c.wmu.Unlock()
	if err != nil {
		forget()
		return fmt.Errorf("%s: write %s: %w", c.name, method, err)
	}

	select {
	case rep := <-ch:
		if rep.Error != "" {
			return fmt.Errorf("%s: %s: %w: %s", c.name, method, ErrRemote, rep.Error)
		}
		if result != nil && len(rep.Result) > 0 {
			if err := json.Unmarshal(rep.Result, result); err != nil {
				return fmt.Errorf("%s: decode %s result: %w", c.name, method, err)
			}
		}
		return nil
	case <-c.done:
		return fmt.Errorf("%s: %w", c.name, ErrClosed)
	case <-ctx.Done():
		forget()
		return ctx.Err()
	}
}

var _ controller.Controller = (*Conn)(nil)

func (c *Conn) NewMatch(ctx context.Context, info controller.MatchInfo) error {
	return c.call(ctx, protocol.MethodNewMatch, matchParams(info), nil)
}

func (c *Conn) NewRound(ctx context.Context, round int, order []board.PlayerID) error {
	return c.call(ctx, protocol.MethodNewRound, protocol.NewRoundParams{Round: round, Order: order}, nil)
}

func (c *Conn) PlaceShips(ctx context.Context, ships board.ShipList) (board.ShipList, error) {
	var res protocol.PlaceShipsResult
	if err := c.call(ctx, protocol.MethodPlaceShips, protocol.PlaceShipsParams{Ships: ships}, &res); err != nil {
		return nil, err
	}
	return res.Ships, nil
}

func (c *Conn) MakeShot(ctx context.Context, view controller.TurnView) (board.Shot, error) {
	var res protocol.MakeShotResult
	if err := c.call(ctx, protocol.MethodMakeShot, shotParams(view), &res); err != nil {
		return board.Shot{}, err
	}
	return res.Shot, nil
}

func (c *Conn) OpponentShot(ctx context.Context, shot board.Shot, shooter board.PlayerID) error {
	return c.call(ctx, protocol.MethodOpponentShot, protocol.ShotParams{Shot: shot, Shooter: shooter}, nil)
}

func (c *Conn) ShotHit(ctx context.Context, shot board.Shot, sunk bool) error {
	return c.call(ctx, protocol.MethodShotHit, protocol.ShotParams{Shot: shot, Sunk: sunk}, nil)
}

func (c *Conn) ShotMiss(ctx context.Context, shot board.Shot) error {
	return c.call(ctx, protocol.MethodShotMiss, protocol.ShotParams{Shot: shot}, nil)
}

func (c *Conn) RoundWon(ctx context.Context, round int) error {
	return c.call(ctx, protocol.MethodRoundWon, protocol.RoundResultParams{Round: round}, nil)
}

func (c *Conn) RoundLost(ctx context.Context, round int) error {
	return c.call(ctx, protocol.MethodRoundLost, protocol.RoundResultParams{Round: round}, nil)
}

func (c *Conn) MatchOver(ctx context.Context, scores map[board.PlayerID]int) error {
	return c.call(ctx, protocol.MethodMatchOver, protocol.MatchOverParams{Scores: scores}, nil)
}

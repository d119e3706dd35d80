package stdio

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"broadside.gg/internal/protocol"
	"broadside.gg/internal/sim/board"
	"broadside.gg/internal/sim/controller"
)

// Serve runs the controller side of the protocol: it greets, then answers CALLs
// one at a time until r ends or ctx is cancelled.
func Serve(ctx context.Context, r io.Reader, w io.Writer, c controller.Controller, name, version string) error {
	enc := json.NewEncoder(w)
	if err := enc.Encode(protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		Name:            name,
		Version:         version,
	}); err != nil {
		return fmt.Errorf("hello: %w", err)
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	var field board.Coord
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var call protocol.CallMsg
		if err := json.Unmarshal(line, &call); err != nil || call.Type != protocol.TypeCall {
			continue
		}
		result, err := dispatch(ctx, c, call, &field)
		rep := protocol.ReplyMsg{Type: protocol.TypeReply, ProtocolVersion: protocol.Version, ID: call.ID}
		if err != nil {
			rep.Error = err.Error()
		} else if result != nil {
			raw, err := json.Marshal(result)
			if err != nil {
				rep.Error = err.Error()
			} else {
				rep.Result = raw
			}
		}
		if err := enc.Encode(rep); err != nil {
			return fmt.Errorf("reply %d: %w", call.ID, err)
		}
	}
	return sc.Err()
}

func decode[T any](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 {
		return v, nil
	}
	err := json.Unmarshal(raw, &v)
	return v, err
}

func dispatch(ctx context.Context, c controller.Controller, call protocol.CallMsg, field *board.Coord) (any, error) {
	switch call.Method {
	case protocol.MethodNewMatch:
		p, err := decode[protocol.NewMatchParams](call.Params)
		if err != nil {
			return nil, err
		}
		*field = board.C(p.FieldWidth, p.FieldHeight)
		return nil, c.NewMatch(ctx, matchInfo(p))
	case protocol.MethodNewRound:
		p, err := decode[protocol.NewRoundParams](call.Params)
		if err != nil {
			return nil, err
		}
		return nil, c.NewRound(ctx, p.Round, p.Order)
	case protocol.MethodPlaceShips:
		p, err := decode[protocol.PlaceShipsParams](call.Params)
		if err != nil {
			return nil, err
		}
		ships, err := c.PlaceShips(ctx, p.Ships)
		if err != nil {
			return nil, err
		}
		return protocol.PlaceShipsResult{Ships: ships}, nil
	case protocol.MethodMakeShot:
		p, err := decode[protocol.MakeShotParams](call.Params)
		if err != nil {
			return nil, err
		}
		shot, err := c.MakeShot(ctx, turnView(p, *field))
		if err != nil {
			return nil, err
		}
		return protocol.MakeShotResult{Shot: shot}, nil
	case protocol.MethodOpponentShot:
		p, err := decode[protocol.ShotParams](call.Params)
		if err != nil {
			return nil, err
		}
		return nil, c.OpponentShot(ctx, p.Shot, p.Shooter)
	case protocol.MethodShotHit:
		p, err := decode[protocol.ShotParams](call.Params)
		if err != nil {
			return nil, err
		}
		return nil, c.ShotHit(ctx, p.Shot, p.Sunk)
	case protocol.MethodShotMiss:
		p, err := decode[protocol.ShotParams](call.Params)
		if err != nil {
			return nil, err
		}
		return nil, c.ShotMiss(ctx, p.Shot)
	case protocol.MethodRoundWon:
		p, err := decode[protocol.RoundResultParams](call.Params)
		if err != nil {
			return nil, err
		}
		return nil, c.RoundWon(ctx, p.Round)
	case protocol.MethodRoundLost:
		p, err := decode[protocol.RoundResultParams](call.Params)
		if err != nil {
			return nil, err
		}
		return nil, c.RoundLost(ctx, p.Round)
	case protocol.MethodMatchOver:
		p, err := decode[protocol.MatchOverParams](call.Params)
		if err != nil {
			return nil, err
		}
		return nil, c.MatchOver(ctx, p.Scores)
	default:
		return nil, fmt.Errorf("%s: unknown method %q", protocol.ErrProtoBadRequest, call.Method)
	}
}

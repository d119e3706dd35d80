package stdio

import (
	"broadside.gg/internal/config"
	"broadside.gg/internal/protocol"
	"broadside.gg/internal/sim/board"
	"broadside.gg/internal/sim/controller"
	"broadside.gg/internal/sim/state"
)

func matchParams(info controller.MatchInfo) protocol.NewMatchParams {
	p := protocol.NewMatchParams{
		MatchID:     info.MatchID,
		Self:        info.Self,
		FieldWidth:  info.Config.FieldWidth,
		FieldHeight: info.Config.FieldHeight,
		Ships:       append([]int(nil), info.Config.Ships...),
		TimeLimitMs: info.Config.TimeLimitMs,
		Rounds:      info.Config.Rounds,
		RoundMode:   string(info.Config.RoundMode),
	}
	for _, pl := range info.Players {
		p.Players = append(p.Players, protocol.PlayerRef{ID: pl.ID, Name: pl.Name, Version: pl.Version, Team: int(pl.Team)})
	}
	return p
}

func matchInfo(p protocol.NewMatchParams) controller.MatchInfo {
	cfg := config.Defaults()
	cfg.FieldWidth, cfg.FieldHeight = p.FieldWidth, p.FieldHeight
	cfg.Ships = append([]int(nil), p.Ships...)
	cfg.TimeLimitMs = p.TimeLimitMs
	cfg.Rounds = p.Rounds
	cfg.RoundMode = config.RoundMode(p.RoundMode)
	info := controller.MatchInfo{MatchID: p.MatchID, Self: p.Self, Config: cfg}
	for _, pl := range p.Players {
		info.Players = append(info.Players, controller.PlayerInfo{ID: pl.ID, Name: pl.Name, Version: pl.Version, Team: state.TeamID(pl.Team)})
	}
	return info
}

func shotParams(v controller.TurnView) protocol.MakeShotParams {
	p := protocol.MakeShotParams{Round: v.Round, Self: v.Self, ShotsMade: nonNil(v.ShotsMade)}
	for _, o := range v.Opponents {
		p.Opponents = append(p.Opponents, protocol.OpponentView{
			ID:            o.ID,
			Team:          int(o.Team),
			Active:        o.Active,
			ShotsReceived: nonNil(o.ShotsReceived),
			SunkLengths:   o.SunkLengths,
		})
	}
	return p
}

func turnView(p protocol.MakeShotParams, field board.Coord) controller.TurnView {
	v := controller.TurnView{Round: p.Round, Self: p.Self, Field: field, ShotsMade: p.ShotsMade}
	for _, o := range p.Opponents {
		v.Opponents = append(v.Opponents, controller.Opponent{
			ID:            o.ID,
			Team:          state.TeamID(o.Team),
			Active:        o.Active,
			ShotsReceived: o.ShotsReceived,
			SunkLengths:   o.SunkLengths,
		})
	}
	return v
}

func nonNil(s []board.Shot) []board.Shot {
	if s == nil {
		return []board.Shot{}
	}
	return s
}

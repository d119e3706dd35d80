package protocol

import (
	"encoding/json"

	"broadside.gg/internal/sim/board"
)

// Controller callback methods carried by CALL messages.
const (
	MethodNewMatch     = "new_match"
	MethodNewRound     = "new_round"
	MethodPlaceShips   = "place_ships"
	MethodMakeShot     = "make_shot"
	MethodOpponentShot = "opponent_shot"
	MethodShotHit      = "shot_hit"
	MethodShotMiss     = "shot_miss"
	MethodRoundWon     = "round_won"
	MethodRoundLost    = "round_lost"
	MethodMatchOver    = "match_over"
)

// HELLO (controller -> engine), first line written by a controller process.
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Name            string `json:"name,omitempty"`
	Version         string `json:"version,omitempty"`
}

// CALL (engine -> controller)
type CallMsg struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	ID              uint64          `json:"id"`
	Method          string          `json:"method"`
	Params          json.RawMessage `json:"params,omitempty"`
}

// REPLY (controller -> engine). Replies for calls the engine has given up on are dropped.
type ReplyMsg struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	ID              uint64          `json:"id"`
	Result          json.RawMessage `json:"result,omitempty"`
	Error           string          `json:"error,omitempty"`
}

type PlayerRef struct {
	ID      board.PlayerID `json:"id"`
	Name    string         `json:"name"`
	Version string         `json:"version,omitempty"`
	Team    int            `json:"team"`
}

type NewMatchParams struct {
	MatchID     string         `json:"match_id"`
	Self        board.PlayerID `json:"self"`
	FieldWidth  int            `json:"field_width"`
	FieldHeight int            `json:"field_height"`
	Ships       []int          `json:"ships"`
	TimeLimitMs int            `json:"time_limit_ms"`
	Rounds      int            `json:"rounds"`
	RoundMode   string         `json:"round_mode"`
	Players     []PlayerRef    `json:"players"`
}

type NewRoundParams struct {
	Round int              `json:"round"`
	Order []board.PlayerID `json:"order"`
}

type PlaceShipsParams struct {
	Ships board.ShipList `json:"ships"`
}

type PlaceShipsResult struct {
	Ships board.ShipList `json:"ships"`
}

type OpponentView struct {
	ID            board.PlayerID `json:"id"`
	Team          int            `json:"team,omitempty"`
	Active        bool           `json:"active"`
	ShotsReceived []board.Shot   `json:"shots_received"`
	SunkLengths   []int          `json:"sunk_lengths,omitempty"`
}

type MakeShotParams struct {
	Round     int            `json:"round"`
	Self      board.PlayerID `json:"self"`
	ShotsMade []board.Shot   `json:"shots_made"`
	Opponents []OpponentView `json:"opponents"`
}

type MakeShotResult struct {
	Shot board.Shot `json:"shot"`
}

type ShotParams struct {
	Shot    board.Shot     `json:"shot"`
	Shooter board.PlayerID `json:"shooter,omitempty"`
	Sunk    bool           `json:"sunk,omitempty"`
}

type RoundResultParams struct {
	Round int `json:"round"`
}

type MatchOverParams struct {
	Scores map[board.PlayerID]int `json:"scores"`
}

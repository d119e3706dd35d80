package protocol

import (
	"encoding/json"
	"time"
)

// SUBSCRIBE (client -> server). First message on the spectator connection.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	MatchID         string `json:"match_id"`
	Since           int    `json:"since"`
}

// EVENT (server -> client). Index is the event's position in the match log.
type EventMsg struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	MatchID         string          `json:"match_id"`
	Index           int             `json:"index"`
	At              time.Time       `json:"at"`
	Event           json.RawMessage `json:"event"`
	Message         string          `json:"message,omitempty"`
}

// STATUS (server -> client). Sent after the backlog and when the match ends.
type StatusMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	MatchID         string `json:"match_id"`
	Len             int    `json:"len"`
	Ended           bool   `json:"ended"`
}

// ERROR (server -> client)
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message,omitempty"`
}

// MatchSummary is one row of GET /v1/matches.
type MatchSummary struct {
	MatchID string   `json:"match_id"`
	Players []string `json:"players"`
	Events  int      `json:"events"`
	Round   int      `json:"round"`
	Phase   string   `json:"phase"`
	Ended   bool     `json:"ended"`
}

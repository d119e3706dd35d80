package protocol

import "encoding/json"

const Version = "1.0"

// Message types.
const (
	// Controller process protocol (stdin/stdout, one JSON object per line).
	TypeHello = "HELLO"
	TypeCall  = "CALL"
	TypeReply = "REPLY"

	// Spectator protocol (websocket).
	TypeSubscribe = "SUBSCRIBE"
	TypeEvent     = "EVENT"
	TypeStatus    = "STATUS"
	TypeError     = "ERROR"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}

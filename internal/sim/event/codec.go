package event

import (
	"encoding/json"
	"fmt"
)

// Envelope is the wire and journal form of an event.
type Envelope struct {
	Kind Kind            `json:"kind"`
	Data json.RawMessage `json:"data"`
}

func Marshal(ev Event) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", ev.Kind(), err)
	}
	return json.Marshal(Envelope{Kind: ev.Kind(), Data: data})
}

func Unmarshal(b []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	return Decode(env)
}

func Decode(env Envelope) (Event, error) {
	dec, ok := decoders[env.Kind]
	if !ok {
		return nil, fmt.Errorf("%q: %w", env.Kind, ErrUnknownEvent)
	}
	ev, err := dec(env.Data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", env.Kind, err)
	}
	return ev, nil
}

func decodeAs[T Event](raw json.RawMessage) (Event, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

var decoders = map[Kind]func(json.RawMessage) (Event, error){
	KindMatchBegin:         decodeAs[MatchBegin],
	KindTeamAdd:            decodeAs[TeamAdd],
	KindPlayerAdd:          decodeAs[PlayerAdd],
	KindPlayerTeamAssign:   decodeAs[PlayerTeamAssign],
	KindRoundBegin:         decodeAs[RoundBegin],
	KindShipsPlaced:        decodeAs[ShipsPlaced],
	KindTurnSwitch:         decodeAs[TurnSwitch],
	KindPlayerShot:         decodeAs[PlayerShot],
	KindShipHit:            decodeAs[ShipHit],
	KindShipDestroyed:      decodeAs[ShipDestroyed],
	KindPlayerDisqualified: decodeAs[PlayerDisqualified],
	KindPlayerLost:         decodeAs[PlayerLost],
	KindPlayerWon:          decodeAs[PlayerWon],
	KindRoundEnd:           decodeAs[RoundEnd],
	KindMatchEnd:           decodeAs[MatchEnd],
}

package board

import "encoding/json"

func marshalShots(shots []Shot) ([]byte, error) {
	if shots == nil {
		shots = []Shot{}
	}
	return json.Marshal(shots)
}

func unmarshalShots(b []byte) ([]Shot, error) {
	var shots []Shot
	if err := json.Unmarshal(b, &shots); err != nil {
		return nil, err
	}
	return shots, nil
}

// Snapshots are gob encoded; ShotList keeps its index private.
func (l ShotList) GobEncode() ([]byte, error) { return marshalShots(l.shots) }

func (l *ShotList) GobDecode(b []byte) error { return l.UnmarshalJSON(b) }

// Package snapshot stores match state at round boundaries so replays can start
// part way through a journal.
package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"

	"broadside.gg/internal/sim/state"
)

const (
	Version = 1
	suffix  = ".snap.zst"
)

var (
	ErrDigestMismatch = errors.New("snapshot digest mismatch")
	ErrNoSnapshot     = errors.New("no snapshot")
)

// Header is written as a JSON line in front of the gob body so tools can list
// snapshots without decoding them.
type Header struct {
	Version int    `json:"version"`
	MatchID string `json:"match_id"`
	// Index is the number of log entries applied to State.
	Index  int    `json:"index"`
	Round  int    `json:"round"`
	Digest string `json:"digest"`
}

type SnapshotV1 struct {
	Header Header
	State  *state.State
}

func New(st *state.State, index int) SnapshotV1 {
	c := st.Clone()
	return SnapshotV1{
		Header: Header{Version: Version, MatchID: c.MatchID, Index: index, Round: len(c.Rounds), Digest: c.Digest()},
		State:  c,
	}
}

func Dir(dataDir, matchID string) string {
	return filepath.Join(dataDir, "matches", matchID, "snapshots")
}

func Path(dataDir, matchID string, index int) string {
	return filepath.Join(Dir(dataDir, matchID), fmt.Sprintf("%08d%s", index, suffix))
}

func WriteSnapshot(path string, snap SnapshotV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 64*1024)

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	return enc.Close()
}

func open(path string) (*bufio.Reader, func(), error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	dec, err := zstd.NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, nil, err
	}
	return bufio.NewReaderSize(dec, 64*1024), func() {
		dec.Close()
		_ = f.Close()
	}, nil
}

func ReadHeader(path string) (Header, error) {
	var h Header
	br, done, err := open(path)
	if err != nil {
		return h, err
	}
	defer done()
	line, err := br.ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("decode header: %w", err)
	}
	return h, nil
}

// ReadSnapshot decodes a snapshot and checks the state against its recorded digest.
func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	br, done, err := open(path)
	if err != nil {
		return snap, err
	}
	defer done()

	// The gob body repeats the header.
	if _, err := br.ReadBytes('\n'); err != nil {
		return snap, fmt.Errorf("read header: %w", err)
	}
	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	if snap.Header.Version != Version {
		return snap, fmt.Errorf("snapshot version %d unsupported", snap.Header.Version)
	}
	if snap.State == nil {
		return snap, fmt.Errorf("snapshot %s: missing state", path)
	}
	snap.State.Normalize()
	if got := snap.State.Digest(); got != snap.Header.Digest {
		return snap, fmt.Errorf("%s: %w", path, ErrDigestMismatch)
	}
	return snap, nil
}

// Indexes lists the snapshot indexes stored for a match, ascending.
func Indexes(dataDir, matchID string) ([]int, error) {
	ents, err := os.ReadDir(Dir(dataDir, matchID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []int
	for _, e := range ents {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, suffix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(name, suffix))
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	sort.Ints(out)
	return out, nil
}

// Nearest returns the path of the latest snapshot taken at or before index.
func Nearest(dataDir, matchID string, index int) (string, int, error) {
	idx, err := Indexes(dataDir, matchID)
	if err != nil {
		return "", 0, err
	}
	for i := len(idx) - 1; i >= 0; i-- {
		if idx[i] <= index {
			return Path(dataDir, matchID, idx[i]), idx[i], nil
		}
	}
	return "", 0, ErrNoSnapshot
}

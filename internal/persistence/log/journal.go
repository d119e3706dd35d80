// Package log persists match event logs as compressed JSON lines.
package log

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"broadside.gg/internal/sim/event"
	"broadside.gg/internal/sim/eventlog"
	"broadside.gg/internal/sim/state"
)

const maxRecordBytes = 4 << 20

// Record is one journal line.
type Record struct {
	Index int             `json:"index"`
	At    time.Time       `json:"at"`
	Event json.RawMessage `json:"event"`
}

func MatchDir(dataDir, matchID string) string {
	return filepath.Join(dataDir, "matches", matchID)
}

func JournalPath(dataDir, matchID string) string {
	return filepath.Join(MatchDir(dataDir, matchID), "events.jsonl.zst")
}

// Journal is an eventlog sink that records every appended event.
type Journal struct {
	w      *JSONLZstdWriter
	logger *zap.Logger

	mu      sync.Mutex
	err     error
	written int
}

func NewJournal(dataDir, matchID string, logger *zap.Logger) *Journal {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Journal{
		w:      NewJSONLZstdWriter(JournalPath(dataDir, matchID)),
		logger: logger.Named("journal").With(zap.String("match_id", matchID)),
	}
}

// OnEvent writes e. After the first failure the journal stops writing and keeps
// the error for Err.
func (j *Journal) OnEvent(e eventlog.Entry, _ *state.State) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.err != nil {
		return
	}
	raw, err := event.Marshal(e.Event)
	if err == nil {
		err = j.w.Write(Record{Index: e.Index, At: e.At.UTC(), Event: raw})
	}
	if err != nil {
		j.err = fmt.Errorf("journal entry %d: %w", e.Index, err)
		j.logger.Error("journal write failed", zap.Int("index", e.Index), zap.Error(err))
		return
	}
	j.written++
}

func (j *Journal) Written() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.written
}

func (j *Journal) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

func (j *Journal) Close() error {
	if err := j.w.Close(); err != nil {
		return err
	}
	return j.Err()
}

// ReadJournal loads every complete record from path. A journal cut short by a
// crash yields the records before the damage together with the error.
func ReadJournal(path string) ([]eventlog.Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return readRecords(dec)
}

func readRecords(r io.Reader) ([]eventlog.Entry, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxRecordBytes)
	var out []eventlog.Entry
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return out, fmt.Errorf("record %d: %w", len(out), err)
		}
		if rec.Index != len(out) {
			return out, fmt.Errorf("record %d has index %d: %w", len(out), rec.Index, eventlog.ErrOutOfSequence)
		}
		ev, err := event.Unmarshal(rec.Event)
		if err != nil {
			return out, fmt.Errorf("record %d: %w", rec.Index, err)
		}
		out = append(out, eventlog.Entry{Index: rec.Index, At: rec.At, Event: ev})
	}
	if err := sc.Err(); err != nil && !errors.Is(err, io.EOF) {
		return out, err
	}
	return out, nil
}

package snapshot

import (
	"errors"
	"os"
	"testing"

	"go.uber.org/zap/zaptest"

	"broadside.gg/internal/sim/event"
	"broadside.gg/internal/sim/event/eventtest"
	"broadside.gg/internal/sim/eventlog"
)

func TestWriter_RoundBoundaries(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, eventtest.MatchID, zaptest.NewLogger(t))
	var written []Header
	w.OnWritten = func(h Header, _ string) { written = append(written, h) }
	l := eventlog.New(eventlog.Options{Sinks: []eventlog.Sink{w}})
	for i, ev := range eventtest.Script() {
		if _, err := l.Append(ev); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	var boundaries []int
	for i, ev := range eventtest.Script() {
		switch ev.(type) {
		case event.RoundEnd, event.MatchEnd:
			boundaries = append(boundaries, i+1)
		}
	}
	idx, err := Indexes(dir, eventtest.MatchID)
	if err != nil {
		t.Fatalf("indexes: %v", err)
	}
	if len(idx) != len(boundaries) || len(written) != len(boundaries) {
		t.Fatalf("snapshots at %v, want %v", idx, boundaries)
	}
	for i := range idx {
		if idx[i] != boundaries[i] || written[i].Index != boundaries[i] {
			t.Fatalf("snapshot %d at %d, want %d", i, idx[i], boundaries[i])
		}
	}

	for _, n := range idx {
		snap, err := ReadSnapshot(Path(dir, eventtest.MatchID, n))
		if err != nil {
			t.Fatalf("read %d: %v", n, err)
		}
		want, err := l.Rebuild(n)
		if err != nil {
			t.Fatalf("rebuild %d: %v", n, err)
		}
		if snap.State.Digest() != want.Digest() {
			t.Fatalf("snapshot %d differs from rebuilt state", n)
		}
		h, err := ReadHeader(Path(dir, eventtest.MatchID, n))
		if err != nil || h != snap.Header {
			t.Fatalf("header %+v vs %+v (%v)", h, snap.Header, err)
		}
	}

	p, at, err := Nearest(dir, eventtest.MatchID, boundaries[0]+3)
	if err != nil || at != boundaries[0] || p != Path(dir, eventtest.MatchID, boundaries[0]) {
		t.Fatalf("nearest: %s %d %v", p, at, err)
	}
	if _, _, err := Nearest(dir, eventtest.MatchID, 1); !errors.Is(err, ErrNoSnapshot) {
		t.Fatalf("expected no snapshot, got %v", err)
	}
}

func TestReadSnapshot_DigestMismatch(t *testing.T) {
	st := eventtest.Play(t, eventtest.Script()[:eventtest.RoundTwoAt])
	snap := New(st, eventtest.RoundTwoAt)
	snap.Header.Digest = "0000"
	p := Path(t.TempDir(), "m", snap.Header.Index)
	if err := WriteSnapshot(p, snap); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := ReadSnapshot(p); !errors.Is(err, ErrDigestMismatch) {
		t.Fatalf("expected digest mismatch, got %v", err)
	}
}

func TestIndexes_MissingDir(t *testing.T) {
	idx, err := Indexes(t.TempDir(), "none")
	if err != nil || len(idx) != 0 {
		t.Fatalf("indexes=%v err=%v", idx, err)
	}
	if _, err := ReadSnapshot(Path(t.TempDir(), "none", 1)); !os.IsNotExist(err) {
		t.Fatalf("expected not-exist, got %v", err)
	}
}

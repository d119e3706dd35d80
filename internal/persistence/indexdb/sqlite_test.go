package indexdb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"broadside.gg/internal/persistence/snapshot"
	"broadside.gg/internal/protocol"
	"broadside.gg/internal/sim/event/eventtest"
	"broadside.gg/internal/sim/eventlog"
)

func TestSQLiteIndex_QueueDropStats(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan req, 1)}
	s.ch <- req{kind: reqMatch}

	s.RecordMatch(MatchRow{MatchID: "m"})
	s.RecordPlayer(PlayerRow{MatchID: "m"})
	s.RecordRound(RoundRow{MatchID: "m"})
	s.RecordDisqualification(DQRow{MatchID: "m"})
	s.RecordSnapshot(SnapshotRow{MatchID: "m"})

	st := s.Stats()
	if st.DropMatchTotal != 1 || st.DropPlayerTotal != 1 || st.DropRoundTotal != 1 || st.DropDQTotal != 1 || st.DropSnapshotTotal != 1 {
		t.Fatalf("drop stats mismatch: %+v", st)
	}
	if st.QueueDepth != 1 || st.QueueCapacity != 1 {
		t.Fatalf("queue stats mismatch: depth=%d cap=%d", st.QueueDepth, st.QueueCapacity)
	}
}

func TestRecorder_IndexesScriptedMatch(t *testing.T) {
	dir := t.TempDir()
	idx, err := OpenSQLite(filepath.Join(dir, "index.sqlite"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer idx.Close()

	rec := idx.Recorder(eventtest.MatchID)
	snaps := snapshot.NewWriter(dir, eventtest.MatchID, zaptest.NewLogger(t))
	snaps.OnWritten = rec.RecordSnapshot
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	l := eventlog.New(eventlog.Options{
		Clock: func() time.Time { at = at.Add(time.Second); return at },
		Sinks: []eventlog.Sink{rec, snaps},
	})
	for i, ev := range eventtest.Script() {
		if _, err := l.Append(ev); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	ctx := context.Background()
	if err := idx.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}

	matches, err := idx.Matches(ctx, 10)
	if err != nil || len(matches) != 1 {
		t.Fatalf("matches=%v err=%v", matches, err)
	}
	m := matches[0]
	st, _ := l.Snapshot()
	if m.RoundsPlayed != 2 || m.Events != l.Len() || m.Digest != st.Digest() || m.EndedAt.IsZero() {
		t.Fatalf("unexpected match row %+v", m)
	}
	if m.Seed != 7 || m.RoundMode != "best_of" {
		t.Fatalf("config not recorded: %+v", m)
	}

	players, err := idx.Players(ctx, eventtest.MatchID)
	if err != nil || len(players) != 2 {
		t.Fatalf("players=%v err=%v", players, err)
	}
	if players[0].Name != "alpha" || players[0].Score != 2 || players[1].Score != 0 || players[1].Version != "v0.3.1" {
		t.Fatalf("unexpected players %+v", players)
	}

	rounds, err := idx.Rounds(ctx, eventtest.MatchID)
	if err != nil || len(rounds) != 2 {
		t.Fatalf("rounds=%v err=%v", rounds, err)
	}
	if rounds[0].Winners != "1" || rounds[0].Order != "1,2" || rounds[0].Shots != 9 {
		t.Fatalf("round one %+v", rounds[0])
	}
	if rounds[1].Winners != "1" || rounds[1].Order != "2,1" || rounds[1].Shots != 0 {
		t.Fatalf("round two %+v", rounds[1])
	}

	dqs, err := idx.Disqualifications(ctx, eventtest.MatchID, 0)
	if err != nil || len(dqs) != 1 {
		t.Fatalf("dqs=%v err=%v", dqs, err)
	}
	if dqs[0].PlayerID != 2 || dqs[0].Code != protocol.ErrTimeout || dqs[0].Round != 2 || dqs[0].ElapsedMs != 500 {
		t.Fatalf("unexpected dq %+v", dqs[0])
	}
	if all, _ := idx.Disqualifications(ctx, "", 0); len(all) != 1 {
		t.Fatalf("global dq listing returned %d", len(all))
	}

	sn, err := idx.Snapshots(ctx, eventtest.MatchID)
	if err != nil || len(sn) != 3 {
		t.Fatalf("snapshots=%v err=%v", sn, err)
	}
	if sn[len(sn)-1].Index != l.Len() || sn[len(sn)-1].Digest != st.Digest() {
		t.Fatalf("last snapshot %+v", sn[len(sn)-1])
	}

	standings, err := idx.Standings(ctx)
	if err != nil || len(standings) != 2 {
		t.Fatalf("standings=%v err=%v", standings, err)
	}
	if standings[0].Name != "alpha" || standings[0].RoundWins != 2 || standings[0].Matches != 1 {
		t.Fatalf("unexpected standings %+v", standings)
	}
	if s := idx.Stats(); s.WriteFailTotal != 0 {
		t.Fatalf("write failures: %+v", s)
	}
}

func TestSQLiteIndex_ClosedIsQuiet(t *testing.T) {
	idx, err := OpenSQLite(filepath.Join(t.TempDir(), "x.sqlite"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	idx.RecordMatch(MatchRow{MatchID: "late"})
	if err := idx.Flush(context.Background()); err != nil {
		t.Fatalf("flush after close: %v", err)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

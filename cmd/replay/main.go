package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"os/signal"

	"go.uber.org/zap"

	"broadside.gg/internal/persistence/log"
	"broadside.gg/internal/persistence/snapshot"
	"broadside.gg/internal/sim/event"
	"broadside.gg/internal/sim/eventlog"
	"broadside.gg/internal/sim/state"
	"broadside.gg/internal/transport/spectator"
)

type options struct {
	dataDir  string
	matchID  string
	journal  string
	snapshot string
	to       int
	verify   bool
	fields   bool
	follow   string
}

func main() {
	var o options
	flag.StringVar(&o.dataDir, "data", "./data", "runtime data directory")
	flag.StringVar(&o.matchID, "match", "", "match id under -data")
	flag.StringVar(&o.journal, "journal", "", "path to events.jsonl.zst (overrides -data/-match)")
	flag.StringVar(&o.snapshot, "snapshot", "", "start from this .snap.zst instead of event 0; \"auto\" picks the nearest one")
	flag.IntVar(&o.to, "to", -1, "stop after this many events (default: all)")
	flag.BoolVar(&o.verify, "verify", false, "check replay paths and stored snapshots agree")
	flag.BoolVar(&o.fields, "fields", true, "print each player's field")
	flag.StringVar(&o.follow, "follow", "", "spectator url (ws://host/v1/spectate) to mirror -match from instead of disk")
	flag.Parse()

	if o.journal == "" && o.matchID == "" && o.snapshot == "" {
		fmt.Fprintln(os.Stderr, "missing -match, -journal or -snapshot")
		os.Exit(2)
	}
	if err := replay(o, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}
}

func replay(o options, out io.Writer) error {
	journal := o.journal
	if journal == "" && o.matchID != "" {
		journal = log.JournalPath(o.dataDir, o.matchID)
	}

	var (
		snap    snapshot.SnapshotV1
		hasSnap bool
	)
	if o.snapshot == "auto" {
		if o.matchID == "" {
			return errors.New("-snapshot auto needs -match")
		}
		at := o.to
		if at < 0 {
			at = math.MaxInt
		}
		path, _, err := snapshot.Nearest(o.dataDir, o.matchID, at)
		switch {
		case errors.Is(err, snapshot.ErrNoSnapshot):
			o.snapshot = ""
		case err != nil:
			return err
		default:
			o.snapshot = path
		}
	}
	if o.snapshot != "" {
		s, err := snapshot.ReadSnapshot(o.snapshot)
		if err != nil {
			return fmt.Errorf("read snapshot: %w", err)
		}
		snap, hasSnap = s, true
		fmt.Fprintf(out, "snapshot v%d match=%s index=%d round=%d digest=%s\n",
			s.Header.Version, s.Header.MatchID, s.Header.Index, s.Header.Round, s.Header.Digest)
	}
	var (
		entries []eventlog.Entry
		err     error
	)
	switch {
	case o.follow != "":
		entries, err = follow(o.follow, o.matchID)
		if err != nil {
			return fmt.Errorf("follow: %w", err)
		}
	case journal != "":
		entries, err = log.ReadJournal(journal)
		if err != nil {
			return fmt.Errorf("read journal: %w", err)
		}
	default:
		printState(out, snap.State, snap.Header.Index, o.fields)
		return nil
	}
	l, err := eventlog.Open(entries, eventlog.Options{})
	if err != nil {
		return err
	}
	to := o.to
	if to < 0 || to > l.Len() {
		to = l.Len()
	}

	var st *state.State
	if hasSnap {
		if snap.Header.Index > to {
			return fmt.Errorf("snapshot index %d is past -to %d", snap.Header.Index, to)
		}
		st = snap.State
		for _, e := range entries[snap.Header.Index:to] {
			if err := event.Apply(st, e.Event, event.Forward); err != nil {
				return fmt.Errorf("entry %d: %w", e.Index, err)
			}
		}
	} else {
		if err := l.SeekTo(to); err != nil {
			return err
		}
		st, _ = l.Snapshot()
	}
	printState(out, st, to, o.fields)

	if !o.verify {
		return nil
	}
	checks, err := verify(l, to, st.Digest(), o)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "verify ok: %d checks\n", checks)
	return nil
}

// verify compares the state at to reached three ways: a fresh rebuild, the log's
// cursor walked to the end and back, and every stored snapshot of the match.
func verify(l *eventlog.Log, to int, want string, o options) (int, error) {
	checks := 0
	fresh, err := l.Rebuild(to)
	if err != nil {
		return checks, err
	}
	if got := fresh.Digest(); got != want {
		return checks, fmt.Errorf("rebuild digest at %d: got=%s want=%s", to, got, want)
	}
	checks++

	if err := l.SeekTo(l.Len()); err != nil {
		return checks, err
	}
	switch err := l.SeekTo(to); {
	case errors.Is(err, eventlog.ErrIrreversible):
		// A fatal disqualification after to; the backward walk stops there.
	case err != nil:
		return checks, err
	default:
		st, _ := l.Snapshot()
		if got := st.Digest(); got != want {
			return checks, fmt.Errorf("seek back digest at %d: got=%s want=%s", to, got, want)
		}
		checks++
	}

	matchID := o.matchID
	if matchID == "" {
		st, _ := l.Snapshot()
		matchID = st.MatchID
	}
	idxs, err := snapshot.Indexes(o.dataDir, matchID)
	if err != nil {
		return checks, err
	}
	for _, i := range idxs {
		if i > l.Len() {
			return checks, fmt.Errorf("snapshot %d is past the journal (%d events)", i, l.Len())
		}
		s, err := snapshot.ReadSnapshot(snapshot.Path(o.dataDir, matchID, i))
		if err != nil {
			return checks, err
		}
		st, err := l.Rebuild(i)
		if err != nil {
			return checks, err
		}
		if got := st.Digest(); got != s.Header.Digest {
			return checks, fmt.Errorf("snapshot %d: journal digest %s, snapshot %s", i, got, s.Header.Digest)
		}
		checks++
	}
	return checks, nil
}

// follow mirrors a match from a spectator server until it ends or the process
// is interrupted.
func follow(url, matchID string) ([]eventlog.Entry, error) {
	if matchID == "" {
		return nil, errors.New("-follow needs -match")
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	mirror := eventlog.New(eventlog.Options{})
	// Interrupted: keep what arrived.
	if err := spectator.Follow(ctx, url, matchID, mirror, zap.NewNop()); err != nil && ctx.Err() == nil {
		return nil, err
	}
	return mirror.Since(0, mirror.Len()), nil
}

func printState(out io.Writer, st *state.State, index int, fields bool) {
	fmt.Fprintf(out, "match=%s events=%d phase=%s rounds=%d ended=%v digest=%s\n",
		st.MatchID, index, st.Phase(), len(st.Rounds), st.Ended, st.Digest())
	for _, r := range st.Registers() {
		status := "active"
		switch {
		case r.Expelled:
			status = "expelled"
		case r.Disqualified:
			status = "dq:" + r.DQReason
		case !r.Seated:
			status = "not seated"
		case !r.Active:
			status = "sunk"
		}
		fmt.Fprintf(out, "  p%d %-16s %-8s team=%d score=%d hits=%d shots=%d %s\n",
			r.ID, r.Name, r.Version, r.Team, r.Score, r.Hits, r.ShotsMade.Len(), status)
		if fields && r.Seated {
			fmt.Fprint(out, st.FieldString(r.ID))
		}
	}
}

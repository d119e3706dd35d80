package arena

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"broadside.gg/internal/bots/randombot"
	"broadside.gg/internal/config"
	"broadside.gg/internal/sim/controller"
	"broadside.gg/internal/sim/eventlog"
	"broadside.gg/internal/sim/registry"
	"broadside.gg/internal/sim/state"
)

func newTestArena(t *testing.T, opts Options) *Arena {
	t.Helper()
	logger := zaptest.NewLogger(t)
	reg := registry.New(logger)
	err := reg.Register(registry.Capabilities{Name: randombot.Name, Version: randombot.Version, Modes: []string{config.ModeClassic, config.ModeFFA}},
		func(seed int64) (controller.Controller, error) { return randombot.New(seed), nil })
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	opts.Logger = logger
	opts.Registry = reg
	a := New(opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = a.Close(ctx)
	})
	return a
}

func duel(seed int64) Request {
	cfg := config.Defaults()
	cfg.Seed = seed
	return Request{Config: cfg, Entrants: []string{randombot.Name, randombot.Name + "@" + randombot.Version}}
}

func TestRunAll_IndependentMatches(t *testing.T) {
	a := newTestArena(t, Options{})
	reqs := []Request{duel(1), duel(2), duel(3), duel(1)}
	results, err := a.RunAll(context.Background(), reqs, 2)
	if err != nil {
		t.Fatalf("run all: %v", err)
	}
	seen := map[string]bool{}
	for i, res := range results {
		if res.MatchID == "" || seen[res.MatchID] {
			t.Fatalf("result %d has bad id %q", i, res.MatchID)
		}
		seen[res.MatchID] = true
		if res.Rounds == 0 {
			t.Fatalf("result %d played no rounds", i)
		}
	}
	// Same seeds, same controllers: identical outcome even when run concurrently.
	if results[0].Digest == "" || results[0].Events != results[3].Events {
		t.Fatalf("seeded matches diverged: %d vs %d events", results[0].Events, results[3].Events)
	}

	list := a.List()
	if len(list) != len(reqs) {
		t.Fatalf("listed %d matches", len(list))
	}
	for i := 1; i < len(list); i++ {
		if list[i-1].MatchID > list[i].MatchID {
			t.Fatalf("list not ordered by id")
		}
	}
	for _, s := range list {
		if !s.Ended || s.Phase != string(state.PhaseMatchEnd) || len(s.Players) != 2 {
			t.Fatalf("unexpected summary %+v", s)
		}
	}
}

func TestStart_UnknownEntrant(t *testing.T) {
	a := newTestArena(t, Options{})
	req := duel(1)
	req.Entrants[1] = "nobody"
	if _, err := a.Start(context.Background(), req); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if len(a.List()) != 0 {
		t.Fatalf("failed start left a match behind")
	}
}

func TestStart_UnsupportedMode(t *testing.T) {
	a := newTestArena(t, Options{})
	req := duel(1)
	req.Config.Teams = []config.TeamSpec{{Name: "red", Members: []string{"x"}}}
	if _, err := a.Start(context.Background(), req); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected unsupported mode, got %v", err)
	}
}

func TestStart_SinksAttachedAndClosed(t *testing.T) {
	var (
		mu     sync.Mutex
		seen   int
		closed bool
	)
	sinks := func(id string, _ config.Match) ([]eventlog.Sink, func() error, error) {
		s := eventlog.SinkFunc(func(eventlog.Entry, *state.State) {
			mu.Lock()
			seen++
			mu.Unlock()
		})
		return []eventlog.Sink{s}, func() error {
			mu.Lock()
			closed = true
			mu.Unlock()
			return nil
		}, nil
	}
	a := newTestArena(t, Options{Sinks: sinks})
	e, err := a.Start(context.Background(), duel(5))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	res, err := e.Result(context.Background())
	if err != nil {
		t.Fatalf("result: %v", err)
	}
	<-e.Done()
	mu.Lock()
	defer mu.Unlock()
	if seen != res.Events {
		t.Fatalf("sink saw %d of %d events", seen, res.Events)
	}
	if !closed {
		t.Fatalf("sinks not closed after the match")
	}
	if _, err := a.Lookup(e.ID); err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if _, err := a.Lookup("missing"); !errors.Is(err, ErrUnknownMatch) {
		t.Fatalf("expected unknown match, got %v", err)
	}
}

func TestRetainDropsOldestFinished(t *testing.T) {
	a := newTestArena(t, Options{Retain: 1})
	if _, err := a.RunAll(context.Background(), []Request{duel(1), duel(2), duel(3)}, 1); err != nil {
		t.Fatalf("run all: %v", err)
	}
	if n := len(a.List()); n != 1 {
		t.Fatalf("retained %d matches", n)
	}
}

func TestClose_RefusesNewMatches(t *testing.T) {
	a := newTestArena(t, Options{})
	if err := a.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := a.Start(context.Background(), duel(1)); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected closed, got %v", err)
	}
}

// Package arena runs matches side by side. Each match owns its log, its
// controllers and its RNG; the arena only keeps an index of them.
package arena

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"broadside.gg/internal/config"
	"broadside.gg/internal/protocol"
	"broadside.gg/internal/sim/eventlog"
	"broadside.gg/internal/sim/match"
	"broadside.gg/internal/sim/registry"
	"broadside.gg/internal/sim/sandbox"
	"broadside.gg/internal/sim/state"
)

var (
	ErrClosed       = errors.New("arena closed")
	ErrUnknownMatch = errors.New("unknown match")
	ErrUnsupported  = errors.New("controller does not support game mode")
)

// Request describes one match. Entrants are registry references, "name" or
// "name@version".
type Request struct {
	Config   config.Match
	Entrants []string
}

// SinkFactory attaches per-match sinks (journal, index, snapshots). The returned
// closer runs once the match has ended.
type SinkFactory func(matchID string, cfg config.Match) ([]eventlog.Sink, func() error, error)

type Options struct {
	Logger   *zap.Logger
	Registry *registry.Registry
	Sandbox  *sandbox.Sandbox
	Clock    func() time.Time
	Sinks    SinkFactory
	// Retain bounds how many finished matches stay listed. 0 keeps all.
	Retain int
}

// Entry is one match known to the arena.
type Entry struct {
	ID      string
	Created time.Time
	Match   *match.Match

	done   chan struct{}
	result match.Result
	err    error
}

func (e *Entry) Log() *eventlog.Log { return e.Match.Log() }

func (e *Entry) Done() <-chan struct{} { return e.done }

// Result blocks until the match has finished.
func (e *Entry) Result(ctx context.Context) (match.Result, error) {
	select {
	case <-e.done:
		return e.result, e.err
	case <-ctx.Done():
		return match.Result{}, ctx.Err()
	}
}

type Arena struct {
	opts   Options
	logger *zap.Logger

	mu       sync.RWMutex
	matches  map[string]*Entry
	finished []string
	closed   bool
	wg       sync.WaitGroup
}

func New(opts Options) *Arena {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Sandbox == nil {
		opts.Sandbox = sandbox.New(opts.Logger)
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Arena{
		opts:    opts,
		logger:  opts.Logger.Named("arena"),
		matches: map[string]*Entry{},
	}
}

// Prepare resolves and instantiates the entrants and sets the match up without
// running it. The returned release func closes the controller handles.
func (a *Arena) Prepare(ctx context.Context, req Request) (*Entry, func(), error) {
	a.mu.RLock()
	closed := a.closed
	a.mu.RUnlock()
	if closed {
		return nil, nil, ErrClosed
	}
	if a.opts.Registry == nil {
		return nil, nil, fmt.Errorf("arena: no registry")
	}
	id := ulid.Make().String()
	cfg := req.Config.Clone()

	var handles []registry.Handle
	release := func() {
		for _, h := range handles {
			if err := h.Close(); err != nil {
				a.logger.Warn("controller close failed", zap.String("match_id", id), zap.String("controller", h.Descriptor.Key().String()), zap.Error(err))
			}
		}
	}
	mode := cfg.GameMode(len(req.Entrants))
	entrants := make([]match.Entrant, 0, len(req.Entrants))
	for i, ref := range req.Entrants {
		d, err := a.opts.Registry.Resolve(ref)
		if err != nil {
			release()
			return nil, nil, err
		}
		if !d.Supports(mode) {
			release()
			return nil, nil, fmt.Errorf("%s: %w %s", d.Key(), ErrUnsupported, mode)
		}
		h, err := a.opts.Registry.Instantiate(ctx, d, cfg.Seed+int64(i)+1)
		if err != nil {
			release()
			return nil, nil, err
		}
		handles = append(handles, h)
		entrants = append(entrants, match.Entrant{Name: d.Name, Version: d.Version, Controller: h.Controller})
	}

	logOpts := eventlog.Options{Clock: a.opts.Clock}
	closeSinks := func() error { return nil }
	if a.opts.Sinks != nil {
		sinks, closer, err := a.opts.Sinks(id, cfg)
		if err != nil {
			release()
			return nil, nil, fmt.Errorf("match %s sinks: %w", id, err)
		}
		logOpts.Sinks = sinks
		if closer != nil {
			closeSinks = closer
		}
	}
	m, err := match.New(match.Context{Logger: a.opts.Logger, Sandbox: a.opts.Sandbox, Clock: a.opts.Clock}, id, cfg, entrants, logOpts)
	if err != nil {
		_ = closeSinks()
		release()
		return nil, nil, err
	}
	e := &Entry{ID: id, Created: a.opts.Clock(), Match: m, done: make(chan struct{})}
	return e, func() {
		release()
		if err := closeSinks(); err != nil {
			a.logger.Warn("closing match sinks failed", zap.String("match_id", id), zap.Error(err))
		}
	}, nil
}

// Start sets a match up and runs it in the background.
func (a *Arena) Start(ctx context.Context, req Request) (*Entry, error) {
	e, release, err := a.Prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		release()
		return nil, ErrClosed
	}
	a.matches[e.ID] = e
	a.wg.Add(1)
	a.mu.Unlock()

	go func() {
		defer a.wg.Done()
		a.run(ctx, e, release)
	}()
	return e, nil
}

func (a *Arena) run(ctx context.Context, e *Entry, release func()) {
	defer close(e.done)
	defer release()
	res, err := e.Match.Run(ctx)
	e.result, e.err = res, err
	if err != nil {
		a.logger.Warn("match aborted", zap.String("match_id", e.ID), zap.Error(err))
	}
	a.retire(e.ID)
}

func (a *Arena) retire(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.finished = append(a.finished, id)
	if a.opts.Retain <= 0 {
		return
	}
	for len(a.finished) > a.opts.Retain {
		delete(a.matches, a.finished[0])
		a.finished = a.finished[1:]
	}
}

// RunAll plays every request with at most parallel matches in flight and
// returns results in request order. The first engine failure cancels the rest.
func (a *Arena) RunAll(ctx context.Context, reqs []Request, parallel int) ([]match.Result, error) {
	g, gctx := errgroup.WithContext(ctx)
	if parallel > 0 {
		g.SetLimit(parallel)
	}
	out := make([]match.Result, len(reqs))
	for i, req := range reqs {
		i, req := i, req
		g.Go(func() error {
			e, err := a.Start(gctx, req)
			if err != nil {
				return err
			}
			res, err := e.Result(gctx)
			if err != nil {
				return fmt.Errorf("match %s: %w", e.ID, err)
			}
			out[i] = res
			return nil
		})
	}
	err := g.Wait()
	return out, err
}

func (a *Arena) Get(id string) (*Entry, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	e, ok := a.matches[id]
	return e, ok
}

// Lookup returns the log of a known match.
func (a *Arena) Lookup(id string) (*eventlog.Log, error) {
	e, ok := a.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMatch, id)
	}
	return e.Log(), nil
}

// List summarises known matches, oldest first.
func (a *Arena) List() []protocol.MatchSummary {
	a.mu.RLock()
	entries := make([]*Entry, 0, len(a.matches))
	for _, e := range a.matches {
		entries = append(entries, e)
	}
	a.mu.RUnlock()
	// ULIDs sort by creation time.
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })

	out := make([]protocol.MatchSummary, 0, len(entries))
	for _, e := range entries {
		s := protocol.MatchSummary{MatchID: e.ID}
		e.Log().View(func(st *state.State, cursor int) {
			s.Events = cursor
			s.Phase = string(st.Phase())
			s.Ended = st.Ended
			s.Round = len(st.Rounds)
			for _, id := range st.PlayerIDs() {
				p := st.Players[id]
				s.Players = append(s.Players, p.Name)
			}
		})
		out = append(out, s)
	}
	return out
}

// Close refuses new matches and waits for running ones, or for ctx.
func (a *Arena) Close(ctx context.Context) error {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

package match

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"broadside.gg/internal/config"
	"broadside.gg/internal/protocol"
	"broadside.gg/internal/sim/board"
	"broadside.gg/internal/sim/controller"
	"broadside.gg/internal/sim/event"
	"broadside.gg/internal/sim/eventlog"
	"broadside.gg/internal/sim/sandbox"
	"broadside.gg/internal/sim/state"
)

var ErrTooFewEntrants = errors.New("a match needs at least two sides")

// Context carries everything a match needs from its host. Nothing is global, so
// any number of matches can run side by side.
type Context struct {
	Logger  *zap.Logger
	Sandbox *sandbox.Sandbox
	Clock   func() time.Time
}

type Entrant struct {
	Name       string
	Version    string
	Controller controller.Controller
}

type Result struct {
	MatchID string
	Rounds  int
	Events  int
	Scores  map[board.PlayerID]int
	Names   map[board.PlayerID]string
	Digest  string
}

// Match drives one match from setup to MatchEnd. It is the only writer of its log.
type Match struct {
	id      string
	cfg     config.Match
	log     *eventlog.Log
	sb      *sandbox.Sandbox
	logger  *zap.Logger
	rng     *rand.Rand
	ctl     map[board.PlayerID]controller.Controller
	names   map[board.PlayerID]string
	pending map[board.PlayerID]event.PlayerDisqualified
}

func New(mctx Context, id string, cfg config.Match, entrants []Entrant, logOpts eventlog.Options) (*Match, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("match %s: %w", id, err)
	}
	if len(entrants) < 2 {
		return nil, fmt.Errorf("match %s: %w", id, ErrTooFewEntrants)
	}
	logger := mctx.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("match").With(zap.String("match_id", id))
	sb := mctx.Sandbox
	if sb == nil {
		sb = sandbox.New(logger)
	}
	if logOpts.Logger == nil {
		logOpts.Logger = logger
	}
	if logOpts.Clock == nil {
		logOpts.Clock = mctx.Clock
	}
	m := &Match{
		id:      id,
		cfg:     cfg.Clone(),
		log:     eventlog.New(logOpts),
		sb:      sb,
		logger:  logger,
		rng:     rand.New(rand.NewSource(cfg.Seed)),
		ctl:     map[board.PlayerID]controller.Controller{},
		names:   map[board.PlayerID]string{},
		pending: map[board.PlayerID]event.PlayerDisqualified{},
	}
	for i, e := range entrants {
		if e.Controller == nil {
			return nil, fmt.Errorf("match %s: entrant %d (%s) has no controller", id, i, e.Name)
		}
		pid := board.PlayerID(i + 1)
		m.ctl[pid] = e.Controller
		m.names[pid] = e.Name
	}
	if err := m.setup(entrants); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Match) ID() string { return m.id }

func (m *Match) Log() *eventlog.Log { return m.log }

func (m *Match) append(ev event.Event) error {
	_, err := m.log.Append(ev)
	return err
}

// must appends an event the scheduler built from already-checked state. A failure
// here is an engine bug and stops the match.
func (m *Match) must(ev event.Event) error {
	if err := m.append(ev); err != nil {
		return fmt.Errorf("match %s: %s: %w", m.id, ev.Kind(), err)
	}
	return nil
}

func (m *Match) setup(entrants []Entrant) error {
	if err := m.must(event.MatchBegin{MatchID: m.id, Config: m.cfg}); err != nil {
		return err
	}
	teamOf := map[string]state.TeamID{}
	next := state.TeamID(1)
	for _, t := range m.cfg.Teams {
		if err := m.must(event.TeamAdd{Team: next, Name: t.Name}); err != nil {
			return err
		}
		for _, member := range t.Members {
			teamOf[member] = next
		}
		next++
	}
	for i, e := range entrants {
		pid := board.PlayerID(i + 1)
		if err := m.must(event.PlayerAdd{Player: pid, Name: e.Name, Version: e.Version}); err != nil {
			return err
		}
		team, ok := teamOf[e.Name]
		if !ok {
			team = next
			next++
			if err := m.must(event.TeamAdd{Team: team, Name: fmt.Sprintf("%s#%d", e.Name, pid), Internal: true}); err != nil {
				return err
			}
		}
		if err := m.must(event.PlayerTeamAssign{Player: pid, Team: team}); err != nil {
			return err
		}
	}
	var sides int
	m.log.View(func(st *state.State, _ int) { sides = st.SidesOf(st.Eligible()) })
	if sides < 2 {
		return fmt.Errorf("match %s: %w", m.id, ErrTooFewEntrants)
	}
	return nil
}

// Run plays rounds until the configured termination condition holds or fewer than
// two sides remain, then ends the match.
func (m *Match) Run(ctx context.Context) (Result, error) {
	m.logger.Info("match started", zap.Int("players", len(m.ctl)))
	for _, pid := range m.playerIDs() {
		var info controller.MatchInfo
		m.log.View(func(st *state.State, _ int) { info = controller.NewMatchInfo(st, pid) })
		if err := m.notify(ctx, pid, protocol.MethodNewMatch, func(ctx context.Context, c controller.Controller) error {
			return c.NewMatch(ctx, info)
		}); err != nil {
			return m.result(), err
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return m.result(), err
		}
		var eligible []board.PlayerID
		var sides, played, best int
		m.log.View(func(st *state.State, _ int) {
			eligible = st.Eligible()
			sides = st.SidesOf(eligible)
			played = len(st.Rounds)
			best = st.BestScore()
		})
		if played > 0 && m.cfg.Done(played, best) {
			break
		}
		if sides < 2 {
			m.logger.Info("too few sides left to continue", zap.Int("sides", sides))
			break
		}
		if err := m.playRound(ctx, played+1, eligible); err != nil {
			return m.result(), err
		}
	}

	var rounds int
	m.log.View(func(st *state.State, _ int) { rounds = len(st.Rounds) })
	if err := m.must(event.MatchEnd{Rounds: rounds}); err != nil {
		return m.result(), err
	}
	scores := m.result().Scores
	for _, pid := range m.playerIDs() {
		m.notifyQuiet(ctx, pid, protocol.MethodMatchOver, func(ctx context.Context, c controller.Controller) error {
			return c.MatchOver(ctx, copyScores(scores))
		})
	}
	res := m.result()
	m.logger.Info("match finished", zap.Int("rounds", res.Rounds), zap.Any("scores", res.Scores))
	return res, nil
}

func (m *Match) result() Result {
	res := Result{MatchID: m.id, Names: map[board.PlayerID]string{}}
	m.log.View(func(st *state.State, cursor int) {
		res.Rounds = len(st.Rounds)
		res.Events = cursor
		res.Scores = st.Scores()
		res.Digest = st.Digest()
	})
	for id, n := range m.names {
		res.Names[id] = n
	}
	return res
}

func (m *Match) playerIDs() []board.PlayerID {
	var ids []board.PlayerID
	m.log.View(func(st *state.State, _ int) { ids = st.PlayerIDs() })
	return ids
}

func copyScores(in map[board.PlayerID]int) map[board.PlayerID]int {
	out := make(map[board.PlayerID]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

package eventlog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"broadside.gg/internal/sim/event"
	"broadside.gg/internal/sim/state"
)

var (
	ErrOutOfSequence = errors.New("append out of sequence")
	ErrIndexRange    = errors.New("index out of range")
	ErrIrreversible  = event.ErrIrreversible
)

// Entry is one appended event. Index is its position in the log, starting at 0.
type Entry struct {
	Index int
	At    time.Time
	Event event.Event
}

// Sink observes every appended entry in order. It runs under the log's write lock
// and must not call back into the log or keep st.
type Sink interface {
	OnEvent(e Entry, st *state.State)
}

type SinkFunc func(e Entry, st *state.State)

func (f SinkFunc) OnEvent(e Entry, st *state.State) { f(e, st) }

type Options struct {
	Logger *zap.Logger
	Clock  func() time.Time
	Sinks  []Sink
}

// Log is the append-only record of one match plus a cursor into it. The state at
// the cursor is the result of applying entries [0, cursor) in order.
type Log struct {
	mu      sync.RWMutex
	entries []Entry
	cursor  int
	st      *state.State
	version uint64
	changed chan struct{}

	sinks  []Sink
	clock  func() time.Time
	logger *zap.Logger
}

func New(opts Options) *Log {
	l := &Log{
		st:      state.New(),
		changed: make(chan struct{}),
		sinks:   append([]Sink(nil), opts.Sinks...),
		clock:   opts.Clock,
		logger:  opts.Logger,
	}
	if l.clock == nil {
		l.clock = time.Now
	}
	if l.logger == nil {
		l.logger = zap.NewNop()
	}
	return l
}

// Open wraps already recorded entries with the cursor at 0. Entries are checked only
// when a seek applies them.
func Open(entries []Entry, opts Options) (*Log, error) {
	l := New(opts)
	for i, e := range entries {
		if e.Index != i {
			return nil, fmt.Errorf("entry %d has index %d: %w", i, e.Index, ErrOutOfSequence)
		}
		if e.Event == nil {
			return nil, fmt.Errorf("entry %d: missing event", i)
		}
	}
	l.entries = append([]Entry(nil), entries...)
	return l, nil
}

func (l *Log) AddSink(s Sink) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sinks = append(l.sinks, s)
}

// Append applies ev at the tail and records it. The cursor must be at the tail.
// A failed apply records nothing and leaves the state untouched.
func (l *Log) Append(ev event.Event) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.appendLocked(len(l.entries), ev, time.Time{})
}

// AppendAt records an externally observed event that must land at index.
func (l *Log) AppendAt(index int, at time.Time, ev event.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := l.appendLocked(index, ev, at)
	return err
}

func (l *Log) appendLocked(index int, ev event.Event, at time.Time) (int, error) {
	if l.cursor != len(l.entries) {
		return 0, fmt.Errorf("cursor %d behind tail %d: %w", l.cursor, len(l.entries), ErrOutOfSequence)
	}
	if index != len(l.entries) {
		return 0, fmt.Errorf("index %d, next is %d: %w", index, len(l.entries), ErrOutOfSequence)
	}
	if err := event.Apply(l.st, ev, event.Forward); err != nil {
		return 0, err
	}
	if at.IsZero() {
		at = l.clock()
	}
	e := Entry{Index: index, At: at.UTC(), Event: ev}
	l.entries = append(l.entries, e)
	l.cursor++
	l.bumpLocked()
	l.logger.Debug("event appended", zap.Int("index", index), zap.String("kind", string(ev.Kind())))
	for _, s := range l.sinks {
		s.OnEvent(e, l.st)
	}
	return index, nil
}

func (l *Log) bumpLocked() {
	l.version++
	close(l.changed)
	l.changed = make(chan struct{})
}

// SeekTo moves the cursor to n, applying or reversing one event at a time. A
// backward seek across an irreversible event fails before anything moves.
func (l *Log) SeekTo(n int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n < 0 || n > len(l.entries) {
		return fmt.Errorf("seek %d of %d: %w", n, len(l.entries), ErrIndexRange)
	}
	if n < l.cursor {
		for i := l.cursor - 1; i >= n; i-- {
			if !event.Reversible(l.entries[i].Event) {
				return fmt.Errorf("seek %d: entry %d (%s): %w", n, i, l.entries[i].Event.Kind(), ErrIrreversible)
			}
		}
	}
	moved := l.cursor != n
	defer func() {
		if moved {
			l.bumpLocked()
		}
	}()
	for l.cursor < n {
		e := l.entries[l.cursor]
		if err := event.Apply(l.st, e.Event, event.Forward); err != nil {
			return fmt.Errorf("seek %d: apply entry %d: %w", n, e.Index, err)
		}
		l.cursor++
	}
	for l.cursor > n {
		e := l.entries[l.cursor-1]
		if err := event.Apply(l.st, e.Event, event.Backward); err != nil {
			return fmt.Errorf("seek %d: reverse entry %d: %w", n, e.Index, err)
		}
		l.cursor--
	}
	return nil
}

// Rebuild replays entries [0, n) onto a fresh state without touching the cursor.
func (l *Log) Rebuild(n int) (*state.State, error) {
	l.mu.RLock()
	if n < 0 || n > len(l.entries) {
		l.mu.RUnlock()
		return nil, fmt.Errorf("rebuild %d of %d: %w", n, len(l.entries), ErrIndexRange)
	}
	entries := l.entries[:n:n]
	l.mu.RUnlock()

	st := state.New()
	for _, e := range entries {
		if err := event.Apply(st, e.Event, event.Forward); err != nil {
			return nil, fmt.Errorf("rebuild: entry %d: %w", e.Index, err)
		}
	}
	return st, nil
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

func (l *Log) Cursor() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cursor
}

// Version changes on every append and every cursor move.
func (l *Log) Version() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.version
}

// View runs fn with the state at the cursor under the read lock. fn must not keep st.
func (l *Log) View(fn func(st *state.State, cursor int)) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	fn(l.st, l.cursor)
}

// Snapshot returns a detached copy of the state at the cursor.
func (l *Log) Snapshot() (*state.State, int) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.st.Clone(), l.cursor
}

func (l *Log) Entry(i int) (Entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if i < 0 || i >= len(l.entries) {
		return Entry{}, false
	}
	return l.entries[i], true
}

// Since returns up to limit entries starting at from. limit <= 0 means all.
func (l *Log) Since(from, limit int) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if from < 0 {
		from = 0
	}
	if from >= len(l.entries) {
		return nil
	}
	end := len(l.entries)
	if limit > 0 && from+limit < end {
		end = from + limit
	}
	return append([]Entry(nil), l.entries[from:end]...)
}

// Wait blocks until the log holds more than after entries or ctx is done.
func (l *Log) Wait(ctx context.Context, after int) (int, error) {
	for {
		l.mu.RLock()
		n, ch := len(l.entries), l.changed
		l.mu.RUnlock()
		if n > after {
			return n, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return n, ctx.Err()
		}
	}
}

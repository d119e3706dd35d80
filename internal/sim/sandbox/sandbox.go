package sandbox

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var (
	ErrTimeout = errors.New("controller call timed out")
	ErrFault   = errors.New("controller fault")
)

// Outcome is what the scheduler gets back from a controller call. Err is nil,
// ErrTimeout, or wraps ErrFault.
type Outcome[T any] struct {
	Value    T
	Elapsed  time.Duration
	TimedOut bool
	Err      error
}

func (o Outcome[T]) OK() bool { return o.Err == nil }

type Stats struct {
	Calls     uint64
	Timeouts  uint64
	Faults    uint64
	Abandoned int64 // timed-out calls whose worker is still running
}

// Sandbox runs controller callbacks on their own goroutine under a deadline. The
// caller never waits past the deadline; a late worker finishes into a buffered
// slot nobody reads.
type Sandbox struct {
	logger *zap.Logger
	clock  func() time.Time

	calls     atomic.Uint64
	timeouts  atomic.Uint64
	faults    atomic.Uint64
	abandoned atomic.Int64
}

func New(logger *zap.Logger) *Sandbox {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sandbox{logger: logger, clock: time.Now}
}

func (s *Sandbox) Stats() Stats {
	return Stats{
		Calls:     s.calls.Load(),
		Timeouts:  s.timeouts.Load(),
		Faults:    s.faults.Load(),
		Abandoned: s.abandoned.Load(),
	}
}

type result[T any] struct {
	v   T
	err error
	end time.Time
}

// Invoke calls fn with a context that is cancelled at the deadline. Panics and
// returned errors come back as faults; they never escape into the caller.
func Invoke[T any](ctx context.Context, s *Sandbox, limit time.Duration, name string, fn func(ctx context.Context) (T, error)) Outcome[T] {
	s.calls.Add(1)
	start := s.clock()
	callCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	done := make(chan result[T], 1)
	go func() {
		var r result[T]
		defer func() {
			if p := recover(); p != nil {
				r.err = fmt.Errorf("%w: panic: %v", ErrFault, p)
				s.logger.Warn("controller panic",
					zap.String("controller", name),
					zap.Any("panic", p),
					zap.ByteString("stack", debug.Stack()),
				)
			}
			r.end = s.clock()
			done <- r
		}()
		r.v, r.err = fn(callCtx)
	}()

	timer := time.NewTimer(limit)
	defer timer.Stop()

	var out Outcome[T]
	select {
	case r := <-done:
		out.Elapsed = r.end.Sub(start)
		if out.Elapsed >= limit {
			// Finished, but only after the budget ran out.
			return timedOut(s, out, name, limit)
		}
		if r.err != nil {
			if !errors.Is(r.err, ErrFault) {
				r.err = fmt.Errorf("%w: %v", ErrFault, r.err)
			}
			s.faults.Add(1)
			s.logger.Info("controller fault", zap.String("controller", name), zap.Error(r.err))
			out.Err = r.err
			return out
		}
		out.Value = r.v
		return out
	case <-timer.C:
		out.Elapsed = s.clock().Sub(start)
		abandon(s, done)
		return timedOut(s, out, name, limit)
	case <-ctx.Done():
		out.Elapsed = s.clock().Sub(start)
		out.Err = ctx.Err()
		abandon(s, done)
		return out
	}
}

func timedOut[T any](s *Sandbox, out Outcome[T], name string, limit time.Duration) Outcome[T] {
	s.timeouts.Add(1)
	s.logger.Info("controller timeout",
		zap.String("controller", name),
		zap.Duration("limit", limit),
		zap.Duration("elapsed", out.Elapsed),
	)
	out.TimedOut = true
	out.Err = ErrTimeout
	return out
}

// abandon tracks a worker the caller stopped waiting for until it finally returns.
func abandon[T any](s *Sandbox, done <-chan result[T]) {
	s.abandoned.Add(1)
	go func() {
		<-done
		s.abandoned.Add(-1)
	}()
}

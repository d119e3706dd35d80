package sandbox

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func TestInvoke_ReturnsValue(t *testing.T) {
	s := New(zaptest.NewLogger(t))
	out := Invoke(context.Background(), s, time.Second, "fast", func(ctx context.Context) (int, error) {
		return 42, nil
	})
	if !out.OK() || out.Value != 42 || out.TimedOut {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if out.Elapsed < 0 || out.Elapsed > time.Second {
		t.Fatalf("elapsed=%v", out.Elapsed)
	}
}

func TestInvoke_TimeoutDoesNotBlock(t *testing.T) {
	s := New(zaptest.NewLogger(t))
	release := make(chan struct{})
	defer close(release)

	limit := 500 * time.Millisecond
	start := time.Now()
	out := Invoke(context.Background(), s, limit, "stuck", func(ctx context.Context) (int, error) {
		<-release // ignores ctx on purpose
		return 1, nil
	})
	wall := time.Since(start)
	if !out.TimedOut || !errors.Is(out.Err, ErrTimeout) {
		t.Fatalf("expected timeout, got %+v", out)
	}
	if out.Elapsed < limit {
		t.Fatalf("elapsed %v below limit %v", out.Elapsed, limit)
	}
	if wall > limit+250*time.Millisecond {
		t.Fatalf("caller blocked for %v", wall)
	}
	if out.Value != 0 {
		t.Fatalf("late value leaked: %d", out.Value)
	}
	if st := s.Stats(); st.Timeouts != 1 || st.Abandoned != 1 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestInvoke_AbandonedWorkerDrains(t *testing.T) {
	s := New(zaptest.NewLogger(t))
	release := make(chan struct{})
	out := Invoke(context.Background(), s, 10*time.Millisecond, "late", func(ctx context.Context) (string, error) {
		<-release
		return "late", nil
	})
	if !out.TimedOut {
		t.Fatalf("expected timeout")
	}
	close(release)
	deadline := time.Now().Add(time.Second)
	for s.Stats().Abandoned != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("abandoned worker never drained")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestInvoke_CancelsContextAtDeadline(t *testing.T) {
	s := New(zaptest.NewLogger(t))
	cancelled := make(chan struct{})
	out := Invoke(context.Background(), s, 20*time.Millisecond, "polite", func(ctx context.Context) (int, error) {
		<-ctx.Done()
		close(cancelled)
		return 0, ctx.Err()
	})
	if !out.TimedOut {
		t.Fatalf("expected timeout, got %+v", out)
	}
	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatalf("worker context not cancelled")
	}
}

func TestInvoke_PanicIsFault(t *testing.T) {
	s := New(zaptest.NewLogger(t))
	out := Invoke(context.Background(), s, time.Second, "crashy", func(ctx context.Context) (int, error) {
		var m map[string]int
		m["boom"] = 1
		return 0, nil
	})
	if out.TimedOut || !errors.Is(out.Err, ErrFault) {
		t.Fatalf("expected fault, got %+v", out)
	}
	if s.Stats().Faults != 1 {
		t.Fatalf("stats=%+v", s.Stats())
	}
}

func TestInvoke_ErrorIsFault(t *testing.T) {
	s := New(zaptest.NewLogger(t))
	out := Invoke(context.Background(), s, time.Second, "grumpy", func(ctx context.Context) (int, error) {
		return 0, errors.New("no")
	})
	if !errors.Is(out.Err, ErrFault) || out.TimedOut {
		t.Fatalf("expected fault, got %+v", out)
	}
}

func TestInvoke_ParentCancelled(t *testing.T) {
	s := New(zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := Invoke(ctx, s, time.Second, "any", func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	if out.OK() {
		t.Fatalf("expected error")
	}
}

func TestInvoke_OverBudgetByOneTickTimesOut(t *testing.T) {
	s := New(zaptest.NewLogger(t))
	limit := 50 * time.Millisecond
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	var ticks atomic.Int32
	// First reading is the call start, every later one is just past the budget.
	s.clock = func() time.Time {
		if ticks.Add(1) == 1 {
			return start
		}
		return start.Add(limit + time.Nanosecond)
	}
	out := Invoke(context.Background(), s, limit, "late", func(ctx context.Context) (int, error) {
		return 7, nil
	})
	if !out.TimedOut || !errors.Is(out.Err, ErrTimeout) {
		t.Fatalf("expected timeout, got %+v", out)
	}
	if out.Elapsed != limit+time.Nanosecond {
		t.Fatalf("elapsed=%v", out.Elapsed)
	}
	if out.Value != 0 {
		t.Fatalf("late value leaked: %d", out.Value)
	}
	if st := s.Stats(); st.Timeouts != 1 || st.Faults != 0 {
		t.Fatalf("stats=%+v", st)
	}
}

package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPolicyDelayGrows(t *testing.T) {
	p := Policy{BaseDelay: time.Second, Multiplier: 2, MaxDelay: time.Minute}

	first := p.Delay(1)
	second := p.Delay(2)
	third := p.Delay(3)

	if first != time.Second {
		t.Fatalf("attempt 1 delay = %v, want 1s", first)
	}
	if second != 2*time.Second || third != 4*time.Second {
		t.Fatalf("delays did not double: %v, %v", second, third)
	}
}

func TestPolicyDelayCapped(t *testing.T) {
	p := Policy{BaseDelay: time.Second, Multiplier: 10, MaxDelay: 5 * time.Second}
	if got := p.Delay(4); got != 5*time.Second {
		t.Fatalf("delay = %v, want capped at 5s", got)
	}
}

func TestPolicyDelayJitterBounds(t *testing.T) {
	p := Policy{BaseDelay: time.Second, Multiplier: 1, JitterRatio: 0.5}
	for i := 0; i < 50; i++ {
		d := p.Delay(1)
		if d < 500*time.Millisecond || d > 1500*time.Millisecond {
			t.Fatalf("jittered delay %v outside ±50%% of base", d)
		}
	}
}

func TestDoStopsOnTerminalError(t *testing.T) {
	p := Policy{MaxAttempts: 5, BaseDelay: time.Millisecond}
	terminal := errors.New("terminal")

	calls := 0
	err := p.Do(context.Background(), func(err error) bool { return false }, func() error {
		calls++
		return terminal
	})

	if !errors.Is(err, terminal) {
		t.Fatalf("expected terminal error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("terminal error retried %d times", calls)
	}
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	p := Policy{MaxAttempts: 5, BaseDelay: time.Millisecond, Multiplier: 1}

	calls := 0
	err := p.Do(context.Background(), func(err error) bool { return true }, func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestDoExhaustsBudget(t *testing.T) {
	p := Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, Multiplier: 1}

	calls := 0
	err := p.Do(context.Background(), nil, func() error {
		calls++
		return errors.New("transient")
	})

	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestUniformStaysInRange(t *testing.T) {
	t.Parallel()

	for i := 0; i < 1000; i++ {
		d := Uniform(3*time.Second, 10*time.Second)
		if d < 3*time.Second || d > 10*time.Second {
			t.Fatalf("jitter %s out of range", d)
		}
	}

	if d := Uniform(5*time.Second, 5*time.Second); d != 5*time.Second {
		t.Fatalf("expected fixed 5s, got %s", d)
	}
	if d := Uniform(10*time.Second, 2*time.Second); d < 2*time.Second || d > 10*time.Second {
		t.Fatalf("swapped bounds out of range: %s", d)
	}
}

func TestClockSleepHonoursCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := NewClock().Sleep(ctx, time.Hour)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("sleep did not return promptly")
	}
}

func TestClockSleepElapses(t *testing.T) {
	t.Parallel()

	if err := NewClock().Sleep(context.Background(), 5*time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := NewClock().Sleep(context.Background(), 0); err != nil {
		t.Fatalf("zero sleep: %v", err)
	}
}

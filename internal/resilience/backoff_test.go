package resilience

import (
	"context"
	"testing"
	"time"
)

func TestBackoffDoublesAndCaps(t *testing.T) {
	t.Parallel()

	b := NewBackoff(time.Second, 4*time.Second, 0)
	want := []time.Duration{
		time.Second,
		2 * time.Second,
		4 * time.Second,
		4 * time.Second,
	}
	for i, w := range want {
		if got := b.Next(); got != w {
			t.Errorf("Next() #%d = %v, want %v", i, got, w)
		}
	}
}

func TestBackoffReset(t *testing.T) {
	t.Parallel()

	b := NewBackoff(time.Second, time.Minute, 0)
	b.Next()
	b.Next()
	b.Reset()
	if got := b.Next(); got != time.Second {
		t.Errorf("Next() after Reset = %v, want 1s", got)
	}
}

func TestBackoffJitterBounds(t *testing.T) {
	t.Parallel()

	b := NewBackoff(time.Second, time.Minute, 0.5)
	for range 100 {
		d := b.Next()
		b.Reset()
		if d < 750*time.Millisecond || d > 1250*time.Millisecond {
			t.Fatalf("jittered delay %v outside [750ms, 1.25s]", d)
		}
	}
}

func TestBackoffWaitCancelled(t *testing.T) {
	t.Parallel()

	b := NewBackoff(time.Minute, time.Hour, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	if err := b.Wait(ctx); err != context.Canceled {
		t.Fatalf("Wait = %v, want context.Canceled", err)
	}
	if time.Since(start) > time.Second {
		t.Error("Wait did not return promptly on cancellation")
	}
}

func TestBackoffDefaults(t *testing.T) {
	t.Parallel()

	b := NewBackoff(0, 0, -1)
	if got := b.Next(); got != time.Second {
		t.Errorf("Next() with zero config = %v, want 1s", got)
	}
}

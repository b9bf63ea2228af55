package resilience

import (
	"context"
	"testing"
	"time"
)

func TestBackoffGrowsAndCaps(t *testing.T) {
	b := Backoff{Base: 500 * time.Millisecond, Factor: 2, Max: 2 * time.Second, Attempts: 5}

	if d := b.Delay(0); d != 0 {
		t.Errorf("Delay(0) = %v, want 0", d)
	}
	if d := b.Delay(1); d != 500*time.Millisecond {
		t.Errorf("Delay(1) = %v, want 500ms", d)
	}
	if d := b.Delay(2); d != time.Second {
		t.Errorf("Delay(2) = %v, want 1s", d)
	}
	if d := b.Delay(4); d != 2*time.Second {
		t.Errorf("Delay(4) = %v, want cap 2s", d)
	}
}

func TestBackoffJitterBounds(t *testing.T) {
	b := Backoff{Base: time.Second, Factor: 2, Max: time.Minute, Jitter: 0.25}

	for range 100 {
		d := b.Delay(1)
		if d < 750*time.Millisecond || d > 1250*time.Millisecond {
			t.Fatalf("jittered delay %v outside [750ms, 1250ms]", d)
		}
	}
}

func TestSleepRespectsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Sleep(ctx, time.Minute); err == nil {
		t.Fatal("expected error from cancelled context")
	}
}

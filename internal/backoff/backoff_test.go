package backoff

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestNextDelayNeverExceedsMax(t *testing.T) {
	c := New(DefaultConfig(), nil)
	c.rand = func() float64 { return 1.0 } // worst-case jitter, always added

	for i := 0; i < 500; i++ {
		d := c.nextDelay()
		if d > c.cfg.Max {
			t.Fatalf("attempt %d: delay %v exceeds max %v", i, d, c.cfg.Max)
		}
		c.attempt++
	}
}

func TestNextDelayGrows(t *testing.T) {
	cfg := DefaultConfig()
	cfg.JitterRatio = 0
	c := New(cfg, nil)

	var prev time.Duration
	for i := 0; i < 50; i++ {
		d := c.nextDelay()
		if d < prev {
			t.Fatalf("attempt %d: delay %v shrank from %v", i, d, prev)
		}
		prev = d
		c.attempt++
	}
}

func TestNextDelayRespectsMin(t *testing.T) {
	c := New(DefaultConfig(), nil)
	c.rand = func() float64 { return 0.99 } // near-full deviation

	// Force the subtracting branch by alternating rand results.
	calls := 0
	c.rand = func() float64 {
		calls++
		if calls%2 == 0 {
			return 0.1 // pick subtraction
		}
		return 0.99
	}

	for i := 0; i < 20; i++ {
		if d := c.nextDelay(); d < c.cfg.Min {
			t.Fatalf("delay %v below min %v", d, c.cfg.Min)
		}
	}
}

func TestBackoffRejectsOverlap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Min = 50 * time.Millisecond
	c := New(cfg, func() {})
	defer c.Reset()

	if err := c.Backoff(); err != nil {
		t.Fatalf("first Backoff() error = %v", err)
	}
	if err := c.Backoff(); !errors.Is(err, ErrInProgress) {
		t.Fatalf("second Backoff() error = %v, want ErrInProgress", err)
	}
}

func TestBackoffFiresReady(t *testing.T) {
	var fired atomic.Int32
	cfg := DefaultConfig()
	cfg.JitterRatio = 0
	c := New(cfg, func() { fired.Add(1) })
	defer c.Reset()

	if err := c.Backoff(); err != nil {
		t.Fatalf("Backoff() error = %v", err)
	}

	deadline := time.After(time.Second)
	for fired.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("timeout waiting for ready signal")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if c.Pending() {
		t.Error("Pending() = true after ready fired")
	}

	// Ready fired, so a new Backoff must be accepted again.
	if err := c.Backoff(); err != nil {
		t.Fatalf("Backoff() after fire error = %v", err)
	}
}

func TestResetCancelsPending(t *testing.T) {
	var fired atomic.Int32
	cfg := DefaultConfig()
	cfg.Min = 30 * time.Millisecond
	cfg.JitterRatio = 0
	c := New(cfg, func() { fired.Add(1) })

	if err := c.Backoff(); err != nil {
		t.Fatalf("Backoff() error = %v", err)
	}
	c.Reset()

	time.Sleep(60 * time.Millisecond)
	if fired.Load() != 0 {
		t.Error("ready fired after Reset")
	}
	if c.Pending() {
		t.Error("Pending() = true after Reset")
	}

	// Reset restores the initial delay.
	if c.attempt != 0 {
		t.Errorf("attempt = %d after Reset, want 0", c.attempt)
	}
}

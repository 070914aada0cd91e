// Package backoff provides an exponential-backoff timer with jitter,
// used to pace ICE-restart attempts.
package backoff

import (
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"
)

// ErrInProgress is returned by Backoff when a delayed ready signal is
// already outstanding. It is recoverable: the caller that raced simply
// keeps waiting for the pending signal.
var ErrInProgress = errors.New("backoff already in progress")

// Config holds the backoff curve parameters.
type Config struct {
	// Factor is the multiplicative growth per attempt.
	Factor float64

	// JitterRatio is the maximum fraction of the computed delay added or
	// subtracted at random. Must be in [0, 1].
	JitterRatio float64

	// Min is the delay of the first attempt.
	Min time.Duration

	// Max caps the delay; no scheduled delay ever exceeds it.
	Max time.Duration
}

// DefaultConfig returns the parameters used for ICE-restart pacing.
func DefaultConfig() Config {
	return Config{
		Factor:      1.1,
		JitterRatio: 0.5,
		Min:         1 * time.Millisecond,
		Max:         30000 * time.Millisecond,
	}
}

// Controller schedules a single delayed "ready" signal per Backoff call,
// growing the delay exponentially between attempts. It owns at most one
// outstanding timer: overlapping Backoff calls fail with ErrInProgress.
type Controller struct {
	mu      sync.Mutex
	cfg     Config
	ready   func()
	attempt int
	pending bool
	timer   *time.Timer
	rand    func() float64
}

// New creates a Controller that invokes ready when a scheduled delay
// elapses. The ready callback runs on the timer goroutine.
func New(cfg Config, ready func()) *Controller {
	if cfg.Factor < 1 {
		cfg.Factor = 1
	}
	if cfg.Min <= 0 {
		cfg.Min = time.Millisecond
	}
	if cfg.Max < cfg.Min {
		cfg.Max = cfg.Min
	}
	return &Controller{
		cfg:   cfg,
		ready: ready,
		rand:  rand.Float64,
	}
}

// Backoff schedules the next ready signal. It returns ErrInProgress if a
// signal is already pending; the attempt counter is not advanced in that
// case.
func (c *Controller) Backoff() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending {
		return ErrInProgress
	}

	delay := c.nextDelay()
	c.attempt++
	c.pending = true
	c.timer = time.AfterFunc(delay, c.fire)
	return nil
}

// Reset cancels any outstanding signal and restores the initial delay.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.attempt = 0
	c.pending = false
}

// Max returns the configured delay cap, which doubles as the recovery
// window callers enforce across attempts.
func (c *Controller) Max() time.Duration {
	return c.cfg.Max
}

// Pending reports whether a ready signal is outstanding.
func (c *Controller) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

func (c *Controller) fire() {
	c.mu.Lock()
	c.pending = false
	c.timer = nil
	ready := c.ready
	c.mu.Unlock()

	if ready != nil {
		ready()
	}
}

// nextDelay computes min(max, min*factor^attempt) with jitter applied,
// clamped so the result never exceeds cfg.Max. Caller holds c.mu.
func (c *Controller) nextDelay() time.Duration {
	base := float64(c.cfg.Min) * math.Pow(c.cfg.Factor, float64(c.attempt))
	if base > float64(c.cfg.Max) {
		base = float64(c.cfg.Max)
	}

	if c.cfg.JitterRatio > 0 {
		deviation := c.rand() * c.cfg.JitterRatio * base
		if c.rand() < 0.5 {
			base -= deviation
		} else {
			base += deviation
		}
	}

	d := time.Duration(base)
	if d < c.cfg.Min {
		d = c.cfg.Min
	}
	if d > c.cfg.Max {
		d = c.cfg.Max
	}
	return d
}

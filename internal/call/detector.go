package call

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sebas/dialtone/internal/backoff"
	"github.com/sebas/dialtone/internal/logger"
	"github.com/sebas/dialtone/internal/stats"
	"github.com/sebas/dialtone/internal/voiceerrors"
)

// FailureCategory classifies a media-transport failure notification.
type FailureCategory int

const (
	// FailureConnectionDisconnected indicates the transport lost
	// connectivity but may recover on its own.
	FailureConnectionDisconnected FailureCategory = iota
	// FailureConnectionFailed indicates an ICE cycle ended without
	// connectivity.
	FailureConnectionFailed
	// FailureIceGatheringFailed indicates candidate gathering produced
	// nothing.
	FailureIceGatheringFailed
	// FailureLowBytes indicates traffic stalled per the quality monitor.
	FailureLowBytes
)

// String returns the string representation of FailureCategory.
func (c FailureCategory) String() string {
	switch c {
	case FailureConnectionDisconnected:
		return "ConnectionDisconnected"
	case FailureConnectionFailed:
		return "ConnectionFailed"
	case FailureIceGatheringFailed:
		return "IceGatheringFailed"
	case FailureLowBytes:
		return "LowBytes"
	default:
		return fmt.Sprintf("Unknown(%d)", int(c))
	}
}

// endOfCycle reports whether the category marks the end of one ICE cycle,
// which doubles as "the previous restart attempt failed" while recovering.
func (c FailureCategory) endOfCycle() bool {
	return c == FailureConnectionFailed || c == FailureIceGatheringFailed
}

// DetectorPolicy tunes failure handling for environments with known
// transport quirks.
type DetectorPolicy struct {
	// TreatFailureAsTerminal short-circuits a ConnectionFailed straight
	// to a terminal media error instead of attempting a restart, for
	// transports that cannot report restart completion.
	TreatFailureAsTerminal bool
}

// detector decides when media trouble warrants an ICE restart and drives
// the restart attempts through a backoff controller. One detector serves
// one call.
type detector struct {
	policy DetectorPolicy
	boff   *backoff.Controller
	now    func() time.Time

	// startReconnect moves the call's media status to Reconnecting.
	startReconnect func(cause FailureCategory)
	// attemptRestart performs one ICE restart against the media layer.
	attemptRestart func()
	// terminal reports an unrecoverable media failure.
	terminal func(err error)
	// iceDisconnected reports whether the underlying ICE transport is
	// currently disconnected.
	iceDisconnected func() bool

	mu           sync.Mutex
	reconnecting bool
	restartStart time.Time
	lowBytes     bool
}

func newDetector(policy DetectorPolicy, cfg backoff.Config) *detector {
	d := &detector{
		policy: policy,
		now:    time.Now,
	}
	d.boff = backoff.New(cfg, func() {
		if d.attemptRestart != nil {
			d.attemptRestart()
		}
	})
	return d
}

// handleWarning tracks the low-bytes quality warning and converts a raise
// into a LowBytes failure notification.
func (d *detector) handleWarning(name string, raised bool) {
	if name != stats.WarningBytesReceived && name != stats.WarningBytesSent {
		return
	}

	d.mu.Lock()
	d.lowBytes = raised
	d.mu.Unlock()

	if raised {
		d.handleFailure(FailureLowBytes)
	}
}

// handleFailure applies the restart decision policy to one failure
// notification.
func (d *detector) handleFailure(cause FailureCategory) {
	d.mu.Lock()

	if d.reconnecting {
		if !cause.endOfCycle() {
			d.mu.Unlock()
			return
		}
		elapsed := d.now().Sub(d.restartStart)
		max := d.boff.Max()
		d.mu.Unlock()

		if elapsed > max {
			logger.Warn("media recovery window exhausted", "cause", cause.String(), "elapsed", elapsed)
			d.reportTerminal()
			return
		}
		if err := d.boff.Backoff(); err != nil && !errors.Is(err, backoff.ErrInProgress) {
			logger.Error("schedule restart attempt", "error", err)
		}
		return
	}

	lowBytes := d.lowBytes
	d.mu.Unlock()

	switch {
	case cause == FailureLowBytes && d.iceDisconnected != nil && d.iceDisconnected():
	case cause == FailureConnectionDisconnected && lowBytes:
	case cause.endOfCycle():
		if cause == FailureConnectionFailed && d.policy.TreatFailureAsTerminal {
			d.reportTerminal()
			return
		}
	default:
		return
	}

	d.beginRestart(cause)
}

func (d *detector) beginRestart(cause FailureCategory) {
	logger.Info("media failure, starting ICE restart cycle", "cause", cause.String())

	d.mu.Lock()
	d.reconnecting = true
	d.restartStart = d.now()
	d.mu.Unlock()

	if d.startReconnect != nil {
		d.startReconnect(cause)
	}

	d.boff.Reset()
	if err := d.boff.Backoff(); err != nil && !errors.Is(err, backoff.ErrInProgress) {
		logger.Error("schedule restart attempt", "error", err)
	}
}

func (d *detector) reportTerminal() {
	d.mu.Lock()
	d.reconnecting = false
	d.mu.Unlock()
	d.boff.Reset()

	if d.terminal != nil {
		d.terminal(voiceerrors.NewMediaConnectionFailed(nil))
	}
}

// handleRecovered resets the detector after the media layer reports an
// explicit connected signal.
func (d *detector) handleRecovered() {
	d.mu.Lock()
	d.reconnecting = false
	d.mu.Unlock()
	d.boff.Reset()
}

func (d *detector) isReconnecting() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reconnecting
}

func (d *detector) stop() {
	d.boff.Reset()
}

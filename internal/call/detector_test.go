package call

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sebas/dialtone/internal/backoff"
	"github.com/sebas/dialtone/internal/stats"
	"github.com/sebas/dialtone/internal/voiceerrors"
)

type detectorProbe struct {
	mu         sync.Mutex
	reconnects int
	restarts   chan struct{}
	terminal   error
	iceDown    bool
}

func newDetectorProbe(policy DetectorPolicy, cfg backoff.Config) (*detector, *detectorProbe) {
	p := &detectorProbe{restarts: make(chan struct{}, 16)}
	d := newDetector(policy, cfg)
	d.startReconnect = func(FailureCategory) {
		p.mu.Lock()
		p.reconnects++
		p.mu.Unlock()
	}
	d.attemptRestart = func() {
		select {
		case p.restarts <- struct{}{}:
		default:
		}
	}
	d.terminal = func(err error) {
		p.mu.Lock()
		p.terminal = err
		p.mu.Unlock()
	}
	d.iceDisconnected = func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.iceDown
	}
	return d, p
}

func (p *detectorProbe) reconnectCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reconnects
}

func (p *detectorProbe) waitRestart(t *testing.T) {
	t.Helper()
	select {
	case <-p.restarts:
	case <-time.After(2 * time.Second):
		t.Fatal("restart attempt was not scheduled")
	}
}

func TestDetectorConnectionFailedStartsRestart(t *testing.T) {
	d, p := newDetectorProbe(DetectorPolicy{}, backoff.DefaultConfig())
	defer d.stop()

	d.handleFailure(FailureConnectionFailed)

	assert.Equal(t, 1, p.reconnectCount())
	assert.True(t, d.isReconnecting())
	p.waitRestart(t)
}

func TestDetectorLowBytesRequiresIceDisconnected(t *testing.T) {
	d, p := newDetectorProbe(DetectorPolicy{}, backoff.DefaultConfig())
	defer d.stop()

	d.handleFailure(FailureLowBytes)
	assert.Equal(t, 0, p.reconnectCount())
	assert.False(t, d.isReconnecting())

	p.mu.Lock()
	p.iceDown = true
	p.mu.Unlock()
	d.handleFailure(FailureLowBytes)
	assert.Equal(t, 1, p.reconnectCount())
}

func TestDetectorDisconnectedRequiresLowBytesWarning(t *testing.T) {
	d, p := newDetectorProbe(DetectorPolicy{}, backoff.DefaultConfig())
	defer d.stop()

	d.handleFailure(FailureConnectionDisconnected)
	assert.Equal(t, 0, p.reconnectCount())

	// A raised bytes warning converts to a LowBytes failure, which alone
	// does not restart while ICE is still up, but the disconnect that
	// follows now does.
	d.handleWarning(stats.WarningBytesReceived, true)
	d.handleFailure(FailureConnectionDisconnected)
	assert.Equal(t, 1, p.reconnectCount())
}

func TestDetectorClearedWarningStopsTrigger(t *testing.T) {
	d, p := newDetectorProbe(DetectorPolicy{}, backoff.DefaultConfig())
	defer d.stop()

	d.handleWarning(stats.WarningBytesSent, true)
	d.handleWarning(stats.WarningBytesSent, false)
	d.handleFailure(FailureConnectionDisconnected)

	assert.Equal(t, 0, p.reconnectCount())
}

func TestDetectorIgnoresOtherCategoriesWhileReconnecting(t *testing.T) {
	d, p := newDetectorProbe(DetectorPolicy{}, backoff.DefaultConfig())
	defer d.stop()

	d.handleFailure(FailureConnectionFailed)
	require.Equal(t, 1, p.reconnectCount())

	d.handleFailure(FailureConnectionDisconnected)
	d.handleFailure(FailureLowBytes)

	assert.Equal(t, 1, p.reconnectCount())
	p.mu.Lock()
	terminal := p.terminal
	p.mu.Unlock()
	assert.NoError(t, terminal)
}

func TestDetectorAbandonsAfterRecoveryWindow(t *testing.T) {
	d, p := newDetectorProbe(DetectorPolicy{}, backoff.DefaultConfig())
	defer d.stop()

	start := time.Now()
	d.now = func() time.Time { return start }
	d.handleFailure(FailureConnectionFailed)
	require.True(t, d.isReconnecting())

	d.now = func() time.Time { return start.Add(31 * time.Second) }
	d.handleFailure(FailureConnectionFailed)

	p.mu.Lock()
	terminal := p.terminal
	p.mu.Unlock()
	require.Error(t, terminal)
	assert.ErrorIs(t, terminal, voiceerrors.ErrMedia)
	assert.False(t, d.isReconnecting())
}

func TestDetectorTreatFailureAsTerminal(t *testing.T) {
	d, p := newDetectorProbe(DetectorPolicy{TreatFailureAsTerminal: true}, backoff.DefaultConfig())
	defer d.stop()

	d.handleFailure(FailureConnectionFailed)

	assert.Equal(t, 0, p.reconnectCount())
	p.mu.Lock()
	terminal := p.terminal
	p.mu.Unlock()
	require.Error(t, terminal)
	assert.ErrorIs(t, terminal, voiceerrors.ErrMedia)
}

func TestDetectorRecoveredResets(t *testing.T) {
	d, p := newDetectorProbe(DetectorPolicy{}, backoff.DefaultConfig())
	defer d.stop()

	d.handleFailure(FailureConnectionFailed)
	require.True(t, d.isReconnecting())
	p.waitRestart(t)

	d.handleRecovered()
	assert.False(t, d.isReconnecting())

	// A fresh failure starts a new cycle from scratch.
	d.handleFailure(FailureIceGatheringFailed)
	assert.Equal(t, 2, p.reconnectCount())
}

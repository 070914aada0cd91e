// Package stats polls media-transport statistics and raises threshold
// warnings consumed by the call core's media-failure detection.
package stats

import (
	"log/slog"
	"sync"
	"time"
)

// Warning names emitted by the Monitor.
const (
	WarningBytesReceived = "bytes-received"
	WarningBytesSent     = "bytes-sent"
	WarningHighJitter    = "high-jitter"
	WarningHighRTT       = "high-rtt"
	WarningPacketLoss    = "packet-loss"
)

// Sample is one periodic snapshot of transport counters. Byte and packet
// counters are cumulative since the transport was created.
type Sample struct {
	Timestamp       time.Time
	BytesReceived   uint64
	BytesSent       uint64
	PacketsReceived uint64
	PacketsSent     uint64
	PacketsLost     uint64

	// Jitter and RTT are in milliseconds.
	Jitter float64
	RTT    float64
}

// Warning describes one threshold crossing.
type Warning struct {
	Name      string
	Threshold float64
	Value     float64
}

// Source supplies samples; implemented by the media layer.
type Source interface {
	GetSample() (Sample, error)
}

// Config tunes the polling cadence and thresholds.
type Config struct {
	// Interval between samples.
	Interval time.Duration

	// ZeroByteSampleCount is how many consecutive zero-delta samples
	// raise a bytes warning.
	ZeroByteSampleCount int

	// JitterThresholdMs raises high-jitter above this value.
	JitterThresholdMs float64

	// RTTThresholdMs raises high-rtt above this value.
	RTTThresholdMs float64

	// PacketLossPercent raises packet-loss above this per-interval rate.
	PacketLossPercent float64
}

// DefaultConfig returns the monitoring defaults.
func DefaultConfig() Config {
	return Config{
		Interval:            1 * time.Second,
		ZeroByteSampleCount: 3,
		JitterThresholdMs:   30,
		RTTThresholdMs:      400,
		PacketLossPercent:   3,
	}
}

// Monitor polls a Source on a fixed interval and emits samples plus
// raised/cleared warnings. Callbacks run on the polling goroutine.
type Monitor struct {
	mu     sync.Mutex
	cfg    Config
	source Source
	log    *slog.Logger

	onSample       func(Sample)
	onWarning      func(Warning)
	onWarningClear func(Warning)

	active   map[string]bool
	zeroRecv int
	zeroSent int
	havePrev bool
	prev     Sample
	stop     chan struct{}
	running  bool
}

// NewMonitor creates a Monitor for the given source.
func NewMonitor(source Source, cfg Config) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.ZeroByteSampleCount <= 0 {
		cfg.ZeroByteSampleCount = DefaultConfig().ZeroByteSampleCount
	}
	return &Monitor{
		cfg:    cfg,
		source: source,
		log:    slog.Default().With("component", "stats"),
		active: make(map[string]bool),
	}
}

// OnSample registers the periodic sample callback.
func (m *Monitor) OnSample(fn func(Sample)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onSample = fn
}

// OnWarning registers the warning-raised callback.
func (m *Monitor) OnWarning(fn func(Warning)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onWarning = fn
}

// OnWarningCleared registers the warning-cleared callback.
func (m *Monitor) OnWarningCleared(fn func(Warning)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onWarningClear = fn
}

// Start begins polling. Safe to call once per Monitor.
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stop = make(chan struct{})
	stop := m.stop
	m.mu.Unlock()

	go m.loop(stop)
}

// Stop halts polling. Safe to call multiple times.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	m.running = false
	close(m.stop)
}

// Active reports whether the named warning is currently raised.
func (m *Monitor) Active(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active[name]
}

func (m *Monitor) loop(stop chan struct{}) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			sample, err := m.source.GetSample()
			if err != nil {
				m.log.Debug("stats sample failed", "error", err)
				continue
			}
			m.evaluate(sample)
		}
	}
}

// evaluate applies thresholds to one sample and fires callbacks.
func (m *Monitor) evaluate(sample Sample) {
	m.mu.Lock()

	type change struct {
		w      Warning
		raised bool
	}
	var changes []change
	mark := func(name string, raised bool, threshold, value float64) {
		if m.active[name] == raised {
			return
		}
		m.active[name] = raised
		changes = append(changes, change{Warning{Name: name, Threshold: threshold, Value: value}, raised})
	}

	if m.havePrev {
		recvDelta := sample.BytesReceived - m.prev.BytesReceived
		sentDelta := sample.BytesSent - m.prev.BytesSent

		if recvDelta == 0 {
			m.zeroRecv++
		} else {
			m.zeroRecv = 0
		}
		if sentDelta == 0 {
			m.zeroSent++
		} else {
			m.zeroSent = 0
		}

		zeroMax := float64(m.cfg.ZeroByteSampleCount)
		mark(WarningBytesReceived, m.zeroRecv >= m.cfg.ZeroByteSampleCount, zeroMax, float64(m.zeroRecv))
		mark(WarningBytesSent, m.zeroSent >= m.cfg.ZeroByteSampleCount, zeroMax, float64(m.zeroSent))

		packetsDelta := sample.PacketsReceived - m.prev.PacketsReceived
		lostDelta := sample.PacketsLost - m.prev.PacketsLost
		if total := packetsDelta + lostDelta; total > 0 && m.cfg.PacketLossPercent > 0 {
			lossPct := 100 * float64(lostDelta) / float64(total)
			mark(WarningPacketLoss, lossPct > m.cfg.PacketLossPercent, m.cfg.PacketLossPercent, lossPct)
		}
	}

	if m.cfg.JitterThresholdMs > 0 {
		mark(WarningHighJitter, sample.Jitter > m.cfg.JitterThresholdMs, m.cfg.JitterThresholdMs, sample.Jitter)
	}
	if m.cfg.RTTThresholdMs > 0 {
		mark(WarningHighRTT, sample.RTT > m.cfg.RTTThresholdMs, m.cfg.RTTThresholdMs, sample.RTT)
	}

	m.prev = sample
	m.havePrev = true

	onSample := m.onSample
	onWarning := m.onWarning
	onClear := m.onWarningClear
	m.mu.Unlock()

	if onSample != nil {
		onSample(sample)
	}
	for _, ch := range changes {
		if ch.raised {
			m.log.Debug("quality warning raised", "name", ch.w.Name, "value", ch.w.Value)
			if onWarning != nil {
				onWarning(ch.w)
			}
		} else {
			m.log.Debug("quality warning cleared", "name", ch.w.Name)
			if onClear != nil {
				onClear(ch.w)
			}
		}
	}
}

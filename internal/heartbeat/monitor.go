package heartbeat

import (
	"log/slog"
	"sync"
	"time"

	"github.com/mvasquez/tradelink/internal/wire"
)

// Quality classifies recent connection health from heartbeat latency.
type Quality int

const (
	QualityUnknown Quality = iota
	QualityGood
	QualityDegraded
	QualityPoor
)

// String returns a human-readable quality name.
func (q Quality) String() string {
	switch q {
	case QualityGood:
		return "good"
	case QualityDegraded:
		return "degraded"
	case QualityPoor:
		return "poor"
	default:
		return "unknown"
	}
}

// Sample is one acknowledged heartbeat round trip.
type Sample struct {
	Timestamp time.Time
	Latency   time.Duration
}

// Sender is the slice of the transport the monitor needs.
type Sender interface {
	Send(data []byte) error
	IsConnected() bool
}

// Config holds heartbeat parameters.
type Config struct {
	Interval     time.Duration // Probe cadence
	Timeout      time.Duration // Ack deadline per probe
	SampleWindow int           // Latency ring size

	GoodThreshold     time.Duration // Latency below this is "good"
	DegradedThreshold time.Duration // Below this "degraded", else "poor"

	// OnTimeout fires when a probe's ack deadline passes. The owner must
	// treat the transport as dead; the monitor does not close it.
	OnTimeout func()

	// OnQualityChange fires when the rolling classification changes.
	OnQualityChange func(q Quality)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:          15 * time.Second,
		Timeout:           5 * time.Second,
		SampleWindow:      10,
		GoodThreshold:     100 * time.Millisecond,
		DegradedThreshold: 300 * time.Millisecond,
	}
}

// Monitor probes a transport for liveness.
type Monitor struct {
	cfg      Config
	logger   *slog.Logger
	sender   Sender
	deviceID string

	mu       sync.Mutex
	running  bool
	stop     chan struct{}
	awaiting bool
	ackTimer *time.Timer

	samples []Sample // ring, oldest evicted on overflow
	next    int
	count   int
	quality Quality

	wg sync.WaitGroup
}

// New creates a Monitor. Zero-valued config fields fall back to defaults.
func New(cfg Config, sender Sender, deviceID string, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.SampleWindow <= 0 {
		cfg.SampleWindow = def.SampleWindow
	}
	if cfg.GoodThreshold <= 0 {
		cfg.GoodThreshold = def.GoodThreshold
	}
	if cfg.DegradedThreshold <= 0 {
		cfg.DegradedThreshold = def.DegradedThreshold
	}

	return &Monitor{
		cfg:      cfg,
		logger:   logger,
		sender:   sender,
		deviceID: deviceID,
		samples:  make([]Sample, cfg.SampleWindow),
	}
}

// Start begins probing. Safe to call only once per started/stopped cycle.
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

	m.wg.Add(1)
	go m.probeLoop(stop)

	m.logger.Debug("heartbeat monitor started",
		"interval", m.cfg.Interval,
		"timeout", m.cfg.Timeout,
	)
}

// Stop ends probing and disarms any pending ack deadline. Idempotent.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.awaiting = false
	if m.ackTimer != nil {
		m.ackTimer.Stop()
		m.ackTimer = nil
	}
	close(m.stop)
	m.mu.Unlock()

	m.wg.Wait()
	m.logger.Debug("heartbeat monitor stopped")
}

// HandleResponse records an acknowledgment. Latency is computed from the
// echoed client timestamp, so no server clock agreement is needed.
func (m *Monitor) HandleResponse(ack wire.HeartbeatAck) {
	now := time.Now()
	latency := now.Sub(time.UnixMilli(ack.ClientTimestamp))
	if latency < 0 {
		latency = 0
	}

	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.awaiting = false
	if m.ackTimer != nil {
		m.ackTimer.Stop()
		m.ackTimer = nil
	}

	m.samples[m.next] = Sample{Timestamp: now, Latency: latency}
	m.next = (m.next + 1) % len(m.samples)
	if m.count < len(m.samples) {
		m.count++
	}

	prev := m.quality
	m.quality = m.classify()
	changed := m.quality != prev
	q := m.quality
	m.mu.Unlock()

	if changed && m.cfg.OnQualityChange != nil {
		m.cfg.OnQualityChange(q)
	}
}

// Quality returns the current rolling classification.
func (m *Monitor) Quality() Quality {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.quality
}

// Samples returns the retained latency samples, oldest first.
func (m *Monitor) Samples() []Sample {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Sample, 0, m.count)
	start := m.next - m.count
	if start < 0 {
		start += len(m.samples)
	}
	for i := 0; i < m.count; i++ {
		out = append(out, m.samples[(start+i)%len(m.samples)])
	}
	return out
}

// probeLoop sends probes on the configured cadence.
func (m *Monitor) probeLoop(stop chan struct{}) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.probe(stop)
		}
	}
}

// probe sends one heartbeat and arms the ack deadline.
func (m *Monitor) probe(stop chan struct{}) {
	if !m.sender.IsConnected() {
		return
	}

	env := wire.NewHeartbeat(m.deviceID)
	data, err := wire.Encode(env)
	if err != nil {
		m.logger.Error("encode heartbeat", "error", err)
		return
	}

	if err := m.sender.Send(data); err != nil {
		m.logger.Warn("heartbeat send failed", "error", err)
		return
	}

	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.awaiting = true
	if m.ackTimer != nil {
		m.ackTimer.Stop()
	}
	m.ackTimer = time.AfterFunc(m.cfg.Timeout, func() {
		m.ackTimeout(stop)
	})
	m.mu.Unlock()
}

// ackTimeout fires when a probe went unanswered. State may have moved
// between scheduling and firing, so it re-checks before reporting.
func (m *Monitor) ackTimeout(stop chan struct{}) {
	m.mu.Lock()
	expired := m.running && m.awaiting
	if expired {
		m.awaiting = false
	}
	m.mu.Unlock()

	if !expired {
		return
	}

	select {
	case <-stop:
		return
	default:
	}

	m.logger.Warn("heartbeat acknowledgment timeout", "timeout", m.cfg.Timeout)
	if m.cfg.OnTimeout != nil {
		m.cfg.OnTimeout()
	}
}

// classify derives quality from the mean of retained samples.
// Caller holds mu.
func (m *Monitor) classify() Quality {
	if m.count == 0 {
		return QualityUnknown
	}

	var total time.Duration
	start := m.next - m.count
	if start < 0 {
		start += len(m.samples)
	}
	for i := 0; i < m.count; i++ {
		total += m.samples[(start+i)%len(m.samples)].Latency
	}
	mean := total / time.Duration(m.count)

	switch {
	case mean < m.cfg.GoodThreshold:
		return QualityGood
	case mean < m.cfg.DegradedThreshold:
		return QualityDegraded
	default:
		return QualityPoor
	}
}

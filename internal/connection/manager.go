package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mvasquez/tradelink/internal/breaker"
	"github.com/mvasquez/tradelink/internal/dispatch"
	"github.com/mvasquez/tradelink/internal/heartbeat"
	"github.com/mvasquez/tradelink/internal/resilience"
	"github.com/mvasquez/tradelink/internal/transport"
	"github.com/mvasquez/tradelink/internal/wire"
)

var errHeartbeatTimeout = errors.New("connection: heartbeat timeout")

// transportFactory creates transports; replaceable in tests.
type transportFactory func(kind transport.Kind, cfg transport.Config, logger *slog.Logger) (transport.Transport, error)

// Manager owns one logical connection and reconciles the caller's desired
// state against reality. All public methods are safe for concurrent use.
type Manager struct {
	cfg    Config
	logger *slog.Logger

	cb           *breaker.Breaker
	res          *resilience.Coordinator
	disp         *dispatch.Dispatcher
	events       chan Event
	newTransport transportFactory

	mu           sync.Mutex
	gen          int64 // bumped on every connect start and teardown
	status       Status
	desired      DesiredState
	authLoading  bool
	authFailed   bool
	tr           transport.Transport
	activeKind   transport.Kind
	hb           *heartbeat.Monitor
	pumpStop     chan struct{}
	streamActive bool
	lastErr      error
	disposed     bool

	everConnected bool
	reconnects    int64
	parseErrors   int64
	unknownCount  int64

	wg sync.WaitGroup
}

// NewManager creates a Manager. Zero-valued config fields fall back to
// defaults. The manager starts disconnected with no desire to connect.
func NewManager(cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.TransportOrder == nil {
		cfg.TransportOrder = def.TransportOrder
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.EventBufferSize <= 0 {
		cfg.EventBufferSize = def.EventBufferSize
	}
	if cfg.Transport.ConnectTimeout <= 0 {
		cfg.Transport.ConnectTimeout = transport.DefaultConfig().ConnectTimeout
	}

	m := &Manager{
		cfg:          cfg,
		logger:       logger,
		events:       make(chan Event, cfg.EventBufferSize),
		newTransport: transport.New,
	}

	bcfg := cfg.Breaker
	bcfg.OnStateChange = func(from, to breaker.State) {
		m.emit(Event{
			Kind:   EventCircuitChange,
			Detail: from.String() + "->" + to.String(),
		})
	}
	m.cb = breaker.New(bcfg)

	rcfg := cfg.Resilience
	rcfg.OnStateChange = func(from, to resilience.State) {
		m.emit(Event{
			Kind:   EventResilienceChange,
			Detail: from.String() + "->" + to.String(),
		})
		// A terminal coordinator leaves no retry pending; a stale
		// recovering status would wedge reconciliation.
		if to == resilience.StateFailed {
			m.clearRecovering()
		}
	}
	rcfg.OnResumed = func() {
		m.clearRecovering()
		m.reconcile()
	}
	m.res = resilience.New(rcfg, logger)

	m.disp = dispatch.New(transportSender{m}, cfg.Transport.DeviceID, cfg.RequestTimeout, logger)
	return m
}

// Connect declares the desire to be connected and reconciles.
func (m *Manager) Connect() error {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return ErrDisposed
	}
	m.desired.Connected = true
	m.mu.Unlock()

	m.reconcile()
	return nil
}

// Disconnect declares the desire to be disconnected, cancels pending
// recovery, and tears the connection down.
func (m *Manager) Disconnect(reason string) error {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return ErrDisposed
	}
	m.desired.Connected = false
	gen := m.gen
	m.mu.Unlock()

	m.res.Reset()
	m.teardown(gen, reason)
	return nil
}

// SetDesiredState applies a partial desired-state change and reconciles.
// Toggling streaming while connected starts or stops the stream session.
func (m *Manager) SetDesiredState(u DesiredUpdate) error {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return ErrDisposed
	}
	if u.Connected != nil {
		m.desired.Connected = *u.Connected
	}
	var startStream, stopStream bool
	if u.StreamingActive != nil {
		m.desired.StreamingActive = *u.StreamingActive
		if m.status == StatusConnected {
			startStream = *u.StreamingActive && !m.streamActive
			stopStream = !*u.StreamingActive && m.streamActive
		}
	}
	wantDisconnect := u.Connected != nil && !*u.Connected
	gen := m.gen
	m.mu.Unlock()

	if wantDisconnect {
		m.res.Reset()
		m.teardown(gen, "no longer desired")
		return nil
	}
	if startStream {
		go m.runStreamRequest(gen, true)
	}
	if stopStream {
		go m.runStreamRequest(gen, false)
	}
	m.reconcile()
	return nil
}

// SetAuthState informs the manager of credential availability. Losing
// authentication cancels all recovery and disconnects; regaining it clears
// the auth-failure latch and reconciles.
func (m *Manager) SetAuthState(authenticated, loading bool) {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return
	}
	m.authLoading = loading
	if authenticated {
		m.authFailed = false
	}
	lost := !authenticated && !loading
	gen := m.gen
	connected := m.status != StatusDisconnected
	m.mu.Unlock()

	if lost {
		m.res.UpdateAuthState(false)
		if connected {
			m.teardown(gen, "authentication lost")
		}
		return
	}
	m.reconcile()
}

// AttemptRecovery manually resets the circuit breaker and the recovery
// state machine, then reconciles. Intended for operator or user action
// after the failed state was reached.
func (m *Manager) AttemptRecovery(reason string) error {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return ErrDisposed
	}
	m.mu.Unlock()

	m.logger.Info("manual recovery requested", "reason", reason)
	m.cb.Reset()
	m.res.Reset()
	m.clearRecovering()
	m.reconcile()
	return nil
}

// StartStream opens a stream session over the active connection.
func (m *Manager) StartStream(ctx context.Context) error {
	return m.streamRequest(ctx, true)
}

// StopStream closes the stream session.
func (m *Manager) StopStream(ctx context.Context) error {
	return m.streamRequest(ctx, false)
}

// SubmitOrder sends an order over the active stream session and returns
// the correlated response.
func (m *Manager) SubmitOrder(ctx context.Context, order any) (wire.Envelope, error) {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return wire.Envelope{}, ErrDisposed
	}
	if m.status != StatusConnected {
		m.mu.Unlock()
		return wire.Envelope{}, fmt.Errorf("submit order: %w", ErrNotConnected)
	}
	if !m.streamActive {
		m.mu.Unlock()
		return wire.Envelope{}, fmt.Errorf("submit order: %w", ErrStreamNotActive)
	}
	m.mu.Unlock()

	env, err := wire.NewRequest(wire.TypeOrderSubmit, m.cfg.Transport.DeviceID, order)
	if err != nil {
		return wire.Envelope{}, err
	}
	return m.disp.SendRequest(ctx, env, m.cfg.RequestTimeout)
}

// Events returns the observable event stream. The channel is closed by
// Dispose; slow consumers drop events rather than block the manager.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// Status returns the current connection status.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// LastError returns the most recent connect or transport error.
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Stats returns a snapshot of manager health.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	s := Stats{
		Status:          m.status,
		ActiveTransport: m.activeKind,
		Reconnects:      m.reconnects,
		ParseErrors:     m.parseErrors,
		UnknownMessages: m.unknownCount,
	}
	hb := m.hb
	m.mu.Unlock()

	s.Resilience = m.res.State()
	s.Circuit = m.cb.State()
	s.PendingRequests = m.disp.Pending()
	if hb != nil {
		s.Quality = hb.Quality()
	}
	return s
}

// Dispose tears everything down and makes the manager permanently inert.
// The event channel is closed once all internal goroutines have exited.
func (m *Manager) Dispose() {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return
	}
	m.disposed = true
	gen := m.gen
	m.mu.Unlock()

	m.teardown(gen, "disposed")
	m.res.Dispose()
	m.disp.FailAll(ErrDisposed)
	m.wg.Wait()

	m.mu.Lock()
	close(m.events)
	m.mu.Unlock()
}

// reconcile compares desired state against reality and acts on the
// difference. It defers while auth is loading or failed and while the
// recovery state machine is suspended or failed.
func (m *Manager) reconcile() {
	m.mu.Lock()
	if m.disposed || m.authLoading || m.authFailed {
		m.mu.Unlock()
		return
	}
	switch m.res.State() {
	case resilience.StateSuspended, resilience.StateFailed:
		m.mu.Unlock()
		return
	}

	if m.desired.Connected && m.status == StatusDisconnected {
		m.gen++
		gen := m.gen
		m.status = StatusConnecting
		m.mu.Unlock()

		m.emit(Event{Kind: EventStatusChange, Status: StatusConnecting})
		go m.runConnect(gen)
		return
	}
	if !m.desired.Connected && m.status != StatusDisconnected {
		gen := m.gen
		m.mu.Unlock()
		m.teardown(gen, "no longer desired")
		return
	}
	m.mu.Unlock()
}

// runConnect executes one breaker-guarded connect for the given generation.
func (m *Manager) runConnect(gen int64) {
	err := m.cb.Execute(func() error {
		return m.establish(gen)
	})
	if err != nil {
		m.handleConnectFailure(gen, err)
	}
}

// reconnectOnce is the resilience coordinator's connect function. It bumps
// the generation, runs a breaker-guarded connect, and reports the outcome
// so the coordinator can do its retry bookkeeping.
func (m *Manager) reconnectOnce() error {
	m.mu.Lock()
	if m.disposed || !m.desired.Connected || m.authFailed {
		m.mu.Unlock()
		return nil
	}
	m.gen++
	gen := m.gen
	m.status = StatusConnecting
	m.mu.Unlock()

	m.emit(Event{Kind: EventStatusChange, Status: StatusConnecting})

	err := m.cb.Execute(func() error {
		return m.establish(gen)
	})
	if err == nil {
		return nil
	}

	if errors.Is(err, transport.ErrNoToken) {
		m.handleAuthFailure(err)
		return err
	}
	m.mu.Lock()
	// A stale generation here means the attempt tore itself down (a failed
	// session validation bumps it); as long as nothing newer took over, the
	// failure is still this attempt's to record.
	if !m.disposed && !m.authFailed && m.desired.Connected &&
		(gen == m.gen || m.status == StatusDisconnected) {
		m.lastErr = err
		m.status = StatusRecovering
	}
	m.mu.Unlock()
	m.emit(Event{Kind: EventStatusChange, Status: StatusRecovering, Err: err})
	return err
}

// establish walks the transport failover order from the primary and adopts
// the first variant that connects. A missing credential aborts the walk;
// it is an auth condition, not a transport fault.
func (m *Manager) establish(gen int64) error {
	m.mu.Lock()
	if m.disposed || gen != m.gen {
		// Superseded, not a backend failure; keep it out of the
		// breaker's counts.
		m.mu.Unlock()
		return nil
	}
	order := m.cfg.TransportOrder
	tcfg := m.cfg.Transport
	m.mu.Unlock()

	var lastErr error
	for _, kind := range order {
		tr, err := m.newTransport(kind, tcfg, m.logger)
		if err != nil {
			lastErr = err
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), tcfg.ConnectTimeout)
		err = tr.Connect(ctx)
		cancel()
		if err != nil {
			tr.Disconnect("connect failed")
			if errors.Is(err, transport.ErrNoToken) {
				return err
			}
			m.logger.Warn("transport connect failed",
				"transport", kind,
				"error", err,
			)
			lastErr = err
			continue
		}

		return m.adopt(gen, tr)
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("connection: no transports configured")
	}
	return lastErr
}

// adopt installs a connected transport, validates the session over it,
// and starts the heartbeat monitor.
func (m *Manager) adopt(gen int64, tr transport.Transport) error {
	m.mu.Lock()
	if m.disposed || gen != m.gen {
		m.mu.Unlock()
		tr.Disconnect("superseded")
		return nil
	}
	stop := make(chan struct{})
	m.tr = tr
	m.activeKind = tr.Kind()
	m.pumpStop = stop
	m.mu.Unlock()

	m.disp.Reopen()
	m.wg.Add(1)
	go m.readPump(gen, tr, stop)

	if err := m.validateSession(); err != nil {
		m.teardown(gen, "session validation failed")
		return fmt.Errorf("session validation: %w", err)
	}

	hbcfg := m.cfg.Heartbeat
	hbcfg.OnTimeout = func() {
		m.emit(Event{Kind: EventHeartbeatTimeout, Err: errHeartbeatTimeout})
		m.handleTransportFailure(gen, errHeartbeatTimeout)
	}
	hbcfg.OnQualityChange = func(q heartbeat.Quality) {
		m.emit(Event{Kind: EventQualityChange, Quality: q})
	}
	hb := heartbeat.New(hbcfg, transportSender{m}, m.cfg.Transport.DeviceID, m.logger)

	m.mu.Lock()
	if m.disposed || gen != m.gen {
		m.mu.Unlock()
		return nil
	}
	m.hb = hb
	m.status = StatusConnected
	m.lastErr = nil
	reconnected := m.everConnected
	if reconnected {
		m.reconnects++
	}
	m.everConnected = true
	wantStream := m.desired.StreamingActive
	m.mu.Unlock()

	hb.Start()
	m.res.Reset()

	m.logger.Info("connected", "transport", tr.Kind())
	m.emit(Event{Kind: EventStatusChange, Status: StatusConnected})
	if reconnected {
		m.emit(Event{Kind: EventReconnected})
	}
	if wantStream {
		go m.runStreamRequest(gen, true)
	}
	return nil
}

// validateSession performs the correlated session check over the freshly
// adopted transport. A backend that rejects the session fails the connect.
func (m *Manager) validateSession() error {
	env, err := wire.NewRequest(wire.TypeSessionValidate, m.cfg.Transport.DeviceID, nil)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.RequestTimeout)
	defer cancel()

	resp, err := m.disp.SendRequest(ctx, env, m.cfg.RequestTimeout)
	if err != nil {
		return err
	}
	if resp.Type == wire.TypeError {
		return fmt.Errorf("session rejected")
	}
	return nil
}

// readPump forwards inbound traffic until the connection's stop channel
// closes or the transport reports a fatal error.
func (m *Manager) readPump(gen int64, tr transport.Transport, stop chan struct{}) {
	defer m.wg.Done()

	for {
		select {
		case <-stop:
			return
		case msg, ok := <-tr.Messages():
			if !ok {
				return
			}
			m.handleInbound(gen, msg)
		case err := <-tr.Errors():
			go m.handleTransportFailure(gen, err)
			return
		}
	}
}

// handleInbound decodes and routes one inbound message. Malformed traffic
// is counted and dropped without disturbing the connection.
func (m *Manager) handleInbound(gen int64, msg transport.Message) {
	env, err := wire.Decode(msg.Data)
	if err != nil {
		m.mu.Lock()
		m.parseErrors++
		m.mu.Unlock()
		m.logger.Warn("dropping malformed message", "error", err)
		return
	}

	if m.disp.HandleMessage(env) {
		return
	}

	switch env.Type {
	case wire.TypeHeartbeatAck:
		// An absent sessionValid flag is not an invalidation; only an
		// explicit false kills the session.
		ack := wire.HeartbeatAck{SessionValid: true}
		if err := unmarshalPayload(env, &ack); err != nil {
			m.logger.Warn("malformed heartbeat ack", "error", err)
			return
		}
		m.mu.Lock()
		hb := m.hb
		m.mu.Unlock()
		if hb != nil {
			hb.HandleResponse(ack)
		}
		if !ack.SessionValid {
			m.handleSessionInvalidated(gen, "heartbeat reported invalid session")
		}

	case wire.TypeSessionInvalidated:
		var inv wire.SessionInvalidated
		if err := unmarshalPayload(env, &inv); err != nil {
			inv.Reason = "unspecified"
		}
		m.handleSessionInvalidated(gen, inv.Reason)

	default:
		m.mu.Lock()
		m.unknownCount++
		m.mu.Unlock()
		m.logger.Debug("unknown message type", "type", env.Type)
		m.emit(Event{Kind: EventUnknownMessage, Detail: env.Type})
	}
}

// handleSessionInvalidated reacts to a server-initiated session kill.
// The auth-failure latch blocks reconnection until credentials refresh.
func (m *Manager) handleSessionInvalidated(gen int64, reason string) {
	m.mu.Lock()
	if m.disposed || gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.authFailed = true
	m.mu.Unlock()

	m.logger.Warn("session invalidated", "reason", reason)
	m.emit(Event{Kind: EventSessionInvalidated, Detail: reason})
	m.res.UpdateAuthState(false)
	m.teardown(gen, "session invalidated")
}

// handleTransportFailure tears down after a fatal transport error and
// hands recovery to the resilience coordinator when still desired.
func (m *Manager) handleTransportFailure(gen int64, err error) {
	m.mu.Lock()
	if m.disposed || gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.lastErr = err
	m.mu.Unlock()

	m.logger.Warn("transport failure", "error", err)
	m.teardown(gen, "transport failure")

	m.mu.Lock()
	retry := m.desired.Connected && !m.authFailed && !m.disposed
	if retry {
		m.status = StatusRecovering
	}
	m.mu.Unlock()

	if retry {
		m.emit(Event{Kind: EventStatusChange, Status: StatusRecovering, Err: err})
		m.res.RecordFailure(err)
		m.res.AttemptReconnection(m.reconnectOnce)
	}
}

// handleConnectFailure reacts to a failed breaker-guarded connect from the
// reconcile path. The attempt may already have torn itself down (a failed
// session validation bumps the generation before the error surfaces), so a
// stale generation only supersedes failure handling when something newer
// took over: a fresh connect attempt or an explicit disconnect.
func (m *Manager) handleConnectFailure(gen int64, err error) {
	if errors.Is(err, transport.ErrNoToken) {
		m.handleAuthFailure(err)
		return
	}

	m.mu.Lock()
	if m.disposed || m.authFailed {
		m.mu.Unlock()
		return
	}
	if gen != m.gen && (m.status != StatusDisconnected || !m.desired.Connected) {
		m.mu.Unlock()
		return
	}
	m.lastErr = err
	retry := m.desired.Connected
	if retry {
		m.status = StatusRecovering
	} else {
		m.status = StatusDisconnected
	}
	status := m.status
	m.mu.Unlock()

	m.logger.Warn("connect failed", "error", err)
	m.emit(Event{Kind: EventStatusChange, Status: status, Err: err})
	if retry {
		m.res.RecordFailure(err)
		m.res.AttemptReconnection(m.reconnectOnce)
	}
}

// handleAuthFailure latches the auth failure so reconciliation defers
// until SetAuthState reports a fresh credential. Auth failures are never
// retried on a timer.
func (m *Manager) handleAuthFailure(err error) {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return
	}
	m.authFailed = true
	m.lastErr = err
	changed := m.status != StatusDisconnected
	m.status = StatusDisconnected
	m.mu.Unlock()

	m.logger.Warn("authentication failure, holding reconnection", "error", err)
	m.emit(Event{Kind: EventAuthFailure, Err: err})
	if changed {
		m.emit(Event{Kind: EventStatusChange, Status: StatusDisconnected, Err: err})
	}
	m.res.UpdateAuthState(false)
}

// teardown dismantles the connection for the given generation. Stale
// generations are ignored so late callbacks cannot clobber a newer
// connection. Bumping the generation invalidates everything scoped to
// the old one.
func (m *Manager) teardown(gen int64, reason string) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.gen++
	tr := m.tr
	hb := m.hb
	stop := m.pumpStop
	m.tr = nil
	m.hb = nil
	m.pumpStop = nil
	m.activeKind = ""
	m.streamActive = false
	changed := m.status != StatusDisconnected
	m.status = StatusDisconnected
	m.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	if hb != nil {
		hb.Stop()
	}
	if tr != nil {
		tr.Disconnect(reason)
	}
	m.disp.FailAll(nil)

	if changed {
		m.logger.Info("disconnected", "reason", reason)
		m.emit(Event{Kind: EventStatusChange, Status: StatusDisconnected})
	}
}

// clearRecovering drops a recovering status back to disconnected when no
// retry is pending anymore, so reconciliation can start fresh.
func (m *Manager) clearRecovering() {
	m.mu.Lock()
	changed := !m.disposed && m.status == StatusRecovering
	if changed {
		m.status = StatusDisconnected
	}
	m.mu.Unlock()

	if changed {
		m.emit(Event{Kind: EventStatusChange, Status: StatusDisconnected})
	}
}

// streamRequest sends a stream_start or stream_stop over the dispatcher
// and updates the stream-session flag on success.
func (m *Manager) streamRequest(ctx context.Context, start bool) error {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return ErrDisposed
	}
	if m.status != StatusConnected {
		m.mu.Unlock()
		return fmt.Errorf("stream request: %w", ErrNotConnected)
	}
	gen := m.gen
	m.mu.Unlock()

	msgType := wire.TypeStreamStop
	if start {
		msgType = wire.TypeStreamStart
	}
	env, err := wire.NewRequest(msgType, m.cfg.Transport.DeviceID, nil)
	if err != nil {
		return err
	}
	resp, err := m.disp.SendRequest(ctx, env, m.cfg.RequestTimeout)
	if err != nil {
		return err
	}
	if resp.Type == wire.TypeError {
		return fmt.Errorf("stream request rejected")
	}

	m.mu.Lock()
	if gen == m.gen && !m.disposed {
		m.streamActive = start
	}
	m.mu.Unlock()
	return nil
}

// runStreamRequest is the fire-and-forget variant used when desired state
// flips while connected.
func (m *Manager) runStreamRequest(gen int64, start bool) {
	m.mu.Lock()
	stale := m.disposed || gen != m.gen
	m.mu.Unlock()
	if stale {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.RequestTimeout)
	defer cancel()
	if err := m.streamRequest(ctx, start); err != nil {
		m.logger.Warn("stream request failed", "start", start, "error", err)
	}
}

// emit publishes an event; slow consumers drop rather than block. No
// events escape after Dispose.
func (m *Manager) emit(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed {
		return
	}
	if ev.Status == 0 && ev.Kind != EventStatusChange {
		ev.Status = m.status
	}
	select {
	case m.events <- ev:
	default:
		m.logger.Debug("event dropped, buffer full", "kind", ev.Kind)
	}
}

// unmarshalPayload decodes an envelope payload into v.
func unmarshalPayload(env wire.Envelope, v any) error {
	if len(env.Payload) == 0 {
		return fmt.Errorf("empty payload for %s", env.Type)
	}
	return wire.DecodePayload(env.Payload, v)
}

// transportSender adapts the manager's active transport for the dispatcher
// and the heartbeat monitor. The indirection survives transport swaps.
type transportSender struct {
	m *Manager
}

func (s transportSender) Send(data []byte) error {
	s.m.mu.Lock()
	tr := s.m.tr
	s.m.mu.Unlock()
	if tr == nil {
		return transport.ErrNotConnected
	}
	return tr.Send(data)
}

func (s transportSender) IsConnected() bool {
	s.m.mu.Lock()
	tr := s.m.tr
	s.m.mu.Unlock()
	return tr != nil && tr.IsConnected()
}

package connection

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/mvasquez/tradelink/internal/backoff"
	"github.com/mvasquez/tradelink/internal/breaker"
	"github.com/mvasquez/tradelink/internal/resilience"
	"github.com/mvasquez/tradelink/internal/transport"
	"github.com/mvasquez/tradelink/internal/wire"
)

var errRefused = errors.New("connection refused")

// fakeTransport is an in-memory Transport that echoes correlated requests.
type fakeTransport struct {
	kind         transport.Kind
	connectErr   error
	muteValidate bool // swallow session_validate instead of echoing

	mu          sync.Mutex
	connected   bool
	sent        [][]byte
	disconnects []string

	msgs chan transport.Message
	errs chan error
}

func newFakeTransport(kind transport.Kind) *fakeTransport {
	return &fakeTransport{
		kind: kind,
		msgs: make(chan transport.Message, 64),
		errs: make(chan error, 1),
	}
}

func (f *fakeTransport) Kind() transport.Kind { return f.kind }

func (f *fakeTransport) Connect(ctx context.Context) error {
	if f.connectErr != nil {
		return f.connectErr
	}
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Send(data []byte) error {
	f.mu.Lock()
	if !f.connected {
		f.mu.Unlock()
		return transport.ErrNotConnected
	}
	f.sent = append(f.sent, data)
	f.mu.Unlock()

	// Echo correlated requests so the dispatcher resolves them.
	env, err := wire.Decode(data)
	if err != nil || env.RequestID == "" {
		return nil
	}
	if f.muteValidate && env.Type == wire.TypeSessionValidate {
		return nil
	}
	resp := wire.Envelope{
		Type:      env.Type,
		RequestID: env.RequestID,
		Timestamp: time.Now().UnixMilli(),
	}
	b, _ := wire.Encode(resp)
	f.deliver(b)
	return nil
}

func (f *fakeTransport) Disconnect(reason string) error {
	f.mu.Lock()
	f.connected = false
	f.disconnects = append(f.disconnects, reason)
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Messages() <-chan transport.Message { return f.msgs }
func (f *fakeTransport) Errors() <-chan error               { return f.errs }

func (f *fakeTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) deliver(data []byte) {
	select {
	case f.msgs <- transport.Message{Data: data, ReceivedAt: time.Now()}:
	default:
	}
}

func (f *fakeTransport) fail(err error) {
	select {
	case f.errs <- err:
	default:
	}
}

func (f *fakeTransport) sentTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	var types []string
	for _, data := range f.sent {
		if env, err := wire.Decode(data); err == nil {
			types = append(types, env.Type)
		}
	}
	return types
}

// fakeFactory hands out fakeTransports, consuming queued connect errors
// in creation order.
type fakeFactory struct {
	mu              sync.Mutex
	created         []*fakeTransport
	connectErrs     []error
	failAll         error // every connect fails with this until cleared
	muteValidations int   // first N transports never answer session_validate
}

func (ff *fakeFactory) new(kind transport.Kind, cfg transport.Config, logger *slog.Logger) (transport.Transport, error) {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	ft := newFakeTransport(kind)
	if ff.failAll != nil {
		ft.connectErr = ff.failAll
	} else if len(ff.connectErrs) > 0 {
		ft.connectErr = ff.connectErrs[0]
		ff.connectErrs = ff.connectErrs[1:]
	}
	if ff.muteValidations > 0 {
		ft.muteValidate = true
		ff.muteValidations--
	}
	ff.created = append(ff.created, ft)
	return ft, nil
}

func (ff *fakeFactory) setFailAll(err error) {
	ff.mu.Lock()
	ff.failAll = err
	ff.mu.Unlock()
}

func (ff *fakeFactory) count() int {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	return len(ff.created)
}

func (ff *fakeFactory) last() *fakeTransport {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	if len(ff.created) == 0 {
		return nil
	}
	return ff.created[len(ff.created)-1]
}

func (ff *fakeFactory) at(i int) *fakeTransport {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	return ff.created[i]
}

func newTestManager(t *testing.T, ff *fakeFactory, opts ...func(*Config)) *Manager {
	t.Helper()

	cfg := DefaultConfig()
	cfg.Transport.BaseURL = "http://backend.test"
	cfg.Transport.DeviceID = "test-device"
	cfg.Transport.ConnectTimeout = 200 * time.Millisecond
	cfg.TransportOrder = []transport.Kind{transport.KindWebSocket}
	cfg.RequestTimeout = 500 * time.Millisecond
	cfg.Heartbeat.Interval = time.Hour
	cfg.Resilience = resilience.Config{
		FailureThreshold:  20,
		SuspensionTimeout: time.Hour,
		MaxAttempts:       10,
		Backoff: backoff.Config{
			InitialDelay: 5 * time.Millisecond,
			MaxDelay:     20 * time.Millisecond,
			JitterFactor: 0.1,
		},
	}

	for _, opt := range opts {
		opt(&cfg)
	}

	m := NewManager(cfg, nil)
	m.newTransport = ff.new
	t.Cleanup(m.Dispose)
	return m
}

func waitStatus(t *testing.T, m *Manager, want Status) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for m.Status() != want {
		select {
		case <-deadline:
			t.Fatalf("status = %v, want %v", m.Status(), want)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func waitEvent(t *testing.T, m *Manager, kind EventKind) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-m.Events():
			if !ok {
				t.Fatalf("event stream closed while waiting for %s", kind)
			}
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("no %s event", kind)
		}
	}
}

func TestConnectReachesConnected(t *testing.T) {
	ff := &fakeFactory{}
	m := newTestManager(t, ff)

	if err := m.Connect(); err != nil {
		t.Fatal(err)
	}
	waitStatus(t, m, StatusConnected)

	if got := ff.count(); got != 1 {
		t.Errorf("transports created = %d, want 1", got)
	}
	types := ff.last().sentTypes()
	if len(types) == 0 || types[0] != wire.TypeSessionValidate {
		t.Errorf("first outbound = %v, want session_validate", types)
	}
	if got := m.Stats().ActiveTransport; got != transport.KindWebSocket {
		t.Errorf("active transport = %q", got)
	}
}

func TestReconcileIsIdempotent(t *testing.T) {
	ff := &fakeFactory{}
	m := newTestManager(t, ff)

	for i := 0; i < 5; i++ {
		m.Connect()
	}
	waitStatus(t, m, StatusConnected)
	time.Sleep(50 * time.Millisecond)

	if got := ff.count(); got != 1 {
		t.Errorf("transports created = %d, want 1", got)
	}
}

func TestFailoverToSecondaryTransport(t *testing.T) {
	ff := &fakeFactory{connectErrs: []error{errRefused}}
	m := newTestManager(t, ff, func(cfg *Config) {
		cfg.TransportOrder = []transport.Kind{transport.KindWebSocket, transport.KindSSE, transport.KindPoll}
	})

	m.Connect()
	waitStatus(t, m, StatusConnected)

	if got := m.Stats().ActiveTransport; got != transport.KindSSE {
		t.Errorf("active transport = %q, want sse", got)
	}
	first := ff.at(0)
	if first.IsConnected() {
		t.Error("failed primary still connected")
	}
}

func TestRetryAfterFailureThenSuccess(t *testing.T) {
	ff := &fakeFactory{connectErrs: []error{errRefused, errRefused}}
	m := newTestManager(t, ff)

	m.Connect()
	waitStatus(t, m, StatusConnected)

	if got := ff.count(); got != 3 {
		t.Errorf("transports created = %d, want 3", got)
	}
	if got := m.Stats().Reconnects; got != 0 {
		t.Errorf("reconnects = %d on first successful connect, want 0", got)
	}
}

func TestTransportFailureTriggersRecovery(t *testing.T) {
	ff := &fakeFactory{}
	m := newTestManager(t, ff)

	m.Connect()
	waitStatus(t, m, StatusConnected)

	ff.last().fail(errRefused)
	waitEvent(t, m, EventReconnected)
	waitStatus(t, m, StatusConnected)

	if got := ff.count(); got != 2 {
		t.Errorf("transports created = %d, want 2", got)
	}
	if got := m.Stats().Reconnects; got != 1 {
		t.Errorf("reconnects = %d, want 1", got)
	}
}

func TestAuthFailureNotRetried(t *testing.T) {
	ff := &fakeFactory{connectErrs: []error{transport.ErrNoToken}}
	m := newTestManager(t, ff)

	m.Connect()
	ev := waitEvent(t, m, EventAuthFailure)
	if !errors.Is(ev.Err, transport.ErrNoToken) {
		t.Errorf("event error = %v", ev.Err)
	}
	waitStatus(t, m, StatusDisconnected)

	// No timer-driven retries without a fresh credential.
	time.Sleep(100 * time.Millisecond)
	if got := ff.count(); got != 1 {
		t.Fatalf("transports created = %d after auth failure, want 1", got)
	}

	// A fresh credential unblocks reconciliation.
	m.SetAuthState(true, false)
	waitStatus(t, m, StatusConnected)
	if got := ff.count(); got != 2 {
		t.Errorf("transports created = %d after re-auth, want 2", got)
	}
}

func TestSessionInvalidatedForcesDisconnect(t *testing.T) {
	ff := &fakeFactory{}
	m := newTestManager(t, ff)

	m.Connect()
	waitStatus(t, m, StatusConnected)

	inv, _ := wire.NewRequest(wire.TypeSessionInvalidated, "", wire.SessionInvalidated{Reason: "revoked"})
	inv.RequestID = ""
	data, _ := wire.Encode(inv)
	ff.last().deliver(data)

	ev := waitEvent(t, m, EventSessionInvalidated)
	if ev.Detail != "revoked" {
		t.Errorf("detail = %q, want revoked", ev.Detail)
	}
	waitStatus(t, m, StatusDisconnected)

	// Latched: still desired, but no reconnect until credentials refresh.
	time.Sleep(100 * time.Millisecond)
	if got := ff.count(); got != 1 {
		t.Fatalf("transports created = %d while auth latched, want 1", got)
	}

	m.SetAuthState(true, false)
	waitStatus(t, m, StatusConnected)
}

func TestHeartbeatAckWithoutSessionFlag(t *testing.T) {
	ff := &fakeFactory{}
	m := newTestManager(t, ff)

	m.Connect()
	waitStatus(t, m, StatusConnected)

	// An ack that omits sessionValid must not be read as an invalidation.
	ff.last().deliver([]byte(`{"type":"heartbeat_ack","payload":{"clientTimestamp":1,"alive":true}}`))
	time.Sleep(50 * time.Millisecond)
	if m.Status() != StatusConnected {
		t.Fatal("ack without session flag disconnected the manager")
	}
	if got := ff.count(); got != 1 {
		t.Errorf("transports created = %d, want 1", got)
	}

	// An explicit false still kills the session.
	ff.last().deliver([]byte(`{"type":"heartbeat_ack","payload":{"clientTimestamp":1,"alive":true,"sessionValid":false}}`))
	waitEvent(t, m, EventSessionInvalidated)
	waitStatus(t, m, StatusDisconnected)
}

func TestValidationTimeoutDelegatesRecovery(t *testing.T) {
	ff := &fakeFactory{muteValidations: 1}
	m := newTestManager(t, ff, func(cfg *Config) {
		cfg.RequestTimeout = 50 * time.Millisecond
	})

	m.Connect()

	// The first transport connects but never answers session_validate.
	// The attempt must fail, record the error, and hand recovery to the
	// coordinator instead of stalling disconnected.
	deadline := time.After(2 * time.Second)
	var recovering Event
	for recovering.Kind == "" {
		select {
		case ev, ok := <-m.Events():
			if !ok {
				t.Fatal("event stream closed")
			}
			if ev.Kind == EventStatusChange && ev.Status == StatusRecovering {
				recovering = ev
			}
		case <-deadline:
			t.Fatal("no recovering transition after failed validation")
		}
	}
	if recovering.Err == nil {
		t.Error("recovering event carries no error")
	}

	waitStatus(t, m, StatusConnected)
	if got := ff.count(); got != 2 {
		t.Errorf("transports created = %d, want 2", got)
	}
}

func TestSupersededConnectDoesNotTripBreaker(t *testing.T) {
	ff := &fakeFactory{}
	m := newTestManager(t, ff, func(cfg *Config) {
		cfg.Breaker.FailureThreshold = 1
	})

	// Bumping the generation from under an attempt marks it superseded;
	// a disconnect racing a connect is not a backend failure.
	m.mu.Lock()
	stale := m.gen
	m.gen++
	m.mu.Unlock()

	if err := m.cb.Execute(func() error { return m.establish(stale) }); err != nil {
		t.Fatalf("superseded establish = %v, want nil", err)
	}
	if got := m.cb.State(); got != breaker.StateClosed {
		t.Errorf("breaker = %v after superseded attempt, want closed", got)
	}
	if got := ff.count(); got != 0 {
		t.Errorf("transports created = %d, want 0", got)
	}
}

func TestUnknownMessageEmitsEvent(t *testing.T) {
	ff := &fakeFactory{}
	m := newTestManager(t, ff)

	m.Connect()
	waitStatus(t, m, StatusConnected)

	ff.last().deliver([]byte(`{"type":"mystery"}`))
	ev := waitEvent(t, m, EventUnknownMessage)
	if ev.Detail != "mystery" {
		t.Errorf("detail = %q, want mystery", ev.Detail)
	}
	if got := m.Stats().UnknownMessages; got != 1 {
		t.Errorf("unknown messages = %d, want 1", got)
	}
	if m.Status() != StatusConnected {
		t.Error("unknown message disturbed the connection")
	}
}

func TestMalformedMessageCountedAndDropped(t *testing.T) {
	ff := &fakeFactory{}
	m := newTestManager(t, ff)

	m.Connect()
	waitStatus(t, m, StatusConnected)

	ff.last().deliver([]byte(`{not json`))
	deadline := time.After(2 * time.Second)
	for m.Stats().ParseErrors != 1 {
		select {
		case <-deadline:
			t.Fatalf("parse errors = %d, want 1", m.Stats().ParseErrors)
		case <-time.After(5 * time.Millisecond):
		}
	}
	if m.Status() != StatusConnected {
		t.Error("malformed message disturbed the connection")
	}
}

func TestSubmitOrderGuards(t *testing.T) {
	ff := &fakeFactory{}
	m := newTestManager(t, ff)

	ctx := context.Background()
	if _, err := m.SubmitOrder(ctx, map[string]string{"side": "buy"}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("disconnected submit error = %v, want ErrNotConnected", err)
	}

	m.Connect()
	waitStatus(t, m, StatusConnected)

	if _, err := m.SubmitOrder(ctx, map[string]string{"side": "buy"}); !errors.Is(err, ErrStreamNotActive) {
		t.Errorf("no-stream submit error = %v, want ErrStreamNotActive", err)
	}

	if err := m.StartStream(ctx); err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	resp, err := m.SubmitOrder(ctx, map[string]string{"side": "buy"})
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if resp.Type != wire.TypeOrderSubmit {
		t.Errorf("response type = %q", resp.Type)
	}

	if err := m.StopStream(ctx); err != nil {
		t.Fatalf("StopStream: %v", err)
	}
	if _, err := m.SubmitOrder(ctx, nil); !errors.Is(err, ErrStreamNotActive) {
		t.Errorf("post-stop submit error = %v, want ErrStreamNotActive", err)
	}
}

func TestStreamResumesAfterReconnect(t *testing.T) {
	ff := &fakeFactory{}
	m := newTestManager(t, ff)

	connected, streaming := true, true
	m.SetDesiredState(DesiredUpdate{Connected: &connected, StreamingActive: &streaming})
	waitStatus(t, m, StatusConnected)

	// The stream session starts automatically once connected.
	deadline := time.After(2 * time.Second)
	hasStream := func(ft *fakeTransport) bool {
		for _, typ := range ft.sentTypes() {
			if typ == wire.TypeStreamStart {
				return true
			}
		}
		return false
	}
	for !hasStream(ff.last()) {
		select {
		case <-deadline:
			t.Fatal("stream_start never sent")
		case <-time.After(5 * time.Millisecond):
		}
	}

	ff.last().fail(errRefused)
	waitEvent(t, m, EventReconnected)
	waitStatus(t, m, StatusConnected)

	deadline = time.After(2 * time.Second)
	for !hasStream(ff.last()) {
		select {
		case <-deadline:
			t.Fatal("stream_start never re-sent after reconnect")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestExhaustionThenManualRecovery(t *testing.T) {
	ff := &fakeFactory{}
	ff.setFailAll(errRefused)
	m := newTestManager(t, ff, func(cfg *Config) {
		cfg.Resilience.MaxAttempts = 3
	})

	m.Connect()

	deadline := time.After(5 * time.Second)
	for m.Stats().Resilience != resilience.StateFailed {
		select {
		case <-deadline:
			t.Fatalf("resilience = %v, never reached failed", m.Stats().Resilience)
		case <-time.After(5 * time.Millisecond):
		}
	}
	if got := m.Status(); got != StatusDisconnected {
		t.Errorf("status = %v after exhaustion, want disconnected", got)
	}

	ff.setFailAll(nil)
	if err := m.AttemptRecovery("operator retry"); err != nil {
		t.Fatal(err)
	}
	waitStatus(t, m, StatusConnected)
}

func TestDesiredDisconnect(t *testing.T) {
	ff := &fakeFactory{}
	m := newTestManager(t, ff)

	m.Connect()
	waitStatus(t, m, StatusConnected)

	connected := false
	m.SetDesiredState(DesiredUpdate{Connected: &connected})
	waitStatus(t, m, StatusDisconnected)

	ft := ff.last()
	if ft.IsConnected() {
		t.Error("transport still connected after desired disconnect")
	}
	time.Sleep(50 * time.Millisecond)
	if got := ff.count(); got != 1 {
		t.Errorf("reconnected after desired disconnect: %d transports", got)
	}
}

func TestAuthLossDisconnects(t *testing.T) {
	ff := &fakeFactory{}
	m := newTestManager(t, ff)

	m.Connect()
	waitStatus(t, m, StatusConnected)

	m.SetAuthState(false, false)
	waitStatus(t, m, StatusDisconnected)
	time.Sleep(50 * time.Millisecond)
	if got := ff.count(); got != 1 {
		t.Errorf("reconnected without credentials: %d transports", got)
	}
}

func TestDisposeIsTerminal(t *testing.T) {
	ff := &fakeFactory{}
	m := NewManager(DefaultConfig(), nil)
	m.newTransport = ff.new

	m.Connect()
	m.Dispose()
	m.Dispose() // idempotent

	if err := m.Connect(); !errors.Is(err, ErrDisposed) {
		t.Errorf("Connect after Dispose = %v, want ErrDisposed", err)
	}
	if _, err := m.SubmitOrder(context.Background(), nil); !errors.Is(err, ErrDisposed) {
		t.Errorf("SubmitOrder after Dispose = %v, want ErrDisposed", err)
	}

	// Event stream is closed; drain until the close shows.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-m.Events():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("event stream never closed")
		}
	}
}

func TestStatusString(t *testing.T) {
	cases := map[Status]string{
		StatusDisconnected: "disconnected",
		StatusConnecting:   "connecting",
		StatusConnected:    "connected",
		StatusRecovering:   "recovering",
		Status(99):         "unknown",
	}
	for s, want := range cases {
		if got := s.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", s, got, want)
		}
	}
}

package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mvasquez/tradelink/internal/wire"
)

// Errors
var (
	ErrTimeout = errors.New("dispatch: request timeout")
	ErrClosed  = errors.New("dispatch: cancelled: connection closed")
)

// Sender is the outbound slice of the transport.
type Sender interface {
	Send(data []byte) error
}

// result carries a resolution to the waiting caller.
type result struct {
	env wire.Envelope
	err error
}

// pendingRequest is one in-flight correlated request.
type pendingRequest struct {
	ch       chan result
	deadline time.Time
}

// Dispatcher maintains the pending-request table for one transport.
type Dispatcher struct {
	logger         *slog.Logger
	sender         Sender
	deviceID       string
	defaultTimeout time.Duration

	mu      sync.Mutex
	pending map[string]*pendingRequest
	closed  bool
}

// New creates a Dispatcher bound to a transport's outbound side.
func New(sender Sender, deviceID string, defaultTimeout time.Duration, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if defaultTimeout <= 0 {
		defaultTimeout = 10 * time.Second
	}
	return &Dispatcher{
		logger:         logger,
		sender:         sender,
		deviceID:       deviceID,
		defaultTimeout: defaultTimeout,
		pending:        make(map[string]*pendingRequest),
	}
}

// SendRequest sends a correlated request and blocks until the matching
// response arrives, the timeout passes, ctx is cancelled, or the transport
// closes. A zero timeout uses the dispatcher default.
func (d *Dispatcher) SendRequest(ctx context.Context, env wire.Envelope, timeout time.Duration) (wire.Envelope, error) {
	if timeout <= 0 {
		timeout = d.defaultTimeout
	}

	if env.RequestID == "" {
		env.RequestID = uuid.NewString()
	}
	if env.Timestamp == 0 {
		env.Timestamp = time.Now().UnixMilli()
	}
	if env.DeviceID == "" {
		env.DeviceID = d.deviceID
	}

	pr := &pendingRequest{
		ch:       make(chan result, 1),
		deadline: time.Now().Add(timeout),
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return wire.Envelope{}, ErrClosed
	}
	// Correlation ids must be unique among in-flight requests.
	for {
		if _, taken := d.pending[env.RequestID]; !taken {
			break
		}
		env.RequestID = uuid.NewString()
	}
	d.pending[env.RequestID] = pr
	d.mu.Unlock()

	defer d.remove(env.RequestID)

	data, err := wire.Encode(env)
	if err != nil {
		return wire.Envelope{}, err
	}
	if err := d.sender.Send(data); err != nil {
		return wire.Envelope{}, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return wire.Envelope{}, ctx.Err()
	case <-timer.C:
		d.logger.Debug("request timed out",
			"request_id", env.RequestID,
			"type", env.Type,
			"timeout", timeout,
		)
		return wire.Envelope{}, ErrTimeout
	case res := <-pr.ch:
		return res.env, res.err
	}
}

// HandleMessage routes an inbound message to a waiting request. It reports
// whether the message was consumed as a correlated response.
func (d *Dispatcher) HandleMessage(env wire.Envelope) bool {
	if env.RequestID == "" {
		return false
	}

	d.mu.Lock()
	pr, ok := d.pending[env.RequestID]
	if ok {
		delete(d.pending, env.RequestID)
	}
	d.mu.Unlock()

	if !ok {
		return false
	}

	pr.ch <- result{env: env}
	return true
}

// FailAll rejects every pending request. Called on transport close; the
// dispatcher accepts no further requests afterward until Reopen.
func (d *Dispatcher) FailAll(err error) {
	if err == nil {
		err = ErrClosed
	}

	d.mu.Lock()
	d.closed = true
	pending := d.pending
	d.pending = make(map[string]*pendingRequest)
	d.mu.Unlock()

	for id, pr := range pending {
		pr.ch <- result{err: err}
		d.logger.Debug("pending request cancelled", "request_id", id)
	}
}

// Reopen accepts requests again after a reconnect.
func (d *Dispatcher) Reopen() {
	d.mu.Lock()
	d.closed = false
	d.mu.Unlock()
}

// Pending returns the number of in-flight requests.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

func (d *Dispatcher) remove(id string) {
	d.mu.Lock()
	delete(d.pending, id)
	d.mu.Unlock()
}

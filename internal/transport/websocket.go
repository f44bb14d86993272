package transport

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// wsTransport is the primary duplex transport.
type wsTransport struct {
	cfg    Config
	logger *slog.Logger

	conn *websocket.Conn

	messages chan Message
	errors   chan error
	done     chan struct{}

	// Write serialization
	writeMu sync.Mutex

	mu        sync.RWMutex
	connected bool
	closed    bool
}

func newWebSocket(cfg Config, logger *slog.Logger) *wsTransport {
	return &wsTransport{
		cfg:      cfg,
		logger:   logger,
		messages: make(chan Message, cfg.BufferSize),
		errors:   make(chan error, 1),
		done:     make(chan struct{}),
	}
}

func (t *wsTransport) Kind() Kind { return KindWebSocket }

// Connect dials the stream endpoint. The handshake is bounded by
// ConnectTimeout; a timed-out dial leaves no half-open socket behind.
func (t *wsTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrAlreadyClosed
	}
	t.mu.Unlock()

	tok, err := token(t.cfg)
	if err != nil {
		return err
	}

	wsURL, err := endpointURL(t.cfg, streamPath, tok, true)
	if err != nil {
		return err
	}

	header := http.Header{}
	header.Set("Accept", "application/json")
	if t.cfg.UserAgent != "" {
		header.Set("User-Agent", t.cfg.UserAgent)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: t.cfg.ConnectTimeout,
	}

	dialCtx, cancel := context.WithTimeout(ctx, t.cfg.ConnectTimeout)
	defer cancel()

	conn, _, err := dialer.DialContext(dialCtx, wsURL, header)
	if err != nil {
		return err
	}

	t.mu.Lock()
	if t.closed {
		// Disconnected while dialing; tear down the fresh socket.
		t.mu.Unlock()
		conn.Close()
		return ErrAlreadyClosed
	}
	t.conn = conn
	t.connected = true
	t.mu.Unlock()

	go t.readLoop()

	t.logger.Debug("websocket connected", "url", t.cfg.BaseURL)
	return nil
}

// Disconnect closes the connection. Idempotent.
func (t *wsTransport) Disconnect(reason string) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.connected = false
	conn := t.conn
	t.mu.Unlock()

	close(t.done)

	if conn != nil {
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason),
			time.Now().Add(time.Second),
		)
		err := conn.Close()
		t.logger.Debug("websocket disconnected", "reason", reason)
		return err
	}
	return nil
}

func (t *wsTransport) Send(data []byte) error {
	t.mu.RLock()
	if !t.connected {
		t.mu.RUnlock()
		return ErrNotConnected
	}
	conn := t.conn
	t.mu.RUnlock()

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) Messages() <-chan Message { return t.messages }
func (t *wsTransport) Errors() <-chan error     { return t.errors }

func (t *wsTransport) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected
}

// readLoop reads inbound frames into the messages channel.
func (t *wsTransport) readLoop() {
	defer func() {
		t.mu.Lock()
		t.connected = false
		t.mu.Unlock()
	}()

	for {
		select {
		case <-t.done:
			return
		default:
		}

		_, data, err := t.conn.ReadMessage()
		receivedAt := time.Now()

		if err != nil {
			// Ignore errors after Disconnect.
			select {
			case <-t.done:
				return
			default:
				select {
				case t.errors <- err:
				default:
				}
				return
			}
		}

		msg := Message{Data: data, ReceivedAt: receivedAt}
		select {
		case t.messages <- msg:
		case <-t.done:
			return
		default:
			t.logger.Warn("message buffer full, dropping message")
		}
	}
}

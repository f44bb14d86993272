package transport

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// sseTransport is the server-push fallback. Inbound messages arrive over a
// text/event-stream response; outbound sends go to a companion HTTP
// endpoint carrying the same device id.
type sseTransport struct {
	cfg    Config
	logger *slog.Logger

	client  *http.Client
	sendURL string
	cancel  context.CancelFunc

	messages chan Message
	errors   chan error
	done     chan struct{}

	mu        sync.RWMutex
	connected bool
	closed    bool
}

func newSSE(cfg Config, logger *slog.Logger) *sseTransport {
	return &sseTransport{
		cfg:    cfg,
		logger: logger,
		client: &http.Client{
			Transport: &http.Transport{
				ResponseHeaderTimeout: cfg.ConnectTimeout,
			},
		},
		messages: make(chan Message, cfg.BufferSize),
		errors:   make(chan error, 1),
		done:     make(chan struct{}),
	}
}

func (t *sseTransport) Kind() Kind { return KindSSE }

func (t *sseTransport) Connect(ctx context.Context) error {
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

	streamURL, err := endpointURL(t.cfg, eventsPath, tok, false)
	if err != nil {
		return err
	}
	t.sendURL, err = endpointURL(t.cfg, sendPath, tok, false)
	if err != nil {
		return err
	}

	// The stream outlives the connect call; cancellation comes from
	// Disconnect, not from the caller's ctx.
	streamCtx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, streamURL, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("build stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if t.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", t.cfg.UserAgent)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		cancel()
		return err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return fmt.Errorf("event stream status %d", resp.StatusCode)
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		resp.Body.Close()
		cancel()
		return ErrAlreadyClosed
	}
	t.connected = true
	t.mu.Unlock()

	go t.readLoop(resp.Body)

	t.logger.Debug("sse stream connected", "url", t.cfg.BaseURL)
	return nil
}

func (t *sseTransport) Disconnect(reason string) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.connected = false
	t.mu.Unlock()

	close(t.done)
	if t.cancel != nil {
		t.cancel()
	}

	t.logger.Debug("sse stream disconnected", "reason", reason)
	return nil
}

func (t *sseTransport) Send(data []byte) error {
	t.mu.RLock()
	if !t.connected {
		t.mu.RUnlock()
		return ErrNotConnected
	}
	t.mu.RUnlock()

	return postJSON(t.client, t.sendURL, data, t.cfg.WriteTimeout)
}

func (t *sseTransport) Messages() <-chan Message { return t.messages }
func (t *sseTransport) Errors() <-chan error     { return t.errors }

func (t *sseTransport) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected
}

// readLoop parses the event stream. Each "data:" block becomes one Message;
// comments and other SSE fields are skipped.
func (t *sseTransport) readLoop(body io.ReadCloser) {
	defer body.Close()
	defer func() {
		t.mu.Lock()
		t.connected = false
		t.mu.Unlock()
	}()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var data bytes.Buffer
	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case line == "":
			if data.Len() > 0 {
				t.dispatch(data.Bytes())
				data.Reset()
			}
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		default:
			// event:, id:, retry:, and comments are not used by the backend.
		}
	}

	select {
	case <-t.done:
	default:
		err := scanner.Err()
		if err == nil {
			err = io.EOF
		}
		select {
		case t.errors <- err:
		default:
		}
	}
}

func (t *sseTransport) dispatch(data []byte) {
	msg := Message{
		Data:       bytes.Clone(data),
		ReceivedAt: time.Now(),
	}
	select {
	case t.messages <- msg:
	case <-t.done:
	default:
		t.logger.Warn("message buffer full, dropping message")
	}
}

// postJSON posts one JSON document with a bounded deadline.
func postJSON(client *http.Client, url string, body []byte, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("send status %d", resp.StatusCode)
	}
	return nil
}

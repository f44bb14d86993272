package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// pollResponse is the poll endpoint's batch shape.
type pollResponse struct {
	Messages []json.RawMessage `json:"messages"`
	Cursor   string            `json:"cursor"`
}

// pollTransport is the last-resort fallback: periodic HTTP fetches of
// queued messages, keyed by a server-issued cursor.
type pollTransport struct {
	cfg    Config
	logger *slog.Logger

	client  *http.Client
	pollURL string
	sendURL string

	messages chan Message
	errors   chan error
	done     chan struct{}

	mu        sync.RWMutex
	connected bool
	closed    bool
	cursor    string
}

func newPoll(cfg Config, logger *slog.Logger) *pollTransport {
	return &pollTransport{
		cfg:    cfg,
		logger: logger,
		client: &http.Client{
			Timeout: cfg.ConnectTimeout,
		},
		messages: make(chan Message, cfg.BufferSize),
		errors:   make(chan error, 1),
		done:     make(chan struct{}),
	}
}

func (t *pollTransport) Kind() Kind { return KindPoll }

// Connect performs an initial fetch to validate the session and obtain a
// cursor, then starts the polling loop.
func (t *pollTransport) Connect(ctx context.Context) error {
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

	t.pollURL, err = endpointURL(t.cfg, pollPath, tok, false)
	if err != nil {
		return err
	}
	t.sendURL, err = endpointURL(t.cfg, sendPath, tok, false)
	if err != nil {
		return err
	}

	connectCtx, cancel := context.WithTimeout(ctx, t.cfg.ConnectTimeout)
	defer cancel()

	batch, err := t.fetch(connectCtx)
	if err != nil {
		return err
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrAlreadyClosed
	}
	t.connected = true
	t.cursor = batch.Cursor
	t.mu.Unlock()

	t.emit(batch)
	go t.pollLoop()

	t.logger.Debug("poll transport connected",
		"url", t.cfg.BaseURL,
		"interval", t.cfg.PollInterval,
	)
	return nil
}

func (t *pollTransport) Disconnect(reason string) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.connected = false
	t.mu.Unlock()

	close(t.done)
	t.logger.Debug("poll transport disconnected", "reason", reason)
	return nil
}

func (t *pollTransport) Send(data []byte) error {
	t.mu.RLock()
	if !t.connected {
		t.mu.RUnlock()
		return ErrNotConnected
	}
	t.mu.RUnlock()

	return postJSON(t.client, t.sendURL, data, t.cfg.WriteTimeout)
}

func (t *pollTransport) Messages() <-chan Message { return t.messages }
func (t *pollTransport) Errors() <-chan error     { return t.errors }

func (t *pollTransport) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected
}

func (t *pollTransport) pollLoop() {
	defer func() {
		t.mu.Lock()
		t.connected = false
		t.mu.Unlock()
	}()

	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), t.cfg.ConnectTimeout)
			batch, err := t.fetch(ctx)
			cancel()

			if err != nil {
				select {
				case <-t.done:
				default:
					select {
					case t.errors <- err:
					default:
					}
				}
				return
			}

			t.mu.Lock()
			t.cursor = batch.Cursor
			t.mu.Unlock()

			t.emit(batch)
		}
	}
}

// fetch retrieves one batch of queued messages.
func (t *pollTransport) fetch(ctx context.Context) (pollResponse, error) {
	t.mu.RLock()
	url := t.pollURL
	if t.cursor != "" {
		url += "&cursor=" + t.cursor
	}
	t.mu.RUnlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return pollResponse{}, fmt.Errorf("build poll request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if t.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", t.cfg.UserAgent)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return pollResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return pollResponse{}, fmt.Errorf("poll status %d", resp.StatusCode)
	}

	var batch pollResponse
	if err := json.NewDecoder(resp.Body).Decode(&batch); err != nil {
		return pollResponse{}, fmt.Errorf("decode poll response: %w", err)
	}
	return batch, nil
}

func (t *pollTransport) emit(batch pollResponse) {
	now := time.Now()
	for _, raw := range batch.Messages {
		msg := Message{Data: raw, ReceivedAt: now}
		select {
		case t.messages <- msg:
		case <-t.done:
			return
		default:
			t.logger.Warn("message buffer full, dropping message")
		}
	}
}

package journal

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mvasquez/tradelink/internal/connection"
)

// dbConn is the slice of the pgx pool the writer uses.
type dbConn interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Config holds batch writer settings.
type Config struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     500,
		FlushInterval: 1 * time.Second,
	}
}

// Metrics tracks writer activity.
type Metrics struct {
	Inserts int64
	Errors  int64
	Flushes int64
}

// eventRow is one connection_events row.
type eventRow struct {
	Ts      int64 // Unix microseconds
	Kind    string
	Status  string
	Detail  string
	Attempt int
}

// Writer consumes connection events and writes them to the events table.
type Writer struct {
	cfg        Config
	logger     *slog.Logger
	instanceID string

	input <-chan connection.Event
	db    dbConn

	batch       []eventRow
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metrics Metrics
}

// New creates a Writer consuming the given event stream.
func New(cfg Config, instanceID string, input <-chan connection.Event, db dbConn, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	return &Writer{
		cfg:        cfg,
		logger:     logger,
		instanceID: instanceID,
		input:      input,
		db:         db,
		batch:      make([]eventRow, 0, cfg.BatchSize),
	}
}

// Start begins consuming events and writing to the database.
func (w *Writer) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.flushTicker = time.NewTicker(w.cfg.FlushInterval)

	w.wg.Add(1)
	go w.consumeLoop()

	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("event journal started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop gracefully shuts down the writer and flushes the remaining batch.
func (w *Writer) Stop(ctx context.Context) error {
	w.logger.Info("stopping event journal")

	if w.cancel != nil {
		w.cancel()
	}
	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("event journal stopped")
	case <-ctx.Done():
		w.logger.Warn("event journal stop timed out")
	}

	// The writer's own context is cancelled by now; the final flush needs
	// a live one or the last batch is always lost.
	flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer flushCancel()
	w.flush(flushCtx)
	return nil
}

// Stats returns current metrics.
func (w *Writer) Stats() Metrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

// consumeLoop reads events and accumulates batches. A closed input stream
// ends consumption.
func (w *Writer) consumeLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case ev, ok := <-w.input:
			if !ok {
				return
			}
			w.handleEvent(ev)
		}
	}
}

// flushLoop periodically flushes the batch.
func (w *Writer) flushLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.flushTicker.C:
			w.flush(w.ctx)
		}
	}
}

// handleEvent transforms and adds an event to the batch.
func (w *Writer) handleEvent(ev connection.Event) {
	row := transform(ev)

	w.batchMu.Lock()
	w.batch = append(w.batch, row)
	shouldFlush := len(w.batch) >= w.cfg.BatchSize
	w.batchMu.Unlock()

	if shouldFlush {
		w.flush(w.ctx)
	}
}

// transform converts an Event to an eventRow.
func transform(ev connection.Event) eventRow {
	detail := ev.Detail
	if ev.Err != nil {
		if detail != "" {
			detail += ": "
		}
		detail += ev.Err.Error()
	}
	return eventRow{
		Ts:      ev.Time.UnixMicro(),
		Kind:    string(ev.Kind),
		Status:  ev.Status.String(),
		Detail:  detail,
		Attempt: ev.Attempt,
	}
}

// flush writes the current batch to the database.
func (w *Writer) flush(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}
	batch := w.batch
	w.batch = make([]eventRow, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	if err := w.batchInsert(ctx, batch); err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		return
	}

	w.batchMu.Lock()
	w.metrics.Inserts += int64(len(batch))
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed events",
		"count", len(batch),
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch.
func (w *Writer) batchInsert(ctx context.Context, rows []eventRow) error {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			INSERT INTO connection_events (instance_id, ts, kind, status, detail, attempt)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, w.instanceID, r.Ts, r.Kind, r.Status, r.Detail, r.Attempt)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}
	return nil
}

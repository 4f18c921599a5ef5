package history

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Record is one confirmed message bound for the messages table.
type Record struct {
	ServerID  string
	RoomID    int64
	SenderID  string
	Sender    string
	Content   string
	Kind      string
	CreatedAt time.Time
}

// Config holds the writer's batching tunables.
type Config struct {
	BatchSize     int
	FlushInterval time.Duration
	InputBuffer   int
}

// DefaultConfig returns the default writer configuration.
func DefaultConfig() Config {
	return Config{
		BatchSize:     100,
		FlushInterval: 2 * time.Second,
		InputBuffer:   1024,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = d.FlushInterval
	}
	if c.InputBuffer <= 0 {
		c.InputBuffer = d.InputBuffer
	}
}

// Metrics counts writer activity.
type Metrics struct {
	Inserts   int64
	Conflicts int64
	Dropped   int64
	Errors    int64
	Flushes   int64
}

// Writer batches confirmed messages into PostgreSQL.
type Writer struct {
	cfg    Config
	logger *slog.Logger

	input chan Record

	db *pgxpool.Pool

	batch       []Record
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metrics Metrics
}

// NewWriter creates a history writer.
func NewWriter(cfg Config, db *pgxpool.Pool, logger *slog.Logger) *Writer {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		cfg:    cfg,
		db:     db,
		logger: logger.With("component", "history"),
		input:  make(chan Record, cfg.InputBuffer),
		batch:  make([]Record, 0, cfg.BatchSize),
	}
}

// Start begins consuming records and writing to the database.
func (w *Writer) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.flushTicker = time.NewTicker(w.cfg.FlushInterval)

	w.wg.Add(1)
	go w.consumeLoop()

	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("history writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop gracefully shuts down the writer.
func (w *Writer) Stop(ctx context.Context) error {
	w.logger.Info("stopping history writer")

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
		w.logger.Info("history writer stopped")
	case <-ctx.Done():
		w.logger.Warn("history writer stop timed out")
	}

	w.flush()

	return nil
}

// Write enqueues one record without blocking. Overflow drops the record.
func (w *Writer) Write(rec Record) {
	select {
	case w.input <- rec:
	default:
		w.batchMu.Lock()
		w.metrics.Dropped++
		w.batchMu.Unlock()
		w.logger.Warn("history input full, dropping record", "server_id", rec.ServerID)
	}
}

// Stats returns current metrics.
func (w *Writer) Stats() Metrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

// consumeLoop reads from the input channel and accumulates batches.
func (w *Writer) consumeLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case rec := <-w.input:
			w.handleRecord(rec)
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
			w.flush()
		}
	}
}

func (w *Writer) handleRecord(rec Record) {
	w.batchMu.Lock()
	w.batch = append(w.batch, rec)
	shouldFlush := len(w.batch) >= w.cfg.BatchSize
	w.batchMu.Unlock()

	if shouldFlush {
		w.flush()
	}
}

// flush writes the current batch to the database.
func (w *Writer) flush() {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}

	batch := w.batch
	w.batch = make([]Record, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	if w.db == nil {
		return
	}

	start := time.Now()

	conflicts, err := w.batchInsert(batch)
	if err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		return
	}

	w.batchMu.Lock()
	w.metrics.Inserts += int64(len(batch) - conflicts)
	w.metrics.Conflicts += int64(conflicts)
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed messages",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// batchInsert inserts records using pgx.Batch with ON CONFLICT DO NOTHING.
func (w *Writer) batchInsert(recs []Record) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range recs {
		batch.Queue(`
			INSERT INTO messages (server_id, room_id, sender_id, sender, content, kind, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (server_id) DO NOTHING
		`, r.ServerID, r.RoomID, r.SenderID, r.Sender, r.Content, r.Kind, r.CreatedAt)
	}

	results := w.db.SendBatch(w.ctx, batch)
	defer results.Close()

	for range recs {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}

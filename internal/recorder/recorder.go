package recorder

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/statboard/statboard"
)

// Config contains batching configuration for the recorder.
type Config struct {
	// BatchSize is the number of rows to accumulate before flushing.
	BatchSize int

	// FlushInterval is the maximum time between flushes.
	FlushInterval time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     100,
		FlushInterval: 1 * time.Second,
	}
}

// Metrics tracks recorder activity.
type Metrics struct {
	Inserts int64
	Flushes int64
	Errors  int64
	Dropped int64
}

// row is one pending insert: a state change or a latency sample.
type row struct {
	At            time.Time
	Kind          string // "state" or "latency"
	State         string // state name, empty for latency rows
	LatencyMicros int64  // round trip in microseconds, 0 for state rows
}

// Recorder subscribes to connection lifecycle topics and batch-writes them
// to the connection_events and latency_samples tables.
type Recorder struct {
	cfg    Config
	logger *slog.Logger
	cli    statboard.Client
	db     *pgxpool.Pool

	input chan row
	subs  []string

	batch   []row
	batchMu sync.Mutex

	flushTicker *time.Ticker
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup

	metrics Metrics
}

// New creates a recorder attached to cli.
func New(cfg Config, cli statboard.Client, db *pgxpool.Pool, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultConfig().FlushInterval
	}
	return &Recorder{
		cfg:    cfg,
		logger: logger,
		cli:    cli,
		db:     db,
		input:  make(chan row, 1000),
		batch:  make([]row, 0, cfg.BatchSize),
	}
}

// Start ensures the schema exists, subscribes to the lifecycle topics, and
// begins batching.
func (r *Recorder) Start(ctx context.Context) error {
	if err := EnsureSchema(ctx, r.db); err != nil {
		return err
	}

	r.ctx, r.cancel = context.WithCancel(ctx)
	r.flushTicker = time.NewTicker(r.cfg.FlushInterval)

	r.subs = append(r.subs,
		r.cli.On(statboard.TopicStateChanged, r.onStateChanged),
		r.cli.On(statboard.TopicLatencyUpdated, r.onLatencyUpdated),
	)

	r.wg.Add(1)
	go r.consumeLoop()

	r.wg.Add(1)
	go r.flushLoop()

	r.logger.Info("recorder started",
		"batch_size", r.cfg.BatchSize,
		"flush_interval", r.cfg.FlushInterval,
	)
	return nil
}

// Stop unsubscribes, drains, and performs a final flush.
func (r *Recorder) Stop(ctx context.Context) error {
	r.logger.Info("stopping recorder")

	for _, id := range r.subs {
		r.cli.Off(id)
	}
	r.subs = nil

	if r.cancel != nil {
		r.cancel()
	}
	if r.flushTicker != nil {
		r.flushTicker.Stop()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("recorder stopped")
	case <-ctx.Done():
		r.logger.Warn("recorder stop timed out")
	}

	r.flush()
	return nil
}

// Stats returns current metrics.
func (r *Recorder) Stats() Metrics {
	r.batchMu.Lock()
	defer r.batchMu.Unlock()
	return r.metrics
}

// onStateChanged handles connection-state-changed emissions.
func (r *Recorder) onStateChanged(_ string, payload any) {
	state, ok := payload.(statboard.State)
	if !ok {
		return
	}
	r.enqueue(row{At: time.Now(), Kind: "state", State: state.String()})
}

// onLatencyUpdated handles latency-updated emissions.
func (r *Recorder) onLatencyUpdated(_ string, payload any) {
	rtt, ok := payload.(time.Duration)
	if !ok {
		return
	}
	r.enqueue(row{At: time.Now(), Kind: "latency", LatencyMicros: rtt.Microseconds()})
}

// enqueue hands a row to the consume loop without blocking the bus.
func (r *Recorder) enqueue(rw row) {
	select {
	case r.input <- rw:
	default:
		r.batchMu.Lock()
		r.metrics.Dropped++
		r.batchMu.Unlock()
		r.logger.Warn("recorder buffer full, dropping row", "kind", rw.Kind)
	}
}

// consumeLoop accumulates rows into batches.
func (r *Recorder) consumeLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		case rw := <-r.input:
			r.batchMu.Lock()
			r.batch = append(r.batch, rw)
			shouldFlush := len(r.batch) >= r.cfg.BatchSize
			r.batchMu.Unlock()

			if shouldFlush {
				r.flush()
			}
		}
	}
}

// flushLoop periodically flushes the batch.
func (r *Recorder) flushLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-r.flushTicker.C:
			r.flush()
		}
	}
}

// flush writes the current batch to the database.
func (r *Recorder) flush() {
	r.batchMu.Lock()
	if len(r.batch) == 0 {
		r.batchMu.Unlock()
		return
	}
	batch := r.batch
	r.batch = make([]row, 0, r.cfg.BatchSize)
	r.batchMu.Unlock()

	start := time.Now()

	if err := r.batchInsert(batch); err != nil {
		r.logger.Error("batch insert failed", "error", err, "count", len(batch))
		r.batchMu.Lock()
		r.metrics.Errors++
		r.batchMu.Unlock()
		return
	}

	r.batchMu.Lock()
	r.metrics.Inserts += int64(len(batch))
	r.metrics.Flushes++
	r.batchMu.Unlock()

	r.logger.Debug("flushed connection history",
		"count", len(batch),
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch.
func (r *Recorder) batchInsert(rows []row) error {
	batch := &pgx.Batch{}
	for _, rw := range rows {
		switch rw.Kind {
		case "state":
			batch.Queue(`
				INSERT INTO connection_events (at, state)
				VALUES ($1, $2)
			`, rw.At, rw.State)
		case "latency":
			batch.Queue(`
				INSERT INTO latency_samples (at, latency_micros)
				VALUES ($1, $2)
			`, rw.At, rw.LatencyMicros)
		}
	}

	ctx := r.ctx
	if ctx == nil || ctx.Err() != nil {
		ctx = context.Background()
	}

	results := r.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// EnsureSchema creates the recorder tables if they do not exist.
func EnsureSchema(ctx context.Context, db *pgxpool.Pool) error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS connection_events (
			id    BIGSERIAL PRIMARY KEY,
			at    TIMESTAMPTZ NOT NULL,
			state TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS latency_samples (
			id             BIGSERIAL PRIMARY KEY,
			at             TIMESTAMPTZ NOT NULL,
			latency_micros BIGINT NOT NULL
		);
	`
	_, err := db.Exec(ctx, ddl)
	return err
}

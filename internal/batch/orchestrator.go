package batch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"pmaxtools/internal/demand"
	"pmaxtools/internal/infrastructure"
)

// Config controls batch execution
type Config struct {
	// QueueDepth is how many batches may wait behind the running one.
	// Zero rejects every dispatch while a batch is in flight.
	QueueDepth int
	// RowParallelism is the number of rows solved concurrently in a batch
	RowParallelism int
	// MaxRows rejects larger grids; zero means unlimited
	MaxRows int
	// BatchTimeout cancels a running batch; zero means no timeout
	BatchTimeout time.Duration
}

// DefaultConfig returns the single-flight configuration
func DefaultConfig() Config {
	return Config{
		QueueDepth:     0,
		RowParallelism: 1,
		MaxRows:        10000,
	}
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithObserver registers a lifecycle observer
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) { o.observer = obs }
}

// WithTracer enables OpenTelemetry instrumentation
func WithTracer(t *Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// Handle is returned by Dispatch. Its Done channel yields exactly one
// Completion, or is closed without a value if the batch is cancelled.
type Handle struct {
	ID string

	done       chan Completion
	ctx        context.Context
	cancel     context.CancelFunc
	grid       Grid
	traceID    string
	orch       *Orchestrator
	finishOnce sync.Once
}

// Done returns the completion channel
func (h *Handle) Done() <-chan Completion {
	return h.done
}

// Wait blocks until the batch completes, is cancelled, or ctx ends
func (h *Handle) Wait(ctx context.Context) (Completion, error) {
	select {
	case c, ok := <-h.done:
		if !ok {
			return Completion{}, ErrBatchCancelled
		}
		return c, nil
	case <-ctx.Done():
		return Completion{}, ctx.Err()
	}
}

// Cancel stops the batch. Once Cancel returns the Done channel is closed,
// no completion message will be sent and the worker slot is free for the
// next dispatch.
func (h *Handle) Cancel() {
	h.orch.cancelHandle(h)
}

// Orchestrator runs row grids through the solver off the caller's goroutine,
// one batch at a time.
type Orchestrator struct {
	mu       sync.Mutex
	cfg      Config
	store    Store
	observer Observer
	tracer   *Tracer
	logger   *slog.Logger

	running *Handle
	queue   []*Handle
	live    map[string]*Handle
	closed  bool
	wg      sync.WaitGroup

	baseCtx    context.Context
	baseCancel context.CancelFunc
}

// NewOrchestrator creates a new batch orchestrator
func NewOrchestrator(cfg Config, store Store, logger *slog.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	if store == nil {
		store = NewMemoryStore()
	}
	if cfg.RowParallelism <= 0 {
		cfg.RowParallelism = 1
	}
	if cfg.QueueDepth < 0 {
		cfg.QueueDepth = 0
	}

	baseCtx, baseCancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		cfg:        cfg,
		store:      store,
		logger:     logger.With(slog.String("component", "batch.orchestrator")),
		live:       make(map[string]*Handle),
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Store returns the record store
func (o *Orchestrator) Store() Store {
	return o.store
}

// Dispatch takes ownership of a copy of grid and starts processing it in the
// background. A dispatch while a batch is in flight is queued up to
// QueueDepth and rejected with a *ReentrancyError beyond that.
func (o *Orchestrator) Dispatch(ctx context.Context, grid Grid) (*Handle, error) {
	if o.cfg.MaxRows > 0 && len(grid) > o.cfg.MaxRows {
		return nil, &ValidationError{
			Field:   "data",
			Message: fmt.Sprintf("%d rows exceeds the limit of %d", len(grid), o.cfg.MaxRows),
		}
	}

	hctx, cancel := context.WithCancel(o.baseCtx)
	h := &Handle{
		ID:      uuid.New().String(),
		done:    make(chan Completion, 1),
		ctx:     hctx,
		cancel:  cancel,
		grid:    grid.Clone(),
		traceID: infrastructure.GetTraceID(ctx),
		orch:    o,
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		cancel()
		return nil, ErrOrchestratorClosed
	}

	rec := &Record{
		ID:        h.ID,
		Status:    StatusPending,
		Rows:      len(grid),
		CreatedAt: time.Now(),
		TraceID:   h.traceID,
	}

	startNow := false
	switch {
	case o.running == nil:
		o.running = h
		startNow = true
	case len(o.queue) < o.cfg.QueueDepth:
		o.queue = append(o.queue, h)
		rec.Position = len(o.queue)
	default:
		cancel()
		o.tracer.RecordRejection(ctx)
		o.logger.WarnContext(ctx, "batch rejected, another batch is in flight",
			slog.String("in_flight_id", o.running.ID),
			slog.Int("queued", len(o.queue)))
		return nil, &ReentrancyError{InFlightID: o.running.ID, QueueDepth: len(o.queue)}
	}

	if err := o.store.Create(rec); err != nil {
		o.dropLocked(h)
		cancel()
		return nil, fmt.Errorf("failed to save batch: %w", err)
	}
	o.live[h.ID] = h

	o.logger.InfoContext(ctx, "batch dispatched",
		slog.String("batch_id", h.ID),
		slog.Int("rows", len(grid)),
		slog.Bool("queued", !startNow))

	if startNow {
		o.startLocked(h)
	}
	return h, nil
}

// Handle returns the live handle of a pending or running batch
func (o *Orchestrator) Handle(id string) (*Handle, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	h, ok := o.live[id]
	return h, ok
}

// Cancel cancels a pending or running batch by ID
func (o *Orchestrator) Cancel(id string) error {
	if h, ok := o.Handle(id); ok {
		h.Cancel()
		return nil
	}
	if _, err := o.store.Get(id); err != nil {
		return err
	}
	return fmt.Errorf("batch %s: %w", id, ErrBatchFinished)
}

// InFlight returns the ID of the running batch, if any
func (o *Orchestrator) InFlight() (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running == nil {
		return "", false
	}
	return o.running.ID, true
}

// Shutdown cancels queued and running batches and waits for the worker
func (o *Orchestrator) Shutdown(timeout time.Duration) error {
	o.mu.Lock()
	o.closed = true
	queued := o.queue
	o.queue = nil
	for _, h := range queued {
		delete(o.live, h.ID)
	}
	o.mu.Unlock()

	for _, h := range queued {
		h.cancel()
		o.finishCancelled(h, ErrOrchestratorClosed)
	}
	o.baseCancel()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		o.logger.Info("orchestrator stopped gracefully")
		return nil
	case <-time.After(timeout):
		o.logger.Warn("orchestrator stop timeout exceeded")
		return fmt.Errorf("timeout waiting for running batch to stop")
	}
}

func (o *Orchestrator) startLocked(h *Handle) {
	o.wg.Add(1)
	go o.run(h)
}

func (o *Orchestrator) dropLocked(h *Handle) {
	if o.running == h {
		o.running = nil
	}
	for i, q := range o.queue {
		if q == h {
			o.queue = append(o.queue[:i], o.queue[i+1:]...)
			break
		}
	}
}

func (o *Orchestrator) cancelHandle(h *Handle) {
	o.mu.Lock()
	queued := false
	for i, q := range o.queue {
		if q == h {
			o.queue = append(o.queue[:i], o.queue[i+1:]...)
			queued = true
			break
		}
	}
	switch {
	case queued:
		delete(o.live, h.ID)
		o.renumberQueueLocked()
	case o.running == h:
		// The worker only writes its own copy of the grid, so the next
		// batch may start while it winds down.
		h.cancel()
		delete(o.live, h.ID)
		o.promoteLocked()
	}
	o.mu.Unlock()

	h.cancel()
	o.finishCancelled(h, ErrBatchCancelled)
}

// advance releases the worker slot and starts the next queued batch. A
// batch whose slot was already released by Cancel leaves the slot alone.
func (o *Orchestrator) advance(h *Handle) {
	o.mu.Lock()
	defer o.mu.Unlock()

	delete(o.live, h.ID)
	if o.running != h {
		return
	}
	o.promoteLocked()
}

// promoteLocked hands the worker slot to the first queued batch that has
// not been cancelled
func (o *Orchestrator) promoteLocked() {
	o.running = nil
	for len(o.queue) > 0 {
		next := o.queue[0]
		o.queue = o.queue[1:]
		if next.ctx.Err() != nil {
			continue
		}
		o.running = next
		o.startLocked(next)
		break
	}
	o.renumberQueueLocked()
}

func (o *Orchestrator) renumberQueueLocked() {
	for i, q := range o.queue {
		o.updateRecord(q.ID, func(rec *Record) { rec.Position = i + 1 })
	}
}

func (o *Orchestrator) run(h *Handle) {
	defer o.wg.Done()
	defer o.advance(h)

	ctx := h.ctx
	if o.cfg.BatchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.BatchTimeout)
		defer cancel()
	}
	if h.traceID != "" {
		ctx = infrastructure.WithTraceID(ctx, h.traceID)
	}
	logger := o.logger.With(slog.String("batch_id", h.ID))

	defer func() {
		// Recover from any panics to keep the worker slot usable
		if r := recover(); r != nil {
			logger.ErrorContext(ctx, "batch processing panicked", slog.Any("panic", r))
			o.finishCancelled(h, fmt.Errorf("batch processing panicked: %v", r))
		}
	}()

	start := time.Now()
	o.updateRecord(h.ID, func(rec *Record) {
		if rec.Status.IsTerminal() {
			return
		}
		rec.Status = StatusRunning
		rec.Position = 0
		rec.StartedAt = &start
	})

	ctx, span := o.tracer.StartBatch(ctx, h.ID, len(h.grid))
	logger.InfoContext(ctx, "batch processing started", slog.Int("rows", len(h.grid)))

	completion, err := o.process(ctx, h)
	completion.Summary.Duration = time.Since(start)

	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		o.tracer.EndBatch(ctx, span, StatusCancelled, completion.Summary, completion.Summary.Duration)
		logger.InfoContext(ctx, "batch cancelled", slog.String("reason", err.Error()))
		o.finishCancelled(h, err)
		return
	}

	o.tracer.EndBatch(ctx, span, StatusCompleted, completion.Summary, completion.Summary.Duration)
	logger.InfoContext(ctx, "batch processing completed",
		slog.Int("solved", completion.Summary.Solved),
		slog.Int("failed", completion.Summary.Failed),
		slog.Int("blank", completion.Summary.Blank),
		slog.Duration("duration", completion.Summary.Duration))
	o.finishCompleted(ctx, h, completion)
}

// process solves every row. Rows are independent, so they may run in
// parallel; results are written by index so the output matches a
// sequential pass.
func (o *Orchestrator) process(ctx context.Context, h *Handle) (Completion, error) {
	rows := ParseGrid(h.grid)
	results := make([]RowResult, len(rows))

	var progressMu sync.Mutex
	processed := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.RowParallelism)
	for i := range rows {
		if gctx.Err() != nil {
			break
		}
		row := rows[i]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[row.Index] = solveRow(row)

			if o.observer != nil {
				progressMu.Lock()
				processed++
				o.observer.OnProgress(ctx, Progress{BatchID: h.ID, Processed: processed, Total: len(rows)})
				progressMu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Completion{BatchID: h.ID}, err
	}
	if err := ctx.Err(); err != nil {
		return Completion{BatchID: h.ID}, err
	}

	return assemble(h.ID, h.grid, results), nil
}

// solveRow keeps Params only on solved rows; a warned row carries no
// numbers so the record always encodes as JSON.
func solveRow(row Row) RowResult {
	res := RowResult{Index: row.Index, Blank: row.Blank}
	if row.Blank {
		return res
	}
	if row.Err != nil {
		w := newRowWarning(row.Index, row.Err)
		res.Warning = &w
		return res
	}

	sr, err := demand.SolveParams(row.Params)
	if err != nil {
		w := newRowWarning(row.Index, err)
		res.Warning = &w
		return res
	}
	res.Params = row.Params
	res.Result = &sr
	return res
}

// assemble writes results into the owned sheet and counts outcomes
func assemble(batchID string, sheet Grid, results []RowResult) Completion {
	c := Completion{
		BatchID: batchID,
		Done:    true,
		Sheet:   sheet,
		Results: results,
		Summary: Summary{Total: len(results)},
	}

	for _, r := range results {
		switch {
		case r.Blank:
			c.Summary.Blank++
		case r.Warning != nil:
			c.Summary.Failed++
			c.Warnings = append(c.Warnings, *r.Warning)
			setOutputs(sheet, r.Index, "", "")
		default:
			c.Summary.Solved++
			if r.Result.Method == demand.MethodExact {
				c.Summary.Exact++
			} else {
				c.Summary.Direct++
			}
			setOutputs(sheet, r.Index,
				demand.FormatValue(r.Result.Analytic),
				demand.FormatValue(r.Result.Approximate))
		}
	}
	return c
}

func (o *Orchestrator) finishCompleted(ctx context.Context, h *Handle, c Completion) {
	h.finishOnce.Do(func() {
		now := time.Now()
		stored := c
		stored.Sheet = c.Sheet.Clone()
		o.updateRecord(h.ID, func(rec *Record) {
			rec.Status = StatusCompleted
			rec.CompletedAt = &now
			rec.Completion = &stored
		})
		if o.observer != nil {
			o.observer.OnComplete(ctx, c)
		}
		h.done <- c
		close(h.done)
	})
}

func (o *Orchestrator) finishCancelled(h *Handle, cause error) {
	h.finishOnce.Do(func() {
		now := time.Now()
		o.updateRecord(h.ID, func(rec *Record) {
			rec.Status = StatusCancelled
			rec.Position = 0
			rec.CompletedAt = &now
			if cause != nil {
				rec.Error = cause.Error()
			}
		})
		if o.observer != nil {
			o.observer.OnCancel(context.Background(), h.ID)
		}
		close(h.done)
	})
}

func (o *Orchestrator) updateRecord(id string, mutate func(rec *Record)) {
	rec, err := o.store.Get(id)
	if err != nil {
		o.logger.Warn("failed to load batch record", slog.String("batch_id", id), slog.String("error", err.Error()))
		return
	}
	mutate(rec)
	if err := o.store.Update(rec); err != nil {
		o.logger.Warn("failed to update batch record", slog.String("batch_id", id), slog.String("error", err.Error()))
	}
}

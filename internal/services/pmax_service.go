package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"pmaxtools/internal/batch"
	"pmaxtools/internal/config"
	"pmaxtools/internal/demand"
	"pmaxtools/internal/sheets"
)

// DispatchResult is returned when a batch is accepted
type DispatchResult struct {
	ID       string       `json:"id"`
	Status   batch.Status `json:"status"`
	Position int          `json:"queue_position,omitempty"`
}

// BatchView is a stored batch plus the diagnostics of its solved rows
type BatchView struct {
	*batch.Record
	Reports []demand.ReportEntry `json:"reports,omitempty"`
	Log     string               `json:"log,omitempty"`
}

// SolveView is the outcome of a single parameter set
type SolveView struct {
	Params demand.Params      `json:"params"`
	Result demand.SolveResult `json:"result"`
	Report demand.ReportEntry `json:"report"`
	Text   string             `json:"text"`
}

// cleaner is implemented by stores that can expire old records
type cleaner interface {
	CleanupOld(olderThan time.Duration) int
}

// PmaxService exposes the solver and the batch orchestrator to transports
type PmaxService struct {
	orch   *batch.Orchestrator
	cfg    config.BatchConfig
	logger *slog.Logger

	stopOnce sync.Once
	stop     chan struct{}
	wg       sync.WaitGroup
}

// NewPmaxService creates a new Pmax service
func NewPmaxService(orch *batch.Orchestrator, cfg config.BatchConfig, logger *slog.Logger) *PmaxService {
	if logger == nil {
		logger = slog.Default()
	}
	return &PmaxService{
		orch:   orch,
		cfg:    cfg,
		logger: logger.With(slog.String("service", "pmax")),
		stop:   make(chan struct{}),
	}
}

// Start launches the janitor that removes finished batches older than the
// configured retention. It is a no-op when retention or interval is zero.
func (s *PmaxService) Start() {
	if s.cfg.Retention <= 0 || s.cfg.CleanupInterval <= 0 {
		return
	}
	c, ok := s.orch.Store().(cleaner)
	if !ok {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				if n := c.CleanupOld(s.cfg.Retention); n > 0 {
					s.logger.Info("expired finished batches",
						slog.Int("removed", n),
						slog.Duration("retention", s.cfg.Retention))
				}
			}
		}
	}()
}

// Stop ends the janitor and shuts the orchestrator down
func (s *PmaxService) Stop(timeout time.Duration) error {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()
	return s.orch.Shutdown(timeout)
}

// Solve computes both Pmax estimates and the diagnostic block for one
// parameter set
func (s *PmaxService) Solve(ctx context.Context, p demand.Params) (*SolveView, error) {
	res, err := demand.SolveParams(p)
	if err != nil {
		s.logger.WarnContext(ctx, "solve rejected",
			slog.Float64("q0", p.Q0),
			slog.Float64("alpha", p.Alpha),
			slog.Float64("k", p.K),
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("failed to solve: %w", err)
	}

	entry, err := demand.Describe(demand.ReportInput{
		Params:      p,
		Analytic:    res.Analytic,
		Approximate: res.Approximate,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe result: %w", err)
	}

	s.logger.DebugContext(ctx, "solved",
		slog.String("method", string(res.Method)),
		slog.Float64("pmax", res.Analytic))

	return &SolveView{Params: p, Result: res, Report: entry, Text: entry.String()}, nil
}

// Dispatch hands a grid to the orchestrator and returns immediately
func (s *PmaxService) Dispatch(ctx context.Context, grid batch.Grid) (*DispatchResult, error) {
	h, err := s.orch.Dispatch(ctx, grid)
	if err != nil {
		return nil, fmt.Errorf("failed to dispatch batch: %w", err)
	}

	result := &DispatchResult{ID: h.ID, Status: batch.StatusPending}
	if rec, err := s.orch.Store().Get(h.ID); err == nil {
		result.Status = rec.Status
		result.Position = rec.Position
	}
	return result, nil
}

// Run dispatches a grid and waits for its completion message
func (s *PmaxService) Run(ctx context.Context, grid batch.Grid) (batch.Completion, error) {
	h, err := s.orch.Dispatch(ctx, grid)
	if err != nil {
		return batch.Completion{}, fmt.Errorf("failed to dispatch batch: %w", err)
	}

	c, err := h.Wait(ctx)
	if err != nil {
		h.Cancel()
		return batch.Completion{}, fmt.Errorf("batch %s: %w", h.ID, err)
	}
	return c, nil
}

// Get returns a batch record and, once completed, its reports
func (s *PmaxService) Get(ctx context.Context, id string) (*BatchView, error) {
	rec, err := s.orch.Store().Get(id)
	if err != nil {
		return nil, err
	}

	view := &BatchView{Record: rec}
	if rec.Completion != nil {
		view.Reports = rec.Completion.Reports()
		view.Log = rec.Completion.ReportText()
	}
	return view, nil
}

// List returns stored batch records, newest first
func (s *PmaxService) List(ctx context.Context, filter batch.Filter) ([]*batch.Record, error) {
	records, err := s.orch.Store().List(filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}
	return records, nil
}

// Cancel cancels a pending or running batch
func (s *PmaxService) Cancel(ctx context.Context, id string) error {
	if err := s.orch.Cancel(id); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "batch cancel requested", slog.String("batch_id", id))
	return nil
}

// Example returns the fitted example grid
func (s *PmaxService) Example() batch.Grid {
	return batch.ExampleGrid()
}

// Import reads a grid from an uploaded spreadsheet
func (s *PmaxService) Import(ctx context.Context, r io.Reader, filename string) (batch.Grid, error) {
	grid, err := sheets.Import(r, filename)
	if err != nil {
		return nil, fmt.Errorf("failed to import %s: %w", filename, err)
	}
	if s.cfg.MaxRows > 0 && len(grid) > s.cfg.MaxRows {
		return nil, &batch.ValidationError{
			Field:   "file",
			Message: fmt.Sprintf("%d rows exceeds the limit of %d", len(grid), s.cfg.MaxRows),
		}
	}

	s.logger.InfoContext(ctx, "spreadsheet imported",
		slog.String("filename", filename),
		slog.Int("rows", len(grid)))
	return grid, nil
}

// Export writes a completed batch as an xlsx workbook
func (s *PmaxService) Export(ctx context.Context, id string, w io.Writer) error {
	rec, err := s.orch.Store().Get(id)
	if err != nil {
		return err
	}
	if rec.Status != batch.StatusCompleted || rec.Completion == nil {
		return fmt.Errorf("batch %s is %s: %w", id, rec.Status, batch.ErrBatchNotCompleted)
	}
	return sheets.WriteWorkbook(w, *rec.Completion)
}

// Stats summarizes the orchestrator for health reporting
func (s *PmaxService) Stats() map[string]interface{} {
	stats := map[string]interface{}{}
	if id, ok := s.orch.InFlight(); ok {
		stats["in_flight"] = id
	}
	if ms, ok := s.orch.Store().(*batch.MemoryStore); ok {
		for k, v := range ms.Stats() {
			stats[k] = v
		}
	}
	return stats
}

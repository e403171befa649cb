package batch

import (
	"context"
	"time"

	"pmaxtools/internal/demand"
)

// Status represents the status of a batch
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether no further transitions can happen
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// DispatchMessage is what a caller sends to start a batch
type DispatchMessage struct {
	Data Grid `json:"data"`
}

// RowResult is the typed outcome of one row
type RowResult struct {
	Index   int                 `json:"index"`
	Blank   bool                `json:"blank,omitempty"`
	Params  demand.Params       `json:"params"` // zero unless the row was solved
	Result  *demand.SolveResult `json:"result,omitempty"`
	Warning *RowWarning         `json:"warning,omitempty"`
}

// Summary counts row outcomes in a finished batch
type Summary struct {
	Total    int           `json:"total"`
	Blank    int           `json:"blank"`
	Solved   int           `json:"solved"`
	Failed   int           `json:"failed"`
	Exact    int           `json:"exact"`
	Direct   int           `json:"direct"`
	Duration time.Duration `json:"duration"`
}

// Completion is the single terminal message of a batch
type Completion struct {
	BatchID  string       `json:"batch_id"`
	Done     bool         `json:"done"`
	Sheet    Grid         `json:"sheet"`
	Results  []RowResult  `json:"results,omitempty"`
	Warnings []RowWarning `json:"warnings,omitempty"`
	Summary  Summary      `json:"summary"`
}

// Progress is an optional intermediate event; it never replaces Completion
type Progress struct {
	BatchID   string `json:"batch_id"`
	Processed int    `json:"processed"`
	Total     int    `json:"total"`
}

// Observer receives batch lifecycle events. OnProgress calls for one batch
// are serialized on the worker. OnComplete and OnCancel are terminal and at
// most one of them fires per batch, but OnCancel runs on the cancelling
// goroutine and may overlap a last OnProgress. Implementations must be safe
// for concurrent use and must not block.
type Observer interface {
	OnProgress(ctx context.Context, p Progress)
	OnComplete(ctx context.Context, c Completion)
	OnCancel(ctx context.Context, batchID string)
}

// Record is the stored view of a batch
type Record struct {
	ID          string      `json:"id"`
	Status      Status      `json:"status"`
	Rows        int         `json:"rows"`
	Position    int         `json:"queue_position,omitempty"`
	Error       string      `json:"error,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
	TraceID     string      `json:"trace_id,omitempty"`
	Completion  *Completion `json:"completion,omitempty"`
}

// Filter for querying batch records
type Filter struct {
	Status Status
	Since  time.Time
	Limit  int
}

// Store persists batch records
type Store interface {
	Create(rec *Record) error
	Get(id string) (*Record, error)
	Update(rec *Record) error
	List(filter Filter) ([]*Record, error)
	Delete(id string) error
}

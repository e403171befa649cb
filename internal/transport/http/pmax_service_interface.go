package http

import (
	"context"
	"io"

	"pmaxtools/internal/batch"
	"pmaxtools/internal/demand"
	"pmaxtools/internal/services"
)

// PmaxServiceInterface defines the service operations the Pmax handler needs
type PmaxServiceInterface interface {
	Solve(ctx context.Context, p demand.Params) (*services.SolveView, error)
	Dispatch(ctx context.Context, grid batch.Grid) (*services.DispatchResult, error)
	Get(ctx context.Context, id string) (*services.BatchView, error)
	List(ctx context.Context, filter batch.Filter) ([]*batch.Record, error)
	Cancel(ctx context.Context, id string) error
	Example() batch.Grid
	Import(ctx context.Context, r io.Reader, filename string) (batch.Grid, error)
	Export(ctx context.Context, id string, w io.Writer) error
}

var _ PmaxServiceInterface = (*services.PmaxService)(nil)

package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pmaxtools/internal/demand"
)

// gateObserver blocks the first progress event until the gate is opened,
// which keeps a batch in flight for as long as a test needs.
type gateObserver struct {
	gate    chan struct{}
	started chan struct{}
	once    sync.Once

	mu          sync.Mutex
	progress    []Progress
	completions []Completion
	cancels     []string
}

func newGateObserver() *gateObserver {
	return &gateObserver{gate: make(chan struct{}), started: make(chan struct{})}
}

func (g *gateObserver) OnProgress(_ context.Context, p Progress) {
	g.once.Do(func() { close(g.started) })
	<-g.gate
	g.mu.Lock()
	g.progress = append(g.progress, p)
	g.mu.Unlock()
}

func (g *gateObserver) OnComplete(_ context.Context, c Completion) {
	g.mu.Lock()
	g.completions = append(g.completions, c)
	g.mu.Unlock()
}

func (g *gateObserver) OnCancel(_ context.Context, id string) {
	g.mu.Lock()
	g.cancels = append(g.cancels, id)
	g.mu.Unlock()
}

func (g *gateObserver) open() {
	select {
	case <-g.gate:
	default:
		close(g.gate)
	}
}

func (g *gateObserver) waitStarted(t *testing.T) {
	t.Helper()
	select {
	case <-g.started:
	case <-time.After(2 * time.Second):
		t.Fatal("batch never started")
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitCompletion(t *testing.T, h *Handle) Completion {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := h.Wait(ctx)
	require.NoError(t, err)
	return c
}

// solvedSheet returns grid with both output cells of every computable row
// filled in, as a sequential pass with nothing else running would.
func solvedSheet(t *testing.T, grid Grid) Grid {
	t.Helper()
	want := grid.Clone()
	for i, cells := range want {
		row := ParseRow(i, cells)
		if row.Blank {
			continue
		}
		if !row.Computable() {
			setOutputs(want, i, "", "")
			continue
		}
		res, err := demand.SolveParams(row.Params)
		require.NoError(t, err)
		setOutputs(want, i, demand.FormatValue(res.Analytic), demand.FormatValue(res.Approximate))
	}
	return want
}

func TestOrchestrator_Dispatch(t *testing.T) {
	t.Run("fills outputs and leaves skipped rows alone", func(t *testing.T) {
		orch := NewOrchestrator(DefaultConfig(), nil, testLogger())
		defer orch.Shutdown(time.Second)

		input := Grid{
			{"4.1849", "0.00518467", "5.31159", "", ""},
			{"", "leftover", "cells"},
			{"1", "abc", "2", "stale", "stale"},
			{"1", "1", "0.5"},
			{"-1", "1", "1", "", ""},
		}
		original := input.Clone()

		h, err := orch.Dispatch(context.Background(), input)
		require.NoError(t, err)
		c := waitCompletion(t, h)

		assert.True(t, c.Done)
		assert.Equal(t, h.ID, c.BatchID)
		assert.Equal(t, original, input, "caller's grid must not be modified")

		require.Len(t, c.Sheet, 5)
		assert.Equal(t, "4.1208", c.Sheet[0][ColAnalytic])
		assert.Equal(t, "4.107", c.Sheet[0][ColApproximate])
		assert.Equal(t, []string{"", "leftover", "cells"}, c.Sheet[1])
		assert.Equal(t, "", c.Sheet[2][ColAnalytic])
		assert.Equal(t, "", c.Sheet[2][ColApproximate])
		assert.Equal(t, []string{"1", "1", "0.5", "1", "1.9559"}, c.Sheet[3])
		assert.Equal(t, "", c.Sheet[4][ColAnalytic])

		assert.Equal(t, Summary{Total: 5, Blank: 1, Solved: 2, Failed: 2, Exact: 1, Direct: 1, Duration: c.Summary.Duration}, c.Summary)
		require.Len(t, c.Warnings, 2)
		assert.Equal(t, 2, c.Warnings[0].Row)
		assert.Equal(t, ErrorTypeParse, c.Warnings[0].Type)
		assert.Equal(t, 4, c.Warnings[1].Row)
		assert.Equal(t, ErrorTypeDomain, c.Warnings[1].Type)

		require.NotNil(t, c.Results[0].Result)
		assert.Equal(t, demand.MethodExact, c.Results[0].Result.Method)
		assert.Equal(t, demand.MethodDirect, c.Results[3].Result.Method)

		rec, err := orch.Store().Get(h.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, rec.Status)
		require.NotNil(t, rec.Completion)
		assert.Equal(t, c.Sheet, rec.Completion.Sheet)
	})

	t.Run("empty grid completes", func(t *testing.T) {
		orch := NewOrchestrator(DefaultConfig(), nil, testLogger())
		defer orch.Shutdown(time.Second)

		h, err := orch.Dispatch(context.Background(), Grid{})
		require.NoError(t, err)
		c := waitCompletion(t, h)
		assert.True(t, c.Done)
		assert.Empty(t, c.Sheet)
	})

	t.Run("exactly one completion message", func(t *testing.T) {
		orch := NewOrchestrator(DefaultConfig(), nil, testLogger())
		defer orch.Shutdown(time.Second)

		h, err := orch.Dispatch(context.Background(), Grid{{"1", "1", "0.5"}})
		require.NoError(t, err)

		count := 0
		for range h.Done() {
			count++
		}
		assert.Equal(t, 1, count)
	})

	t.Run("rejects grids over the row limit", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.MaxRows = 2
		orch := NewOrchestrator(cfg, nil, testLogger())
		defer orch.Shutdown(time.Second)

		_, err := orch.Dispatch(context.Background(), NewBlankGrid(3))
		var valErr *ValidationError
		require.ErrorAs(t, err, &valErr)
		assert.Equal(t, "data", valErr.Field)
	})
}

func TestOrchestrator_Reentrancy(t *testing.T) {
	firstGrid := Grid{
		{"4.1849", "0.00518467", "5.31159"},
		{""},
		{"1", "1", "0.5"},
	}
	secondGrid := Grid{
		{"10", "0.001", "2"},
		{"2", "0.01", "4"},
	}

	t.Run("rejects while a batch is in flight", func(t *testing.T) {
		obs := newGateObserver()
		orch := NewOrchestrator(DefaultConfig(), nil, testLogger(), WithObserver(obs))
		defer orch.Shutdown(time.Second)

		first, err := orch.Dispatch(context.Background(), firstGrid)
		require.NoError(t, err)
		obs.waitStarted(t)

		_, err = orch.Dispatch(context.Background(), secondGrid)
		var reErr *ReentrancyError
		require.ErrorAs(t, err, &reErr)
		assert.Equal(t, first.ID, reErr.InFlightID)
		assert.ErrorIs(t, err, ErrBatchInFlight)
		assert.Equal(t, ErrorTypeReentrancy, GetErrorType(err))

		obs.open()
		c := waitCompletion(t, first)
		assert.Equal(t, solvedSheet(t, firstGrid), c.Sheet)
		assert.Equal(t, 2, c.Summary.Solved)

		assert.Eventually(t, func() bool {
			_, busy := orch.InFlight()
			return !busy
		}, 2*time.Second, 10*time.Millisecond)

		next, err := orch.Dispatch(context.Background(), secondGrid)
		require.NoError(t, err)
		assert.Equal(t, solvedSheet(t, secondGrid), waitCompletion(t, next).Sheet)
	})

	t.Run("queues up to the configured depth", func(t *testing.T) {
		obs := newGateObserver()
		cfg := DefaultConfig()
		cfg.QueueDepth = 1
		orch := NewOrchestrator(cfg, nil, testLogger(), WithObserver(obs))
		defer orch.Shutdown(time.Second)

		first, err := orch.Dispatch(context.Background(), firstGrid)
		require.NoError(t, err)
		obs.waitStarted(t)

		second, err := orch.Dispatch(context.Background(), secondGrid)
		require.NoError(t, err)

		rec, err := orch.Store().Get(second.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusPending, rec.Status)
		assert.Equal(t, 1, rec.Position)

		_, err = orch.Dispatch(context.Background(), Grid{{"1", "1", "0.5"}})
		assert.ErrorIs(t, err, ErrBatchInFlight)

		obs.open()
		firstDone := waitCompletion(t, first)
		assert.Equal(t, solvedSheet(t, firstGrid), firstDone.Sheet)
		require.Len(t, firstDone.Results, len(firstGrid))
		assert.Equal(t, 4.1849, firstDone.Results[0].Params.Q0)

		c := waitCompletion(t, second)
		assert.Equal(t, solvedSheet(t, secondGrid), c.Sheet)
		assert.Equal(t, "28.85", c.Sheet[0][ColApproximate])
	})
}

func TestOrchestrator_Cancel(t *testing.T) {
	t.Run("running batch closes without a message", func(t *testing.T) {
		obs := newGateObserver()
		orch := NewOrchestrator(DefaultConfig(), nil, testLogger(), WithObserver(obs))
		defer orch.Shutdown(time.Second)

		h, err := orch.Dispatch(context.Background(), Grid{{"1", "1", "0.5"}, {"1", "1", "0.5"}})
		require.NoError(t, err)
		obs.waitStarted(t)

		h.Cancel()
		obs.open()

		_, ok := <-h.Done()
		assert.False(t, ok)

		_, err = h.Wait(context.Background())
		assert.ErrorIs(t, err, ErrBatchCancelled)

		rec, err := orch.Store().Get(h.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusCancelled, rec.Status)
		assert.Nil(t, rec.Completion)

		assert.Eventually(t, func() bool {
			_, busy := orch.InFlight()
			return !busy
		}, 2*time.Second, 10*time.Millisecond)

		obs.mu.Lock()
		assert.Empty(t, obs.completions)
		assert.Equal(t, []string{h.ID}, obs.cancels)
		obs.mu.Unlock()
	})

	t.Run("running batch frees the slot at once", func(t *testing.T) {
		obs := newGateObserver()
		orch := NewOrchestrator(DefaultConfig(), nil, testLogger(), WithObserver(obs))
		defer orch.Shutdown(time.Second)

		cancelled, err := orch.Dispatch(context.Background(), Grid{{"1", "1", "0.5"}, {"1", "1", "0.5"}})
		require.NoError(t, err)
		obs.waitStarted(t)

		cancelled.Cancel()
		_, busy := orch.InFlight()
		assert.False(t, busy)

		grid := Grid{{"10", "0.001", "2"}}
		next, err := orch.Dispatch(context.Background(), grid)
		require.NoError(t, err)

		id, busy := orch.InFlight()
		assert.True(t, busy)
		assert.Equal(t, next.ID, id)

		obs.open()
		assert.Equal(t, solvedSheet(t, grid), waitCompletion(t, next).Sheet)

		rec, err := orch.Store().Get(cancelled.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusCancelled, rec.Status)
	})

	t.Run("slot freed by cancel promotes the queue", func(t *testing.T) {
		obs := newGateObserver()
		cfg := DefaultConfig()
		cfg.QueueDepth = 1
		orch := NewOrchestrator(cfg, nil, testLogger(), WithObserver(obs))
		defer orch.Shutdown(time.Second)

		first, err := orch.Dispatch(context.Background(), Grid{{"1", "1", "0.5"}})
		require.NoError(t, err)
		obs.waitStarted(t)

		queued, err := orch.Dispatch(context.Background(), Grid{{"10", "0.001", "2"}})
		require.NoError(t, err)

		first.Cancel()
		id, busy := orch.InFlight()
		require.True(t, busy)
		assert.Equal(t, queued.ID, id)

		obs.open()
		c := waitCompletion(t, queued)
		assert.Equal(t, "28.85", c.Sheet[0][ColApproximate])
	})

	t.Run("queued batch is removed", func(t *testing.T) {
		obs := newGateObserver()
		cfg := DefaultConfig()
		cfg.QueueDepth = 2
		orch := NewOrchestrator(cfg, nil, testLogger(), WithObserver(obs))
		defer orch.Shutdown(time.Second)

		first, err := orch.Dispatch(context.Background(), Grid{{"1", "1", "0.5"}})
		require.NoError(t, err)
		obs.waitStarted(t)

		queued, err := orch.Dispatch(context.Background(), Grid{{"1", "1", "0.5"}})
		require.NoError(t, err)
		last, err := orch.Dispatch(context.Background(), Grid{{"1", "1", "0.5"}})
		require.NoError(t, err)

		require.NoError(t, orch.Cancel(queued.ID))
		_, ok := <-queued.Done()
		assert.False(t, ok)

		rec, err := orch.Store().Get(last.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, rec.Position)

		obs.open()
		waitCompletion(t, first)
		waitCompletion(t, last)
	})

	t.Run("unknown and finished batches", func(t *testing.T) {
		orch := NewOrchestrator(DefaultConfig(), nil, testLogger())
		defer orch.Shutdown(time.Second)

		assert.ErrorIs(t, orch.Cancel("missing"), ErrBatchNotFound)

		h, err := orch.Dispatch(context.Background(), Grid{{"1", "1", "0.5"}})
		require.NoError(t, err)
		waitCompletion(t, h)

		assert.Eventually(t, func() bool {
			_, live := orch.Handle(h.ID)
			return !live
		}, 2*time.Second, 10*time.Millisecond)

		err = orch.Cancel(h.ID)
		assert.ErrorIs(t, err, ErrBatchFinished)
		assert.Equal(t, ErrorTypeCancellation, GetErrorType(err))
	})

	t.Run("cancel after completion keeps the message", func(t *testing.T) {
		orch := NewOrchestrator(DefaultConfig(), nil, testLogger())
		defer orch.Shutdown(time.Second)

		h, err := orch.Dispatch(context.Background(), Grid{{"1", "1", "0.5"}})
		require.NoError(t, err)

		assert.Eventually(t, func() bool {
			rec, err := orch.Store().Get(h.ID)
			return err == nil && rec.Status == StatusCompleted
		}, 2*time.Second, 10*time.Millisecond)

		h.Cancel()
		c := waitCompletion(t, h)
		assert.True(t, c.Done)
	})
}

func TestOrchestrator_ParallelPreservesOrder(t *testing.T) {
	grid := make(Grid, 0, 200)
	for i := 0; i < 200; i++ {
		switch i % 4 {
		case 0:
			grid = append(grid, []string{fmt.Sprintf("%d", 1+i), "0.001", "2"})
		case 1:
			grid = append(grid, []string{"1", "1", "0.5"})
		case 2:
			grid = append(grid, []string{""})
		default:
			grid = append(grid, []string{"4.1849", "0.00518467", "5.31159"})
		}
	}

	sequential := NewOrchestrator(DefaultConfig(), nil, testLogger())
	defer sequential.Shutdown(time.Second)
	h1, err := sequential.Dispatch(context.Background(), grid)
	require.NoError(t, err)
	want := waitCompletion(t, h1)

	cfg := DefaultConfig()
	cfg.RowParallelism = 8
	parallel := NewOrchestrator(cfg, nil, testLogger())
	defer parallel.Shutdown(time.Second)
	h2, err := parallel.Dispatch(context.Background(), grid)
	require.NoError(t, err)
	got := waitCompletion(t, h2)

	assert.Equal(t, want.Sheet, got.Sheet)
	assert.Equal(t, want.Summary.Solved, got.Summary.Solved)
	assert.Equal(t, 50, got.Summary.Blank)
}

func TestOrchestrator_Progress(t *testing.T) {
	obs := newGateObserver()
	obs.open()
	orch := NewOrchestrator(DefaultConfig(), nil, testLogger(), WithObserver(obs))
	defer orch.Shutdown(time.Second)

	h, err := orch.Dispatch(context.Background(), Grid{{"1", "1", "0.5"}, {""}, {"1", "1", "0.5"}})
	require.NoError(t, err)
	waitCompletion(t, h)

	obs.mu.Lock()
	defer obs.mu.Unlock()
	require.Len(t, obs.progress, 3)
	assert.Equal(t, Progress{BatchID: h.ID, Processed: 3, Total: 3}, obs.progress[2])
	require.Len(t, obs.completions, 1)
}

func TestOrchestrator_Shutdown(t *testing.T) {
	orch := NewOrchestrator(DefaultConfig(), nil, testLogger())
	require.NoError(t, orch.Shutdown(time.Second))

	_, err := orch.Dispatch(context.Background(), Grid{{"1", "1", "0.5"}})
	assert.ErrorIs(t, err, ErrOrchestratorClosed)
}

func TestOrchestrator_NonFiniteCellStaysOnItsRow(t *testing.T) {
	orch := NewOrchestrator(DefaultConfig(), nil, testLogger())
	defer orch.Shutdown(time.Second)

	grid := Grid{
		{"4.1849", "0.00518467", "5.31159"},
		{"NaN", "1", "1"},
		{"1", "Inf", "1"},
		{"1", "1", "0.5"},
	}
	h, err := orch.Dispatch(context.Background(), grid)
	require.NoError(t, err)
	c := waitCompletion(t, h)

	assert.Equal(t, solvedSheet(t, grid), c.Sheet)
	assert.Equal(t, "", c.Sheet[1][ColAnalytic])
	assert.Equal(t, "", c.Sheet[2][ColApproximate])
	assert.Equal(t, "1.9559", c.Sheet[3][ColApproximate])
	assert.Equal(t, 2, c.Summary.Solved)
	assert.Equal(t, 2, c.Summary.Failed)
	require.Len(t, c.Warnings, 2)
	assert.Equal(t, ErrorTypeParse, c.Warnings[0].Type)
	assert.Equal(t, demand.Params{}, c.Results[1].Params)

	_, err = json.Marshal(c)
	assert.NoError(t, err)

	rec, err := orch.Store().Get(h.ID)
	require.NoError(t, err)
	_, err = json.Marshal(rec)
	assert.NoError(t, err)

	list, err := orch.Store().List(Filter{})
	require.NoError(t, err)
	_, err = json.Marshal(list)
	assert.NoError(t, err)
}

func TestCompletion_Reports(t *testing.T) {
	orch := NewOrchestrator(DefaultConfig(), nil, testLogger())
	defer orch.Shutdown(time.Second)

	h, err := orch.Dispatch(context.Background(), Grid{
		{"4.1849", "0.00518467", "5.31159"},
		{""},
		{"1", "1", "0.5"},
	})
	require.NoError(t, err)
	c := waitCompletion(t, h)

	reports := c.Reports()
	require.Len(t, reports, 2)
	assert.Equal(t, 1, reports[0].Row)
	assert.Equal(t, 3, reports[1].Row)
	assert.Equal(t, demand.RationaleExact, reports[0].Rationale)
	assert.Equal(t, demand.RationaleDirect, reports[1].Rationale)
	assert.Contains(t, c.ReportText(), "Row #3")
}

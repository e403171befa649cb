package websocket

import (
	"context"

	"pmaxtools/internal/batch"
	"pmaxtools/internal/infrastructure"
)

// CompletePayload is the data of a pmax:complete message. Done and Sheet
// carry the batch's completion message unchanged.
type CompletePayload struct {
	BatchID string        `json:"batch_id"`
	Done    bool          `json:"done"`
	Sheet   batch.Grid    `json:"sheet"`
	Summary batch.Summary `json:"summary"`
}

// BatchObserver forwards orchestrator events to every connected client
type BatchObserver struct {
	hub          *Hub
	sendProgress bool
}

var _ batch.Observer = (*BatchObserver)(nil)

// NewBatchObserver creates an observer that broadcasts through hub.
// Progress events are only forwarded when sendProgress is set.
func NewBatchObserver(hub *Hub, sendProgress bool) *BatchObserver {
	return &BatchObserver{hub: hub, sendProgress: sendProgress}
}

// OnProgress implements batch.Observer
func (o *BatchObserver) OnProgress(ctx context.Context, p batch.Progress) {
	if !o.sendProgress {
		return
	}
	o.hub.BroadcastJSON(TypePmaxProgress, p, infrastructure.GetTraceID(ctx))
}

// OnComplete implements batch.Observer
func (o *BatchObserver) OnComplete(ctx context.Context, c batch.Completion) {
	o.hub.BroadcastJSON(TypePmaxComplete, CompletePayload{
		BatchID: c.BatchID,
		Done:    c.Done,
		Sheet:   c.Sheet,
		Summary: c.Summary,
	}, infrastructure.GetTraceID(ctx))
}

// OnCancel implements batch.Observer
func (o *BatchObserver) OnCancel(ctx context.Context, batchID string) {
	o.hub.BroadcastJSON(TypePmaxCancelled, map[string]string{
		"batch_id": batchID,
	}, infrastructure.GetTraceID(ctx))
}

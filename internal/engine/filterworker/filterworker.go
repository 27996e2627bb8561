// Package filterworker drives a filter.Capability against the frames queue
// and the sink queue (spec §91). Unlike the decoder worker, the filter
// capability owns its own pull/push loop; this package only handles
// Init/Uninit lifecycle and surfaces the loop's terminal error.
package filterworker

import (
	"context"

	"github.com/alxayo/go-mediadecode/internal/engine/filter"
	"github.com/alxayo/go-mediadecode/internal/engine/pipeline"
	"github.com/alxayo/go-mediadecode/internal/engine/queue"
)

// Worker is the stage-3 pipeline worker: frames queue in, sink queue out.
type Worker struct {
	framesQ *queue.Queue[*pipeline.Frame]
	sinkQ   *queue.Queue[*pipeline.Frame]
	cap     filter.Capability
}

// New creates a filter worker over an already-constructed Capability.
func New(framesQ, sinkQ *queue.Queue[*pipeline.Frame], cap filter.Capability) *Worker {
	return &Worker{framesQ: framesQ, sinkQ: sinkQ, cap: cap}
}

// Init configures the underlying capability with the queues and format
// hint it will run against.
func (w *Worker) Init(hint filter.FormatHint) error {
	return w.cap.Init(w.framesQ, w.sinkQ, hint)
}

// Run blocks inside the capability's own loop and releases it on return.
func (w *Worker) Run(ctx context.Context) error {
	err := w.cap.Run(ctx)
	_ = w.cap.Uninit()
	return err
}

// Package filter defines the filter capability interface (spec §6): the
// external collaborator a filterworker.Worker drives. The filter graph
// engine itself is out of scope (spec §1); this package only specifies the
// boundary plus small concrete implementations (an in-process trim/scale
// filter and a subprocess filter) sufficient to exercise it.
package filter

import (
	"context"

	"github.com/alxayo/go-mediadecode/internal/engine/pipeline"
	"github.com/alxayo/go-mediadecode/internal/engine/queue"
)

// FormatHint describes the frame shape the filter should expect, so a
// subprocess filter can size its own buffers without inspecting the first
// frame.
type FormatHint struct {
	Width, Height int
	Format        pipeline.PixelFormat
}

// Capability is the filter capability collaborator (spec §6): it owns its
// own pull/push loop against the two queues it is handed at Init, so it can
// apply back-pressure exactly where the underlying transform needs it
// (spec §91: "pulls frames from frames_queue, runs them through the
// external filter graph, pushes to sink_queue").
type Capability interface {
	// Init retains inQueue/outQueue and configures the filter for hint.
	Init(inQueue *queue.Queue[*pipeline.Frame], outQueue *queue.Queue[*pipeline.Frame], hint FormatHint) error
	// Run blocks, pulling frames from inQueue and pushing transformed frames
	// to outQueue, until inQueue's send-side latch fires or ctx is canceled.
	// On termination it must drain any buffered frame, emit a final nil
	// sentinel to outQueue, and return the terminal error.
	Run(ctx context.Context) error
	// Uninit releases any resources held outside the loop (e.g. a subprocess).
	Uninit() error
}

// Package reader implements the reader worker (spec §4.6): it pulls
// packets from a source.Source, interleaves seek markers requested by the
// controller, and feeds the packet queue that the decoder worker consumes.
package reader

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/alxayo/go-mediadecode/internal/engine/pipeline"
	"github.com/alxayo/go-mediadecode/internal/engine/queue"
	"github.com/alxayo/go-mediadecode/internal/engine/source"
	engerrors "github.com/alxayo/go-mediadecode/internal/errors"
	"github.com/alxayo/go-mediadecode/internal/logger"
)

// againBackoff is how long the reader sleeps after a retryable ErrAgain
// before calling PullPacket again (spec §4.6: "a short fixed interval,
// tens of milliseconds").
const againBackoff = 20 * time.Millisecond

// Worker is the stage-0 pipeline worker: a source.Source in, the packet
// queue out.
type Worker struct {
	src     source.Source
	packetQ *queue.Queue[pipeline.Message]
	log     *slog.Logger

	mu          sync.Mutex
	requestSeek *int64 // nil = no pending seek; set/cleared under mu by the controller and Run
}

// New creates a reader worker over src, publishing to packetQ.
func New(src source.Source, packetQ *queue.Queue[pipeline.Message]) *Worker {
	return &Worker{
		src:     src,
		packetQ: packetQ,
		log:     logger.WithWorker(logger.Logger(), "reader"),
	}
}

// RequestSeek arms a pending seek to targetUs (canonical microseconds).
// Idempotent within a single poll cycle: a later call before the reader
// observes the pending one simply replaces the target (spec §4.7).
func (w *Worker) RequestSeek(targetUs int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	t := targetUs
	w.requestSeek = &t
}

// takeSeek atomically takes and clears the pending seek target, if any
// (spec §4.6 step 1).
func (w *Worker) takeSeek() (int64, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.requestSeek == nil {
		return 0, false
	}
	t := *w.requestSeek
	w.requestSeek = nil
	return t, true
}

// Run loops: take-and-clear any pending seek, forward it to the packet
// queue and the source, then pull and forward the next packet. Returns once
// the source reports EOF, a fatal error occurs, or ctx is canceled; in every
// case it installs the terminal condition on the packet queue's send-side
// latch before returning.
func (w *Worker) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			w.packetQ.SetErrSend(ctx.Err())
			return ctx.Err()
		}

		if target, pending := w.takeSeek(); pending {
			// The seek message is pushed BEFORE the source seek so the
			// decoder observes the boundary before any post-seek packets
			// arrive (spec §4.6).
			if err := w.packetQ.Send(ctx, pipeline.NewSeekMessage(target)); err != nil {
				w.packetQ.SetErrSend(err)
				return err
			}
			if err := w.src.Seek(ctx, target); err != nil {
				w.log.Error("source seek failed", "err", err)
				w.packetQ.SetErrSend(err)
				return err
			}
		}

		pkt, err := w.src.PullPacket(ctx)
		if errors.Is(err, source.ErrAgain) {
			select {
			case <-time.After(againBackoff):
			case <-ctx.Done():
				w.packetQ.SetErrSend(ctx.Err())
				return ctx.Err()
			}
			continue
		}
		if errors.Is(err, engerrors.EOF) {
			w.packetQ.SetErrSend(engerrors.EOF)
			return engerrors.EOF
		}
		if err != nil {
			w.packetQ.SetErrSend(err)
			return err
		}

		if err := w.packetQ.Send(ctx, pipeline.NewPacketMessage(pkt)); err != nil {
			w.packetQ.SetErrSend(err)
			return err
		}
	}
}

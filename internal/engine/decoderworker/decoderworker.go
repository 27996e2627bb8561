// Package decoderworker drives a decoder.Capability against the packet
// queue and publishes decoded frames to the frames queue (spec §4.4). It
// owns the seek-arm state machine and the timestamp-fixup rule applied to
// every frame crossing a seek boundary, since a hardware capability's emit
// callback can fire from a thread this worker does not control.
package decoderworker

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/alxayo/go-mediadecode/internal/engine/decoder"
	"github.com/alxayo/go-mediadecode/internal/engine/hooks"
	"github.com/alxayo/go-mediadecode/internal/engine/metrics"
	"github.com/alxayo/go-mediadecode/internal/engine/pipeline"
	"github.com/alxayo/go-mediadecode/internal/engine/queue"
	engerrors "github.com/alxayo/go-mediadecode/internal/errors"
	"github.com/alxayo/go-mediadecode/internal/logger"
)

// Worker is the stage-2 pipeline worker: packet queue in, frames queue out,
// one decoder.Capability in between.
type Worker struct {
	packetQ *queue.Queue[pipeline.Message]
	framesQ *queue.Queue[*pipeline.Frame]
	cap     decoder.Capability
	log     *slog.Logger
	metrics *metrics.Registry
	hookMgr *hooks.HookManager
	mediaID string

	ctx context.Context

	mu      sync.Mutex
	armed   bool
	target  int64 // canonical microseconds, meaningful iff armed or skipped != nil
	skipped *pipeline.Frame
}

// New creates a decoder worker. cap must not yet be Init'd: Init wires
// w.onFrameEmitted as its emit callback so frames observe the seek fixup
// before reaching framesQ.
func New(packetQ *queue.Queue[pipeline.Message], framesQ *queue.Queue[*pipeline.Frame], cap decoder.Capability) *Worker {
	return &Worker{
		packetQ: packetQ,
		framesQ: framesQ,
		cap:     cap,
		log:     logger.WithWorker(logger.Logger(), "decoder"),
	}
}

// SetMetrics attaches an optional instrument registry. A nil registry
// (the default) leaves instrumentation disabled.
func (w *Worker) SetMetrics(m *metrics.Registry) {
	w.metrics = m
}

// SetHooks attaches an optional hook manager that this worker fires
// EventDecodeError, EventKeyframeSeen, and EventSeekComplete through. A nil
// manager (the default) leaves event firing disabled - HookManager.
// TriggerEvent is nil-receiver-safe, so every call site below is unguarded.
func (w *Worker) SetHooks(mgr *hooks.HookManager, mediaID string) {
	w.hookMgr = mgr
	w.mediaID = mediaID
}

// emitEvent fires t with the given data fields, tagged with this worker's
// mediaID. Safe to call whether or not a hook manager is attached.
func (w *Worker) emitEvent(t hooks.EventType, data map[string]interface{}) {
	ctx := w.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	ev := hooks.NewEvent(t).WithMediaID(w.mediaID)
	for k, v := range data {
		ev = ev.WithData(k, v)
	}
	w.hookMgr.TriggerEvent(ctx, *ev)
}

// Init prepares the underlying capability, retaining w.onFrameEmitted as its
// emit callback.
func (w *Worker) Init(ctx context.Context, opts decoder.Options) error {
	return w.cap.Init(ctx, opts, w.onFrameEmitted)
}

// Run pulls messages from the packet queue until it drains (or ctx is
// canceled), submitting packets to the capability and arming/flushing on
// seek markers. It returns the terminal condition, having already installed
// it as framesQ's send-side latch so the filter worker observes the same
// termination.
func (w *Worker) Run(ctx context.Context) error {
	w.ctx = ctx
	for {
		msg, err := w.packetQ.Recv(ctx)
		if err != nil {
			return w.shutdown(err)
		}

		switch msg.Kind {
		case pipeline.MessagePacket:
			if err := w.pushPacket(msg.Pkt); err != nil {
				return w.shutdown(err)
			}
		case pipeline.MessageSeek:
			w.arm(msg.SeekTarget)
			if err := w.cap.Flush(); err != nil {
				return w.shutdown(err)
			}
		}
	}
}

// pushPacket submits one packet, absorbing per-packet InvalidData errors
// (spec §7: not fatal to the session) and the EOF a drain returns, and
// returning everything else.
func (w *Worker) pushPacket(pkt *pipeline.Packet) error {
	err := w.cap.PushPacket(pkt)
	if err == nil {
		return nil
	}
	if engerrors.IsInvalidData(err) {
		w.log.Warn("dropping undecodable packet", "err", err)
		w.metrics.IncFramesDropped()
		w.emitEvent(hooks.EventDecodeError, map[string]interface{}{"error": err.Error()})
		return nil
	}
	if errors.Is(err, engerrors.EOF) {
		return nil
	}
	return err
}

// shutdown drains the capability one last time (best effort) and installs
// the terminal error on the frames queue's send-side latch.
func (w *Worker) shutdown(cause error) error {
	_ = w.cap.PushPacket(nil)
	w.framesQ.SetErrSend(cause)
	return cause
}

// arm enters the seek-in-progress state (spec §4.4): any previously cached
// skipped frame belonged to a now-superseded seek and is released, not
// promoted.
func (w *Worker) arm(targetUs int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.skipped != nil {
		w.skipped.Release()
		w.skipped = nil
	}
	w.armed = true
	w.target = targetUs
}

// onFrameEmitted implements the async_queue_frame timestamp-fixup rule
// (spec §4.4). It is the decoder capability's emit callback and must be
// safe to call from any goroutine (the hardware decode callback included).
//
// Step 1 (nil / end-of-segment): a cached skipped frame is promoted (its ts
// clamped up to the seek target, since by construction it undershot) and
// forwarded before the sentinel itself, so a seek landing exactly on a
// segment boundary still yields a frame.
//
// Steps 3-6 apply to a real frame: an undershooting frame while armed is
// cached rather than emitted (step 3); a cached skipped frame is promoted
// and emitted alongside the current frame once a frame reaches or passes
// the target (step 4); absent a cached frame, an overshooting frame has its
// ts clamped down to the target instead (step 5); the arm state clears and
// the current frame is always emitted (step 6). Steps 4 and 5 are mutually
// exclusive per seek: the skipped-frame promotion is itself the "landed on
// target" signal, so the current (overshooting) frame passes through
// unclamped in that case - clamping both would collapse two distinct
// timestamps into one.
func (w *Worker) onFrameEmitted(f *pipeline.Frame) {
	w.mu.Lock()

	if f == nil {
		var promoted *pipeline.Frame
		if w.skipped != nil {
			promoted = w.skipped
			promoted.PTS = w.target
			w.skipped = nil
		}
		w.mu.Unlock()

		if promoted != nil {
			w.metrics.IncFramesDecoded()
			w.pushFrame(promoted)
		}
		w.pushFrame(nil)
		return
	}

	if w.armed && f.PTS < w.target {
		superseded := w.skipped
		w.skipped = f
		w.mu.Unlock()

		if superseded != nil {
			superseded.Release()
		}
		return
	}

	wasArmed := w.armed
	var promoted *pipeline.Frame
	if w.skipped != nil {
		promoted = w.skipped
		promoted.PTS = w.target
		w.skipped = nil
	} else if w.armed && w.target > 0 && f.PTS > w.target {
		f.PTS = w.target
	}
	w.armed = false
	w.mu.Unlock()

	if promoted != nil {
		w.metrics.IncFramesDecoded()
		w.pushFrame(promoted)
	}
	if wasArmed {
		w.emitEvent(hooks.EventSeekComplete, map[string]interface{}{"ts_us": f.PTS})
	}
	if f.KeyFrame {
		w.emitEvent(hooks.EventKeyframeSeen, map[string]interface{}{"ts_us": f.PTS})
	}
	w.metrics.IncFramesDecoded()
	w.pushFrame(f)
}

// pushFrame enqueues f (nil is the end-of-segment sentinel), releasing it
// instead if the frames queue has already been abandoned downstream. Must
// be called with w.mu NOT held: framesQ.Send can block on a full queue, and
// a hardware decode callback blocked here must not stall arm() on w.mu.
func (w *Worker) pushFrame(f *pipeline.Frame) {
	ctx := w.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if err := w.framesQ.Send(ctx, f); err != nil && f != nil {
		f.Release()
	}
}

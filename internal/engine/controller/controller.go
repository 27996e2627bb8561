// Package controller implements the async controller (spec §4.7): it owns
// the reader/decoder/filter worker trio for one media session, the sink
// queue, and the start/stop/seek/pop_frame lifecycle the client get-frame
// adapter drives.
package controller

import (
	"context"
	"log/slog"
	"sync"

	"go.uber.org/multierr"

	"github.com/alxayo/go-mediadecode/internal/engine/decoder"
	"github.com/alxayo/go-mediadecode/internal/engine/decoderworker"
	"github.com/alxayo/go-mediadecode/internal/engine/filter"
	"github.com/alxayo/go-mediadecode/internal/engine/filterworker"
	"github.com/alxayo/go-mediadecode/internal/engine/hooks"
	"github.com/alxayo/go-mediadecode/internal/engine/metrics"
	"github.com/alxayo/go-mediadecode/internal/engine/pipeline"
	"github.com/alxayo/go-mediadecode/internal/engine/queue"
	"github.com/alxayo/go-mediadecode/internal/engine/reader"
	"github.com/alxayo/go-mediadecode/internal/engine/source"
	engerrors "github.com/alxayo/go-mediadecode/internal/errors"
	"github.com/alxayo/go-mediadecode/internal/logger"
)

// Config sizes the inter-stage queues. Zero values fall back to sane
// defaults.
type Config struct {
	PacketQueueCapacity int
	FramesQueueCapacity int
	SinkQueueCapacity   int // spec §4.7 suggests a small capacity, e.g. 3

	// Metrics, if non-nil, receives queue-depth and decode-outcome
	// observations. A nil Metrics disables instrumentation entirely.
	Metrics *metrics.Registry

	// Hooks, if non-nil, receives session lifecycle events (decode errors,
	// keyframes, seek completion, segment EOF) tagged with MediaID. A nil
	// Hooks disables event firing entirely.
	Hooks   *hooks.HookManager
	MediaID string
}

func (c Config) withDefaults() Config {
	if c.PacketQueueCapacity <= 0 {
		c.PacketQueueCapacity = 16
	}
	if c.FramesQueueCapacity <= 0 {
		c.FramesQueueCapacity = 8
	}
	if c.SinkQueueCapacity <= 0 {
		c.SinkQueueCapacity = 3
	}
	return c
}

// Controller drives exactly one media session end to end.
type Controller struct {
	src     source.Source
	decCap  decoder.Capability
	filtCap filter.Capability
	decOpts decoder.Options
	hint    filter.FormatHint
	cfg     Config
	log     *slog.Logger

	mu          sync.Mutex
	running     bool
	pendingSeek *int64 // a seek() call recorded before start()

	packetQ *queue.Queue[pipeline.Message]
	framesQ *queue.Queue[*pipeline.Frame]
	sinkQ   *queue.Queue[*pipeline.Frame]

	reader *reader.Worker
	decW   *decoderworker.Worker
	filtW  *filterworker.Worker

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a controller for one media session. src, decCap, and filtCap
// are owned by the controller from this point on.
func New(src source.Source, decCap decoder.Capability, decOpts decoder.Options, filtCap filter.Capability, hint filter.FormatHint, cfg Config) *Controller {
	return &Controller{
		src:     src,
		decCap:  decCap,
		filtCap: filtCap,
		decOpts: decOpts,
		hint:    hint,
		cfg:     cfg.withDefaults(),
		log:     logger.WithWorker(logger.Logger(), "controller"),
	}
}

// Start allocates fresh queues and workers and spawns the reader/decoder/
// filter goroutines. skipUs (canonical microseconds) arms an initial seek,
// unless a Seek call already recorded one while stopped, in which case that
// takes precedence. Start is idempotent: calling it while already running
// is a no-op (spec §8 scenario 3: "start; start").
func (c *Controller) Start(ctx context.Context, skipUs int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}

	if c.pendingSeek != nil {
		skipUs = *c.pendingSeek
		c.pendingSeek = nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.packetQ = queue.New[pipeline.Message](c.cfg.PacketQueueCapacity, releasePacketMessage)
	c.framesQ = queue.New[*pipeline.Frame](c.cfg.FramesQueueCapacity, releaseFrame)
	c.sinkQ = queue.New[*pipeline.Frame](c.cfg.SinkQueueCapacity, releaseFrame)

	c.reader = reader.New(c.src, c.packetQ)
	c.decW = decoderworker.New(c.packetQ, c.framesQ, c.decCap)
	c.decW.SetMetrics(c.cfg.Metrics)
	c.decW.SetHooks(c.cfg.Hooks, c.cfg.MediaID)
	if err := c.decW.Init(runCtx, c.decOpts); err != nil {
		cancel()
		return err
	}
	c.filtW = filterworker.New(c.framesQ, c.sinkQ, c.filtCap)
	if err := c.filtW.Init(c.hint); err != nil {
		cancel()
		return err
	}

	if skipUs > 0 {
		c.reader.RequestSeek(skipUs)
	}

	c.wg.Add(3)
	go func() { defer c.wg.Done(); _ = c.reader.Run(runCtx) }()
	go func() { defer c.wg.Done(); _ = c.decW.Run(runCtx) }()
	go func() { defer c.wg.Done(); _ = c.filtW.Run(runCtx) }()

	c.running = true
	return nil
}

// Stop cancels every worker, waits for all three to exit, then unblocks any
// caller waiting in PopFrame (spec §4.7). Idempotent.
func (c *Controller) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	cancel := c.cancel
	sinkQ := c.sinkQ
	c.mu.Unlock()

	cancel()
	c.wg.Wait()

	sinkQ.SetErrSend(engerrors.EOF)
	sinkQ.Flush()

	c.mu.Lock()
	c.running = false
	c.mu.Unlock()
	return nil
}

// Seek arms a seek to targetUs. While running it is forwarded to the
// reader immediately; while stopped it is recorded and applied as the
// initial skip on the next Start (spec §8 scenario: seeks issued before
// the first start).
func (c *Controller) Seek(targetUs int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		c.reader.RequestSeek(targetUs)
		return
	}
	t := targetUs
	c.pendingSeek = &t
}

// PopFrame blocks for the next sink frame. It returns (nil, nil) on normal
// termination (EOF, stop) rather than surfacing the sentinel error, since
// "null" is itself meaningful at this layer (spec §4.7); ctx cancellation
// is still reported.
func (c *Controller) PopFrame(ctx context.Context) (*pipeline.Frame, error) {
	c.mu.Lock()
	sinkQ := c.sinkQ
	running := c.running
	c.mu.Unlock()
	if !running || sinkQ == nil {
		return nil, nil
	}

	frame, err := sinkQ.Recv(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.mu.Lock()
		hookMgr, mediaID := c.cfg.Hooks, c.cfg.MediaID
		c.mu.Unlock()
		hookMgr.TriggerEvent(ctx, *hooks.NewEvent(hooks.EventSegmentEOF).WithMediaID(mediaID))
		return nil, nil
	}

	c.mu.Lock()
	packetQ, framesQ := c.packetQ, c.framesQ
	m := c.cfg.Metrics
	c.mu.Unlock()
	m.ObserveQueues(packetQ, framesQ, sinkQ)

	return frame, nil
}

// Close tears down the underlying capabilities and source. Call once the
// controller itself is no longer needed (spec's free(ctx)).
func (c *Controller) Close() error {
	_ = c.Stop()
	var errs error
	errs = multierr.Append(errs, c.decCap.Uninit())
	errs = multierr.Append(errs, c.src.Close())
	return errs
}

func releasePacketMessage(msg pipeline.Message) {
	// Packets carry no release hook of their own (spec §3: a plain byte
	// buffer); nothing beyond GC is required when one is dropped
	// mid-flush.
	_ = msg
}

func releaseFrame(f *pipeline.Frame) {
	f.Release()
}

// Package session implements the client-facing get-frame adapter (spec
// §4.8) on top of the controller package: create_context/add_media manage
// one or more MediaContexts, set_option configures one before its first
// start, and start/stop/seek/get_frame/release_frame/free round out the
// client API surface (spec §6).
package session

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/alxayo/go-mediadecode/internal/engine/controller"
	"github.com/alxayo/go-mediadecode/internal/engine/decoder"
	"github.com/alxayo/go-mediadecode/internal/engine/decoder/swdecoder"
	"github.com/alxayo/go-mediadecode/internal/engine/filter"
	"github.com/alxayo/go-mediadecode/internal/engine/filter/execfilter"
	"github.com/alxayo/go-mediadecode/internal/engine/filter/scalefilter"
	"github.com/alxayo/go-mediadecode/internal/engine/filterconfig"
	"github.com/alxayo/go-mediadecode/internal/engine/hooks"
	"github.com/alxayo/go-mediadecode/internal/engine/metrics"
	"github.com/alxayo/go-mediadecode/internal/engine/pipeline"
	"github.com/alxayo/go-mediadecode/internal/engine/source"
	"github.com/alxayo/go-mediadecode/internal/engine/source/azuresource"
	"github.com/alxayo/go-mediadecode/internal/engine/source/filesource"
	engerrors "github.com/alxayo/go-mediadecode/internal/errors"
	"github.com/alxayo/go-mediadecode/internal/logger"
)

// SourceOpener resolves a filename (or URI) into a concrete source.Source.
// Context.AddMedia uses DefaultSourceOpener unless overridden.
type SourceOpener func(ctx context.Context, filename string) (source.Source, error)

// DefaultSourceOpener treats an "azure://account.blob.core.windows.net/
// container/blob" URI as a azuresource.Source and everything else as a
// local filesource.Source path.
func DefaultSourceOpener(ctx context.Context, filename string) (source.Source, error) {
	if !strings.HasPrefix(filename, "azure://") {
		return filesource.Open(filename)
	}
	u, err := url.Parse(filename)
	if err != nil {
		return nil, engerrors.NewInvalidDataError("session.open_source", err)
	}
	accountURL := "https://" + u.Host
	parts := strings.SplitN(strings.TrimPrefix(u.Path, "/"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, engerrors.NewInvalidDataError("session.open_source", fmt.Errorf("malformed azure URI %q: want azure://account.blob.core.windows.net/container/blob", filename))
	}
	return azuresource.Open(ctx, accountURL, parts[0], parts[1])
}

// Context groups the media attached via AddMedia, mirroring create_context
// in the client API surface (spec §6). A Context is usually one logical
// presentation (e.g. one file), though nothing prevents attaching several
// media to the same Context for a multi-track scenario.
type Context struct {
	id       string
	filename string
	opener   SourceOpener
	log      *slog.Logger
	hookMgr  *hooks.HookManager

	mu    sync.Mutex
	media map[string]*MediaContext
}

// CreateContext implements create_context(filename).
func CreateContext(filename string) *Context {
	return &Context{
		id:       uuid.NewString(),
		filename: filename,
		opener:   DefaultSourceOpener,
		log:      logger.WithWorker(logger.Logger(), "session"),
		hookMgr:  hooks.NewHookManager(hooks.DefaultHookConfig(), logger.WithWorker(logger.Logger(), "hooks")),
		media:    make(map[string]*MediaContext),
	}
}

// ID returns the context's generated identifier.
func (c *Context) ID() string { return c.id }

// Hooks returns this context's hook manager, so a caller can enable stdio
// output or register custom Hook implementations for the session lifecycle
// events every attached MediaContext fires (session open/close, seek,
// segment EOF, decode error, keyframe seen). Registering nothing leaves
// firing a no-op.
func (c *Context) Hooks() *hooks.HookManager { return c.hookMgr }

// SetSourceOpener overrides how AddMedia resolves a filename into a Source.
// Must be called before the first AddMedia.
func (c *Context) SetSourceOpener(opener SourceOpener) { c.opener = opener }

// AddMedia implements add_media(ctx, filename) → media.
func (c *Context) AddMedia(ctx context.Context, filename string) (*MediaContext, error) {
	src, err := c.opener(ctx, filename)
	if err != nil {
		return nil, err
	}
	id := uuid.NewString()
	m := &MediaContext{
		id:       id,
		filename: filename,
		src:      src,
		opt:      DefaultOption(),
		log:      logger.WithWorker(logger.Logger(), "session"),
		metrics:  metrics.NewRegistry(id),
		hookMgr:  c.hookMgr,
	}
	c.mu.Lock()
	c.media[m.id] = m
	c.mu.Unlock()
	c.hookMgr.TriggerEvent(ctx, *hooks.NewEvent(hooks.EventSessionOpen).WithMediaID(id).WithFilename(filename))
	return m, nil
}

// Free implements free(ctx): stops and releases every attached media.
func (c *Context) Free() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var errs error
	for _, m := range c.media {
		errs = multierr.Append(errs, m.Close())
	}
	c.media = make(map[string]*MediaContext)
	return errs
}

// MediaContext is the `media` handle returned by AddMedia: one source
// driven by one controller.Controller, plus the get-frame adapter state
// (spec §4.8) layered on top of it.
type MediaContext struct {
	id       string
	filename string
	src      source.Source
	log      *slog.Logger

	mu            sync.Mutex
	opt           Option
	ctrl          *controller.Controller
	metrics       *metrics.Registry
	hookMgr       *hooks.HookManager
	filterWatcher *filterconfig.Watcher

	lastTS    *int64          // L: canonical microseconds of the last delivered frame
	floor     *pipeline.Frame // the last frame delivered (ts <= the most recent target), cached for re-delivery and the EOF fallback
	lookahead *pipeline.Frame // a frame already pulled from the sink that overshot the most recent target, buffered for the next call
}

// ID returns the media's generated identifier.
func (m *MediaContext) ID() string { return m.id }

// Metrics returns this media's instrument registry. The caller is
// responsible for attaching it to a *prometheus.Registry (this module
// exports no HTTP server of its own).
func (m *MediaContext) Metrics() *metrics.Registry { return m.metrics }

// SetOption implements set_option(media, name, value). Must be called
// before Start; once the underlying controller is built the option set is
// frozen for the lifetime of this MediaContext.
func (m *MediaContext) SetOption(name string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ctrl != nil {
		return engerrors.NewUnsupportedError("set_option", fmt.Errorf("option %q set after start; options are frozen once a session starts", name))
	}
	return m.opt.set(name, value)
}

// ensureControllerLocked lazily builds the controller the first time it's
// needed, from whatever Option fields have been set so far. Called with
// m.mu held.
func (m *MediaContext) ensureControllerLocked() *controller.Controller {
	if m.ctrl != nil {
		return m.ctrl
	}

	decOpts := decoder.Options{
		MaxPixels:      m.opt.MaxPixels,
		Autorotate:     m.opt.Autorotate,
		ExportMVs:      m.opt.ExportMVs,
		UsePktDuration: m.opt.UsePktDuration,
	}
	// vt_pix_fmt, sw_pix_fmt, avselect, max_nb_frames, max_nb_packets, and
	// pkt_skip_mod have no corresponding field on decoder.Options (that
	// boundary doesn't model per-format pixel layout selection or
	// frame/packet count caps); they're retained on Option for callers
	// that introspect it, but this engine's swdecoder stand-in doesn't act
	// on them.
	var filtCap filter.Capability
	switch {
	case strings.HasPrefix(m.opt.Filters, "watch:"):
		path := strings.TrimPrefix(m.opt.Filters, "watch:")
		ef := execfilter.New(execfilter.Config{}) // command/args set by the first reload below
		watcher, err := filterconfig.New(path, ef.SetCommandArgs)
		if err != nil {
			m.log.Warn("failed to start filter config watcher, falling back to scale filter", "path", path, "err", err)
			filtCap = scalefilter.New(scalefilter.Config{
				MaxPixels: m.opt.MaxPixels,
				MaxPTS:    usFromSeconds(m.opt.TrimDurationSeconds),
			})
		} else {
			m.filterWatcher = watcher
			filtCap = ef
		}
	case m.opt.Filters != "":
		fields := strings.Fields(m.opt.Filters)
		cfg := execfilter.Config{Command: fields[0]}
		if len(fields) > 1 {
			cfg.Args = fields[1:]
		}
		filtCap = execfilter.New(cfg)
	default:
		filtCap = scalefilter.New(scalefilter.Config{
			MaxPixels: m.opt.MaxPixels,
			MaxPTS:    usFromSeconds(m.opt.TrimDurationSeconds),
		})
	}

	m.ctrl = controller.New(m.src, swdecoder.New(swdecoder.Config{}), decOpts, filtCap, filter.FormatHint{}, controller.Config{
		Metrics: m.metrics,
		Hooks:   m.hookMgr,
		MediaID: m.id,
	})
	return m.ctrl
}

// Start implements start(media): starts the pipeline, arming the configured
// skip option as the initial seek on first start.
func (m *MediaContext) Start(ctx context.Context) error {
	m.mu.Lock()
	ctrl := m.ensureControllerLocked()
	skipUs := usFromSeconds(m.opt.SkipSeconds)
	m.mu.Unlock()
	return ctrl.Start(ctx, skipUs)
}

// Stop implements stop(media). Re-entry re-seeks (spec §8 scenario 4):
// clearing the cached get-frame state forces the next GetFrame to treat L
// as unset and request a fresh seek.
func (m *MediaContext) Stop() error {
	m.mu.Lock()
	ctrl := m.ctrl
	m.resetAdapterStateLocked()
	m.mu.Unlock()
	if ctrl == nil {
		return nil
	}
	return ctrl.Stop()
}

// Seek implements seek(media, seconds): an explicit client-requested seek,
// distinct from the implicit one GetFrame may also issue.
func (m *MediaContext) Seek(seconds float64) {
	m.mu.Lock()
	ctrl := m.ensureControllerLocked()
	m.resetAdapterStateLocked()
	m.mu.Unlock()
	targetUs := usFromSeconds(seconds)
	m.hookMgr.TriggerEvent(context.Background(), *hooks.NewEvent(hooks.EventSeekRequested).WithMediaID(m.id).WithData("ts_us", targetUs))
	ctrl.Seek(targetUs)
}

// resetAdapterStateLocked discards the get-frame adapter's lookahead/floor
// buffers and L, forcing the next GetFrame to treat position as unknown and
// request a fresh seek. Called with m.mu held.
func (m *MediaContext) resetAdapterStateLocked() {
	if m.lookahead != nil {
		m.lookahead.Release()
		m.lookahead = nil
	}
	m.floor = nil
	m.lastTS = nil
}

// GetFrame implements get_frame(media, seconds) → frame | null (spec §4.8).
//
// Frames arrive from the sink in ascending ts order but not at the exact
// times a client asks for; a floor/lookahead pair tracks, across calls, the
// last frame with ts <= the most recent target (floor, re-delivered as-is
// for a ts that hasn't advanced past it - spec §8 scenario 1) and the next
// frame already pulled that overshot it (lookahead, consumed without a
// repull once a later target reaches it).
func (m *MediaContext) GetFrame(ctx context.Context, seconds float64) (*pipeline.Frame, error) {
	target := usFromSeconds(seconds)

	m.mu.Lock()
	ctrl := m.ensureControllerLocked()
	trigger := usFromSeconds(m.opt.DistTimeSeekTriggerSeconds)
	needSeek := m.lastTS == nil || target < *m.lastTS || (trigger > 0 && target-*m.lastTS > trigger)
	if needSeek {
		m.resetAdapterStateLocked()
	}
	m.mu.Unlock()

	if needSeek {
		m.hookMgr.TriggerEvent(ctx, *hooks.NewEvent(hooks.EventSeekRequested).WithMediaID(m.id).WithData("ts_us", target))
		ctrl.Seek(target)
	}

	for {
		m.mu.Lock()
		frame := m.lookahead
		m.lookahead = nil
		m.mu.Unlock()

		var err error
		if frame == nil {
			frame, err = ctrl.PopFrame(ctx)
			if err != nil {
				return nil, err
			}
		}

		if frame == nil {
			// EOF before a qualifying frame arrived: fall back to the last
			// one successfully delivered, if any (spec §4.8).
			m.mu.Lock()
			result := m.floor
			if result != nil {
				t := result.PTS
				m.lastTS = &t
			}
			m.mu.Unlock()
			return result, nil
		}

		if frame.PTS > target {
			// Overshoot: buffer it for a future call and deliver whatever
			// floor we already have (ts <= target).
			m.mu.Lock()
			m.lookahead = frame
			result := m.floor
			if result != nil {
				t := result.PTS
				m.lastTS = &t
			}
			m.mu.Unlock()
			return result, nil
		}

		m.mu.Lock()
		m.floor = frame
		t := frame.PTS
		m.lastTS = &t
		m.mu.Unlock()
		// This frame qualifies; keep pulling in case a later one still
		// satisfies ts <= target, so floor always ends up the tightest fit.
	}
}

// ReleaseFrame implements release_frame(frame).
func ReleaseFrame(frame *pipeline.Frame) {
	frame.Release()
}

// Close tears down this media's controller, filter config watcher (if any),
// and source. Called by Context.Free for every attached media.
func (m *MediaContext) Close() error {
	m.mu.Lock()
	ctrl := m.ctrl
	watcher := m.filterWatcher
	m.mu.Unlock()

	defer m.hookMgr.TriggerEvent(context.Background(), *hooks.NewEvent(hooks.EventSessionClose).WithMediaID(m.id).WithFilename(m.filename))

	if watcher != nil {
		_ = watcher.Close()
	}
	if ctrl == nil {
		return m.src.Close()
	}
	return ctrl.Close()
}

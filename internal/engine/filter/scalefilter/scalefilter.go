// Package scalefilter implements an in-process filter.Capability: a trim
// (spec's client option trim_duration) plus an additional max_pixels
// downscale applied after decode, for callers that want a smaller output
// than the decoder itself produced. Real pixel resampling is delegated to
// the decoder's ScaleToFit math - this filter only recomputes target
// dimensions and updates frame metadata, since actual image libraries are
// out of scope (spec §1 keeps the filter graph engine itself external).
package scalefilter

import (
	"context"
	"log/slog"

	"github.com/alxayo/go-mediadecode/internal/engine/decoder"
	"github.com/alxayo/go-mediadecode/internal/engine/filter"
	"github.com/alxayo/go-mediadecode/internal/engine/pipeline"
	"github.com/alxayo/go-mediadecode/internal/engine/queue"
	engerrors "github.com/alxayo/go-mediadecode/internal/errors"
	"github.com/alxayo/go-mediadecode/internal/logger"
)

// Config configures the filter at construction.
type Config struct {
	// MaxPTS, if > 0, is the trim_duration boundary in canonical
	// microseconds: frames at or beyond it end the segment early.
	MaxPTS int64
	// MaxPixels, if > 0, caps output width*height beyond whatever the
	// decoder already produced.
	MaxPixels int
}

// Filter is a Capability that trims by timestamp and optionally re-caps
// output dimensions.
type Filter struct {
	cfg     Config
	inQ     *queue.Queue[*pipeline.Frame]
	outQ    *queue.Queue[*pipeline.Frame]
	hint    filter.FormatHint
	log     *slog.Logger
	scaledW int
	scaledH int
}

// New creates a scale/trim filter.
func New(cfg Config) *Filter {
	return &Filter{cfg: cfg, log: logger.WithWorker(logger.Logger(), "filter")}
}

func (f *Filter) Init(inQ, outQ *queue.Queue[*pipeline.Frame], hint filter.FormatHint) error {
	f.inQ = inQ
	f.outQ = outQ
	f.hint = hint
	if f.cfg.MaxPixels > 0 {
		f.scaledW, f.scaledH = decoder.ScaleToFit(hint.Width, hint.Height, f.cfg.MaxPixels)
	} else {
		f.scaledW, f.scaledH = hint.Width, hint.Height
	}
	return nil
}

// Run pulls frames from inQ, applies the trim/scale transform, and pushes
// to outQ until inQ's send-side latch fires, forwarding a final nil
// sentinel once it does (spec §91).
func (f *Filter) Run(ctx context.Context) error {
	for {
		frame, err := f.inQ.Recv(ctx)
		if err != nil {
			_ = f.outQ.Send(ctx, nil)
			f.outQ.SetErrSend(err)
			return err
		}
		if frame == nil {
			_ = f.outQ.Send(ctx, nil)
			continue
		}

		if f.cfg.MaxPTS > 0 && frame.PTS >= f.cfg.MaxPTS {
			frame.Release()
			_ = f.outQ.Send(ctx, nil)
			f.outQ.SetErrSend(engerrors.EOF)
			return engerrors.EOF
		}

		if f.scaledW > 0 && f.scaledH > 0 {
			frame.Width, frame.Height = f.scaledW, f.scaledH
		}

		if sendErr := f.outQ.Send(ctx, frame); sendErr != nil {
			frame.Release()
			return sendErr
		}
	}
}

func (f *Filter) Uninit() error { return nil }

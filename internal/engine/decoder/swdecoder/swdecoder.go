// Package swdecoder implements a synchronous, in-decode-order decoder
// capability (spec §6). It stands in for a real software codec: every
// packet maps to exactly one frame, delivered in the same order it was
// submitted, so no reorder buffer is needed on this path (spec §4.3 only
// applies to the hardware adapter).
package swdecoder

import (
	"context"
	"sync"

	"github.com/alxayo/go-mediadecode/internal/bufpool"
	"github.com/alxayo/go-mediadecode/internal/engine/decoder"
	"github.com/alxayo/go-mediadecode/internal/engine/pipeline"
	engerrors "github.com/alxayo/go-mediadecode/internal/errors"
)

// Config carries the source dimensions/format the decoder was told about at
// stream open (normally sniffed from the container; here supplied
// directly since demuxing is out of scope).
type Config struct {
	SrcWidth, SrcHeight int
	Format              pipeline.PixelFormat
}

// Decoder is a software Capability implementation. Safe for use by exactly
// one decoder worker at a time, matching the synchronous push/flush/uninit
// contract real software codecs expose.
type Decoder struct {
	mu     sync.Mutex
	cfg    Config
	opts   decoder.Options
	emit   decoder.EmitFunc
	outW   int
	outH   int
	closed bool
}

// New creates a software decoder for the given source configuration.
func New(cfg Config) *Decoder {
	return &Decoder{cfg: cfg}
}

func (d *Decoder) Init(_ context.Context, opts decoder.Options, emit decoder.EmitFunc) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opts = opts
	d.emit = emit
	d.outW, d.outH = decoder.ScaleToFit(d.cfg.SrcWidth, d.cfg.SrcHeight, opts.MaxPixels)
	return nil
}

// PushPacket decodes pkt synchronously. A nil pkt is a drain request: since
// this decoder has no internal buffering, the drain completes immediately.
func (d *Decoder) PushPacket(pkt *pipeline.Packet) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return engerrors.NewDecoderError("swdecoder.push_packet", nil)
	}
	if pkt == nil {
		d.emit(nil)
		return engerrors.EOF
	}
	if len(pkt.Data) == 0 {
		return engerrors.NewInvalidDataError("swdecoder.push_packet", nil)
	}

	plane := bufpool.Get(len(pkt.Data))
	copy(plane, pkt.Data)

	frame := &pipeline.Frame{
		Planes:   [][]byte{plane},
		Width:    d.outW,
		Height:   d.outH,
		Format:   d.cfg.Format,
		PTS:      d.opts.TimeBase.ToCanonicalMicros(pkt.PTS),
		KeyFrame: pkt.KeyFrame,
	}
	frame.SetReleaseFunc(releasePlanes)
	d.emit(frame)
	return nil
}

// releasePlanes returns a frame's plane buffers to the shared buffer pool.
func releasePlanes(f *pipeline.Frame) {
	for _, p := range f.Planes {
		bufpool.Put(p)
	}
}

// Flush is a no-op: this decoder carries no internal state across packets.
func (d *Decoder) Flush() error { return nil }

func (d *Decoder) Uninit() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

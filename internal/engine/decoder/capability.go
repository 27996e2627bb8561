// Package decoder defines the decoder capability interface (spec §6): the
// external collaborator a decoderworker.Worker drives. Only the interface
// and small concrete implementations live here; real codec integration is
// out of scope (spec §1).
package decoder

import (
	"context"

	"github.com/alxayo/go-mediadecode/internal/engine/pipeline"
)

// EmitFunc is how a Capability hands decoded frames back to the owning
// decoder worker. A nil frame signals end-of-segment for the current
// flush/drain cycle (spec §4.4 step 1).
type EmitFunc func(frame *pipeline.Frame)

// TimeBase describes the source stream's presentation-timestamp units as a
// rational Num/Den seconds-per-tick, used to rescale a Packet's PTS into
// canonical microseconds.
type TimeBase struct {
	Num, Den int64
}

// ToCanonicalMicros rescales a source-time-base PTS into canonical
// microseconds.
func (tb TimeBase) ToCanonicalMicros(pts int64) int64 {
	if tb.Den == 0 {
		return pts
	}
	return pts * tb.Num * 1_000_000 / tb.Den
}

// Options configures a Capability at Init.
type Options struct {
	TimeBase      TimeBase
	MaxPixels     int  // 0 = unconstrained; output frames are scaled to fit (spec §6 max_pixels)
	Autorotate    bool
	ExportMVs     bool
	UsePktDuration bool
}

// Capability is the decoder capability collaborator (spec §6, §4.4): it
// consumes packets (or an empty packet as a flush/drain request) and
// invokes the EmitFunc given at Init for every decoded frame, with a final
// nil-frame emit signalling end-of-segment.
type Capability interface {
	// Init prepares the decoder for a new session. emit is retained and
	// invoked for every subsequently decoded frame.
	Init(ctx context.Context, opts Options, emit EmitFunc) error
	// PushPacket submits pkt for decode. A nil pkt requests a drain: the
	// capability must emit every buffered frame then emit(nil) and return
	// errors.EOF once the drain completes.
	PushPacket(pkt *pipeline.Packet) error
	// Flush performs a synchronous drain without tearing the session down
	// (used by the decoder worker on a seek marker, spec §4.4).
	Flush() error
	// Uninit releases all resources. No further calls are valid afterward.
	Uninit() error
}

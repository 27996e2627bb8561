// Package hwdecoder implements the hardware-decoder adapter state machine
// from spec §4.9: a concrete Capability that illustrates the
// governor/reorder-buffer interaction a real platform decoder (VideoToolbox,
// MediaCodec, VAAPI, ...) would need. Submission and the actual decode
// callback are abstracted behind Submitter so this package carries no
// platform-specific code; spec §1 places the codec implementation itself
// out of scope.
package hwdecoder

import (
	"context"
	"sync"

	"github.com/alxayo/go-mediadecode/internal/engine/decoder"
	"github.com/alxayo/go-mediadecode/internal/engine/governor"
	"github.com/alxayo/go-mediadecode/internal/engine/metrics"
	"github.com/alxayo/go-mediadecode/internal/engine/pipeline"
	"github.com/alxayo/go-mediadecode/internal/engine/reorder"
	engerrors "github.com/alxayo/go-mediadecode/internal/errors"
)

// DecodeCallback is invoked by Submitter, possibly on a pool thread the
// engine does not own, once a submitted packet finishes decoding (or
// fails). handle is an opaque platform buffer; err non-nil means the
// packet failed to decode (spec's InvalidData path) rather than the
// session itself failing.
type DecodeCallback func(ts int64, handle any, err error)

// Submitter is the platform-specific collaborator: submit one packet for
// asynchronous decode, invoking cb exactly once when it completes.
// RequestDrain asks the platform to flush in-flight state; WaitDrain blocks
// until the platform acknowledges the drain request completed (spec notes
// this does not guarantee every callback has fired yet - hwdecoder still
// waits on its own in-flight counter afterward).
type Submitter interface {
	Submit(pkt *pipeline.Packet, cb DecodeCallback) error
	RequestDrain() error
	WaitDrain() error
}

// Options configures the hardware decoder adapter.
type Options struct {
	decoder.Options
	// MaxInFlightPackets bounds concurrently-submitted packets. Spec §4.9
	// documents the original's hardcoded 3 as a platform-specific deadlock
	// workaround; this implementation treats it as configurable per spec's
	// open question. Zero defaults to 3.
	MaxInFlightPackets int
}

// Decoder is the hardware decoder capability adapter.
type Decoder struct {
	mu   sync.Mutex
	cond *sync.Cond

	sub         Submitter
	gov         *governor.Governor
	reorderBuf  *reorder.Buffer
	opts        decoder.Options
	emit        decoder.EmitFunc
	maxInFlight int
	inFlight    int
	closed      bool
	metrics     *metrics.Registry
}

// SetMetrics attaches the metrics registry this decoder's governor
// occupancy is reported through. Safe to call before Init; nil disables
// reporting (every Registry method tolerates a nil receiver).
func (d *Decoder) SetMetrics(m *metrics.Registry) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.metrics = m
}

// New creates a hardware decoder adapter. gov and reorderBuf are owned by
// the caller (typically the decoder worker's session setup) so their
// lifetimes can be shared with other session bookkeeping.
func New(sub Submitter, gov *governor.Governor, reorderBuf *reorder.Buffer, opts Options) *Decoder {
	maxInFlight := opts.MaxInFlightPackets
	if maxInFlight <= 0 {
		maxInFlight = 3
	}
	d := &Decoder{sub: sub, gov: gov, reorderBuf: reorderBuf, maxInFlight: maxInFlight}
	d.cond = sync.NewCond(&d.mu)
	return d
}

func (d *Decoder) Init(_ context.Context, opts decoder.Options, emit decoder.EmitFunc) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opts = opts
	d.emit = emit
	return nil
}

// PushPacket blocks while MaxInFlightPackets submissions are outstanding,
// then submits asynchronously. A nil pkt requests a drain and returns
// errors.EOF once every buffered frame has been forwarded (spec §4.9).
func (d *Decoder) PushPacket(pkt *pipeline.Packet) error {
	if pkt == nil {
		return d.drainAndReportEOF()
	}

	d.mu.Lock()
	for d.inFlight >= d.maxInFlight && !d.closed {
		d.cond.Wait()
	}
	if d.closed {
		d.mu.Unlock()
		return engerrors.NewDecoderError("hwdecoder.push_packet", nil)
	}
	d.inFlight++
	d.mu.Unlock()

	if err := d.sub.Submit(pkt, d.onDecodeCallback); err != nil {
		d.mu.Lock()
		d.inFlight = 0 // per spec §4.9/§7: a failed submit resets in-flight to zero
		d.cond.Broadcast()
		d.mu.Unlock()
		return engerrors.NewExternalError("hwdecoder.push_packet", err)
	}
	return nil
}

// onDecodeCallback is the hardware decode callback (spec §4.3): it may run
// on any thread, including after an apparent flush() has already returned.
// The governor's AdjustRef(+1)/AdjustRef(-1) accounting tolerates a
// callback arriving that late (spec §4.9's open question) because both the
// governor and the reorder buffer are no-op-safe once torn down.
func (d *Decoder) onDecodeCallback(ts int64, handle any, err error) {
	d.mu.Lock()
	if d.inFlight > 0 {
		d.inFlight--
	}
	d.cond.Broadcast()
	d.mu.Unlock()

	if err != nil {
		// A single packet failing to decode is InvalidData, not fatal: the
		// packet is dropped here without logging, and nothing is forwarded
		// to the decoder worker.
		return
	}
	if handle == nil {
		return
	}

	d.gov.AdjustRef(1) // the buffer now exists outside the decoder
	d.reportGovernorOccupancy()
	d.reorderBuf.Add(ts, handle, func(emitTS int64, emitHandle any) {
		d.emit(d.wrapFrame(emitTS, emitHandle))
	})
}

func (d *Decoder) wrapFrame(ts int64, handle any) *pipeline.Frame {
	f := &pipeline.Frame{PTS: ts, HWHandle: handle}
	gov := d.gov
	f.SetReleaseFunc(func(*pipeline.Frame) {
		gov.AdjustRef(-1)
		d.reportGovernorOccupancy()
	})
	return f
}

// reportGovernorOccupancy samples the governor's refcount/refmax pair into
// the attached metrics registry, if any.
func (d *Decoder) reportGovernorOccupancy() {
	d.mu.Lock()
	m := d.metrics
	d.mu.Unlock()
	refcount, refmax := d.gov.Snapshot()
	m.ObserveGovernor(refcount, refmax)
}

// drainAndReportEOF performs the full flush() sequence (spec §4.9) and
// reports EOF so decoderworker's Drain state (spec §4.4) knows this
// capability has nothing further to give for the current segment.
func (d *Decoder) drainAndReportEOF() error {
	if err := d.Flush(); err != nil {
		return err
	}
	return engerrors.EOF
}

// Flush requests a platform drain, waits for both the platform's
// acknowledgement and every in-flight callback to land, then emits every
// reordered frame in ascending ts order followed by a final nil (spec
// §4.9). Used directly by the decoder worker on a seek marker, and
// internally by PushPacket(nil) on upstream EOF.
func (d *Decoder) Flush() error {
	if err := d.sub.RequestDrain(); err != nil {
		return engerrors.NewExternalError("hwdecoder.flush.request_drain", err)
	}
	if err := d.sub.WaitDrain(); err != nil {
		return engerrors.NewExternalError("hwdecoder.flush.wait_drain", err)
	}

	d.mu.Lock()
	for d.inFlight > 0 {
		d.cond.Wait()
	}
	d.mu.Unlock()

	d.reorderBuf.FlushEmit(func(ts int64, handle any) {
		d.emit(d.wrapFrame(ts, handle))
	})
	d.emit(nil)
	return nil
}

func (d *Decoder) Uninit() error {
	d.mu.Lock()
	d.closed = true
	d.cond.Broadcast()
	d.mu.Unlock()
	d.reorderBuf.FlushDrop(func(int64, any) {
		d.gov.AdjustRef(-1)
		d.reportGovernorOccupancy()
	})
	return nil
}

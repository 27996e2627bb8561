package swdecoder

import (
	"context"
	"testing"

	"github.com/alxayo/go-mediadecode/internal/engine/decoder"
	"github.com/alxayo/go-mediadecode/internal/engine/pipeline"
	engerrors "github.com/alxayo/go-mediadecode/internal/errors"
)

func TestPushPacketEmitsScaledFrame(t *testing.T) {
	d := New(Config{SrcWidth: 1280, SrcHeight: 720, Format: pipeline.PixelFormatYUV420P})
	var got *pipeline.Frame
	err := d.Init(context.Background(), decoder.Options{
		TimeBase:  decoder.TimeBase{Num: 1, Den: 1_000_000},
		MaxPixels: 640 * 360,
	}, func(f *pipeline.Frame) { got = f })
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	pkt := &pipeline.Packet{Data: []byte{1, 2, 3, 4}, PTS: 42, KeyFrame: true}
	if err := d.PushPacket(pkt); err != nil {
		t.Fatalf("PushPacket: %v", err)
	}
	if got == nil {
		t.Fatal("expected a frame to be emitted")
	}
	if got.Width*got.Height > 640*360 {
		t.Fatalf("expected output scaled to fit max_pixels, got %dx%d", got.Width, got.Height)
	}
	if got.PTS != 42 {
		t.Fatalf("expected PTS rescaled to canonical micros, got %d", got.PTS)
	}
	if !got.KeyFrame {
		t.Fatal("expected keyframe flag carried through")
	}
}

func TestPushPacketCopiesIntoPooledPlane(t *testing.T) {
	d := New(Config{SrcWidth: 64, SrcHeight: 64, Format: pipeline.PixelFormatYUV420P})
	var got *pipeline.Frame
	if err := d.Init(context.Background(), decoder.Options{}, func(f *pipeline.Frame) { got = f }); err != nil {
		t.Fatalf("Init: %v", err)
	}

	data := []byte{9, 9, 9}
	pkt := &pipeline.Packet{Data: data}
	if err := d.PushPacket(pkt); err != nil {
		t.Fatalf("PushPacket: %v", err)
	}

	// Mutating the packet's buffer after the push must not affect the
	// emitted frame: PushPacket copies into its own plane buffer rather
	// than aliasing the packet's.
	data[0] = 0
	if got.Planes[0][0] != 9 {
		t.Fatalf("expected frame plane to be an independent copy, got %v", got.Planes[0])
	}

	// Release must not panic and must be safe to call exactly once.
	got.Release()
}

func TestPushPacketNilDrainsAndEmitsEOF(t *testing.T) {
	d := New(Config{})
	var sawNil bool
	if err := d.Init(context.Background(), decoder.Options{}, func(f *pipeline.Frame) { sawNil = f == nil }); err != nil {
		t.Fatalf("Init: %v", err)
	}
	err := d.PushPacket(nil)
	if err != engerrors.EOF {
		t.Fatalf("expected EOF on drain, got %v", err)
	}
	if !sawNil {
		t.Fatal("expected a nil frame emit signalling end-of-segment")
	}
}

func TestPushPacketEmptyDataIsInvalid(t *testing.T) {
	d := New(Config{})
	if err := d.Init(context.Background(), decoder.Options{}, func(*pipeline.Frame) {}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := d.PushPacket(&pipeline.Packet{Data: nil}); err == nil {
		t.Fatal("expected an error for a packet with no data")
	}
}

func TestPushPacketAfterUninitFails(t *testing.T) {
	d := New(Config{})
	if err := d.Init(context.Background(), decoder.Options{}, func(*pipeline.Frame) {}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := d.Uninit(); err != nil {
		t.Fatalf("Uninit: %v", err)
	}
	if err := d.PushPacket(&pipeline.Packet{Data: []byte{1}}); err == nil {
		t.Fatal("expected PushPacket after Uninit to fail")
	}
}

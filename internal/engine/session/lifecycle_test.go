package session

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alxayo/go-mediadecode/internal/engine/hooks"
	"github.com/alxayo/go-mediadecode/internal/engine/pipeline"
	"github.com/alxayo/go-mediadecode/internal/engine/source"
	engerrors "github.com/alxayo/go-mediadecode/internal/errors"
)

// recordingHook captures every event fired, synchronizing with the hook
// manager's async execution pool via a buffered channel.
type recordingHook struct {
	events chan hooks.Event
}

func newRecordingHook() *recordingHook {
	return &recordingHook{events: make(chan hooks.Event, 8)}
}

func (h *recordingHook) Execute(_ context.Context, event hooks.Event) error {
	h.events <- event
	return nil
}

func (h *recordingHook) Type() string { return "recording" }
func (h *recordingHook) ID() string   { return "recording" }

func (h *recordingHook) wait(t *testing.T) hooks.Event {
	t.Helper()
	select {
	case ev := <-h.events:
		return ev
	case <-time.After(time.Second):
		t.Fatalf("expected a hook event to fire")
		return hooks.Event{}
	}
}

// fakeSource serves a fixed run of packets; Seek rewinds to the first
// packet whose PTS is >= the target, standing in for a keyframe-indexed
// source closely enough to exercise the get-frame adapter end to end.
type fakeSource struct {
	mu        sync.Mutex
	packets   []*pipeline.Packet
	idx       int
	closed    bool
	seekCalls []int64
}

func (f *fakeSource) PullPacket(context.Context) (*pipeline.Packet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.idx >= len(f.packets) {
		return nil, engerrors.EOF
	}
	p := f.packets[f.idx]
	f.idx++
	return p, nil
}

func (f *fakeSource) Seek(_ context.Context, targetUs int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seekCalls = append(f.seekCalls, targetUs)
	for i, p := range f.packets {
		if p.PTS >= targetUs {
			f.idx = i
			return nil
		}
	}
	f.idx = len(f.packets)
	return nil
}

func (f *fakeSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func newTestContext(t *testing.T, packets []*pipeline.Packet) (*Context, *fakeSource) {
	t.Helper()
	src := &fakeSource{packets: packets}
	ctx := CreateContext("test.bin")
	ctx.SetSourceOpener(func(context.Context, string) (source.Source, error) { return src, nil })
	return ctx, src
}

func TestSetOptionFrozenAfterStart(t *testing.T) {
	ctx, _ := newTestContext(t, []*pipeline.Packet{{PTS: 0, KeyFrame: true}})
	m, err := ctx.AddMedia(context.Background(), "test.bin")
	if err != nil {
		t.Fatalf("AddMedia: %v", err)
	}
	if err := m.SetOption("max_pixels", 640*360); err != nil {
		t.Fatalf("SetOption before start: %v", err)
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop()

	if err := m.SetOption("max_pixels", 100); err == nil {
		t.Fatalf("expected SetOption after start to be rejected")
	}
}

func TestGetFrameDeliversInOrder(t *testing.T) {
	ctx, _ := newTestContext(t, []*pipeline.Packet{
		{PTS: 0, KeyFrame: true},
		{PTS: 33_333},
		{PTS: 66_667},
	})
	m, err := ctx.AddMedia(context.Background(), "test.bin")
	if err != nil {
		t.Fatalf("AddMedia: %v", err)
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop()

	// get_frame(0.0) -> ts == 0
	f, err := m.GetFrame(context.Background(), 0.0)
	if err != nil {
		t.Fatalf("GetFrame(0.0): %v", err)
	}
	if f == nil || f.PTS != 0 {
		t.Fatalf("expected ts 0, got %v", f)
	}

	// get_frame(1/60) -> still ts == 0 (1/60 < 1/30), served from cache
	// without a repull (spec §8 scenario 1).
	f2, err := m.GetFrame(context.Background(), 1.0/60.0)
	if err != nil {
		t.Fatalf("GetFrame(1/60): %v", err)
	}
	if f2 == nil || f2.PTS != 0 {
		t.Fatalf("expected ts 0 again, got %v", f2)
	}
}

func TestStopThenGetFrameReSeeks(t *testing.T) {
	ctx, src := newTestContext(t, []*pipeline.Packet{
		{PTS: 0, KeyFrame: true},
		{PTS: 1_000_000, KeyFrame: true},
		{PTS: 2_000_000, KeyFrame: true},
	})
	m, err := ctx.AddMedia(context.Background(), "test.bin")
	if err != nil {
		t.Fatalf("AddMedia: %v", err)
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	f, err := m.GetFrame(context.Background(), 0)
	if err != nil || f == nil {
		t.Fatalf("GetFrame: frame=%v err=%v", f, err)
	}

	if err := m.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	defer m.Stop()

	gctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	f2, err := m.GetFrame(gctx, 2.0)
	if err != nil {
		t.Fatalf("GetFrame after restart: %v", err)
	}
	if f2 == nil || f2.PTS != 2_000_000 {
		t.Fatalf("expected the re-seek to land on ts=2_000_000, got %v", f2)
	}

	src.mu.Lock()
	seeks := len(src.seekCalls)
	src.mu.Unlock()
	if seeks == 0 {
		t.Fatalf("expected stop;start;get_frame to have re-seeked the source")
	}
}

func TestFreeClosesAllMedia(t *testing.T) {
	ctx, src := newTestContext(t, []*pipeline.Packet{{PTS: 0, KeyFrame: true}})
	m, err := ctx.AddMedia(context.Background(), "test.bin")
	if err != nil {
		t.Fatalf("AddMedia: %v", err)
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := ctx.Free(); err != nil {
		t.Fatalf("Free: %v", err)
	}
	src.mu.Lock()
	closed := src.closed
	src.mu.Unlock()
	if !closed {
		t.Fatalf("expected Free to close the underlying source")
	}
}

func TestFiltersWatchStartsAndStopsWatcher(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "filter.txt")
	if err := os.WriteFile(path, []byte("/bin/true"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	ctx, _ := newTestContext(t, []*pipeline.Packet{
		{PTS: 0, KeyFrame: true},
		{PTS: 33_333},
	})
	m, err := ctx.AddMedia(context.Background(), "test.bin")
	if err != nil {
		t.Fatalf("AddMedia: %v", err)
	}
	if err := m.SetOption("filters", "watch:"+path); err != nil {
		t.Fatalf("SetOption(filters): %v", err)
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	gctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	f, err := m.GetFrame(gctx, 0)
	if err != nil {
		t.Fatalf("GetFrame: %v", err)
	}
	if f == nil || f.PTS != 0 {
		t.Fatalf("expected ts 0, got %v", f)
	}

	if err := os.WriteFile(path, []byte("/bin/true -x"), 0o644); err != nil {
		t.Fatalf("rewrite filter file: %v", err)
	}

	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestSessionLifecycleFiresHookEvents(t *testing.T) {
	ctx, _ := newTestContext(t, []*pipeline.Packet{{PTS: 0, KeyFrame: true}})

	openHook := newRecordingHook()
	closeHook := newRecordingHook()
	_ = ctx.Hooks().RegisterHook(hooks.EventSessionOpen, openHook)
	_ = ctx.Hooks().RegisterHook(hooks.EventSessionClose, closeHook)

	m, err := ctx.AddMedia(context.Background(), "test.bin")
	if err != nil {
		t.Fatalf("AddMedia: %v", err)
	}
	if ev := openHook.wait(t); ev.Type != hooks.EventSessionOpen || ev.MediaID != m.ID() {
		t.Fatalf("unexpected open event: %+v", ev)
	}

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := m.GetFrame(context.Background(), 0); err != nil {
		t.Fatalf("GetFrame: %v", err)
	}

	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if ev := closeHook.wait(t); ev.Type != hooks.EventSessionClose || ev.MediaID != m.ID() {
		t.Fatalf("unexpected close event: %+v", ev)
	}
}

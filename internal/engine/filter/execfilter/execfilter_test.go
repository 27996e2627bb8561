package execfilter

import (
	"context"
	"testing"
	"time"

	"github.com/alxayo/go-mediadecode/internal/engine/filter"
	"github.com/alxayo/go-mediadecode/internal/engine/pipeline"
	"github.com/alxayo/go-mediadecode/internal/engine/queue"
)

func newWired(t *testing.T, cfg Config) (*Filter, *queue.Queue[*pipeline.Frame], *queue.Queue[*pipeline.Frame]) {
	t.Helper()
	inQ := queue.New[*pipeline.Frame](4, func(f *pipeline.Frame) { f.Release() })
	outQ := queue.New[*pipeline.Frame](4, func(f *pipeline.Frame) { f.Release() })
	f := New(cfg)
	if err := f.Init(inQ, outQ, filter.FormatHint{}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return f, inQ, outQ
}

func TestKeepVerdictForwardsFrame(t *testing.T) {
	f, inQ, outQ := newWired(t, Config{Command: "/bin/sh", Args: []string{"-c", "cat >/dev/null; echo '{\"keep\":true}'"}})
	ctx := context.Background()
	go func() { _ = f.Run(ctx) }()

	_ = inQ.Send(ctx, &pipeline.Frame{PTS: 42})
	recvCtx, rc := context.WithTimeout(ctx, 2*time.Second)
	defer rc()
	out, err := outQ.Recv(recvCtx)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if out == nil || out.PTS != 42 {
		t.Fatalf("expected frame forwarded unchanged, got %v", out)
	}
}

func TestDropVerdictReleasesFrame(t *testing.T) {
	f, inQ, outQ := newWired(t, Config{Command: "/bin/sh", Args: []string{"-c", "cat >/dev/null; echo '{\"keep\":false}'"}})
	ctx := context.Background()
	go func() { _ = f.Run(ctx) }()

	released := make(chan struct{})
	frame := &pipeline.Frame{PTS: 42}
	frame.SetReleaseFunc(func(*pipeline.Frame) { close(released) })
	_ = inQ.Send(ctx, frame)

	select {
	case <-released:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected dropped frame to be released")
	}

	// Switch to a keep verdict and confirm the loop is still alive and
	// forwards a subsequent kept frame.
	f.SetCommandArgs("/bin/sh", []string{"-c", "cat >/dev/null; echo '{\"keep\":true}'"})
	_ = inQ.Send(ctx, &pipeline.Frame{PTS: 99})
	recvCtx, rc := context.WithTimeout(ctx, 2*time.Second)
	defer rc()
	if _, err := outQ.Recv(recvCtx); err != nil {
		t.Fatalf("expected the loop to keep running after a drop: %v", err)
	}
}

func TestTSOverrideAppliesVerdict(t *testing.T) {
	f, inQ, outQ := newWired(t, Config{Command: "/bin/sh", Args: []string{"-c", "cat >/dev/null; echo '{\"keep\":true,\"ts_us\":777}'"}})
	ctx := context.Background()
	go func() { _ = f.Run(ctx) }()

	_ = inQ.Send(ctx, &pipeline.Frame{PTS: 42})
	recvCtx, rc := context.WithTimeout(ctx, 2*time.Second)
	defer rc()
	out, err := outQ.Recv(recvCtx)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if out == nil || out.PTS != 777 {
		t.Fatalf("expected ts_us override applied, got %v", out)
	}
}

func TestSetCommandArgsSwapsActiveCommand(t *testing.T) {
	f, inQ, outQ := newWired(t, Config{Command: "/bin/sh", Args: []string{"-c", "cat >/dev/null; echo '{\"keep\":true,\"ts_us\":1}'"}})
	ctx := context.Background()
	go func() { _ = f.Run(ctx) }()

	_ = inQ.Send(ctx, &pipeline.Frame{PTS: 0})
	recvCtx, rc := context.WithTimeout(ctx, 2*time.Second)
	defer rc()
	first, err := outQ.Recv(recvCtx)
	if err != nil || first == nil || first.PTS != 1 {
		t.Fatalf("expected first command's ts override applied, got %v err=%v", first, err)
	}

	f.SetCommandArgs("/bin/sh", []string{"-c", "cat >/dev/null; echo '{\"keep\":true,\"ts_us\":2}'"})

	_ = inQ.Send(ctx, &pipeline.Frame{PTS: 0})
	recvCtx2, rc2 := context.WithTimeout(ctx, 2*time.Second)
	defer rc2()
	second, err := outQ.Recv(recvCtx2)
	if err != nil || second == nil || second.PTS != 2 {
		t.Fatalf("expected swapped command's ts override applied, got %v err=%v", second, err)
	}
}

func TestSubprocessFailureFallsBackToForwarding(t *testing.T) {
	f, inQ, outQ := newWired(t, Config{Command: "/bin/nonexistent-filter-binary"})
	ctx := context.Background()
	go func() { _ = f.Run(ctx) }()

	_ = inQ.Send(ctx, &pipeline.Frame{PTS: 13})
	recvCtx, rc := context.WithTimeout(ctx, 2*time.Second)
	defer rc()
	out, err := outQ.Recv(recvCtx)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if out == nil || out.PTS != 13 {
		t.Fatalf("expected frame forwarded unchanged when the subprocess fails, got %v", out)
	}
}

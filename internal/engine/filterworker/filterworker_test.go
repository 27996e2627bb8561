package filterworker

import (
	"context"
	"testing"
	"time"

	"github.com/alxayo/go-mediadecode/internal/engine/filter"
	"github.com/alxayo/go-mediadecode/internal/engine/pipeline"
	"github.com/alxayo/go-mediadecode/internal/engine/queue"
	engerrors "github.com/alxayo/go-mediadecode/internal/errors"
)

// passThroughCapability is a minimal filter.Capability for exercising the
// worker's lifecycle wiring in isolation from any real transform.
type passThroughCapability struct {
	inQ, outQ   *queue.Queue[*pipeline.Frame]
	uninitCalls int
}

func (p *passThroughCapability) Init(in, out *queue.Queue[*pipeline.Frame], _ filter.FormatHint) error {
	p.inQ, p.outQ = in, out
	return nil
}

func (p *passThroughCapability) Run(ctx context.Context) error {
	for {
		f, err := p.inQ.Recv(ctx)
		if err != nil {
			_ = p.outQ.Send(ctx, nil)
			p.outQ.SetErrSend(err)
			return err
		}
		if sendErr := p.outQ.Send(ctx, f); sendErr != nil {
			return sendErr
		}
	}
}

func (p *passThroughCapability) Uninit() error {
	p.uninitCalls++
	return nil
}

func TestWorkerForwardsFramesAndUninitsOnExit(t *testing.T) {
	framesQ := queue.New[*pipeline.Frame](4, func(f *pipeline.Frame) { f.Release() })
	sinkQ := queue.New[*pipeline.Frame](4, func(f *pipeline.Frame) { f.Release() })
	cap := &passThroughCapability{}
	w := New(framesQ, sinkQ, cap)
	if err := w.Init(filter.FormatHint{Width: 100, Height: 100}); err != nil {
		t.Fatalf("Init: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()

	_ = framesQ.Send(context.Background(), &pipeline.Frame{PTS: 7})
	recvCtx, rc := context.WithTimeout(context.Background(), time.Second)
	defer rc()
	got, err := sinkQ.Recv(recvCtx)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if got == nil || got.PTS != 7 {
		t.Fatalf("expected forwarded frame, got %v", got)
	}

	framesQ.SetErrSend(engerrors.EOF)
	select {
	case err := <-done:
		if err != engerrors.EOF {
			t.Fatalf("expected EOF, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Run did not terminate")
	}
	if cap.uninitCalls != 1 {
		t.Fatalf("expected Uninit called exactly once, got %d", cap.uninitCalls)
	}
}

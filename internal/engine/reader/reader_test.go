package reader

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alxayo/go-mediadecode/internal/engine/pipeline"
	"github.com/alxayo/go-mediadecode/internal/engine/queue"
	"github.com/alxayo/go-mediadecode/internal/engine/source"
	engerrors "github.com/alxayo/go-mediadecode/internal/errors"
)

type fakeSource struct {
	mu        sync.Mutex
	packets   []*pipeline.Packet
	idx       int
	seekCalls []int64
	agains    int
	// idleAtEnd makes an exhausted source report ErrAgain instead of EOF,
	// like a live source with nothing ready, so the reader keeps running.
	idleAtEnd bool
}

func (f *fakeSource) PullPacket(context.Context) (*pipeline.Packet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.agains > 0 {
		f.agains--
		return nil, source.ErrAgain
	}
	if f.idx >= len(f.packets) {
		if f.idleAtEnd {
			return nil, source.ErrAgain
		}
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
	// Simulate landing back at the start, as a keyframe seek would.
	f.idx = 0
	return nil
}

func (f *fakeSource) Close() error { return nil }

func TestRunForwardsPacketsInOrder(t *testing.T) {
	src := &fakeSource{packets: []*pipeline.Packet{{PTS: 0}, {PTS: 1}, {PTS: 2}}}
	packetQ := queue.New[pipeline.Message](8, nil)
	w := New(src, packetQ)

	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()

	for i := int64(0); i < 3; i++ {
		recvCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		msg, err := packetQ.Recv(recvCtx)
		cancel()
		if err != nil {
			t.Fatalf("Recv: %v", err)
		}
		if msg.Kind != pipeline.MessagePacket || msg.Pkt.PTS != i {
			t.Fatalf("expected packet %d, got %+v", i, msg)
		}
	}

	select {
	case err := <-done:
		if err != engerrors.EOF {
			t.Fatalf("expected EOF, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Run did not terminate on source EOF")
	}
	if packetQ.ErrSend() != engerrors.EOF {
		t.Fatalf("expected packet queue send-side latch set to EOF")
	}
}

func TestRequestSeekPushesSeekMessageBeforeSourceSeek(t *testing.T) {
	// The source idles instead of reporting EOF, so the reader is still
	// running when the seek is requested.
	src := &fakeSource{packets: []*pipeline.Packet{{PTS: 0}}, idleAtEnd: true}
	packetQ := queue.New[pipeline.Message](8, nil)
	w := New(src, packetQ)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	recvCtx1, c1 := context.WithTimeout(context.Background(), time.Second)
	if _, err := packetQ.Recv(recvCtx1); err != nil {
		t.Fatalf("Recv initial packet: %v", err)
	}
	c1()

	w.RequestSeek(5_000_000)

	recvCtx2, c2 := context.WithTimeout(context.Background(), time.Second)
	defer c2()
	msg, err := packetQ.Recv(recvCtx2)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if msg.Kind != pipeline.MessageSeek || msg.SeekTarget != 5_000_000 {
		t.Fatalf("expected seek message for 5_000_000, got %+v", msg)
	}

	// The source seek runs after the seek message is queued, and the next
	// packet is pulled only after it: wait for that packet before checking.
	recvCtx3, c3 := context.WithTimeout(context.Background(), time.Second)
	defer c3()
	if _, err := packetQ.Recv(recvCtx3); err != nil {
		t.Fatalf("Recv post-seek packet: %v", err)
	}

	src.mu.Lock()
	seeked := len(src.seekCalls) == 1 && src.seekCalls[0] == 5_000_000
	src.mu.Unlock()
	if !seeked {
		t.Fatalf("expected the source to observe the seek after the queue message")
	}
}

func TestAgainRetriesWithoutForwardingAPacket(t *testing.T) {
	src := &fakeSource{packets: []*pipeline.Packet{{PTS: 0}}, agains: 2}
	packetQ := queue.New[pipeline.Message](8, nil)
	w := New(src, packetQ)

	go func() { _ = w.Run(context.Background()) }()

	recvCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, err := packetQ.Recv(recvCtx)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if msg.Kind != pipeline.MessagePacket || msg.Pkt.PTS != 0 {
		t.Fatalf("expected the first real packet after retries, got %+v", msg)
	}
}

// Package reorder implements the hardware-decode-callback reorder buffer
// from spec §4.3: a small ascending-by-ts ordered set of (ts, handle) pairs
// that converts a hardware decoder's decode-order callback delivery into
// presentation order, with bounded lookahead.
//
// The ordered set is backed by a google/btree.BTreeG instead of a hand
// rolled linked list: insertion order ties are broken by a monotonic
// sequence number so same-timestamp frames (rare, but not forbidden by any
// codec) keep FIFO order.
package reorder

import (
	"sync"

	"github.com/google/btree"

	"github.com/alxayo/go-mediadecode/internal/engine/governor"
)

// EmitFunc is invoked once per frame, in ascending ts order, as it becomes
// safe to hand downstream.
type EmitFunc func(ts int64, handle any)

// DropFunc is invoked once per frame instead of EmitFunc when the buffer is
// being torn down without forwarding (e.g. an error abort).
type DropFunc func(ts int64, handle any)

const defaultDegree = 4 // buffer is bounded small (<16 typical); a shallow tree is plenty

type item struct {
	ts  int64
	seq uint64
	h   any
}

func less(a, b item) bool {
	if a.ts != b.ts {
		return a.ts < b.ts
	}
	return a.seq < b.seq
}

// Buffer is the reorder staging area for one decode session. It is owned by
// the decoder-callback thread family; the decoder worker proper never
// touches it directly (spec §5).
type Buffer struct {
	mu       sync.Mutex
	tree     *btree.BTreeG[item]
	nextSeq  uint64
	governor *governor.Governor
}

// New creates an empty reorder buffer that reports its occupancy to gov via
// AdjustMax: every resident frame counts as +1 against the governor's cap,
// since it is a hardware buffer alive outside the decoder (spec §4.2-§4.3).
func New(gov *governor.Governor) *Buffer {
	return &Buffer{
		tree:     btree.NewG(defaultDegree, less),
		governor: gov,
	}
}

// Add inserts (ts, handle), emitting via emit every earlier-arrived frame
// that can no longer be overtaken now that a frame at ts has arrived.
func (b *Buffer) Add(ts int64, handle any, emit EmitFunc) {
	b.mu.Lock()
	it := item{ts: ts, seq: b.nextSeq, h: handle}
	b.nextSeq++

	min, ok := b.tree.Min()
	if !ok || it.ts < min.ts {
		b.tree.ReplaceOrInsert(it)
		b.mu.Unlock()
		b.governor.AdjustMax(1)
		return
	}

	var toEmit []item
	b.tree.Ascend(func(cur item) bool {
		if cur.ts < it.ts {
			toEmit = append(toEmit, cur)
			return true
		}
		return false
	})
	for _, cur := range toEmit {
		b.tree.Delete(cur)
	}
	b.tree.ReplaceOrInsert(it)
	b.mu.Unlock()

	for _, cur := range toEmit {
		emit(cur.ts, cur.h)
		b.governor.AdjustMax(-1)
	}
	b.governor.AdjustMax(1)
}

// FlushEmit empties the buffer, delivering every remaining frame in
// ascending ts order (spec §4.3's "full flush ... at EOS").
func (b *Buffer) FlushEmit(emit EmitFunc) {
	b.drain(emit, nil)
}

// FlushDrop empties the buffer, invoking drop instead of forwarding (spec
// §4.3's "or drops, per mode" — used when the session is aborting, not
// draining normally).
func (b *Buffer) FlushDrop(drop DropFunc) {
	b.drain(nil, drop)
}

func (b *Buffer) drain(emit EmitFunc, drop DropFunc) {
	b.mu.Lock()
	var items []item
	b.tree.Ascend(func(cur item) bool {
		items = append(items, cur)
		return true
	})
	b.tree.Clear(false)
	b.mu.Unlock()

	for _, cur := range items {
		if emit != nil {
			emit(cur.ts, cur.h)
		}
		if drop != nil {
			drop(cur.ts, cur.h)
		}
		b.governor.AdjustMax(-1)
	}
}

// Len returns the number of frames currently staged, for diagnostics/tests.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tree.Len()
}

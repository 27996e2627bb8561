// Package governor implements the buffer-count back-pressure semaphore
// described in spec §4.2: it bounds the number of hardware-decoded buffers
// alive outside the decoder (in the reorder buffer or in the client's
// hands) so a fast decoder cannot outrun a slow consumer and exhaust the
// platform's buffer pool.
package governor

import (
	"sync"

	"go.uber.org/atomic"
)

// Governor tracks refcount (buffers currently held) against refmax (the
// dynamic cap). The invariant 0 <= refcount <= refmax holds at every
// observation boundary. One logical reference belongs to the owning
// context itself; releasing it at teardown self-destructs the governor
// once every other holder has also released (refcount reaches zero).
type Governor struct {
	mu   sync.Mutex
	cond *sync.Cond

	refcount int
	refmax   int

	// liveRefcount mirrors refcount for lock-free reads (metrics export);
	// it is updated under mu but read without it.
	liveRefcount atomic.Int64

	destroyed bool
	onDestroy func()
}

// New creates a Governor with one logical reference already held (the
// owning context's own reference) and the given initial cap. onDestroy, if
// non-nil, runs exactly once when the final reference is released.
func New(initialMax int, onDestroy func()) *Governor {
	g := &Governor{refcount: 1, refmax: initialMax, onDestroy: onDestroy}
	g.cond = sync.NewCond(&g.mu)
	g.liveRefcount.Store(1)
	return g
}

// AdjustMax changes refmax by delta. Called with +1 when a frame enters the
// reorder buffer's bookkeeping and -1 when one leaves, so the cap tracks
// the reorder buffer's own variable lookahead.
func (g *Governor) AdjustMax(delta int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refmax += delta
	g.cond.Broadcast()
}

// AdjustRef changes refcount by delta. A positive delta that would push
// refcount to or above refmax blocks until a concurrent release makes room.
// A negative delta that drops refcount to zero self-destructs the governor
// (invoking onDestroy exactly once) and is idempotent: subsequent calls on
// a destroyed governor are no-ops, tolerating a decode callback arriving
// after flush() already released this session's final reference (spec
// §4.9's last open question).
func (g *Governor) AdjustRef(delta int) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.destroyed {
		return
	}

	if delta > 0 {
		for g.refcount+delta >= g.refmax {
			g.cond.Wait()
			if g.destroyed {
				return
			}
		}
	}

	g.refcount += delta
	if g.refcount < 0 {
		g.refcount = 0
	}
	g.liveRefcount.Store(int64(g.refcount))
	g.cond.Broadcast()

	if g.refcount == 0 {
		g.destroyed = true
		if g.onDestroy != nil {
			fn := g.onDestroy
			g.onDestroy = nil
			// Run outside the lock: onDestroy may call back into this
			// governor's accessors (e.g. to read final stats) or take
			// other locks, and the governor is a leaf lock (spec §5).
			g.mu.Unlock()
			fn()
			g.mu.Lock()
		}
	}
}

// Refcount returns the current reference count without blocking.
func (g *Governor) Refcount() int { return int(g.liveRefcount.Load()) }

// Snapshot returns refcount and refmax atomically for diagnostics/tests.
func (g *Governor) Snapshot() (refcount, refmax int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.refcount, g.refmax
}

// Destroyed reports whether the final reference has been released.
func (g *Governor) Destroyed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.destroyed
}

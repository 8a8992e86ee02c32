package slab

import (
	"runtime"

	"github.com/anachro-go/rs485bus/internal/debug"
)

// SharedArc is immutable shared access to one chunk. Clone increments
// the chunk's refcount; Free decrements it, and the goroutine that
// observes the 1->0 transition returns the chunk to the free list.
type SharedArc struct {
	pool *Pool
	idx  int32
	dead bool
}

func newSharedArc(pool *Pool, idx int32) *SharedArc {
	a := &SharedArc{pool: pool, idx: idx}
	runtime.SetFinalizer(a, (*SharedArc).finalize)
	return a
}

// Bytes is the full SZ-byte chunk, read-only by convention (Go cannot
// enforce immutability on a []byte; callers must not write through it).
func (a *SharedArc) Bytes() []byte {
	debug.Assert(!a.dead, "slab: use of freed SharedArc")
	return a.pool.chunks[a.idx]
}

func (a *SharedArc) Index() int32 { return a.idx }

// Clone increments the refcount and returns a new independent handle to
// the same chunk.
func (a *SharedArc) Clone() *SharedArc {
	debug.Assert(!a.dead, "slab: Clone of freed SharedArc")
	a.pool.refs[a.idx].Add(1)
	return newSharedArc(a.pool, a.idx)
}

// Free decrements the refcount; if it was the last reference the chunk
// returns to the free list.
func (a *SharedArc) Free() {
	if a.dead {
		return
	}
	a.dead = true
	runtime.SetFinalizer(a, nil)
	if prev := a.pool.refs[a.idx].Add(-1) + 1; prev == 1 {
		a.pool.releaseChunk(a.idx)
	} else {
		debug.Assert(prev > 1, "slab: SharedArc refcount underflow, idx=", a.idx, "prev=", prev)
	}
}

func (a *SharedArc) finalize() {
	if !a.dead {
		a.Free()
	}
}

// SubSliceArc validates (start, len) against the full chunk and returns
// a ref-counted view over that sub-range. The new view shares the
// parent's refcount (Clone semantics): it increments on creation and
// must be Free'd independently.
func (a *SharedArc) SubSliceArc(start, length int) (*SubSliceArc, error) {
	if start < 0 || length < 0 || start+length > a.pool.chunkSize || start >= a.pool.chunkSize {
		return nil, ErrSubRangeOutOfBounds
	}
	return &SubSliceArc{arc: a.Clone(), start: start, length: length}, nil
}

// RerooterKey produces a key covering the full chunk, suitable for
// re-rooting borrow-or-own views that were deserialized from these
// bytes; see reroot.go.
func (a *SharedArc) RerooterKey() RerootKey {
	debug.Assert(!a.dead, "slab: RerooterKey of freed SharedArc")
	b := a.pool.chunks[a.idx]
	return newRerootKey(a, b)
}

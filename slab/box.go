package slab

import (
	"fmt"
	"runtime"

	"github.com/pkg/errors"

	"github.com/anachro-go/rs485bus/internal/debug"
)

// OwnedBox is exclusive, mutable access to one chunk. It is the handle
// AllocBox returns; call Free (or IntoArc, which consumes it) exactly
// once. A finalizer releases the chunk if the caller forgets, but code
// should not rely on GC timing for protocol correctness.
type OwnedBox struct {
	pool *Pool
	idx  int32
	used bool // true once Free or IntoArc has consumed this handle
}

// Bytes returns the full SZ-byte chunk for reading and writing.
func (b *OwnedBox) Bytes() []byte {
	debug.Assert(!b.used, "slab: use of consumed OwnedBox")
	return b.pool.chunks[b.idx]
}

// Index is the chunk's slot in the pool.
func (b *OwnedBox) Index() int32 { return b.idx }

// Free decrements the chunk's refcount 1->0 and returns it to the free
// list. Calling Free again on the same handle is a no-op. A refcount
// other than 1 at release panics (refcount underflow is an invariant
// violation per spec.md §7).
func (b *OwnedBox) Free() {
	if b.used {
		return
	}
	b.used = true
	runtime.SetFinalizer(b, nil)
	prev := b.pool.refs[b.idx].Add(-1) + 1
	debug.Assert(prev == 1, "slab: OwnedBox refcount underflow, idx=", b.idx, "prev=", prev)
	if prev != 1 {
		// A stack trace is attached here, not at the debug.Assert above,
		// because this path runs even in non-debug builds: refcount
		// underflow is a memory-safety bug, not a checked precondition.
		panic(errors.Wrap(fmt.Errorf("slab: OwnedBox refcount underflow, idx=%d prev=%d", b.idx, prev), "slab invariant violation"))
	}
	b.pool.releaseChunk(b.idx)
}

func (b *OwnedBox) finalize() {
	if !b.used {
		b.Free()
	}
}

// IntoArc asserts the chunk's refcount is exactly 1 (true by
// construction: OwnedBox is exclusive) and re-tags the handle as a
// SharedArc. No allocation, no refcount change.
func (b *OwnedBox) IntoArc() *SharedArc {
	debug.Assert(!b.used, "slab: IntoArc of consumed OwnedBox")
	cur := b.pool.refs[b.idx].Load()
	debug.Assert(cur == 1, "slab: IntoArc on non-unique chunk, idx=", b.idx, "refs=", cur)
	b.used = true
	runtime.SetFinalizer(b, nil)
	return newSharedArc(b.pool, b.idx)
}

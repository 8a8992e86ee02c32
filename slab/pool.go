// Package slab implements the fixed-capacity byte-chunk pool described in
// spec.md §3/§4.1: N chunks of SZ bytes, a lock-free free list, and a
// family of reference-counted views (owned box, shared arc, sub-slice
// arc, string sub-slice arc, borrow-or-own view) that together let
// zero-copy wire decoding survive past the lifetime of the frame buffer
// it was decoded from (see reroot.go).
//
// The free list is realized as a buffered channel of chunk indices.
// Go's channel is not the lock-free structure the spec describes, but it
// gives the same bounded multi-producer/multi-consumer semantics and is
// the idiomatic choice everywhere else a bounded queue appears in this
// codebase (dispatch's to_io/shame queues, port inboxes/outboxes); see
// DESIGN.md.
package slab

import (
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/anachro-go/rs485bus/internal/debug"
	"github.com/anachro-go/rs485bus/internal/nlog"
)

type poolState int32

const (
	stateUninit poolState = iota
	stateInitializing
	stateInitialized
)

// Pool is the single source of truth for every byte buffer used by wire
// payloads and intermediate serialization buffers. It is safe for
// concurrent use from any number of goroutines, including the dispatch
// loop and the protocol tasks, without additional external locking.
type Pool struct {
	chunkSize int
	chunks    [][]byte
	refs      []atomic.Int32
	free      chan int32
	state     atomic.Int32

	exhausted atomic.Int64 // telemetry: AllocBox calls that found no free chunk
}

// NewPool constructs a pool with capacity n chunks of sz bytes each. The
// pool starts Uninit; call Init before use.
func NewPool(n, sz int) *Pool {
	if n <= 0 || sz <= 0 {
		panic(fmt.Sprintf("slab: invalid pool shape n=%d sz=%d", n, sz))
	}
	return &Pool{
		chunkSize: sz,
		chunks:    make([][]byte, n),
		refs:      make([]atomic.Int32, n),
		free:      make(chan int32, n),
	}
}

// Init performs the idempotent Uninit -> Initializing -> Initialized
// transition, pre-filling the free list with every chunk index. A second
// call returns ErrNotInitialized (the pool is not in the Uninit state it
// requires to (re)initialize).
func (p *Pool) Init() error {
	if !p.state.CompareAndSwap(int32(stateUninit), int32(stateInitializing)) {
		return ErrNotInitialized
	}
	for i := range p.chunks {
		p.chunks[i] = make([]byte, p.chunkSize)
		p.free <- int32(i)
	}
	p.state.Store(int32(stateInitialized))
	return nil
}

func (p *Pool) initialized() bool { return p.state.Load() == int32(stateInitialized) }

// N is the pool's chunk capacity.
func (p *Pool) N() int { return len(p.chunks) }

// ChunkSize is SZ.
func (p *Pool) ChunkSize() int { return p.chunkSize }

// Free reports the number of chunks currently on the free list. This is
// a snapshot, not a synchronization point.
func (p *Pool) Free() int { return len(p.free) }

// Exhausted is a telemetry counter: how many AllocBox calls found the
// free list empty.
func (p *Pool) Exhausted() int64 { return p.exhausted.Load() }

// AllocBox dequeues a chunk index from the free list and returns an
// OwnedBox with its refcount set to 1, or ErrOutOfChunks if none are
// free.
func (p *Pool) AllocBox() (*OwnedBox, error) {
	if !p.initialized() {
		return nil, ErrNotInitialized
	}
	select {
	case idx := <-p.free:
		p.refs[idx].Store(1)
		b := &OwnedBox{pool: p, idx: idx}
		runtime.SetFinalizer(b, (*OwnedBox).finalize)
		return b, nil
	default:
		p.exhausted.Add(1)
		return nil, ErrOutOfChunks
	}
}

// releaseChunk returns idx to the free list. Called when a chunk's
// refcount transitions to zero, from whichever handle observed that
// transition.
func (p *Pool) releaseChunk(idx int32) {
	// clear for the next tenant; avoids leaking a previous owner's bytes
	// across reuse and gives every fresh AllocBox a zeroed buffer.
	clear(p.chunks[idx])
	select {
	case p.free <- idx:
	default:
		// the free list is sized == N and a chunk can only be "free"
		// once, so this channel send can never block; if it does, two
		// handles both believe they own the last reference.
		debug.Assert(false, "slab: free list overflow on release, idx=", idx)
		nlog.Errorln("slab: free list overflow releasing chunk", idx, "(refcount double-free?)")
	}
}

package slab

import "errors"

var (
	// ErrNotInitialized is returned by any operation attempted before
	// Init or by a second call to Init.
	ErrNotInitialized = errors.New("slab: pool not initialized")
	// ErrOutOfChunks is returned by AllocBox when the free list is empty.
	ErrOutOfChunks = errors.New("slab: pool exhausted")
	// ErrSubRangeOutOfBounds is returned by SubSliceArc when (start, len)
	// does not fit inside the parent's range.
	ErrSubRangeOutOfBounds = errors.New("slab: sub-range out of bounds")
	// ErrNonUTF8 is returned by IntoStrArc when the bytes are not valid
	// UTF-8.
	ErrNonUTF8 = errors.New("slab: not valid utf-8")
	// ErrRerootOutOfRange is returned by Reroot when the borrowed bytes
	// do not lie inside the reroot key's span.
	ErrRerootOutOfRange = errors.New("slab: borrow outside reroot key range")
)

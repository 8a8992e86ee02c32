package slab

import "unicode/utf8"

// SubSliceArc is a SharedArc plus a (start, len) window; it ref-counts
// with its parent arc (Free/Clone delegate to the parent).
type SubSliceArc struct {
	arc    *SharedArc
	start  int
	length int
}

func (s *SubSliceArc) Bytes() []byte {
	return s.arc.Bytes()[s.start : s.start+s.length]
}

func (s *SubSliceArc) Len() int { return s.length }

// Clone increments the underlying arc's refcount and returns an
// independent SubSliceArc over the same window.
func (s *SubSliceArc) Clone() *SubSliceArc {
	return &SubSliceArc{arc: s.arc.Clone(), start: s.start, length: s.length}
}

func (s *SubSliceArc) Free() { s.arc.Free() }

// SubSliceArc validates (start, len) against THIS view's own sub-range,
// not the full chunk, and increments the underlying arc.
func (s *SubSliceArc) SubSliceArc(start, length int) (*SubSliceArc, error) {
	if start < 0 || length < 0 || start+length > s.length || start >= s.length {
		return nil, ErrSubRangeOutOfBounds
	}
	return &SubSliceArc{arc: s.arc.Clone(), start: s.start + start, length: length}, nil
}

// IntoStrArc validates the view's bytes as UTF-8 and re-tags it as a
// StrSliceArc, consuming the receiver (the caller must not use s after
// this call succeeds; on failure s is returned unchanged via the error
// path and remains usable).
func (s *SubSliceArc) IntoStrArc() (*StrSliceArc, error) {
	if !utf8.Valid(s.Bytes()) {
		return nil, ErrNonUTF8
	}
	return &StrSliceArc{inner: s}, nil
}

// StrSliceArc is a SubSliceArc whose bytes are validated UTF-8.
type StrSliceArc struct {
	inner *SubSliceArc
}

func (s *StrSliceArc) String() string { return string(s.inner.Bytes()) }
func (s *StrSliceArc) Bytes() []byte  { return s.inner.Bytes() }
func (s *StrSliceArc) Free()          { s.inner.Free() }
func (s *StrSliceArc) Clone() *StrSliceArc {
	return &StrSliceArc{inner: s.inner.Clone()}
}

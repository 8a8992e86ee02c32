package slab

import "unsafe"

// RerootKey is a small record extracted from a SharedArc's current
// footprint: the byte-address span of its chunk, plus the arc itself
// (kept alive so a successful reroot can perform a normal, safe refcount
// increment against it). Given a key and a deserialized borrow-or-own
// view whose borrowed bytes lie inside the key's span, the view can be
// upgraded to an owned SubSliceArc — see Reroot below.
//
// Pool chunks are allocated once at Pool.Init and never reallocated or
// moved for the lifetime of the pool, so comparing their addresses
// through uintptr here is safe: Go's garbage collector does not relocate
// heap objects, and the chunk backing array stays reachable (and thus
// un-collected) for as long as any arc referencing it is alive.
type RerootKey struct {
	arc   *SharedArc
	start uintptr
	end   uintptr
}

func newRerootKey(arc *SharedArc, chunk []byte) RerootKey {
	if len(chunk) == 0 {
		return RerootKey{arc: arc}
	}
	start := uintptr(unsafe.Pointer(&chunk[0]))
	return RerootKey{arc: arc, start: start, end: start + uintptr(len(chunk))}
}

// contains reports whether b's backing bytes lie fully inside the key's
// span, and if so returns the offset from the span's start.
func (k RerootKey) contains(b []byte) (offset int, ok bool) {
	if len(b) == 0 {
		return 0, true
	}
	p := uintptr(unsafe.Pointer(&b[0]))
	if p < k.start || p+uintptr(len(b)) > k.end {
		return 0, false
	}
	return int(p - k.start), true
}

// View is the borrow-or-own tagged union from spec.md §4.2: either bytes
// borrowed from a frame buffer (bound to that buffer's lifetime) or an
// owned, ref-counted SubSliceArc. Both serialize identically as a raw
// byte (or string) sequence; deserializing always produces a Borrowed
// view.
type View struct {
	borrowed []byte
	owned    *SubSliceArc
}

func Borrowed(b []byte) View        { return View{borrowed: b} }
func Owned(s *SubSliceArc) View     { return View{owned: s} }
func (v View) IsOwned() bool        { return v.owned != nil }

// Bytes returns the view's contents regardless of which variant it is.
func (v View) Bytes() []byte {
	if v.owned != nil {
		return v.owned.Bytes()
	}
	return v.borrowed
}

// Free releases the owned variant's refcount; a no-op on a borrowed view
// since it holds no reference to free.
func (v View) Free() {
	if v.owned != nil {
		v.owned.Free()
	}
}

// Reroot converts a Borrowed view into an Owned one when the borrowed
// bytes lie inside key's span, acquiring a reference on the parent
// chunk. An already-Owned view is returned unchanged (idempotent). A
// Borrowed view whose bytes lie outside key's span is an error: the
// caller deserialized from a different buffer than the one the key
// describes.
func Reroot(v View, key RerootKey) (View, error) {
	if v.owned != nil {
		return v, nil
	}
	offset, ok := key.contains(v.borrowed)
	if !ok {
		return View{}, ErrRerootOutOfRange
	}
	sub, err := key.arc.SubSliceArc(offset, len(v.borrowed))
	if err != nil {
		return View{}, err
	}
	return Owned(sub), nil
}

// StrView is the UTF-8-validated counterpart of View, used for
// borrow-or-own string fields.
type StrView struct {
	borrowed string
	owned    *StrSliceArc
}

func BorrowedStr(s string) StrView    { return StrView{borrowed: s} }
func OwnedStr(s *StrSliceArc) StrView { return StrView{owned: s} }
func (v StrView) IsOwned() bool       { return v.owned != nil }

func (v StrView) String() string {
	if v.owned != nil {
		return v.owned.String()
	}
	return v.borrowed
}

func (v StrView) Free() {
	if v.owned != nil {
		v.owned.Free()
	}
}

// RerootStr is Reroot for string views: it validates UTF-8 once more
// only implicitly (the bytes were already produced by IntoStrArc, or
// they came straight off the wire as a borrowed str which the wire
// decoder already validated).
func RerootStr(v StrView, key RerootKey) (StrView, error) {
	if v.owned != nil {
		return v, nil
	}
	// unsafe.Slice over unsafe.StringData views the string's existing
	// backing bytes without copying; a plain []byte(v.borrowed)
	// conversion would copy, which would always fail the containment
	// check below since the copy's address never lies in the chunk.
	b := unsafe.Slice(unsafe.StringData(v.borrowed), len(v.borrowed))
	offset, ok := key.contains(b)
	if !ok {
		return StrView{}, ErrRerootOutOfRange
	}
	sub, err := key.arc.SubSliceArc(offset, len(b))
	if err != nil {
		return StrView{}, err
	}
	str, err := sub.IntoStrArc()
	if err != nil {
		sub.Free()
		return StrView{}, err
	}
	return OwnedStr(str), nil
}

package wire

import (
	"errors"

	"github.com/tinylib/msgp/msgp"

	"github.com/anachro-go/rs485bus/slab"
)

// LineMessageHeader carries the link-layer source and destination of a
// frame; Dispatch reads it to decide where an incoming frame routes
// and to stamp outgoing frames with the local address before framing.
type LineMessageHeader struct {
	Src AddrPort
	Dst AddrPort
}

func (h LineMessageHeader) AppendMsg(b []byte) ([]byte, error) {
	b = msgp.AppendArrayHeader(b, 2)
	b, err := h.Src.AppendMsg(b)
	if err != nil {
		return b, err
	}
	return h.Dst.AppendMsg(b)
}

func ReadLineMessageHeader(b []byte) (LineMessageHeader, []byte, error) {
	sz, b, err := msgp.ReadArrayHeaderBytes(b)
	if err != nil {
		return LineMessageHeader{}, b, err
	}
	if sz != 2 {
		return LineMessageHeader{}, b, errors.New("wire: malformed LineMessageHeader")
	}
	src, b, err := ReadAddrPort(b)
	if err != nil {
		return LineMessageHeader{}, b, err
	}
	dst, b, err := ReadAddrPort(b)
	if err != nil {
		return LineMessageHeader{}, b, err
	}
	return LineMessageHeader{Src: src, Dst: dst}, b, nil
}

// LineMessage is the top-level on-wire envelope: a header plus an
// opaque payload. Msg's contents are whatever typed payload
// (DomDiscoveryPayload, SubTokenReleasePayload, ...) the destination
// port's protocol decodes it as; Dispatch itself never looks inside.
//
// Msg is a borrow-or-own slab.View: Dispatch's decode path always
// produces a Borrowed view pointing straight into the COBS-decoded
// frame buffer, and callers that need the bytes to outlive that
// buffer reroot it into the port's own chunk (see slab.Reroot).
type LineMessage struct {
	Hdr LineMessageHeader
	Msg slab.View
}

func (m LineMessage) AppendMsg(b []byte) ([]byte, error) {
	b = msgp.AppendArrayHeader(b, 2)
	b, err := m.Hdr.AppendMsg(b)
	if err != nil {
		return b, err
	}
	b = msgp.AppendBytes(b, m.Msg.Bytes())
	return b, nil
}

// ReadLineMessage decodes a LineMessage out of b without copying the
// payload bytes: the returned Msg view aliases b's backing array.
// Callers that need the payload to survive past b's reuse must reroot
// it against the destination chunk's RerootKey.
func ReadLineMessage(b []byte) (LineMessage, []byte, error) {
	sz, b, err := msgp.ReadArrayHeaderBytes(b)
	if err != nil {
		return LineMessage{}, b, err
	}
	if sz != 2 {
		return LineMessage{}, b, errors.New("wire: malformed LineMessage")
	}
	hdr, b, err := ReadLineMessageHeader(b)
	if err != nil {
		return LineMessage{}, b, err
	}
	payload, b, err := msgp.ReadBytesZC(b)
	if err != nil {
		return LineMessage{}, b, err
	}
	return LineMessage{Hdr: hdr, Msg: slab.Borrowed(payload)}, b, nil
}

// Reroot returns a copy of m whose payload view is upgraded against
// key, acquiring a reference on key's chunk; m itself is unchanged. It is the sole instantiation this wire
// schema needs of the Reroot-trait derivation described for tagged
// unions generally: LineMessage is the only wire type carrying a
// borrow-or-own field, so there is nothing to recurse into.
func (m LineMessage) Reroot(key slab.RerootKey) (LineMessage, error) {
	v, err := slab.Reroot(m.Msg, key)
	if err != nil {
		return LineMessage{}, err
	}
	return LineMessage{Hdr: m.Hdr, Msg: v}, nil
}

// EncodeFrame serializes m into scratch (which the caller owns, typically
// a slab-allocated buffer; a nil scratch falls back to a heap allocation)
// and COBS-frames the result, appending to dst. scratch and dst must not
// alias: CobsEncode can insert extra code bytes as it runs, so its write
// pointer can overtake a read pointer into the same backing array.
func EncodeFrame(dst, scratch []byte, m LineMessage) ([]byte, error) {
	scratch, err := m.AppendMsg(scratch[:0])
	if err != nil {
		return dst, err
	}
	return CobsEncode(dst, scratch), nil
}

// DecodeFrame COBS-decodes frame into scratch (which the caller owns
// and must keep alive as long as the returned LineMessage's Msg view
// is still Borrowed) and parses a LineMessage out of the result.
func DecodeFrame(scratch, frame []byte) (LineMessage, error) {
	decoded, err := CobsDecode(scratch, frame)
	if err != nil {
		return LineMessage{}, err
	}
	m, rest, err := ReadLineMessage(decoded)
	if err != nil {
		return LineMessage{}, err
	}
	if len(rest) != 0 {
		return LineMessage{}, errors.New("wire: trailing bytes after LineMessage")
	}
	return m, nil
}

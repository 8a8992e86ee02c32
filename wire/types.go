package wire

import (
	"errors"

	"github.com/tinylib/msgp/msgp"
)

// MaxRouteSegments bounds VecAddr, the address data model's "variable-
// length byte vector (max 8 segments)". Non-goals exclude cross-
// segment routing, so every address this module actually produces is
// a single-segment VecAddr; the wider schema is kept so the wire
// format matches the data model exactly.
const MaxRouteSegments = 8

var ErrVecAddrTooLong = errors.New("wire: address path exceeds MaxRouteSegments")

// Addr is a single local bus address byte. 0 is Dom's reserved
// address; 1..31 are assignable Sub addresses; 255 is the
// unassigned/broadcast sentinel used during discovery before a Sub
// has a real address.
type Addr uint8

const (
	AddrDom        Addr = 0
	AddrUnassigned Addr = 255
)

// VecAddr is the address data model's path of up to 8 segments.
type VecAddr struct {
	Segments []Addr
}

// Local builds a single-segment VecAddr, the only shape this module
// ever produces (no cross-segment routing).
func Local(a Addr) VecAddr { return VecAddr{Segments: []Addr{a}} }

// AsLocal extracts the single segment of a local VecAddr, or reports
// false if it isn't one (zero or more than one segment).
func (v VecAddr) AsLocal() (Addr, bool) {
	if len(v.Segments) != 1 {
		return 0, false
	}
	return v.Segments[0], true
}

func (v VecAddr) AppendMsg(b []byte) ([]byte, error) {
	if len(v.Segments) > MaxRouteSegments {
		return b, ErrVecAddrTooLong
	}
	b = msgp.AppendArrayHeader(b, uint32(len(v.Segments)))
	for _, a := range v.Segments {
		b = msgp.AppendUint8(b, uint8(a))
	}
	return b, nil
}

func ReadVecAddr(b []byte) (VecAddr, []byte, error) {
	sz, b, err := msgp.ReadArrayHeaderBytes(b)
	if err != nil {
		return VecAddr{}, b, err
	}
	if sz > MaxRouteSegments {
		return VecAddr{}, b, ErrVecAddrTooLong
	}
	segs := make([]Addr, 0, sz)
	for i := uint32(0); i < sz; i++ {
		var raw uint8
		raw, b, err = msgp.ReadUint8Bytes(b)
		if err != nil {
			return VecAddr{}, b, err
		}
		segs = append(segs, Addr(raw))
	}
	return VecAddr{Segments: segs}, b, nil
}

// AddrPort pairs a routing address with a logical port number, the
// unit LineMessage routes by at both ends of a link. Port 0 is
// invalid, 10 is discovery, 20 is token.
type AddrPort struct {
	Addr VecAddr
	Port uint16
}

const (
	PortDiscovery uint16 = 10
	PortToken     uint16 = 20
)

func (a AddrPort) AppendMsg(b []byte) ([]byte, error) {
	b = msgp.AppendArrayHeader(b, 2)
	b, err := a.Addr.AppendMsg(b)
	if err != nil {
		return b, err
	}
	b = msgp.AppendUint16(b, a.Port)
	return b, nil
}

func ReadAddrPort(b []byte) (AddrPort, []byte, error) {
	sz, b, err := msgp.ReadArrayHeaderBytes(b)
	if err != nil {
		return AddrPort{}, b, err
	}
	if sz != 2 {
		return AddrPort{}, b, errors.New("wire: malformed AddrPort")
	}
	addr, b, err := ReadVecAddr(b)
	if err != nil {
		return AddrPort{}, b, err
	}
	port, b, err := msgp.ReadUint16Bytes(b)
	if err != nil {
		return AddrPort{}, b, err
	}
	return AddrPort{Addr: addr, Port: port}, b, nil
}

// MaxOffers bounds the discovery offers list, `Vec<u8, ≤32>` in
// spec.md §6 — a distinct, wider cap than VecAddr's routing segments.
const MaxOffers = 32

var ErrOffersTooLong = errors.New("wire: offers list exceeds MaxOffers")

// AddrList is a flat list of local addresses, used only for
// DiscoverInitial's offers field.
type AddrList struct {
	Items []Addr
}

func (l AddrList) AppendMsg(b []byte) ([]byte, error) {
	if len(l.Items) > MaxOffers {
		return b, ErrOffersTooLong
	}
	b = msgp.AppendArrayHeader(b, uint32(len(l.Items)))
	for _, a := range l.Items {
		b = msgp.AppendUint8(b, uint8(a))
	}
	return b, nil
}

func ReadAddrList(b []byte) (AddrList, []byte, error) {
	sz, b, err := msgp.ReadArrayHeaderBytes(b)
	if err != nil {
		return AddrList{}, b, err
	}
	if sz > MaxOffers {
		return AddrList{}, b, ErrOffersTooLong
	}
	items := make([]Addr, 0, sz)
	for i := uint32(0); i < sz; i++ {
		var raw uint8
		raw, b, err = msgp.ReadUint8Bytes(b)
		if err != nil {
			return AddrList{}, b, err
		}
		items = append(items, Addr(raw))
	}
	return AddrList{Items: items}, b, nil
}

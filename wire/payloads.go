package wire

import (
	"errors"
	"fmt"

	"github.com/tinylib/msgp/msgp"
)

// ErrUnknownVariant is returned when a discriminant byte doesn't match
// any known tagged-union variant for the payload being decoded.
var ErrUnknownVariant = errors.New("wire: unknown payload variant")

// DomDiscoveryKind discriminates the three messages Dom sends during
// discovery: the initial broadcast that opens a round, the
// acknowledgement-of-acknowledgement that closes the Ready phase for
// one provisional address, and the ping Dom sends to each provisional
// address during the Steady and Go phases.
type DomDiscoveryKind uint8

const (
	KindDiscoverInitial DomDiscoveryKind = iota
	KindDiscoverAckAck
	KindPingReq
)

// DiscoverInitialBody opens a discovery round: Dom picks a fresh
// random and a wait window, and Subs without an address pick a
// random delay inside [MinWaitUs, MaxWaitUs) before answering with
// one of the addresses in Offers, to space out collisions on a
// multi-drop bus.
type DiscoverInitialBody struct {
	Random    uint32
	MinWaitUs uint32
	MaxWaitUs uint32
	Offers    AddrList
}

// DiscoverAckAckBody closes the handshake for one provisional address:
// the Sub recomputes Checksum as C(OwnID, OwnRandom, sub_random) and
// only advances if it matches what it sent in its own DiscoverAck.
type DiscoverAckAckBody struct {
	OwnID     Addr
	OwnRandom uint32
	Checksum  uint32
}

// PingReqBody asks the Sub at one provisional address to reassert
// itself with PingAcks within [MinWaitUs, MaxWaitUs) of jitter; Dom
// uses this, doubled, to detect Subs that silently dropped off the
// bus during the Steady and Go phases.
type PingReqBody struct {
	Random    uint32
	MinWaitUs uint32
	MaxWaitUs uint32
}

// DomDiscoveryPayload is the tagged union of messages Dom sends on the
// discovery port. Only the field matching Kind is populated.
type DomDiscoveryPayload struct {
	Kind            DomDiscoveryKind
	DiscoverInitial DiscoverInitialBody
	DiscoverAckAck  DiscoverAckAckBody
	PingReq         PingReqBody
}

func (p DomDiscoveryPayload) AppendMsg(b []byte) ([]byte, error) {
	b = msgp.AppendArrayHeader(b, 2)
	b = msgp.AppendUint8(b, uint8(p.Kind))
	var err error
	switch p.Kind {
	case KindDiscoverInitial:
		b = msgp.AppendArrayHeader(b, 4)
		b = msgp.AppendUint32(b, p.DiscoverInitial.Random)
		b = msgp.AppendUint32(b, p.DiscoverInitial.MinWaitUs)
		b = msgp.AppendUint32(b, p.DiscoverInitial.MaxWaitUs)
		b, err = p.DiscoverInitial.Offers.AppendMsg(b)
	case KindDiscoverAckAck:
		b = msgp.AppendArrayHeader(b, 3)
		b = msgp.AppendUint8(b, uint8(p.DiscoverAckAck.OwnID))
		b = msgp.AppendUint32(b, p.DiscoverAckAck.OwnRandom)
		b = msgp.AppendUint32(b, p.DiscoverAckAck.Checksum)
	case KindPingReq:
		b = msgp.AppendArrayHeader(b, 3)
		b = msgp.AppendUint32(b, p.PingReq.Random)
		b = msgp.AppendUint32(b, p.PingReq.MinWaitUs)
		b = msgp.AppendUint32(b, p.PingReq.MaxWaitUs)
	}
	return b, err
}

func ReadDomDiscoveryPayload(b []byte) (DomDiscoveryPayload, []byte, error) {
	outerSz, b, err := msgp.ReadArrayHeaderBytes(b)
	if err != nil {
		return DomDiscoveryPayload{}, b, err
	}
	if outerSz != 2 {
		return DomDiscoveryPayload{}, b, errors.New("wire: malformed DomDiscoveryPayload")
	}
	rawKind, b, err := msgp.ReadUint8Bytes(b)
	if err != nil {
		return DomDiscoveryPayload{}, b, err
	}
	kind := DomDiscoveryKind(rawKind)

	sz, b, err := msgp.ReadArrayHeaderBytes(b)
	if err != nil {
		return DomDiscoveryPayload{}, b, err
	}

	var p DomDiscoveryPayload
	p.Kind = kind
	switch kind {
	case KindDiscoverInitial:
		if sz != 4 {
			return DomDiscoveryPayload{}, b, errors.New("wire: malformed DiscoverInitial")
		}
		p.DiscoverInitial.Random, b, err = msgp.ReadUint32Bytes(b)
		if err != nil {
			return DomDiscoveryPayload{}, b, err
		}
		p.DiscoverInitial.MinWaitUs, b, err = msgp.ReadUint32Bytes(b)
		if err != nil {
			return DomDiscoveryPayload{}, b, err
		}
		p.DiscoverInitial.MaxWaitUs, b, err = msgp.ReadUint32Bytes(b)
		if err != nil {
			return DomDiscoveryPayload{}, b, err
		}
		p.DiscoverInitial.Offers, b, err = ReadAddrList(b)
		if err != nil {
			return DomDiscoveryPayload{}, b, err
		}
	case KindDiscoverAckAck:
		if sz != 3 {
			return DomDiscoveryPayload{}, b, errors.New("wire: malformed DiscoverAckAck")
		}
		var rawAddr uint8
		rawAddr, b, err = msgp.ReadUint8Bytes(b)
		if err != nil {
			return DomDiscoveryPayload{}, b, err
		}
		p.DiscoverAckAck.OwnID = Addr(rawAddr)
		p.DiscoverAckAck.OwnRandom, b, err = msgp.ReadUint32Bytes(b)
		if err != nil {
			return DomDiscoveryPayload{}, b, err
		}
		p.DiscoverAckAck.Checksum, b, err = msgp.ReadUint32Bytes(b)
		if err != nil {
			return DomDiscoveryPayload{}, b, err
		}
	case KindPingReq:
		if sz != 3 {
			return DomDiscoveryPayload{}, b, errors.New("wire: malformed PingReq")
		}
		p.PingReq.Random, b, err = msgp.ReadUint32Bytes(b)
		if err != nil {
			return DomDiscoveryPayload{}, b, err
		}
		p.PingReq.MinWaitUs, b, err = msgp.ReadUint32Bytes(b)
		if err != nil {
			return DomDiscoveryPayload{}, b, err
		}
		p.PingReq.MaxWaitUs, b, err = msgp.ReadUint32Bytes(b)
		if err != nil {
			return DomDiscoveryPayload{}, b, err
		}
	default:
		return DomDiscoveryPayload{}, b, fmt.Errorf("%w: DomDiscoveryKind=%d", ErrUnknownVariant, rawKind)
	}
	return p, b, nil
}

// SubDiscoveryKind discriminates the two messages a Sub sends back to
// Dom during discovery: the initial acknowledgement carrying its
// provisional address and random, and the ping acknowledgement
// answering a PingReq.
type SubDiscoveryKind uint8

const (
	KindDiscoverAck SubDiscoveryKind = iota
	KindPingAck
)

// DiscoverAckBody is a Sub's answer to DiscoverInitial: the
// provisional address it picked (possibly colliding with another
// Sub's pick), its own random contribution, and the checksum it
// computed from both.
type DiscoverAckBody struct {
	OwnID     Addr
	Checksum  uint32
	OwnRandom uint32
}

// PingAckBody reasserts that the Sub sending it is still present,
// with the same checksum formula as DiscoverAckAck so Dom can
// cross-check it against its own records. The address being
// reasserted is carried by the LineMessage header's Src, not here.
type PingAckBody struct {
	Checksum  uint32
	OwnRandom uint32
}

// SubDiscoveryPayload is the tagged union of messages a Sub sends on
// the discovery port. Only the field matching Kind is populated.
type SubDiscoveryPayload struct {
	Kind        SubDiscoveryKind
	DiscoverAck DiscoverAckBody
	PingAck     PingAckBody
}

func (p SubDiscoveryPayload) AppendMsg(b []byte) []byte {
	b = msgp.AppendArrayHeader(b, 2)
	b = msgp.AppendUint8(b, uint8(p.Kind))
	switch p.Kind {
	case KindDiscoverAck:
		b = msgp.AppendArrayHeader(b, 3)
		b = msgp.AppendUint8(b, uint8(p.DiscoverAck.OwnID))
		b = msgp.AppendUint32(b, p.DiscoverAck.Checksum)
		b = msgp.AppendUint32(b, p.DiscoverAck.OwnRandom)
	case KindPingAck:
		b = msgp.AppendArrayHeader(b, 2)
		b = msgp.AppendUint32(b, p.PingAck.Checksum)
		b = msgp.AppendUint32(b, p.PingAck.OwnRandom)
	}
	return b
}

func ReadSubDiscoveryPayload(b []byte) (SubDiscoveryPayload, []byte, error) {
	outerSz, b, err := msgp.ReadArrayHeaderBytes(b)
	if err != nil {
		return SubDiscoveryPayload{}, b, err
	}
	if outerSz != 2 {
		return SubDiscoveryPayload{}, b, errors.New("wire: malformed SubDiscoveryPayload")
	}
	rawKind, b, err := msgp.ReadUint8Bytes(b)
	if err != nil {
		return SubDiscoveryPayload{}, b, err
	}
	kind := SubDiscoveryKind(rawKind)

	sz, b, err := msgp.ReadArrayHeaderBytes(b)
	if err != nil {
		return SubDiscoveryPayload{}, b, err
	}

	var p SubDiscoveryPayload
	p.Kind = kind
	switch kind {
	case KindDiscoverAck:
		if sz != 3 {
			return SubDiscoveryPayload{}, b, errors.New("wire: malformed DiscoverAck")
		}
		var rawAddr uint8
		rawAddr, b, err = msgp.ReadUint8Bytes(b)
		if err != nil {
			return SubDiscoveryPayload{}, b, err
		}
		p.DiscoverAck.OwnID = Addr(rawAddr)
		p.DiscoverAck.Checksum, b, err = msgp.ReadUint32Bytes(b)
		if err != nil {
			return SubDiscoveryPayload{}, b, err
		}
		p.DiscoverAck.OwnRandom, b, err = msgp.ReadUint32Bytes(b)
		if err != nil {
			return SubDiscoveryPayload{}, b, err
		}
	case KindPingAck:
		if sz != 2 {
			return SubDiscoveryPayload{}, b, errors.New("wire: malformed PingAck")
		}
		p.PingAck.Checksum, b, err = msgp.ReadUint32Bytes(b)
		if err != nil {
			return SubDiscoveryPayload{}, b, err
		}
		p.PingAck.OwnRandom, b, err = msgp.ReadUint32Bytes(b)
		if err != nil {
			return SubDiscoveryPayload{}, b, err
		}
	default:
		return SubDiscoveryPayload{}, b, fmt.Errorf("%w: SubDiscoveryKind=%d", ErrUnknownVariant, rawKind)
	}
	return p, b, nil
}

// DomTokenGrantPayload authorizes the addressee (carried by the
// LineMessage header's Dst) to transmit for up to MaxTimeUs
// microseconds; the Sub must release the token with the matching
// Random before that window elapses even if it still has data queued.
type DomTokenGrantPayload struct {
	Random    uint32
	MaxTimeUs uint32
}

func (p DomTokenGrantPayload) AppendMsg(b []byte) []byte {
	b = msgp.AppendArrayHeader(b, 2)
	b = msgp.AppendUint32(b, p.Random)
	b = msgp.AppendUint32(b, p.MaxTimeUs)
	return b
}

func ReadDomTokenGrantPayload(b []byte) (DomTokenGrantPayload, []byte, error) {
	sz, b, err := msgp.ReadArrayHeaderBytes(b)
	if err != nil {
		return DomTokenGrantPayload{}, b, err
	}
	if sz != 2 {
		return DomTokenGrantPayload{}, b, errors.New("wire: malformed DomTokenGrantPayload")
	}
	random, b, err := msgp.ReadUint32Bytes(b)
	if err != nil {
		return DomTokenGrantPayload{}, b, err
	}
	maxTime, b, err := msgp.ReadUint32Bytes(b)
	if err != nil {
		return DomTokenGrantPayload{}, b, err
	}
	return DomTokenGrantPayload{Random: random, MaxTimeUs: maxTime}, b, nil
}

// SubTokenReleasePayload hands the token back to Dom, echoing the
// Random from the grant it is releasing so Dom can confirm this
// release matches the outstanding grant and not a stale one.
type SubTokenReleasePayload struct {
	Random uint32
}

func (p SubTokenReleasePayload) AppendMsg(b []byte) []byte {
	b = msgp.AppendArrayHeader(b, 1)
	b = msgp.AppendUint32(b, p.Random)
	return b
}

func ReadSubTokenReleasePayload(b []byte) (SubTokenReleasePayload, []byte, error) {
	sz, b, err := msgp.ReadArrayHeaderBytes(b)
	if err != nil {
		return SubTokenReleasePayload{}, b, err
	}
	if sz != 1 {
		return SubTokenReleasePayload{}, b, errors.New("wire: malformed SubTokenReleasePayload")
	}
	random, b, err := msgp.ReadUint32Bytes(b)
	if err != nil {
		return SubTokenReleasePayload{}, b, err
	}
	return SubTokenReleasePayload{Random: random}, b, nil
}

// addr32 reproduces `u32::from_ne_bytes([addr; 4])` from the original
// Rust checksum: the address byte repeated across all four bytes of a
// native-endian u32. Go has no "native endian" concept for plain
// integer arithmetic, so this fixes little-endian, which is what the
// original target (Cortex-M, via nRF52) used.
func addr32(a Addr) uint32 {
	v := uint32(a)
	return v | v<<8 | v<<16 | v<<24
}

// Checksum computes C(addr, r_dom, r_sub) = (((addr32*r_dom)+r_dom)*r_sub)+r_sub,
// all wrapping uint32 arithmetic — the collision-detection witness
// both sides of a discovery handshake recompute independently.
func Checksum(addr Addr, rDom, rSub uint32) uint32 {
	h := addr32(addr)
	h = h*rDom + rDom
	h = h*rSub + rSub
	return h
}

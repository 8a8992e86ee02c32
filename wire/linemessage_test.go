package wire

import (
	"testing"

	"github.com/anachro-go/rs485bus/slab"
)

func TestLineMessageFrameRoundTrip(t *testing.T) {
	p := slab.NewPool(2, 64)
	if err := p.Init(); err != nil {
		t.Fatal(err)
	}

	payload := DomTokenGrantPayload{Random: 77, MaxTimeUs: 12345}.AppendMsg(nil)
	msg := LineMessage{
		Hdr: LineMessageHeader{
			Src: AddrPort{Addr: Local(AddrDom), Port: PortToken},
			Dst: AddrPort{Addr: Local(9), Port: PortToken},
		},
		Msg: slab.Borrowed(payload),
	}

	frame, err := EncodeFrame(nil, nil, msg)
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	if n := countZeros(frame); n != 1 {
		t.Fatalf("frame has %d zero bytes, want exactly 1", n)
	}

	var scratch []byte
	decoded, err := DecodeFrame(scratch, frame)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	srcAddr, _ := decoded.Hdr.Src.Addr.AsLocal()
	dstAddr, _ := decoded.Hdr.Dst.Addr.AsLocal()
	if srcAddr != AddrDom || dstAddr != 9 {
		t.Fatalf("header mismatch: %+v", decoded.Hdr)
	}
	got, _, err := ReadDomTokenGrantPayload(decoded.Msg.Bytes())
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if got.Random != 77 || got.MaxTimeUs != 12345 {
		t.Fatalf("payload mismatch: %+v", got)
	}
}

func TestLineMessageRerootAcrossChunks(t *testing.T) {
	p := slab.NewPool(1, 64)
	if err := p.Init(); err != nil {
		t.Fatal(err)
	}
	box, err := p.AllocBox()
	if err != nil {
		t.Fatal(err)
	}
	arc := box.IntoArc()
	defer arc.Free()

	payload := SubTokenReleasePayload{Random: 77}.AppendMsg(nil)
	copy(arc.Bytes(), payload)
	view := slab.Borrowed(arc.Bytes()[:len(payload)])

	msg := LineMessage{
		Hdr: LineMessageHeader{Src: AddrPort{Addr: Local(4)}, Dst: AddrPort{Addr: Local(AddrDom)}},
		Msg: view,
	}

	key := arc.RerooterKey()
	rooted, err := msg.Reroot(key)
	if err != nil {
		t.Fatalf("Reroot: %v", err)
	}
	if !rooted.Msg.IsOwned() {
		t.Fatal("rerooted LineMessage payload should be Owned")
	}
	got, _, err := ReadSubTokenReleasePayload(rooted.Msg.Bytes())
	if err != nil || got.Random != 77 {
		t.Fatalf("payload after reroot: %+v, err %v", got, err)
	}
	rooted.Msg.Free()
}

// TestFrameFormatSingleTerminator is scenario 6 from spec.md §8: a
// LineMessage with a Dom source and broadcast destination, empty
// payload, encodes to a non-empty byte sequence terminated by exactly
// one 0x00, and decodes back to an equal struct.
func TestFrameFormatSingleTerminator(t *testing.T) {
	msg := LineMessage{
		Hdr: LineMessageHeader{
			Src: AddrPort{Addr: Local(AddrDom), Port: PortDiscovery},
			Dst: AddrPort{Addr: Local(AddrUnassigned), Port: PortDiscovery},
		},
		Msg: slab.Borrowed(nil),
	}
	frame, err := EncodeFrame(nil, nil, msg)
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	if len(frame) == 0 {
		t.Fatal("encoded frame must not be empty")
	}
	if n := countZeros(frame); n != 1 {
		t.Fatalf("frame has %d zero bytes, want exactly 1", n)
	}
	if frame[len(frame)-1] != 0 {
		t.Fatal("frame must end in the 0x00 terminator")
	}

	decoded, err := DecodeFrame(nil, frame)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	srcAddr, _ := decoded.Hdr.Src.Addr.AsLocal()
	dstAddr, _ := decoded.Hdr.Dst.Addr.AsLocal()
	if srcAddr != AddrDom || dstAddr != AddrUnassigned {
		t.Fatalf("header mismatch after round trip: %+v", decoded.Hdr)
	}
	if decoded.Hdr.Src.Port != PortDiscovery || decoded.Hdr.Dst.Port != PortDiscovery {
		t.Fatalf("port mismatch after round trip: %+v", decoded.Hdr)
	}
	if len(decoded.Msg.Bytes()) != 0 {
		t.Fatalf("expected empty payload, got %v", decoded.Msg.Bytes())
	}
}

func countZeros(b []byte) int {
	n := 0
	for _, x := range b {
		if x == 0 {
			n++
		}
	}
	return n
}

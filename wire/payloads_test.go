package wire

import "testing"

func TestDomDiscoveryPayloadRoundTrip(t *testing.T) {
	cases := []DomDiscoveryPayload{
		{Kind: KindDiscoverInitial, DiscoverInitial: DiscoverInitialBody{
			Random: 42, MinWaitUs: 1000, MaxWaitUs: 5000,
			Offers: AddrList{Items: []Addr{1, 2, 3}},
		}},
		{Kind: KindDiscoverAckAck, DiscoverAckAck: DiscoverAckAckBody{OwnID: 7, OwnRandom: 99, Checksum: 0xdeadbeef}},
		{Kind: KindPingReq, PingReq: PingReqBody{Random: 5, MinWaitUs: 10000, MaxWaitUs: 50000}},
	}
	for _, p := range cases {
		b, err := p.AppendMsg(nil)
		if err != nil {
			t.Fatalf("kind %d: AppendMsg: %v", p.Kind, err)
		}
		got, rest, err := ReadDomDiscoveryPayload(b)
		if err != nil {
			t.Fatalf("kind %d: %v", p.Kind, err)
		}
		if len(rest) != 0 {
			t.Fatalf("kind %d: trailing bytes %v", p.Kind, rest)
		}
		if got.Kind != p.Kind {
			t.Fatalf("kind mismatch: got %d want %d", got.Kind, p.Kind)
		}
		switch p.Kind {
		case KindDiscoverInitial:
			if got.DiscoverInitial.Random != p.DiscoverInitial.Random ||
				got.DiscoverInitial.MinWaitUs != p.DiscoverInitial.MinWaitUs ||
				got.DiscoverInitial.MaxWaitUs != p.DiscoverInitial.MaxWaitUs ||
				len(got.DiscoverInitial.Offers.Items) != len(p.DiscoverInitial.Offers.Items) {
				t.Fatalf("DiscoverInitial round-trip mismatch: got %+v want %+v", got.DiscoverInitial, p.DiscoverInitial)
			}
		case KindDiscoverAckAck:
			if got.DiscoverAckAck != p.DiscoverAckAck {
				t.Fatalf("DiscoverAckAck mismatch: got %+v want %+v", got.DiscoverAckAck, p.DiscoverAckAck)
			}
		case KindPingReq:
			if got.PingReq != p.PingReq {
				t.Fatalf("PingReq mismatch: got %+v want %+v", got.PingReq, p.PingReq)
			}
		}
	}
}

func TestSubDiscoveryPayloadRoundTrip(t *testing.T) {
	cases := []SubDiscoveryPayload{
		{Kind: KindDiscoverAck, DiscoverAck: DiscoverAckBody{OwnID: 3, Checksum: 777, OwnRandom: 99}},
		{Kind: KindPingAck, PingAck: PingAckBody{Checksum: 12345, OwnRandom: 8}},
	}
	for _, p := range cases {
		b := p.AppendMsg(nil)
		got, rest, err := ReadSubDiscoveryPayload(b)
		if err != nil {
			t.Fatalf("kind %d: %v", p.Kind, err)
		}
		if len(rest) != 0 {
			t.Fatalf("kind %d: trailing bytes %v", p.Kind, rest)
		}
		if got != p {
			t.Fatalf("kind %d: round-trip mismatch: got %+v want %+v", p.Kind, got, p)
		}
	}
}

func TestTokenPayloadsRoundTrip(t *testing.T) {
	grant := DomTokenGrantPayload{Random: 0xAA, MaxTimeUs: 50000}
	b := grant.AppendMsg(nil)
	got, _, err := ReadDomTokenGrantPayload(b)
	if err != nil || got != grant {
		t.Fatalf("grant round-trip: got %+v, err %v", got, err)
	}

	release := SubTokenReleasePayload{Random: 0xAA}
	b = release.AppendMsg(nil)
	gotR, _, err := ReadSubTokenReleasePayload(b)
	if err != nil || gotR != release {
		t.Fatalf("release round-trip: got %+v, err %v", gotR, err)
	}
}

// Checksum is the invariant discovery relies on for collision
// detection: both sides must compute the same value from the same
// (addr, r_dom, r_sub) triple, and different addresses assigned in
// the same round must not collide under it for small inputs.
func TestChecksumAgreesBothSidesAndDiscriminatesAddr(t *testing.T) {
	const rDom, rSub = 0x1234, 0x5678
	a := Checksum(3, rDom, rSub)
	b := Checksum(3, rDom, rSub)
	if a != b {
		t.Fatal("checksum must be a pure function of its inputs")
	}
	if Checksum(3, rDom, rSub) == Checksum(4, rDom, rSub) {
		t.Fatal("checksum should discriminate between addresses sharing a round's randoms")
	}
}

// TestDiscoveryHandshakeChecksumRoundTrip is the protocol round-trip
// property from spec.md §8: a DiscoverAck the Sub builds validates
// under the Dom's independent recomputation, and vice versa for
// DiscoverAckAck, for arbitrary (addr, dom_random, sub_random).
func TestDiscoveryHandshakeChecksumRoundTrip(t *testing.T) {
	cases := []struct {
		addr           Addr
		domRnd, subRnd uint32
	}{
		{1, 0, 0},
		{31, 1, 1},
		{17, 0xFFFFFFFF, 0xFFFFFFFF},
		{5, 0x12345678, 0x9abcdef0},
	}
	for _, c := range cases {
		ack := DiscoverAckBody{OwnID: c.addr, OwnRandom: c.subRnd, Checksum: Checksum(c.addr, c.domRnd, c.subRnd)}
		if ack.Checksum != Checksum(ack.OwnID, c.domRnd, ack.OwnRandom) {
			t.Fatalf("dom-side recheck of DiscoverAck failed for %+v", c)
		}
		ackAck := DiscoverAckAckBody{OwnID: c.addr, OwnRandom: c.domRnd, Checksum: Checksum(c.addr, c.domRnd, c.subRnd)}
		if ackAck.Checksum != Checksum(ackAck.OwnID, ackAck.OwnRandom, c.subRnd) {
			t.Fatalf("sub-side recheck of DiscoverAckAck failed for %+v", c)
		}
	}
}

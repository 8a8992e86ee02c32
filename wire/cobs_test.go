package wire

import (
	"bytes"
	"testing"
)

func TestCobsRoundTrip(t *testing.T) {
	cases := [][]byte{
		{},
		{0x01},
		{0x00},
		{0x00, 0x00, 0x00},
		bytes.Repeat([]byte{0x11}, 254),
		bytes.Repeat([]byte{0x11}, 255),
		bytes.Repeat([]byte{0x11}, 512),
		append(bytes.Repeat([]byte{0x01}, 253), 0x00, 0x02),
	}
	for i, src := range cases {
		enc := CobsEncode(nil, src)
		if n := bytes.Count(enc, []byte{0x00}); n != 1 {
			t.Fatalf("case %d: frame has %d zero bytes, want exactly 1 (the terminator)", i, n)
		}
		if enc[len(enc)-1] != 0x00 {
			t.Fatalf("case %d: frame does not end in the terminator", i)
		}
		dec, err := CobsDecode(nil, enc)
		if err != nil {
			t.Fatalf("case %d: decode: %v", i, err)
		}
		if !bytes.Equal(dec, src) {
			t.Fatalf("case %d: round-trip mismatch: got %v want %v", i, dec, src)
		}
	}
}

func TestCobsDecodeRejectsMissingTerminator(t *testing.T) {
	if _, err := CobsDecode(nil, []byte{0x01, 0x02}); err != ErrZeroInFrame {
		t.Fatalf("got %v, want ErrZeroInFrame", err)
	}
}

func TestCobsDecodeRejectsEmpty(t *testing.T) {
	if _, err := CobsDecode(nil, nil); err != ErrEmptyFrame {
		t.Fatalf("got %v, want ErrEmptyFrame", err)
	}
}

func TestCobsEncodeAppendsToExistingBuffer(t *testing.T) {
	dst := []byte{0xAA, 0xBB}
	enc := CobsEncode(dst, []byte("hi"))
	if !bytes.Equal(enc[:2], []byte{0xAA, 0xBB}) {
		t.Fatal("CobsEncode must append, not overwrite, the destination prefix")
	}
	dec, err := CobsDecode(nil, enc[2:])
	if err != nil {
		t.Fatal(err)
	}
	if string(dec) != "hi" {
		t.Fatalf("got %q, want %q", dec, "hi")
	}
}

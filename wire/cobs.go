// Package wire implements the on-the-line frame format: COBS byte
// stuffing around a postcard-style compact binary encoding of
// LineMessage, terminated by a single zero byte. No third-party COBS
// implementation appears anywhere in the retrieval pack, so the codec
// here is hand-rolled; everything downstream of framing (integer and
// byte-string encoding) rides on github.com/tinylib/msgp/msgp's
// runtime append/read helpers instead of hand-rolled varint logic.
package wire

import "errors"

// ErrZeroInFrame is returned by CobsDecode when a decoded region
// would contain an embedded zero byte, which can only happen if the
// input was corrupted or truncated mid-frame.
var ErrZeroInFrame = errors.New("wire: corrupt COBS frame (embedded zero)")

// ErrEmptyFrame is returned by CobsDecode when handed a zero-length
// input.
var ErrEmptyFrame = errors.New("wire: empty COBS frame")

// CobsEncode appends the COBS encoding of src to dst, followed by the
// single 0x00 frame terminator, and returns the extended slice. src
// must not itself contain the terminator; COBS's whole purpose is to
// remove zero bytes from the payload before the terminator is added.
func CobsEncode(dst, src []byte) []byte {
	if len(src) == 0 {
		return append(dst, 0x01, 0x00)
	}

	start := len(dst)
	dst = append(dst, 0) // placeholder for the first code byte
	codeIdx := start
	code := byte(1)

	for _, b := range src {
		if b == 0 {
			dst[codeIdx] = code
			codeIdx = len(dst)
			dst = append(dst, 0) // placeholder for next code byte
			code = 1
			continue
		}
		dst = append(dst, b)
		code++
		if code == 0xFF {
			dst[codeIdx] = code
			codeIdx = len(dst)
			dst = append(dst, 0)
			code = 1
		}
	}
	dst[codeIdx] = code
	return append(dst, 0x00)
}

// CobsDecode reverses CobsEncode. frame must include the trailing
// 0x00 terminator; it is consumed but not included in the result.
// Decoding happens in place into dst (which may alias frame's backing
// array starting at the same offset, since the decoded form is always
// shorter than or equal in length to the encoded one) and the decoded
// slice is returned.
func CobsDecode(dst, frame []byte) ([]byte, error) {
	if len(frame) == 0 {
		return nil, ErrEmptyFrame
	}
	if frame[len(frame)-1] != 0x00 {
		return nil, ErrZeroInFrame
	}
	body := frame[:len(frame)-1]
	start := len(dst)

	i := 0
	for i < len(body) {
		code := body[i]
		if code == 0 {
			return nil, ErrZeroInFrame
		}
		i++
		n := int(code) - 1
		if i+n > len(body) {
			return nil, ErrZeroInFrame
		}
		dst = append(dst, body[i:i+n]...)
		i += n
		if code != 0xFF && i < len(body) {
			dst = append(dst, 0)
		}
	}
	return dst[start:], nil
}

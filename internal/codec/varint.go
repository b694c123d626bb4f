package codec

import "errors"

// ErrTruncated is returned by the Decode* functions when buf ends before a
// terminal byte (MSB clear) is found.
var ErrTruncated = errors.New("codec: varint truncated")

// AppendUvarint encodes v as an unsigned LEB128 varint (seven payload bits
// per byte, little-endian, MSB set on every non-terminal byte) and appends
// it to dst, returning the grown slice.
func AppendUvarint(dst []byte, v uint64) []byte {
	for {
		if v < 0x80 {
			return append(dst, byte(v))
		}
		dst = append(dst, byte(v&0x7f)|0x80)
		v >>= 7
	}
}

// DecodeUvarint decodes an unsigned varint from the start of buf, returning
// the value and the number of bytes consumed. It returns ErrTruncated if buf
// ends without a terminal byte.
func DecodeUvarint(buf []byte) (uint64, int, error) {
	var v uint64
	var shift uint
	for i, b := range buf {
		v |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return v, i + 1, nil
		}
		shift += 7
	}
	return 0, 0, ErrTruncated
}

// AppendVarint encodes v as a signed varint: the continuation scheme is
// identical to the unsigned form, but the terminal byte is emitted as soon
// as v fits entirely within its seven bits under arithmetic (sign-extending)
// shift, i.e. -64 <= v <= 63. This is not zigzag encoding.
func AppendVarint(dst []byte, v int32) []byte {
	for {
		if -0x40 <= v && v <= 0x3f {
			return append(dst, byte(v)&0x7f)
		}
		dst = append(dst, byte(v&0x7f)|0x80)
		v >>= 7
	}
}

// DecodeVarint decodes a signed varint encoded by AppendVarint, returning the
// value and the number of bytes consumed.
func DecodeVarint(buf []byte) (int32, int, error) {
	var v int32
	var shift uint
	for i, b := range buf {
		v |= int32(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			// Sign-extend from the bit width consumed so far.
			if shift < 32 && b&0x40 != 0 {
				v |= -1 << shift
			}
			return v, i + 1, nil
		}
	}
	return 0, 0, ErrTruncated
}

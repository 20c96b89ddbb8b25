package mtrace

// maxVarintBytes bounds how many bytes a single varint may occupy before
// decodeVarint gives up with VarintOverflow. 10 bytes of 7 bits each
// covers a full uint64.
const maxVarintBytes = 10

// appendVarint appends the little-endian base-128 encoding of v to buf
// and returns the extended slice. Unsigned only; encoding is infallible
// for any uint64.
func appendVarint(buf []byte, v uint64) []byte {
	for v > 0x7f {
		buf = append(buf, byte(v&0x7f)|0x80)
		v >>= 7
	}
	return append(buf, byte(v))
}

// decodeVarint reads a varint from buf starting at offset. It returns the
// decoded value and the offset just past the bytes it consumed. An error
// is returned if buf is exhausted before a terminating byte (TruncatedStream)
// or maxVarintBytes bytes pass without a terminating byte (VarintOverflow).
func decodeVarint(buf []byte, offset int) (uint64, int, error) {
	var value uint64
	var shift uint
	pos := offset
	for i := 0; i < maxVarintBytes; i++ {
		if pos >= len(buf) {
			return 0, pos, errTruncatedStream("varint")
		}
		b := buf[pos]
		pos++
		value |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return value, pos, nil
		}
		shift += 7
	}
	return 0, pos, errVarintOverflow()
}

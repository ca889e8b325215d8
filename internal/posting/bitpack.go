package posting

import "math/bits"

// bitWidth returns the number of bits needed for the largest value.
func bitWidth(vals []uint32) uint8 {
	var acc uint32
	for _, v := range vals {
		acc |= v
	}
	return uint8(bits.Len32(acc))
}

// packedLen returns the byte length of n values packed at width bits.
func packedLen(n int, width uint8) int {
	return (n*int(width) + 7) / 8
}

// appendPacked appends vals packed LSB first at width bits each.
func appendPacked(dst []byte, vals []uint32, width uint8) []byte {
	if width == 0 {
		return dst
	}
	var acc uint64
	var nbits uint
	for _, v := range vals {
		acc |= uint64(v) << nbits
		nbits += uint(width)
		for nbits >= 8 {
			dst = append(dst, byte(acc))
			acc >>= 8
			nbits -= 8
		}
	}
	if nbits > 0 {
		dst = append(dst, byte(acc))
	}
	return dst
}

// unpack decodes len(dst) values of width bits from src.
// src must hold at least packedLen(len(dst), width) bytes.
func unpack(dst []uint32, src []byte, width uint8) {
	if width == 0 {
		clear(dst)
		return
	}
	mask := uint64(1)<<width - 1
	var acc uint64
	var nbits uint
	pos := 0
	for i := range dst {
		for nbits < uint(width) {
			acc |= uint64(src[pos]) << nbits
			pos++
			nbits += 8
		}
		dst[i] = uint32(acc & mask)
		acc >>= width
		nbits -= uint(width)
	}
}

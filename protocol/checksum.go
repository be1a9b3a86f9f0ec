package protocol

import (
	"fmt"
	"hash/crc32"
)

// FlashErasedByte is the value flash cells hold after an erase. Images are
// padded with it to a word boundary before summation, matching what the hub
// reads back from flash.
const FlashErasedByte = 0xFF

// CalculateChecksum computes the checksum of a firmware image with the given
// algorithm. The same algorithms run on the hub for the Get Checksum command,
// so a host-side result is directly comparable to the hub's answer.
func CalculateChecksum(algorithm byte, data []byte) (uint32, error) {
	switch algorithm {
	case ChecksumSum32:
		return calculateSum32(data), nil
	case ChecksumCRC32:
		return crc32.ChecksumIEEE(data), nil
	default:
		return 0, fmt.Errorf("unknown checksum algorithm 0x%02X", algorithm)
	}
}

// calculateSum32 sums the data as little-endian 32-bit words, truncated to
// 32 bits. A trailing partial word is padded with FlashErasedByte.
func calculateSum32(data []byte) uint32 {
	var sum uint32
	i := 0
	for ; i+4 <= len(data); i += 4 {
		sum += uint32(data[i]) | uint32(data[i+1])<<8 | uint32(data[i+2])<<16 | uint32(data[i+3])<<24
	}

	if i < len(data) {
		var word uint32
		for j := 0; j < 4; j++ {
			b := byte(FlashErasedByte)
			if i+j < len(data) {
				b = data[i+j]
			}
			word |= uint32(b) << (8 * j)
		}
		sum += word
	}

	return sum
}

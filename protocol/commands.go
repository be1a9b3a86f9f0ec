package protocol

import (
	"encoding/binary"
	"fmt"
)

// BuildGetInfoCmd constructs a Get Info command message.
// The hub answers with its bootloader version, flash bounds and hub type.
//
// Message structure:
//
//	[CMD]
func BuildGetInfoCmd() ([]byte, error) {
	return []byte{CmdGetInfo}, nil
}

// BuildEraseFlashCmd constructs an Erase Flash command message.
// Erases the flash region [start, start+length) in a single operation.
//
// Message structure:
//
//	[CMD][START(4)][LENGTH(4)]
//
// All multi-byte fields are little-endian.
func BuildEraseFlashCmd(start, length uint32) ([]byte, error) {
	if length == 0 {
		return nil, fmt.Errorf("erase length cannot be zero")
	}

	frame := make([]byte, 0, 9)
	frame = append(frame, CmdEraseFlash)
	frame = binary.LittleEndian.AppendUint32(frame, start)
	frame = binary.LittleEndian.AppendUint32(frame, length)

	return frame, nil
}

// BuildWriteChunkCmd constructs a Program Flash command message.
// Writes one chunk of firmware at the given absolute flash address.
//
// Message structure:
//
//	[CMD][SIZE][ADDRESS(4)][DATA...]
//
// SIZE counts the data bytes only. The hub acknowledges each chunk with the
// address it wrote, so identical chunks can be re-sent safely.
func BuildWriteChunkCmd(address uint32, data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("data cannot be empty")
	}
	if len(data) > MaxChunkDataSize {
		return nil, fmt.Errorf("data length %d exceeds maximum %d bytes", len(data), MaxChunkDataSize)
	}

	frame := make([]byte, 0, WriteChunkHeaderSize+len(data))
	frame = append(frame, CmdProgramFlash)
	frame = append(frame, byte(len(data)))
	frame = binary.LittleEndian.AppendUint32(frame, address)
	frame = append(frame, data...)

	return frame, nil
}

// BuildGetChecksumCmd constructs a Get Checksum command message.
// The hub computes the checksum of the flash region [start, start+length)
// with the requested algorithm.
//
// Message structure:
//
//	[CMD][ALGORITHM][START(4)][LENGTH(4)]
func BuildGetChecksumCmd(algorithm byte, start, length uint32) ([]byte, error) {
	if algorithm != ChecksumSum32 && algorithm != ChecksumCRC32 {
		return nil, fmt.Errorf("unknown checksum algorithm 0x%02X", algorithm)
	}
	if length == 0 {
		return nil, fmt.Errorf("checksum length cannot be zero")
	}

	frame := make([]byte, 0, 10)
	frame = append(frame, CmdGetChecksum)
	frame = append(frame, algorithm)
	frame = binary.LittleEndian.AppendUint32(frame, start)
	frame = binary.LittleEndian.AppendUint32(frame, length)

	return frame, nil
}

// BuildStartAppCmd constructs a Start App command message.
// The hub validates the written firmware and reboots into it. No response is
// sent; the link dropping shortly after is the expected outcome.
//
// Message structure:
//
//	[CMD]
func BuildStartAppCmd() ([]byte, error) {
	return []byte{CmdStartApp}, nil
}

// BuildGetFlashStateCmd constructs a Get Flash State command message.
// The hub answers with its flash protection level.
//
// Message structure:
//
//	[CMD]
func BuildGetFlashStateCmd() ([]byte, error) {
	return []byte{CmdGetFlashState}, nil
}

// BuildDisconnectCmd constructs a Disconnect command message.
// The hub drops the link without rebooting. No response is sent.
//
// Message structure:
//
//	[CMD]
func BuildDisconnectCmd() ([]byte, error) {
	return []byte{CmdDisconnect}, nil
}

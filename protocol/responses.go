package protocol

import (
	"encoding/binary"
	"fmt"
)

// ParseResponse validates a message received from the hub and splits it into
// the command it answers and the payload that follows.
//
// Response message structure:
//
//	[CMD][DATA...]
//
// The hub reports commands it cannot handle with an error message
// [MsgError][CMD][CODE]; those are returned as a *CommandError for the
// offending command.
func ParseResponse(frame []byte) (cmd byte, data []byte, err error) {
	if len(frame) < MinFrameSize {
		return 0, nil, fmt.Errorf("frame too short: got %d bytes, minimum is %d", len(frame), MinFrameSize)
	}

	if frame[0] == MsgError {
		if len(frame) != ErrorMessageSize {
			return 0, nil, fmt.Errorf("malformed error message: got %d bytes, expected %d", len(frame), ErrorMessageSize)
		}
		return frame[1], nil, &CommandError{Command: frame[1], Code: frame[2]}
	}

	switch frame[0] {
	case CmdEraseFlash, CmdProgramFlash, CmdGetInfo, CmdGetChecksum, CmdGetFlashState:
	default:
		return 0, nil, fmt.Errorf("unknown response 0x%02X", frame[0])
	}

	return frame[0], frame[1:], nil
}

// ParseInfoResponse parses the Get Info command response.
// Returns bootloader identification and transfer limits.
//
// Data format (InfoResponseSize bytes, optionally extended):
//
//	[VERSION(4)][FLASH_START(4)][FLASH_END(4)][HUB_TYPE(1)][MAX_DATA(1)][WINDOW(1)]
//
// The trailing MAX_DATA and WINDOW bytes are missing on older bootloaders;
// DefaultMaxDataSize and DefaultWindowSize apply then.
func ParseInfoResponse(data []byte) (*Info, error) {
	if len(data) != InfoResponseSize && len(data) != InfoResponseSizeExt {
		return nil, fmt.Errorf("invalid data length for Get Info response: got %d bytes, expected %d or %d",
			len(data), InfoResponseSize, InfoResponseSizeExt)
	}

	info := &Info{
		Version:     DecodeVersion(binary.LittleEndian.Uint32(data[0:4])),
		FlashStart:  binary.LittleEndian.Uint32(data[4:8]),
		FlashEnd:    binary.LittleEndian.Uint32(data[8:12]),
		HubType:     HubType(data[12]),
		MaxDataSize: DefaultMaxDataSize,
		WindowSize:  DefaultWindowSize,
	}

	if info.FlashEnd < info.FlashStart {
		return nil, fmt.Errorf("invalid flash region: end 0x%08X below start 0x%08X", info.FlashEnd, info.FlashStart)
	}

	if len(data) == InfoResponseSizeExt {
		if data[13] == 0 || data[14] == 0 {
			return nil, fmt.Errorf("invalid transfer limits: max data %d, window %d", data[13], data[14])
		}
		info.MaxDataSize = data[13]
		info.WindowSize = data[14]
	}

	return info, nil
}

// ParseEraseResponse parses the Erase Flash command response.
// Returns the result code; ResultOK means the region was erased.
//
// Data format (1 byte):
//
//	[RESULT]
func ParseEraseResponse(data []byte) (byte, error) {
	if len(data) != EraseResponseSize {
		return 0, fmt.Errorf("invalid data length for Erase Flash response: got %d bytes, expected %d", len(data), EraseResponseSize)
	}

	return data[0], nil
}

// ParseWriteAckResponse parses a Program Flash acknowledgement.
// Returns the result code and the flash address of the chunk it covers.
//
// Data format (5 bytes):
//
//	[RESULT][ADDRESS(4)]
func ParseWriteAckResponse(data []byte) (*WriteAck, error) {
	if len(data) != WriteAckResponseSize {
		return nil, fmt.Errorf("invalid data length for Program Flash response: got %d bytes, expected %d", len(data), WriteAckResponseSize)
	}

	ack := &WriteAck{
		Result:  data[0],
		Address: binary.LittleEndian.Uint32(data[1:5]),
	}

	return ack, nil
}

// ParseChecksumResponse parses the Get Checksum command response.
// Returns the checksum the hub computed over the requested region.
//
// Data format (4 bytes):
//
//	[CHECKSUM(4)]
func ParseChecksumResponse(data []byte) (uint32, error) {
	if len(data) != ChecksumResponseSize {
		return 0, fmt.Errorf("invalid data length for Get Checksum response: got %d bytes, expected %d", len(data), ChecksumResponseSize)
	}

	return binary.LittleEndian.Uint32(data[0:4]), nil
}

// ParseFlashStateResponse parses the Get Flash State command response.
// Returns the flash protection level.
//
// Data format (1 byte):
//
//	[LEVEL]
func ParseFlashStateResponse(data []byte) (byte, error) {
	if len(data) != FlashStateResponseSize {
		return 0, fmt.Errorf("invalid data length for Get Flash State response: got %d bytes, expected %d", len(data), FlashStateResponseSize)
	}

	return data[0], nil
}

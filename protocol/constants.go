package protocol

// ProtocolVersion is the LEGO Wireless Protocol v3 bootloader service version
// implemented by this library.
const ProtocolVersion = "3.0"

// MinFrameSize is the minimum message size in bytes: a bare command opcode.
const MinFrameSize = 1

// Command codes per LWP3 bootloader service section 3.
const (
	// CmdEraseFlash erases the application flash region
	CmdEraseFlash = 0x11

	// CmdProgramFlash writes one chunk of firmware to flash
	CmdProgramFlash = 0x22

	// CmdStartApp reboots the hub into the newly written firmware
	CmdStartApp = 0x33

	// CmdGetInfo queries bootloader version, flash bounds and hub type
	CmdGetInfo = 0x55

	// CmdGetChecksum asks the hub to checksum a flash region
	CmdGetChecksum = 0x66

	// CmdGetFlashState queries the flash protection level
	CmdGetFlashState = 0x77

	// CmdDisconnect asks the hub to drop the link
	CmdDisconnect = 0x88
)

// MsgError is the first byte of an error message sent by the hub when a
// command cannot be handled at all. Layout: [MsgError][CMD][CODE].
const MsgError = 0x05

// Error codes carried in an error message.
const (
	// ErrCodeUnknownCommand indicates the command byte is not recognized
	ErrCodeUnknownCommand = 0x01

	// ErrCodeInvalidLength indicates the payload length does not match the command
	ErrCodeInvalidLength = 0x02

	// ErrCodeBusy indicates a previous command is still being processed
	ErrCodeBusy = 0x03

	// ErrCodeFault indicates an internal bootloader fault
	ErrCodeFault = 0x04
)

// Result codes carried in erase and program acknowledgements.
const (
	// ResultOK indicates the operation succeeded
	ResultOK = 0x00

	// ResultInvalidAddress indicates the address is outside the writable region
	ResultInvalidAddress = 0x01

	// ResultInvalidLength indicates the length is out of range
	ResultInvalidLength = 0x02

	// ResultBusy indicates the flash controller was busy
	ResultBusy = 0x03

	// ResultWriteFault indicates the erase or write physically failed
	ResultWriteFault = 0x04
)

// Checksum algorithm identifiers, used both in GetChecksum requests and for
// firmware archive validation.
const (
	// ChecksumSum32 sums the image as little-endian 32-bit words
	ChecksumSum32 = 0x00

	// ChecksumCRC32 uses CRC-32 (IEEE polynomial)
	ChecksumCRC32 = 0x01
)

// MaxChunkDataSize is the absolute upper bound on a program chunk payload,
// limited by the one-byte size field. The usable size per hub is smaller and
// reported by GetInfo.
const MaxChunkDataSize = 255

// WriteChunkHeaderSize is the fixed overhead of a ProgramFlash message:
// CMD(1) + SIZE(1) + ADDRESS(4).
const WriteChunkHeaderSize = 6

// DefaultMaxDataSize is the chunk payload size assumed when GetInfo does not
// report one. Matches the smallest BLE bootloaders.
const DefaultMaxDataSize = 14

// DefaultWindowSize is the number of unacknowledged chunks assumed to be
// acceptable when GetInfo does not report a window.
const DefaultWindowSize = 1

// Response data sizes, counted after the leading response opcode byte.
const (
	// InfoResponseSize is the base GetInfo payload:
	// VERSION(4) + FLASH_START(4) + FLASH_END(4) + HUB_TYPE(1)
	InfoResponseSize = 13

	// InfoResponseSizeExt adds the optional MAX_DATA(1) + WINDOW(1) bytes
	InfoResponseSizeExt = 15

	// EraseResponseSize is the EraseFlash payload: RESULT(1)
	EraseResponseSize = 1

	// WriteAckResponseSize is the ProgramFlash payload: RESULT(1) + ADDRESS(4)
	WriteAckResponseSize = 5

	// ChecksumResponseSize is the GetChecksum payload: CHECKSUM(4)
	ChecksumResponseSize = 4

	// FlashStateResponseSize is the GetFlashState payload: LEVEL(1)
	FlashStateResponseSize = 1

	// ErrorMessageSize is the size of a whole error message:
	// MsgError(1) + CMD(1) + CODE(1)
	ErrorMessageSize = 3
)

package protocol

import "fmt"

// HubType identifies a hub model as reported by the bootloader and as
// declared in firmware archive metadata.
type HubType byte

// Known hub types per the LWP3 system type registry.
const (
	// HubTypeMoveHub is the BOOST Move hub
	HubTypeMoveHub HubType = 0x40

	// HubTypeCityHub is the City hub
	HubTypeCityHub HubType = 0x41

	// HubTypeTechnicHub is the Technic hub
	HubTypeTechnicHub HubType = 0x80

	// HubTypePrimeHub is the SPIKE Prime hub
	HubTypePrimeHub HubType = 0x81

	// HubTypeInventorHub is the MINDSTORMS Robot Inventor hub
	HubTypeInventorHub HubType = 0x82

	// HubTypeEssentialHub is the SPIKE Essential hub
	HubTypeEssentialHub HubType = 0x83
)

// IsValid reports whether t is a known hub type.
func (t HubType) IsValid() bool {
	switch t {
	case HubTypeMoveHub, HubTypeCityHub, HubTypeTechnicHub,
		HubTypePrimeHub, HubTypeInventorHub, HubTypeEssentialHub:
		return true
	}
	return false
}

// String returns the marketing name for the hub type.
func (t HubType) String() string {
	switch t {
	case HubTypeMoveHub:
		return "BOOST Move hub"
	case HubTypeCityHub:
		return "City hub"
	case HubTypeTechnicHub:
		return "Technic hub"
	case HubTypePrimeHub:
		return "SPIKE Prime hub"
	case HubTypeInventorHub:
		return "Robot Inventor hub"
	case HubTypeEssentialHub:
		return "SPIKE Essential hub"
	default:
		return fmt.Sprintf("unknown hub type 0x%02X", byte(t))
	}
}

// Info contains bootloader identification returned by the Get Info command.
type Info struct {
	// Version is the bootloader firmware version
	Version Version

	// FlashStart is the first writable flash address
	FlashStart uint32

	// FlashEnd is the last writable flash address (inclusive)
	FlashEnd uint32

	// HubType identifies the hub model
	HubType HubType

	// MaxDataSize is the largest chunk payload the hub accepts
	MaxDataSize byte

	// WindowSize is how many unacknowledged chunks the hub buffers
	WindowSize byte
}

// FlashRegionSize returns the number of writable flash bytes.
func (i *Info) FlashRegionSize() uint32 {
	return i.FlashEnd - i.FlashStart + 1
}

// WriteAck is the acknowledgement for a single programmed chunk.
type WriteAck struct {
	// Result is ResultOK or a failure code
	Result byte

	// Address is the flash address of the acknowledged chunk
	Address uint32
}

// OK reports whether the chunk was written successfully.
func (a *WriteAck) OK() bool {
	return a.Result == ResultOK
}

// Flash protection levels returned by Get Flash State.
const (
	// FlashStateNone means flash is unprotected
	FlashStateNone = 0x00

	// FlashStateReadProtected means level 1 read-out protection is active
	FlashStateReadProtected = 0x01

	// FlashStateLocked means the flash is permanently locked
	FlashStateLocked = 0x02
)

// FlashStateName returns a human-readable name for a flash protection level.
func FlashStateName(level byte) string {
	switch level {
	case FlashStateNone:
		return "none"
	case FlashStateReadProtected:
		return "read protected"
	case FlashStateLocked:
		return "locked"
	default:
		return fmt.Sprintf("unknown level 0x%02X", level)
	}
}

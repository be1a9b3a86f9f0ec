package firmware

import (
	"fmt"

	"github.com/blang/semver/v4"

	"github.com/daphtdazz/pybricks-code/protocol"
)

// SupportedSchemaMajor is the metadata schema generation this library reads.
const SupportedSchemaMajor = 2

// Checksum type names used in archive metadata.
const (
	// ChecksumTypeSum selects 32-bit word summation
	ChecksumTypeSum = "sum"

	// ChecksumTypeCRC32 selects CRC-32 (IEEE)
	ChecksumTypeCRC32 = "crc32"
)

// Metadata is the decoded firmware.metadata.json document from a firmware
// archive. It is immutable after parsing; embedding a hub name or program
// changes the assembled image, never the metadata.
type Metadata struct {
	// MetadataVersion is the schema version of this document
	MetadataVersion string `json:"metadata-version"`

	// DeviceID is the hub type this firmware is built for
	DeviceID protocol.HubType `json:"device-id"`

	// FirmwareVersion is the semantic version of the firmware
	FirmwareVersion string `json:"firmware-version"`

	// ChecksumType names the algorithm behind ImageChecksum
	ChecksumType string `json:"checksum-type"`

	// ImageSize is the size of the firmware image in bytes
	ImageSize uint32 `json:"image-size"`

	// ImageChecksum is the checksum of the pristine firmware image
	ImageChecksum uint32 `json:"image-checksum"`

	// HubNameOffset is where a custom hub name may be embedded, zero if the
	// firmware has no name slot
	HubNameOffset uint32 `json:"hub-name-offset,omitempty"`

	// HubNameSize is the size of the name slot including the terminator
	HubNameSize uint32 `json:"hub-name-size,omitempty"`

	// MainProgramOffset is where a user program may be embedded, zero if the
	// firmware has no program slot
	MainProgramOffset uint32 `json:"main-program-offset,omitempty"`

	// MainProgramMaxSize is the capacity of the program slot
	MainProgramMaxSize uint32 `json:"main-program-max-size,omitempty"`

	// MaxFirmwareSize is the largest image the target hub can hold, zero if
	// the archive does not declare one
	MaxFirmwareSize uint32 `json:"max-firmware-size,omitempty"`
}

// ChecksumAlgorithm returns the protocol checksum algorithm identifier for
// the metadata's checksum type.
func (m *Metadata) ChecksumAlgorithm() (byte, error) {
	switch m.ChecksumType {
	case ChecksumTypeSum:
		return protocol.ChecksumSum32, nil
	case ChecksumTypeCRC32:
		return protocol.ChecksumCRC32, nil
	default:
		return 0, fmt.Errorf("invalid checksum type %q (must be %q or %q)", m.ChecksumType, ChecksumTypeSum, ChecksumTypeCRC32)
	}
}

// schemaVersion parses the metadata-version field. Tolerates short forms
// like "2.0".
func (m *Metadata) schemaVersion() (semver.Version, error) {
	v, err := semver.ParseTolerant(m.MetadataVersion)
	if err != nil {
		return semver.Version{}, fmt.Errorf("invalid metadata version %q: %w", m.MetadataVersion, err)
	}
	return v, nil
}

// validate checks the internal consistency of the metadata document.
// Schema version support is checked separately so it can carry its own
// error type.
func (m *Metadata) validate() error {
	if !m.DeviceID.IsValid() {
		return fmt.Errorf("unknown device id 0x%02X", byte(m.DeviceID))
	}

	if _, err := semver.Parse(m.FirmwareVersion); err != nil {
		return fmt.Errorf("invalid firmware version %q: %w", m.FirmwareVersion, err)
	}

	if _, err := m.ChecksumAlgorithm(); err != nil {
		return err
	}

	if m.ImageSize == 0 {
		return fmt.Errorf("image size cannot be zero")
	}

	if m.HubNameOffset != 0 || m.HubNameSize != 0 {
		if m.HubNameSize < 2 {
			return fmt.Errorf("hub name slot too small: %d bytes", m.HubNameSize)
		}
		if m.HubNameOffset+m.HubNameSize > m.ImageSize {
			return fmt.Errorf("hub name slot [%d, %d) extends past image size %d",
				m.HubNameOffset, m.HubNameOffset+m.HubNameSize, m.ImageSize)
		}
	}

	if m.MainProgramOffset != 0 {
		if m.MainProgramMaxSize == 0 {
			return fmt.Errorf("main program slot declared without a size")
		}
		if m.MainProgramOffset+m.MainProgramMaxSize > m.ImageSize {
			return fmt.Errorf("main program slot [%d, %d) extends past image size %d",
				m.MainProgramOffset, m.MainProgramOffset+m.MainProgramMaxSize, m.ImageSize)
		}
	}

	if m.MaxFirmwareSize != 0 && m.ImageSize > m.MaxFirmwareSize {
		return fmt.Errorf("image size %d exceeds declared maximum %d", m.ImageSize, m.MaxFirmwareSize)
	}

	return nil
}

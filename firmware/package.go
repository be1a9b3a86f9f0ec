package firmware

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/blang/semver/v4"

	"github.com/daphtdazz/pybricks-code/protocol"
)

// Archive member names.
const (
	// ImageMemberName is the firmware image member
	ImageMemberName = "firmware-base.bin"

	// MetadataMemberName is the metadata document member
	MetadataMemberName = "firmware.metadata.json"

	// LicenseMemberName is the open source license text member
	LicenseMemberName = "ReadMe_OSS.txt"

	// MainProgramMemberName is the optional user program member
	MainProgramMemberName = "main.mpy"
)

// Package is a parsed and validated firmware archive.
//
// The base image and metadata never change after parsing. A hub name set
// with SetHubName and a main program shipped in the archive are embedded
// into the assembled image returned by Image, and ImageChecksum reflects
// that assembly.
type Package struct {
	meta        Metadata
	version     semver.Version
	algorithm   byte
	image       []byte
	license     string
	mainProgram []byte
	hubName     string
}

// Parse parses a firmware archive from the given file path.
// Returns the validated package or an error describing what is wrong with
// the archive.
//
// Example:
//
//	pkg, err := firmware.Parse("technichub-3.2.0.zip")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Firmware %s for %s\n", pkg.Version(), pkg.HubType())
func Parse(path string) (*Package, error) {
	rc, err := zip.OpenReader(path)
	if err != nil {
		return nil, &CorruptArchiveError{Detail: "cannot open archive", Err: err}
	}
	defer func() { _ = rc.Close() }()

	return parseArchive(&rc.Reader)
}

// ParseBytes parses a firmware archive held in memory.
// This is useful for testing and for archives fetched over the network.
func ParseBytes(data []byte) (*Package, error) {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, &CorruptArchiveError{Detail: "cannot open archive", Err: err}
	}

	return parseArchive(r)
}

func parseArchive(r *zip.Reader) (*Package, error) {
	var imageFile, metaFile, licenseFile, programFile *zip.File
	for _, f := range r.File {
		switch f.Name {
		case ImageMemberName:
			if imageFile != nil {
				return nil, &CorruptArchiveError{Detail: "multiple firmware images"}
			}
			imageFile = f
		case MetadataMemberName:
			if metaFile != nil {
				return nil, &CorruptArchiveError{Detail: "multiple metadata documents"}
			}
			metaFile = f
		case LicenseMemberName:
			licenseFile = f
		case MainProgramMemberName:
			programFile = f
		}
	}

	if metaFile == nil {
		return nil, &MissingMetadataError{}
	}
	if imageFile == nil {
		return nil, &CorruptArchiveError{Detail: fmt.Sprintf("no %s member", ImageMemberName)}
	}
	if licenseFile == nil {
		return nil, &CorruptArchiveError{Detail: fmt.Sprintf("no %s member", LicenseMemberName)}
	}

	metaBytes, err := readMember(metaFile)
	if err != nil {
		return nil, &CorruptArchiveError{Detail: "cannot read metadata", Err: err}
	}

	var meta Metadata
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		return nil, &CorruptArchiveError{Detail: "invalid metadata document", Err: err}
	}

	schema, err := meta.schemaVersion()
	if err != nil {
		return nil, &UnsupportedSchemaError{Version: meta.MetadataVersion}
	}
	if schema.Major != SupportedSchemaMajor {
		return nil, &UnsupportedSchemaError{Version: meta.MetadataVersion}
	}

	if err := meta.validate(); err != nil {
		return nil, &CorruptArchiveError{Detail: "invalid metadata", Err: err}
	}

	// Validated above.
	version := semver.MustParse(meta.FirmwareVersion)
	algorithm, _ := meta.ChecksumAlgorithm()

	image, err := readMember(imageFile)
	if err != nil {
		return nil, &CorruptArchiveError{Detail: "cannot read firmware image", Err: err}
	}

	if uint32(len(image)) != meta.ImageSize {
		return nil, &CorruptArchiveError{
			Detail: fmt.Sprintf("image is %d bytes, metadata declares %d", len(image), meta.ImageSize),
		}
	}

	computed, err := protocol.CalculateChecksum(algorithm, image)
	if err != nil {
		return nil, &CorruptArchiveError{Detail: "cannot checksum image", Err: err}
	}
	if computed != meta.ImageChecksum {
		return nil, &ChecksumMismatchError{Declared: meta.ImageChecksum, Computed: computed}
	}

	license, err := readMember(licenseFile)
	if err != nil {
		return nil, &CorruptArchiveError{Detail: "cannot read license text", Err: err}
	}

	var program []byte
	if programFile != nil {
		if meta.MainProgramOffset == 0 {
			return nil, &CorruptArchiveError{Detail: "archive has a main program but metadata declares no slot"}
		}
		program, err = readMember(programFile)
		if err != nil {
			return nil, &CorruptArchiveError{Detail: "cannot read main program", Err: err}
		}
		if len(program) == 0 {
			return nil, &CorruptArchiveError{Detail: "empty main program"}
		}
		if uint32(len(program)) > meta.MainProgramMaxSize {
			return nil, &CorruptArchiveError{
				Detail: fmt.Sprintf("main program is %d bytes, slot holds %d", len(program), meta.MainProgramMaxSize),
			}
		}
	}

	return &Package{
		meta:        meta,
		version:     version,
		algorithm:   algorithm,
		image:       image,
		license:     string(license),
		mainProgram: program,
	}, nil
}

func readMember(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()

	return io.ReadAll(rc)
}

// Metadata returns a copy of the archive metadata.
func (p *Package) Metadata() Metadata {
	return p.meta
}

// Version returns the firmware version.
func (p *Package) Version() semver.Version {
	return p.version
}

// HubType returns the hub type this firmware is built for.
func (p *Package) HubType() protocol.HubType {
	return p.meta.DeviceID
}

// HubTypeMatches reports whether this firmware is built for the given hub
// type. Pure, safe to call before any flash operation.
func (p *Package) HubTypeMatches(t protocol.HubType) bool {
	return p.meta.DeviceID == t
}

// LicenseText returns the open source license text shipped in the archive.
func (p *Package) LicenseText() string {
	return p.license
}

// MainProgram returns the user program shipped in the archive, or nil.
// Callers must not modify the returned slice.
func (p *Package) MainProgram() []byte {
	return p.mainProgram
}

// HubName returns the custom hub name to embed, or "" for the firmware's
// built-in default.
func (p *Package) HubName() string {
	return p.hubName
}

// SetHubName sets the hub name to embed into the assembled image. The name
// must fit the firmware's name slot including a NUL terminator. An empty
// name restores the firmware's built-in default.
func (p *Package) SetHubName(name string) error {
	if name == "" {
		p.hubName = ""
		return nil
	}

	if p.meta.HubNameSize == 0 {
		return fmt.Errorf("firmware has no hub name slot")
	}
	if strings.ContainsRune(name, 0) {
		return fmt.Errorf("hub name cannot contain NUL")
	}
	if len(name)+1 > int(p.meta.HubNameSize) {
		return fmt.Errorf("hub name %q needs %d bytes, slot holds %d", name, len(name)+1, p.meta.HubNameSize)
	}

	p.hubName = name
	return nil
}

// ImageSize returns the size of the firmware image in bytes. Embedding
// never changes it.
func (p *Package) ImageSize() uint32 {
	return p.meta.ImageSize
}

// ChecksumAlgorithm returns the protocol checksum algorithm identifier used
// for this firmware.
func (p *Package) ChecksumAlgorithm() byte {
	return p.algorithm
}

// Image returns the assembled firmware image: the base image with the hub
// name and main program embedded into their slots. The returned slice is a
// fresh copy on every call.
func (p *Package) Image() []byte {
	img := make([]byte, len(p.image))
	copy(img, p.image)

	if p.hubName != "" {
		slot := img[p.meta.HubNameOffset : p.meta.HubNameOffset+p.meta.HubNameSize]
		for i := range slot {
			slot[i] = 0
		}
		copy(slot, p.hubName)
	}

	if len(p.mainProgram) > 0 {
		copy(img[p.meta.MainProgramOffset:], p.mainProgram)
	}

	return img
}

// ImageChecksum returns the checksum of the assembled image, computed with
// the metadata's algorithm. For a package with nothing embedded it equals
// the metadata's declared checksum.
func (p *Package) ImageChecksum() uint32 {
	// Algorithm was validated at parse time.
	sum, _ := protocol.CalculateChecksum(p.algorithm, p.Image())
	return sum
}

// Chunks splits the assembled image into a write plan of chunkSize-byte
// pieces. See the package-level Chunks function.
func (p *Package) Chunks(chunkSize int) ([]Chunk, error) {
	return Chunks(p.Image(), chunkSize)
}

// String returns a short description for logs and progress reporting.
func (p *Package) String() string {
	return fmt.Sprintf("firmware %s for %s", p.meta.FirmwareVersion, p.meta.DeviceID)
}

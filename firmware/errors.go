package firmware

import "fmt"

// CorruptArchiveError indicates the archive could not be read or its
// contents are inconsistent with the metadata.
type CorruptArchiveError struct {
	// Detail describes what is wrong with the archive
	Detail string

	// Err is the underlying error, if any
	Err error
}

func (e *CorruptArchiveError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("corrupt firmware archive: %s: %v", e.Detail, e.Err)
	}
	return fmt.Sprintf("corrupt firmware archive: %s", e.Detail)
}

func (e *CorruptArchiveError) Unwrap() error {
	return e.Err
}

// MissingMetadataError indicates the archive has no metadata document.
type MissingMetadataError struct{}

func (e *MissingMetadataError) Error() string {
	return fmt.Sprintf("firmware archive has no %s", MetadataMemberName)
}

// UnsupportedSchemaError indicates the metadata document uses a schema
// generation this library does not read.
type UnsupportedSchemaError struct {
	// Version is the metadata-version the archive declares
	Version string
}

func (e *UnsupportedSchemaError) Error() string {
	return fmt.Sprintf("unsupported metadata version %q (supported: %d.x)", e.Version, SupportedSchemaMajor)
}

// ChecksumMismatchError indicates the firmware image does not checksum to
// the value its metadata declares.
type ChecksumMismatchError struct {
	// Declared is the checksum from the metadata
	Declared uint32

	// Computed is the checksum of the actual image bytes
	Computed uint32
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("image checksum mismatch: computed 0x%08X, metadata declares 0x%08X", e.Computed, e.Declared)
}

// IsCorruptArchive returns true if the error is a CorruptArchiveError.
func IsCorruptArchive(err error) bool {
	_, ok := err.(*CorruptArchiveError)
	return ok
}

// IsChecksumMismatch returns true if the error is a ChecksumMismatchError.
func IsChecksumMismatch(err error) bool {
	_, ok := err.(*ChecksumMismatchError)
	return ok
}

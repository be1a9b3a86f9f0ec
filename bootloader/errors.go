package bootloader

import (
	"errors"
	"fmt"

	"github.com/daphtdazz/pybricks-code/firmware"
	"github.com/daphtdazz/pybricks-code/protocol"
)

// ErrFlashInProgress is returned by Session.Run when another session
// already holds the flash gate. Installations are exclusive per process.
var ErrFlashInProgress = errors.New("another flash session is in progress")

// ErrCancelled is returned by Session.Run when a cancellation request
// was honored and the session stopped before completing.
var ErrCancelled = errors.New("flash session cancelled")

// ErrTimeout is wrapped into command errors when the hub stays silent
// past the command's timeout.
var ErrTimeout = errors.New("timed out waiting for hub response")

// ConnectionError indicates the hub could not be reached, or the link
// died at a point where the session cannot continue.
type ConnectionError struct {
	// Attempts is how many times a connection was tried
	Attempts int

	// Err is the last underlying failure
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// ProtocolError indicates the hub sent something the protocol does not
// allow: an undecodable frame, a response for the wrong command, an
// acknowledgement out of order, or an explicit error message. The link
// is considered desynchronized and the session never retries past one.
type ProtocolError struct {
	// Reason describes the violation
	Reason string

	// Err is the underlying decode or command error, if any
	Err error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("bootloader protocol violation: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("bootloader protocol violation: %s", e.Reason)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// HubTypeMismatchError indicates the firmware targets a different hub
// model than the one connected. Raised before any flash command is sent,
// so the hub is left untouched.
type HubTypeMismatchError struct {
	// PackageType is the hub model the firmware was built for
	PackageType protocol.HubType

	// HubType is the model of the connected hub
	HubType protocol.HubType
}

func (e *HubTypeMismatchError) Error() string {
	return fmt.Sprintf("firmware is built for %s but the connected hub is %s",
		e.PackageType, e.HubType)
}

// ImageTooLargeError indicates the assembled image does not fit the
// hub's writable flash region.
type ImageTooLargeError struct {
	// ImageSize is the assembled image size in bytes
	ImageSize uint32

	// Capacity is the hub's writable flash size in bytes
	Capacity uint32
}

func (e *ImageTooLargeError) Error() string {
	return fmt.Sprintf("firmware image is %d bytes but the hub has %d bytes of flash",
		e.ImageSize, e.Capacity)
}

// EraseError indicates the flash erase failed even after a reissue.
type EraseError struct {
	Err error
}

func (e *EraseError) Error() string {
	return fmt.Sprintf("flash erase failed: %v", e.Err)
}

func (e *EraseError) Unwrap() error {
	return e.Err
}

// TransferError indicates one chunk could not be written within the
// session's retry bound.
type TransferError struct {
	// Offset is the image offset of the failed chunk
	Offset uint32

	// Attempts is how many times the chunk was tried
	Attempts int

	// Err is the failure from the last attempt
	Err error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("chunk at offset 0x%08X failed after %d attempts: %v",
		e.Offset, e.Attempts, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// WriteError is a retryable single-chunk failure reported by
// Client.WriteWindow. The caller rewinds the write plan to Offset and
// tries again; the session turns an exhausted retry bound into a
// TransferError.
type WriteError struct {
	// Offset is the image offset of the failed chunk
	Offset uint32

	// Err is the underlying failure
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write at offset 0x%08X failed: %v", e.Offset, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// VerificationError indicates the hub's checksum of the written flash
// does not match the image. The hub stays in bootloader mode and can be
// reflashed.
type VerificationError struct {
	// Expected is the checksum of the assembled image
	Expected uint32

	// Actual is the checksum the hub computed over flash
	Actual uint32
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("flash verification failed: hub reports 0x%08X, image checksum is 0x%08X",
		e.Actual, e.Expected)
}

// CancellationRefusedError is returned by Session.Cancel when stopping
// is no longer safe: the session is past programming, or more than half
// the image is already written.
type CancellationRefusedError struct {
	// State is the session state at the time of the request
	State State

	// Progress is the fraction of image bytes written at the time
	Progress float64
}

func (e *CancellationRefusedError) Error() string {
	return fmt.Sprintf("cancellation refused in state %q with %.0f%% written",
		string(e.State), e.Progress*100)
}

// ErrorKind is the coarse category of a terminal session failure, for
// callers that map errors to user guidance or exit codes.
type ErrorKind int

const (
	// ErrorKindUnknown is any error this package cannot classify
	ErrorKindUnknown ErrorKind = iota

	// ErrorKindConnection covers unreachable hubs and dead links
	ErrorKindConnection

	// ErrorKindProtocol covers wire protocol violations and hub rejections
	ErrorKindProtocol

	// ErrorKindFirmware covers bad firmware archives
	ErrorKindFirmware

	// ErrorKindHubTypeMismatch covers firmware built for another hub model
	ErrorKindHubTypeMismatch

	// ErrorKindImageTooLarge covers images that do not fit flash
	ErrorKindImageTooLarge

	// ErrorKindErase covers failed flash erases
	ErrorKindErase

	// ErrorKindTransfer covers chunks that exhausted their retries
	ErrorKindTransfer

	// ErrorKindVerification covers post-write checksum mismatches
	ErrorKindVerification

	// ErrorKindCancellationRefused covers refused cancellation requests
	ErrorKindCancellationRefused

	// ErrorKindCancelled covers sessions stopped by an honored cancellation
	ErrorKindCancelled
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorKindConnection:
		return "connection"
	case ErrorKindProtocol:
		return "protocol"
	case ErrorKindFirmware:
		return "firmware"
	case ErrorKindHubTypeMismatch:
		return "hub type mismatch"
	case ErrorKindImageTooLarge:
		return "image too large"
	case ErrorKindErase:
		return "erase"
	case ErrorKindTransfer:
		return "transfer"
	case ErrorKindVerification:
		return "verification"
	case ErrorKindCancellationRefused:
		return "cancellation refused"
	case ErrorKindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Classify maps any error from this package (or the firmware package)
// to its ErrorKind. Wrapped errors are unwrapped as needed.
func Classify(err error) ErrorKind {
	if err == nil {
		return ErrorKindUnknown
	}

	if errors.Is(err, ErrCancelled) {
		return ErrorKindCancelled
	}

	var (
		connErr     *ConnectionError
		protoErr    *ProtocolError
		typeErr     *HubTypeMismatchError
		sizeErr     *ImageTooLargeError
		eraseErr    *EraseError
		transferErr *TransferError
		verifyErr   *VerificationError
		refusedErr  *CancellationRefusedError
	)

	switch {
	case errors.As(err, &connErr):
		return ErrorKindConnection
	case errors.As(err, &protoErr):
		return ErrorKindProtocol
	case errors.As(err, &typeErr):
		return ErrorKindHubTypeMismatch
	case errors.As(err, &sizeErr):
		return ErrorKindImageTooLarge
	case errors.As(err, &eraseErr):
		return ErrorKindErase
	case errors.As(err, &transferErr):
		return ErrorKindTransfer
	case errors.As(err, &verifyErr):
		return ErrorKindVerification
	case errors.As(err, &refusedErr):
		return ErrorKindCancellationRefused
	}

	var (
		schemaErr *firmware.UnsupportedSchemaError
		metaErr   *firmware.MissingMetadataError
	)
	if firmware.IsCorruptArchive(err) || firmware.IsChecksumMismatch(err) ||
		errors.As(err, &schemaErr) || errors.As(err, &metaErr) {
		return ErrorKindFirmware
	}

	var (
		cmdErr *protocol.CommandError
		resErr *protocol.ResultError
	)
	if errors.As(err, &cmdErr) || errors.As(err, &resErr) {
		return ErrorKindProtocol
	}

	return ErrorKindUnknown
}

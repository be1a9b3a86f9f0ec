package protocol

import "fmt"

// CommandError represents an error message sent by the hub when it cannot
// handle a command at all. Contains the rejected command and the error code.
type CommandError struct {
	// Command is the command the hub rejected
	Command byte

	// Code is the error code from the hub
	Code byte
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s rejected: %s (0x%02X)", CommandName(e.Command), errorCodeName(e.Code), e.Code)
}

// ResultError represents a command the hub accepted but could not carry out,
// reported through a non-OK result code in its acknowledgement.
type ResultError struct {
	// Command is the command that failed
	Command byte

	// Result is the result code from the acknowledgement
	Result byte
}

func (e *ResultError) Error() string {
	return fmt.Sprintf("%s failed: %s (0x%02X)", CommandName(e.Command), resultName(e.Result), e.Result)
}

// IsCommandError returns true if the error is a CommandError.
func IsCommandError(err error) bool {
	_, ok := err.(*CommandError)
	return ok
}

// IsResultError returns true if the error is a ResultError.
func IsResultError(err error) bool {
	_, ok := err.(*ResultError)
	return ok
}

// CommandName returns a human-readable name for a command code.
func CommandName(cmd byte) string {
	switch cmd {
	case CmdEraseFlash:
		return "erase flash"
	case CmdProgramFlash:
		return "program flash"
	case CmdStartApp:
		return "start app"
	case CmdGetInfo:
		return "get info"
	case CmdGetChecksum:
		return "get checksum"
	case CmdGetFlashState:
		return "get flash state"
	case CmdDisconnect:
		return "disconnect"
	default:
		return fmt.Sprintf("unknown command 0x%02X", cmd)
	}
}

// errorCodeName returns a human-readable name for an error message code.
func errorCodeName(code byte) string {
	switch code {
	case ErrCodeUnknownCommand:
		return "unknown command"
	case ErrCodeInvalidLength:
		return "invalid length"
	case ErrCodeBusy:
		return "busy"
	case ErrCodeFault:
		return "bootloader fault"
	default:
		return fmt.Sprintf("unknown error code 0x%02X", code)
	}
}

// resultName returns a human-readable name for a result code.
func resultName(code byte) string {
	switch code {
	case ResultOK:
		return "success"
	case ResultInvalidAddress:
		return "invalid address"
	case ResultInvalidLength:
		return "invalid length"
	case ResultBusy:
		return "flash busy"
	case ResultWriteFault:
		return "write fault"
	default:
		return fmt.Sprintf("unknown result code 0x%02X", code)
	}
}

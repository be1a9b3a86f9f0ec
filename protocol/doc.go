// Package protocol implements the LEGO Powered Up bootloader communication
// protocol.
//
// This package provides functions to build command messages and parse
// response messages for the LWP3 bootloader service that LEGO hubs expose
// while waiting for new firmware.
//
// # Protocol Overview
//
// Messages are single frames carried over BLE GATT notifications or USB bulk
// transfers. The transport preserves message boundaries, so there is no
// framing beyond the leading command byte:
//
//	Command:  [CMD][DATA...]
//	Response: [CMD][DATA...]
//	Error:    [0x05][CMD][CODE]
//
// All multi-byte fields are little-endian. A response opens with the command
// byte it answers; StartApp and Disconnect never answer.
//
// # Command Builders
//
// Use the Build* functions to create command messages:
//
//	frame, err := protocol.BuildGetInfoCmd()
//	frame, err := protocol.BuildWriteChunkCmd(address, data)
//	// ... etc
//
// # Response Parsers
//
// Use ParseResponse to validate a message and recover the command it
// answers:
//
//	cmd, data, err := protocol.ParseResponse(frame)
//	if err != nil {
//	    return err // includes hub-reported *CommandError
//	}
//
// Then use the Parse* functions for command-specific data:
//
//	info, err := protocol.ParseInfoResponse(data)
//	ack, err := protocol.ParseWriteAckResponse(data)
//	// ... etc
//
// # Error Handling
//
// The hub reports failures two ways. A command it cannot handle at all comes
// back as an error message, surfaced as *CommandError by ParseResponse. A
// command it accepted but could not carry out reports a non-OK result code
// in its acknowledgement; callers turn that into a *ResultError:
//
//	result, err := protocol.ParseEraseResponse(data)
//	if result != protocol.ResultOK {
//	    err := &protocol.ResultError{Command: protocol.CmdEraseFlash, Result: result}
//	    // err.Error() returns: "erase flash failed: write fault (0x04)"
//	}
//
// # Checksums
//
// CalculateChecksum mirrors the two algorithms hubs implement for the Get
// Checksum command, so firmware archives can be validated host-side with the
// exact arithmetic the hub will later use.
package protocol

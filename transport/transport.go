package transport

import "context"

// Kind identifies the physical link a transport runs over.
type Kind string

const (
	// KindBLE is a Bluetooth Low Energy GATT link
	KindBLE Kind = "ble"

	// KindUSB is a USB bulk endpoint link
	KindUSB Kind = "usb"
)

// Transport is a framed, ordered link to a hub bootloader.
//
// A transport carries whole messages: one Write sends one complete command
// frame and every slice received from Frames is one complete response or
// error message. Writes are at-most-once; the caller owns timeouts and
// decides that silence means failure.
//
// Frames is closed when the link is lost or the transport is closed, so a
// receive from a closed channel is how callers observe disconnection while
// waiting for a response. Done is closed at the same moment and exists for
// callers that watch the link without consuming frames.
type Transport interface {
	// Open establishes the link. It blocks until the device is connected
	// and ready to exchange frames, ctx expires, or the link cannot be
	// established.
	Open(ctx context.Context) error

	// Write sends one complete command frame.
	Write(ctx context.Context, frame []byte) error

	// Frames returns the channel of inbound frames. Each received slice is
	// owned by the caller. The channel is closed when the link closes.
	Frames() <-chan []byte

	// Done returns a channel closed when the link is gone, whether by
	// Close or by the device dropping the connection.
	Done() <-chan struct{}

	// MTU returns the maximum frame size a single Write can carry without
	// splitting.
	MTU() int

	// Kind reports the physical link type.
	Kind() Kind

	// Close tears the link down. It is safe to call more than once and
	// after a failed Open.
	Close() error
}

// DeviceInfo describes a discovered hub waiting in bootloader mode.
type DeviceInfo struct {
	// Kind is the link the device was found on
	Kind Kind

	// Address identifies the device on that link: a BLE address or a
	// USB bus/port path
	Address string

	// Name is the advertised device name, if any
	Name string
}

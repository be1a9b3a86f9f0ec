// Package usb connects to a hub bootloader over a USB bulk interface.
//
// The SPIKE family hubs enumerate as a DFU-style device when held in
// bootloader mode: commands go out over a bulk OUT endpoint, responses
// come back over bulk IN, and DFU control transfers report device status.
package usb

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/gousb"

	"github.com/daphtdazz/pybricks-code/logging"
	"github.com/daphtdazz/pybricks-code/transport"
)

const (
	// LEGOVendorID is the USB vendor id assigned to LEGO System A/S
	LEGOVendorID = 0x0694

	// InterfaceNumber is the bootloader interface on configuration 1
	InterfaceNumber = 0

	// EndpointOut is the bulk OUT endpoint carrying command frames
	EndpointOut = 0x01

	// EndpointIn is the bulk IN endpoint carrying response frames
	EndpointIn = 0x81

	// DefaultMTU is used when the endpoint descriptor reports no packet size
	DefaultMTU = 64

	// dfuRequestGetStatus is the DFU_GETSTATUS class request
	dfuRequestGetStatus = 0x03

	// dfuStatusOK means the device has no pending error
	dfuStatusOK = 0x00

	// dfuStatusLength is the size of a DFU_GETSTATUS payload
	dfuStatusLength = 6

	// dfuRequestTypeIn is device-to-host, class, interface
	dfuRequestTypeIn = 0xA1
)

// Transport is a USB bulk link to a hub bootloader.
// Create with New, establish with Open.
type Transport struct {
	productID uint16
	log       logging.Logger

	usbCtx  *gousb.Context
	dev     *gousb.Device
	cfg     *gousb.Config
	intf    *gousb.Interface
	bulkOut *gousb.OutEndpoint
	bulkIn  *gousb.InEndpoint
	mtu     int
	opened  bool

	mu        sync.Mutex
	closed    bool
	frames    chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

var _ transport.Transport = (*Transport)(nil)

// New creates a USB transport. Without options the first device with the
// LEGO vendor id is used.
func New(opts ...Option) *Transport {
	t := &Transport{
		log:    logging.Nop(),
		mtu:    DefaultMTU,
		frames: make(chan []byte, 32),
		done:   make(chan struct{}),
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Open finds the hub, claims its bootloader interface, verifies DFU status
// and starts the inbound frame pump.
func (t *Transport) Open(ctx context.Context) error {
	t.usbCtx = gousb.NewContext()

	devs, err := t.usbCtx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		if desc.Vendor != gousb.ID(LEGOVendorID) {
			return false
		}
		return t.productID == 0 || desc.Product == gousb.ID(t.productID)
	})

	// OpenDevices can return devices alongside an error for unrelated
	// devices it could not open.
	if len(devs) == 0 {
		t.usbCtx.Close()
		t.usbCtx = nil
		if err != nil {
			return fmt.Errorf("failed to enumerate USB devices: %w", err)
		}
		return &transport.NotFoundError{
			Kind:   transport.KindUSB,
			Detail: t.filterDescription(),
		}
	}

	dev := devs[0]
	for _, extra := range devs[1:] {
		_ = extra.Close()
	}

	if err := dev.SetAutoDetach(true); err != nil {
		t.log.Debug("auto detach not available", "error", err)
	}

	cfg, err := dev.Config(1)
	if err != nil {
		_ = dev.Close()
		t.usbCtx.Close()
		t.usbCtx = nil
		return fmt.Errorf("failed to select configuration: %w", err)
	}

	intf, err := cfg.Interface(InterfaceNumber, 0)
	if err != nil {
		_ = cfg.Close()
		_ = dev.Close()
		t.usbCtx.Close()
		t.usbCtx = nil
		return fmt.Errorf("failed to claim interface %d: %w", InterfaceNumber, err)
	}

	bulkOut, err := intf.OutEndpoint(EndpointOut)
	if err == nil {
		t.bulkIn, err = intf.InEndpoint(EndpointIn)
	}
	if err != nil {
		intf.Close()
		_ = cfg.Close()
		_ = dev.Close()
		t.usbCtx.Close()
		t.usbCtx = nil
		return fmt.Errorf("failed to open bulk endpoints: %w", err)
	}

	t.dev = dev
	t.cfg = cfg
	t.intf = intf
	t.bulkOut = bulkOut

	if size := bulkOut.Desc.MaxPacketSize; size > 0 {
		t.mtu = size
	}

	if err := t.checkStatus(); err != nil {
		t.teardown()
		return err
	}

	t.opened = true
	go t.pump()

	t.log.Info("connected", "bus", dev.Desc.Bus, "address", dev.Desc.Address, "mtu", t.mtu)
	return nil
}

// checkStatus issues a DFU_GETSTATUS control transfer and rejects a device
// that reports a pending error.
func (t *Transport) checkStatus() error {
	buf := make([]byte, dfuStatusLength)
	n, err := t.dev.Control(dfuRequestTypeIn, dfuRequestGetStatus, 0, InterfaceNumber, buf)
	if err != nil {
		return fmt.Errorf("DFU status request failed: %w", err)
	}
	if n < dfuStatusLength {
		return fmt.Errorf("short DFU status response: %d bytes", n)
	}
	if buf[0] != dfuStatusOK {
		return fmt.Errorf("hub reports DFU status 0x%02X", buf[0])
	}
	return nil
}

// pump moves bulk IN data into the frames channel until the link dies.
func (t *Transport) pump() {
	buf := make([]byte, t.mtu)
	for {
		n, err := t.bulkIn.Read(buf)
		if err != nil {
			t.log.Debug("bulk read ended", "error", err)
			t.shutdown()
			return
		}
		if n == 0 {
			continue
		}
		frame := make([]byte, n)
		copy(frame, buf[:n])
		t.deliver(frame)
	}
}

func (t *Transport) deliver(frame []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}

	select {
	case t.frames <- frame:
	default:
		t.log.Warn("dropping inbound frame, receiver not keeping up", "size", len(frame))
	}
}

func (t *Transport) filterDescription() string {
	if t.productID != 0 {
		return fmt.Sprintf("no device with VID 0x%04X PID 0x%04X", LEGOVendorID, t.productID)
	}
	return fmt.Sprintf("no device with VID 0x%04X", LEGOVendorID)
}

// Write sends one command frame over the bulk OUT endpoint.
func (t *Transport) Write(ctx context.Context, frame []byte) error {
	if !t.opened {
		return transport.ErrNotOpen
	}

	select {
	case <-t.done:
		return transport.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	n, err := t.bulkOut.WriteContext(ctx, frame)
	if err != nil {
		return fmt.Errorf("bulk write failed: %w", err)
	}
	if n != len(frame) {
		return fmt.Errorf("short bulk write: %d of %d bytes", n, len(frame))
	}

	return nil
}

// Frames returns the inbound frame channel. Closed when the link closes.
func (t *Transport) Frames() <-chan []byte {
	return t.frames
}

// Done returns a channel closed when the link is gone.
func (t *Transport) Done() <-chan struct{} {
	return t.done
}

// MTU returns the bulk endpoint packet size.
func (t *Transport) MTU() int {
	return t.mtu
}

// Kind returns KindUSB.
func (t *Transport) Kind() transport.Kind {
	return transport.KindUSB
}

// Close releases the interface and device. Safe to call more than once and
// after a failed Open.
func (t *Transport) Close() error {
	t.shutdown()
	return nil
}

func (t *Transport) shutdown() {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		t.mu.Unlock()

		// Releasing the interface aborts a blocked bulk read, which lets
		// the pump goroutine exit.
		t.teardown()

		close(t.done)
		close(t.frames)
	})
}

func (t *Transport) teardown() {
	if t.intf != nil {
		t.intf.Close()
		t.intf = nil
	}
	if t.cfg != nil {
		_ = t.cfg.Close()
		t.cfg = nil
	}
	if t.dev != nil {
		_ = t.dev.Close()
		t.dev = nil
	}
	if t.usbCtx != nil {
		_ = t.usbCtx.Close()
		t.usbCtx = nil
	}
}

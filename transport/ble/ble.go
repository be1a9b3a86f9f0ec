// Package ble connects to a hub bootloader over Bluetooth Low Energy.
//
// A hub waiting in bootloader mode advertises the bootloader GATT service.
// The transport scans for that advertisement, connects, and exchanges
// frames over the single bootloader characteristic: commands as
// write-without-response, responses as notifications.
package ble

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"

	"github.com/daphtdazz/pybricks-code/logging"
	"github.com/daphtdazz/pybricks-code/transport"
)

const (
	// ServiceUUID is the LEGO bootloader GATT service
	ServiceUUID = "00001625-1212-efde-1623-785feabcd123"

	// CharacteristicUUID is the single bootloader characteristic, used for
	// both commands and notifications
	CharacteristicUUID = "00001626-1212-efde-1623-785feabcd123"

	// DefaultScanTimeout bounds device discovery
	DefaultScanTimeout = 30 * time.Second

	// DefaultMTU is the usable payload of a default 23-byte ATT MTU
	DefaultMTU = 20

	// attHeaderSize is the ATT write header subtracted from a negotiated MTU
	attHeaderSize = 3

	// frameBufferSize is the inbound frame channel capacity
	frameBufferSize = 32
)

var (
	serviceUUID        = mustUUID(ServiceUUID)
	characteristicUUID = mustUUID(CharacteristicUUID)
)

func mustUUID(s string) bluetooth.UUID {
	u, err := bluetooth.ParseUUID(s)
	if err != nil {
		panic(fmt.Sprintf("invalid UUID %q: %v", s, err))
	}
	return u
}

// Transport is a BLE link to a hub bootloader.
// Create with New, establish with Open.
type Transport struct {
	adapter     *bluetooth.Adapter
	deviceName  string
	address     string
	scanTimeout time.Duration
	log         logging.Logger

	device bluetooth.Device
	char   bluetooth.DeviceCharacteristic
	mtu    int
	opened bool

	mu        sync.Mutex
	closed    bool
	frames    chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

var _ transport.Transport = (*Transport)(nil)

// New creates a BLE transport. Without filter options the first device
// advertising the bootloader service is used.
func New(opts ...Option) *Transport {
	t := &Transport{
		adapter:     bluetooth.DefaultAdapter,
		scanTimeout: DefaultScanTimeout,
		log:         logging.Nop(),
		mtu:         DefaultMTU,
		frames:      make(chan []byte, frameBufferSize),
		done:        make(chan struct{}),
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Open scans for a matching hub, connects, and wires the bootloader
// characteristic into the frames channel.
func (t *Transport) Open(ctx context.Context) error {
	if err := t.adapter.Enable(); err != nil {
		return fmt.Errorf("failed to enable bluetooth adapter: %w", err)
	}

	// Installed before connecting so a drop right after connect is seen.
	t.adapter.SetConnectHandler(func(dev bluetooth.Device, connected bool) {
		if !connected && t.opened {
			t.log.Debug("device dropped the connection")
			t.shutdown()
		}
	})

	result, err := t.scan(ctx)
	if err != nil {
		return err
	}

	t.log.Info("connecting", "address", result.Address.String(), "name", result.LocalName())

	device, err := t.adapter.Connect(result.Address, bluetooth.ConnectionParams{})
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", result.Address.String(), err)
	}
	t.device = device

	services, err := device.DiscoverServices([]bluetooth.UUID{serviceUUID})
	if err != nil || len(services) == 0 {
		_ = device.Disconnect()
		return fmt.Errorf("bootloader service not found: %w", err)
	}

	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{characteristicUUID})
	if err != nil || len(chars) == 0 {
		_ = device.Disconnect()
		return fmt.Errorf("bootloader characteristic not found: %w", err)
	}
	t.char = chars[0]

	if got, err := t.char.GetMTU(); err == nil && int(got) > attHeaderSize {
		t.mtu = int(got) - attHeaderSize
	}

	err = t.char.EnableNotifications(func(buf []byte) {
		// The callback buffer is reused by the stack.
		frame := make([]byte, len(buf))
		copy(frame, buf)
		t.deliver(frame)
	})
	if err != nil {
		_ = device.Disconnect()
		return fmt.Errorf("failed to enable notifications: %w", err)
	}

	t.opened = true
	t.log.Info("connected", "mtu", t.mtu)
	return nil
}

// scan looks for an advertisement matching the configured filters, bounded
// by the scan timeout and ctx.
func (t *Transport) scan(ctx context.Context) (bluetooth.ScanResult, error) {
	scanCtx, cancel := context.WithTimeout(ctx, t.scanTimeout)
	defer cancel()

	var result bluetooth.ScanResult
	found := false

	// Scan blocks until StopScan, so a watcher stops it when the deadline
	// or caller cancellation hits first.
	watcherDone := make(chan struct{})
	defer close(watcherDone)
	go func() {
		select {
		case <-scanCtx.Done():
			_ = t.adapter.StopScan()
		case <-watcherDone:
		}
	}()

	t.log.Debug("scanning for bootloader advertisement", "timeout", t.scanTimeout)

	err := t.adapter.Scan(func(adapter *bluetooth.Adapter, r bluetooth.ScanResult) {
		if !t.matches(r) {
			return
		}
		result = r
		found = true
		_ = adapter.StopScan()
	})
	if err != nil {
		return result, fmt.Errorf("scan failed: %w", err)
	}

	if !found {
		return result, &transport.NotFoundError{
			Kind:   transport.KindBLE,
			Detail: t.filterDescription(),
		}
	}

	return result, nil
}

func (t *Transport) matches(r bluetooth.ScanResult) bool {
	if t.address != "" {
		return strings.EqualFold(r.Address.String(), t.address)
	}
	if t.deviceName != "" {
		return r.LocalName() == t.deviceName
	}
	return r.HasServiceUUID(serviceUUID)
}

func (t *Transport) filterDescription() string {
	switch {
	case t.address != "":
		return fmt.Sprintf("no advertisement from address %s", t.address)
	case t.deviceName != "":
		return fmt.Sprintf("no advertisement named %q", t.deviceName)
	default:
		return "no hub advertising the bootloader service"
	}
}

// deliver hands an inbound frame to the consumer. Frames are dropped, not
// blocked on, when the consumer falls behind.
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

// Write sends one command frame, splitting it into MTU-sized slices when
// it does not fit a single write.
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

	for len(frame) > 0 {
		n := len(frame)
		if n > t.mtu {
			n = t.mtu
		}
		if _, err := t.char.WriteWithoutResponse(frame[:n]); err != nil {
			return fmt.Errorf("write failed: %w", err)
		}
		frame = frame[n:]
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

// MTU returns the usable frame payload per write.
func (t *Transport) MTU() int {
	return t.mtu
}

// Kind returns KindBLE.
func (t *Transport) Kind() transport.Kind {
	return transport.KindBLE
}

// Close disconnects from the device. Safe to call more than once and after
// a failed Open.
func (t *Transport) Close() error {
	var err error
	if t.opened {
		err = t.device.Disconnect()
	}
	t.shutdown()
	return err
}

func (t *Transport) shutdown() {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		t.mu.Unlock()
		close(t.done)
		close(t.frames)
	})
}

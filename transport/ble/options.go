package ble

import (
	"time"

	"tinygo.org/x/bluetooth"

	"github.com/daphtdazz/pybricks-code/logging"
)

// Option configures a Transport.
type Option func(*Transport)

// WithAdapter sets the bluetooth adapter. Defaults to the system adapter.
func WithAdapter(adapter *bluetooth.Adapter) Option {
	return func(t *Transport) {
		t.adapter = adapter
	}
}

// WithDeviceName connects only to a device advertising exactly this name.
func WithDeviceName(name string) Option {
	return func(t *Transport) {
		t.deviceName = name
	}
}

// WithAddress connects only to the device with this BLE address. Takes
// precedence over a name filter.
func WithAddress(address string) Option {
	return func(t *Transport) {
		t.address = address
	}
}

// WithScanTimeout bounds device discovery during Open.
func WithScanTimeout(d time.Duration) Option {
	return func(t *Transport) {
		t.scanTimeout = d
	}
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(log logging.Logger) Option {
	return func(t *Transport) {
		t.log = log
	}
}

package usb

import (
	"github.com/daphtdazz/pybricks-code/logging"
)

// Option configures a Transport.
type Option func(*Transport)

// WithProductID restricts the device search to one USB product id.
// Without it any device with the LEGO vendor id matches.
func WithProductID(pid uint16) Option {
	return func(t *Transport) {
		t.productID = pid
	}
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(log logging.Logger) Option {
	return func(t *Transport) {
		t.log = log
	}
}

package usb

import (
	"fmt"

	"github.com/google/gousb"

	"github.com/daphtdazz/pybricks-code/transport"
)

// List enumerates connected devices with the LEGO vendor id without
// claiming them.
func List() ([]transport.DeviceInfo, error) {
	usbCtx := gousb.NewContext()
	defer usbCtx.Close()

	devs, err := usbCtx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Vendor == gousb.ID(LEGOVendorID)
	})

	var infos []transport.DeviceInfo
	for _, dev := range devs {
		name, nameErr := dev.Product()
		if nameErr != nil {
			name = ""
		}
		infos = append(infos, transport.DeviceInfo{
			Kind:    transport.KindUSB,
			Address: fmt.Sprintf("bus %03d device %03d", dev.Desc.Bus, dev.Desc.Address),
			Name:    name,
		})
		_ = dev.Close()
	}

	if err != nil && len(infos) == 0 {
		return nil, fmt.Errorf("failed to enumerate USB devices: %w", err)
	}

	return infos, nil
}

// Package transport defines the framed link used to reach a hub bootloader
// and the device discovery types shared by its implementations.
//
// Two implementations exist:
//
//   - transport/ble connects over Bluetooth Low Energy, the only way to
//     reach the Move hub, City hub and Technic hub.
//   - transport/usb connects over USB bulk endpoints, used by the SPIKE
//     family hubs.
//
// # Framing
//
// Bootloader messages are single frames with no length prefix and no
// frame-level checksum. The link layer owns integrity (BLE link CRC, USB
// CRC16) and end-to-end integrity comes from the firmware image checksum,
// so a Transport moves opaque []byte frames and nothing else.
//
// # Lifecycle
//
//	t := ble.New(ble.WithDeviceName("LEGO Bootloader"))
//	if err := t.Open(ctx); err != nil {
//	    return err
//	}
//	defer t.Close()
//
//	if err := t.Write(ctx, frame); err != nil {
//	    return err
//	}
//	select {
//	case resp, ok := <-t.Frames():
//	    if !ok {
//	        // link lost
//	    }
//	    // handle resp
//	case <-time.After(timeout):
//	    // silence means failure
//	}
//
// Frames and Done close together when the link goes away, whether the
// close was local or the device dropped off. Close is idempotent.
package transport

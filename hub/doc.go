// Package hub tracks the single active hub connection.
//
// A Coordinator owns the rule that at most one transport is open at a
// time. Everything above it deals in one logical "hub connection" with a
// normalized Disconnected/Connecting/Connected state, no matter which
// physical link is underneath.
//
//	coord := hub.NewCoordinator()
//	coord.Subscribe(func(s hub.State) {
//	    fmt.Println("hub is now", s)
//	})
//
//	conn, err := coord.Connect(ctx, ble.New())
//	if err != nil {
//	    return err
//	}
//	defer coord.Disconnect()
//
// The connection's identity (hub type, bootloader version, transfer
// limits) is empty until the flash session runs the handshake and calls
// ApplyInfo with the hub's info response.
package hub

// Package bootloader installs firmware on LEGO Powered Up hubs running
// the LWP3 bootloader.
//
// # Overview
//
// The package is split in two layers. Client speaks the wire protocol
// over an open transport: one method per bootloader command, plus a
// windowed chunk writer. Session owns a complete installation as a
// state machine:
//   - Connecting to the hub over BLE or USB
//   - Identifying the bootloader and validating the firmware fits
//   - Erasing flash and streaming the image in chunks
//   - Verifying the written flash by checksum
//   - Rebooting the hub into the new firmware
//
// # Basic Usage
//
// The simplest way to flash a hub:
//
//	pkg, err := firmware.Parse("technichub-v3.2.0.zip")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	coord := hub.NewCoordinator()
//	t := ble.New()
//
//	session := bootloader.NewSession(coord, t, pkg)
//	if err := session.Run(context.Background()); err != nil {
//	    log.Fatal(err)
//	}
//
// # Progress and Events
//
// Sessions report everything they do through events:
//
//	session := bootloader.NewSession(coord, t, pkg,
//	    bootloader.WithProgressFunc(func(ratio float64) {
//	        fmt.Printf("\r%3.0f%%", ratio*100)
//	    }),
//	    bootloader.WithEventHandler(func(e bootloader.Event) {
//	        if e.Kind == bootloader.EventStateChanged {
//	            fmt.Printf("\n%s\n", e.To)
//	        }
//	    }),
//	)
//
// The progress ratio is monotonic and reaches 1.0 exactly when the
// session completes.
//
// # Cancellation
//
// Cancellation is cooperative. Cancel accepts the request only while
// stopping is still safe: before programming, or before more than half
// the image is written. After that the request is refused, because a
// half-written hub is only recoverable by finishing the flash:
//
//	go func() {
//	    <-sigc
//	    if err := session.Cancel(); err != nil {
//	        fmt.Println(err) // too late, flash will finish
//	    }
//	}()
//
// An honored cancellation makes Run return ErrCancelled. The caller's
// context still works as a hard stop at any point; it bypasses the
// safety check and should be reserved for teardown.
//
// # Exclusivity
//
// Installations are exclusive: one session may run per process at a
// time. A second Run returns ErrFlashInProgress immediately. Sessions
// are single-use; create a new one for each installation.
//
// # Error Handling
//
// Terminal failures carry structured types, and Classify folds any of
// them into an ErrorKind for user-facing handling:
//   - ConnectionError: the hub is unreachable or the link died
//   - ProtocolError: the hub sent something indecipherable; never retried
//   - HubTypeMismatchError: firmware built for a different hub model
//   - ImageTooLargeError: the image does not fit the hub's flash
//   - EraseError, TransferError: a flash operation exhausted its retries
//   - VerificationError: the written flash does not match the image
//   - CancellationRefusedError: Cancel was called past the safe point
package bootloader

package ble

import (
	"context"
	"fmt"
	"time"

	"tinygo.org/x/bluetooth"

	"github.com/daphtdazz/pybricks-code/transport"
)

// Scan discovers hubs advertising the bootloader service for the given
// duration and reports each one once. The found callback runs on the scan
// goroutine and must return quickly.
func Scan(ctx context.Context, timeout time.Duration, found func(transport.DeviceInfo)) error {
	adapter := bluetooth.DefaultAdapter
	if err := adapter.Enable(); err != nil {
		return fmt.Errorf("failed to enable bluetooth adapter: %w", err)
	}

	scanCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	watcherDone := make(chan struct{})
	defer close(watcherDone)
	go func() {
		select {
		case <-scanCtx.Done():
			_ = adapter.StopScan()
		case <-watcherDone:
		}
	}()

	seen := make(map[string]bool)
	err := adapter.Scan(func(adapter *bluetooth.Adapter, r bluetooth.ScanResult) {
		if !r.HasServiceUUID(serviceUUID) {
			return
		}
		addr := r.Address.String()
		if seen[addr] {
			return
		}
		seen[addr] = true
		found(transport.DeviceInfo{
			Kind:    transport.KindBLE,
			Address: addr,
			Name:    r.LocalName(),
		})
	})
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	return nil
}

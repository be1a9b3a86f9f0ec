package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/daphtdazz/pybricks-code/transport"
	"github.com/daphtdazz/pybricks-code/transport/ble"
	"github.com/daphtdazz/pybricks-code/transport/usb"
)

var (
	devicesUSB  bool
	devicesWait time.Duration
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List hubs waiting in bootloader mode",
	Long: `Scans for hubs advertising the bootloader service over Bluetooth Low
Energy, or lists LEGO devices on USB with --usb.`,
	Args: cobra.NoArgs,
	RunE: runDevices,
}

func init() {
	f := devicesCmd.Flags()
	f.BoolVar(&devicesUSB, "usb", false, "List USB devices instead of scanning over BLE.")
	f.DurationVar(&devicesWait, "timeout", 10*time.Second, "How long to scan before stopping.")

	rootCmd.AddCommand(devicesCmd)
}

func runDevices(cmd *cobra.Command, args []string) error {
	if devicesUSB {
		infos, err := usb.List()
		if err != nil {
			return err
		}
		if len(infos) == 0 {
			fmt.Println("No LEGO devices found on USB.")
			return nil
		}
		for _, d := range infos {
			printDevice(d)
		}
		return nil
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Scanning for hubs in bootloader mode (%s)...\n", devicesWait)

	count := 0
	err := ble.Scan(ctx, devicesWait, func(d transport.DeviceInfo) {
		count++
		printDevice(d)
	})
	if err != nil {
		return err
	}

	if count == 0 {
		fmt.Println("No hubs found. With the hub off, hold its button until the light flashes, then scan again.")
	}
	return nil
}

func printDevice(d transport.DeviceInfo) {
	name := d.Name
	if name == "" {
		name = "(unnamed)"
	}
	fmt.Printf("  %-4s %-24s %s\n", d.Kind, name, d.Address)
}

package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/daphtdazz/pybricks-code/bootloader"
	"github.com/daphtdazz/pybricks-code/hub"
	"github.com/daphtdazz/pybricks-code/protocol"
)

var (
	infoUSB      bool
	infoAddress  string
	infoName     string
	infoScanWait time.Duration
	infoTimeout  time.Duration
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show the connected hub's bootloader details",
	Long: `Connects to a hub in bootloader mode, reads its identity and flash
layout, and disconnects without writing anything.`,
	Args: cobra.NoArgs,
	RunE: runInfo,
}

func init() {
	f := infoCmd.Flags()
	f.BoolVar(&infoUSB, "usb", false, "Connect over USB instead of Bluetooth Low Energy.")
	f.StringVar(&infoAddress, "address", "", "Connect only to the hub with this BLE address.")
	f.StringVar(&infoName, "name", "", "Connect only to the hub advertising this name.")
	f.DurationVar(&infoScanWait, "scan-timeout", 30*time.Second, "How long to search for a hub before giving up.")
	f.DurationVar(&infoTimeout, "command-timeout", 5*time.Second, "How long to wait for each hub response.")

	rootCmd.AddCommand(infoCmd)
}

func runInfo(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	t := newHubTransport(infoUSB, infoAddress, infoName, infoScanWait)
	coord := hub.NewCoordinator(hub.WithLogger(log.WithName("hub")))

	conn, err := coord.Connect(ctx, t)
	if err != nil {
		return err
	}
	defer func() { _ = coord.Disconnect() }()

	client := bootloader.NewClient(conn.Transport(),
		bootloader.WithLogger(log.WithName("info")),
		bootloader.WithCommandTimeout(infoTimeout),
	)

	info, err := client.Info(ctx)
	if err != nil {
		return err
	}
	conn.ApplyInfo(*info)

	state, err := client.FlashState(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Hub:         %s\n", info.HubType)
	fmt.Printf("Bootloader:  %s\n", info.Version)
	fmt.Printf("Flash:       0x%08X - 0x%08X (%d bytes)\n",
		info.FlashStart, info.FlashEnd, info.FlashRegionSize())
	fmt.Printf("Chunk limit: %d bytes\n", info.MaxDataSize)
	fmt.Printf("Window:      %d writes\n", info.WindowSize)
	fmt.Printf("Protection:  %s\n", protocol.FlashStateName(state))

	// Ask the hub to drop the link instead of just vanishing on it.
	_ = client.Disconnect(ctx)
	return nil
}

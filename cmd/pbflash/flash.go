package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/daphtdazz/pybricks-code/bootloader"
	"github.com/daphtdazz/pybricks-code/firmware"
	"github.com/daphtdazz/pybricks-code/hub"
)

// barScale is the progress bar resolution for the [0, 1] completion ratio.
const barScale = 1000

var (
	flashUSB        bool
	flashAddress    string
	flashName       string
	flashHubName    string
	flashScanWait   time.Duration
	commandTimeout  time.Duration
	eraseTimeout    time.Duration
	verifyTimeout   time.Duration
	connectAttempts int
	chunkRetries    int
	noProgress      bool
)

var flashCmd = &cobra.Command{
	Use:   "flash <firmware.zip>",
	Short: "Install a firmware archive on a hub",
	Long: `Installs a Pybricks firmware archive on a hub in bootloader mode.

The archive is validated against the connected hub before anything is
written: wrong-model firmware and images larger than the hub's flash are
refused with the hub untouched. Interrupt once (Ctrl-C) to stop cleanly;
past the halfway point the flash runs to completion, because a
half-written hub only recovers by finishing.`,
	Args: cobra.ExactArgs(1),
	RunE: runFlash,
}

func init() {
	f := flashCmd.Flags()
	f.BoolVar(&flashUSB, "usb", false, "Flash over USB instead of Bluetooth Low Energy.")
	f.StringVar(&flashAddress, "address", "", "Connect only to the hub with this BLE address.")
	f.StringVar(&flashName, "name", "", "Connect only to the hub advertising this name.")
	f.StringVar(&flashHubName, "hub-name", "", "Custom hub name to embed into the firmware.")
	f.DurationVar(&flashScanWait, "scan-timeout", 30*time.Second, "How long to search for a hub before giving up.")
	f.DurationVar(&commandTimeout, "command-timeout", 5*time.Second, "How long to wait for each hub response.")
	f.DurationVar(&eraseTimeout, "erase-timeout", 30*time.Second, "How long to wait for the flash erase.")
	f.DurationVar(&verifyTimeout, "verify-timeout", 10*time.Second, "How long to wait for the flash checksum.")
	f.IntVar(&connectAttempts, "connect-attempts", 3, "Connection attempts before giving up.")
	f.IntVar(&chunkRetries, "chunk-retries", 3, "Attempts per chunk before the transfer fails.")
	f.BoolVar(&noProgress, "no-progress", false, "Disable the progress bar.")

	rootCmd.AddCommand(flashCmd)
}

func runFlash(cmd *cobra.Command, args []string) error {
	pkg, err := firmware.Parse(args[0])
	if err != nil {
		return err
	}
	if flashHubName != "" {
		if err := pkg.SetHubName(flashHubName); err != nil {
			return err
		}
	}
	fmt.Printf("Loaded %s (%d bytes)\n", pkg, pkg.ImageSize())

	opts := []bootloader.Option{
		bootloader.WithLogger(log.WithName("flash")),
		bootloader.WithCommandTimeout(commandTimeout),
		bootloader.WithEraseTimeout(eraseTimeout),
		bootloader.WithVerifyTimeout(verifyTimeout),
		bootloader.WithConnectAttempts(connectAttempts),
		bootloader.WithChunkRetries(chunkRetries),
	}
	if !noProgress {
		opts = append(opts, bootloader.WithEventHandler(flashBarHandler(newFlashBar())))
	}

	t := newHubTransport(flashUSB, flashAddress, flashName, flashScanWait)
	coord := hub.NewCoordinator(hub.WithLogger(log.WithName("hub")))
	session := bootloader.NewSession(coord, t, pkg, opts...)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	done := make(chan struct{})
	var g errgroup.Group
	g.Go(func() error {
		defer close(done)
		return session.Run(ctx)
	})
	g.Go(func() error {
		// First interrupt asks the session to stop between chunks; a
		// second one, or a refused request, aborts the process hard.
		asked := false
		for {
			select {
			case <-done:
				return nil
			case <-sigCh:
				if !asked {
					asked = true
					if cancelErr := session.Cancel(); cancelErr == nil {
						fmt.Fprintln(os.Stderr, "\nStopping; interrupt again to abort immediately.")
						continue
					}
					fmt.Fprintln(os.Stderr, "\nToo far along to stop safely, finishing the flash; interrupt again to abort.")
					continue
				}
				cancel()
				return nil
			}
		}
	})

	err = g.Wait()
	switch {
	case err == nil:
		fmt.Printf("Installed %s. The hub is restarting.\n", pkg)
		return nil
	case errors.Is(err, bootloader.ErrCancelled):
		fmt.Println("Flash cancelled. The hub is still in bootloader mode.")
		return err
	default:
		log.Error("flash failed", "kind", bootloader.Classify(err).String(), "error", err)
		return err
	}
}

func newFlashBar() *progressbar.ProgressBar {
	return progressbar.NewOptions(barScale,
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("Connecting"),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionOnCompletion(func() { fmt.Println() }),
	)
}

// flashBarHandler drives the progress bar from session events.
func flashBarHandler(bar *progressbar.ProgressBar) bootloader.EventHandler {
	return func(e bootloader.Event) {
		switch e.Kind {
		case bootloader.EventStateChanged:
			bar.Describe(stateDescription(e.To))
		case bootloader.EventProgress:
			_ = bar.Set(int(e.Progress * barScale))
		case bootloader.EventCompleted:
			_ = bar.Finish()
		case bootloader.EventFailed, bootloader.EventCancelled:
			_ = bar.Exit()
		}
	}
}

func stateDescription(s bootloader.State) string {
	switch s {
	case bootloader.StateConnecting:
		return "Connecting"
	case bootloader.StateHandshaking:
		return "Identifying hub"
	case bootloader.StateValidating:
		return "Validating"
	case bootloader.StateErasing:
		return "Erasing flash"
	case bootloader.StateProgramming:
		return "Writing firmware"
	case bootloader.StateVerifying:
		return "Verifying"
	case bootloader.StateRebooting:
		return "Restarting hub"
	default:
		return string(s)
	}
}

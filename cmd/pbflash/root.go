package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/daphtdazz/pybricks-code/logging"
	"github.com/daphtdazz/pybricks-code/transport"
	"github.com/daphtdazz/pybricks-code/transport/ble"
	"github.com/daphtdazz/pybricks-code/transport/usb"
)

// version is overridden at build time with -ldflags.
var version = "dev"

var (
	cfgFile string
	logOpts = logging.NewOptions()
	log     logging.Logger
)

var rootCmd = &cobra.Command{
	Use:   "pbflash",
	Short: "Install Pybricks firmware on LEGO hubs",
	Long: `pbflash installs Pybricks firmware on LEGO Powered Up hubs.

A hub must be in bootloader mode before flashing: with the hub off, hold
its button while connecting until the light flashes. pbflash finds the
hub over Bluetooth Low Energy by default; --usb selects the USB link
instead.

Settings can also come from a YAML config file (--config) or from
PBFLASH_* environment variables; explicit flags win.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := bindFlags(cmd); err != nil {
			return err
		}
		if errs := logOpts.Validate(); len(errs) > 0 {
			return errors.Join(errs...)
		}
		log = logging.New(logOpts)
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"Path to a YAML config file (default: ./pbflash.yaml, then ~/.config/pbflash.yaml).")
	logOpts.AddFlags(rootCmd.PersistentFlags())
}

// initConfig wires viper: an explicit or well-known config file plus
// PBFLASH_* environment variables.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("pbflash")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config"))
		}
	}

	viper.SetEnvPrefix("PBFLASH")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	// A missing default config is fine; anything else deserves a warning.
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			fmt.Fprintf(os.Stderr, "Warning: cannot read config: %v\n", err)
		}
	}
}

// bindFlags backfills flags the user did not set from viper, so config
// file values and environment variables apply without shadowing explicit
// flags.
func bindFlags(cmd *cobra.Command) error {
	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if bindErr != nil || f.Changed || !viper.IsSet(f.Name) {
			return
		}

		val := viper.Get(f.Name)
		if items, ok := val.([]interface{}); ok {
			parts := make([]string, len(items))
			for i, item := range items {
				parts[i] = fmt.Sprintf("%v", item)
			}
			bindErr = cmd.Flags().Set(f.Name, strings.Join(parts, ","))
			return
		}
		bindErr = cmd.Flags().Set(f.Name, fmt.Sprintf("%v", val))
	})
	return bindErr
}

// newHubTransport builds the transport selected by the shared flags.
func newHubTransport(useUSB bool, address, name string, scanTimeout time.Duration) transport.Transport {
	if useUSB {
		return usb.New(usb.WithLogger(log.WithName("usb")))
	}

	opts := []ble.Option{
		ble.WithLogger(log.WithName("ble")),
		ble.WithScanTimeout(scanTimeout),
	}
	if address != "" {
		opts = append(opts, ble.WithAddress(address))
	}
	if name != "" {
		opts = append(opts, ble.WithDeviceName(name))
	}
	return ble.New(opts...)
}

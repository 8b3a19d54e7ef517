package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/synthread/go-avrflash/flash"
)

var (
	// Serial connection flags
	portName  string
	baudRate  int
	resetGPIO int

	// WebSocket bridge flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "avrflash",
	Short: "Program AVR chips through their serial bootloader",
	Long: `avrflash talks to the bootloader resident on an AVR chip and rewrites
its application flash.

Connection modes:
  Serial:    --port /dev/ttyUSB0 [--baud 19200]
  WebSocket: --url ws://host/path [--username user]

The board has to be running its bootloader. Either put it there by hand or
wire its reset line to a GPIO and pass --reset-gpio.

For WebSocket authentication the password is read from the AVRFLASH_PASSWORD
environment variable.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			logrus.SetLevel(logrus.DebugLevel)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", flash.DefaultTTY, "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", flash.DefaultBaud, "Baud rate (serial only)")
	rootCmd.PersistentFlags().IntVar(&resetGPIO, "reset-gpio", 0, "GPIO wired to the chip's reset line (0 for none)")

	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket bridge URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log wire traffic")
}

// newConfig builds the microcontroller configuration from the flags
func newConfig() *flash.Config {
	return &flash.Config{
		ResetGPIO:      resetGPIO,
		BootloaderBaud: baudRate,
		TTY:            portName,
		BridgeURL:      wsURL,
		BridgeAuth: flash.WebSocketOptions{
			Username:      wsUsername,
			Password:      os.Getenv("AVRFLASH_PASSWORD"),
			SkipSSLVerify: wsNoSSLVerify,
		},
	}
}

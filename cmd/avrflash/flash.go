package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/synthread/go-avrflash/flash"
)

var maxRetries int

var flashCmd = &cobra.Command{
	Use:   "flash <image.bin>",
	Short: "Erase the chip and program a raw binary image",
	Args:  cobra.ExactArgs(1),
	RunE:  runFlash,
}

func init() {
	flashCmd.Flags().IntVar(&maxRetries, "retries", flash.DefaultMaxRetries, "Transport faults tolerated per page")
	rootCmd.AddCommand(flashCmd)
}

// progressWidth fits the bar to the terminal, falling back to 79 columns
func progressWidth() int {
	fd := int(os.Stdout.Fd())
	if term.IsTerminal(fd) {
		if w, _, err := term.GetSize(fd); err == nil && w > 10 {
			return w - 1
		}
	}
	return 79
}

func runFlash(cmd *cobra.Command, args []string) error {
	cfg := newConfig()
	cfg.MaxRetries = maxRetries
	cfg.Progress = flash.NewProgressBar(os.Stdout, progressWidth())

	mc := flash.NewMicrocontroller(cfg)
	if err := mc.Open(); err != nil {
		return err
	}
	defer mc.Close()

	d, err := mc.Identify()
	if err != nil {
		return err
	}
	fmt.Printf("Found %s, programming as %s\n", d.BoardID, d.Selected)

	res, err := mc.FlashPayloadFromFile(args[0])
	if err != nil {
		return err
	}

	color.Green("Upload complete: %d pages written, %d blank, %s mode",
		res.PagesWritten, res.PagesSkipped, res.Mode)
	if res.Resyncs > 0 {
		color.Yellow("Recovered from %d link faults", res.Resyncs)
	}
	if res.ExitErr != nil {
		color.Yellow("Bootloader did not confirm leaving programming mode: %v", res.ExitErr)
	}

	return nil
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.bug.st/serial/enumerator"

	"github.com/synthread/go-avrflash/flash"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Identify the bootloader and show the chip's fuses",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		mc := flash.NewMicrocontroller(newConfig())
		if err := mc.Open(); err != nil {
			return err
		}
		defer mc.Close()

		d, err := mc.Identify()
		if err != nil {
			return err
		}

		fmt.Printf("Bootloader: %s\n", d.BoardID)
		for _, t := range d.Supported {
			fmt.Printf("  supports:  %s (%d)\n", t, byte(t))
		}

		dev, err := flash.LookupDevice(d.Selected)
		if err != nil {
			return err
		}

		lo, hi, err := mc.Fuses()
		if err != nil {
			return err
		}

		fmt.Printf("Device:     %s\n", dev)
		fmt.Printf("Flash:      %d bytes, %d byte pages\n", dev.Geometry.FlashSize, dev.Geometry.FlashPageSize)
		fmt.Printf("EEPROM:     %d bytes, %d byte pages\n", dev.Geometry.EEPROMSize, dev.Geometry.EEPROMPageSize)
		fmt.Printf("Fuses:      low 0x%02X high 0x%02X\n", lo, hi)
		fmt.Printf("Bootloader: 0x%04X\n", dev.BootloaderAddress(hi))

		return nil
	},
}

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List serial ports",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ports, err := enumerator.GetDetailedPortsList()
		if err != nil {
			return err
		}
		if len(ports) == 0 {
			fmt.Println("No serial ports found")
			return nil
		}
		for _, p := range ports {
			if p.IsUSB {
				fmt.Printf("%s\t%s:%s %s\n", p.Name, p.VID, p.PID, p.Product)
			} else {
				fmt.Println(p.Name)
			}
		}
		return nil
	},
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List the chips avrflash knows",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		for _, d := range flash.Devices() {
			fmt.Printf("%3d  %-10s flash %6d / %3d  eeprom %5d / %d\n", byte(d.Type), d.Name,
				d.Geometry.FlashSize, d.Geometry.FlashPageSize,
				d.Geometry.EEPROMSize, d.Geometry.EEPROMPageSize)
		}
	},
}

func init() {
	rootCmd.AddCommand(infoCmd, portsCmd, devicesCmd)
}

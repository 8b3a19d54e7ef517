package flash

import (
	"fmt"

	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// DeviceType is the id a bootloader reports for a supported chip
type DeviceType byte

const (
	DeviceTypeATmega32  DeviceType = 114
	DeviceTypeATmega644 DeviceType = 150
)

// Geometry describes the flash and eeprom layout of a chip. All sizes are in
// bytes.
type Geometry struct {
	FlashSize      uint32
	FlashPageSize  uint32
	EEPROMSize     uint32
	EEPROMPageSize uint32
}

// Device is a supported chip as known to the registry
type Device struct {
	Type     DeviceType
	Name     string
	Geometry Geometry

	// bootloaderAddr returns the byte address of the bootloader section for
	// the given high fuse byte
	bootloaderAddr func(fuseHigh byte) uint32
}

var devices = map[DeviceType]Device{
	DeviceTypeATmega32: {
		Type: DeviceTypeATmega32,
		Name: "ATmega32",
		Geometry: Geometry{
			FlashSize:      32768,
			FlashPageSize:  128,
			EEPROMSize:     1024,
			EEPROMPageSize: 4,
		},
		bootloaderAddr: atmega32BootloaderAddr,
	},
	DeviceTypeATmega644: {
		Type: DeviceTypeATmega644,
		Name: "ATmega644",
		Geometry: Geometry{
			FlashSize:      65536,
			FlashPageSize:  256,
			EEPROMSize:     2048,
			EEPROMPageSize: 8,
		},
		bootloaderAddr: func(byte) uint32 { return 0x7e00 * 2 },
	},
}

// BOOTSZ1:0 live in bits 2:1 of the high fuse on the ATmega32
func atmega32BootloaderAddr(fuseHigh byte) uint32 {
	switch (fuseHigh >> 1) & 0x03 {
	case 1:
		return 0x3c00 * 2
	case 2:
		return 0x3e00 * 2
	case 3:
		return 0x3f00 * 2
	default:
		return 0x3800 * 2
	}
}

// LookupDevice returns the registry entry for the provided device type id
func LookupDevice(id DeviceType) (Device, error) {
	d, ok := devices[id]
	if !ok {
		return Device{}, errors.Wrapf(ErrUnknownDeviceType, "id %d", id)
	}
	return d, nil
}

// Devices returns every supported device ordered by id
func Devices() []Device {
	ids := maps.Keys(devices)
	slices.Sort(ids)

	ds := make([]Device, 0, len(ids))
	for _, id := range ids {
		ds = append(ds, devices[id])
	}
	return ds
}

// BootloaderAddress returns the byte address where the bootloader section
// starts. Everything below it is application flash.
func (d Device) BootloaderAddress(fuseHigh byte) uint32 {
	return d.bootloaderAddr(fuseHigh)
}

func (d Device) String() string {
	return d.Name
}

// String returns the chip name, or a placeholder for ids the registry does not
// know
func (t DeviceType) String() string {
	if d, ok := devices[t]; ok {
		return d.Name
	}
	return fmt.Sprintf("unknown(%d)", byte(t))
}
